package repository

import (
	"context"

	"github.com/saeid-a/TherapyCallBack/internal/models"
	"github.com/shopspring/decimal"
)

const walletColumns = `
	id, user_id, main_balance, bonus_balance, holded_main_balance, holded_bonus_balance,
	free_trial_minutes, holded_trial_minutes, free_sessions_used, withdrawal_balance,
	status, created_at, updated_at
`

type WalletRepository struct {
	db DBTX
}

func NewWalletRepository(db DBTX) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) Create(
	ctx context.Context,
	userID int64,
	freeTrialMinutes decimal.Decimal,
) (*models.Wallet, error) {
	query := `
		INSERT INTO wallets (user_id, free_trial_minutes)
		VALUES ($1, $2)
		RETURNING ` + walletColumns
	return scanWallet(r.db.QueryRow(ctx, query, userID, freeTrialMinutes))
}

func (r *WalletRepository) GetByUserID(ctx context.Context, userID int64) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`
	return scanWallet(r.db.QueryRow(ctx, query, userID))
}

func (r *WalletRepository) GetByUserIDForUpdate(ctx context.Context, userID int64) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 FOR UPDATE`
	return scanWallet(r.db.QueryRow(ctx, query, userID))
}

// SaveBalances writes every balance column of a wallet that was loaded FOR UPDATE.
func (r *WalletRepository) SaveBalances(ctx context.Context, wallet *models.Wallet) error {
	query := `
		UPDATE wallets
		SET main_balance = $2,
			bonus_balance = $3,
			holded_main_balance = $4,
			holded_bonus_balance = $5,
			free_trial_minutes = $6,
			holded_trial_minutes = $7,
			free_sessions_used = $8,
			withdrawal_balance = $9,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	return r.db.QueryRow(ctx, query,
		wallet.ID,
		wallet.MainBalance,
		wallet.BonusBalance,
		wallet.HoldedMainBalance,
		wallet.HoldedBonusBalance,
		wallet.FreeTrialMinutes,
		wallet.HoldedTrialMinutes,
		wallet.FreeSessionsUsed,
		wallet.WithdrawalBalance,
	).Scan(&wallet.UpdatedAt)
}

// ListSettleableTherapists returns therapist user ids with a positive main balance.
func (r *WalletRepository) ListSettleableTherapists(ctx context.Context) ([]int64, error) {
	query := `
		SELECT w.user_id
		FROM wallets w
		JOIN users u ON u.id = w.user_id
		WHERE u.role = 'therapist'
		  AND w.status = 'ACTIVE'
		  AND w.main_balance > 0
		ORDER BY w.user_id ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func scanWallet(row rowScanner) (*models.Wallet, error) {
	var wallet models.Wallet
	err := row.Scan(
		&wallet.ID,
		&wallet.UserID,
		&wallet.MainBalance,
		&wallet.BonusBalance,
		&wallet.HoldedMainBalance,
		&wallet.HoldedBonusBalance,
		&wallet.FreeTrialMinutes,
		&wallet.HoldedTrialMinutes,
		&wallet.FreeSessionsUsed,
		&wallet.WithdrawalBalance,
		&wallet.Status,
		&wallet.CreatedAt,
		&wallet.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}
