package repository

import (
	"context"

	"github.com/saeid-a/TherapyCallBack/internal/models"
)

const transactionColumns = `
	id, user_id, tid, type, status, amount, holded_main_balance, holded_bonus_balance,
	holded_trial_minutes, therapist_amount, commission_amount, vat_charge, therapist_vat_charge,
	platform_vat_charge, used_free_trial_minutes, extra_charge, session_id, counterparty_id,
	created_at, updated_at
`

type TransactionRepository struct {
	db DBTX
}

func NewTransactionRepository(db DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create inserts a ledger row. A second row with the same (tid, type, user) fails
// with a unique violation.
func (r *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (
			user_id, tid, type, status, amount, holded_main_balance, holded_bonus_balance,
			holded_trial_minutes, therapist_amount, commission_amount, vat_charge, therapist_vat_charge,
			platform_vat_charge, used_free_trial_minutes, extra_charge, session_id, counterparty_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		tx.UserID,
		tx.Tid,
		tx.Type,
		tx.Status,
		tx.Amount,
		tx.HoldedMainBalance,
		tx.HoldedBonusBalance,
		tx.HoldedTrialMinutes,
		tx.TherapistAmount,
		tx.CommissionAmount,
		tx.VATCharge,
		tx.TherapistVATCharge,
		tx.PlatformVATCharge,
		tx.UsedFreeTrialMinutes,
		tx.ExtraCharge,
		tx.SessionID,
		tx.CounterpartyID,
	).Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt)
}

func (r *TransactionRepository) GetByTidForUpdate(
	ctx context.Context,
	tid string,
	txType string,
	userID int64,
) (*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tid = $1 AND type = $2 AND user_id = $3
		FOR UPDATE
	`
	return scanTransaction(r.db.QueryRow(ctx, query, tid, txType, userID))
}

func (r *TransactionRepository) GetHoldByTid(ctx context.Context, tid string) (*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tid = $1 AND type = 'HOLD_REQUEST'
	`
	return scanTransaction(r.db.QueryRow(ctx, query, tid))
}

// GetHoldByTidForUpdate finds the hold row of a tid regardless of its owner.
func (r *TransactionRepository) GetHoldByTidForUpdate(ctx context.Context, tid string) (*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tid = $1 AND type = 'HOLD_REQUEST'
		FOR UPDATE
	`
	return scanTransaction(r.db.QueryRow(ctx, query, tid))
}

func (r *TransactionRepository) UpdateStatusIfCurrent(
	ctx context.Context,
	id int64,
	currentStatus string,
	nextStatus string,
) (*models.Transaction, error) {
	query := `
		UPDATE transactions
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + transactionColumns
	return scanTransaction(r.db.QueryRow(ctx, query, id, currentStatus, nextStatus))
}

func (r *TransactionRepository) ListForUser(
	ctx context.Context,
	userID int64,
	limit int,
	offset int,
) ([]models.Transaction, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	transactions := make([]models.Transaction, 0, limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		transactions = append(transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return transactions, total, nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var tx models.Transaction
	err := row.Scan(
		&tx.ID,
		&tx.UserID,
		&tx.Tid,
		&tx.Type,
		&tx.Status,
		&tx.Amount,
		&tx.HoldedMainBalance,
		&tx.HoldedBonusBalance,
		&tx.HoldedTrialMinutes,
		&tx.TherapistAmount,
		&tx.CommissionAmount,
		&tx.VATCharge,
		&tx.TherapistVATCharge,
		&tx.PlatformVATCharge,
		&tx.UsedFreeTrialMinutes,
		&tx.ExtraCharge,
		&tx.SessionID,
		&tx.CounterpartyID,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}
