package services

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saeid-a/TherapyCallBack/internal/billing"
	"github.com/saeid-a/TherapyCallBack/internal/models"
	"github.com/saeid-a/TherapyCallBack/internal/repository"
	"github.com/shopspring/decimal"
)

// CommitResult is what one settled session did to the two wallets involved.
type CommitResult struct {
	Transaction     *models.Transaction `json:"transaction"`
	Deduction       billing.Deduction   `json:"deduction"`
	ClientWallet    *models.Wallet      `json:"client_wallet"`
	TherapistWallet *models.Wallet      `json:"therapist_wallet"`
}

// FeeEstimate is the advisory running charge of a live session.
type FeeEstimate struct {
	SessionID        int64             `json:"session_id"`
	DurationSeconds  int               `json:"duration"`
	CallMinutes      decimal.Decimal   `json:"call_minutes"`
	Deduction        billing.Deduction `json:"deduction"`
	ProjectedBalance decimal.Decimal   `json:"projected_balance"`
	Insufficient     bool              `json:"insufficient"`
}

type WalletService struct {
	db               *pgxpool.Pool
	walletRepo       *repository.WalletRepository
	transactionRepo  *repository.TransactionRepository
	billing          billing.Config
	freeTrialMinutes decimal.Decimal
	publisher        EventPublisher
	logger           *slog.Logger
}

func NewWalletService(
	db *pgxpool.Pool,
	walletRepo *repository.WalletRepository,
	transactionRepo *repository.TransactionRepository,
	billingCfg billing.Config,
	freeTrialMinutes decimal.Decimal,
	publisher EventPublisher,
	logger *slog.Logger,
) *WalletService {
	return &WalletService{
		db:               db,
		walletRepo:       walletRepo,
		transactionRepo:  transactionRepo,
		billing:          billingCfg,
		freeTrialMinutes: freeTrialMinutes,
		publisher:        publisherOrNoop(publisher),
		logger:           logger,
	}
}

func (s *WalletService) BillingConfig() billing.Config {
	return s.billing
}

// OpenWallet creates the wallet of a freshly registered user. Clients start with
// the free-trial grant, therapists with nothing.
func (s *WalletService) OpenWallet(ctx context.Context, db repository.DBTX, userID int64, role string) (*models.Wallet, error) {
	trial := decimal.Zero
	if role == models.RoleUser {
		trial = s.freeTrialMinutes
	}
	return repository.NewWalletRepository(db).Create(ctx, userID, trial)
}

func (s *WalletService) GetWallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	return s.walletRepo.GetByUserID(ctx, userID)
}

func (s *WalletService) ListTransactions(
	ctx context.Context,
	userID int64,
	page int,
	limit int,
) ([]models.Transaction, int, error) {
	if page < 1 || limit < 1 {
		return nil, 0, ErrInvalidInput
	}
	return s.transactionRepo.ListForUser(ctx, userID, limit, (page-1)*limit)
}

// WalletCheckForSessionRequest is the preflight gate before a request may enter the pool.
func (s *WalletService) WalletCheckForSessionRequest(ctx context.Context, userID int64) error {
	return s.checkForRequest(ctx, s.walletRepo, userID)
}

func (s *WalletService) checkForRequest(ctx context.Context, repo *repository.WalletRepository, userID int64) error {
	wallet, err := repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInsufficientFunds
		}
		return err
	}
	return billing.CanOpenRequest(*wallet, s.billing.HoldUnitAmount(), s.billing.MaxFreeSessions)
}

func (s *WalletService) HoldBalanceForRequest(
	ctx context.Context,
	userID int64,
	amountPerUnit decimal.Decimal,
	tid string,
) (*models.Transaction, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	hold, err := s.holdInTx(ctx, tx, userID, amountPerUnit, tid, nil)
	if err != nil {
		return nil, translateDBError(err, ErrDuplicateTransaction)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, nil)
	}
	return hold, nil
}

// holdInTx reserves one billing unit and records the PENDING hold row under tid.
func (s *WalletService) holdInTx(
	ctx context.Context,
	tx pgx.Tx,
	userID int64,
	amountPerUnit decimal.Decimal,
	tid string,
	sessionID *int64,
) (*models.Transaction, error) {
	walletRepo := repository.NewWalletRepository(tx)
	wallet, err := walletRepo.GetByUserIDForUpdate(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInsufficientFunds
		}
		return nil, err
	}

	hold, err := billing.ReserveHold(wallet, amountPerUnit, s.billing.MaxFreeSessions)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidAmount) {
			return nil, ErrInvalidInput
		}
		if errors.Is(err, billing.ErrWalletClosed) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	if err := walletRepo.SaveBalances(ctx, wallet); err != nil {
		return nil, err
	}

	record := &models.Transaction{
		UserID:             userID,
		Tid:                tid,
		Type:               models.TransactionTypeHoldRequest,
		Status:             models.TransactionStatusPending,
		Amount:             hold.Amount(),
		HoldedMainBalance:  hold.Main,
		HoldedBonusBalance: hold.Bonus,
		HoldedTrialMinutes: hold.TrialMinutes,
		SessionID:          sessionID,
	}
	if err := repository.NewTransactionRepository(tx).Create(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// ReleaseHoldings gives a pending hold back to its wallet.
func (s *WalletService) ReleaseHoldings(ctx context.Context, tid string) (*models.Transaction, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	revert, err := s.releaseInTx(ctx, tx, tid)
	if err != nil {
		return nil, translateDBError(err, ErrTransactionSettled)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, nil)
	}
	if revert != nil {
		s.publishWalletUpdated(revert.UserID)
	}
	return revert, nil
}

// releaseInTx returns (nil, nil) when nothing was ever held under tid.
func (s *WalletService) releaseInTx(ctx context.Context, tx pgx.Tx, tid string) (*models.Transaction, error) {
	transactionRepo := repository.NewTransactionRepository(tx)
	hold, err := transactionRepo.GetHoldByTidForUpdate(ctx, tid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if hold.Status != models.TransactionStatusPending {
		return nil, ErrTransactionSettled
	}

	walletRepo := repository.NewWalletRepository(tx)
	wallet, err := walletRepo.GetByUserIDForUpdate(ctx, hold.UserID)
	if err != nil {
		return nil, err
	}
	billing.ReleaseHold(wallet, billing.HoldFromTransaction(hold))
	if err := walletRepo.SaveBalances(ctx, wallet); err != nil {
		return nil, err
	}

	if _, err := transactionRepo.UpdateStatusIfCurrent(
		ctx,
		hold.ID,
		models.TransactionStatusPending,
		models.TransactionStatusFailed,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionSettled
		}
		return nil, err
	}

	revert := &models.Transaction{
		UserID:             hold.UserID,
		Tid:                tid,
		Type:               models.TransactionTypeRevertTransaction,
		Status:             models.TransactionStatusSuccess,
		Amount:             hold.Amount,
		HoldedMainBalance:  hold.HoldedMainBalance,
		HoldedBonusBalance: hold.HoldedBonusBalance,
		HoldedTrialMinutes: hold.HoldedTrialMinutes,
		SessionID:          hold.SessionID,
	}
	if err := transactionRepo.Create(ctx, revert); err != nil {
		return nil, err
	}
	return revert, nil
}

// CommitTransaction settles a session's hold for callMinutes in its own unit.
func (s *WalletService) CommitTransaction(
	ctx context.Context,
	session *models.Session,
	callMinutes decimal.Decimal,
) (*CommitResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	result, err := s.commitInTx(ctx, tx, session, callMinutes)
	if err != nil {
		return nil, translateDBError(err, ErrTransactionSettled)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, nil)
	}
	s.publishWalletUpdated(session.ClientID, session.TherapistID)
	return result, nil
}

func (s *WalletService) commitInTx(
	ctx context.Context,
	tx pgx.Tx,
	session *models.Session,
	callMinutes decimal.Decimal,
) (*CommitResult, error) {
	transactionRepo := repository.NewTransactionRepository(tx)
	walletRepo := repository.NewWalletRepository(tx)
	profileRepo := repository.NewProfileRepository(tx)

	hold, err := transactionRepo.GetByTidForUpdate(ctx, session.Tid, models.TransactionTypeHoldRequest, session.ClientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidStateTransition
		}
		return nil, err
	}
	if hold.Status != models.TransactionStatusPending {
		return nil, ErrTransactionSettled
	}

	wallets, err := lockWallets(ctx, walletRepo, session.ClientID, session.TherapistID)
	if err != nil {
		return nil, err
	}
	clientWallet := wallets[session.ClientID]
	therapistWallet := wallets[session.TherapistID]

	therapistProfile, err := profileRepo.GetTherapistProfile(ctx, session.TherapistID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	clientProfile, err := profileRepo.GetUserProfile(ctx, session.ClientID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	billing.ReleaseHold(clientWallet, billing.HoldFromTransaction(hold))
	deduction := billing.ComputeDeduction(
		*clientWallet,
		callMinutes,
		billing.ReferralFor(clientProfile, therapistProfile),
		billing.RatesFor(s.billing, therapistProfile),
	)
	applied := billing.ApplyDeduction(clientWallet, deduction)

	if share := applied.TherapistShare(); share.IsPositive() {
		if err := billing.Credit(therapistWallet, share); err != nil {
			if errors.Is(err, billing.ErrWalletClosed) {
				return nil, ErrForbidden
			}
			return nil, err
		}
	}

	if err := walletRepo.SaveBalances(ctx, clientWallet); err != nil {
		return nil, err
	}
	if err := walletRepo.SaveBalances(ctx, therapistWallet); err != nil {
		return nil, err
	}

	if _, err := transactionRepo.UpdateStatusIfCurrent(
		ctx,
		hold.ID,
		models.TransactionStatusPending,
		models.TransactionStatusSuccess,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionSettled
		}
		return nil, err
	}

	sessionID := session.ID
	therapistID := session.TherapistID
	record := &models.Transaction{
		UserID:               session.ClientID,
		Tid:                  session.Tid,
		Type:                 models.TransactionTypeCommissionDeduct,
		Status:               models.TransactionStatusSuccess,
		Amount:               applied.TotalCharge(),
		TherapistAmount:      applied.TherapistAmount,
		CommissionAmount:     applied.CommissionAmount,
		VATCharge:            applied.VATCharge,
		TherapistVATCharge:   applied.TherapistVATCharge,
		PlatformVATCharge:    applied.PlatformVATCharge,
		UsedFreeTrialMinutes: applied.UsedFreeTrialMinutes,
		ExtraCharge:          applied.ExtraCharge,
		SessionID:            &sessionID,
		CounterpartyID:       &therapistID,
	}
	if err := transactionRepo.Create(ctx, record); err != nil {
		return nil, err
	}

	if applied.Shortfall.IsPositive() {
		s.logger.Warn("session charge capped to available funds",
			"session_id", session.ID,
			"client_id", session.ClientID,
			"shortfall", applied.Shortfall.String(),
		)
	}

	return &CommitResult{
		Transaction:     record,
		Deduction:       applied,
		ClientWallet:    clientWallet,
		TherapistWallet: therapistWallet,
	}, nil
}

// estimateFor prices the session so far without touching any balance. The client's
// pending hold is folded back into the working copy the way a commit would.
func (s *WalletService) estimateFor(ctx context.Context, db repository.DBTX, session *models.Session) (*FeeEstimate, error) {
	wallet, err := repository.NewWalletRepository(db).GetByUserID(ctx, session.ClientID)
	if err != nil {
		return nil, err
	}
	hold, err := repository.NewTransactionRepository(db).GetHoldByTid(ctx, session.Tid)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err == nil && hold.Status == models.TransactionStatusPending {
		billing.ReleaseHold(wallet, billing.HoldFromTransaction(hold))
	}

	profileRepo := repository.NewProfileRepository(db)
	therapistProfile, err := profileRepo.GetTherapistProfile(ctx, session.TherapistID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	clientProfile, err := profileRepo.GetUserProfile(ctx, session.ClientID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	minutes := sessionMinutes(session.DurationSeconds)
	deduction := billing.ComputeDeduction(
		*wallet,
		minutes,
		billing.ReferralFor(clientProfile, therapistProfile),
		billing.RatesFor(s.billing, therapistProfile),
	)
	projected := wallet.SpendableBalance().Sub(deduction.TotalCharge())
	return &FeeEstimate{
		SessionID:        session.ID,
		DurationSeconds:  session.DurationSeconds,
		CallMinutes:      minutes,
		Deduction:        deduction,
		ProjectedBalance: projected,
		Insufficient:     projected.IsNegative(),
	}, nil
}

func sessionMinutes(seconds int) decimal.Decimal {
	if seconds <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(seconds)).Div(decimal.NewFromInt(60))
}

// AddWalletBalance credits a confirmed top-up. Replaying the same tid fails with
// ErrDuplicateTransaction and leaves the wallet untouched.
func (s *WalletService) AddWalletBalance(
	ctx context.Context,
	userID int64,
	amount decimal.Decimal,
	taxPortion decimal.Decimal,
	tid string,
) (*models.Wallet, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	wallet, err := s.addBalanceInTx(ctx, tx, userID, amount, taxPortion, tid)
	if err != nil {
		return nil, translateDBError(err, ErrDuplicateTransaction)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, ErrDuplicateTransaction)
	}
	s.publishWalletUpdated(userID)
	return wallet, nil
}

func (s *WalletService) addBalanceInTx(
	ctx context.Context,
	tx pgx.Tx,
	userID int64,
	amount decimal.Decimal,
	taxPortion decimal.Decimal,
	tid string,
) (*models.Wallet, error) {
	if !amount.IsPositive() || taxPortion.IsNegative() || tid == "" {
		return nil, ErrInvalidInput
	}

	record := &models.Transaction{
		UserID:    userID,
		Tid:       tid,
		Type:      models.TransactionTypeTopup,
		Status:    models.TransactionStatusSuccess,
		Amount:    amount,
		VATCharge: taxPortion,
	}
	if err := repository.NewTransactionRepository(tx).Create(ctx, record); err != nil {
		return nil, err
	}

	walletRepo := repository.NewWalletRepository(tx)
	wallet, err := walletRepo.GetByUserIDForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := billing.Credit(wallet, amount); err != nil {
		if errors.Is(err, billing.ErrWalletClosed) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	if err := walletRepo.SaveBalances(ctx, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

// WithdrawWalletBalance moves main balance into the withdrawal bucket for the next payout.
func (s *WalletService) WithdrawWalletBalance(
	ctx context.Context,
	userID int64,
	amount decimal.Decimal,
) (*models.Wallet, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	wallet, err := s.withdrawInTx(ctx, tx, userID, amount)
	if err != nil {
		return nil, translateDBError(err, nil)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, nil)
	}
	s.publishWalletUpdated(userID)
	return wallet, nil
}

func (s *WalletService) withdrawInTx(
	ctx context.Context,
	tx pgx.Tx,
	userID int64,
	amount decimal.Decimal,
) (*models.Wallet, error) {
	walletRepo := repository.NewWalletRepository(tx)
	wallet, err := walletRepo.GetByUserIDForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := billing.MoveToWithdrawal(wallet, amount); err != nil {
		if errors.Is(err, billing.ErrInvalidAmount) {
			return nil, ErrInvalidInput
		}
		return nil, err
	}
	if err := walletRepo.SaveBalances(ctx, wallet); err != nil {
		return nil, err
	}

	if err := repository.NewTransactionRepository(tx).Create(ctx, withdrawRecord(userID, amount)); err != nil {
		return nil, err
	}
	return wallet, nil
}

// withdrawRecord is the ledger entry for a balance move that is already final when written.
// PENDING stays reserved for holds.
func withdrawRecord(userID int64, amount decimal.Decimal) *models.Transaction {
	return &models.Transaction{
		UserID: userID,
		Tid:    uuid.NewString(),
		Type:   models.TransactionTypeWithdraw,
		Status: models.TransactionStatusSuccess,
		Amount: amount,
	}
}

// CompletePayout records money that left the platform from the withdrawal bucket.
func (s *WalletService) CompletePayout(
	ctx context.Context,
	userID int64,
	amount decimal.Decimal,
) (*models.Wallet, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	walletRepo := repository.NewWalletRepository(tx)
	wallet, err := walletRepo.GetByUserIDForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := billing.CompletePayout(wallet, amount); err != nil {
		if errors.Is(err, billing.ErrInvalidAmount) {
			return nil, ErrInvalidInput
		}
		return nil, err
	}
	if err := walletRepo.SaveBalances(ctx, wallet); err != nil {
		return nil, err
	}

	if err := repository.NewTransactionRepository(tx).Create(ctx, withdrawRecord(userID, amount)); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, nil)
	}
	s.publishWalletUpdated(userID)
	return wallet, nil
}

// RunSettlement moves every therapist's earned main balance into the withdrawal bucket.
// Each therapist is settled in its own unit so one failure does not block the rest.
func (s *WalletService) RunSettlement(ctx context.Context) (int, decimal.Decimal, error) {
	therapistIDs, err := s.walletRepo.ListSettleableTherapists(ctx)
	if err != nil {
		return 0, decimal.Zero, err
	}

	settled := 0
	total := decimal.Zero
	var firstErr error
	for _, therapistID := range therapistIDs {
		amount, err := s.settleTherapist(ctx, therapistID)
		if err != nil {
			s.logger.Error("settlement failed", "therapist_id", therapistID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if amount.IsPositive() {
			settled++
			total = total.Add(amount)
		}
	}

	s.publisher.Publish(models.Event{
		Type: models.EventSettlementCompleted,
		Ops:  true,
		Payload: map[string]any{
			"therapists": settled,
			"total":      total.StringFixed(2),
			"failed":     firstErr != nil,
		},
	})
	return settled, total, firstErr
}

func (s *WalletService) settleTherapist(ctx context.Context, therapistID int64) (decimal.Decimal, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	wallet, err := repository.NewWalletRepository(tx).GetByUserIDForUpdate(ctx, therapistID)
	if err != nil {
		return decimal.Zero, err
	}
	amount := wallet.MainBalance
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}
	if _, err := s.withdrawInTx(ctx, tx, therapistID, amount); err != nil {
		return decimal.Zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, translateDBError(err, nil)
	}
	s.publishWalletUpdated(therapistID)
	return amount, nil
}

func (s *WalletService) publishWalletUpdated(userIDs ...int64) {
	s.publisher.Publish(models.Event{
		Type:    models.EventWalletUpdated,
		UserIDs: userIDs,
	})
}

// lockWallets loads wallets FOR UPDATE in ascending user id order.
func lockWallets(
	ctx context.Context,
	repo *repository.WalletRepository,
	userIDs ...int64,
) (map[int64]*models.Wallet, error) {
	ordered := append([]int64(nil), userIDs...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	wallets := make(map[int64]*models.Wallet, len(ordered))
	for _, userID := range ordered {
		if _, ok := wallets[userID]; ok {
			continue
		}
		wallet, err := repo.GetByUserIDForUpdate(ctx, userID)
		if err != nil {
			return nil, err
		}
		wallets[userID] = wallet
	}
	return wallets, nil
}
