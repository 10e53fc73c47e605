package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/saeid-a/TherapyCallBack/internal/billing"
	"github.com/saeid-a/TherapyCallBack/internal/logging"
	"github.com/saeid-a/TherapyCallBack/internal/models"
	"github.com/saeid-a/TherapyCallBack/internal/repository"
	"github.com/shopspring/decimal"
)

var (
	testDBOnce sync.Once
	testDBPool *pgxpool.Pool
	testDBErr  error
)

type integrationServices struct {
	wallet   *WalletService
	requests *RequestService
	sessions *SessionService
}

func TestRequestAcceptRaceHasSingleWinner(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	svc := newIntegrationServices(pool)

	clientID := createTestAccount(t, ctx, pool, svc.wallet, models.RoleUser)
	firstTherapist := createTestAccount(t, ctx, pool, svc.wallet, models.RoleTherapist)
	secondTherapist := createTestAccount(t, ctx, pool, svc.wallet, models.RoleTherapist)
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, clientID, firstTherapist, secondTherapist) })
	fundTestWallet(t, ctx, svc.wallet, clientID, "50")

	request, err := svc.requests.CreateRequest(ctx, clientID, CreateRequestInput{Categories: []string{"anxiety"}})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if request.RequestStatus != models.RequestStatusInPool {
		t.Fatalf("expected IN_POOL, got %q", request.RequestStatus)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, therapistID := range []int64{firstTherapist, secondTherapist} {
		wg.Add(1)
		go func(i int, therapistID int64) {
			defer wg.Done()
			_, errs[i] = svc.requests.AcceptTherapistRequest(ctx, therapistID, request.ID, "")
		}(i, therapistID)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		var statusErr *RequestStatusError
		switch {
		case err == nil:
			winners++
		case errors.As(err, &statusErr):
			if statusErr.Status != models.RequestStatusAccepted {
				t.Fatalf("expected loser to see ACCEPTED, got %q", statusErr.Status)
			}
		default:
			t.Fatalf("unexpected accept error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	var holds int
	if err := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM transactions WHERE user_id = $1 AND type = $2",
		clientID, models.TransactionTypeHoldRequest,
	).Scan(&holds); err != nil {
		t.Fatalf("count holds: %v", err)
	}
	if holds != 1 {
		t.Fatalf("expected a single hold, got %d", holds)
	}
}

func TestWithdrawBeforeAcceptBlocksLaterAccept(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	svc := newIntegrationServices(pool)

	clientID := createTestAccount(t, ctx, pool, svc.wallet, models.RoleUser)
	therapistID := createTestAccount(t, ctx, pool, svc.wallet, models.RoleTherapist)
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, clientID, therapistID) })
	fundTestWallet(t, ctx, svc.wallet, clientID, "20")

	request, err := svc.requests.CreateRequest(ctx, clientID, CreateRequestInput{Categories: []string{"sleep"}})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	withdrawn, err := svc.requests.WithdrawRequest(ctx, clientID, request.ID)
	if err != nil {
		t.Fatalf("WithdrawRequest: %v", err)
	}
	if withdrawn.RequestStatus != models.RequestStatusWithdrawn {
		t.Fatalf("expected WITHDRAWN, got %q", withdrawn.RequestStatus)
	}

	_, err = svc.requests.AcceptTherapistRequest(ctx, therapistID, request.ID, "")
	var statusErr *RequestStatusError
	if !errors.As(err, &statusErr) || statusErr.Status != models.RequestStatusWithdrawn {
		t.Fatalf("expected status error WITHDRAWN, got %v", err)
	}

	wallet, err := svc.wallet.GetWallet(ctx, clientID)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if !wallet.HoldedMainBalance.IsZero() || !wallet.HoldedBonusBalance.IsZero() {
		t.Fatalf("expected no held balance, got main=%s bonus=%s", wallet.HoldedMainBalance, wallet.HoldedBonusBalance)
	}
}

func TestJoinSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	svc := newIntegrationServices(pool)

	clientID := createTestAccount(t, ctx, pool, svc.wallet, models.RoleUser)
	therapistID := createTestAccount(t, ctx, pool, svc.wallet, models.RoleTherapist)
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, clientID, therapistID) })
	fundTestWallet(t, ctx, svc.wallet, clientID, "20")

	request, err := svc.requests.CreateRequest(ctx, clientID, CreateRequestInput{Categories: []string{"stress"}})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	session, err := svc.requests.AcceptTherapistRequest(ctx, therapistID, request.ID, "stream-1")
	if err != nil {
		t.Fatalf("AcceptTherapistRequest: %v", err)
	}

	if _, err := svc.sessions.JoinSession(ctx, session.ID, clientID); !errors.Is(err, ErrTherapistNotJoined) {
		t.Fatalf("expected client to wait for therapist, got %v", err)
	}
	if _, err := svc.sessions.JoinSession(ctx, session.ID, therapistID); err != nil {
		t.Fatalf("therapist JoinSession: %v", err)
	}

	var joined *models.Session
	for i := 0; i < 2; i++ {
		joined, err = svc.sessions.JoinSession(ctx, session.ID, clientID)
		if err != nil {
			t.Fatalf("client JoinSession #%d: %v", i+1, err)
		}
	}
	if joined.SessionStatus != models.SessionStatusInSession {
		t.Fatalf("expected IN_SESSION, got %q", joined.SessionStatus)
	}
	if len(joined.JoinedAttendees) != 2 {
		t.Fatalf("expected two joined attendees, got %d", len(joined.JoinedAttendees))
	}
}

func TestScheduledRequestRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	svc := newIntegrationServices(pool)

	firstClient := createTestAccount(t, ctx, pool, svc.wallet, models.RoleUser)
	secondClient := createTestAccount(t, ctx, pool, svc.wallet, models.RoleUser)
	therapistID := createTestAccount(t, ctx, pool, svc.wallet, models.RoleTherapist)
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, firstClient, secondClient, therapistID) })
	fundTestWallet(t, ctx, svc.wallet, firstClient, "100")
	fundTestWallet(t, ctx, svc.wallet, secondClient, "100")

	start := time.Date(2030, 4, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	booked, err := svc.requests.CreateRequest(ctx, firstClient, CreateRequestInput{
		TherapistID: &therapistID,
		StartTime:   &start,
		EndTime:     &end,
	})
	if err != nil {
		t.Fatalf("CreateRequest first: %v", err)
	}
	if booked.RequestStatus != models.RequestStatusOpenSchedule {
		t.Fatalf("expected OPEN_SCHEDULE, got %q", booked.RequestStatus)
	}

	overlapStart := start.Add(30 * time.Minute)
	overlapEnd := overlapStart.Add(time.Hour)
	_, err = svc.requests.CreateRequest(ctx, secondClient, CreateRequestInput{
		TherapistID: &therapistID,
		StartTime:   &overlapStart,
		EndTime:     &overlapEnd,
	})
	if !errors.Is(err, ErrScheduleConflict) {
		t.Fatalf("expected ErrScheduleConflict, got %v", err)
	}

	adjacentStart := end
	adjacentEnd := adjacentStart.Add(time.Hour)
	if _, err := svc.requests.CreateRequest(ctx, secondClient, CreateRequestInput{
		TherapistID: &therapistID,
		StartTime:   &adjacentStart,
		EndTime:     &adjacentEnd,
	}); err != nil {
		t.Fatalf("expected back-to-back booking to succeed, got %v", err)
	}
}

func TestLeaveSessionSettlesHeartbeatBilling(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	svc := newIntegrationServices(pool)
	svc.wallet.freeTrialMinutes = decimal.Zero

	clock := time.Now().UTC().Truncate(time.Second)
	svc.sessions.now = func() time.Time { return clock }

	clientID := createTestAccount(t, ctx, pool, svc.wallet, models.RoleUser)
	therapistID := createTestAccount(t, ctx, pool, svc.wallet, models.RoleTherapist)
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, clientID, therapistID) })
	fundTestWallet(t, ctx, svc.wallet, clientID, "50")

	request, err := svc.requests.CreateRequest(ctx, clientID, CreateRequestInput{Categories: []string{"anxiety"}})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	session, err := svc.requests.AcceptTherapistRequest(ctx, therapistID, request.ID, "stream-2")
	if err != nil {
		t.Fatalf("AcceptTherapistRequest: %v", err)
	}
	if _, err := svc.sessions.JoinSession(ctx, session.ID, therapistID); err != nil {
		t.Fatalf("therapist JoinSession: %v", err)
	}
	if _, err := svc.sessions.JoinSession(ctx, session.ID, clientID); err != nil {
		t.Fatalf("client JoinSession: %v", err)
	}

	clock = clock.Add(time.Minute)
	ping, err := svc.sessions.UpdatePing(ctx, session.ID, therapistID)
	if err != nil {
		t.Fatalf("therapist UpdatePing: %v", err)
	}
	if !ping.Counted || ping.DurationSeconds != 60 {
		t.Fatalf("expected 60 counted seconds, got %+v", ping)
	}

	clock = clock.Add(30 * time.Second)
	ping, err = svc.sessions.UpdatePing(ctx, session.ID, clientID)
	if err != nil {
		t.Fatalf("client UpdatePing: %v", err)
	}
	if ping.Counted || ping.DurationSeconds != 60 {
		t.Fatalf("expected client ping to leave duration at 60, got %+v", ping)
	}

	clock = clock.Add(30 * time.Second)
	if ping, err = svc.sessions.UpdatePing(ctx, session.ID, therapistID); err != nil {
		t.Fatalf("therapist UpdatePing: %v", err)
	}
	if ping.DurationSeconds != 120 {
		t.Fatalf("expected 120 seconds, got %d", ping.DurationSeconds)
	}

	left, err := svc.sessions.LeaveSession(ctx, session.ID, clientID)
	if err != nil {
		t.Fatalf("LeaveSession: %v", err)
	}
	if left.Settlement == nil || left.CallHistory == nil {
		t.Fatalf("expected settlement and call history, got %+v", left)
	}
	if left.Settlement.Transaction.Status != models.TransactionStatusSuccess {
		t.Fatalf("expected SUCCESS settlement, got %q", left.Settlement.Transaction.Status)
	}
	if !left.Settlement.Deduction.TotalCharge().IsPositive() {
		t.Fatalf("expected a positive charge, got %s", left.Settlement.Deduction.TotalCharge())
	}
	if left.Session.SessionStatus != models.SessionStatusEnded {
		t.Fatalf("expected session ENDED, got %q", left.Session.SessionStatus)
	}

	var deductions int
	if err := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM transactions WHERE session_id = $1 AND type = $2",
		session.ID, models.TransactionTypeCommissionDeduct,
	).Scan(&deductions); err != nil {
		t.Fatalf("count deductions: %v", err)
	}
	if deductions != 1 {
		t.Fatalf("expected one deduction row, got %d", deductions)
	}

	hold, err := repository.NewTransactionRepository(pool).GetHoldByTid(ctx, session.Tid)
	if err != nil {
		t.Fatalf("GetHoldByTid: %v", err)
	}
	if hold.Status != models.TransactionStatusSuccess {
		t.Fatalf("expected committed hold, got %q", hold.Status)
	}

	clientWallet, err := svc.wallet.GetWallet(ctx, clientID)
	if err != nil {
		t.Fatalf("GetWallet client: %v", err)
	}
	if !clientWallet.HoldedMainBalance.IsZero() || !clientWallet.HoldedBonusBalance.IsZero() {
		t.Fatalf("expected no held balance, got main=%s bonus=%s", clientWallet.HoldedMainBalance, clientWallet.HoldedBonusBalance)
	}
	therapistWallet, err := svc.wallet.GetWallet(ctx, therapistID)
	if err != nil {
		t.Fatalf("GetWallet therapist: %v", err)
	}
	if share := left.Settlement.Deduction.TherapistShare(); !therapistWallet.MainBalance.Equal(share) {
		t.Fatalf("expected therapist balance %s, got %s", share, therapistWallet.MainBalance)
	}

	ended, err := repository.NewSessionRequestRepository(pool).GetByID(ctx, request.ID)
	if err != nil {
		t.Fatalf("GetByID request: %v", err)
	}
	if ended.RequestStatus != models.RequestStatusEnded || ended.Tid != session.Tid {
		t.Fatalf("expected request ENDED under tid %s, got %q under %s", session.Tid, ended.RequestStatus, ended.Tid)
	}
}

func TestRejectSessionReturnsRequestToPool(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	svc := newIntegrationServices(pool)

	clientID := createTestAccount(t, ctx, pool, svc.wallet, models.RoleUser)
	therapistID := createTestAccount(t, ctx, pool, svc.wallet, models.RoleTherapist)
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, clientID, therapistID) })
	fundTestWallet(t, ctx, svc.wallet, clientID, "20")

	request, err := svc.requests.CreateRequest(ctx, clientID, CreateRequestInput{Categories: []string{"sleep"}})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	session, err := svc.requests.AcceptTherapistRequest(ctx, therapistID, request.ID, "")
	if err != nil {
		t.Fatalf("AcceptTherapistRequest: %v", err)
	}

	rejected, err := svc.sessions.RejectSession(ctx, session.ID, therapistID)
	if err != nil {
		t.Fatalf("RejectSession: %v", err)
	}
	if rejected.SessionStatus != models.SessionStatusRejected {
		t.Fatalf("expected session REJECTED, got %q", rejected.SessionStatus)
	}

	requestRepo := repository.NewSessionRequestRepository(pool)
	reopened, err := requestRepo.GetByID(ctx, request.ID)
	if err != nil {
		t.Fatalf("GetByID request: %v", err)
	}
	if reopened.RequestStatus != models.RequestStatusInPool {
		t.Fatalf("expected IN_POOL, got %q", reopened.RequestStatus)
	}
	if reopened.Tid == session.Tid {
		t.Fatalf("expected a fresh tid after rejection, still %s", reopened.Tid)
	}
	if !reopened.HasRejected(therapistID) {
		t.Fatalf("expected therapist %d in rejected_by, got %v", therapistID, reopened.RejectedBy)
	}

	hold, err := repository.NewTransactionRepository(pool).GetHoldByTid(ctx, session.Tid)
	if err != nil {
		t.Fatalf("GetHoldByTid: %v", err)
	}
	if hold.Status != models.TransactionStatusFailed {
		t.Fatalf("expected released hold, got %q", hold.Status)
	}
	wallet, err := svc.wallet.GetWallet(ctx, clientID)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if !wallet.HoldedMainBalance.IsZero() || !wallet.HoldedBonusBalance.IsZero() {
		t.Fatalf("expected no held balance, got main=%s bonus=%s", wallet.HoldedMainBalance, wallet.HoldedBonusBalance)
	}

	if err := svc.requests.ExpireRequest(ctx, request.ID, session.Tid); err != nil {
		t.Fatalf("ExpireRequest old tid: %v", err)
	}
	if current, err := requestRepo.GetByID(ctx, request.ID); err != nil || current.RequestStatus != models.RequestStatusInPool {
		t.Fatalf("expected expiry for the old tid to be ignored, got %+v, %v", current, err)
	}

	if err := svc.requests.ExpireRequest(ctx, request.ID, reopened.Tid); err != nil {
		t.Fatalf("ExpireRequest current tid: %v", err)
	}
	if current, err := requestRepo.GetByID(ctx, request.ID); err != nil || current.RequestStatus != models.RequestStatusExpired {
		t.Fatalf("expected EXPIRED, got %+v, %v", current, err)
	}
}

func TestWithdrawAndPayoutAreRecordedSettled(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	svc := newIntegrationServices(pool)

	therapistID := createTestAccount(t, ctx, pool, svc.wallet, models.RoleTherapist)
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, therapistID) })
	fundTestWallet(t, ctx, svc.wallet, therapistID, "30")

	if _, err := svc.wallet.WithdrawWalletBalance(ctx, therapistID, decimal.NewFromInt(20)); err != nil {
		t.Fatalf("WithdrawWalletBalance: %v", err)
	}
	if _, err := svc.wallet.CompletePayout(ctx, therapistID, decimal.NewFromInt(20)); err != nil {
		t.Fatalf("CompletePayout: %v", err)
	}

	counts := map[string]int{}
	rows, err := pool.Query(ctx,
		"SELECT status, COUNT(*) FROM transactions WHERE user_id = $1 AND type = $2 GROUP BY status",
		therapistID, models.TransactionTypeWithdraw,
	)
	if err != nil {
		t.Fatalf("query withdraw rows: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			t.Fatalf("scan: %v", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if counts[models.TransactionStatusPending] != 0 || counts[models.TransactionStatusSuccess] != 2 {
		t.Fatalf("expected two settled withdraw rows, got %v", counts)
	}
}

func integrationTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	testDBOnce.Do(func() {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(filepath.Join("..", "..", ".env"))

		dbURL := os.Getenv("DB_URL")
		if dbURL == "" {
			testDBErr = fmt.Errorf("DB_URL is not set")
			return
		}

		cfg, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			testDBErr = err
			return
		}

		testDBPool, testDBErr = pgxpool.NewWithConfig(context.Background(), cfg)
		if testDBErr != nil {
			return
		}
		testDBErr = testDBPool.Ping(context.Background())
	})

	if testDBErr != nil {
		t.Skipf("skipping integration test: %v", testDBErr)
	}
	return testDBPool
}

func newIntegrationServices(pool *pgxpool.Pool) integrationServices {
	logger := logging.Discard()
	cfg := billing.Config{
		PerMinuteRate:            decimal.NewFromInt(1),
		MaxFreeSessions:          1,
		DefaultCommissionPercent: decimal.NewFromInt(20),
		VATPercent:               decimal.NewFromInt(5),
		ReferralExtraPercent:     decimal.NewFromInt(10),
		HoldUnitMinutes:          decimal.NewFromInt(1),
	}
	wallet := NewWalletService(
		pool,
		repository.NewWalletRepository(pool),
		repository.NewTransactionRepository(pool),
		cfg,
		decimal.NewFromInt(10),
		nil,
		logger,
	)
	profiles := repository.NewProfileRepository(pool)
	requests := NewRequestService(
		pool,
		repository.NewSessionRequestRepository(pool),
		profiles,
		wallet,
		NewMatchmakingService(profiles),
		NewScheduler(pool, nil, logger),
		nil,
		logger,
		RequestConfig{},
	)
	sessions := NewSessionService(pool, repository.NewSessionRepository(pool), requests, wallet, nil, logger, time.Minute)
	return integrationServices{wallet: wallet, requests: requests, sessions: sessions}
}

func createTestAccount(
	t *testing.T,
	ctx context.Context,
	pool *pgxpool.Pool,
	wallet *WalletService,
	role string,
) int64 {
	t.Helper()

	userRepo := repository.NewUserRepository(pool)
	user := &models.User{
		Email:        fmt.Sprintf("session-test-%s-%d@example.com", role, time.Now().UnixNano()),
		PasswordHash: "test-hash",
		Role:         role,
	}
	if err := userRepo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser(%s): %v", role, err)
	}

	profiles := repository.NewProfileRepository(pool)
	if role == models.RoleTherapist {
		name := "Test Therapist"
		rate := decimal.NewFromInt(90)
		if err := profiles.CreateTherapistProfile(ctx, user.ID, repository.CreateTherapistProfileInput{
			FullName:   &name,
			Categories: []string{"anxiety", "sleep", "stress"},
			HourlyRate: &rate,
		}); err != nil {
			t.Fatalf("CreateTherapistProfile: %v", err)
		}
		if _, err := profiles.SetAvailability(ctx, user.ID, true); err != nil {
			t.Fatalf("SetAvailability: %v", err)
		}
	} else if err := profiles.CreateUserProfile(ctx, user.ID, nil, nil); err != nil {
		t.Fatalf("CreateUserProfile: %v", err)
	}

	if _, err := wallet.OpenWallet(ctx, pool, user.ID, role); err != nil {
		t.Fatalf("OpenWallet: %v", err)
	}
	return user.ID
}

func fundTestWallet(t *testing.T, ctx context.Context, wallet *WalletService, userID int64, amount string) {
	t.Helper()

	if _, err := wallet.AddWalletBalance(ctx, userID, decimal.RequireFromString(amount), decimal.Zero, uuid.NewString()); err != nil {
		t.Fatalf("AddWalletBalance: %v", err)
	}
}

func cleanupTestUsers(t *testing.T, ctx context.Context, pool *pgxpool.Pool, userIDs ...int64) {
	t.Helper()

	if len(userIDs) == 0 {
		return
	}

	statements := []string{
		"DELETE FROM scheduled_jobs WHERE payload->>'request_id' IN (SELECT id::text FROM session_requests WHERE client_id = ANY($1))",
		"DELETE FROM call_histories WHERE client_id = ANY($1) OR therapist_id = ANY($1)",
		"DELETE FROM transactions WHERE user_id = ANY($1)",
		"UPDATE session_requests SET session_id = NULL WHERE client_id = ANY($1)",
		"DELETE FROM sessions WHERE client_id = ANY($1) OR therapist_id = ANY($1)",
		"DELETE FROM session_requests WHERE client_id = ANY($1)",
		"DELETE FROM wallet_topup_orders WHERE user_id = ANY($1)",
		"DELETE FROM users WHERE id = ANY($1)",
	}
	for _, statement := range statements {
		if _, err := pool.Exec(ctx, statement, userIDs); err != nil {
			t.Fatalf("cleanup %q: %v", statement, err)
		}
	}
}
