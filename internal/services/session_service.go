package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saeid-a/TherapyCallBack/internal/models"
	"github.com/saeid-a/TherapyCallBack/internal/repository"
	"github.com/shopspring/decimal"
)

// maxManualCallMinutes bounds the client-reported minutes of the manual billing path.
var maxManualCallMinutes = decimal.NewFromInt(24 * 60)

type PingResult struct {
	SessionID       int64        `json:"session_id"`
	DurationSeconds int          `json:"duration"`
	Counted         bool         `json:"counted"`
	Estimate        *FeeEstimate `json:"estimate,omitempty"`
}

type LeaveResult struct {
	Session     *models.Session     `json:"session"`
	Settlement  *CommitResult       `json:"settlement,omitempty"`
	CallHistory *models.CallHistory `json:"call_history,omitempty"`
}

type CreateDirectSessionInput struct {
	ClientID    int64
	SessionType string
	StreamID    *string
}

type SessionService struct {
	db          *pgxpool.Pool
	sessionRepo *repository.SessionRepository
	requests    *RequestService
	wallet      *WalletService
	publisher   EventPublisher
	logger      *slog.Logger
	heartbeat   time.Duration
	now         func() time.Time
}

func NewSessionService(
	db *pgxpool.Pool,
	sessionRepo *repository.SessionRepository,
	requests *RequestService,
	wallet *WalletService,
	publisher EventPublisher,
	logger *slog.Logger,
	heartbeat time.Duration,
) *SessionService {
	if heartbeat <= 0 {
		heartbeat = time.Minute
	}
	return &SessionService{
		db:          db,
		sessionRepo: sessionRepo,
		requests:    requests,
		wallet:      wallet,
		publisher:   publisherOrNoop(publisher),
		logger:      logger,
		heartbeat:   heartbeat,
		now:         time.Now,
	}
}

func (s *SessionService) GetSession(
	ctx context.Context,
	actorID int64,
	role string,
	sessionID int64,
) (*models.Session, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if role != models.RoleAdmin && !isParticipant(session, actorID) {
		return nil, ErrForbidden
	}
	return session, nil
}

// CreateDirectSession opens a PRIVATE or CHAT_SESSION call between a therapist and one
// client. The client's first billing unit is held up front.
func (s *SessionService) CreateDirectSession(
	ctx context.Context,
	therapistID int64,
	input CreateDirectSessionInput,
) (*models.Session, error) {
	if input.SessionType != models.SessionTypePrivate && input.SessionType != models.SessionTypeChatSession {
		return nil, ErrInvalidInput
	}
	if input.ClientID <= 0 || input.ClientID == therapistID {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := lockParties(ctx, tx, input.ClientID, therapistID); err != nil {
		return nil, translateDBError(err, nil)
	}
	if err := s.requests.ensureTherapistFree(ctx, tx, therapistID); err != nil {
		return nil, err
	}
	if err := s.wallet.checkForRequest(ctx, repository.NewWalletRepository(tx), input.ClientID); err != nil {
		return nil, err
	}

	streamID := input.StreamID
	if streamID == nil || *streamID == "" {
		generated := uuid.NewString()
		streamID = &generated
	}
	session, err := repository.NewSessionRepository(tx).Create(ctx, repository.CreateSessionInput{
		SessionType: input.SessionType,
		TherapistID: therapistID,
		ClientID:    input.ClientID,
		Tid:         uuid.NewString(),
		StreamID:    streamID,
		Attendees:   []int64{input.ClientID},
	})
	if err != nil {
		return nil, translateDBError(err, ErrConflict)
	}

	sessionID := session.ID
	unit := s.wallet.BillingConfig().HoldUnitAmount()
	if _, err := s.wallet.holdInTx(ctx, tx, input.ClientID, unit, session.Tid, &sessionID); err != nil {
		return nil, translateDBError(err, ErrDuplicateTransaction)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, nil)
	}

	s.publisher.Publish(models.Event{
		Type:    models.EventSessionCreated,
		UserIDs: []int64{input.ClientID},
		Payload: sessionPayload(session),
	})
	return session, nil
}

// AcceptSession is the therapist confirming a PENDING session before anyone joins.
func (s *SessionService) AcceptSession(ctx context.Context, sessionID int64, therapistID int64) (*models.Session, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	sessionRepo := repository.NewSessionRepository(tx)
	session, err := sessionRepo.GetByIDForUpdate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.TherapistID != therapistID {
		return nil, ErrForbidden
	}
	if session.SessionStatus != models.SessionStatusPending {
		return nil, ErrInvalidStateTransition
	}
	if _, err := sessionRepo.UpdateStatusIfCurrent(
		ctx,
		sessionID,
		[]string{models.SessionStatusPending},
		models.SessionStatusAccepted,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidStateTransition
		}
		return nil, err
	}
	updated, err := sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, nil)
	}

	s.publisher.Publish(models.Event{
		Type:    models.EventSessionAccepted,
		UserIDs: updated.Participants(),
		Payload: sessionPayload(updated),
	})
	return updated, nil
}

// JoinSession connects a party to the call. Joining again after a reconnect updates the
// existing joined row.
func (s *SessionService) JoinSession(ctx context.Context, sessionID int64, userID int64) (*models.Session, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	sessionRepo := repository.NewSessionRepository(tx)
	session, err := sessionRepo.GetByIDForUpdate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, ErrInvalidStateTransition
	}

	isTherapist := session.TherapistID == userID
	if !isTherapist && !session.IsDeclaredAttendee(userID) {
		return nil, ErrForbidden
	}
	if !isTherapist && session.SessionType == models.SessionTypeRequest && !session.TherapistJoined() {
		return nil, ErrTherapistNotJoined
	}

	joinedAs := models.JoinedAsUser
	if isTherapist {
		joinedAs = models.JoinedAsTherapist
	}
	if err := sessionRepo.UpsertJoinedAttendee(ctx, sessionID, userID, joinedAs, s.now().UTC()); err != nil {
		return nil, err
	}
	if !isTherapist {
		if err := sessionRepo.SetAttendeeJoined(ctx, sessionID, userID, true); err != nil {
			return nil, err
		}
	}

	if session.SessionStatus != models.SessionStatusInSession {
		if _, err := sessionRepo.UpdateStatusIfCurrent(
			ctx,
			sessionID,
			[]string{models.SessionStatusPending, models.SessionStatusAccepted},
			models.SessionStatusInSession,
		); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrInvalidStateTransition
			}
			return nil, err
		}
		if session.RequestID != nil {
			_, err := repository.NewSessionRequestRepository(tx).UpdateStatusIfCurrent(
				ctx,
				*session.RequestID,
				[]string{models.RequestStatusAccepted},
				models.RequestStatusInSession,
			)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return nil, err
			}
		}
	}

	joined, err := sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, nil)
	}

	payload := sessionPayload(joined)
	payload["user_id"] = userID
	payload["joined_as"] = joinedAs
	s.publisher.Publish(models.Event{
		Type:    models.EventSessionJoined,
		UserIDs: joined.Participants(),
		Payload: payload,
	})
	return joined, nil
}

// UpdatePing records a heartbeat. Only therapist heartbeats extend the billed duration,
// by the time elapsed since the billing watermark capped at one interval.
// The session is never ended from here.
func (s *SessionService) UpdatePing(ctx context.Context, sessionID int64, userID int64) (*PingResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	sessionRepo := repository.NewSessionRepository(tx)
	session, err := sessionRepo.GetByIDForUpdate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(session, userID) {
		return nil, ErrForbidden
	}
	if session.SessionStatus != models.SessionStatusInSession {
		return nil, ErrInvalidStateTransition
	}

	now := s.now().UTC()
	if err := sessionRepo.TouchPing(ctx, sessionID, userID, now); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidStateTransition
		}
		return nil, err
	}

	result := &PingResult{SessionID: sessionID, DurationSeconds: session.DurationSeconds}
	if session.TherapistID != userID {
		if err := tx.Commit(ctx); err != nil {
			return nil, translateDBError(err, nil)
		}
		return result, nil
	}

	seconds, billedThrough := heartbeatCredit(billingWatermark(session, now), now, s.heartbeat)
	if seconds > 0 {
		total, err := sessionRepo.AddBilledDuration(ctx, sessionID, seconds, billedThrough)
		if err != nil {
			return nil, err
		}
		session.DurationSeconds = total
		session.BilledThrough = &billedThrough
		result.DurationSeconds = total
		result.Counted = true
	}

	estimate, err := s.wallet.estimateFor(ctx, tx, session)
	if err != nil {
		return nil, err
	}
	result.Estimate = estimate

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, nil)
	}

	s.publishEstimate(session, estimate)
	return result, nil
}

// heartbeatCredit returns the whole seconds a therapist ping adds and the new watermark.
// A gap longer than one interval is capped, so a dropped connection is not billed.
// Sub-second remainders stay behind the watermark for the next ping.
func heartbeatCredit(billedThrough, now time.Time, interval time.Duration) (int, time.Time) {
	elapsed := now.Sub(billedThrough)
	if elapsed <= 0 {
		return 0, billedThrough
	}
	if elapsed >= interval {
		return int(interval / time.Second), now
	}
	seconds := int(elapsed / time.Second)
	return seconds, billedThrough.Add(time.Duration(seconds) * time.Second)
}

// billingWatermark is where billing resumes: the last billed instant, else the therapist's join.
func billingWatermark(session *models.Session, now time.Time) time.Time {
	if session.BilledThrough != nil {
		return *session.BilledThrough
	}
	for _, joined := range session.JoinedAttendees {
		if joined.UserID == session.TherapistID {
			return joined.JoinedAt
		}
	}
	return now
}

// EstimateFee answers a participant asking for the running charge.
func (s *SessionService) EstimateFee(ctx context.Context, sessionID int64, userID int64) (*FeeEstimate, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(session, userID) {
		return nil, ErrForbidden
	}
	return s.wallet.estimateFor(ctx, s.db, session)
}

func (s *SessionService) publishEstimate(session *models.Session, estimate *FeeEstimate) {
	s.publisher.Publish(models.Event{
		Type:    models.EventSessionFeeUpdate,
		UserIDs: []int64{session.ClientID},
		Payload: map[string]any{
			"session_id":        session.ID,
			"duration":          estimate.DurationSeconds,
			"deduct_amount":     estimate.Deduction.TotalCharge().StringFixed(2),
			"projected_balance": estimate.ProjectedBalance.StringFixed(2),
			"used_trial":        estimate.Deduction.UsedFreeTrialMinutes.String(),
		},
	})
	if estimate.Insufficient {
		s.publisher.Publish(models.Event{
			Type:    models.EventInsufficientBalance,
			UserIDs: session.Participants(),
			Payload: map[string]any{
				"session_id":        session.ID,
				"projected_balance": estimate.ProjectedBalance.StringFixed(2),
			},
		})
	}
}

// LeaveSession ends the call for everyone. The client hold is settled from the billed
// duration when a client was connected, and released otherwise.
func (s *SessionService) LeaveSession(ctx context.Context, sessionID int64, userID int64) (*LeaveResult, error) {
	snapshot, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(snapshot, userID) {
		return nil, ErrForbidden
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := lockParties(ctx, tx, snapshot.ClientID, snapshot.TherapistID); err != nil {
		return nil, translateDBError(err, nil)
	}

	sessionRepo := repository.NewSessionRepository(tx)
	session, err := sessionRepo.GetByIDForUpdate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, ErrInvalidStateTransition
	}

	clientTracked := false
	for _, joined := range session.JoinedAttendees {
		if joined.JoinedAs == models.JoinedAsUser {
			clientTracked = true
			break
		}
	}

	leaver, err := sessionRepo.RemoveJoinedAttendee(ctx, sessionID, userID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if session.IsDeclaredAttendee(userID) {
		if err := sessionRepo.SetAttendeeJoined(ctx, sessionID, userID, false); err != nil {
			return nil, err
		}
	}

	result := &LeaveResult{}
	if clientTracked {
		settlement, history, err := s.settleInTx(ctx, tx, session, sessionMinutes(session.DurationSeconds), models.CallSourceHeartbeat)
		if err != nil {
			return nil, translateDBError(err, nil)
		}
		result.Settlement = settlement
		result.CallHistory = history
	} else if _, err := s.wallet.releaseInTx(ctx, tx, session.Tid); err != nil && !errors.Is(err, ErrTransactionSettled) {
		return nil, translateDBError(err, nil)
	}

	if _, err := sessionRepo.UpdateStatusIfCurrent(
		ctx,
		sessionID,
		[]string{models.SessionStatusPending, models.SessionStatusAccepted, models.SessionStatusInSession},
		models.SessionStatusEnded,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidStateTransition
		}
		return nil, err
	}
	if session.RequestID != nil {
		_, err := repository.NewSessionRequestRepository(tx).UpdateStatusIfCurrent(
			ctx,
			*session.RequestID,
			[]string{models.RequestStatusAccepted, models.RequestStatusInSession},
			models.RequestStatusEnded,
		)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}

	ended, err := sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	result.Session = ended

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, nil)
	}

	s.publishLeft(ended, userID, leaver)
	if result.Settlement != nil {
		s.wallet.publishWalletUpdated(ended.ClientID, ended.TherapistID)
		s.publishReceipt(ended, result.Settlement)
	} else {
		s.wallet.publishWalletUpdated(ended.ClientID)
	}
	return result, nil
}

// settleInTx commits the session hold and records its call history. A hold that some
// other path already settled is left as is.
func (s *SessionService) settleInTx(
	ctx context.Context,
	tx pgx.Tx,
	session *models.Session,
	minutes decimal.Decimal,
	source string,
) (*CommitResult, *models.CallHistory, error) {
	settlement, err := s.wallet.commitInTx(ctx, tx, session, minutes)
	if err != nil {
		if errors.Is(err, ErrTransactionSettled) || errors.Is(err, ErrInvalidStateTransition) {
			s.logger.Info("session hold not settled on leave", "session_id", session.ID, "reason", err.Error())
			return nil, nil, nil
		}
		return nil, nil, err
	}

	history := &models.CallHistory{
		SessionID:   session.ID,
		ClientID:    session.ClientID,
		TherapistID: session.TherapistID,
		Tid:         session.Tid,
		Minutes:     minutes,
		Amount:      settlement.Deduction.TotalCharge(),
		Source:      source,
	}
	if err := repository.NewCallHistoryRepository(tx).Create(ctx, history); err != nil {
		return nil, nil, err
	}
	return settlement, history, nil
}

func (s *SessionService) publishLeft(session *models.Session, leaverID int64, leaver *models.JoinedAttendee) {
	remaining := make([]int64, 0, len(session.Attendees)+1)
	for _, id := range session.Participants() {
		if id != leaverID {
			remaining = append(remaining, id)
		}
	}
	payload := sessionPayload(session)
	payload["user_id"] = leaverID
	if leaver != nil {
		payload["joined_as"] = leaver.JoinedAs
	}
	s.publisher.Publish(models.Event{
		Type:    models.EventSessionLeft,
		UserIDs: remaining,
		Payload: payload,
	})
}

func (s *SessionService) publishReceipt(session *models.Session, settlement *CommitResult) {
	s.publisher.Publish(models.Event{
		Type:    models.EventWalletUpdated,
		UserIDs: []int64{session.ClientID},
		Payload: map[string]any{
			"session_id": session.ID,
			"charged":    settlement.Deduction.TotalCharge().StringFixed(2),
			"minutes":    settlement.Deduction.CallMinutes.StringFixed(2),
			"trial_used": settlement.Deduction.UsedFreeTrialMinutes.String(),
		},
		MailTemplate: "session_receipt",
	})
}

// RejectSession is the therapist declining a PENDING session. A pooled request goes
// back to the pool without the decliner.
func (s *SessionService) RejectSession(ctx context.Context, sessionID int64, therapistID int64) (*models.Session, error) {
	snapshot, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if snapshot.TherapistID != therapistID {
		return nil, ErrForbidden
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := lockParties(ctx, tx, snapshot.ClientID, therapistID); err != nil {
		return nil, translateDBError(err, nil)
	}

	sessionRepo := repository.NewSessionRepository(tx)
	session, err := sessionRepo.GetByIDForUpdate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.SessionStatus != models.SessionStatusPending {
		return nil, ErrInvalidStateTransition
	}

	rejected, err := sessionRepo.UpdateStatusIfCurrent(
		ctx,
		sessionID,
		[]string{models.SessionStatusPending},
		models.SessionStatusRejected,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidStateTransition
		}
		return nil, err
	}
	rejected.Attendees = session.Attendees
	rejected.JoinedAttendees = session.JoinedAttendees

	if _, err := s.wallet.releaseInTx(ctx, tx, session.Tid); err != nil && !errors.Is(err, ErrTransactionSettled) {
		return nil, translateDBError(err, nil)
	}

	var reopened *models.SessionRequest
	if session.SessionType == models.SessionTypeRequest && session.RequestID != nil {
		reopened, err = s.requests.returnToPoolInTx(ctx, tx, *session.RequestID, therapistID)
		if err != nil {
			var statusErr *RequestStatusError
			if !errors.As(err, &statusErr) {
				return nil, translateDBError(err, nil)
			}
			reopened = nil
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, nil)
	}

	s.publisher.Publish(models.Event{
		Type:    models.EventSessionRejected,
		UserIDs: []int64{rejected.ClientID},
		Payload: sessionPayload(rejected),
	})
	s.wallet.publishWalletUpdated(rejected.ClientID)
	if reopened != nil {
		s.requests.publishStatus(reopened, reopened.ClientID)
		s.requests.Broadcast(ctx, reopened)
	}
	return rejected, nil
}

// RaiseHand relays an attendee's raised hand to the therapist.
func (s *SessionService) RaiseHand(ctx context.Context, sessionID int64, userID int64) error {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsDeclaredAttendee(userID) {
		return ErrForbidden
	}
	if session.SessionStatus != models.SessionStatusInSession {
		return ErrInvalidStateTransition
	}
	s.publisher.Publish(models.Event{
		Type:    models.EventSessionRiseHand,
		UserIDs: []int64{session.TherapistID},
		Payload: map[string]any{
			"session_id": session.ID,
			"user_id":    userID,
		},
	})
	return nil
}

// UpdateWalletOnCall is the manual billing path for calls that ran without heartbeats.
// It settles the same hold as LeaveSession, so whichever runs second gets
// ErrTransactionSettled. The heartbeat duration wins over reported minutes when present.
func (s *SessionService) UpdateWalletOnCall(
	ctx context.Context,
	sessionID int64,
	userID int64,
	reportedMinutes decimal.Decimal,
) (*LeaveResult, error) {
	snapshot, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(snapshot, userID) {
		return nil, ErrForbidden
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := lockParties(ctx, tx, snapshot.ClientID, snapshot.TherapistID); err != nil {
		return nil, translateDBError(err, nil)
	}

	session, err := repository.NewSessionRepository(tx).GetByIDForUpdate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.SessionStatus == models.SessionStatusPending || session.SessionStatus == models.SessionStatusRejected {
		return nil, ErrInvalidStateTransition
	}

	minutes := sessionMinutes(session.DurationSeconds)
	if !minutes.IsPositive() {
		if reportedMinutes.IsNegative() || reportedMinutes.GreaterThan(maxManualCallMinutes) {
			return nil, ErrInvalidInput
		}
		minutes = reportedMinutes
	}

	settlement, err := s.wallet.commitInTx(ctx, tx, session, minutes)
	if err != nil {
		return nil, translateDBError(err, ErrTransactionSettled)
	}
	history := &models.CallHistory{
		SessionID:   session.ID,
		ClientID:    session.ClientID,
		TherapistID: session.TherapistID,
		Tid:         session.Tid,
		Minutes:     minutes,
		Amount:      settlement.Deduction.TotalCharge(),
		Source:      models.CallSourceManual,
	}
	if err := repository.NewCallHistoryRepository(tx).Create(ctx, history); err != nil {
		return nil, translateDBError(err, ErrTransactionSettled)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, nil)
	}

	s.wallet.publishWalletUpdated(session.ClientID, session.TherapistID)
	s.publishReceipt(session, settlement)
	return &LeaveResult{Session: session, Settlement: settlement, CallHistory: history}, nil
}

func isParticipant(session *models.Session, userID int64) bool {
	return session.TherapistID == userID || session.IsDeclaredAttendee(userID)
}

func sessionPayload(session *models.Session) map[string]any {
	payload := map[string]any{
		"session_id":     session.ID,
		"session_type":   session.SessionType,
		"session_status": session.SessionStatus,
		"therapist_id":   session.TherapistID,
		"client_id":      session.ClientID,
		"duration":       session.DurationSeconds,
	}
	if session.StreamID != nil {
		payload["stream_id"] = *session.StreamID
	}
	if session.RequestID != nil {
		payload["request_id"] = *session.RequestID
	}
	return payload
}
