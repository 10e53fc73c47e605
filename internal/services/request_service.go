package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saeid-a/TherapyCallBack/internal/models"
	"github.com/saeid-a/TherapyCallBack/internal/repository"
)

const (
	defaultPoolLimit    = 50
	scheduleReminderSMS = "Your therapy session starts in 5 minutes."
)

type RequestConfig struct {
	PoolTTL        time.Duration
	BroadcastLimit int
	ReminderLead   time.Duration
}

type CreateRequestInput struct {
	TherapistID *int64
	Categories  []string
	Note        *string
	StartTime   *time.Time
	EndTime     *time.Time
}

func (in CreateRequestInput) scheduled() bool {
	return in.StartTime != nil && in.EndTime != nil
}

type RequestService struct {
	db          *pgxpool.Pool
	requestRepo *repository.SessionRequestRepository
	profileRepo *repository.ProfileRepository
	wallet      *WalletService
	matcher     *MatchmakingService
	scheduler   *Scheduler
	publisher   EventPublisher
	logger      *slog.Logger
	cfg         RequestConfig
	now         func() time.Time
}

func NewRequestService(
	db *pgxpool.Pool,
	requestRepo *repository.SessionRequestRepository,
	profileRepo *repository.ProfileRepository,
	wallet *WalletService,
	matcher *MatchmakingService,
	scheduler *Scheduler,
	publisher EventPublisher,
	logger *slog.Logger,
	cfg RequestConfig,
) *RequestService {
	if cfg.PoolTTL <= 0 {
		cfg.PoolTTL = 15 * time.Minute
	}
	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = 5 * time.Minute
	}
	return &RequestService{
		db:          db,
		requestRepo: requestRepo,
		profileRepo: profileRepo,
		wallet:      wallet,
		matcher:     matcher,
		scheduler:   scheduler,
		publisher:   publisherOrNoop(publisher),
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// CreateRequest puts a request into the pool, or books a window with one therapist
// when the input carries a start and end time.
func (s *RequestService) CreateRequest(
	ctx context.Context,
	clientID int64,
	input CreateRequestInput,
) (*models.SessionRequest, error) {
	input.Categories = CleanCategories(input.Categories)
	now := s.now().UTC()
	if err := validateCreateRequest(clientID, input, now); err != nil {
		return nil, err
	}

	var therapistID int64
	if input.TherapistID != nil {
		therapistID = *input.TherapistID
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := lockParties(ctx, tx, clientID, therapistID); err != nil {
		return nil, translateDBError(err, nil)
	}
	if err := s.wallet.checkForRequest(ctx, repository.NewWalletRepository(tx), clientID); err != nil {
		return nil, err
	}

	requestRepo := repository.NewSessionRequestRepository(tx)
	inPool, err := requestRepo.HasInPoolForClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if inPool {
		return nil, ErrConflict
	}
	active, err := repository.NewSessionRepository(tx).ClientHasActiveSession(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrConflict
	}

	if therapistID > 0 {
		therapist, err := repository.NewProfileRepository(tx).GetTherapistProfile(ctx, therapistID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrTherapistNotFound
			}
			return nil, err
		}
		if !therapist.IsActive {
			return nil, ErrTherapistNotFound
		}
	}

	status := models.RequestStatusInPool
	if input.scheduled() {
		for _, party := range []struct {
			id          int64
			asTherapist bool
		}{{clientID, false}, {therapistID, true}} {
			conflict, err := requestRepo.HasScheduleConflict(ctx, party.id, party.asTherapist, *input.StartTime, *input.EndTime, 0)
			if err != nil {
				return nil, err
			}
			if conflict {
				return nil, ErrScheduleConflict
			}
		}
		status = models.RequestStatusOpenSchedule
	}

	request, err := requestRepo.Create(ctx, repository.CreateSessionRequestInput{
		ClientID:    clientID,
		TherapistID: input.TherapistID,
		Categories:  input.Categories,
		Note:        input.Note,
		Status:      status,
		Tid:         uuid.NewString(),
		StartTime:   input.StartTime,
		EndTime:     input.EndTime,
	})
	if err != nil {
		return nil, translateDBError(err, ErrConflict)
	}

	if err := s.scheduleLifecycle(ctx, tx, request, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, ErrConflict)
	}

	s.announce(ctx, request)
	return request, nil
}

func validateCreateRequest(clientID int64, input CreateRequestInput, now time.Time) error {
	if clientID <= 0 {
		return ErrInvalidInput
	}
	if (input.StartTime == nil) != (input.EndTime == nil) {
		return ErrInvalidInput
	}
	if input.TherapistID != nil && (*input.TherapistID <= 0 || *input.TherapistID == clientID) {
		return ErrInvalidInput
	}
	if input.Note != nil && len(*input.Note) > 1000 {
		return ErrInvalidInput
	}
	if input.scheduled() {
		if input.TherapistID == nil {
			return ErrInvalidInput
		}
		if !input.EndTime.After(*input.StartTime) || !input.StartTime.After(now) {
			return ErrInvalidInput
		}
	}
	return nil
}

// CleanCategories normalizes category keys and drops blanks and duplicates.
func CleanCategories(categories []string) []string {
	cleaned := make([]string, 0, len(categories))
	seen := make(map[string]struct{}, len(categories))
	for _, category := range categories {
		key := normalize(category)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, key)
	}
	return cleaned
}

// scheduleLifecycle enqueues the deferred steps of a new request inside its unit.
func (s *RequestService) scheduleLifecycle(ctx context.Context, tx pgx.Tx, request *models.SessionRequest, now time.Time) error {
	payload := requestJobPayload{RequestID: request.ID, Tid: request.Tid}
	if !request.IsScheduled() {
		return s.scheduler.Schedule(ctx, tx, now.Add(s.cfg.PoolTTL), models.JobExpireRequest, payload)
	}

	start := request.StartTime.UTC()
	if reminderAt := start.Add(-s.cfg.ReminderLead); reminderAt.After(now) {
		if err := s.scheduler.Schedule(ctx, tx, reminderAt, models.JobScheduleReminder, payload); err != nil {
			return err
		}
	}
	if err := s.scheduler.Schedule(ctx, tx, start, models.JobStartScheduled, payload); err != nil {
		return err
	}
	// An unconfirmed booking lapses once its window opens.
	return s.scheduler.Schedule(ctx, tx, start, models.JobExpireRequest, payload)
}

// AcceptTherapistRequest is the acceptance race. Exactly one therapist wins a pooled
// request; later callers get a *RequestStatusError.
func (s *RequestService) AcceptTherapistRequest(
	ctx context.Context,
	therapistID int64,
	requestID int64,
	streamID string,
) (*models.Session, error) {
	streamID = strings.TrimSpace(streamID)
	if streamID == "" {
		streamID = uuid.NewString()
	}

	snapshot, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
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

	request, err := repository.NewSessionRequestRepository(tx).GetByIDForUpdate(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.RequestStatus != models.RequestStatusInPool {
		return nil, &RequestStatusError{Status: request.RequestStatus}
	}
	if request.ClientID == therapistID {
		return nil, ErrForbidden
	}
	if request.TherapistID != nil && *request.TherapistID != therapistID {
		return nil, ErrForbidden
	}
	if request.HasRejected(therapistID) {
		return nil, ErrForbidden
	}
	if err := s.ensureTherapistFree(ctx, tx, therapistID); err != nil {
		return nil, err
	}

	session, accepted, err := s.openSession(ctx, tx, request, therapistID, streamID, []string{models.RequestStatusInPool})
	if err != nil {
		return nil, translateDBError(err, ErrConflict)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, ErrConflict)
	}

	s.publishAccepted(accepted, session)
	s.notifyPoolChange(ctx, accepted, therapistID)
	return session, nil
}

func (s *RequestService) ensureTherapistFree(ctx context.Context, tx pgx.Tx, therapistID int64) error {
	therapist, err := repository.NewProfileRepository(tx).GetTherapistProfile(ctx, therapistID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTherapistNotFound
		}
		return err
	}
	if !therapist.IsActive {
		return ErrForbidden
	}
	busy, err := repository.NewSessionRepository(tx).TherapistBusy(ctx, therapistID, 0)
	if err != nil {
		return err
	}
	if busy {
		return ErrTherapistBusy
	}
	return nil
}

// openSession creates the REQUEST session for an accepted request, takes the client hold
// under the request tid and flips the request to ACCEPTED. The request row must already
// be locked by the caller.
func (s *RequestService) openSession(
	ctx context.Context,
	tx pgx.Tx,
	request *models.SessionRequest,
	therapistID int64,
	streamID string,
	fromStatuses []string,
) (*models.Session, *models.SessionRequest, error) {
	requestID := request.ID
	session, err := repository.NewSessionRepository(tx).Create(ctx, repository.CreateSessionInput{
		SessionType: models.SessionTypeRequest,
		TherapistID: therapistID,
		ClientID:    request.ClientID,
		RequestID:   &requestID,
		Tid:         request.Tid,
		StreamID:    &streamID,
		Attendees:   []int64{request.ClientID},
	})
	if err != nil {
		return nil, nil, err
	}

	sessionID := session.ID
	unit := s.wallet.BillingConfig().HoldUnitAmount()
	if _, err := s.wallet.holdInTx(ctx, tx, request.ClientID, unit, request.Tid, &sessionID); err != nil {
		return nil, nil, err
	}

	requestRepo := repository.NewSessionRequestRepository(tx)
	if err := requestRepo.AddAcceptance(ctx, request.ID, therapistID, streamID); err != nil {
		return nil, nil, err
	}
	if err := requestRepo.AttachSession(ctx, request.ID, session.ID); err != nil {
		return nil, nil, err
	}
	accepted, err := requestRepo.UpdateStatusIfCurrent(ctx, request.ID, fromStatuses, models.RequestStatusAccepted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, &RequestStatusError{Status: request.RequestStatus}
		}
		return nil, nil, err
	}
	accepted.AcceptedBy = append(request.AcceptedBy, models.RequestAcceptance{
		AcceptorID: therapistID,
		StreamID:   streamID,
		AcceptedAt: s.now().UTC(),
	})
	return session, accepted, nil
}

// returnToPoolInTx reopens an accepted request after its therapist declined. The request
// gets a fresh tid and a new pool deadline; the decliner is never matched with it again.
func (s *RequestService) returnToPoolInTx(
	ctx context.Context,
	tx pgx.Tx,
	requestID int64,
	therapistID int64,
) (*models.SessionRequest, error) {
	requestRepo := repository.NewSessionRequestRepository(tx)
	request, err := requestRepo.GetByIDForUpdate(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.RequestStatus != models.RequestStatusAccepted {
		return nil, &RequestStatusError{Status: request.RequestStatus}
	}
	reopened, err := requestRepo.ReturnToPool(ctx, request.ID, uuid.NewString(), therapistID)
	if err != nil {
		return nil, err
	}
	reopened.AcceptedBy = request.AcceptedBy

	runAt := s.now().UTC().Add(s.cfg.PoolTTL)
	payload := requestJobPayload{RequestID: reopened.ID, Tid: reopened.Tid}
	if err := s.scheduler.Schedule(ctx, tx, runAt, models.JobExpireRequest, payload); err != nil {
		return nil, err
	}
	return reopened, nil
}

// WithdrawRequest takes the client's own pooled request out of the pool.
func (s *RequestService) WithdrawRequest(
	ctx context.Context,
	clientID int64,
	requestID int64,
) (*models.SessionRequest, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := lockParties(ctx, tx, clientID); err != nil {
		return nil, translateDBError(err, nil)
	}

	requestRepo := repository.NewSessionRequestRepository(tx)
	request, err := requestRepo.GetByIDForUpdate(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.ClientID != clientID {
		return nil, ErrForbidden
	}
	if request.RequestStatus != models.RequestStatusInPool {
		return nil, &RequestStatusError{Status: request.RequestStatus}
	}

	withdrawn, err := s.withdrawInTx(ctx, tx, request)
	if err != nil {
		return nil, translateDBError(err, nil)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, nil)
	}

	s.publishStatus(withdrawn, withdrawn.ClientID)
	s.notifyPoolChange(ctx, withdrawn, 0)
	return withdrawn, nil
}

// WithdrawAllSessionRequests withdraws every pooled request of the client and
// reports how many were withdrawn.
func (s *RequestService) WithdrawAllSessionRequests(ctx context.Context, clientID int64) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := lockParties(ctx, tx, clientID); err != nil {
		return 0, translateDBError(err, nil)
	}

	requestRepo := repository.NewSessionRequestRepository(tx)
	ids, err := requestRepo.ListInPoolIDsForClient(ctx, clientID)
	if err != nil {
		return 0, err
	}

	withdrawn := make([]*models.SessionRequest, 0, len(ids))
	for _, id := range ids {
		request, err := requestRepo.GetByID(ctx, id)
		if err != nil {
			return 0, err
		}
		updated, err := s.withdrawInTx(ctx, tx, request)
		if err != nil {
			return 0, translateDBError(err, nil)
		}
		withdrawn = append(withdrawn, updated)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, translateDBError(err, nil)
	}
	for _, request := range withdrawn {
		s.publishStatus(request, request.ClientID)
		s.notifyPoolChange(ctx, request, 0)
	}
	return len(withdrawn), nil
}

func (s *RequestService) withdrawInTx(
	ctx context.Context,
	tx pgx.Tx,
	request *models.SessionRequest,
) (*models.SessionRequest, error) {
	// Pooled requests normally hold nothing; release whatever is there.
	if _, err := s.wallet.releaseInTx(ctx, tx, request.Tid); err != nil {
		return nil, err
	}
	updated, err := repository.NewSessionRequestRepository(tx).UpdateStatusIfCurrent(
		ctx,
		request.ID,
		[]string{models.RequestStatusInPool},
		models.RequestStatusWithdrawn,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &RequestStatusError{Status: request.RequestStatus}
		}
		return nil, err
	}
	return updated, nil
}

// AcceptScheduledRequest confirms a booking on behalf of the targeted therapist.
func (s *RequestService) AcceptScheduledRequest(
	ctx context.Context,
	therapistID int64,
	requestID int64,
) (*models.SessionRequest, error) {
	snapshot, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if snapshot.TherapistID == nil || *snapshot.TherapistID != therapistID {
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

	requestRepo := repository.NewSessionRequestRepository(tx)
	request, err := requestRepo.GetByIDForUpdate(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.RequestStatus != models.RequestStatusOpenSchedule {
		return nil, &RequestStatusError{Status: request.RequestStatus}
	}
	if !request.IsScheduled() || !request.StartTime.After(s.now()) {
		return nil, ErrInvalidStateTransition
	}

	conflict, err := requestRepo.HasScheduleConflict(ctx, therapistID, true, *request.StartTime, *request.EndTime, request.ID)
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, ErrScheduleConflict
	}

	scheduled, err := requestRepo.UpdateStatusIfCurrent(
		ctx,
		request.ID,
		[]string{models.RequestStatusOpenSchedule},
		models.RequestStatusScheduled,
	)
	if err != nil {
		return nil, translateDBError(err, nil)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, nil)
	}

	s.publisher.Publish(models.Event{
		Type:         models.EventRequestStatusUpdated,
		UserIDs:      []int64{scheduled.ClientID},
		Payload:      requestPayload(scheduled),
		MailTemplate: "request_accepted",
	})
	return scheduled, nil
}

// MarkFiveMinutesRemaining runs shortly before a confirmed booking and reminds both parties.
func (s *RequestService) MarkFiveMinutesRemaining(ctx context.Context, requestID int64) error {
	request, err := s.requestRepo.UpdateStatusIfCurrent(
		ctx,
		requestID,
		[]string{models.RequestStatusScheduled},
		models.RequestStatusScheduled5MinRemain,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}

	recipients := []int64{request.ClientID}
	if request.TherapistID != nil {
		recipients = append(recipients, *request.TherapistID)
	}
	s.publisher.Publish(models.Event{
		Type:         models.EventScheduleReminder,
		UserIDs:      recipients,
		Payload:      requestPayload(request),
		MailTemplate: "schedule_reminder",
		SMSBody:      scheduleReminderSMS,
	})
	return nil
}

// StartScheduledRequest lets the booked therapist open the session of a confirmed booking.
func (s *RequestService) StartScheduledRequest(
	ctx context.Context,
	therapistID int64,
	requestID int64,
	streamID string,
) (*models.Session, error) {
	return s.startScheduled(ctx, requestID, &therapistID, streamID)
}

// StartScheduledFromJob opens the session when the booked window starts. A client who
// can no longer fund one billing unit loses the booking.
func (s *RequestService) StartScheduledFromJob(ctx context.Context, requestID int64) (*models.Session, error) {
	session, err := s.startScheduled(ctx, requestID, nil, "")
	if errors.Is(err, ErrInsufficientFunds) {
		expired, expireErr := s.requestRepo.UpdateStatusIfCurrent(
			ctx,
			requestID,
			[]string{models.RequestStatusScheduled, models.RequestStatusScheduled5MinRemain},
			models.RequestStatusExpired,
		)
		if expireErr != nil {
			if errors.Is(expireErr, pgx.ErrNoRows) {
				return nil, nil
			}
			return nil, expireErr
		}
		s.publishStatus(expired, expired.ClientID, derefID(expired.TherapistID))
		return nil, nil
	}
	return session, err
}

func (s *RequestService) startScheduled(
	ctx context.Context,
	requestID int64,
	actorID *int64,
	streamID string,
) (*models.Session, error) {
	snapshot, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if snapshot.TherapistID == nil {
		return nil, ErrInvalidStateTransition
	}
	therapistID := *snapshot.TherapistID
	if actorID != nil && *actorID != therapistID {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(streamID) == "" {
		streamID = uuid.NewString()
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

	request, err := repository.NewSessionRequestRepository(tx).GetByIDForUpdate(ctx, requestID)
	if err != nil {
		return nil, err
	}
	startable := []string{models.RequestStatusScheduled, models.RequestStatusScheduled5MinRemain}
	if !containsStatus(startable, request.RequestStatus) {
		return nil, &RequestStatusError{Status: request.RequestStatus}
	}
	if err := s.ensureTherapistFree(ctx, tx, therapistID); err != nil {
		return nil, err
	}

	session, accepted, err := s.openSession(ctx, tx, request, therapistID, streamID, startable)
	if err != nil {
		return nil, translateDBError(err, ErrConflict)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, ErrConflict)
	}

	s.publishAccepted(accepted, session)
	return session, nil
}

// ExpireRequest retires a request that nobody took in time. Requests that moved on, or
// were reopened under a tid other than the one the job was queued with, are left alone.
func (s *RequestService) ExpireRequest(ctx context.Context, requestID int64, tid string) error {
	request, err := s.requestRepo.UpdateStatusIfTid(
		ctx,
		requestID,
		tid,
		[]string{models.RequestStatusInPool, models.RequestStatusOpenSchedule},
		models.RequestStatusExpired,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}

	s.publishStatus(request, request.ClientID, derefID(request.TherapistID))
	if request.TherapistID == nil {
		s.notifyPoolChange(ctx, request, 0)
	}
	return nil
}

// ListPool is the therapist's view of requests they may still take.
func (s *RequestService) ListPool(ctx context.Context, therapistID int64, limit int) ([]models.SessionRequest, error) {
	if limit <= 0 || limit > defaultPoolLimit {
		limit = defaultPoolLimit
	}
	therapist, err := s.profileRepo.GetTherapistProfile(ctx, therapistID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTherapistNotFound
		}
		return nil, err
	}
	return s.requestRepo.ListPool(ctx, therapistID, therapist.Categories, limit)
}

func (s *RequestService) GetRequest(
	ctx context.Context,
	userID int64,
	role string,
	requestID int64,
) (*models.SessionRequest, error) {
	request, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if canViewRequest(request, userID, role) {
		return request, nil
	}
	return nil, ErrForbidden
}

func canViewRequest(request *models.SessionRequest, userID int64, role string) bool {
	switch {
	case role == models.RoleAdmin:
		return true
	case request.ClientID == userID:
		return true
	case request.TherapistID != nil && *request.TherapistID == userID:
		return true
	case role == models.RoleTherapist && request.RequestStatus == models.RequestStatusInPool:
		return !request.HasRejected(userID)
	}
	for _, acceptance := range request.AcceptedBy {
		if acceptance.AcceptorID == userID {
			return true
		}
	}
	return false
}

// Broadcast offers a pooled request to the best matching available therapists and
// returns who was notified.
func (s *RequestService) Broadcast(ctx context.Context, request *models.SessionRequest) []int64 {
	matched, err := s.matcher.MatchTherapists(ctx, request, s.cfg.BroadcastLimit)
	if err != nil {
		s.logger.Error("request broadcast failed", "request_id", request.ID, "error", err)
		return nil
	}
	if len(matched) == 0 {
		s.logger.Info("no therapist available for request", "request_id", request.ID)
		return nil
	}

	recipients := make([]int64, 0, len(matched))
	for _, therapist := range matched {
		recipients = append(recipients, therapist.UserID)
	}
	s.publisher.Publish(models.Event{
		Type:    models.EventRequestCreated,
		UserIDs: recipients,
		Payload: requestPayload(request),
	})
	return recipients
}

func (s *RequestService) announce(ctx context.Context, request *models.SessionRequest) {
	if request.TherapistID != nil {
		s.publisher.Publish(models.Event{
			Type:    models.EventRequestCreated,
			UserIDs: []int64{*request.TherapistID},
			Payload: requestPayload(request),
		})
		return
	}
	s.Broadcast(ctx, request)
}

// notifyPoolChange tells matched therapists to drop a request from their pool view.
func (s *RequestService) notifyPoolChange(ctx context.Context, request *models.SessionRequest, except int64) {
	if request.TherapistID != nil {
		if *request.TherapistID != except {
			s.publishStatus(request, *request.TherapistID)
		}
		return
	}
	matched, err := s.matcher.MatchTherapists(ctx, request, s.cfg.BroadcastLimit)
	if err != nil {
		s.logger.Warn("pool refresh not sent", "request_id", request.ID, "error", err)
		return
	}
	recipients := make([]int64, 0, len(matched))
	for _, therapist := range matched {
		if therapist.UserID != except {
			recipients = append(recipients, therapist.UserID)
		}
	}
	if len(recipients) > 0 {
		s.publishStatus(request, recipients...)
	}
}

func (s *RequestService) publishAccepted(request *models.SessionRequest, session *models.Session) {
	payload := requestPayload(request)
	payload["therapist_id"] = session.TherapistID
	if session.StreamID != nil {
		payload["stream_id"] = *session.StreamID
	}
	s.publisher.Publish(models.Event{
		Type:         models.EventRequestStatusUpdated,
		UserIDs:      []int64{request.ClientID},
		Payload:      payload,
		MailTemplate: "request_accepted",
	})
}

func (s *RequestService) publishStatus(request *models.SessionRequest, userIDs ...int64) {
	recipients := make([]int64, 0, len(userIDs))
	for _, id := range userIDs {
		if id > 0 {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return
	}
	s.publisher.Publish(models.Event{
		Type:    models.EventRequestStatusUpdated,
		UserIDs: recipients,
		Payload: requestPayload(request),
	})
}

func requestPayload(request *models.SessionRequest) map[string]any {
	payload := map[string]any{
		"request_id":     request.ID,
		"request_status": request.RequestStatus,
		"client_id":      request.ClientID,
		"categories":     request.Categories,
	}
	if request.SessionID != nil {
		payload["session_id"] = *request.SessionID
	}
	if request.StartTime != nil {
		payload["start_time"] = request.StartTime.UTC().Format(time.RFC3339)
	}
	if request.EndTime != nil {
		payload["end_time"] = request.EndTime.UTC().Format(time.RFC3339)
	}
	return payload
}

func containsStatus(statuses []string, status string) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
