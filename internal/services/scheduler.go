package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/saeid-a/TherapyCallBack/internal/models"
	"github.com/saeid-a/TherapyCallBack/internal/repository"
)

type JobHandler func(ctx context.Context, payload json.RawMessage) error

type jobStore interface {
	ClaimDue(ctx context.Context, now time.Time, staleBefore time.Time, limit int) ([]models.ScheduledJob, error)
	MarkDone(ctx context.Context, id int64) error
	Reschedule(ctx context.Context, id int64, retryAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id int64, lastError string) error
	HasPending(ctx context.Context, name string) (bool, error)
}

// Scheduler runs deferred work stored in scheduled_jobs. Jobs are enqueued inside the
// caller's unit so they only exist if that unit commits.
type Scheduler struct {
	db           repository.DBTX
	store        jobStore
	publisher    EventPublisher
	logger       *slog.Logger
	pollInterval time.Duration
	lease        time.Duration
	batchSize    int
	maxAttempts  int
	now          func() time.Time

	mu       sync.RWMutex
	handlers map[string]JobHandler
}

func NewScheduler(db repository.DBTX, publisher EventPublisher, logger *slog.Logger) *Scheduler {
	return newScheduler(db, repository.NewJobRepository(db), publisher, logger)
}

func newScheduler(db repository.DBTX, store jobStore, publisher EventPublisher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		db:           db,
		store:        store,
		publisher:    publisherOrNoop(publisher),
		logger:       logger,
		pollInterval: 5 * time.Second,
		lease:        10 * time.Minute,
		batchSize:    20,
		maxAttempts:  5,
		now:          time.Now,
		handlers:     make(map[string]JobHandler),
	}
}

func (s *Scheduler) Handle(name string, handler JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = handler
}

// Schedule enqueues a job through db, which is normally the caller's pgx.Tx.
func (s *Scheduler) Schedule(
	ctx context.Context,
	db repository.DBTX,
	runAt time.Time,
	name string,
	payload any,
) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}
	_, err = repository.NewJobRepository(db).Create(ctx, name, encoded, runAt.UTC())
	return err
}

// ScheduleStandalone enqueues a job outside any caller unit.
func (s *Scheduler) ScheduleStandalone(ctx context.Context, runAt time.Time, name string, payload any) error {
	return s.Schedule(ctx, s.db, runAt, name, payload)
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.RunDue(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunDue claims and executes one batch of due jobs and reports how many ran. Jobs left
// running longer than the lease by a worker that died are picked up again.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	now := s.now().UTC()
	jobs, err := s.store.ClaimDue(ctx, now, now.Add(-s.lease), s.batchSize)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		s.execute(ctx, job)
	}
	return len(jobs), nil
}

func (s *Scheduler) execute(ctx context.Context, job models.ScheduledJob) {
	s.mu.RLock()
	handler, ok := s.handlers[job.Name]
	s.mu.RUnlock()

	if !ok {
		s.fail(ctx, job, fmt.Sprintf("no handler for job %q", job.Name))
		return
	}

	if err := s.invoke(ctx, handler, job); err != nil {
		if job.Attempts >= s.maxAttempts {
			s.fail(ctx, job, err.Error())
			return
		}
		retryAt := s.now().UTC().Add(backoff(job.Attempts))
		if rescheduleErr := s.store.Reschedule(ctx, job.ID, retryAt, err.Error()); rescheduleErr != nil {
			s.logger.Error("job reschedule failed", "job_id", job.ID, "error", rescheduleErr)
		}
		s.logger.Warn("job failed, retrying", "job_id", job.ID, "name", job.Name, "attempt", job.Attempts, "error", err)
		return
	}

	if err := s.store.MarkDone(ctx, job.ID); err != nil {
		s.logger.Error("job completion not recorded", "job_id", job.ID, "error", err)
	}
}

func (s *Scheduler) invoke(ctx context.Context, handler JobHandler, job models.ScheduledJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return handler(ctx, job.Payload)
}

func (s *Scheduler) fail(ctx context.Context, job models.ScheduledJob, reason string) {
	if err := s.store.MarkFailed(ctx, job.ID, reason); err != nil {
		s.logger.Error("job failure not recorded", "job_id", job.ID, "error", err)
	}
	s.logger.Error("job failed permanently", "job_id", job.ID, "name", job.Name, "error", reason)
	s.publisher.Publish(models.Event{
		Type: models.EventJobFailed,
		Ops:  true,
		Payload: map[string]any{
			"job_id": job.ID,
			"name":   job.Name,
			"error":  reason,
		},
	})
}

func backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 30 * time.Second
}
