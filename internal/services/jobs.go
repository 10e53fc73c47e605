package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/saeid-a/TherapyCallBack/internal/models"
)

// requestJobPayload names the request and the tid it had when the job was queued.
// A request reopened under a new tid ignores jobs queued for the old one.
type requestJobPayload struct {
	RequestID int64  `json:"request_id"`
	Tid       string `json:"tid,omitempty"`
}

type settlementJobPayload struct {
	Weekday time.Weekday `json:"weekday"`
}

func decodeRequestJob(payload json.RawMessage) (int64, error) {
	decoded, err := decodeRequestJobPayload(payload)
	if err != nil {
		return 0, err
	}
	return decoded.RequestID, nil
}

func decodeRequestJobPayload(payload json.RawMessage) (requestJobPayload, error) {
	var decoded requestJobPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return requestJobPayload{}, fmt.Errorf("decode job payload: %w", err)
	}
	if decoded.RequestID <= 0 {
		return requestJobPayload{}, fmt.Errorf("job payload has no request_id")
	}
	return decoded, nil
}

// RegisterJobs binds every deferred job name to the service that executes it.
func RegisterJobs(scheduler *Scheduler, requests *RequestService, wallet *WalletService) {
	scheduler.Handle(models.JobExpireRequest, func(ctx context.Context, payload json.RawMessage) error {
		job, err := decodeRequestJobPayload(payload)
		if err != nil {
			return err
		}
		return requests.ExpireRequest(ctx, job.RequestID, job.Tid)
	})

	scheduler.Handle(models.JobScheduleReminder, func(ctx context.Context, payload json.RawMessage) error {
		requestID, err := decodeRequestJob(payload)
		if err != nil {
			return err
		}
		return requests.MarkFiveMinutesRemaining(ctx, requestID)
	})

	scheduler.Handle(models.JobStartScheduled, func(ctx context.Context, payload json.RawMessage) error {
		requestID, err := decodeRequestJob(payload)
		if err != nil {
			return err
		}
		_, err = requests.StartScheduledFromJob(ctx, requestID)
		var statusErr *RequestStatusError
		if errors.As(err, &statusErr) {
			// Withdrawn, expired or already started; nothing left to do.
			return nil
		}
		return err
	})

	scheduler.Handle(models.JobWeeklySettlement, func(ctx context.Context, payload json.RawMessage) error {
		var decoded settlementJobPayload
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return fmt.Errorf("decode job payload: %w", err)
		}
		if _, _, err := wallet.RunSettlement(ctx); err != nil {
			scheduler.logger.Error("settlement finished with failures", "error", err)
		}
		next := NextSettlement(scheduler.now(), decoded.Weekday)
		return scheduler.ScheduleStandalone(ctx, next, models.JobWeeklySettlement, decoded)
	})
}

// EnsureSettlementScheduled enqueues the first weekly settlement when none is queued.
func EnsureSettlementScheduled(ctx context.Context, scheduler *Scheduler, weekday time.Weekday) error {
	pending, err := scheduler.store.HasPending(ctx, models.JobWeeklySettlement)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}
	next := NextSettlement(scheduler.now(), weekday)
	return scheduler.ScheduleStandalone(ctx, next, models.JobWeeklySettlement, settlementJobPayload{Weekday: weekday})
}

// NextSettlement is the next 02:00 UTC on weekday strictly after now.
func NextSettlement(now time.Time, weekday time.Weekday) time.Time {
	now = now.UTC()
	candidate := time.Date(now.Year(), now.Month(), now.Day(), 2, 0, 0, 0, time.UTC)
	days := (int(weekday) - int(now.Weekday()) + 7) % 7
	candidate = candidate.AddDate(0, 0, days)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}
