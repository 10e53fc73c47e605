package models

import (
	"encoding/json"
	"time"
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"

	JobExpireRequest    = "expire_request"
	JobScheduleReminder = "schedule_reminder"
	JobStartScheduled   = "start_scheduled_request"
	JobWeeklySettlement = "weekly_settlement"
)

type ScheduledJob struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	RunAt     time.Time       `json:"run_at"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError *string         `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
