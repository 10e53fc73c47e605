package models

import "time"

const (
	EventRequestCreated       = "REQUEST_CREATED"
	EventRequestStatusUpdated = "REQUEST_STATUS_UPDATED"
	EventScheduleReminder     = "SCHEDULE_REMINDER"
	EventSessionCreated       = "SESSION_CREATED"
	EventSessionJoined        = "SESSION_JOINED"
	EventSessionLeft          = "SESSION_LEFT"
	EventSessionRejected      = "SESSION_REJECTED"
	EventSessionAccepted      = "SESSION_ACCEPTED"
	EventSessionFeeUpdate     = "SESSION_FEE_UPDATE"
	EventSessionRiseHand      = "SESSION_RISE_HAND"
	EventInsufficientBalance  = "INSUFFICIENT_BALANCE"
	EventPingReceived         = "PING_RECEIVED"
	EventWalletUpdated        = "WALLET_UPDATED"
	EventSettlementCompleted  = "SETTLEMENT_COMPLETED"
	EventJobFailed            = "JOB_FAILED"
)

// Event is one outbound notification. Push always goes to UserIDs;
// Mail and SMS are only sent when the template / body is set.
type Event struct {
	Type         string         `json:"type"`
	UserIDs      []int64        `json:"-"`
	Payload      map[string]any `json:"payload"`
	MailTemplate string         `json:"-"`
	SMSBody      string         `json:"-"`
	Ops          bool           `json:"-"`
	OccurredAt   time.Time      `json:"occurred_at"`
}
