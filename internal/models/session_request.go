package models

import "time"

const (
	RequestStatusInPool              = "IN_POOL"
	RequestStatusOpenSchedule        = "OPEN_SCHEDULE"
	RequestStatusScheduled           = "SCHEDULED"
	RequestStatusScheduled5MinRemain = "SCHEDULED_5_MIN_REMAINING"
	RequestStatusAccepted            = "ACCEPTED"
	RequestStatusInSession           = "IN_SESSION"
	RequestStatusEnded               = "ENDED"
	RequestStatusWithdrawn           = "WITHDRAWN"
	RequestStatusExpired             = "EXPIRED"
	RequestStatusRejected            = "REJECTED"
)

// ScheduledRequestStatuses are the statuses whose time window blocks other bookings.
var ScheduledRequestStatuses = []string{
	RequestStatusOpenSchedule,
	RequestStatusScheduled,
	RequestStatusScheduled5MinRemain,
}

type SessionRequest struct {
	ID            int64               `json:"id"`
	ClientID      int64               `json:"client_id"`
	TherapistID   *int64              `json:"therapist_id,omitempty"`
	Categories    []string            `json:"categories"`
	Note          *string             `json:"note,omitempty"`
	RequestStatus string              `json:"request_status"`
	Tid           string              `json:"tid"`
	StartTime     *time.Time          `json:"start_time,omitempty"`
	EndTime       *time.Time          `json:"end_time,omitempty"`
	SessionID     *int64              `json:"session_id,omitempty"`
	RejectedBy    []int64             `json:"rejected_by"`
	AcceptedBy    []RequestAcceptance `json:"accepted_by"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

type RequestAcceptance struct {
	AcceptorID int64     `json:"acceptor_id"`
	StreamID   string    `json:"stream_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}

func (r *SessionRequest) IsScheduled() bool {
	return r.StartTime != nil && r.EndTime != nil
}

func (r *SessionRequest) HasRejected(therapistID int64) bool {
	for _, id := range r.RejectedBy {
		if id == therapistID {
			return true
		}
	}
	return false
}

// WindowsOverlap reports whether [aStart,aEnd) and [bStart,bEnd) intersect.
// Touching windows (one ends exactly when the other starts) do not overlap.
func WindowsOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
