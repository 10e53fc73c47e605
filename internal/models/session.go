package models

import "time"

const (
	SessionTypeRequest     = "REQUEST"
	SessionTypePrivate     = "PRIVATE"
	SessionTypeChatSession = "CHAT_SESSION"

	SessionStatusPending   = "PENDING"
	SessionStatusAccepted  = "ACCEPTED"
	SessionStatusInSession = "IN_SESSION"
	SessionStatusEnded     = "ENDED"
	SessionStatusRejected  = "REJECTED"

	JoinedAsUser      = "USER"
	JoinedAsTherapist = "THERAPIST"
)

type Session struct {
	ID              int64            `json:"id"`
	SessionType     string           `json:"session_type"`
	SessionStatus   string           `json:"session_status"`
	TherapistID     int64            `json:"therapist_id"`
	ClientID        int64            `json:"client_id"`
	RequestID       *int64           `json:"request_id,omitempty"`
	Tid             string           `json:"tid"`
	StreamID        *string          `json:"stream_id,omitempty"`
	DurationSeconds int              `json:"duration"`
	BilledThrough   *time.Time       `json:"billed_through,omitempty"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	EndedAt         *time.Time       `json:"ended_at,omitempty"`
	Attendees       []Attendee       `json:"attendees"`
	JoinedAttendees []JoinedAttendee `json:"joined_attendees"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type Attendee struct {
	UserID   int64 `json:"user_id"`
	IsJoined bool  `json:"is_joined"`
}

type JoinedAttendee struct {
	UserID   int64     `json:"user_id"`
	JoinedAs string    `json:"joined_as"`
	JoinedAt time.Time `json:"joined_at"`
	PingedAt time.Time `json:"pinged_at"`
	IsJoined bool      `json:"is_joined"`
}

func (s *Session) IsActive() bool {
	return s.SessionStatus == SessionStatusPending ||
		s.SessionStatus == SessionStatusAccepted ||
		s.SessionStatus == SessionStatusInSession
}

func (s *Session) IsDeclaredAttendee(userID int64) bool {
	for _, attendee := range s.Attendees {
		if attendee.UserID == userID {
			return true
		}
	}
	return false
}

func (s *Session) TherapistJoined() bool {
	for _, joined := range s.JoinedAttendees {
		if joined.JoinedAs == JoinedAsTherapist && joined.IsJoined {
			return true
		}
	}
	return false
}

// Participants returns the therapist and every declared attendee, deduplicated.
func (s *Session) Participants() []int64 {
	seen := map[int64]struct{}{s.TherapistID: {}}
	ids := []int64{s.TherapistID}
	for _, attendee := range s.Attendees {
		if _, ok := seen[attendee.UserID]; ok {
			continue
		}
		seen[attendee.UserID] = struct{}{}
		ids = append(ids, attendee.UserID)
	}
	return ids
}

func (s *Session) DurationMinutes() float64 {
	return float64(s.DurationSeconds) / 60
}
