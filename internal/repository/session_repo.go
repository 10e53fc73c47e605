package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/TherapyCallBack/internal/models"
)

const sessionColumns = `
	id, session_type, session_status, therapist_id, client_id, request_id, tid, stream_id,
	duration_seconds, billed_through, started_at, ended_at, created_at, updated_at
`

type CreateSessionInput struct {
	SessionType string
	TherapistID int64
	ClientID    int64
	RequestID   *int64
	Tid         string
	StreamID    *string
	Attendees   []int64
}

type SessionRepository struct {
	db DBTX
}

func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a PENDING session and its declared attendees.
func (r *SessionRepository) Create(
	ctx context.Context,
	input CreateSessionInput,
) (*models.Session, error) {
	query := `
		INSERT INTO sessions (session_type, session_status, therapist_id, client_id, request_id, tid, stream_id)
		VALUES ($1, 'PENDING', $2, $3, $4, $5, $6)
		RETURNING ` + sessionColumns
	session, err := scanSession(r.db.QueryRow(ctx, query,
		input.SessionType,
		input.TherapistID,
		input.ClientID,
		input.RequestID,
		input.Tid,
		input.StreamID,
	))
	if err != nil {
		return nil, err
	}

	session.Attendees = make([]models.Attendee, 0, len(input.Attendees))
	session.JoinedAttendees = make([]models.JoinedAttendee, 0)
	for _, userID := range input.Attendees {
		_, err := r.db.Exec(ctx, `
			INSERT INTO session_attendees (session_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (session_id, user_id) DO NOTHING
		`, session.ID, userID)
		if err != nil {
			return nil, err
		}
		session.Attendees = append(session.Attendees, models.Attendee{UserID: userID})
	}
	return session, nil
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	session, err := scanSession(r.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		return nil, err
	}
	if err := r.loadAttendees(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (r *SessionRepository) GetByIDForUpdate(
	ctx context.Context,
	sessionID int64,
) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`
	session, err := scanSession(r.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		return nil, err
	}
	if err := r.loadAttendees(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// TherapistBusy reports whether the therapist holds a live session other than excludedSessionID.
func (r *SessionRepository) TherapistBusy(
	ctx context.Context,
	therapistID int64,
	excludedSessionID int64,
) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM sessions
			WHERE therapist_id = $1
			  AND id <> $2
			  AND (
				session_status IN ('ACCEPTED', 'IN_SESSION')
				OR (session_status = 'PENDING' AND session_type = 'REQUEST')
			  )
		)
	`
	var busy bool
	if err := r.db.QueryRow(ctx, query, therapistID, excludedSessionID).Scan(&busy); err != nil {
		return false, err
	}
	return busy, nil
}

func (r *SessionRepository) ClientHasActiveSession(ctx context.Context, clientID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM sessions
			WHERE client_id = $1
			  AND session_status IN ('PENDING', 'ACCEPTED', 'IN_SESSION')
		)
	`
	var active bool
	if err := r.db.QueryRow(ctx, query, clientID).Scan(&active); err != nil {
		return false, err
	}
	return active, nil
}

func (r *SessionRepository) UpdateStatusIfCurrent(
	ctx context.Context,
	sessionID int64,
	currentStatuses []string,
	nextStatus string,
) (*models.Session, error) {
	query := `
		UPDATE sessions
		SET session_status = $3,
			started_at = CASE WHEN $3 = 'IN_SESSION' THEN COALESCE(started_at, NOW()) ELSE started_at END,
			ended_at = CASE WHEN $3 IN ('ENDED', 'REJECTED') THEN NOW() ELSE ended_at END,
			updated_at = NOW()
		WHERE id = $1 AND session_status = ANY($2)
		RETURNING ` + sessionColumns
	return scanSession(r.db.QueryRow(ctx, query, sessionID, currentStatuses, nextStatus))
}

// AddBilledDuration credits seconds to the call and moves the billing watermark to billedThrough.
func (r *SessionRepository) AddBilledDuration(
	ctx context.Context,
	sessionID int64,
	seconds int,
	billedThrough time.Time,
) (int, error) {
	query := `
		UPDATE sessions
		SET duration_seconds = duration_seconds + $2, billed_through = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING duration_seconds
	`
	var total int
	if err := r.db.QueryRow(ctx, query, sessionID, seconds, billedThrough).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// UpsertJoinedAttendee records a join; reconnects update the existing row in place.
func (r *SessionRepository) UpsertJoinedAttendee(
	ctx context.Context,
	sessionID int64,
	userID int64,
	joinedAs string,
	at time.Time,
) error {
	query := `
		INSERT INTO session_joined_attendees (session_id, user_id, joined_as, joined_at, pinged_at, is_joined)
		VALUES ($1, $2, $3, $4, $4, TRUE)
		ON CONFLICT (session_id, user_id)
		DO UPDATE SET joined_as = EXCLUDED.joined_as, pinged_at = EXCLUDED.pinged_at, is_joined = TRUE
	`
	_, err := r.db.Exec(ctx, query, sessionID, userID, joinedAs, at)
	return err
}

// RemoveJoinedAttendee deletes the joined row and returns it, or pgx.ErrNoRows when absent.
func (r *SessionRepository) RemoveJoinedAttendee(
	ctx context.Context,
	sessionID int64,
	userID int64,
) (*models.JoinedAttendee, error) {
	query := `
		DELETE FROM session_joined_attendees
		WHERE session_id = $1 AND user_id = $2
		RETURNING user_id, joined_as, joined_at, pinged_at, is_joined
	`
	var joined models.JoinedAttendee
	err := r.db.QueryRow(ctx, query, sessionID, userID).
		Scan(&joined.UserID, &joined.JoinedAs, &joined.JoinedAt, &joined.PingedAt, &joined.IsJoined)
	if err != nil {
		return nil, err
	}
	return &joined, nil
}

func (r *SessionRepository) SetAttendeeJoined(
	ctx context.Context,
	sessionID int64,
	userID int64,
	joined bool,
) error {
	query := `UPDATE session_attendees SET is_joined = $3 WHERE session_id = $1 AND user_id = $2`
	_, err := r.db.Exec(ctx, query, sessionID, userID, joined)
	return err
}

// TouchPing refreshes the attendee's last heartbeat. pgx.ErrNoRows means the user is not in the call.
func (r *SessionRepository) TouchPing(
	ctx context.Context,
	sessionID int64,
	userID int64,
	at time.Time,
) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE session_joined_attendees
		SET pinged_at = $3
		WHERE session_id = $1 AND user_id = $2
	`, sessionID, userID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *SessionRepository) loadAttendees(ctx context.Context, session *models.Session) error {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, is_joined
		FROM session_attendees
		WHERE session_id = $1
		ORDER BY user_id ASC
	`, session.ID)
	if err != nil {
		return err
	}
	session.Attendees = make([]models.Attendee, 0)
	for rows.Next() {
		var attendee models.Attendee
		if err := rows.Scan(&attendee.UserID, &attendee.IsJoined); err != nil {
			rows.Close()
			return err
		}
		session.Attendees = append(session.Attendees, attendee)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.db.Query(ctx, `
		SELECT user_id, joined_as, joined_at, pinged_at, is_joined
		FROM session_joined_attendees
		WHERE session_id = $1
		ORDER BY joined_at ASC
	`, session.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	session.JoinedAttendees = make([]models.JoinedAttendee, 0)
	for rows.Next() {
		var joined models.JoinedAttendee
		if err := rows.Scan(&joined.UserID, &joined.JoinedAs, &joined.JoinedAt, &joined.PingedAt, &joined.IsJoined); err != nil {
			return err
		}
		session.JoinedAttendees = append(session.JoinedAttendees, joined)
	}
	return rows.Err()
}

func scanSession(row rowScanner) (*models.Session, error) {
	var session models.Session
	err := row.Scan(
		&session.ID,
		&session.SessionType,
		&session.SessionStatus,
		&session.TherapistID,
		&session.ClientID,
		&session.RequestID,
		&session.Tid,
		&session.StreamID,
		&session.DurationSeconds,
		&session.BilledThrough,
		&session.StartedAt,
		&session.EndedAt,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &session, nil
}
