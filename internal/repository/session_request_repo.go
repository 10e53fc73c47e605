package repository

import (
	"context"
	"time"

	"github.com/saeid-a/TherapyCallBack/internal/models"
)

const sessionRequestColumns = `
	id, client_id, therapist_id, categories, note, request_status, tid,
	start_time, end_time, session_id, rejected_by, created_at, updated_at
`

type CreateSessionRequestInput struct {
	ClientID    int64
	TherapistID *int64
	Categories  []string
	Note        *string
	Status      string
	Tid         string
	StartTime   *time.Time
	EndTime     *time.Time
}

type SessionRequestRepository struct {
	db DBTX
}

func NewSessionRequestRepository(db DBTX) *SessionRequestRepository {
	return &SessionRequestRepository{db: db}
}

func (r *SessionRequestRepository) Create(
	ctx context.Context,
	input CreateSessionRequestInput,
) (*models.SessionRequest, error) {
	categories := input.Categories
	if categories == nil {
		categories = []string{}
	}
	query := `
		INSERT INTO session_requests (client_id, therapist_id, categories, note, request_status, tid, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + sessionRequestColumns
	return scanSessionRequest(r.db.QueryRow(ctx, query,
		input.ClientID,
		input.TherapistID,
		categories,
		input.Note,
		input.Status,
		input.Tid,
		input.StartTime,
		input.EndTime,
	))
}

func (r *SessionRequestRepository) GetByID(ctx context.Context, requestID int64) (*models.SessionRequest, error) {
	query := `SELECT ` + sessionRequestColumns + ` FROM session_requests WHERE id = $1`
	request, err := scanSessionRequest(r.db.QueryRow(ctx, query, requestID))
	if err != nil {
		return nil, err
	}
	if err := r.loadAcceptances(ctx, request); err != nil {
		return nil, err
	}
	return request, nil
}

func (r *SessionRequestRepository) GetByIDForUpdate(ctx context.Context, requestID int64) (*models.SessionRequest, error) {
	query := `SELECT ` + sessionRequestColumns + ` FROM session_requests WHERE id = $1 FOR UPDATE`
	request, err := scanSessionRequest(r.db.QueryRow(ctx, query, requestID))
	if err != nil {
		return nil, err
	}
	if err := r.loadAcceptances(ctx, request); err != nil {
		return nil, err
	}
	return request, nil
}

func (r *SessionRequestRepository) HasInPoolForClient(ctx context.Context, clientID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM session_requests WHERE client_id = $1 AND request_status = 'IN_POOL')`
	var exists bool
	if err := r.db.QueryRow(ctx, query, clientID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// HasScheduleConflict checks [start,end) against the party's booked windows.
// asTherapist selects which column identifies the party.
func (r *SessionRequestRepository) HasScheduleConflict(
	ctx context.Context,
	partyID int64,
	asTherapist bool,
	start time.Time,
	end time.Time,
	excludedRequestID int64,
) (bool, error) {
	column := "client_id"
	if asTherapist {
		column = "therapist_id"
	}
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM session_requests
			WHERE ` + column + ` = $1
			  AND id <> $4
			  AND request_status = ANY($5)
			  AND start_time < $3
			  AND end_time > $2
		)
	`
	var conflict bool
	err := r.db.QueryRow(ctx, query, partyID, start, end, excludedRequestID, models.ScheduledRequestStatuses).
		Scan(&conflict)
	if err != nil {
		return false, err
	}
	return conflict, nil
}

// UpdateStatusIfCurrent flips the status only when the row is still in one of the expected statuses.
func (r *SessionRequestRepository) UpdateStatusIfCurrent(
	ctx context.Context,
	requestID int64,
	currentStatuses []string,
	nextStatus string,
) (*models.SessionRequest, error) {
	query := `
		UPDATE session_requests
		SET request_status = $3, updated_at = NOW()
		WHERE id = $1 AND request_status = ANY($2)
		RETURNING ` + sessionRequestColumns
	return scanSessionRequest(r.db.QueryRow(ctx, query, requestID, currentStatuses, nextStatus))
}

// UpdateStatusIfTid is UpdateStatusIfCurrent that also requires the request to carry tid.
// An empty tid matches any request.
func (r *SessionRequestRepository) UpdateStatusIfTid(
	ctx context.Context,
	requestID int64,
	tid string,
	currentStatuses []string,
	nextStatus string,
) (*models.SessionRequest, error) {
	query := `
		UPDATE session_requests
		SET request_status = $3, updated_at = NOW()
		WHERE id = $1 AND request_status = ANY($2) AND ($4 = '' OR tid = $4)
		RETURNING ` + sessionRequestColumns
	return scanSessionRequest(r.db.QueryRow(ctx, query, requestID, currentStatuses, nextStatus, tid))
}

func (r *SessionRequestRepository) AttachSession(ctx context.Context, requestID int64, sessionID int64) error {
	query := `UPDATE session_requests SET session_id = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, requestID, sessionID)
	return err
}

// ReturnToPool reopens a rejected request under a fresh tid.
func (r *SessionRequestRepository) ReturnToPool(
	ctx context.Context,
	requestID int64,
	tid string,
	rejectedBy int64,
) (*models.SessionRequest, error) {
	query := `
		UPDATE session_requests
		SET request_status = 'IN_POOL',
			tid = $2,
			session_id = NULL,
			rejected_by = array_append(rejected_by, $3),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + sessionRequestColumns
	return scanSessionRequest(r.db.QueryRow(ctx, query, requestID, tid, rejectedBy))
}

func (r *SessionRequestRepository) AddAcceptance(
	ctx context.Context,
	requestID int64,
	acceptorID int64,
	streamID string,
) error {
	query := `
		INSERT INTO session_request_acceptances (request_id, acceptor_id, stream_id)
		VALUES ($1, $2, $3)
	`
	_, err := r.db.Exec(ctx, query, requestID, acceptorID, streamID)
	return err
}

func (r *SessionRequestRepository) ListInPoolIDsForClient(ctx context.Context, clientID int64) ([]int64, error) {
	query := `
		SELECT id
		FROM session_requests
		WHERE client_id = $1 AND request_status = 'IN_POOL'
		ORDER BY id ASC
		FOR UPDATE
	`
	rows, err := r.db.Query(ctx, query, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListPool returns the requests a therapist may still accept: pooled requests sharing a
// category (or with none) plus requests targeted at them, minus ones they rejected.
func (r *SessionRequestRepository) ListPool(
	ctx context.Context,
	therapistID int64,
	categories []string,
	limit int,
) ([]models.SessionRequest, error) {
	if categories == nil {
		categories = []string{}
	}
	query := `
		SELECT ` + sessionRequestColumns + `
		FROM session_requests
		WHERE NOT ($1 = ANY(rejected_by))
		  AND (
			(request_status = 'IN_POOL'
				AND (therapist_id IS NULL OR therapist_id = $1)
				AND (cardinality(categories) = 0 OR categories && $2::text[]))
			OR (request_status = 'OPEN_SCHEDULE' AND therapist_id = $1)
		  )
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, therapistID, categories, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]models.SessionRequest, 0)
	for rows.Next() {
		request, err := scanSessionRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *request)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *SessionRequestRepository) loadAcceptances(ctx context.Context, request *models.SessionRequest) error {
	query := `
		SELECT acceptor_id, stream_id, accepted_at
		FROM session_request_acceptances
		WHERE request_id = $1
		ORDER BY id ASC
	`
	rows, err := r.db.Query(ctx, query, request.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	request.AcceptedBy = make([]models.RequestAcceptance, 0)
	for rows.Next() {
		var acceptance models.RequestAcceptance
		if err := rows.Scan(&acceptance.AcceptorID, &acceptance.StreamID, &acceptance.AcceptedAt); err != nil {
			return err
		}
		request.AcceptedBy = append(request.AcceptedBy, acceptance)
	}
	return rows.Err()
}

func scanSessionRequest(row rowScanner) (*models.SessionRequest, error) {
	var request models.SessionRequest
	err := row.Scan(
		&request.ID,
		&request.ClientID,
		&request.TherapistID,
		&request.Categories,
		&request.Note,
		&request.RequestStatus,
		&request.Tid,
		&request.StartTime,
		&request.EndTime,
		&request.SessionID,
		&request.RejectedBy,
		&request.CreatedAt,
		&request.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &request, nil
}
