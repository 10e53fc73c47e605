package repository

import (
	"context"

	"github.com/saeid-a/TherapyCallBack/internal/models"
)

type CallHistoryRepository struct {
	db DBTX
}

func NewCallHistoryRepository(db DBTX) *CallHistoryRepository {
	return &CallHistoryRepository{db: db}
}

func (r *CallHistoryRepository) Create(ctx context.Context, history *models.CallHistory) error {
	query := `
		INSERT INTO call_histories (session_id, client_id, therapist_id, tid, minutes, amount, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	return r.db.QueryRow(ctx, query,
		history.SessionID,
		history.ClientID,
		history.TherapistID,
		history.Tid,
		history.Minutes,
		history.Amount,
		history.Source,
	).Scan(&history.ID, &history.CreatedAt)
}

func (r *CallHistoryRepository) GetBySessionID(ctx context.Context, sessionID int64) (*models.CallHistory, error) {
	query := `
		SELECT id, session_id, client_id, therapist_id, tid, minutes, amount, source, created_at
		FROM call_histories
		WHERE session_id = $1
	`
	var history models.CallHistory
	err := r.db.QueryRow(ctx, query, sessionID).Scan(
		&history.ID,
		&history.SessionID,
		&history.ClientID,
		&history.TherapistID,
		&history.Tid,
		&history.Minutes,
		&history.Amount,
		&history.Source,
		&history.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &history, nil
}
