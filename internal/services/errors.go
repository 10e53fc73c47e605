package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/saeid-a/TherapyCallBack/internal/billing"
)

var (
	ErrForbidden              = errors.New("forbidden")
	ErrConflict               = errors.New("conflict")
	ErrScheduleConflict       = errors.New("schedule conflict")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidInput           = errors.New("invalid input")
	ErrInsufficientFunds      = billing.ErrInsufficientFunds
	ErrTherapistBusy          = errors.New("therapist is in another session")
	ErrTherapistNotJoined     = errors.New("therapist has not joined yet")
	ErrTherapistNotFound      = errors.New("therapist not found")
	ErrTransactionSettled     = errors.New("transaction already settled")
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrRetryable              = errors.New("temporary conflict, retry")
	ErrPaymentVerification    = errors.New("payment verification failed")
)

// RequestStatusError is returned to the loser of an acceptance race.
type RequestStatusError struct {
	Status string
}

func (e *RequestStatusError) Error() string {
	return fmt.Sprintf("request already %s", e.Status)
}

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// translateDBError maps driver level failures onto service errors.
// A unique violation is reported as onUnique when it is not nil.
func translateDBError(err error, onUnique error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrRetryable, pgErr.Message)
		case pgUniqueViolation:
			if onUnique != nil {
				return onUnique
			}
		}
	}
	return err
}

// lockParties serializes work per user. Ids are locked in ascending order so two
// units touching the same pair never deadlock.
func lockParties(ctx context.Context, tx pgx.Tx, userIDs ...int64) error {
	ids := make([]int64, 0, len(userIDs))
	seen := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", id); err != nil {
			return err
		}
	}
	return nil
}
