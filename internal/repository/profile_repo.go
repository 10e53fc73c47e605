package repository

import (
	"context"

	"github.com/saeid-a/TherapyCallBack/internal/models"
	"github.com/shopspring/decimal"
)

const therapistProfileColumns = `
	id, user_id, full_name, categories, hourly_rate, commission_percent, vat_registered,
	is_active, is_online, rating, experience_years, created_at, updated_at
`

type ProfileRepository struct {
	db DBTX
}

func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) CreateUserProfile(
	ctx context.Context,
	userID int64,
	fullName *string,
	referredBy *int64,
) error {
	query := `INSERT INTO user_profiles (user_id, full_name, referred_by) VALUES ($1, $2, $3)`
	_, err := r.db.Exec(ctx, query, userID, fullName, referredBy)
	return err
}

func (r *ProfileRepository) GetUserProfile(ctx context.Context, userID int64) (*models.UserProfile, error) {
	query := `
		SELECT id, user_id, full_name, referred_by, created_at, updated_at
		FROM user_profiles
		WHERE user_id = $1
	`
	var profile models.UserProfile
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&profile.ID,
		&profile.UserID,
		&profile.FullName,
		&profile.ReferredBy,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

type CreateTherapistProfileInput struct {
	FullName          *string
	Categories        []string
	HourlyRate        *decimal.Decimal
	CommissionPercent *decimal.Decimal
	VATRegistered     bool
	ExperienceYears   *int
}

func (r *ProfileRepository) CreateTherapistProfile(
	ctx context.Context,
	userID int64,
	input CreateTherapistProfileInput,
) error {
	categories := input.Categories
	if categories == nil {
		categories = []string{}
	}
	query := `
		INSERT INTO therapist_profiles (user_id, full_name, categories, hourly_rate, commission_percent, vat_registered, experience_years)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		userID,
		input.FullName,
		categories,
		input.HourlyRate,
		input.CommissionPercent,
		input.VATRegistered,
		input.ExperienceYears,
	)
	return err
}

func (r *ProfileRepository) GetTherapistProfile(ctx context.Context, userID int64) (*models.TherapistProfile, error) {
	query := `SELECT ` + therapistProfileColumns + ` FROM therapist_profiles WHERE user_id = $1`
	return scanTherapistProfile(r.db.QueryRow(ctx, query, userID))
}

// ListAvailableTherapists returns active, online therapists sharing at least one category
// with the request, skipping excluded ids and anyone already in a live session.
func (r *ProfileRepository) ListAvailableTherapists(
	ctx context.Context,
	categories []string,
	excluded []int64,
) ([]models.TherapistProfile, error) {
	if excluded == nil {
		excluded = []int64{}
	}
	query := `
		SELECT ` + therapistProfileColumns + `
		FROM therapist_profiles tp
		WHERE tp.is_active
		  AND tp.is_online
		  AND (cardinality($1::text[]) = 0 OR tp.categories && $1::text[])
		  AND NOT (tp.user_id = ANY($2::bigint[]))
		  AND NOT EXISTS (
			SELECT 1
			FROM sessions s
			WHERE s.therapist_id = tp.user_id
			  AND s.session_status IN ('ACCEPTED', 'IN_SESSION')
		  )
		ORDER BY tp.id ASC
	`
	rows, err := r.db.Query(ctx, query, categories, excluded)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := make([]models.TherapistProfile, 0)
	for rows.Next() {
		profile, err := scanTherapistProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *profile)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (r *ProfileRepository) SetAvailability(
	ctx context.Context,
	userID int64,
	isOnline bool,
) (*models.TherapistProfile, error) {
	query := `
		UPDATE therapist_profiles
		SET is_online = $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING ` + therapistProfileColumns
	return scanTherapistProfile(r.db.QueryRow(ctx, query, userID, isOnline))
}

func scanTherapistProfile(row rowScanner) (*models.TherapistProfile, error) {
	var profile models.TherapistProfile
	err := row.Scan(
		&profile.ID,
		&profile.UserID,
		&profile.FullName,
		&profile.Categories,
		&profile.HourlyRate,
		&profile.CommissionPercent,
		&profile.VATRegistered,
		&profile.IsActive,
		&profile.IsOnline,
		&profile.Rating,
		&profile.ExperienceYears,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}
