package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleUser      = "user"
	RoleTherapist = "therapist"
	RoleAdmin     = "admin"
)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Phone        *string   `json:"phone,omitempty"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type UserProfile struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	FullName   *string   `json:"full_name"`
	ReferredBy *int64    `json:"referred_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type TherapistProfile struct {
	ID                int64            `json:"id"`
	UserID            int64            `json:"user_id"`
	FullName          *string          `json:"full_name"`
	Categories        []string         `json:"categories"`
	HourlyRate        *decimal.Decimal `json:"hourly_rate"`
	CommissionPercent *decimal.Decimal `json:"commission_percent,omitempty"`
	VATRegistered     bool             `json:"vat_registered"`
	IsActive          bool             `json:"is_active"`
	IsOnline          bool             `json:"is_online"`
	Rating            *float64         `json:"rating"`
	ExperienceYears   *int             `json:"experience_years"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

type TherapistWithScore struct {
	TherapistProfile
	MatchScore int `json:"match_score"`
}

// Contact is what the mail and SMS sinks need to reach a user.
type Contact struct {
	UserID   int64
	Email    string
	Phone    *string
	FullName *string
}

type PaginationMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}
