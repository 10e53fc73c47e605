package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/TherapyCallBack/internal/models"
)

type stubProfileStore struct {
	userProfile      *models.UserProfile
	therapistProfile *models.TherapistProfile
	err              error
	lastUserID       int64
	lastOnline       *bool
}

func (s *stubProfileStore) GetUserProfile(_ context.Context, userID int64) (*models.UserProfile, error) {
	s.lastUserID = userID
	return s.userProfile, s.err
}

func (s *stubProfileStore) GetTherapistProfile(_ context.Context, userID int64) (*models.TherapistProfile, error) {
	s.lastUserID = userID
	return s.therapistProfile, s.err
}

func (s *stubProfileStore) SetAvailability(_ context.Context, userID int64, isOnline bool) (*models.TherapistProfile, error) {
	s.lastUserID = userID
	s.lastOnline = &isOnline
	if s.therapistProfile != nil {
		s.therapistProfile.IsOnline = isOnline
	}
	return s.therapistProfile, s.err
}

func TestGetProfileReturnsTherapistProfile(t *testing.T) {
	store := &stubProfileStore{
		therapistProfile: &models.TherapistProfile{UserID: 7, Categories: []string{"anxiety"}},
	}
	handler := NewProfileHandler(store)

	app := newSessionTestApp("therapist", "7")
	app.Get("/api/v1/profile", handler.GetProfile)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Profile models.TherapistProfile `json:"profile"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Profile.UserID != 7 || len(body.Profile.Categories) != 1 {
		t.Fatalf("unexpected profile: %+v", body.Profile)
	}
}

func TestGetProfileNotFound(t *testing.T) {
	handler := NewProfileHandler(&stubProfileStore{err: pgx.ErrNoRows})

	app := newSessionTestApp("user", "42")
	app.Get("/api/v1/profile", handler.GetProfile)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSetAvailabilityTogglesOnline(t *testing.T) {
	store := &stubProfileStore{therapistProfile: &models.TherapistProfile{UserID: 7}}
	handler := NewProfileHandler(store)

	app := newSessionTestApp("therapist", "7")
	app.Put("/api/v1/therapists/me/availability", handler.SetAvailability)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/therapists/me/availability", strings.NewReader(`{"is_online":true}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if store.lastOnline == nil || !*store.lastOnline || store.lastUserID != 7 {
		t.Fatalf("unexpected forwarded availability: %v user=%d", store.lastOnline, store.lastUserID)
	}
}

func TestSetAvailabilityRequiresFlag(t *testing.T) {
	store := &stubProfileStore{}
	handler := NewProfileHandler(store)

	app := newSessionTestApp("therapist", "7")
	app.Put("/api/v1/therapists/me/availability", handler.SetAvailability)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/therapists/me/availability", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if store.lastOnline != nil {
		t.Fatalf("store should not be called")
	}
}

func TestSetAvailabilityForbiddenForClients(t *testing.T) {
	handler := NewProfileHandler(&stubProfileStore{})

	app := newSessionTestApp("user", "42")
	app.Put("/api/v1/therapists/me/availability", handler.SetAvailability)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/therapists/me/availability", strings.NewReader(`{"is_online":true}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}
