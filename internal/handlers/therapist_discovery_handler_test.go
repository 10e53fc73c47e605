package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/TherapyCallBack/internal/models"
)

type stubMatchmaker struct {
	result      []models.TherapistWithScore
	err         error
	lastRequest *models.SessionRequest
	lastLimit   int
}

func (s *stubMatchmaker) MatchTherapists(_ context.Context, request *models.SessionRequest, limit int) ([]models.TherapistWithScore, error) {
	s.lastRequest = request
	s.lastLimit = limit
	return s.result, s.err
}

func TestGetRecommendedTherapistsNormalizesCategories(t *testing.T) {
	matcher := &stubMatchmaker{
		result: []models.TherapistWithScore{
			{TherapistProfile: models.TherapistProfile{UserID: 7}, MatchScore: 60},
		},
	}
	handler := NewTherapistDiscoveryHandler(&stubProfileStore{}, matcher)

	app := newSessionTestApp("user", "42")
	app.Get("/api/v1/therapists/recommended", handler.GetRecommendedTherapists)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/therapists/recommended?categories=Stress%20Management,,sleep&limit=3", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if matcher.lastRequest == nil || matcher.lastRequest.ClientID != 42 {
		t.Fatalf("expected client 42 to be excluded, got %+v", matcher.lastRequest)
	}
	categories := matcher.lastRequest.Categories
	if len(categories) != 2 || categories[0] != "stress_management" || categories[1] != "sleep" {
		t.Fatalf("unexpected categories: %v", categories)
	}
	if matcher.lastLimit != 3 {
		t.Fatalf("expected limit 3, got %d", matcher.lastLimit)
	}

	var body struct {
		Therapists []models.TherapistWithScore `json:"therapists"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(body.Therapists) != 1 || body.Therapists[0].MatchScore != 60 {
		t.Fatalf("unexpected response: %+v", body.Therapists)
	}
}

func TestGetTherapistNotFound(t *testing.T) {
	handler := NewTherapistDiscoveryHandler(&stubProfileStore{err: pgx.ErrNoRows}, &stubMatchmaker{})

	app := newSessionTestApp("user", "42")
	app.Get("/api/v1/therapists/:id", handler.GetTherapist)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/therapists/9", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
