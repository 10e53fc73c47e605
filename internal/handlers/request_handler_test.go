package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/saeid-a/TherapyCallBack/internal/models"
	"github.com/saeid-a/TherapyCallBack/internal/services"
)

type stubRequestService struct {
	createResult    *models.SessionRequest
	createErr       error
	poolResult      []models.SessionRequest
	poolErr         error
	getResult       *models.SessionRequest
	getErr          error
	acceptResult    *models.Session
	acceptErr       error
	scheduleResult  *models.SessionRequest
	scheduleErr     error
	startResult     *models.Session
	startErr        error
	withdrawResult  *models.SessionRequest
	withdrawErr     error
	withdrawAll     int
	withdrawAllErr  error
	lastActorID     int64
	lastRole        string
	lastRequestID   int64
	lastStreamID    string
	lastLimit       int
	lastCreateInput services.CreateRequestInput
}

func (s *stubRequestService) CreateRequest(_ context.Context, clientID int64, input services.CreateRequestInput) (*models.SessionRequest, error) {
	s.lastActorID = clientID
	s.lastCreateInput = input
	return s.createResult, s.createErr
}

func (s *stubRequestService) ListPool(_ context.Context, therapistID int64, limit int) ([]models.SessionRequest, error) {
	s.lastActorID = therapistID
	s.lastLimit = limit
	return s.poolResult, s.poolErr
}

func (s *stubRequestService) GetRequest(_ context.Context, userID int64, role string, requestID int64) (*models.SessionRequest, error) {
	s.lastActorID = userID
	s.lastRole = role
	s.lastRequestID = requestID
	return s.getResult, s.getErr
}

func (s *stubRequestService) AcceptTherapistRequest(_ context.Context, therapistID int64, requestID int64, streamID string) (*models.Session, error) {
	s.lastActorID = therapistID
	s.lastRequestID = requestID
	s.lastStreamID = streamID
	return s.acceptResult, s.acceptErr
}

func (s *stubRequestService) AcceptScheduledRequest(_ context.Context, therapistID int64, requestID int64) (*models.SessionRequest, error) {
	s.lastActorID = therapistID
	s.lastRequestID = requestID
	return s.scheduleResult, s.scheduleErr
}

func (s *stubRequestService) StartScheduledRequest(_ context.Context, therapistID int64, requestID int64, streamID string) (*models.Session, error) {
	s.lastActorID = therapistID
	s.lastRequestID = requestID
	s.lastStreamID = streamID
	return s.startResult, s.startErr
}

func (s *stubRequestService) WithdrawRequest(_ context.Context, clientID int64, requestID int64) (*models.SessionRequest, error) {
	s.lastActorID = clientID
	s.lastRequestID = requestID
	return s.withdrawResult, s.withdrawErr
}

func (s *stubRequestService) WithdrawAllSessionRequests(_ context.Context, clientID int64) (int, error) {
	s.lastActorID = clientID
	return s.withdrawAll, s.withdrawAllErr
}

func TestCreateRequestPooled(t *testing.T) {
	service := &stubRequestService{
		createResult: &models.SessionRequest{ID: 5, ClientID: 42, RequestStatus: models.RequestStatusInPool},
	}
	handler := NewRequestHandler(service)

	app := newSessionTestApp("user", "42")
	app.Post("/api/v1/requests", handler.CreateRequest)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(`{
		"categories": ["Anxiety", "sleep"],
		"note": "evenings are hard"
	}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if service.lastActorID != 42 {
		t.Fatalf("expected client id 42, got %d", service.lastActorID)
	}
	if len(service.lastCreateInput.Categories) != 2 || service.lastCreateInput.StartTime != nil {
		t.Fatalf("unexpected input: %+v", service.lastCreateInput)
	}
}

func TestCreateRequestScheduledParsesWindow(t *testing.T) {
	service := &stubRequestService{
		createResult: &models.SessionRequest{ID: 6, ClientID: 42, RequestStatus: models.RequestStatusOpenSchedule},
	}
	handler := NewRequestHandler(service)

	app := newSessionTestApp("user", "42")
	app.Post("/api/v1/requests", handler.CreateRequest)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(`{
		"therapist_id": 7,
		"start_time": "2030-03-15T09:00:00Z",
		"end_time": "2030-03-15T10:00:00Z"
	}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	input := service.lastCreateInput
	if input.TherapistID == nil || *input.TherapistID != 7 {
		t.Fatalf("expected therapist id 7, got %+v", input.TherapistID)
	}
	wantStart := time.Date(2030, 3, 15, 9, 0, 0, 0, time.UTC)
	if input.StartTime == nil || !input.StartTime.Equal(wantStart) {
		t.Fatalf("unexpected start time: %v", input.StartTime)
	}
	if input.EndTime == nil || !input.EndTime.Equal(wantStart.Add(time.Hour)) {
		t.Fatalf("unexpected end time: %v", input.EndTime)
	}
}

func TestCreateRequestRejectsHalfWindow(t *testing.T) {
	service := &stubRequestService{}
	handler := NewRequestHandler(service)

	app := newSessionTestApp("user", "42")
	app.Post("/api/v1/requests", handler.CreateRequest)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(`{
		"therapist_id": 7,
		"start_time": "2030-03-15T09:00:00Z"
	}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if service.lastActorID != 0 {
		t.Fatalf("service should not be called")
	}
}

func TestCreateRequestMapsDomainErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "insufficient funds", err: services.ErrInsufficientFunds, want: http.StatusPaymentRequired},
		{name: "open request", err: services.ErrConflict, want: http.StatusConflict},
		{name: "schedule overlap", err: services.ErrScheduleConflict, want: http.StatusConflict},
		{name: "unknown therapist", err: services.ErrTherapistNotFound, want: http.StatusNotFound},
		{name: "invalid", err: services.ErrInvalidInput, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewRequestHandler(&stubRequestService{createErr: tt.err})

			app := newSessionTestApp("user", "42")
			app.Post("/api/v1/requests", handler.CreateRequest)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(`{"categories":["stress"]}`))
			req.Header.Set("Content-Type", "application/json")

			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestCreateRequestForbiddenForTherapists(t *testing.T) {
	handler := NewRequestHandler(&stubRequestService{})

	app := newSessionTestApp("therapist", "7")
	app.Post("/api/v1/requests", handler.CreateRequest)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(`{}`))
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

func TestAcceptRequestLoserGetsCurrentStatus(t *testing.T) {
	service := &stubRequestService{
		acceptErr: &services.RequestStatusError{Status: models.RequestStatusAccepted},
	}
	handler := NewRequestHandler(service)

	app := newSessionTestApp("therapist", "8")
	app.Post("/api/v1/requests/:id/accept", handler.AcceptRequest)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests/5/accept", strings.NewReader(`{"stream_id":"room-5"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if service.lastActorID != 8 || service.lastRequestID != 5 || service.lastStreamID != "room-5" {
		t.Fatalf("unexpected forwarded args: %d %d %q", service.lastActorID, service.lastRequestID, service.lastStreamID)
	}

	var body struct {
		Error  string `json:"error"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Status != models.RequestStatusAccepted || body.Error != "request already ACCEPTED" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestAcceptRequestWithoutBody(t *testing.T) {
	service := &stubRequestService{
		acceptResult: &models.Session{ID: 70, SessionType: models.SessionTypeRequest, SessionStatus: models.SessionStatusPending},
	}
	handler := NewRequestHandler(service)

	app := newSessionTestApp("therapist", "8")
	app.Post("/api/v1/requests/:id/accept", handler.AcceptRequest)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests/5/accept", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastStreamID != "" {
		t.Fatalf("expected empty stream id, got %q", service.lastStreamID)
	}
}

func TestAcceptRequestBusyTherapist(t *testing.T) {
	handler := NewRequestHandler(&stubRequestService{acceptErr: services.ErrTherapistBusy})

	app := newSessionTestApp("therapist", "8")
	app.Post("/api/v1/requests/:id/accept", handler.AcceptRequest)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests/5/accept", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestListPoolCapsLimit(t *testing.T) {
	service := &stubRequestService{
		poolResult: []models.SessionRequest{{ID: 1, RequestStatus: models.RequestStatusInPool}},
	}
	handler := NewRequestHandler(service)

	app := newSessionTestApp("therapist", "8")
	app.Get("/api/v1/requests/pool", handler.ListPool)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/requests/pool?limit=500", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastLimit != maxPageLimit {
		t.Fatalf("expected limit %d, got %d", maxPageLimit, service.lastLimit)
	}
}

func TestWithdrawRequestAfterAcceptConflicts(t *testing.T) {
	service := &stubRequestService{
		withdrawErr: &services.RequestStatusError{Status: models.RequestStatusAccepted},
	}
	handler := NewRequestHandler(service)

	app := newSessionTestApp("user", "42")
	app.Post("/api/v1/requests/:id/withdraw", handler.WithdrawRequest)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests/5/withdraw", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestWithdrawAllReturnsCount(t *testing.T) {
	service := &stubRequestService{withdrawAll: 2}
	handler := NewRequestHandler(service)

	app := newSessionTestApp("user", "42")
	app.Post("/api/v1/requests/withdraw-all", handler.WithdrawAll)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests/withdraw-all", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Withdrawn int `json:"withdrawn"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Withdrawn != 2 {
		t.Fatalf("expected 2 withdrawn, got %d", body.Withdrawn)
	}
}
