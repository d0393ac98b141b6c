package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/subradar/subradar-backend/api/controllers"
	"github.com/subradar/subradar-backend/internal/ingestion"
	"github.com/subradar/subradar-backend/internal/subscriptions"
	pkgAuth "github.com/subradar/subradar-backend/pkg/auth"
	"github.com/subradar/subradar-backend/pkg/config"
	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/enums"
	"github.com/subradar/subradar-backend/pkg/logger"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubSubscriptions struct {
	listFn func(ctx context.Context, params subscriptions.ListParams) (*subscriptions.ListResult, error)
}

func (s *stubSubscriptions) Create(context.Context, uuid.UUID, subscriptions.CreateInput) (*models.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (s *stubSubscriptions) List(ctx context.Context, params subscriptions.ListParams) (*subscriptions.ListResult, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return &subscriptions.ListResult{}, nil
}

func (s *stubSubscriptions) ListAllForUser(context.Context, uuid.UUID) ([]models.Subscription, error) {
	return nil, nil
}

func (s *stubSubscriptions) Get(context.Context, uuid.UUID, uuid.UUID) (*subscriptions.Detail, error) {
	return nil, errors.New("not implemented")
}

func (s *stubSubscriptions) Update(context.Context, uuid.UUID, uuid.UUID, subscriptions.UpdateInput) (*models.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (s *stubSubscriptions) Delete(context.Context, uuid.UUID, uuid.UUID) error {
	return errors.New("not implemented")
}

func (s *stubSubscriptions) SetStatus(context.Context, uuid.UUID, uuid.UUID, enums.SubscriptionStatus) (*models.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (s *stubSubscriptions) MergeDuplicates(context.Context, uuid.UUID) (*subscriptions.MergeReport, error) {
	return &subscriptions.MergeReport{}, nil
}

type stubIngestion struct{ calls int }

func (s *stubIngestion) IngestChannel(context.Context, ingestion.Request) (*ingestion.Result, error) {
	s.calls++
	return &ingestion.Result{}, nil
}

func (s *stubIngestion) SyncUser(context.Context, uuid.UUID) (*ingestion.SyncReport, error) {
	return &ingestion.SyncReport{}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "subradar-test"},
		HTTP: config.HTTPConfig{
			CORSOrigins:    []string{"http://localhost:3000"},
			MaxUploadBytes: 1 << 20,
		},
	}
}

func newTestRouter(cfg *config.Config, readiness map[string]controllers.Pinger, subs subscriptions.Service) http.Handler {
	return newTestRouterWithIngestion(cfg, readiness, subs, nil)
}

func newTestRouterWithIngestion(cfg *config.Config, readiness map[string]controllers.Pinger, subs subscriptions.Service, ingest ingestion.Service) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	return NewRouter(cfg, logg, readiness, prometheus.NewRegistry(), nil, subs, nil, nil, ingest, nil, nil)
}

func buildToken(t *testing.T, cfg *config.Config, userID uuid.UUID) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), userID, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestPrivateGroupRejectsMissingJWT(t *testing.T) {
	router := newTestRouter(testConfig(), nil, &stubSubscriptions{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func TestPrivateGroupSucceedsWithJWT(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, nil, &stubSubscriptions{})
	userID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, userID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), userID.String()) {
		t.Fatalf("expected user id in body, got %s", resp.Body.String())
	}
}

func TestSubscriptionListScopesToCaller(t *testing.T) {
	cfg := testConfig()
	userID := uuid.New()
	var got subscriptions.ListParams
	subs := &stubSubscriptions{
		listFn: func(_ context.Context, params subscriptions.ListParams) (*subscriptions.ListResult, error) {
			got = params
			return &subscriptions.ListResult{Items: []models.Subscription{}}, nil
		},
	}
	router := newTestRouter(cfg, nil, subs)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions?status=ACTIVE&limit=5", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, userID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if got.UserID != userID {
		t.Fatalf("expected user %s got %s", userID, got.UserID)
	}
	if got.Limit != 5 || got.Status == nil || *got.Status != enums.SubscriptionStatusActive {
		t.Fatalf("unexpected params %+v", got)
	}
}

func TestIngestRejectsUnsupportedChannel(t *testing.T) {
	cfg := testConfig()
	ingest := &stubIngestion{}
	router := newTestRouterWithIngestion(cfg, nil, &stubSubscriptions{}, ingest)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(`{"channel":"stripe"}`))
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, uuid.New()))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if ingest.calls != 0 {
		t.Fatalf("expected no ingestion call, got %d", ingest.calls)
	}
}

func TestIngestAPIUsageRequiresProvider(t *testing.T) {
	cfg := testConfig()
	ingest := &stubIngestion{}
	router := newTestRouterWithIngestion(cfg, nil, &stubSubscriptions{}, ingest)

	bad := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(`{"channel":"api_usage"}`))
	bad.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, uuid.New()))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, bad)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}

	good := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(`{"channel":"api_usage","provider":"openai"}`))
	good.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, uuid.New()))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, good)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if ingest.calls != 1 {
		t.Fatalf("expected one ingestion call, got %d", ingest.calls)
	}
}

func TestHealthReadyReportsDependencyFailure(t *testing.T) {
	router := newTestRouter(testConfig(), map[string]controllers.Pinger{
		"database": stubPinger{},
		"redis":    stubPinger{err: errors.New("connection refused")},
		"pubsub":   nil,
	}, &stubSubscriptions{})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}

	var body struct {
		Error struct {
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Details["redis"] != "down" || body.Error.Details["database"] != "up" || body.Error.Details["pubsub"] != "skipped" {
		t.Fatalf("unexpected checks %+v", body.Error.Details)
	}
}

func TestHealthLiveAndMetrics(t *testing.T) {
	router := newTestRouter(testConfig(), nil, &stubSubscriptions{})

	for _, path := range []string{"/health/live", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
}
