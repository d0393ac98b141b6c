package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
)

type fakeRateStore struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newFakeRateStore() *fakeRateStore {
	return &fakeRateStore{counts: map[string]int64{}}
}

func (f *fakeRateStore) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if f.err != nil {
		return false, 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func serveAs(handler http.Handler, userID uuid.UUID) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/gmail", nil)
	req = req.WithContext(WithUserID(req.Context(), userID))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitBlocksAfterLimit(t *testing.T) {
	store := newFakeRateStore()
	handler := RateLimit(RateLimitPolicy{Name: "ingest", Window: time.Minute, Limit: 2}, store, nil)(okHandler())
	userID := uuid.New()

	for i := 0; i < 2; i++ {
		if rec := serveAs(handler, userID); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := serveAs(handler, userID)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeRateLimit) {
		t.Fatalf("unexpected error code %s", payload.Error.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected remaining header 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimitScopesPerUser(t *testing.T) {
	store := newFakeRateStore()
	handler := RateLimit(RateLimitPolicy{Name: "api", Window: time.Minute, Limit: 1}, store, nil)(okHandler())

	if rec := serveAs(handler, uuid.New()); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := serveAs(handler, uuid.New()); rec.Code != http.StatusOK {
		t.Fatalf("expected second user to pass, got %d", rec.Code)
	}
}

func TestRateLimitStoreFailureIsDependencyError(t *testing.T) {
	store := newFakeRateStore()
	store.err = errors.New("redis down")
	handler := RateLimit(RateLimitPolicy{Window: time.Minute, Limit: 1}, store, nil)(okHandler())

	if rec := serveAs(handler, uuid.New()); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected dependency status, got %d", rec.Code)
	}
}

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	handler := RateLimit(RateLimitPolicy{}, newFakeRateStore(), nil)(okHandler())
	if rec := serveAs(handler, uuid.New()); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
