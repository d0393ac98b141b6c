package usageapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/subradar/subradar-backend/pkg/config"
	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(config.UsageAPIsConfig{OpenAIBaseURL: srv.URL + "/v1/", AnthropicBaseURL: srv.URL + "/v1"}, srv.Client())
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestOpenAILastActivityPicksLatestActiveBucket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/organization/usage/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-admin" {
			t.Errorf("unexpected authorization %q", got)
		}
		if r.URL.Query().Get("page") == "" {
			_, _ = w.Write([]byte(`{"data":[
				{"start_time":1740441600,"end_time":1740528000,"results":[{"num_model_requests":3}]},
				{"start_time":1740528000,"end_time":1740614400,"results":[]}
			],"has_more":true,"next_page":"p2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[
			{"start_time":1740614400,"end_time":1740700800,"results":[{"num_model_requests":0}]}
		],"has_more":false}`))
	}))
	defer srv.Close()

	at, ok, err := newTestClient(srv).LastActivity(context.Background(), enums.CredentialProviderOpenAI, "sk-admin", fixedNow.AddDate(0, 0, -30))
	if err != nil || !ok {
		t.Fatalf("last activity ok=%v err=%v", ok, err)
	}
	if want := time.Unix(1740528000, 0).UTC(); !at.Equal(want) {
		t.Fatalf("expected %v, got %v", want, at)
	}
}

func TestAnthropicLastActivityClampsToNow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/organizations/usage_report/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "key" || r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("unexpected headers %v", r.Header)
		}
		_, _ = w.Write([]byte(`{"data":[
			{"starting_at":"2025-03-01T00:00:00Z","ending_at":"2025-03-02T00:00:00Z","results":[{"uncached_input_tokens":10,"output_tokens":5}]}
		],"has_more":false}`))
	}))
	defer srv.Close()

	at, ok, err := newTestClient(srv).LastActivity(context.Background(), enums.CredentialProviderAnthropic, "key", fixedNow.AddDate(0, 0, -30))
	if err != nil || !ok {
		t.Fatalf("last activity ok=%v err=%v", ok, err)
	}
	if !at.Equal(fixedNow) {
		t.Fatalf("expected clamp to %v, got %v", fixedNow, at)
	}
}

func TestLastActivityNoUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[],"has_more":false}`))
	}))
	defer srv.Close()

	_, ok, err := newTestClient(srv).LastActivity(context.Background(), enums.CredentialProviderOpenAI, "k", fixedNow)
	if err != nil || ok {
		t.Fatalf("expected no activity, got ok=%v err=%v", ok, err)
	}
}

func TestLastActivityProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, _, err := newTestClient(srv).LastActivity(context.Background(), enums.CredentialProviderAnthropic, "k", fixedNow); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if _, _, err := newTestClient(srv).LastActivity(context.Background(), enums.CredentialProviderGmail, "k", fixedNow); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
