package gcs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/subradar/subradar-backend/pkg/config"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(context.Background(),
		config.GCSConfig{ReceiptsBucket: "receipts", ReceiptsPrefix: "/scans/", Endpoint: srv.URL + "/storage/v1/"},
		config.GCPConfig{}, nil,
		option.WithHTTPClient(srv.Client()), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func isPing(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/b/receipts/o")
}

func TestNewClientRequiresBucket(t *testing.T) {
	if _, err := NewClient(context.Background(), config.GCSConfig{}, config.GCPConfig{}, nil); err == nil {
		t.Fatalf("expected bucket error")
	}
}

func TestNewClientPingsBucket(t *testing.T) {
	var pings atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !isPing(r) {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("maxResults"); got != "1" {
			t.Errorf("unexpected maxResults %q", got)
		}
		pings.Add(1)
		_, _ = w.Write([]byte(`{"items":[]}`))
	})
	if n := pings.Load(); n != 1 {
		t.Fatalf("expected 1 ping, got %d", n)
	}
	if c.Bucket() != "receipts" {
		t.Fatalf("unexpected bucket %q", c.Bucket())
	}
}

func TestUploadReturnsGSURI(t *testing.T) {
	var body string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if isPing(r) {
			_, _ = w.Write([]byte(`{"items":[]}`))
			return
		}
		if r.Method != http.MethodPost || !strings.Contains(r.URL.Path, "/upload/") {
			t.Errorf("unexpected upload request %s %s", r.Method, r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		_, _ = w.Write([]byte(`{"name":"scans/u1/a.png","bucket":"receipts"}`))
	})

	uri, err := c.Upload(context.Background(), "scans/u1/a.png", "image/png", []byte("img-bytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if uri != "gs://receipts/scans/u1/a.png" {
		t.Fatalf("unexpected uri %q", uri)
	}
	if !strings.Contains(body, "img-bytes") {
		t.Fatalf("upload body missing payload")
	}
}

func TestUploadSurfacesDependencyError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if isPing(r) {
			_, _ = w.Write([]byte(`{"items":[]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"denied"}}`))
	})

	if _, err := c.Upload(context.Background(), "a.png", "", []byte("x")); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if _, err := c.Upload(context.Background(), " ", "", []byte("x")); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if err := c.Ping(context.Background()); !errors.Is(err, errNotInitialized) {
		t.Fatalf("ping: %v", err)
	}
	if _, err := c.Upload(context.Background(), "a", "", nil); !errors.Is(err, errNotInitialized) {
		t.Fatalf("upload: %v", err)
	}
	if c.Bucket() != "" {
		t.Fatalf("expected empty bucket")
	}
}

func TestObjectNameStripsDirectories(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	c := &Client{prefix: "scans", now: func() time.Time { return fixed }}

	want := "scans/user-1/" + strconv.FormatInt(fixed.UnixNano(), 10) + "-passwd"
	if name := c.ObjectName("user-1", "../../etc/passwd"); name != want {
		t.Fatalf("expected %q, got %q", want, name)
	}
	for _, in := range []string{"  ", "dir/.."} {
		if got := baseName(in); got != "receipt" {
			t.Fatalf("baseName(%q) = %q", in, got)
		}
	}
}
