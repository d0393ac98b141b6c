// Package gcs keeps uploaded receipt images in a Cloud Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storageapi "google.golang.org/api/storage/v1"

	"github.com/subradar/subradar-backend/pkg/config"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/gcp"
	"github.com/subradar/subradar-backend/pkg/logger"
)

const (
	pingTimeout        = 5 * time.Second
	defaultContentType = "application/octet-stream"
)

var errNotInitialized = errors.New("gcs client not initialized")

// Client stores receipt uploads under one bucket and prefix.
type Client struct {
	svc    *storageapi.Service
	bucket string
	prefix string
	now    func() time.Time
}

// NewClient builds the storage service and checks the bucket is listable.
func NewClient(ctx context.Context, cfg config.GCSConfig, gcpCfg config.GCPConfig, logg *logger.Logger, extra ...option.ClientOption) (*Client, error) {
	bucket := strings.TrimSpace(cfg.ReceiptsBucket)
	if bucket == "" {
		return nil, errors.New("gcs receipts bucket is required")
	}

	opts := gcp.ClientOptions(gcpCfg)
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	opts = append(opts, option.WithScopes(storageapi.DevstorageReadWriteScope))
	opts = append(opts, extra...)

	svc, err := storageapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage service: %w", err)
	}

	client := &Client{
		svc:    svc,
		bucket: bucket,
		prefix: strings.Trim(cfg.ReceiptsPrefix, "/"),
		now:    time.Now,
	}
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", bucket), "gcs client initialized")
	}
	return client, nil
}

func (c *Client) Bucket() string {
	if c == nil {
		return ""
	}
	return c.bucket
}

func (c *Client) Close() error { return nil }

// Ping lists at most one object to confirm access to the bucket.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.svc == nil {
		return errNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if _, err := c.svc.Objects.List(c.bucket).MaxResults(1).Fields("items(name)").Context(ctx).Do(); err != nil {
		return storageError(err, "gcs bucket check failed")
	}
	return nil
}

// ObjectName builds the object path for one user's receipt upload.
func (c *Client) ObjectName(userID, filename string) string {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	parts := make([]string, 0, 3)
	if c.prefix != "" {
		parts = append(parts, c.prefix)
	}
	parts = append(parts, userID, fmt.Sprintf("%d-%s", now().UTC().UnixNano(), baseName(filename)))
	return strings.Join(parts, "/")
}

// Upload writes data to object and returns its gs:// URI.
func (c *Client) Upload(ctx context.Context, object, contentType string, data []byte) (string, error) {
	if c == nil || c.svc == nil {
		return "", errNotInitialized
	}
	if strings.TrimSpace(object) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "gcs object name is required")
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	obj := &storageapi.Object{Name: object, ContentType: contentType}
	stored, err := c.svc.Objects.Insert(c.bucket, obj).
		Media(bytes.NewReader(data), googleapi.ContentType(contentType)).
		Context(ctx).
		Do()
	if err != nil {
		return "", storageError(err, "gcs upload failed")
	}
	name := object
	if stored != nil && stored.Name != "" {
		name = stored.Name
	}
	return fmt.Sprintf("gs://%s/%s", c.bucket, name), nil
}

func storageError(err error, msg string) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return pkgerrors.Dependency(err, msg)
	}
	return pkgerrors.Dependency(err, msg).WithDetails(map[string]any{
		"provider":  "gcs",
		"status":    gerr.Code,
		"retryable": gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500,
	})
}

// baseName keeps the final element of a client-supplied filename.
func baseName(filename string) string {
	name := strings.TrimSpace(filename)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		return "receipt"
	}
	return name
}
