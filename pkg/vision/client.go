// Package vision recognizes text on uploaded receipts with Cloud Vision.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	visionapi "google.golang.org/api/vision/v1"

	"github.com/subradar/subradar-backend/pkg/config"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/gcp"
)

const featureDocumentText = "DOCUMENT_TEXT_DETECTION"

// Image is either a gs:// URI or inline bytes.
type Image struct {
	URI     string
	Content []byte
}

type Client struct {
	svc *visionapi.Service
}

// NewClient builds a Vision client with the shared GCP credentials.
func NewClient(ctx context.Context, cfg config.VisionConfig, gcpCfg config.GCPConfig, extra ...option.ClientOption) (*Client, error) {
	opts := gcp.ClientOptions(gcpCfg)
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	opts = append(opts, extra...)
	svc, err := visionapi.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{svc: svc}, nil
}

// RecognizeText returns the full text Vision finds on the image.
func (c *Client) RecognizeText(ctx context.Context, img Image) (string, error) {
	source := &visionapi.Image{}
	switch {
	case strings.TrimSpace(img.URI) != "":
		source.Source = &visionapi.ImageSource{ImageUri: img.URI}
	case len(img.Content) > 0:
		source.Content = base64.StdEncoding.EncodeToString(img.Content)
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, "receipt image required")
	}

	req := &visionapi.BatchAnnotateImagesRequest{
		Requests: []*visionapi.AnnotateImageRequest{{
			Image:    source,
			Features: []*visionapi.Feature{{Type: featureDocumentText}},
		}},
	}
	resp, err := c.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return "", pkgerrors.Dependency(err, "vision annotate failed").WithDetails(map[string]any{
				"provider":  "vision",
				"status":    gerr.Code,
				"retryable": gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500,
			})
		}
		return "", pkgerrors.Dependency(err, "vision annotate failed")
	}
	if len(resp.Responses) == 0 {
		return "", nil
	}
	first := resp.Responses[0]
	if first.Error != nil && first.Error.Message != "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "vision: "+first.Error.Message)
	}
	if first.FullTextAnnotation != nil {
		return first.FullTextAnnotation.Text, nil
	}
	if len(first.TextAnnotations) > 0 {
		return first.TextAnnotations[0].Description, nil
	}
	return "", nil
}
