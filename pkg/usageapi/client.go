// Package usageapi reads recent activity from AI provider usage endpoints.
package usageapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/subradar/subradar-backend/pkg/config"
	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
)

const anthropicVersion = "2023-06-01"

// Client asks OpenAI and Anthropic when a credential last produced billable usage.
type Client struct {
	httpClient   *http.Client
	openAIURL    string
	anthropicURL string
	now          func() time.Time
}

func NewClient(cfg config.UsageAPIsConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient:   httpClient,
		openAIURL:    strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		anthropicURL: strings.TrimRight(cfg.AnthropicBaseURL, "/"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// LastActivity returns the end of the most recent usage bucket with activity since the given time.
// The bool is false when the provider reports no usage in the window.
func (c *Client) LastActivity(ctx context.Context, provider enums.CredentialProvider, token string, since time.Time) (time.Time, bool, error) {
	switch provider {
	case enums.CredentialProviderOpenAI:
		return c.openAIActivity(ctx, token, since)
	case enums.CredentialProviderAnthropic:
		return c.anthropicActivity(ctx, token, since)
	default:
		return time.Time{}, false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("usage api not supported for %q", provider))
	}
}

type openAIUsagePage struct {
	Data []struct {
		StartTime int64 `json:"start_time"`
		EndTime   int64 `json:"end_time"`
		Results   []struct {
			NumModelRequests int64 `json:"num_model_requests"`
		} `json:"results"`
	} `json:"data"`
	HasMore  bool   `json:"has_more"`
	NextPage string `json:"next_page"`
}

func (c *Client) openAIActivity(ctx context.Context, token string, since time.Time) (time.Time, bool, error) {
	var latest time.Time
	page := ""
	for {
		q := url.Values{}
		q.Set("start_time", strconv.FormatInt(since.Unix(), 10))
		q.Set("bucket_width", "1d")
		if page != "" {
			q.Set("page", page)
		}
		headers := map[string]string{"Authorization": "Bearer " + token}

		var resp openAIUsagePage
		if err := c.get(ctx, "openai", c.openAIURL+"/organization/usage/completions?"+q.Encode(), headers, &resp); err != nil {
			return time.Time{}, false, err
		}
		for _, bucket := range resp.Data {
			for _, r := range bucket.Results {
				if r.NumModelRequests > 0 {
					latest = laterOf(latest, time.Unix(bucket.EndTime, 0))
				}
			}
		}
		if !resp.HasMore || resp.NextPage == "" {
			break
		}
		page = resp.NextPage
	}
	return c.clamp(latest)
}

type anthropicUsagePage struct {
	Data []struct {
		StartingAt string `json:"starting_at"`
		EndingAt   string `json:"ending_at"`
		Results    []struct {
			UncachedInputTokens int64 `json:"uncached_input_tokens"`
			OutputTokens        int64 `json:"output_tokens"`
		} `json:"results"`
	} `json:"data"`
	HasMore  bool   `json:"has_more"`
	NextPage string `json:"next_page"`
}

func (c *Client) anthropicActivity(ctx context.Context, token string, since time.Time) (time.Time, bool, error) {
	var latest time.Time
	page := ""
	for {
		q := url.Values{}
		q.Set("starting_at", since.UTC().Format(time.RFC3339))
		q.Set("bucket_width", "1d")
		if page != "" {
			q.Set("page", page)
		}
		headers := map[string]string{
			"x-api-key":         token,
			"anthropic-version": anthropicVersion,
		}

		var resp anthropicUsagePage
		if err := c.get(ctx, "anthropic", c.anthropicURL+"/organizations/usage_report/messages?"+q.Encode(), headers, &resp); err != nil {
			return time.Time{}, false, err
		}
		for _, bucket := range resp.Data {
			end, err := time.Parse(time.RFC3339, bucket.EndingAt)
			if err != nil {
				continue
			}
			for _, r := range bucket.Results {
				if r.UncachedInputTokens+r.OutputTokens > 0 {
					latest = laterOf(latest, end)
				}
			}
		}
		if !resp.HasMore || resp.NextPage == "" {
			break
		}
		page = resp.NextPage
	}
	return c.clamp(latest)
}

// clamp keeps a bucket end that lies in the future from reading as future activity.
func (c *Client) clamp(latest time.Time) (time.Time, bool, error) {
	if latest.IsZero() {
		return time.Time{}, false, nil
	}
	if now := c.now(); latest.After(now) {
		latest = now
	}
	return latest.UTC(), true, nil
}

func (c *Client) get(ctx context.Context, provider, rawURL string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Dependency(err, provider+" usage request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return pkgerrors.Dependency(err, "read "+provider+" usage response")
	}
	if resp.StatusCode/100 != 2 {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("%s usage api returned %s", provider, resp.Status)).
			WithDetails(map[string]any{
				"provider":  provider,
				"status":    resp.StatusCode,
				"retryable": resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			})
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Dependency(err, "decode "+provider+" usage response")
	}
	return nil
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
