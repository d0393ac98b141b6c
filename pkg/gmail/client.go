// Package gmail lists candidate billing messages from a user's mailbox.
package gmail

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/subradar/subradar-backend/pkg/config"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
)

// Message is the header and snippet view of one mailbox message.
type Message struct {
	ID      string
	From    string
	Subject string
	Snippet string
	Date    time.Time
}

// Client opens a per-call Gmail service bound to the user's access token.
type Client struct {
	endpoint string
	base     *http.Client
}

func NewClient(cfg config.GmailConfig) *Client {
	return &Client{endpoint: strings.TrimSpace(cfg.Endpoint)}
}

func (c *Client) service(ctx context.Context, token string) (*gmailapi.Service, error) {
	if c.base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	}
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	return gmailapi.NewService(ctx, opts...)
}

// ListCandidateMessages runs query against the mailbox and loads the From header and snippet of up to max hits.
func (c *Client) ListCandidateMessages(ctx context.Context, token, query string, max int) ([]Message, error) {
	if strings.TrimSpace(token) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gmail access token required")
	}
	svc, err := c.service(ctx, token)
	if err != nil {
		return nil, pkgerrors.Dependency(err, "create gmail service")
	}

	list, err := svc.Users.Messages.List("me").Q(query).MaxResults(int64(max)).Context(ctx).Do()
	if err != nil {
		return nil, mapGoogleError(err, "list gmail messages")
	}

	out := make([]Message, 0, len(list.Messages))
	for _, ref := range list.Messages {
		msg, err := svc.Users.Messages.Get("me", ref.Id).
			Format("metadata").
			MetadataHeaders("From", "Subject").
			Context(ctx).
			Do()
		if err != nil {
			return nil, mapGoogleError(err, "get gmail message")
		}
		out = append(out, toMessage(msg))
	}
	return out, nil
}

func toMessage(msg *gmailapi.Message) Message {
	out := Message{ID: msg.Id, Snippet: msg.Snippet}
	if msg.InternalDate > 0 {
		out.Date = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch {
			case strings.EqualFold(h.Name, "From"):
				out.From = h.Value
			case strings.EqualFold(h.Name, "Subject"):
				out.Subject = h.Value
			}
		}
	}
	return out
}

func mapGoogleError(err error, message string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return pkgerrors.Dependency(err, message).WithDetails(map[string]any{
			"provider":  "gmail",
			"status":    gerr.Code,
			"retryable": gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500,
		})
	}
	return pkgerrors.Dependency(err, message)
}
