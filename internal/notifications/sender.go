package notifications

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/subradar/subradar-backend/pkg/db/models"
)

// SummarySubject is the subject line used for insight digests.
const SummarySubject = "Weekly Subscription Insights"

// Sender delivers a batch of freshly generated insights to a user.
type Sender interface {
	SendSummary(ctx context.Context, userID uuid.UUID, insights []models.Insight) error
}

// Noop discards every summary.
type Noop struct{}

func (Noop) SendSummary(context.Context, uuid.UUID, []models.Insight) error { return nil }

// Fanout delivers to each configured sender and joins their failures.
type Fanout []Sender

func (f Fanout) SendSummary(ctx context.Context, userID uuid.UUID, insights []models.Insight) error {
	var errs error
	for _, sender := range f {
		if sender == nil {
			continue
		}
		errs = multierr.Append(errs, sender.SendSummary(ctx, userID, insights))
	}
	return errs
}

// Combine returns a single Sender over the non-nil senders given.
func Combine(senders ...Sender) Sender {
	out := make(Fanout, 0, len(senders))
	for _, s := range senders {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return Noop{}
	case 1:
		return out[0]
	}
	return out
}

// RenderSummary formats insights as a plain text digest body.
func RenderSummary(insights []models.Insight) string {
	var b strings.Builder
	b.WriteString("Here is what we noticed about your subscriptions this week:\n\n")
	for _, insight := range insights {
		b.WriteString("- [")
		b.WriteString(strings.ToUpper(string(insight.Type)))
		b.WriteString("] ")
		b.WriteString(insight.Message)
		b.WriteString("\n")
	}
	return b.String()
}
