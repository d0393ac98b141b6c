package notifications

import (
	"context"
	"encoding/json"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/subradar/subradar-backend/pkg/db/models"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/logger"
)

const summaryEventType = "insights.summary"

type publishFunc func(ctx context.Context, msg *pubsub.Message) error

// SummaryEvent is the payload published for each delivered digest.
type SummaryEvent struct {
	UserID      uuid.UUID        `json:"user_id"`
	Insights    []models.Insight `json:"insights"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// PubSubSender publishes digests so downstream push channels can fan them out.
type PubSubSender struct {
	publish publishFunc
	logg    *logger.Logger
	now     func() time.Time
}

// NewPubSubSender wraps the insights topic publisher.
func NewPubSubSender(publisher *pubsub.Publisher, logg *logger.Logger) (*PubSubSender, error) {
	if publisher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "insights publisher required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	publish := func(ctx context.Context, msg *pubsub.Message) error {
		_, err := publisher.Publish(ctx, msg).Get(ctx)
		return err
	}
	return &PubSubSender{publish: publish, logg: logg, now: time.Now}, nil
}

func (s *PubSubSender) SendSummary(ctx context.Context, userID uuid.UUID, insights []models.Insight) error {
	if len(insights) == 0 {
		return nil
	}
	payload, err := json.Marshal(SummaryEvent{UserID: userID, Insights: insights, GeneratedAt: s.now().UTC()})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode insight summary")
	}
	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_type": summaryEventType,
			"user_id":    userID.String(),
		},
	}
	if err := s.publish(ctx, msg); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish insight summary")
	}
	s.logg.Debug(s.logg.WithUserID(ctx, userID.String()), "insight summary published")
	return nil
}
