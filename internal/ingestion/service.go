package ingestion

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/subradar/subradar-backend/internal/subscriptions"
	"github.com/subradar/subradar-backend/internal/userlock"
	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/logger"
	"github.com/subradar/subradar-backend/pkg/metrics"
)

type subscriptionStore interface {
	Create(ctx context.Context, userID uuid.UUID, input subscriptions.CreateInput) (*models.Subscription, error)
	ListAllForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
}

type signalRecorder interface {
	RecordSignal(ctx context.Context, subscriptionID uuid.UUID, kind enums.SignalKind, at time.Time) (*models.UsageRecord, error)
}

// Service drives channels end to end: fetch, extract, persist, and record usage.
type Service interface {
	IngestChannel(ctx context.Context, req Request) (*Result, error)
	SyncUser(ctx context.Context, userID uuid.UUID) (*SyncReport, error)
}

// Result summarizes one channel run.
type Result struct {
	Channel        enums.SubscriptionSource `json:"channel"`
	Provider       string                   `json:"provider,omitempty"`
	Scanned        int                      `json:"scanned"`
	Facts          int                      `json:"facts"`
	Created        []models.Subscription    `json:"created"`
	Duplicates     int                      `json:"duplicates"`
	SignalsApplied int                      `json:"signals_applied"`
}

// SyncReport covers every scheduled channel for one user.
type SyncReport struct {
	Results []Result `json:"results"`
	Skipped []string `json:"skipped"`
}

type ServiceParams struct {
	Sources       []EvidenceSource
	Subscriptions subscriptionStore
	Usage         signalRecorder
	Locker        userlock.Locker
	Metrics       *metrics.PipelineMetrics
	Logger        *logger.Logger
	FetchTimeout  time.Duration
	// SyncProviders lists API-usage providers polled by SyncUser.
	SyncProviders []enums.CredentialProvider
}

type service struct {
	sources       map[enums.SubscriptionSource]EvidenceSource
	subs          subscriptionStore
	usage         signalRecorder
	locker        userlock.Locker
	metrics       *metrics.PipelineMetrics
	logg          *logger.Logger
	fetchTimeout  time.Duration
	syncProviders []enums.CredentialProvider
}

func NewService(params ServiceParams) (Service, error) {
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscription store required")
	}
	if params.Usage == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "usage tracker required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	sources := make(map[enums.SubscriptionSource]EvidenceSource, len(params.Sources))
	for _, src := range params.Sources {
		if src == nil {
			continue
		}
		sources[src.Channel()] = src
	}
	locker := params.Locker
	if locker == nil {
		locker = userlock.Noop{}
	}
	return &service{
		sources:       sources,
		subs:          params.Subscriptions,
		usage:         params.Usage,
		locker:        locker,
		metrics:       params.Metrics,
		logg:          params.Logger,
		fetchTimeout:  params.FetchTimeout,
		syncProviders: params.SyncProviders,
	}, nil
}

func (s *service) IngestChannel(ctx context.Context, req Request) (*Result, error) {
	if req.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	var out *Result
	err := s.locker.WithUserLock(ctx, req.UserID, func(ctx context.Context) error {
		res, err := s.ingest(ctx, req)
		out = res
		return err
	})
	return out, err
}

// SyncUser runs the mailbox and bank channels plus every configured usage provider.
// Channels without a stored credential are skipped; other failures are collected without stopping the rest.
func (s *service) SyncUser(ctx context.Context, userID uuid.UUID) (*SyncReport, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	reqs := []Request{
		{UserID: userID, Channel: enums.SubscriptionSourceGmail},
		{UserID: userID, Channel: enums.SubscriptionSourcePlaid},
	}
	for _, p := range s.syncProviders {
		reqs = append(reqs, Request{UserID: userID, Channel: enums.SubscriptionSourceAPIUsage, Provider: p})
	}

	report := &SyncReport{Results: []Result{}, Skipped: []string{}}
	var errs error
	lockErr := s.locker.WithUserLock(ctx, userID, func(ctx context.Context) error {
		for _, req := range reqs {
			if _, ok := s.sources[req.Channel]; !ok {
				continue
			}
			label := channelLabel(req)
			res, err := s.ingest(ctx, req)
			if err != nil {
				if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
					report.Skipped = append(report.Skipped, label)
					continue
				}
				s.logg.Error(s.logg.WithFields(ctx, map[string]any{
					"user_id": userID.String(),
					"channel": label,
				}), "channel sync failed", err)
				errs = multierr.Append(errs, err)
				continue
			}
			report.Results = append(report.Results, *res)
		}
		return nil
	})
	if lockErr != nil {
		return nil, lockErr
	}
	return report, errs
}

func (s *service) ingest(ctx context.Context, req Request) (*Result, error) {
	src, ok := s.sources[req.Channel]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported ingestion channel").
			WithDetails(map[string]any{"channel": string(req.Channel)})
	}
	label := channelLabel(req)
	logCtx := s.logg.WithChannel(s.logg.WithUserID(ctx, req.UserID.String()), label)

	fetchCtx := ctx
	if s.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
	}
	ev, err := src.Collect(fetchCtx, req)
	if err != nil {
		return nil, s.fetchError(logCtx, string(req.Channel), err)
	}
	s.metrics.AddFacts(string(req.Channel), len(ev.Facts))

	existing, err := s.subs.ListAllForUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Channel:  req.Channel,
		Provider: string(req.Provider),
		Scanned:  ev.Scanned,
		Facts:    len(ev.Facts),
		Created:  []models.Subscription{},
	}
	for _, fact := range ev.Facts {
		sub, created, err := s.persist(logCtx, req.UserID, fact, existing)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			continue
		}
		if created {
			res.Created = append(res.Created, *sub)
			existing = append(existing, *sub)
		} else {
			res.Duplicates++
		}
		if fact.Source == enums.SubscriptionSourceGmail && !fact.ObservedAt.IsZero() {
			if _, err := s.usage.RecordSignal(ctx, sub.ID, enums.SignalKindEmail, fact.ObservedAt); err != nil {
				return nil, err
			}
			res.SignalsApplied++
		}
	}

	for _, sig := range ev.Signals {
		for _, sub := range existing {
			if !matchesAlias(sub.ServiceName, sig.Aliases) {
				continue
			}
			if _, err := s.usage.RecordSignal(ctx, sub.ID, sig.Kind, sig.At); err != nil {
				return nil, err
			}
			res.SignalsApplied++
		}
	}

	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"scanned":         res.Scanned,
		"facts":           res.Facts,
		"created":         len(res.Created),
		"duplicates":      res.Duplicates,
		"signals_applied": res.SignalsApplied,
	}), "channel ingested")
	return res, nil
}

// persist creates a subscription for fact unless the same evidence item was already ingested.
// A fact the store rejects as invalid is dropped.
func (s *service) persist(ctx context.Context, userID uuid.UUID, fact Fact, existing []models.Subscription) (*models.Subscription, bool, error) {
	if fact.ExternalID != nil {
		for i := range existing {
			sub := existing[i]
			if sub.Source == fact.Source && sub.ExternalID != nil && *sub.ExternalID == *fact.ExternalID {
				return &sub, false, nil
			}
		}
	}

	sub, err := s.subs.Create(ctx, userID, subscriptions.CreateInput{
		ServiceName:   fact.ServiceName,
		Tier:          fact.Tier,
		Amount:        fact.Amount,
		Currency:      fact.Currency,
		BillingCycle:  fact.BillingCycle,
		NextRenewal:   fact.RenewalDate,
		PaymentMethod: fact.PaymentMethod,
		Source:        fact.Source,
		ExternalID:    fact.ExternalID,
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "dropping invalid fact")
			return nil, false, nil
		}
		return nil, false, err
	}
	return sub, true, nil
}

func (s *service) fetchError(ctx context.Context, channel string, err error) error {
	typed := pkgerrors.As(err)
	switch {
	case typed == nil:
		err = pkgerrors.Dependency(err, "fetch "+channel+" evidence")
		s.metrics.IncFetchError(channel)
	case typed.Code() == pkgerrors.CodeDependency:
		s.metrics.IncFetchError(channel)
	}
	s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "channel fetch failed")
	return err
}

func matchesAlias(name string, aliases []string) bool {
	normalized := subscriptions.NormalizeName(name)
	for _, alias := range aliases {
		if alias != "" && strings.Contains(normalized, alias) {
			return true
		}
	}
	return false
}

func channelLabel(req Request) string {
	if req.Provider != "" {
		return string(req.Channel) + ":" + string(req.Provider)
	}
	return string(req.Channel)
}
