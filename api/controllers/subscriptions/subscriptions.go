package subscriptions

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subradar/subradar-backend/api/controllers/requestctx"
	"github.com/subradar/subradar-backend/api/responses"
	"github.com/subradar/subradar-backend/api/validators"
	"github.com/subradar/subradar-backend/internal/scoring"
	subsvc "github.com/subradar/subradar-backend/internal/subscriptions"
	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/logger"
	"github.com/subradar/subradar-backend/pkg/types"
)

const subscriptionIDParam = "subscriptionId"

type createRequest struct {
	ServiceName   string                   `json:"service_name" validate:"required,max=200"`
	Tier          *string                  `json:"tier,omitempty" validate:"omitempty,max=100"`
	Amount        decimal.Decimal          `json:"amount" validate:"money"`
	Currency      enums.Currency           `json:"currency,omitempty" validate:"omitempty,enum"`
	BillingCycle  enums.BillingCycle       `json:"billing_cycle,omitempty" validate:"omitempty,enum"`
	NextRenewal   *time.Time               `json:"next_renewal,omitempty"`
	PaymentMethod *string                  `json:"payment_method,omitempty"`
	Source        enums.SubscriptionSource `json:"source,omitempty" validate:"omitempty,enum"`
}

type updateRequest struct {
	ServiceName   *string                  `json:"service_name,omitempty" validate:"omitempty,min=1,max=200"`
	Tier          types.Nullable[string]   `json:"tier"`
	Amount        *decimal.Decimal         `json:"amount,omitempty" validate:"omitempty,money"`
	Currency      *enums.Currency          `json:"currency,omitempty" validate:"omitempty,enum"`
	BillingCycle  *enums.BillingCycle      `json:"billing_cycle,omitempty" validate:"omitempty,enum"`
	NextRenewal   types.Nullable[time.Time] `json:"next_renewal"`
	PaymentMethod types.Nullable[string]   `json:"payment_method"`
	Status        *string                  `json:"status,omitempty"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

// ScoreRecomputer recomputes one subscription's usage score.
type ScoreRecomputer interface {
	ComputeScore(ctx context.Context, subscriptionID uuid.UUID) (scoring.Result, error)
}

func unavailable(r *http.Request, w http.ResponseWriter, logg *logger.Logger) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
}

// List returns the caller's subscriptions, newest first.
func List(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r, w, logg)
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, cursor, err := requestctx.Page(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := validators.ParseQueryEnum(r, "status", subsvc.ParseStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), subsvc.ListParams{UserID: userID, Status: status, Limit: limit, Cursor: cursor})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Create records a manually entered subscription.
func Create(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r, w, logg)
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload createRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		source := payload.Source
		if source == "" {
			source = enums.SubscriptionSourceManualUpload
		}

		sub, err := svc.Create(r.Context(), userID, subsvc.CreateInput{
			ServiceName:   payload.ServiceName,
			Tier:          payload.Tier,
			Amount:        payload.Amount,
			Currency:      payload.Currency,
			BillingCycle:  payload.BillingCycle,
			NextRenewal:   payload.NextRenewal,
			PaymentMethod: payload.PaymentMethod,
			Source:        source,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, sub)
	}
}

// Get returns one subscription with its usage record and insights.
func Get(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r, w, logg)
			return
		}
		userID, id, err := resolveTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.Get(r.Context(), userID, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// Update applies a partial update; absent fields are left unchanged.
func Update(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r, w, logg)
			return
		}
		userID, id, err := resolveTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload updateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := subsvc.UpdateInput{
			ServiceName:   payload.ServiceName,
			Tier:          payload.Tier,
			Amount:        payload.Amount,
			Currency:      payload.Currency,
			BillingCycle:  payload.BillingCycle,
			NextRenewal:   payload.NextRenewal,
			PaymentMethod: payload.PaymentMethod,
		}
		if payload.Status != nil {
			status, err := subsvc.ParseStatus(*payload.Status)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			input.Status = &status
		}

		sub, err := svc.Update(r.Context(), userID, id, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

// SetStatus moves a subscription to the requested status.
func SetStatus(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r, w, logg)
			return
		}
		userID, id, err := resolveTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload statusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := subsvc.ParseStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub, err := svc.SetStatus(r.Context(), userID, id, status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

// Deactivate cancels a subscription.
func Deactivate(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r, w, logg)
			return
		}
		userID, id, err := resolveTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub, err := svc.SetStatus(r.Context(), userID, id, enums.SubscriptionStatusCanceled)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

// Delete hard-deletes a subscription and its usage record.
func Delete(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r, w, logg)
			return
		}
		userID, id, err := resolveTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), userID, id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Merge collapses the caller's duplicate subscriptions.
func Merge(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r, w, logg)
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report, err := svc.MergeDuplicates(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

// RecomputeScore refreshes the usage score of an owned subscription.
func RecomputeScore(svc subsvc.Service, scorer ScoreRecomputer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || scorer == nil {
			unavailable(r, w, logg)
			return
		}
		userID, id, err := resolveTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := svc.Get(r.Context(), userID, id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := scorer.ComputeScore(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func resolveTarget(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	userID, err := requestctx.ResolveUserID(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	id, err := requestctx.PathUUID(r, subscriptionIDParam)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return userID, id, nil
}
