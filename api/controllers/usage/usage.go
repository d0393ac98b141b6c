package usage

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/subradar/subradar-backend/api/controllers/requestctx"
	"github.com/subradar/subradar-backend/api/responses"
	"github.com/subradar/subradar-backend/api/validators"
	usagesvc "github.com/subradar/subradar-backend/internal/usage"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/logger"
)

const (
	usageIDParam        = "usageId"
	subscriptionIDParam = "subscriptionId"
)

type upsertRequest struct {
	SubscriptionID uuid.UUID  `json:"subscription_id" validate:"required"`
	LastEmailDate  *time.Time `json:"last_email_date,omitempty"`
	LastAPIUse     *time.Time `json:"last_api_use,omitempty"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
}

func unavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
}

// List returns every usage record of the caller joined with its subscription.
func List(svc usagesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListForUser(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

// GetForSubscription returns the usage record of one owned subscription.
func GetForSubscription(svc usagesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		subscriptionID, err := requestctx.PathUUID(r, subscriptionIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rec, err := svc.GetBySubscription(r.Context(), userID, subscriptionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rec)
	}
}

// Upsert records manually reported signals and returns the rescored record.
func Upsert(svc usagesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload upsertRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rec, err := svc.Upsert(r.Context(), userID, usagesvc.UpsertInput{
			SubscriptionID: payload.SubscriptionID,
			LastEmailDate:  payload.LastEmailDate,
			LastAPIUse:     payload.LastAPIUse,
			LastLogin:      payload.LastLogin,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rec)
	}
}

// RecordLogin stamps a login signal for an owned subscription at request time.
func RecordLogin(svc usagesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		subscriptionID, err := requestctx.PathUUID(r, subscriptionIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		now := time.Now().UTC()
		rec, err := svc.Upsert(r.Context(), userID, usagesvc.UpsertInput{SubscriptionID: subscriptionID, LastLogin: &now})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rec)
	}
}

// Delete removes a usage record whose subscription belongs to the caller.
func Delete(svc usagesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		usageID, err := requestctx.PathUUID(r, usageIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeleteForUser(r.Context(), userID, usageID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
