package insights

import (
	"net/http"

	"github.com/subradar/subradar-backend/api/controllers/requestctx"
	"github.com/subradar/subradar-backend/api/responses"
	"github.com/subradar/subradar-backend/api/validators"
	insightsvc "github.com/subradar/subradar-backend/internal/insights"
	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/logger"
)

type generateResponse struct {
	Count    int              `json:"count"`
	Insights []models.Insight `json:"insights"`
}

// Generate runs the insight generator for the caller.
func Generate(svc insightsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "insights service unavailable"))
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		created, err := svc.GenerateInsights(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if created == nil {
			created = []models.Insight{}
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, generateResponse{Count: len(created), Insights: created})
	}
}

// List pages through the caller's insights, newest first.
func List(svc insightsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "insights service unavailable"))
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
		kind, err := validators.ParseQueryEnum(r, "type", enums.ParseInsightType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		subscriptionID, err := validators.ParseQueryUUID(r, "subscription_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), insightsvc.ListParams{
			UserID:         userID,
			SubscriptionID: subscriptionID,
			Type:           kind,
			Limit:          limit,
			Cursor:         cursor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
