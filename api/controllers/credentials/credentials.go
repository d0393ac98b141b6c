package credentials

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/subradar/subradar-backend/api/controllers/requestctx"
	"github.com/subradar/subradar-backend/api/responses"
	"github.com/subradar/subradar-backend/api/validators"
	credsvc "github.com/subradar/subradar-backend/internal/credentials"
	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/logger"
)

const providerParam = "provider"

// saveRequest carries tokens obtained by the OAuth exchange collaborator.
type saveRequest struct {
	AccessToken  string     `json:"access_token" validate:"required"`
	RefreshToken *string    `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func parseProvider(r *http.Request) (enums.CredentialProvider, error) {
	provider, err := enums.ParseCredentialProvider(strings.ToLower(strings.TrimSpace(chi.URLParam(r, providerParam))))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider").
			WithDetails(map[string]any{"field": providerParam})
	}
	return provider, nil
}

// Save stores (or replaces) the caller's credential for a provider.
func Save(svc credsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credentials service unavailable"))
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		provider, err := parseProvider(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload saveRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cred, err := svc.Save(r.Context(), userID, credsvc.SaveInput{
			Provider:     provider,
			AccessToken:  payload.AccessToken,
			RefreshToken: payload.RefreshToken,
			ExpiresAt:    payload.ExpiresAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cred)
	}
}

// List returns the providers the caller has connected. Tokens are never serialized.
func List(svc credsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credentials service unavailable"))
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		creds, err := svc.List(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, creds)
	}
}

// Delete disconnects a provider.
func Delete(svc credsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credentials service unavailable"))
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		provider, err := parseProvider(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), userID, provider); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
