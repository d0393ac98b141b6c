package requestctx

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/subradar/subradar-backend/api/middleware"
	"github.com/subradar/subradar-backend/api/validators"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ResolveUserID returns the authenticated user or an UNAUTHORIZED error.
func ResolveUserID(r *http.Request) (uuid.UUID, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context required")
	}
	return userID, nil
}

// PathUUID parses a chi URL parameter as a uuid.
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name).
			WithDetails(map[string]any{"field": name})
	}
	return id, nil
}

// Page reads the limit and cursor query parameters.
func Page(r *http.Request) (int, string, error) {
	limit, err := validators.ParseQueryInt(r, "limit", defaultPageSize, 1, maxPageSize)
	if err != nil {
		return 0, "", err
	}
	return limit, strings.TrimSpace(r.URL.Query().Get("cursor")), nil
}
