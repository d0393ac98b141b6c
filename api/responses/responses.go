// Package responses writes the JSON envelopes every handler returns.
package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/logger"
	"github.com/subradar/subradar-backend/pkg/types"
)

// ownMessage marks codes whose error message is safe to return verbatim.
var ownMessage = map[pkgerrors.Code]bool{
	pkgerrors.CodeValidation:   true,
	pkgerrors.CodeUnauthorized: true,
	pkgerrors.CodeNotFound:     true,
	pkgerrors.CodeConflict:     true,
	pkgerrors.CodeRateLimit:    true,
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.DataEnvelope{Data: data})
}

// WriteError maps err to its public envelope. Untyped errors become INTERNAL_ERROR.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	if logg != nil {
		logFailure(logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), logg, typed, err)
	}
	writeJSON(w, meta.HTTPStatus, envelopeFor(typed, meta))
}

func envelopeFor(typed *pkgerrors.Error, meta pkgerrors.Metadata) types.ErrorEnvelope {
	body := types.ErrorBody{Code: string(typed.Code()), Message: meta.PublicMessage}
	if msg := typed.Message(); msg != "" && ownMessage[typed.Code()] {
		body.Message = msg
	}
	if meta.DetailsAllowed {
		body.Details = typed.Details()
	}
	return types.ErrorEnvelope{Error: body}
}

// logFailure reports server-side faults at error level; caller mistakes are warnings.
func logFailure(ctx context.Context, logg *logger.Logger, typed *pkgerrors.Error, err error) {
	switch typed.Code() {
	case pkgerrors.CodeDependency, pkgerrors.CodeInternal:
		logg.Error(ctx, "request.error", err)
	default:
		logg.Warn(ctx, "request.rejected")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Int("status", status).Msg("encoding response failed")
	}
}
