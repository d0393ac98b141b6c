package ingestion

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/subradar/subradar-backend/api/controllers/requestctx"
	"github.com/subradar/subradar-backend/api/responses"
	"github.com/subradar/subradar-backend/api/validators"
	ingestsvc "github.com/subradar/subradar-backend/internal/ingestion"
	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/logger"
)

const receiptFormField = "file"

var allowedReceiptTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
}

type ingestRequest struct {
	Channel  string `json:"channel" validate:"required"`
	Provider string `json:"provider,omitempty"`
	Text     string `json:"text,omitempty" validate:"omitempty,max=20000"`
}

// Ingest runs one channel for the caller.
func Ingest(svc ingestsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ingestion service unavailable"))
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload ingestRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		channel, err := enums.ParseSubscriptionSource(strings.TrimSpace(payload.Channel))
		if err != nil || channel == enums.SubscriptionSourceStripe {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unsupported channel").
				WithDetails(map[string]any{"field": "channel"}))
			return
		}

		req := ingestsvc.Request{UserID: userID, Channel: channel}
		switch channel {
		case enums.SubscriptionSourceAPIUsage:
			provider, err := enums.ParseCredentialProvider(strings.TrimSpace(payload.Provider))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider").
					WithDetails(map[string]any{"field": "provider"}))
				return
			}
			req.Provider = provider
		case enums.SubscriptionSourceManualUpload:
			if strings.TrimSpace(payload.Text) == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "text is required for manual_upload; upload a file to /ingest/receipts instead"))
				return
			}
			req.Receipt = &ingestsvc.Receipt{Text: payload.Text}
		}

		result, err := svc.IngestChannel(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// UploadReceipt accepts a multipart receipt image or PDF and runs it through OCR.
func UploadReceipt(svc ingestsvc.Service, maxBytes int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ingestion service unavailable"))
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		receipt, err := readReceipt(w, r, maxBytes)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.IngestChannel(r.Context(), ingestsvc.Request{
			UserID:  userID,
			Channel: enums.SubscriptionSourceManualUpload,
			Receipt: receipt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func readReceipt(w http.ResponseWriter, r *http.Request, maxBytes int64) (*ingestsvc.Receipt, error) {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1024)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "receipt exceeds upload limit").
				WithDetails(map[string]any{"max_bytes": maxBytes})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid multipart body")
	}

	file, header, err := r.FormFile(receiptFormField)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "file is required").
			WithDetails(map[string]any{"field": receiptFormField})
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read receipt")
	}
	if int64(len(data)) > maxBytes {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "receipt exceeds upload limit").
			WithDetails(map[string]any{"max_bytes": maxBytes})
	}
	if len(data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "receipt file is empty")
	}

	contentType := http.DetectContentType(data)
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	if !allowedReceiptTypes[contentType] {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported receipt type").
			WithDetails(map[string]any{"content_type": contentType})
	}

	return &ingestsvc.Receipt{
		Filename:    filepath.Base(header.Filename),
		ContentType: contentType,
		Data:        data,
	}, nil
}
