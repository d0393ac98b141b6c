package credentials

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/logger"
)

// Sealer encrypts tokens at rest.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Provider hands out plaintext access tokens to channel fetchers.
type Provider interface {
	GetToken(ctx context.Context, userID uuid.UUID, provider enums.CredentialProvider) (string, error)
}

// Service stores and reveals per-user provider credentials.
type Service interface {
	Provider
	Save(ctx context.Context, userID uuid.UUID, input SaveInput) (*models.OAuthCredential, error)
	List(ctx context.Context, userID uuid.UUID) ([]models.OAuthCredential, error)
	Delete(ctx context.Context, userID uuid.UUID, provider enums.CredentialProvider) error
}

// SaveInput carries plaintext tokens for one provider.
type SaveInput struct {
	Provider     enums.CredentialProvider
	AccessToken  string
	RefreshToken *string
	ExpiresAt    *time.Time
}

type ServiceParams struct {
	Repo   Repository
	Sealer Sealer
	Logger *logger.Logger
	Now    func() time.Time
}

type service struct {
	repo   Repository
	sealer Sealer
	logg   *logger.Logger
	now    func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "credentials repository required")
	}
	if params.Sealer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "token sealer required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{repo: params.Repo, sealer: params.Sealer, logg: params.Logger, now: now}, nil
}

func (s *service) Save(ctx context.Context, userID uuid.UUID, input SaveInput) (*models.OAuthCredential, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if !input.Provider.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid credential provider")
	}
	access := strings.TrimSpace(input.AccessToken)
	if access == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "access token required")
	}

	sealedAccess, err := s.sealer.Seal(access)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "seal access token")
	}
	cred := &models.OAuthCredential{
		UserID:      userID,
		Provider:    input.Provider,
		AccessToken: sealedAccess,
		ExpiresAt:   input.ExpiresAt,
	}
	if input.RefreshToken != nil && strings.TrimSpace(*input.RefreshToken) != "" {
		sealedRefresh, err := s.sealer.Seal(strings.TrimSpace(*input.RefreshToken))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "seal refresh token")
		}
		cred.RefreshToken = &sealedRefresh
	}

	if err := s.repo.Upsert(ctx, cred); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save credential")
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"user_id":  userID.String(),
			"provider": string(input.Provider),
		}), "credential saved")
	}
	return cred, nil
}

// GetToken returns the plaintext access token. Missing or expired credentials are NotFound.
func (s *service) GetToken(ctx context.Context, userID uuid.UUID, provider enums.CredentialProvider) (string, error) {
	if userID == uuid.Nil || !provider.IsValid() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "user id and provider required")
	}
	cred, err := s.repo.Find(ctx, userID, provider)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load credential")
	}
	if cred == nil {
		return "", pkgerrors.NotFound(string(provider) + " credential")
	}
	if cred.ExpiresAt != nil && !cred.ExpiresAt.After(s.now()) {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, string(provider)+" credential expired")
	}
	token, err := s.sealer.Open(cred.AccessToken)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "open access token")
	}
	return token, nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID) ([]models.OAuthCredential, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	creds, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list credentials")
	}
	if creds == nil {
		creds = []models.OAuthCredential{}
	}
	return creds, nil
}

func (s *service) Delete(ctx context.Context, userID uuid.UUID, provider enums.CredentialProvider) error {
	if !provider.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid credential provider")
	}
	deleted, err := s.repo.Delete(ctx, userID, provider)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete credential")
	}
	if !deleted {
		return pkgerrors.NotFound(string(provider) + " credential")
	}
	return nil
}
