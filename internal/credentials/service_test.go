package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/subradar/subradar-backend/pkg/config"
	"github.com/subradar/subradar-backend/pkg/db/dbtest"
	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/security"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (Service, Repository, uuid.UUID) {
	t.Helper()
	key, err := security.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sealer, err := security.NewSealer(config.CryptoConfig{TokenKey: key})
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc, err := NewService(ServiceParams{Repo: repo, Sealer: sealer, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, repo, dbtest.SeedUser(t, conn)
}

func TestSaveSealsAndGetTokenOpens(t *testing.T) {
	svc, repo, userID := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Save(ctx, userID, SaveInput{Provider: enums.CredentialProviderGmail, AccessToken: "ya29.secret"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	stored, err := repo.Find(ctx, userID, enums.CredentialProviderGmail)
	if err != nil || stored == nil {
		t.Fatalf("find stored credential: %v", err)
	}
	if stored.AccessToken == "ya29.secret" {
		t.Fatalf("expected token sealed at rest")
	}

	token, err := svc.GetToken(ctx, userID, enums.CredentialProviderGmail)
	if err != nil || token != "ya29.secret" {
		t.Fatalf("get token = %q, %v", token, err)
	}

	if _, err := svc.Save(ctx, userID, SaveInput{Provider: enums.CredentialProviderGmail, AccessToken: "ya29.rotated"}); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	token, err = svc.GetToken(ctx, userID, enums.CredentialProviderGmail)
	if err != nil || token != "ya29.rotated" {
		t.Fatalf("rotated token = %q, %v", token, err)
	}

	creds, err := svc.List(ctx, userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(creds) != 1 {
		t.Fatalf("expected 1 credential, got %d", len(creds))
	}
}

func TestGetTokenMissingOrExpired(t *testing.T) {
	svc, repo, userID := newTestService(t)
	ctx := context.Background()

	if _, err := svc.GetToken(ctx, userID, enums.CredentialProviderPlaid); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for missing credential, got %v", err)
	}

	past := now.Add(-time.Minute)
	err := repo.Upsert(ctx, &models.OAuthCredential{
		UserID: userID, Provider: enums.CredentialProviderPlaid, AccessToken: "x", ExpiresAt: &past,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := svc.GetToken(ctx, userID, enums.CredentialProviderPlaid); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for expired credential, got %v", err)
	}
}

func TestSaveValidationAndDelete(t *testing.T) {
	svc, _, userID := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Save(ctx, userID, SaveInput{Provider: "notion", AccessToken: "t"}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for provider, got %v", err)
	}
	if _, err := svc.Save(ctx, userID, SaveInput{Provider: enums.CredentialProviderOpenAI, AccessToken: "  "}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for blank token, got %v", err)
	}

	if err := svc.Delete(ctx, userID, enums.CredentialProviderOpenAI); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found on delete, got %v", err)
	}
	if _, err := svc.Save(ctx, userID, SaveInput{Provider: enums.CredentialProviderOpenAI, AccessToken: "sk"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := svc.Delete(ctx, userID, enums.CredentialProviderOpenAI); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
