package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/subradar/subradar-backend/pkg/config"
)

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "subradar"}
	now := time.Now().UTC()
	userID := uuid.New()

	token, err := MintAccessToken(cfg, now, userID, 30*time.Minute)
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.UserID != userID {
		t.Fatalf("expected user_id %s, got %s", userID, claims.UserID)
	}
	if claims.Issuer != cfg.Issuer {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if claims.Subject != userID.String() {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "subradar"}
	token, err := MintAccessToken(cfg, time.Now().Add(-2*time.Hour), uuid.New(), time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseAccessToken(cfg, token); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestParseAccessTokenRejectsWrongIssuerAndSecret(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "subradar"}
	token, err := MintAccessToken(cfg, time.Now(), uuid.New(), time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := ParseAccessToken(config.JWTConfig{Secret: "secret", Issuer: "other"}, token); err == nil {
		t.Fatal("expected issuer mismatch to fail")
	}
	if _, err := ParseAccessToken(config.JWTConfig{Secret: "nope", Issuer: "subradar"}, token); err == nil {
		t.Fatal("expected signature mismatch to fail")
	}
	if _, err := ParseAccessToken(cfg, strings.TrimSuffix(token, token[len(token)-2:])); err == nil {
		t.Fatal("expected tampered token to fail")
	}
}

func TestMintAccessTokenValidation(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "subradar"}
	if _, err := MintAccessToken(cfg, time.Now(), uuid.Nil, time.Minute); err == nil {
		t.Fatal("expected nil user id to fail")
	}
	if _, err := MintAccessToken(cfg, time.Now(), uuid.New(), 0); err == nil {
		t.Fatal("expected zero ttl to fail")
	}
	if _, err := MintAccessToken(config.JWTConfig{Issuer: "subradar"}, time.Now(), uuid.New(), time.Minute); err == nil {
		t.Fatal("expected missing secret to fail")
	}
}
