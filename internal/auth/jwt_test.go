package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestCreateAndVerifyToken(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken("cli", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	claims, err := VerifyToken(tok, cfg)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.ClientID != "cli" {
		t.Fatalf("expected cli, got %q", claims.ClientID)
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken("cli", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	_, err = VerifyToken(tok, TokenConfig{Secret: "wrong", Expiry: time.Hour, Issuer: "test"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestVerifyToken_Expired(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: -time.Second, Issuer: "test"}
	_, err := CreateToken("cli", cfg)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestVerifyToken_WrongIssuer(t *testing.T) {
	tok, err := CreateToken("cli", TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "other"})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	_, err = VerifyToken(tok, DefaultTokenConfig("secret"))
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestCreateToken_Scopes(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken("tray", cfg, ScopeEvents)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	claims, err := VerifyToken(tok, cfg)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if !claims.Allows(ScopeEvents) || claims.Allows(ScopeClipboard) {
		t.Fatalf("unexpected scopes %v", claims.Scopes)
	}

	if _, err := CreateToken("tray", cfg, Scope("admin")); !errors.Is(err, ErrUnknownScope) {
		t.Fatalf("expected ErrUnknownScope, got %v", err)
	}
}

func TestVerifyToken_RequiresScopes(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	bare := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ClientID: "cli",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	tok, err := bare.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := VerifyToken(tok, cfg); err == nil {
		t.Fatalf("expected a token without scopes to be rejected")
	}
}

func TestParseScopes(t *testing.T) {
	scopes, err := ParseScopes([]string{" Events", "devices", "events"})
	if err != nil {
		t.Fatalf("ParseScopes: %v", err)
	}
	if len(scopes) != 2 || scopes[0] != ScopeEvents || scopes[1] != ScopeDevices {
		t.Fatalf("unexpected scopes %v", scopes)
	}
	if _, err := ParseScopes([]string{"root"}); err == nil {
		t.Fatalf("expected error")
	}
}
