package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scope names one area of the control API a token may touch.
type Scope string

const (
	ScopePairing   Scope = "pairing"
	ScopeDevices   Scope = "devices"
	ScopeClipboard Scope = "clipboard"
	ScopeEvents    Scope = "events"
)

// AllScopes is what a token gets when the client asks for nothing narrower.
var AllScopes = []Scope{ScopePairing, ScopeDevices, ScopeClipboard, ScopeEvents}

var ErrUnknownScope = errors.New("unknown scope")

func ParseScopes(raw []string) ([]Scope, error) {
	scopes := make([]Scope, 0, len(raw))
	for _, r := range raw {
		s := Scope(strings.ToLower(strings.TrimSpace(r)))
		if !slices.Contains(AllScopes, s) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownScope, r)
		}
		if !slices.Contains(scopes, s) {
			scopes = append(scopes, s)
		}
	}
	return scopes, nil
}

// Claims identify a local control API client, e.g. the CLI or a tray app,
// and what it may do.
type Claims struct {
	ClientID string  `json:"cid"`
	Scopes   []Scope `json:"scp"`
	jwt.RegisteredClaims
}

func (c *Claims) Allows(s Scope) bool {
	return slices.Contains(c.Scopes, s)
}

type TokenConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

func DefaultTokenConfig(secret string) TokenConfig {
	return TokenConfig{
		Secret: secret,
		Expiry: 7 * 24 * time.Hour,
		Issuer: "omniclip",
	}
}

// CreateToken mints an HS256 token for clientID. Without scopes the token
// covers the whole control API.
func CreateToken(clientID string, cfg TokenConfig, scopes ...Scope) (string, error) {
	switch {
	case cfg.Secret == "":
		return "", errors.New("missing secret")
	case clientID == "":
		return "", errors.New("missing clientID")
	case cfg.Expiry <= 0:
		return "", errors.New("invalid expiry")
	}
	if len(scopes) == 0 {
		scopes = AllScopes
	}
	for _, s := range scopes {
		if !slices.Contains(AllScopes, s) {
			return "", fmt.Errorf("%w: %q", ErrUnknownScope, s)
		}
	}

	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		return "", err
	}
	now := time.Now()
	claims := Claims{
		ClientID: clientID,
		Scopes:   slices.Clone(scopes),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   clientID,
			ID:        hex.EncodeToString(id[:]),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.Expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

func VerifyToken(tokenString string, cfg TokenConfig) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("missing secret")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	claims := &Claims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims.ClientID == "" || len(claims.Scopes) == 0 {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
