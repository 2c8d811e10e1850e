// Package auth verifies the bearer session tokens issued at login, resolving
// them to an Identity the rest of the engine can authorize against. Styled
// on the teacher's infrastructure/serviceauth package (claims struct
// embedding jwt.RegisteredClaims, a context-key pair for propagating the
// caller's identity downstream) but over HS256 user session tokens instead
// of RS256 service-to-service tokens, and backed by validationcache so a
// hot path (subscribing to the event stream) doesn't re-verify a signature
// on every reconnect.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/greybox/hackcore/validationcache"
)

type contextKey string

const identityKey contextKey = "auth_identity"

// Claims is the payload carried by a session token.
type Claims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// identityCache is satisfied by both validationcache.Cache and
// validationcache.TwoTier, so the verifier works identically whether or not
// a Redis tier sits behind the process-local LRU.
type identityCache interface {
	Get(token string) (validationcache.Identity, bool)
	Put(token string, id validationcache.Identity)
}

// Verifier checks bearer tokens against a shared secret and caches the
// outcome.
type Verifier struct {
	secret []byte
	cache  identityCache
}

func NewVerifier(secret []byte, cache identityCache) *Verifier {
	return &Verifier{secret: secret, cache: cache}
}

// Verify validates token's signature and expiry, consulting the cache
// first so a repeatedly-presented token only pays the signature-check cost
// once per validationcache.TTL.
func (v *Verifier) Verify(token string) (validationcache.Identity, error) {
	if v.cache != nil {
		if id, ok := v.cache.Get(token); ok {
			return id, nil
		}
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return validationcache.Identity{}, fmt.Errorf("verify session token: %w", err)
	}
	if !parsed.Valid {
		return validationcache.Identity{}, errors.New("invalid session token")
	}

	id := validationcache.Identity{UserID: claims.UserID, Roles: claims.Roles}
	if v.cache != nil {
		v.cache.Put(token, id)
	}
	return id, nil
}

// Issue mints a new session token. Tests use it to obtain a valid token
// without a real identity provider.
func Issue(secret []byte, userID string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// WithIdentity attaches a verified identity to ctx for downstream handlers.
func WithIdentity(ctx context.Context, id validationcache.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext retrieves the identity attached by middleware, or
// ok=false if the request was never authenticated.
func IdentityFromContext(ctx context.Context) (validationcache.Identity, bool) {
	id, ok := ctx.Value(identityKey).(validationcache.Identity)
	return id, ok
}
