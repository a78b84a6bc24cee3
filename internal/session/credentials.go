package session

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"engagement-sdk/internal/storage"
)

var ErrNoToken = errors.New("no access token")

// Credentials persists the access token in the encrypted KV.
type Credentials struct {
	kv storage.KV
}

func NewCredentials(kv storage.KV) *Credentials {
	return &Credentials{kv: kv}
}

func (c *Credentials) Load(ctx context.Context) (string, error) {
	tok, ok, err := c.kv.Get(ctx, storage.KeyAccessToken)
	if err != nil {
		return "", err
	}
	if !ok || tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

func (c *Credentials) Save(ctx context.Context, tok string) error {
	return c.kv.Put(ctx, storage.KeyAccessToken, tok)
}

func (c *Credentials) Clear(ctx context.Context) error {
	return c.kv.Delete(ctx, storage.KeyAccessToken)
}

// TokenExpiry reads the exp claim without verifying the signature; the
// server remains the authority, this only avoids sending a dead token.
func TokenExpiry(tok string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Expired reports whether tok carries an exp claim in the past. Opaque
// tokens are never considered expired.
func Expired(tok string, now time.Time) bool {
	exp, ok := TokenExpiry(tok)
	return ok && !now.Before(exp)
}
