// Package tokenclaims extracts claims from backend-issued session tokens.
// The backend signs its own tokens and is the sole verifier; this client only
// inspects them to learn the expiry and subject, so parsing is deliberately
// unverified.
package tokenclaims

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of token claims the client cares about.
type Claims struct {
	// Subject is the user id the token was issued for, if present.
	Subject string
	// ExpiresAt is the token expiry; zero when the token carries none.
	ExpiresAt time.Time
}

// Inspect parses token as a JWT without verifying its signature and returns
// the claims of interest. Tokens that are not JWTs (the backend also issues
// opaque tokens on some plans) yield an error; callers should treat that as
// "no expiry known", not as a failure.
func Inspect(token string) (Claims, error) {
	var mc jwt.MapClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &mc); err != nil {
		return Claims{}, fmt.Errorf("not a parseable JWT: %w", err)
	}

	var out Claims
	if sub, err := mc.GetSubject(); err == nil {
		out.Subject = sub
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}
