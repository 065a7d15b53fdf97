package functions

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidIDToken is returned when a bearer token fails verification.
var ErrInvalidIDToken = errors.New("functions: invalid id token")

// IDClaims are the claims read from a caller's ID token.
type IDClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id,omitempty"`
}

// User returns the authenticated user, preferring user_id over sub.
func (c *IDClaims) User() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// SignIDToken mints an HS256 ID token for userID. It stands in for the
// identity provider when running against the emulator.
func SignIDToken(key []byte, userID string, now time.Time, ttl time.Duration) (string, error) {
	claims := IDClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

func verifyIDToken(raw string, key []byte, now time.Time) (*IDClaims, error) {
	claims := &IDClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIDToken, err)
	}
	if claims.User() == "" {
		return nil, fmt.Errorf("%w: no user claim", ErrInvalidIDToken)
	}
	return claims, nil
}
