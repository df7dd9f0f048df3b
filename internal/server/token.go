package server

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// controlTokenTTL is how long a minted control token stays valid.
const controlTokenTTL = 24 * time.Hour

// MintToken issues a signed control-API token.
func MintToken(secret []byte, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   "cg",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(controlTokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ValidateToken checks a control-API token's signature and expiry.
func ValidateToken(token string, secret []byte) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return jwt.ErrTokenUnverifiable
	}
	return nil
}
