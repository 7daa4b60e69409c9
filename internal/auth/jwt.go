// Package auth issues and validates the short-lived access tokens the
// parent dashboard uses between password logins.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/brightnest/haven/internal/common"
)

// Claims carries the registered claims plus the authenticated family
// account ID.
type Claims struct {
	jwt.RegisteredClaims
	FamilyID string
}

// GenerateToken signs an HS256 access token for the family account.
func GenerateToken(familyID string, secretKey []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		FamilyID: familyID,
	})
	return token.SignedString(secretKey)
}

// FamilyIDFromToken validates the token and returns the family account ID.
// Expired tokens map to ErrTokenExpired, everything else to
// ErrInvalidToken.
func FamilyIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", common.ErrInvalidToken
	}
	if !token.Valid {
		return "", common.ErrInvalidToken
	}
	return claims.FamilyID, nil
}
