package credentials

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields odooctl reads from a bearer token. The signature is
// never checked client side: the server is the authority.
type Claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// ParseClaims decodes a token without verifying it.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ExpiresAt returns the token's expiry, or false when it has none or cannot
// be decoded.
func ExpiresAt(token string) (time.Time, bool) {
	claims, err := ParseClaims(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Subject returns the token's subject (the user id).
func Subject(token string) string {
	claims, err := ParseClaims(token)
	if err != nil {
		return ""
	}
	return claims.Subject
}

// TokenType returns the "type" claim ("access" or "refresh"), or "".
func TokenType(token string) string {
	claims, err := ParseClaims(token)
	if err != nil {
		return ""
	}
	return claims.Type
}
