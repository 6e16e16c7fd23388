package jwt

import (
	"time"

	"gopkg.in/square/go-jose.v2/jwt"
)

// Claims returns the registered claims of a token for subject issued at now.
func Claims(subject string, now time.Time, expiration time.Duration) *jwt.Claims {
	return &jwt.Claims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(expiration)),
	}
}
