package jwt

import (
	"errors"
	"time"

	jose "gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

type Signer struct {
	iss        string
	secret     []byte
	expiration time.Duration
	now        func() time.Time
}

func NewSigner(issuer string, secret []byte, expiration time.Duration, opts ...Option) *Signer {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Signer{
		iss:        issuer,
		secret:     secret,
		expiration: expiration,
		now:        o.now,
	}
}

// Issue returns a token for username that expires after the signer's expiration.
func (j *Signer) Issue(username string) (string, error) {
	if len(username) == 0 {
		return "", errors.New("cannot issue a token without a subject")
	}
	return j.GenerateToken(Claims(username, j.now(), j.expiration))
}

func (j *Signer) GenerateToken(claims *jwt.Claims) (string, error) {
	if len(j.secret) == 0 {
		return "", errors.New("signing secret must not be empty")
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{
			Algorithm: jose.HS256,
			Key:       j.secret,
		},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", err
	}

	// later claims override earlier ones
	return jwt.Signed(signer).
		Claims(claims).
		Claims(&jwt.Claims{
			Issuer: j.iss,
		}).
		CompactSerialize()
}

// Expiration is the lifetime of issued tokens.
func (j *Signer) Expiration() time.Duration {
	return j.expiration
}
