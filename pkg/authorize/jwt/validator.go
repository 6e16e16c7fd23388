package jwt

import (
	"errors"
	"fmt"
	"time"

	jose "gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/openshift/directory-gateway/pkg/authorize"
)

var (
	errExpired             = errors.New("token has expired")
	errMissingSubject      = errors.New("token has no subject")
	errUnexpectedAlgorithm = errors.New("unexpected signing algorithm")
)

// Authorizer verifies tokens produced by a Signer sharing the same secret.
// There is no revocation: a token stays valid until its expiry.
type Authorizer struct {
	iss    string
	secret []byte
	now    func() time.Time
}

var _ authorize.TokenAuthorizer = (*Authorizer)(nil)

func NewAuthorizer(issuer string, secret []byte, opts ...Option) *Authorizer {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Authorizer{
		iss:    issuer,
		secret: secret,
		now:    o.now,
	}
}

func (j *Authorizer) AuthorizeToken(tokenData string) (*authorize.Client, error) {
	tok, err := jwt.ParseSigned(tokenData)
	if err != nil {
		return nil, fmt.Errorf("unable to parse token: %w", err)
	}

	for _, h := range tok.Headers {
		if h.Algorithm != string(jose.HS256) {
			return nil, errUnexpectedAlgorithm
		}
	}

	claims := &jwt.Claims{}
	if err := tok.Claims(j.secret, claims); err != nil {
		return nil, err
	}

	return j.validate(claims)
}

func (j *Authorizer) validate(claims *jwt.Claims) (*authorize.Client, error) {
	now := j.now()

	err := claims.ValidateWithLeeway(jwt.Expected{
		Issuer: j.iss,
		Time:   now,
	}, 0)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrExpired):
		return nil, errExpired
	default:
		return nil, fmt.Errorf("token could not be validated: %w", err)
	}

	// ValidateWithLeeway accepts a token at the exact second it expires.
	if claims.Expiry == nil || !now.Before(claims.Expiry.Time()) {
		return nil, errExpired
	}
	if len(claims.Subject) == 0 {
		return nil, errMissingSubject
	}

	return &authorize.Client{ID: claims.Subject}, nil
}
