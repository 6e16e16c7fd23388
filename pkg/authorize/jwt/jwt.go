// Package jwt issues and verifies the gateway's bearer tokens: HS256-signed
// JWTs carrying the username as subject and a fixed lifetime.
package jwt

import (
	"time"
)

// DefaultIssuer is the issuer of tokens minted by the gateway.
const DefaultIssuer = "directory-gateway"

type options struct {
	now func() time.Time
}

type Option func(*options)

// WithClock replaces time.Now as the source of issue and expiry times.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New returns a signer and a matching authorizer for the shared secret.
func New(issuer string, secret []byte, expiration time.Duration, opts ...Option) (*Signer, *Authorizer) {
	return NewSigner(issuer, secret, expiration, opts...), NewAuthorizer(issuer, secret, opts...)
}
