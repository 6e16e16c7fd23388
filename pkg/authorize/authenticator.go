package authorize

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/openshift/directory-gateway/pkg/credentials"
)

// TokenAuthorizer verifies a bearer token and returns the client it was issued to.
type TokenAuthorizer interface {
	AuthorizeToken(token string) (*Client, error)
}

// Authenticator is the single authorization gate of the gateway. Protected
// routes call Require before any business logic runs.
type Authenticator struct {
	tokens TokenAuthorizer
	store  credentials.Store
	logger log.Logger
}

func NewAuthenticator(logger log.Logger, tokens TokenAuthorizer, store credentials.Store) *Authenticator {
	return &Authenticator{
		tokens: tokens,
		store:  store,
		logger: log.With(logger, "component", "authorize"),
	}
}

// Require returns the client of the token carried by req. It fails with
// ErrMissingToken when there is no token and ErrInvalidToken when the token
// does not verify.
func (a *Authenticator) Require(req *http.Request) (*Client, error) {
	token, ok := ExtractToken(req)
	if !ok {
		return nil, ErrMissingToken
	}

	client, err := a.tokens.AuthorizeToken(token)
	if err != nil {
		level.Debug(a.logger).Log("msg", "token rejected", "request", middleware.GetReqID(req.Context()), "err", err)
		return nil, ErrInvalidToken
	}

	return client, nil
}

// AuthenticateCredentials reports whether any stored record for username has
// exactly the given password. Passwords are compared as stored, without hashing.
func (a *Authenticator) AuthenticateCredentials(ctx context.Context, username, password string) (bool, error) {
	records, err := a.store.FindByUsername(ctx, username)
	if err != nil {
		return false, fmt.Errorf("look up credentials: %w", err)
	}

	var matched bool
	for _, r := range records {
		if subtle.ConstantTimeCompare([]byte(r.Password), []byte(password)) == 1 {
			matched = true
		}
	}
	return matched, nil
}
