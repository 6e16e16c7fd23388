package server

import (
	"net/http"

	"github.com/go-kit/log"

	"github.com/openshift/directory-gateway/pkg/authorize"
)

// Authenticator resolves the client of a request or rejects it.
type Authenticator interface {
	Require(req *http.Request) (*authorize.Client, error)
}

// RequireClient rejects requests without a valid token before next runs and
// stores the authenticated client in the request context.
func RequireClient(logger log.Logger, auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, err := auth.Require(r)
			if err != nil {
				renderError(logger, w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(authorize.WithClient(r.Context(), client)))
		})
	}
}
