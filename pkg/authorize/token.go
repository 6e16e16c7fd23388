package authorize

import (
	"net/http"
	"strings"
)

const (
	bearerPrefix = "Bearer "

	// TokenQueryParameter carries a token for clients that cannot set headers.
	TokenQueryParameter = "token"
)

// ExtractToken returns the bearer token of req. The Authorization header wins;
// the token query parameter is only consulted when the header is absent or is
// not of the exact form "Bearer <token>".
func ExtractToken(req *http.Request) (string, bool) {
	if auth := req.Header.Get("Authorization"); strings.HasPrefix(auth, bearerPrefix) {
		if token := auth[len(bearerPrefix):]; len(strings.TrimSpace(token)) > 0 {
			return token, true
		}
	}

	token := req.URL.Query().Get(TokenQueryParameter)
	return token, len(token) > 0
}
