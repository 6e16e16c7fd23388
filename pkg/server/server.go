// Package server wires the gateway operations to HTTP routes.
package server

import (
	"encoding/json"
	"io"
	"net"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/openshift/directory-gateway/pkg/gateway"
	gatewayhttp "github.com/openshift/directory-gateway/pkg/http"
)

const loginBodyLimit = 64 * 1024

// Paths lists the routes a listener serves.
type Paths struct {
	Paths []string `json:"paths"`
}

// ExternalPaths are the routes served by the handler returned from New.
var ExternalPaths = []string{"/", "/health", "/healthz", "/healthz/ready", "/auth/login", "/users", "/content/dog", "/content/secret-data"}

type loginRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

type handler struct {
	logger log.Logger
	svc    *gateway.Service
}

// New returns the external handler of the gateway. Routes behind auth are
// only reached with a token the Authenticator accepts.
func New(logger log.Logger, instr *Instrumenter, auth Authenticator, svc *gateway.Service) http.Handler {
	h := &handler{logger: log.With(logger, "component", "server"), svc: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.logger))

	mux := http.NewServeMux()
	gatewayhttp.HealthRoutes(mux)
	r.Mount("/", mux)

	pathsJSON, _ := json.MarshalIndent(Paths{Paths: ExternalPaths}, "", "  ")
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Add("Content-Type", "application/json")
		if _, err := w.Write(pathsJSON); err != nil {
			level.Error(h.logger).Log("msg", "could not write external paths", "err", err)
		}
	})

	r.Method(http.MethodPost, "/auth/login", instr.Handler("login", http.HandlerFunc(h.login)))
	r.Method(http.MethodGet, "/content/dog", instr.Handler("dog", http.HandlerFunc(h.dog)))

	r.Group(func(r chi.Router) {
		r.Use(RequireClient(h.logger, auth))
		r.Method(http.MethodGet, "/users", instr.Handler("users", http.HandlerFunc(h.users)))
		r.Method(http.MethodGet, "/content/secret-data", instr.Handler("secret_data", http.HandlerFunc(h.secretData)))
	})

	return r
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, loginBodyLimit)).Decode(&req); err != nil {
		renderError(h.logger, w, r, &validationError{msg: "Invalid request body"})
		return
	}
	if req.Username == nil || req.Password == nil {
		renderError(h.logger, w, r, &validationError{msg: "username and password are required"})
		return
	}

	ctx := gateway.WithClientAddr(r.Context(), remoteHost(r.RemoteAddr))
	resp, err := h.svc.Login(ctx, *req.Username, *req.Password)
	if err != nil {
		renderError(h.logger, w, r, err)
		return
	}
	renderJSON(h.logger, w, http.StatusOK, resp)
}

func (h *handler) users(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.ListUsers(r.Context())
	if err != nil {
		renderError(h.logger, w, r, err)
		return
	}
	renderJSON(h.logger, w, http.StatusOK, resp)
}

func (h *handler) dog(w http.ResponseWriter, r *http.Request) {
	renderJSON(h.logger, w, http.StatusOK, h.svc.RandomDog(r.Context()))
}

func (h *handler) secretData(w http.ResponseWriter, r *http.Request) {
	renderJSON(h.logger, w, http.StatusOK, h.svc.SecretData(r.Context()))
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
