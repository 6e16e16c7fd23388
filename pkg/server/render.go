package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/openshift/directory-gateway/pkg/authorize"
	"github.com/openshift/directory-gateway/pkg/gateway"
)

const (
	codeMissingToken        = "MISSING_TOKEN"
	codeInvalidToken        = "INVALID_TOKEN"
	codeInvalidCredentials  = "INVALID_CREDENTIALS"
	codeRateLimited         = "RATE_LIMITED"
	codeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	codeValidation          = "VALIDATION_ERROR"
	codeInternal            = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
	Reference string `json:"reference,omitempty"`
}

func renderJSON(logger log.Logger, w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		level.Error(logger).Log("msg", "could not write response", "err", err)
	}
}

// renderError maps err onto a status code and a body. Unknown errors are
// logged under a fresh reference and never shown to the caller.
func renderError(logger log.Logger, w http.ResponseWriter, r *http.Request, err error) {
	var (
		le *gateway.LimitError
		ue *gateway.UnavailableError
		ve *validationError
	)

	switch {
	case errors.Is(err, authorize.ErrMissingToken):
		w.Header().Set("WWW-Authenticate", "Bearer")
		renderJSON(logger, w, http.StatusUnauthorized, ErrorResponse{Detail: err.Error(), ErrorCode: codeMissingToken})
	case errors.Is(err, authorize.ErrInvalidToken):
		w.Header().Set("WWW-Authenticate", "Bearer")
		renderJSON(logger, w, http.StatusUnauthorized, ErrorResponse{Detail: err.Error(), ErrorCode: codeInvalidToken})
	case errors.Is(err, authorize.ErrInvalidCredentials):
		renderJSON(logger, w, http.StatusUnauthorized, ErrorResponse{Detail: err.Error(), ErrorCode: codeInvalidCredentials})
	case errors.As(err, &le):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(le.RetryAfter.Seconds()))))
		renderJSON(logger, w, le.HTTPStatusCode(), ErrorResponse{Detail: "Too many login attempts", ErrorCode: codeRateLimited})
	case errors.As(err, &ue):
		renderJSON(logger, w, ue.HTTPStatusCode(), ErrorResponse{Detail: ue.Message(), ErrorCode: codeUpstreamUnavailable})
	case errors.As(err, &ve):
		renderJSON(logger, w, http.StatusUnprocessableEntity, ErrorResponse{Detail: ve.Error(), ErrorCode: codeValidation})
	default:
		ref := uuid.New().String()
		level.Error(logger).Log("msg", "internal error", "reference", ref, "request", middleware.GetReqID(r.Context()), "path", r.URL.Path, "err", err)
		renderJSON(logger, w, http.StatusInternalServerError, ErrorResponse{Detail: "Internal server error", ErrorCode: codeInternal, Reference: ref})
	}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
