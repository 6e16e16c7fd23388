package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.opentelemetry.io/otel/trace"
)

// ProcessTimeHeader carries the seconds spent serving a request.
const ProcessTimeHeader = "X-Process-Time"

// accessLogResponseWriter captures the HTTP status code and stamps the
// process time header right before the header is written.
type accessLogResponseWriter struct {
	http.ResponseWriter
	start       time.Time
	statusCode  int
	wroteHeader bool
}

func (a *accessLogResponseWriter) WriteHeader(code int) {
	if !a.wroteHeader {
		a.wroteHeader = true
		a.statusCode = code
		a.Header().Set(ProcessTimeHeader, strconv.FormatFloat(time.Since(a.start).Seconds(), 'f', 6, 64))
	}
	a.ResponseWriter.WriteHeader(code)
}

func (a *accessLogResponseWriter) Write(b []byte) (int, error) {
	if !a.wroteHeader {
		a.WriteHeader(http.StatusOK)
	}
	return a.ResponseWriter.Write(b)
}

// RequestLogger is a middleware that logs requests.
func RequestLogger(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			aw := &accessLogResponseWriter{ResponseWriter: w, start: time.Now(), statusCode: http.StatusOK}

			next.ServeHTTP(aw, r)

			spanContext := trace.SpanFromContext(r.Context()).SpanContext()
			level.Info(logger).Log(
				"trace_id", spanContext.TraceID().String(),
				"span_id", spanContext.SpanID().String(),
				"request", middleware.GetReqID(r.Context()),
				"msg", "request log",
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.statusCode,
				"duration", time.Since(aw.start),
			)
		})
	}
}
