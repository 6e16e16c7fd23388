package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// InstrumentedRoundTripper holds necessary metrics to instrument an http.RoundTripper.
type InstrumentedRoundTripper interface {
	NewRoundTripper(name string, rt http.RoundTripper) http.RoundTripper
}

type defaultInstrumentedRoundTripper struct {
	inFlightGauge *prometheus.GaugeVec
	counter       *prometheus.CounterVec
	histVec       *prometheus.HistogramVec
}

// NewInstrumentedRoundTripper registers the client metrics with reg. Every
// round tripper it wraps reports under its own client label.
func NewInstrumentedRoundTripper(reg prometheus.Registerer) InstrumentedRoundTripper {
	return &defaultInstrumentedRoundTripper{
		inFlightGauge: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "client_in_flight_requests",
				Help: "A gauge of in-flight requests for the wrapped client.",
			}, []string{"client"},
		),
		counter: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "client_api_requests_total",
				Help: "A counter for requests from the wrapped client.",
			}, []string{"code", "method", "client"},
		),
		histVec: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "client_request_duration_seconds",
				Help:    "A histogram of request latencies.",
				Buckets: prometheus.DefBuckets,
			}, []string{"method", "client"},
		),
	}
}

func (rt *defaultInstrumentedRoundTripper) NewRoundTripper(clientName string, next http.RoundTripper) http.RoundTripper {
	labels := prometheus.Labels{"client": clientName}
	instrumented := promhttp.InstrumentRoundTripperInFlight(rt.inFlightGauge.With(labels),
		promhttp.InstrumentRoundTripperCounter(rt.counter.MustCurryWith(labels),
			promhttp.InstrumentRoundTripperDuration(rt.histVec.MustCurryWith(labels), next),
		),
	)

	// promhttp does not pass the idle connection closer through.
	if ic, ok := next.(idleConnectionCloser); ok {
		return &transportWithIdleConnectionCloser{
			idleConnectionCloser: ic,
			RoundTripper:         instrumented,
		}
	}
	return instrumented
}

type idleConnectionCloser interface {
	CloseIdleConnections()
}

type transportWithIdleConnectionCloser struct {
	idleConnectionCloser
	http.RoundTripper
}

type userAgentRoundTripper struct {
	userAgent string
	next      http.RoundTripper
}

// NewUserAgentRoundTripper sets the User-Agent header of every request.
func NewUserAgentRoundTripper(userAgent string, next http.RoundTripper) http.RoundTripper {
	return &userAgentRoundTripper{userAgent: userAgent, next: next}
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// a RoundTripper must not modify the request it was given
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", rt.userAgent)
	return rt.next.RoundTrip(clone)
}

func (rt *userAgentRoundTripper) CloseIdleConnections() {
	if ic, ok := rt.next.(idleConnectionCloser); ok {
		ic.CloseIdleConnections()
	}
}
