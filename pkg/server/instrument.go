package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Instrumenter records request metrics per named handler.
type Instrumenter struct {
	requestDuration *prometheus.HistogramVec
	requestSize     *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
}

func NewInstrumenter(reg prometheus.Registerer) *Instrumenter {
	i := &Instrumenter{
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:                            "http_request_duration_seconds",
				Help:                            "Tracks the latencies for HTTP requests.",
				NativeHistogramBucketFactor:     1.1,
				NativeHistogramMaxBucketNumber:  100,
				NativeHistogramMinResetDuration: 1 * time.Hour,
				Buckets:                         prometheus.DefBuckets,
			},
			[]string{"code", "handler", "method"},
		),
		requestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:                            "http_request_size_bytes",
				Help:                            "Tracks the size of HTTP requests.",
				NativeHistogramBucketFactor:     1.1,
				NativeHistogramMaxBucketNumber:  100,
				NativeHistogramMinResetDuration: 1 * time.Hour,
				Buckets:                         []float64{256, 1024, 8192, 65536},
			},
			[]string{"code", "handler", "method"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Tracks the number of HTTP requests.",
			}, []string{"code", "handler", "method"},
		),
	}

	if reg != nil {
		reg.MustRegister(i.requestDuration, i.requestSize, i.requestsTotal)
	}
	return i
}

// Handler is an HTTP middleware that monitors HTTP requests and responses of next.
func (i *Instrumenter) Handler(handlerName string, next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(
		i.requestDuration.MustCurryWith(prometheus.Labels{"handler": handlerName}),
		promhttp.InstrumentHandlerRequestSize(
			i.requestSize.MustCurryWith(prometheus.Labels{"handler": handlerName}),
			promhttp.InstrumentHandlerCounter(
				i.requestsTotal.MustCurryWith(prometheus.Labels{"handler": handlerName}),
				next,
			),
		),
	)
}
