package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/efficientgo/core/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestClientRoundTrippers(t *testing.T) {
	var gotUA string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusTeapot)
	}))
	defer s.Close()

	reg := prometheus.NewRegistry()
	ins := NewInstrumentedRoundTripper(reg)
	transport := &http.Transport{}
	client := &http.Client{
		Transport: ins.NewRoundTripper("users", NewUserAgentRoundTripper("RefactorMe/1.0", transport)),
	}

	req, err := http.NewRequest(http.MethodGet, s.URL, nil)
	testutil.Ok(t, err)
	resp, err := client.Do(req)
	testutil.Ok(t, err)
	resp.Body.Close()

	testutil.Equals(t, http.StatusTeapot, resp.StatusCode)
	testutil.Equals(t, "RefactorMe/1.0", gotUA)
	testutil.Equals(t, "", req.Header.Get("User-Agent"))

	ds := ins.(*defaultInstrumentedRoundTripper)
	testutil.Equals(t, 1.0, promtestutil.ToFloat64(ds.counter.WithLabelValues("418", "get", "users")))

	_, ok := client.Transport.(idleConnectionCloser)
	testutil.Assert(t, ok, "expected the instrumented transport to close idle connections")
	client.CloseIdleConnections()
}

func TestHealthRoutes(t *testing.T) {
	mux := HealthRoutes(http.NewServeMux())
	for _, path := range []string{"/health", "/healthz", "/healthz/ready"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		testutil.Equals(t, http.StatusOK, rec.Code, path)
		testutil.Equals(t, "{\"message\":\"API is running\",\"status\":\"healthy\"}\n", rec.Body.String(), path)
	}
}
