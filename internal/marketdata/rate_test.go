package marketdata

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"xbt-alerts/internal/config"
)

func TestRateCacheRefreshAndStaleReuse(t *testing.T) {
	t.Parallel()

	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"last":"65000","volumeQuote":"1"}`)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient("nonkyc", config.VenueCredentials{}, testLogger(), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	rc := NewRateCache(client, testLogger())

	if _, ok := rc.Get(); ok {
		t.Fatal("empty cache reported a rate")
	}

	if err := rc.Refresh(t.Context()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	rate, ok := rc.Get()
	if !ok || !rate.Equal(decimal.NewFromInt(65000)) {
		t.Fatalf("rate = %s, ok = %v", rate, ok)
	}

	// A successful refresh publishes the rate gauge.
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var gauge float64
	seen := false
	for _, mf := range families {
		if mf.GetName() == "xbt_reference_rate" {
			gauge = mf.GetMetric()[0].GetGauge().GetValue()
			seen = true
		}
	}
	if !seen || gauge != 65000 {
		t.Fatalf("reference rate gauge = %v (seen = %v), want 65000", gauge, seen)
	}

	// A failed refresh keeps the previous value in place.
	failing.Store(true)
	if err := rc.Refresh(t.Context()); err == nil {
		t.Fatal("refresh against failing venue succeeded")
	}
	rate, ok = rc.Get()
	if !ok || !rate.Equal(decimal.NewFromInt(65000)) {
		t.Fatalf("stale rate lost: %s, ok = %v", rate, ok)
	}
	if _, ok := rc.Age(); !ok {
		t.Error("fetched cache reports no age")
	}
}
