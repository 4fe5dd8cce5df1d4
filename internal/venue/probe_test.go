package venue

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"xbt-alerts/internal/config"
	"xbt-alerts/internal/marketdata"
)

func TestProbeAvailabilityAndTransitions(t *testing.T) {
	t.Parallel()

	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"last":"0.16","volumeQuote":"100"}`)
	}))
	t.Cleanup(srv.Close)

	client, err := marketdata.NewClient("nonkyc", config.VenueCredentials{}, testLogger(), marketdata.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	p := NewProbe(
		map[string]*marketdata.Client{"nonkyc": client},
		map[string]string{"nonkyc": "XBT/USDT"},
		testLogger(),
	)
	transitions := p.Subscribe()

	if p.Available("nonkyc") {
		t.Error("venue available before any probe")
	}

	p.probeAll(t.Context())
	if !p.Available("nonkyc") {
		t.Fatal("healthy venue not available after probe")
	}
	if tr := <-transitions; !tr.Available || tr.Venue != "nonkyc" {
		t.Errorf("transition = %+v", tr)
	}

	// A failed probe flips the venue to unavailable.
	failing.Store(true)
	p.probeAll(t.Context())
	if p.Available("nonkyc") {
		t.Fatal("failing venue still available")
	}
	if tr := <-transitions; tr.Available {
		t.Errorf("transition = %+v", tr)
	}

	// Repeating the same result publishes nothing.
	p.probeAll(t.Context())
	select {
	case tr := <-transitions:
		t.Errorf("duplicate transition published: %+v", tr)
	default:
	}
}
