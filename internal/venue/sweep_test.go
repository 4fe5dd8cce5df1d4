package venue

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"xbt-alerts/pkg/types"
)

func sweepWith(t *testing.T, settings SweepSettings) *NonKYCSweep {
	t.Helper()
	d := NewNonKYCSweep("XBT/USDT", func() SweepSettings { return settings })
	d.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	snapshot := `{"method":"snapshotOrderbook","params":{"symbol":"XBT_USDT","sequence":10,
		"ask":[
			{"price":"0.20","size":"1000"},
			{"price":"0.21","size":"1000"},
			{"price":"0.22","size":"1000"},
			{"price":"0.23","size":"1000"}
		],
		"bid":[{"price":"0.19","size":"500"}]}}`
	if _, err := d.Parse([]byte(snapshot)); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return d
}

func defaultSweepSettings() SweepSettings {
	return SweepSettings{
		Enabled:         true,
		MinValue:        decimal.NewFromInt(500),
		MinOrdersFilled: 3,
	}
}

func clearLevels(seq int, prices ...string) []byte {
	asks := ""
	for i, p := range prices {
		if i > 0 {
			asks += ","
		}
		asks += fmt.Sprintf(`{"price":%q,"size":"0"}`, p)
	}
	return []byte(fmt.Sprintf(
		`{"method":"updateOrderbook","params":{"symbol":"XBT_USDT","sequence":%d,"ask":[%s],"bid":[]}}`,
		seq, asks))
}

func TestSweepDetection(t *testing.T) {
	t.Parallel()

	d := sweepWith(t, defaultSweepSettings())

	events, err := d.Parse(clearLevels(11, "0.20", "0.21", "0.22"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	ev := events[0]
	if ev.Side != types.SideBuy {
		t.Errorf("side = %q, want buy", ev.Side)
	}
	if !ev.Quantity.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("quantity = %s, want 3000", ev.Quantity)
	}
	// 0.20×1000 + 0.21×1000 + 0.22×1000 = 630; VWAP 630/3000 = 0.21.
	if !ev.Gross.Equal(decimal.NewFromInt(630)) {
		t.Errorf("gross = %s, want 630", ev.Gross)
	}
	if !ev.Price.Equal(decimal.NewFromFloat(0.21)) {
		t.Errorf("vwap = %s, want 0.21", ev.Price)
	}
	if ev.Venue != "nonkyc-sweep" {
		t.Errorf("venue = %q", ev.Venue)
	}
}

func TestSweepRequiresMinLevels(t *testing.T) {
	t.Parallel()

	d := sweepWith(t, defaultSweepSettings())

	events, err := d.Parse(clearLevels(11, "0.20", "0.21"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("two cleared levels reported as a sweep")
	}
}

func TestSweepRequiresMinValue(t *testing.T) {
	t.Parallel()

	settings := defaultSweepSettings()
	settings.MinValue = decimal.NewFromInt(1000) // swept value is 630
	d := sweepWith(t, settings)

	events, err := d.Parse(clearLevels(11, "0.20", "0.21", "0.22"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("sub-minimum sweep reported")
	}
}

func TestSweepDisabled(t *testing.T) {
	t.Parallel()

	settings := defaultSweepSettings()
	settings.Enabled = false
	d := sweepWith(t, settings)

	events, err := d.Parse(clearLevels(11, "0.20", "0.21", "0.22"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("disabled sweep feed emitted an event")
	}
}

func TestSweepSequenceGapForcesResync(t *testing.T) {
	t.Parallel()

	d := sweepWith(t, defaultSweepSettings())

	_, err := d.Parse(clearLevels(13, "0.20"))
	if !errors.Is(err, ErrResync) {
		t.Fatalf("gap error = %v, want ErrResync", err)
	}

	// After the gap the book is unsynced: further updates are ignored until
	// a fresh snapshot arrives.
	events, err := d.Parse(clearLevels(14, "0.21", "0.22", "0.23"))
	if err != nil || len(events) != 0 {
		t.Errorf("unsynced book produced %d events, err %v", len(events), err)
	}
}

func TestSweepIgnoresUpdatesBeforeSnapshot(t *testing.T) {
	t.Parallel()

	d := NewNonKYCSweep("XBT/USDT", defaultSweepSettings)

	events, err := d.Parse(clearLevels(5, "0.20", "0.21", "0.22"))
	if err != nil || len(events) != 0 {
		t.Errorf("pre-snapshot update produced %d events, err %v", len(events), err)
	}
}

func TestSweepCooldownSuppressesRepeats(t *testing.T) {
	t.Parallel()

	settings := defaultSweepSettings()
	settings.Cooldown = time.Second
	d := sweepWith(t, settings)

	events, err := d.Parse(clearLevels(11, "0.20", "0.21", "0.22"))
	if err != nil || len(events) != 1 {
		t.Fatalf("first sweep: %d events, err %v", len(events), err)
	}

	// Refill and clear again within the cooldown window.
	refill := []byte(`{"method":"updateOrderbook","params":{"symbol":"XBT_USDT","sequence":12,
		"ask":[{"price":"0.20","size":"1000"},{"price":"0.21","size":"1000"},{"price":"0.22","size":"1000"}],"bid":[]}}`)
	if _, err := d.Parse(refill); err != nil {
		t.Fatalf("refill: %v", err)
	}
	events, err = d.Parse(clearLevels(13, "0.20", "0.21", "0.22"))
	if err != nil || len(events) != 0 {
		t.Errorf("cooldown violated: %d events, err %v", len(events), err)
	}
}
