package venue

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"xbt-alerts/pkg/types"
)

func TestNonKYCParseTrades(t *testing.T) {
	t.Parallel()

	d := NewNonKYC("XBT/USDT")

	frames, err := d.SubscribeFrames()
	if err != nil || len(frames) != 1 {
		t.Fatalf("SubscribeFrames: %v (%d frames)", err, len(frames))
	}
	if !strings.Contains(string(frames[0]), `"subscribeTrades"`) ||
		!strings.Contains(string(frames[0]), `"XBT_USDT"`) {
		t.Errorf("subscribe frame = %s", frames[0])
	}

	raw := `{"method":"updateTrades","params":{"symbol":"XBT_USDT","data":[
		{"id":1,"price":"0.166","quantity":"500","side":"buy","timestamp":"2026-08-25T12:00:00Z"},
		{"id":2,"price":"0.167","quantity":"100","side":"sell","timestamp":"2026-08-25T12:00:01Z"}
	]}}`
	events, err := d.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}

	ev := events[0]
	if ev.Venue != "nonkyc" || ev.Pair != "XBT/USDT" || ev.Side != types.SideBuy {
		t.Errorf("event = %+v", ev)
	}
	if !ev.Gross.Equal(decimal.NewFromInt(83)) {
		t.Errorf("gross = %s, want 83", ev.Gross)
	}
	want := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC).UnixMilli()
	if ev.EventTime != want {
		t.Errorf("event time = %d, want %d", ev.EventTime, want)
	}
	if events[1].Side != types.SideSell {
		t.Errorf("second side = %q", events[1].Side)
	}

	// Acks and pongs produce no events and no error.
	if evs, err := d.Parse([]byte(`{"result":true,"id":1}`)); err != nil || len(evs) != 0 {
		t.Errorf("ack handling: %v, %d events", err, len(evs))
	}
}

func TestCoinExParseDeals(t *testing.T) {
	t.Parallel()

	d := NewCoinEx("XBT/USDT")

	frames, err := d.SubscribeFrames()
	if err != nil {
		t.Fatalf("SubscribeFrames: %v", err)
	}
	if !strings.Contains(string(frames[0]), `"deals.subscribe"`) ||
		!strings.Contains(string(frames[0]), `"XBTUSDT"`) {
		t.Errorf("subscribe frame = %s", frames[0])
	}

	raw := `{"method":"deals.update","params":["XBTUSDT",[
		{"type":"buy","price":"0.2","amount":"300","date_ms":1700000000123},
		{"type":"sell","price":"0.19","amount":"10","date_ms":1700000000456}
	]],"id":null}`
	events, err := d.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].Side != types.SideBuy || !events[0].Gross.Equal(decimal.NewFromInt(60)) {
		t.Errorf("first event = %+v", events[0])
	}
	if events[0].EventTime != 1700000000123 {
		t.Errorf("event time = %d", events[0].EventTime)
	}
	if events[1].Side != types.SideSell {
		t.Errorf("second side = %q", events[1].Side)
	}
}

func TestAscendEXParseTrades(t *testing.T) {
	t.Parallel()

	d := NewAscendEX("XBT/USDT")

	frames, err := d.SubscribeFrames()
	if err != nil {
		t.Fatalf("SubscribeFrames: %v", err)
	}
	if !strings.Contains(string(frames[0]), `"trades:XBT/USDT"`) {
		t.Errorf("subscribe frame = %s", frames[0])
	}

	raw := `{"m":"trades","symbol":"XBT/USDT","data":[
		{"p":"0.21","q":"100","ts":1700000002000,"bm":false},
		{"p":"0.21","q":"40","ts":1700000003000,"bm":true}
	]}`
	events, err := d.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	// bm=false: taker bought; bm=true: taker sold.
	if events[0].Side != types.SideBuy {
		t.Errorf("bm=false side = %q", events[0].Side)
	}
	if events[1].Side != types.SideSell {
		t.Errorf("bm=true side = %q", events[1].Side)
	}
	if !events[0].Gross.Equal(decimal.NewFromInt(21)) {
		t.Errorf("gross = %s, want 21", events[0].Gross)
	}

	// Pong frames are ignored.
	if evs, err := d.Parse([]byte(`{"m":"pong"}`)); err != nil || len(evs) != 0 {
		t.Errorf("pong handling: %v, %d events", err, len(evs))
	}
}
