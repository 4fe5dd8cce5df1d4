// probe.go determines per venue whether the asset is currently tradable.
//
// Results are cached and refreshed every 5 minutes; a failed probe marks the
// venue unavailable until a later probe succeeds. Stream adapters consult
// Available() before connecting, and gained/lost transitions are published
// to subscribers.
package venue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"xbt-alerts/internal/marketdata"
)

// ProbeInterval is the minimum spacing between availability checks.
const ProbeInterval = 5 * time.Minute

// Transition is published when a venue gains or loses availability.
type Transition struct {
	Venue     string
	Available bool
}

// Probe periodically checks asset tradability on each configured venue.
type Probe struct {
	clients  map[string]*marketdata.Client
	pairs    map[string]string // venue → pair used for the probe
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	avail map[string]bool
	subs  []chan Transition
}

// NewProbe creates a probe for the given venue clients. pairs maps each
// venue to the market checked for tradability.
func NewProbe(clients map[string]*marketdata.Client, pairs map[string]string, logger *slog.Logger) *Probe {
	return &Probe{
		clients:  clients,
		pairs:    pairs,
		interval: ProbeInterval,
		logger:   logger.With("component", "probe"),
		avail:    make(map[string]bool),
	}
}

// Available reports the cached availability for a venue. Unknown venues are
// unavailable until the first successful probe.
func (p *Probe) Available(venue string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.avail[venue]
}

// Subscribe returns a channel of availability transitions. Publishes are
// non-blocking; a slow subscriber misses transitions rather than stalling
// the probe.
func (p *Probe) Subscribe() <-chan Transition {
	ch := make(chan Transition, 8)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

// Run probes immediately and then on every tick until ctx is cancelled.
func (p *Probe) Run(ctx context.Context) {
	p.probeAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

func (p *Probe) probeAll(ctx context.Context) {
	for venue, client := range p.clients {
		pair, ok := p.pairs[venue]
		if !ok {
			continue
		}
		available := client.Probe(ctx, pair)
		p.publish(venue, available)
	}
}

func (p *Probe) publish(venue string, available bool) {
	p.mu.Lock()
	prev, known := p.avail[venue]
	p.avail[venue] = available
	subs := p.subs
	p.mu.Unlock()

	if known && prev == available {
		return
	}

	if available {
		p.logger.Info("venue available", "venue", venue)
	} else {
		p.logger.Warn("venue unavailable", "venue", venue)
	}

	t := Transition{Venue: venue, Available: available}
	for _, ch := range subs {
		select {
		case ch <- t:
		default:
		}
	}
}
