// store.go owns the mutable runtime configuration document.
//
// Writers serialize through Update, which applies a mutation to a copy,
// validates it, persists it with an atomic tmp+rename write, and only then
// replaces the in-memory document. A failed persist leaves the previous
// document in force (persist-first semantics). Readers get consistent
// snapshots from Get.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shopspring/decimal"
)

// Store holds the live Config document and its backing file.
type Store struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

// NewStore wraps an already-loaded document.
func NewStore(path string, cfg Config) *Store {
	return &Store{path: path, cfg: cfg}
}

// Get returns a consistent snapshot. Callers must treat it as immutable.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.clone()
}

// Update applies mutate to a copy of the document, validates the result,
// persists it, and publishes it. Invalid or unpersistable writes are
// rejected whole; there are no partial updates.
func (s *Store) Update(mutate func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg.clone()
	mutate(&next)

	if err := next.Validate(); err != nil {
		return fmt.Errorf("config rejected: %w", err)
	}
	if err := writeDocument(s.path, next); err != nil {
		return fmt.Errorf("persist config: %w", err)
	}
	s.cfg = next
	return nil
}

// Threshold returns the effective alert threshold in the canonical quote.
func (s *Store) Threshold() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return decimal.NewFromFloat(s.cfg.ValueRequire)
}

// SetThreshold validates and stores a new static threshold.
func (s *Store) SetThreshold(v float64) error {
	return s.Update(func(c *Config) { c.ValueRequire = v })
}

// ToggleAggregation inverts trade_aggregation.enabled and reports the new state.
func (s *Store) ToggleAggregation() (bool, error) {
	var enabled bool
	err := s.Update(func(c *Config) {
		c.TradeAggregation.Enabled = !c.TradeAggregation.Enabled
		enabled = c.TradeAggregation.Enabled
	})
	return enabled, err
}

// writeDocument persists the document with a tmp+rename so the file is never
// left in a partial state.
func writeDocument(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, path)
}
