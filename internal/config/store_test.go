package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func validConfig() Config {
	c := Default()
	c.BotToken = "123:token"
	c.BotOwner = 42
	return c
}

func TestLoadCreatesDefaultDocument(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default document not written: %v", err)
	}
	if cfg.ValueRequire != 100 {
		t.Errorf("default value_require = %v, want 100", cfg.ValueRequire)
	}
	if !cfg.TradeAggregation.Enabled || cfg.TradeAggregation.WindowSeconds != 8 {
		t.Errorf("default aggregation = %+v", cfg.TradeAggregation)
	}
	if cfg.DynamicThreshold.MaxThreshold != 5000 {
		t.Errorf("default max_threshold = %v", cfg.DynamicThreshold.MaxThreshold)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	good := validConfig()
	if err := good.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.BotToken = "" }},
		{"zero threshold", func(c *Config) { c.ValueRequire = 0 }},
		{"no owner", func(c *Config) { c.BotOwner = 0 }},
		{"zero window", func(c *Config) { c.TradeAggregation.WindowSeconds = 0 }},
		{"inverted clamp", func(c *Config) {
			c.DynamicThreshold.MinThreshold = 10_000
		}},
		{"sweep without levels", func(c *Config) {
			c.SweepOrders.Enabled = true
			c.SweepOrders.MinOrdersFilled = 0
		}},
	}
	for _, tc := range cases {
		c := validConfig()
		tc.mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: invalid config accepted", tc.name)
		}
	}
}

func TestStoreUpdatePersistsAtomically(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	store := NewStore(path, validConfig())

	if err := store.SetThreshold(250); err != nil {
		t.Fatalf("SetThreshold: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("persisted document missing: %v", err)
	}
	var onDisk Config
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("persisted document unreadable: %v", err)
	}
	if onDisk.ValueRequire != 250 {
		t.Errorf("persisted value_require = %v, want 250", onDisk.ValueRequire)
	}
	if !store.Threshold().Equal(decimal.NewFromInt(250)) {
		t.Errorf("Threshold() = %s, want 250", store.Threshold())
	}
}

func TestStoreRejectsInvalidUpdate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	store := NewStore(path, validConfig())

	err := store.Update(func(c *Config) { c.ValueRequire = -5 })
	if err == nil {
		t.Fatal("invalid update accepted")
	}
	if got := store.Get().ValueRequire; got != 100 {
		t.Errorf("rejected update leaked into memory: value_require = %v", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("rejected update reached disk")
	}
}

func TestStoreKeepsMemoryWhenPersistFails(t *testing.T) {
	t.Parallel()

	// The document path is an existing directory, so the final rename fails.
	path := t.TempDir()
	store := NewStore(path, validConfig())

	if err := store.SetThreshold(300); err == nil {
		t.Fatal("persist onto a directory should fail")
	}
	if got := store.Get().ValueRequire; got != 100 {
		t.Errorf("failed persist changed memory: value_require = %v", got)
	}
}

func TestToggleAggregation(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	store := NewStore(path, validConfig())

	enabled, err := store.ToggleAggregation()
	if err != nil {
		t.Fatalf("ToggleAggregation: %v", err)
	}
	if enabled {
		t.Error("first toggle should disable (default is enabled)")
	}
	enabled, err = store.ToggleAggregation()
	if err != nil {
		t.Fatalf("ToggleAggregation: %v", err)
	}
	if !enabled {
		t.Error("second toggle should re-enable")
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "config.json"), validConfig())

	snap := store.Get()
	snap.ActiveChatIDs = append(snap.ActiveChatIDs, 99)
	snap.ValueRequire = 1

	if got := store.Get(); got.ValueRequire != 100 || len(got.ActiveChatIDs) != 0 {
		t.Errorf("snapshot mutation leaked into store: %+v", got)
	}
}
