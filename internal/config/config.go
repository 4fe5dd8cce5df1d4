// Package config defines the bot's single mutable configuration document.
//
// The document is loaded from a JSON file (default: configs/config.json)
// with sensitive fields overridable via XBT_* environment variables. At
// runtime it is owned by Store, which validates and atomically persists
// every update.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the JSON document.
type Config struct {
	BotToken      string  `mapstructure:"bot_token" json:"bot_token"`
	ValueRequire  float64 `mapstructure:"value_require" json:"value_require"`
	ActiveChatIDs []int64 `mapstructure:"active_chat_ids" json:"active_chat_ids"`
	BotOwner      int64   `mapstructure:"bot_owner" json:"bot_owner"`
	ByPass        int64   `mapstructure:"by_pass" json:"by_pass"`
	ImagePath     string  `mapstructure:"image_path" json:"image_path"`

	DynamicThreshold DynamicThresholdConfig `mapstructure:"dynamic_threshold" json:"dynamic_threshold"`
	TradeAggregation TradeAggregationConfig `mapstructure:"trade_aggregation" json:"trade_aggregation"`
	SweepOrders      SweepOrdersConfig      `mapstructure:"sweep_orders" json:"sweep_orders"`

	// Venues holds optional per-venue API credentials, keyed by venue name.
	Venues map[string]VenueCredentials `mapstructure:"venues" json:"venues,omitempty"`

	// CirculatingSupply lets the alert footer show a market cap. Zero = unknown.
	CirculatingSupply float64 `mapstructure:"circulating_supply" json:"circulating_supply,omitempty"`

	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
	Ops     OpsConfig     `mapstructure:"ops" json:"ops"`
}

// DynamicThresholdConfig drives the volume-based threshold controller.
// Every PriceCheckInterval seconds the effective threshold becomes
// clamp(BaseValue + volume24h×VolumeMultiplier, MinThreshold, MaxThreshold).
type DynamicThresholdConfig struct {
	Enabled            bool    `mapstructure:"enabled" json:"enabled"`
	BaseValue          float64 `mapstructure:"base_value" json:"base_value"`
	VolumeMultiplier   float64 `mapstructure:"volume_multiplier" json:"volume_multiplier"`
	PriceCheckInterval int     `mapstructure:"price_check_interval" json:"price_check_interval"` // seconds
	MinThreshold       float64 `mapstructure:"min_threshold" json:"min_threshold"`
	MaxThreshold       float64 `mapstructure:"max_threshold" json:"max_threshold"`
}

// TradeAggregationConfig controls windowed coalescing of trade bursts.
type TradeAggregationConfig struct {
	Enabled       bool `mapstructure:"enabled" json:"enabled"`
	WindowSeconds int  `mapstructure:"window_seconds" json:"window_seconds"`
}

// SweepOrdersConfig controls the order-book sweep detection feed.
// A sweep is reported only when at least MinOrdersFilled ask levels are
// fully cleared in one book update and the swept value reaches MinValue.
type SweepOrdersConfig struct {
	Enabled         bool    `mapstructure:"enabled" json:"enabled"`
	MinValue        float64 `mapstructure:"min_value" json:"min_value"`
	CheckInterval   int     `mapstructure:"check_interval" json:"check_interval"` // seconds
	MinOrdersFilled int     `mapstructure:"min_orders_filled" json:"min_orders_filled"`
}

// VenueCredentials are optional API credentials for a venue's REST surface.
type VenueCredentials struct {
	APIKey    string `mapstructure:"api_key" json:"api_key,omitempty"`
	APISecret string `mapstructure:"api_secret" json:"api_secret,omitempty"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// OpsConfig controls the operational HTTP server (/healthz, /status, /metrics).
type OpsConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	Port    int  `mapstructure:"port" json:"port"`
}

// Default returns the document created when no config file exists yet.
// The bot token has no sane default and must be supplied before startup.
func Default() Config {
	return Config{
		ValueRequire:  100,
		ActiveChatIDs: []int64{},
		DynamicThreshold: DynamicThresholdConfig{
			BaseValue:          100,
			VolumeMultiplier:   0.001,
			PriceCheckInterval: 300,
			MinThreshold:       50,
			MaxThreshold:       5000,
		},
		TradeAggregation: TradeAggregationConfig{
			Enabled:       true,
			WindowSeconds: 8,
		},
		SweepOrders: SweepOrdersConfig{
			MinValue:        500,
			CheckInterval:   1,
			MinOrdersFilled: 3,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Ops:     OpsConfig{Port: 9091},
	}
}

// Load reads the config document with env var overrides. If the file does
// not exist, a default document is written so operators have something to
// edit.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		def := Default()
		if err := writeDocument(path, def); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("XBT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if tok := os.Getenv("XBT_BOT_TOKEN"); tok != "" {
		cfg.BotToken = tok
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("bot_token is required (set XBT_BOT_TOKEN)")
	}
	if c.ValueRequire <= 0 {
		return fmt.Errorf("value_require must be > 0")
	}
	if c.BotOwner <= 0 {
		return fmt.Errorf("bot_owner must be a positive chat id")
	}
	if c.TradeAggregation.WindowSeconds <= 0 {
		return fmt.Errorf("trade_aggregation.window_seconds must be > 0")
	}
	if c.DynamicThreshold.MinThreshold > c.DynamicThreshold.MaxThreshold {
		return fmt.Errorf("dynamic_threshold.min_threshold must be ≤ max_threshold")
	}
	if c.DynamicThreshold.Enabled && c.DynamicThreshold.PriceCheckInterval <= 0 {
		return fmt.Errorf("dynamic_threshold.price_check_interval must be > 0")
	}
	if c.SweepOrders.Enabled && c.SweepOrders.MinOrdersFilled <= 0 {
		return fmt.Errorf("sweep_orders.min_orders_filled must be > 0")
	}
	return nil
}

// clone returns a deep copy so Store mutations never alias reader snapshots.
func (c Config) clone() Config {
	out := c
	out.ActiveChatIDs = append([]int64(nil), c.ActiveChatIDs...)
	if c.Venues != nil {
		out.Venues = make(map[string]VenueCredentials, len(c.Venues))
		for k, v := range c.Venues {
			out.Venues[k] = v
		}
	}
	return out
}
