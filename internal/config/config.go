// Package config loads runtime settings for the kinloop core. Values are
// resolved in three layers: built-in defaults, then an optional JSON file
// (-c/-config), then command-line flags. Later sources take precedence.
package config

import "time"

// Config holds process-wide immutable settings. It is loaded once at startup
// and injected into components; nothing mutates it afterwards.
//
// Fields:
//   - RelayURLs: the event relay endpoint set used for all group traffic.
//   - ModerationEndpoints: the fixed endpoint set for moderator escalations.
//   - ModeratorKeys: allow-list of public keys recognized as moderators.
//   - DatabaseDSN: sqlite DSN for the device-local store.
//   - DiscoveryTimeout: cap on key-package discovery.
//   - PublishTimeout: cap on group/moderation publishes and backup traffic.
//   - LikeRateWindow / LikeRateLimit: sliding-window abuse guard parameters.
type Config struct {
	RelayURLs           []string
	ModerationEndpoints []string
	ModeratorKeys       []string
	DatabaseDSN         string
	DiscoveryTimeout    time.Duration
	PublishTimeout      time.Duration
	LikeRateWindow      time.Duration
	LikeRateLimit       int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.RelayURLs = []string{"wss://relay1.kinloop.app", "wss://relay2.kinloop.app"}
	c.ModerationEndpoints = []string{"wss://moderation.kinloop.app"}
	c.ModeratorKeys = nil
	c.DatabaseDSN = "file:kinloop.db"
	c.DiscoveryTimeout = 5 * time.Second
	c.PublishTimeout = 10 * time.Second
	c.LikeRateWindow = time.Hour
	c.LikeRateLimit = 120
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present).
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
