package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/kinloop/kinloop/internal/flagx"
	"github.com/kinloop/kinloop/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "5s"
// or as integer nanoseconds. After parsing, values are copied into the
// runtime Config (which uses time.Duration).
type JsonConfig struct {
	RelayURLs           []string       `json:"relay_urls"`
	ModerationEndpoints []string       `json:"moderation_endpoints"`
	ModeratorKeys       []string       `json:"moderator_keys"`
	DatabaseDSN         string         `json:"database_dsn"`
	DiscoveryTimeout    timex.Duration `json:"discovery_timeout"`
	PublishTimeout      timex.Duration `json:"publish_timeout"`
	LikeRateWindow      timex.Duration `json:"like_rate_window"`
	LikeRateLimit       int            `json:"like_rate_limit"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JsonConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// Only fields present in the file override the current Config values.
// Panics on read or unmarshal errors (caller should recover if desired).
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if len(jc.RelayURLs) > 0 {
		cfg.RelayURLs = jc.RelayURLs
	}
	if len(jc.ModerationEndpoints) > 0 {
		cfg.ModerationEndpoints = jc.ModerationEndpoints
	}
	if len(jc.ModeratorKeys) > 0 {
		cfg.ModeratorKeys = jc.ModeratorKeys
	}
	if jc.DatabaseDSN != "" {
		cfg.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.DiscoveryTimeout.Duration != 0 {
		cfg.DiscoveryTimeout = time.Duration(jc.DiscoveryTimeout.Duration)
	}
	if jc.PublishTimeout.Duration != 0 {
		cfg.PublishTimeout = time.Duration(jc.PublishTimeout.Duration)
	}
	if jc.LikeRateWindow.Duration != 0 {
		cfg.LikeRateWindow = time.Duration(jc.LikeRateWindow.Duration)
	}
	if jc.LikeRateLimit != 0 {
		cfg.LikeRateLimit = jc.LikeRateLimit
	}
}
