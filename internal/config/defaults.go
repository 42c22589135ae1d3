package config

import (
	"time"

	"github.com/spf13/viper"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Second)
	v.SetDefault("server.session_buffer", 256)

	v.SetDefault("reconcile.mode", ModeFallback)
	v.SetDefault("aggregate.history_cap", 100)

	v.SetDefault("alert.enabled", false)
	v.SetDefault("alert.threshold_percent", 2.0)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "spreadwatch")
	v.SetDefault("database.dbname", "spreadwatch")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.ttl", 2*time.Minute)

	v.SetDefault("feed.url", "http://localhost:3000")
	v.SetDefault("feed.backoff_floor", time.Second)
	v.SetDefault("feed.backoff_ceiling", 10*time.Second)
	v.SetDefault("feed.report_interval", 5*time.Second)
}

// Defaults applied per venue after unmarshalling, since viper cannot default map entries.
var (
	DefaultConnectTimeout = 10 * time.Second
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultRequestTimeout = 5 * time.Second
	DefaultBufferSize     = 256
	DefaultBackoffFloor   = time.Second
	DefaultBackoffCeiling = 16 * time.Second
)

// defaultVenues is the venue set used when the configuration names none.
func defaultVenues() map[string]VenueConfig {
	return map[string]VenueConfig{
		"reya": {
			Kind:      KindPush,
			WSURL:     "wss://ws.reya.xyz",
			RESTURL:   "https://api.reya.xyz/api",
			Normalize: NormalizeConfig{TrimSuffix: "-rUSD", Case: "upper"},
		},
		"vertex": {
			Kind:       KindPoll,
			RESTURL:    "https://gateway.prod.vertexprotocol.com/v1",
			IndexerURL: "https://archive.prod.vertexprotocol.com/v1",
			Normalize:  NormalizeConfig{TrimSuffix: "-PERP", Case: "upper"},
		},
	}
}

func applyVenueDefaults(c *Config) {
	if len(c.Venues) == 0 {
		c.Venues = defaultVenues()
	}
	for name, vc := range c.Venues {
		if vc.ConnectTimeout == 0 {
			vc.ConnectTimeout = DefaultConnectTimeout
		}
		if vc.PollInterval == 0 {
			vc.PollInterval = DefaultPollInterval
		}
		if vc.RequestTimeout == 0 {
			vc.RequestTimeout = DefaultRequestTimeout
		}
		if vc.BufferSize == 0 {
			vc.BufferSize = DefaultBufferSize
		}
		if vc.BackoffFloor == 0 {
			vc.BackoffFloor = DefaultBackoffFloor
		}
		if vc.BackoffCeiling == 0 {
			vc.BackoffCeiling = max(vc.BackoffFloor, DefaultBackoffCeiling)
		}
		c.Venues[name] = vc
	}
}
