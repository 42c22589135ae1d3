package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Venue kinds.
const (
	KindPush = "push"
	KindPoll = "poll"
)

// Reconciliation modes.
const (
	ModeIntersection = "intersection"
	ModeFallback     = "fallback"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Log       LogConfig
	Server    ServerConfig
	Reconcile ReconcileConfig
	Aggregate AggregateConfig
	Alert     AlertConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Feed      FeedConfig
	Venues    map[string]VenueConfig
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string
}

// ServerConfig defines the client-facing HTTP/WebSocket listener.
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	SessionBuffer   int           `mapstructure:"session_buffer"`
}

// ReconcileConfig defines how venue symbol universes are combined.
type ReconcileConfig struct {
	Mode string
}

// AggregateConfig defines the consumer-side aggregate store.
type AggregateConfig struct {
	HistoryCap int `mapstructure:"history_cap"`
}

// AlertConfig defines the spread alert monitor.
type AlertConfig struct {
	Enabled          bool
	ThresholdPercent float64 `mapstructure:"threshold_percent"`
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// RedisConfig defines the latest-price cache.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// FeedConfig defines how a remote consumer reaches the server.
type FeedConfig struct {
	URL            string
	BackoffFloor   time.Duration `mapstructure:"backoff_floor"`
	BackoffCeiling time.Duration `mapstructure:"backoff_ceiling"`
	Symbols        []string
	ReportInterval time.Duration `mapstructure:"report_interval"`
}

// VenueConfig defines settings for a specific venue.
type VenueConfig struct {
	Kind           string
	WSURL          string        `mapstructure:"ws_url"`
	RESTURL        string        `mapstructure:"rest_url"`
	IndexerURL     string        `mapstructure:"indexer_url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	BufferSize     int           `mapstructure:"buffer_size"`
	// BackoffFloor and BackoffCeiling bound the push reconnect delay.
	BackoffFloor   time.Duration `mapstructure:"backoff_floor"`
	BackoffCeiling time.Duration `mapstructure:"backoff_ceiling"`
	Normalize      NormalizeConfig
	// Markets overrides ticker to channel ids, as "TICKER=CHANNEL".
	Markets []string
}

// NormalizeConfig is a venue's rule for mapping native symbols to canonical ones.
type NormalizeConfig struct {
	TrimPrefix string `mapstructure:"trim_prefix"`
	TrimSuffix string `mapstructure:"trim_suffix"`
	Case       string
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and environment apply.
func LoadConfig(path string) (config Config, err error) {
	return load(viper.New(), path)
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"addr":      "server.addr",
	"url":       "feed.url",
	"symbols":   "feed.symbols",
	"log-level": "log.level",
}

// LoadConfigWithFlags is LoadConfig with command-line flags bound over the file values.
// Only flags that were set on the command line override the file.
func LoadConfigWithFlags(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key, ok := flagKeys[f.Name]
			if !ok || bindErr != nil {
				return
			}
			if err := v.BindPFlag(key, f); err != nil {
				bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
			}
		})
		if bindErr != nil {
			return Config{}, bindErr
		}
	}
	return load(v, path)
}

func load(v *viper.Viper, path string) (config Config, err error) {
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("spreadwatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}
	applyVenueDefaults(&config)

	err = config.Validate()
	return
}

// SlogLevel maps the configured level onto slog.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
