package exchange

import (
	"fmt"
	"log/slog"
	"net/http"

	"spreadwatch/internal/config"
)

var venueKinds = map[string]string{
	"reya":        config.KindPush,
	"vertex":      config.KindPoll,
	"hyperliquid": config.KindPoll,
	"binance":     config.KindPush,
	"kraken":      config.KindPush,
}

// NewClient creates a new venue adapter based on the given name and configuration.
func NewClient(name string, logger *slog.Logger, cfg *config.VenueConfig) (ExchangeClient, error) {
	if want, ok := venueKinds[name]; ok && cfg.Kind != want {
		return nil, fmt.Errorf("exchange %s is a %s venue, configured as %q", name, want, cfg.Kind)
	}
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	switch name {
	case "reya":
		codec, err := NewReyaCodec(cfg.RESTURL, cfg.Markets, httpClient)
		if err != nil {
			return nil, err
		}
		return NewPushClient(codec, pushConfig(cfg), logger), nil
	case "binance":
		return NewPushClient(NewBinanceCodec(cfg.RESTURL, httpClient), pushConfig(cfg), logger), nil
	case "kraken":
		return NewPushClient(NewKrakenCodec(cfg.RESTURL, httpClient), pushConfig(cfg), logger), nil
	case "vertex":
		return NewPollingClient(NewVertexSource(cfg.RESTURL, cfg.IndexerURL, httpClient), pollingConfig(cfg), logger), nil
	case "hyperliquid":
		return NewPollingClient(NewHyperliquidSource(cfg.RESTURL, httpClient), pollingConfig(cfg), logger), nil
	default:
		return nil, fmt.Errorf("unknown exchange: %s", name)
	}
}

func pushConfig(cfg *config.VenueConfig) PushConfig {
	return PushConfig{
		URL:            cfg.WSURL,
		ConnectTimeout: cfg.ConnectTimeout,
		BufferSize:     cfg.BufferSize,
		BackoffFloor:   cfg.BackoffFloor,
		BackoffCeiling: cfg.BackoffCeiling,
	}
}

func pollingConfig(cfg *config.VenueConfig) PollingConfig {
	return PollingConfig{
		Interval:       cfg.PollInterval,
		RequestTimeout: cfg.RequestTimeout,
		BufferSize:     cfg.BufferSize,
	}
}
