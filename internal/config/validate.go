package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	switch c.Reconcile.Mode {
	case ModeIntersection, ModeFallback:
	default:
		return fmt.Errorf("reconcile.mode must be %q or %q, got %q", ModeIntersection, ModeFallback, c.Reconcile.Mode)
	}

	if c.Aggregate.HistoryCap < 1 {
		return errors.New("aggregate.history_cap must be >= 1")
	}
	if c.Alert.Enabled && c.Alert.ThresholdPercent <= 0 {
		return errors.New("alert.threshold_percent must be > 0")
	}
	if c.Feed.ReportInterval <= 0 {
		return errors.New("feed.report_interval must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be > 0")
	}
	if c.Feed.BackoffFloor <= 0 {
		return errors.New("feed.backoff_floor must be > 0")
	}
	if c.Feed.BackoffFloor > c.Feed.BackoffCeiling {
		return fmt.Errorf("feed.backoff_floor (%s) cannot exceed feed.backoff_ceiling (%s)", c.Feed.BackoffFloor, c.Feed.BackoffCeiling)
	}

	if len(c.Venues) == 0 {
		return errors.New("at least one venue is required")
	}
	for _, name := range c.VenueNames() {
		if err := c.Venues[name].validate("venues." + name); err != nil {
			return err
		}
	}
	return nil
}

func (vc VenueConfig) validate(prefix string) error {
	switch vc.Kind {
	case KindPush:
		if vc.WSURL == "" {
			return fmt.Errorf("%s.ws_url is required", prefix)
		}
		if vc.ConnectTimeout <= 0 {
			return fmt.Errorf("%s.connect_timeout must be > 0", prefix)
		}
		if vc.BackoffFloor <= 0 || vc.BackoffCeiling < vc.BackoffFloor {
			return fmt.Errorf("%s: backoff_floor must be > 0 and <= backoff_ceiling", prefix)
		}
	case KindPoll:
		if vc.PollInterval <= 0 {
			return fmt.Errorf("%s.poll_interval must be > 0", prefix)
		}
	default:
		return fmt.Errorf("%s.kind must be %q or %q, got %q", prefix, KindPush, KindPoll, vc.Kind)
	}
	if vc.RESTURL == "" {
		return fmt.Errorf("%s.rest_url is required", prefix)
	}
	switch vc.Normalize.Case {
	case "", "upper", "lower":
	default:
		return fmt.Errorf("%s.normalize.case must be upper, lower or empty, got %q", prefix, vc.Normalize.Case)
	}
	return nil
}

// VenueNames returns configured venue names in sorted order.
func (c *Config) VenueNames() []string {
	names := make([]string, 0, len(c.Venues))
	for name := range c.Venues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
