package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"spreadwatch/internal/aggregate"
	"spreadwatch/internal/config"
	"spreadwatch/internal/database"
	"spreadwatch/internal/model"
)

// SpreadMonitor raises one alert each time a symbol's spread rises to the
// configured threshold, and re-arms once it falls back below.
type SpreadMonitor struct {
	logger    *slog.Logger
	repo      database.Repository
	threshold float64
	now       func() time.Time

	mu        sync.Mutex
	triggered map[string]bool
}

// NewSpreadMonitor creates a new SpreadMonitor. repo may be nil, in which case
// alerts are only logged.
func NewSpreadMonitor(logger *slog.Logger, repo database.Repository, cfg config.AlertConfig) *SpreadMonitor {
	return &SpreadMonitor{
		logger:    logger,
		repo:      repo,
		threshold: cfg.ThresholdPercent,
		now:       time.Now,
		triggered: make(map[string]bool),
	}
}

// Process evaluates the current aggregate of one symbol and returns the alert
// raised, if any.
func (m *SpreadMonitor) Process(ctx context.Context, entry model.AggregateEntry) *model.SpreadAlert {
	if entry.Spread == nil {
		return nil
	}

	m.mu.Lock()
	above := entry.Spread.Value >= m.threshold
	fire := above && !m.triggered[entry.Symbol]
	m.triggered[entry.Symbol] = above
	m.mu.Unlock()

	if !fire {
		return nil
	}

	prices := make(map[model.Venue]float64, len(entry.Latest))
	for v, u := range entry.Latest {
		prices[v] = u.Price
	}
	high, low, ok := aggregate.Extremes(prices)
	if !ok {
		return nil
	}

	alert := model.SpreadAlert{
		ID:            uuid.NewString(),
		Timestamp:     m.now(),
		Symbol:        entry.Symbol,
		HighVenue:     high,
		LowVenue:      low,
		HighPrice:     prices[high],
		LowPrice:      prices[low],
		SpreadPercent: entry.Spread.Value,
	}

	m.logger.Info("SpreadMonitor: spread threshold crossed",
		"symbol", alert.Symbol,
		"highVenue", alert.HighVenue,
		"lowVenue", alert.LowVenue,
		"highPrice", alert.HighPrice,
		"lowPrice", alert.LowPrice,
		"spread", alert.SpreadPercent,
	)

	if m.repo != nil {
		if err := m.repo.LogSpreadAlert(ctx, alert); err != nil {
			m.logger.Error("SpreadMonitor: failed to log spread alert", "error", err)
		}
	}
	return &alert
}
