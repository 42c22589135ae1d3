package model

import (
	"strings"
	"time"
)

// Venue identifies a trading venue, e.g. "reya" or "vertex".
type Venue string

const (
	VenueReya        Venue = "reya"
	VenueVertex      Venue = "vertex"
	VenueHyperliquid Venue = "hyperliquid"
	VenueBinance     Venue = "binance"
	VenueKraken      Venue = "kraken"
)

// Label returns the venue name with its first letter capitalised.
func (v Venue) Label() string {
	if v == "" {
		return ""
	}
	s := string(v)
	return strings.ToUpper(s[:1]) + s[1:]
}

// PriceUpdate is a single observed price from a venue.
// Timestamp is the local wall clock in milliseconds at the moment the adapter saw the value.
type PriceUpdate struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
	Source    Venue   `json:"source"`
}

// Time returns the update timestamp as a time.Time.
func (p PriceUpdate) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// Direction tells which venue quoted the higher price.
type Direction string

// DirectionEqual means every venue quoted the same price.
const DirectionEqual Direction = "equal"

// HigherDirection returns the direction naming v as the higher-priced venue.
func HigherDirection(v Venue) Direction {
	return Direction(string(v) + "-higher")
}

// Venue returns the higher-priced venue, or "" for DirectionEqual.
func (d Direction) Venue() Venue {
	v, ok := strings.CutSuffix(string(d), "-higher")
	if !ok {
		return ""
	}
	return Venue(v)
}

// Label returns a human readable description such as "Reya Price Higher".
func (d Direction) Label() string {
	if d == DirectionEqual {
		return "Equal Prices"
	}
	v := d.Venue()
	if v == "" {
		return ""
	}
	return v.Label() + " Price Higher"
}

// Severity is a presentation banding of a spread value.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityElevated Severity = "elevated"
	SeverityHigh     Severity = "high"
)

// SpreadInfo is the relative difference between venue prices, in percent of the lower price.
type SpreadInfo struct {
	Value     float64   `json:"value"`
	Direction Direction `json:"direction"`
}

// Severity bands the spread at 1% and 2%.
func (s SpreadInfo) Severity() Severity {
	switch {
	case s.Value >= 2:
		return SeverityHigh
	case s.Value >= 1:
		return SeverityElevated
	default:
		return SeverityLow
	}
}

// HistoryPoint is one entry of a symbol's bounded spread history.
type HistoryPoint struct {
	Timestamp int64             `json:"timestamp"`
	Prices    map[Venue]float64 `json:"prices"`
	Spread    *SpreadInfo       `json:"spread,omitempty"`
}

// AggregateEntry is the consumer-side view of one canonical symbol.
type AggregateEntry struct {
	Symbol  string                `json:"symbol"`
	Latest  map[Venue]PriceUpdate `json:"latest"`
	Spread  *SpreadInfo           `json:"spread,omitempty"`
	History []HistoryPoint        `json:"history"`
}

// Price returns the last known price for a venue.
func (e AggregateEntry) Price(v Venue) (float64, bool) {
	u, ok := e.Latest[v]
	if !ok {
		return 0, false
	}
	return u.Price, true
}

// VenueState reports an adapter's connection status and subscriptions.
type VenueState struct {
	Venue       Venue    `json:"venue"`
	Connected   bool     `json:"connected"`
	Instruments int      `json:"instruments"`
	Subscribed  []string `json:"subscribed"`
}

// SpreadAlert represents a spread threshold crossing to be logged.
type SpreadAlert struct {
	ID            string    `db:"id"`
	Timestamp     time.Time `db:"timestamp"`
	Symbol        string    `db:"symbol"`
	HighVenue     Venue     `db:"high_venue"`
	LowVenue      Venue     `db:"low_venue"`
	HighPrice     float64   `db:"high_price"`
	LowPrice      float64   `db:"low_price"`
	SpreadPercent float64   `db:"spread_percent"`
}
