package aggregate

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"spreadwatch/internal/model"
)

// State is the data state of one symbol.
type State int

const (
	NoData State = iota
	PartialData
	FullData
)

func (s State) String() string {
	switch s {
	case PartialData:
		return "partial"
	case FullData:
		return "full"
	default:
		return "none"
	}
}

// SymbolSource lists the canonical symbols a consumer may track.
type SymbolSource interface {
	FetchSymbols(ctx context.Context) ([]string, error)
}

// Option configures a Store.
type Option func(*Store)

// WithVenues restricts the store to updates from the given venues.
func WithVenues(venues ...model.Venue) Option {
	return func(s *Store) {
		s.venues = make(map[model.Venue]struct{}, len(venues))
		for _, v := range venues {
			s.venues[v] = struct{}{}
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

type entry struct {
	latest  map[model.Venue]model.PriceUpdate
	spread  *model.SpreadInfo
	history *ring
}

// Store folds merged price updates into per-symbol last prices, spread and a
// bounded history. All methods are safe for concurrent use; updates are
// serialised by a single store lock.
type Store struct {
	logger     *slog.Logger
	historyCap int
	venues     map[model.Venue]struct{}

	mu        sync.RWMutex
	entries   map[string]*entry
	selected  []string
	available []string
	loading   bool
	loadErr   string
}

// NewStore creates a Store keeping at most historyCap history points per symbol.
func NewStore(historyCap int, opts ...Option) *Store {
	if historyCap < 1 {
		historyCap = 1
	}
	s := &Store{
		logger:     slog.Default(),
		historyCap: historyCap,
		entries:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply records u as its venue's last price, recomputes the spread and appends
// a history point. It reports false when the update was dropped.
func (s *Store) Apply(u model.PriceUpdate) bool {
	if u.Symbol == "" || u.Source == "" || u.Price <= 0 {
		return false
	}
	if s.venues != nil {
		if _, ok := s.venues[u.Source]; !ok {
			s.logger.Debug("Store: dropping update from untracked venue", "venue", u.Source, "symbol", u.Symbol)
			return false
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.available) > 0 && !containsSorted(s.available, u.Symbol) {
		s.logger.Debug("Store: dropping update for unknown symbol", "symbol", u.Symbol)
		return false
	}

	e, ok := s.entries[u.Symbol]
	if !ok {
		e = &entry{
			latest:  make(map[model.Venue]model.PriceUpdate),
			history: newRing(s.historyCap),
		}
		s.entries[u.Symbol] = e
	}

	e.latest[u.Source] = u
	prices := make(map[model.Venue]float64, len(e.latest))
	for v, last := range e.latest {
		prices[v] = last.Price
	}
	e.spread = CalculateSpread(prices)

	point := model.HistoryPoint{Timestamp: u.Timestamp, Prices: prices}
	if e.spread != nil {
		spread := *e.spread
		point.Spread = &spread
	}
	e.history.push(point)
	return true
}

// AddSymbol selects symbol for tracking. Selecting twice is a no-op.
func (s *Store) AddSymbol(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range s.selected {
		if sym == symbol {
			return
		}
	}
	s.selected = append(s.selected, symbol)
}

// RemoveSymbol deselects symbol. Its prices and history are kept.
func (s *Store) RemoveSymbol(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sym := range s.selected {
		if sym == symbol {
			s.selected = append(s.selected[:i], s.selected[i+1:]...)
			return
		}
	}
}

// SelectedSymbols returns the tracked symbols in selection order.
func (s *Store) SelectedSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.selected...)
}

// ClearHistory drops the history of symbol, or of every symbol when symbol is empty.
// Last prices and spread are kept.
func (s *Store) ClearHistory(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if symbol == "" {
		for _, e := range s.entries {
			e.history.reset()
		}
		return
	}
	if e, ok := s.entries[symbol]; ok {
		e.history.reset()
	}
}

// Entry returns a snapshot of symbol's aggregate.
func (s *Store) Entry(symbol string) (model.AggregateEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[symbol]
	if !ok {
		return model.AggregateEntry{}, false
	}
	return snapshot(symbol, e, true), true
}

// Summary is like Entry without the history.
func (s *Store) Summary(symbol string) (model.AggregateEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[symbol]
	if !ok {
		return model.AggregateEntry{}, false
	}
	return snapshot(symbol, e, false), true
}

// State reports how many venues have priced symbol.
func (s *Store) State(symbol string) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[symbol]
	switch {
	case !ok || len(e.latest) == 0:
		return NoData
	case len(e.latest) == 1:
		return PartialData
	default:
		return FullData
	}
}

// SpreadHistory returns the history points of symbol that carry a spread.
func (s *Store) SpreadHistory(symbol string) []model.HistoryPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[symbol]
	if !ok {
		return nil
	}
	var out []model.HistoryPoint
	for _, p := range e.history.points() {
		if p.Spread != nil {
			out = append(out, p)
		}
	}
	return out
}

// GetFilteredPrices returns the aggregates of the selected symbols that have
// received at least one price.
func (s *Store) GetFilteredPrices() map[string]model.AggregateEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.AggregateEntry, len(s.selected))
	for _, sym := range s.selected {
		if e, ok := s.entries[sym]; ok {
			out[sym] = snapshot(sym, e, true)
		}
	}
	return out
}

// SetAvailableSymbols replaces the list of symbols the store accepts.
// An empty list accepts every symbol.
func (s *Store) SetAvailableSymbols(symbols []string) {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = sorted
}

// AvailableSymbols returns the accepted symbols in sorted order.
func (s *Store) AvailableSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.available...)
}

// FetchSymbols loads the available symbols from src. On failure the previous
// list is kept and the error message is recorded for LoadStatus.
func (s *Store) FetchSymbols(ctx context.Context, src SymbolSource) error {
	s.mu.Lock()
	s.loading = true
	s.loadErr = ""
	s.mu.Unlock()

	symbols, err := src.FetchSymbols(ctx)

	s.mu.Lock()
	s.loading = false
	if err != nil {
		s.loadErr = err.Error()
		s.mu.Unlock()
		s.logger.Error("Store: failed to fetch symbols", "error", err)
		return err
	}
	s.mu.Unlock()

	s.SetAvailableSymbols(symbols)
	s.logger.Info("Store: symbols loaded", "count", len(symbols))
	return nil
}

// LoadStatus reports whether a symbol fetch is running and the last fetch error.
func (s *Store) LoadStatus() (loading bool, errMsg string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading, s.loadErr
}

func snapshot(symbol string, e *entry, withHistory bool) model.AggregateEntry {
	latest := make(map[model.Venue]model.PriceUpdate, len(e.latest))
	for v, u := range e.latest {
		latest[v] = u
	}
	out := model.AggregateEntry{Symbol: symbol, Latest: latest}
	if withHistory {
		out.History = e.history.points()
	}
	if e.spread != nil {
		spread := *e.spread
		out.Spread = &spread
	}
	return out
}

func containsSorted(sorted []string, s string) bool {
	i := sort.SearchStrings(sorted, s)
	return i < len(sorted) && sorted[i] == s
}
