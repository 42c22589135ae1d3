package merge

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"spreadwatch/internal/exchange"
	"spreadwatch/internal/model"
	"spreadwatch/internal/symbols"
)

// Merger opens merged canonical price streams over a fixed set of adapters.
type Merger struct {
	logger   *slog.Logger
	universe *symbols.Universe
	adapters map[model.Venue]exchange.ExchangeClient
	buffer   int
}

// NewMerger creates a Merger. Adapters whose venue is absent from the universe
// are never subscribed.
func NewMerger(logger *slog.Logger, universe *symbols.Universe, adapters []exchange.ExchangeClient, buffer int) *Merger {
	if buffer < 1 {
		buffer = 1
	}
	byVenue := make(map[model.Venue]exchange.ExchangeClient, len(adapters))
	for _, a := range adapters {
		byVenue[a.GetName()] = a
	}
	return &Merger{
		logger:   logger,
		universe: universe,
		adapters: byVenue,
		buffer:   buffer,
	}
}

// Symbols returns the canonical universe.
func (m *Merger) Symbols() []string {
	return m.universe.Symbols()
}

// States returns the state of every adapter, sorted by venue.
func (m *Merger) States() []model.VenueState {
	states := make([]model.VenueState, 0, len(m.adapters))
	for _, a := range m.adapters {
		states = append(states, a.State())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Venue < states[j].Venue })
	return states
}

// Open subscribes to every venue carrying each requested canonical symbol and
// interleaves the results into Session.C. Unknown symbols and unavailable
// venues contribute nothing. ctx bounds the subscription calls only; the
// session lives until Close.
func (m *Merger) Open(ctx context.Context, canonical []string) *Session {
	s := &Session{
		ID:     uuid.NewString(),
		out:    make(chan model.PriceUpdate, m.buffer),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	s.C = s.out
	logger := m.logger.With("session", s.ID)

	for _, sym := range canonical {
		if !m.universe.Contains(sym) {
			logger.Warn("Merger: unknown canonical symbol", "symbol", sym)
			continue
		}
		for _, venue := range m.universe.VenuesFor(sym) {
			adapter, ok := m.adapters[venue]
			if !ok {
				continue
			}
			native, _ := m.universe.Native(sym, venue)
			sub, err := adapter.GetPriceStream(ctx, native)
			if err != nil {
				logger.Warn("Merger: venue stream unavailable", "symbol", sym, "venue", venue, "error", err)
				continue
			}
			s.subs = append(s.subs, sub)
			s.wg.Go(func() { s.forward(sub, sym, venue) })
		}
	}

	go func() {
		s.wg.Wait()
		close(s.out)
		close(s.closed)
	}()

	logger.Info("Merger: session opened", "symbols", len(canonical), "streams", len(s.subs))
	return s
}

// Session is one consumer's merged stream. C is closed once Close has been
// called or every underlying venue stream has ended.
type Session struct {
	ID string
	C  <-chan model.PriceUpdate

	out    chan model.PriceUpdate
	subs   []*exchange.Subscription
	wg     conc.WaitGroup
	once   sync.Once
	done   chan struct{}
	closed chan struct{}
}

// Streams returns the number of venue streams feeding the session.
func (s *Session) Streams() int {
	return len(s.subs)
}

// Close releases every venue subscription of the session and waits until
// nothing more is delivered. It is safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		for _, sub := range s.subs {
			sub.Unsubscribe()
		}
	})
	<-s.closed
}

// forward relays one venue stream, rewriting it to the canonical symbol.
func (s *Session) forward(sub *exchange.Subscription, canonical string, venue model.Venue) {
	for u := range sub.C {
		select {
		case <-s.done:
			return
		default:
		}
		u.Symbol = canonical
		u.Source = venue
		select {
		case s.out <- u:
		case <-s.done:
			return
		}
	}
}
