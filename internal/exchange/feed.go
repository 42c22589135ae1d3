package exchange

import (
	"log/slog"
	"sync"

	"spreadwatch/internal/model"
)

// Subscription is a live stream of price updates for one venue symbol.
// C is closed after Unsubscribe or when the adapter disconnects.
type Subscription struct {
	C      <-chan model.PriceUpdate
	Symbol string

	once   sync.Once
	cancel func()
}

// NewSubscription wraps a channel and its release function as a Subscription.
func NewSubscription(symbol string, c <-chan model.PriceUpdate, cancel func()) *Subscription {
	return &Subscription{C: c, Symbol: symbol, cancel: cancel}
}

// Unsubscribe stops further deliveries and releases the venue subscription
// once no other listener needs the symbol. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

type listener struct {
	symbol string
	ch     chan model.PriceUpdate
	dedup  bool
	last   float64
	primed bool
}

// feed fans updates out to per-symbol listeners. Sends never block: a listener
// whose buffer is full misses that update.
type feed struct {
	logger *slog.Logger
	buffer int

	mu        sync.Mutex
	listeners map[uint64]*listener
	refs      map[string]int
	nextID    uint64
	closed    bool
}

func newFeed(logger *slog.Logger, buffer int) *feed {
	if buffer < 1 {
		buffer = 1
	}
	return &feed{
		logger:    logger,
		buffer:    buffer,
		listeners: make(map[uint64]*listener),
		refs:      make(map[string]int),
	}
}

// add registers a listener and reports whether it is the first one for symbol.
func (f *feed) add(symbol string, dedup bool) (id uint64, ch <-chan model.PriceUpdate, first bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, nil, false, ErrAdapterClosed
	}

	f.nextID++
	l := &listener{
		symbol: symbol,
		ch:     make(chan model.PriceUpdate, f.buffer),
		dedup:  dedup,
	}
	f.listeners[f.nextID] = l
	f.refs[symbol]++
	return f.nextID, l.ch, f.refs[symbol] == 1, nil
}

// remove drops a listener and reports whether it was the last one for its symbol.
func (f *feed) remove(id uint64) (symbol string, last bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.listeners[id]
	if !ok {
		return "", false
	}
	delete(f.listeners, id)
	close(l.ch)

	f.refs[l.symbol]--
	if f.refs[l.symbol] > 0 {
		return l.symbol, false
	}
	delete(f.refs, l.symbol)
	return l.symbol, true
}

func (f *feed) publish(u model.PriceUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	for _, l := range f.listeners {
		if l.symbol != u.Symbol {
			continue
		}
		if l.dedup && l.primed && l.last == u.Price {
			continue
		}
		select {
		case l.ch <- u:
			l.last = u.Price
			l.primed = true
		default:
			f.logger.Warn("listener buffer full, dropping update", "symbol", u.Symbol, "venue", u.Source)
		}
	}
}

// symbols returns the symbols with at least one listener.
func (f *feed) symbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.refs))
	for sym := range f.refs {
		out = append(out, sym)
	}
	return out
}

func (f *feed) active(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs[symbol] > 0
}

// close ends every listener channel; later publishes are ignored.
func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for id, l := range f.listeners {
		close(l.ch)
		delete(f.listeners, id)
	}
	f.refs = make(map[string]int)
}
