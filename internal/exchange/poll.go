package exchange

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"spreadwatch/internal/model"
)

// Instrument is one market as described by a venue's metadata endpoint.
type Instrument struct {
	ID     string // venue-local id used in batch price responses
	Symbol string // venue-native symbol
	Active bool
}

// Batch is a decoded batch price response keyed by instrument id.
// Instruments is set when the response also carried fresher metadata.
type Batch struct {
	Prices      map[string]float64
	Instruments []Instrument
}

// PollSource is the venue-specific half of a PollingClient.
type PollSource interface {
	Venue() model.Venue
	FetchInstruments(ctx context.Context) ([]Instrument, error)
	FetchPrices(ctx context.Context, ids []string) (Batch, error)
}

// PollingConfig holds polling adapter settings.
type PollingConfig struct {
	Interval       time.Duration
	RequestTimeout time.Duration
	BufferSize     int
}

// PollingClient turns a REST snapshot endpoint into a price stream by
// fetching every active symbol in one batch request per tick.
type PollingClient struct {
	cfg    PollingConfig
	source PollSource
	logger *slog.Logger
	feed   *feed

	connectMu sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu          sync.RWMutex
	byID        map[string]Instrument
	bySymbol    map[string]Instrument
	initialized bool
	closed      bool

	fetches atomic.Int64
}

// NewPollingClient creates a polling adapter around source.
func NewPollingClient(source PollSource, cfg PollingConfig, logger *slog.Logger) *PollingClient {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("venue", source.Venue())
	return &PollingClient{
		cfg:      cfg,
		source:   source,
		logger:   logger,
		feed:     newFeed(logger, cfg.BufferSize),
		byID:     make(map[string]Instrument),
		bySymbol: make(map[string]Instrument),
	}
}

func (p *PollingClient) GetName() model.Venue {
	return p.source.Venue()
}

// Connect warms the instrument cache and starts the poll ticker.
// A second call while running does not start another ticker.
func (p *PollingClient) Connect(ctx context.Context) error {
	p.connectMu.Lock()
	defer p.connectMu.Unlock()

	if p.isClosed() {
		return ErrAdapterClosed
	}
	if !p.isInitialized() {
		if err := p.refreshInstruments(ctx); err != nil {
			return startupError(p.GetName(), err)
		}
	}
	if p.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(runCtx)

	p.logger.Info("PollingClient: polling started", "interval", p.cfg.Interval)
	return nil
}

// Disconnect stops the ticker, waits for an in-flight fetch to return and
// closes every subscription.
func (p *PollingClient) Disconnect() error {
	p.connectMu.Lock()
	defer p.connectMu.Unlock()

	p.mu.Lock()
	p.closed = true
	p.initialized = false
	p.byID = make(map[string]Instrument)
	p.bySymbol = make(map[string]Instrument)
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.wg.Wait()
	p.feed.close()

	p.logger.Info("PollingClient: disconnected")
	return nil
}

func (p *PollingClient) GetAvailableSymbols(ctx context.Context) ([]string, error) {
	if p.isClosed() {
		return nil, ErrAdapterClosed
	}
	if !p.isInitialized() {
		if err := p.refreshInstruments(ctx); err != nil {
			return nil, startupError(p.GetName(), err)
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.bySymbol))
	for sym, inst := range p.bySymbol {
		if inst.Active {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out, nil
}

// GetPriceStream adds symbol to the polled set. Consecutive identical prices
// are suppressed per subscription.
func (p *PollingClient) GetPriceStream(ctx context.Context, symbol string) (*Subscription, error) {
	if p.isClosed() {
		return nil, ErrAdapterClosed
	}

	inst, ok := p.instrumentBySymbol(symbol)
	if !ok {
		// The symbol may have been listed since the last metadata fetch.
		if err := p.refreshInstruments(ctx); err != nil {
			p.logger.Warn("PollingClient: metadata refresh failed", "error", err)
		}
		inst, ok = p.instrumentBySymbol(symbol)
	}
	if !ok || !inst.Active {
		return nil, &SubscriptionError{Venue: p.GetName(), Symbol: symbol}
	}

	id, ch, first, err := p.feed.add(symbol, true)
	if err != nil {
		return nil, err
	}
	if first {
		p.logger.Debug("PollingClient: symbol activated", "symbol", symbol)
	}

	return NewSubscription(symbol, ch, func() {
		if sym, last := p.feed.remove(id); last {
			p.logger.Debug("PollingClient: symbol deactivated", "symbol", sym)
		}
	}), nil
}

func (p *PollingClient) State() model.VenueState {
	subscribed := p.feed.symbols()
	sort.Strings(subscribed)

	p.connectMu.Lock()
	running := p.cancel != nil
	p.connectMu.Unlock()

	p.mu.RLock()
	defer p.mu.RUnlock()
	return model.VenueState{
		Venue:       p.GetName(),
		Connected:   running && !p.closed,
		Instruments: len(p.byID),
		Subscribed:  subscribed,
	}
}

// Fetches returns the number of batch price requests issued so far.
func (p *PollingClient) Fetches() int64 {
	return p.fetches.Load()
}

// run polls on the ticker goroutine itself, so a slow fetch drops ticks
// rather than overlapping or queueing them.
func (p *PollingClient) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll performs one tick. Failures are logged and the tick is skipped.
func (p *PollingClient) poll(ctx context.Context) {
	symbols := p.feed.symbols()
	if len(symbols) == 0 {
		return
	}

	ids, missing := p.resolve(symbols)
	if missing > 0 {
		if err := p.refreshInstruments(ctx); err != nil {
			p.logger.Warn("PollingClient: metadata refresh failed", "error", err)
		}
		ids, _ = p.resolve(symbols)
	}
	if len(ids) == 0 {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	p.fetches.Add(1)
	batch, err := p.source.FetchPrices(reqCtx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("PollingClient: tick failed", "error", err)
		return
	}
	if len(batch.Instruments) > 0 {
		p.setInstruments(batch.Instruments)
	}

	now := time.Now().UnixMilli()
	refreshed := false
	for _, id := range sortedKeys(batch.Prices) {
		inst, ok := p.instrumentByID(id)
		if !ok && !refreshed {
			refreshed = true
			if err := p.refreshInstruments(reqCtx); err != nil {
				p.logger.Warn("PollingClient: metadata refresh failed", "error", err)
			}
			inst, ok = p.instrumentByID(id)
		}
		if !ok {
			p.logger.Warn("PollingClient: dropping price for unknown instrument",
				"error", &DecodeError{Venue: p.GetName(), Err: errors.New("unresolvable id " + id)})
			continue
		}
		if !p.feed.active(inst.Symbol) {
			continue
		}
		p.feed.publish(model.PriceUpdate{
			Symbol:    inst.Symbol,
			Price:     batch.Prices[id],
			Timestamp: now,
			Source:    p.GetName(),
		})
	}
}

func (p *PollingClient) resolve(symbols []string) (ids []string, missing int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids = make([]string, 0, len(symbols))
	for _, sym := range symbols {
		inst, ok := p.bySymbol[sym]
		if !ok {
			missing++
			continue
		}
		ids = append(ids, inst.ID)
	}
	sort.Strings(ids)
	return ids, missing
}

func (p *PollingClient) refreshInstruments(ctx context.Context) error {
	instruments, err := p.source.FetchInstruments(ctx)
	if err != nil {
		return err
	}
	p.setInstruments(instruments)
	p.logger.Debug("PollingClient: metadata refreshed", "instruments", len(instruments))
	return nil
}

func (p *PollingClient) setInstruments(instruments []Instrument) {
	byID := make(map[string]Instrument, len(instruments))
	bySymbol := make(map[string]Instrument, len(instruments))
	for _, inst := range instruments {
		byID[inst.ID] = inst
		bySymbol[inst.Symbol] = inst
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.byID = byID
	p.bySymbol = bySymbol
	p.initialized = true
}

func (p *PollingClient) instrumentBySymbol(symbol string) (Instrument, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	inst, ok := p.bySymbol[symbol]
	return inst, ok
}

func (p *PollingClient) instrumentByID(id string) (Instrument, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	inst, ok := p.byID[id]
	return inst, ok
}

func (p *PollingClient) isInitialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized
}

func (p *PollingClient) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// startupError keeps decode failures typed and reports everything else as a
// connection failure.
func startupError(venue model.Venue, err error) error {
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return err
	}
	return &ConnectionError{Venue: venue, Err: err}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
