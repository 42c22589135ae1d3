package exchange

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"spreadwatch/internal/model"
)

// Market maps a venue-native symbol onto the channel id its price messages carry.
type Market struct {
	Symbol  string
	Channel string
	Active  bool
}

// PushCodec is the venue-specific half of a PushClient.
type PushCodec interface {
	Venue() model.Venue
	FetchMarkets(ctx context.Context) ([]Market, error)
	SubscribeMessage(channel string) any
	// UnsubscribeMessage returns nil when the venue has no unsubscribe command.
	UnsubscribeMessage(channel string) any
	// Decode extracts a price from a raw message. ok is false for messages
	// that are not price updates.
	Decode(data []byte) (channel string, price float64, ok bool, err error)
}

// PushConfig holds push adapter settings.
type PushConfig struct {
	URL            string
	ConnectTimeout time.Duration
	BufferSize     int
	BackoffFloor   time.Duration
	BackoffCeiling time.Duration
}

var errConnectTimeout = errors.New("timed out waiting for connection")

const commandWriteTimeout = 5 * time.Second

// PushClient holds one persistent WebSocket connection to a venue, redialling
// with exponential backoff when it drops.
type PushClient struct {
	cfg    PushConfig
	codec  PushCodec
	logger *slog.Logger
	feed   *feed
	dialer *websocket.Dialer

	connectMu sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	writeMu sync.Mutex

	mu       sync.RWMutex
	conn     *websocket.Conn
	markets  map[string]Market
	channels map[string]string
	closed   bool
}

// NewPushClient creates a push adapter around codec.
func NewPushClient(codec PushCodec, cfg PushConfig, logger *slog.Logger) *PushClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BackoffFloor <= 0 {
		cfg.BackoffFloor = time.Second
	}
	if cfg.BackoffCeiling < cfg.BackoffFloor {
		cfg.BackoffCeiling = max(cfg.BackoffFloor, 16*time.Second)
	}
	logger = logger.With("venue", codec.Venue())
	return &PushClient{
		cfg:    cfg,
		codec:  codec,
		logger: logger,
		feed:   newFeed(logger, cfg.BufferSize),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
	}
}

func (p *PushClient) GetName() model.Venue {
	return p.codec.Venue()
}

// Connect dials the venue and returns once the connection is live.
// If a reconnect is already in progress it waits for it, bounded by ConnectTimeout.
func (p *PushClient) Connect(ctx context.Context) error {
	p.connectMu.Lock()
	defer p.connectMu.Unlock()

	if p.isClosed() {
		return ErrAdapterClosed
	}
	if p.IsConnected() {
		return nil
	}
	if p.cancel != nil {
		return p.waitConnected(ctx)
	}

	p.logger.Info("PushClient: connecting to WebSocket", "url", p.cfg.URL)
	conn, err := p.dial(ctx)
	if err != nil {
		return &ConnectionError{Venue: p.GetName(), Err: err}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	if !p.onOpen(conn) {
		cancel()
		return ErrAdapterClosed
	}

	p.wg.Add(1)
	go p.run(runCtx, conn)
	return nil
}

// Disconnect closes the socket, stops reconnecting and closes every subscription.
func (p *PushClient) Disconnect() error {
	p.connectMu.Lock()
	defer p.connectMu.Unlock()

	p.mu.Lock()
	p.closed = true
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}

	var err error
	if conn != nil {
		p.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		p.writeMu.Unlock()
		err = conn.Close()
	}

	p.wg.Wait()
	p.feed.close()

	p.logger.Info("PushClient: disconnected")
	return err
}

func (p *PushClient) GetAvailableSymbols(ctx context.Context) ([]string, error) {
	if p.isClosed() {
		return nil, ErrAdapterClosed
	}
	if err := p.ensureMarkets(ctx); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.markets))
	for sym, m := range p.markets {
		if m.Active {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out, nil
}

// GetPriceStream subscribes to symbol's channel. While disconnected the
// subscription is recorded and sent when the connection opens.
func (p *PushClient) GetPriceStream(ctx context.Context, symbol string) (*Subscription, error) {
	if p.isClosed() {
		return nil, ErrAdapterClosed
	}
	if err := p.ensureMarkets(ctx); err != nil {
		return nil, err
	}

	p.mu.RLock()
	market, ok := p.markets[symbol]
	p.mu.RUnlock()
	if !ok || !market.Active {
		return nil, &SubscriptionError{Venue: p.GetName(), Symbol: symbol}
	}

	id, ch, first, err := p.feed.add(symbol, false)
	if err != nil {
		return nil, err
	}
	if first {
		p.send(p.codec.SubscribeMessage(market.Channel))
	}

	return NewSubscription(symbol, ch, func() {
		if _, last := p.feed.remove(id); last {
			if msg := p.codec.UnsubscribeMessage(market.Channel); msg != nil {
				p.send(msg)
			}
		}
	}), nil
}

func (p *PushClient) State() model.VenueState {
	subscribed := p.feed.symbols()
	sort.Strings(subscribed)

	p.mu.RLock()
	defer p.mu.RUnlock()
	return model.VenueState{
		Venue:       p.GetName(),
		Connected:   p.conn != nil,
		Instruments: len(p.markets),
		Subscribed:  subscribed,
	}
}

// IsConnected returns current connection state.
func (p *PushClient) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn != nil
}

func (p *PushClient) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()
	conn, _, err := p.dialer.DialContext(dialCtx, p.cfg.URL, nil)
	return conn, err
}

// waitConnected polls connectivity until the reconnect loop succeeds.
func (p *PushClient) waitConnected(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p.IsConnected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return &ConnectionError{Venue: p.GetName(), Err: errConnectTimeout}
		case <-ticker.C:
		}
	}
}

// onOpen installs conn and resubscribes every active symbol. It reports
// false, closing conn, when the adapter was disconnected meanwhile.
func (p *PushClient) onOpen(conn *websocket.Conn) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Close()
		return false
	}
	p.conn = conn
	p.mu.Unlock()

	p.logger.Info("PushClient: connected successfully")

	for _, sym := range p.feed.symbols() {
		p.mu.RLock()
		market, ok := p.markets[sym]
		p.mu.RUnlock()
		if ok {
			p.send(p.codec.SubscribeMessage(market.Channel))
		}
	}
	return true
}

func (p *PushClient) onClose(conn *websocket.Conn) {
	p.mu.Lock()
	if p.conn == conn {
		p.conn = nil
	}
	p.mu.Unlock()
	conn.Close()
}

// run reads from conn and redials with exponential backoff whenever it drops.
func (p *PushClient) run(ctx context.Context, conn *websocket.Conn) {
	defer p.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.BackoffFloor
	b.MaxInterval = p.cfg.BackoffCeiling
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		p.readLoop(conn)
		p.onClose(conn)
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("PushClient: connection lost, reconnecting")

		for {
			wait := b.NextBackOff()
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}

			p.logger.Info("PushClient: connecting to WebSocket", "url", p.cfg.URL, "backoff", wait)
			c, err := p.dial(ctx)
			if err != nil {
				p.logger.Error("PushClient: WebSocket connection failed", "error", err)
				continue
			}
			b.Reset()
			if !p.onOpen(c) {
				return
			}
			conn = c
			break
		}
	}
}

func (p *PushClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !p.isClosed() {
				p.logger.Warn("PushClient: failed to read message", "error", err)
			}
			return
		}
		p.handleMessage(data)
	}
}

// handleMessage decodes one message; malformed or unrelated messages are dropped.
func (p *PushClient) handleMessage(data []byte) {
	channel, price, ok, err := p.codec.Decode(data)
	if err != nil {
		p.logger.Warn("PushClient: failed to parse message", "error", &DecodeError{Venue: p.GetName(), Err: err})
		return
	}
	if !ok {
		return
	}

	p.mu.RLock()
	symbol, known := p.channels[channel]
	p.mu.RUnlock()
	if !known || !p.feed.active(symbol) {
		return
	}

	p.feed.publish(model.PriceUpdate{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now().UnixMilli(),
		Source:    p.GetName(),
	})
}

// send writes a command if connected; otherwise onOpen sends it later.
func (p *PushClient) send(msg any) {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn == nil {
		return
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(commandWriteTimeout)); err != nil {
		p.logger.Warn("PushClient: failed to set write deadline", "error", err)
		return
	}
	if err := conn.WriteJSON(msg); err != nil {
		p.logger.Warn("PushClient: failed to send command", "error", err)
	}
}

// ensureMarkets performs the one-time market metadata fetch.
func (p *PushClient) ensureMarkets(ctx context.Context) error {
	p.mu.RLock()
	loaded := p.markets != nil
	p.mu.RUnlock()
	if loaded {
		return nil
	}

	markets, err := p.codec.FetchMarkets(ctx)
	if err != nil {
		return startupError(p.GetName(), err)
	}

	bySymbol := make(map[string]Market, len(markets))
	channels := make(map[string]string, len(markets))
	for _, m := range markets {
		bySymbol[m.Symbol] = m
		channels[m.Channel] = m.Symbol
	}

	p.mu.Lock()
	p.markets = bySymbol
	p.channels = channels
	p.mu.Unlock()

	p.logger.Debug("PushClient: markets loaded", "markets", len(markets))
	return nil
}

func (p *PushClient) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}
