package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"spreadwatch/internal/config"
	"spreadwatch/internal/model"
)

// StatusError is a non-OK response from the symbols endpoint.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("error fetching symbols: %s", e.Status)
}

// Client consumes a spreadwatch server: the canonical symbol list over HTTP and
// the merged price stream over WebSocket.
type Client struct {
	logger     *slog.Logger
	baseURL    *url.URL
	httpClient *http.Client
	dialer     *websocket.Dialer

	floor   time.Duration
	ceiling time.Duration

	connected atomic.Bool
	dials     atomic.Int64
}

// NewClient creates a Client for the server at cfg.URL.
func NewClient(logger *slog.Logger, cfg config.FeedConfig) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("feed url %q: scheme must be http or https", cfg.URL)
	}
	floor, ceiling := cfg.BackoffFloor, cfg.BackoffCeiling
	if floor <= 0 {
		floor = time.Second
	}
	if ceiling < floor {
		ceiling = max(floor, 10*time.Second)
	}
	return &Client{
		logger:     logger,
		baseURL:    u,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		floor:      floor,
		ceiling:    ceiling,
	}, nil
}

// FetchSymbols returns the server's canonical symbols.
func (c *Client) FetchSymbols(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("http", "/symbols"), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch symbols: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var symbols []string
	if err := json.NewDecoder(resp.Body).Decode(&symbols); err != nil {
		return nil, fmt.Errorf("decode symbols: %w", err)
	}
	return symbols, nil
}

// Run streams merged updates into out until ctx is done, redialling with
// exponential backoff whenever the connection drops. It always returns ctx.Err().
func (c *Client) Run(ctx context.Context, out chan<- model.PriceUpdate) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.floor
	b.MaxInterval = c.ceiling
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	wsURL := c.endpoint("ws", "/ws")
	for {
		c.logger.Info("FeedClient: connecting to WebSocket", "url", wsURL)
		conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := b.NextBackOff()
			c.logger.Error("FeedClient: WebSocket connection failed", "error", err, "backoff", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		c.dials.Add(1)
		c.connected.Store(true)
		b.Reset()
		c.logger.Info("FeedClient: connected")

		err = c.readLoop(ctx, conn, out)
		c.connected.Store(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := b.NextBackOff()
		c.logger.Warn("FeedClient: connection lost, reconnecting", "error", err, "backoff", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Connected reports whether a stream connection is open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Dials returns the number of successful connections made by Run.
func (c *Client) Dials() int64 {
	return c.dials.Load()
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- model.PriceUpdate) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var u model.PriceUpdate
		if err := json.Unmarshal(data, &u); err != nil {
			c.logger.Warn("FeedClient: dropping malformed message", "error", err)
			continue
		}

		select {
		case out <- u:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// endpoint builds an absolute URL for path, switching to ws/wss when scheme is "ws".
func (c *Client) endpoint(scheme, path string) string {
	u := *c.baseURL
	if scheme == "ws" {
		u.Scheme = "ws"
		if c.baseURL.Scheme == "https" {
			u.Scheme = "wss"
		}
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = ""
	return u.String()
}
