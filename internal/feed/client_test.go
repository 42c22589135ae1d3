package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spreadwatch/internal/config"
	"spreadwatch/internal/model"
)

type feedHarness struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newFeedHarness(t *testing.T, symbolsStatus int) *feedHarness {
	t.Helper()
	h := &feedHarness{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/symbols", func(w http.ResponseWriter, r *http.Request) {
		if symbolsStatus != http.StatusOK {
			w.WriteHeader(symbolsStatus)
			return
		}
		w.Write([]byte(`["BTC","ETH"]`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.conns <- conn
	})
	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *feedHarness) client(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(slog.New(slog.NewJSONHandler(io.Discard, nil)), config.FeedConfig{
		URL:            h.srv.URL,
		BackoffFloor:   10 * time.Millisecond,
		BackoffCeiling: 40 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func (h *feedHarness) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-h.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

func receive(t *testing.T, ch <-chan model.PriceUpdate) model.PriceUpdate {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no update")
		return model.PriceUpdate{}
	}
}

func TestNewClient(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	_, err := NewClient(logger, config.FeedConfig{URL: "ftp://example.com"})
	assert.Error(t, err)

	c, err := NewClient(logger, config.FeedConfig{URL: "https://watch.example.com/base/"})
	require.NoError(t, err)
	assert.Equal(t, "wss://watch.example.com/base/ws", c.endpoint("ws", "/ws"))
	assert.Equal(t, "https://watch.example.com/base/symbols", c.endpoint("http", "/symbols"))
	assert.Equal(t, time.Second, c.floor)
	assert.Equal(t, 10*time.Second, c.ceiling)
}

func TestClient_FetchSymbols(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		h := newFeedHarness(t, http.StatusOK)
		got, err := h.client(t).FetchSymbols(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"BTC", "ETH"}, got)
	})

	t.Run("server error", func(t *testing.T) {
		h := newFeedHarness(t, http.StatusServiceUnavailable)
		_, err := h.client(t).FetchSymbols(context.Background())

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
		assert.Equal(t, "error fetching symbols: 503 Service Unavailable", err.Error())
	})
}

func TestClient_Run(t *testing.T) {
	h := newFeedHarness(t, http.StatusOK)
	c := h.client(t)
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.PriceUpdate, 8)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, out) }()

	conn := h.nextConn(t)
	require.Eventually(t, c.Connected, time.Second, 10*time.Millisecond)

	want := model.PriceUpdate{Symbol: "BTC", Price: 64000, Timestamp: 1, Source: model.VenueReya}
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(want))
	assert.Equal(t, want, receive(t, out), "malformed messages are skipped")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, c.Connected())
}

func TestClient_Reconnects(t *testing.T) {
	h := newFeedHarness(t, http.StatusOK)
	c := h.client(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan model.PriceUpdate, 8)
	go c.Run(ctx, out)

	first := h.nextConn(t)
	require.NoError(t, first.WriteJSON(model.PriceUpdate{Symbol: "BTC", Price: 1, Source: model.VenueReya}))
	assert.Equal(t, 1.0, receive(t, out).Price)
	require.NoError(t, first.Close())

	second := h.nextConn(t)
	require.NoError(t, second.WriteJSON(model.PriceUpdate{Symbol: "BTC", Price: 2, Source: model.VenueVertex}))
	assert.Equal(t, 2.0, receive(t, out).Price)
	assert.Equal(t, int64(2), c.Dials())
}

func TestClient_RetriesUntilServerUp(t *testing.T) {
	var up atomic.Bool
	h := &feedHarness{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	attempts := make(chan struct{}, 16)
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case attempts <- struct{}{}:
		default:
		}
		if !up.Load() {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.conns <- conn
	}))
	t.Cleanup(h.srv.Close)

	c := h.client(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, make(chan model.PriceUpdate, 1))

	<-attempts
	<-attempts
	assert.False(t, c.Connected())
	up.Store(true)

	h.nextConn(t)
	require.Eventually(t, c.Connected, time.Second, 10*time.Millisecond)
}
