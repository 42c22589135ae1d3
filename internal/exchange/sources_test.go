package exchange

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spreadwatch/internal/config"
	"spreadwatch/internal/model"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		shift   int32
		want    float64
		wantErr bool
	}{
		{name: "plain", raw: "42000.5", want: 42000.5},
		{name: "x18", raw: "42000500000000000000000", shift: 18, want: 42000.5},
		{name: "padded", raw: " 1.25 ", want: 1.25},
		{name: "empty", raw: "", wantErr: true},
		{name: "garbage", raw: "abc", wantErr: true},
		{name: "zero", raw: "0", wantErr: true},
		{name: "negative", raw: "-3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePrice(tt.raw, tt.shift)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestRestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := restClient{venue: model.VenueVertex, httpClient: srv.Client()}
	var out any
	err := c.getJSON(context.Background(), srv.URL, &out)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, string(apiErr.Body), "rate limited")
}

func TestRestClient_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	c := restClient{venue: model.VenueHyperliquid, httpClient: srv.Client()}
	var out map[string]any
	err := c.getJSON(context.Background(), srv.URL, &out)

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, model.VenueHyperliquid, decodeErr.Venue)
}

func TestVertexSource(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gateway/symbols", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(`[
			{"product_id": 0, "symbol": "USDC"},
			{"product_id": 2, "symbol": "BTC-PERP"},
			{"product_id": 4, "symbol": "ETH-PERP"},
			{"product_id": 1, "symbol": "BTC"}
		]`))
	})
	mux.HandleFunc("/indexer", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req vertexPerpPricesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []int64{2, 4}, req.PerpPrices.ProductIDs)

		w.Write([]byte(`{
			"2": {"product_id": 2, "index_price": "0", "mark_price": "64000250000000000000000", "update_time": "1700000000"},
			"4": {"product_id": 4, "index_price": "0", "mark_price": "3100000000000000000000", "update_time": "1700000000"}
		}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := NewVertexSource(srv.URL+"/gateway/", srv.URL+"/indexer", srv.Client())
	assert.Equal(t, model.VenueVertex, src.Venue())

	instruments, err := src.FetchInstruments(context.Background())
	require.NoError(t, err)
	require.Len(t, instruments, 4)
	active := map[string]bool{}
	for _, inst := range instruments {
		active[inst.Symbol] = inst.Active
	}
	assert.Equal(t, map[string]bool{"USDC": false, "BTC-PERP": true, "ETH-PERP": true, "BTC": false}, active)

	batch, err := src.FetchPrices(context.Background(), []string{"2", "4"})
	require.NoError(t, err)
	assert.InDelta(t, 64000.25, batch.Prices["2"], 1e-9)
	assert.InDelta(t, 3100.0, batch.Prices["4"], 1e-9)
	assert.Empty(t, batch.Instruments)
}

func TestVertexSource_InvalidPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"2": {"product_id": 2, "mark_price": "nope"}}`))
	}))
	defer srv.Close()

	src := NewVertexSource(srv.URL, srv.URL, srv.Client())
	_, err := src.FetchPrices(context.Background(), []string{"2"})
	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)

	_, err = src.FetchPrices(context.Background(), []string{"not-a-number"})
	assert.ErrorAs(t, err, &decodeErr)
}

func TestHyperliquidSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		require.NoError(t, json.Unmarshal(body, &req))

		switch req["type"] {
		case "meta":
			w.Write([]byte(`{"universe": [
				{"name": "BTC", "szDecimals": 5, "maxLeverage": 50},
				{"name": "ETH", "szDecimals": 4, "maxLeverage": 50},
				{"name": "OLD", "szDecimals": 0, "maxLeverage": 3, "isDelisted": true}
			]}`))
		case "metaAndAssetCtxs":
			w.Write([]byte(`[
				{"universe": [
					{"name": "BTC", "szDecimals": 5, "maxLeverage": 50},
					{"name": "ETH", "szDecimals": 4, "maxLeverage": 50},
					{"name": "OLD", "szDecimals": 0, "maxLeverage": 3, "isDelisted": true}
				]},
				[
					{"markPx": "64010.0", "midPx": "64009.5", "oraclePx": "64000.0"},
					{"markPx": "3101.5", "midPx": "3101.0", "oraclePx": "3100.0"},
					{"markPx": "0.1", "midPx": null, "oraclePx": "0.1"}
				]
			]`))
		default:
			http.Error(w, "unknown type", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	src := NewHyperliquidSource(srv.URL, srv.Client())

	instruments, err := src.FetchInstruments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Instrument{
		{ID: "0", Symbol: "BTC", Active: true},
		{ID: "1", Symbol: "ETH", Active: true},
		{ID: "2", Symbol: "OLD", Active: false},
	}, instruments)

	batch, err := src.FetchPrices(context.Background(), []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"1": 3101.5}, batch.Prices)
	assert.Len(t, batch.Instruments, 3)
}

func TestHyperliquidSource_MalformedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"universe": []}]`))
	}))
	defer srv.Close()

	src := NewHyperliquidSource(srv.URL, srv.Client())
	_, err := src.FetchPrices(context.Background(), []string{"0"})
	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestReyaCodec_FetchMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/markets", r.URL.Path)
		w.Write([]byte(`[
			{"id": 1, "ticker": "ETH-rUSD", "isActive": true},
			{"id": 2, "ticker": "BTC-rUSD"},
			{"id": 3, "ticker": "SOL-rUSD", "isActive": false},
			{"id": 99, "ticker": "NEW-rUSD", "isActive": true}
		]`))
	}))
	defer srv.Close()

	codec, err := NewReyaCodec(srv.URL+"/api/", nil, srv.Client())
	require.NoError(t, err)

	markets, err := codec.FetchMarkets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Market{
		{Symbol: "ETH-rUSD", Channel: "ETHUSDMARK", Active: true},
		{Symbol: "BTC-rUSD", Channel: "BTCUSDMARK", Active: true},
		{Symbol: "SOL-rUSD", Channel: "SOLUSDMARK", Active: false},
	}, markets)

	codec, err = NewReyaCodec(srv.URL+"/api", []string{"NEW-rUSD=NEWUSDMARK"}, srv.Client())
	require.NoError(t, err)
	markets, err = codec.FetchMarkets(context.Background())
	require.NoError(t, err)
	assert.Len(t, markets, 4)
}

func TestReyaCodec_InvalidOverride(t *testing.T) {
	_, err := NewReyaCodec("http://localhost", []string{"NEW-rUSD"}, nil)
	assert.Error(t, err)
}

func TestReyaCodec_Decode(t *testing.T) {
	codec, err := NewReyaCodec("http://localhost", nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name        string
		msg         string
		wantChannel string
		wantPrice   float64
		wantOK      bool
		wantErr     bool
	}{
		{
			name:        "pool price",
			msg:         `{"type":"channel_data","channel":"prices","id":"BTCUSDMARK","contents":{"assetPairId":"BTCUSDMARK","poolPrice":"64005.5","spotPrice":"64000"}}`,
			wantChannel: "BTCUSDMARK",
			wantPrice:   64005.5,
			wantOK:      true,
		},
		{
			name:        "spot price fallback",
			msg:         `{"type":"channel_data","contents":{"assetPairId":"ETHUSDMARK","spotPrice":"3100"}}`,
			wantChannel: "ETHUSDMARK",
			wantPrice:   3100,
			wantOK:      true,
		},
		{name: "subscribed ack", msg: `{"type":"subscribed","channel":"prices","id":"BTCUSDMARK"}`},
		{name: "no price", msg: `{"type":"channel_data","contents":{"assetPairId":"BTCUSDMARK"}}`},
		{name: "array contents", msg: `{"type":"channel_data","contents":[1,2]}`},
		{name: "not json", msg: `hello`, wantErr: true},
		{name: "bad price", msg: `{"type":"channel_data","contents":{"assetPairId":"BTCUSDMARK","poolPrice":"x"}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			channel, price, ok, err := codec.Decode([]byte(tt.msg))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantChannel, channel)
			assert.Equal(t, tt.wantPrice, price)
		})
	}
}

func TestNewClient(t *testing.T) {
	cfg := newVenueConfig("poll")

	client, err := NewClient("vertex", nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, model.VenueVertex, client.GetName())

	client, err = NewClient("hyperliquid", nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, model.VenueHyperliquid, client.GetName())

	client, err = NewClient("reya", nil, newVenueConfig("push"))
	require.NoError(t, err)
	assert.Equal(t, model.VenueReya, client.GetName())

	client, err = NewClient("binance", nil, newVenueConfig("push"))
	require.NoError(t, err)
	assert.Equal(t, model.VenueBinance, client.GetName())

	client, err = NewClient("kraken", nil, newVenueConfig("push"))
	require.NoError(t, err)
	assert.Equal(t, model.VenueKraken, client.GetName())

	push := newVenueConfig("push")
	push.BackoffFloor = 50 * time.Millisecond
	push.BackoffCeiling = 400 * time.Millisecond
	client, err = NewClient("reya", nil, push)
	require.NoError(t, err)
	pc, ok := client.(*PushClient)
	require.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, pc.cfg.BackoffFloor)
	assert.Equal(t, 400*time.Millisecond, pc.cfg.BackoffCeiling)

	_, err = NewClient("reya", nil, cfg)
	assert.Error(t, err, "reya cannot be polled")

	_, err = NewClient("mtgox", nil, cfg)
	assert.Error(t, err)
}

func newVenueConfig(kind string) *config.VenueConfig {
	return &config.VenueConfig{
		Kind:           kind,
		WSURL:          "ws://localhost:1",
		RESTURL:        "http://localhost:1",
		IndexerURL:     "http://localhost:1",
		ConnectTimeout: time.Second,
		PollInterval:   time.Second,
		RequestTimeout: time.Second,
		BufferSize:     8,
	}
}
