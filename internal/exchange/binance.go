package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"

	"spreadwatch/internal/model"
)

const binanceQuoteAsset = "USDT"

type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

type binanceCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// binanceBookTicker is a bookTicker stream payload. The quantity fields are
// declared so that "B" and "A" do not fold onto "b" and "a".
type binanceBookTicker struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	BidQty string `json:"B"`
	Ask    string `json:"a"`
	AskQty string `json:"A"`
}

// BinanceCodec streams best bid/ask from Binance spot bookTicker channels and
// publishes their mid price.
type BinanceCodec struct {
	rest    restClient
	restURL string
	nextID  atomic.Int64
}

// NewBinanceCodec creates a Binance codec. restURL is the v3 API root.
func NewBinanceCodec(restURL string, httpClient *http.Client) *BinanceCodec {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &BinanceCodec{
		rest:    restClient{venue: model.VenueBinance, httpClient: httpClient},
		restURL: strings.TrimRight(restURL, "/"),
	}
}

func (b *BinanceCodec) Venue() model.Venue {
	return model.VenueBinance
}

// FetchMarkets lists the USDT-quoted spot symbols.
func (b *BinanceCodec) FetchMarkets(ctx context.Context) ([]Market, error) {
	var info binanceExchangeInfo
	if err := b.rest.getJSON(ctx, b.restURL+"/exchangeInfo", &info); err != nil {
		return nil, err
	}

	out := make([]Market, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.QuoteAsset != binanceQuoteAsset {
			continue
		}
		out = append(out, Market{
			Symbol:  s.Symbol,
			Channel: binanceChannel(s.Symbol),
			Active:  s.Status == "TRADING",
		})
	}
	return out, nil
}

func (b *BinanceCodec) SubscribeMessage(channel string) any {
	return binanceCommand{Method: "SUBSCRIBE", Params: []string{channel}, ID: b.nextID.Add(1)}
}

func (b *BinanceCodec) UnsubscribeMessage(channel string) any {
	return binanceCommand{Method: "UNSUBSCRIBE", Params: []string{channel}, ID: b.nextID.Add(1)}
}

// Decode reads bookTicker payloads. Command replies are ignored.
func (b *BinanceCodec) Decode(data []byte) (string, float64, bool, error) {
	var t binanceBookTicker
	if err := json.Unmarshal(data, &t); err != nil {
		return "", 0, false, err
	}
	if t.Symbol == "" || t.Bid == "" || t.Ask == "" {
		return "", 0, false, nil
	}
	price, err := midPrice(t.Bid, t.Ask)
	if err != nil {
		return "", 0, false, err
	}
	return binanceChannel(t.Symbol), price, true, nil
}

func binanceChannel(symbol string) string {
	return strings.ToLower(symbol) + "@bookTicker"
}
