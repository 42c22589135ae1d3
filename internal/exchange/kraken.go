package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"spreadwatch/internal/model"
)

const krakenQuote = "/USD"

// krakenAssets maps Kraken's legacy asset codes onto common tickers.
var krakenAssets = map[string]string{
	"XBT": "BTC",
	"XDG": "DOGE",
}

type krakenAssetPairs struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		WSName string `json:"wsname"`
		Status string `json:"status"`
	} `json:"result"`
}

type krakenSubscription struct {
	Name string `json:"name"`
}

type krakenCommand struct {
	Event        string             `json:"event"`
	Pair         []string           `json:"pair"`
	Subscription krakenSubscription `json:"subscription"`
}

// krakenTicker is the payload of a ticker channel message. Each field is an
// array whose first element is the price.
type krakenTicker struct {
	Ask  []any `json:"a"`
	Bid  []any `json:"b"`
	Last []any `json:"c"`
}

// KrakenCodec streams Kraken v1 ticker channels and publishes the bid/ask mid
// price, falling back to the last trade.
type KrakenCodec struct {
	rest    restClient
	restURL string
}

// NewKrakenCodec creates a Kraken codec. restURL is the public REST API root.
func NewKrakenCodec(restURL string, httpClient *http.Client) *KrakenCodec {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &KrakenCodec{
		rest:    restClient{venue: model.VenueKraken, httpClient: httpClient},
		restURL: strings.TrimRight(restURL, "/"),
	}
}

func (k *KrakenCodec) Venue() model.Venue {
	return model.VenueKraken
}

// FetchMarkets lists USD pairs, naming each "BASE/USD" with common tickers.
func (k *KrakenCodec) FetchMarkets(ctx context.Context) ([]Market, error) {
	var pairs krakenAssetPairs
	if err := k.rest.getJSON(ctx, k.restURL+"/AssetPairs", &pairs); err != nil {
		return nil, err
	}
	if len(pairs.Error) > 0 {
		return nil, fmt.Errorf("kraken asset pairs: %s", strings.Join(pairs.Error, "; "))
	}

	out := make([]Market, 0, len(pairs.Result))
	for _, p := range pairs.Result {
		base, ok := strings.CutSuffix(p.WSName, krakenQuote)
		if !ok || base == "" {
			continue
		}
		if alias, ok := krakenAssets[base]; ok {
			base = alias
		}
		out = append(out, Market{
			Symbol:  base + krakenQuote,
			Channel: p.WSName,
			Active:  p.Status == "" || p.Status == "online",
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (k *KrakenCodec) SubscribeMessage(channel string) any {
	return krakenCommand{Event: "subscribe", Pair: []string{channel}, Subscription: krakenSubscription{Name: "ticker"}}
}

func (k *KrakenCodec) UnsubscribeMessage(channel string) any {
	return krakenCommand{Event: "unsubscribe", Pair: []string{channel}, Subscription: krakenSubscription{Name: "ticker"}}
}

// Decode reads [channelID, ticker, "ticker", pair] arrays. Event objects such
// as heartbeats and subscription acks are ignored.
func (k *KrakenCodec) Decode(data []byte) (string, float64, bool, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		var event map[string]any
		if objErr := json.Unmarshal(data, &event); objErr == nil {
			return "", 0, false, nil
		}
		return "", 0, false, err
	}
	if len(frame) < 4 {
		return "", 0, false, nil
	}

	var name, pair string
	if err := json.Unmarshal(frame[len(frame)-2], &name); err != nil || name != "ticker" {
		return "", 0, false, nil
	}
	if err := json.Unmarshal(frame[len(frame)-1], &pair); err != nil {
		return "", 0, false, err
	}

	var t krakenTicker
	if err := json.Unmarshal(frame[1], &t); err != nil {
		return "", 0, false, err
	}

	bid, ask := firstString(t.Bid), firstString(t.Ask)
	if bid != "" && ask != "" {
		price, err := midPrice(bid, ask)
		if err != nil {
			return "", 0, false, err
		}
		return pair, price, true, nil
	}
	if last := firstString(t.Last); last != "" {
		price, err := parsePrice(last, 0)
		if err != nil {
			return "", 0, false, err
		}
		return pair, price, true, nil
	}
	return "", 0, false, nil
}

func firstString(values []any) string {
	if len(values) == 0 {
		return ""
	}
	s, _ := values[0].(string)
	return s
}
