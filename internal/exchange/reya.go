package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"spreadwatch/internal/model"
)

// reyaMarketIDs maps Reya tickers onto the asset pair ids of their price channel.
var reyaMarketIDs = map[string]string{
	"ETH-rUSD":    "ETHUSDMARK",
	"BTC-rUSD":    "BTCUSDMARK",
	"SOL-rUSD":    "SOLUSDMARK",
	"ARB-rUSD":    "ARBUSDMARK",
	"OP-rUSD":     "OPUSDMARK",
	"AVAX-rUSD":   "AVAXUSDMARK",
	"MKR-rUSD":    "MKRUSDMARK",
	"LINK-rUSD":   "LINKUSDMARK",
	"AAVE-rUSD":   "AAVEUSDMARK",
	"CRV-rUSD":    "CRVUSDMARK",
	"UNI-rUSD":    "UNIUSDMARK",
	"SUI-rUSD":    "SUIUSDMARK",
	"TIA-rUSD":    "TIAUSDMARK",
	"SEI-rUSD":    "SEIUSDMARK",
	"ZRO-rUSD":    "ZROUSDMARK",
	"XRP-rUSD":    "XRPUSDMARK",
	"WIF-rUSD":    "WIFUSDMARK",
	"kPEPE-rUSD":  "1000PEPEUSDMARK",
	"POPCAT-rUSD": "POPCATUSDMARK",
	"DOGE-rUSD":   "DOGEUSDMARK",
	"kSHIB-rUSD":  "1000SHIBUSDMARK",
	"kBONK-rUSD":  "1000BONKUSDMARK",
	"APT-rUSD":    "APTUSDMARK",
	"BNB-rUSD":    "BNBUSDMARK",
	"JTO-rUSD":    "JTOUSDMARK",
}

const reyaPricesChannel = "prices"

type reyaMarket struct {
	ID       int    `json:"id"`
	Ticker   string `json:"ticker"`
	IsActive *bool  `json:"isActive,omitempty"`
}

type reyaCommand struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	ID      string `json:"id"`
}

type reyaEnvelope struct {
	Type     string          `json:"type"`
	Channel  string          `json:"channel"`
	ID       string          `json:"id"`
	Contents json.RawMessage `json:"contents"`
}

type reyaPriceMessage struct {
	PoolPrice   string `json:"poolPrice"`
	SpotPrice   string `json:"spotPrice"`
	AssetPairID string `json:"assetPairId"`
	MarketID    int    `json:"marketId"`
}

// ReyaCodec speaks the Reya markets REST API and prices socket channel.
type ReyaCodec struct {
	rest      restClient
	restURL   string
	marketIDs map[string]string
}

// NewReyaCodec creates a Reya codec. overrides are "TICKER=ASSETPAIRID" entries
// added to, or replacing, the built-in table.
func NewReyaCodec(restURL string, overrides []string, httpClient *http.Client) (*ReyaCodec, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	ids := make(map[string]string, len(reyaMarketIDs)+len(overrides))
	for k, v := range reyaMarketIDs {
		ids[k] = v
	}
	for _, o := range overrides {
		ticker, id, ok := strings.Cut(o, "=")
		ticker, id = strings.TrimSpace(ticker), strings.TrimSpace(id)
		if !ok || ticker == "" || id == "" {
			return nil, fmt.Errorf("reya market override %q: want TICKER=ID", o)
		}
		ids[ticker] = id
	}
	return &ReyaCodec{
		rest:      restClient{venue: model.VenueReya, httpClient: httpClient},
		restURL:   strings.TrimRight(restURL, "/"),
		marketIDs: ids,
	}, nil
}

func (r *ReyaCodec) Venue() model.Venue {
	return model.VenueReya
}

// FetchMarkets lists Reya markets that have a known price channel.
func (r *ReyaCodec) FetchMarkets(ctx context.Context) ([]Market, error) {
	var markets []reyaMarket
	if err := r.rest.getJSON(ctx, r.restURL+"/markets", &markets); err != nil {
		return nil, err
	}

	out := make([]Market, 0, len(markets))
	for _, m := range markets {
		id, ok := r.marketIDs[m.Ticker]
		if !ok {
			continue
		}
		out = append(out, Market{
			Symbol:  m.Ticker,
			Channel: id,
			Active:  m.IsActive == nil || *m.IsActive,
		})
	}
	return out, nil
}

func (r *ReyaCodec) SubscribeMessage(channel string) any {
	return reyaCommand{Type: "subscribe", Channel: reyaPricesChannel, ID: channel}
}

func (r *ReyaCodec) UnsubscribeMessage(channel string) any {
	return reyaCommand{Type: "unsubscribe", Channel: reyaPricesChannel, ID: channel}
}

// Decode reads channel_data price messages, preferring poolPrice over spotPrice.
func (r *ReyaCodec) Decode(data []byte) (string, float64, bool, error) {
	var env reyaEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", 0, false, err
	}
	if env.Type != "channel_data" || len(env.Contents) == 0 || env.Contents[0] != '{' {
		return "", 0, false, nil
	}

	var msg reyaPriceMessage
	if err := json.Unmarshal(env.Contents, &msg); err != nil {
		return "", 0, false, err
	}
	if msg.AssetPairID == "" || (msg.PoolPrice == "" && msg.SpotPrice == "") {
		return "", 0, false, nil
	}

	raw := msg.PoolPrice
	if raw == "" {
		raw = msg.SpotPrice
	}
	price, err := parsePrice(raw, 0)
	if err != nil {
		return "", 0, false, err
	}
	return msg.AssetPairID, price, true, nil
}
