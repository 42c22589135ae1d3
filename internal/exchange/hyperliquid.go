package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"spreadwatch/internal/model"
)

type hyperliquidAsset struct {
	Name         string `json:"name"`
	SzDecimals   int    `json:"szDecimals"`
	MaxLeverage  int    `json:"maxLeverage"`
	OnlyIsolated bool   `json:"onlyIsolated,omitempty"`
	IsDelisted   bool   `json:"isDelisted,omitempty"`
}

type hyperliquidMeta struct {
	Universe []hyperliquidAsset `json:"universe"`
}

type hyperliquidAssetCtx struct {
	MarkPx   string `json:"markPx"`
	MidPx    string `json:"midPx"`
	OraclePx string `json:"oraclePx"`
}

// HyperliquidSource polls Hyperliquid perpetual mark prices. Instrument ids are
// universe indexes, which the batch response keeps aligned with its asset contexts.
type HyperliquidSource struct {
	rest    restClient
	infoURL string
}

// NewHyperliquidSource creates a Hyperliquid PollSource.
func NewHyperliquidSource(infoURL string, httpClient *http.Client) *HyperliquidSource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HyperliquidSource{
		rest:    restClient{venue: model.VenueHyperliquid, httpClient: httpClient},
		infoURL: infoURL,
	}
}

func (h *HyperliquidSource) Venue() model.Venue {
	return model.VenueHyperliquid
}

// FetchInstruments reads the perpetual universe; delisted assets are inactive.
func (h *HyperliquidSource) FetchInstruments(ctx context.Context) ([]Instrument, error) {
	var meta hyperliquidMeta
	if err := h.rest.postJSON(ctx, h.infoURL, map[string]string{"type": "meta"}, &meta); err != nil {
		return nil, err
	}
	return universeInstruments(meta.Universe), nil
}

// FetchPrices reads every asset context and keeps the requested indexes.
func (h *HyperliquidSource) FetchPrices(ctx context.Context, ids []string) (Batch, error) {
	var raw []json.RawMessage
	if err := h.rest.postJSON(ctx, h.infoURL, map[string]string{"type": "metaAndAssetCtxs"}, &raw); err != nil {
		return Batch{}, err
	}
	if len(raw) != 2 {
		return Batch{}, &DecodeError{Venue: model.VenueHyperliquid, Err: fmt.Errorf("expected [meta, assetCtxs], got %d elements", len(raw))}
	}

	var meta hyperliquidMeta
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return Batch{}, &DecodeError{Venue: model.VenueHyperliquid, Err: err}
	}
	var ctxs []hyperliquidAssetCtx
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return Batch{}, &DecodeError{Venue: model.VenueHyperliquid, Err: err}
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	batch := Batch{
		Prices:      make(map[string]float64, len(ids)),
		Instruments: universeInstruments(meta.Universe),
	}
	for i := 0; i < len(ctxs) && i < len(meta.Universe); i++ {
		id := strconv.Itoa(i)
		if _, ok := wanted[id]; !ok {
			continue
		}
		price, err := parsePrice(ctxs[i].MarkPx, 0)
		if err != nil {
			continue
		}
		batch.Prices[id] = price
	}
	return batch, nil
}

func universeInstruments(universe []hyperliquidAsset) []Instrument {
	out := make([]Instrument, 0, len(universe))
	for i, asset := range universe {
		out = append(out, Instrument{
			ID:     strconv.Itoa(i),
			Symbol: asset.Name,
			Active: !asset.IsDelisted,
		})
	}
	return out
}
