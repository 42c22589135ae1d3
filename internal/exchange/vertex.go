package exchange

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"spreadwatch/internal/model"
)

// vertexPriceScale is the x18 fixed-point exponent of Vertex indexer prices.
const vertexPriceScale = 18

type vertexSymbol struct {
	ProductID int64  `json:"product_id"`
	Symbol    string `json:"symbol"`
}

type vertexPerpPrice struct {
	ProductID  int64  `json:"product_id"`
	IndexPrice string `json:"index_price"`
	MarkPrice  string `json:"mark_price"`
	UpdateTime string `json:"update_time"`
}

type vertexPerpPricesRequest struct {
	PerpPrices struct {
		ProductIDs []int64 `json:"product_ids"`
	} `json:"perp_prices"`
}

// VertexSource polls Vertex perpetual mark prices.
type VertexSource struct {
	rest       restClient
	gatewayURL string
	indexerURL string
}

// NewVertexSource creates a Vertex PollSource.
func NewVertexSource(gatewayURL, indexerURL string, httpClient *http.Client) *VertexSource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &VertexSource{
		rest:       restClient{venue: model.VenueVertex, httpClient: httpClient},
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		indexerURL: strings.TrimRight(indexerURL, "/"),
	}
}

func (v *VertexSource) Venue() model.Venue {
	return model.VenueVertex
}

// FetchInstruments lists Vertex products; only "-PERP" products are active.
func (v *VertexSource) FetchInstruments(ctx context.Context) ([]Instrument, error) {
	var symbols []vertexSymbol
	if err := v.rest.getJSON(ctx, v.gatewayURL+"/symbols", &symbols); err != nil {
		return nil, err
	}

	out := make([]Instrument, 0, len(symbols))
	for _, s := range symbols {
		if s.Symbol == "" {
			continue
		}
		out = append(out, Instrument{
			ID:     strconv.FormatInt(s.ProductID, 10),
			Symbol: s.Symbol,
			Active: strings.HasSuffix(s.Symbol, "-PERP"),
		})
	}
	return out, nil
}

// FetchPrices requests mark prices for the given product ids in one call.
func (v *VertexSource) FetchPrices(ctx context.Context, ids []string) (Batch, error) {
	var req vertexPerpPricesRequest
	req.PerpPrices.ProductIDs = make([]int64, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return Batch{}, &DecodeError{Venue: model.VenueVertex, Err: err}
		}
		req.PerpPrices.ProductIDs = append(req.PerpPrices.ProductIDs, n)
	}

	var resp map[string]vertexPerpPrice
	if err := v.rest.postJSON(ctx, v.indexerURL, req, &resp); err != nil {
		return Batch{}, err
	}

	if resp == nil {
		return Batch{}, &DecodeError{Venue: model.VenueVertex, Err: errors.New("empty perp_prices response")}
	}

	batch := Batch{Prices: make(map[string]float64, len(resp))}
	var lastErr error
	for key, info := range resp {
		price, err := parsePrice(info.MarkPrice, vertexPriceScale)
		if err != nil {
			lastErr = err
			continue
		}
		id := key
		if info.ProductID != 0 {
			id = strconv.FormatInt(info.ProductID, 10)
		}
		batch.Prices[id] = price
	}
	if len(batch.Prices) == 0 && lastErr != nil {
		return Batch{}, &DecodeError{Venue: model.VenueVertex, Err: lastErr}
	}
	return batch, nil
}
