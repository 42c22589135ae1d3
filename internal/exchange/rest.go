package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"spreadwatch/internal/model"
)

// APIError represents a non-2xx response from a venue REST endpoint.
type APIError struct {
	Venue      model.Venue
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %d: %s", e.Venue, e.StatusCode, http.StatusText(e.StatusCode))
}

// restClient performs JSON requests against one venue.
type restClient struct {
	venue      model.Venue
	httpClient *http.Client
}

func (c *restClient) getJSON(ctx context.Context, url string, result any) error {
	return c.do(ctx, http.MethodGet, url, nil, result)
}

func (c *restClient) postJSON(ctx context.Context, url string, body, result any) error {
	return c.do(ctx, http.MethodPost, url, body, result)
}

func (c *restClient) do(ctx context.Context, method, url string, body, result any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &APIError{Venue: c.venue, StatusCode: resp.StatusCode, Body: data}
	}

	if err := json.Unmarshal(data, result); err != nil {
		return &DecodeError{Venue: c.venue, Err: err}
	}
	return nil
}

// parsePrice decodes a venue price string, optionally scaled by 10^-shift.
func parsePrice(raw string, shift int32) (float64, error) {
	d, err := parseDecimal(raw, shift)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

// midPrice returns the mean of a bid and an ask price string.
func midPrice(bid, ask string) (float64, error) {
	b, err := parseDecimal(bid, 0)
	if err != nil {
		return 0, fmt.Errorf("bid: %w", err)
	}
	a, err := parseDecimal(ask, 0)
	if err != nil {
		return 0, fmt.Errorf("ask: %w", err)
	}
	return b.Add(a).Div(decimal.NewFromInt(2)).InexactFloat64(), nil
}

func parseDecimal(raw string, shift int32) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("empty price")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", raw, err)
	}
	if shift != 0 {
		d = d.Shift(-shift)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %q", raw)
	}
	return d, nil
}
