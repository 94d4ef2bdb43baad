package store

import (
	"context"
	"encoding/json"
	"fmt"

	"voldash/analytics"
)

// Store is the append-only snapshot history. Appends never update or delete
// prior rows; Latest* return the newest row for a key or nil when the key has
// no history. Reads during a concurrent append may see either the prior or the
// new row.
type Store interface {
	AppendSmile(ctx context.Context, row *SmileRow) error
	// LatestSmile with expiry "" matches the newest smile for the symbol
	// across all expiries.
	LatestSmile(ctx context.Context, symbol, expiry string) (*SmileRow, error)

	AppendSurface(ctx context.Context, row *SurfaceRow) error
	LatestSurface(ctx context.Context, symbol string) (*SurfaceRow, error)

	AppendPremium(ctx context.Context, row *PremiumRow) error
	// LatestPremium keys on (symbol, expiry, strike, wings); zero wings match
	// straddle-only rows, where the wing columns are NULL.
	LatestPremium(ctx context.Context, symbol, expiry string, strike, callWing, putWing float64) (*PremiumRow, error)
	PremiumSeries(ctx context.Context, symbol, expiry string) ([]*PremiumRow, error)

	AppendBidAsk(ctx context.Context, row *BidAskRow) error
	LatestBidAsk(ctx context.Context, symbol, expiry string, strike float64) (*BidAskRow, error)

	AppendOptionPrice(ctx context.Context, row *OptionPriceRow) error
	LatestOptionPrice(ctx context.Context, symbol, expiry string, strike float64) (*OptionPriceRow, error)

	AppendUnderlying(ctx context.Context, row *UnderlyingRow) error
	LatestUnderlying(ctx context.Context, symbol string) (*UnderlyingRow, error)

	Close() error
}

type SmileRow struct {
	Timestamp int64  `json:"timestamp"`
	Symbol    string `json:"symbol"`
	Expiry    string `json:"expiry"`
	analytics.VolSmile
}

type SurfaceRow struct {
	Timestamp int64  `json:"timestamp"`
	Symbol    string `json:"symbol"`
	analytics.VolSurface
}

type PremiumRow struct {
	Timestamp int64   `json:"timestamp"`
	Symbol    string  `json:"symbol"`
	Expiry    string  `json:"expiry"`
	Strike    float64 `json:"strike"`
	analytics.PremiumRecord
}

type BidAskRow struct {
	Timestamp int64   `json:"timestamp"`
	Symbol    string  `json:"symbol"`
	Expiry    string  `json:"expiry"`
	Strike    float64 `json:"strike"`
	analytics.BidAskSpread
}

type OptionPriceRow struct {
	Timestamp int64  `json:"timestamp"`
	Symbol    string `json:"symbol"`
	Expiry    string `json:"expiry"`
	analytics.OptionPrice
}

type UnderlyingRow struct {
	Timestamp       int64   `json:"timestamp"`
	Symbol          string  `json:"symbol"`
	UnderlyingValue float64 `json:"underlying_value"`
}

// Array columns are persisted as JSON text and decoded strictly on read.

func encodeJSON(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode stored field: %w", err)
	}
	return string(raw), nil
}

func decodeJSON(raw string, v interface{}) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode stored field: %w", err)
	}
	return nil
}
