package chain

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"voldash/nse"
)

var (
	// ErrEmptyChain means no raw entry matched the requested expiry.
	ErrEmptyChain = errors.New("no chain entries for expiry")
	// ErrStrikeNotFound means a requested strike is absent from the normalized chain.
	ErrStrikeNotFound = errors.New("strike not found")
	// ErrNoUnderlying means the put side of the first raw entry carried no
	// underlying value, which the feed is required to supply.
	ErrNoUnderlying = errors.New("underlying value missing from chain")
)

// QuoteRecord is one side of a strike after normalization. Fields the feed did
// not supply stay zero.
type QuoteRecord struct {
	ImpliedVolatility float64 `json:"implied_volatility"`
	LastPrice         float64 `json:"last_price"`
	BidPrice          float64 `json:"bid_price"`
	AskPrice          float64 `json:"ask_price"`
	UnderlyingValue   float64 `json:"underlying_value"`
}

// StrikeQuotes pairs the call and put records for one strike. Either side may
// be nil when the feed listed only one leg.
type StrikeQuotes struct {
	Call *QuoteRecord `json:"CE,omitempty"`
	Put  *QuoteRecord `json:"PE,omitempty"`
}

// StrikeChain is the normalized view of one (symbol, expiry): unique strikes in
// ascending order, each with its call/put quotes. Built fresh from a single raw
// pull and never mutated afterwards.
type StrikeChain struct {
	Symbol          string
	Expiry          string
	UnderlyingValue float64
	ExpiryDates     []string

	strikes []float64
	quotes  map[float64]StrikeQuotes
}

// Normalize filters the raw chain to one expiry and indexes it by strike.
// The underlying value is read from the put side of the first raw entry, the
// way the upstream payload carries it.
func Normalize(raw *nse.OptionChain, symbol, expiry string) (*StrikeChain, error) {
	if raw == nil || len(raw.Records.Data) == 0 {
		return nil, fmt.Errorf("%w %q", ErrEmptyChain, expiry)
	}

	underlying, err := UnderlyingValue(raw)
	if err != nil {
		return nil, fmt.Errorf("%w for %s", ErrNoUnderlying, symbol)
	}

	sc := &StrikeChain{
		Symbol:          symbol,
		Expiry:          expiry,
		UnderlyingValue: underlying,
		ExpiryDates:     raw.Records.ExpiryDates,
		quotes:          make(map[float64]StrikeQuotes),
	}

	for _, entry := range raw.Records.Data {
		if entry.ExpiryDate != expiry {
			continue
		}
		sq := sc.quotes[entry.StrikePrice]
		if entry.CE != nil {
			sq.Call = toRecord(entry.CE)
		}
		if entry.PE != nil {
			sq.Put = toRecord(entry.PE)
		}
		if _, seen := sc.quotes[entry.StrikePrice]; !seen {
			sc.strikes = append(sc.strikes, entry.StrikePrice)
		}
		sc.quotes[entry.StrikePrice] = sq
	}

	if len(sc.strikes) == 0 {
		return nil, fmt.Errorf("%w %q", ErrEmptyChain, expiry)
	}

	sort.Float64s(sc.strikes)
	return sc, nil
}

// UnderlyingValue reads the spot value the feed attaches to the put side of
// the first raw entry.
func UnderlyingValue(raw *nse.OptionChain) (float64, error) {
	if raw == nil || len(raw.Records.Data) == 0 {
		return 0, ErrNoUnderlying
	}
	first := raw.Records.Data[0]
	if first.PE == nil || first.PE.UnderlyingValue == 0 {
		return 0, ErrNoUnderlying
	}
	return first.PE.UnderlyingValue, nil
}

func toRecord(q *nse.Quote) *QuoteRecord {
	return &QuoteRecord{
		ImpliedVolatility: q.ImpliedVolatility,
		LastPrice:         q.LastPrice,
		BidPrice:          q.BidPrice,
		AskPrice:          q.AskPrice,
		UnderlyingValue:   q.UnderlyingValue,
	}
}

// Strikes returns the strike set in ascending order. Callers must not mutate it.
func (sc *StrikeChain) Strikes() []float64 {
	return sc.strikes
}

// At returns the quotes for a strike, failing with ErrStrikeNotFound when the
// strike is not part of this expiry's chain.
func (sc *StrikeChain) At(strike float64) (StrikeQuotes, error) {
	sq, ok := sc.quotes[strike]
	if !ok {
		return StrikeQuotes{}, fmt.Errorf("%w: %v for expiry %s", ErrStrikeNotFound, strike, sc.Expiry)
	}
	return sq, nil
}

// Has reports whether a strike exists in this chain.
func (sc *StrikeChain) Has(strike float64) bool {
	_, ok := sc.quotes[strike]
	return ok
}

// ATMStrike returns the member of strikes closest to the underlying value.
// Ties resolve to the first (smallest) such strike in the ascending scan.
func ATMStrike(strikes []float64, underlyingValue float64) float64 {
	atm := strikes[0]
	best := math.Abs(strikes[0] - underlyingValue)
	for _, s := range strikes[1:] {
		if d := math.Abs(s - underlyingValue); d < best {
			best = d
			atm = s
		}
	}
	return atm
}

// ATM is shorthand for the chain's own at-the-money strike.
func (sc *StrikeChain) ATM() float64 {
	return ATMStrike(sc.strikes, sc.UnderlyingValue)
}
