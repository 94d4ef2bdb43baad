package analytics

import (
	"errors"
	"math"
	"sort"
	"time"

	"voldash/chain"
	"voldash/config"
	"voldash/nse"
)

// Engine derives per-request analytics from normalized strike chains. All
// methods are pure: same chain and instant in, same result out.
type Engine struct {
	cfg *config.AnalyticsConfig
}

func NewEngine(cfg *config.AnalyticsConfig) *Engine {
	return &Engine{cfg: cfg}
}

// VolSmile is the per-strike implied-volatility smile for one expiry. The
// call/put arrays align index-for-index with Strikes.
type VolSmile struct {
	Strikes         []float64 `json:"strikes"`
	CallIVs         []float64 `json:"call_ivs"`
	PutIVs          []float64 `json:"put_ivs"`
	ATMStrike       float64   `json:"atm_strike"`
	UnderlyingValue float64   `json:"underlying_value"`
	ExpiryDates     []string  `json:"expiryDates"`
}

// VolSurface is a columnar sample across the nearest expiries: parallel
// strike/days/vol arrays plus the expiries that contributed.
type VolSurface struct {
	Strikes      []float64 `json:"strikes"`
	DaysToExpiry []int     `json:"days_to_expiry"`
	ImpliedVols  []float64 `json:"implied_vols"`
	ExpiryDates  []string  `json:"expiryDates"`
}

// PremiumRecord bundles straddle and optional iron-fly figures for one strike.
// The iron-fly fields and wings are jointly present or jointly nil.
type PremiumRecord struct {
	StraddlePremium float64  `json:"straddle_premium"`
	StraddleIV      float64  `json:"straddle_iv"`
	IronflyPremium  *float64 `json:"ironfly_premium"`
	IronflyIV       *float64 `json:"ironfly_iv"`
	ATMStrike       float64  `json:"atm_strike"`
	CallWing        *float64 `json:"call_wing,omitempty"`
	PutWing         *float64 `json:"put_wing,omitempty"`
}

// BidAskSpread carries per-leg spreads with spike flags. The CE and PE spike
// thresholds differ on purpose.
type BidAskSpread struct {
	CESpread float64 `json:"ce_spread"`
	PESpread float64 `json:"pe_spread"`
	CESpike  bool    `json:"ce_spike"`
	PESpike  bool    `json:"pe_spike"`
}

// OptionPrice is the IV/price/time-to-expiry bundle for one strike.
type OptionPrice struct {
	Strike        float64 `json:"strike"`
	TimeToExpiry  float64 `json:"time_to_expiry"`
	RiskFreeRate  float64 `json:"risk_free_rate"`
	CEIV          float64 `json:"ce_iv"`
	PEIV          float64 `json:"pe_iv"`
	CEMarketPrice float64 `json:"ce_market_price"`
	PEMarketPrice float64 `json:"pe_market_price"`
}

// Smile builds the vol smile across every strike of the chain. Absent legs
// contribute zero IV so the arrays stay aligned with the strike set.
func (e *Engine) Smile(sc *chain.StrikeChain) *VolSmile {
	strikes := sc.Strikes()
	smile := &VolSmile{
		Strikes:         strikes,
		CallIVs:         make([]float64, 0, len(strikes)),
		PutIVs:          make([]float64, 0, len(strikes)),
		ATMStrike:       sc.ATM(),
		UnderlyingValue: sc.UnderlyingValue,
		ExpiryDates:     sc.ExpiryDates,
	}

	for _, s := range strikes {
		sq, _ := sc.At(s)
		smile.CallIVs = append(smile.CallIVs, callIV(sq))
		smile.PutIVs = append(smile.PutIVs, putIV(sq))
	}

	return smile
}

// Surface samples the vol surface over the expiries nearest to now. Per expiry
// it takes a window of strikes centered on that expiry's ATM index, clamped at
// the edges of the strike range, and emits max(callIV, putIV) per strike.
func (e *Engine) Surface(raw *nse.OptionChain, symbol string, now time.Time) (*VolSurface, error) {
	nearest := NearestExpiries(raw.Records.ExpiryDates, now, e.cfg.SurfaceExpiries)
	if len(nearest) == 0 {
		return nil, chain.ErrEmptyChain
	}

	surface := &VolSurface{
		Strikes:      make([]float64, 0),
		DaysToExpiry: make([]int, 0),
		ImpliedVols:  make([]float64, 0),
		ExpiryDates:  nearest,
	}

	for _, expiry := range nearest {
		sc, err := chain.Normalize(raw, symbol, expiry)
		if err != nil {
			if errors.Is(err, chain.ErrEmptyChain) {
				continue
			}
			return nil, err
		}

		strikes := sc.Strikes()
		atmIdx := indexOf(strikes, sc.ATM())

		start := atmIdx - e.cfg.SurfaceWindow
		if start < 0 {
			start = 0
		}
		end := atmIdx + e.cfg.SurfaceWindow + 1
		if end > len(strikes) {
			end = len(strikes)
		}

		days, err := DaysToExpiry(expiry, now)
		if err != nil {
			return nil, err
		}

		for _, s := range strikes[start:end] {
			sq, _ := sc.At(s)
			surface.Strikes = append(surface.Strikes, s)
			surface.DaysToExpiry = append(surface.DaysToExpiry, days)
			surface.ImpliedVols = append(surface.ImpliedVols, math.Max(callIV(sq), putIV(sq)))
		}
	}

	return surface, nil
}

// Premiums computes the straddle at the given strike, plus the iron fly when
// both wings are supplied (non-zero) and exist in the chain. A zero wing means
// "not supplied"; real strikes are never zero.
func (e *Engine) Premiums(sc *chain.StrikeChain, strike, callWing, putWing float64) (*PremiumRecord, error) {
	sq, err := sc.At(strike)
	if err != nil {
		return nil, err
	}

	rec := &PremiumRecord{
		StraddlePremium: callLast(sq) + putLast(sq),
		StraddleIV:      (callIV(sq) + putIV(sq)) / 2,
		ATMStrike:       strike,
	}

	if callWing == 0 || putWing == 0 {
		return rec, nil
	}
	if !sc.Has(callWing) || !sc.Has(putWing) {
		return rec, nil
	}

	cw, _ := sc.At(callWing)
	pw, _ := sc.At(putWing)

	premium := rec.StraddlePremium - callLast(cw) - putLast(pw)
	iv := (callIV(sq) + putIV(sq) + callIV(cw) + putIV(pw)) / 4

	rec.IronflyPremium = &premium
	rec.IronflyIV = &iv
	rec.CallWing = &callWing
	rec.PutWing = &putWing

	return rec, nil
}

// BidAsk computes per-leg spreads for one strike. A leg with a missing or zero
// bid or ask reports a zero spread.
func (e *Engine) BidAsk(sc *chain.StrikeChain, strike float64) (*BidAskSpread, error) {
	sq, err := sc.At(strike)
	if err != nil {
		return nil, err
	}

	ba := &BidAskSpread{
		CESpread: spread(sq.Call),
		PESpread: spread(sq.Put),
	}
	ba.CESpike = ba.CESpread > e.cfg.CESpikeThreshold
	ba.PESpike = ba.PESpread > e.cfg.PESpikeThreshold

	return ba, nil
}

// Price returns the pricing inputs for one strike of the chain's expiry.
func (e *Engine) Price(sc *chain.StrikeChain, strike float64, now time.Time) (*OptionPrice, error) {
	sq, err := sc.At(strike)
	if err != nil {
		return nil, err
	}

	days, err := DaysToExpiry(sc.Expiry, now)
	if err != nil {
		return nil, err
	}

	return &OptionPrice{
		Strike:        strike,
		TimeToExpiry:  float64(days) / 365.0,
		RiskFreeRate:  e.cfg.RiskFreeRate,
		CEIV:          callIV(sq),
		PEIV:          putIV(sq),
		CEMarketPrice: callLast(sq),
		PEMarketPrice: putLast(sq),
	}, nil
}

// NearestExpiries orders the listed expiries by absolute day distance from now
// and returns up to n of them. Equidistant expiries keep their upstream order.
func NearestExpiries(expiryDates []string, now time.Time, n int) []string {
	type candidate struct {
		expiry string
		dist   int
	}

	candidates := make([]candidate, 0, len(expiryDates))
	for _, d := range expiryDates {
		days, err := DaysToExpiry(d, now)
		if err != nil {
			continue
		}
		if days < 0 {
			days = -days
		}
		candidates = append(candidates, candidate{expiry: d, dist: days})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].dist < candidates[j].dist
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]string, 0, n)
	for _, c := range candidates[:n] {
		out = append(out, c.expiry)
	}
	return out
}

// NearestExpiry returns the single expiry closest to now, or "" when none parse.
func NearestExpiry(expiryDates []string, now time.Time) string {
	nearest := NearestExpiries(expiryDates, now, 1)
	if len(nearest) == 0 {
		return ""
	}
	return nearest[0]
}

// DaysToExpiry is calendar-day granularity: whole days between now and the
// expiry date, truncated. May be zero on expiry day; negativity is the
// caller's concern.
func DaysToExpiry(expiry string, now time.Time) (int, error) {
	exp, err := nse.ParseExpiry(expiry)
	if err != nil {
		return 0, err
	}
	return int(exp.Sub(now).Hours() / 24), nil
}

func indexOf(strikes []float64, strike float64) int {
	for i, s := range strikes {
		if s == strike {
			return i
		}
	}
	return 0
}

func callIV(sq chain.StrikeQuotes) float64 {
	if sq.Call == nil {
		return 0
	}
	return sq.Call.ImpliedVolatility
}

func putIV(sq chain.StrikeQuotes) float64 {
	if sq.Put == nil {
		return 0
	}
	return sq.Put.ImpliedVolatility
}

func callLast(sq chain.StrikeQuotes) float64 {
	if sq.Call == nil {
		return 0
	}
	return sq.Call.LastPrice
}

func putLast(sq chain.StrikeQuotes) float64 {
	if sq.Put == nil {
		return 0
	}
	return sq.Put.LastPrice
}

func spread(q *chain.QuoteRecord) float64 {
	if q == nil || q.AskPrice == 0 || q.BidPrice == 0 {
		return 0
	}
	return q.AskPrice - q.BidPrice
}
