package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voldash/analytics"
	"voldash/cache"
	"voldash/chain"
	"voldash/logger"
	"voldash/notify"
	"voldash/nse"
	"voldash/store"
)

// ErrUnavailable means a request had no live data and no stored snapshot to
// fall back on. It covers the closed-market-no-history case too.
var ErrUnavailable = errors.New("no live data and no snapshot history")

// Fetcher is the upstream collaborator: an opaque chain pull with its own
// bounded retry already applied.
type Fetcher interface {
	FetchOptionChain(ctx context.Context, symbol string) (*nse.OptionChain, error)
}

// Clock gates live fetches on the venue session.
type Clock interface {
	IsOpen(now time.Time) bool
}

// Orchestrator is the read path. Per request it decides between a live
// derivation and the last persisted snapshot: market closed or live pull
// failed means serve the newest stored record, and only when none exists does
// the request fail. Successful live derivations are appended to the store
// before the response returns; fallback reads never re-persist.
type Orchestrator struct {
	store   store.Store
	fetcher Fetcher
	clock   Clock
	engine  *analytics.Engine
	chains  *cache.ChainCache
	log     *logger.Logger

	// optional sinks
	metrics   *cache.MetricsCache
	publisher *notify.Publisher

	// Now is the time source; replaceable in tests.
	Now func() time.Time
}

func New(st store.Store, fetcher Fetcher, clock Clock, engine *analytics.Engine, chains *cache.ChainCache) *Orchestrator {
	return &Orchestrator{
		store:   st,
		fetcher: fetcher,
		clock:   clock,
		engine:  engine,
		chains:  chains,
		log:     logger.L(),
		Now:     time.Now,
	}
}

// SetMetrics attaches the optional Redis metrics sink.
func (o *Orchestrator) SetMetrics(m *cache.MetricsCache) {
	o.metrics = m
}

// SetPublisher attaches the optional NATS snapshot publisher.
func (o *Orchestrator) SetPublisher(p *notify.Publisher) {
	o.publisher = p
}

// liveChain returns a raw chain for the symbol: the refresher's cached copy
// when fresh, otherwise a direct fetch.
func (o *Orchestrator) liveChain(ctx context.Context, symbol string) (*nse.OptionChain, error) {
	if raw, ok := o.chains.Get(symbol); ok {
		return raw, nil
	}
	raw, err := o.fetcher.FetchOptionChain(ctx, symbol)
	if err != nil {
		return nil, err
	}
	o.chains.Put(symbol, raw)
	return raw, nil
}

// Smile serves the vol smile for (symbol, expiry). Empty expiry means the
// expiry nearest to now, resolved from the live chain; its fallback is the
// newest stored smile for the symbol across expiries.
func (o *Orchestrator) Smile(ctx context.Context, symbol, expiry string) (*store.SmileRow, error) {
	now := o.Now()

	if o.clock.IsOpen(now) {
		row, err := o.deriveSmile(ctx, symbol, expiry, now)
		if err == nil {
			return row, nil
		}
		if !recoverable(err) {
			return nil, err
		}
		o.log.Error("Live smile derivation failed, falling back", map[string]interface{}{
			"symbol": symbol,
			"expiry": expiry,
			"error":  err.Error(),
		})
	}

	return fallback(o.store.LatestSmile(ctx, symbol, expiry))
}

func (o *Orchestrator) deriveSmile(ctx context.Context, symbol, expiry string, now time.Time) (*store.SmileRow, error) {
	raw, err := o.liveChain(ctx, symbol)
	if err != nil {
		return nil, err
	}

	resolved := expiry
	if resolved == "" {
		resolved = analytics.NearestExpiry(raw.Records.ExpiryDates, now)
	}

	sc, err := chain.Normalize(raw, symbol, resolved)
	if err != nil {
		return nil, err
	}

	row := &store.SmileRow{
		Timestamp: now.UnixMilli(),
		Symbol:    symbol,
		Expiry:    resolved,
		VolSmile:  *o.engine.Smile(sc),
	}
	if err := o.store.AppendSmile(ctx, row); err != nil {
		return nil, persistFailed(err)
	}
	o.publish("smile", symbol, row)
	return row, nil
}

// Surface serves the multi-expiry surface sample for a symbol.
func (o *Orchestrator) Surface(ctx context.Context, symbol string) (*store.SurfaceRow, error) {
	now := o.Now()

	if o.clock.IsOpen(now) {
		row, err := o.deriveSurface(ctx, symbol, now)
		if err == nil {
			return row, nil
		}
		if !recoverable(err) {
			return nil, err
		}
		o.log.Error("Live surface derivation failed, falling back", map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		})
	}

	return fallback(o.store.LatestSurface(ctx, symbol))
}

func (o *Orchestrator) deriveSurface(ctx context.Context, symbol string, now time.Time) (*store.SurfaceRow, error) {
	raw, err := o.liveChain(ctx, symbol)
	if err != nil {
		return nil, err
	}

	surface, err := o.engine.Surface(raw, symbol, now)
	if err != nil {
		return nil, err
	}

	row := &store.SurfaceRow{
		Timestamp:  now.UnixMilli(),
		Symbol:     symbol,
		VolSurface: *surface,
	}
	if err := o.store.AppendSurface(ctx, row); err != nil {
		return nil, persistFailed(err)
	}
	o.publish("surface", symbol, row)
	return row, nil
}

// Premiums serves the straddle/iron-fly bundle for an explicit strike. Zero
// wings mean a straddle-only request. A strike missing from a successfully
// fetched chain is surfaced immediately; history for a strike that does not
// exist is not meaningful.
func (o *Orchestrator) Premiums(ctx context.Context, symbol, expiry string, strike, callWing, putWing float64) (*store.PremiumRow, error) {
	now := o.Now()

	if o.clock.IsOpen(now) {
		row, err := o.derivePremiums(ctx, symbol, expiry, strike, callWing, putWing, now)
		if err == nil {
			return row, nil
		}
		if !recoverable(err) {
			return nil, err
		}
		o.log.Error("Live premium derivation failed, falling back", map[string]interface{}{
			"symbol": symbol,
			"expiry": expiry,
			"strike": strike,
			"error":  err.Error(),
		})
	}

	return fallback(o.store.LatestPremium(ctx, symbol, expiry, strike, callWing, putWing))
}

func (o *Orchestrator) derivePremiums(ctx context.Context, symbol, expiry string, strike, callWing, putWing float64, now time.Time) (*store.PremiumRow, error) {
	sc, err := o.liveStrikeChain(ctx, symbol, expiry)
	if err != nil {
		return nil, err
	}

	rec, err := o.engine.Premiums(sc, strike, callWing, putWing)
	if err != nil {
		return nil, err
	}

	row := &store.PremiumRow{
		Timestamp:     now.UnixMilli(),
		Symbol:        symbol,
		Expiry:        expiry,
		Strike:        strike,
		PremiumRecord: *rec,
	}
	if err := o.store.AppendPremium(ctx, row); err != nil {
		return nil, persistFailed(err)
	}

	if o.metrics != nil {
		if err := o.metrics.RecordPremium(ctx, symbol, row.Timestamp, rec.StraddlePremium, rec.StraddleIV, sc.UnderlyingValue); err != nil {
			o.log.Error("Failed to record premium metrics", map[string]interface{}{
				"symbol": symbol,
				"error":  err.Error(),
			})
		}
	}
	o.publish("premiums", symbol, row)
	return row, nil
}

// BidAsk serves spreads and spike flags for an explicit strike.
func (o *Orchestrator) BidAsk(ctx context.Context, symbol, expiry string, strike float64) (*store.BidAskRow, error) {
	now := o.Now()

	if o.clock.IsOpen(now) {
		row, err := o.deriveBidAsk(ctx, symbol, expiry, strike, now)
		if err == nil {
			return row, nil
		}
		if !recoverable(err) {
			return nil, err
		}
		o.log.Error("Live bid-ask derivation failed, falling back", map[string]interface{}{
			"symbol": symbol,
			"expiry": expiry,
			"strike": strike,
			"error":  err.Error(),
		})
	}

	return fallback(o.store.LatestBidAsk(ctx, symbol, expiry, strike))
}

func (o *Orchestrator) deriveBidAsk(ctx context.Context, symbol, expiry string, strike float64, now time.Time) (*store.BidAskRow, error) {
	sc, err := o.liveStrikeChain(ctx, symbol, expiry)
	if err != nil {
		return nil, err
	}

	spread, err := o.engine.BidAsk(sc, strike)
	if err != nil {
		return nil, err
	}

	row := &store.BidAskRow{
		Timestamp:    now.UnixMilli(),
		Symbol:       symbol,
		Expiry:       expiry,
		Strike:       strike,
		BidAskSpread: *spread,
	}
	if err := o.store.AppendBidAsk(ctx, row); err != nil {
		return nil, persistFailed(err)
	}
	o.publish("bidask", symbol, row)
	return row, nil
}

// OptionPrice serves the IV/price/time-to-expiry bundle for an explicit strike.
func (o *Orchestrator) OptionPrice(ctx context.Context, symbol, expiry string, strike float64) (*store.OptionPriceRow, error) {
	now := o.Now()

	if o.clock.IsOpen(now) {
		row, err := o.deriveOptionPrice(ctx, symbol, expiry, strike, now)
		if err == nil {
			return row, nil
		}
		if !recoverable(err) {
			return nil, err
		}
		o.log.Error("Live option price derivation failed, falling back", map[string]interface{}{
			"symbol": symbol,
			"expiry": expiry,
			"strike": strike,
			"error":  err.Error(),
		})
	}

	return fallback(o.store.LatestOptionPrice(ctx, symbol, expiry, strike))
}

func (o *Orchestrator) deriveOptionPrice(ctx context.Context, symbol, expiry string, strike float64, now time.Time) (*store.OptionPriceRow, error) {
	sc, err := o.liveStrikeChain(ctx, symbol, expiry)
	if err != nil {
		return nil, err
	}

	price, err := o.engine.Price(sc, strike, now)
	if err != nil {
		return nil, err
	}

	row := &store.OptionPriceRow{
		Timestamp:   now.UnixMilli(),
		Symbol:      symbol,
		Expiry:      expiry,
		OptionPrice: *price,
	}
	if err := o.store.AppendOptionPrice(ctx, row); err != nil {
		return nil, persistFailed(err)
	}
	o.publish("optionprice", symbol, row)
	return row, nil
}

// Underlying serves the latest underlying value for a symbol.
func (o *Orchestrator) Underlying(ctx context.Context, symbol string) (*store.UnderlyingRow, error) {
	now := o.Now()

	if o.clock.IsOpen(now) {
		row, err := o.deriveUnderlying(ctx, symbol, now)
		if err == nil {
			return row, nil
		}
		if !recoverable(err) {
			return nil, err
		}
		o.log.Error("Live underlying read failed, falling back", map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		})
	}

	return fallback(o.store.LatestUnderlying(ctx, symbol))
}

func (o *Orchestrator) deriveUnderlying(ctx context.Context, symbol string, now time.Time) (*store.UnderlyingRow, error) {
	raw, err := o.liveChain(ctx, symbol)
	if err != nil {
		return nil, err
	}

	value, err := chain.UnderlyingValue(raw)
	if err != nil {
		return nil, err
	}

	row := &store.UnderlyingRow{
		Timestamp:       now.UnixMilli(),
		Symbol:          symbol,
		UnderlyingValue: value,
	}
	if err := o.store.AppendUnderlying(ctx, row); err != nil {
		return nil, persistFailed(err)
	}

	if o.metrics != nil {
		if err := o.metrics.RecordUnderlying(ctx, symbol, row.Timestamp, value); err != nil {
			o.log.Error("Failed to record underlying metric", map[string]interface{}{
				"symbol": symbol,
				"error":  err.Error(),
			})
		}
	}
	o.publish("underlying", symbol, row)
	return row, nil
}

// PremiumHistory reads the stored premium series directly, regardless of
// market state. No freshness gating on history reads.
func (o *Orchestrator) PremiumHistory(ctx context.Context, symbol, expiry string) ([]*store.PremiumRow, error) {
	return o.store.PremiumSeries(ctx, symbol, expiry)
}

// RawChain serves the venue-wide raw chain: cached copy when present,
// otherwise a single fetch whose result is cached for the next caller.
func (o *Orchestrator) RawChain(ctx context.Context, symbol string) (*nse.OptionChain, error) {
	raw, err := o.liveChain(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return raw, nil
}

func (o *Orchestrator) liveStrikeChain(ctx context.Context, symbol, expiry string) (*chain.StrikeChain, error) {
	raw, err := o.liveChain(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return chain.Normalize(raw, symbol, expiry)
}

func (o *Orchestrator) publish(kind, symbol string, snapshot interface{}) {
	if o.publisher != nil {
		o.publisher.Publish(kind, symbol, snapshot)
	}
}

// persistError marks a store append failure on the live path. A fetch success
// must be followed by its append, so these do not fall through to the
// snapshot fallback.
type persistError struct {
	err error
}

func (e *persistError) Error() string { return e.err.Error() }
func (e *persistError) Unwrap() error { return e.err }

func persistFailed(err error) error {
	if err == nil {
		return nil
	}
	return &persistError{err: err}
}

// recoverable classifies live-path failures that fall through to the snapshot
// fallback: fetch failures, empty chains, missing underlying. Not recoverable:
// a strike absent from a successfully fetched chain (history for a nonexistent
// strike is not meaningful) and append failures.
func recoverable(err error) bool {
	var pe *persistError
	if errors.As(err, &pe) {
		return false
	}
	return !errors.Is(err, chain.ErrStrikeNotFound)
}

// fallback normalizes a Latest* result: absent history becomes ErrUnavailable,
// a present row is returned with its original timestamp.
func fallback[T any](row *T, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrUnavailable
	}
	return row, nil
}
