package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voldash/analytics"
	"voldash/cache"
	"voldash/chain"
	"voldash/config"
	"voldash/nse"
	"voldash/store"
)

type fakeFetcher struct {
	chain *nse.OptionChain
	err   error
	calls int
}

func (f *fakeFetcher) FetchOptionChain(ctx context.Context, symbol string) (*nse.OptionChain, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.chain, nil
}

type fakeClock struct{ open bool }

func (c fakeClock) IsOpen(time.Time) bool { return c.open }

var testNow = time.Date(2025, 2, 24, 10, 30, 0, 0, time.UTC)

func testChain() *nse.OptionChain {
	expiry := "27-Feb-2025"
	q := func(iv, last, bid, ask float64) *nse.Quote {
		return &nse.Quote{
			ImpliedVolatility: iv, LastPrice: last, BidPrice: bid, AskPrice: ask,
			UnderlyingValue: 24043,
		}
	}
	return &nse.OptionChain{
		Records: nse.Records{
			ExpiryDates: []string{expiry, "06-Mar-2025"},
			Data: []nse.Entry{
				{StrikePrice: 23950, ExpiryDate: expiry, CE: q(11, 120, 119, 121), PE: q(13, 45, 44, 46)},
				{StrikePrice: 24050, ExpiryDate: expiry, CE: q(12, 70, 69, 71), PE: q(14, 60, 59, 61)},
				{StrikePrice: 24150, ExpiryDate: expiry, CE: q(10, 40, 39, 41), PE: q(15, 110, 109, 111)},
				{StrikePrice: 24050, ExpiryDate: "06-Mar-2025", CE: q(13, 90, 89, 91), PE: q(15, 80, 79, 81)},
			},
		},
	}
}

func newOrchestrator(t *testing.T, fetcher Fetcher, open bool) *Orchestrator {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	engine := analytics.NewEngine(&config.AnalyticsConfig{
		RiskFreeRate:     0.06,
		CESpikeThreshold: 20,
		PESpikeThreshold: 15,
		SurfaceExpiries:  4,
		SurfaceWindow:    5,
	})

	o := New(st, fetcher, fakeClock{open: open}, engine, cache.NewChainCache(90*time.Second))
	o.Now = func() time.Time { return testNow }
	return o
}

func TestSmileLiveDerivesAndPersists(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, &fakeFetcher{chain: testChain()}, true)

	row, err := o.Smile(ctx, "NIFTY", "27-Feb-2025")
	require.NoError(t, err)

	assert.Equal(t, testNow.UnixMilli(), row.Timestamp)
	assert.Equal(t, []float64{23950, 24050, 24150}, row.Strikes)
	assert.Equal(t, 24050.0, row.ATMStrike)
	assert.Equal(t, 24043.0, row.UnderlyingValue)

	// The live result was appended before the response returned.
	stored, err := o.store.LatestSmile(ctx, "NIFTY", "27-Feb-2025")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, row, stored)
}

func TestSmileDefaultResolvesNearestExpiry(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, &fakeFetcher{chain: testChain()}, true)

	row, err := o.Smile(ctx, "NIFTY", "")
	require.NoError(t, err)
	assert.Equal(t, "27-Feb-2025", row.Expiry)
}

func TestSmileClosedMarketServesSnapshot(t *testing.T) {
	ctx := context.Background()

	// One live pass while open seeds the history.
	live := newOrchestrator(t, &fakeFetcher{chain: testChain()}, true)
	original, err := live.Smile(ctx, "NIFTY", "27-Feb-2025")
	require.NoError(t, err)

	// Closed market: the fetcher must not be consulted at all.
	fetcher := &fakeFetcher{err: errors.New("venue unreachable")}
	closed := New(live.store, fetcher, fakeClock{open: false}, live.engine, cache.NewChainCache(90*time.Second))
	closed.Now = func() time.Time { return testNow.Add(6 * time.Hour) }

	row, err := closed.Smile(ctx, "NIFTY", "27-Feb-2025")
	require.NoError(t, err)
	assert.Zero(t, fetcher.calls)
	// The snapshot keeps its original timestamp; it is not re-stamped.
	assert.Equal(t, original.Timestamp, row.Timestamp)
	assert.Equal(t, original.Strikes, row.Strikes)
}

func TestSmileFetchFailureFallsBack(t *testing.T) {
	ctx := context.Background()

	live := newOrchestrator(t, &fakeFetcher{chain: testChain()}, true)
	original, err := live.Smile(ctx, "NIFTY", "27-Feb-2025")
	require.NoError(t, err)

	broken := newOrchestrator(t, &fakeFetcher{err: errors.New("upstream 503")}, true)
	broken.store = live.store

	row, err := broken.Smile(ctx, "NIFTY", "27-Feb-2025")
	require.NoError(t, err)
	assert.Equal(t, original.Timestamp, row.Timestamp)
}

func TestSmileNoHistoryUnavailable(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, &fakeFetcher{err: errors.New("upstream 503")}, true)

	_, err := o.Smile(ctx, "NIFTY", "27-Feb-2025")
	assert.ErrorIs(t, err, ErrUnavailable)

	// Closed market with no history fails the same way.
	closed := newOrchestrator(t, &fakeFetcher{chain: testChain()}, false)
	_, err = closed.Smile(ctx, "NIFTY", "27-Feb-2025")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSmileDefaultFallbackUsesNewestAcrossExpiries(t *testing.T) {
	ctx := context.Background()

	live := newOrchestrator(t, &fakeFetcher{chain: testChain()}, true)
	_, err := live.Smile(ctx, "NIFTY", "06-Mar-2025")
	require.NoError(t, err)

	closed := newOrchestrator(t, &fakeFetcher{chain: testChain()}, false)
	closed.store = live.store

	row, err := closed.Smile(ctx, "NIFTY", "")
	require.NoError(t, err)
	assert.Equal(t, "06-Mar-2025", row.Expiry)
}

func TestSurfaceLiveAndFallback(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, &fakeFetcher{chain: testChain()}, true)

	row, err := o.Surface(ctx, "NIFTY")
	require.NoError(t, err)
	assert.Equal(t, []string{"27-Feb-2025", "06-Mar-2025"}, row.ExpiryDates)
	assert.Len(t, row.Strikes, 4)

	closed := newOrchestrator(t, &fakeFetcher{chain: testChain()}, false)
	closed.store = o.store

	fromStore, err := closed.Surface(ctx, "NIFTY")
	require.NoError(t, err)
	assert.Equal(t, row.Timestamp, fromStore.Timestamp)
	assert.Equal(t, row.ImpliedVols, fromStore.ImpliedVols)
}

func TestPremiumsLiveWithWings(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, &fakeFetcher{chain: testChain()}, true)

	row, err := o.Premiums(ctx, "NIFTY", "27-Feb-2025", 24050, 24150, 23950)
	require.NoError(t, err)

	assert.Equal(t, 130.0, row.StraddlePremium)
	require.NotNil(t, row.IronflyPremium)
	assert.Equal(t, 45.0, *row.IronflyPremium)

	// Fallback keys on the same wing pair.
	closed := newOrchestrator(t, &fakeFetcher{chain: testChain()}, false)
	closed.store = o.store

	fromStore, err := closed.Premiums(ctx, "NIFTY", "27-Feb-2025", 24050, 24150, 23950)
	require.NoError(t, err)
	assert.Equal(t, row.Timestamp, fromStore.Timestamp)
	require.NotNil(t, fromStore.IronflyPremium)
	assert.Equal(t, 45.0, *fromStore.IronflyPremium)

	// A straddle-only request does not match the winged history.
	_, err = closed.Premiums(ctx, "NIFTY", "27-Feb-2025", 24050, 0, 0)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPremiumsUnknownStrikeSurfacesImmediately(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, &fakeFetcher{chain: testChain()}, true)

	_, err := o.Premiums(ctx, "NIFTY", "27-Feb-2025", 99999, 0, 0)
	assert.ErrorIs(t, err, chain.ErrStrikeNotFound)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestBidAskLive(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, &fakeFetcher{chain: testChain()}, true)

	row, err := o.BidAsk(ctx, "NIFTY", "27-Feb-2025", 24050)
	require.NoError(t, err)
	assert.Equal(t, 2.0, row.CESpread)
	assert.Equal(t, 2.0, row.PESpread)
	assert.False(t, row.CESpike)
	assert.False(t, row.PESpike)
}

func TestOptionPriceLive(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, &fakeFetcher{chain: testChain()}, true)

	row, err := o.OptionPrice(ctx, "NIFTY", "27-Feb-2025", 24050)
	require.NoError(t, err)
	assert.Equal(t, 24050.0, row.Strike)
	assert.Equal(t, 0.06, row.RiskFreeRate)
	assert.InDelta(t, 2.0/365.0, row.TimeToExpiry, 1e-12)
}

func TestUnderlyingLiveAndFallback(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, &fakeFetcher{chain: testChain()}, true)

	row, err := o.Underlying(ctx, "NIFTY")
	require.NoError(t, err)
	assert.Equal(t, 24043.0, row.UnderlyingValue)

	closed := newOrchestrator(t, &fakeFetcher{chain: testChain()}, false)
	closed.store = o.store

	fromStore, err := closed.Underlying(ctx, "NIFTY")
	require.NoError(t, err)
	assert.Equal(t, row.Timestamp, fromStore.Timestamp)
	assert.Equal(t, 24043.0, fromStore.UnderlyingValue)
}

func TestPremiumHistoryIgnoresMarketState(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, &fakeFetcher{chain: testChain()}, true)

	_, err := o.Premiums(ctx, "NIFTY", "27-Feb-2025", 24050, 0, 0)
	require.NoError(t, err)

	closed := newOrchestrator(t, &fakeFetcher{err: errors.New("down")}, false)
	closed.store = o.store

	series, err := closed.PremiumHistory(ctx, "NIFTY", "27-Feb-2025")
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, 130.0, series[0].StraddlePremium)

	empty, err := closed.PremiumHistory(ctx, "NIFTY", "no-history")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRawChainUsesCache(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{chain: testChain()}
	o := newOrchestrator(t, fetcher, true)

	first, err := o.RawChain(ctx, "NIFTY")
	require.NoError(t, err)
	second, err := o.RawChain(ctx, "NIFTY")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, fetcher.calls)
}

func TestRawChainUnavailableOnFetchFailure(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, &fakeFetcher{err: errors.New("down")}, true)

	_, err := o.RawChain(ctx, "NIFTY")
	assert.ErrorIs(t, err, ErrUnavailable)
}
