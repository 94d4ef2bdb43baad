package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voldash/analytics"
	"voldash/cache"
	"voldash/config"
	"voldash/nse"
	"voldash/service"
	"voldash/store"
)

type fakeFetcher struct {
	chain *nse.OptionChain
	err   error
}

func (f *fakeFetcher) FetchOptionChain(ctx context.Context, symbol string) (*nse.OptionChain, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.chain, nil
}

type fakeClock struct{ open bool }

func (c fakeClock) IsOpen(time.Time) bool { return c.open }

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
			ExpiryDates: []string{expiry},
			Data: []nse.Entry{
				{StrikePrice: 23950, ExpiryDate: expiry, CE: q(11, 120, 119, 121), PE: q(13, 45, 44, 46)},
				{StrikePrice: 24050, ExpiryDate: expiry, CE: q(12, 70, 69, 71), PE: q(14, 60, 59, 61)},
				{StrikePrice: 24150, ExpiryDate: expiry, CE: q(10, 40, 39, 41), PE: q(15, 110, 109, 111)},
			},
		},
	}
}

func testServer(t *testing.T, fetcher service.Fetcher, open bool) *Server {
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

	chains := cache.NewChainCache(90 * time.Second)
	orch := service.New(st, fetcher, fakeClock{open: open}, engine, chains)
	orch.Now = func() time.Time { return time.Date(2025, 2, 24, 10, 30, 0, 0, time.UTC) }

	return NewServer("0", orch, chains, service.NewChainFeed())
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	s := testServer(t, &fakeFetcher{chain: testChain()}, true)

	rec := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestVolatilitySnakeCaseFields(t *testing.T) {
	s := testServer(t, &fakeFetcher{chain: testChain()}, true)

	rec := get(t, s, "/volatility/NIFTY/27-Feb-2025")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decode(t, rec)
	assert.Contains(t, body, "strikes")
	assert.Contains(t, body, "call_ivs")
	assert.Contains(t, body, "put_ivs")
	assert.Contains(t, body, "atm_strike")
	assert.Contains(t, body, "underlying_value")
	assert.Contains(t, body, "expiryDates")
	assert.Equal(t, 24050.0, body["atm_strike"])
}

func TestVolatilityDefaultRoute(t *testing.T) {
	s := testServer(t, &fakeFetcher{chain: testChain()}, true)

	// "default" must not be captured as a literal expiry.
	rec := get(t, s, "/volatility/NIFTY/default")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "27-Feb-2025", decode(t, rec)["expiry"])
}

func TestVolatilityUnknownExpiry(t *testing.T) {
	s := testServer(t, &fakeFetcher{chain: testChain()}, true)

	rec := get(t, s, "/volatility/NIFTY/01-Jan-2030")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Expiry not found", decode(t, rec)["error"])
}

func TestVolatilitySurface(t *testing.T) {
	s := testServer(t, &fakeFetcher{chain: testChain()}, true)

	rec := get(t, s, "/volatility-surface/NIFTY/all")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Contains(t, body, "strikes")
	assert.Contains(t, body, "days_to_expiry")
	assert.Contains(t, body, "implied_vols")
}

func TestBidAskUnknownStrike(t *testing.T) {
	s := testServer(t, &fakeFetcher{chain: testChain()}, true)

	rec := get(t, s, "/bid-ask/NIFTY/27-Feb-2025/99999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Strike not found", decode(t, rec)["error"])
}

func TestBidAskBadStrike(t *testing.T) {
	s := testServer(t, &fakeFetcher{chain: testChain()}, true)

	rec := get(t, s, "/bid-ask/NIFTY/27-Feb-2025/not-a-number")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnavailableMapsTo500(t *testing.T) {
	// Fetch fails and the store is empty: nothing to serve.
	s := testServer(t, &fakeFetcher{err: errors.New("upstream 503")}, true)

	rec := get(t, s, "/volatility/NIFTY/27-Feb-2025")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to fetch data", decode(t, rec)["error"])
}

func TestPremiumsWithWings(t *testing.T) {
	s := testServer(t, &fakeFetcher{chain: testChain()}, true)

	rec := get(t, s, "/premiums/NIFTY/27-Feb-2025/24050/24150/23950")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, 130.0, body["straddle_premium"])
	assert.Equal(t, 45.0, body["ironfly_premium"])
	assert.Equal(t, 24150.0, body["call_wing"])
	assert.Equal(t, 23950.0, body["put_wing"])
}

func TestPremiumsStraddleOnly(t *testing.T) {
	s := testServer(t, &fakeFetcher{chain: testChain()}, true)

	rec := get(t, s, "/premiums/NIFTY/27-Feb-2025/24050")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, 130.0, body["straddle_premium"])
	assert.Nil(t, body["ironfly_premium"])
	assert.NotContains(t, body, "call_wing")
}

func TestPremiumsHistoryColumnar(t *testing.T) {
	s := testServer(t, &fakeFetcher{chain: testChain()}, true)

	// Two live premium requests build a two-point series.
	require.Equal(t, http.StatusOK, get(t, s, "/premiums/NIFTY/27-Feb-2025/24050").Code)
	require.Equal(t, http.StatusOK, get(t, s, "/premiums/NIFTY/27-Feb-2025/24050/24150/23950").Code)

	rec := get(t, s, "/premiums-history/NIFTY/27-Feb-2025")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Timestamps       []int64    `json:"timestamps"`
		StraddlePremiums []float64  `json:"straddle_premiums"`
		StraddleIVs      []float64  `json:"straddle_ivs"`
		IronflyPremiums  []*float64 `json:"ironfly_premiums"`
		IronflyIVs       []*float64 `json:"ironfly_ivs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	require.Len(t, body.Timestamps, 2)
	assert.Equal(t, []float64{130, 130}, body.StraddlePremiums)
	require.Len(t, body.IronflyPremiums, 2)
	assert.Nil(t, body.IronflyPremiums[0])
	require.NotNil(t, body.IronflyPremiums[1])
	assert.Equal(t, 45.0, *body.IronflyPremiums[1])
}

func TestPremiumsHistoryEmptySeries(t *testing.T) {
	s := testServer(t, &fakeFetcher{chain: testChain()}, false)

	rec := get(t, s, "/premiums-history/NIFTY/27-Feb-2025")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Timestamps []int64 `json:"timestamps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Timestamps)
}

func TestOptionChainPassthrough(t *testing.T) {
	raw := testChain()
	s := testServer(t, &fakeFetcher{chain: raw}, true)

	rec := get(t, s, "/option-chain/NIFTY")
	require.Equal(t, http.StatusOK, rec.Code)

	var got nse.OptionChain
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, raw.Records.ExpiryDates, got.Records.ExpiryDates)
	assert.Len(t, got.Records.Data, len(raw.Records.Data))
}

func TestOptionChainFetchedAtHeader(t *testing.T) {
	s := testServer(t, &fakeFetcher{chain: testChain()}, true)

	rec := get(t, s, "/option-chain/NIFTY")
	require.Equal(t, http.StatusOK, rec.Code)

	fetchedAt, err := time.Parse(time.RFC3339, rec.Header().Get("X-Chain-Fetched-At"))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), fetchedAt, time.Minute)

	// A cache hit reports the original fetch time, not the request time.
	second := get(t, s, "/option-chain/NIFTY")
	assert.Equal(t, rec.Header().Get("X-Chain-Fetched-At"), second.Header().Get("X-Chain-Fetched-At"))
}

func TestOptionChainUnavailable(t *testing.T) {
	s := testServer(t, &fakeFetcher{err: errors.New("down")}, true)

	rec := get(t, s, "/option-chain/NIFTY")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to fetch data", decode(t, rec)["error"])
}

func TestCORSAndRequestIDHeaders(t *testing.T) {
	s := testServer(t, &fakeFetcher{chain: testChain()}, true)

	rec := get(t, s, "/health")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
