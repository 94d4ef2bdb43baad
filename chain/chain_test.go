package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voldash/nse"
)

func rawChain(expiry string, entries ...nse.Entry) *nse.OptionChain {
	return &nse.OptionChain{
		Records: nse.Records{
			ExpiryDates: []string{expiry},
			Data:        entries,
		},
	}
}

func entry(strike float64, expiry string, ce, pe *nse.Quote) nse.Entry {
	return nse.Entry{StrikePrice: strike, ExpiryDate: expiry, CE: ce, PE: pe}
}

func quote(iv, last, bid, ask, underlying float64) *nse.Quote {
	return &nse.Quote{
		ImpliedVolatility: iv,
		LastPrice:         last,
		BidPrice:          bid,
		AskPrice:          ask,
		UnderlyingValue:   underlying,
	}
}

func TestNormalizeSortsAndIndexesStrikes(t *testing.T) {
	raw := rawChain("27-Feb-2025",
		entry(24100, "27-Feb-2025", quote(12, 40, 39, 41, 24043), quote(14, 95, 94, 96, 24043)),
		entry(23950, "27-Feb-2025", quote(11, 120, 119, 121, 24043), quote(13, 30, 29, 31, 24043)),
		entry(24050, "27-Feb-2025", quote(12.5, 70, 69, 71, 24043), quote(13.5, 60, 59, 61, 24043)),
	)

	sc, err := Normalize(raw, "NIFTY", "27-Feb-2025")
	require.NoError(t, err)

	assert.Equal(t, []float64{23950, 24050, 24100}, sc.Strikes())
	assert.Equal(t, 24043.0, sc.UnderlyingValue)
	assert.Equal(t, []string{"27-Feb-2025"}, sc.ExpiryDates)

	sq, err := sc.At(24050)
	require.NoError(t, err)
	assert.Equal(t, 70.0, sq.Call.LastPrice)
	assert.Equal(t, 60.0, sq.Put.LastPrice)
}

func TestNormalizeFiltersOtherExpiries(t *testing.T) {
	raw := rawChain("27-Feb-2025",
		entry(24000, "27-Feb-2025", nil, quote(13, 50, 49, 51, 24043)),
		entry(24000, "06-Mar-2025", quote(12, 80, 79, 81, 24043), quote(14, 75, 74, 76, 24043)),
	)

	sc, err := Normalize(raw, "NIFTY", "27-Feb-2025")
	require.NoError(t, err)

	assert.Equal(t, []float64{24000}, sc.Strikes())
	sq, err := sc.At(24000)
	require.NoError(t, err)
	assert.Nil(t, sq.Call)
	assert.NotNil(t, sq.Put)
}

func TestNormalizeMergesDuplicateStrikeRows(t *testing.T) {
	raw := rawChain("27-Feb-2025",
		entry(24000, "27-Feb-2025", nil, quote(13, 50, 49, 51, 24043)),
		entry(24000, "27-Feb-2025", quote(12, 80, 79, 81, 24043), nil),
	)

	sc, err := Normalize(raw, "NIFTY", "27-Feb-2025")
	require.NoError(t, err)

	require.Equal(t, []float64{24000}, sc.Strikes())
	sq, err := sc.At(24000)
	require.NoError(t, err)
	assert.NotNil(t, sq.Call)
	assert.NotNil(t, sq.Put)
}

func TestNormalizeEmptyChain(t *testing.T) {
	_, err := Normalize(nil, "NIFTY", "27-Feb-2025")
	assert.ErrorIs(t, err, ErrEmptyChain)

	raw := rawChain("27-Feb-2025",
		entry(24000, "06-Mar-2025", quote(12, 80, 79, 81, 24043), quote(14, 75, 74, 76, 24043)),
	)
	_, err = Normalize(raw, "NIFTY", "27-Feb-2025")
	assert.ErrorIs(t, err, ErrEmptyChain)
}

func TestNormalizeMissingUnderlying(t *testing.T) {
	raw := rawChain("27-Feb-2025",
		entry(24000, "27-Feb-2025", quote(12, 80, 79, 81, 24043), nil),
	)
	_, err := Normalize(raw, "NIFTY", "27-Feb-2025")
	assert.ErrorIs(t, err, ErrNoUnderlying)
}

func TestAtUnknownStrike(t *testing.T) {
	raw := rawChain("27-Feb-2025",
		entry(24000, "27-Feb-2025", quote(12, 80, 79, 81, 24043), quote(14, 75, 74, 76, 24043)),
	)
	sc, err := Normalize(raw, "NIFTY", "27-Feb-2025")
	require.NoError(t, err)

	_, err = sc.At(99999)
	assert.ErrorIs(t, err, ErrStrikeNotFound)
	assert.False(t, sc.Has(99999))
	assert.True(t, sc.Has(24000))
}

func TestATMStrike(t *testing.T) {
	cases := []struct {
		name       string
		strikes    []float64
		underlying float64
		want       float64
	}{
		{"nearest above", []float64{24000, 24050, 24100}, 24043, 24050},
		{"nearest below", []float64{24000, 24050, 24100}, 24010, 24000},
		{"exact match", []float64{24000, 24050, 24100}, 24050, 24050},
		{"tie picks lower", []float64{24000, 24100}, 24050, 24000},
		{"single strike", []float64{25000}, 24043, 25000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ATMStrike(tc.strikes, tc.underlying))
		})
	}
}
