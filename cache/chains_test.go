package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voldash/nse"
)

func TestChainCachePutGet(t *testing.T) {
	c := NewChainCache(time.Minute)

	_, ok := c.Get("NIFTY")
	assert.False(t, ok)

	raw := &nse.OptionChain{Records: nse.Records{ExpiryDates: []string{"27-Feb-2025"}}}
	c.Put("NIFTY", raw)

	got, ok := c.Get("NIFTY")
	require.True(t, ok)
	assert.Same(t, raw, got)

	_, ok = c.Get("BANKNIFTY")
	assert.False(t, ok)
}

func TestChainCacheReplace(t *testing.T) {
	c := NewChainCache(time.Minute)

	first := &nse.OptionChain{}
	second := &nse.OptionChain{}
	c.Put("NIFTY", first)
	c.Put("NIFTY", second)

	got, ok := c.Get("NIFTY")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestChainCacheTTLExpiry(t *testing.T) {
	c := NewChainCache(10 * time.Millisecond)
	c.Put("NIFTY", &nse.OptionChain{})

	_, ok := c.Get("NIFTY")
	require.True(t, ok)

	time.Sleep(25 * time.Millisecond)
	_, ok = c.Get("NIFTY")
	assert.False(t, ok)

	// FetchedAt still reports the stored time for staleness introspection.
	_, ok = c.FetchedAt("NIFTY")
	assert.True(t, ok)
}

func TestChainCacheZeroTTLNeverExpires(t *testing.T) {
	c := NewChainCache(0)
	c.Put("NIFTY", &nse.OptionChain{})

	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("NIFTY")
	assert.True(t, ok)
}
