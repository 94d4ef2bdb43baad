package service

import (
	"context"
	"sync"
	"time"

	"voldash/cache"
	"voldash/logger"
	"voldash/nse"
	"voldash/scheduler"
)

// ChainFeed fans refreshed raw chains out to subscribers (the websocket
// handlers). Slow subscribers miss updates rather than blocking the refresher.
type ChainFeed struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *nse.OptionChain
}

func NewChainFeed() *ChainFeed {
	return &ChainFeed{
		subscribers: make(map[string][]chan *nse.OptionChain),
	}
}

// Subscribe returns a channel receiving chain updates for the symbol.
func (f *ChainFeed) Subscribe(symbol string) chan *nse.OptionChain {
	ch := make(chan *nse.OptionChain, 4)
	f.mu.Lock()
	f.subscribers[symbol] = append(f.subscribers[symbol], ch)
	f.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (f *ChainFeed) Unsubscribe(symbol string, ch chan *nse.OptionChain) {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs := f.subscribers[symbol]
	for i, sub := range subs {
		if sub == ch {
			f.subscribers[symbol] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
}

// Broadcast delivers a chain to every subscriber for the symbol. The read
// lock is held across the sends: Unsubscribe closes channels under the write
// lock, so a send can never hit a closed channel. The sends never block.
func (f *ChainFeed) Broadcast(symbol string, chain *nse.OptionChain) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, ch := range f.subscribers[symbol] {
		select {
		case ch <- chain:
		default:
		}
	}
}

// Refresher periodically pulls the venue-wide raw chain for each configured
// symbol into the shared cache, so the chain-listing endpoint does not pay an
// upstream round trip per request. Ticks outside the trading session are
// skipped. It is an owned background task: Start launches it, Stop halts it.
type Refresher struct {
	sched    *scheduler.Scheduler
	fetcher  Fetcher
	clock    Clock
	chains   *cache.ChainCache
	feed     *ChainFeed
	symbols  []string
	interval time.Duration
	log      *logger.Logger

	Now func() time.Time
}

func NewRefresher(fetcher Fetcher, clock Clock, chains *cache.ChainCache, feed *ChainFeed, symbols []string, interval time.Duration) *Refresher {
	return &Refresher{
		sched:    scheduler.New(),
		fetcher:  fetcher,
		clock:    clock,
		chains:   chains,
		feed:     feed,
		symbols:  symbols,
		interval: interval,
		log:      logger.L(),
		Now:      time.Now,
	}
}

func (r *Refresher) Start(ctx context.Context) {
	r.sched.AddTask(&scheduler.Task{
		Name:     "ChainRefresh",
		Interval: r.interval,
		Execute:  r.tick,
	})
	r.sched.Start(ctx)
}

func (r *Refresher) Stop() {
	r.sched.Stop()
}

func (r *Refresher) tick(ctx context.Context) error {
	if !r.clock.IsOpen(r.Now()) {
		return nil
	}

	for _, symbol := range r.symbols {
		raw, err := r.fetcher.FetchOptionChain(ctx, symbol)
		if err != nil {
			r.log.Error("Chain refresh failed", map[string]interface{}{
				"symbol": symbol,
				"error":  err.Error(),
			})
			continue
		}

		r.chains.Put(symbol, raw)
		if r.feed != nil {
			r.feed.Broadcast(symbol, raw)
		}

		r.log.Debug("Refreshed raw chain", map[string]interface{}{
			"symbol":  symbol,
			"entries": len(raw.Records.Data),
		})
	}

	return nil
}
