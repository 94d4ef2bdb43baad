package nse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"voldash/config"
	"voldash/logger"
)

// ErrFetchFailed marks an upstream fetch that did not yield a chain after all
// bounded attempts. Callers treat it as recoverable via the snapshot fallback.
var ErrFetchFailed = errors.New("option chain fetch failed")

// The exchange rejects requests without a browser-like header set and a warmed
// session cookie.
var defaultHeaders = map[string]string{
	"User-Agent":       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Accept":           "application/json",
	"Accept-Language":  "en-US,en;q=0.9",
	"Referer":          "https://www.nseindia.com/option-chain",
	"X-Requested-With": "XMLHttpRequest",
}

// Client fetches venue-wide raw option chains. Retries are bounded: MaxAttempts
// tries with a fixed backoff in between, then ErrFetchFailed.
type Client struct {
	http *http.Client
	cfg  *config.NSEConfig
	log  *logger.Logger
}

func NewClient(cfg *config.NSEConfig) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		http: &http.Client{
			Timeout: cfg.GetTimeout(),
			Jar:     jar,
		},
		cfg: cfg,
		log: logger.L(),
	}
}

// FetchOptionChain pulls the full raw chain for a symbol. Each attempt warms
// the session first, then requests the chain endpoint.
func (c *Client) FetchOptionChain(ctx context.Context, symbol string) (*OptionChain, error) {
	attempts := c.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		chain, err := c.fetchOnce(ctx, symbol)
		if err == nil {
			return chain, nil
		}
		lastErr = err

		c.log.Error("Option chain fetch attempt failed", map[string]interface{}{
			"symbol":  symbol,
			"attempt": attempt,
			"error":   err.Error(),
		})

		if attempt < attempts {
			time.Sleep(c.cfg.GetRetryBackoff())
		}
	}

	return nil, fmt.Errorf("%w for %s after %d attempts: %v", ErrFetchFailed, symbol, attempts, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, symbol string) (*OptionChain, error) {
	if err := c.warmup(ctx); err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s?symbol=%s", c.cfg.BaseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	applyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var chain OptionChain
	if err := json.NewDecoder(resp.Body).Decode(&chain); err != nil {
		return nil, fmt.Errorf("decode chain: %w", err)
	}

	return &chain, nil
}

func (c *Client) warmup(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.WarmupURL, nil)
	if err != nil {
		return err
	}
	applyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("session warmup: %w", err)
	}
	resp.Body.Close()
	return nil
}

func applyHeaders(req *http.Request) {
	for k, v := range defaultHeaders {
		req.Header.Set(k, v)
	}
}
