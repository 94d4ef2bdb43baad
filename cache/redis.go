package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"voldash/config"
	"voldash/logger"
)

// MetricsCache mirrors live derived metrics into Redis sorted sets keyed by
// millisecond timestamp, for dashboards that want a rolling intraday series
// without hitting the snapshot store. Entirely optional and best effort.
type MetricsCache struct {
	client    *redis.Client
	log       *logger.Logger
	retention time.Duration
}

func NewMetricsCache(cfg *config.RedisConfig) (*MetricsCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &MetricsCache{
		client:    client,
		log:       logger.L(),
		retention: 24 * time.Hour,
	}, nil
}

// RecordPremium stores one straddle observation under metrics:<symbol>:* and
// trims points older than the retention window.
func (m *MetricsCache) RecordPremium(ctx context.Context, symbol string, timestamp int64, straddlePremium, straddleIV, underlying float64) error {
	baseKey := fmt.Sprintf("metrics:%s", symbol)
	cutoff := time.Now().Add(-m.retention).UnixMilli()

	pipe := m.client.Pipeline()
	for suffix, value := range map[string]float64{
		"straddle":    straddlePremium,
		"straddle_iv": straddleIV,
		"spot":        underlying,
	} {
		key := fmt.Sprintf("%s:%s", baseKey, suffix)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(timestamp), Member: value})
		pipe.Expire(ctx, key, m.retention)
		pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record premium metrics: %w", err)
	}
	return nil
}

// RecordUnderlying stores one spot observation.
func (m *MetricsCache) RecordUnderlying(ctx context.Context, symbol string, timestamp int64, underlying float64) error {
	key := fmt.Sprintf("metrics:%s:spot", symbol)
	cutoff := time.Now().Add(-m.retention).UnixMilli()

	pipe := m.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(timestamp), Member: underlying})
	pipe.Expire(ctx, key, m.retention)
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record underlying metric: %w", err)
	}
	return nil
}

func (m *MetricsCache) Close() error {
	return m.client.Close()
}
