package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"voldash/analytics"
	"voldash/api"
	"voldash/cache"
	"voldash/config"
	"voldash/logger"
	"voldash/market"
	"voldash/notify"
	"voldash/nse"
	"voldash/service"
	"voldash/store"
)

func main() {
	log := logger.GetLogger()
	cfg := config.GetConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open snapshot store", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer st.Close()

	fetcher := nse.NewClient(&cfg.NSE)
	clock := market.NewClock(cfg.Market.UTCOffsetMinutes, cfg.Market.SessionStart, cfg.Market.SessionEnd)
	engine := analytics.NewEngine(&cfg.Analytics)
	chains := cache.NewChainCache(cfg.Refresher.GetCacheTTL())
	feed := service.NewChainFeed()

	orch := service.New(st, fetcher, clock, engine, chains)

	if cfg.Redis.Enabled {
		metrics, err := cache.NewMetricsCache(&cfg.Redis)
		if err != nil {
			log.Error("Redis metrics disabled", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			defer metrics.Close()
			orch.SetMetrics(metrics)
		}
	}

	if cfg.NATS.Enabled {
		publisher, err := notify.NewPublisher(&cfg.NATS)
		if err != nil {
			log.Error("NATS publishing disabled", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			defer publisher.Close()
			orch.SetPublisher(publisher)
		}
	}

	refresher := service.NewRefresher(fetcher, clock, chains, feed, cfg.Refresher.Symbols, cfg.Refresher.GetInterval())
	refresher.Start(ctx)
	defer refresher.Stop()

	server := api.NewServer(cfg.Server.Port, orch, chains, feed)
	if err := server.Start(ctx); err != nil {
		log.Fatal("Failed to start API server", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("voldash running", map[string]interface{}{
		"port":    cfg.Server.Port,
		"symbols": cfg.Refresher.Symbols,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info("Shutting down", map[string]interface{}{
		"signal": sig.String(),
	})
	cancel()
	server.Shutdown()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Postgres.Enabled {
		return store.NewPostgresStore(ctx, &cfg.Postgres)
	}
	return store.NewSQLiteStore(cfg.SQLite.Path)
}
