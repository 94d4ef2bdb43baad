package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"voldash/cache"
	"voldash/logger"
	"voldash/service"
)

// Server is the read-only HTTP surface over the orchestrator.
type Server struct {
	router *mux.Router
	server *http.Server
	port   string
	orch   *service.Orchestrator
	chains *cache.ChainCache
	feed   *service.ChainFeed
	log    *logger.Logger
}

func NewServer(port string, orch *service.Orchestrator, chains *cache.ChainCache, feed *service.ChainFeed) *Server {
	s := &Server{
		router: mux.NewRouter(),
		port:   port,
		orch:   orch,
		chains: chains,
		feed:   feed,
		log:    logger.L(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.CORSMiddleware)
	s.router.Use(s.RequestIDMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")

	// the literal "default" route must register before the {expiry} route
	s.router.HandleFunc("/volatility/{symbol}/default", s.handleVolatilityDefault).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/volatility/{symbol}/{expiry}", s.handleVolatility).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/volatility-surface/{symbol}/all", s.handleVolatilitySurface).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/bid-ask/{symbol}/{expiry}/{strike}", s.handleBidAsk).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/option-price/{symbol}/{expiry}/{strike}", s.handleOptionPrice).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/underlying-price/{symbol}", s.handleUnderlyingPrice).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/premiums/{symbol}/{expiry}/{strike}", s.handlePremiums).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/premiums/{symbol}/{expiry}/{strike}/{callWing}/{putWing}", s.handlePremiums).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/premiums-history/{symbol}/{expiry}", s.handlePremiumsHistory).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/option-chain/{symbol}", s.handleOptionChain).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/ws/option-chain/{symbol}", s.handleChainStream).Methods("GET")
}

// Router exposes the configured handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server in the background until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         ":" + s.port,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		s.log.Info("Starting API server", map[string]interface{}{
			"port": s.port,
		})
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("API server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
	}
	return nil
}
