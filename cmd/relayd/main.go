// Package main provides the relay daemon: the room registry, the session
// gateway with websocket and long-poll transports, and the inactivity
// reaper, served over one HTTP listener.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hollowmire/netplay/internal/config"
	"github.com/hollowmire/netplay/internal/observability"
	"github.com/hollowmire/netplay/internal/relay"
	"github.com/hollowmire/netplay/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "configs/relay.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting relay",
		zap.String("addr", cfg.Relay.Addr()),
		zap.Duration("idle_timeout", cfg.Relay.IdleTimeout),
		zap.Duration("reaper_interval", cfg.Relay.ReaperInterval),
	)

	registry := relay.NewRegistry()
	gateway := relay.NewGateway(registry, observability.ComponentLogger(logger, "gateway"), cfg.Relay.ClientBuffer)
	reaper := relay.NewReaper(registry, gateway,
		observability.ComponentLogger(logger, "reaper"),
		cfg.Relay.ReaperInterval, cfg.Relay.IdleTimeout)

	wsHandler := relay.NewWSHandler(gateway, observability.ComponentLogger(logger, "ws"))
	pollHandler := relay.NewPollHandler(gateway, observability.ComponentLogger(logger, "longpoll"), cfg.Relay.PollWait)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.Handle("/poll", pollHandler)
	mux.HandleFunc("/poll/open", pollHandler.Open)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:    cfg.Relay.Addr(),
		Handler: mux,
	}

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("reaper", reaper)
	lifecycle.Add("http", &server.FuncService{
		StartFn: func() error {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		StopFn: func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
		},
	})

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("relay exited", zap.Error(err))
	}
}
