// Package main provides a headless client used to soak-test a running
// relay: it joins a room, wanders, and simulates the room when elected
// host.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hollowmire/netplay/internal/client"
	"github.com/hollowmire/netplay/internal/config"
	"github.com/hollowmire/netplay/internal/observability"
)

func main() {
	configPath := flag.String("config", "configs/client.yaml", "path to configuration file")
	name := flag.String("name", fmt.Sprintf("bot-%04d", rand.IntN(10000)), "player name")
	room := flag.String("room", "default", "room to join")
	moveInterval := flag.Duration("move-interval", 250*time.Millisecond, "wander step interval")
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

	logger.Info("starting bot client",
		zap.String("name", *name),
		zap.String("room", *room),
		zap.String("relay_url", cfg.Client.RelayURL),
	)

	transports := client.TransportsFor(cfg.Client.Transports)
	peer := client.NewPeer(cfg.Client, *name, *room, transports, observability.ComponentLogger(logger, "peer"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return peer.Run(gctx) })
	g.Go(func() error { return logStatus(gctx, peer, logger) })
	g.Go(func() error { return wander(gctx, peer, *moveInterval) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("bot exited", zap.Error(err))
	}
	logger.Info("bot stopped")
}

// logStatus surfaces controller transitions; a real game would render them.
func logStatus(ctx context.Context, peer *client.Peer, logger *zap.Logger) error {
	for {
		select {
		case ev, ok := <-peer.Status():
			if !ok {
				return nil
			}
			logger.Info("connection status",
				zap.String("state", string(ev.State)),
				zap.String("message", ev.Message),
				zap.String("severity", string(ev.Severity)),
				zap.Int("attempt", ev.Attempt),
			)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// wander drifts the bot around its spawn in a slow circle, generating the
// steady move traffic a real player would.
func wander(ctx context.Context, peer *client.Peer, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	angle := rand.Float64() * 2 * math.Pi
	const radius = 80.0
	cx, cy := 128.0+rand.Float64()*200, 128.0+rand.Float64()*200

	for {
		select {
		case <-ticker.C:
			angle += 0.15
			x := cx + math.Cos(angle)*radius
			y := cy + math.Sin(angle)*radius
			direction := "right"
			if math.Cos(angle) < 0 {
				direction = "left"
			}
			peer.Move(x, y, direction, "walk")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
