package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blukai/circlesync/internal/config"
	"github.com/blukai/circlesync/internal/lobbyclient"
	"github.com/blukai/circlesync/internal/logging"
	"github.com/blukai/circlesync/internal/protocol"
	"github.com/blukai/circlesync/internal/udphost"
)

// NOTE(blukai): this is a headless stand-in for a game client. the local
// player just walks in a circle so that there's something to sync.
type walker struct {
	radius float32
	speed  float64 // radians per second
	angle  float64
}

func (w *walker) step(dt time.Duration) protocol.Position {
	w.angle += w.speed * dt.Seconds()
	return protocol.Position{
		X: w.radius * float32(math.Cos(w.angle)),
		Y: w.radius * float32(math.Sin(w.angle)),
	}
}

func erringMain() error {
	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.File)

	host, err := udphost.Connect("udp4", cfg.ServerAddr, cfg.Timeouts.Transport(), logger)
	if err != nil {
		return fmt.Errorf("could not construct host: %w", err)
	}
	defer host.Close()

	roster := lobbyclient.NewRoster()
	lobbyClient := lobbyclient.NewLobbyClient(host, roster, lobbyclient.Config{
		SendEveryTicks: cfg.SendEveryTicks,
	}, logger)
	logger.Info().Msgf("connecting to %s", cfg.ServerAddr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()
	if cfg.Lifetime > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.Lifetime)
		defer cancel()
	}

	dt := cfg.TickInterval()
	ticker := time.NewTicker(dt)
	defer ticker.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	me := &walker{radius: cfg.MoveRadius, speed: math.Pi / 2}
	var local protocol.Position

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return nil
		case <-report.C:
			id, _ := lobbyClient.ID()
			logger.Info().
				Uint32("id", id).
				Any("players", roster.Players()).
				Msg("roster")
		case <-ticker.C:
			local = me.step(dt)
			if err := lobbyClient.Tick(local); err != nil {
				if errors.Is(err, lobbyclient.ErrConnectionLost) {
					return err
				}
				return fmt.Errorf("could not tick: %w", err)
			}
		}
	}
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
