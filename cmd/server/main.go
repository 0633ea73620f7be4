package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/blukai/circlesync/internal/admin"
	"github.com/blukai/circlesync/internal/config"
	"github.com/blukai/circlesync/internal/lobbyserver"
	"github.com/blukai/circlesync/internal/logging"
	"github.com/blukai/circlesync/internal/metrics"
	"github.com/blukai/circlesync/internal/udphost"
	"github.com/hashicorp/go-multierror"
)

func erringMain() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.File)

	host, err := udphost.Listen("udp4", cfg.Addr(), cfg.MaxPeers, cfg.Timeouts.Transport(), logger)
	if err != nil {
		return fmt.Errorf("could not construct host: %w", err)
	}

	m := metrics.New()
	feed := admin.NewFeed()
	lobbyServer := lobbyserver.NewLobbyServer(
		host,
		logger,
		lobbyserver.WithPollTimeout(cfg.PollTimeout),
		lobbyserver.WithMetrics(m),
		lobbyserver.WithObserver(feed),
	)
	logger.Info().
		Int("max_peers", cfg.MaxPeers).
		Msgf("started lobby server on %s", host.Addr())

	wg := new(sync.WaitGroup)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var lobbyServerRunErr, adminRunErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		// a dead dispatch loop means a dead server
		defer cancel()
		lobbyServerRunErr = lobbyServer.Run(ctx)
	}()

	if cfg.AdminAddr != "" {
		adminServer := admin.NewServer(lobbyServer.Sessions(), lobbyServer, feed, m.Registry, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			adminRunErr = adminServer.Run(ctx, cfg.AdminAddr)
		}()
		logger.Info().Msgf("started admin server on %s", cfg.AdminAddr)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-signalChan:
		logger.Info().Msgf("received %+v signal", sig)
	case <-ctx.Done():
	}

	cancel()
	wg.Wait()

	var errs error
	if lobbyServerRunErr != nil {
		errs = multierror.Append(errs, fmt.Errorf("lobby server run failed: %w", lobbyServerRunErr))
	}
	if adminRunErr != nil {
		errs = multierror.Append(errs, fmt.Errorf("admin server run failed: %w", adminRunErr))
	}
	return errs
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
