// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/TheBlackParrot/SpinRequests/internal/api/httpapi"
	"github.com/TheBlackParrot/SpinRequests/internal/api/socket"
	"github.com/TheBlackParrot/SpinRequests/internal/app/broadcast"
	"github.com/TheBlackParrot/SpinRequests/internal/app/player"
	"github.com/TheBlackParrot/SpinRequests/internal/app/requests"
	"github.com/TheBlackParrot/SpinRequests/internal/app/resolver"
	"github.com/TheBlackParrot/SpinRequests/internal/app/session"
	"github.com/TheBlackParrot/SpinRequests/internal/infra/config"
	"github.com/TheBlackParrot/SpinRequests/internal/infra/engine"
	"github.com/TheBlackParrot/SpinRequests/internal/infra/logger"
	"github.com/TheBlackParrot/SpinRequests/internal/infra/persist"
	"github.com/TheBlackParrot/SpinRequests/internal/infra/spinshare"
)

var (
	app        = kingpin.New("spinrequests-server", "SpinRequests request-queue server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	client := spinshare.New(spinshare.Config{
		BaseURL: cfg.SpinShare.BaseURL,
		Timeout: cfg.SpinShare.Timeout(),
	})

	broadcaster := broadcast.New()
	defer broadcaster.Close()

	queueStore := persist.New(filepath.Join(cfg.Paths.DataDir, "queue.json"), true)
	historyStore := persist.New(filepath.Join(cfg.Paths.DataDir, "history.json"), false)
	crossedStore := persist.New(filepath.Join(cfg.Paths.DataDir, "crossed.json"), false)

	tracker := session.NewTracker(session.Config{
		PlayedThresholdPercentage: cfg.Session.PlayedThresholdPercentage,
		Retention:                 cfg.Session.Retention(),
	}, historyStore, crossedStore, engine.IdleStatus{})

	manager := requests.NewManager(requests.Config{
		EnableNotifications: cfg.Queue.EnableNotifications,
		CustomsDir:          cfg.Paths.CustomsDir,
	}, queueStore, broadcaster, engine.LogNotifier{}, tracker)

	ply := player.New(player.Config{
		CustomsDir:                cfg.Paths.CustomsDir,
		DeleteOldMapFiles:         cfg.Downloads.DeleteOldMapFiles,
		JumpToMapAfterDownloading: cfg.Downloads.JumpToMapAfterDownloading,
	}, engine.NewFileCatalog(cfg.Paths.CustomsDir), client, engine.LogJumper{}, engine.LogNotifier{}, manager, tracker)

	apiServer := httpapi.New(
		fmt.Sprintf("%s:%d", cfg.API.Address, cfg.API.Port),
		resolver.New(client), manager, tracker,
	)
	socketServer := socket.New(
		fmt.Sprintf("%s:%d", cfg.Socket.Address, cfg.Socket.Port),
		broadcaster,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Played-threshold sampler
	go tracker.Run(ctx)

	// Start servers
	serverErrCh := make(chan error, 2)
	go func() {
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("http api: %w", err)
		}
	}()
	go func() {
		if err := socketServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("socket: %w", err)
		}
	}()

	// The headless display surface is available immediately; attaching it
	// flushes any queue recovered from a previous run.
	manager.AttachSurface(engine.LogSurface{})

	if cfg.Queue.OpenOnStartup {
		manager.SetOpen(true)
	}

	// Operator controls: SIGUSR1 toggles the request gate, SIGUSR2 plays
	// the entry at the head of the queue.
	operatorCh := make(chan os.Signal, 1)
	signal.Notify(operatorCh, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for sig := range operatorCh {
			switch sig {
			case syscall.SIGUSR1:
				manager.SetOpen(!manager.IsOpen())
			case syscall.SIGUSR2:
				playNext(ctx, manager, ply)
			}
		}
	}()

	// Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown HTTP API: %v", err)
	}
	if err := socketServer.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown firehose: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	return nil
}

// playNext runs the play flow for the oldest queued entry as a supervised
// task: failures are captured and logged, never silently dropped.
func playNext(ctx context.Context, manager *requests.Manager, ply *player.Player) {
	entries := manager.List("")
	if len(entries) == 0 {
		zlog.Info().Msg("play requested but the queue is empty")
		return
	}

	entry := entries[0]
	go func() {
		played, err := ply.Play(ctx, entry)
		if err != nil {
			zlog.Error().Err(err).Str("title", entry.Title).Msg("play flow failed")
			return
		}
		if !played {
			zlog.Info().Str("title", entry.Title).Msg("entry downloaded, play again to start it")
		}
	}()
}
