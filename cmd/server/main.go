package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"autobattle/internal/api"
	"autobattle/internal/config"
	"autobattle/internal/game"
	"autobattle/internal/level"
	"autobattle/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	// .env is optional; real environment variables always win.
	envErr := godotenv.Load(".env")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if envErr != nil {
		logger.Debug("no .env file, using environment only")
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.AppConfig, logger *zap.Logger) error {
	logger.Info("🎮 autobattle server starting",
		zap.Int("tick_rate", cfg.Battle.TickRate),
		zap.String("addr", cfg.Server.Addr()))

	engine, err := game.NewEngine(game.EngineConfigFrom(cfg), logger)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	limits := engine.Limits()
	logger.Info("🛡️ resource limits", zap.Int("units", limits.MaxUnits), zap.Int("buildings", limits.MaxBuildings))

	current, err := loadLevel(cfg.Battle.LevelPath)
	if err != nil {
		return err
	}
	if err := engine.LoadLevel(current); err != nil {
		return fmt.Errorf("loading level: %w", err)
	}

	var watcher *level.Watcher
	if cfg.Battle.LevelPath != "" && cfg.Battle.WatchLevel {
		var mu sync.Mutex
		watcher, err = level.NewWatcher(cfg.Battle.LevelPath, logger, func(next *level.Level) {
			mu.Lock()
			defer mu.Unlock()
			full, applied, skipped, err := engine.ReloadLevel(current, next)
			if err != nil {
				logger.Warn("level reload rejected", zap.Error(err))
				return
			}
			current = next
			logger.Info("level reloaded", zap.Bool("full", full), zap.Int("applied", applied), zap.Int("skipped", skipped))
		})
		if err != nil {
			logger.Warn("level watcher disabled", zap.Error(err))
		}
	}

	if cfg.EventLog.Path != "" {
		if err := engine.StartEventLog(cfg.EventLog.Path); err != nil {
			logger.Warn("event log disabled", zap.Error(err))
		} else {
			logger.Info("📝 event log", zap.String("path", cfg.EventLog.Path))
		}
	}

	debugServer := api.StartDebugServer(cfg.Observability, api.NewAdminAuth(cfg.Server.AdminToken), logger)
	if cfg.Server.AdminToken == "" {
		logger.Warn("admin token not set, mutating routes are open (set AUTOBATTLE_SERVER_ADMIN_TOKEN)")
	}

	server := api.NewServer(engine, cfg, logger)

	engine.Start()
	logger.Info("✅ battle engine started", zap.String("battle_id", engine.BattleID()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("✅ server ready, press Ctrl+C to stop")
	var serveErr error
	select {
	case <-quit:
	case serveErr = <-errCh:
	}

	logger.Info("🛑 shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if watcher != nil {
		_ = watcher.Close()
	}
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("api shutdown", zap.Error(err))
	}
	if debugServer != nil {
		_ = debugServer.Shutdown(ctx)
	}
	engine.Stop()
	engine.StopEventLog()
	logger.Info("👋 goodbye")
	return serveErr
}

func loadLevel(path string) (*level.Level, error) {
	if path == "" {
		return level.Default(), nil
	}
	l, err := level.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading level: %w", err)
	}
	return l, nil
}
