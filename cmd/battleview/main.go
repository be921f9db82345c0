// Command battleview runs a battle locally and draws it in the terminal.
//
// Keys: space starts or pauses the battle, r reloads the level, q quits.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gdamore/tcell/v2"

	"autobattle/internal/config"
	"autobattle/internal/game"
	"autobattle/internal/level"
	"autobattle/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	levelPath := flag.String("level", "", "level YAML (default: built-in level)")
	logPath := flag.String("log", "battleview.log", "log file (the terminal is taken by the view)")
	flag.Parse()

	if err := run(*configPath, *levelPath, *logPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, levelPath, logPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	cfg.Logging.Output = logPath
	cfg.Logging.Format = "json"
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	l := level.Default()
	if levelPath != "" {
		if l, err = level.LoadFromFile(levelPath); err != nil {
			return err
		}
	}

	engine, err := game.NewEngine(game.EngineConfigFrom(cfg), logger)
	if err != nil {
		return err
	}
	if err := engine.LoadLevel(l); err != nil {
		return err
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()

	newViewer(screen, engine, l, cfg.Battle.TickRate, logger).run()
	return nil
}
