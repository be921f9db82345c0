// Command headless runs one battle without a ticker or network surface and
// logs how it ended. Useful for balancing levels and for CI smoke runs.
//
// USAGE:
//
//	go run ./cmd/headless -level levels/siege.yaml -seconds 60 -png final.png
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"autobattle/internal/config"
	"autobattle/internal/game"
	"autobattle/internal/level"
	"autobattle/internal/observability"
	"autobattle/internal/render"
)

func main() {
	_ = godotenv.Load(".env")

	configPath := flag.String("config", "", "optional YAML config file")
	levelPath := flag.String("level", getEnvWithDefault("HEADLESS_LEVEL", ""), "level YAML (default: built-in level)")
	seconds := flag.Float64("seconds", getEnvFloat("HEADLESS_SECONDS", 60), "simulated seconds before giving up")
	seed := flag.Int64("seed", int64(getEnvInt("HEADLESS_SEED", 1)), "random seed (0 = time based)")
	pngPath := flag.String("png", getEnvWithDefault("HEADLESS_PNG", ""), "write the final battlefield to this PNG")
	eventLog := flag.String("events", "", "write the JSONL event log to this path")
	flag.Parse()

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

	cfg.Battle.Seed = *seed
	cfg.Battle.LevelPath = *levelPath

	summary, err := runBattle(cfg, *seconds, *eventLog, *pngPath, logger)
	if err != nil {
		logger.Error("headless battle failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("🏁 battle finished",
		zap.String("winner", summary.Winner),
		zap.Uint64("ticks", summary.Ticks),
		zap.Float64("sim_seconds", summary.SimTime),
		zap.Duration("wall", summary.Wall),
		zap.Int("player_units", summary.PlayerUnits),
		zap.Int("enemy_units", summary.EnemyUnits),
		zap.Int("player_buildings", summary.PlayerBuildings),
		zap.Int("enemy_buildings", summary.EnemyBuildings),
	)
}

// summary is how a headless battle ended.
type summary struct {
	Winner          string // "player", "enemy" or "none" on timeout
	Ticks           uint64
	SimTime         float64
	Wall            time.Duration
	PlayerUnits     int
	EnemyUnits      int
	PlayerBuildings int
	EnemyBuildings  int
}

func runBattle(cfg config.AppConfig, seconds float64, eventLog, pngPath string, logger *zap.Logger) (summary, error) {
	if seconds <= 0 {
		return summary{}, errors.New("seconds must be positive")
	}
	engine, err := game.NewEngine(game.EngineConfigFrom(cfg), logger)
	if err != nil {
		return summary{}, err
	}

	l := level.Default()
	if cfg.Battle.LevelPath != "" {
		if l, err = level.LoadFromFile(cfg.Battle.LevelPath); err != nil {
			return summary{}, err
		}
	}
	if err := engine.LoadLevel(l); err != nil {
		return summary{}, err
	}

	if eventLog != "" {
		if err := engine.StartEventLog(eventLog); err != nil {
			return summary{}, err
		}
		defer engine.StopEventLog()
	}

	engine.StartBattle()
	dt := 1 / float64(cfg.Battle.TickRate)
	frames := int(seconds * float64(cfg.Battle.TickRate))

	began := time.Now()
	var s summary
	for i := 0; i < frames; i++ {
		engine.Step(dt)
		s = summarize(engine.Snapshot())
		if s.Winner != "none" {
			break
		}
	}
	s.Wall = time.Since(began)

	if pngPath != "" {
		if err := render.SavePNG(pngPath, engine.Snapshot(), render.DefaultOptions()); err != nil {
			return s, err
		}
		logger.Info("🖼️ wrote battlefield", zap.String("path", pngPath))
	}
	return s, nil
}

// summarize counts survivors. A side wins when the other has neither units
// nor buildings left.
func summarize(snap game.BattleSnapshot) summary {
	s := summary{
		Ticks:       snap.TickNumber,
		SimTime:     snap.SimTime,
		PlayerUnits: snap.Player,
		EnemyUnits:  snap.Enemy,
	}
	for _, b := range snap.Buildings {
		if b.Team == game.TeamPlayer.String() {
			s.PlayerBuildings++
		} else {
			s.EnemyBuildings++
		}
	}

	playerAlive := s.PlayerUnits+s.PlayerBuildings > 0
	enemyAlive := s.EnemyUnits+s.EnemyBuildings > 0
	switch {
	case playerAlive && !enemyAlive:
		s.Winner = game.TeamPlayer.String()
	case !playerAlive && enemyAlive:
		s.Winner = game.TeamEnemy.String()
	default:
		s.Winner = "none"
	}
	return s
}

func getEnvWithDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
