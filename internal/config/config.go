// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for battle, steering and server settings.
//
// Values come from the Default* constructors below, then an optional YAML
// file, then AUTOBATTLE_* environment variables (e.g. AUTOBATTLE_SERVER_PORT).
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AdminToken     string   `mapstructure:"admin_token"` // empty leaves mutating routes open
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           3000,
		AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
	}
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// =============================================================================
// BATTLE CONFIGURATION
// =============================================================================

// BattleConfig controls the simulation loop and the level it runs.
type BattleConfig struct {
	TickRate   int    `mapstructure:"tick_rate"`  // simulation frames per second
	LevelPath  string `mapstructure:"level_path"` // empty = built-in default level
	WatchLevel bool   `mapstructure:"watch_level"`
	Seed       int64  `mapstructure:"seed"` // 0 = time based
}

// DefaultBattle returns the default battle configuration.
func DefaultBattle() BattleConfig {
	return BattleConfig{
		TickRate:   30,
		LevelPath:  "",
		WatchLevel: true,
		Seed:       0,
	}
}

// =============================================================================
// GRID CONFIGURATION
// =============================================================================

// GridConfig is the battlefield size used when a level does not set one.
type GridConfig struct {
	Width    int     `mapstructure:"width"`
	Height   int     `mapstructure:"height"`
	CellSize float64 `mapstructure:"cell_size"`
}

// DefaultGrid returns a 20x20 grid of 100-unit cells.
func DefaultGrid() GridConfig {
	return GridConfig{
		Width:    20,
		Height:   20,
		CellSize: 100,
	}
}

// =============================================================================
// STEERING CONFIGURATION
// =============================================================================

// SteeringConfig tunes unit movement and attack timing.
// Distances are world units, squared thresholds are world units squared.
type SteeringConfig struct {
	WaypointReachedSq  float64 `mapstructure:"waypoint_reached_sq"`  // advance cursor inside this
	SkipFirstSq        float64 `mapstructure:"skip_first_sq"`        // drop first waypoint inside this
	WaypointJitter     float64 `mapstructure:"waypoint_jitter"`      // ± offset on non-final waypoints
	SeparationRadius   float64 `mapstructure:"separation_radius"`
	SeparationStrength float64 `mapstructure:"separation_strength"`
	MaxSpeedFactor     float64 `mapstructure:"max_speed_factor"` // velocity clamp = factor × moveSpeed
	TurnRate           float64 `mapstructure:"turn_rate"`
	TurnMinSpeedSq     float64 `mapstructure:"turn_min_speed_sq"`
	EngageBuffer       float64 `mapstructure:"engage_buffer"`    // Moving → Attacking
	DisengageBuffer    float64 `mapstructure:"disengage_buffer"` // Attacking → Moving
	LungeSpeed         float64 `mapstructure:"lunge_speed"`      // radians per second
	LungeDistance      float64 `mapstructure:"lunge_distance"`
	SpeedVariance      float64 `mapstructure:"speed_variance"` // moveSpeed × [1-v, 1+v] at spawn
	UnitRadius         float64 `mapstructure:"unit_radius"`
	CollisionRadius    float64 `mapstructure:"collision_radius"` // swept circle against walls and buildings
}

// DefaultSteering returns the tuned steering constants.
func DefaultSteering() SteeringConfig {
	return SteeringConfig{
		WaypointReachedSq:  900,  // 30 units
		SkipFirstSq:        2500, // 50 units
		WaypointJitter:     40,
		SeparationRadius:   80,
		SeparationStrength: 5000,
		MaxSpeedFactor:     2,
		TurnRate:           10,
		TurnMinSpeedSq:     100,
		EngageBuffer:       10,
		DisengageBuffer:    50,
		LungeSpeed:         15,
		LungeDistance:      30,
		SpeedVariance:      0.15,
		UnitRadius:         40,
		CollisionRadius:    20,
	}
}

// =============================================================================
// ECONOMY CONFIGURATION
// =============================================================================

// EconomyConfig holds building upgrade pricing.
type EconomyConfig struct {
	GoldPerLevel     int     `mapstructure:"gold_per_level"`
	ElixirPerLevel   int     `mapstructure:"elixir_per_level"`
	MaxBuildingLevel int     `mapstructure:"max_building_level"`
	HealthMultiplier float64 `mapstructure:"health_multiplier"`
}

// DefaultEconomy returns the default upgrade pricing.
func DefaultEconomy() EconomyConfig {
	return EconomyConfig{
		GoldPerLevel:     100,
		ElixirPerLevel:   50,
		MaxBuildingLevel: 5,
		HealthMultiplier: 1.2,
	}
}

// =============================================================================
// GAME RESOURCE LIMITS
// =============================================================================

// ResourceLimits controls DoS protection and performance limits.
type ResourceLimits struct {
	MaxUnits     int `mapstructure:"max_units"`
	MaxBuildings int `mapstructure:"max_buildings"`
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxUnits:     400,
		MaxBuildings: 200,
	}
}

// =============================================================================
// OBSERVABILITY CONFIGURATION
// =============================================================================

// LoggingConfig selects the zap level and encoder.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // file path; empty logs to stderr
}

// DefaultLogging returns console logging at info.
func DefaultLogging() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "console",
	}
}

// ObservabilityConfig holds debug server settings.
type ObservabilityConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	DebugAddr string `mapstructure:"debug_addr"`
}

// DefaultObservability returns the default debug server configuration.
func DefaultObservability() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:   true,
		DebugAddr: "127.0.0.1:6060",
	}
}

// EventLogConfig controls the JSONL battle event log.
type EventLogConfig struct {
	Path        string  `mapstructure:"path"` // empty disables the log
	EntityRate  float64 `mapstructure:"entity_rate"`
	EntityBurst int     `mapstructure:"entity_burst"`
}

// DefaultEventLog returns the default event log configuration.
func DefaultEventLog() EventLogConfig {
	return EventLogConfig{
		Path:        "events.jsonl",
		EntityRate:  10,
		EntityBurst: 20,
	}
}

// RateLimitConfig controls the per-IP API limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// DefaultRateLimit returns the default API limiter.
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		Burst:             40,
	}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server        ServerConfig        `mapstructure:"server"`
	Battle        BattleConfig        `mapstructure:"battle"`
	Grid          GridConfig          `mapstructure:"grid"`
	Steering      SteeringConfig      `mapstructure:"steering"`
	Economy       EconomyConfig       `mapstructure:"economy"`
	Limits        ResourceLimits      `mapstructure:"limits"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	EventLog      EventLogConfig      `mapstructure:"event_log"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
}

// Default returns the configuration built from every Default* constructor.
func Default() AppConfig {
	return AppConfig{
		Server:        DefaultServer(),
		Battle:        DefaultBattle(),
		Grid:          DefaultGrid(),
		Steering:      DefaultSteering(),
		Economy:       DefaultEconomy(),
		Limits:        DefaultLimits(),
		Logging:       DefaultLogging(),
		Observability: DefaultObservability(),
		EventLog:      DefaultEventLog(),
		RateLimit:     DefaultRateLimit(),
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and AUTOBATTLE_* environment overrides, then validates it.
func Load(path string) (AppConfig, error) {
	v := viper.New()

	v.SetEnvPrefix("AUTOBATTLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return AppConfig{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d AppConfig) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.admin_token", d.Server.AdminToken)

	v.SetDefault("battle.tick_rate", d.Battle.TickRate)
	v.SetDefault("battle.level_path", d.Battle.LevelPath)
	v.SetDefault("battle.watch_level", d.Battle.WatchLevel)
	v.SetDefault("battle.seed", d.Battle.Seed)

	v.SetDefault("grid.width", d.Grid.Width)
	v.SetDefault("grid.height", d.Grid.Height)
	v.SetDefault("grid.cell_size", d.Grid.CellSize)

	s := d.Steering
	v.SetDefault("steering.waypoint_reached_sq", s.WaypointReachedSq)
	v.SetDefault("steering.skip_first_sq", s.SkipFirstSq)
	v.SetDefault("steering.waypoint_jitter", s.WaypointJitter)
	v.SetDefault("steering.separation_radius", s.SeparationRadius)
	v.SetDefault("steering.separation_strength", s.SeparationStrength)
	v.SetDefault("steering.max_speed_factor", s.MaxSpeedFactor)
	v.SetDefault("steering.turn_rate", s.TurnRate)
	v.SetDefault("steering.turn_min_speed_sq", s.TurnMinSpeedSq)
	v.SetDefault("steering.engage_buffer", s.EngageBuffer)
	v.SetDefault("steering.disengage_buffer", s.DisengageBuffer)
	v.SetDefault("steering.lunge_speed", s.LungeSpeed)
	v.SetDefault("steering.lunge_distance", s.LungeDistance)
	v.SetDefault("steering.speed_variance", s.SpeedVariance)
	v.SetDefault("steering.unit_radius", s.UnitRadius)
	v.SetDefault("steering.collision_radius", s.CollisionRadius)

	v.SetDefault("economy.gold_per_level", d.Economy.GoldPerLevel)
	v.SetDefault("economy.elixir_per_level", d.Economy.ElixirPerLevel)
	v.SetDefault("economy.max_building_level", d.Economy.MaxBuildingLevel)
	v.SetDefault("economy.health_multiplier", d.Economy.HealthMultiplier)

	v.SetDefault("limits.max_units", d.Limits.MaxUnits)
	v.SetDefault("limits.max_buildings", d.Limits.MaxBuildings)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("observability.enabled", d.Observability.Enabled)
	v.SetDefault("observability.debug_addr", d.Observability.DebugAddr)

	v.SetDefault("event_log.path", d.EventLog.Path)
	v.SetDefault("event_log.entity_rate", d.EventLog.EntityRate)
	v.SetDefault("event_log.entity_burst", d.EventLog.EntityBurst)

	v.SetDefault("rate_limit.requests_per_second", d.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks all configuration invariants and reports every violation.
func (c AppConfig) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Battle.TickRate < 1 || c.Battle.TickRate > 240 {
		errs = append(errs, fmt.Sprintf("battle.tick_rate must be 1-240, got %d", c.Battle.TickRate))
	}
	if c.Grid.Width < 1 || c.Grid.Height < 1 {
		errs = append(errs, fmt.Sprintf("grid dimensions must be positive, got %dx%d", c.Grid.Width, c.Grid.Height))
	}
	if c.Grid.CellSize <= 0 {
		errs = append(errs, fmt.Sprintf("grid.cell_size must be positive, got %g", c.Grid.CellSize))
	}
	if err := validateSteering(c.Steering); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Economy.MaxBuildingLevel < 1 {
		errs = append(errs, "economy.max_building_level must be >= 1")
	}
	if c.Economy.HealthMultiplier < 1 {
		errs = append(errs, "economy.health_multiplier must be >= 1")
	}
	if c.Limits.MaxUnits < 1 || c.Limits.MaxBuildings < 1 {
		errs = append(errs, "limits must be positive")
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1 {
		errs = append(errs, "rate_limit.requests_per_second and rate_limit.burst must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSteering(s SteeringConfig) error {
	var errs []string
	if s.SeparationRadius <= 0 {
		errs = append(errs, "steering.separation_radius must be positive")
	}
	if s.MaxSpeedFactor <= 0 {
		errs = append(errs, "steering.max_speed_factor must be positive")
	}
	if s.WaypointJitter < 0 {
		errs = append(errs, "steering.waypoint_jitter must not be negative")
	}
	if s.DisengageBuffer < s.EngageBuffer {
		errs = append(errs, "steering.disengage_buffer must be >= steering.engage_buffer")
	}
	if s.SpeedVariance < 0 || s.SpeedVariance >= 1 {
		errs = append(errs, "steering.speed_variance must be in [0, 1)")
	}
	if s.LungeSpeed <= 0 {
		errs = append(errs, "steering.lunge_speed must be positive")
	}
	if s.UnitRadius <= 0 {
		errs = append(errs, "steering.unit_radius must be positive")
	}
	if s.CollisionRadius < 0 {
		errs = append(errs, "steering.collision_radius must not be negative")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}
