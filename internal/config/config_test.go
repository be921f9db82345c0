package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Steering, cfg.Steering)
	assert.Equal(t, 20, cfg.Grid.Width)
	assert.Equal(t, 100.0, cfg.Grid.CellSize)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autobattle.yaml")
	content := `
server:
  port: 8088
battle:
  tick_rate: 60
  level_path: levels/siege.yaml
steering:
  separation_radius: 120
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 60, cfg.Battle.TickRate)
	assert.Equal(t, "levels/siege.yaml", cfg.Battle.LevelPath)
	assert.Equal(t, 120.0, cfg.Steering.SeparationRadius)
	assert.Equal(t, 5000.0, cfg.Steering.SeparationStrength, "unset keys keep defaults")
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AUTOBATTLE_SERVER_PORT", "9191")
	t.Setenv("AUTOBATTLE_STEERING_WAYPOINT_JITTER", "0")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 0.0, cfg.Steering.WaypointJitter)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateReportsEveryViolation(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Logging.Format = "xml"
	cfg.Steering.DisengageBuffer = 1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "logging.format")
	assert.Contains(t, err.Error(), "disengage_buffer")
}

func TestValidatePortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(-1000, 100000).Draw(t, "port")
		cfg := Default()
		cfg.Server.Port = port
		err := cfg.Validate()
		if (port >= 1 && port <= 65535) != (err == nil) {
			t.Fatalf("port %d: unexpected validation result %v", port, err)
		}
	})
}

func TestServerAddr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 3000}
	assert.Equal(t, "127.0.0.1:3000", s.Addr())
}
