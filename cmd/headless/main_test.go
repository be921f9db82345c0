package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"autobattle/internal/config"
	"autobattle/internal/game"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		snap game.BattleSnapshot
		want string
	}{
		{"both standing", game.BattleSnapshot{Player: 2, Enemy: 1}, "none"},
		{"enemy units gone but base stands", game.BattleSnapshot{
			Player:    2,
			Buildings: []game.BuildingSnapshot{{Team: "enemy"}},
		}, "none"},
		{"player wins", game.BattleSnapshot{
			Player:    1,
			Buildings: []game.BuildingSnapshot{{Team: "player"}},
		}, "player"},
		{"enemy wins", game.BattleSnapshot{Enemy: 3}, "enemy"},
		{"mutual wipe", game.BattleSnapshot{}, "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, summarize(tt.snap).Winner)
		})
	}
}

func TestRunBattle(t *testing.T) {
	cfg := config.Default()
	cfg.Battle.Seed = 7
	dir := t.TempDir()
	png := filepath.Join(dir, "final.png")
	events := filepath.Join(dir, "events.jsonl")

	s, err := runBattle(cfg, 2, events, png, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(60), s.Ticks)
	assert.InDelta(t, 2.0, s.SimTime, 1e-9)
	assert.Equal(t, "none", s.Winner)
	assert.FileExists(t, png)
	assert.FileExists(t, events)

	_, err = runBattle(cfg, 0, "", "", zaptest.NewLogger(t))
	assert.Error(t, err)
}
