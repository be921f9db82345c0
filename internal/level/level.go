// Package level loads battlefield layouts from YAML and watches them for
// edits while a battle server runs.
package level

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrInvalidLevel wraps every validation failure.
var ErrInvalidLevel = errors.New("invalid level")

// GridSpec sizes the battlefield.
type GridSpec struct {
	Width    int     `yaml:"width"`
	Height   int     `yaml:"height"`
	CellSize float64 `yaml:"cell_size"`
}

// CellRef names one cell.
type CellRef struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

// CellSpec overrides one cell. Building, when set, places a building of that
// kind (which blocks the cell); Team defaults to enemy for buildings.
type CellSpec struct {
	X        int     `yaml:"x"`
	Y        int     `yaml:"y"`
	Blocked  bool    `yaml:"blocked"`
	Cost     float64 `yaml:"cost"` // 0 means default (1)
	Building string  `yaml:"building"`
	Team     string  `yaml:"team"`
}

// UnitSpec spawns one unit at a cell center. Team defaults to player.
type UnitSpec struct {
	Archetype string `yaml:"archetype"`
	Team      string `yaml:"team"`
	X         int    `yaml:"x"`
	Y         int    `yaml:"y"`
	Active    bool   `yaml:"active"`
}

// Level is a complete battlefield description.
type Level struct {
	Name        string     `yaml:"name"`
	Battlefield bool       `yaml:"battlefield"` // enemy units self-activate on load
	Grid        GridSpec   `yaml:"grid"`
	PlayerBase  CellRef    `yaml:"player_base"`
	EnemyBase   CellRef    `yaml:"enemy_base"`
	Cells       []CellSpec `yaml:"cells"`
	Units       []UnitSpec `yaml:"units"`
}

// LoadFromFile reads and validates a level YAML file.
func LoadFromFile(path string) (*Level, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading level file %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses and validates a level from YAML bytes.
func LoadFromBytes(data []byte) (*Level, error) {
	var l Level
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parsing level YAML: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Marshal encodes the level back to YAML.
func (l *Level) Marshal() ([]byte, error) {
	return yaml.Marshal(l)
}

func validTeam(team string) bool {
	return team == "" || team == "player" || team == "enemy"
}

func (l *Level) inBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < l.Grid.Width && y < l.Grid.Height
}

// Validate checks sizes, bounds and team names. Unknown archetypes and
// building kinds are reported by the engine when the level is applied.
func (l *Level) Validate() error {
	if l.Grid.Width <= 0 || l.Grid.Height <= 0 {
		return fmt.Errorf("%w: grid %dx%d must be positive", ErrInvalidLevel, l.Grid.Width, l.Grid.Height)
	}
	if l.Grid.CellSize <= 0 {
		return fmt.Errorf("%w: cell_size must be positive", ErrInvalidLevel)
	}
	if !l.inBounds(l.PlayerBase.X, l.PlayerBase.Y) {
		return fmt.Errorf("%w: player_base (%d,%d) out of bounds", ErrInvalidLevel, l.PlayerBase.X, l.PlayerBase.Y)
	}
	if !l.inBounds(l.EnemyBase.X, l.EnemyBase.Y) {
		return fmt.Errorf("%w: enemy_base (%d,%d) out of bounds", ErrInvalidLevel, l.EnemyBase.X, l.EnemyBase.Y)
	}

	seen := make(map[CellRef]bool, len(l.Cells))
	for i, c := range l.Cells {
		if !l.inBounds(c.X, c.Y) {
			return fmt.Errorf("%w: cells[%d] (%d,%d) out of bounds", ErrInvalidLevel, i, c.X, c.Y)
		}
		ref := CellRef{X: c.X, Y: c.Y}
		if seen[ref] {
			return fmt.Errorf("%w: cells[%d] (%d,%d) listed twice", ErrInvalidLevel, i, c.X, c.Y)
		}
		seen[ref] = true
		if c.Cost < 0 {
			return fmt.Errorf("%w: cells[%d] cost must not be negative", ErrInvalidLevel, i)
		}
		if !validTeam(c.Team) {
			return fmt.Errorf("%w: cells[%d] unknown team %q", ErrInvalidLevel, i, c.Team)
		}
	}

	for i, u := range l.Units {
		if u.Archetype == "" {
			return fmt.Errorf("%w: units[%d] archetype must not be empty", ErrInvalidLevel, i)
		}
		if !l.inBounds(u.X, u.Y) {
			return fmt.Errorf("%w: units[%d] (%d,%d) out of bounds", ErrInvalidLevel, i, u.X, u.Y)
		}
		if !validTeam(u.Team) {
			return fmt.Errorf("%w: units[%d] unknown team %q", ErrInvalidLevel, i, u.Team)
		}
		if ref := (CellRef{X: u.X, Y: u.Y}); seen[ref] && l.cellBlocks(ref) {
			return fmt.Errorf("%w: units[%d] spawns on blocked cell (%d,%d)", ErrInvalidLevel, i, u.X, u.Y)
		}
	}
	return nil
}

func (l *Level) cellBlocks(ref CellRef) bool {
	for _, c := range l.Cells {
		if c.X == ref.X && c.Y == ref.Y {
			return c.Blocked || c.Building != ""
		}
	}
	return false
}

// TerrainChange is a blocked-flag or cost difference between two levels.
type TerrainChange struct {
	X, Y    int
	Blocked bool
	Cost    float64
}

// terrain flattens the non-building cells to (blocked, cost).
func (l *Level) terrain() map[CellRef]TerrainChange {
	out := make(map[CellRef]TerrainChange, len(l.Cells))
	for _, c := range l.Cells {
		if c.Building != "" {
			continue
		}
		cost := c.Cost
		if cost == 0 {
			cost = 1
		}
		out[CellRef{X: c.X, Y: c.Y}] = TerrainChange{X: c.X, Y: c.Y, Blocked: c.Blocked, Cost: cost}
	}
	return out
}

// DiffTerrain lists the terrain cells that must change to turn prev into
// next. Buildings and units are not diffed. Cells dropped from next revert
// to open ground with cost 1. Ordered row-major.
func DiffTerrain(prev, next *Level) []TerrainChange {
	before := prev.terrain()
	after := next.terrain()

	var changes []TerrainChange
	for ref, n := range after {
		if p, ok := before[ref]; !ok || p != n {
			if !ok && !n.Blocked && n.Cost == 1 {
				continue
			}
			changes = append(changes, n)
		}
	}
	for ref, p := range before {
		if _, ok := after[ref]; !ok && (p.Blocked || p.Cost != 1) {
			changes = append(changes, TerrainChange{X: ref.X, Y: ref.Y, Blocked: false, Cost: 1})
		}
	}
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Y != changes[j].Y {
			return changes[i].Y < changes[j].Y
		}
		return changes[i].X < changes[j].X
	})
	return changes
}

// SameShape reports whether two levels share grid dimensions, so terrain
// diffs can be applied in place.
func SameShape(a, b *Level) bool {
	return a.Grid == b.Grid
}

// Default is the built-in 20×20 battlefield: a wall across the middle with
// two gaps, an enemy base with defenses on the far side, and a mixed player
// squad waiting near the origin.
func Default() *Level {
	l := &Level{
		Name:        "default",
		Battlefield: true,
		Grid:        GridSpec{Width: 20, Height: 20, CellSize: 100},
		PlayerBase:  CellRef{X: 2, Y: 2},
		EnemyBase:   CellRef{X: 16, Y: 16},
	}

	for x := 0; x < 20; x++ {
		if x == 4 || x == 15 {
			continue
		}
		l.Cells = append(l.Cells, CellSpec{X: x, Y: 10, Blocked: true})
	}
	// Mud in front of the east gap.
	for y := 7; y <= 9; y++ {
		l.Cells = append(l.Cells, CellSpec{X: 15, Y: y, Cost: 3})
	}

	l.Cells = append(l.Cells,
		CellSpec{X: 16, Y: 16, Building: "town_hall", Team: "enemy"},
		CellSpec{X: 13, Y: 15, Building: "cannon", Team: "enemy"},
		CellSpec{X: 17, Y: 13, Building: "cannon", Team: "enemy"},
		CellSpec{X: 12, Y: 17, Building: "gold_mine", Team: "enemy"},
		CellSpec{X: 18, Y: 18, Building: "barracks", Team: "enemy"},
		CellSpec{X: 2, Y: 1, Building: "town_hall", Team: "player"},
	)

	l.Units = []UnitSpec{
		{Archetype: "soldier", Team: "player", X: 1, Y: 3},
		{Archetype: "soldier", Team: "player", X: 2, Y: 3},
		{Archetype: "barbarian", Team: "player", X: 3, Y: 3},
		{Archetype: "archer", Team: "player", X: 1, Y: 4},
		{Archetype: "archer", Team: "player", X: 2, Y: 4},
		{Archetype: "giant", Team: "player", X: 3, Y: 4},
		{Archetype: "bomber", Team: "player", X: 4, Y: 4},
		{Archetype: "soldier", Team: "enemy", X: 15, Y: 15},
		{Archetype: "archer", Team: "enemy", X: 16, Y: 14},
	}
	return l
}
