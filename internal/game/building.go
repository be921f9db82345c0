package game

import (
	"fmt"
	"sort"

	"github.com/jakecoffman/cp"

	"autobattle/internal/config"
)

// BuildingType groups building archetypes by role.
type BuildingType uint8

const (
	BuildingResource BuildingType = iota
	BuildingDefense
	BuildingHeadquarters
	BuildingWall
	BuildingBarracks
)

func (t BuildingType) String() string {
	switch t {
	case BuildingResource:
		return "resource"
	case BuildingDefense:
		return "defense"
	case BuildingHeadquarters:
		return "headquarters"
	case BuildingWall:
		return "wall"
	case BuildingBarracks:
		return "barracks"
	default:
		return "other"
	}
}

// LevelUpBonus raises a building's stats after its level increments.
type LevelUpBonus interface {
	Apply(b *Building, econ config.EconomyConfig)
}

// HealthBonus multiplies MaxHealth by the economy multiplier.
type HealthBonus struct{}

func (HealthBonus) Apply(b *Building, econ config.EconomyConfig) {
	b.MaxHP *= econ.HealthMultiplier
}

// ScaledHealthBonus multiplies MaxHealth by a fixed factor.
type ScaledHealthBonus struct {
	Factor float64
}

func (s ScaledHealthBonus) Apply(b *Building, _ config.EconomyConfig) {
	b.MaxHP *= s.Factor
}

// BuildingKind describes one placeable building.
type BuildingKind struct {
	ID        string
	Name      string
	Type      BuildingType
	MaxHealth float64
	Color     string
	Glyph     rune
	Bonus     LevelUpBonus
}

var BuildingKinds = map[string]*BuildingKind{
	"gold_mine": {ID: "gold_mine", Name: "Gold Mine", Type: BuildingResource, MaxHealth: 500, Color: "#f1c40f", Glyph: 'G'},
	"cannon":    {ID: "cannon", Name: "Cannon", Type: BuildingDefense, MaxHealth: 500, Color: "#7f8c8d", Glyph: 'C'},
	"town_hall": {ID: "town_hall", Name: "Town Hall", Type: BuildingHeadquarters, MaxHealth: 1500, Color: "#8e44ad", Glyph: 'H'},
	"wall":      {ID: "wall", Name: "Wall", Type: BuildingWall, MaxHealth: 1000, Color: "#95a5a6", Glyph: '#', Bonus: ScaledHealthBonus{Factor: 1.3}},
	"barracks":  {ID: "barracks", Name: "Barracks", Type: BuildingBarracks, MaxHealth: 500, Color: "#c0392b", Glyph: 'B'},
}

// LookupBuildingKind returns the kind for id or ErrUnknownArchetype.
func LookupBuildingKind(id string) (*BuildingKind, error) {
	k, ok := BuildingKinds[id]
	if !ok {
		return nil, fmt.Errorf("%w: building %q", ErrUnknownArchetype, id)
	}
	return k, nil
}

// BuildingKindIDs lists the registered kinds, sorted.
func BuildingKindIDs() []string {
	ids := make([]string, 0, len(BuildingKinds))
	for id := range BuildingKinds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Building is a static structure occupying exactly one grid cell.
type Building struct {
	handle Handle
	team   Team
	Def    *BuildingKind

	CellX, CellY int
	Pos          cp.Vector
	Box          cp.BB

	Level    int
	MaxLevel int

	HP         float64
	MaxHP      float64
	Targetable bool

	econ config.EconomyConfig
}

// NewBuilding places a level-1 building centered on a cell of the given size.
func NewBuilding(h Handle, kind *BuildingKind, team Team, cx, cy int, center cp.Vector, cellSize float64, econ config.EconomyConfig) *Building {
	half := cellSize / 2
	return &Building{
		handle:     h,
		team:       team,
		Def:        kind,
		CellX:      cx,
		CellY:      cy,
		Pos:        center,
		Box:        cp.NewBBForExtents(center, half, half),
		Level:      1,
		MaxLevel:   econ.MaxBuildingLevel,
		HP:         kind.MaxHealth,
		MaxHP:      kind.MaxHealth,
		Targetable: true,
		econ:       econ,
	}
}

func (b *Building) Handle() Handle      { return b.handle }
func (b *Building) Kind() EntityKind    { return KindBuilding }
func (b *Building) Team() Team          { return b.team }
func (b *Building) Health() float64     { return b.HP }
func (b *Building) IsTargetable() bool  { return b.Targetable }
func (b *Building) Position() cp.Vector { return b.Pos }

// BoundingRadius is half the box width.
func (b *Building) BoundingRadius() float64 {
	return (b.Box.R - b.Box.L) / 2
}

// IsAlive reports whether the building still stands.
func (b *Building) IsAlive() bool { return b.HP > 0 }

// ApplyDamage reduces health, never below zero.
func (b *Building) ApplyDamage(amount float64, _ Handle) {
	if amount <= 0 {
		return
	}
	b.HP -= amount
	if b.HP < 0 {
		b.HP = 0
	}
}

// ClosestPoint clamps from onto the building's box.
func (b *Building) ClosestPoint(from cp.Vector) (cp.Vector, bool) {
	return b.Box.ClampVect(&from), true
}

// CanUpgrade reports whether another level is available.
func (b *Building) CanUpgrade() bool {
	return b.Level < b.MaxLevel
}

// UpgradeCost returns the gold and elixir needed for the next level.
func (b *Building) UpgradeCost() (gold, elixir int) {
	return b.econ.GoldPerLevel * b.Level, b.econ.ElixirPerLevel * b.Level
}

// LevelUp raises the level, applies the kind's bonus and heals to full.
func (b *Building) LevelUp() error {
	if !b.CanUpgrade() {
		return ErrMaxLevel
	}
	b.Level++

	var bonus LevelUpBonus = HealthBonus{}
	if b.Def != nil && b.Def.Bonus != nil {
		bonus = b.Def.Bonus
	}
	bonus.Apply(b, b.econ)
	b.HP = b.MaxHP
	return nil
}
