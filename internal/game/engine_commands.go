package game

import (
	"errors"
	"fmt"
	"math"

	"github.com/jakecoffman/cp"
	"go.uber.org/zap"

	"autobattle/internal/game/spatial"
	"autobattle/internal/level"
)

// =============================================================================
// UNITS
// =============================================================================

// SpawnUnit creates an inactive unit at the center of cell (x, y).
func (e *Engine) SpawnUnit(archetype string, team Team, x, y int) (Handle, error) {
	e.mu.Lock()
	defer e.unlockAndNotify()

	if !e.grid.IsValid(x, y) {
		return Handle{}, ErrInvalidCoordinate
	}
	if !e.grid.IsWalkable(x, y) {
		return Handle{}, ErrCellOccupied
	}
	return e.spawnUnitAt(archetype, team, e.grid.GridToWorld(x, y))
}

// SpawnUnitAt creates an inactive unit at an exact world position.
func (e *Engine) SpawnUnitAt(archetype string, team Team, pos cp.Vector) (Handle, error) {
	e.mu.Lock()
	defer e.unlockAndNotify()

	if _, _, ok := e.grid.WorldToGrid(pos); !ok {
		return Handle{}, ErrInvalidCoordinate
	}
	return e.spawnUnitAt(archetype, team, pos)
}

func (e *Engine) spawnUnitAt(archetype string, team Team, pos cp.Vector) (Handle, error) {
	arch, err := LookupArchetype(archetype)
	if err != nil {
		return Handle{}, err
	}
	// HARD CAP: Prevent DoS via unit flooding
	if e.unitCount >= e.cfg.Limits.MaxUnits {
		e.logger.Warn("⚠️ unit limit reached", zap.Int("max", e.cfg.Limits.MaxUnits))
		return Handle{}, ErrLimitReached
	}

	var unit *Unit
	h := e.entities.Insert(func(h Handle) Targetable {
		unit = NewUnit(h, arch, team, pos, &e.cfg.Steering)
		return unit
	})
	unit.RandomizeSpeed(e.rng)
	unit.OnStateChange = e.unitStateChanged
	e.unitCount++

	e.eventLog.EmitSimple(EventTypeUnitSpawn, e.tickCount, h.String(), UnitSpawnPayload{
		Archetype: arch.ID, Team: team.String(), X: pos.X, Y: pos.Y,
	})
	return h, nil
}

func (e *Engine) unitStateChanged(u *Unit, from, to UnitState) {
	e.eventLog.EmitSimple(EventTypeUnitState, e.tickCount, u.handle.String(), UnitStatePayload{
		From: from.String(), To: to.String(),
	})
}

// ActivateUnit turns a unit's AI on or off.
func (e *Engine) ActivateUnit(h Handle, active bool) error {
	e.mu.Lock()
	defer e.unlockAndNotify()

	t, ok := e.entities.Get(h)
	if !ok {
		return ErrNotFound
	}
	u, ok := t.(*Unit)
	if !ok {
		return ErrNotFound
	}
	u.Activate(active)
	return nil
}

// ActivateAll turns on every unit of team and returns how many changed.
func (e *Engine) ActivateAll(team Team) int {
	e.mu.Lock()
	defer e.unlockAndNotify()
	return e.setTeamActive(team, true)
}

func (e *Engine) setTeamActive(team Team, active bool) int {
	n := 0
	e.entities.Each(func(_ Handle, t Targetable) bool {
		if u, ok := t.(*Unit); ok && u.team == team && u.Active != active {
			u.Activate(active)
			n++
		}
		return true
	})
	return n
}

// Unit returns a copy of a unit's snapshot.
func (e *Engine) Unit(h Handle) (UnitSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.entities.Get(h)
	if !ok {
		return UnitSnapshot{}, false
	}
	u, ok := t.(*Unit)
	if !ok {
		return UnitSnapshot{}, false
	}
	return unitSnapshot(u), true
}

// StartBattle activates every unit on both teams.
func (e *Engine) StartBattle() {
	e.mu.Lock()
	defer e.unlockAndNotify()

	e.setTeamActive(TeamPlayer, true)
	e.setTeamActive(TeamEnemy, true)
	e.inBattle = true
	e.eventLog.EmitSimple(EventTypeBattleStart, e.tickCount, "", BattlePayload{Units: e.unitCount, Buildings: e.buildingCount})
	e.logger.Info("⚔️ battle started", zap.Int("units", e.unitCount), zap.Int("buildings", e.buildingCount))
}

// StopBattle deactivates every unit.
func (e *Engine) StopBattle() {
	e.mu.Lock()
	defer e.unlockAndNotify()

	e.setTeamActive(TeamPlayer, false)
	e.setTeamActive(TeamEnemy, false)
	e.inBattle = false
	e.eventLog.EmitSimple(EventTypeBattleStop, e.tickCount, "", BattlePayload{Units: e.unitCount, Buildings: e.buildingCount})
	e.logger.Info("🏳️ battle stopped", zap.Int("units", e.unitCount))
}

// =============================================================================
// BUILDINGS
// =============================================================================

// PlaceBuilding puts a level-1 building on cell (x, y) and blocks it.
func (e *Engine) PlaceBuilding(kind string, team Team, x, y int) (Handle, error) {
	e.mu.Lock()
	defer e.unlockAndNotify()
	return e.placeBuilding(kind, team, x, y)
}

func (e *Engine) placeBuilding(kind string, team Team, x, y int) (Handle, error) {
	def, err := LookupBuildingKind(kind)
	if err != nil {
		return Handle{}, err
	}
	if !e.grid.IsValid(x, y) {
		return Handle{}, ErrInvalidCoordinate
	}
	if !e.grid.IsWalkable(x, y) {
		return Handle{}, ErrCellOccupied
	}
	if e.buildingCount >= e.cfg.Limits.MaxBuildings {
		e.logger.Warn("⚠️ building limit reached", zap.Int("max", e.cfg.Limits.MaxBuildings))
		return Handle{}, ErrLimitReached
	}

	center := e.grid.GridToWorld(x, y)
	var b *Building
	h := e.entities.Insert(func(h Handle) Targetable {
		b = NewBuilding(h, def, team, x, y, center, e.grid.CellSize(), e.cfg.Economy)
		return b
	})
	e.buildingCount++
	e.grid.SetBlocked(x, y, true, h.ID())

	e.eventLog.EmitSimple(EventTypeBuildingPlaced, e.tickCount, h.String(), buildingPayload(b))
	return h, nil
}

func buildingPayload(b *Building) BuildingPayload {
	return BuildingPayload{
		BuildingKind: b.Def.ID,
		Team:         b.team.String(),
		CellX:        b.CellX,
		CellY:        b.CellY,
		Level:        b.Level,
		MaxHP:        b.MaxHP,
	}
}

func (e *Engine) building(h Handle) (*Building, error) {
	t, ok := e.entities.Get(h)
	if !ok {
		return nil, ErrNotFound
	}
	b, ok := t.(*Building)
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

// RemoveBuilding deletes a building and frees its cell.
func (e *Engine) RemoveBuilding(h Handle) error {
	e.mu.Lock()
	defer e.unlockAndNotify()

	b, err := e.building(h)
	if err != nil {
		return err
	}
	e.removeEntity(b)
	return nil
}

// UpgradeBuilding levels a building up and returns what the upgrade cost.
func (e *Engine) UpgradeBuilding(h Handle) (gold, elixir int, err error) {
	e.mu.Lock()
	defer e.unlockAndNotify()

	b, err := e.building(h)
	if err != nil {
		return 0, 0, err
	}
	gold, elixir = b.UpgradeCost()
	if err := b.LevelUp(); err != nil {
		return 0, 0, err
	}
	e.eventLog.EmitSimple(EventTypeBuildingUpgraded, e.tickCount, h.String(), buildingPayload(b))
	return gold, elixir, nil
}

// Building returns a copy of a building's snapshot.
func (e *Engine) Building(h Handle) (BuildingSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	b, err := e.building(h)
	if err != nil {
		return BuildingSnapshot{}, false
	}
	return buildingSnapshot(b), true
}

// =============================================================================
// TERRAIN
// =============================================================================

// SetCellBlocked marks terrain blocked or open. Cells held by a building
// can only change by removing the building.
func (e *Engine) SetCellBlocked(x, y int, blocked bool) error {
	e.mu.Lock()
	defer e.unlockAndNotify()
	return e.setCellBlocked(x, y, blocked)
}

func (e *Engine) setCellBlocked(x, y int, blocked bool) error {
	c, ok := e.grid.Cell(x, y)
	if !ok {
		return ErrInvalidCoordinate
	}
	if c.Occupant != 0 {
		return ErrCellOccupied
	}
	e.grid.SetBlocked(x, y, blocked, 0)
	return nil
}

// SetCellCost changes a cell's movement cost multiplier.
func (e *Engine) SetCellCost(x, y int, cost float64) error {
	e.mu.Lock()
	defer e.unlockAndNotify()
	return e.setCellCost(x, y, cost)
}

func (e *Engine) setCellCost(x, y int, cost float64) error {
	if err := e.grid.SetCost(x, y, cost); err != nil {
		if errors.Is(err, spatial.ErrOutOfBounds) {
			return ErrInvalidCoordinate
		}
		return err
	}
	return nil
}

// =============================================================================
// LEVELS
// =============================================================================

// levelFits rejects a level the engine could only load partway, so a failed
// load leaves the running battlefield as it was.
func (e *Engine) levelFits(l *level.Level) error {
	buildings := 0
	for _, c := range l.Cells {
		if c.Building != "" {
			buildings++
		}
		if math.IsNaN(c.Cost) || math.IsInf(c.Cost, 0) {
			return fmt.Errorf("level %q: cost at (%d,%d) must be finite: %w", l.Name, c.X, c.Y, level.ErrInvalidLevel)
		}
	}
	if buildings > e.cfg.Limits.MaxBuildings {
		return fmt.Errorf("level %q: %d buildings, limit %d: %w", l.Name, buildings, e.cfg.Limits.MaxBuildings, ErrLimitReached)
	}
	if len(l.Units) > e.cfg.Limits.MaxUnits {
		return fmt.Errorf("level %q: %d units, limit %d: %w", l.Name, len(l.Units), e.cfg.Limits.MaxUnits, ErrLimitReached)
	}
	return nil
}

// LoadLevel replaces the battlefield with l: a fresh grid, its terrain and
// buildings, then its units. In a battlefield level enemy units start
// active. Entries naming unknown archetypes or kinds fail the whole load.
func (e *Engine) LoadLevel(l *level.Level) error {
	if err := l.Validate(); err != nil {
		return err
	}
	for _, c := range l.Cells {
		if c.Building == "" {
			continue
		}
		if _, err := LookupBuildingKind(c.Building); err != nil {
			return fmt.Errorf("level %q: building at (%d,%d): %w", l.Name, c.X, c.Y, err)
		}
	}
	for i, us := range l.Units {
		if _, err := LookupArchetype(us.Archetype); err != nil {
			return fmt.Errorf("level %q: units[%d]: %w", l.Name, i, err)
		}
	}

	if err := e.levelFits(l); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.unlockAndNotify()

	if err := e.resetGrid(l.Grid.Width, l.Grid.Height, l.Grid.CellSize); err != nil {
		return err
	}

	for _, c := range l.Cells {
		if c.Building != "" {
			team := TeamEnemy
			if c.Team != "" {
				team, _ = ParseTeam(c.Team)
			}
			if _, err := e.placeBuilding(c.Building, team, c.X, c.Y); err != nil {
				return fmt.Errorf("level %q: building at (%d,%d): %w", l.Name, c.X, c.Y, err)
			}
			continue
		}
		if c.Blocked {
			e.grid.SetBlocked(c.X, c.Y, true, 0)
		}
		if c.Cost > 0 && c.Cost != 1 {
			if err := e.grid.SetCost(c.X, c.Y, c.Cost); err != nil {
				return fmt.Errorf("level %q: cost at (%d,%d): %w", l.Name, c.X, c.Y, err)
			}
		}
	}

	for i, us := range l.Units {
		team := TeamPlayer
		if us.Team != "" {
			team, _ = ParseTeam(us.Team)
		}
		h, err := e.spawnUnitAt(us.Archetype, team, e.grid.GridToWorld(us.X, us.Y))
		if err != nil {
			return fmt.Errorf("level %q: units[%d]: %w", l.Name, i, err)
		}
		if us.Active || (l.Battlefield && team == TeamEnemy) {
			t, _ := e.entities.Get(h)
			t.(*Unit).Activate(true)
		}
	}

	// The fresh grid's load-time changes are not news to anyone.
	e.drainPending()
	e.produceSnapshot()

	e.logger.Info("🗺️ level loaded",
		zap.String("name", l.Name),
		zap.Int("width", l.Grid.Width), zap.Int("height", l.Grid.Height),
		zap.Int("units", e.unitCount), zap.Int("buildings", e.buildingCount))
	return nil
}

// drainPending discards queued grid notifications.
func (e *Engine) drainPending() {
	for {
		select {
		case _, ok := <-e.changes:
			if !ok {
				return
			}
		default:
			e.lastDropped = e.grid.Dropped()
			return
		}
	}
}

// ApplyTerrain applies a hot-reload diff. Changes that hit a building's
// cell are skipped and counted.
func (e *Engine) ApplyTerrain(changes []level.TerrainChange) (applied, skipped int) {
	e.mu.Lock()
	defer e.unlockAndNotify()

	for _, ch := range changes {
		c, ok := e.grid.Cell(ch.X, ch.Y)
		if !ok || c.Occupant != 0 {
			skipped++
			continue
		}
		if c.Blocked != ch.Blocked {
			e.grid.SetBlocked(ch.X, ch.Y, ch.Blocked, 0)
		}
		if c.Cost != ch.Cost {
			if err := e.grid.SetCost(ch.X, ch.Y, ch.Cost); err != nil {
				skipped++
				continue
			}
		}
		applied++
	}
	return applied, skipped
}

// ReloadLevel moves a running battlefield from prev to next. When the grids
// share a shape only the terrain diff is patched in, keeping units and
// buildings where they are; otherwise next replaces everything.
func (e *Engine) ReloadLevel(prev, next *level.Level) (full bool, applied, skipped int, err error) {
	if prev == nil || !level.SameShape(prev, next) {
		return true, 0, 0, e.LoadLevel(next)
	}
	applied, skipped = e.ApplyTerrain(level.DiffTerrain(prev, next))
	e.logger.Info("🗺️ terrain reloaded",
		zap.String("name", next.Name), zap.Int("applied", applied), zap.Int("skipped", skipped))
	return false, applied, skipped, nil
}
