package game

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jakecoffman/cp"
	"github.com/zyedidia/generic/mapset"
	"go.uber.org/zap"

	"autobattle/internal/config"
	"autobattle/internal/game/spatial"
	"autobattle/internal/observability"
)

// changeBuffer sizes the grid subscription drained once per tick.
const changeBuffer = 256

// EngineConfig carries everything the simulation needs from AppConfig.
type EngineConfig struct {
	TickRate int
	Seed     int64 // 0 = time based
	Grid     config.GridConfig
	Steering config.SteeringConfig
	Economy  config.EconomyConfig
	Limits   config.ResourceLimits
	EventLog config.EventLogConfig
}

// EngineConfigFrom extracts the engine sections of an application config.
func EngineConfigFrom(c config.AppConfig) EngineConfig {
	return EngineConfig{
		TickRate: c.Battle.TickRate,
		Seed:     c.Battle.Seed,
		Grid:     c.Grid,
		Steering: c.Steering,
		Economy:  c.Economy,
		Limits:   c.Limits,
		EventLog: c.EventLog,
	}
}

// DefaultEngineConfig is EngineConfigFrom(config.Default()).
func DefaultEngineConfig() EngineConfig {
	return EngineConfigFrom(config.Default())
}

// Death describes a unit or building removed from the battle.
type Death struct {
	ID     string
	Kind   EntityKind
	Team   Team
	Pos    cp.Vector
	Killer string // empty when the killer is unknown
}

// Engine owns the battlefield and runs the simulation loop. Every exported
// method is safe for concurrent use; the simulation itself is single
// threaded under the engine mutex.
type Engine struct {
	mu     sync.RWMutex
	cfg    EngineConfig
	logger *zap.Logger

	// Battlefield
	grid          *spatial.Grid
	planner       *spatial.Planner
	obstacles     *spatial.Obstacles
	index         *spatial.Index
	changes       <-chan spatial.CellChange
	cancelChanges func()
	lastDropped   uint64

	// Entities share one arena so handles are unique across kinds.
	entities      *Arena[Targetable]
	unitCount     int
	buildingCount int
	killers       map[Handle]Handle

	// Per-tick scratch, rebuilt in handle order
	units []*Unit
	live  []Targetable

	tickRate int
	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}
	doneChan chan struct{}

	tickCount uint64
	simTime   float64
	inBattle  bool

	// Deterministic RNG for replay consistency
	rng      *rand.Rand
	seed     int64
	battleID string

	// Snapshot system for lock-free render separation
	snapshotPool *SnapshotPool

	// Event sourcing for replay and debugging
	eventLog     *EventLog
	lastLogStats EventLogStats

	// Event callbacks, run after the engine lock is released
	onUnitKilled        func(Death)
	onBuildingDestroyed func(Death)
	onCellChanged       func(spatial.CellChange)
	pending             []func()
}

// NewEngine builds an engine with an empty grid sized by cfg.Grid.
func NewEngine(cfg EngineConfig, logger *zap.Logger) (*Engine, error) {
	logger = observability.OrNop(logger)
	if cfg.TickRate <= 0 {
		cfg.TickRate = config.DefaultBattle().TickRate
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	battleID := uuid.NewString()

	e := &Engine{
		cfg:          cfg,
		logger:       logger.With(zap.String("battle_id", battleID)),
		entities:     NewArena[Targetable](cfg.Limits.MaxUnits + cfg.Limits.MaxBuildings),
		killers:      make(map[Handle]Handle),
		units:        make([]*Unit, 0, cfg.Limits.MaxUnits),
		live:         make([]Targetable, 0, cfg.Limits.MaxUnits+cfg.Limits.MaxBuildings),
		tickRate:     cfg.TickRate,
		rng:          rand.New(rand.NewSource(seed)),
		seed:         seed,
		battleID:     battleID,
		snapshotPool: NewSnapshotPool(cfg.Limits.MaxUnits, cfg.Limits.MaxBuildings),
		eventLog:     NewEventLog(battleID, cfg.EventLog, logger),
	}
	if err := e.resetGrid(cfg.Grid.Width, cfg.Grid.Height, cfg.Grid.CellSize); err != nil {
		return nil, err
	}
	e.produceSnapshot()
	return e, nil
}

// resetGrid replaces the battlefield and drops every entity. Caller holds
// the lock (or owns the engine exclusively).
func (e *Engine) resetGrid(width, height int, cellSize float64) error {
	grid, err := spatial.NewGrid(width, height, cellSize, cp.Vector{})
	if err != nil {
		return err
	}
	if e.cancelChanges != nil {
		e.cancelChanges()
	}
	if e.obstacles != nil {
		e.obstacles.Close()
	}

	e.grid = grid
	e.planner = spatial.NewPlanner(grid)
	e.obstacles = spatial.NewObstacles(grid)
	e.changes, e.cancelChanges = grid.Subscribe(changeBuffer)
	e.lastDropped = 0

	// Buckets at least as wide as the separation radius keep queries to 3×3.
	bucket := cellSize
	if r := e.cfg.Steering.SeparationRadius; r > bucket {
		bucket = r
	}
	e.index = spatial.NewIndex(cp.Vector{}, float64(width)*cellSize, float64(height)*cellSize, bucket, e.cfg.Limits.MaxUnits)

	e.entities = NewArena[Targetable](e.cfg.Limits.MaxUnits + e.cfg.Limits.MaxBuildings)
	e.unitCount, e.buildingCount = 0, 0
	e.killers = make(map[Handle]Handle)
	e.inBattle = false
	return nil
}

// BattleID identifies this engine's battle in logs and events.
func (e *Engine) BattleID() string { return e.battleID }

// Start begins the game loop
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.doneChan = make(chan struct{})
	e.ticker = time.NewTicker(time.Second / time.Duration(e.tickRate))
	ticker, stop, done := e.ticker, e.stopChan, e.doneChan
	e.mu.Unlock()

	dt := 1.0 / float64(e.tickRate)
	go func() {
		defer close(done)
		for {
			select {
			case <-ticker.C:
				e.Step(dt)
			case <-stop:
				return
			}
		}
	}()

	e.logger.Info("🎮 battle engine started", zap.Int("tps", e.tickRate))
}

// Stop stops the game loop and waits for the in-flight tick. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.ticker.Stop()
	close(e.stopChan)
	done := e.doneChan
	e.mu.Unlock()

	<-done
	e.logger.Info("🛑 battle engine stopped", zap.Uint64("ticks", e.Tick()))
}

// Running reports whether the ticker loop is active.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Step advances the simulation by dt seconds synchronously.
func (e *Engine) Step(dt float64) {
	e.mu.Lock()
	defer e.unlockAndNotify()
	e.tick(dt)
}

// unlockAndNotify releases the lock, then runs queued callbacks in order.
func (e *Engine) unlockAndNotify() {
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func (e *Engine) tick(dt float64) {
	start := time.Now()
	e.tickCount++
	e.simTime += dt

	e.drainCellChanges()
	e.rebuildFrame()

	for _, u := range e.units {
		u.Update(e, dt)
	}

	e.resolveDeaths()
	e.produceSnapshot()
	e.recordMetrics(time.Since(start))
}

// rebuildFrame lists live entities in handle order and refills the unit
// broad-phase index (O(n), much faster than O(n²) scans).
func (e *Engine) rebuildFrame() {
	e.units = e.units[:0]
	e.live = e.live[:0]
	e.index.Clear()

	e.entities.Each(func(_ Handle, t Targetable) bool {
		switch v := t.(type) {
		case *Unit:
			if !v.IsAlive() {
				return true
			}
			e.index.Insert(uint32(len(e.units)), v.Pos)
			e.units = append(e.units, v)
		case *Building:
			if !v.IsAlive() {
				return true
			}
		}
		e.live = append(e.live, t)
		return true
	})
}

// drainCellChanges forwards grid notifications and replans moving units
// whose remaining route crosses a cell that just became blocked.
func (e *Engine) drainCellChanges() {
	blocked := mapset.New[int]()
	w, _, _ := e.grid.Dimensions()

	draining := true
	for draining {
		select {
		case ch, ok := <-e.changes:
			if !ok {
				draining = false
				break
			}
			observability.IncCellChanges()
			e.eventLog.EmitSimple(EventTypeCellChanged, e.tickCount, "", ch)
			if cb := e.onCellChanged; cb != nil {
				change := ch
				e.pending = append(e.pending, func() { cb(change) })
			}
			if ch.Blocked {
				blocked.Put(ch.Y*w + ch.X)
			}
		default:
			draining = false
		}
	}

	// Lost notifications: assume any route may be stale.
	dropped := e.grid.Dropped()
	overflow := dropped != e.lastDropped
	e.lastDropped = dropped

	if blocked.Size() == 0 && !overflow {
		return
	}

	e.entities.Each(func(_ Handle, t Targetable) bool {
		u, ok := t.(*Unit)
		if !ok || !u.Active || !u.IsAlive() || u.State != StateMoving {
			return true
		}
		if overflow || e.routeCrosses(u.RemainingPath(), blocked, w) {
			observability.IncRepaths()
			u.Repath(e)
		}
		return true
	})
}

func (e *Engine) routeCrosses(path spatial.Path, blocked mapset.Set[int], width int) bool {
	for _, wp := range path {
		if x, y, ok := e.grid.WorldToGrid(wp); ok && blocked.Has(y*width+x) {
			return true
		}
	}
	return false
}

// resolveDeaths removes dead units, destroys dead buildings and frees
// their cells.
func (e *Engine) resolveDeaths() {
	var dead []Targetable
	e.entities.Each(func(_ Handle, t Targetable) bool {
		if t.Health() <= 0 {
			dead = append(dead, t)
		}
		return true
	})

	for _, t := range dead {
		h := t.Handle()
		d := Death{ID: h.String(), Kind: t.Kind(), Team: t.Team(), Pos: t.Position()}
		if k, ok := e.killers[h]; ok {
			d.Killer = k.String()
			delete(e.killers, h)
		}
		e.removeEntity(t)

		observability.IncDeath(d.Kind.String())
		eventType := EventTypeUnitKilled
		cb := e.onUnitKilled
		if d.Kind == KindBuilding {
			eventType = EventTypeBuildingDestroyed
			cb = e.onBuildingDestroyed
		}
		e.eventLog.EmitSimple(eventType, e.tickCount, d.ID, KillPayload{
			Kind: d.Kind.String(), Team: d.Team.String(), X: d.Pos.X, Y: d.Pos.Y,
		})
		if cb != nil {
			e.pending = append(e.pending, func() { cb(d) })
		}
	}
}

// removeEntity drops t from the arena; buildings unblock their cell.
func (e *Engine) removeEntity(t Targetable) {
	if !e.entities.Remove(t.Handle()) {
		return
	}
	switch v := t.(type) {
	case *Unit:
		e.unitCount--
	case *Building:
		e.buildingCount--
		e.grid.SetBlocked(v.CellX, v.CellY, false, 0)
	}
}

func (e *Engine) recordMetrics(elapsed time.Duration) {
	observability.RecordTick(elapsed)

	idle, moving, attacking := 0, 0, 0
	for _, u := range e.units {
		switch u.State {
		case StateIdle:
			idle++
		case StateMoving:
			moving++
		case StateAttacking:
			attacking++
		}
	}
	observability.SetUnitStates(idle, moving, attacking)
	observability.SetBuildingCount(e.buildingCount)

	stats := e.eventLog.Stats()
	observability.AddEventLogStats(stats.Total-e.lastLogStats.Total, stats.Dropped-e.lastLogStats.Dropped)
	e.lastLogStats = stats
}

// =============================================================================
// WORLD IMPLEMENTATION (called by units during tick, lock held)
// =============================================================================

// LiveEntities lists every entity alive at the start of the frame.
func (e *Engine) LiveEntities() []Targetable { return e.live }

// Lookup resolves a handle to a live entity.
func (e *Engine) Lookup(h Handle) (Targetable, bool) {
	return e.entities.Get(h)
}

// UnitsNear returns broad-phase candidates around pos.
func (e *Engine) UnitsNear(pos cp.Vector, radius float64) []*Unit {
	ids := e.index.QueryRadius(pos, radius)
	out := make([]*Unit, 0, len(ids))
	for _, id := range ids {
		if int(id) < len(e.units) {
			out = append(out, e.units[id])
		}
	}
	return out
}

// FindPath plans from `from` toward `to`. When the destination cell is
// blocked (a building stands there) the route ends at the walkable
// neighbor of that cell closest to `from` instead.
func (e *Engine) FindPath(from, to cp.Vector) spatial.Path {
	dest, ok := e.approachPoint(from, to)
	if !ok {
		observability.RecordPathSearch(spatial.SearchInvalid.String(), 0, 0, 0)
		return nil
	}

	path, stats := e.planner.FindPath(from, dest)
	observability.RecordPathSearch(stats.Result.String(), stats.Expanded, len(path), stats.Duration)
	if stats.Result != spatial.SearchFound {
		e.logger.Debug("path search failed",
			zap.Stringer("result", stats.Result),
			zap.Int("expanded", stats.Expanded),
			zap.Float64("from_x", from.X), zap.Float64("from_y", from.Y),
			zap.Float64("to_x", to.X), zap.Float64("to_y", to.Y))
	}
	e.eventLog.EmitSimple(EventTypePathSearch, e.tickCount, "", PathSearchPayload{
		Result:    stats.Result.String(),
		Expanded:  stats.Expanded,
		Waypoints: len(path),
		Micros:    stats.Duration.Microseconds(),
	})
	return path
}

func (e *Engine) approachPoint(from, to cp.Vector) (cp.Vector, bool) {
	x, y, ok := e.grid.WorldToGrid(to)
	if !ok {
		return cp.Vector{}, false
	}
	if e.grid.IsWalkable(x, y) {
		return to, true
	}

	best, found := cp.Vector{}, false
	bestDist := 0.0
	for _, n := range e.grid.Neighbors(x, y) {
		if n.Blocked {
			continue
		}
		d := n.World.DistanceSq(from)
		if !found || d < bestDist {
			best, bestDist, found = n.World, d, true
		}
	}
	return best, found
}

// Sweep reports the first wall or building face a moving circle meets.
func (e *Engine) Sweep(from, delta cp.Vector, radius float64) SweepHit {
	c := e.obstacles.Sweep(from, delta, radius)
	return SweepHit{Hit: c.Hit, Alpha: c.Alpha, Normal: c.Normal}
}

// ApplyDamage damages target and records source as the killer when the
// hit is fatal. Removal happens at the end of the tick.
func (e *Engine) ApplyDamage(target, source Handle, amount float64) {
	t, ok := e.entities.Get(target)
	if !ok || t.Health() <= 0 {
		return
	}
	d, ok := t.(Damageable)
	if !ok {
		return
	}
	d.ApplyDamage(amount, source)
	observability.IncAttacks()

	if t.Health() <= 0 {
		e.killers[target] = source
	}
	e.eventLog.EmitSimple(EventTypeAttack, e.tickCount, source.String(), AttackPayload{
		TargetID: target.String(),
		Damage:   amount,
		TargetHP: t.Health(),
	})
}

// Now is the simulation clock.
func (e *Engine) Now() float64 { return e.simTime }

// Rand is the deterministic simulation RNG.
func (e *Engine) Rand() *rand.Rand { return e.rng }

// =============================================================================
// SNAPSHOTS AND QUERIES
// =============================================================================

func (e *Engine) produceSnapshot() {
	snap := e.snapshotPool.AcquireWrite()
	snap.TickNumber = e.tickCount
	snap.SimTime = e.simTime
	snap.BattleID = e.battleID
	snap.InBattle = e.inBattle
	snap.GridWidth, snap.GridHeight, snap.CellSize = e.grid.Dimensions()
	snap.Origin = pointOf(e.grid.Origin())

	e.entities.Each(func(h Handle, t Targetable) bool {
		switch v := t.(type) {
		case *Unit:
			snap.Units = append(snap.Units, unitSnapshot(v))
			switch v.State {
			case StateIdle:
				snap.Idle++
			case StateMoving:
				snap.Moving++
			case StateAttacking:
				snap.Attacking++
			}
			if v.Team() == TeamPlayer {
				snap.Player++
			} else {
				snap.Enemy++
			}
		case *Building:
			snap.Buildings = append(snap.Buildings, buildingSnapshot(v))
		}
		return true
	})

	for _, c := range e.grid.Cells() {
		if c.Blocked || c.Cost != 1 {
			snap.Cells = append(snap.Cells, CellSnapshot{X: c.X, Y: c.Y, Blocked: c.Blocked, Cost: c.Cost})
		}
	}

	e.snapshotPool.PublishWrite()
}

func unitSnapshot(u *Unit) UnitSnapshot {
	s := UnitSnapshot{
		ID:     u.handle.String(),
		Team:   u.team.String(),
		Pos:    pointOf(u.Pos),
		Mesh:   pointOf(u.MeshPosition()),
		Yaw:    u.Yaw,
		HP:     u.HP,
		MaxHP:  u.MaxHP,
		State:  u.State.String(),
		Active: u.Active,
	}
	if u.Archetype != nil {
		s.Archetype = u.Archetype.ID
		s.Color = u.Archetype.Color
	}
	if !u.Target.IsZero() {
		s.TargetID = u.Target.String()
	}
	if rest := u.RemainingPath(); len(rest) > 0 {
		s.Path = make([]Point, len(rest))
		for i, wp := range rest {
			s.Path[i] = pointOf(wp)
		}
	}
	return s
}

func buildingSnapshot(b *Building) BuildingSnapshot {
	s := BuildingSnapshot{
		ID:    b.handle.String(),
		Team:  b.team.String(),
		CellX: b.CellX,
		CellY: b.CellY,
		Pos:   pointOf(b.Pos),
		Level: b.Level,
		HP:    b.HP,
		MaxHP: b.MaxHP,
	}
	if b.Def != nil {
		s.Kind = b.Def.ID
		s.Color = b.Def.Color
	}
	return s
}

// Snapshot returns a copy of the latest published battle state.
func (e *Engine) Snapshot() BattleSnapshot {
	snap, _ := e.snapshotPool.Latest()
	return snap
}

// Grid returns the live battlefield grid. Mutate it only through the
// engine so buildings and units stay consistent.
func (e *Engine) Grid() *spatial.Grid {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.grid
}

// Tick returns the number of simulated frames.
func (e *Engine) Tick() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tickCount
}

// DebugPath returns the raw A* route from cell (0,0) to cell (x,y).
func (e *Engine) DebugPath(x, y int) (spatial.Path, spatial.SearchStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.grid.IsValid(x, y) {
		return nil, spatial.SearchStats{Result: spatial.SearchInvalid}, ErrInvalidCoordinate
	}
	path, stats := e.planner.FindPath(e.grid.GridToWorld(0, 0), e.grid.GridToWorld(x, y))
	observability.RecordPathSearch(stats.Result.String(), stats.Expanded, len(path), stats.Duration)
	return path, stats, nil
}

// EngineStats is a monitoring view of the engine.
type EngineStats struct {
	BattleID     string             `json:"battleId"`
	Tick         uint64             `json:"tick"`
	SimTime      float64            `json:"simTime"`
	Running      bool               `json:"running"`
	InBattle     bool               `json:"inBattle"`
	Units        int                `json:"units"`
	Buildings    int                `json:"buildings"`
	Obstacles    int                `json:"obstacles"`
	DroppedCells uint64             `json:"droppedCellChanges"`
	Index        spatial.IndexStats `json:"index"`
	EventLog     EventLogStats      `json:"eventLog"`
	Seed         int64              `json:"seed"`
}

// Stats returns engine counters for monitoring.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return EngineStats{
		BattleID:     e.battleID,
		Tick:         e.tickCount,
		SimTime:      e.simTime,
		Running:      e.running,
		InBattle:     e.inBattle,
		Units:        e.unitCount,
		Buildings:    e.buildingCount,
		Obstacles:    e.obstacles.Count(),
		DroppedCells: e.grid.Dropped(),
		Index:        e.index.Stats(),
		EventLog:     e.eventLog.Stats(),
		Seed:         e.seed,
	}
}

// Limits returns the configured entity caps.
func (e *Engine) Limits() config.ResourceLimits { return e.cfg.Limits }

// SetCallbacks sets event callbacks. Callbacks run on the goroutine that
// triggered them, after the engine lock is released.
func (e *Engine) SetCallbacks(onUnitKilled, onBuildingDestroyed func(Death), onCellChanged func(spatial.CellChange)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onUnitKilled = onUnitKilled
	e.onBuildingDestroyed = onBuildingDestroyed
	e.onCellChanged = onCellChanged
}

// StartEventLog initializes the event logging system
func (e *Engine) StartEventLog(filePath string) error {
	return e.eventLog.Start(filePath)
}

// StopEventLog gracefully stops the event logging system
func (e *Engine) StopEventLog() {
	e.eventLog.Stop()
}

// EventLogStats returns event log statistics for monitoring
func (e *Engine) EventLogStats() EventLogStats {
	return e.eventLog.Stats()
}
