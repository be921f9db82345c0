package game

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jakecoffman/cp"
)

// Point is a world position in snapshots.
type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

func pointOf(v cp.Vector) Point { return Point{X: v.X, Y: v.Y} }

// Vector converts back to world coordinates.
func (p Point) Vector() cp.Vector { return cp.Vector{X: p.X, Y: p.Y} }

// UnitSnapshot is an immutable copy of unit state for rendering.
// Uses value types (not pointers) to ensure immutability
type UnitSnapshot struct {
	ID        string  `json:"id" msgpack:"id"`
	Archetype string  `json:"archetype" msgpack:"archetype"`
	Team      string  `json:"team" msgpack:"team"`
	Pos       Point   `json:"pos" msgpack:"pos"`
	Mesh      Point   `json:"mesh" msgpack:"mesh"` // position plus lunge offset
	Yaw       float64 `json:"yaw" msgpack:"yaw"`
	HP        float64 `json:"hp" msgpack:"hp"`
	MaxHP     float64 `json:"maxHp" msgpack:"maxHp"`
	State     string  `json:"state" msgpack:"state"`
	Active    bool    `json:"active" msgpack:"active"`
	TargetID  string  `json:"targetId,omitempty" msgpack:"targetId,omitempty"`
	Path      []Point `json:"path,omitempty" msgpack:"path,omitempty"` // remaining waypoints
	Color     string  `json:"color" msgpack:"color"`
}

// BuildingSnapshot is an immutable copy of a building.
type BuildingSnapshot struct {
	ID    string  `json:"id" msgpack:"id"`
	Kind  string  `json:"kind" msgpack:"kind"`
	Team  string  `json:"team" msgpack:"team"`
	CellX int     `json:"cellX" msgpack:"cellX"`
	CellY int     `json:"cellY" msgpack:"cellY"`
	Pos   Point   `json:"pos" msgpack:"pos"`
	Level int     `json:"level" msgpack:"level"`
	HP    float64 `json:"hp" msgpack:"hp"`
	MaxHP float64 `json:"maxHp" msgpack:"maxHp"`
	Color string  `json:"color" msgpack:"color"`
}

// CellSnapshot lists a cell that differs from the default (open, cost 1).
type CellSnapshot struct {
	X       int     `json:"x" msgpack:"x"`
	Y       int     `json:"y" msgpack:"y"`
	Blocked bool    `json:"blocked" msgpack:"blocked"`
	Cost    float64 `json:"cost" msgpack:"cost"`
}

// BattleSnapshot is a complete immutable battle state for rendering.
type BattleSnapshot struct {
	Sequence   uint64    `json:"sequence" msgpack:"sequence"`
	Timestamp  time.Time `json:"timestamp" msgpack:"timestamp"`
	TickNumber uint64    `json:"tick" msgpack:"tick"`
	SimTime    float64   `json:"simTime" msgpack:"simTime"`
	BattleID   string    `json:"battleId" msgpack:"battleId"`
	InBattle   bool      `json:"inBattle" msgpack:"inBattle"`

	GridWidth  int     `json:"gridWidth" msgpack:"gridWidth"`
	GridHeight int     `json:"gridHeight" msgpack:"gridHeight"`
	CellSize   float64 `json:"cellSize" msgpack:"cellSize"`
	Origin     Point   `json:"origin" msgpack:"origin"`

	Units     []UnitSnapshot     `json:"units" msgpack:"units"`
	Buildings []BuildingSnapshot `json:"buildings" msgpack:"buildings"`
	Cells     []CellSnapshot     `json:"cells" msgpack:"cells"`

	// Aggregate stats
	Idle      int `json:"idle" msgpack:"idle"`
	Moving    int `json:"moving" msgpack:"moving"`
	Attacking int `json:"attacking" msgpack:"attacking"`
	Player    int `json:"playerUnits" msgpack:"playerUnits"`
	Enemy     int `json:"enemyUnits" msgpack:"enemyUnits"`
}

// Clone deep-copies the snapshot so it can outlive the pool slot.
func (s *BattleSnapshot) Clone() BattleSnapshot {
	out := *s
	out.Units = make([]UnitSnapshot, len(s.Units))
	for i, u := range s.Units {
		out.Units[i] = u
		if u.Path != nil {
			out.Units[i].Path = append([]Point(nil), u.Path...)
		}
	}
	out.Buildings = append([]BuildingSnapshot(nil), s.Buildings...)
	out.Cells = append([]CellSnapshot(nil), s.Cells...)
	return out
}

// SnapshotPool pre-allocates snapshots to avoid GC pressure.
// Triple buffering: the producer fills the slot after the published one
// while readers copy the published slot.
type SnapshotPool struct {
	mu        sync.RWMutex // held for write only while swapping readIdx
	snapshots [3]BattleSnapshot
	writeIdx  uint32 // producer only
	readIdx   uint32
	published bool
	sequence  atomic.Uint64
}

// NewSnapshotPool creates a pool with pre-allocated slices
func NewSnapshotPool(maxUnits, maxBuildings int) *SnapshotPool {
	pool := &SnapshotPool{}
	for i := range pool.snapshots {
		pool.snapshots[i] = BattleSnapshot{
			Units:     make([]UnitSnapshot, 0, maxUnits),
			Buildings: make([]BuildingSnapshot, 0, maxBuildings),
		}
	}
	return pool
}

// AcquireWrite gets the next write slot (producer only, called from the
// simulation goroutine). Slices are reset but keep their capacity.
func (p *SnapshotPool) AcquireWrite() *BattleSnapshot {
	p.mu.RLock()
	idx := (p.readIdx + 1) % 3
	p.mu.RUnlock()

	p.writeIdx = idx
	snap := &p.snapshots[idx]
	snap.Units = snap.Units[:0]
	snap.Buildings = snap.Buildings[:0]
	snap.Cells = snap.Cells[:0]
	snap.Idle, snap.Moving, snap.Attacking = 0, 0, 0
	snap.Player, snap.Enemy = 0, 0

	snap.Sequence = p.sequence.Add(1)
	snap.Timestamp = time.Now()
	return snap
}

// PublishWrite makes the last acquired slot the one readers see.
func (p *SnapshotPool) PublishWrite() {
	p.mu.Lock()
	p.readIdx = p.writeIdx
	p.published = true
	p.mu.Unlock()
}

// Latest returns a deep copy of the published snapshot, or false before the
// first publish.
func (p *SnapshotPool) Latest() (BattleSnapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.published {
		return BattleSnapshot{}, false
	}
	return p.snapshots[p.readIdx].Clone(), true
}
