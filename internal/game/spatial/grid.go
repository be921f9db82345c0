// Package spatial provides the battlefield grid, A* path planning over it,
// and a bucket index for broad-phase neighbor queries.
//
// All structures use preallocated slices with integer indices (not pointers)
// so a search never chases pointers between cells.
package spatial

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/jakecoffman/cp"
)

var (
	// ErrInvalidDimensions is returned for non-positive grid sizes.
	ErrInvalidDimensions = errors.New("spatial: grid dimensions must be positive")
	// ErrOutOfBounds is returned when a cell coordinate lies outside the grid.
	ErrOutOfBounds = errors.New("spatial: cell out of bounds")
)

// Cell is one tile of the battlefield.
//
// G, H and Parent are A* scratch state. They are only meaningful between the
// reset at the start of a search and the end of that search.
type Cell struct {
	X, Y     int
	World    cp.Vector // cell center
	Blocked  bool
	Cost     float64
	Occupant uint64 // weak entity reference (handle id), 0 = none

	G, H   float64
	Parent int // cell index, -1 = none
}

// F returns the A* priority of the cell.
func (c *Cell) F() float64 { return c.G + c.H }

// CellChange is published after every SetBlocked call.
type CellChange struct {
	X        int    `json:"x" msgpack:"x"`
	Y        int    `json:"y" msgpack:"y"`
	Blocked  bool   `json:"blocked" msgpack:"blocked"`
	Occupant uint64 `json:"occupant,omitempty" msgpack:"occupant,omitempty"`
}

type observer struct {
	id int
	fn func(CellChange)
}

type subscriber struct {
	id int
	ch chan CellChange
}

// Grid owns width×height cells in row-major order (cells[y*width+x]).
type Grid struct {
	mu sync.RWMutex

	width, height int
	cellSize      float64
	invCellSize   float64 // 1/cellSize for faster division
	origin        cp.Vector
	cells         []Cell

	// Change listeners. Guarded by listenMu, never by mu, so a listener may
	// query the grid it is being notified about.
	listenMu    sync.Mutex
	nextID      int
	observers   []observer
	subscribers []subscriber
	dropped     atomic.Uint64
}

// NewGrid creates a grid whose cell (0,0) starts at origin.
func NewGrid(width, height int, cellSize float64, origin cp.Vector) (*Grid, error) {
	if width <= 0 || height <= 0 || cellSize <= 0 || math.IsNaN(cellSize) {
		return nil, ErrInvalidDimensions
	}

	g := &Grid{
		width:       width,
		height:      height,
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		origin:      origin,
		cells:       make([]Cell, width*height),
	}

	half := cellSize / 2
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g.cells[y*width+x] = Cell{
				X:      x,
				Y:      y,
				World:  cp.Vector{X: origin.X + float64(x)*cellSize + half, Y: origin.Y + float64(y)*cellSize + half},
				Cost:   1.0,
				Parent: -1,
			}
		}
	}
	return g, nil
}

// Dimensions returns the grid dimensions.
func (g *Grid) Dimensions() (width, height int, cellSize float64) {
	return g.width, g.height, g.cellSize
}

// CellSize returns the edge length of one cell in world units.
func (g *Grid) CellSize() float64 { return g.cellSize }

// Origin returns the world position of the corner of cell (0,0).
func (g *Grid) Origin() cp.Vector { return g.origin }

// IsValid reports whether (x, y) lies inside the grid.
func (g *Grid) IsValid(x, y int) bool {
	return x >= 0 && x < g.width && y >= 0 && y < g.height
}

func (g *Grid) index(x, y int) int { return y*g.width + x }

// WorldToGrid floor-divides a world position into cell coordinates.
// ok is false outside [0,width)×[0,height).
func (g *Grid) WorldToGrid(p cp.Vector) (x, y int, ok bool) {
	fx := math.Floor((p.X - g.origin.X) * g.invCellSize)
	fy := math.Floor((p.Y - g.origin.Y) * g.invCellSize)
	if math.IsNaN(fx) || math.IsNaN(fy) {
		return 0, 0, false
	}
	if fx < 0 || fy < 0 || fx >= float64(g.width) || fy >= float64(g.height) {
		return int(fx), int(fy), false
	}
	return int(fx), int(fy), true
}

// GridToWorld returns the center of cell (x, y), or the zero vector for an
// invalid coordinate. Callers must validate first.
func (g *Grid) GridToWorld(x, y int) cp.Vector {
	if !g.IsValid(x, y) {
		return cp.Vector{}
	}
	return g.cells[g.index(x, y)].World
}

// IsWalkable is false for invalid or blocked cells.
func (g *Grid) IsWalkable(x, y int) bool {
	if !g.IsValid(x, y) {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return !g.cells[g.index(x, y)].Blocked
}

// Cell returns a copy of cell (x, y).
func (g *Grid) Cell(x, y int) (Cell, bool) {
	if !g.IsValid(x, y) {
		return Cell{}, false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cells[g.index(x, y)], true
}

// Cells returns a copy of every cell in row-major order.
func (g *Grid) Cells() []Cell {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Cell, len(g.cells))
	copy(out, g.cells)
	return out
}

// SetBlocked updates a cell's blocked flag and occupant and notifies
// listeners with the coordinates. Invalid coordinates are ignored.
func (g *Grid) SetBlocked(x, y int, blocked bool, occupant uint64) {
	if !g.IsValid(x, y) {
		return
	}
	g.mu.Lock()
	c := &g.cells[g.index(x, y)]
	c.Blocked = blocked
	c.Occupant = occupant
	g.mu.Unlock()

	g.publish(CellChange{X: x, Y: y, Blocked: blocked, Occupant: occupant})
}

// SetCost sets the traversal cost multiplier of a cell.
func (g *Grid) SetCost(x, y int, cost float64) error {
	if !g.IsValid(x, y) {
		return ErrOutOfBounds
	}
	if cost <= 0 || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return errors.New("spatial: cell cost must be positive and finite")
	}
	g.mu.Lock()
	g.cells[g.index(x, y)].Cost = cost
	g.mu.Unlock()
	return nil
}

// neighborOffsets enumerates the Moore neighborhood, y offset outer, x inner.
var neighborOffsets = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// Neighbors returns copies of the up to 8 cells around (x, y), clipped to the
// grid. Blocked cells are included.
func (g *Grid) Neighbors(x, y int) []Cell {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Cell, 0, 8)
	for _, idx := range g.appendNeighbors(nil, x, y) {
		out = append(out, g.cells[idx])
	}
	return out
}

// appendNeighbors appends neighbor cell indices to dst. Caller holds mu.
func (g *Grid) appendNeighbors(dst []int, x, y int) []int {
	for _, off := range neighborOffsets {
		nx, ny := x+off[0], y+off[1]
		if nx < 0 || nx >= g.width || ny < 0 || ny >= g.height {
			continue
		}
		dst = append(dst, g.index(nx, ny))
	}
	return dst
}

// =============================================================================
// CHANGE NOTIFICATIONS
// =============================================================================

// OnChange registers a synchronous listener. It runs on the goroutine that
// mutated the grid, after the grid lock is released.
func (g *Grid) OnChange(fn func(CellChange)) (unsubscribe func()) {
	g.listenMu.Lock()
	defer g.listenMu.Unlock()
	g.nextID++
	id := g.nextID
	g.observers = append(g.observers, observer{id: id, fn: fn})

	return func() {
		g.listenMu.Lock()
		defer g.listenMu.Unlock()
		for i, o := range g.observers {
			if o.id == id {
				g.observers = append(g.observers[:i], g.observers[i+1:]...)
				return
			}
		}
	}
}

// Subscribe returns a buffered channel of changes. Sends never block: when
// the buffer is full the change is dropped and counted in Dropped.
func (g *Grid) Subscribe(buffer int) (<-chan CellChange, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan CellChange, buffer)

	g.listenMu.Lock()
	g.nextID++
	id := g.nextID
	g.subscribers = append(g.subscribers, subscriber{id: id, ch: ch})
	g.listenMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			g.listenMu.Lock()
			defer g.listenMu.Unlock()
			for i, s := range g.subscribers {
				if s.id == id {
					g.subscribers = append(g.subscribers[:i], g.subscribers[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Dropped returns how many changes were discarded because a subscriber was full.
func (g *Grid) Dropped() uint64 { return g.dropped.Load() }

func (g *Grid) publish(change CellChange) {
	g.listenMu.Lock()
	observers := make([]observer, len(g.observers))
	copy(observers, g.observers)
	for _, s := range g.subscribers {
		select {
		case s.ch <- change:
		default:
			g.dropped.Add(1)
		}
	}
	g.listenMu.Unlock()

	for _, o := range observers {
		o.fn(change)
	}
}
