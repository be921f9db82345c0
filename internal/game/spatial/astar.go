package spatial

import (
	"math"
	"time"

	"github.com/jakecoffman/cp"
	"github.com/zyedidia/generic/mapset"
)

// HeuristicScale multiplies the Manhattan distance in grid units.
//
// The heuristic mixes grid units with world-unit step costs, so it is only
// admissible when cellSize*minCost >= 2*HeuristicScale. Paths are advisory
// waypoints for steering and the approximation is kept as is.
const HeuristicScale = 10.0

// Path is an ordered list of world waypoints. Empty means "no route".
type Path []cp.Vector

// SearchResult classifies how a search ended.
type SearchResult uint8

const (
	SearchFound SearchResult = iota
	SearchNoRoute
	SearchInvalid
)

func (r SearchResult) String() string {
	switch r {
	case SearchFound:
		return "found"
	case SearchNoRoute:
		return "no_route"
	case SearchInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// SearchStats describes one FindPath call.
type SearchStats struct {
	Result   SearchResult
	Expanded int
	Duration time.Duration
}

// Planner runs A* over a Grid. It keeps reusable buffers, so one Planner must
// not be shared by concurrent searches; the grid lock serializes them anyway.
type Planner struct {
	grid      *Grid
	open      []int
	inOpen    []bool
	neighbors []int
}

// NewPlanner creates a planner bound to grid.
func NewPlanner(grid *Grid) *Planner {
	return &Planner{
		grid:      grid,
		open:      make([]int, 0, 64),
		inOpen:    make([]bool, len(grid.cells)),
		neighbors: make([]int, 0, 8),
	}
}

// Grid returns the grid the planner searches.
func (p *Planner) Grid() *Grid { return p.grid }

func heuristic(a, b *Cell) float64 {
	return (math.Abs(float64(a.X-b.X)) + math.Abs(float64(a.Y-b.Y))) * HeuristicScale
}

// FindPath searches from the cell containing start to the cell containing
// end and returns the cell centers in start→end order.
//
// An out-of-bounds endpoint or a blocked destination yields an empty path
// without touching any cell's scratch state. A blocked start is allowed so
// units standing on a freshly placed building can still walk off it.
func (p *Planner) FindPath(start, end cp.Vector) (Path, SearchStats) {
	began := time.Now()
	g := p.grid

	sx, sy, okStart := g.WorldToGrid(start)
	ex, ey, okEnd := g.WorldToGrid(end)
	if !okStart || !okEnd {
		return nil, SearchStats{Result: SearchInvalid, Duration: time.Since(began)}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	endIdx := g.index(ex, ey)
	if g.cells[endIdx].Blocked {
		return nil, SearchStats{Result: SearchInvalid, Duration: time.Since(began)}
	}
	startIdx := g.index(sx, sy)

	p.reset()

	cells := g.cells
	target := &cells[endIdx]
	cells[startIdx].H = heuristic(&cells[startIdx], target)
	p.push(startIdx)

	closed := mapset.New[int]()
	expanded := 0

	for len(p.open) > 0 {
		// Linear scan with strict < keeps the earliest inserted on ties.
		best := 0
		for i := 1; i < len(p.open); i++ {
			if cells[p.open[i]].F() < cells[p.open[best]].F() {
				best = i
			}
		}
		currentIdx := p.open[best]
		p.open = append(p.open[:best], p.open[best+1:]...)
		p.inOpen[currentIdx] = false
		closed.Put(currentIdx)
		expanded++

		if currentIdx == endIdx {
			path := p.reconstruct(startIdx, endIdx)
			return path, SearchStats{Result: SearchFound, Expanded: expanded, Duration: time.Since(began)}
		}

		current := &cells[currentIdx]
		p.neighbors = g.appendNeighbors(p.neighbors[:0], current.X, current.Y)
		for _, nIdx := range p.neighbors {
			neighbor := &cells[nIdx]
			if neighbor.Blocked || closed.Has(nIdx) {
				continue
			}

			tentative := current.G + current.World.Distance(neighbor.World)*neighbor.Cost
			if tentative < neighbor.G || !p.inOpen[nIdx] {
				neighbor.G = tentative
				neighbor.H = heuristic(neighbor, target)
				neighbor.Parent = currentIdx
				if !p.inOpen[nIdx] {
					p.push(nIdx)
				}
			}
		}
	}

	return nil, SearchStats{Result: SearchNoRoute, Expanded: expanded, Duration: time.Since(began)}
}

// reset clears every cell's scratch fields. Caller holds the grid lock.
func (p *Planner) reset() {
	cells := p.grid.cells
	if len(p.inOpen) != len(cells) {
		p.inOpen = make([]bool, len(cells))
	}
	for i := range cells {
		cells[i].G = 0
		cells[i].H = 0
		cells[i].Parent = -1
		p.inOpen[i] = false
	}
	p.open = p.open[:0]
}

func (p *Planner) push(idx int) {
	p.open = append(p.open, idx)
	p.inOpen[idx] = true
}

func (p *Planner) reconstruct(startIdx, endIdx int) Path {
	cells := p.grid.cells

	var path Path
	for idx := endIdx; ; idx = cells[idx].Parent {
		path = append(path, cells[idx].World)
		if idx == startIdx || cells[idx].Parent < 0 {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Cost sums distance×cost along a path using the current grid state. The
// first waypoint's own cost is not counted, matching how FindPath scores.
func (p *Planner) Cost(path Path) float64 {
	g := p.grid
	g.mu.RLock()
	defer g.mu.RUnlock()

	total := 0.0
	for i := 1; i < len(path); i++ {
		x, y, ok := g.WorldToGrid(path[i])
		if !ok {
			return math.Inf(1)
		}
		total += path[i-1].Distance(path[i]) * g.cells[g.index(x, y)].Cost
	}
	return total
}
