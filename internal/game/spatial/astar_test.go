package spatial

import (
	"testing"

	"github.com/jakecoffman/cp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func cellOf(t testing.TB, g *Grid, p cp.Vector) [2]int {
	x, y, ok := g.WorldToGrid(p)
	require.True(t, ok, "waypoint %v outside grid", p)
	return [2]int{x, y}
}

func assertAdjacent(t *testing.T, g *Grid, path Path) {
	for i := 1; i < len(path); i++ {
		a, b := cellOf(t, g, path[i-1]), cellOf(t, g, path[i])
		dx, dy := a[0]-b[0], a[1]-b[1]
		assert.True(t, dx >= -1 && dx <= 1 && dy >= -1 && dy <= 1 && (dx != 0 || dy != 0),
			"waypoints %d and %d are not 8-adjacent: %v %v", i-1, i, a, b)
	}
}

// TestFindPathOpenGrid walks the diagonal of an empty 10x10 grid
func TestFindPathOpenGrid(t *testing.T) {
	g := newTestGrid(t, 10, 10)
	planner := NewPlanner(g)

	path, stats := planner.FindPath(cp.Vector{X: 50, Y: 50}, cp.Vector{X: 950, Y: 950})

	require.Equal(t, SearchFound, stats.Result)
	require.GreaterOrEqual(t, len(path), 9)
	assert.Len(t, path, 10, "the diagonal is the only cheapest route")
	assert.Equal(t, cp.Vector{X: 50, Y: 50}, path[0])
	assert.Equal(t, cp.Vector{X: 950, Y: 950}, path[len(path)-1])
	assertAdjacent(t, g, path)
	assert.Positive(t, stats.Expanded)
}

// TestFindPathDetoursAroundBlockedCell verifies the path never enters a blocked cell
func TestFindPathDetoursAroundBlockedCell(t *testing.T) {
	g := newTestGrid(t, 10, 10)
	g.SetBlocked(5, 5, true, 0)
	planner := NewPlanner(g)

	path, stats := planner.FindPath(g.GridToWorld(2, 5), g.GridToWorld(8, 5))

	require.Equal(t, SearchFound, stats.Result)
	require.NotEmpty(t, path)
	for _, wp := range path {
		assert.NotEqual(t, [2]int{5, 5}, cellOf(t, g, wp))
	}
	assert.Equal(t, g.GridToWorld(8, 5), path[len(path)-1])
	assertAdjacent(t, g, path)
}

// TestFindPathAroundWall forces the route through the single gap at (5,9)
func TestFindPathAroundWall(t *testing.T) {
	g := newTestGrid(t, 10, 10)
	for y := 0; y <= 8; y++ {
		g.SetBlocked(5, y, true, 0)
	}
	planner := NewPlanner(g)

	path, _ := planner.FindPath(g.GridToWorld(0, 0), g.GridToWorld(9, 0))
	require.NotEmpty(t, path)

	throughGap := false
	for _, wp := range path {
		c := cellOf(t, g, wp)
		if c[0] == 5 {
			assert.Equal(t, 9, c[1], "only (5,9) is open in column 5")
			throughGap = true
		}
	}
	assert.True(t, throughGap)
	assertAdjacent(t, g, path)
}

// TestFindPathRejectedRequests covers invalid endpoints and blocked destinations
func TestFindPathRejectedRequests(t *testing.T) {
	g := newTestGrid(t, 10, 10)
	g.SetBlocked(4, 4, true, 0)
	planner := NewPlanner(g)

	tests := []struct {
		name       string
		start, end cp.Vector
	}{
		{"end beyond bounds", cp.Vector{X: 50, Y: 50}, cp.Vector{X: 1500, Y: 50}},
		{"start beyond bounds", cp.Vector{X: -10, Y: 50}, cp.Vector{X: 50, Y: 50}},
		{"end blocked", cp.Vector{X: 50, Y: 50}, g.GridToWorld(4, 4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, stats := planner.FindPath(tt.start, tt.end)
			assert.Empty(t, path)
			assert.Equal(t, SearchInvalid, stats.Result)
			assert.Zero(t, stats.Expanded)
		})
	}
}

// TestRejectedRequestLeavesScratchState verifies no observable scratch mutation
func TestRejectedRequestLeavesScratchState(t *testing.T) {
	g := newTestGrid(t, 10, 10)
	planner := NewPlanner(g)

	first, _ := planner.FindPath(g.GridToWorld(0, 0), g.GridToWorld(7, 3))
	require.NotEmpty(t, first)
	before := g.Cells()

	path, _ := planner.FindPath(g.GridToWorld(0, 0), cp.Vector{X: 5000, Y: 5000})
	assert.Empty(t, path)
	assert.Equal(t, before, g.Cells())

	again, _ := planner.FindPath(g.GridToWorld(0, 0), g.GridToWorld(7, 3))
	assert.Equal(t, first, again)
}

// TestFindPathEnclosedDestination returns no route for a walled-in cell
func TestFindPathEnclosedDestination(t *testing.T) {
	g := newTestGrid(t, 10, 10)
	for _, c := range g.Neighbors(7, 7) {
		g.SetBlocked(c.X, c.Y, true, 0)
	}
	planner := NewPlanner(g)

	path, stats := planner.FindPath(g.GridToWorld(0, 0), g.GridToWorld(7, 7))
	assert.Empty(t, path)
	assert.Equal(t, SearchNoRoute, stats.Result)
	assert.Positive(t, stats.Expanded)
}

// TestFindPathSameCell returns the single shared center
func TestFindPathSameCell(t *testing.T) {
	g := newTestGrid(t, 5, 5)
	planner := NewPlanner(g)

	path, stats := planner.FindPath(cp.Vector{X: 210, Y: 220}, cp.Vector{X: 290, Y: 280})
	assert.Equal(t, SearchFound, stats.Result)
	assert.Equal(t, Path{{X: 250, Y: 250}}, path)
}

// TestFindPathFromBlockedStart lets a unit walk off a freshly placed building
func TestFindPathFromBlockedStart(t *testing.T) {
	g := newTestGrid(t, 5, 5)
	g.SetBlocked(0, 0, true, 0)
	planner := NewPlanner(g)

	path, _ := planner.FindPath(g.GridToWorld(0, 0), g.GridToWorld(3, 0))
	require.NotEmpty(t, path)
	assert.Equal(t, g.GridToWorld(0, 0), path[0])
}

// TestFindPathAvoidsExpensiveCells checks costs steer the route
func TestFindPathAvoidsExpensiveCells(t *testing.T) {
	g := newTestGrid(t, 5, 3)
	for x := 1; x <= 3; x++ {
		require.NoError(t, g.SetCost(x, 1, 10))
	}
	planner := NewPlanner(g)

	path, _ := planner.FindPath(g.GridToWorld(0, 1), g.GridToWorld(4, 1))
	require.NotEmpty(t, path)
	for _, wp := range path[1 : len(path)-1] {
		assert.NotEqual(t, 1, cellOf(t, g, wp)[1], "middle row is expensive")
	}
}

// reachable is a plain BFS over the 8-neighborhood.
func reachable(g *Grid, sx, sy, ex, ey int) bool {
	w, h, _ := g.Dimensions()
	seen := make([]bool, w*h)
	queue := [][2]int{{sx, sy}}
	seen[sy*w+sx] = true
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if c[0] == ex && c[1] == ey {
			return true
		}
		for _, n := range g.Neighbors(c[0], c[1]) {
			if n.Blocked || seen[n.Y*w+n.X] {
				continue
			}
			seen[n.Y*w+n.X] = true
			queue = append(queue, [2]int{n.X, n.Y})
		}
	}
	return false
}

func drawGrid(t *rapid.T) *Grid {
	w := rapid.IntRange(2, 16).Draw(t, "w")
	h := rapid.IntRange(2, 16).Draw(t, "h")
	g, err := NewGrid(w, h, 100, cp.Vector{})
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	blocked := rapid.SliceOfN(rapid.IntRange(0, w*h-1), 0, w*h/3).Draw(t, "blocked")
	for _, idx := range blocked {
		g.SetBlocked(idx%w, idx/w, true, 0)
	}
	for i := 0; i < w*h; i++ {
		cost := rapid.Float64Range(1, 5).Draw(t, "cost")
		_ = g.SetCost(i%w, i/w, cost)
	}
	return g
}

// TestFindPathProperties checks endpoints, adjacency, blocked cells and reachability
func TestFindPathProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		g := drawGrid(rt)
		w, h, _ := g.Dimensions()
		sx, sy := rapid.IntRange(0, w-1).Draw(rt, "sx"), rapid.IntRange(0, h-1).Draw(rt, "sy")
		ex, ey := rapid.IntRange(0, w-1).Draw(rt, "ex"), rapid.IntRange(0, h-1).Draw(rt, "ey")

		planner := NewPlanner(g)
		path, stats := planner.FindPath(g.GridToWorld(sx, sy), g.GridToWorld(ex, ey))

		if !g.IsWalkable(ex, ey) {
			if len(path) != 0 || stats.Result != SearchInvalid {
				rt.Fatalf("blocked destination produced %v", path)
			}
			return
		}
		if reachable(g, sx, sy, ex, ey) != (len(path) > 0) {
			rt.Fatalf("reachability mismatch: path len %d", len(path))
		}
		if len(path) == 0 {
			return
		}
		if path[0] != g.GridToWorld(sx, sy) || path[len(path)-1] != g.GridToWorld(ex, ey) {
			rt.Fatalf("endpoints %v..%v", path[0], path[len(path)-1])
		}
		for i, wp := range path {
			x, y, ok := g.WorldToGrid(wp)
			if !ok {
				rt.Fatalf("waypoint %d outside grid", i)
			}
			if i > 0 && !g.IsWalkable(x, y) {
				rt.Fatalf("waypoint %d in blocked cell (%d,%d)", i, x, y)
			}
		}

		again, _ := planner.FindPath(g.GridToWorld(sx, sy), g.GridToWorld(ex, ey))
		if len(again) != len(path) {
			rt.Fatalf("repeat search differs: %d vs %d", len(again), len(path))
		}
		for i := range path {
			if again[i] != path[i] {
				rt.Fatalf("repeat search differs at %d", i)
			}
		}
	})
}

// TestFindPathCostMonotonic raising a traversed cell's cost never lowers the path cost
func TestFindPathCostMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		g := drawGrid(rt)
		w, h, _ := g.Dimensions()
		sx, sy := rapid.IntRange(0, w-1).Draw(rt, "sx"), rapid.IntRange(0, h-1).Draw(rt, "sy")
		ex, ey := rapid.IntRange(0, w-1).Draw(rt, "ex"), rapid.IntRange(0, h-1).Draw(rt, "ey")

		planner := NewPlanner(g)
		path, _ := planner.FindPath(g.GridToWorld(sx, sy), g.GridToWorld(ex, ey))
		if len(path) < 2 {
			return
		}
		before := planner.Cost(path)

		pick := rapid.IntRange(1, len(path)-1).Draw(rt, "pick")
		x, y, _ := g.WorldToGrid(path[pick])
		c, _ := g.Cell(x, y)
		bump := rapid.Float64Range(0, 10).Draw(rt, "bump")
		if err := g.SetCost(x, y, c.Cost+bump); err != nil {
			rt.Fatalf("SetCost: %v", err)
		}

		next, _ := planner.FindPath(g.GridToWorld(sx, sy), g.GridToWorld(ex, ey))
		if len(next) == 0 {
			rt.Fatalf("raising a cost must not disconnect the grid")
		}
		if after := planner.Cost(next); after < before-1e-6 {
			rt.Fatalf("cost decreased: %.3f -> %.3f", before, after)
		}
	})
}
