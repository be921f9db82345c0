package game

import (
	"math"
	"math/rand"
	"testing"

	"github.com/jakecoffman/cp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"autobattle/internal/game/spatial"
)

const frame = 1.0 / 30.0

// TestInactiveUnitDoesNothing verifies inactive units neither think nor move
func TestInactiveUnitDoesNothing(t *testing.T) {
	u := newTestUnit(1, TeamPlayer, cp.Vector{X: 100, Y: 100})
	enemy := newTestUnit(2, TeamEnemy, cp.Vector{X: 120, Y: 100})
	w := newFakeWorld(u, enemy)

	u.Update(w, frame)

	assert.Equal(t, StateIdle, u.State)
	assert.True(t, u.Target.IsZero())
	assert.Equal(t, cp.Vector{X: 100, Y: 100}, u.Pos)
	assert.Zero(t, w.searches)
}

// TestIdleAcquiresNearestAndMoves picks the closest enemy out of range
func TestIdleAcquiresNearestAndMoves(t *testing.T) {
	u := newTestUnit(1, TeamPlayer, cp.Vector{})
	far := newTestUnit(2, TeamEnemy, cp.Vector{X: 900})
	near := newTestUnit(3, TeamEnemy, cp.Vector{X: 600})
	friend := newTestUnit(4, TeamPlayer, cp.Vector{X: 300})
	w := newFakeWorld(u, far, near, friend)

	u.Activate(true)
	u.Update(w, frame)

	assert.Equal(t, StateMoving, u.State)
	assert.Equal(t, near.Handle(), u.Target)
	require.NotEmpty(t, u.Path)
	assert.Equal(t, near.Pos, u.Path[len(u.Path)-1], "final waypoint is never jittered")
}

// TestIdleInRangeAttacksImmediately skips Moving when already in range
func TestIdleInRangeAttacksImmediately(t *testing.T) {
	u := newTestUnit(1, TeamPlayer, cp.Vector{})
	enemy := newTestUnit(2, TeamEnemy, cp.Vector{X: 180}) // 180 <= 150 + 40
	w := newFakeWorld(u, enemy)

	u.Activate(true)
	u.Update(w, frame)

	assert.Equal(t, StateAttacking, u.State)
	assert.Equal(t, enemy.Handle(), u.Target)
	assert.Empty(t, u.Path)
	assert.Zero(t, w.searches)
}

// TestIdleIgnoresInvalidTargets covers dead, untargetable and friendly units
func TestIdleIgnoresInvalidTargets(t *testing.T) {
	u := newTestUnit(1, TeamPlayer, cp.Vector{})
	dead := newTestUnit(2, TeamEnemy, cp.Vector{X: 100})
	dead.HP = 0
	hidden := newTestUnit(3, TeamEnemy, cp.Vector{X: 100})
	hidden.Targetable = false
	friend := newTestUnit(4, TeamPlayer, cp.Vector{X: 500})
	w := newFakeWorld(u, dead, hidden, friend)

	u.Activate(true)
	u.Update(w, frame)

	assert.Equal(t, StateIdle, u.State)
	assert.True(t, u.Target.IsZero())
}

// TestMovingEntersAttackRange: range 150, target 200 away with radius 50
func TestMovingEntersAttackRange(t *testing.T) {
	u := newTestUnit(1, TeamPlayer, cp.Vector{})
	target := newTestUnit(2, TeamEnemy, cp.Vector{X: 200})
	target.Radius = 50
	w := newFakeWorld(u, target)

	u.Activate(true)
	u.Target = target.Handle()
	u.Path = spatial.Path{target.Pos}
	u.setState(StateMoving)

	u.Update(w, frame)

	assert.Equal(t, StateAttacking, u.State)
	assert.Empty(t, u.Path)
}

// TestMovingLosesTarget drops back to Idle when the target dies
func TestMovingLosesTarget(t *testing.T) {
	u := newTestUnit(1, TeamPlayer, cp.Vector{})
	target := newTestUnit(2, TeamEnemy, cp.Vector{X: 800})
	w := newFakeWorld(u, target)

	u.Activate(true)
	u.Update(w, frame)
	require.Equal(t, StateMoving, u.State)

	target.HP = 0
	w.entities = w.entities[:1] // destroyed and removed
	u.Update(w, frame)

	assert.Equal(t, StateIdle, u.State)
	assert.True(t, u.Target.IsZero())
	assert.Empty(t, u.Path)
}

// TestEnclosedTargetStaysIdle: no route means no Moving and no target
func TestEnclosedTargetStaysIdle(t *testing.T) {
	g, err := spatial.NewGrid(10, 10, 100, cp.Vector{})
	require.NoError(t, err)
	// Ring around (7,7).
	for y := 6; y <= 8; y++ {
		for x := 6; x <= 8; x++ {
			if x != 7 || y != 7 {
				g.SetBlocked(x, y, true, 0)
			}
		}
	}

	u := newTestUnit(1, TeamPlayer, g.GridToWorld(1, 1))
	target := newTestUnit(2, TeamEnemy, g.GridToWorld(7, 7))
	w := newFakeWorld(u, target)
	w.paths = plannerPaths(t, g)

	u.Activate(true)
	for i := 0; i < 3; i++ {
		u.Update(w, frame)
		assert.Equal(t, StateIdle, u.State)
		assert.True(t, u.Target.IsZero(), "target is cleared so the next frame rescans")
	}
	assert.Equal(t, 3, w.searches)
	assert.Equal(t, g.GridToWorld(1, 1), u.Pos)
}

// TestCoincidentUnitsSeparate: two units on the same spot part after a frame
func TestCoincidentUnitsSeparate(t *testing.T) {
	a := newTestUnit(1, TeamPlayer, cp.Vector{X: 500, Y: 500})
	b := newTestUnit(2, TeamPlayer, cp.Vector{X: 500, Y: 500})
	w := newFakeWorld(a, b)
	a.Activate(true)
	b.Activate(true)

	w.step(frame)

	assert.Greater(t, a.Pos.Distance(b.Pos), 1.0)
}

// TestCoincidentDirectionAntisymmetric pairs always push apart
func TestCoincidentDirectionAntisymmetric(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := Handle{Index: rapid.Uint32Range(0, 1000).Draw(t, "ai"), Gen: rapid.Uint32Range(1, 50).Draw(t, "ag")}
		b := Handle{Index: rapid.Uint32Range(0, 1000).Draw(t, "bi"), Gen: rapid.Uint32Range(1, 50).Draw(t, "bg")}
		if a == b {
			b.Gen++
		}
		da := coincidentDirection(a, b)
		db := coincidentDirection(b, a)
		if math.Abs(da.X+db.X) > 1e-9 || math.Abs(da.Y+db.Y) > 1e-9 {
			t.Fatalf("directions %v and %v are not opposite", da, db)
		}
		if math.Abs(da.Length()-1) > 1e-9 {
			t.Fatalf("direction %v is not unit length", da)
		}
	})
}

// TestSeparationIncreasesDistance: any overlapping pair moves apart
func TestSeparationIncreasesDistance(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := rapid.Float64Range(0, 79).Draw(t, "d")
		angle := rapid.Float64Range(0, 2*math.Pi).Draw(t, "angle")

		origin := cp.Vector{X: 1000, Y: 1000}
		a := newTestUnit(1, TeamPlayer, origin)
		b := newTestUnit(2, TeamPlayer, origin.Add(cp.ForAngle(angle).Mult(d)))
		w := newFakeWorld(a, b)
		a.Activate(true)
		b.Activate(true)

		before := a.Pos.Distance(b.Pos)
		w.step(frame)
		after := a.Pos.Distance(b.Pos)
		if after <= before {
			t.Fatalf("distance shrank from %.6f to %.6f", before, after)
		}
	})
}

// TestVelocityClamped caps speed at twice the move speed
func TestVelocityClamped(t *testing.T) {
	a := newTestUnit(1, TeamPlayer, cp.Vector{X: 500, Y: 500})
	b := newTestUnit(2, TeamPlayer, cp.Vector{X: 501, Y: 500})
	w := newFakeWorld(a, b)
	a.Activate(true)

	a.Update(w, frame)

	assert.InDelta(t, 2*a.MoveSpeed, a.Velocity.Length(), 1e-6)
	assert.Less(t, a.Pos.X, 500.0)
}

// TestSeekAdvancesWaypoints walks a unit along a two-point route
func TestSeekAdvancesWaypoints(t *testing.T) {
	u := newTestUnit(1, TeamPlayer, cp.Vector{})
	target := newTestUnit(2, TeamEnemy, cp.Vector{X: 2000})
	w := newFakeWorld(u, target)
	u.MoveSpeed = 300

	u.Activate(true)
	u.Target = target.Handle()
	u.Path = spatial.Path{{X: 20, Y: 0}, {X: 1000, Y: 0}}
	u.setState(StateMoving)

	u.Update(w, frame)
	assert.Equal(t, 1, u.PathIndex, "first waypoint is within 30 units")
	assert.InDelta(t, 10, u.Pos.X, 1e-6)
	assert.InDelta(t, 0, u.Pos.Y, 1e-6)
	assert.InDelta(t, 0, u.Yaw, 1e-9)
}

// TestSweepSlidesAlongWall stops at a wall and keeps the tangential motion
func TestSweepSlidesAlongWall(t *testing.T) {
	const wallX = 100.0
	u := newTestUnit(1, TeamPlayer, cp.Vector{X: 75, Y: 50})
	target := newTestUnit(2, TeamEnemy, cp.Vector{X: 2000, Y: 2000})
	w := newFakeWorld(u, target)
	w.sweep = func(from, delta cp.Vector, radius float64) SweepHit {
		limit := wallX - radius
		if delta.X <= 0 || from.X+delta.X <= limit {
			return SweepHit{}
		}
		return SweepHit{Hit: true, Alpha: (limit - from.X) / delta.X, Normal: cp.Vector{X: -1}}
	}

	u.Activate(true)
	u.Target = target.Handle()
	u.Path = spatial.Path{{X: 375, Y: 350}}
	u.setState(StateMoving)

	u.Update(w, 0.1)

	assert.Less(t, u.Pos.X, wallX-u.tuning.CollisionRadius)
	assert.Greater(t, u.Pos.X, wallX-u.tuning.CollisionRadius-0.1)
	// 45° heading: the slide keeps the full Y component for the frame.
	vy := u.MoveSpeed * math.Sqrt2 / 2
	assert.Greater(t, u.Pos.Y, 50+vy*0.1)
}

// TestPreparePath covers jitter bounds and first-waypoint skipping
func TestPreparePath(t *testing.T) {
	raw := spatial.Path{{X: 50, Y: 50}, {X: 150, Y: 150}, {X: 250, Y: 250}}
	r := rand.New(rand.NewSource(7))

	path, start := preparePath(raw, cp.Vector{X: 900, Y: 900}, r, 40, 2500)
	require.Len(t, path, 3)
	assert.Equal(t, 0, start)
	assert.Equal(t, raw[2], path[2])
	for i := 0; i < 2; i++ {
		assert.LessOrEqual(t, math.Abs(path[i].X-raw[i].X), 40.0)
		assert.LessOrEqual(t, math.Abs(path[i].Y-raw[i].Y), 40.0)
	}
	assert.Equal(t, spatial.Path{{X: 50, Y: 50}, {X: 150, Y: 150}, {X: 250, Y: 250}}, raw, "input is not modified")

	_, start = preparePath(raw, cp.Vector{X: 60, Y: 40}, r, 0, 2500)
	assert.Equal(t, 1, start, "unit stands on the first waypoint")

	single, start := preparePath(spatial.Path{{X: 5, Y: 5}}, cp.Vector{X: 5, Y: 5}, r, 40, 2500)
	assert.Equal(t, spatial.Path{{X: 5, Y: 5}}, single, "lone destination keeps its exact position")
	assert.Equal(t, 0, start)

	empty, _ := preparePath(nil, cp.Vector{}, r, 40, 2500)
	assert.Empty(t, empty)
}

// TestInterpAngle turns along the shorter arc
func TestInterpAngle(t *testing.T) {
	tests := []struct {
		name            string
		current, target float64
		dt, speed       float64
		want            float64
	}{
		{"full step", 0, 1, 1, 10, 1},
		{"partial", 0, 1, 0.05, 10, 0.5},
		{"wraps across pi", math.Pi - 0.1, -math.Pi + 0.1, 0.05, 10, math.Pi},
		{"already there", 2, 2, 0.1, 10, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := interpAngle(tt.current, tt.target, tt.dt, tt.speed)
			assert.InDelta(t, 0, math.Remainder(got-tt.want, 2*math.Pi), 1e-9)
		})
	}
}
