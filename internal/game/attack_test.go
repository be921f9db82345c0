package game

import (
	"math"
	"testing"

	"github.com/jakecoffman/cp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"autobattle/internal/config"
)

// TestAttackDealsDamageAndLunges covers the first strike of an engagement
func TestAttackDealsDamageAndLunges(t *testing.T) {
	u := newTestUnit(1, TeamPlayer, cp.Vector{})
	enemy := newTestUnit(2, TeamEnemy, cp.Vector{X: 100, Y: 100})
	w := newFakeWorld(u, enemy)
	u.Activate(true)

	w.step(frame) // Idle -> Attacking
	require.Equal(t, StateAttacking, u.State)
	w.step(frame) // first strike

	require.Len(t, w.hits, 1)
	assert.Equal(t, enemy.Handle(), w.hits[0].target)
	assert.Equal(t, u.Handle(), w.hits[0].source)
	assert.Equal(t, 90.0, enemy.HP)
	assert.Equal(t, 1, u.Attacks)
	assert.InDelta(t, math.Pi/4, u.Yaw, 1e-9, "snaps to face the target")
	assert.True(t, u.Lunging)

	w.step(frame) // inside the interval
	assert.Len(t, w.hits, 1)
}

// TestLungeCycle rises to the lunge distance and settles back to rest
func TestLungeCycle(t *testing.T) {
	u := newTestUnit(1, TeamPlayer, cp.Vector{})
	u.startLunge()

	peak := 0.0
	for i := 0; i < 100 && u.Lunging; i++ {
		u.updateLunge(0.01)
		peak = math.Max(peak, u.LungeOffset)
		assert.GreaterOrEqual(t, u.LungeOffset, 0.0)
	}
	assert.False(t, u.Lunging)
	assert.Zero(t, u.LungeOffset)
	assert.InDelta(t, u.tuning.LungeDistance, peak, 0.5)

	u.Yaw = math.Pi / 2
	u.LungeOffset = 10
	mesh := u.MeshPosition()
	assert.InDelta(t, 0, mesh.X, 1e-9)
	assert.InDelta(t, 10, mesh.Y, 1e-9)
}

// TestAttackingTargetLeavesRange chases with a fresh path
func TestAttackingTargetLeavesRange(t *testing.T) {
	u := newTestUnit(1, TeamPlayer, cp.Vector{})
	enemy := newTestUnit(2, TeamEnemy, cp.Vector{X: 150})
	w := newFakeWorld(u, enemy)
	u.Activate(true)

	u.Update(w, frame)
	require.Equal(t, StateAttacking, u.State)

	// Still inside range + disengage buffer: keep attacking.
	enemy.Pos = cp.Vector{X: 230}
	u.Update(w, frame)
	assert.Equal(t, StateAttacking, u.State)

	enemy.Pos = cp.Vector{X: 600}
	u.Update(w, frame)
	assert.Equal(t, StateMoving, u.State)
	assert.Equal(t, enemy.Handle(), u.Target)
	assert.NotEmpty(t, u.Path)
}

// TestAttackingTargetDies returns to Idle
func TestAttackingTargetDies(t *testing.T) {
	u := newTestUnit(1, TeamPlayer, cp.Vector{})
	enemy := newTestUnit(2, TeamEnemy, cp.Vector{X: 100})
	w := newFakeWorld(u, enemy)
	u.Activate(true)
	u.Update(w, frame)
	require.Equal(t, StateAttacking, u.State)

	enemy.HP = 0
	u.Update(w, frame)
	assert.Equal(t, StateIdle, u.State)
	assert.True(t, u.Target.IsZero())
}

// TestAttackIntervalRespected: strikes never come faster than the interval
func TestAttackIntervalRespected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		u := newTestUnit(1, TeamPlayer, cp.Vector{})
		u.AttackInterval = rapid.Float64Range(0.1, 2).Draw(t, "interval")
		enemy := newTestUnit(2, TeamEnemy, cp.Vector{X: 100})
		enemy.HP = math.Inf(1)
		w := newFakeWorld(u, enemy)
		u.Activate(true)

		steps := rapid.IntRange(1, 300).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			w.step(rapid.Float64Range(0.001, 0.25).Draw(t, "dt"))
		}

		for i := 1; i < len(w.hits); i++ {
			if gap := w.hits[i].at - w.hits[i-1].at; gap < u.AttackInterval-1e-9 {
				t.Fatalf("strikes %d and %d only %.4fs apart (interval %.4f)", i-1, i, gap, u.AttackInterval)
			}
		}
	})
}

// TestSplashHitsNearbyHostiles damages the target plus enemies in radius
func TestSplashHitsNearbyHostiles(t *testing.T) {
	bomber := NewUnit(handle(1), Archetypes["bomber"], TeamPlayer, cp.Vector{}, nil)
	target := newTestUnit(2, TeamEnemy, cp.Vector{X: 100})
	near := newTestUnit(3, TeamEnemy, cp.Vector{X: 180})
	far := newTestUnit(4, TeamEnemy, cp.Vector{X: 400})
	friend := newTestUnit(5, TeamPlayer, cp.Vector{X: 120})
	w := newFakeWorld(bomber, target, near, far, friend)

	SplashAttack{Radius: 120}.PerformAttack(w, bomber, target)

	assert.Equal(t, 60.0, target.HP)
	assert.Equal(t, 60.0, near.HP)
	assert.Equal(t, 100.0, far.HP)
	assert.Equal(t, 100.0, friend.HP)
	assert.Len(t, w.hits, 2)
}

// TestGiantPrefersBuildings skips a closer unit while buildings stand
func TestGiantPrefersBuildings(t *testing.T) {
	giant := NewUnit(handle(1), Archetypes["giant"], TeamPlayer, cp.Vector{}, nil)
	enemy := newTestUnit(2, TeamEnemy, cp.Vector{X: 300})
	b := NewBuilding(handle(3), BuildingKinds["cannon"], TeamEnemy, 9, 0, cp.Vector{X: 950, Y: 50}, 100, config.DefaultEconomy())
	w := newFakeWorld(giant, enemy, b)

	target, inRange := giant.acquireTarget(w)
	require.NotNil(t, target)
	assert.Equal(t, b.Handle(), target.Handle())
	assert.False(t, inRange)

	b.HP = 0
	target, _ = giant.acquireTarget(w)
	require.NotNil(t, target)
	assert.Equal(t, enemy.Handle(), target.Handle(), "falls back to units")
}
