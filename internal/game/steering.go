package game

import (
	"math"
	"math/rand"

	"github.com/jakecoffman/cp"

	"autobattle/internal/game/spatial"
)

// coincidentEpsilon: closer than this, two units have no usable away vector.
const coincidentEpsilon = 1e-6

// Update advances the unit by one frame: lunge animation, state machine,
// then movement. Inactive or dead units do nothing.
func (u *Unit) Update(w World, dt float64) {
	if !u.Active || !u.IsAlive() {
		return
	}

	u.updateLunge(dt)

	switch u.State {
	case StateIdle:
		u.updateIdle(w)
	case StateMoving:
		u.updateMoving(w)
	case StateAttacking:
		u.updateAttacking(w)
	}

	u.resolveMovement(w, dt)
}

func (u *Unit) updateIdle(w World) {
	if _, ok := u.lookupTarget(w); !ok {
		u.Target = Handle{}
	}

	target, inRange := u.acquireTarget(w)
	if target == nil {
		u.Target = Handle{}
		return
	}
	u.Target = target.Handle()

	if inRange {
		u.clearPath()
		u.setState(StateAttacking)
		return
	}

	if u.requestPath(w, target.Position()) {
		u.setState(StateMoving)
		return
	}
	// Unreachable for now; rescan next frame.
	u.Target = Handle{}
}

func (u *Unit) updateMoving(w World) {
	target, ok := u.lookupTarget(w)
	if !ok {
		u.Target = Handle{}
		u.clearPath()
		u.setState(StateIdle)
		return
	}

	if EdgeDistance(u.Pos, target) <= u.AttackRange+u.tuning.EngageBuffer {
		u.clearPath()
		u.setState(StateAttacking)
		return
	}

	// Route used up but the target moved on: plan again from here.
	if u.PathIndex >= len(u.Path) {
		if !u.requestPath(w, target.Position()) {
			u.Target = Handle{}
			u.setState(StateIdle)
		}
	}
}

// Repath replans toward the held target. Used when the grid changes under
// the current route. Returns false (and drops to Idle) when no route exists.
func (u *Unit) Repath(w World) bool {
	target, ok := u.lookupTarget(w)
	if !ok || !u.requestPath(w, target.Position()) {
		u.Target = Handle{}
		u.clearPath()
		u.setState(StateIdle)
		return false
	}
	return true
}

// requestPath replaces the current path with a processed route to dest.
func (u *Unit) requestPath(w World, dest cp.Vector) bool {
	raw := w.FindPath(u.Pos, dest)
	u.Path, u.PathIndex = preparePath(raw, u.Pos, w.Rand(), u.tuning.WaypointJitter, u.tuning.SkipFirstSq)
	return len(u.Path) > 0
}

// preparePath jitters every waypoint except the destination by up to
// ±jitter on each axis, then skips the first waypoint when the unit is
// already standing on it.
func preparePath(raw spatial.Path, from cp.Vector, r *rand.Rand, jitter, skipSq float64) (spatial.Path, int) {
	if len(raw) == 0 {
		return nil, 0
	}
	path := make(spatial.Path, len(raw))
	copy(path, raw)

	if jitter > 0 {
		for i := 0; i < len(path)-1; i++ {
			path[i].X += (r.Float64()*2 - 1) * jitter
			path[i].Y += (r.Float64()*2 - 1) * jitter
		}
	}

	start := 0
	if len(path) > 1 && path[0].DistanceSq(from) < skipSq {
		start = 1
	}
	return path, start
}

// =============================================================================
// MOVEMENT RESOLUTION
// =============================================================================

func (u *Unit) resolveMovement(w World, dt float64) {
	velocity := u.seekForce().Add(u.separationForce(w))

	if velocity.LengthSq() < 1e-8 || dt <= 0 {
		u.Velocity = cp.Vector{}
		return
	}
	velocity = velocity.Clamp(u.MoveSpeed * u.tuning.MaxSpeedFactor)
	u.Velocity = velocity

	radius := u.tuning.CollisionRadius
	if hit := u.sweepMove(w, velocity.Mult(dt), radius); hit.Hit {
		// Slide along the obstacle with the velocity projected onto its
		// surface plane.
		slide := velocity.Sub(hit.Normal.Mult(velocity.Dot(hit.Normal)))
		u.sweepMove(w, slide.Mult(dt), radius)
	}

	if velocity.LengthSq() > u.tuning.TurnMinSpeedSq {
		u.Yaw = interpAngle(u.Yaw, math.Atan2(velocity.Y, velocity.X), dt, u.tuning.TurnRate)
	}
}

// seekForce steers toward the current waypoint. The cursor advances once the
// unit is within the reached threshold; the force for this frame still
// points at the waypoint it was heading to.
func (u *Unit) seekForce() cp.Vector {
	if u.State != StateMoving || u.PathIndex >= len(u.Path) {
		return cp.Vector{}
	}
	wp := u.Path[u.PathIndex]
	toward := wp.Sub(u.Pos)

	if u.Pos.DistanceSq(wp) < u.tuning.WaypointReachedSq {
		u.PathIndex++
	}
	if toward.LengthSq() < coincidentEpsilon {
		return cp.Vector{}
	}
	return toward.Normalize().Mult(u.MoveSpeed)
}

// separationForce pushes away from every other living unit closer than the
// separation radius. Magnitude (r-d)/(d+0.1)*strength dominates seek when
// units overlap.
func (u *Unit) separationForce(w World) cp.Vector {
	r := u.tuning.SeparationRadius
	var force cp.Vector

	for _, other := range w.UnitsNear(u.Pos, r) {
		if other == nil || other == u || !other.IsAlive() {
			continue
		}
		away := u.Pos.Sub(other.Pos)
		d := away.Length()
		if d >= r {
			continue
		}

		var dir cp.Vector
		if d < coincidentEpsilon {
			dir = coincidentDirection(u.handle, other.handle)
		} else {
			dir = away.Mult(1 / d)
		}
		force = force.Add(dir.Mult((r - d) / (d + 0.1) * u.tuning.SeparationStrength))
	}
	return force
}

// coincidentDirection picks an away direction for two units at the same
// spot. The pair agrees on an axis and each takes an opposite end of it.
func coincidentDirection(self, other Handle) cp.Vector {
	lo, hi := self, other
	swapped := false
	if other.ID() < self.ID() {
		lo, hi = other, self
		swapped = true
	}
	// Golden-angle hash of the pair keeps different pairs on different axes.
	angle := math.Mod(float64(lo.Index)*2.399963+float64(hi.Index)*0.618034, 2*math.Pi)
	dir := cp.ForAngle(angle)
	if swapped {
		return dir.Neg()
	}
	return dir
}

// sweepSkin keeps a stopped unit this far short of the contact point.
const sweepSkin = 0.01

// sweepMove moves by delta, stopping just short of the first static
// obstacle. The returned hit carries the obstacle normal when blocked.
func (u *Unit) sweepMove(w World, delta cp.Vector, radius float64) SweepHit {
	length := delta.Length()
	if length < coincidentEpsilon {
		return SweepHit{}
	}
	hit := w.Sweep(u.Pos, delta, radius)
	if !hit.Hit {
		u.Pos = u.Pos.Add(delta)
		return hit
	}
	alpha := math.Max(0, hit.Alpha-sweepSkin/length)
	u.Pos = u.Pos.Add(delta.Mult(alpha))
	return hit
}

// interpAngle turns current toward target along the shorter arc, covering
// at most dt*speed of the remaining difference.
func interpAngle(current, target, dt, speed float64) float64 {
	if speed <= 0 {
		return target
	}
	diff := math.Remainder(target-current, 2*math.Pi)
	if math.Abs(diff) < 1e-6 {
		return target
	}
	step := math.Min(1, math.Max(0, dt*speed))
	return math.Remainder(current+diff*step, 2*math.Pi)
}
