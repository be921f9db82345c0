package game

import "math"

// updateAttacking runs the attack routine for one frame.
func (u *Unit) updateAttacking(w World) {
	target, ok := u.lookupTarget(w)
	if !ok {
		u.Target = Handle{}
		u.setState(StateIdle)
		return
	}

	if EdgeDistance(u.Pos, target) > u.AttackRange+u.tuning.DisengageBuffer {
		if u.requestPath(w, target.Position()) {
			u.setState(StateMoving)
		} else {
			u.Target = Handle{}
			u.setState(StateIdle)
		}
		return
	}

	now := w.Now()
	if now-u.LastAttackTime < u.AttackInterval {
		return
	}

	attack := Attacker(MeleeAttack{})
	if u.Archetype != nil && u.Archetype.Attack != nil {
		attack = u.Archetype.Attack
	}
	attack.PerformAttack(w, u, target)

	u.LastAttackTime = now
	u.Attacks++

	// Snap to face the target, yaw only.
	if d := target.Position().Sub(u.Pos); d.LengthSq() > 0 {
		u.Yaw = math.Atan2(d.Y, d.X)
	}
	u.startLunge()
}

func (u *Unit) startLunge() {
	u.Lunging = true
	u.LungePhase = 0
	u.LungeOffset = 0
}

// updateLunge advances the half-sine lunge. The offset rises to
// LungeDistance at phase π/2 and returns to rest at π.
func (u *Unit) updateLunge(dt float64) {
	if !u.Lunging {
		return
	}
	u.LungePhase += dt * u.tuning.LungeSpeed
	if u.LungePhase >= math.Pi {
		u.Lunging = false
		u.LungePhase = 0
		u.LungeOffset = 0
		return
	}
	u.LungeOffset = math.Sin(u.LungePhase) * u.tuning.LungeDistance
}
