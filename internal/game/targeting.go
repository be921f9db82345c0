package game

import (
	"math"

	"github.com/jakecoffman/cp"
)

// isValidTarget: hostile, alive, targetable. Preference filtering happens
// in acquireTarget.
func (u *Unit) isValidTarget(t Targetable) bool {
	if t == nil || t.Handle() == u.handle {
		return false
	}
	return t.Team() != u.team && t.Health() > 0 && t.IsTargetable()
}

// lookupTarget resolves the held target, returning false once it is gone,
// dead or no longer targetable.
func (u *Unit) lookupTarget(w World) (Targetable, bool) {
	if u.Target.IsZero() {
		return nil, false
	}
	t, ok := w.Lookup(u.Target)
	if !ok || !u.isValidTarget(t) {
		return nil, false
	}
	return t, true
}

// acquireTarget scans every live entity. The first valid entity already in
// attack range (center distance <= range + its radius) wins immediately;
// otherwise the nearest valid entity is returned, ties to the earliest.
func (u *Unit) acquireTarget(w World) (target Targetable, inRange bool) {
	entities := w.LiveEntities()
	pref := PreferAny
	if u.Archetype != nil {
		pref = u.Archetype.Preference
	}

	for pass := 0; pass < pref.passes(); pass++ {
		best := math.Inf(1)
		var nearest Targetable
		for _, e := range entities {
			if !u.isValidTarget(e) || !pref.accepts(e, pass) {
				continue
			}
			d := u.Pos.Distance(e.Position())
			if d <= u.AttackRange+e.BoundingRadius() {
				return e, true
			}
			if d < best {
				best = d
				nearest = e
			}
		}
		if nearest != nil {
			return nearest, false
		}
	}
	return nil, false
}

// EdgeDistance measures from p to the surface of t: the closest point on its
// collider when it has one, otherwise center distance minus bounding radius.
func EdgeDistance(p cp.Vector, t Targetable) float64 {
	if c, ok := t.(Collider); ok {
		if q, ok := c.ClosestPoint(p); ok {
			return p.Distance(q)
		}
	}
	return math.Max(0, p.Distance(t.Position())-t.BoundingRadius())
}
