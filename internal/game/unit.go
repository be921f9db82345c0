package game

import (
	"math"
	"math/rand"

	"github.com/jakecoffman/cp"

	"autobattle/internal/config"
	"autobattle/internal/game/spatial"
)

// UnitState is the steering state machine's current state.
type UnitState uint8

const (
	StateIdle UnitState = iota
	StateMoving
	StateAttacking
)

func (s UnitState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMoving:
		return "moving"
	case StateAttacking:
		return "attacking"
	default:
		return "unknown"
	}
}

// Unit is an autonomous combatant. It is created inactive and does nothing
// until Activate(true).
type Unit struct {
	handle    Handle
	team      Team
	Archetype *Archetype

	Pos      cp.Vector
	Velocity cp.Vector
	Yaw      float64 // radians, 0 = +X
	Radius   float64 // bounding radius used for targeting

	HP         float64
	MaxHP      float64
	Targetable bool

	AttackRange    float64
	Damage         float64
	MoveSpeed      float64
	AttackInterval float64

	Active bool
	State  UnitState
	Target Handle // zero = no target

	Path      spatial.Path
	PathIndex int

	LastAttackTime float64 // -Inf until the first attack
	Attacks        int

	// Lunge animation: LungeOffset is the forward mesh offset along Yaw.
	Lunging     bool
	LungePhase  float64
	LungeOffset float64

	tuning *config.SteeringConfig

	// OnStateChange fires after every transition. Optional.
	OnStateChange func(u *Unit, from, to UnitState)
}

// NewUnit builds an inactive unit from an archetype at pos.
func NewUnit(h Handle, arch *Archetype, team Team, pos cp.Vector, tuning *config.SteeringConfig) *Unit {
	if tuning == nil {
		def := config.DefaultSteering()
		tuning = &def
	}
	return &Unit{
		handle:         h,
		team:           team,
		Archetype:      arch,
		Pos:            pos,
		Radius:         tuning.UnitRadius,
		HP:             arch.MaxHealth,
		MaxHP:          arch.MaxHealth,
		Targetable:     true,
		AttackRange:    arch.AttackRange,
		Damage:         arch.Damage,
		MoveSpeed:      arch.MoveSpeed,
		AttackInterval: arch.AttackInterval,
		State:          StateIdle,
		LastAttackTime: math.Inf(-1),
		tuning:         tuning,
	}
}

// RandomizeSpeed scales MoveSpeed by a uniform factor in
// [1-SpeedVariance, 1+SpeedVariance] so groups spread out.
func (u *Unit) RandomizeSpeed(r *rand.Rand) {
	v := u.tuning.SpeedVariance
	u.MoveSpeed *= 1 - v + r.Float64()*2*v
}

func (u *Unit) Handle() Handle          { return u.handle }
func (u *Unit) Kind() EntityKind        { return KindUnit }
func (u *Unit) Team() Team              { return u.team }
func (u *Unit) Health() float64         { return u.HP }
func (u *Unit) IsTargetable() bool      { return u.Targetable }
func (u *Unit) Position() cp.Vector     { return u.Pos }
func (u *Unit) BoundingRadius() float64 { return u.Radius }

// IsAlive reports whether the unit still has health.
func (u *Unit) IsAlive() bool { return u.HP > 0 }

// ApplyDamage reduces health, never below zero.
func (u *Unit) ApplyDamage(amount float64, _ Handle) {
	if amount <= 0 {
		return
	}
	u.HP -= amount
	if u.HP < 0 {
		u.HP = 0
	}
}

// ClosestPoint returns the point on the unit's bounding circle nearest from.
func (u *Unit) ClosestPoint(from cp.Vector) (cp.Vector, bool) {
	d := from.Sub(u.Pos)
	l := d.Length()
	if l <= u.Radius {
		return from, true
	}
	return u.Pos.Add(d.Mult(u.Radius / l)), true
}

// Activate flips the active flag. Activation starts the unit in Idle;
// deactivation resets it to Idle and drops its target and path.
func (u *Unit) Activate(active bool) {
	if active && u.Active {
		return
	}
	u.Active = active
	u.setState(StateIdle)
	if !active {
		u.Target = Handle{}
		u.clearPath()
		u.Velocity = cp.Vector{}
	}
}

func (u *Unit) setState(s UnitState) {
	if u.State == s {
		return
	}
	from := u.State
	u.State = s
	if u.OnStateChange != nil {
		u.OnStateChange(u, from, s)
	}
}

func (u *Unit) clearPath() {
	u.Path = nil
	u.PathIndex = 0
}

// RemainingPath returns the waypoints not yet reached.
func (u *Unit) RemainingPath() spatial.Path {
	if u.PathIndex >= len(u.Path) {
		return nil
	}
	return u.Path[u.PathIndex:]
}

// Forward returns the unit's facing as a unit vector.
func (u *Unit) Forward() cp.Vector {
	return cp.ForAngle(u.Yaw)
}

// MeshPosition is where the unit is drawn: its position pushed forward by
// the lunge offset.
func (u *Unit) MeshPosition() cp.Vector {
	return u.Pos.Add(u.Forward().Mult(u.LungeOffset))
}
