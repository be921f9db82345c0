package game

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/jakecoffman/cp"

	"autobattle/internal/game/spatial"
)

var (
	ErrNotFound          = errors.New("entity not found")
	ErrUnknownArchetype  = errors.New("unknown archetype")
	ErrCellOccupied      = errors.New("cell is blocked or occupied")
	ErrMaxLevel          = errors.New("building is at max level")
	ErrLimitReached      = errors.New("entity limit reached")
	ErrInvalidCoordinate = errors.New("cell out of bounds")
)

// Team is a side of the battle.
type Team uint8

const (
	TeamPlayer Team = iota
	TeamEnemy
)

func (t Team) String() string {
	switch t {
	case TeamPlayer:
		return "player"
	case TeamEnemy:
		return "enemy"
	default:
		return "unknown"
	}
}

// ParseTeam accepts "player" or "enemy".
func ParseTeam(s string) (Team, error) {
	switch s {
	case "player":
		return TeamPlayer, nil
	case "enemy":
		return TeamEnemy, nil
	default:
		return 0, fmt.Errorf("unknown team %q", s)
	}
}

// EntityKind separates units from buildings for targeting preferences.
type EntityKind uint8

const (
	KindUnit EntityKind = iota
	KindBuilding
)

func (k EntityKind) String() string {
	if k == KindBuilding {
		return "building"
	}
	return "unit"
}

// Targetable is anything a unit can acquire and attack.
type Targetable interface {
	Handle() Handle
	Kind() EntityKind
	Team() Team
	Health() float64
	IsTargetable() bool
	Position() cp.Vector
	BoundingRadius() float64
}

// Damageable receives damage. Damage is fire-and-forget.
type Damageable interface {
	ApplyDamage(amount float64, source Handle)
}

// Collider exposes the closest point on an entity's collision shape.
// Entities without one fall back to their bounding radius.
type Collider interface {
	ClosestPoint(from cp.Vector) (cp.Vector, bool)
}

// Attacker is an archetype's attack routine.
type Attacker interface {
	PerformAttack(w World, attacker *Unit, target Targetable)
}

// SweepHit is the first static obstacle along a swept move.
type SweepHit struct {
	Hit    bool
	Alpha  float64   // fraction of the move completed before contact
	Normal cp.Vector // obstacle surface normal at contact
}

// World is everything a unit needs from the battlefield during one frame.
// The Engine implements it; tests use small fakes.
type World interface {
	// LiveEntities lists every entity that may be targeted this frame.
	LiveEntities() []Targetable
	// Lookup resolves a handle, failing for destroyed entities.
	Lookup(h Handle) (Targetable, bool)
	// UnitsNear returns candidate units around pos (broad phase).
	UnitsNear(pos cp.Vector, radius float64) []*Unit
	// FindPath plans a raw route. Post-processing is the unit's job.
	FindPath(from, to cp.Vector) spatial.Path
	// Sweep reports the first static obstacle hit moving a circle by delta.
	Sweep(from, delta cp.Vector, radius float64) SweepHit
	ApplyDamage(target, source Handle, amount float64)
	// Now is the simulation clock in seconds.
	Now() float64
	Rand() *rand.Rand
}
