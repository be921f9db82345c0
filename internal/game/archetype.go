package game

import (
	"fmt"
	"sort"
)

// TargetPreference narrows which entities an archetype scans for.
type TargetPreference uint8

const (
	PreferAny       TargetPreference = iota
	PreferBuildings                  // buildings first, units only when none remain
)

// Archetype is a unit template: base stats plus its attack routine.
type Archetype struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	MaxHealth      float64          `json:"maxHealth"`
	Damage         float64          `json:"damage"`
	AttackRange    float64          `json:"attackRange"`
	MoveSpeed      float64          `json:"moveSpeed"`
	AttackInterval float64          `json:"attackInterval"` // seconds
	Preference     TargetPreference `json:"preference"`
	Color          string           `json:"color"`
	Glyph          rune             `json:"-"`
	Attack         Attacker         `json:"-"`
}

// Archetypes is the map of all unit templates.
// NOTE: AttackRange is measured to the target's surface, not its center.
var Archetypes = map[string]*Archetype{
	"soldier": {
		ID:             "soldier",
		Name:           "Soldier",
		MaxHealth:      100,
		Damage:         10,
		AttackRange:    150,
		MoveSpeed:      300,
		AttackInterval: 1.0,
		Color:          "#2196f3",
		Glyph:          's',
		Attack:         MeleeAttack{},
	},
	"barbarian": {
		ID:             "barbarian",
		Name:           "Barbarian",
		MaxHealth:      160,
		Damage:         14,
		AttackRange:    120,
		MoveSpeed:      320,
		AttackInterval: 0.9,
		Color:          "#ffc107",
		Glyph:          'b',
		Attack:         MeleeAttack{},
	},
	"archer": {
		ID:             "archer",
		Name:           "Archer",
		MaxHealth:      70,
		Damage:         8,
		AttackRange:    350,
		MoveSpeed:      280,
		AttackInterval: 1.2,
		Color:          "#8bc34a",
		Glyph:          'a',
		Attack:         MeleeAttack{},
	},
	"giant": {
		ID:             "giant",
		Name:           "Giant",
		MaxHealth:      600,
		Damage:         30,
		AttackRange:    130,
		MoveSpeed:      200,
		AttackInterval: 2.0,
		Preference:     PreferBuildings,
		Color:          "#795548",
		Glyph:          'G',
		Attack:         MeleeAttack{},
	},
	"bomber": {
		ID:             "bomber",
		Name:           "Bomber",
		MaxHealth:      80,
		Damage:         40,
		AttackRange:    120,
		MoveSpeed:      340,
		AttackInterval: 1.5,
		Color:          "#ff5722",
		Glyph:          'B',
		Attack:         SplashAttack{Radius: 120},
	},
}

// LookupArchetype returns a unit template by ID.
func LookupArchetype(id string) (*Archetype, error) {
	if a, ok := Archetypes[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: unit %q", ErrUnknownArchetype, id)
}

// ArchetypeIDs returns all unit template IDs, sorted.
func ArchetypeIDs() []string {
	ids := make([]string, 0, len(Archetypes))
	for id := range Archetypes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// accepts reports whether the preference admits target on the given pass.
// Pass 0 is the preferred set, pass 1 the fallback.
func (p TargetPreference) accepts(target Targetable, pass int) bool {
	if p == PreferBuildings && pass == 0 {
		return target.Kind() == KindBuilding
	}
	return true
}

func (p TargetPreference) passes() int {
	if p == PreferBuildings {
		return 2
	}
	return 1
}

// =============================================================================
// ATTACK ROUTINES
// =============================================================================

// MeleeAttack damages the current target only.
type MeleeAttack struct{}

func (MeleeAttack) PerformAttack(w World, attacker *Unit, target Targetable) {
	w.ApplyDamage(target.Handle(), attacker.Handle(), attacker.Damage)
}

// SplashAttack damages the target and every other hostile entity within
// Radius of it.
type SplashAttack struct {
	Radius float64
}

func (s SplashAttack) PerformAttack(w World, attacker *Unit, target Targetable) {
	w.ApplyDamage(target.Handle(), attacker.Handle(), attacker.Damage)

	center := target.Position()
	rSq := s.Radius * s.Radius
	for _, e := range w.LiveEntities() {
		if e.Handle() == target.Handle() || e.Team() == attacker.Team() || e.Health() <= 0 {
			continue
		}
		if e.Position().DistanceSq(center) <= rSq {
			w.ApplyDamage(e.Handle(), attacker.Handle(), attacker.Damage)
		}
	}
}
