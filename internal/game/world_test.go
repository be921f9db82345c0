package game

import (
	"math/rand"
	"testing"

	"github.com/jakecoffman/cp"
	"github.com/stretchr/testify/require"

	"autobattle/internal/game/spatial"
)

type damageCall struct {
	target, source Handle
	amount         float64
	at             float64
}

// fakeWorld is a minimal World: entities in a slice, straight-line paths
// unless paths is set, no obstacles unless sweep is set.
type fakeWorld struct {
	entities []Targetable
	now      float64
	rng      *rand.Rand
	paths    func(from, to cp.Vector) spatial.Path
	sweep    func(from, delta cp.Vector, radius float64) SweepHit
	hits     []damageCall
	searches int
}

func newFakeWorld(entities ...Targetable) *fakeWorld {
	return &fakeWorld{entities: entities, rng: rand.New(rand.NewSource(1))}
}

func (w *fakeWorld) LiveEntities() []Targetable {
	out := make([]Targetable, 0, len(w.entities))
	for _, e := range w.entities {
		if e.Health() > 0 {
			out = append(out, e)
		}
	}
	return out
}

func (w *fakeWorld) Lookup(h Handle) (Targetable, bool) {
	for _, e := range w.entities {
		if e.Handle() == h {
			return e, true
		}
	}
	return nil, false
}

func (w *fakeWorld) UnitsNear(_ cp.Vector, _ float64) []*Unit {
	var out []*Unit
	for _, e := range w.entities {
		if u, ok := e.(*Unit); ok {
			out = append(out, u)
		}
	}
	return out
}

func (w *fakeWorld) FindPath(from, to cp.Vector) spatial.Path {
	w.searches++
	if w.paths != nil {
		return w.paths(from, to)
	}
	return spatial.Path{to}
}

func (w *fakeWorld) Sweep(from, delta cp.Vector, radius float64) SweepHit {
	if w.sweep != nil {
		return w.sweep(from, delta, radius)
	}
	return SweepHit{}
}

func (w *fakeWorld) ApplyDamage(target, source Handle, amount float64) {
	t, ok := w.Lookup(target)
	if !ok {
		return
	}
	if d, ok := t.(Damageable); ok {
		d.ApplyDamage(amount, source)
	}
	w.hits = append(w.hits, damageCall{target: target, source: source, amount: amount, at: w.now})
}

func (w *fakeWorld) Now() float64     { return w.now }
func (w *fakeWorld) Rand() *rand.Rand { return w.rng }

// step advances the clock then updates every unit once.
func (w *fakeWorld) step(dt float64) {
	w.now += dt
	for _, e := range w.entities {
		if u, ok := e.(*Unit); ok {
			u.Update(w, dt)
		}
	}
}

func handle(i uint32) Handle { return Handle{Index: i, Gen: 1} }

// newTestUnit builds a soldier: range 150, damage 10, speed 300, interval 1s.
func newTestUnit(i uint32, team Team, pos cp.Vector) *Unit {
	return NewUnit(handle(i), Archetypes["soldier"], team, pos, nil)
}

// plannerPaths routes through a real grid.
func plannerPaths(t testing.TB, g *spatial.Grid) func(from, to cp.Vector) spatial.Path {
	t.Helper()
	require.NotNil(t, g)
	p := spatial.NewPlanner(g)
	return func(from, to cp.Vector) spatial.Path {
		path, _ := p.FindPath(from, to)
		return path
	}
}
