package spatial

import (
	"sync"

	"github.com/jakecoffman/cp"
)

// Contact is the first static obstacle touched by a swept circle.
type Contact struct {
	Hit    bool
	Alpha  float64   // fraction of the sweep completed at contact, in [0,1]
	Point  cp.Vector // contact point on the obstacle
	Normal cp.Vector // obstacle surface normal at the contact
}

// Obstacles mirrors the grid's blocked cells as static boxes in a chipmunk
// space, plus four walls around the grid border. Units sweep against it to
// keep out of walls and buildings.
type Obstacles struct {
	mu     sync.Mutex
	space  *cp.Space
	grid   *Grid
	boxes  map[int]*cp.Shape // cell index → box
	border []*cp.Shape

	unsubscribe func()
}

// NewObstacles builds boxes for every currently blocked cell and follows
// later changes through the grid's OnChange hook.
func NewObstacles(g *Grid) *Obstacles {
	o := &Obstacles{
		space: cp.NewSpace(),
		grid:  g,
		boxes: make(map[int]*cp.Shape),
	}
	o.addBorder()

	for _, c := range g.Cells() {
		if c.Blocked {
			o.setBlocked(c.X, c.Y, true)
		}
	}
	o.unsubscribe = g.OnChange(func(ch CellChange) {
		o.setBlocked(ch.X, ch.Y, ch.Blocked)
	})
	return o
}

// Close detaches from the grid.
func (o *Obstacles) Close() {
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
}

func (o *Obstacles) cellBB(x, y int) cp.BB {
	size := o.grid.CellSize()
	org := o.grid.Origin()
	l := org.X + float64(x)*size
	b := org.Y + float64(y)*size
	return cp.BB{L: l, B: b, R: l + size, T: b + size}
}

func (o *Obstacles) addBorder() {
	w, h, size := o.grid.Dimensions()
	org := o.grid.Origin()
	r := org.X + float64(w)*size
	t := org.Y + float64(h)*size

	walls := []cp.BB{
		{L: org.X - size, B: org.Y - size, R: r + size, T: org.Y}, // bottom
		{L: org.X - size, B: t, R: r + size, T: t + size},         // top
		{L: org.X - size, B: org.Y, R: org.X, T: t},               // left
		{L: r, B: org.Y, R: r + size, T: t},                       // right
	}
	for _, bb := range walls {
		shape := o.space.AddShape(cp.NewBox2(o.space.StaticBody, bb, 0))
		o.border = append(o.border, shape)
	}
}

func (o *Obstacles) setBlocked(x, y int, blocked bool) {
	if !o.grid.IsValid(x, y) {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	idx := o.grid.index(x, y)
	shape, exists := o.boxes[idx]
	switch {
	case blocked && !exists:
		o.boxes[idx] = o.space.AddShape(cp.NewBox2(o.space.StaticBody, o.cellBB(x, y), 0))
	case !blocked && exists:
		o.space.RemoveShape(shape)
		delete(o.boxes, idx)
	}
}

// Count returns the number of blocked-cell boxes.
func (o *Obstacles) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.boxes)
}

// Sweep moves a circle of the given radius from `from` by delta and reports
// the first obstacle face it meets. A shape whose interior holds the start
// never stops the circle, and a shape it merely grazes stops it only when
// the move heads further in, so a unit caught by a new building walks out.
func (o *Obstacles) Sweep(from, delta cp.Vector, radius float64) Contact {
	if delta.LengthSq() == 0 {
		return Contact{}
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	var first Contact
	o.space.SegmentQuery(from, from.Add(delta), radius, cp.SHAPE_FILTER_ALL,
		func(shape *cp.Shape, point, normal cp.Vector, alpha float64, _ interface{}) {
			if startsInside(shape, from, delta, radius) {
				return
			}
			if !first.Hit || alpha < first.Alpha {
				first = Contact{Hit: true, Alpha: alpha, Point: point, Normal: normal}
			}
		}, nil)
	return first
}

// startsInside reports whether the swept circle already overlaps shape at
// from and is not moving deeper into it.
func startsInside(shape *cp.Shape, from, delta cp.Vector, radius float64) bool {
	q := shape.PointQuery(from)
	switch {
	case q.Distance < 0:
		return true
	case q.Distance <= radius:
		return q.Gradient.Dot(delta) >= 0
	}
	return false
}
