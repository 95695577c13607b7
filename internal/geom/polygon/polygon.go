package polygon

import (
	"math"
	"sync"

	"sightline.ai/internal/geom"
)

// Classification is the result of Polygon.Test.
type Classification uint8

const (
	// InsideClear: the point is inside and the circle crosses no edge.
	InsideClear Classification = iota
	// InsideCrossing: the point is inside but the circle crosses an edge.
	InsideCrossing
	// OutsideCrossing: the point is outside and the circle crosses an edge.
	OutsideCrossing
	// OutsideClear: the point is outside and the circle crosses no edge.
	OutsideClear
)

func (c Classification) Inside() bool   { return c == InsideClear || c == InsideCrossing }
func (c Classification) Crossing() bool { return c == InsideCrossing || c == OutsideCrossing }

// Polygon wraps one fixed-point ring. Derived values are computed on first
// use and never change afterwards.
type Polygon struct {
	path geom.Path

	vecsOnce sync.Once
	vecs     []geom.Vec

	boundsOnce sync.Once
	bounds     geom.Box

	areaOnce sync.Once
	area     float64
}

func New(path geom.Path) *Polygon {
	return &Polygon{path: path}
}

// Path returns the owned ring. Callers must not modify it.
func (p *Polygon) Path() geom.Path { return p.path }

func (p *Polygon) points() []geom.Vec {
	p.vecsOnce.Do(func() { p.vecs = p.path.Vecs() })
	return p.vecs
}

func (p *Polygon) Bounds() geom.Box {
	p.boundsOnce.Do(func() {
		b := geom.EmptyBox()
		for _, v := range p.points() {
			b = b.Extend(v.X, v.Y)
		}
		p.bounds = b
	})
	return p.bounds
}

// Area is the signed area in real units, evaluated exactly on the
// fixed-point ring.
func (p *Polygon) Area() float64 {
	p.areaOnce.Do(func() {
		p.area = float64(p.path.Area2()) / 2 / (geom.Scale * geom.Scale)
	})
	return p.area
}

// Winding is +1 for outer boundaries and -1 for holes.
func (p *Polygon) Winding() int {
	if p.Area() >= 0 {
		return 1
	}
	return -1
}

func (p *Polygon) Contains(x, y float64) bool {
	if !p.Bounds().ContainsPoint(x, y) {
		return false
	}
	return containsPoint(p.points(), x, y)
}

// Test classifies (x, y) against the polygon and reports whether a circle
// of the given radius around it reaches any edge.
func (p *Polygon) Test(x, y, radius float64) Classification {
	b := p.Bounds()
	if x+radius < b.MinX || x-radius > b.MaxX || y+radius < b.MinY || y-radius > b.MaxY {
		return OutsideClear
	}
	inside := containsPoint(p.points(), x, y)
	crossing := crossesEdge(p.points(), x, y, radius)
	switch {
	case inside && !crossing:
		return InsideClear
	case inside:
		return InsideCrossing
	case crossing:
		return OutsideCrossing
	default:
		return OutsideClear
	}
}

// containsPoint is the even-odd crossing test.
func containsPoint(vs []geom.Vec, x, y float64) bool {
	inside := false
	n := len(vs)
	if n < 3 {
		return false
	}
	j := n - 1
	for i := 0; i < n; i++ {
		a, b := vs[i], vs[j]
		if (a.Y > y) != (b.Y > y) && x < (b.X-a.X)*(y-a.Y)/(b.Y-a.Y)+a.X {
			inside = !inside
		}
		j = i
	}
	return inside
}

func crossesEdge(vs []geom.Vec, x, y, radius float64) bool {
	n := len(vs)
	if n == 0 {
		return false
	}
	r2 := radius * radius
	prev := vs[n-1]
	for _, cur := range vs {
		if segmentDist2(prev, cur, x, y) <= r2 {
			return true
		}
		prev = cur
	}
	return false
}

// segmentDist2 is the squared distance from (x, y) to the segment a-b,
// using the projection clamped to the segment.
func segmentDist2(a, b geom.Vec, x, y float64) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	l2 := dx*dx + dy*dy
	t := 0.0
	if l2 > 0 {
		t = ((x-a.X)*dx + (y-a.Y)*dy) / l2
		t = math.Max(0, math.Min(1, t))
	}
	px, py := a.X+t*dx-x, a.Y+t*dy-y
	return px*px + py*py
}
