// Package vision holds the immutable polygon set used to answer "is this
// visible" queries for the current vision and explored results.
package vision

import (
	"fmt"
	"math"
	"sync"

	"sightline.ai/internal/encoding"
	"sightline.ai/internal/geom"
	"sightline.ai/internal/geom/clip"
	"sightline.ai/internal/geom/polygon"
	"sightline.ai/internal/geom/quadtree"
)

// DefaultDiscSides is the side count of the polygon standing in for a
// circular probe when its overlap area has to be measured.
const DefaultDiscSides = 64

type Option func(*Set)

func WithDiscSides(n int) Option {
	return func(s *Set) {
		if n >= 3 {
			s.discSides = n
		}
	}
}

// Set is an immutable collection of polygons. Updates always build a new Set.
type Set struct {
	paths     []geom.Path
	polygons  []*polygon.Polygon
	discSides int

	boundsOnce sync.Once
	bounds     geom.Box

	treeOnce sync.Once
	tree     *quadtree.Tree[*polygon.Polygon]
}

// NewSet builds a set from paths. Every path is kept for String; paths with
// fewer than three points carry no area and get no polygon.
func NewSet(paths []geom.Path, opts ...Option) *Set {
	s := &Set{discSides: DefaultDiscSides, paths: append([]geom.Path(nil), paths...)}
	for _, o := range opts {
		o(s)
	}
	for _, p := range paths {
		if len(p) < 3 {
			continue
		}
		s.polygons = append(s.polygons, polygon.New(p))
	}
	return s
}

// Empty returns a set with no polygons.
func Empty(opts ...Option) *Set { return NewSet(nil, opts...) }

func (s *Set) Len() int      { return len(s.polygons) }
func (s *Set) IsEmpty() bool { return len(s.polygons) == 0 }

// Paths returns the underlying rings. Callers must not modify them.
func (s *Set) Paths() []geom.Path { return s.paths }

func (s *Set) Polygons() []*polygon.Polygon { return s.polygons }

// Area is the signed area of all polygons (holes subtract).
func (s *Set) Area() float64 { return clip.Area(s.paths) }

func (s *Set) Bounds() geom.Box {
	s.boundsOnce.Do(func() {
		b := geom.EmptyBox()
		for _, p := range s.polygons {
			b = b.Union(p.Bounds())
		}
		s.bounds = b
	})
	return s.bounds
}

// Query returns the polygons whose bounds overlap box, or every polygon
// when box is nil.
func (s *Set) Query(box *geom.Box) []*polygon.Polygon {
	if box == nil || len(s.polygons) == 0 {
		return s.polygons
	}
	s.treeOnce.Do(func() {
		t := quadtree.New[*polygon.Polygon](s.Bounds())
		for _, p := range s.polygons {
			t.Insert(p.Bounds(), p)
		}
		s.tree = t
	})
	return s.tree.Collect(*box)
}

// Probe is what TestVisibility looks for: a point, a circle around it, or an
// explicit ring around it.
type Probe struct {
	Origin geom.Vec
	Radius float64
	// Shape, when it has at least three points, replaces the generated disc
	// for the area check.
	Shape geom.Path
}

func (p Probe) hasShape() bool { return len(p.Shape) >= 3 }

func (p Probe) radius() float64 {
	if !p.hasShape() {
		return p.Radius
	}
	r := p.Radius
	for _, v := range p.Shape.Vecs() {
		r = math.Max(r, math.Hypot(v.X-p.Origin.X, v.Y-p.Origin.Y))
	}
	return r
}

// TestVisibility reports whether the probe is visible through this set.
// A probe whose circle straddles a boundary is visible when its overlap with
// the covered region exceeds tolerance (in real square units).
func (s *Set) TestVisibility(probe Probe, tolerance float64) bool {
	if len(s.polygons) == 0 {
		return false
	}
	x, y := probe.Origin.X, probe.Origin.Y
	radius := probe.radius()

	var box *geom.Box
	if radius > 0 {
		b := geom.Around(probe.Origin, radius)
		box = &b
	}
	candidates := s.Query(box)

	var p, c int
	r := radius
	ambiguous := false
	for _, poly := range candidates {
		w := poly.Winding()
		t := poly.Test(x, y, r)
		if t.Inside() {
			c += w
		}
		if t == polygon.InsideClear {
			p += w
		}
		if t.Crossing() {
			// Radius aggregation is no longer trustworthy; later polygons
			// fall back to plain containment.
			ambiguous = true
			r = 0
		}
	}

	if p != 0 {
		return true
	}
	if !ambiguous && c == 0 {
		return false
	}
	if radius == 0 {
		return false
	}

	shape := probe.Shape
	if !probe.hasShape() {
		disc, err := geom.Disc(probe.Origin, radius, s.discSides)
		if err != nil {
			return false
		}
		shape = disc
	}
	covered := make([]geom.Path, len(candidates))
	for i, poly := range candidates {
		covered[i] = poly.Path()
	}
	overlap, err := clip.Intersect([]geom.Path{shape}, covered)
	if err != nil {
		return false
	}
	var area2 int64
	for _, ring := range overlap {
		area2 += ring.Area2()
	}
	return float64(area2) > 2*tolerance*geom.Scale*geom.Scale
}

// String serializes every path the set was built from, degenerate ones
// included, as VLQ text. ParseSet restores it exactly.
func (s *Set) String() string {
	runs := make([][]int64, len(s.paths))
	for i, p := range s.paths {
		runs[i] = p.Ints()
	}
	return encoding.EncodeVLQ(runs)
}

func ParseSet(text string, opts ...Option) (*Set, error) {
	runs, err := encoding.DecodeVLQ(text)
	if err != nil {
		return nil, err
	}
	paths := make([]geom.Path, 0, len(runs))
	for i, run := range runs {
		p, err := geom.PathFromInts(run)
		if err != nil {
			return nil, fmt.Errorf("path %d: %w", i, err)
		}
		if err := geom.ValidatePath(p); err != nil {
			return nil, fmt.Errorf("path %d: %w", i, err)
		}
		paths = append(paths, p)
	}
	return NewSet(paths, opts...), nil
}
