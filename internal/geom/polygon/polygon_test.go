package polygon

import (
	"testing"

	"sightline.ai/internal/geom"
)

func square(t *testing.T, x0, y0, size float64) geom.Path {
	t.Helper()
	p, err := geom.Rect(x0, y0, x0+size, y0+size)
	if err != nil {
		t.Fatalf("Rect: %v", err)
	}
	return p
}

func reversed(p geom.Path) geom.Path {
	out := make(geom.Path, len(p))
	for i := range p {
		out[i] = p[len(p)-1-i]
	}
	return out
}

func TestPolygon_BoundsAreaWinding(t *testing.T) {
	p := New(square(t, 2, 3, 10))
	if b := p.Bounds(); b != (geom.Box{MinX: 2, MinY: 3, MaxX: 12, MaxY: 13}) {
		t.Fatalf("bounds: %+v", b)
	}
	if p.Area() != 100 {
		t.Fatalf("area: %v", p.Area())
	}
	if p.Winding() != 1 {
		t.Fatalf("winding: %d", p.Winding())
	}

	hole := New(reversed(square(t, 4, 4, 2)))
	if hole.Area() != -4 || hole.Winding() != -1 {
		t.Fatalf("hole area=%v winding=%d", hole.Area(), hole.Winding())
	}
}

func TestPolygon_Contains(t *testing.T) {
	p := New(square(t, 0, 0, 10))
	if !p.Contains(5, 5) {
		t.Fatalf("center should be inside")
	}
	if p.Contains(11, 5) || p.Contains(-0.5, 5) {
		t.Fatalf("outside points reported inside")
	}
}

func TestPolygon_TestClassification(t *testing.T) {
	p := New(square(t, 0, 0, 10))
	cases := []struct {
		name string
		x, y float64
		r    float64
		want Classification
	}{
		{"inside clear", 5, 5, 2, InsideClear},
		{"inside point", 5, 5, 0, InsideClear},
		{"inside crossing", 9, 5, 2, InsideCrossing},
		{"outside crossing", 11, 5, 2, OutsideCrossing},
		{"outside clear", 20, 5, 2, OutsideClear},
		{"outside bbox", 50, 50, 0, OutsideClear},
		{"on edge with zero radius", 10, 5, 0, OutsideCrossing},
	}
	for _, tc := range cases {
		if got := p.Test(tc.x, tc.y, tc.r); got != tc.want {
			t.Fatalf("%s: got %d want %d", tc.name, got, tc.want)
		}
	}
}

func TestPolygon_CachedValuesStable(t *testing.T) {
	path := square(t, 0, 0, 4)
	p := New(path)
	a1 := p.Area()
	b1 := p.Bounds()
	if p.Area() != a1 || p.Bounds() != b1 {
		t.Fatalf("cached values changed between calls")
	}
}
