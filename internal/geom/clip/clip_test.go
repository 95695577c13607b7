package clip

import (
	"errors"
	"math"
	"testing"

	"sightline.ai/internal/geom"
)

func rect(t *testing.T, x0, y0, x1, y1 float64) geom.Path {
	t.Helper()
	p, err := geom.Rect(x0, y0, x1, y1)
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

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func mustBoolean(t *testing.T, op Op, subject, clip []geom.Path, fill FillRule) []geom.Path {
	t.Helper()
	out, err := Boolean(op, subject, clip, fill)
	if err != nil {
		t.Fatalf("Boolean: %v", err)
	}
	return out
}

func mustUnion(t *testing.T, paths []geom.Path) []geom.Path {
	t.Helper()
	out, err := UnionAll(paths)
	if err != nil {
		t.Fatalf("UnionAll: %v", err)
	}
	return out
}

func mustIntersect(t *testing.T, a, b []geom.Path) []geom.Path {
	t.Helper()
	out, err := Intersect(a, b)
	if err != nil {
		t.Fatalf("Intersect: %v", err)
	}
	return out
}

func TestBoolean_OverlappingSquares(t *testing.T) {
	a := []geom.Path{rect(t, 0, 0, 10, 10)}
	b := []geom.Path{rect(t, 5, 5, 15, 15)}
	cases := []struct {
		op   Op
		want float64
	}{
		{Union, 175},
		{Intersection, 25},
		{Difference, 75},
		{Xor, 150},
	}
	for _, tc := range cases {
		got := Area(mustBoolean(t, tc.op, a, b, NonZero))
		if !near(got, tc.want) {
			t.Fatalf("op %d: area got %v want %v", tc.op, got, tc.want)
		}
	}
}

func TestUnionAll_AdjacentSquaresMerge(t *testing.T) {
	out := mustUnion(t, []geom.Path{rect(t, 0, 0, 10, 10), rect(t, 10, 0, 20, 10)})
	if len(out) != 1 {
		t.Fatalf("rings: got %d want 1", len(out))
	}
	if len(out[0]) != 4 {
		t.Fatalf("vertices: got %d want 4 (%v)", len(out[0]), out[0])
	}
	if !near(Area(out), 200) {
		t.Fatalf("area: %v", Area(out))
	}
}

func TestUnionAll_DuplicatesAndOrientation(t *testing.T) {
	sq := rect(t, 0, 0, 10, 10)
	out := mustUnion(t, []geom.Path{sq, sq, reversed(sq)})
	// +1 +1 -1 winding leaves the square filled once.
	if len(out) != 1 || !near(Area(out), 100) {
		t.Fatalf("got %d rings area %v", len(out), Area(out))
	}
	if out[0].Area2() <= 0 {
		t.Fatalf("outer ring should be positive")
	}

	cw := mustUnion(t, []geom.Path{reversed(sq)})
	if len(cw) != 1 || cw[0].Area2() <= 0 {
		t.Fatalf("clockwise input should normalize to a positive ring")
	}
}

func TestDifference_ProducesHole(t *testing.T) {
	out := mustBoolean(t, Difference, []geom.Path{rect(t, 0, 0, 10, 10)}, []geom.Path{rect(t, 4, 4, 6, 6)}, NonZero)
	if len(out) != 2 {
		t.Fatalf("rings: got %d want 2", len(out))
	}
	var pos, neg int
	for _, r := range out {
		if r.Area2() > 0 {
			pos++
		} else {
			neg++
		}
	}
	if pos != 1 || neg != 1 {
		t.Fatalf("want one outer and one hole, got %d/%d", pos, neg)
	}
	if !near(Area(out), 96) {
		t.Fatalf("area: %v", Area(out))
	}
}

func TestUnionAll_TouchingCornersStaySeparate(t *testing.T) {
	out := mustUnion(t, []geom.Path{rect(t, 0, 0, 1, 1), rect(t, 1, 1, 2, 2)})
	if len(out) != 2 {
		t.Fatalf("rings: got %d want 2", len(out))
	}
	if !near(Area(out), 2) {
		t.Fatalf("area: %v", Area(out))
	}
}

func TestIntersect_DiscInsideSquare(t *testing.T) {
	disc, err := geom.Disc(geom.Vec{X: 5, Y: 5}, 2, 32)
	if err != nil {
		t.Fatalf("Disc: %v", err)
	}
	out := mustIntersect(t, []geom.Path{disc}, []geom.Path{rect(t, 0, 0, 10, 10)})
	if got, want := Area(out), float64(disc.Area2())/2/(geom.Scale*geom.Scale); !near(got, want) {
		t.Fatalf("area: got %v want %v", got, want)
	}
}

func TestIntersect_DisjointIsEmpty(t *testing.T) {
	out := mustIntersect(t, []geom.Path{rect(t, 0, 0, 1, 1)}, []geom.Path{rect(t, 5, 5, 6, 6)})
	if len(out) != 0 {
		t.Fatalf("expected no rings, got %v", out)
	}
	if mustUnion(t, nil) != nil {
		t.Fatalf("union of nothing should be nil")
	}
}

func TestEvenOdd_SelfOverlap(t *testing.T) {
	sq := rect(t, 0, 0, 10, 10)
	out := mustBoolean(t, Union, []geom.Path{sq, sq}, nil, EvenOdd)
	if len(out) != 0 {
		t.Fatalf("even-odd double cover should be empty, got %v", out)
	}
}

func TestBoolean_RejectsOutOfRange(t *testing.T) {
	bad := geom.Path{{X: 0, Y: 0}, {X: geom.MaxCoord + 1, Y: 0}, {X: 0, Y: 1}}
	if _, err := UnionAll([]geom.Path{bad}); !errors.Is(err, geom.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestBoolean_NoAreaIsEmpty(t *testing.T) {
	line := geom.Path{{X: 0, Y: 0}, {X: 256, Y: 0}, {X: 512, Y: 0}}
	out, err := UnionAll([]geom.Path{line, {{X: 1, Y: 1}}})
	if err != nil || out != nil {
		t.Fatalf("got %v, %v", out, err)
	}
}
