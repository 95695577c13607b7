// Package clip runs polygon boolean operations on fixed-point rings through
// the Clipper library. Coordinates are passed through unscaled, so results
// stay on the same integer grid as the input.
//
// Outer boundaries come out with positive area and holes with negative area.
package clip

import (
	"errors"
	"fmt"

	clipper "github.com/ctessum/go.clipper"

	"sightline.ai/internal/geom"
)

var ErrClip = errors.New("clip: operation failed")

type Op uint8

const (
	Union Op = iota
	Intersection
	Difference
	Xor
)

func (op Op) clipType() clipper.ClipType {
	switch op {
	case Intersection:
		return clipper.CtIntersection
	case Difference:
		return clipper.CtDifference
	case Xor:
		return clipper.CtXor
	default:
		return clipper.CtUnion
	}
}

type FillRule uint8

const (
	NonZero FillRule = iota
	EvenOdd
)

func (f FillRule) fillType() clipper.PolyFillType {
	if f == EvenOdd {
		return clipper.PftEvenOdd
	}
	return clipper.PftNonZero
}

// UnionAll merges paths under the non-zero rule.
func UnionAll(paths []geom.Path) ([]geom.Path, error) {
	return Boolean(Union, paths, nil, NonZero)
}

// Intersect returns the region covered by both a and b (non-zero rule).
func Intersect(a, b []geom.Path) ([]geom.Path, error) {
	return Boolean(Intersection, a, b, NonZero)
}

// Area sums the signed areas of paths in real units.
func Area(paths []geom.Path) float64 {
	var a2 int64
	for _, p := range paths {
		a2 += p.Area2()
	}
	return float64(a2) / 2 / (geom.Scale * geom.Scale)
}

// Boolean computes op(subject, clip) under fill. An empty result is nil.
func Boolean(op Op, subject, clip []geom.Path, fill FillRule) (out []geom.Path, err error) {
	if err := geom.ValidatePaths(subject); err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	if err := geom.ValidatePaths(clip); err != nil {
		return nil, fmt.Errorf("clip: %w", err)
	}
	// Clipper reports internal failures by panicking.
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrClip, r)
		}
	}()

	c := clipper.NewClipper(clipper.IoStrictlySimple)
	hasSubject := c.AddPaths(toClipper(subject), clipper.PtSubject, true)
	hasClip := c.AddPaths(toClipper(clip), clipper.PtClip, true)
	if !hasSubject && !hasClip {
		// Nothing with area; Clipper reports this as a failure.
		return nil, nil
	}
	sol, ok := c.Execute1(op.clipType(), fill.fillType(), fill.fillType())
	if !ok {
		return nil, ErrClip
	}
	return fromClipper(sol), nil
}

func toClipper(paths []geom.Path) clipper.Paths {
	out := make(clipper.Paths, 0, len(paths))
	for _, p := range paths {
		if len(p) < 3 {
			continue
		}
		cp := make(clipper.Path, len(p))
		for i, pt := range p {
			cp[i] = clipper.NewIntPoint(clipper.CInt(pt.X), clipper.CInt(pt.Y))
		}
		out = append(out, cp)
	}
	return out
}

func fromClipper(paths clipper.Paths) []geom.Path {
	var out []geom.Path
	for _, cp := range paths {
		if len(cp) < 3 {
			continue
		}
		p := make(geom.Path, len(cp))
		for i, pt := range cp {
			p[i] = geom.Point{X: int64(pt.X), Y: int64(pt.Y)}
		}
		if p.Area2() == 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}
