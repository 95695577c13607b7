// Package geom holds the fixed-point primitives shared by the polygon,
// clipping and visibility packages.
//
// All boolean and area arithmetic happens on integer coordinates scaled by
// Scale. Float vertices are derived from them only for point-in-polygon work.
package geom

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Scale is the number of fixed-point units per real unit.
const Scale = 256

// MaxCoord bounds the absolute value of any fixed-point coordinate. Keeping
// coordinates below 2^29 keeps every orientation product inside int64.
const MaxCoord = 1 << 29

var (
	ErrNonFinite  = errors.New("geom: non-finite coordinate")
	ErrOutOfRange = errors.New("geom: coordinate out of range")
)

// Point is a fixed-point coordinate (real value * Scale).
type Point struct {
	X, Y int64
}

func (p Point) Vec() Vec {
	return Vec{X: float64(p.X) / Scale, Y: float64(p.Y) / Scale}
}

// Vec is a point in real (unscaled) coordinates.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ToFixed converts real coordinates to the fixed-point grid.
func ToFixed(x, y float64) (Point, error) {
	fx, err := toFixed1(x)
	if err != nil {
		return Point{}, err
	}
	fy, err := toFixed1(y)
	if err != nil {
		return Point{}, err
	}
	return Point{X: fx, Y: fy}, nil
}

func toFixed1(v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNonFinite
	}
	r := math.Round(v * Scale)
	if r > MaxCoord || r < -MaxCoord {
		return 0, fmt.Errorf("%w: %g", ErrOutOfRange, v)
	}
	return int64(r), nil
}

// Cross returns the z component of (a-o) x (b-o). Positive means o->a->b
// turns counter-clockwise.
func Cross(o, a, b Point) int64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// Path is a closed ring of fixed-point coordinates; the last point connects
// back to the first. Paths are treated as immutable once built.
type Path []Point

// PathFromVecs converts a real-coordinate ring, validating every vertex.
func PathFromVecs(vs []Vec) (Path, error) {
	p := make(Path, 0, len(vs))
	for i, v := range vs {
		pt, err := ToFixed(v.X, v.Y)
		if err != nil {
			return nil, fmt.Errorf("vertex %d: %w", i, err)
		}
		p = append(p, pt)
	}
	return p, nil
}

func (p Path) Vecs() []Vec {
	out := make([]Vec, len(p))
	for i, pt := range p {
		out[i] = pt.Vec()
	}
	return out
}

// Area2 is twice the signed shoelace area in fixed-point units squared.
func (p Path) Area2() int64 {
	n := len(p)
	if n < 3 {
		return 0
	}
	var a int64
	prev := p[n-1]
	for _, cur := range p {
		a += prev.X*cur.Y - cur.X*prev.Y
		prev = cur
	}
	return a
}

func (p Path) Clone() Path {
	return append(Path(nil), p...)
}

// Ints flattens the path to x0,y0,x1,y1,...
func (p Path) Ints() []int64 {
	out := make([]int64, 0, 2*len(p))
	for _, pt := range p {
		out = append(out, pt.X, pt.Y)
	}
	return out
}

// PathFromInts is the inverse of Ints.
func PathFromInts(v []int64) (Path, error) {
	if len(v)%2 != 0 {
		return nil, fmt.Errorf("geom: odd coordinate count %d", len(v))
	}
	p := make(Path, len(v)/2)
	for i := range p {
		p[i] = Point{X: v[2*i], Y: v[2*i+1]}
	}
	return p, nil
}

func (p Path) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Ints())
}

func (p *Path) UnmarshalJSON(b []byte) error {
	var v []int64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	out, err := PathFromInts(v)
	if err != nil {
		return err
	}
	*p = out
	return nil
}

// ValidatePath checks that an integer path received from outside stays on
// the accepted grid.
func ValidatePath(p Path) error {
	for i, pt := range p {
		if pt.X > MaxCoord || pt.X < -MaxCoord || pt.Y > MaxCoord || pt.Y < -MaxCoord {
			return fmt.Errorf("vertex %d: %w", i, ErrOutOfRange)
		}
	}
	return nil
}

func ValidatePaths(ps []Path) error {
	for i, p := range ps {
		if err := ValidatePath(p); err != nil {
			return fmt.Errorf("path %d: %w", i, err)
		}
	}
	return nil
}

// Box is an axis-aligned rectangle in real coordinates.
type Box struct {
	MinX, MinY, MaxX, MaxY float64
}

// EmptyBox is the identity for Union.
func EmptyBox() Box {
	return Box{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
}

func (b Box) Empty() bool { return b.MinX > b.MaxX || b.MinY > b.MaxY }

func (b Box) Width() float64  { return b.MaxX - b.MinX }
func (b Box) Height() float64 { return b.MaxY - b.MinY }

// Intersects reports overlap, touching edges included.
func (b Box) Intersects(o Box) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX && b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

// Contains reports whether o lies fully inside b.
func (b Box) Contains(o Box) bool {
	return o.MinX >= b.MinX && o.MaxX <= b.MaxX && o.MinY >= b.MinY && o.MaxY <= b.MaxY
}

func (b Box) ContainsPoint(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

func (b Box) Union(o Box) Box {
	return Box{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// Extend grows the box to include (x, y).
func (b Box) Extend(x, y float64) Box {
	return Box{
		MinX: math.Min(b.MinX, x),
		MinY: math.Min(b.MinY, y),
		MaxX: math.Max(b.MaxX, x),
		MaxY: math.Max(b.MaxY, y),
	}
}

// Around returns the box of a circle.
func Around(c Vec, r float64) Box {
	return Box{MinX: c.X - r, MinY: c.Y - r, MaxX: c.X + r, MaxY: c.Y + r}
}

// Disc approximates a circle by a regular counter-clockwise polygon on the
// fixed-point grid.
func Disc(c Vec, radius float64, sides int) (Path, error) {
	if sides < 3 {
		sides = 3
	}
	if math.IsNaN(radius) || math.IsInf(radius, 0) {
		return nil, ErrNonFinite
	}
	p := make(Path, 0, sides)
	step := 2 * math.Pi / float64(sides)
	for i := 0; i < sides; i++ {
		a := float64(i) * step
		pt, err := ToFixed(c.X+radius*math.Cos(a), c.Y+radius*math.Sin(a))
		if err != nil {
			return nil, err
		}
		if n := len(p); n > 0 && p[n-1] == pt {
			continue
		}
		p = append(p, pt)
	}
	if len(p) > 1 && p[0] == p[len(p)-1] {
		p = p[:len(p)-1]
	}
	return p, nil
}

// Rect builds a counter-clockwise rectangle from real coordinates. It is a
// convenience for tests and tools; invalid input yields an error.
func Rect(x0, y0, x1, y1 float64) (Path, error) {
	return PathFromVecs([]Vec{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}})
}
