// Package quadtree indexes values by bounding box for overlap queries.
package quadtree

import "sightline.ai/internal/geom"

const (
	defaultMaxItems = 8
	defaultMaxDepth = 8
)

type Option func(*config)

type config struct {
	maxItems int
	maxDepth int
}

// WithMaxItems sets how many items a leaf holds before it splits.
func WithMaxItems(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxItems = n
		}
	}
}

func WithMaxDepth(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.maxDepth = n
		}
	}
}

type item[T any] struct {
	box   geom.Box
	value T
}

type node[T any] struct {
	bounds   geom.Box
	depth    int
	items    []item[T]
	children *[4]node[T]
}

// Tree is not safe for concurrent mutation; concurrent queries on a tree
// that is no longer being inserted into are fine.
type Tree[T any] struct {
	cfg  config
	root node[T]
	size int
}

func New[T any](bounds geom.Box, opts ...Option) *Tree[T] {
	cfg := config{maxItems: defaultMaxItems, maxDepth: defaultMaxDepth}
	for _, o := range opts {
		o(&cfg)
	}
	return &Tree[T]{cfg: cfg, root: node[T]{bounds: bounds}}
}

func (t *Tree[T]) Len() int { return t.size }

// Insert adds value under box. Boxes outside the root bounds are kept at
// the root so they are still found by queries.
func (t *Tree[T]) Insert(box geom.Box, value T) {
	t.size++
	t.root.insert(&t.cfg, item[T]{box: box, value: value})
}

func (n *node[T]) insert(cfg *config, it item[T]) {
	if n.children != nil {
		if c := n.childFor(it.box); c != nil {
			c.insert(cfg, it)
			return
		}
		n.items = append(n.items, it)
		return
	}
	n.items = append(n.items, it)
	if len(n.items) > cfg.maxItems && n.depth < cfg.maxDepth {
		n.split(cfg)
	}
}

func (n *node[T]) split(cfg *config) {
	b := n.bounds
	mx := (b.MinX + b.MaxX) / 2
	my := (b.MinY + b.MaxY) / 2
	n.children = &[4]node[T]{
		{bounds: geom.Box{MinX: b.MinX, MinY: b.MinY, MaxX: mx, MaxY: my}, depth: n.depth + 1},
		{bounds: geom.Box{MinX: mx, MinY: b.MinY, MaxX: b.MaxX, MaxY: my}, depth: n.depth + 1},
		{bounds: geom.Box{MinX: b.MinX, MinY: my, MaxX: mx, MaxY: b.MaxY}, depth: n.depth + 1},
		{bounds: geom.Box{MinX: mx, MinY: my, MaxX: b.MaxX, MaxY: b.MaxY}, depth: n.depth + 1},
	}
	items := n.items
	n.items = nil
	for _, it := range items {
		if c := n.childFor(it.box); c != nil {
			c.insert(cfg, it)
		} else {
			n.items = append(n.items, it)
		}
	}
}

// childFor returns the child fully containing box, or nil when box
// straddles a split line.
func (n *node[T]) childFor(box geom.Box) *node[T] {
	for i := range n.children {
		if n.children[i].bounds.Contains(box) {
			return &n.children[i]
		}
	}
	return nil
}

// Query calls fn for every value whose box overlaps box. Returning false
// stops the walk.
func (t *Tree[T]) Query(box geom.Box, fn func(T) bool) {
	t.root.query(box, fn)
}

func (n *node[T]) query(box geom.Box, fn func(T) bool) bool {
	for _, it := range n.items {
		if it.box.Intersects(box) && !fn(it.value) {
			return false
		}
	}
	if n.children == nil {
		return true
	}
	for i := range n.children {
		c := &n.children[i]
		if !c.bounds.Intersects(box) {
			continue
		}
		if !c.query(box, fn) {
			return false
		}
	}
	return true
}

func (t *Tree[T]) Collect(box geom.Box) []T {
	var out []T
	t.Query(box, func(v T) bool {
		out = append(out, v)
		return true
	})
	return out
}
