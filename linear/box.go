package linear

import "math"

// Box3 is an axis-aligned box. A box with Min > Max on any axis is empty.
type Box3 struct {
	Min V3
	Max V3
}

// EmptyBox returns the empty box, which is the identity for Union.
func EmptyBox() Box3 {
	inf := math.Inf(1)
	return Box3{Min: V3{inf, inf, inf}, Max: V3{-inf, -inf, -inf}}
}

// PointBox returns a degenerate box containing only p.
func PointBox(p V3) Box3 { return Box3{Min: p, Max: p} }

// IsEmpty reports whether b contains no points.
func (b Box3) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

// ExtendBy grows b to contain p.
func (b *Box3) ExtendBy(p V3) {
	b.Min.Min(&b.Min, &p)
	b.Max.Max(&b.Max, &p)
}

// Union returns the smallest box containing both b and o.
func (b Box3) Union(o Box3) Box3 {
	if o.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return o
	}
	b.Min.Min(&b.Min, &o.Min)
	b.Max.Max(&b.Max, &o.Max)
	return b
}

// Transform returns the bound of b's eight corners transformed by m.
func (b Box3) Transform(m *M4) Box3 {
	if b.IsEmpty() {
		return b
	}
	out := EmptyBox()
	for i := 0; i < 8; i++ {
		p := b.Min
		if i&1 != 0 {
			p[0] = b.Max[0]
		}
		if i&2 != 0 {
			p[1] = b.Max[1]
		}
		if i&4 != 0 {
			p[2] = b.Max[2]
		}
		out.ExtendBy(m.TransformPoint(p))
	}
	return out
}

// Lerp interpolates the corners of a and b. An empty endpoint yields the other one.
func (b *Box3) Lerp(a, c Box3, x float64) {
	switch {
	case a.IsEmpty():
		*b = c
	case c.IsEmpty():
		*b = a
	default:
		b.Min.Lerp(&a.Min, &c.Min, x)
		b.Max.Lerp(&a.Max, &c.Max, x)
	}
}

// Center returns the midpoint of b.
func (b Box3) Center() (c V3) {
	c.Lerp(&b.Min, &b.Max, 0.5)
	return
}

// Size returns Max - Min.
func (b Box3) Size() (s V3) {
	s.Sub(&b.Max, &b.Min)
	return
}
