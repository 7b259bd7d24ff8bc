// Package linear implements the double-precision math used by scene caches:
// 3-vectors, column-major 4x4 matrices and axis-aligned boxes.
package linear

import "math"

// V3 is a 3-component vector of float64.
type V3 [3]float64

// V4 is a 4-component vector of float64.
type V4 [4]float64

// Add sets v to contain l + r.
func (v *V3) Add(l, r *V3) {
	for i := range v {
		v[i] = l[i] + r[i]
	}
}

// Sub sets v to contain l - r.
func (v *V3) Sub(l, r *V3) {
	for i := range v {
		v[i] = l[i] - r[i]
	}
}

// Scale sets v to contain s ⋅ w.
func (v *V3) Scale(s float64, w *V3) {
	for i := range v {
		v[i] = s * w[i]
	}
}

// Dot returns v ⋅ w.
func (v *V3) Dot(w *V3) (d float64) {
	for i := range v {
		d += v[i] * w[i]
	}
	return
}

// Len returns the length of v.
func (v *V3) Len() float64 { return math.Sqrt(v.Dot(v)) }

// Lerp sets v to contain a + (b - a) ⋅ x.
func (v *V3) Lerp(a, b *V3, x float64) {
	for i := range v {
		v[i] = a[i] + (b[i]-a[i])*x
	}
}

// Min sets v to contain the component-wise minimum of l and r.
func (v *V3) Min(l, r *V3) {
	for i := range v {
		v[i] = math.Min(l[i], r[i])
	}
}

// Max sets v to contain the component-wise maximum of l and r.
func (v *V3) Max(l, r *V3) {
	for i := range v {
		v[i] = math.Max(l[i], r[i])
	}
}

// Lerp returns a + (b - a) ⋅ x.
func Lerp(a, b, x float64) float64 { return a + (b-a)*x }
