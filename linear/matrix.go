package linear

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// M4 is a column-major 4x4 matrix of float64.
// m[3] holds the translation.
type M4 [4]V4

// Identity returns the identity matrix.
func Identity() M4 { return fromGL(mgl64.Ident4()) }

// I makes m an identity matrix.
func (m *M4) I() { *m = Identity() }

// M4 and mgl64.Mat4 share the column-major layout.
func (m *M4) gl() (g mgl64.Mat4) {
	for i := range m {
		copy(g[4*i:4*i+4], m[i][:])
	}
	return
}

func fromGL(g mgl64.Mat4) (m M4) {
	for i := range m {
		copy(m[i][:], g[4*i:4*i+4])
	}
	return
}

// Mul sets m to contain l ⋅ r.
func (m *M4) Mul(l, r *M4) {
	*m = fromGL(l.gl().Mul4(r.gl()))
}

// Translate sets m to contain a translation by v.
func (m *M4) Translate(v V3) {
	*m = fromGL(mgl64.Translate3D(v[0], v[1], v[2]))
}

// Scale sets m to contain a scale by v.
func (m *M4) Scale(v V3) {
	*m = fromGL(mgl64.Scale3D(v[0], v[1], v[2]))
}

// RotateXYZ sets m to contain a rotation by euler angles (radians),
// applied X first, then Y, then Z.
func (m *M4) RotateXYZ(r V3) {
	g := mgl64.HomogRotate3DZ(r[2]).Mul4(mgl64.HomogRotate3DY(r[1])).Mul4(mgl64.HomogRotate3DX(r[0]))
	*m = fromGL(g)
}

// Transpose sets m to contain the transpose of n.
func (m *M4) Transpose(n *M4) {
	*m = fromGL(n.gl().Transpose())
}

// Lerp sets m to contain the component-wise interpolation of a and b.
func (m *M4) Lerp(a, b *M4, x float64) {
	for i := range m {
		for j := range m[i] {
			m[i][j] = Lerp(a[i][j], b[i][j], x)
		}
	}
}

// TransformPoint returns m ⋅ (p, 1) projected back to 3D.
func (m *M4) TransformPoint(p V3) (out V3) {
	q := m.gl().Mul4x1(mgl64.Vec4{p[0], p[1], p[2], 1})
	out = V3{q[0], q[1], q[2]}
	if w := q[3]; w != 1 && w != 0 {
		out.Scale(1/w, &out)
	}
	return
}

// Equal reports whether m and n differ by at most eps in every component.
func (m *M4) Equal(n *M4, eps float64) bool {
	for i := range m {
		for j := range m[i] {
			if math.Abs(m[i][j]-n[i][j]) > eps {
				return false
			}
		}
	}
	return true
}
