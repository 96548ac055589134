package align

import (
	"math"

	"github.com/golang/geo/r3"
)

// Matrix4 is a row-major homogeneous transform: p' = R*p + t, with an
// optional uniform scale folded into R.
type Matrix4 [4][4]float64

// Identity returns the identity transform
func Identity() Matrix4 {
	return Matrix4{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Translation creates a pure translation
func Translation(t r3.Vector) Matrix4 {
	m := Identity()
	m[0][3] = t.X
	m[1][3] = t.Y
	m[2][3] = t.Z
	return m
}

// Rotation creates a rotation of angle radians about axis (right-hand rule).
// A zero axis yields the identity.
func Rotation(axis r3.Vector, angle float64) Matrix4 {
	k := axis.Normalize()
	if k.Norm2() == 0 {
		return Identity()
	}
	c := math.Cos(angle)
	s := math.Sin(angle)
	t := 1 - c

	return Matrix4{
		{c + k.X*k.X*t, k.X*k.Y*t - k.Z*s, k.X*k.Z*t + k.Y*s, 0},
		{k.Y*k.X*t + k.Z*s, c + k.Y*k.Y*t, k.Y*k.Z*t - k.X*s, 0},
		{k.Z*k.X*t - k.Y*s, k.Z*k.Y*t + k.X*s, c + k.Z*k.Z*t, 0},
		{0, 0, 0, 1},
	}
}

// RotationDeg creates a rotation about axis given in degrees
func RotationDeg(axis r3.Vector, degrees float64) Matrix4 {
	return Rotation(axis, degrees*math.Pi/180)
}

// UniformScale creates a scale about the origin
func UniformScale(s float64) Matrix4 {
	m := Identity()
	m[0][0] = s
	m[1][1] = s
	m[2][2] = s
	return m
}

// Mul returns m*o: the transform that applies o first, then m.
func (m Matrix4) Mul(o Matrix4) Matrix4 {
	var r Matrix4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			sum := 0.0
			for k := 0; k < 4; k++ {
				sum += m[i][k] * o[k][j]
			}
			r[i][j] = sum
		}
	}
	return r
}

// Apply transforms a point
func (m Matrix4) Apply(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*p.X + m[0][1]*p.Y + m[0][2]*p.Z + m[0][3],
		Y: m[1][0]*p.X + m[1][1]*p.Y + m[1][2]*p.Z + m[1][3],
		Z: m[2][0]*p.X + m[2][1]*p.Y + m[2][2]*p.Z + m[2][3],
	}
}

// ApplyDirection transforms a direction (no translation) and renormalizes it.
func (m Matrix4) ApplyDirection(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}.Normalize()
}

// Offset returns the translation column
func (m Matrix4) Offset() r3.Vector {
	return r3.Vector{X: m[0][3], Y: m[1][3], Z: m[2][3]}
}

func (m Matrix4) det3() float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// Scale returns the uniform scale factor of the linear part (1 for rigid transforms)
func (m Matrix4) Scale() float64 {
	return math.Cbrt(m.det3())
}

// Inverse returns the inverse transform. ok is false for singular matrices.
func (m Matrix4) Inverse() (Matrix4, bool) {
	det := m.det3()
	if math.Abs(det) < 1e-12 || math.IsNaN(det) {
		return Identity(), false
	}
	inv := 1.0 / det

	var r Matrix4
	r[0][0] = (m[1][1]*m[2][2] - m[1][2]*m[2][1]) * inv
	r[0][1] = (m[0][2]*m[2][1] - m[0][1]*m[2][2]) * inv
	r[0][2] = (m[0][1]*m[1][2] - m[0][2]*m[1][1]) * inv
	r[1][0] = (m[1][2]*m[2][0] - m[1][0]*m[2][2]) * inv
	r[1][1] = (m[0][0]*m[2][2] - m[0][2]*m[2][0]) * inv
	r[1][2] = (m[0][2]*m[1][0] - m[0][0]*m[1][2]) * inv
	r[2][0] = (m[1][0]*m[2][1] - m[1][1]*m[2][0]) * inv
	r[2][1] = (m[0][1]*m[2][0] - m[0][0]*m[2][1]) * inv
	r[2][2] = (m[0][0]*m[1][1] - m[0][1]*m[1][0]) * inv

	// -R^-1 * t
	t := m.Offset()
	for i := 0; i < 3; i++ {
		r[i][3] = -(r[i][0]*t.X + r[i][1]*t.Y + r[i][2]*t.Z)
	}
	r[3][3] = 1
	return r, true
}

// RotationAngle returns the total rotation angle in radians, ignoring scale.
func (m Matrix4) RotationAngle() float64 {
	s := m.Scale()
	if s == 0 || math.IsNaN(s) {
		return 0
	}
	trace := (m[0][0] + m[1][1] + m[2][2]) / s
	c := (trace - 1) / 2
	return math.Acos(math.Max(-1, math.Min(1, c)))
}

// YawAbout returns the signed rotation in radians about the up axis, measured
// by how the transform turns a horizontal reference direction.
func (m Matrix4) YawAbout(up r3.Vector) float64 {
	u, v := planeBasis(up)
	d := m.ApplyDirection(u)
	return math.Atan2(d.Dot(v), d.Dot(u))
}

// IsFinite reports whether all entries are finite
func (m Matrix4) IsFinite() bool {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.IsNaN(m[i][j]) || math.IsInf(m[i][j], 0) {
				return false
			}
		}
	}
	return true
}

// ApproxEqual compares all entries within tol
func (m Matrix4) ApproxEqual(o Matrix4, tol float64) bool {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(m[i][j]-o[i][j]) > tol {
				return false
			}
		}
	}
	return true
}

// TransformPoints applies a transform to all points
func TransformPoints(points []r3.Vector, m Matrix4) []r3.Vector {
	result := make([]r3.Vector, len(points))
	for i, p := range points {
		result[i] = m.Apply(p)
	}
	return result
}

// Centroid calculates the center of mass of points
func Centroid(points []r3.Vector) r3.Vector {
	if len(points) == 0 {
		return r3.Vector{}
	}
	var sum r3.Vector
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Mul(1.0 / float64(len(points)))
}

// planeBasis returns an orthonormal pair spanning the plane perpendicular to
// up, oriented so that (u, v, up) is right-handed.
func planeBasis(up r3.Vector) (u, v r3.Vector) {
	n := up.Normalize()
	ref := r3.Vector{X: 1}
	if math.Abs(n.X) > math.Abs(n.Y) || math.Abs(n.X) > math.Abs(n.Z) {
		ref = r3.Vector{Y: 1}
		if math.Abs(n.Y) > math.Abs(n.Z) {
			ref = r3.Vector{Z: 1}
		}
	}
	u = ref.Sub(n.Mul(ref.Dot(n))).Normalize()
	v = n.Cross(u)
	return u, v
}

// isFinite reports whether a vector has only finite components
func isFinite(p r3.Vector) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsNaN(p.Z) &&
		!math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0) && !math.IsInf(p.Z, 0)
}
