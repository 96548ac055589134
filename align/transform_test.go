package align

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
)

func vecNear(a, b r3.Vector, tol float64) bool {
	return a.Sub(b).Norm() <= tol
}

func TestIdentity_Apply(t *testing.T) {
	p := r3.Vector{X: 1.5, Y: -2, Z: 3}
	if got := Identity().Apply(p); got != p {
		t.Errorf("Identity().Apply(%v) = %v", p, got)
	}
}

func TestMul_AppliesRightOperandFirst(t *testing.T) {
	rot := RotationDeg(r3.Vector{Z: 1}, 90)
	move := Translation(r3.Vector{X: 1})
	p := r3.Vector{X: 1}

	// rotate then translate: (1,0,0) -> (0,1,0) -> (1,1,0)
	got := move.Mul(rot).Apply(p)
	if !vecNear(got, r3.Vector{X: 1, Y: 1}, 1e-12) {
		t.Errorf("move.Mul(rot) = %v, want (1,1,0)", got)
	}
	// translate then rotate: (1,0,0) -> (2,0,0) -> (0,2,0)
	got = rot.Mul(move).Apply(p)
	if !vecNear(got, r3.Vector{Y: 2}, 1e-12) {
		t.Errorf("rot.Mul(move) = %v, want (0,2,0)", got)
	}
}

func TestRotation_ZeroAxis(t *testing.T) {
	if !Rotation(r3.Vector{}, 1.2).ApproxEqual(Identity(), 0) {
		t.Error("zero axis should give identity")
	}
}

func TestInverse_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		axis := r3.Vector{X: rng.Float64() - 0.5, Y: rng.Float64() - 0.5, Z: rng.Float64() - 0.5}
		m := Translation(r3.Vector{X: rng.Float64() * 10, Y: -rng.Float64(), Z: 2}).
			Mul(Rotation(axis, rng.Float64()*2*math.Pi)).
			Mul(UniformScale(0.5 + rng.Float64()))

		inv, ok := m.Inverse()
		if !ok {
			t.Fatalf("case %d: matrix should be invertible", i)
		}
		if !inv.Mul(m).ApproxEqual(Identity(), 1e-9) {
			t.Errorf("case %d: inv*m != identity: %v", i, inv.Mul(m))
		}
	}
}

func TestInverse_Singular(t *testing.T) {
	if _, ok := UniformScale(0).Inverse(); ok {
		t.Error("zero scale should not be invertible")
	}
}

func TestYawAbout(t *testing.T) {
	tests := []struct {
		name string
		m    Matrix4
		want float64
	}{
		{"identity", Identity(), 0},
		{"yaw 30", RotationDeg(r3.Vector{Z: 1}, 30), 30},
		{"yaw -100", RotationDeg(r3.Vector{Z: 1}, -100), -100},
		{"translated", Translation(r3.Vector{X: 5}).Mul(RotationDeg(r3.Vector{Z: 1}, 45)), 45},
		{"scaled", UniformScale(2).Mul(RotationDeg(r3.Vector{Z: 1}, 60)), 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := yawDegrees(tt.m); angleDiffDeg(got, tt.want) > 1e-9 {
				t.Errorf("yaw = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestYawAbout_YUp(t *testing.T) {
	up := r3.Vector{Y: 1}
	m := RotationDeg(up, 25)
	if got := m.YawAbout(up) * 180 / math.Pi; math.Abs(got-25) > 1e-9 {
		t.Errorf("yaw about +Y = %v, want 25", got)
	}
}

func TestScaleAndRotationAngle(t *testing.T) {
	m := UniformScale(1.5).Mul(RotationDeg(r3.Vector{X: 1, Y: 1}, 40))
	if math.Abs(m.Scale()-1.5) > 1e-12 {
		t.Errorf("Scale() = %v, want 1.5", m.Scale())
	}
	if got := m.RotationAngle() * 180 / math.Pi; math.Abs(got-40) > 1e-9 {
		t.Errorf("RotationAngle() = %v°, want 40°", got)
	}
}

func TestIsFinite(t *testing.T) {
	m := Identity()
	if !m.IsFinite() {
		t.Error("identity should be finite")
	}
	m[1][3] = math.NaN()
	if m.IsFinite() {
		t.Error("NaN entry should not be finite")
	}
}

func TestPlaneBasis_Orthonormal(t *testing.T) {
	for _, up := range []r3.Vector{{Z: 1}, {Y: 1}, {X: 1}, {X: 1, Y: 2, Z: -0.5}} {
		u, v := planeBasis(up)
		n := up.Normalize()
		if math.Abs(u.Norm()-1) > 1e-12 || math.Abs(v.Norm()-1) > 1e-12 {
			t.Errorf("up %v: basis not unit: %v %v", up, u, v)
		}
		if math.Abs(u.Dot(v)) > 1e-12 || math.Abs(u.Dot(n)) > 1e-12 || math.Abs(v.Dot(n)) > 1e-12 {
			t.Errorf("up %v: basis not orthogonal", up)
		}
		if u.Cross(v).Dot(n) < 0.999 {
			t.Errorf("up %v: basis not right-handed", up)
		}
	}
}

func TestCentroid(t *testing.T) {
	if got := Centroid(nil); got != (r3.Vector{}) {
		t.Errorf("Centroid(nil) = %v", got)
	}
	got := Centroid([]r3.Vector{{X: 0}, {X: 2, Y: 4}, {X: 4, Z: 3}})
	if !vecNear(got, r3.Vector{X: 2, Y: 4.0 / 3, Z: 1}, 1e-12) {
		t.Errorf("Centroid = %v", got)
	}
}
