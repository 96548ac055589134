package align

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
)

func TestSampler_PointsLieOnSurface(t *testing.T) {
	for _, mode := range []SampleMode{SampleUniform, SampleRandom} {
		t.Run(mode.String(), func(t *testing.T) {
			pc, err := NewSampler(mode, 3).Extract(planeMesh(2), 1000)
			if err != nil {
				t.Fatalf("Extract() error: %v", err)
			}
			if pc.Len() != 1000 {
				t.Fatalf("Len() = %d, want 1000", pc.Len())
			}
			if !pc.HasNormals() {
				t.Fatal("triangle samples should carry normals")
			}
			for i, p := range pc.Points {
				if p.X < -1e-9 || p.X > 2+1e-9 || p.Y < -1e-9 || p.Y > 2+1e-9 || math.Abs(p.Z) > 1e-9 {
					t.Fatalf("point %d %v is off the plane", i, p)
				}
				if math.Abs(math.Abs(pc.Normals[i].Z)-1) > 1e-9 {
					t.Fatalf("normal %d %v is not the face normal", i, pc.Normals[i])
				}
			}
		})
	}
}

func TestSampler_AreaWeighted(t *testing.T) {
	// Two separate quads, the second four times larger
	m := &Mesh{}
	addQuad(m, r3.Vector{}, r3.Vector{X: 1}, r3.Vector{Y: 1})
	addQuad(m, r3.Vector{X: 10}, r3.Vector{X: 2}, r3.Vector{Y: 2})

	for _, mode := range []SampleMode{SampleUniform, SampleRandom} {
		pc, err := NewSampler(mode, 11).Extract(m, 5000)
		if err != nil {
			t.Fatalf("%s: Extract() error: %v", mode, err)
		}
		small := 0
		for _, p := range pc.Points {
			if p.X < 5 {
				small++
			}
		}
		frac := float64(small) / float64(pc.Len())
		if math.Abs(frac-0.2) > 0.03 {
			t.Errorf("%s: %.3f of samples on the small quad, want about 0.2", mode, frac)
		}
	}
}

func TestSampler_UniformIsDeterministic(t *testing.T) {
	a, err := NewSampler(SampleUniform, 1).Extract(roomMesh(), 500)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewSampler(SampleUniform, 99).Extract(roomMesh(), 500)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Points {
		if a.Points[i] != b.Points[i] {
			t.Fatalf("point %d differs between runs: %v vs %v", i, a.Points[i], b.Points[i])
		}
	}
}

func TestSampler_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mesh    *Mesh
		count   int
		wantErr error
	}{
		{"zero count", planeMesh(1), 0, ErrInvalidInput},
		{"negative count", planeMesh(1), -5, ErrInvalidInput},
		{"no vertices", &Mesh{}, 10, ErrInsufficientGeometry},
		{"bad index", &Mesh{Vertices: []r3.Vector{{}}, Triangles: [][3]int{{0, 1, 2}}}, 10, ErrInvalidInput},
		{"nil mesh", nil, 10, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSampler(SampleUniform, 1).Extract(tt.mesh, tt.count)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSampler_VertexBufferFallback(t *testing.T) {
	m := &Mesh{}
	for i := 0; i < 50; i++ {
		m.Vertices = append(m.Vertices, r3.Vector{X: float64(i)})
	}

	pc, err := NewSampler(SampleUniform, 1).Extract(m, 20)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if pc.Len() != 20 {
		t.Errorf("Len() = %d, want 20", pc.Len())
	}

	all, err := NewSampler(SampleUniform, 1).Extract(m, 200)
	if err != nil {
		t.Fatal(err)
	}
	if all.Len() != 50 {
		t.Errorf("Len() = %d, want all 50 vertices", all.Len())
	}
}

func TestMesh_SurfaceArea(t *testing.T) {
	if got := planeMesh(3).SurfaceArea(); math.Abs(got-9) > 1e-12 {
		t.Errorf("SurfaceArea() = %v, want 9", got)
	}
}
