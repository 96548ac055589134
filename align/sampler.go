package align

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/golang/geo/r3"
)

// SampleMode selects how surface points are drawn from a mesh
type SampleMode int

const (
	// SampleUniform spreads samples evenly over the surface area. Repeated
	// calls on the same mesh return the same points.
	SampleUniform SampleMode = iota
	// SampleRandom draws area-weighted random samples from the sampler's RNG.
	SampleRandom
)

// String returns the config name of the mode
func (m SampleMode) String() string {
	switch m {
	case SampleUniform:
		return "uniform"
	case SampleRandom:
		return "random"
	default:
		return fmt.Sprintf("SampleMode(%d)", int(m))
	}
}

// R2 low-discrepancy sequence constants (inverse plastic number powers)
const (
	r2Alpha1 = 0.7548776662466927
	r2Alpha2 = 0.5698402909980532
)

// Sampler extracts point clouds from meshes. A Sampler in random mode is not
// safe for concurrent use.
type Sampler struct {
	Mode SampleMode
	RNG  *rand.Rand
}

// NewSampler creates a sampler; seed is only used in random mode.
func NewSampler(mode SampleMode, seed int64) *Sampler {
	return &Sampler{
		Mode: mode,
		RNG:  rand.New(rand.NewSource(seed)),
	}
}

// Extract samples sampleCount points from the mesh surface in world space.
// Triangle samples carry the face normal.
func (s *Sampler) Extract(m *Mesh, sampleCount int) (*PointCloud, error) {
	if sampleCount <= 0 {
		return nil, fmt.Errorf("sample count %d: %w", sampleCount, ErrInvalidInput)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if len(m.Vertices) == 0 {
		return nil, fmt.Errorf("mesh has no vertices: %w", ErrInsufficientGeometry)
	}

	// Cumulative area table for area-weighted triangle selection
	cumulative := make([]float64, 0, len(m.Triangles))
	triIndex := make([]int, 0, len(m.Triangles))
	normals := make([]r3.Vector, 0, len(m.Triangles))
	total := 0.0
	for i := range m.Triangles {
		area, n := m.triangleArea(i)
		if area <= 0 || math.IsNaN(area) {
			continue
		}
		total += area
		cumulative = append(cumulative, total)
		triIndex = append(triIndex, i)
		normals = append(normals, n)
	}

	if total == 0 {
		// Bare vertex buffer or fully degenerate triangles
		vertices := &PointCloud{Points: m.Vertices}
		return vertices.Subsample(sampleCount), nil
	}

	rng := s.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	pc := &PointCloud{
		Points:  make([]r3.Vector, sampleCount),
		Normals: make([]r3.Vector, sampleCount),
	}
	for i := 0; i < sampleCount; i++ {
		var target, r1, r2 float64
		switch s.Mode {
		case SampleRandom:
			target = rng.Float64() * total
			r1, r2 = rng.Float64(), rng.Float64()
		default:
			target = (float64(i) + 0.5) / float64(sampleCount) * total
			r1 = frac(0.5 + float64(i)*r2Alpha1)
			r2 = frac(0.5 + float64(i)*r2Alpha2)
		}

		k := sort.SearchFloat64s(cumulative, target)
		if k >= len(cumulative) {
			k = len(cumulative) - 1
		}
		tri := m.Triangles[triIndex[k]]
		pc.Points[i] = barycentric(m.Vertices[tri[0]], m.Vertices[tri[1]], m.Vertices[tri[2]], r1, r2)
		pc.Normals[i] = normals[k]
	}
	return pc, nil
}

// barycentric maps (r1, r2) in the unit square uniformly onto triangle abc
func barycentric(a, b, c r3.Vector, r1, r2 float64) r3.Vector {
	sq := math.Sqrt(r1)
	wa := 1 - sq
	wb := sq * (1 - r2)
	wc := sq * r2
	return a.Mul(wa).Add(b.Mul(wb)).Add(c.Mul(wc))
}

func frac(x float64) float64 {
	return x - math.Floor(x)
}
