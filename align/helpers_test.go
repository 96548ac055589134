package align

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
)

// addQuad appends two triangles spanning the rectangle origin + s*a + t*b, s,t in [0,1]
func addQuad(m *Mesh, origin, a, b r3.Vector) {
	base := len(m.Vertices)
	m.Vertices = append(m.Vertices,
		origin,
		origin.Add(a),
		origin.Add(a).Add(b),
		origin.Add(b),
	)
	m.Triangles = append(m.Triangles,
		[3]int{base, base + 1, base + 2},
		[3]int{base, base + 2, base + 3},
	)
}

// roomMesh is an asymmetric corner of a room: a 4x3 floor, two walls and a
// box, so that no yaw other than the true one overlaps well.
func roomMesh() *Mesh {
	m := &Mesh{}
	x := r3.Vector{X: 1}
	y := r3.Vector{Y: 1}
	z := r3.Vector{Z: 1}

	addQuad(m, r3.Vector{}, x.Mul(4), y.Mul(3)) // floor
	addQuad(m, r3.Vector{}, y.Mul(3), z.Mul(2)) // wall along y
	addQuad(m, r3.Vector{}, x.Mul(4), z.Mul(2)) // wall along x
	box := r3.Vector{X: 2.5, Y: 1.8}
	addQuad(m, box.Add(z.Mul(0.6)), x.Mul(0.6), y.Mul(0.6)) // box top
	addQuad(m, box, x.Mul(0.6), z.Mul(0.6))
	addQuad(m, box.Add(y.Mul(0.6)), x.Mul(0.6), z.Mul(0.6))
	addQuad(m, box, y.Mul(0.6), z.Mul(0.6))
	addQuad(m, box.Add(x.Mul(0.6)), y.Mul(0.6), z.Mul(0.6))
	return m
}

// planeMesh is a flat size x size square at height 0
func planeMesh(size float64) *Mesh {
	m := &Mesh{}
	addQuad(m, r3.Vector{}, r3.Vector{X: size}, r3.Vector{Y: size})
	return m
}

// sampleRoom samples the room surface with a seeded random sampler
func sampleRoom(t *testing.T, count int, seed int64) *PointCloud {
	t.Helper()
	pc, err := NewSampler(SampleRandom, seed).Extract(roomMesh(), count)
	if err != nil {
		t.Fatalf("sampling room: %v", err)
	}
	return pc
}

// randomCloud returns count points uniformly inside a cube of the given size
func randomCloud(rng *rand.Rand, count int, size float64) []r3.Vector {
	points := make([]r3.Vector, count)
	for i := range points {
		points[i] = r3.Vector{
			X: rng.Float64() * size,
			Y: rng.Float64() * size,
			Z: rng.Float64() * size,
		}
	}
	return points
}

// smallPyramid keeps test pyramids coarse enough to refine quickly
func smallPyramid() PyramidParams {
	return PyramidParams{Levels: 2, FinestVoxel: 0.1, LevelRatio: 2, NormalNeighbors: 8}
}

func yawDegrees(m Matrix4) float64 {
	return m.YawAbout(r3.Vector{Z: 1}) * 180 / math.Pi
}

func angleDiffDeg(a, b float64) float64 {
	d := math.Mod(a-b+540, 360) - 180
	return math.Abs(d)
}
