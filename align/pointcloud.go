package align

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// PointCloud is an immutable set of 3D points with optional per-point
// normals. VoxelSize records the grid spacing the cloud was downsampled at
// (0 for raw clouds).
type PointCloud struct {
	Points    []r3.Vector `json:"points"`
	Normals   []r3.Vector `json:"normals,omitempty"`
	VoxelSize float64     `json:"voxelSize,omitempty"`
}

// NewPointCloud validates and wraps points and optional normals.
func NewPointCloud(points, normals []r3.Vector) (*PointCloud, error) {
	pc := &PointCloud{Points: points, Normals: normals}
	if err := pc.Validate(); err != nil {
		return nil, err
	}
	return pc, nil
}

// Validate checks the normals/points length invariant and rejects non-finite values.
func (pc *PointCloud) Validate() error {
	if pc == nil {
		return fmt.Errorf("nil point cloud: %w", ErrInvalidInput)
	}
	if len(pc.Normals) != 0 && len(pc.Normals) != len(pc.Points) {
		return fmt.Errorf("%d normals for %d points: %w", len(pc.Normals), len(pc.Points), ErrInvalidInput)
	}
	for i, p := range pc.Points {
		if !isFinite(p) {
			return fmt.Errorf("point %d is not finite: %w", i, ErrInvalidInput)
		}
	}
	for i, n := range pc.Normals {
		if !isFinite(n) {
			return fmt.Errorf("normal %d is not finite: %w", i, ErrInvalidInput)
		}
	}
	return nil
}

// Len returns the number of points
func (pc *PointCloud) Len() int {
	if pc == nil {
		return 0
	}
	return len(pc.Points)
}

// HasNormals reports whether every point carries a normal
func (pc *PointCloud) HasNormals() bool {
	return pc != nil && len(pc.Normals) > 0 && len(pc.Normals) == len(pc.Points)
}

// Centroid returns the mean point
func (pc *PointCloud) Centroid() r3.Vector {
	return Centroid(pc.Points)
}

// Bounds returns the axis-aligned bounding box. Empty clouds return zero vectors.
func (pc *PointCloud) Bounds() (min, max r3.Vector) {
	if pc.Len() == 0 {
		return r3.Vector{}, r3.Vector{}
	}
	min = r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	max = r3.Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, p := range pc.Points {
		min.X = math.Min(min.X, p.X)
		min.Y = math.Min(min.Y, p.Y)
		min.Z = math.Min(min.Z, p.Z)
		max.X = math.Max(max.X, p.X)
		max.Y = math.Max(max.Y, p.Y)
		max.Z = math.Max(max.Z, p.Z)
	}
	return min, max
}

// Diagonal returns the length of the bounding box diagonal
func (pc *PointCloud) Diagonal() float64 {
	min, max := pc.Bounds()
	return max.Sub(min).Norm()
}

// Transformed returns a new cloud with points and normals moved by m.
func (pc *PointCloud) Transformed(m Matrix4) *PointCloud {
	out := &PointCloud{
		Points:    TransformPoints(pc.Points, m),
		VoxelSize: pc.VoxelSize,
	}
	if pc.HasNormals() {
		out.Normals = make([]r3.Vector, len(pc.Normals))
		for i, n := range pc.Normals {
			out.Normals[i] = m.ApplyDirection(n)
		}
	}
	return out
}

// Subsample returns at most max points picked at a uniform stride. The result
// is deterministic and keeps normals aligned.
func (pc *PointCloud) Subsample(max int) *PointCloud {
	if max <= 0 || pc.Len() <= max {
		return pc
	}
	out := &PointCloud{
		Points:    make([]r3.Vector, max),
		VoxelSize: pc.VoxelSize,
	}
	if pc.HasNormals() {
		out.Normals = make([]r3.Vector, max)
	}
	step := 1.0
	if max > 1 {
		step = float64(pc.Len()-1) / float64(max-1)
	}
	for i := 0; i < max; i++ {
		idx := int(float64(i) * step)
		out.Points[i] = pc.Points[idx]
		if out.Normals != nil {
			out.Normals[i] = pc.Normals[idx]
		}
	}
	return out
}
