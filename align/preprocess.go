package align

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// PyramidParams controls multi-resolution preprocessing.
// Voxel sizes are FinestVoxel * LevelRatio^(Levels-1-i) for level i, so each
// coarse voxel is exactly a union of finer voxels.
type PyramidParams struct {
	Levels          int     `yaml:"levels" json:"levels"`
	FinestVoxel     float64 `yaml:"finestVoxel" json:"finestVoxel"`
	LevelRatio      int     `yaml:"levelRatio" json:"levelRatio"`
	NormalNeighbors int     `yaml:"normalNeighbors" json:"normalNeighbors"`
}

// DefaultPyramidParams returns a three level pyramid with 5cm finest voxels.
func DefaultPyramidParams() PyramidParams {
	return PyramidParams{
		Levels:          3,
		FinestVoxel:     0.05,
		LevelRatio:      2,
		NormalNeighbors: 12,
	}
}

// Validate rejects unusable pyramid settings
func (p PyramidParams) Validate() error {
	if p.Levels < 1 {
		return fmt.Errorf("pyramid levels must be >= 1, got %d: %w", p.Levels, ErrInvalidInput)
	}
	if p.FinestVoxel <= 0 || math.IsNaN(p.FinestVoxel) || math.IsInf(p.FinestVoxel, 0) {
		return fmt.Errorf("finest voxel must be positive, got %v: %w", p.FinestVoxel, ErrInvalidInput)
	}
	if p.Levels > 1 && p.LevelRatio < 2 {
		return fmt.Errorf("level ratio must be >= 2, got %d: %w", p.LevelRatio, ErrInvalidInput)
	}
	if p.NormalNeighbors < 3 {
		return fmt.Errorf("normal neighbors must be >= 3, got %d: %w", p.NormalNeighbors, ErrInvalidInput)
	}
	return nil
}

// levelFactors returns the integer voxel multiple of the finest voxel per level, coarsest first.
func (p PyramidParams) levelFactors() []int64 {
	factors := make([]int64, p.Levels)
	f := int64(1)
	for i := p.Levels - 1; i >= 0; i-- {
		factors[i] = f
		f *= int64(p.LevelRatio)
	}
	return factors
}

// VoxelSizes returns the voxel size of each level, coarsest first
func (p PyramidParams) VoxelSizes() []float64 {
	factors := p.levelFactors()
	sizes := make([]float64, len(factors))
	for i, f := range factors {
		sizes[i] = p.FinestVoxel * float64(f)
	}
	return sizes
}

// Pyramid holds downsampled clouds, index 0 being the coarsest.
type Pyramid []*PointCloud

// Coarsest returns level 0
func (p Pyramid) Coarsest() *PointCloud {
	if len(p) == 0 {
		return nil
	}
	return p[0]
}

// Finest returns the last level
func (p Pyramid) Finest() *PointCloud {
	if len(p) == 0 {
		return nil
	}
	return p[len(p)-1]
}

// Validate checks that voxel sizes strictly decrease and point counts never
// decrease from coarse to fine.
func (p Pyramid) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("empty pyramid: %w", ErrInvalidInput)
	}
	for i := 1; i < len(p); i++ {
		if p[i].VoxelSize >= p[i-1].VoxelSize {
			return fmt.Errorf("level %d voxel %.4f not finer than level %d voxel %.4f: %w",
				i, p[i].VoxelSize, i-1, p[i-1].VoxelSize, ErrInvalidInput)
		}
		if p[i].Len() < p[i-1].Len() {
			return fmt.Errorf("level %d has %d points, fewer than level %d with %d: %w",
				i, p[i].Len(), i-1, p[i-1].Len(), ErrInvalidInput)
		}
	}
	return nil
}

// Preprocessor builds voxel pyramids with normals.
type Preprocessor struct {
	// Parallelism bounds concurrently built levels; <= 0 means one goroutine per level.
	Parallelism int
}

// NewPreprocessor creates a preprocessor with unbounded level parallelism
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{}
}

// BuildPyramid downsamples raw points into params.Levels clouds and estimates
// oriented normals on each. Levels are independent and built concurrently;
// the result is deterministic.
func (pp *Preprocessor) BuildPyramid(ctx context.Context, raw []r3.Vector, up r3.Vector, params PyramidParams) (Pyramid, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if up.Norm2() == 0 || !isFinite(up) {
		return nil, fmt.Errorf("up vector %v: %w", up, ErrInvalidInput)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no points to preprocess: %w", ErrInsufficientGeometry)
	}
	for i, p := range raw {
		if !isFinite(p) {
			return nil, fmt.Errorf("point %d is not finite: %w", i, ErrInvalidInput)
		}
	}
	up = up.Normalize()

	// Finest grid keys are computed once; coarser keys are integer divisions
	// of them, which keeps voxels nested regardless of float rounding.
	origin := raw[0]
	for _, p := range raw {
		origin.X = math.Min(origin.X, p.X)
		origin.Y = math.Min(origin.Y, p.Y)
		origin.Z = math.Min(origin.Z, p.Z)
	}
	fineKeys := make([]voxelKey, len(raw))
	for i, p := range raw {
		d := p.Sub(origin).Mul(1.0 / params.FinestVoxel)
		fineKeys[i] = voxelKey{int64(math.Floor(d.X)), int64(math.Floor(d.Y)), int64(math.Floor(d.Z))}
	}

	sizes := params.VoxelSizes()
	factors := params.levelFactors()
	pyramid := make(Pyramid, params.Levels)

	g, gctx := errgroup.WithContext(ctx)
	if pp.Parallelism > 0 {
		g.SetLimit(pp.Parallelism)
	}
	for level := range pyramid {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			points := voxelDownsample(raw, fineKeys, factors[level])
			normals, err := estimateNormals(gctx, points, params.NormalNeighbors, up)
			if err != nil {
				return err
			}
			pyramid[level] = &PointCloud{
				Points:    points,
				Normals:   normals,
				VoxelSize: sizes[level],
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("building pyramid: %w", err)
	}

	counts := make([]int, len(pyramid))
	for i, pc := range pyramid {
		counts[i] = pc.Len()
	}
	log.Printf("[PREPROCESS] %d raw points -> levels %v (voxels %v)", len(raw), counts, sizes)

	return pyramid, pyramid.Validate()
}

type voxelKey [3]int64

func (k voxelKey) less(o voxelKey) bool {
	if k[0] != o[0] {
		return k[0] < o[0]
	}
	if k[1] != o[1] {
		return k[1] < o[1]
	}
	return k[2] < o[2]
}

// floorDiv divides rounding towards negative infinity
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// voxelDownsample replaces the points of each occupied voxel by their
// centroid. Output is ordered by voxel key.
func voxelDownsample(raw []r3.Vector, fineKeys []voxelKey, factor int64) []r3.Vector {
	type accum struct {
		sum   r3.Vector
		count int
	}
	cells := make(map[voxelKey]*accum)
	for i, p := range raw {
		fk := fineKeys[i]
		key := voxelKey{floorDiv(fk[0], factor), floorDiv(fk[1], factor), floorDiv(fk[2], factor)}
		a, ok := cells[key]
		if !ok {
			a = &accum{}
			cells[key] = a
		}
		a.sum = a.sum.Add(p)
		a.count++
	}

	keys := make([]voxelKey, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	points := make([]r3.Vector, len(keys))
	for i, k := range keys {
		a := cells[k]
		points[i] = a.sum.Mul(1.0 / float64(a.count))
	}
	return points
}

// VoxelDownsample downsamples points on a grid anchored at their minimum corner.
func VoxelDownsample(points []r3.Vector, voxel float64) []r3.Vector {
	if len(points) == 0 || voxel <= 0 {
		return points
	}
	origin := points[0]
	for _, p := range points {
		origin.X = math.Min(origin.X, p.X)
		origin.Y = math.Min(origin.Y, p.Y)
		origin.Z = math.Min(origin.Z, p.Z)
	}
	keys := make([]voxelKey, len(points))
	for i, p := range points {
		d := p.Sub(origin).Mul(1.0 / voxel)
		keys[i] = voxelKey{int64(math.Floor(d.X)), int64(math.Floor(d.Y)), int64(math.Floor(d.Z))}
	}
	return voxelDownsample(points, keys, 1)
}

// horizontalNormalCos is the |n.up| below which a normal counts as horizontal
// and is oriented away from the cloud centroid instead of along up.
const horizontalNormalCos = 0.1

// estimateNormals fits a plane to the k nearest neighbours of every point
// (PCA, smallest eigenvector).
func estimateNormals(ctx context.Context, points []r3.Vector, k int, up r3.Vector) ([]r3.Vector, error) {
	normals := make([]r3.Vector, len(points))
	if len(points) == 0 {
		return normals, nil
	}
	if k > len(points) {
		k = len(points)
	}
	index := NewNearestIndex(points)
	centroid := Centroid(points)

	cov := mat.NewSymDense(3, nil)
	var eig mat.EigenSym
	var vecs mat.Dense
	neighbours := make([]r3.Vector, 0, k)

	for i, p := range points {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		neighbours = neighbours[:0]
		for _, idx := range index.KNearest(p, k) {
			neighbours = append(neighbours, points[idx])
		}

		n := up
		if len(neighbours) >= 3 {
			c := Centroid(neighbours)
			var xx, xy, xz, yy, yz, zz float64
			for _, q := range neighbours {
				d := q.Sub(c)
				xx += d.X * d.X
				xy += d.X * d.Y
				xz += d.X * d.Z
				yy += d.Y * d.Y
				yz += d.Y * d.Z
				zz += d.Z * d.Z
			}
			cov.SetSym(0, 0, xx)
			cov.SetSym(0, 1, xy)
			cov.SetSym(0, 2, xz)
			cov.SetSym(1, 1, yy)
			cov.SetSym(1, 2, yz)
			cov.SetSym(2, 2, zz)

			if eig.Factorize(cov, true) {
				eig.VectorsTo(&vecs)
				// Eigenvalues are ascending; column 0 is the plane normal
				cand := r3.Vector{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}.Normalize()
				if cand.Norm2() > 0 && isFinite(cand) {
					n = cand
				}
			}
		}
		normals[i] = orientNormal(n, p, centroid, up)
	}
	return normals, nil
}

// orientNormal flips n towards up, or for near-horizontal normals away from
// the centroid.
func orientNormal(n, p, centroid, up r3.Vector) r3.Vector {
	d := n.Dot(up)
	if math.Abs(d) < horizontalNormalCos {
		if n.Dot(p.Sub(centroid)) < 0 {
			return n.Mul(-1)
		}
		return n
	}
	if d < 0 {
		return n.Mul(-1)
	}
	return n
}
