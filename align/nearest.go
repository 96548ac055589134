package align

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// indexedPoint is a kd-tree entry remembering its position in the source cloud.
type indexedPoint struct {
	v   [3]float64
	idx int
}

func newIndexedPoint(p r3.Vector, idx int) indexedPoint {
	return indexedPoint{v: [3]float64{p.X, p.Y, p.Z}, idx: idx}
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	return p.v[d] - q.v[d]
}

func (p indexedPoint) Dims() int { return 3 }

// Distance returns the squared euclidean distance, as the tree expects.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	dx := p.v[0] - q.v[0]
	dy := p.v[1] - q.v[1]
	dz := p.v[2] - q.v[2]
	return dx*dx + dy*dy + dz*dz
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p indexedPoints) Len() int                      { return len(p) }
func (p indexedPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}
func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return pointPlane{Dim: d, points: p}.Pivot()
}

// pointPlane sorts a slice of points along one dimension for median partitioning.
type pointPlane struct {
	kdtree.Dim
	points indexedPoints
}

func (p pointPlane) Less(i, j int) bool {
	return p.points[i].v[p.Dim] < p.points[j].v[p.Dim]
}
func (p pointPlane) Swap(i, j int) {
	p.points[i], p.points[j] = p.points[j], p.points[i]
}
func (p pointPlane) Len() int { return len(p.points) }
func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{Dim: p.Dim, points: p.points[start:end]}
}
func (p pointPlane) Pivot() int {
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

// NearestIndex answers nearest-neighbour queries over a fixed point set.
// It is read-only after construction and safe for concurrent queries.
type NearestIndex struct {
	tree *kdtree.Tree
	n    int
}

// NewNearestIndex builds a kd-tree over points.
func NewNearestIndex(points []r3.Vector) *NearestIndex {
	if len(points) == 0 {
		return &NearestIndex{}
	}
	entries := make(indexedPoints, len(points))
	for i, p := range points {
		entries[i] = newIndexedPoint(p, i)
	}
	return &NearestIndex{tree: kdtree.New(entries, false), n: len(points)}
}

// Len returns the number of indexed points
func (ni *NearestIndex) Len() int {
	return ni.n
}

// Nearest returns the index of and distance to the closest indexed point.
// ok is false for an empty index.
func (ni *NearestIndex) Nearest(q r3.Vector) (idx int, dist float64, ok bool) {
	if ni.tree == nil || ni.n == 0 {
		return -1, math.Inf(1), false
	}
	c, d2 := ni.tree.Nearest(newIndexedPoint(q, -1))
	if c == nil {
		return -1, math.Inf(1), false
	}
	return c.(indexedPoint).idx, math.Sqrt(d2), true
}

// KNearest returns the indices of up to k closest points, nearest first.
func (ni *NearestIndex) KNearest(q r3.Vector, k int) []int {
	if ni.tree == nil || k <= 0 {
		return nil
	}
	keeper := kdtree.NewNKeeper(k)
	ni.tree.NearestSet(keeper, newIndexedPoint(q, -1))

	found := make([]kdtree.ComparableDist, 0, k)
	for _, c := range keeper.Heap {
		if c.Comparable == nil {
			continue
		}
		found = append(found, c)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Dist < found[j].Dist })

	result := make([]int, len(found))
	for i, c := range found {
		result[i] = c.Comparable.(indexedPoint).idx
	}
	return result
}
