package align

import (
	"fmt"

	"github.com/golang/geo/r3"
)

// Mesh is an indexed triangle mesh in world space. A mesh with vertices but
// no triangles is treated as a bare vertex buffer.
type Mesh struct {
	Vertices  []r3.Vector `json:"vertices"`
	Triangles [][3]int    `json:"triangles,omitempty"`
}

// Validate checks that every triangle index refers to a vertex
func (m *Mesh) Validate() error {
	if m == nil {
		return fmt.Errorf("nil mesh: %w", ErrInvalidInput)
	}
	for i, p := range m.Vertices {
		if !isFinite(p) {
			return fmt.Errorf("vertex %d is not finite: %w", i, ErrInvalidInput)
		}
	}
	for i, tri := range m.Triangles {
		for _, idx := range tri {
			if idx < 0 || idx >= len(m.Vertices) {
				return fmt.Errorf("triangle %d references vertex %d of %d: %w", i, idx, len(m.Vertices), ErrInvalidInput)
			}
		}
	}
	return nil
}

// triangleArea returns the area and unit normal of triangle i
func (m *Mesh) triangleArea(i int) (float64, r3.Vector) {
	tri := m.Triangles[i]
	a, b, c := m.Vertices[tri[0]], m.Vertices[tri[1]], m.Vertices[tri[2]]
	cross := b.Sub(a).Cross(c.Sub(a))
	return cross.Norm() / 2, cross.Normalize()
}

// SurfaceArea sums the triangle areas
func (m *Mesh) SurfaceArea() float64 {
	total := 0.0
	for i := range m.Triangles {
		area, _ := m.triangleArea(i)
		total += area
	}
	return total
}
