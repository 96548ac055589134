package align

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
)

// meshDoc is the JSON mesh file layout
type meshDoc struct {
	Vertices  [][3]float64 `json:"vertices"`
	Triangles [][3]int     `json:"triangles,omitempty"`
}

// ScanDoc is the JSON layout of scan files and MQTT scan payloads
type ScanDoc struct {
	Up     *[3]float64  `json:"up,omitempty"`
	Points [][3]float64 `json:"points"`
}

// Scan is a raw captured point set with its gravity-aligned up axis
type Scan struct {
	Points []r3.Vector
	Up     r3.Vector
}

func toVector(c [3]float64) r3.Vector {
	return r3.Vector{X: c[0], Y: c[1], Z: c[2]}
}

func fromVector(v r3.Vector) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// ParseMeshFile reads a mesh from .obj, .json or .xyz
func ParseMeshFile(path string) (*Mesh, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return ParseMeshData(data, filepath.Ext(path))
}

// ParseMeshData parses mesh bytes in the format named by ext
func ParseMeshData(data []byte, ext string) (*Mesh, error) {
	switch strings.ToLower(ext) {
	case ".obj":
		return ParseOBJ(data)
	case ".json":
		return ParseMeshJSON(data)
	case ".xyz", ".txt":
		points, err := parseXYZ(data)
		if err != nil {
			return nil, err
		}
		return &Mesh{Vertices: points}, nil
	default:
		return nil, fmt.Errorf("unsupported mesh format %q: %w", ext, ErrInvalidInput)
	}
}

// ParseMeshJSON parses {"vertices": [[x,y,z],...], "triangles": [[i,j,k],...]}
func ParseMeshJSON(data []byte) (*Mesh, error) {
	var doc meshDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	m := &Mesh{
		Vertices:  make([]r3.Vector, len(doc.Vertices)),
		Triangles: doc.Triangles,
	}
	for i, v := range doc.Vertices {
		m.Vertices[i] = toVector(v)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// MarshalMeshJSON writes a mesh in the ParseMeshJSON layout
func MarshalMeshJSON(m *Mesh) ([]byte, error) {
	doc := meshDoc{
		Vertices:  make([][3]float64, len(m.Vertices)),
		Triangles: m.Triangles,
	}
	for i, v := range m.Vertices {
		doc.Vertices[i] = fromVector(v)
	}
	return json.Marshal(doc)
}

// ParseOBJ reads vertex and face records of a Wavefront OBJ file. Polygons
// are fan-triangulated; texture and normal indices are ignored.
func ParseOBJ(data []byte) (*Mesh, error) {
	m := &Mesh{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: vertex needs 3 coordinates: %w", line, ErrInvalidInput)
			}
			var c [3]float64
			for i := 0; i < 3; i++ {
				f, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: %v: %w", line, err, ErrInvalidInput)
				}
				c[i] = f
			}
			m.Vertices = append(m.Vertices, toVector(c))
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face needs 3 vertices: %w", line, ErrInvalidInput)
			}
			idx := make([]int, 0, len(fields)-1)
			for _, f := range fields[1:] {
				ref := strings.SplitN(f, "/", 2)[0]
				n, err := strconv.Atoi(ref)
				if err != nil {
					return nil, fmt.Errorf("line %d: %v: %w", line, err, ErrInvalidInput)
				}
				// OBJ indices are 1-based; negative ones count back from the end
				if n < 0 {
					n = len(m.Vertices) + n
				} else {
					n--
				}
				idx = append(idx, n)
			}
			for i := 1; i+1 < len(idx); i++ {
				m.Triangles = append(m.Triangles, [3]int{idx[0], idx[i], idx[i+1]})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading OBJ: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseScanFile reads a scan from .xyz or from JSON, optionally gzip or
// zlib compressed
func ParseScanFile(path string) (*Scan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return ParseScanData(data, filepath.Ext(path))
}

// ParseScanData parses scan bytes; ext selects the .xyz text format
func ParseScanData(data []byte, ext string) (*Scan, error) {
	switch strings.ToLower(ext) {
	case ".xyz", ".txt":
		points, err := parseXYZ(data)
		if err != nil {
			return nil, err
		}
		return &Scan{Points: points, Up: r3.Vector{Z: 1}}, nil
	default:
		return DecodeScanPayload(data)
	}
}

// ParseScanJSON parses a ScanDoc. A missing up axis defaults to +Z.
func ParseScanJSON(data []byte) (*Scan, error) {
	var doc ScanDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	scan := &Scan{
		Points: make([]r3.Vector, len(doc.Points)),
		Up:     r3.Vector{Z: 1},
	}
	for i, p := range doc.Points {
		scan.Points[i] = toVector(p)
	}
	if doc.Up != nil {
		scan.Up = toVector(*doc.Up)
		if scan.Up.Norm2() == 0 {
			return nil, fmt.Errorf("scan up axis is zero: %w", ErrInvalidInput)
		}
	}
	return scan, nil
}

// MarshalScanJSON writes a scan in the ParseScanJSON layout
func MarshalScanJSON(s *Scan) ([]byte, error) {
	up := fromVector(s.Up)
	doc := ScanDoc{Up: &up, Points: make([][3]float64, len(s.Points))}
	for i, p := range s.Points {
		doc.Points[i] = fromVector(p)
	}
	return json.Marshal(doc)
}

// parseXYZ reads whitespace or comma separated "x y z" lines; extra columns are ignored.
func parseXYZ(data []byte) ([]r3.Vector, error) {
	var points []r3.Vector
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool { return r == ' ' || r == '\t' || r == ',' })
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: expected x y z: %w", line, ErrInvalidInput)
		}
		var c [3]float64
		for i := 0; i < 3; i++ {
			f, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %v: %w", line, err, ErrInvalidInput)
			}
			c[i] = f
		}
		points = append(points, toVector(c))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading points: %w", err)
	}
	return points, nil
}

// CloudSummary provides a summary of a point cloud
type CloudSummary struct {
	Points     int
	HasNormals bool
	Centroid   r3.Vector
	Min        r3.Vector
	Max        r3.Vector
	Diagonal   float64
	VoxelSize  float64
}

// Summarize extracts key information from a cloud
func Summarize(pc *PointCloud) CloudSummary {
	min, max := pc.Bounds()
	return CloudSummary{
		Points:     pc.Len(),
		HasNormals: pc.HasNormals(),
		Centroid:   pc.Centroid(),
		Min:        min,
		Max:        max,
		Diagonal:   max.Sub(min).Norm(),
		VoxelSize:  pc.VoxelSize,
	}
}
