package align

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
)

func TestParseOBJ(t *testing.T) {
	data := []byte(`# a quad and a triangle using relative indices
o sample
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vn 0 0 1
f 1/1/1 2/1/1 3/1/1 4/1/1
v 2 0 0
f -1 -4 -3
`)
	m, err := ParseOBJ(data)
	if err != nil {
		t.Fatalf("ParseOBJ() error: %v", err)
	}
	if len(m.Vertices) != 5 {
		t.Fatalf("len(Vertices) = %d, want 5", len(m.Vertices))
	}
	want := [][3]int{{0, 1, 2}, {0, 2, 3}, {4, 1, 2}}
	if len(m.Triangles) != len(want) {
		t.Fatalf("Triangles = %v, want %v", m.Triangles, want)
	}
	for i := range want {
		if m.Triangles[i] != want[i] {
			t.Errorf("Triangles[%d] = %v, want %v", i, m.Triangles[i], want[i])
		}
	}
}

func TestParseOBJ_Errors(t *testing.T) {
	tests := map[string]string{
		"short vertex":    "v 1 2\n",
		"bad coordinate":  "v 1 x 3\n",
		"short face":      "v 0 0 0\nv 1 0 0\nf 1 2\n",
		"bad face index":  "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 q\n",
		"index too large": "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 9\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseOBJ([]byte(input)); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestMeshJSON_RoundTrip(t *testing.T) {
	data, err := MarshalMeshJSON(roomMesh())
	if err != nil {
		t.Fatal(err)
	}
	m, err := ParseMeshJSON(data)
	if err != nil {
		t.Fatalf("ParseMeshJSON() error: %v", err)
	}
	if len(m.Triangles) != len(roomMesh().Triangles) {
		t.Errorf("len(Triangles) = %d, want %d", len(m.Triangles), len(roomMesh().Triangles))
	}
	if m.SurfaceArea() != roomMesh().SurfaceArea() {
		t.Errorf("SurfaceArea() = %v, want %v", m.SurfaceArea(), roomMesh().SurfaceArea())
	}

	if _, err := ParseMeshJSON([]byte(`{"vertices":[[0,0,0]],"triangles":[[0,1,2]]}`)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("out of range triangle: err = %v, want ErrInvalidInput", err)
	}
}

func TestParseScanJSON(t *testing.T) {
	scan, err := ParseScanJSON([]byte(`{"points":[[1,2,3],[4,5,6]]}`))
	if err != nil {
		t.Fatalf("ParseScanJSON() error: %v", err)
	}
	if scan.Up != (r3.Vector{Z: 1}) {
		t.Errorf("Up = %v, want default +Z", scan.Up)
	}
	if len(scan.Points) != 2 || scan.Points[1] != (r3.Vector{X: 4, Y: 5, Z: 6}) {
		t.Errorf("Points = %v", scan.Points)
	}

	scan, err = ParseScanJSON([]byte(`{"up":[0,1,0],"points":[]}`))
	if err != nil {
		t.Fatal(err)
	}
	if scan.Up != (r3.Vector{Y: 1}) {
		t.Errorf("Up = %v, want +Y", scan.Up)
	}

	if _, err := ParseScanJSON([]byte(`{"up":[0,0,0],"points":[]}`)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero up: err = %v, want ErrInvalidInput", err)
	}
	if _, err := ParseScanJSON([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestScanJSON_RoundTrip(t *testing.T) {
	in := &Scan{Points: []r3.Vector{{X: 1}, {Y: 2}}, Up: r3.Vector{Y: 1}}
	data, err := MarshalScanJSON(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := ParseScanJSON(data)
	if err != nil {
		t.Fatal(err)
	}
	if out.Up != in.Up || len(out.Points) != 2 || out.Points[1] != in.Points[1] {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestParseXYZ(t *testing.T) {
	points, err := parseXYZ([]byte("# header\n1 2 3\n\n4,5,6,255,0,0\n7\t8\t9\n"))
	if err != nil {
		t.Fatalf("parseXYZ() error: %v", err)
	}
	want := []r3.Vector{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}, {X: 7, Y: 8, Z: 9}}
	if len(points) != len(want) {
		t.Fatalf("points = %v, want %v", points, want)
	}
	for i := range want {
		if points[i] != want[i] {
			t.Errorf("point %d = %v, want %v", i, points[i], want[i])
		}
	}

	if _, err := parseXYZ([]byte("1 2\n")); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("short line: err = %v, want ErrInvalidInput", err)
	}
}

func TestParseFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	m, err := ParseMeshFile(write("tri.obj", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n"))
	if err != nil || len(m.Triangles) != 1 {
		t.Errorf("ParseMeshFile(obj) = %v, %v", m, err)
	}
	m, err = ParseMeshFile(write("cloud.xyz", "0 0 0\n1 1 1\n"))
	if err != nil || len(m.Vertices) != 2 || len(m.Triangles) != 0 {
		t.Errorf("ParseMeshFile(xyz) = %v, %v", m, err)
	}
	if _, err := ParseMeshFile(write("model.stl", "solid")); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unsupported extension: err = %v, want ErrInvalidInput", err)
	}
	if _, err := ParseMeshFile(filepath.Join(dir, "missing.obj")); err == nil {
		t.Error("expected error for missing file")
	}

	scan, err := ParseScanFile(write("scan.xyz", "1 2 3\n"))
	if err != nil || len(scan.Points) != 1 || scan.Up != (r3.Vector{Z: 1}) {
		t.Errorf("ParseScanFile(xyz) = %+v, %v", scan, err)
	}
	scan, err = ParseScanFile(write("scan.json", `{"up":[0,1,0],"points":[[0,0,0]]}`))
	if err != nil || scan.Up != (r3.Vector{Y: 1}) {
		t.Errorf("ParseScanFile(json) = %+v, %v", scan, err)
	}
}

func TestSummarize(t *testing.T) {
	pc := &PointCloud{Points: []r3.Vector{{}, {X: 3, Y: 4}}, VoxelSize: 0.1}
	s := Summarize(pc)
	if s.Points != 2 || s.HasNormals || s.Diagonal != 5 || s.VoxelSize != 0.1 {
		t.Errorf("Summarize() = %+v", s)
	}
	if s.Centroid != (r3.Vector{X: 1.5, Y: 2}) {
		t.Errorf("Centroid = %v", s.Centroid)
	}
}
