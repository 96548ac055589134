package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/kwv/meshalign/align"
)

// scanTruth places the room in the scan frame: 60° of yaw plus a shift
var scanTruth = align.Translation(r3.Vector{X: 0.4, Y: -0.2}).Mul(align.RotationDeg(r3.Vector{Z: 1}, 60))

func addQuad(m *align.Mesh, origin, a, b r3.Vector) {
	base := len(m.Vertices)
	m.Vertices = append(m.Vertices, origin, origin.Add(a), origin.Add(a).Add(b), origin.Add(b))
	m.Triangles = append(m.Triangles, [3]int{base, base + 1, base + 2}, [3]int{base, base + 2, base + 3})
}

// roomMesh is a room corner with a box, asymmetric under yaw
func roomMesh() *align.Mesh {
	m := &align.Mesh{}
	x, y, z := r3.Vector{X: 1}, r3.Vector{Y: 1}, r3.Vector{Z: 1}
	addQuad(m, r3.Vector{}, x.Mul(4), y.Mul(3))
	addQuad(m, r3.Vector{}, y.Mul(3), z.Mul(2))
	addQuad(m, r3.Vector{}, x.Mul(4), z.Mul(2))
	box := r3.Vector{X: 2.5, Y: 1.8}
	addQuad(m, box.Add(z.Mul(0.6)), x.Mul(0.6), y.Mul(0.6))
	addQuad(m, box, x.Mul(0.6), z.Mul(0.6))
	addQuad(m, box.Add(y.Mul(0.6)), x.Mul(0.6), z.Mul(0.6))
	addQuad(m, box, y.Mul(0.6), z.Mul(0.6))
	addQuad(m, box.Add(x.Mul(0.6)), y.Mul(0.6), z.Mul(0.6))
	return m
}

// writeModelOBJ writes the room as a Wavefront OBJ file
func writeModelOBJ(t *testing.T, dir string) string {
	t.Helper()
	m := roomMesh()
	var b strings.Builder
	b.WriteString("# room fixture\n")
	for _, v := range m.Vertices {
		fmt.Fprintf(&b, "v %g %g %g\n", v.X, v.Y, v.Z)
	}
	for _, tri := range m.Triangles {
		fmt.Fprintf(&b, "f %d %d %d\n", tri[0]+1, tri[1]+1, tri[2]+1)
	}
	path := filepath.Join(dir, "room.obj")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("write model fixture: %v", err)
	}
	return path
}

// roomScan samples the room independently of the model and moves it by scanTruth
func roomScan(t *testing.T) *align.Scan {
	t.Helper()
	cloud, err := align.NewSampler(align.SampleRandom, 7).Extract(roomMesh(), 2000)
	if err != nil {
		t.Fatalf("sampling scan fixture: %v", err)
	}
	return &align.Scan{Points: cloud.Transformed(scanTruth).Points, Up: r3.Vector{Z: 1}}
}

func writeScanJSON(t *testing.T, dir string) string {
	t.Helper()
	data, err := align.MarshalScanJSON(roomScan(t))
	if err != nil {
		t.Fatalf("marshal scan fixture: %v", err)
	}
	path := filepath.Join(dir, "room-scan.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write scan fixture: %v", err)
	}
	return path
}

// writeTestConfig writes a config with one "room" pairing tuned for quick runs
func writeTestConfig(t *testing.T, dir, modelPath, scanPath string) string {
	t.Helper()
	body := fmt.Sprintf(`registration:
  up: [0, 0, 1]
  quality: fast
  mode: yaw
  yawStepDeg: 30
  maxSeeds: 3
  pyramid:
    levels: 2
    finestVoxel: 0.1
    levelRatio: 2
    normalNeighbors: 8
pairings:
  - id: room
    model: %s
    scan: %s
    scanTopic: scanner/room/scan
    sampleCount: 2000
cachePath: %s
`, modelPath, scanPath, filepath.Join(dir, "cache.json"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

// fixtureDir holds a model, a scan and a config referencing both
type fixtureDir struct {
	Dir    string
	Model  string
	Scan   string
	Config string
	Cache  string
}

func newFixtureDir(t *testing.T) fixtureDir {
	t.Helper()
	dir := t.TempDir()
	f := fixtureDir{Dir: dir, Model: writeModelOBJ(t, dir), Scan: writeScanJSON(t, dir)}
	f.Config = writeTestConfig(t, dir, f.Model, f.Scan)
	f.Cache = filepath.Join(dir, "cache.json")
	return f
}

func yawDeg(m align.Matrix4) float64 {
	return m.YawAbout(r3.Vector{Z: 1}) * 180 / math.Pi
}

func angleDiffDeg(a, b float64) float64 {
	return math.Abs(math.Mod(a-b+540, 360) - 180)
}
