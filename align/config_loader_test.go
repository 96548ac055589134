package align

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func validConfigYAML() string {
	return `mqtt:
  broker: tcp://localhost:1883
  publishPrefix: meshalign
  clientId: meshalign-test
registration:
  up: [0, 0, 1]
  quality: fast
  mode: yaw
  yawStepDeg: 15
pairings:
  - id: kitchen
    model: models/kitchen.obj
    scanTopic: scanner/kitchen/scan
  - id: garage
    model: models/garage.obj
    scan: scans/garage.xyz
    sampleCount: 3000
`
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

// ---------------------------------------------------------------------------
// LoadConfig
// ---------------------------------------------------------------------------

func TestLoadConfig_NotExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want a not-found message", err)
	}
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	path := writeConfig(t, validConfigYAML())

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("Broker = %q, want %q", cfg.MQTT.Broker, "tcp://localhost:1883")
	}
	if cfg.Registration.Quality != Fast() {
		t.Errorf("Quality = %v, want fast", cfg.Registration.Quality)
	}
	if len(cfg.Pairings) != 2 {
		t.Fatalf("len(Pairings) = %d, want 2", len(cfg.Pairings))
	}
	if cfg.Pairings[0].ScanTopic != "scanner/kitchen/scan" {
		t.Errorf("Pairings[0].ScanTopic = %q", cfg.Pairings[0].ScanTopic)
	}
	if got := cfg.GetPairing("garage"); got == nil || got.SampleCount != 3000 {
		t.Errorf("GetPairing(garage) = %+v", got)
	}
	if cfg.GetPairing("attic") != nil {
		t.Error("GetPairing(attic) should be nil")
	}
	// Unset fields keep their defaults
	if cfg.Registration.MinPoints != DefaultMinPoints {
		t.Errorf("MinPoints = %d, want default %d", cfg.Registration.MinPoints, DefaultMinPoints)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "pairing missing id",
			yaml: `pairings:
  - id: ""
    model: a.obj
`,
		},
		{
			name: "duplicate pairing",
			yaml: `pairings:
  - id: p
    model: a.obj
  - id: p
    model: b.obj
`,
		},
		{
			name: "pairing missing model",
			yaml: `pairings:
  - id: p
`,
		},
		{
			name: "scan topic without broker",
			yaml: `pairings:
  - id: p
    model: a.obj
    scanTopic: s/p
`,
		},
		{
			name: "unknown quality",
			yaml: `registration:
  quality: turbo
`,
		},
		{
			name: "bad mode",
			yaml: `registration:
  mode: roll
`,
		},
		{
			name: "zero up",
			yaml: `registration:
  up: [0, 0, 0]
`,
		},
		{
			name: "level count mismatch",
			yaml: `registration:
  quality: fast
  levels:
    - maxIterations: 5
      maxCorrespondenceDistance: 1
      minNormalAlignment: 0
      trimFraction: 1
`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			_, err := LoadConfig(path)
			if err == nil {
				t.Errorf("expected validation error for %q, got nil", tc.name)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// SaveConfig
// ---------------------------------------------------------------------------

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")

	custom, err := Custom(QualityParams{ModelSampleCount: 1500, ScanSampleCount: 900, MaxIterations: 12, ConvergenceThreshold: 1e-4})
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Registration.Quality = custom
	cfg.Pairings = []PairingConfig{{ID: "lab", Model: "lab.obj", Scan: "lab.xyz"}}

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig after save: %v", err)
	}
	if loaded.Registration.Quality != custom {
		t.Errorf("Quality = %+v, want %+v", loaded.Registration.Quality.Params(), custom.Params())
	}
	if loaded.GetPairing("lab") == nil {
		t.Error("pairing lost in round trip")
	}
}

// ---------------------------------------------------------------------------
// RegistrationConfig
// ---------------------------------------------------------------------------

func TestRegistrationConfig_CoordinatorConfig(t *testing.T) {
	rc := DefaultConfig().Registration
	rc.Up = []float64{0, 2, 0}
	rc.Mode = "yaw"
	rc.Similarity = true
	rc.YawStepDeg = 5
	rc.MaxSeeds = 6
	rc.SampleMode = "random"
	rc.Quality = Accurate()

	cfg, err := rc.CoordinatorConfig()
	if err != nil {
		t.Fatalf("CoordinatorConfig: %v", err)
	}
	if cfg.Refine.Up != (r3.Vector{Y: 1}) {
		t.Errorf("Up = %v, want normalized +Y", cfg.Refine.Up)
	}
	if cfg.Refine.Mode != ModeYaw || !cfg.Refine.Similarity || cfg.Refine.MaxSeeds != 6 {
		t.Errorf("Refine = %+v", cfg.Refine)
	}
	if cfg.Coarse.YawStepDeg != 5 {
		t.Errorf("YawStepDeg = %v, want 5", cfg.Coarse.YawStepDeg)
	}
	if cfg.SampleMode != SampleRandom {
		t.Errorf("SampleMode = %v, want random", cfg.SampleMode)
	}
	if cfg.Pyramid != Accurate().Pyramid() {
		t.Errorf("Pyramid = %+v, want the accurate preset's", cfg.Pyramid)
	}
	if cfg.Refine.ConvergenceThreshold != Accurate().Params().ConvergenceThreshold {
		t.Errorf("ConvergenceThreshold = %v", cfg.Refine.ConvergenceThreshold)
	}
}

func TestRegistrationConfig_PyramidOverride(t *testing.T) {
	rc := DefaultConfig().Registration
	rc.Pyramid = &PyramidParams{Levels: 1, FinestVoxel: 0.2, NormalNeighbors: 6}
	rc.Levels = []ICPParams{{MaxIterations: 3, MaxCorrespondenceDistance: math.Inf(1), MinNormalAlignment: -1, TrimFraction: 1}}

	cfg, err := rc.CoordinatorConfig()
	if err != nil {
		t.Fatalf("CoordinatorConfig: %v", err)
	}
	if len(cfg.LevelParams()) != 1 || cfg.LevelParams()[0].MaxIterations != 3 {
		t.Errorf("LevelParams = %+v", cfg.LevelParams())
	}

	rc.Pyramid.FinestVoxel = 0
	if _, err := rc.CoordinatorConfig(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero voxel: err = %v, want ErrInvalidInput", err)
	}
}

func TestRegistrationConfig_FastService(t *testing.T) {
	rc := DefaultConfig().Registration
	rc.Up = []float64{0, 1, 0}
	rc.YawStepDeg = 20
	rc.MinPoints = 250

	svc, err := rc.FastService()
	if err != nil {
		t.Fatalf("FastService: %v", err)
	}
	if svc.Up != (r3.Vector{Y: 1}) || svc.YawStepDeg != 20 || svc.MinPoints != 250 {
		t.Errorf("service = %+v", svc)
	}

	rc.Up = []float64{1, 0}
	if _, err := rc.FastService(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("two-component up: err = %v, want ErrInvalidInput", err)
	}
}

func TestParseSampleMode(t *testing.T) {
	tests := []struct {
		in      string
		want    SampleMode
		wantErr bool
	}{
		{"", SampleUniform, false},
		{"uniform", SampleUniform, false},
		{"Random", SampleRandom, false},
		{"poisson", SampleUniform, true},
	}
	for _, tt := range tests {
		got, err := ParseSampleMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSampleMode(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSampleMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
