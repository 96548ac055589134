package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
	err    error
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunInspect() error            { m.called["RunInspect"] = true; return m.err }
func (m *mockApp) RunAlign() error              { m.called["RunAlign"] = true; return m.err }
func (m *mockApp) RunFast() error               { m.called["RunFast"] = true; return m.err }
func (m *mockApp) RunRender() error             { m.called["RunRender"] = true; return m.err }
func (m *mockApp) RunService() error            { m.called["RunService"] = true; return m.err }

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Inspect",
			args:           []string{"--inspect", "--model", "room.obj"},
			expectedCalled: "RunInspect",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ModelFile != "room.obj" {
					t.Errorf("expected ModelFile room.obj, got %s", opts.ModelFile)
				}
				if !opts.Inspect {
					t.Error("expected Inspect true")
				}
			},
		},
		{
			name:           "Align",
			args:           []string{"--align", "--pairing", "kitchen", "--quality", "accurate", "--cache", "test.json"},
			expectedCalled: "RunAlign",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Pairing != "kitchen" {
					t.Errorf("expected Pairing kitchen, got %s", opts.Pairing)
				}
				if opts.Quality != "accurate" {
					t.Errorf("expected Quality accurate, got %s", opts.Quality)
				}
				if opts.CachePath != "test.json" {
					t.Errorf("expected CachePath test.json, got %s", opts.CachePath)
				}
			},
		},
		{
			name:           "Fast",
			args:           []string{"--fast", "--model", "a.obj", "--scan", "b.xyz"},
			expectedCalled: "RunFast",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ScanFile != "b.xyz" {
					t.Errorf("expected ScanFile b.xyz, got %s", opts.ScanFile)
				}
			},
		},
		{
			name:           "Render",
			args:           []string{"--render", "--output", "test.svg", "--format", "svg", "--recompute"},
			expectedCalled: "RunRender",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.OutputFile != "test.svg" {
					t.Errorf("expected OutputFile test.svg, got %s", opts.OutputFile)
				}
				if opts.Format != "svg" {
					t.Errorf("expected Format svg, got %s", opts.Format)
				}
				if !opts.Recompute {
					t.Error("expected Recompute true")
				}
			},
		},
		{
			name:           "RenderDefaults",
			args:           []string{"--render"},
			expectedCalled: "RunRender",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.OutputFile != "overlay.png" || opts.Format != "raster" {
					t.Errorf("unexpected defaults: output=%s format=%s", opts.OutputFile, opts.Format)
				}
				if opts.ConfigFile != "config.yaml" {
					t.Errorf("expected ConfigFile config.yaml, got %s", opts.ConfigFile)
				}
			},
		},
		{
			name:           "MqttMode",
			args:           []string{"--mqtt", "--http-port", "9090"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.MqttMode {
					t.Error("expected MqttMode true")
				}
				if opts.HttpPort != 9090 {
					t.Errorf("expected HttpPort 9090, got %d", opts.HttpPort)
				}
			},
		},
		{
			name:           "HttpOnly",
			args:           []string{"--http"},
			expectedCalled: "RunService",
		},
		{
			name:           "InspectWinsOverAlign",
			args:           []string{"--align", "--inspect"},
			expectedCalled: "RunInspect",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}
			if len(app.called) != 1 {
				t.Errorf("expected exactly one mode, got %v", app.called)
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_PropagatesError(t *testing.T) {
	app := newMockApp()
	app.err = errors.New("boom")
	var out bytes.Buffer
	if err := run([]string{"--align"}, &out, app); !errors.Is(err, app.err) {
		t.Errorf("expected mode error, got %v", err)
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{"--help"}, &out, app)
	if err == nil {
		t.Error("expected error from --help, got nil")
	}
	if !strings.Contains(out.String(), "Usage of meshalign") {
		t.Errorf("expected usage info in output, got: %s", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("no mode should run on --help, got %v", app.called)
	}
}

func TestRun_Default(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{}, &out, app)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectedPrefix := "meshalign version: " + Version
	if !strings.Contains(out.String(), expectedPrefix) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "Use --align") {
		t.Errorf("expected output to contain usage hints, got: %s", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("no mode should run by default, got %v", app.called)
	}
}

func TestMain_Execute(t *testing.T) {
	// Smoke test to ensure version is set
	if Version == "" {
		t.Error("expected Version to be set")
	}
}
