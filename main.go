package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/kwv/meshalign/align"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile string
	ModelFile  string
	ScanFile   string
	Pairing    string
	Quality    string
	OutputFile string
	Format     string
	CachePath  string
	HttpPort   int

	Inspect   bool
	Align     bool
	Fast      bool
	Render    bool
	Recompute bool
	MqttMode  bool
	HttpMode  bool
}

// Runner executes the selected mode
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunInspect() error
	RunAlign() error
	RunFast() error
	RunRender() error
	RunService() error
}

func main() {
	app := NewApp(os.Stdout)
	if err := run(os.Args[1:], os.Stdout, app); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

// run parses args and dispatches to the first selected mode
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("meshalign", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.ModelFile, "model", "", "Reference mesh (.obj, .json, .xyz, or an http(s) URL); overrides the pairing's model")
	fs.StringVar(&opts.ScanFile, "scan", "", "Scan (.json, .json.gz, .xyz, or an http(s) URL); overrides the pairing's scan")
	fs.StringVar(&opts.Pairing, "pairing", "", "Pairing ID from the config file")
	fs.StringVar(&opts.Quality, "quality", "", "Quality preset: fast, balanced or accurate (default from config)")
	fs.BoolVar(&opts.Inspect, "inspect", false, "Print cloud and pyramid summaries and exit")
	fs.BoolVar(&opts.Align, "align", false, "Run the full coarse-to-fine alignment and exit")
	fs.BoolVar(&opts.Fast, "fast", false, "Run the single-resolution interactive registration and exit")
	fs.BoolVar(&opts.Render, "render", false, "Render the registration overlay and exit")
	fs.StringVar(&opts.OutputFile, "output", "overlay.png", "Output file for --render")
	fs.StringVar(&opts.Format, "format", "raster", "Render format: raster, svg, png or geojson")
	fs.StringVar(&opts.CachePath, "cache", "", "Registration cache file (default from config or "+align.DefaultCachePath+")")
	fs.BoolVar(&opts.Recompute, "recompute", false, "Ignore cached registrations when rendering")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run the MQTT scan intake service")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable the HTTP status server")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "HTTP server port (default from config or 8080)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "meshalign version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.Inspect:
		return app.RunInspect()
	case opts.Fast:
		return app.RunFast()
	case opts.Align:
		return app.RunAlign()
	case opts.Render:
		return app.RunRender()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "meshalign registers a reference mesh against captured scans.")
	fmt.Fprintln(out, "Use --inspect to summarize the model and scan clouds")
	fmt.Fprintln(out, "Use --align to run the full coarse-to-fine registration")
	fmt.Fprintln(out, "Use --fast to run the interactive single-resolution registration")
	fmt.Fprintln(out, "Use --render to write the registration overlay")
	fmt.Fprintln(out, "Use --mqtt to align scans arriving over MQTT")
	fmt.Fprintln(out, "Use --http to serve alignment status and overlays")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - MQTT settings, registration preset and pairings")
	fmt.Fprintf(out, "  %s - last accepted registration per pairing\n", align.DefaultCachePath)
	return nil
}
