package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/kwv/cratermerge/crater"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile   string
	InitConfig   bool
	MarkingsFile string
	TruthFile    string
	OutputBase   string
	Simulate     bool
	Seed         uint64
	Offset       string
	OffsetOutput string
	OffsetCache  string
	Reproject    string
	Cube         string
	Render       bool
	RenderFormat string
	MqttMode     bool
	HttpMode     bool
	HttpPort     int
	RunCache     string
}

// Runner executes the selected mode
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunInitConfig() error
	RunReproject() error
	RunOffset() error
	RunSimulate() error
	RunCluster() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("cratermerge: %v", err)
	}
}

// run parses args and dispatches to one mode of app
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("cratermerge", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "", "Path to configuration file (defaults are used when empty)")
	fs.BoolVar(&opts.InitConfig, "init-config", false, "Write the default configuration to --config and exit")
	fs.StringVar(&opts.MarkingsFile, "markings", "", "Markings CSV to cluster")
	fs.StringVar(&opts.TruthFile, "truth", "", "Expert catalogue CSV to compare against")
	fs.StringVar(&opts.OutputBase, "output", "craters", "Output path prefix for the catalogue files")
	fs.BoolVar(&opts.Simulate, "simulate", false, "Generate synthetic markings, cluster them and report quality")
	fs.Uint64Var(&opts.Seed, "seed", 1, "Random seed for --simulate")
	fs.StringVar(&opts.Offset, "offset", "", "Find the offset between two catalogues: TRUTH.csv,CANDIDATE.csv")
	fs.StringVar(&opts.OffsetOutput, "offset-output", "", "Aligned catalogue path for --offset (default NAME_offset.csv)")
	fs.StringVar(&opts.OffsetCache, "offset-cache", crater.DefaultOffsetCachePath, "Path to offset cache file, empty disables")
	fs.StringVar(&opts.Reproject, "reproject", "", "Pixel markings CSV to convert to lat/long with campt")
	fs.StringVar(&opts.Cube, "cube", "", "Camera cube for --reproject (overrides config)")
	fs.BoolVar(&opts.Render, "render", false, "Write an overlay of markings and craters next to the catalogue")
	fs.StringVar(&opts.RenderFormat, "format", "svg", "Overlay format: svg, png, preview or all")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Publish results to MQTT and accept run requests")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve the latest results over HTTP")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.StringVar(&opts.RunCache, "run-cache", ".last-run.json", "Path to the latest run cache for service mode, empty disables")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "cratermerge version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.InitConfig:
		return app.RunInitConfig()
	case opts.Reproject != "":
		return app.RunReproject()
	case opts.Offset != "":
		return app.RunOffset()
	case opts.Simulate:
		return app.RunSimulate()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	case opts.MarkingsFile != "":
		return app.RunCluster()
	}

	fmt.Fprintln(out, "Nothing to do.")
	fmt.Fprintln(out, "Use --markings FILE to cluster markings into a crater catalogue")
	fmt.Fprintln(out, "Use --truth FILE to compare the catalogue with an expert catalogue")
	fmt.Fprintln(out, "Use --simulate to cluster synthetic markings and report quality")
	fmt.Fprintln(out, "Use --offset TRUTH,CANDIDATE to align two catalogues")
	fmt.Fprintln(out, "Use --reproject FILE --cube CUBE to convert pixel markings")
	fmt.Fprintln(out, "Use --mqtt and/or --http to run as a service")
	fmt.Fprintln(out, "Use --init-config --config FILE to write the default configuration")
	return nil
}
