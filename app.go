package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/kwv/cratermerge/crater"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *crater.Config
	Store      *crater.RunStore
	MQTTClient *crater.MQTTClient
	Publisher  *crater.Publisher
	Out        io.Writer

	opts  AppOptions
	runMu sync.Mutex // one clustering run at a time
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Store: crater.NewRunStore(),
		Out:   os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.opts = opts
}

// loadConfig loads --config, or the defaults when none is given
func (a *App) loadConfig() (*crater.Config, error) {
	if a.Config != nil {
		return a.Config, nil
	}
	if a.opts.ConfigFile == "" {
		a.Config = crater.DefaultConfig()
		return a.Config, nil
	}
	cfg, err := crater.LoadConfig(a.opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded config from %s", a.opts.ConfigFile)
	a.Config = cfg
	return cfg, nil
}

// RunInitConfig writes the default configuration to --config
func (a *App) RunInitConfig() error {
	if a.opts.ConfigFile == "" {
		return fmt.Errorf("--init-config needs --config")
	}
	if _, err := os.Stat(a.opts.ConfigFile); err == nil {
		return fmt.Errorf("config file %s already exists", a.opts.ConfigFile)
	}
	if err := crater.SaveConfig(a.opts.ConfigFile, crater.DefaultConfig()); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Wrote default configuration to %s\n", a.opts.ConfigFile)
	return nil
}

// RunReproject converts pixel markings to lat/long with campt and writes
// <output>_latlong.csv. Markings campt cannot resolve are left out.
func (a *App) RunReproject() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	cube := a.opts.Cube
	if cube == "" {
		cube = cfg.Reprojection.Cube
	}
	if cube == "" {
		return fmt.Errorf("--reproject needs --cube or reprojection.cube in the config")
	}

	pixels, err := crater.ReadPixelMarkingsFile(a.opts.Reproject)
	if err != nil {
		return err
	}
	log.Printf("Reprojecting %d markings from %s with %d workers", len(pixels), cube, cfg.Reprojection.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	projector := &crater.CamptProjector{Bin: cfg.Reprojection.Campt, Cube: cube}
	markings, err := crater.ReprojectAll(ctx, pixels, projector, cfg.Reprojection.Workers)
	var toolErr *crater.ToolError
	if err != nil && !errors.As(err, &toolErr) {
		return err
	}
	if toolErr != nil {
		log.Printf("Warning: %d markings could not be reprojected: %v", toolErr.Failed, toolErr.Err)
	}

	path := a.opts.OutputBase + "_latlong.csv"
	var buf bytes.Buffer
	if err := crater.WriteMarkings(&buf, markings); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing reprojected markings: %w", err)
	}
	fmt.Fprintf(a.Out, "Reprojected %d of %d markings to %s\n", len(markings), len(pixels), path)
	return nil
}

// RunOffset aligns the candidate catalogue of --offset TRUTH,CANDIDATE to
// the truth catalogue.
func (a *App) RunOffset() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	parts := strings.Split(a.opts.Offset, ",")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return fmt.Errorf("--offset wants TRUTH.csv,CANDIDATE.csv, got %q", a.opts.Offset)
	}
	truthPath, candPath := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

	var cache *crater.OffsetCache
	if a.opts.OffsetCache != "" {
		cache, err = crater.LoadOffsetCache(a.opts.OffsetCache)
		if err != nil {
			log.Printf("Warning: Failed to load offset cache %s: %v", a.opts.OffsetCache, err)
		}
		if cache == nil {
			cache = &crater.OffsetCache{}
		}
	}

	res, err := crater.AlignCatalogueFiles(truthPath, candPath, a.opts.OffsetOutput, cfg.AlignConfig(), cache)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(a.Out, "Warning: %s\n", w)
	}

	out := a.opts.OffsetOutput
	if out == "" {
		out = crater.OffsetCataloguePath(candPath)
	}
	fmt.Fprintf(a.Out, "Offset of %s relative to %s: long %+.6f°, lat %+.6f° (%.2f m, %.2f m)\n",
		candPath, truthPath, res.Offset.Long, res.Offset.Lat,
		res.Offset.Long/crater.DegreesPerMetre, res.Offset.Lat/crater.DegreesPerMetre)
	fmt.Fprintf(a.Out, "Objective %.4f from %d truth and %d candidate craters\n", res.Objective, res.UsedTruth, res.UsedCandidate)
	fmt.Fprintf(a.Out, "Aligned catalogue written to %s\n", out)

	if cache != nil {
		if err := crater.SaveOffsetCache(a.opts.OffsetCache, cache); err != nil {
			log.Printf("Warning: Failed to save offset cache: %v", err)
		}
	}
	return nil
}

// RunSimulate clusters a synthetic crater field and reports how well the
// craters were recovered.
func (a *App) RunSimulate() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	seed := a.opts.Seed
	rng := rand.New(rand.NewPCG(seed, 2*seed+1))
	markings, truth := crater.MakeTestCraters(rng, cfg.Simulation)
	log.Printf("Generated %d markings of %d synthetic craters (seed %d)", len(markings), len(truth), seed)

	var buf bytes.Buffer
	if err := crater.WriteSyntheticMarkings(&buf, markings); err != nil {
		return err
	}
	if err := os.WriteFile(a.opts.OutputBase+"_synthetic.csv", buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing synthetic markings: %w", err)
	}
	buf.Reset()
	if err := crater.WriteTruthCraters(&buf, truth); err != nil {
		return err
	}
	if err := os.WriteFile(a.opts.OutputBase+"_synthetic_truth.csv", buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing synthetic truth: %w", err)
	}

	pc := cfg.PipelineConfig()
	pc.Region = crater.Region{} // synthetic fields sit near the origin
	res, err := crater.RunPipeline(context.Background(), markings, truth, crater.UniformWeights{}, pc)
	if err != nil {
		return err
	}
	if err := a.writeOutputs(res); err != nil {
		return err
	}
	a.printReport(res)
	return nil
}

// RunCluster clusters --markings into a crater catalogue
func (a *App) RunCluster() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	res, err := a.cluster(context.Background(), cfg, a.opts.MarkingsFile, a.opts.TruthFile)
	if err != nil {
		return err
	}
	if err := a.writeOutputs(res); err != nil {
		return err
	}
	a.printReport(res)
	return nil
}

// cluster runs the pipeline on a markings file and records the result
func (a *App) cluster(ctx context.Context, cfg *crater.Config, markingsPath, truthPath string) (*crater.RunResult, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	set, err := crater.ReadMarkingsFile(markingsPath)
	if err != nil {
		return nil, err
	}
	log.Printf("Read %d markings from %s", len(set.Markings), markingsPath)

	var truth []crater.Crater
	if truthPath != "" {
		truth, err = crater.ReadTruthFile(truthPath)
		if err != nil {
			return nil, err
		}
		log.Printf("Read %d truth craters from %s", len(truth), truthPath)
	}

	lookup, err := cfg.WeightLookup()
	if err != nil {
		return nil, fmt.Errorf("loading user weights: %w", err)
	}
	res, err := crater.RunPipeline(ctx, set.Markings, truth, lookup, cfg.PipelineConfig())
	if err != nil {
		return nil, err
	}
	a.Store.Update(res)
	if a.Publisher != nil {
		if err := a.Publisher.PublishResult(res); err != nil {
			log.Printf("Warning: Failed to publish run %s: %v", res.RunID, err)
		}
	}
	return res, nil
}

// writeOutputs writes <output>.csv, <output>.geojson, <output>_summary.json
// and, with --render, the overlay.
func (a *App) writeOutputs(res *crater.RunResult) error {
	base := a.opts.OutputBase
	if err := crater.WriteCratersFile(base+".csv", res.Craters); err != nil {
		return err
	}
	if err := crater.WriteGeoJSONFile(base+".geojson", res.Craters); err != nil {
		return err
	}
	data, err := json.MarshalIndent(res.Summary(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	if err := os.WriteFile(base+"_summary.json", data, 0644); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	if a.opts.Render {
		if err := a.renderOverlay(res, base); err != nil {
			return err
		}
	}
	return nil
}

// renderOverlay writes the overlay in the formats selected by --format
func (a *App) renderOverlay(res *crater.RunResult, base string) error {
	overlay := res.Overlay()
	if !overlay.HasDrawableContent() {
		log.Printf("Warning: run %s has nothing to render", res.RunID)
		return nil
	}
	format := a.opts.RenderFormat
	if format == "" {
		format = "svg"
	}
	vr := crater.NewVectorRendererFromConfig(overlay, a.Config.Render)

	var written []string
	if format == "svg" || format == "all" {
		var buf bytes.Buffer
		if err := vr.RenderToSVG(&buf); err != nil {
			return fmt.Errorf("rendering SVG: %w", err)
		}
		if err := os.WriteFile(base+"_overlay.svg", buf.Bytes(), 0644); err != nil {
			return err
		}
		written = append(written, base+"_overlay.svg")
	}
	if format == "png" || format == "all" {
		var buf bytes.Buffer
		if err := vr.RenderToPNG(&buf); err != nil {
			return fmt.Errorf("rendering PNG: %w", err)
		}
		if err := os.WriteFile(base+"_overlay.png", buf.Bytes(), 0644); err != nil {
			return err
		}
		written = append(written, base+"_overlay.png")
	}
	if format == "preview" || format == "all" {
		if err := crater.NewPreviewRenderer(overlay).SavePNG(base + "_preview.png"); err != nil {
			return fmt.Errorf("rendering preview: %w", err)
		}
		written = append(written, base+"_preview.png")
	}
	if len(written) == 0 {
		return fmt.Errorf("unknown render format %q (want svg, png, preview or all)", format)
	}
	for _, p := range written {
		fmt.Fprintf(a.Out, "Overlay written to %s\n", p)
	}
	return nil
}

// printReport prints the run summary for the user
func (a *App) printReport(res *crater.RunResult) {
	fmt.Fprintf(a.Out, "\nRun %s\n", res.RunID)
	fmt.Fprintf(a.Out, "  Markings: %d read, %d clustered\n", res.Input, res.Used)
	fmt.Fprintf(a.Out, "  Clusters: %d after %d iterations (final threshold %.3f)\n", res.Clusters, res.Iterations, res.FinalThreshold)
	fmt.Fprintf(a.Out, "  Craters:  %d written to %s.csv\n", len(res.Craters), a.opts.OutputBase)
	if c := res.Comparison; c != nil {
		fmt.Fprintf(a.Out, "  Truth:    %d of %d matched (completeness %.3f, purity %.3f)\n", c.Matched, c.Truth, c.Completeness, c.Purity)
		fmt.Fprintf(a.Out, "  Size-frequency delta: mean %.3f, rms %.3f, median abs %.3f\n", c.SizeFreq.MeanDelta, c.SizeFreq.RMSDelta, c.SizeFreq.MADelta)
	}
	if q := res.Quality; q != nil {
		fmt.Fprintf(a.Out, "  Quality:  %s\n", q)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(a.Out, "  Warning:  %s\n", w)
	}
	fmt.Fprintf(a.Out, "  Took %v\n", res.Duration)
}

// handleRequest runs a clustering requested over MQTT
func (a *App) handleRequest(req crater.RunRequest) {
	cfg, err := a.loadConfig()
	if err != nil {
		log.Printf("Error loading config for run request: %v", err)
		return
	}
	res, err := a.cluster(context.Background(), cfg, req.Markings, req.Truth)
	if err != nil {
		log.Printf("Error running request for %s: %v", req.Markings, err)
		return
	}
	log.Printf("Run %s finished: %d craters from %s", res.RunID, len(res.Craters), req.Markings)
}

// RunService publishes to MQTT and/or serves HTTP until interrupted. An
// initial run is made when --markings is given.
func (a *App) RunService() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if a.opts.RunCache != "" {
		a.Store = crater.NewRunStoreWithCache(a.opts.RunCache)
	}

	if a.opts.MqttMode {
		client, err := crater.InitMQTT(cfg, a.handleRequest)
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		if client == nil {
			log.Println("MQTT mode requested but no broker configured; results will not be published")
		} else {
			a.MQTTClient = client
			a.Publisher = crater.NewPublisher(client.Client(), client.Prefix())
		}
	}

	if a.opts.MarkingsFile != "" {
		res, err := a.cluster(context.Background(), cfg, a.opts.MarkingsFile, a.opts.TruthFile)
		if err != nil {
			return err
		}
		a.printReport(res)
	}

	if a.opts.HttpMode {
		addr := fmt.Sprintf(":%d", a.opts.HttpPort)
		server := newHTTPServer(a.Store, cfg)
		go func() {
			log.Printf("HTTP server listening on %s", addr)
			if err := http.ListenAndServe(addr, server); err != nil {
				log.Fatalf("HTTP server error: %v", err)
			}
		}()
	}

	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")
	if a.MQTTClient != nil {
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintf(a.Out, "  Run requests: %s\n", a.MQTTClient.RequestTopic())
		fmt.Fprintf(a.Out, "  Publishing to: %s/runs/{runID}, %s/latest, %s/catalogue/{runID}\n",
			a.MQTTClient.Prefix(), a.MQTTClient.Prefix(), a.MQTTClient.Prefix())
	}
	if a.opts.HttpMode {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.opts.HttpPort)
		fmt.Fprintln(a.Out, "  GET /health            - Health check")
		fmt.Fprintln(a.Out, "  GET /runs              - Recent run summaries")
		fmt.Fprintln(a.Out, "  GET /catalogue.json    - Latest catalogue as JSON")
		fmt.Fprintln(a.Out, "  GET /catalogue.csv     - Latest catalogue as CSV")
		fmt.Fprintln(a.Out, "  GET /catalogue.geojson - Latest catalogue as GeoJSON")
		fmt.Fprintln(a.Out, "  GET /overlay.svg       - Overlay of the latest run")
	}
	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Fprintln(a.Out, "\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Fprintln(a.Out, "Service stopped")
	return nil
}
