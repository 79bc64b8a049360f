package crater

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// campt flat output columns
const (
	camptLatCol            = 7
	camptLongCol           = 9
	camptLatPixelScaleCol  = 16
	camptLongPixelScaleCol = 17
)

// PixelMarking is a marking in image coordinates.
type PixelMarking struct {
	Sample float64 // image x
	Line   float64 // image y
	Radius float64 // pixels
	Attrs  Marking // shape, user and label attributes carried to the projected marking
}

// Projection is the ground position of one image pixel.
type Projection struct {
	Lat            float64
	Long           float64
	LatPixelScale  float64 // metres per pixel
	LongPixelScale float64
}

// Projector maps image pixels to ground coordinates.
type Projector interface {
	Project(ctx context.Context, sample, line float64) (Projection, error)
}

// ReadPixelMarkings parses a pixel markings table. The x/sample and y/line
// columns hold image coordinates and the radius is in pixels.
func ReadPixelMarkings(r io.Reader) ([]PixelMarking, error) {
	set, err := ReadMarkings(r)
	if err != nil {
		return nil, fmt.Errorf("reading pixel markings: %w", err)
	}
	out := make([]PixelMarking, len(set.Markings))
	for i, m := range set.Markings {
		out[i] = PixelMarking{Sample: m.Long, Line: m.Lat, Radius: m.Radius, Attrs: m}
	}
	return out, nil
}

// ReadPixelMarkingsFile reads a pixel markings table from disk
func ReadPixelMarkingsFile(path string) ([]PixelMarking, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pixel markings: %w", err)
	}
	defer f.Close()
	return ReadPixelMarkings(f)
}

// CamptProjector runs the ISIS campt program once per pixel.
type CamptProjector struct {
	Bin       string  // campt executable, "campt" when empty
	Cube      string  // camera cube the pixels belong to
	FlipWidth float64 // when positive, samples are mirrored as FlipWidth - sample
}

// Project runs campt for one pixel and parses its flat output
func (c *CamptProjector) Project(ctx context.Context, sample, line float64) (Projection, error) {
	if c.Cube == "" {
		return Projection{}, fmt.Errorf("campt: no cube configured")
	}
	if c.FlipWidth > 0 {
		sample = c.FlipWidth - sample
	}
	bin := c.Bin
	if bin == "" {
		bin = "campt"
	}

	tmp, err := os.CreateTemp("", "campt-*.csv")
	if err != nil {
		return Projection{}, fmt.Errorf("campt: %w", err)
	}
	tmpName := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpName)

	cmd := exec.CommandContext(ctx, bin,
		"from="+c.Cube,
		"to="+tmpName,
		"format=flat",
		"append=false",
		"type=image",
		"line="+strconv.FormatFloat(line, 'f', -1, 64),
		"sample="+strconv.FormatFloat(sample, 'f', -1, 64),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Projection{}, fmt.Errorf("campt line=%v sample=%v: %w: %s", line, sample, err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(tmpName)
	if err != nil {
		return Projection{}, fmt.Errorf("campt output: %w", err)
	}
	return parseCamptFlat(data)
}

// parseCamptFlat reads the first data row after the header of campt's flat
// output.
func parseCamptFlat(data []byte) (Projection, error) {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	if _, err := cr.Read(); err != nil {
		return Projection{}, fmt.Errorf("campt output header: %w", err)
	}
	row, err := cr.Read()
	if err != nil {
		return Projection{}, fmt.Errorf("campt output row: %w", err)
	}
	if len(row) <= camptLongPixelScaleCol {
		return Projection{}, fmt.Errorf("campt output has %d columns, need %d", len(row), camptLongPixelScaleCol+1)
	}
	var vals [4]float64
	for i, col := range []int{camptLatCol, camptLongCol, camptLatPixelScaleCol, camptLongPixelScaleCol} {
		vals[i], err = strconv.ParseFloat(strings.TrimSpace(row[col]), 64)
		if err != nil {
			return Projection{}, fmt.Errorf("campt output column %d: %w", col, err)
		}
	}
	return Projection{Lat: vals[0], Long: vals[1], LatPixelScale: vals[2], LongPixelScale: vals[3]}, nil
}

// ReprojectAll projects every pixel marking with up to workers concurrent
// projector calls. Pixel radii are converted with the longitude pixel scale
// and minimum-size flags are recomputed from the ground radius.
//
// Markings that fail to project are logged and left out; the returned slice
// keeps input order for the rest. When any failed the error is a *ToolError
// carrying the count alongside the partial result.
func ReprojectAll(ctx context.Context, pixels []PixelMarking, p Projector, workers int) ([]Marking, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]*Marking, len(pixels))
	var (
		mu       sync.Mutex
		firstErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, px := range pixels {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			proj, err := p.Project(gctx, px.Sample, px.Line)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				log.Printf("Reprojection of marking %d (sample %.1f, line %.1f) failed: %v", i, px.Sample, px.Line, err)
				return nil
			}
			m := px.Attrs
			m.Long, m.Lat = proj.Long, proj.Lat
			m.Radius = px.Radius * proj.LongPixelScale
			m.MinSize = IsMinSize(m.Radius)
			results[i] = &m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Marking, 0, len(pixels))
	for _, m := range results {
		if m != nil {
			out = append(out, *m)
		}
	}
	log.Printf("Reprojected %d of %d markings", len(out), len(pixels))
	if skipped := len(pixels) - len(out); skipped > 0 {
		err := firstErr
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			err = errors.New("reprojection incomplete")
		}
		return out, &ToolError{Tool: "campt", Failed: skipped, Err: err}
	}
	return out, nil
}
