package crater

import (
	"fmt"
	"log"
	"math"
	"sort"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// AlignConfig controls catalogue offset finding. Distances are metres on the
// lunar surface.
type AlignConfig struct {
	Scales            Scales
	XTol              float64 // final shift resolution
	FTol              float64 // objective change treated as converged
	MaxIter           int     // Nelder-Mead iteration cap
	SearchRadius      float64 // half-width of the coarse grid
	GridStep          float64 // coarse grid spacing
	QuartileMinPoints int     // both sets above this use only their largest quarter
}

// DefaultAlignConfig returns defaults suited to catalogues offset by up to a
// few hundred metres.
func DefaultAlignConfig() AlignConfig {
	return AlignConfig{
		Scales:            DefaultScales(),
		XTol:              0.5,
		FTol:              1e-9,
		MaxIter:           500,
		SearchRadius:      500,
		GridStep:          25,
		QuartileMinPoints: 100,
	}
}

// Validate checks the config for values the search cannot work with
func (c AlignConfig) Validate() error {
	if c.XTol <= 0 {
		return fmt.Errorf("xtol must be positive, got %v", c.XTol)
	}
	if c.GridStep <= 0 || c.SearchRadius < 0 {
		return fmt.Errorf("grid_step must be positive and search_radius non-negative")
	}
	if c.MaxIter < 1 {
		return fmt.Errorf("max_iter must be at least 1, got %d", c.MaxIter)
	}
	if c.Scales.Position <= 0 || c.Scales.Size <= 0 {
		return fmt.Errorf("metric scales must be positive")
	}
	return nil
}

// OffsetResult is the outcome of FindOffset.
type OffsetResult struct {
	Offset        Offset    `json:"offset"`
	Objective     float64   `json:"objective"` // mean nearest-neighbour distance at Offset
	Evaluations   int       `json:"evaluations"`
	UsedTruth     int       `json:"used_truth"`
	UsedCandidate int       `json:"used_candidate"`
	Warnings      []Warning `json:"warnings,omitempty"`
}

// FindOffset estimates the rigid shift of candidate relative to truth, so
// that candidate ≈ truth + Offset. Translate(candidate, Offset.Negate())
// aligns the candidate onto the truth.
//
// Both sets are restricted to the overlap of their bounding boxes. If either
// is empty afterwards a zero offset is returned with an EmptyRegion warning.
// When both sets exceed QuartileMinPoints only their top quarter by radius
// is used. The objective is the mean, over candidates, of the metric
// distance to the nearest truth point after removing the trial shift. It is
// minimised over shifts in metres by a coarse grid, then Nelder-Mead, then a
// compass search down to XTol.
func FindOffset(truth, candidate []MetricPoint, cfg AlignConfig) (OffsetResult, error) {
	if err := cfg.Validate(); err != nil {
		return OffsetResult{}, fmt.Errorf("invalid alignment config: %w", err)
	}

	var res OffsetResult
	truth, candidate, ok := restrictToOverlap(truth, candidate)
	if !ok {
		res.Warnings = append(res.Warnings, newWarning(WarnEmptyRegion,
			"no overlapping points (truth %d, candidate %d)", len(truth), len(candidate)))
		return res, nil
	}
	if len(truth) > cfg.QuartileMinPoints && len(candidate) > cfg.QuartileMinPoints {
		truth = topQuartileByRadius(truth)
		candidate = topQuartileByRadius(candidate)
	}
	res.UsedTruth, res.UsedCandidate = len(truth), len(candidate)

	obj := newAlignObjective(truth, candidate, cfg.Scales)

	x := obj.gridSearch(cfg.SearchRadius, cfg.GridStep)
	x = obj.nelderMead(x, cfg)
	x = obj.compass(x, cfg.GridStep/2, cfg.XTol/2)

	res.Offset = Offset{Long: x[0] * DegreesPerMetre, Lat: x[1] * DegreesPerMetre}
	res.Objective = obj.eval(x)
	res.Evaluations = obj.evals
	log.Printf("Offset: dlong=%.6f dlat=%.6f (%.2f m, %.2f m), objective %.4f after %d evaluations",
		res.Offset.Long, res.Offset.Lat, x[0], x[1], res.Objective, res.Evaluations)
	return res, nil
}

// Translate shifts every point by the offset
func Translate(points []MetricPoint, o Offset) []MetricPoint {
	out := make([]MetricPoint, len(points))
	for i, p := range points {
		p.Long += o.Long
		p.Lat += o.Lat
		out[i] = p
	}
	return out
}

// TranslateCraters shifts every crater by the offset
func TranslateCraters(craters []Crater, o Offset) []Crater {
	out := make([]Crater, len(craters))
	for i, c := range craters {
		c.Long += o.Long
		c.Lat += o.Lat
		out[i] = c
	}
	return out
}

func restrictToOverlap(truth, candidate []MetricPoint) ([]MetricPoint, []MetricPoint, bool) {
	tb, ok1 := BoundOf(truth)
	cb, ok2 := BoundOf(candidate)
	if !ok1 || !ok2 {
		return truth, candidate, false
	}
	overlap, ok := Overlap(tb, cb)
	if !ok {
		return nil, nil, false
	}
	truth = FilterPoints(truth, overlap)
	candidate = FilterPoints(candidate, overlap)
	return truth, candidate, len(truth) > 0 && len(candidate) > 0
}

func topQuartileByRadius(points []MetricPoint) []MetricPoint {
	radii := make([]float64, len(points))
	for i, p := range points {
		radii[i] = p.Radius
	}
	sort.Float64s(radii)
	cut := stat.Quantile(0.75, stat.Empirical, radii, nil)
	out := make([]MetricPoint, 0, len(points)/4+1)
	for _, p := range points {
		if p.Radius > cut {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return points
	}
	return out
}

type alignObjective struct {
	truth     []MetricPoint
	candidate []MetricPoint
	scales    Scales
	row       []float64
	evals     int
}

func newAlignObjective(truth, candidate []MetricPoint, s Scales) *alignObjective {
	return &alignObjective{
		truth:     truth,
		candidate: candidate,
		scales:    s,
		row:       make([]float64, len(truth)),
	}
}

// eval returns the mean nearest-truth distance with the candidate moved back
// by x. Both components are degree-scaled metres: x[0]*DegreesPerMetre
// degrees of longitude and x[1]*DegreesPerMetre of latitude, with no
// cos(lat) correction, so XTol and GridStep bound the offset in degrees.
func (o *alignObjective) eval(x []float64) float64 {
	o.evals++
	dlong := x[0] * DegreesPerMetre
	dlat := x[1] * DegreesPerMetre
	sum := 0.0
	for _, c := range o.candidate {
		c.Long -= dlong
		c.Lat -= dlat
		DistanceRow(c, o.truth, o.scales, o.row)
		best := math.Inf(1)
		for _, d := range o.row {
			best = math.Min(best, d)
		}
		sum += best
	}
	return sum / float64(len(o.candidate))
}

func (o *alignObjective) gridSearch(radius, step float64) []float64 {
	best := []float64{0, 0}
	bestF := o.eval(best)
	n := int(math.Floor(radius / step))
	for i := -n; i <= n; i++ {
		for j := -n; j <= n; j++ {
			x := []float64{float64(i) * step, float64(j) * step}
			if f := o.eval(x); f < bestF {
				best, bestF = x, f
			}
		}
	}
	return best
}

func (o *alignObjective) nelderMead(x0 []float64, cfg AlignConfig) []float64 {
	p := optimize.Problem{Func: o.eval}
	settings := &optimize.Settings{
		MajorIterations: cfg.MaxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   cfg.FTol,
			Iterations: 50,
		},
	}
	method := &optimize.NelderMead{SimplexSize: cfg.GridStep}
	result, err := optimize.Minimize(p, x0, settings, method)
	if result == nil {
		log.Printf("Nelder-Mead failed, keeping grid estimate: %v", err)
		return x0
	}
	if err != nil {
		log.Printf("Nelder-Mead stopped early (%v): %v", result.Status, err)
	}
	if result.F > o.eval(x0) {
		return x0
	}
	return result.X
}

// compass polishes x by testing nudges in 8 directions, halving the step
// whenever none improves, until the step falls below minStep.
func (o *alignObjective) compass(x []float64, step, minStep float64) []float64 {
	current := []float64{x[0], x[1]}
	currentF := o.eval(current)
	for i := 0; i < 1000 && step >= minStep; i++ {
		diag := step * math.Sqrt2 / 2
		moves := [][2]float64{
			{step, 0}, {-step, 0},
			{0, step}, {0, -step},
			{diag, diag}, {diag, -diag},
			{-diag, diag}, {-diag, -diag},
		}
		improved := false
		for _, m := range moves {
			cand := []float64{current[0] + m[0], current[1] + m[1]}
			if f := o.eval(cand); f < currentF {
				current, currentF = cand, f
				improved = true
			}
		}
		if !improved {
			step /= 2
		}
	}
	return current
}
