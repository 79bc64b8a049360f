package crater

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// PipelineConfig holds everything RunPipeline needs besides its inputs.
type PipelineConfig struct {
	Region        Region
	MinUserWeight float64
	Iterative     IterativeConfig
	Aggregate     AggregateOptions
	Compare       CompareConfig
}

// DefaultPipelineConfig returns the pipeline defaults with weighting disabled
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MinUserWeight: WeightingDisabled,
		Iterative:     DefaultIterativeConfig(),
		Aggregate:     DefaultAggregateOptions(),
		Compare:       DefaultCompareConfig(),
	}
}

// RunResult is the outcome of one clustering run.
type RunResult struct {
	RunID          string        `json:"run_id"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Region         Region        `json:"region"`
	Markings       []Marking     `json:"-"` // markings that were clustered
	Labels         []int         `json:"-"` // one per entry of Markings
	Input          int           `json:"input"`
	Used           int           `json:"used"`
	Clusters       int           `json:"clusters"`
	Iterations     int           `json:"iterations"`
	FinalThreshold float64       `json:"final_threshold"`
	Craters        []Crater      `json:"craters"`
	Truth          []Crater      `json:"-"`
	Comparison     *Comparison   `json:"comparison,omitempty"`
	Quality        *Quality      `json:"quality,omitempty"`
	Warnings       []Warning     `json:"warnings,omitempty"`
}

// RunSummary is the published digest of a run without the crater list.
type RunSummary struct {
	RunID          string      `json:"run_id"`
	Timestamp      int64       `json:"timestamp"`
	DurationMs     int64       `json:"duration_ms"`
	Input          int         `json:"input"`
	Used           int         `json:"used"`
	Clusters       int         `json:"clusters"`
	Craters        int         `json:"craters"`
	Iterations     int         `json:"iterations"`
	FinalThreshold float64     `json:"final_threshold"`
	Comparison     *Comparison `json:"comparison,omitempty"`
	Quality        *Quality    `json:"quality,omitempty"`
	Warnings       []string    `json:"warnings,omitempty"`
}

// Summary returns the digest of the run
func (r *RunResult) Summary() RunSummary {
	s := RunSummary{
		RunID:          r.RunID,
		Timestamp:      r.StartedAt.Unix(),
		DurationMs:     r.Duration.Milliseconds(),
		Input:          r.Input,
		Used:           r.Used,
		Clusters:       r.Clusters,
		Craters:        len(r.Craters),
		Iterations:     r.Iterations,
		FinalThreshold: r.FinalThreshold,
		Comparison:     r.Comparison,
		Quality:        r.Quality,
	}
	for _, w := range r.Warnings {
		s.Warnings = append(s.Warnings, w.String())
	}
	return s
}

// RunPipeline clusters markings into a crater catalogue.
//
// Markings outside the region are dropped, user weights are attached and
// low-weight markings removed, the rest are clustered iteratively and
// aggregated. When truth is given it is restricted to the region and
// compared with the result. When the markings carry true labels the
// clustering itself is scored.
//
// An empty region is not an error: the result has no craters and an
// EmptyRegion warning.
func RunPipeline(ctx context.Context, markings []Marking, truth []Crater, lookup WeightLookup, cfg PipelineConfig) (*RunResult, error) {
	res := &RunResult{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
		Region:    cfg.Region,
		Input:     len(markings),
	}
	defer func() { res.Duration = time.Since(res.StartedAt) }()

	selected := FilterMarkings(markings, cfg.Region)
	log.Printf("Run %s: %d of %d markings in region", res.RunID, len(selected), len(markings))

	selected, err := ResolveWeights(ctx, lookup, selected, cfg.MinUserWeight)
	if err != nil {
		return nil, fmt.Errorf("resolving user weights: %w", err)
	}
	res.Markings = selected
	res.Used = len(selected)
	if truth != nil {
		res.Truth = SelectTruth(truth, cfg.Region)
	}

	if len(selected) == 0 {
		res.Warnings = append(res.Warnings, newWarning(WarnEmptyRegion,
			"no markings left to cluster in region %+v", cfg.Region))
		res.Labels = []int{}
		res.Craters = []Crater{}
		return res, nil
	}

	it, err := IterativeCluster(MarkingPoints(selected), cfg.Iterative)
	if err != nil {
		return nil, fmt.Errorf("clustering: %w", err)
	}
	res.Labels = it.Labels
	res.Clusters = it.NumClusters()
	res.Iterations = it.Iterations
	res.FinalThreshold = it.FinalThreshold
	res.Warnings = append(res.Warnings, it.Warnings...)
	log.Printf("Found %d clusters after %d iterations", res.Clusters, res.Iterations)

	res.Craters, err = Aggregate(selected, it.Labels, cfg.Aggregate)
	if err != nil {
		return nil, fmt.Errorf("aggregating: %w", err)
	}
	log.Printf("Kept %d craters", len(res.Craters))

	if res.Truth != nil {
		cmp, err := CompareCatalogues(res.Craters, res.Truth, cfg.Compare)
		if err != nil {
			return nil, fmt.Errorf("comparing with truth: %w", err)
		}
		res.Comparison = &cmp
		log.Printf("Matched %d of %d truth craters (purity %.3f)", cmp.Matched, cmp.Truth, cmp.Purity)
	}

	if hasTrueLabels(selected) {
		truthLabels := make([]int, len(selected))
		for i, m := range selected {
			truthLabels[i] = m.TrueLabel
		}
		q, err := ScoreClustering(truthLabels, it.Labels, int(cfg.Aggregate.MinCount))
		if err != nil {
			return nil, fmt.Errorf("scoring clusters: %w", err)
		}
		res.Quality = &q
	}
	return res, nil
}

func hasTrueLabels(markings []Marking) bool {
	for _, m := range markings {
		if m.TrueLabel != 0 {
			return true
		}
	}
	return false
}
