package crater

import (
	"context"
	"fmt"
	"log"
	"math"
)

// parallelMinPoints is the subset size from which distances are computed
// by several workers.
var parallelMinPoints = 2000

// IterativeConfig controls the re-clustering of oversized clusters.
type IterativeConfig struct {
	Threshold float64 // initial linking distance
	MaxCount  int     // clusters with more members are split
	MaxIter   int     // pass budget
	Decay     float64 // per-pass threshold decay base
	Scales    Scales
	Workers   int // distance workers for large subsets, <= 1 runs inline
}

// DefaultIterativeConfig returns the defaults used for Moon Zoo markings
func DefaultIterativeConfig() IterativeConfig {
	return IterativeConfig{
		Threshold: 1.0,
		MaxCount:  10,
		MaxIter:   3,
		Decay:     0.9,
		Scales:    DefaultScales(),
	}
}

// IterativeResult holds the final labelling and how it was reached.
type IterativeResult struct {
	Labels         []int     // dense from 1, one per point
	Iterations     int       // passes run
	FinalThreshold float64   // threshold used by the last pass
	Splits         int       // successful splits across all passes
	Warnings       []Warning // degenerate splits
}

// NumClusters returns the number of distinct labels
func (r IterativeResult) NumClusters() int {
	top := 0
	for _, l := range r.Labels {
		top = max(top, l)
	}
	return top
}

// IterativeCluster partitions the points by repeatedly splitting clusters
// with more than MaxCount members.
//
// All points start in cluster 1. Each pass tightens the threshold by
// Decay^iteration (cumulatively) and scans labels in increasing order. An
// oversized cluster is re-linked at the current threshold and its
// sub-clusters take its place in the label space; the scan then resumes at
// the first sub-cluster so it too is checked. A split that yields a single
// sub-cluster is recorded as a DegenerateCluster warning and skipped.
//
// Passes continue while the previous one met an oversized cluster, up to
// MaxIter. On return either no cluster exceeds MaxCount or Iterations ==
// MaxIter.
func IterativeCluster(points []MetricPoint, cfg IterativeConfig) (IterativeResult, error) {
	if cfg.MaxCount < 1 {
		return IterativeResult{}, fmt.Errorf("maxcount must be at least 1, got %d", cfg.MaxCount)
	}
	if cfg.MaxIter < 1 {
		return IterativeResult{}, fmt.Errorf("maxiter must be at least 1, got %d", cfg.MaxIter)
	}
	if cfg.Decay <= 0 || cfg.Decay > 1 {
		return IterativeResult{}, fmt.Errorf("decay must be in (0, 1], got %v", cfg.Decay)
	}

	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = 1
	}
	nclusters := min(n, 1)

	res := IterativeResult{FinalThreshold: cfg.Threshold}
	threshold := cfg.Threshold
	oversized := true
	for oversized && res.Iterations < cfg.MaxIter {
		threshold *= math.Pow(cfg.Decay, float64(res.Iterations))
		res.Iterations++
		oversized = false

		// members[l] lists point indices with label l+1 and is rebuilt
		// alongside the labels after every split.
		members := groupByLabel(labels, nclusters)
		pos := 1
		for pos <= nclusters {
			idx := members[pos-1]
			if len(idx) <= cfg.MaxCount {
				pos++
				continue
			}
			if !oversized {
				log.Printf("Iteration %d, threshold %.3f", res.Iterations, threshold)
			}
			oversized = true

			subset := make([]MetricPoint, len(idx))
			for k, i := range idx {
				subset[k] = points[i]
			}
			sub, err := cfg.cluster(subset, threshold)
			if err != nil {
				return IterativeResult{}, fmt.Errorf("splitting cluster %d: %w", pos, err)
			}
			k := 0
			for _, s := range sub {
				k = max(k, s)
			}
			if k <= 1 {
				res.Warnings = append(res.Warnings, newWarning(WarnDegenerateCluster,
					"cluster %d with %d members did not split at threshold %.3f", pos, len(idx), threshold))
				pos++
				continue
			}

			labels = spliceLabels(labels, idx, sub, pos, k)
			nclusters += k - 1
			members = groupByLabel(labels, nclusters)
			res.Splits++
			log.Printf("Split cluster %d (%d members) into %d; %d clusters", pos, len(idx), k, nclusters)
		}
		res.FinalThreshold = threshold
	}

	res.Labels = labels
	return res, nil
}

func (cfg IterativeConfig) cluster(points []MetricPoint, threshold float64) ([]int, error) {
	if cfg.Workers <= 1 || len(points) < parallelMinPoints {
		return Cluster(points, threshold, cfg.Scales)
	}
	condensed, err := CondensedDistancesParallel(context.Background(), points, cfg.Scales, cfg.Workers)
	if err != nil {
		return nil, err
	}
	d, err := SingleLinkage(condensed, len(points))
	if err != nil {
		return nil, fmt.Errorf("linking %d points: %w", len(points), err)
	}
	return d.Cut(threshold), nil
}

// spliceLabels writes a new label buffer in which the cluster at label pos,
// whose members are idx, is replaced by k sub-clusters numbered pos..pos+k-1.
// Labels below pos are untouched; labels above pos shift up by k-1.
func spliceLabels(labels, idx, sub []int, pos, k int) []int {
	next := make([]int, len(labels))
	for i, l := range labels {
		if l > pos {
			next[i] = l + k - 1
		} else {
			next[i] = l
		}
	}
	for j, i := range idx {
		next[i] = pos + sub[j] - 1
	}
	return next
}

func groupByLabel(labels []int, nclusters int) [][]int {
	groups := make([][]int, nclusters)
	for i, l := range labels {
		groups[l-1] = append(groups[l-1], i)
	}
	return groups
}
