package crater

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// CondensedIndex returns the position of pair (i, j), i != j, in a condensed
// distance array over n points. Pairs are ordered by i then j with i < j.
func CondensedIndex(n, i, j int) int {
	if i > j {
		i, j = j, i
	}
	return n*i - i*(i+1)/2 + (j - i - 1)
}

// CondensedDistances returns the strictly upper triangle of the pairwise
// distance matrix in row-major pair order, length n(n-1)/2.
func CondensedDistances(points []MetricPoint, s Scales) []float64 {
	n := len(points)
	if n < 2 {
		return []float64{}
	}
	dm := make([]float64, n*(n-1)/2)
	k := 0
	for i := 0; i < n-1; i++ {
		row := dm[k : k+n-i-1]
		DistanceRow(points[i], points[i+1:], s, row)
		k += n - i - 1
	}
	return dm
}

// CondensedDistancesParallel computes the same array as CondensedDistances
// with up to workers goroutines, each filling a disjoint set of rows.
// workers <= 0 uses GOMAXPROCS.
func CondensedDistancesParallel(ctx context.Context, points []MetricPoint, s Scales, workers int) ([]float64, error) {
	n := len(points)
	if n < 2 {
		return []float64{}, nil
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	dm := make([]float64, n*(n-1)/2)

	// Row i holds n-i-1 pairs, so rows are handed out in chunks of roughly
	// equal pair count rather than equal row count.
	chunk := max(len(dm)/(workers*4), 1)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	start := 0
	for start < n-1 {
		end, pairs := start, 0
		for end < n-1 && pairs < chunk {
			pairs += n - end - 1
			end++
		}
		lo, hi := start, end
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				k := CondensedIndex(n, i, i+1)
				DistanceRow(points[i], points[i+1:], s, dm[k:k+n-i-1])
			}
			return nil
		})
		start = end
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dm, nil
}

// CrossDistances returns the len(a) x len(b) distance matrix between two
// point sets, one row per point of a.
func CrossDistances(a, b []MetricPoint, s Scales) [][]float64 {
	out := make([][]float64, len(a))
	for i, p := range a {
		out[i] = make([]float64, len(b))
		DistanceRow(p, b, s, out[i])
	}
	return out
}

// NearestDistances returns, for each point of a, the smallest distance to
// any point of b. Empty b yields +Inf entries.
func NearestDistances(a, b []MetricPoint, s Scales) []float64 {
	out := make([]float64, len(a))
	row := make([]float64, len(b))
	for i, p := range a {
		DistanceRow(p, b, s, row)
		best := math.Inf(1)
		for _, d := range row {
			if d < best {
				best = d
			}
		}
		out[i] = best
	}
	return out
}
