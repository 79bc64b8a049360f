package crater

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countLabels(labels []int) map[int]int {
	counts := make(map[int]int)
	for _, l := range labels {
		counts[l]++
	}
	return counts
}

func TestSpliceLabels(t *testing.T) {
	// clusters 1,2,3; split cluster 2 (points 1 and 3) into two
	labels := []int{1, 2, 3, 2, 3}
	got := spliceLabels(labels, []int{1, 3}, []int{2, 1}, 2, 2)
	assert.Equal(t, []int{1, 3, 4, 2, 4}, got)
	assert.Equal(t, []int{1, 2, 3, 2, 3}, labels, "input buffer must not change")
}

func TestIterativeCluster_Small(t *testing.T) {
	t.Run("single marking", func(t *testing.T) {
		res, err := IterativeCluster(line(20, 0), DefaultIterativeConfig())
		require.NoError(t, err)
		assert.Equal(t, []int{1}, res.Labels)
		assert.Equal(t, 1, res.NumClusters())
	})

	t.Run("empty", func(t *testing.T) {
		res, err := IterativeCluster(nil, DefaultIterativeConfig())
		require.NoError(t, err)
		assert.Empty(t, res.Labels)
		assert.Zero(t, res.NumClusters())
	})

	t.Run("fewer than maxcount stays one cluster", func(t *testing.T) {
		res, err := IterativeCluster(line(16, 0, 100, 200), DefaultIterativeConfig())
		require.NoError(t, err)
		assert.Equal(t, []int{1, 1, 1}, res.Labels)
		assert.Equal(t, 1, res.Iterations)
		assert.Zero(t, res.Splits)
	})
}

func TestIterativeCluster_SplitsSeparatedGroups(t *testing.T) {
	// three tight groups of 6 markings each, far apart
	var metres []float64
	for _, base := range []float64{0, 500, 1000} {
		for k := 0; k < 6; k++ {
			metres = append(metres, base+float64(k)*0.5)
		}
	}
	cfg := DefaultIterativeConfig()
	cfg.MaxCount = 10
	res, err := IterativeCluster(line(16, metres...), cfg)
	require.NoError(t, err)

	assertDense(t, res.Labels)
	assert.Equal(t, 3, res.NumClusters())
	for l, c := range countLabels(res.Labels) {
		assert.Equal(t, 6, c, "cluster %d", l)
	}
	assert.Equal(t, 1, res.Splits)
	assert.Equal(t, 2, res.Iterations)
	assert.Empty(t, res.Warnings)
}

func TestIterativeCluster_DecaySplitsStubbornCluster(t *testing.T) {
	// group A: 12 markings in two sub-chains 3 m apart (splits only once the
	// threshold decays); group B: 4 markings far away.
	var metres []float64
	for k := 0; k < 6; k++ {
		metres = append(metres, float64(k)*0.5)
	}
	for k := 0; k < 6; k++ {
		metres = append(metres, 5.5+float64(k)*0.5)
	}
	for k := 0; k < 4; k++ {
		metres = append(metres, 1000+float64(k)*0.5)
	}
	cfg := DefaultIterativeConfig()
	// radius 16 and position scale 1: metric = metres / 4
	cfg.Scales = Scales{Position: 1, Size: 1}
	cfg.Threshold = 1.0
	cfg.MaxCount = 10
	cfg.MaxIter = 5
	res, err := IterativeCluster(line(16, metres...), cfg)
	require.NoError(t, err)

	assertDense(t, res.Labels)
	counts := countLabels(res.Labels)
	assert.Len(t, counts, 3)
	for l, c := range counts {
		assert.LessOrEqual(t, c, cfg.MaxCount, "cluster %d", l)
	}
	// label order follows first appearance within the split
	assert.Equal(t, 1, res.Labels[0])
	assert.Equal(t, res.Labels[0], res.Labels[5])
	assert.NotEqual(t, res.Labels[0], res.Labels[6])
	assert.Equal(t, res.Labels[6], res.Labels[11])
}

func TestIterativeCluster_DegenerateSplitStopsAtBudget(t *testing.T) {
	// 15 markings within a few centimetres cannot be split
	metres := make([]float64, 15)
	for k := range metres {
		metres[k] = float64(k) * 0.01
	}
	cfg := DefaultIterativeConfig()
	cfg.MaxIter = 4
	res, err := IterativeCluster(line(16, metres...), cfg)
	require.NoError(t, err)

	assert.Equal(t, cfg.MaxIter, res.Iterations)
	assert.Equal(t, 1, res.NumClusters())
	assert.Len(t, res.Warnings, cfg.MaxIter)
	for _, w := range res.Warnings {
		assert.Equal(t, WarnDegenerateCluster, w.Kind)
	}
}

func TestIterativeCluster_TerminationInvariant(t *testing.T) {
	cfg := DefaultIterativeConfig()
	cfg.MaxCount = 5
	for seed := uint64(0); seed < 10; seed++ {
		points := randomPoints(seed, 80)
		res, err := IterativeCluster(points, cfg)
		require.NoError(t, err)
		require.Len(t, res.Labels, len(points))
		assertDense(t, res.Labels)

		oversized := false
		for _, c := range countLabels(res.Labels) {
			if c > cfg.MaxCount {
				oversized = true
			}
		}
		if oversized {
			assert.Equal(t, cfg.MaxIter, res.Iterations, "seed %d", seed)
		}
	}
}

func TestIterativeCluster_ThresholdDecay(t *testing.T) {
	metres := make([]float64, 15)
	for k := range metres {
		metres[k] = float64(k) * 0.01
	}
	cfg := DefaultIterativeConfig()
	cfg.Threshold = 2.0
	cfg.MaxIter = 3
	res, err := IterativeCluster(line(16, metres...), cfg)
	require.NoError(t, err)
	// 2.0 * 0.9^0 * 0.9^1 * 0.9^2
	assert.InDelta(t, 2.0*0.9*0.81, res.FinalThreshold, 1e-12)
}

func TestIterativeCluster_InvalidConfig(t *testing.T) {
	cfg := DefaultIterativeConfig()
	cfg.MaxCount = 0
	_, err := IterativeCluster(line(16, 0), cfg)
	assert.Error(t, err)

	cfg = DefaultIterativeConfig()
	cfg.MaxIter = 0
	_, err = IterativeCluster(line(16, 0), cfg)
	assert.Error(t, err)

	cfg = DefaultIterativeConfig()
	cfg.Decay = 0
	_, err = IterativeCluster(line(16, 0), cfg)
	assert.Error(t, err)
}

func TestIterativeCluster_ParallelMatchesInline(t *testing.T) {
	saved := parallelMinPoints
	parallelMinPoints = 50
	t.Cleanup(func() { parallelMinPoints = saved })

	rng := rand.New(rand.NewPCG(11, 23))
	markings, _ := MakeTestCraters(rng, DefaultSyntheticConfig())
	points := MarkingPoints(markings)
	require.Greater(t, len(points), parallelMinPoints)

	cfg := DefaultIterativeConfig()
	cfg.Workers = 1
	inline, err := IterativeCluster(points, cfg)
	require.NoError(t, err)

	cfg.Workers = 4
	parallel, err := IterativeCluster(points, cfg)
	require.NoError(t, err)

	assert.Equal(t, inline.Labels, parallel.Labels)
	assert.Equal(t, inline.Iterations, parallel.Iterations)
	assert.Equal(t, inline.Splits, parallel.Splits)
	assert.Greater(t, parallel.NumClusters(), 1)
}
