package crater

import (
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// line places points along a meridian at the given metre offsets with a
// common radius, so distances are easy to reason about.
func line(radius float64, metres ...float64) []MetricPoint {
	points := make([]MetricPoint, len(metres))
	for i, m := range metres {
		points[i] = MetricPoint{Long: 30.7, Lat: 20.2 + m*DegreesPerMetre, Radius: radius}
	}
	return points
}

func assertDense(t *testing.T, labels []int) {
	t.Helper()
	if len(labels) == 0 {
		return
	}
	seen := make(map[int]bool)
	for _, l := range labels {
		seen[l] = true
	}
	top := slices.Max(labels)
	for l := 1; l <= top; l++ {
		if !seen[l] {
			t.Fatalf("labels %v skip %d", labels, l)
		}
	}
	if seen[0] {
		t.Fatalf("labels %v contain 0", labels)
	}
}

func TestSingleLinkage_Merges(t *testing.T) {
	// distances with Position scale 1 and radius 1 equal metres
	s := Scales{Position: 1, Size: 1}
	points := line(1, 0, 1, 3, 10)
	d, err := SingleLinkage(CondensedDistances(points, s), len(points))
	require.NoError(t, err)
	require.Len(t, d.Merges, 3)

	assert.InDelta(t, 1.0, d.Merges[0].Distance, 1e-6)
	assert.Equal(t, 0, d.Merges[0].A)
	assert.Equal(t, 1, d.Merges[0].B)
	assert.Equal(t, 2, d.Merges[0].Size)

	assert.InDelta(t, 2.0, d.Merges[1].Distance, 1e-6)
	assert.Equal(t, 2, d.Merges[1].A)
	assert.Equal(t, 4, d.Merges[1].B)
	assert.Equal(t, 3, d.Merges[1].Size)

	assert.InDelta(t, 7.0, d.Merges[2].Distance, 1e-6)
	assert.Equal(t, 3, d.Merges[2].A)
	assert.Equal(t, 5, d.Merges[2].B)
	assert.Equal(t, 4, d.Merges[2].Size)
}

func TestSingleLinkage_BadLength(t *testing.T) {
	_, err := SingleLinkage([]float64{1, 2}, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInputShape))
}

func TestDendrogramCut(t *testing.T) {
	s := Scales{Position: 1, Size: 1}
	points := line(1, 0, 1, 3, 10, 10.5)
	d, err := SingleLinkage(CondensedDistances(points, s), len(points))
	require.NoError(t, err)

	tests := []struct {
		threshold float64
		want      []int
	}{
		{0.1, []int{1, 2, 3, 4, 5}},
		{0.6, []int{1, 2, 3, 4, 4}},
		{1.5, []int{1, 1, 2, 3, 3}},
		{2.5, []int{1, 1, 1, 2, 2}},
		{100, []int{1, 1, 1, 1, 1}},
	}
	for _, tt := range tests {
		got := d.Cut(tt.threshold)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Cut(%v) mismatch (-want +got):\n%s", tt.threshold, diff)
		}
	}
}

func TestCluster(t *testing.T) {
	s := DefaultScales()

	t.Run("single point", func(t *testing.T) {
		labels, err := Cluster(line(20, 0), 1.0, s)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, labels)
	})

	t.Run("no points", func(t *testing.T) {
		labels, err := Cluster(nil, 1.0, s)
		require.NoError(t, err)
		assert.Empty(t, labels)
	})

	t.Run("chain links through neighbours", func(t *testing.T) {
		// radius 16 -> sqrt 4, scale 0.25: 0.9 m apart is 0.9 metric units
		labels, err := Cluster(line(16, 0, 0.9, 1.8, 2.7, 50, 50.9), 1.0, s)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 1, 1, 1, 2, 2}, labels)
	})

	t.Run("labels are dense for random input", func(t *testing.T) {
		for seed := uint64(0); seed < 20; seed++ {
			labels, err := Cluster(randomPoints(seed, 40), 1.0, s)
			require.NoError(t, err)
			require.Len(t, labels, 40)
			assertDense(t, labels)
		}
	})

	t.Run("re-clustering a formed cluster does not split it", func(t *testing.T) {
		points := randomPoints(99, 60)
		labels, err := Cluster(points, 5.0, s)
		require.NoError(t, err)
		for l := 1; l <= slices.Max(labels); l++ {
			var members []MetricPoint
			for i, pl := range labels {
				if pl == l {
					members = append(members, points[i])
				}
			}
			sub, err := Cluster(members, 5.0, s)
			require.NoError(t, err)
			for _, sl := range sub {
				assert.Equal(t, 1, sl, "cluster %d split on re-run", l)
			}
		}
	})
}
