package crater

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreClustering(t *testing.T) {
	tests := []struct {
		name         string
		truth, pred  []int
		homogeneity  float64
		completeness float64
		ari          float64
	}{
		{
			name:         "perfect",
			truth:        []int{1, 1, 2, 2, 3, 3},
			pred:         []int{3, 3, 1, 1, 2, 2},
			homogeneity:  1,
			completeness: 1,
			ari:          1,
		},
		{
			name:         "everything merged",
			truth:        []int{1, 1, 2, 2},
			pred:         []int{1, 1, 1, 1},
			homogeneity:  0,
			completeness: 1,
			ari:          0,
		},
		{
			name:         "every point alone",
			truth:        []int{1, 1, 2, 2},
			pred:         []int{1, 2, 3, 4},
			homogeneity:  1,
			completeness: 0.5,
			ari:          0,
		},
		{
			name:         "single class single cluster",
			truth:        []int{4, 4, 4},
			pred:         []int{1, 1, 1},
			homogeneity:  1,
			completeness: 1,
			ari:          1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ScoreClustering(tt.truth, tt.pred, 2)
			require.NoError(t, err)
			assert.InDelta(t, tt.homogeneity, q.Homogeneity, 1e-12)
			assert.InDelta(t, tt.completeness, q.Completeness, 1e-12)
			assert.InDelta(t, tt.ari, q.AdjustedRand, 1e-12)
			if q.Homogeneity+q.Completeness > 0 {
				want := 2 * q.Homogeneity * q.Completeness / (q.Homogeneity + q.Completeness)
				assert.InDelta(t, want, q.VMeasure, 1e-12)
			}
		})
	}
}

func TestScoreClustering_KnownARI(t *testing.T) {
	// sklearn.metrics.adjusted_rand_score([0,0,1,1],[0,0,1,2]) == 0.5714...
	q, err := ScoreClustering([]int{1, 1, 2, 2}, []int{1, 1, 2, 3}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 4.0/7, q.AdjustedRand, 1e-12)
	assert.InDelta(t, 1, q.Homogeneity, 1e-12)
}

func TestScoreClustering_Recovered(t *testing.T) {
	truth := []int{1, 1, 1, 2, 2, 0, 0, 3}
	pred := []int{1, 1, 2, 2, 2, 3, 3, 4}
	q, err := ScoreClustering(truth, pred, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, q.TrueCraters)
	// cluster 1 -> crater 1, cluster 2 -> crater 2, cluster 3 is all wrong
	// positions and cluster 4 is below the count floor
	assert.Equal(t, 2, q.Recovered)
	assert.Contains(t, q.String(), "Recovered: 2/3")
}

func TestScoreClustering_LengthMismatch(t *testing.T) {
	_, err := ScoreClustering([]int{1}, []int{1, 2}, 2)
	assert.True(t, errors.Is(err, ErrInputShape))
}
