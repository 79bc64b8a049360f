package crater

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// craterField scatters n craters over a square of the given side in metres,
// keeping centres at least 80 m apart.
func craterField(seed uint64, n int, side float64) []MetricPoint {
	rng := rand.New(rand.NewPCG(seed, 42))
	type xy struct{ x, y float64 }
	var placed []xy
	points := make([]MetricPoint, 0, n)
	for len(points) < n {
		x, y := rng.Float64()*side, rng.Float64()*side
		ok := true
		for _, p := range placed {
			if (p.x-x)*(p.x-x)+(p.y-y)*(p.y-y) < 80*80 {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		placed = append(placed, xy{x, y})
		points = append(points, MetricPoint{
			Long:   30.75 + x*DegreesPerMetre,
			Lat:    20.23 + y*DegreesPerMetre,
			Radius: 20 + rng.Float64()*60,
		})
	}
	return points
}

func TestFindOffset_RecoversKnownShift(t *testing.T) {
	want := Offset{Long: 0.01, Lat: -0.005}
	cfg := DefaultAlignConfig()
	tol := cfg.XTol * DegreesPerMetre

	tests := []struct {
		name string
		n    int
		side float64
	}{
		{"small catalogue", 90, 4000},
		{"large catalogue uses top quartile", 200, 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			truth := craterField(uint64(tt.n), tt.n, tt.side)
			candidate := Translate(truth, want)

			res, err := FindOffset(truth, candidate, cfg)
			require.NoError(t, err)
			assert.Empty(t, res.Warnings)
			assert.InDelta(t, want.Long, res.Offset.Long, tol)
			assert.InDelta(t, want.Lat, res.Offset.Lat, tol)
			assert.Positive(t, res.Evaluations)

			if tt.n > cfg.QuartileMinPoints {
				assert.Less(t, res.UsedTruth, tt.n/3)
				assert.Less(t, res.UsedCandidate, tt.n/3)
			} else {
				assert.Greater(t, res.UsedTruth, tt.n/2)
			}

			aligned := Translate(candidate, res.Offset.Negate())
			for i := range truth {
				assert.Less(t, AbsolutePositionDistance(truth[i], aligned[i]), cfg.XTol*2)
			}
		})
	}
}

func TestFindOffset_IdenticalSets(t *testing.T) {
	truth := craterField(5, 40, 1500)
	res, err := FindOffset(truth, truth, DefaultAlignConfig())
	require.NoError(t, err)
	assert.InDelta(t, 0, res.Offset.Long, 1e-9)
	assert.InDelta(t, 0, res.Offset.Lat, 1e-9)
	assert.InDelta(t, 0, res.Objective, 1e-9)
}

func TestFindOffset_EmptyRegion(t *testing.T) {
	truth := craterField(1, 10, 500)
	far := Translate(craterField(2, 10, 500), Offset{Long: 1, Lat: 1})

	tests := []struct {
		name             string
		truth, candidate []MetricPoint
	}{
		{"disjoint", truth, far},
		{"empty truth", nil, far},
		{"empty candidate", truth, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := FindOffset(tt.truth, tt.candidate, DefaultAlignConfig())
			require.NoError(t, err)
			assert.True(t, res.Offset.IsZero())
			require.Len(t, res.Warnings, 1)
			assert.Equal(t, WarnEmptyRegion, res.Warnings[0].Kind)
		})
	}
}

func TestFindOffset_InvalidConfig(t *testing.T) {
	cfg := DefaultAlignConfig()
	cfg.XTol = 0
	_, err := FindOffset(nil, nil, cfg)
	assert.Error(t, err)
}

func TestTopQuartileByRadius(t *testing.T) {
	points := make([]MetricPoint, 200)
	for i := range points {
		points[i] = MetricPoint{Radius: float64(i + 1)}
	}
	top := topQuartileByRadius(points)
	assert.Len(t, top, 50)
	for _, p := range top {
		assert.GreaterOrEqual(t, p.Radius, 151.0)
	}
}

func TestTranslate(t *testing.T) {
	points := []MetricPoint{{Long: 1, Lat: 2, Radius: 3, MinSize: true}}
	got := Translate(points, Offset{Long: 0.5, Lat: -0.25})
	assert.Equal(t, MetricPoint{Long: 1.5, Lat: 1.75, Radius: 3, MinSize: true}, got[0])
	assert.Equal(t, 1.0, points[0].Long, "input must not change")

	craters := TranslateCraters([]Crater{{Long: 1, Lat: 2, Count: 4}}, Offset{Long: 1, Lat: 1})
	assert.Equal(t, 2.0, craters[0].Long)
	assert.Equal(t, 3.0, craters[0].Lat)
	assert.Equal(t, 4, craters[0].Count)
	assert.False(t, math.IsNaN(craters[0].Long))
}

func TestAlignObjective_DegreeScaledUnits(t *testing.T) {
	truth := craterField(7, 40, 2000)
	shift := Offset{Long: 10 * DegreesPerMetre, Lat: 10 * DegreesPerMetre}
	obj := newAlignObjective(truth, Translate(truth, shift), DefaultScales())

	// x = (10, 10) undoes the shift exactly; a true-metre east axis would need
	// 10/cos(lat) instead.
	assert.Less(t, obj.eval([]float64{10, 10}), 1e-6)
	cosLat := math.Cos(truth[0].Lat * math.Pi / 180)
	assert.Greater(t, obj.eval([]float64{10 / cosLat, 10}), obj.eval([]float64{10, 10}))
}
