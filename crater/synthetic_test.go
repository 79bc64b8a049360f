package crater

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeTestCraters(t *testing.T) {
	cfg := SyntheticConfig{Craters: 20, Observations: 6, PMin: 0.3, PWrong: 0.25}
	markings, truth := MakeTestCraters(rand.New(rand.NewPCG(3, 4)), cfg)
	require.Len(t, truth, 20)
	require.Len(t, markings, 120)

	maxRadius := 0.0
	for _, c := range truth {
		assert.GreaterOrEqual(t, c.Radius, BaseMinSize)
		maxRadius = max(maxRadius, c.Radius)
	}
	// radii are drawn up to a fifth of the field scale
	assert.LessOrEqual(t, maxRadius, 100*1.4142135623730951/5)

	var minsize, wrong int
	for i, m := range markings {
		assert.GreaterOrEqual(t, m.Radius, BaseMinSize)
		if m.MinSize {
			minsize++
			assert.Equal(t, BaseMinSize, m.Radius)
		}
		if m.TrueLabel == 0 {
			wrong++
			continue
		}
		// observation rounds list every crater in order
		assert.Equal(t, i%cfg.Craters+1, m.TrueLabel)
	}
	assert.Positive(t, minsize)
	assert.Positive(t, wrong)
	assert.Less(t, wrong, len(markings)/2)
}

func TestMakeTestCraters_Deterministic(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	a, ta := MakeTestCraters(rand.New(rand.NewPCG(9, 9)), cfg)
	b, tb := MakeTestCraters(rand.New(rand.NewPCG(9, 9)), cfg)
	assert.Equal(t, a, b)
	assert.Equal(t, ta, tb)
}

func TestWriteSyntheticMarkings_ReadBack(t *testing.T) {
	markings := []Marking{
		{Long: 0.001, Lat: 0.002, Radius: 20, TrueLabel: 1},
		{Long: 0.003, Lat: 0.004, Radius: BaseMinSize, MinSize: true, TrueLabel: 2},
		{Long: 0.005, Lat: 0.006, Radius: 22},
		{Long: 0.007, Lat: 0.008, Radius: BaseMinSize, MinSize: true},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteSyntheticMarkings(&buf, markings))
	assert.Contains(t, buf.String(), "long,lat,radius,flag,truelabel\n0.001000,0.002000,20.000000,0,1\n")
	assert.Contains(t, buf.String(), "0.005000,0.006000,22.000000,2,0\n")
	assert.Contains(t, buf.String(), "0.007000,0.008000,14.500000,1,0\n")

	set, err := ReadMarkings(&buf)
	require.NoError(t, err)
	assert.True(t, set.HasTrueLabels)
	require.Len(t, set.Markings, 4)
	for i, m := range set.Markings {
		assert.Equal(t, markings[i].MinSize, m.MinSize, "marking %d", i)
		assert.Equal(t, markings[i].TrueLabel, m.TrueLabel, "marking %d", i)
	}
}

func TestWriteTruthCraters_ReadBack(t *testing.T) {
	truth := []Crater{{Long: 0.01, Lat: 0.02, Radius: 30}}
	var buf bytes.Buffer
	require.NoError(t, WriteTruthCraters(&buf, truth))
	got, err := ReadTruth(&buf)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 30.0, got[0].Radius, 1e-9)
	assert.InDelta(t, 0.01, got[0].Long, 1e-9)
}
