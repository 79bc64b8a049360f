package crater

import (
	"encoding/csv"
	"io"
	"math"
	"math/rand/v2"
	"strconv"
)

// SyntheticConfig describes a synthetic crater field.
type SyntheticConfig struct {
	Craters      int     `yaml:"craters"`
	Observations int     `yaml:"observations"`
	PMin         float64 `yaml:"pmin"`   // chance a marking is snapped to the minimum size
	PWrong       float64 `yaml:"pwrong"` // chance a marking lands at a random position
}

// DefaultSyntheticConfig is 50 craters each marked 10 times
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{Craters: 50, Observations: 10, PMin: 0.1, PWrong: 0.15}
}

// MakeTestCraters generates a synthetic truth catalogue and noisy markings of
// it. Crater centres are scattered around a field whose size grows with the
// square root of the crater count; every observation round marks each
// crater once with position noise of sqrt(radius)/5 metres and 5% size
// noise. Markings placed at a random position get TrueLabel 0, the others
// carry the 1-based index of their crater.
func MakeTestCraters(rng *rand.Rand, cfg SyntheticConfig) ([]Marking, []Crater) {
	n := cfg.Craters
	scale := math.Sqrt(float64(n)/10) * 100
	normal := func(mean, sd float64) float64 {
		return mean + sd*rng.NormFloat64()
	}

	cx := make([]float64, n)
	cy := make([]float64, n)
	cr := make([]float64, n)
	for i := range n {
		cx[i] = normal(scale, scale/2)
	}
	for i := range n {
		cy[i] = normal(scale, scale/2)
	}
	for i := range n {
		cr[i] = BaseMinSize + rng.Float64()*(scale/5-BaseMinSize)
	}

	markings := make([]Marking, 0, n*cfg.Observations)
	for range cfg.Observations {
		for j := range n {
			sd := math.Sqrt(cr[j]) / 5
			x := normal(cx[j], sd)
			y := normal(cy[j], sd)
			m := Marking{
				Radius:    math.Max(normal(cr[j], cr[j]/20), BaseMinSize),
				TrueLabel: j + 1,
			}
			if rng.Float64() < cfg.PWrong {
				x, y = normal(scale, scale/2), normal(scale, scale/2)
				m.TrueLabel = 0
			}
			if rng.Float64() < cfg.PMin {
				m.Radius = BaseMinSize
				m.MinSize = true
			}
			m.Long, m.Lat = x*DegreesPerMetre, y*DegreesPerMetre
			markings = append(markings, m)
		}
	}

	truth := make([]Crater, n)
	for i := range n {
		truth[i] = Crater{
			Long:        cx[i] * DegreesPerMetre,
			Lat:         cy[i] * DegreesPerMetre,
			Radius:      cr[i],
			Count:       1,
			CountNotMin: 1,
		}
	}
	return markings, truth
}

// WriteSyntheticMarkings writes markings in the long,lat,radius,flag,truelabel
// layout. The flag is 1 for minimum-size markings, 2 for markings at a wrong
// position and 0 otherwise; minimum size wins when both apply.
func WriteSyntheticMarkings(w io.Writer, markings []Marking) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"long", "lat", "radius", "flag", "truelabel"}); err != nil {
		return err
	}
	for _, m := range markings {
		flag := 0
		switch {
		case m.MinSize:
			flag = flagMinSize
		case m.TrueLabel == 0:
			flag = flagWrongPosition
		}
		rec := []string{
			strconv.FormatFloat(m.Long, 'f', 6, 64),
			strconv.FormatFloat(m.Lat, 'f', 6, 64),
			strconv.FormatFloat(m.Radius, 'f', 6, 64),
			strconv.Itoa(flag),
			strconv.Itoa(m.TrueLabel),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTruthCraters writes a truth catalogue in the long,lat,radius layout
// read back by ReadTruth.
func WriteTruthCraters(w io.Writer, truth []Crater) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"long", "lat", "radius"}); err != nil {
		return err
	}
	for _, c := range truth {
		rec := []string{
			strconv.FormatFloat(c.Long, 'f', 6, 64),
			strconv.FormatFloat(c.Lat, 'f', 6, 64),
			strconv.FormatFloat(c.Radius, 'f', 6, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
