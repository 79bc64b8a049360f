package crater

import (
	"fmt"
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultSizeFreqBins is the number of log-radius bins used for the
// cumulative size-frequency comparison.
const DefaultSizeFreqBins = 10000

// CompareConfig controls catalogue matching.
type CompareConfig struct {
	Scales      Scales
	MaxDistance float64 // metric distance above which a pair never matches
	Bins        int
}

// DefaultCompareConfig matches within the default linking threshold
func DefaultCompareConfig() CompareConfig {
	return CompareConfig{
		Scales:      DefaultScales(),
		MaxDistance: DefaultIterativeConfig().Threshold,
		Bins:        DefaultSizeFreqBins,
	}
}

// Match pairs a clustered crater with an expert crater.
type Match struct {
	Crater   int
	Truth    int
	Distance float64
}

// SizeFreqStats summarises the relative difference between the cumulative
// size-frequency curves of two catalogues over the bins where both are
// non-zero.
type SizeFreqStats struct {
	Bins      int     `json:"bins"`
	MeanDelta float64 `json:"mean_delta"`
	RMSDelta  float64 `json:"rms_delta"`
	MADelta   float64 `json:"mad_delta"`
}

// Comparison is the outcome of matching a crater catalogue against truth.
type Comparison struct {
	Matches      []Match       `json:"-"`
	Craters      int           `json:"craters"`
	Truth        int           `json:"truth"`
	Matched      int           `json:"matched"`
	Completeness float64       `json:"completeness"`
	Purity       float64       `json:"purity"`
	SizeFreq     SizeFreqStats `json:"size_frequency"`
}

type truthItem struct {
	idx  int
	rect rtreego.Rect
}

func (t *truthItem) Bounds() rtreego.Rect {
	return t.rect
}

// CompareCatalogues matches craters one-to-one against truth, closest pairs
// first, keeping pairs whose metric distance is within cfg.MaxDistance.
// Truth craters are indexed in an R-tree and each crater only scores the
// candidates inside a box wide enough to hold every possible match.
func CompareCatalogues(craters, truth []Crater, cfg CompareConfig) (Comparison, error) {
	if cfg.MaxDistance <= 0 {
		return Comparison{}, fmt.Errorf("max distance must be positive, got %v", cfg.MaxDistance)
	}
	if cfg.Scales.Position <= 0 || cfg.Scales.Size <= 0 {
		return Comparison{}, fmt.Errorf("scales must be positive, got %+v", cfg.Scales)
	}
	res := Comparison{Craters: len(craters), Truth: len(truth)}
	if len(craters) == 0 || len(truth) == 0 {
		return res, nil
	}

	cp := CraterPoints(craters)
	tp := CraterPoints(truth)

	items := make([]rtreego.Spatial, len(tp))
	maxRadius := 0.0
	for i, p := range tp {
		items[i] = &truthItem{idx: i, rect: rtreego.Point{p.Long, p.Lat}.ToRect(1e-9)}
		maxRadius = math.Max(maxRadius, p.Radius)
	}
	tree := rtreego.NewTree(2, 25, 50, items...)

	var pairs []Match
	for i, p := range cp {
		// position term alone must stay within MaxDistance
		reach := cfg.MaxDistance * cfg.Scales.Position * math.Sqrt((p.Radius+maxRadius)/2)
		dLat := reach * DegreesPerMetre
		cosLat := math.Cos((math.Abs(p.Lat) + dLat) * math.Pi / 180)
		dLong := 180.0
		if cosLat > 1e-6 {
			dLong = math.Min(dLat/cosLat, 180)
		}
		box, err := rtreego.NewRectFromPoints(
			rtreego.Point{p.Long - dLong, p.Lat - dLat},
			rtreego.Point{p.Long + dLong, p.Lat + dLat},
		)
		if err != nil {
			return Comparison{}, fmt.Errorf("search box for crater %d: %w", i, err)
		}
		for _, s := range tree.SearchIntersect(box) {
			j := s.(*truthItem).idx
			if d := Distance(p, tp[j], cfg.Scales); d <= cfg.MaxDistance {
				pairs = append(pairs, Match{Crater: i, Truth: j, Distance: d})
			}
		}
	}

	sort.SliceStable(pairs, func(a, b int) bool {
		if pairs[a].Distance != pairs[b].Distance {
			return pairs[a].Distance < pairs[b].Distance
		}
		if pairs[a].Crater != pairs[b].Crater {
			return pairs[a].Crater < pairs[b].Crater
		}
		return pairs[a].Truth < pairs[b].Truth
	})
	usedC := make([]bool, len(cp))
	usedT := make([]bool, len(tp))
	for _, m := range pairs {
		if usedC[m.Crater] || usedT[m.Truth] {
			continue
		}
		usedC[m.Crater], usedT[m.Truth] = true, true
		res.Matches = append(res.Matches, m)
	}
	sort.Slice(res.Matches, func(a, b int) bool { return res.Matches[a].Truth < res.Matches[b].Truth })

	res.Matched = len(res.Matches)
	res.Completeness = float64(res.Matched) / float64(len(truth))
	res.Purity = float64(res.Matched) / float64(len(craters))

	bins := cfg.Bins
	if bins <= 0 {
		bins = DefaultSizeFreqBins
	}
	res.SizeFreq = CompareSizeFrequency(radii(craters), radii(truth), bins)
	return res, nil
}

func radii(craters []Crater) []float64 {
	out := make([]float64, len(craters))
	for i, c := range craters {
		out[i] = c.Radius
	}
	return out
}

// CumulativeSizeFrequency counts, for each of the bins log10-spaced edges
// between lo and hi, how many radii fall at or above that edge and at or
// below hi. Radii outside [lo, hi] are ignored.
func CumulativeSizeFrequency(r []float64, lo, hi float64, bins int) []float64 {
	counts := make([]float64, bins)
	if bins == 0 || lo <= 0 || hi < lo {
		return counts
	}
	llo, lhi := math.Log10(lo), math.Log10(hi)
	width := (lhi - llo) / float64(bins)
	for _, v := range r {
		if v < lo || v > hi {
			continue
		}
		b := bins - 1
		if width > 0 {
			b = min(int((math.Log10(v)-llo)/width), bins-1)
		}
		counts[b]++
	}
	for b := bins - 2; b >= 0; b-- {
		counts[b] += counts[b+1]
	}
	return counts
}

// CompareSizeFrequency bins both catalogues over the range of the clustered
// radii and reports the mean, rms and median absolute value of
// clustered/truth - 1.
func CompareSizeFrequency(clustered, truth []float64, bins int) SizeFreqStats {
	if len(clustered) == 0 || len(truth) == 0 {
		return SizeFreqStats{}
	}
	lo, hi := floats.Min(clustered), floats.Max(clustered)
	c := CumulativeSizeFrequency(clustered, lo, hi, bins)
	t := CumulativeSizeFrequency(truth, lo, hi, bins)

	var delta []float64
	for i := range c {
		if c[i] > 0 && t[i] > 0 {
			delta = append(delta, c[i]/t[i]-1)
		}
	}
	if len(delta) == 0 {
		return SizeFreqStats{}
	}

	abs := make([]float64, len(delta))
	for i, d := range delta {
		abs[i] = math.Abs(d)
	}
	sort.Float64s(abs)
	mad := abs[len(abs)/2]
	if len(abs)%2 == 0 {
		mad = (abs[len(abs)/2-1] + mad) / 2
	}

	return SizeFreqStats{
		Bins:      len(delta),
		MeanDelta: stat.Mean(delta, nil),
		RMSDelta:  math.Sqrt(floats.Dot(delta, delta) / float64(len(delta))),
		MADelta:   mad,
	}
}
