package crater

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// FilterBy selects which floor MinCount applies to
type FilterBy string

const (
	FilterByCount FilterBy = "count"
	FilterByScore FilterBy = "score"
)

// AggregateOptions controls which clusters survive aggregation.
//
// Historical runs applied MinCount either to the raw membership count or to
// the weighted score; both are supported and FilterBy picks one.
type AggregateOptions struct {
	MinCount            float64
	FilterBy            FilterBy
	RequireReliableSize bool    // also require more than one non-minimum-size member
	MinSizeDownweight   float64 // score multiplier for minimum-size members
}

// DefaultAggregateOptions returns the count-based filter with mincount 2
func DefaultAggregateOptions() AggregateOptions {
	return AggregateOptions{
		MinCount:          2,
		FilterBy:          FilterByCount,
		MinSizeDownweight: 0.5,
	}
}

// Aggregate builds one Crater per cluster label and drops clusters that fail
// the membership or score floor. Craters are returned in label order.
func Aggregate(markings []Marking, labels []int, opts AggregateOptions) ([]Crater, error) {
	if len(labels) != len(markings) {
		return nil, shapeErrorf("labels", 0, "%d labels for %d markings", len(labels), len(markings))
	}
	if opts.FilterBy != FilterByCount && opts.FilterBy != FilterByScore {
		return nil, fmt.Errorf("unknown filter %q", opts.FilterBy)
	}

	nclusters := 0
	for i, l := range labels {
		if l < 1 {
			return nil, shapeErrorf("labels", 0, "label %d at index %d is not positive", l, i)
		}
		nclusters = max(nclusters, l)
	}
	groups := groupByLabel(labels, nclusters)

	craters := make([]Crater, 0, nclusters)
	for _, idx := range groups {
		if len(idx) == 0 {
			continue
		}
		c := aggregateCluster(markings, idx, opts.MinSizeDownweight)
		if !opts.keep(c) {
			continue
		}
		craters = append(craters, c)
	}
	return craters, nil
}

func (o AggregateOptions) keep(c Crater) bool {
	floor := float64(c.Count)
	if o.FilterBy == FilterByScore {
		floor = c.Score
	}
	if floor < o.MinCount {
		return false
	}
	if o.RequireReliableSize && c.CountNotMin <= 1 {
		return false
	}
	return true
}

func aggregateCluster(markings []Marking, idx []int, downweight float64) Crater {
	var (
		long, lat, radius, axial, angle, bould []float64
		sizeIdx                                []int
		c                                      Crater
	)
	for _, i := range idx {
		m := markings[i]
		long = append(long, m.Long)
		lat = append(lat, m.Lat)
		if m.MinSize {
			c.Score += downweight * m.EffectiveWeight()
		} else {
			c.Score += m.EffectiveWeight()
			sizeIdx = append(sizeIdx, i)
		}
		if m.Boulderyness > 0 {
			bould = append(bould, m.Boulderyness)
		}
	}
	c.Count = len(idx)
	c.CountNotMin = len(sizeIdx)

	// size and shape come from reliable markings when there are any
	if len(sizeIdx) == 0 {
		sizeIdx = idx
	}
	for _, i := range sizeIdx {
		m := markings[i]
		radius = append(radius, m.Radius)
		axial = append(axial, m.AxialRatio)
		angle = append(angle, m.Angle)
	}

	c.Long, c.LongStd = meanStd(long)
	c.Lat, c.LatStd = meanStd(lat)
	c.Radius, c.RadiusStd = meanStd(radius)
	c.AxialRatio, c.AxialRatioStd = meanStd(axial)
	c.Angle, c.AngleStd = meanStd(angle)
	c.Boulderyness, c.BoulderynessStd = meanStd(bould)
	return c
}

// meanStd returns the mean and population standard deviation, zeros for an
// empty sample.
func meanStd(x []float64) (float64, float64) {
	if len(x) == 0 {
		return 0, 0
	}
	mean, variance := stat.PopMeanVariance(x, nil)
	return mean, math.Sqrt(variance)
}
