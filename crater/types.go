package crater

import (
	"math"

	"github.com/paulmach/orb"
)

// Marking is one crowd-sourced crater observation in lunar coordinates.
// Angles are degrees, sizes are metres.
type Marking struct {
	Long         float64 `json:"long"`
	Lat          float64 `json:"lat"`
	Radius       float64 `json:"radius"`
	AxialRatio   float64 `json:"axialratio"`
	Angle        float64 `json:"angle"`
	Boulderyness float64 `json:"boulderyness"`
	MinSize      bool    `json:"minsize"` // drawn at the smallest selectable size
	User         int64   `json:"user"`
	Weight       float64 `json:"weight,omitempty"`
	HasWeight    bool    `json:"-"`
	TrueLabel    int     `json:"truelabel,omitempty"` // synthetic data only; 0 = noise
	NAC          string  `json:"nac,omitempty"`
}

// MetricPoint is the attribute tuple the distance metric works on
type MetricPoint struct {
	Long    float64
	Lat     float64
	Radius  float64
	MinSize bool
}

// MetricPoint returns the metric tuple for the marking
func (m Marking) MetricPoint() MetricPoint {
	return MetricPoint{Long: m.Long, Lat: m.Lat, Radius: m.Radius, MinSize: m.MinSize}
}

// EffectiveWeight returns the marking's user weight, 1.0 when unset
func (m Marking) EffectiveWeight() float64 {
	if !m.HasWeight {
		return 1.0
	}
	return m.Weight
}

// Crater is one consolidated detection produced by aggregating a cluster.
type Crater struct {
	Long            float64 `json:"long"`
	LongStd         float64 `json:"long_std"`
	Lat             float64 `json:"lat"`
	LatStd          float64 `json:"lat_std"`
	Radius          float64 `json:"radius"`
	RadiusStd       float64 `json:"radius_std"`
	AxialRatio      float64 `json:"axialratio"`
	AxialRatioStd   float64 `json:"axialratio_std"`
	Angle           float64 `json:"angle"`
	AngleStd        float64 `json:"angle_std"`
	Boulderyness    float64 `json:"boulderyness"`
	BoulderynessStd float64 `json:"boulderyness_std"`
	Score           float64 `json:"score"`
	Count           int     `json:"count"`
	CountNotMin     int     `json:"countnotmin"`
}

// MetricPoint returns the metric tuple for the crater. A crater built only
// from minimum-size markings keeps the minimum-size flag.
func (c Crater) MetricPoint() MetricPoint {
	return MetricPoint{Long: c.Long, Lat: c.Lat, Radius: c.Radius, MinSize: c.Count > 0 && c.CountNotMin == 0}
}

// Offset is a rigid (longitude, latitude) translation in degrees.
type Offset struct {
	Long float64 `json:"long"`
	Lat  float64 `json:"lat"`
}

// Negate returns the opposite translation
func (o Offset) Negate() Offset {
	return Offset{Long: -o.Long, Lat: -o.Lat}
}

// IsZero reports whether the offset is exactly zero
func (o Offset) IsZero() bool {
	return o.Long == 0 && o.Lat == 0
}

// Region is a longitude/latitude bounding box in degrees.
type Region struct {
	LongMin float64 `yaml:"long_min" json:"long_min"`
	LongMax float64 `yaml:"long_max" json:"long_max"`
	LatMin  float64 `yaml:"lat_min" json:"lat_min"`
	LatMax  float64 `yaml:"lat_max" json:"lat_max"`
}

// IsSet reports whether the region has been configured. A zero region means
// "no restriction".
func (r Region) IsSet() bool {
	return r != Region{}
}

// Bound converts the region to an orb.Bound (x = long, y = lat)
func (r Region) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{r.LongMin, r.LatMin},
		Max: orb.Point{r.LongMax, r.LatMax},
	}
}

// RegionFromBound converts an orb.Bound back to a Region
func RegionFromBound(b orb.Bound) Region {
	return Region{LongMin: b.Min[0], LongMax: b.Max[0], LatMin: b.Min[1], LatMax: b.Max[1]}
}

// Contains reports whether the point lies inside the region, edges included.
func (r Region) Contains(long, lat float64) bool {
	return r.Bound().Contains(orb.Point{long, lat})
}

// BoundOf returns the bounding region of a set of metric points. The bool is
// false for an empty set.
func BoundOf(points []MetricPoint) (Region, bool) {
	if len(points) == 0 {
		return Region{}, false
	}
	first := orb.Point{points[0].Long, points[0].Lat}
	b := orb.Bound{Min: first, Max: first}
	for _, p := range points[1:] {
		b = b.Extend(orb.Point{p.Long, p.Lat})
	}
	return RegionFromBound(b), true
}

// Overlap returns the intersection of two regions. The bool is false when they
// do not intersect.
func Overlap(a, b Region) (Region, bool) {
	if !a.Bound().Intersects(b.Bound()) {
		return Region{}, false
	}
	return Region{
		LongMin: math.Max(a.LongMin, b.LongMin),
		LongMax: math.Min(a.LongMax, b.LongMax),
		LatMin:  math.Max(a.LatMin, b.LatMin),
		LatMax:  math.Min(a.LatMax, b.LatMax),
	}, true
}

// FilterMarkings returns the markings inside the region. A zero region keeps
// everything.
func FilterMarkings(markings []Marking, r Region) []Marking {
	if !r.IsSet() {
		return markings
	}
	out := make([]Marking, 0, len(markings))
	for _, m := range markings {
		if r.Contains(m.Long, m.Lat) {
			out = append(out, m)
		}
	}
	return out
}

// FilterPoints returns the metric points inside the region
func FilterPoints(points []MetricPoint, r Region) []MetricPoint {
	out := make([]MetricPoint, 0, len(points))
	for _, p := range points {
		if r.Contains(p.Long, p.Lat) {
			out = append(out, p)
		}
	}
	return out
}

// MarkingPoints extracts metric points from markings
func MarkingPoints(markings []Marking) []MetricPoint {
	points := make([]MetricPoint, len(markings))
	for i, m := range markings {
		points[i] = m.MetricPoint()
	}
	return points
}

// CraterPoints extracts metric points from craters
func CraterPoints(craters []Crater) []MetricPoint {
	points := make([]MetricPoint, len(craters))
	for i, c := range craters {
		points[i] = c.MetricPoint()
	}
	return points
}
