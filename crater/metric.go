package crater

import "math"

const (
	// LunarRadius is the mean lunar radius in metres
	LunarRadius = 1737.4e3
	// DegreesPerMetre converts a distance on the lunar surface to degrees of arc
	DegreesPerMetre = 360.0 / (2 * math.Pi * LunarRadius)
	// BaseMinSize is the smallest selectable marking radius in metres at the
	// highest zoom level.
	BaseMinSize = 14.5
)

// MinSizes lists the radii markings snap to at each zoom level
var MinSizes = [...]float64{BaseMinSize, BaseMinSize * 4, BaseMinSize * 8.34}

// IsMinSize reports whether a radius lies within 1% of one of the minimum
// marking sizes. Used when a source carries no explicit flag column.
func IsMinSize(radius float64) bool {
	for _, m := range MinSizes {
		if math.Abs(radius-m)/m < 0.01 {
			return true
		}
	}
	return false
}

// Scales weights position against size mismatch in the combined metric.
type Scales struct {
	Position float64 `yaml:"position_scale"`
	Size     float64 `yaml:"size_scale"`
}

// DefaultScales returns the scales tuned on the synthetic crater fields
func DefaultScales() Scales {
	return Scales{Position: 0.25, Size: 0.25}
}

// AbsolutePositionDistance returns the great-circle separation of two points
// on the lunar surface in metres.
func AbsolutePositionDistance(a, b MetricPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	return haversine(lat1, math.Cos(lat1), lat2, math.Cos(lat2), b.Long-a.Long)
}

// haversine is the great-circle distance in metres between latitudes lat1
// and lat2 (radians, with their cosines) dLong degrees apart. Swapping the
// two points gives a bit-identical result.
func haversine(lat1, cosLat1, lat2, cosLat2, dLong float64) float64 {
	hdLat := (lat2 - lat1) / 2
	hdLong := dLong * math.Pi / 360
	x := math.Sin(hdLat)*math.Sin(hdLat) + math.Sin(hdLong)*math.Sin(hdLong)*(cosLat1*cosLat2)
	// rounding can push x a hair past 1 for antipodal points
	x = math.Min(math.Max(x, 0), 1)
	return 2 * LunarRadius * math.Asin(math.Sqrt(x))
}

// PositionDistance is the absolute separation divided by the square root of
// the mean radius, so larger craters tolerate larger scatter.
func PositionDistance(a, b MetricPoint) float64 {
	return AbsolutePositionDistance(a, b) / math.Sqrt((a.Radius+b.Radius)/2)
}

// SizeDistance is the fractional radius difference. It is exactly zero when
// either point was marked at minimum size.
func SizeDistance(a, b MetricPoint) float64 {
	if a.MinSize || b.MinSize {
		return 0
	}
	return math.Abs(a.Radius-b.Radius) / ((a.Radius + b.Radius) / 2)
}

// Distance combines position and size mismatch into one dissimilarity.
//
// The result is symmetric and zero for identical points but is not a true
// metric: pairs involving a minimum-size marking match on position alone, so
// the triangle inequality does not hold.
func Distance(a, b MetricPoint, s Scales) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	return pairDistance(a, b, lat1, math.Cos(lat1), lat2, math.Cos(lat2), s)
}

// DistanceRow evaluates Distance from a to every point in bs, writing into
// out. out must have len(bs) elements.
func DistanceRow(a MetricPoint, bs []MetricPoint, s Scales, out []float64) {
	lat1 := a.Lat * math.Pi / 180
	cosLat1 := math.Cos(lat1)
	for j, b := range bs {
		lat2 := b.Lat * math.Pi / 180
		out[j] = pairDistance(a, b, lat1, cosLat1, lat2, math.Cos(lat2), s)
	}
}

func pairDistance(a, b MetricPoint, lat1, cosLat1, lat2, cosLat2 float64, s Scales) float64 {
	sm := (a.Radius + b.Radius) / 2
	dr := haversine(lat1, cosLat1, lat2, cosLat2, b.Long-a.Long) / math.Sqrt(sm) / s.Position
	ds := 0.0
	if !a.MinSize && !b.MinSize {
		ds = math.Abs(a.Radius-b.Radius) / sm / s.Size
	}
	return math.Sqrt(dr*dr + ds*ds)
}
