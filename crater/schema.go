package crater

import (
	"fmt"
	"strconv"
	"strings"
)

type field int

const (
	fieldLong field = iota
	fieldLat
	fieldRadius
	fieldDiameter
	fieldAxialRatio
	fieldAngle
	fieldBoulderyness
	fieldMinSize
	fieldFlag
	fieldUser
	fieldWeight
	fieldTrueLabel
	fieldNAC
	numFields
)

// aliases maps lower-cased header names from the historical export formats
// onto canonical fields.
var aliases = map[string]field{
	"long":               fieldLong,
	"longitude":          fieldLong,
	"x":                  fieldLong,
	"x_pix":              fieldLong,
	"sample":             fieldLong,
	"lat":                fieldLat,
	"latitude":           fieldLat,
	"y":                  fieldLat,
	"y_pix":              fieldLat,
	"line":               fieldLat,
	"radius":             fieldRadius,
	"size_m":             fieldRadius,
	"xradius":            fieldRadius,
	"radius_pix":         fieldRadius,
	"diameter":           fieldDiameter,
	"x_diameter_nac":     fieldDiameter,
	"rim_dia":            fieldDiameter,
	"axialratio":         fieldAxialRatio,
	"axial_ratio":        fieldAxialRatio,
	"angle":              fieldAngle,
	"boulderyness":       fieldBoulderyness,
	"minsize":            fieldMinSize,
	"flag":               fieldFlag,
	"user":               fieldUser,
	"user_id":            fieldUser,
	"zooniverse_user_id": fieldUser,
	"weight":             fieldWeight,
	"truelabel":          fieldTrueLabel,
	"nac_name":           fieldNAC,
	"nac":                fieldNAC,
}

// flag column values written by the synthetic generator
const (
	flagMinSize       = 1
	flagWrongPosition = 2
)

// Schema maps the columns of one export variant onto Marking fields.
type Schema struct {
	columns [numFields]int // column index per field, -1 when absent
	width   int
}

// DetectSchema builds a Schema from a header row. Longitude, latitude and a
// radius or diameter column are required.
func DetectSchema(header []string) (Schema, error) {
	s := Schema{width: len(header)}
	for i := range s.columns {
		s.columns[i] = -1
	}
	for i, name := range header {
		f, ok := aliases[normalizeHeader(name)]
		if !ok || s.columns[f] >= 0 {
			continue
		}
		s.columns[f] = i
	}

	var missing []string
	if !s.Has(fieldLong) {
		missing = append(missing, "long")
	}
	if !s.Has(fieldLat) {
		missing = append(missing, "lat")
	}
	if !s.Has(fieldRadius) && !s.Has(fieldDiameter) {
		missing = append(missing, "radius")
	}
	if len(missing) > 0 {
		return Schema{}, shapeErrorf("header", 1, "missing required columns %s in %v", strings.Join(missing, ","), header)
	}
	return s, nil
}

func normalizeHeader(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Has reports whether the schema carries the field
func (s Schema) Has(f field) bool {
	return s.columns[f] >= 0
}

// HasTrueLabels reports whether records carry ground-truth cluster labels
func (s Schema) HasTrueLabels() bool {
	return s.Has(fieldTrueLabel)
}

// Marking converts one record into a canonical Marking. line is used in
// error messages only.
func (s Schema) Marking(record []string, line int) (Marking, error) {
	if len(record) != s.width {
		return Marking{}, shapeErrorf("record", line, "expected %d fields, got %d", s.width, len(record))
	}
	var (
		m   Marking
		err error
	)
	num := func(f field) float64 {
		if err != nil || !s.Has(f) {
			return 0
		}
		raw := strings.TrimSpace(record[s.columns[f]])
		if raw == "" {
			return 0
		}
		var v float64
		v, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			err = shapeErrorf("record", line, "column %d: %v", s.columns[f]+1, err)
		}
		return v
	}

	m.Long = num(fieldLong)
	m.Lat = num(fieldLat)
	if s.Has(fieldRadius) {
		m.Radius = num(fieldRadius)
	} else {
		m.Radius = num(fieldDiameter) / 2
	}
	m.AxialRatio = num(fieldAxialRatio)
	m.Angle = num(fieldAngle)
	m.Boulderyness = num(fieldBoulderyness)
	switch {
	case s.Has(fieldMinSize):
		m.MinSize = num(fieldMinSize) != 0
	case s.Has(fieldFlag):
		m.MinSize = int(num(fieldFlag)) == flagMinSize
	default:
		m.MinSize = IsMinSize(m.Radius)
	}
	m.User = int64(num(fieldUser))
	if s.Has(fieldWeight) {
		m.Weight = num(fieldWeight)
		m.HasWeight = true
	}
	m.TrueLabel = int(num(fieldTrueLabel))
	if s.Has(fieldNAC) {
		m.NAC = strings.TrimSpace(record[s.columns[fieldNAC]])
	}
	if err != nil {
		return Marking{}, err
	}
	if m.Radius <= 0 {
		return Marking{}, shapeErrorf("record", line, "radius must be positive, got %v", m.Radius)
	}
	return m, nil
}

// MarkingHeader is the column layout written by WriteMarkings
var MarkingHeader = []string{"long", "lat", "radius", "axialratio", "angle", "boulderyness", "minsize", "user", "weight", "truelabel"}

func markingRecord(m Marking) []string {
	minsize := "0"
	if m.MinSize {
		minsize = "1"
	}
	return []string{
		strconv.FormatFloat(m.Long, 'f', 6, 64),
		strconv.FormatFloat(m.Lat, 'f', 6, 64),
		strconv.FormatFloat(m.Radius, 'f', 6, 64),
		strconv.FormatFloat(m.AxialRatio, 'f', 6, 64),
		strconv.FormatFloat(m.Angle, 'f', 6, 64),
		strconv.FormatFloat(m.Boulderyness, 'f', 6, 64),
		minsize,
		strconv.FormatInt(m.User, 10),
		strconv.FormatFloat(m.EffectiveWeight(), 'f', 6, 64),
		fmt.Sprint(m.TrueLabel),
	}
}
