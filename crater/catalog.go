package crater

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// CraterHeader is the fixed column order of crater catalogues
var CraterHeader = []string{
	"long", "long_std", "lat", "lat_std",
	"radius", "radius_std", "axialratio", "axialratio_std",
	"angle", "angle_std", "boulderyness", "boulderyness_std",
	"score", "count", "countnotmin",
}

// readRows splits delimited text into rows. The delimiter is a comma when the
// first non-empty line holds one, otherwise runs of whitespace. Blank lines
// and lines starting with '#' are skipped. The returned line numbers are
// 1-based.
func readRows(r io.Reader) ([][]string, []int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}

	var rows [][]string
	var lines []int
	comma := false
	decided := false
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if !decided {
			comma = strings.Contains(text, ",")
			decided = true
		}
		var fields []string
		if comma {
			cr := csv.NewReader(strings.NewReader(text))
			cr.TrimLeadingSpace = true
			fields, err = cr.Read()
			if err != nil {
				return nil, nil, shapeErrorf("csv", lineNo, "%v", err)
			}
		} else {
			fields = strings.Fields(text)
		}
		rows = append(rows, fields)
		lines = append(lines, lineNo)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return rows, lines, nil
}

// MarkingSet is the result of reading a markings file.
type MarkingSet struct {
	Markings      []Marking
	HasTrueLabels bool
}

// ReadMarkings parses a markings table in any of the supported schema
// variants. A structural problem anywhere in the file fails the whole read.
func ReadMarkings(r io.Reader) (*MarkingSet, error) {
	rows, lines, err := readRows(r)
	if err != nil {
		return nil, fmt.Errorf("reading markings: %w", err)
	}
	if len(rows) == 0 {
		return nil, shapeErrorf("markings", 0, "no header row")
	}
	schema, err := DetectSchema(rows[0])
	if err != nil {
		return nil, fmt.Errorf("reading markings: %w", err)
	}
	set := &MarkingSet{
		Markings:      make([]Marking, 0, len(rows)-1),
		HasTrueLabels: schema.HasTrueLabels(),
	}
	for i, row := range rows[1:] {
		m, err := schema.Marking(row, lines[i+1])
		if err != nil {
			return nil, fmt.Errorf("reading markings: %w", err)
		}
		set.Markings = append(set.Markings, m)
	}
	return set, nil
}

// ReadMarkingsFile reads a markings table from disk
func ReadMarkingsFile(path string) (*MarkingSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening markings: %w", err)
	}
	defer f.Close()
	set, err := ReadMarkings(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// WriteMarkings writes markings in the canonical column layout
func WriteMarkings(w io.Writer, markings []Marking) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(MarkingHeader); err != nil {
		return err
	}
	for _, m := range markings {
		if err := cw.Write(markingRecord(m)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadTruth parses an expert catalogue. Both the x,y,RIM_DIA layout and the
// long,lat,radius layout are accepted; diameters are halved.
func ReadTruth(r io.Reader) ([]Crater, error) {
	set, err := ReadMarkings(r)
	if err != nil {
		return nil, fmt.Errorf("reading truth: %w", err)
	}
	truth := make([]Crater, len(set.Markings))
	for i, m := range set.Markings {
		truth[i] = Crater{Long: m.Long, Lat: m.Lat, Radius: m.Radius, Count: 1, CountNotMin: 1}
	}
	return truth, nil
}

// ReadTruthFile reads an expert catalogue from disk
func ReadTruthFile(path string) ([]Crater, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening truth: %w", err)
	}
	defer f.Close()
	return ReadTruth(f)
}

// SelectTruth keeps expert craters inside the region and larger than the
// smallest marking size, which volunteers cannot reproduce.
func SelectTruth(truth []Crater, r Region) []Crater {
	out := make([]Crater, 0, len(truth))
	for _, c := range truth {
		if r.IsSet() && !r.Contains(c.Long, c.Lat) {
			continue
		}
		if c.Radius <= BaseMinSize {
			continue
		}
		out = append(out, c)
	}
	return out
}

// WriteCraters writes a crater catalogue with the fixed CraterHeader columns.
// Geometry uses six decimals, score three.
func WriteCraters(w io.Writer, craters []Crater) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CraterHeader); err != nil {
		return err
	}
	f6 := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	for _, c := range craters {
		rec := []string{
			f6(c.Long), f6(c.LongStd), f6(c.Lat), f6(c.LatStd),
			f6(c.Radius), f6(c.RadiusStd), f6(c.AxialRatio), f6(c.AxialRatioStd),
			f6(c.Angle), f6(c.AngleStd), f6(c.Boulderyness), f6(c.BoulderynessStd),
			strconv.FormatFloat(c.Score, 'f', 3, 64),
			strconv.Itoa(c.Count),
			strconv.Itoa(c.CountNotMin),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCratersFile writes a crater catalogue to disk, creating parent
// directories.
func WriteCratersFile(path string, craters []Crater) error {
	var buf bytes.Buffer
	if err := WriteCraters(&buf, craters); err != nil {
		return fmt.Errorf("encoding craters: %w", err)
	}
	if err := writeFile(path, buf.Bytes()); err != nil {
		return fmt.Errorf("writing craters: %w", err)
	}
	return nil
}

// Catalogue is a crater table kept column-for-column so it can be written
// back with only its coordinates changed.
type Catalogue struct {
	Header  []string
	Records [][]string
	schema  Schema
}

// ReadCatalogue parses any table with long/lat and radius or diameter columns
func ReadCatalogue(r io.Reader) (*Catalogue, error) {
	rows, lines, err := readRows(r)
	if err != nil {
		return nil, fmt.Errorf("reading catalogue: %w", err)
	}
	if len(rows) == 0 {
		return nil, shapeErrorf("catalogue", 0, "no header row")
	}
	schema, err := DetectSchema(rows[0])
	if err != nil {
		return nil, fmt.Errorf("reading catalogue: %w", err)
	}
	cat := &Catalogue{Header: rows[0], Records: rows[1:], schema: schema}
	for i, rec := range cat.Records {
		if _, err := schema.Marking(rec, lines[i+1]); err != nil {
			return nil, fmt.Errorf("reading catalogue: %w", err)
		}
	}
	return cat, nil
}

// ReadCatalogueFile reads a catalogue from disk
func ReadCatalogueFile(path string) (*Catalogue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalogue: %w", err)
	}
	defer f.Close()
	cat, err := ReadCatalogue(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// Points returns the metric tuple of every record
func (c *Catalogue) Points() []MetricPoint {
	points := make([]MetricPoint, 0, len(c.Records))
	for _, rec := range c.Records {
		// records were validated on read
		m, _ := c.schema.Marking(rec, 0)
		points = append(points, m.MetricPoint())
	}
	return points
}

// Translated returns a copy with every longitude and latitude shifted by o.
// Other columns are carried through untouched.
func (c *Catalogue) Translated(o Offset) *Catalogue {
	out := &Catalogue{Header: c.Header, schema: c.schema, Records: make([][]string, len(c.Records))}
	li, ai := c.schema.columns[fieldLong], c.schema.columns[fieldLat]
	for i, rec := range c.Records {
		m, _ := c.schema.Marking(rec, 0)
		next := append([]string(nil), rec...)
		next[li] = strconv.FormatFloat(m.Long+o.Long, 'f', 6, 64)
		next[ai] = strconv.FormatFloat(m.Lat+o.Lat, 'f', 6, 64)
		out.Records[i] = next
	}
	return out
}

// Write writes the catalogue as comma-separated text
func (c *Catalogue) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(c.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(c.Records); err != nil {
		return err
	}
	return cw.Error()
}

// OffsetCataloguePath derives the default output name for a translated
// catalogue: name.csv becomes name_offset.csv.
func OffsetCataloguePath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_offset" + ext
}

// CratersGeoJSON converts craters to a GeoJSON feature collection of points
// with the catalogue columns as properties.
func CratersGeoJSON(craters []Crater) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, c := range craters {
		f := geojson.NewFeature(orb.Point{c.Long, c.Lat})
		f.ID = i + 1
		f.Properties["radius"] = c.Radius
		f.Properties["radius_std"] = c.RadiusStd
		f.Properties["long_std"] = c.LongStd
		f.Properties["lat_std"] = c.LatStd
		f.Properties["axialratio"] = c.AxialRatio
		f.Properties["angle"] = c.Angle
		f.Properties["boulderyness"] = c.Boulderyness
		f.Properties["score"] = c.Score
		f.Properties["count"] = c.Count
		f.Properties["countnotmin"] = c.CountNotMin
		fc.Append(f)
	}
	return fc
}

// WriteGeoJSONFile writes craters as an indented GeoJSON feature collection
func WriteGeoJSONFile(path string, craters []Crater) error {
	data, err := json.MarshalIndent(CratersGeoJSON(craters), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling geojson: %w", err)
	}
	if err := writeFile(path, data); err != nil {
		return fmt.Errorf("writing geojson: %w", err)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}
