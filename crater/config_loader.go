package crater

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config is the unified configuration file
type Config struct {
	Clustering   ClusteringConfig   `yaml:"clustering" json:"clustering"`
	Region       Region             `yaml:"region" json:"region"`
	Alignment    AlignmentConfig    `yaml:"alignment" json:"alignment"`
	Weights      WeightsConfig      `yaml:"weights" json:"weights"`
	Reprojection ReprojectionConfig `yaml:"reprojection" json:"reprojection"`
	MQTT         MQTTConfig         `yaml:"mqtt" json:"mqtt"`
	Render       RenderConfig       `yaml:"render" json:"render"`
	Simulation   SyntheticConfig    `yaml:"simulation" json:"simulation"`
}

// ClusteringConfig holds the clustering and aggregation parameters
type ClusteringConfig struct {
	Threshold           float64  `yaml:"threshold" json:"threshold"`
	MinCount            float64  `yaml:"mincount" json:"mincount"`
	MaxCount            int      `yaml:"maxcount" json:"maxcount"`
	MaxIter             int      `yaml:"maxiter" json:"maxiter"`
	Decay               float64  `yaml:"decay" json:"decay"`
	PositionScale       float64  `yaml:"position_scale" json:"position_scale"`
	SizeScale           float64  `yaml:"size_scale" json:"size_scale"`
	FilterBy            FilterBy `yaml:"filter_by" json:"filter_by"`
	RequireReliableSize bool     `yaml:"require_reliable_size" json:"require_reliable_size"`
	MinUserWeight       float64  `yaml:"min_user_weight" json:"min_user_weight"`
	MinSizeDownweight   float64  `yaml:"minsize_downweight" json:"minsize_downweight"`
	Workers             int      `yaml:"workers,omitempty" json:"workers,omitempty"`
}

// AlignmentConfig holds the offset search parameters, in metres
type AlignmentConfig struct {
	XTol              float64 `yaml:"xtol" json:"xtol"`
	FTol              float64 `yaml:"ftol" json:"ftol"`
	MaxIter           int     `yaml:"max_iter" json:"max_iter"`
	SearchRadius      float64 `yaml:"search_radius" json:"search_radius"`
	GridStep          float64 `yaml:"grid_step" json:"grid_step"`
	QuartileMinPoints int     `yaml:"quartile_min_points" json:"quartile_min_points"`
}

// WeightsConfig selects the user weight source. File wins over URL; with
// neither every user weighs 1.
type WeightsConfig struct {
	File string `yaml:"file,omitempty" json:"file,omitempty"`
	URL  string `yaml:"url,omitempty" json:"url,omitempty"`
}

// ReprojectionConfig configures the campt-based pixel reprojection
type ReprojectionConfig struct {
	Campt   string `yaml:"campt" json:"campt"`
	Cube    string `yaml:"cube,omitempty" json:"cube,omitempty"`
	Workers int    `yaml:"workers" json:"workers"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// RenderConfig controls overlay rendering
type RenderConfig struct {
	Width      float64 `yaml:"width" json:"width"`           // overlay width in mm
	Resolution float64 `yaml:"resolution" json:"resolution"` // PNG DPI
}

// DefaultConfig returns a configuration with every value set
func DefaultConfig() *Config {
	it := DefaultIterativeConfig()
	agg := DefaultAggregateOptions()
	align := DefaultAlignConfig()
	return &Config{
		Clustering: ClusteringConfig{
			Threshold:         it.Threshold,
			MinCount:          agg.MinCount,
			MaxCount:          it.MaxCount,
			MaxIter:           it.MaxIter,
			Decay:             it.Decay,
			PositionScale:     it.Scales.Position,
			SizeScale:         it.Scales.Size,
			FilterBy:          agg.FilterBy,
			MinUserWeight:     WeightingDisabled,
			MinSizeDownweight: agg.MinSizeDownweight,
			Workers:           runtime.NumCPU(),
		},
		Alignment: AlignmentConfig{
			XTol:              align.XTol,
			FTol:              align.FTol,
			MaxIter:           align.MaxIter,
			SearchRadius:      align.SearchRadius,
			GridStep:          align.GridStep,
			QuartileMinPoints: align.QuartileMinPoints,
		},
		Reprojection: ReprojectionConfig{Campt: "campt", Workers: 8},
		MQTT:         MQTTConfig{PublishPrefix: "cratermerge", ClientID: "cratermerge"},
		Render:       RenderConfig{Width: 200, Resolution: 150},
		Simulation:   DefaultSyntheticConfig(),
	}
}

// LoadConfig loads a YAML file over the defaults and validates the result
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}
	if err := writeFile(path, data); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks every section for values the pipeline cannot run with
func (c *Config) Validate() error {
	cl := c.Clustering
	if cl.Threshold <= 0 {
		return fmt.Errorf("clustering.threshold must be positive")
	}
	if cl.PositionScale <= 0 || cl.SizeScale <= 0 {
		return fmt.Errorf("clustering.position_scale and clustering.size_scale must be positive")
	}
	if cl.MaxCount < 1 {
		return fmt.Errorf("clustering.maxcount must be at least 1")
	}
	if cl.MaxIter < 1 {
		return fmt.Errorf("clustering.maxiter must be at least 1")
	}
	if cl.Decay <= 0 || cl.Decay > 1 {
		return fmt.Errorf("clustering.decay must be in (0, 1]")
	}
	if cl.FilterBy != FilterByCount && cl.FilterBy != FilterByScore {
		return fmt.Errorf("clustering.filter_by must be %q or %q, got %q", FilterByCount, FilterByScore, cl.FilterBy)
	}
	if r := c.Region; r.IsSet() && (r.LongMin >= r.LongMax || r.LatMin >= r.LatMax) {
		return fmt.Errorf("region minimums must be below maximums, got %+v", r)
	}
	if err := c.AlignConfig().Validate(); err != nil {
		return fmt.Errorf("alignment: %w", err)
	}
	if c.Reprojection.Workers < 1 {
		return fmt.Errorf("reprojection.workers must be at least 1")
	}
	return nil
}

// Scales returns the metric scales
func (c *Config) Scales() Scales {
	return Scales{Position: c.Clustering.PositionScale, Size: c.Clustering.SizeScale}
}

// IterativeConfig returns the clustering controller settings
func (c *Config) IterativeConfig() IterativeConfig {
	return IterativeConfig{
		Threshold: c.Clustering.Threshold,
		MaxCount:  c.Clustering.MaxCount,
		MaxIter:   c.Clustering.MaxIter,
		Decay:     c.Clustering.Decay,
		Scales:    c.Scales(),
		Workers:   c.Clustering.Workers,
	}
}

// AggregateOptions returns the aggregation filter settings
func (c *Config) AggregateOptions() AggregateOptions {
	return AggregateOptions{
		MinCount:            c.Clustering.MinCount,
		FilterBy:            c.Clustering.FilterBy,
		RequireReliableSize: c.Clustering.RequireReliableSize,
		MinSizeDownweight:   c.Clustering.MinSizeDownweight,
	}
}

// AlignConfig returns the offset search settings
func (c *Config) AlignConfig() AlignConfig {
	a := c.Alignment
	return AlignConfig{
		Scales:            c.Scales(),
		XTol:              a.XTol,
		FTol:              a.FTol,
		MaxIter:           a.MaxIter,
		SearchRadius:      a.SearchRadius,
		GridStep:          a.GridStep,
		QuartileMinPoints: a.QuartileMinPoints,
	}
}

// PipelineConfig returns the settings for RunPipeline
func (c *Config) PipelineConfig() PipelineConfig {
	compare := DefaultCompareConfig()
	compare.Scales = c.Scales()
	compare.MaxDistance = c.Clustering.Threshold
	return PipelineConfig{
		Region:        c.Region,
		MinUserWeight: c.Clustering.MinUserWeight,
		Iterative:     c.IterativeConfig(),
		Aggregate:     c.AggregateOptions(),
		Compare:       compare,
	}
}

// WeightLookup builds the configured user weight source
func (c *Config) WeightLookup() (WeightLookup, error) {
	switch {
	case c.Weights.File != "":
		table, err := LoadTableWeights(c.Weights.File)
		if err != nil {
			return nil, err
		}
		return table, nil
	case c.Weights.URL != "":
		return NewHTTPWeights(c.Weights.URL), nil
	default:
		return UniformWeights{}, nil
	}
}
