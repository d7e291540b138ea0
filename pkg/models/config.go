package models

import "fmt"

// SamplingMethod selects the per-column sampling query shape.
type SamplingMethod string

const (
	SamplingMethodRandom     SamplingMethod = "RANDOM"
	SamplingMethodSystematic SamplingMethod = "SYSTEMATIC"
	SamplingMethodStratified SamplingMethod = "STRATIFIED"
)

// SamplingConfig controls how sample values are drawn per column.
type SamplingConfig struct {
	SampleSize           int            `json:"sample_size"`
	Method               SamplingMethod `json:"method"`
	EntropyCalculation   bool           `json:"entropy_calculation"`
	MaxConcurrentQueries int            `json:"max_concurrent_queries"`
}

// DefaultSamplingConfig returns the documented defaults.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{
		SampleSize:           100,
		Method:               SamplingMethodRandom,
		EntropyCalculation:   false,
		MaxConcurrentQueries: 5,
	}
}

// Normalize fills zero values with defaults and validates the rest.
func (c *SamplingConfig) Normalize() error {
	d := DefaultSamplingConfig()
	if c.SampleSize == 0 {
		c.SampleSize = d.SampleSize
	}
	if c.Method == "" {
		c.Method = d.Method
	}
	if c.MaxConcurrentQueries == 0 {
		c.MaxConcurrentQueries = d.MaxConcurrentQueries
	}
	if c.SampleSize < 1 {
		return fmt.Errorf("sample_size must be >= 1, got %d", c.SampleSize)
	}
	if c.MaxConcurrentQueries < 1 {
		return fmt.Errorf("max_concurrent_queries must be >= 1, got %d", c.MaxConcurrentQueries)
	}
	switch c.Method {
	case SamplingMethodRandom, SamplingMethodSystematic, SamplingMethodStratified:
	default:
		return fmt.Errorf("unknown sampling method %q", c.Method)
	}
	return nil
}

// DetectionConfig controls strategy thresholds and pipeline behavior.
type DetectionConfig struct {
	HeuristicThreshold           float64 `json:"heuristic_threshold"`
	RegexThreshold               float64 `json:"regex_threshold"`
	NerThreshold                 float64 `json:"ner_threshold"`
	ReportingThreshold           float64 `json:"reporting_threshold"`
	StopPipelineOnHighConfidence bool    `json:"stop_pipeline_on_high_confidence"`
	MaxConcurrentColumns         int     `json:"max_concurrent_columns"`
}

// DefaultDetectionConfig returns the documented defaults.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		HeuristicThreshold:           0.7,
		RegexThreshold:               0.8,
		NerThreshold:                 0.3,
		ReportingThreshold:           0.5,
		StopPipelineOnHighConfidence: true,
	}
}

// Normalize fills zero thresholds with defaults and range-checks them.
// StopPipelineOnHighConfidence zero value cannot be distinguished from
// an explicit false, so callers must set it when submitting custom
// configs; the REST boundary defaults it to true.
func (c *DetectionConfig) Normalize(defaultConcurrency int) error {
	d := DefaultDetectionConfig()
	if c.HeuristicThreshold == 0 {
		c.HeuristicThreshold = d.HeuristicThreshold
	}
	if c.RegexThreshold == 0 {
		c.RegexThreshold = d.RegexThreshold
	}
	if c.NerThreshold == 0 {
		c.NerThreshold = d.NerThreshold
	}
	if c.ReportingThreshold == 0 {
		c.ReportingThreshold = d.ReportingThreshold
	}
	if c.MaxConcurrentColumns == 0 {
		c.MaxConcurrentColumns = defaultConcurrency
	}
	for name, v := range map[string]float64{
		"heuristic_threshold": c.HeuristicThreshold,
		"regex_threshold":     c.RegexThreshold,
		"ner_threshold":       c.NerThreshold,
		"reporting_threshold": c.ReportingThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	if c.MaxConcurrentColumns < 1 {
		return fmt.Errorf("max_concurrent_columns must be >= 1, got %d", c.MaxConcurrentColumns)
	}
	return nil
}

// ClusteringAlgorithm selects how correlated columns are grouped.
type ClusteringAlgorithm string

const (
	ClusteringAlgorithmGraph  ClusteringAlgorithm = "GRAPH"
	ClusteringAlgorithmDBSCAN ClusteringAlgorithm = "DBSCAN"
)

// QuasiIdentifierConfig controls the quasi-identifier analyzer.
type QuasiIdentifierConfig struct {
	Enabled               bool                `json:"enabled"`
	CorrelationThreshold  float64             `json:"correlation_threshold"`
	MinDistinctValues     int                 `json:"min_distinct_values"`
	MaxDistinctValueRatio float64             `json:"max_distinct_value_ratio"`
	MinGroupSize          int                 `json:"min_group_size"`
	MaxGroupSize          int                 `json:"max_group_size"`
	KAnonymityThreshold   int                 `json:"k_anonymity_threshold"`
	RiskThreshold         float64             `json:"risk_threshold"`
	Algorithm             ClusteringAlgorithm `json:"algorithm"`
}

// DefaultQuasiIdentifierConfig returns the documented defaults.
func DefaultQuasiIdentifierConfig() QuasiIdentifierConfig {
	return QuasiIdentifierConfig{
		Enabled:               true,
		CorrelationThreshold:  0.7,
		MinDistinctValues:     5,
		MaxDistinctValueRatio: 0.8,
		MinGroupSize:          2,
		MaxGroupSize:          8,
		KAnonymityThreshold:   5,
		RiskThreshold:         0.7,
		Algorithm:             ClusteringAlgorithmGraph,
	}
}

// Normalize fills zero values with defaults and validates ranges.
func (c *QuasiIdentifierConfig) Normalize() error {
	d := DefaultQuasiIdentifierConfig()
	if c.CorrelationThreshold == 0 {
		c.CorrelationThreshold = d.CorrelationThreshold
	}
	if c.MinDistinctValues == 0 {
		c.MinDistinctValues = d.MinDistinctValues
	}
	if c.MaxDistinctValueRatio == 0 {
		c.MaxDistinctValueRatio = d.MaxDistinctValueRatio
	}
	if c.MinGroupSize == 0 {
		c.MinGroupSize = d.MinGroupSize
	}
	if c.MaxGroupSize == 0 {
		c.MaxGroupSize = d.MaxGroupSize
	}
	if c.KAnonymityThreshold == 0 {
		c.KAnonymityThreshold = d.KAnonymityThreshold
	}
	if c.RiskThreshold == 0 {
		c.RiskThreshold = d.RiskThreshold
	}
	if c.Algorithm == "" {
		c.Algorithm = d.Algorithm
	}
	if c.CorrelationThreshold < 0 || c.CorrelationThreshold > 1 {
		return fmt.Errorf("correlation_threshold must be in [0,1], got %v", c.CorrelationThreshold)
	}
	if c.RiskThreshold < 0 || c.RiskThreshold > 1 {
		return fmt.Errorf("risk_threshold must be in [0,1], got %v", c.RiskThreshold)
	}
	if c.MinGroupSize < 2 {
		return fmt.Errorf("min_group_size must be >= 2, got %d", c.MinGroupSize)
	}
	if c.MaxGroupSize < c.MinGroupSize {
		return fmt.Errorf("max_group_size (%d) must be >= min_group_size (%d)", c.MaxGroupSize, c.MinGroupSize)
	}
	switch c.Algorithm {
	case ClusteringAlgorithmGraph, ClusteringAlgorithmDBSCAN:
	default:
		return fmt.Errorf("unknown clustering algorithm %q", c.Algorithm)
	}
	return nil
}
