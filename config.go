package parsimon

// config.go holds the run configuration.  Like the network description it
// reads from and writes to yaml or json; times are given in seconds.

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// ClusteringConfig selects and tunes the clustering backend
type ClusteringConfig struct {
	Algo        string  `json:"algo" yaml:"algo"`
	Epsilon     float64 `json:"epsilon" yaml:"epsilon"`
	LoadEpsilon float64 `json:"load_epsilon" yaml:"load_epsilon"`
	Quantiles   int     `json:"quantiles" yaml:"quantiles"`
}

// LinkSimConfig selects and tunes the built-in link simulation backend
type LinkSimConfig struct {
	Model   string `json:"model" yaml:"model"`
	Lanes   int    `json:"lanes" yaml:"lanes"`
	Quantum uint64 `json:"quantum" yaml:"quantum"`
	Points  int    `json:"points" yaml:"points"`
}

// DispatchConfig governs how simulation jobs are handed to workers.
// Workers lists addresses of remote workers; when empty, jobs run in process.
type DispatchConfig struct {
	MaxInFlight   int      `json:"max_in_flight" yaml:"max_in_flight"`
	MaxRetries    int      `json:"max_retries" yaml:"max_retries"`
	Backoff       float64  `json:"backoff" yaml:"backoff"`
	MaxBackoff    float64  `json:"max_backoff" yaml:"max_backoff"`
	JobTimeout    float64  `json:"job_timeout" yaml:"job_timeout"`
	JobsPerSecond float64  `json:"jobs_per_second" yaml:"jobs_per_second"`
	Workers       []string `json:"workers" yaml:"workers"`
	DialTimeout   float64  `json:"dial_timeout" yaml:"dial_timeout"`

	// SizeBuckets shapes the size ranges of the per-link delays that answer
	// queries for flows outside the workload
	SizeBuckets BucketOpts `json:"size_buckets" yaml:"size_buckets"`
}

// backoff gives the pause before attempt number attempt+1
func (dc DispatchConfig) backoff(attempt int) time.Duration {
	pause := dc.Backoff
	for idx := 1; idx < attempt; idx++ {
		pause *= 2
		if dc.MaxBackoff > 0 && pause >= dc.MaxBackoff {
			pause = dc.MaxBackoff
			break
		}
	}
	return seconds(pause)
}

// AggregationConfig bounds the cost of composing flow distributions
type AggregationConfig struct {
	MaxAtoms    int `json:"max_atoms" yaml:"max_atoms"`
	Parallelism int `json:"parallelism" yaml:"parallelism"`
}

// TraceConfig turns the dispatch trace on, and names the file it is written to
type TraceConfig struct {
	InUse bool   `json:"inuse" yaml:"inuse"`
	File  string `json:"file" yaml:"file"`
}

// Config is the complete configuration of a run
type Config struct {
	Name        string            `json:"name" yaml:"name"`
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	LogFormat   string            `json:"log_format" yaml:"log_format"`
	Clustering  ClusteringConfig  `json:"clustering" yaml:"clustering"`
	LinkSim     LinkSimConfig     `json:"linksim" yaml:"linksim"`
	Dispatch    DispatchConfig    `json:"dispatch" yaml:"dispatch"`
	Aggregation AggregationConfig `json:"aggregation" yaml:"aggregation"`
	Trace       TraceConfig       `json:"trace" yaml:"trace"`
}

// DefaultConfig returns a configuration that runs everything in process with 1:1 clustering
func DefaultConfig() *Config {
	return &Config{
		Name:       "parsimon",
		LogLevel:   "info",
		LogFormat:  "text",
		Clustering: ClusteringConfig{Algo: "identity", Epsilon: 0.1, LoadEpsilon: 0.05, Quantiles: 1000},
		LinkSim:    LinkSimConfig{Model: "fifo", Lanes: 1, Points: 100},
		Dispatch: DispatchConfig{MaxInFlight: 8, MaxRetries: 3, Backoff: 0.1, MaxBackoff: 5.0,
			JobTimeout: 600.0, DialTimeout: 5.0, SizeBuckets: DefaultBucketOpts()},
		Aggregation: AggregationConfig{MaxAtoms: DefaultMaxAtoms},
	}
}

// ReadConfig deserializes a byte slice holding a representation of a Config struct.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.  Fields absent from the input keep their DefaultConfig values.
func ReadConfig(filename string, useYAML bool, dict []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := readDescFile(filename, useYAML, dict, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteToFile stores the Config struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (cfg *Config) WriteToFile(filename string) error {
	return writeDescFile(filename, cfg)
}

// Validate checks every section and reports all problems found
func (cfg *Config) Validate() error {
	errs := []error{}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if cfg.LogFormat != "" && cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", cfg.LogFormat))
	}
	if _, err := NewClusteringAlgo(cfg.Clustering); err != nil {
		errs = append(errs, err)
	}
	if cfg.Clustering.Epsilon < 0 || cfg.Clustering.LoadEpsilon < 0 {
		errs = append(errs, fmt.Errorf("clustering tolerances must not be negative"))
	}
	if _, err := NewLinkSim(cfg.LinkSim); err != nil {
		errs = append(errs, err)
	}
	dc := cfg.Dispatch
	if dc.MaxInFlight < 1 {
		errs = append(errs, fmt.Errorf("max_in_flight must be at least 1, not %d", dc.MaxInFlight))
	}
	if dc.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative"))
	}
	if dc.Backoff < 0 || dc.MaxBackoff < 0 || dc.JobTimeout < 0 || dc.JobsPerSecond < 0 || dc.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("dispatch times and rates must not be negative"))
	}
	if sb := dc.SizeBuckets; sb.MinFlows < 0 || sb.Ratio < 0 || (sb.Ratio > 0 && sb.Ratio < 1) {
		errs = append(errs, fmt.Errorf("size_buckets needs a ratio of at least 1 and a non-negative min_flows"))
	}
	if cfg.Aggregation.MaxAtoms < 0 || cfg.Aggregation.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("aggregation limits must not be negative"))
	}
	if cfg.Trace.InUse && len(cfg.Trace.File) > 0 && !isYAMLFile(cfg.Trace.File) && !isJSONFile(cfg.Trace.File) {
		errs = append(errs, fmt.Errorf("trace file %q is neither yaml nor json", cfg.Trace.File))
	}
	return ReportErrs(errs)
}

// Logger builds the logger the configuration asks for
func (cfg *Config) Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// seconds converts a configuration time to a Duration
func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
