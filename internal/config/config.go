package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/danielsnider/algorithmic-efficiency/internal/devices"
)

// DefaultSeed is used when no seed is given. An explicit seed of 0 is kept.
const DefaultSeed int64 = 42

// Config captures the runtime knobs for a benchmark run.
type Config struct {
	DataDir       string  `yaml:"data_dir"`
	Dataset       string  `yaml:"dataset"`
	DatasetFormat string  `yaml:"dataset_format"`
	Arch          string  `yaml:"arch"`
	Seed          int64   `yaml:"seed"`
	BatchSize     int     `yaml:"batch_size"`
	EvalBatchSize int     `yaml:"eval_batch_size"`
	NumWorkers    int     `yaml:"num_workers"`
	MaxSteps      int     `yaml:"max_steps"`
	LogEvery      int     `yaml:"log_every"`
	LearningRate  float64 `yaml:"learning_rate"`
	Momentum      float64 `yaml:"momentum"`
	WeightDecay   float64 `yaml:"weight_decay"`
	CheckpointURL string  `yaml:"checkpoint_url"`
	// InitCheckpoint is the location of a checkpoint file to resume from.
	InitCheckpoint string `yaml:"init_checkpoint"`

	Profiler Profiler `yaml:"profiler"`
}

// Profiler configures execution tracing.
type Profiler struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
	Wait      int    `yaml:"wait"`
	Warmup    int    `yaml:"warmup"`
	Active    int    `yaml:"active"`
	UploadURL string `yaml:"upload_url"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	DataDir string
	Dataset string
	Arch    string
	// Seed is nil when no seed flag was given.
	Seed           *int64
	BatchSize      int
	EvalBatchSize  int
	NumWorkers     int
	MaxSteps       int
	LogEvery       int
	LearningRate   float64
	CheckpointURL  string
	InitCheckpoint string
	Profile        bool
	ProfileDir     string
}

// Default returns a config with every optional field populated.
func Default() *Config {
	cfg := &Config{Seed: DefaultSeed}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a Config from YAML.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes YAML without validating it. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg := &Config{Seed: DefaultSeed}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.Dataset != "" {
		c.Dataset = o.Dataset
	}
	if o.Arch != "" {
		c.Arch = o.Arch
	}
	if o.Seed != nil {
		c.Seed = *o.Seed
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.EvalBatchSize > 0 {
		c.EvalBatchSize = o.EvalBatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.MaxSteps > 0 {
		c.MaxSteps = o.MaxSteps
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.CheckpointURL != "" {
		c.CheckpointURL = o.CheckpointURL
	}
	if o.InitCheckpoint != "" {
		c.InitCheckpoint = o.InitCheckpoint
	}
	if o.Profile {
		c.Profiler.Enabled = true
	}
	if o.ProfileDir != "" {
		c.Profiler.OutputDir = o.ProfileDir
	}
}

// Validate verifies the config is runnable and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must be >= 0 (got %d)", c.BatchSize)
	}
	if c.EvalBatchSize < 0 {
		return fmt.Errorf("eval_batch_size must be >= 0 (got %d)", c.EvalBatchSize)
	}
	if c.NumWorkers < 0 {
		return fmt.Errorf("num_workers must be >= 0 (got %d)", c.NumWorkers)
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be >= 0 (got %d)", c.MaxSteps)
	}
	if c.LearningRate < 0 {
		return fmt.Errorf("learning_rate must be >= 0 (got %g)", c.LearningRate)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("momentum must be in [0, 1) (got %g)", c.Momentum)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("weight_decay must be >= 0 (got %g)", c.WeightDecay)
	}
	switch c.DatasetFormat {
	case "", "imagefolder", "webdataset":
	default:
		return fmt.Errorf("unknown dataset_format %q", c.DatasetFormat)
	}
	p := c.Profiler
	if p.Wait < 0 || p.Warmup < 0 || p.Active < 0 {
		return errors.New("profiler schedule values must be >= 0")
	}
	c.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	if c.Dataset == "" {
		c.Dataset = "imagenet2012"
	}
	if c.DatasetFormat == "" {
		c.DatasetFormat = "imagefolder"
	}
	if c.Arch == "" {
		c.Arch = "resnet50"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 256
	}
	if c.EvalBatchSize == 0 {
		c.EvalBatchSize = 128
	}
	if c.NumWorkers == 0 {
		// Accelerator errors do not affect the CPU counts.
		info, _ := devices.Probe()
		c.NumWorkers = info.DecodeWorkers()
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.1
	}
	if c.Profiler.OutputDir == "" {
		c.Profiler.OutputDir = "./log/trace_profiler"
	}
	if c.Profiler.Active == 0 {
		c.Profiler.Wait, c.Profiler.Warmup, c.Profiler.Active = 1, 1, 1
	}
}
