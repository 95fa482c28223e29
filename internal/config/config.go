// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"addition-rnn/internal/codec"
	apperrors "addition-rnn/internal/pkg/errors"
)

// Evaluation decoding modes.
const (
	DecodingGreedy  = codec.DecodingGreedy
	DecodingTeacher = codec.DecodingTeacher
)

const defaultLogEvery = 100

// MaxNumDigits is the largest supported operand width.
const MaxNumDigits = codec.MaxDigits

// Config captures the runtime knobs for a training run.
type Config struct {
	Seed              int64   `envconfig:"ADDRNN_SEED" yaml:"seed"`
	NumDigits         int     `envconfig:"ADDRNN_NUM_DIGITS" yaml:"num_digits"`
	FeatureVectorSize int     `envconfig:"ADDRNN_FEATURE_VECTOR_SIZE" yaml:"feature_vector_size"`
	BatchSize         int     `envconfig:"ADDRNN_BATCH_SIZE" yaml:"batch_size"`
	TotalBatches      int     `envconfig:"ADDRNN_TOTAL_BATCHES" yaml:"total_batches"`
	Epochs            int     `envconfig:"ADDRNN_EPOCHS" yaml:"epochs"`
	HiddenSize        int     `envconfig:"ADDRNN_HIDDEN_SIZE" yaml:"hidden_size"`
	TestSize          int     `envconfig:"ADDRNN_TEST_SIZE" yaml:"test_size"`
	LearningRate      float64 `envconfig:"ADDRNN_LEARNING_RATE" yaml:"learning_rate"`
	LogEvery          int     `envconfig:"ADDRNN_LOG_EVERY" yaml:"log_every"`
	EvalDecoding      string  `envconfig:"ADDRNN_EVAL_DECODING" yaml:"eval_decoding"`
	TestRoot          string  `envconfig:"ADDRNN_TEST_ROOT" yaml:"test_root"`

	Log LogConfig `yaml:"log"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"ADDRNN_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"ADDRNN_LOG_FORMAT" yaml:"format"`
}

// Overrides captures CLI supplied values. Zero values are ignored, except
// Seed which applies whenever it is non-nil so that seed 0 can be selected.
type Overrides struct {
	Seed         *int64
	NumDigits    int
	BatchSize    int
	TotalBatches int
	Epochs       int
	HiddenSize   int
	TestSize     int
	LearningRate float64
	LogEvery     int
	EvalDecoding string
	TestRoot     string
	LogLevel     string
	LogFormat    string
}

// Load builds a Config from defaults, the optional YAML file at path and
// ADDRNN_* environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if cfg.LogEvery == 0 {
		cfg.LogEvery = defaultLogEvery
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// Default returns the settings of the reference two-digit run.
func Default() *Config {
	return &Config{
		Seed:              1234,
		NumDigits:         2,
		FeatureVectorSize: codec.NumClasses,
		BatchSize:         10,
		TotalBatches:      500,
		Epochs:            50,
		HiddenSize:        128,
		TestSize:          200,
		LearningRate:      0.005,
		LogEvery:          defaultLogEvery,
		EvalDecoding:      DecodingGreedy,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ApplyOverrides updates cfg using any set override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Seed != nil {
		c.Seed = *o.Seed
	}
	if o.NumDigits > 0 {
		c.NumDigits = o.NumDigits
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.TotalBatches > 0 {
		c.TotalBatches = o.TotalBatches
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.HiddenSize > 0 {
		c.HiddenSize = o.HiddenSize
	}
	if o.TestSize > 0 {
		c.TestSize = o.TestSize
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.EvalDecoding != "" {
		c.EvalDecoding = o.EvalDecoding
	}
	if o.TestRoot != "" {
		c.TestRoot = o.TestRoot
	}
	if o.LogLevel != "" {
		c.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		c.Log.Format = o.LogFormat
	}
}

// TimeSteps is the encoder sequence length: two operands and the operator.
func (c *Config) TimeSteps() int {
	return codec.EncoderSteps(c.NumDigits)
}

// DecoderSteps is the decoder sequence length: one digit more than an operand.
func (c *Config) DecoderSteps() int {
	return codec.DecoderSteps(c.NumDigits)
}

// Validate verifies the config is runnable. Every problem found is reported
// in a single ConfigurationError.
func (c *Config) Validate() error {
	if c == nil {
		return apperrors.ConfigurationError("config is nil")
	}

	var errs []string

	if c.NumDigits < 1 || c.NumDigits > MaxNumDigits {
		errs = append(errs, fmt.Sprintf("num_digits must be in [1,%d] (got %d)", MaxNumDigits, c.NumDigits))
	}
	if c.FeatureVectorSize < codec.NumClasses {
		errs = append(errs, fmt.Sprintf("feature_vector_size must be >= %d to hold digits, operator and blank (got %d)",
			codec.NumClasses, c.FeatureVectorSize))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Sprintf("batch_size must be > 0 (got %d)", c.BatchSize))
	}
	if c.TotalBatches <= 0 {
		errs = append(errs, fmt.Sprintf("total_batches must be > 0 (got %d)", c.TotalBatches))
	}
	if c.Epochs <= 0 {
		errs = append(errs, fmt.Sprintf("epochs must be > 0 (got %d)", c.Epochs))
	}
	if c.HiddenSize <= 0 {
		errs = append(errs, fmt.Sprintf("hidden_size must be > 0 (got %d)", c.HiddenSize))
	}
	if c.TestSize <= 0 && c.TestRoot == "" {
		errs = append(errs, fmt.Sprintf("test_size must be > 0 (got %d)", c.TestSize))
	}
	if c.LogEvery <= 0 {
		errs = append(errs, fmt.Sprintf("log_every must be > 0 (got %d)", c.LogEvery))
	}
	if c.LearningRate <= 0 {
		errs = append(errs, fmt.Sprintf("learning_rate must be > 0 (got %g)", c.LearningRate))
	}
	switch c.EvalDecoding {
	case DecodingGreedy, DecodingTeacher:
	default:
		errs = append(errs, fmt.Sprintf("invalid eval_decoding: %q (must be %s or %s)",
			c.EvalDecoding, DecodingGreedy, DecodingTeacher))
	}

	if len(errs) > 0 {
		return apperrors.ConfigurationError(strings.Join(errs, "; "))
	}
	return nil
}
