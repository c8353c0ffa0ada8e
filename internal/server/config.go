package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/iwvelando/finance-model/internal/config"
	"github.com/iwvelando/finance-model/pkg/constants"
	"github.com/iwvelando/finance-model/pkg/validation"
	"gopkg.in/yaml.v3"
)

// DatabaseURLEnv overrides Database.URL when set.
const DatabaseURLEnv = "DATABASE_URL"

// Config defines runtime parameters for the API server.
type Config struct {
	Address     string               `yaml:"address"`
	MaxBodySize string               `yaml:"maxBodySize"`
	Logging     config.LoggingConfig `yaml:"logging"`
	Database    DatabaseConfig       `yaml:"database"`
	Analysis    AnalysisConfig       `yaml:"analysis"`

	bodySizeBytes   int64
	analysisTimeout time.Duration
}

// DatabaseConfig selects the PostgreSQL store. An empty URL keeps all state
// in memory.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// AnalysisConfig bounds sensitivity and Monte Carlo requests.
type AnalysisConfig struct {
	Workers       int    `yaml:"workers"`
	MaxIterations int    `yaml:"maxIterations"`
	Timeout       string `yaml:"timeout"`
}

// LoadConfig loads the server configuration from YAML. If the file does not exist,
// defaults are returned without error.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read server config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse server config: %w", err)
			}
		}
	}

	if url := strings.TrimSpace(os.Getenv(DatabaseURLEnv)); url != "" {
		cfg.Database.URL = url
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BodySizeBytes returns the request body limit in bytes.
func (c *Config) BodySizeBytes() int64 {
	return c.bodySizeBytes
}

// SetBodySizeBytes overrides the configured request body limit.
func (c *Config) SetBodySizeBytes(size int64) {
	if size > 0 {
		c.bodySizeBytes = size
		c.MaxBodySize = strconv.FormatInt(size, 10)
	}
}

// AnalysisTimeout returns the deadline applied to each analysis request.
func (c *Config) AnalysisTimeout() time.Duration {
	return c.analysisTimeout
}

func (c *Config) normalize() error {
	if c.Address == "" {
		c.Address = constants.DefaultServerAddress
	}

	size, err := ParseSize(c.MaxBodySize)
	if err != nil {
		return err
	}
	if size <= 0 {
		size = constants.DefaultMaxBodySizeBytes
	}
	c.bodySizeBytes = size

	if c.Analysis.Workers <= 0 {
		c.Analysis.Workers = constants.DefaultAnalysisWorkers
	}
	if c.Analysis.MaxIterations <= 0 {
		c.Analysis.MaxIterations = constants.MaxMonteCarloIterations
	}
	if strings.TrimSpace(c.Analysis.Timeout) == "" {
		c.Analysis.Timeout = constants.DefaultAnalysisTimeout
	}
	timeout, err := time.ParseDuration(c.Analysis.Timeout)
	if err != nil {
		return fmt.Errorf("invalid analysis timeout %q: %w", c.Analysis.Timeout, err)
	}
	if timeout <= 0 {
		return fmt.Errorf("analysis timeout must be positive, got %s", c.Analysis.Timeout)
	}
	c.analysisTimeout = timeout

	if err := validation.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}
	return validation.ValidateLogFormat(c.Logging.Format)
}

var sizeUnits = map[string]int64{
	"":   1,
	"B":  1,
	"K":  1 << 10,
	"KB": 1 << 10,
	"M":  1 << 20,
	"MB": 1 << 20,
	"G":  1 << 30,
	"GB": 1 << 30,
}

// ParseSize converts a human-friendly byte string (e.g., "256K", "10M") into
// bytes. An empty string selects the default body limit.
func ParseSize(value string) (int64, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(value))
	if trimmed == "" {
		return constants.DefaultMaxBodySizeBytes, nil
	}

	idx := strings.LastIndexFunc(trimmed, unicode.IsDigit) + 1
	if idx == 0 {
		return 0, fmt.Errorf("invalid size: %s", value)
	}
	unit := strings.TrimSpace(trimmed[idx:])
	multiplier, ok := sizeUnits[unit]
	if !ok {
		return 0, fmt.Errorf("unsupported size unit %q", unit)
	}

	n, err := strconv.ParseInt(strings.TrimSpace(trimmed[:idx]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value %q: %w", value, err)
	}
	if n > 0 && n > (1<<63-1)/multiplier {
		return 0, fmt.Errorf("size overflow for value %s", value)
	}
	return n * multiplier, nil
}
