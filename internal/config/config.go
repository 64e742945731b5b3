package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"mminte/internal/blob"
	"mminte/internal/store"
)

// Config holds all mminte configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Workers  int            `yaml:"workers"`
	Solver   SolverConfig   `yaml:"solver"`
	Classify ClassifyConfig `yaml:"classify"`
	Diet     DietConfig     `yaml:"diet"`
	Blob     BlobConfig     `yaml:"blob"`
	Store    StoreConfig    `yaml:"store"`
	Server   ServerConfig   `yaml:"server"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PathsConfig locates inputs and outputs.
type PathsConfig struct {
	ModelsDir        string `yaml:"models_dir"`
	CommunityDir     string `yaml:"community_dir"`
	GrowthTable      string `yaml:"growth_table"`
	InteractionTable string `yaml:"interaction_table"`
}

// SolverConfig configures the FBA backend.
type SolverConfig struct {
	Method       string  `yaml:"method"` // revised or dense
	Tolerance    float64 `yaml:"tolerance"`
	GrowthCutoff float64 `yaml:"growth_cutoff"` // rates below are reported as 0
}

// ClassifyConfig configures the interaction classifier.
type ClassifyConfig struct {
	Threshold   float64 `yaml:"threshold"`
	ZeroEpsilon float64 `yaml:"zero_epsilon"` // replaces a zero solo rate in the denominator
}

// DietConfig names the default diet file. Empty means no diet.
type DietConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures `mminte serve`.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// MetricsConfig configures metric export for batch commands.
type MetricsConfig struct {
	// Textfile, when set, receives the registry in Prometheus text format
	// after each batch.
	Textfile string `yaml:"textfile"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			ModelsDir:        "models",
			CommunityDir:     "communities",
			GrowthTable:      "growthRates.tsv",
			InteractionTable: "interactions.tsv",
		},
		Workers: 4,
		Solver: SolverConfig{
			Method:       "revised",
			Tolerance:    1e-9,
			GrowthCutoff: 1e-6,
		},
		Classify: ClassifyConfig{
			Threshold:   0.1,
			ZeroEpsilon: 1e-25,
		},
		Blob: BlobConfig{
			Driver: string(blob.DriverFilesystem),
		},
		Store: StoreConfig{
			Driver: string(store.DriverSQLite),
			Path:   "data/mminte.db",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file over the defaults, then applies
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from .env files that exist. Variables already
// set in the environment win.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies MMINTE_* environment variables.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"MMINTE_MODELS_DIR":        &c.Paths.ModelsDir,
		"MMINTE_COMMUNITY_DIR":     &c.Paths.CommunityDir,
		"MMINTE_GROWTH_TABLE":      &c.Paths.GrowthTable,
		"MMINTE_INTERACTION_TABLE": &c.Paths.InteractionTable,
		"MMINTE_DIET":              &c.Diet.Path,
		"MMINTE_BLOB_DRIVER":       &c.Blob.Driver,
		"MMINTE_BLOB_ROOT":         &c.Blob.Root,
		"MMINTE_BLOB_S3_BUCKET":    &c.Blob.S3.Bucket,
		"MMINTE_BLOB_S3_REGION":    &c.Blob.S3.Region,
		"MMINTE_BLOB_S3_ENDPOINT":  &c.Blob.S3.Endpoint,
		"MMINTE_BLOB_S3_PREFIX":    &c.Blob.S3.Prefix,
		"MMINTE_STORE_DRIVER":      &c.Store.Driver,
		"MMINTE_STORE_PATH":        &c.Store.Path,
		"MMINTE_STORE_DSN":         &c.Store.DSN,
		"MMINTE_SERVER_ADDR":       &c.Server.Addr,
		"MMINTE_METRICS_TEXTFILE":  &c.Metrics.Textfile,
		"MMINTE_LOG_LEVEL":         &c.Logging.Level,
		"MMINTE_LOG_FORMAT":        &c.Logging.Format,
		"MMINTE_LOG_FILE":          &c.Logging.File,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("MMINTE_BLOB_S3_PATH_STYLE"); v != "" {
		c.Blob.S3.PathStyle = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("MMINTE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MMINTE_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("MMINTE_CLASSIFY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MMINTE_CLASSIFY_THRESHOLD: %w", err)
		}
		c.Classify.Threshold = f
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.Classify.Threshold <= 0 {
		return fmt.Errorf("classify threshold must be positive, got %g", c.Classify.Threshold)
	}
	if c.Classify.ZeroEpsilon <= 0 {
		return fmt.Errorf("classify zero_epsilon must be positive, got %g", c.Classify.ZeroEpsilon)
	}
	switch c.Solver.Method {
	case "", "revised", "dense":
	default:
		return fmt.Errorf("unknown solver method %q, want revised or dense", c.Solver.Method)
	}
	if c.Solver.GrowthCutoff < 0 {
		return fmt.Errorf("solver growth_cutoff must not be negative, got %g", c.Solver.GrowthCutoff)
	}
	if err := c.Blob.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	return c.Logging.validate()
}

// ValidateServe checks the settings `mminte serve` needs on top of
// Validate. The API only records runs in the result store, so a server
// without one would accept work it can never report.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if store.Driver(c.Store.Driver) == store.DriverNone {
		return fmt.Errorf("serve needs a result store, store driver is %q", c.Store.Driver)
	}
	return nil
}
