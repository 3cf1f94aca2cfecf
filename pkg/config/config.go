// Package config provides configuration loading and management for dicomvol.
// It handles loading configuration from YAML or TOML files and provides default values.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Shape reference policies for the slice filter
const (
	ReferenceFirst    = "first"
	ReferenceMajority = "majority"
)

// Spacing policies for the volume assembler
const (
	SpacingDefault = "default"
	SpacingRequire = "require"
)

// MetricTarget describes where a computed metric is written in output.json.
type MetricTarget struct {
	// Name of the computed metric, e.g. "signal-to-noise"
	Name string `yaml:"name" toml:"name"`

	// Path is a dot separated key path in the output document
	Path string `yaml:"path" toml:"path"`

	// From copies description values into the record: record field -> description key
	From map[string]string `yaml:"from,omitempty" toml:"from,omitempty"`

	// Static adds literal fields to the record
	Static map[string]string `yaml:"static,omitempty" toml:"static,omitempty"`
}

// Record reports whether the metric is wrapped in a record rather than stored bare.
func (m MetricTarget) Record() bool {
	return len(m.From) > 0 || len(m.Static) > 0
}

// Config represents the application configuration
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores bounds the worker pool used when walking DICOM trees
		NumCores int `yaml:"numCores" toml:"numCores"`
	} `yaml:"processing" toml:"processing"`

	// Filter parameters
	Filter struct {
		// Reference selects how the reference shape is chosen: "first" or "majority"
		Reference string `yaml:"reference" toml:"reference"`
	} `yaml:"filter" toml:"filter"`

	// Assembly parameters
	Assembly struct {
		// Spacing is "default" (PixelSpacing [1,1], SliceThickness 1 when absent)
		// or "require" (absent spacing is an error)
		Spacing string `yaml:"spacing" toml:"spacing"`
	} `yaml:"assembly" toml:"assembly"`

	// Output parameters
	Output struct {
		// FileName of the structured output inside the output directory
		FileName string `yaml:"fileName" toml:"fileName"`

		// AbortOnMkdirError stops the run when the output directory cannot be created
		AbortOnMkdirError bool `yaml:"abortOnMkdirError" toml:"abortOnMkdirError"`

		// Preview writes orthogonal mid-plane PNGs next to the output document
		Preview bool `yaml:"preview" toml:"preview"`

		// PreviewDir is relative to the output directory
		PreviewDir string `yaml:"previewDir" toml:"previewDir"`
	} `yaml:"output" toml:"output"`

	// Metrics lists computed metrics and where they land in the output
	Metrics []MetricTarget `yaml:"metrics" toml:"metrics"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level" toml:"level"`

		// Format is "text" or "json"
		Format string `yaml:"format" toml:"format"`

		// File, when set, receives the log through a rotating writer
		File string `yaml:"file" toml:"file"`

		MaxSizeMB  int `yaml:"maxSizeMB" toml:"maxSizeMB"`
		MaxAgeDays int `yaml:"maxAgeDays" toml:"maxAgeDays"`
	} `yaml:"logging" toml:"logging"`

	// Server parameters for the HTTP trigger
	Server struct {
		Addr           string   `yaml:"addr" toml:"addr"`
		DataRoot       string   `yaml:"dataRoot" toml:"dataRoot"`
		OutputRoot     string   `yaml:"outputRoot" toml:"outputRoot"`
		MaxUploadMB    int64    `yaml:"maxUploadMB" toml:"maxUploadMB"`
		MaxExtractMB   int64    `yaml:"maxExtractMB" toml:"maxExtractMB"`
		AllowedOrigins []string `yaml:"allowedOrigins" toml:"allowedOrigins"`
	} `yaml:"server" toml:"server"`

	// Cache parameters for the study cache builder
	Cache struct {
		File string `yaml:"file" toml:"file"`
	} `yaml:"cache" toml:"cache"`

	// Incoming parameters for the transfer logger
	Incoming struct {
		LogFile    string `yaml:"logFile" toml:"logFile"`
		MaxSizeMB  int    `yaml:"maxSizeMB" toml:"maxSizeMB"`
		MaxAgeDays int    `yaml:"maxAgeDays" toml:"maxAgeDays"`
	} `yaml:"incoming" toml:"incoming"`
}

// DefaultSignalToNoise is the metric target used when no metrics are configured.
// It stores the value as a record addressed by patient and referring physician.
func DefaultSignalToNoise() MetricTarget {
	return MetricTarget{
		Name: "signal-to-noise",
		Path: "signal-to-noise",
		From: map[string]string{
			"record_id":         "PatientID",
			"redcap_event_name": "ReferringPhysician",
		},
		Static: map[string]string{
			"field_name": "signal-to-noise",
		},
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()

	cfg.Filter.Reference = ReferenceFirst
	cfg.Assembly.Spacing = SpacingDefault

	cfg.Output.FileName = "output.json"
	cfg.Output.AbortOnMkdirError = true
	cfg.Output.Preview = false
	cfg.Output.PreviewDir = "preview"

	cfg.Metrics = []MetricTarget{DefaultSignalToNoise()}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxAgeDays = 28

	cfg.Server.Addr = ":8080"
	cfg.Server.DataRoot = "data"
	cfg.Server.OutputRoot = "output"
	cfg.Server.MaxUploadMB = 2048
	cfg.Server.MaxExtractMB = 8192

	cfg.Cache.File = "study_cache.json"

	cfg.Incoming.LogFile = "incoming_data.log"
	cfg.Incoming.MaxSizeMB = 10
	cfg.Incoming.MaxAgeDays = 365

	return cfg
}

// Validate checks that the enumerated options carry known values
func (c *Config) Validate() error {
	switch c.Filter.Reference {
	case ReferenceFirst, ReferenceMajority:
	default:
		return fmt.Errorf("invalid filter.reference %q (must be %q or %q)", c.Filter.Reference, ReferenceFirst, ReferenceMajority)
	}
	switch c.Assembly.Spacing {
	case SpacingDefault, SpacingRequire:
	default:
		return fmt.Errorf("invalid assembly.spacing %q (must be %q or %q)", c.Assembly.Spacing, SpacingDefault, SpacingRequire)
	}
	if c.Output.FileName == "" || filepath.Base(c.Output.FileName) != c.Output.FileName {
		return fmt.Errorf("invalid output.fileName %q", c.Output.FileName)
	}
	for i, m := range c.Metrics {
		if m.Name == "" || m.Path == "" {
			return fmt.Errorf("metrics[%d]: name and path are required", i)
		}
	}
	if c.Processing.NumCores < 1 {
		c.Processing.NumCores = 1
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file.
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("error validating config file: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML or TOML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
