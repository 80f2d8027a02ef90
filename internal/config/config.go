// Package config provides configuration management for the partitioned join engine
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds the engine tuning knobs shared by every join execution
type Config struct {
	// Partitioning Configuration
	InitialPartitionBits int `json:"initial_partition_bits" yaml:"initial_partition_bits"` // log2 of the initial partition count
	MaxPartitionBits     int `json:"max_partition_bits" yaml:"max_partition_bits"`         // ceiling for partition growth

	// External Sort Configuration
	MaxOpenFiles   int    `json:"max_open_files" yaml:"max_open_files"`     // files open at once during a merge
	SortBufferRows int    `json:"sort_buffer_rows" yaml:"sort_buffer_rows"` // rows sorted in memory per run
	SpillDirectory string `json:"spill_directory" yaml:"spill_directory"`   // "" = system temp directory
	SpillOutput    bool   `json:"spill_output" yaml:"spill_output"`         // write the joined table to disk

	// Memory Management Configuration
	MemoryThreshold     int64   `json:"memory_threshold" yaml:"memory_threshold"`           // heap bytes considered low (0 = derive from limit)
	GCPressureThreshold float64 `json:"gc_pressure_threshold" yaml:"gc_pressure_threshold"` // fraction of the memory limit (0.0-1.0)
	MonitorPollInterval int     `json:"monitor_poll_interval" yaml:"monitor_poll_interval"` // rows between heap samples

	// Debugging Configuration
	VerboseLogging    bool `json:"verbose_logging" yaml:"verbose_logging"`
	MetricsCollection bool `json:"metrics_collection" yaml:"metrics_collection"`
}

// JoinSettings is the textual form of the join settings as found in
// configuration files and command line flags.
type JoinSettings struct {
	Mode              string   `json:"mode" yaml:"mode"`
	Composition       string   `json:"composition" yaml:"composition"`
	LeftKeys          []string `json:"left_keys" yaml:"left_keys"`
	RightKeys         []string `json:"right_keys" yaml:"right_keys"`
	LeftInclude       []string `json:"left_include,omitempty" yaml:"left_include,omitempty"` // nil = all columns
	RightInclude      []string `json:"right_include,omitempty" yaml:"right_include,omitempty"`
	RemoveLeftKeys    bool     `json:"remove_left_keys" yaml:"remove_left_keys"`
	RemoveRightKeys   bool     `json:"remove_right_keys" yaml:"remove_right_keys"`
	DuplicateHandling string   `json:"duplicate_handling" yaml:"duplicate_handling"`
	Suffix            string   `json:"suffix" yaml:"suffix"`
	RowKeyPolicy      string   `json:"row_key_policy" yaml:"row_key_policy"`
	RowKeySeparator   string   `json:"row_key_separator" yaml:"row_key_separator"`
	TrackCorrelation  bool     `json:"track_correlation" yaml:"track_correlation"`
}

// Document is the layout of a configuration file.
type Document struct {
	Engine Config       `json:"engine" yaml:"engine"`
	Join   JoinSettings `json:"join" yaml:"join"`
}

// ConfigValidator validates configurations against the environment
type ConfigValidator struct {
	statDir func(string) (os.FileInfo, error)
}

// Global configuration instance
var (
	globalConfig Config
	configMutex  sync.RWMutex
)

// Default configuration values
const (
	DefaultInitialPartitionBits = 6
	DefaultMaxPartitionBits     = 32
	DefaultMaxOpenFiles         = 64
	DefaultSortBufferRows       = 100000
	DefaultGCPressureThreshold  = 0.8
	DefaultMonitorPollInterval  = 1024

	MinMaxOpenFiles = 3

	smallSortBufferRows = 1000
	largeMaxOpenFiles   = 1024
)

// Initialize global configuration with defaults
func init() {
	globalConfig = NewConfig()
}

// NewConfig creates a new configuration with default values
func NewConfig() Config {
	return Config{
		InitialPartitionBits: DefaultInitialPartitionBits,
		MaxPartitionBits:     DefaultMaxPartitionBits,

		MaxOpenFiles:   DefaultMaxOpenFiles,
		SortBufferRows: DefaultSortBufferRows,

		MemoryThreshold:     0, // derive from the runtime memory limit
		GCPressureThreshold: DefaultGCPressureThreshold,
		MonitorPollInterval: DefaultMonitorPollInterval,

		VerboseLogging:    false,
		MetricsCollection: false,
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.InitialPartitionBits < 0 {
		return fmt.Errorf("InitialPartitionBits must be non-negative, got %d", c.InitialPartitionBits)
	}

	if c.MaxPartitionBits > DefaultMaxPartitionBits {
		return fmt.Errorf("MaxPartitionBits must be at most %d, got %d", DefaultMaxPartitionBits, c.MaxPartitionBits)
	}

	if c.InitialPartitionBits > c.MaxPartitionBits {
		return fmt.Errorf("InitialPartitionBits (%d) must not exceed MaxPartitionBits (%d)",
			c.InitialPartitionBits, c.MaxPartitionBits)
	}

	if c.MaxOpenFiles < MinMaxOpenFiles {
		return fmt.Errorf("MaxOpenFiles must be at least %d, got %d", MinMaxOpenFiles, c.MaxOpenFiles)
	}

	if c.SortBufferRows <= 0 {
		return fmt.Errorf("SortBufferRows must be positive, got %d", c.SortBufferRows)
	}

	if c.MemoryThreshold < 0 {
		return fmt.Errorf("MemoryThreshold must be non-negative, got %d", c.MemoryThreshold)
	}

	if c.GCPressureThreshold < 0.0 || c.GCPressureThreshold > 1.0 {
		return fmt.Errorf("GCPressureThreshold must be between 0 and 1, got %f", c.GCPressureThreshold)
	}

	if c.MonitorPollInterval <= 0 {
		return fmt.Errorf("MonitorPollInterval must be positive, got %d", c.MonitorPollInterval)
	}

	return nil
}

// WithDefaults returns a new configuration with default values filled in for zero values
func (c Config) WithDefaults() Config {
	defaults := NewConfig()

	if c.InitialPartitionBits == 0 {
		c.InitialPartitionBits = defaults.InitialPartitionBits
	}
	if c.MaxPartitionBits == 0 {
		c.MaxPartitionBits = defaults.MaxPartitionBits
	}
	if c.MaxOpenFiles == 0 {
		c.MaxOpenFiles = defaults.MaxOpenFiles
	}
	if c.SortBufferRows == 0 {
		c.SortBufferRows = defaults.SortBufferRows
	}
	if c.GCPressureThreshold == 0.0 {
		c.GCPressureThreshold = defaults.GCPressureThreshold
	}
	if c.MonitorPollInterval == 0 {
		c.MonitorPollInterval = defaults.MonitorPollInterval
	}

	// Boolean fields keep their explicit value; use NewConfig() for boolean defaults

	return c
}

// SetGlobalConfig sets the global configuration
func SetGlobalConfig(config Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = config
}

// GetGlobalConfig returns the current global configuration
func GetGlobalConfig() Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// LoadFromJSON loads the engine configuration from JSON data
func LoadFromJSON(data []byte) (Config, error) {
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing JSON configuration: %w", err)
	}
	return config.WithDefaults(), nil
}

// LoadDocument loads engine and join settings from a JSON or YAML file
func LoadDocument(filename string) (Document, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Document{}, fmt.Errorf("reading config file %s: %w", filename, err)
	}

	var doc Document
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".json":
		err = json.Unmarshal(data, &doc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		return Document{}, fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return Document{}, fmt.Errorf("parsing config file %s: %w", filename, err)
	}

	doc.Engine = doc.Engine.WithDefaults()
	return doc, nil
}

// LoadFromFile loads the engine section of a configuration file
func LoadFromFile(filename string) (Config, error) {
	doc, err := LoadDocument(filename)
	if err != nil {
		return Config{}, err
	}
	return doc.Engine, nil
}

// LoadFromEnv loads configuration from PARTJOIN_* environment variables
func LoadFromEnv() Config {
	config := NewConfig()

	envInt("PARTJOIN_INITIAL_PARTITION_BITS", &config.InitialPartitionBits)
	envInt("PARTJOIN_MAX_PARTITION_BITS", &config.MaxPartitionBits)
	envInt("PARTJOIN_MAX_OPEN_FILES", &config.MaxOpenFiles)
	envInt("PARTJOIN_SORT_BUFFER_ROWS", &config.SortBufferRows)
	envInt("PARTJOIN_MONITOR_POLL_INTERVAL", &config.MonitorPollInterval)

	if val := os.Getenv("PARTJOIN_SPILL_DIRECTORY"); val != "" {
		config.SpillDirectory = val
	}

	if val := os.Getenv("PARTJOIN_MEMORY_THRESHOLD"); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			config.MemoryThreshold = parsed
		}
	}

	if val := os.Getenv("PARTJOIN_GC_PRESSURE_THRESHOLD"); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			config.GCPressureThreshold = parsed
		}
	}

	envBool("PARTJOIN_SPILL_OUTPUT", &config.SpillOutput)
	envBool("PARTJOIN_VERBOSE_LOGGING", &config.VerboseLogging)
	envBool("PARTJOIN_METRICS_COLLECTION", &config.MetricsCollection)

	return config
}

func envInt(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			*dst = parsed
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(name); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			*dst = parsed
		}
	}
}

// NewConfigValidator creates a new configuration validator
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{statDir: os.Stat}
}

// Validate validates a configuration and returns recommendations
func (cv *ConfigValidator) Validate(config Config) (Config, []string, error) {
	var warnings []string

	if err := config.Validate(); err != nil {
		return Config{}, warnings, err
	}

	if config.SpillDirectory != "" {
		info, err := cv.statDir(config.SpillDirectory)
		if err != nil {
			return Config{}, warnings, fmt.Errorf("SpillDirectory %s: %w", config.SpillDirectory, err)
		}
		if !info.IsDir() {
			return Config{}, warnings, fmt.Errorf("SpillDirectory %s is not a directory", config.SpillDirectory)
		}
	}

	if config.SortBufferRows < smallSortBufferRows {
		warnings = append(warnings,
			fmt.Sprintf("Sort buffer of %d rows creates many spill runs", config.SortBufferRows))
	}

	if config.MaxOpenFiles > largeMaxOpenFiles {
		warnings = append(warnings,
			fmt.Sprintf("MaxOpenFiles (%d) may exceed the process file descriptor limit", config.MaxOpenFiles))
	}

	return config, warnings, nil
}
