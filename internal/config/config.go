package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SupportedLanguages lists the languages the transcription backend accepts.
var SupportedLanguages = []string{"en", "fr", "de", "es", "it", "pt", "nl", "pl", "uk"}

// Config represents the complete agent configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Capture       CaptureConfig       `yaml:"capture"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Store         StoreConfig         `yaml:"store"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains HTTP API server configuration
type ServerConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// CaptureConfig contains audio capture parameters
type CaptureConfig struct {
	SampleRate int    `yaml:"sample_rate"` // 16000 Hz
	FrameSize  int    `yaml:"frame_size"`  // samples per ingest frame (128)
	ChunkSize  int    `yaml:"chunk_size"`  // samples per transmitted chunk (1600)
	QueueDepth int    `yaml:"queue_depth"` // buffered chunks between capture and session
	RetainWAV  bool   `yaml:"retain_wav"`  // keep chunks in memory and dump a WAV on stop
	DumpDir    string `yaml:"dump_dir"`    // directory for WAV dumps when retain_wav is set
}

// TranscriptionConfig contains transcription backend configuration
type TranscriptionConfig struct {
	BaseURL         string  `yaml:"base_url"`
	DefaultLanguage string  `yaml:"default_language"`
	PollInterval    float64 `yaml:"poll_interval"` // seconds
	Timeout         int     `yaml:"timeout"`       // seconds
}

// StoreConfig contains CouchDB document store configuration
type StoreConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file. Values of the form ${NAME}
// are expanded from the environment before parsing, so credentials can live
// in the environment or a .env file rather than on disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expanded := os.Expand(string(data), func(name string) string {
		return os.Getenv(name)
	})

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz for the transcription backend, got %d", c.SampleRate)
	}

	if c.FrameSize < 1 {
		return fmt.Errorf("frame_size must be at least 1 sample, got %d", c.FrameSize)
	}

	if c.ChunkSize < c.FrameSize {
		return fmt.Errorf("chunk_size (%d) must be at least frame_size (%d)", c.ChunkSize, c.FrameSize)
	}

	if c.QueueDepth < 1 {
		return fmt.Errorf("queue_depth must be at least 1, got %d", c.QueueDepth)
	}

	if c.RetainWAV && c.DumpDir == "" {
		return fmt.Errorf("dump_dir cannot be empty when retain_wav is enabled")
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	if _, err := url.Parse(t.BaseURL); err != nil {
		return fmt.Errorf("base_url is not a valid URL: %w", err)
	}

	if !isSupportedLanguage(t.DefaultLanguage) {
		return fmt.Errorf("default_language must be one of %v, got '%s'", SupportedLanguages, t.DefaultLanguage)
	}

	if t.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %f", t.PollInterval)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	return nil
}

// Validate validates store configuration
func (s *StoreConfig) Validate() error {
	if s.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if s.Database == "" {
		return fmt.Errorf("database cannot be empty")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output accepts stdout, stderr, or a file path; nothing to reject here.
	return nil
}

// GetPollInterval returns the process poll interval as a time.Duration
func (t *TranscriptionConfig) GetPollInterval() time.Duration {
	return time.Duration(t.PollInterval * float64(time.Second))
}

// GetTimeoutDuration returns the transcription HTTP timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

func isSupportedLanguage(lang string) bool {
	for _, l := range SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}
