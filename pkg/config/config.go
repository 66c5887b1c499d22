// Package config loads gather pipeline configuration from a YAML file.
// Each capability slot names a module and carries that module's
// settings; construction from the loaded config happens in the
// entrypoints.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from YAML strings like
// "168h" or "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full pipeline configuration for one deployment.
type Config struct {
	// TimeSpan is how far back a gather cycle looks, e.g. "168h" for a
	// weekly window. Defaults to 48h.
	TimeSpan Duration `yaml:"time_span"`
	// Backfill widens the gather to everything the source still
	// publishes, regardless of TimeSpan.
	Backfill bool `yaml:"backfill"`

	Workers    int      `yaml:"workers"`
	MaxRetries int      `yaml:"max_retries"`
	RetryDelay Duration `yaml:"retry_delay"`

	Scraper      ScraperConfig   `yaml:"scraper"`
	AudioSplit   AudioConfig     `yaml:"audio_splitter"`
	SRModel      SRModelConfig   `yaml:"sr_model"`
	CaptionModel CaptionConfig   `yaml:"caption_model"`
	FileStore    FileStoreConfig `yaml:"file_store"`
	Database     DatabaseConfig  `yaml:"database"`
}

// ScraperConfig selects and configures the event scraper module.
type ScraperConfig struct {
	// Module is "legistar" or "rss".
	Module string `yaml:"module"`

	// Legistar settings.
	CalendarURL       string  `yaml:"calendar_url"`
	Client            string  `yaml:"client"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// RSS settings.
	FeedURL string `yaml:"feed_url"`
	Body    string `yaml:"body"`
}

// AudioConfig selects the audio splitter module.
type AudioConfig struct {
	// Module is "ffmpeg" or empty to disable audio extraction.
	Module string `yaml:"module"`
}

// SRModelConfig configures the remote speech recognition backend.
type SRModelConfig struct {
	// Module is "remote" or empty to disable speech recognition.
	Module         string   `yaml:"module"`
	Endpoint       string   `yaml:"endpoint"`
	Token          string   `yaml:"token"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// CaptionConfig enables the caption-based transcript model.
type CaptionConfig struct {
	// Module is "webvtt" or empty to disable caption transcripts.
	Module string `yaml:"module"`
}

// FileStoreConfig selects and configures blob storage.
type FileStoreConfig struct {
	// Module is "supabase" or "local".
	Module string `yaml:"module"`

	// Supabase settings.
	URL    string `yaml:"url"`
	Key    string `yaml:"key"`
	Bucket string `yaml:"bucket"`

	// Local settings.
	Directory string `yaml:"directory"`
}

// DatabaseConfig selects and configures the document store.
type DatabaseConfig struct {
	// Module is "mongo" or "postgres".
	Module string `yaml:"module"`

	// Mongo settings.
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`

	// Postgres settings.
	DSN string `yaml:"dsn"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes config bytes, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TimeSpan <= 0 {
		c.TimeSpan = Duration(48 * time.Hour)
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = Duration(2 * time.Second)
	}
}

func (c *Config) validate() error {
	switch c.Scraper.Module {
	case "legistar":
		if c.Scraper.CalendarURL == "" {
			return fmt.Errorf("scraper: legistar module requires calendar_url")
		}
	case "rss":
		if c.Scraper.FeedURL == "" {
			return fmt.Errorf("scraper: rss module requires feed_url")
		}
	default:
		return fmt.Errorf("scraper: unknown module %q", c.Scraper.Module)
	}

	switch c.Database.Module {
	case "mongo":
		if c.Database.URI == "" || c.Database.Database == "" {
			return fmt.Errorf("database: mongo module requires uri and database")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database: postgres module requires dsn")
		}
	default:
		return fmt.Errorf("database: unknown module %q", c.Database.Module)
	}

	switch c.FileStore.Module {
	case "supabase":
		if c.FileStore.URL == "" || c.FileStore.Key == "" || c.FileStore.Bucket == "" {
			return fmt.Errorf("file_store: supabase module requires url, key, and bucket")
		}
	case "local":
		if c.FileStore.Directory == "" {
			return fmt.Errorf("file_store: local module requires directory")
		}
	default:
		return fmt.Errorf("file_store: unknown module %q", c.FileStore.Module)
	}

	if c.SRModel.Module == "remote" && c.SRModel.Endpoint == "" {
		return fmt.Errorf("sr_model: remote module requires endpoint")
	}
	return nil
}
