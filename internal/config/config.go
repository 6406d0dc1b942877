package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type AuthConfig struct {
	Enabled         bool   `yaml:"enabled"`
	InitialAdminKey string `yaml:"initialAdminKey"`
}

type RateLimitConfig struct {
	DefaultPerMinute int `yaml:"defaultPerMinute"`
}

// SchedulerConfig controls the background import scheduler: how often
// the jobs table is polled, how many jobs may run at once, and how many
// failed attempts a job gets before it is marked failed for good.
type SchedulerConfig struct {
	PollIntervalMs    int `yaml:"pollIntervalMs"`
	MaxConcurrentJobs int `yaml:"maxConcurrentJobs"`
	MaxRetries        int `yaml:"maxRetries"`
}

// SourceConfig describes one external catalog source the importer can
// pull from. Format selects the feed parser: "json" for a product feed,
// "html" for a price table scraped out of a markup page.
type SourceConfig struct {
	ID       string `yaml:"id"`
	URL      string `yaml:"url"`
	Format   string `yaml:"format"`
	Currency string `yaml:"currency"`
}

// ImporterConfig holds knobs shared by all import sources.
type ImporterConfig struct {
	UserAgent       string `yaml:"userAgent"`
	TimeoutMs       int    `yaml:"timeoutMs"`
	CheckpointEvery int    `yaml:"checkpointEvery"`
}

// RetentionConfig controls TTL-like deletion of old terminal jobs so
// that the jobs table does not grow without bound over time.
type RetentionConfig struct {
	Enabled                bool `yaml:"enabled"`
	CleanupIntervalMinutes int  `yaml:"cleanupIntervalMinutes"`
	JobTTLDays             int  `yaml:"jobTtlDays"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Importer  ImporterConfig  `yaml:"importer"`
	Sources   []SourceConfig  `yaml:"sources"`
	Retention RetentionConfig `yaml:"retention"`
}

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	return &cfg
}

// Source returns the source config with the given id, or nil.
func (c *Config) Source(id string) *SourceConfig {
	for i := range c.Sources {
		if c.Sources[i].ID == id {
			return &c.Sources[i]
		}
	}
	return nil
}
