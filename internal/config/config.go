package config

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SearxngConfig points the search client at a SearxNG instance with the
// JSON API enabled.
type SearxngConfig struct {
	BaseURL   string `yaml:"baseURL"`
	TimeoutMs int    `yaml:"timeoutMs"`
	UserAgent string `yaml:"userAgent"`
}

// SearchConfig controls the /s/ pipeline.
type SearchConfig struct {
	DefaultCount  int `yaml:"defaultCount"`
	MaxCount      int `yaml:"maxCount"`
	EarlyReturnMs int `yaml:"earlyReturnMs"`
}

// CacheConfig controls the freshness lifecycle of cached upstream
// search responses.
type CacheConfig struct {
	ValidForMinutes int `yaml:"validForMinutes"`
	RetentionDays   int `yaml:"retentionDays"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type RateLimitConfig struct {
	Enabled          bool `yaml:"enabled"`
	DefaultPerMinute int  `yaml:"defaultPerMinute"`
}

// BrowserConfig controls the rod-backed page renderer.
type BrowserConfig struct {
	ControlURL string `yaml:"controlURL"`
	TimeoutMs  int    `yaml:"timeoutMs"`
	SettleMs   int    `yaml:"settleMs"`
}

type RobotsConfig struct {
	Respect bool `yaml:"respect"`
}

// ScreenshotConfig controls where rendered screenshots are written and
// how long they stay addressable.
type ScreenshotConfig struct {
	Dir            string `yaml:"dir"`
	RetentionHours int    `yaml:"retentionHours"`
}

// RetentionConfig controls TTL cleanup of cache rows and screenshot
// files so that storage does not grow without bound.
type RetentionConfig struct {
	Enabled                bool `yaml:"enabled"`
	CleanupIntervalMinutes int  `yaml:"cleanupIntervalMinutes"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Searxng    SearxngConfig    `yaml:"searxng"`
	Search     SearchConfig     `yaml:"search"`
	Cache      CacheConfig      `yaml:"cache"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit"`
	Browser    BrowserConfig    `yaml:"browser"`
	Robots     RobotsConfig     `yaml:"robots"`
	Screenshot ScreenshotConfig `yaml:"screenshot"`
	Retention  RetentionConfig  `yaml:"retention"`
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

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg
}

// applyEnv layers process environment overrides over the file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("SEARXNG_INSTANCE_URL"); v != "" {
		c.Searxng.BaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port <= 0 {
		c.Server.Port = 3000
	}
	if c.Searxng.BaseURL == "" {
		c.Searxng.BaseURL = "http://localhost:8080"
	}
	if c.Search.DefaultCount <= 0 {
		c.Search.DefaultCount = 5
	}
	if c.Search.MaxCount <= 0 {
		c.Search.MaxCount = 20
	}
	if c.Search.EarlyReturnMs <= 0 {
		c.Search.EarlyReturnMs = 15000
	}
	if c.Cache.ValidForMinutes <= 0 {
		c.Cache.ValidForMinutes = 60
	}
	if c.Cache.RetentionDays <= 0 {
		c.Cache.RetentionDays = 7
	}
	if c.Browser.TimeoutMs <= 0 {
		c.Browser.TimeoutMs = 30000
	}
	if c.Browser.SettleMs <= 0 {
		c.Browser.SettleMs = 2000
	}
	if c.Screenshot.Dir == "" {
		c.Screenshot.Dir = "local-storage/instant-screenshots"
	}
	if c.Screenshot.RetentionHours <= 0 {
		c.Screenshot.RetentionHours = 48
	}
	if c.Retention.CleanupIntervalMinutes <= 0 {
		c.Retention.CleanupIntervalMinutes = 60
	}
}
