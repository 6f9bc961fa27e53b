// Package config loads tollsweep settings from an optional YAML file.
// Command-line flags override whatever the file sets.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of a run.
type Config struct {
	Database string `yaml:"database"`

	Run struct {
		Concurrency       int    `yaml:"concurrency"`
		VerifyConcurrency int    `yaml:"verify_concurrency"`
		QueueSize         int    `yaml:"queue_size"`
		StatusPath        string `yaml:"status_path"`
		Alphabet          string `yaml:"alphabet"`
		MaxLength         int    `yaml:"max_length"`
		Shuffle           bool   `yaml:"shuffle"`
	} `yaml:"run"`

	DNS struct {
		Nameservers []string      `yaml:"nameservers"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"dns"`

	HTTP struct {
		Scheme      string        `yaml:"scheme"`
		Port        int           `yaml:"port"`
		UserAgent   string        `yaml:"user_agent"`
		Timeout     time.Duration `yaml:"timeout"`
		ExcerptSize int           `yaml:"excerpt_size"`
	} `yaml:"http"`

	Enrich struct {
		Sources          []string      `yaml:"sources"`
		Concurrency      int           `yaml:"concurrency"`
		Timeout          time.Duration `yaml:"timeout"`
		IPAPIURL         string        `yaml:"ipapi_url"`
		IPAPIRate        int           `yaml:"ipapi_rate"`
		CacheSize        int           `yaml:"cache_size"`
		FailureThreshold int           `yaml:"failure_threshold"`
		Cooldown         time.Duration `yaml:"cooldown"`
	} `yaml:"enrich"`

	Store struct {
		Retries      uint64        `yaml:"retries"`
		RetryInitial time.Duration `yaml:"retry_initial"`
		SyncTimeout  time.Duration `yaml:"sync_timeout"`
	} `yaml:"store"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var c Config
	c.Database = "dns_results.db"

	c.Run.Concurrency = 100
	c.Run.VerifyConcurrency = 50
	c.Run.StatusPath = "/front/checkIp"
	c.Run.MaxLength = 8

	c.DNS.Timeout = 5 * time.Second

	c.HTTP.Scheme = "https"
	c.HTTP.Timeout = 3 * time.Second
	c.HTTP.ExcerptSize = 1024

	c.Enrich.Sources = []string{"cymru", "ip-api"}
	c.Enrich.Timeout = 5 * time.Second
	c.Enrich.IPAPIRate = 45
	c.Enrich.CacheSize = 65536
	c.Enrich.FailureThreshold = 5
	c.Enrich.Cooldown = time.Minute

	c.Store.Retries = 4
	c.Store.RetryInitial = 50 * time.Millisecond
	c.Store.SyncTimeout = 30 * time.Second

	c.Log.Level = "info"
	c.Log.Format = "text"
	return &c
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if c.Database == "" {
		errs = multierror.Append(errs, errors.New("database path is empty"))
	}
	if c.Run.Concurrency < 1 {
		errs = multierror.Append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Run.Concurrency))
	}
	if c.Run.VerifyConcurrency < 1 {
		errs = multierror.Append(errs, fmt.Errorf("verify concurrency must be at least 1, got %d", c.Run.VerifyConcurrency))
	}
	if c.Run.QueueSize < 0 {
		errs = multierror.Append(errs, fmt.Errorf("queue size must not be negative, got %d", c.Run.QueueSize))
	}
	if !strings.HasPrefix(c.Run.StatusPath, "/") {
		errs = multierror.Append(errs, fmt.Errorf("status path %q must begin with /", c.Run.StatusPath))
	}
	if c.Run.MaxLength < 1 {
		errs = multierror.Append(errs, fmt.Errorf("max length must be at least 1, got %d", c.Run.MaxLength))
	}
	if c.DNS.Timeout <= 0 {
		errs = multierror.Append(errs, errors.New("dns timeout must be positive"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = multierror.Append(errs, errors.New("http timeout must be positive"))
	}
	if s := strings.ToLower(c.HTTP.Scheme); s != "http" && s != "https" {
		errs = multierror.Append(errs, fmt.Errorf("http scheme must be http or https, got %q", c.HTTP.Scheme))
	}
	if c.Enrich.Timeout <= 0 {
		errs = multierror.Append(errs, errors.New("enrich timeout must be positive"))
	}
	for _, src := range c.Enrich.Sources {
		switch strings.ToLower(src) {
		case "cymru", "ip-api":
		default:
			errs = multierror.Append(errs, fmt.Errorf("unknown enrichment source %q", src))
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = multierror.Append(errs, fmt.Errorf("log format must be text or json, got %q", c.Log.Format))
	}
	return errs.ErrorOrNil()
}
