// Package config loads wildspan settings from defaults, an optional config
// file, a .env file and WILDSPAN_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Data   DataConfig   `mapstructure:"data"`
	DB     DBConfig     `mapstructure:"db"`
	Server ServerConfig `mapstructure:"server"`
	INat   INatConfig   `mapstructure:"inat"`
	Valkey ValkeyConfig `mapstructure:"valkey"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Log    LogConfig    `mapstructure:"log"`
}

type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

type INatConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	TaxonName         string  `mapstructure:"taxon_name"`
	QualityGrade      string  `mapstructure:"quality_grade"`
	PerPage           int     `mapstructure:"per_page"`
	MaxPages          int     `mapstructure:"max_pages"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	TimeoutSec        int     `mapstructure:"timeout_sec"`
}

// Timeout returns the HTTP client timeout.
func (c INatConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

type ValkeyConfig struct {
	// Addr is empty when no span cache is configured.
	Addr string `mapstructure:"addr"`
}

type CacheConfig struct {
	SpanTTLSec int `mapstructure:"span_ttl_sec"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MaxPerPage is the largest page size the iNaturalist API accepts.
const MaxPerPage = 200

// Load reads configuration for the named service.
func Load(service string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config for %s: %w", service, err)
		}
	}

	// Environment variables: WILDSPAN_INAT_TAXON_NAME -> inat.taxon_name
	v.SetEnvPrefix("WILDSPAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data.dir", "inat_data")
	v.SetDefault("db.path", "wildspan.sqlite3")
	v.SetDefault("server.listen", ":8000")
	v.SetDefault("inat.base_url", "https://api.inaturalist.org/v1")
	v.SetDefault("inat.taxon_name", "Aves")
	v.SetDefault("inat.quality_grade", "research")
	v.SetDefault("inat.per_page", 30)
	v.SetDefault("inat.max_pages", 3)
	v.SetDefault("inat.requests_per_second", 1.0)
	v.SetDefault("inat.timeout_sec", 30)
	v.SetDefault("valkey.addr", "")
	v.SetDefault("cache.span_ttl_sec", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Data.Dir) == "" {
		errs = append(errs, "data.dir is required")
	}
	if strings.TrimSpace(c.DB.Path) == "" {
		errs = append(errs, "db.path is required")
	}
	if u, err := url.Parse(c.INat.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("inat.base_url must be an absolute URL, got %q", c.INat.BaseURL))
	}
	if c.INat.PerPage < 1 || c.INat.PerPage > MaxPerPage {
		errs = append(errs, fmt.Sprintf("inat.per_page must be 1-%d, got %d", MaxPerPage, c.INat.PerPage))
	}
	if c.INat.MaxPages < 1 {
		errs = append(errs, fmt.Sprintf("inat.max_pages must be positive, got %d", c.INat.MaxPages))
	}
	if c.INat.RequestsPerSecond <= 0 {
		errs = append(errs, "inat.requests_per_second must be positive")
	}
	if c.INat.TimeoutSec <= 0 {
		errs = append(errs, "inat.timeout_sec must be positive")
	}
	if c.Cache.SpanTTLSec < 1 {
		errs = append(errs, fmt.Sprintf("cache.span_ttl_sec must be at least 1, got %d", c.Cache.SpanTTLSec))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
