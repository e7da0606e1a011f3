// Package config loads the pipeline configuration from YAML with .env and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"auto_seo_article_pipeline/logger"
)

// Config holds every setting the CLI and server need to wire the pipeline.
type Config struct {
	ServerAddr string        `yaml:"server_addr" env:"SERVER_ADDR"`
	Logging    logger.Config `yaml:"logging"`
	LLM        LLMConfig     `yaml:"llm"`
	Images     ImagesConfig  `yaml:"images"`
	Fetch      FetchConfig   `yaml:"fetch"`
	Retry      RetryConfig   `yaml:"retry"`
	Cache      CacheConfig   `yaml:"cache"`
	SERP       SERPConfig    `yaml:"serp"`
	Sitemap    SitemapConfig `yaml:"sitemap"`
	Links      LinksConfig   `yaml:"links"`
	Quality    QualityConfig `yaml:"quality"`
	Pipeline   PipelineCfg   `yaml:"pipeline"`
	Store      StoreConfig   `yaml:"store"`
	Publisher  PublishConfig `yaml:"publisher"`
}

// LLMConfig selects the text-generation provider.
type LLMConfig struct {
	Provider          string  `yaml:"provider" env:"LLM_PROVIDER"`
	Model             string  `yaml:"model" env:"LLM_MODEL"`
	APIKey            string  `yaml:"api_key" env:"LLM_API_KEY"`
	BaseURL           string  `yaml:"base_url" env:"LLM_BASE_URL"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
}

// ImagesConfig controls the optional image generation phase.
type ImagesConfig struct {
	Enabled bool   `yaml:"enabled" env:"IMAGES_ENABLED"`
	Model   string `yaml:"model"`
	Size    string `yaml:"size"`
	APIKey  string `yaml:"api_key" env:"IMAGES_API_KEY"`
}

// ProxyConfig is one fallback transport for the fetch layer.
type ProxyConfig struct {
	Name    string   `yaml:"name"`
	Kind    string   `yaml:"kind"`
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

// FetchConfig tunes the resilient fetch layer.
type FetchConfig struct {
	UserAgent     string        `yaml:"user_agent"`
	DirectTimeout Duration      `yaml:"direct_timeout"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes"`
	Proxies       []ProxyConfig `yaml:"proxies"`
}

// RetryConfig tunes the provider retry controller.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
}

// CacheConfig selects the shared TTL cache backend.
type CacheConfig struct {
	Driver        string   `yaml:"driver" env:"CACHE_DRIVER"`
	TTL           Duration `yaml:"ttl"`
	RedisAddress  string   `yaml:"redis_address" env:"REDIS_ADDRESS"`
	RedisPassword string   `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int      `yaml:"redis_db" env:"REDIS_DB"`
	KeyPrefix     string   `yaml:"key_prefix"`
}

// SERPConfig configures keyword/SERP intelligence.
type SERPConfig struct {
	Enabled  bool   `yaml:"enabled" env:"SERP_ENABLED"`
	Endpoint string `yaml:"endpoint" env:"SERP_ENDPOINT"`
	APIKey   string `yaml:"api_key" env:"SERP_API_KEY"`
	Country  string `yaml:"country"`
	Language string `yaml:"language"`
	Results  int    `yaml:"results"`
}

// SitemapConfig configures catalogue discovery.
type SitemapConfig struct {
	URL         string `yaml:"url" env:"SITEMAP_URL"`
	StaleDays   int    `yaml:"stale_days"`
	Crawl       bool   `yaml:"crawl"`
	MaxPages    int    `yaml:"max_pages"`
	Concurrency int    `yaml:"concurrency"`
}

// LinksConfig configures the internal link engine.
type LinksConfig struct {
	MinLinks    int    `yaml:"min_links"`
	UTMSource   string `yaml:"utm_source"`
	UTMMedium   string `yaml:"utm_medium"`
	UTMCampaign string `yaml:"utm_campaign"`
}

// QualityConfig configures the quality gate.
type QualityConfig struct {
	MinWords       int `yaml:"min_words"`
	MaxWords       int `yaml:"max_words"`
	PillarMinWords int `yaml:"pillar_min_words"`
}

// PipelineCfg configures the orchestrator.
type PipelineCfg struct {
	Workers int `yaml:"workers"`
}

// StoreConfig configures artifact persistence. Driver "" or "memory" keeps artifacts in process.
type StoreConfig struct {
	Driver string `yaml:"driver" env:"STORE_DRIVER"`
	DSN    string `yaml:"dsn" env:"STORE_DSN"`
}

// PublishConfig holds the WordPress REST credentials.
type PublishConfig struct {
	BaseURL     string `yaml:"base_url" env:"WP_BASE_URL"`
	Username    string `yaml:"username" env:"WP_USERNAME"`
	AppPassword string `yaml:"app_password" env:"WP_APP_PASSWORD"`
	Status      string `yaml:"status"`
}

// Load reads .env files, the YAML file at path, applies defaults and then env overrides.
func Load(path string) (Config, error) {
	if err := loadEnvFiles(); err != nil {
		return Config{}, err
	}
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.SetDefaults()
	applyEnvOverrides(reflect.ValueOf(&cfg).Elem())
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a config with every default applied and no provider credentials.
func Default() Config {
	var cfg Config
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 8192
	}
	if c.Images.Model == "" {
		c.Images.Model = "gpt-image-1"
	}
	if c.Images.Size == "" {
		c.Images.Size = "1536x1024"
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "Mozilla/5.0 (compatible; auto-seo-article-pipeline/1.0)"
	}
	if c.Fetch.DirectTimeout.IsZero() {
		c.Fetch.DirectTimeout = DurationFrom(20 * time.Second)
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		c.Fetch.MaxBodyBytes = 10 << 20
	}
	for i := range c.Fetch.Proxies {
		if c.Fetch.Proxies[i].Kind == "" {
			c.Fetch.Proxies[i].Kind = "forward"
		}
		if c.Fetch.Proxies[i].Timeout.IsZero() {
			c.Fetch.Proxies[i].Timeout = DurationFrom(25 * time.Second)
		}
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.BaseDelay.IsZero() {
		c.Retry.BaseDelay = DurationFrom(5 * time.Second)
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Cache.TTL.IsZero() {
		c.Cache.TTL = DurationFrom(time.Hour)
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "seo-pipeline:"
	}
	if c.SERP.Endpoint == "" {
		c.SERP.Endpoint = "https://google.serper.dev"
	}
	if c.SERP.Results == 0 {
		c.SERP.Results = 10
	}
	if c.Sitemap.StaleDays == 0 {
		c.Sitemap.StaleDays = 365
	}
	if c.Sitemap.MaxPages == 0 {
		c.Sitemap.MaxPages = 500
	}
	if c.Sitemap.Concurrency == 0 {
		c.Sitemap.Concurrency = 4
	}
	if c.Links.MinLinks == 0 {
		c.Links.MinLinks = 8
	}
	if c.Links.UTMSource == "" {
		c.Links.UTMSource = "internal"
	}
	if c.Links.UTMMedium == "" {
		c.Links.UTMMedium = "blog"
	}
	if c.Links.UTMCampaign == "" {
		c.Links.UTMCampaign = "internal-linking"
	}
	if c.Quality.MinWords == 0 {
		c.Quality.MinWords = 2200
	}
	if c.Quality.MaxWords == 0 {
		c.Quality.MaxWords = 4500
	}
	if c.Quality.PillarMinWords == 0 {
		c.Quality.PillarMinWords = 3500
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 3
	}
	if c.Publisher.Status == "" {
		c.Publisher.Status = "draft"
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case "openai", "deepseek", "anthropic", "gemini", "mock":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q not supported", c.LLM.Provider))
	}
	if c.LLM.Provider == "deepseek" && c.LLM.BaseURL == "" {
		errs = append(errs, errors.New("llm provider deepseek requires base_url (OpenAI-compatible endpoint)"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 1 (got %d)", c.Retry.MaxAttempts))
	}
	if c.Pipeline.Workers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be >= 1 (got %d)", c.Pipeline.Workers))
	}
	if c.Quality.MaxWords > 0 && c.Quality.MaxWords < c.Quality.MinWords {
		errs = append(errs, fmt.Errorf("quality.max_words (%d) must be >= quality.min_words (%d)", c.Quality.MaxWords, c.Quality.MinWords))
	}
	switch c.Cache.Driver {
	case "memory":
	case "redis":
		if c.Cache.RedisAddress == "" {
			errs = append(errs, errors.New("cache.redis_address must be set when cache.driver is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.driver %q not supported", c.Cache.Driver))
	}
	for i, p := range c.Fetch.Proxies {
		if p.URL == "" {
			errs = append(errs, fmt.Errorf("fetch.proxies[%d].url must be set", i))
		}
		if p.Kind != "forward" && p.Kind != "http" {
			errs = append(errs, fmt.Errorf("fetch.proxies[%d].kind %q must be forward or http", i, p.Kind))
		}
	}
	if c.SERP.Enabled && c.SERP.APIKey == "" {
		errs = append(errs, errors.New("serp.api_key must be set when serp.enabled is true"))
	}
	switch c.Store.Driver {
	case "", "memory":
	case "postgres", "sqlite3":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn must be set for driver %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q not supported", c.Store.Driver))
	}
	return errors.Join(errs...)
}

func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env.local: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

var durationType = reflect.TypeOf(Duration{})

// applyEnvOverrides walks struct fields and replaces values that carry an `env` tag with a set variable.
func applyEnvOverrides(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		sf := t.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct && sf.Type != durationType {
			applyEnvOverrides(field)
			continue
		}
		key := sf.Tag.Get("env")
		if key == "" {
			continue
		}
		raw, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		setFromString(field, raw)
	}
}

func setFromString(field reflect.Value, raw string) {
	raw = strings.TrimSpace(raw)
	if field.Type() == durationType {
		if d, err := time.ParseDuration(raw); err == nil {
			field.Set(reflect.ValueOf(DurationFrom(d)))
		}
		return
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int64:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			field.SetInt(n)
		}
	case reflect.Float64:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			field.SetFloat(f)
		}
	case reflect.Bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			field.SetBool(b)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(raw, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}
}
