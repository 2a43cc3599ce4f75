package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"extract-main-content/internal/models"
	"extract-main-content/internal/stability"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "EXTRACT"

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Stability  StabilityConfig  `yaml:"stability"`
	Scrape     ScrapeConfig     `yaml:"scrape"`
	Image      ImageConfig      `yaml:"image"`
	Logging    LogConfig        `yaml:"logging"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`
	Store      StoreConfig      `yaml:"store"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080" yaml:"port"`
	Host string `envconfig:"HOST" default:"0.0.0.0" yaml:"host"`
}

// ExtractionConfig holds pipeline defaults.
type ExtractionConfig struct {
	MinContentLength int           `envconfig:"MIN_CONTENT_LENGTH" default:"800" yaml:"minContentLength"`
	Timeout          time.Duration `envconfig:"TIMEOUT" default:"30s" yaml:"timeout"`
	SPATimeout       time.Duration `envconfig:"SPA_TIMEOUT" default:"0s" yaml:"spaTimeout"`
	RetryAttempts    int           `envconfig:"RETRY_ATTEMPTS" default:"3" yaml:"retryAttempts"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"100ms" yaml:"retryBaseDelay"`
	RetryMaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"2s" yaml:"retryMaxDelay"`
	SiteExtractors   bool          `envconfig:"SITE_EXTRACTORS" default:"true" yaml:"siteExtractors"`
	DisabledMethods  []string      `envconfig:"DISABLED_METHODS" yaml:"disabledMethods"`
	IncludeMarkdown  bool          `envconfig:"INCLUDE_MARKDOWN" default:"false" yaml:"includeMarkdown"`
	DetectLanguage   bool          `envconfig:"DETECT_LANGUAGE" default:"false" yaml:"detectLanguage"`
	// ScriptProbe runs inline page scripts in a sandboxed VM during SPA detection
	ScriptProbe bool `envconfig:"SCRIPT_PROBE" default:"false" yaml:"scriptProbe"`
}

// StabilityConfig holds document stability defaults.
type StabilityConfig struct {
	StableTime       time.Duration `envconfig:"STABLE_TIME" default:"500ms" yaml:"stableTime"`
	MaxWait          time.Duration `envconfig:"MAX_WAIT" default:"10s" yaml:"maxWait"`
	CheckInterval    time.Duration `envconfig:"CHECK_INTERVAL" default:"100ms" yaml:"checkInterval"`
	RequiredWindows  int           `envconfig:"REQUIRED_WINDOWS" default:"2" yaml:"requiredWindows"`
	IgnoredSelectors []string      `envconfig:"IGNORED_SELECTORS" default:"[aria-live],.advertisement,[data-ad-slot]" yaml:"ignoredSelectors"`
}

// ScrapeConfig contains general document loading configuration
type ScrapeConfig struct {
	UserAgent      string        `envconfig:"USER_AGENT" yaml:"userAgent"`
	Timeout        time.Duration `envconfig:"FETCH_TIMEOUT" default:"15s" yaml:"timeout"`
	SizeLimitBytes int           `envconfig:"SIZE_LIMIT_BYTES" default:"6000000" yaml:"sizeLimitBytes"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"2" yaml:"maxRetries"`
	ChromeMajor    int           `envconfig:"CHROME_MAJOR" default:"133" yaml:"chromeMajor"`
	RenderFallback bool          `envconfig:"RENDER_FALLBACK" default:"true" yaml:"renderFallback"`
	MirrorInterval time.Duration `envconfig:"MIRROR_INTERVAL" default:"150ms" yaml:"mirrorInterval"`
}

// ImageConfig contains configuration for lead image selection
type ImageConfig struct {
	MinShortSide int    `envconfig:"IMAGE_MIN_SHORT_SIDE" default:"300" yaml:"minShortSide"`
	BadHintRegex string `envconfig:"IMAGE_BAD_HINT" default:"(sprite|icon|favicon|logo|avatar|emoji|placeholder|pixel|tracker|ads?|adserver|promo|beacon)" yaml:"badHintRegex"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"20" yaml:"requestsPerSecond"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"40" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`
}

// StoreConfig holds persistence configuration. An empty Path disables the store.
type StoreConfig struct {
	Path string `envconfig:"STORE_PATH" default:"" yaml:"path"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile loads environment configuration and then overlays a YAML file.
// Precedence is defaults < environment < file.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Extraction: ExtractionConfig{
			MinContentLength: models.MinContentLength,
			Timeout:          30 * time.Second,
			RetryAttempts:    3,
			RetryBaseDelay:   100 * time.Millisecond,
			RetryMaxDelay:    2 * time.Second,
			SiteExtractors:   true,
		},
		Stability: StabilityConfig{
			StableTime:       500 * time.Millisecond,
			MaxWait:          10 * time.Second,
			CheckInterval:    100 * time.Millisecond,
			RequiredWindows:  2,
			IgnoredSelectors: []string{"[aria-live]", ".advertisement", "[data-ad-slot]"},
		},
		Scrape: ScrapeConfig{
			Timeout:        15 * time.Second,
			SizeLimitBytes: 6_000_000,
			MaxRetries:     2,
			ChromeMajor:    133,
			RenderFallback: true,
			MirrorInterval: 150 * time.Millisecond,
		},
		Image: ImageConfig{
			MinShortSide: 300,
			BadHintRegex: `(sprite|icon|favicon|logo|avatar|emoji|placeholder|pixel|tracker|ads?|adserver|promo|beacon)`,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
	}
}

// Validate rejects settings no component can work with
func (c *Config) Validate() error {
	if c.Extraction.MinContentLength <= 0 {
		return fmt.Errorf("invalid config: minContentLength must be positive, got %d", c.Extraction.MinContentLength)
	}
	if c.Stability.CheckInterval <= 0 || c.Stability.StableTime <= 0 {
		return fmt.Errorf("invalid config: stability intervals must be positive")
	}
	if c.Stability.RequiredWindows <= 0 {
		c.Stability.RequiredWindows = 1
	}
	for _, m := range c.Extraction.DisabledMethods {
		if !models.Method(m).Valid() {
			return fmt.Errorf("invalid config: unknown method %q in disabledMethods", m)
		}
	}
	if _, err := regexp.Compile(c.Image.BadHintRegex); err != nil {
		return fmt.Errorf("invalid config: image bad hint regex: %w", err)
	}
	return nil
}

// PipelineOptions converts the extraction section into per-call defaults
func (c *Config) PipelineOptions() models.PipelineOptions {
	opts := models.DefaultPipelineOptions()
	opts.Timeout = c.Extraction.Timeout
	opts.MinimumContentLength = c.Extraction.MinContentLength
	opts.SPATimeout = c.Extraction.SPATimeout
	opts.SkipSiteSpecific = !c.Extraction.SiteExtractors
	opts.IncludeMarkdown = c.Extraction.IncludeMarkdown
	opts.DetectLanguage = c.Extraction.DetectLanguage
	for _, m := range c.Extraction.DisabledMethods {
		opts.DisabledMethods = append(opts.DisabledMethods, models.Method(m))
	}
	return opts
}

// StabilityOptions converts the stability section into monitor options
func (c *Config) StabilityOptions() stability.Options {
	opts := stability.DefaultOptions()
	opts.StableTime = c.Stability.StableTime
	opts.MaxWait = c.Stability.MaxWait
	opts.CheckInterval = c.Stability.CheckInterval
	opts.RequiredWindows = c.Stability.RequiredWindows
	opts.IgnoredSelectors = append([]string(nil), c.Stability.IgnoredSelectors...)
	return opts
}

// UserAgentString returns the configured user agent or a Chrome one for ChromeMajor
func (s ScrapeConfig) UserAgentString() string {
	if s.UserAgent != "" {
		return s.UserAgent
	}
	major := s.ChromeMajor
	if major <= 0 {
		major = 133
	}
	return fmt.Sprintf("Mozilla/5.0 (Windows NT 10; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.6943.126 Safari/537.36", major)
}

// ProtectionPagePattern matches lowercased bot protection interstitials
var ProtectionPagePattern = regexp.MustCompile(`(attention required|cloudflare ray id|what can i do to resolve this\?|why have i been blocked\?|performance & security by cloudflare)`)

// CompileRegexes pre-compiles the image selection patterns
func CompileRegexes(img ImageConfig) map[string]*regexp.Regexp {
	badHint, err := regexp.Compile("(?i)" + img.BadHintRegex)
	if err != nil {
		badHint = regexp.MustCompile(`(?i)(sprite|icon|logo|pixel)`)
	}

	return map[string]*regexp.Regexp{
		"badHint":           badHint,
		"dimensionsFromUrl": regexp.MustCompile(`(?:^|[^\d])(\d{3,4})x(\d{3,4})(?:[^\d]|$)`),
		"widthFromUrl":      regexp.MustCompile(`[?&](?:w|width)=(\d{3,4})\b`),
		"imageExt":          regexp.MustCompile(`\.(jpe?g|png|gif|webp|avif)(?:$|[?#])`),
	}
}
