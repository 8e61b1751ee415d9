// CLAUDE:SUMMARY Service configuration: YAML file loading, environment overrides for secrets, defaults, and seed source declarations.
package crawl

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hazyhaar/boothcrawl/crawl/internal/coordinator"
	"github.com/hazyhaar/boothcrawl/crawl/internal/dedup"
	"github.com/hazyhaar/boothcrawl/crawl/internal/scheduler"
	"gopkg.in/yaml.v3"
)

// Config configures the crawl service.
type Config struct {
	// DBPath is the SQLite database file. Default: "data/boothcrawl.db".
	DBPath string `yaml:"db_path"`

	Fetch       FetchConfig        `yaml:"fetch"`
	LLM         LLMConfig          `yaml:"llm"`
	Dedup       dedup.Config       `yaml:"dedup"`
	Coordinator coordinator.Config `yaml:"coordinator"`
	Scheduler   scheduler.Config   `yaml:"scheduler"`
	HTTP        HTTPConfig         `yaml:"http"`

	// Sources are upserted into the registry at startup.
	Sources []SourceConfig `yaml:"sources"`
}

// FetchConfig configures the content fetchers.
type FetchConfig struct {
	// ScrapeEndpoint is the scrape service base URL. Empty disables the
	// scrape and crawl modes; runs using them abort as misconfigured.
	ScrapeEndpoint string `yaml:"scrape_endpoint"`
	ScrapeAPIKey   string `yaml:"scrape_api_key"`
	// Timeout bounds one scrape call or direct request. Default: 60s.
	Timeout time.Duration `yaml:"timeout"`
	// PollInterval is the crawl job polling interval. Default: 2s.
	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxBytes caps a response body. Default: 20MB.
	MaxBytes  int64  `yaml:"max_bytes"`
	UserAgent string `yaml:"user_agent"`
	// PageLimit applies to sources without their own. Default: 20.
	PageLimit int `yaml:"page_limit"`
	// BrowserURL is the DevTools WebSocket URL of a remote Chrome for the
	// browser mode. Empty launches a local Chrome on first use.
	BrowserURL string `yaml:"browser_url"`
	// BrowserTimeout bounds navigation of one page. Default: 30s.
	BrowserTimeout time.Duration `yaml:"browser_timeout"`
}

// LLMConfig configures the extraction model.
type LLMConfig struct {
	// Provider is "anthropic" or "gemini". Default: "anthropic".
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	// MaxInputChars bounds the content embedded in one prompt. Default: 60000.
	MaxInputChars int `yaml:"max_input_chars"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	// Addr is the listen address. Default: ":8090".
	Addr string `yaml:"addr"`
}

// SourceConfig declares one seeded source.
type SourceConfig struct {
	ID        string        `yaml:"id"`
	Name      string        `yaml:"name"`
	URLs      []string      `yaml:"urls"`
	Strategy  string        `yaml:"strategy"`
	FetchMode string        `yaml:"fetch_mode"`
	Priority  int           `yaml:"priority"`
	Cadence   time.Duration `yaml:"cadence"`
	PageLimit int           `yaml:"page_limit"`
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "data/boothcrawl.db"
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 60 * time.Second
	}
	if c.Fetch.PollInterval <= 0 {
		c.Fetch.PollInterval = 2 * time.Second
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 20 * 1024 * 1024
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "boothcrawl/1.0"
	}
	if c.Fetch.PageLimit <= 0 {
		c.Fetch.PageLimit = 20
	}
	if c.Fetch.BrowserTimeout <= 0 {
		c.Fetch.BrowserTimeout = 30 * time.Second
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "anthropic"
	}
	if c.LLM.MaxInputChars <= 0 {
		c.LLM.MaxInputChars = 60000
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8090"
	}
}

// applyEnv overrides secrets and the database path from the environment.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("BOOTHCRAWL_DB"); v != "" {
		c.DBPath = v
	}
	if v := getenv("SCRAPE_ENDPOINT"); v != "" {
		c.Fetch.ScrapeEndpoint = v
	}
	if v := getenv("SCRAPE_API_KEY"); v != "" {
		c.Fetch.ScrapeAPIKey = v
	}
	var key string
	switch c.LLM.Provider {
	case "gemini":
		key = getenv("GEMINI_API_KEY")
	default:
		key = getenv("ANTHROPIC_API_KEY")
	}
	if key != "" {
		c.LLM.APIKey = key
	}
}

// DefaultConfig returns the configuration used when no file is given,
// with environment overrides applied.
func DefaultConfig() *Config {
	c := &Config{}
	c.applyEnv(os.Getenv)
	c.defaults()
	return c
}

// LoadConfigFile reads a YAML configuration file and applies environment
// overrides and defaults. Unknown keys are an error.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crawl: read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("crawl: config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML configuration and applies environment overrides
// and defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.applyEnv(os.Getenv)
	cfg.defaults()
	return cfg, nil
}
