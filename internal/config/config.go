// Package config loads the clickguard YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/clickguard/scan"
)

// Config is the top-level configuration.
type Config struct {
	Browser    BrowserConfig    `yaml:"browser"`
	Thresholds scan.Thresholds  `yaml:"thresholds"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Store      StoreConfig      `yaml:"store"`
	Sensor     SensorConfig     `yaml:"sensor"`
	Sinks      []SinkConfig     `yaml:"sinks"`
	API        APIConfig        `yaml:"api"`
	Pages      []PageConfig     `yaml:"pages"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote          string        `yaml:"remote"`
	Mode            string        `yaml:"mode"` // headless | headful
	Width           int           `yaml:"width"`
	Height          int           `yaml:"height"`
	MemoryLimit     int64         `yaml:"memory_limit"`
	RecycleInterval time.Duration `yaml:"recycle_interval"`
	BlockResources  []string      `yaml:"block_resources"`
	XvfbDisplay     string        `yaml:"xvfb_display"`
	EvalTimeout     time.Duration `yaml:"eval_timeout"`
	NavTimeout      time.Duration `yaml:"nav_timeout"`
}

// ClassifierConfig points at the classification service.
type ClassifierConfig struct {
	Endpoint         string        `yaml:"endpoint"`
	Timeout          time.Duration `yaml:"timeout"`
	BreakerThreshold int           `yaml:"breaker_threshold"` // 0 disables the breaker
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

// StoreConfig locates the SQLite database holding the trust list, page
// statuses and the detection journal.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SensorConfig controls pass scheduling.
type SensorConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	ClickDelay   time.Duration `yaml:"click_delay"`
	ClickRate    float64       `yaml:"click_rate"` // click-triggered passes per second
	ClickBurst   int           `yaml:"click_burst"`
}

// SinkConfig defines an alert output.
type SinkConfig struct {
	Type    string `yaml:"type"` // stdout | webhook
	URL     string `yaml:"url"`
	Retries int    `yaml:"retries"`
	// Labels restricts the sink to these predictions (suspicious,
	// clickjacking). Empty takes both.
	Labels []string `yaml:"labels"`
}

// APIConfig controls the HTTP and MCP surfaces.
type APIConfig struct {
	Listen string `yaml:"listen"`
	// MCPQUIC is the UDP address of the MCP-over-QUIC listener. Empty
	// disables it.
	MCPQUIC string `yaml:"mcp_quic"`
	// TLSCert and TLSKey secure the QUIC listener. Without them a
	// self-signed certificate is generated at start.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
	// AllowPrivate lets on-demand scans target loopback and private
	// addresses. Watched pages are never checked.
	AllowPrivate bool `yaml:"allow_private"`
}

// PageConfig is a page to watch.
type PageConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"` // browser | static | auto
}

// LoadFile reads and validates a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used without a file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Browser.Width <= 0 {
		c.Browser.Width = 1366
	}
	if c.Browser.Height <= 0 {
		c.Browser.Height = 768
	}
	if c.Browser.EvalTimeout <= 0 {
		c.Browser.EvalTimeout = 5 * time.Second
	}
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = 30 * time.Second
	}
	c.Thresholds = c.Thresholds.WithDefaults()
	if c.Classifier.Endpoint == "" {
		c.Classifier.Endpoint = "http://localhost:5000/predict"
	}
	if c.Classifier.Timeout <= 0 {
		c.Classifier.Timeout = 10 * time.Second
	}
	if c.Classifier.BreakerReset <= 0 {
		c.Classifier.BreakerReset = 30 * time.Second
	}
	if c.Store.Path == "" {
		c.Store.Path = "clickguard.db"
	}
	if c.Sensor.InitialDelay <= 0 {
		c.Sensor.InitialDelay = 2 * time.Second
	}
	if c.Sensor.ClickDelay <= 0 {
		c.Sensor.ClickDelay = 500 * time.Millisecond
	}
	if c.Sensor.ClickRate <= 0 {
		c.Sensor.ClickRate = 2
	}
	if c.Sensor.ClickBurst <= 0 {
		c.Sensor.ClickBurst = 1
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8087"
	}
	for i := range c.Pages {
		if c.Pages[i].Mode == "" {
			c.Pages[i].Mode = "auto"
		}
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.mode %q: want headless or headful", c.Browser.Mode)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook needs a url", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
		for _, l := range s.Labels {
			if l != "suspicious" && l != "clickjacking" {
				return fmt.Errorf("config: sinks[%d]: label %q: want suspicious or clickjacking", i, l)
			}
		}
	}
	if (c.API.TLSCert == "") != (c.API.TLSKey == "") {
		return fmt.Errorf("config: api.tls_cert and api.tls_key must be set together")
	}
	for i, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: pages[%d]: url is required", i)
		}
		switch p.Mode {
		case "browser", "static", "auto":
		default:
			return fmt.Errorf("config: pages[%d]: mode %q: want browser, static or auto", i, p.Mode)
		}
	}
	return nil
}
