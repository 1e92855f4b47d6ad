// Package config loads the authortools configuration: defaults, an optional
// YAML file, then AT_* environment overrides. The result is built once at
// startup and never mutated afterwards.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full authortools configuration.
type Config struct {
	Listen         string            `yaml:"listen"`
	UploadDir      string            `yaml:"upload_dir"`
	AllowedDomains []string          `yaml:"allowed_domains"`
	LatestDraftURL string            `yaml:"latest_draft_url"`
	Version        string            `yaml:"version"`
	LogLevel       string            `yaml:"log_level"`
	MaxUploadMB    int               `yaml:"max_upload_mb"`
	FetchTimeout   time.Duration     `yaml:"fetch_timeout"`
	ToolTimeout    time.Duration     `yaml:"tool_timeout"` // 0 = no limit
	Tools          map[string]string `yaml:"tools"`        // tool name -> binary path
	APIKeys        []APIKey          `yaml:"api_keys"`
	AuditDB        string            `yaml:"audit_db"` // empty disables the invocation log
	MCP            bool              `yaml:"mcp"`
	KeepStaged     bool              `yaml:"keep_staged"` // leave staging directories after the response
}

// APIKey is a bcrypt hash of a client key with a label used in logs.
type APIKey struct {
	Label string `yaml:"label"`
	Hash  string `yaml:"hash"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:    ":8080",
		UploadDir: "/tmp/authortools",
		AllowedDomains: []string{
			"ietf.org",
			"www.ietf.org",
			"datatracker.ietf.org",
			"rfc-editor.org",
			"www.rfc-editor.org",
			"github.com",
			"raw.githubusercontent.com",
			"gitlab.com",
		},
		LatestDraftURL: "https://datatracker.ietf.org/api/rfcdiff-latest-json",
		Version:        "dev",
		LogLevel:       "info",
		MaxUploadMB:    20,
		FetchTimeout:   30 * time.Second,
		MCP:            true,
	}
}

// LoadConfig reads and parses a YAML config file merged over DefaultConfig,
// applies environment overrides and validates the result. An empty path
// skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from AT_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("AT_LISTEN", &c.Listen)
	str("AT_UPLOAD_DIR", &c.UploadDir)
	str("AT_LATEST_DRAFT_URL", &c.LatestDraftURL)
	str("AT_VERSION", &c.Version)
	str("AT_LOG_LEVEL", &c.LogLevel)
	str("AT_AUDIT_DB", &c.AuditDB)

	if v, ok := lookup("AT_ALLOWED_DOMAINS"); ok && v != "" {
		c.AllowedDomains = splitList(v)
	}
	if v, ok := lookup("AT_MAX_UPLOAD_MB"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AT_MAX_UPLOAD_MB: %w", err)
		}
		c.MaxUploadMB = n
	}
	for key, dst := range map[string]*time.Duration{
		"AT_FETCH_TIMEOUT": &c.FetchTimeout,
		"AT_TOOL_TIMEOUT":  &c.ToolTimeout,
	} {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	for key, dst := range map[string]*bool{
		"AT_MCP":         &c.MCP,
		"AT_KEEP_STAGED": &c.KeepStaged,
	} {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	// AT_API_KEYS: comma-separated bcrypt hashes, labelled by position.
	if v, ok := lookup("AT_API_KEYS"); ok && v != "" {
		c.APIKeys = nil
		for i, h := range splitList(v) {
			c.APIKeys = append(c.APIKeys, APIKey{Label: "env" + strconv.Itoa(i+1), Hash: h})
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.UploadDir == "" {
		return fmt.Errorf("upload_dir is required")
	}
	if len(c.AllowedDomains) == 0 {
		return fmt.Errorf("allowed_domains must not be empty")
	}
	u, err := url.Parse(c.LatestDraftURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("latest_draft_url must be an absolute http(s) URL")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be > 0")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be > 0")
	}
	if c.ToolTimeout < 0 {
		return fmt.Errorf("tool_timeout must be >= 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q (use debug, info, warn or error)", c.LogLevel)
	}
	for i, k := range c.APIKeys {
		if !strings.HasPrefix(k.Hash, "$2") {
			return fmt.Errorf("api_keys[%d]: hash must be a bcrypt hash", i)
		}
	}
	return nil
}

// MaxUploadBytes returns the upload cap in bytes.
func (c *Config) MaxUploadBytes() int64 { return int64(c.MaxUploadMB) * 1024 * 1024 }

// AuthEnabled reports whether API keys are enforced.
func (c *Config) AuthEnabled() bool { return len(c.APIKeys) > 0 }
