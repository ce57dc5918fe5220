package config

import (
	"fmt"
	"time"

	"github.com/klyr/proxyurl/internal/rules"
)

type Config struct {
	ConfigVersion int             `yaml:"configVersion"`
	Extract       ExtractConfig   `yaml:"extract"`
	Gateways      GatewayConfig   `yaml:"gateways"`
	Server        ServerConfig    `yaml:"server"`
	RateLimit     RateLimitConfig `yaml:"rateLimit"`
	Logging       LoggingConfig   `yaml:"logging"`
	Metrics       MetricsConfig   `yaml:"metrics"`
	Store         StoreConfig     `yaml:"store"`

	baseDir string `yaml:"-"`
}

type ExtractConfig struct {
	Keys        []string `yaml:"keys"`
	KeysFile    string   `yaml:"keysFile"`
	MaxURLBytes int      `yaml:"maxURLBytes"`
}

type GatewayConfig struct {
	Patterns        []string `yaml:"patterns"`
	PatternsFile    string   `yaml:"patternsFile"`
	CaseInsensitive bool     `yaml:"caseInsensitive"`
}

type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	MaxBodyBytes int64         `yaml:"maxBodyBytes"`
	Timeout      time.Duration `yaml:"timeout"`
	TLS          TLSConfig     `yaml:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

type RateLimitConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Key        string  `yaml:"key"`
	RPS        float64 `yaml:"rps"`
	Burst      int     `yaml:"burst"`
	StatusCode int     `yaml:"statusCode"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	ExtractionLog string `yaml:"extractionLog"`
	MaxSizeMB     int    `yaml:"maxSizeMB"`
	MaxBackups    int    `yaml:"maxBackups"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

const (
	DefaultListen       = "127.0.0.1:8089"
	DefaultMaxURLBytes  = 8192
	DefaultMaxBodyBytes = 1 << 20
	DefaultTimeout      = 5 * time.Second
)

func (c *Config) ResolvePath(path string) string {
	return c.resolvePath(path)
}

// MaxURLBytes returns the per-URL size limit, falling back to the default.
func (c *Config) MaxURLBytes() int {
	if c.Extract.MaxURLBytes > 0 {
		return c.Extract.MaxURLBytes
	}
	return DefaultMaxURLBytes
}

// CandidateKeys merges the inline keys with those of the keys file,
// inline keys first.
func (c *Config) CandidateKeys() ([]string, error) {
	keys := append([]string(nil), c.Extract.Keys...)
	if c.Extract.KeysFile != "" {
		fromFile, err := rules.LoadKeys(c.resolvePath(c.Extract.KeysFile))
		if err != nil {
			return nil, fmt.Errorf("load keys: %w", err)
		}
		keys = append(keys, fromFile...)
	}
	return keys, nil
}

// GatewayPatterns merges the inline gateway patterns with the patterns file.
func (c *Config) GatewayPatterns() ([]string, error) {
	patterns := append([]string(nil), c.Gateways.Patterns...)
	if c.Gateways.PatternsFile != "" {
		fromFile, err := rules.LoadPatterns(c.resolvePath(c.Gateways.PatternsFile))
		if err != nil {
			return nil, fmt.Errorf("load gateway patterns: %w", err)
		}
		patterns = append(patterns, fromFile...)
	}
	return patterns, nil
}
