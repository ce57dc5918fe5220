package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"

	"github.com/klyr/proxyurl/internal/rules"
)

type ValidationError struct {
	Problems []string
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("%d validation error(s)", len(v.Problems))
}

func (c *Config) Validate() error {
	v := &ValidationError{}

	if c.ConfigVersion != 1 {
		v.Add("configVersion must be 1")
	}

	for i, key := range c.Extract.Keys {
		if strings.ContainsAny(key, "&=") {
			v.Add("extract.keys[%d] %q must not contain '&' or '='", i, key)
		}
	}
	if c.Extract.KeysFile != "" {
		if err := requireFile(c.resolvePath(c.Extract.KeysFile)); err != nil {
			v.Add("extract.keysFile invalid: %v", err)
		} else if keys, err := rules.LoadKeys(c.resolvePath(c.Extract.KeysFile)); err != nil {
			v.Add("extract.keysFile invalid: %v", err)
		} else if len(keys) == 0 && len(c.Extract.Keys) == 0 {
			v.Add("extract.keysFile has no keys")
		}
	} else if len(c.Extract.Keys) == 0 {
		v.Add("extract.keys or extract.keysFile is required")
	}
	if c.Extract.MaxURLBytes < 0 {
		v.Add("extract.maxURLBytes must be >= 0")
	}

	if c.Gateways.PatternsFile != "" {
		if err := requireFile(c.resolvePath(c.Gateways.PatternsFile)); err != nil {
			v.Add("gateways.patternsFile invalid: %v", err)
		}
	}

	if err := validateListen(c.Server.Listen); err != nil {
		v.Add("server.listen invalid: %v", err)
	}
	if c.Server.MaxBodyBytes < 0 {
		v.Add("server.maxBodyBytes must be > 0")
	}
	if c.Server.Timeout < 0 {
		v.Add("server.timeout must be > 0")
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			v.Add("server.tls.certFile required when tls.enabled is true")
		}
		if c.Server.TLS.KeyFile == "" {
			v.Add("server.tls.keyFile required when tls.enabled is true")
		}
		if c.Server.TLS.CertFile != "" {
			if err := requireFile(c.resolvePath(c.Server.TLS.CertFile)); err != nil {
				v.Add("server.tls.certFile invalid: %v", err)
			}
		}
		if c.Server.TLS.KeyFile != "" {
			if err := requireFile(c.resolvePath(c.Server.TLS.KeyFile)); err != nil {
				v.Add("server.tls.keyFile invalid: %v", err)
			}
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RPS <= 0 {
			v.Add("rateLimit.rps must be > 0")
		}
		if c.RateLimit.Burst <= 0 {
			v.Add("rateLimit.burst must be > 0")
		}
		switch c.RateLimit.Key {
		case "ip", "ip_path":
		default:
			v.Add("rateLimit.key must be ip|ip_path")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		v.Add("logging.level must be debug|info|warn|error")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		v.Add("logging.format must be json|console")
	}
	if c.Logging.MaxSizeMB < 0 {
		v.Add("logging.maxSizeMB must be >= 0")
	}
	if c.Logging.MaxBackups < 0 {
		v.Add("logging.maxBackups must be >= 0")
	}

	if c.Metrics.Enabled {
		if err := validateListen(c.Metrics.Listen); err != nil {
			v.Add("metrics.listen invalid: %v", err)
		}
	}

	if c.Store.Enabled && strings.TrimSpace(c.Store.DSN) == "" {
		v.Add("store.dsn required when store.enabled is true")
	}

	if len(v.Problems) > 0 {
		sort.Strings(v.Problems)
		return v
	}
	return nil
}

func validateListen(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("address is required")
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return err
	}
	return nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}
