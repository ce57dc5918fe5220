package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadResolvesRelativeFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keys.txt", "u\nurl\n")
	writeFile(t, dir, "gateways.txt", "microsofttranslator.com\n")
	path := writeFile(t, dir, "proxyurl.yaml", `
configVersion: 1
extract:
  keys: [a, query]
  keysFile: keys.txt
gateways:
  patternsFile: gateways.txt
  patterns: [fanyi.baidu.com]
  caseInsensitive: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v (%v)", err, problems(err))
	}

	keys, err := cfg.CandidateKeys()
	if err != nil {
		t.Fatalf("CandidateKeys error: %v", err)
	}
	if got := strings.Join(keys, ","); got != "a,query,u,url" {
		t.Fatalf("expected merged keys, got %q", got)
	}

	patterns, err := cfg.GatewayPatterns()
	if err != nil {
		t.Fatalf("GatewayPatterns error: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("expected 2 patterns, got %v", patterns)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("configVersion: 1\nextract:\n  keys: [u]\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Server.Listen != DefaultListen {
		t.Fatalf("expected default listen, got %q", cfg.Server.Listen)
	}
	if cfg.Server.Timeout != 5*time.Second {
		t.Fatalf("expected default timeout, got %s", cfg.Server.Timeout)
	}
	if cfg.MaxURLBytes() != DefaultMaxURLBytes {
		t.Fatalf("expected default max url bytes, got %d", cfg.MaxURLBytes())
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging defaults %+v", cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v (%v)", err, problems(err))
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg, err := Parse([]byte(`
configVersion: 2
extract:
  keys: ["u=1"]
  keysFile: missing.txt
rateLimit:
  enabled: true
  key: header
logging:
  level: verbose
store:
  enabled: true
`))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	err = cfg.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	want := []string{
		"configVersion must be 1",
		`extract.keys[0] "u=1" must not contain '&' or '='`,
		"extract.keysFile invalid",
		"rateLimit.rps must be > 0",
		"rateLimit.burst must be > 0",
		"rateLimit.key must be ip|ip_path",
		"logging.level must be debug|info|warn|error",
		"store.dsn required when store.enabled is true",
	}
	joined := strings.Join(verr.Problems, "\n")
	for _, w := range want {
		if !strings.Contains(joined, w) {
			t.Fatalf("expected problem %q in:\n%s", w, joined)
		}
	}
}

func TestValidateRequiresKeys(t *testing.T) {
	cfg, err := Parse([]byte("configVersion: 1\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error without keys")
	}
}

func problems(err error) []string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Problems
	}
	return nil
}

func TestSampleConfigValidates(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "proxyurl.yaml"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v (%v)", err, problems(err))
	}
	if cfg.Server.Timeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %v", cfg.Server.Timeout)
	}
	patterns, err := cfg.GatewayPatterns()
	if err != nil || len(patterns) == 0 {
		t.Fatalf("expected gateway patterns, got %v (%v)", patterns, err)
	}
}
