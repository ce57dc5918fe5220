package rules

import (
	"errors"
	"strings"

	ac "github.com/petar-dambovaliev/aho-corasick"

	"github.com/klyr/proxyurl/internal/tokener"
)

// GatewayMatcher recognises carrier URLs served by known translation or
// redirect gateways. Patterns are literals such as host names or path
// fragments and are searched in the part of the URL before the first '?'.
type GatewayMatcher struct {
	ac       ac.AhoCorasick
	patterns []string
}

func NewGatewayMatcher(patterns []string, caseInsensitive bool) (*GatewayMatcher, error) {
	kept := make([]string, 0, len(patterns))
	seen := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key := p
		if caseInsensitive {
			key = strings.ToLower(p)
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return nil, errors.New("no non-empty gateway patterns")
	}

	builder := ac.NewAhoCorasickBuilder(ac.Opts{
		AsciiCaseInsensitive: caseInsensitive,
		MatchKind:            ac.LeftMostLongestMatch,
	})

	return &GatewayMatcher{
		ac:       builder.Build(kept),
		patterns: kept,
	}, nil
}

// Match returns the leftmost-longest gateway pattern found in the carrier
// part of rawURL.
func (m *GatewayMatcher) Match(rawURL string) (string, bool) {
	if m == nil {
		return "", false
	}

	carrier := rawURL
	tk := tokener.New(rawURL)
	if tk.SkipTo('?') != 0 {
		carrier = rawURL[:tk.Pos()]
	}

	matches := m.ac.FindAll(carrier)
	if len(matches) == 0 {
		return "", false
	}
	idx := matches[0].Pattern()
	if idx < 0 || idx >= len(m.patterns) {
		return "", false
	}
	return m.patterns[idx], true
}

// Allows reports whether rawURL should be inspected. A nil matcher allows
// every URL.
func (m *GatewayMatcher) Allows(rawURL string) (string, bool) {
	if m == nil {
		return "", true
	}
	return m.Match(rawURL)
}

func (m *GatewayMatcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}
