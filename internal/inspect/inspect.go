// Package inspect runs one URL through the gateway filter and the extractor
// and produces the result shared by the CLI and the HTTP API.
package inspect

import (
	"time"

	"github.com/klyr/proxyurl/internal/extract"
	"github.com/klyr/proxyurl/internal/logging"
	"github.com/klyr/proxyurl/internal/normalize"
	"github.com/klyr/proxyurl/internal/rules"
)

const ErrURLTooLong = "url too long"

type Inspector struct {
	Extractor   *extract.Extractor
	Gateways    *rules.GatewayMatcher
	MaxURLBytes int
	Normalize   normalize.Options
}

type Result struct {
	URL        string `json:"url"`
	Gateway    string `json:"gateway,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
	Key        string `json:"key,omitempty"`
	Target     string `json:"target"`
	Matched    bool   `json:"matched"`
	Normalized string `json:"normalized,omitempty"`
	Error      string `json:"error,omitempty"`

	elapsed time.Duration
}

// Inspect extracts the target of rawURL. With decode set, a matched target
// is also canonicalised into Normalized; Target always stays verbatim.
func (i *Inspector) Inspect(rawURL string, decode bool) (res Result) {
	start := time.Now()
	res.URL = rawURL
	defer func() { res.elapsed = time.Since(start) }()

	if i.MaxURLBytes > 0 && len(rawURL) > i.MaxURLBytes {
		res.URL = rawURL[:i.MaxURLBytes]
		res.Skipped = true
		res.Error = ErrURLTooLong
		return res
	}

	gateway, ok := i.Gateways.Allows(rawURL)
	res.Gateway = gateway
	if !ok {
		res.Skipped = true
		return res
	}

	m, ok := i.Extractor.Find(rawURL)
	if !ok {
		return res
	}
	res.Key = m.Key
	res.Target = m.Value
	res.Matched = true

	if decode {
		res.Normalized = normalize.Apply(m.Value, i.Normalize).Normalized
	}
	return res
}

// Record converts a result into an extraction log record.
func (r Result) Record(source string, ts time.Time) logging.Record {
	return logging.Record{
		Timestamp:  ts.UTC(),
		Source:     source,
		URL:        r.URL,
		Gateway:    r.Gateway,
		Skipped:    r.Skipped,
		Key:        r.Key,
		Target:     r.Target,
		Matched:    r.Matched,
		Error:      r.Error,
		DurationUS: r.elapsed.Microseconds(),
	}
}
