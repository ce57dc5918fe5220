package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/klyr/proxyurl/internal/config"
	"github.com/klyr/proxyurl/internal/extract"
	"github.com/klyr/proxyurl/internal/inspect"
	"github.com/klyr/proxyurl/internal/logging"
	"github.com/klyr/proxyurl/internal/normalize"
	"github.com/klyr/proxyurl/internal/observability"
	"github.com/klyr/proxyurl/internal/rules"
)

type memorySink struct {
	mu      sync.Mutex
	records []logging.Record
}

func (m *memorySink) Save(ctx context.Context, record logging.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

// blockingSink holds every save until its context ends.
type blockingSink struct {
	mu    sync.Mutex
	calls int
}

func (b *blockingSink) Save(ctx context.Context, record logging.Record) error {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func sampleConfig() *config.Config {
	return &config.Config{
		ConfigVersion: 1,
		Server: config.ServerConfig{
			Listen:       config.DefaultListen,
			MaxBodyBytes: 1024,
		},
	}
}

func newServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	gateways, err := rules.NewGatewayMatcher([]string{"fanyi.baidu.com", "microsofttranslator.com"}, true)
	if err != nil {
		t.Fatalf("gateway matcher: %v", err)
	}
	inspector := &inspect.Inspector{
		Extractor:   extract.NewExtractor(extract.NewKeySet("a", "u", "url", "query")),
		Gateways:    gateways,
		MaxURLBytes: 512,
		Normalize:   normalize.DefaultOptions(),
	}
	srv, err := New(cfg, inspector)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return srv
}

func TestExtractGet(t *testing.T) {
	srv := newServer(t, sampleConfig())
	var logBuf bytes.Buffer
	srv.SetRecordLogger(logging.NewRecordLogger(&logBuf))

	target := "http://fanyi.baidu.com/transpage?query=http%3A%2F%2Fwww.so.com&from=en"
	req := httptest.NewRequest(http.MethodGet, "http://proxyurl/v1/extract?decode=true&url="+url.QueryEscape(target), nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res inspect.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Key != "query" || res.Target != "http%3A%2F%2Fwww.so.com" || !res.Matched {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Normalized != "http://www.so.com" {
		t.Fatalf("expected normalized target, got %q", res.Normalized)
	}
	if res.Gateway != "fanyi.baidu.com" {
		t.Fatalf("expected gateway, got %q", res.Gateway)
	}

	var record logging.Record
	if err := json.Unmarshal(bytes.TrimSpace(logBuf.Bytes()), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.Source != "api" || record.RequestID == "" || record.ClientIP != "192.0.2.1" {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestExtractGetRequiresURL(t *testing.T) {
	srv := newServer(t, sampleConfig())
	req := httptest.NewRequest(http.MethodGet, "http://proxyurl/v1/extract", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestExtractPostBatch(t *testing.T) {
	srv := newServer(t, sampleConfig())
	sink := &memorySink{}
	srv.SetSink(sink)

	body := `{"urls":[
		"http://www.microsofttranslator.com/bv.aspx?from=&to=zh-chs&a=http://hnujug.com/",
		"http://fanyi.baidu.com/transpage?from=en",
		"http://example.com/page?u=http://x.com/"
	]}`
	req := httptest.NewRequest(http.MethodPost, "http://proxyurl/v1/extract", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp extractResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RequestID == "" || len(resp.Results) != 3 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Results[0].Target != "http://hnujug.com/" {
		t.Fatalf("expected first target, got %q", resp.Results[0].Target)
	}
	if resp.Results[1].Matched {
		t.Fatalf("expected second url unmatched")
	}
	if !resp.Results[2].Skipped || resp.Results[2].Target != "" {
		t.Fatalf("expected non-gateway url skipped, got %+v", resp.Results[2])
	}
	if len(sink.records) != 3 {
		t.Fatalf("expected 3 records in sink, got %d", len(sink.records))
	}
	for _, r := range sink.records {
		if r.RequestID != resp.RequestID {
			t.Fatalf("expected shared request id, got %q", r.RequestID)
		}
	}
}

func TestExtractPostRejectsBadBodies(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{"urls":`, http.StatusBadRequest},
		{"unknown field", `{"urls":["http://t/?u=x"],"extra":1}`, http.StatusBadRequest},
		{"empty urls", `{"urls":[]}`, http.StatusBadRequest},
		{"too large", `{"urls":["` + strings.Repeat("a", 2048) + `"]}`, http.StatusRequestEntityTooLarge},
	}

	srv := newServer(t, sampleConfig())
	for _, tt := range cases {
		req := httptest.NewRequest(http.MethodPost, "http://proxyurl/v1/extract", strings.NewReader(tt.body))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Fatalf("%s: expected %d, got %d", tt.name, tt.want, rec.Code)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newServer(t, sampleConfig())
	for _, path := range []string{"/v1/extract", "/v1/keys"} {
		req := httptest.NewRequest(http.MethodDelete, "http://proxyurl"+path, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected 405, got %d", path, rec.Code)
		}
	}
}

func TestKeysEndpoint(t *testing.T) {
	srv := newServer(t, sampleConfig())
	req := httptest.NewRequest(http.MethodGet, "http://proxyurl/v1/keys", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var body map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if strings.Join(body["keys"], ",") != "a,query,u,url" {
		t.Fatalf("unexpected keys %v", body["keys"])
	}
	if len(body["gateways"]) != 2 {
		t.Fatalf("unexpected gateways %v", body["gateways"])
	}
}

func TestRateLimit(t *testing.T) {
	cfg := sampleConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, Key: "ip", RPS: 0.001, Burst: 1}
	srv := newServer(t, cfg)

	send := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, "http://proxyurl"+path, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("/v1/keys"); code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", code)
	}
	if code := send("/v1/keys"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := send("/healthz"); code != http.StatusOK {
		t.Fatalf("expected health check exempt, got %d", code)
	}
}

func TestRequestMetrics(t *testing.T) {
	srv := newServer(t, sampleConfig())
	reg := prometheus.NewRegistry()
	srv.SetMetrics(observability.NewMetrics(reg))

	req := httptest.NewRequest(http.MethodGet, "http://proxyurl/v1/extract?url="+url.QueryEscape("http://fanyi.baidu.com/x?u=y.com"), nil)
	srv.ServeHTTP(httptest.NewRecorder(), req)
	req = httptest.NewRequest(http.MethodGet, "http://proxyurl/nope", nil)
	srv.ServeHTTP(httptest.NewRecorder(), req)

	count, err := testutil.GatherAndCount(reg, "proxyurl_requests_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 request series, got %d", count)
	}
	count, err = testutil.GatherAndCount(reg, "proxyurl_extractions_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 extraction series, got %d", count)
	}
}

func TestNewRequiresInspector(t *testing.T) {
	if _, err := New(sampleConfig(), nil); err == nil {
		t.Fatal("expected error without inspector")
	}
	if _, err := New(nil, &inspect.Inspector{}); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestExtractPostBatchLimit(t *testing.T) {
	cfg := sampleConfig()
	cfg.Server.MaxBodyBytes = 1 << 20
	srv := newServer(t, cfg)

	urls := make([]string, maxBatchURLs+1)
	for i := range urls {
		urls[i] = "http://t/?u=x"
	}
	body, err := json.Marshal(extractRequest{URLs: urls})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "http://proxyurl/v1/extract", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "at most 1000 urls") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestExtractPostOversizedURL(t *testing.T) {
	srv := newServer(t, sampleConfig())

	long := "http://fanyi.baidu.com/transpage?url=http://" + strings.Repeat("a", 600) + ".com"
	body, err := json.Marshal(extractRequest{URLs: []string{long, "http://fanyi.baidu.com/transpage?url=so.com"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "http://proxyurl/v1/extract", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp extractResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	first := resp.Results[0]
	if !first.Skipped || first.Matched || first.Error != inspect.ErrURLTooLong || first.Target != "" {
		t.Fatalf("expected oversized url skipped, got %+v", first)
	}
	if len(first.URL) != 512 {
		t.Fatalf("expected url truncated to 512 bytes, got %d", len(first.URL))
	}
	if resp.Results[1].Target != "so.com" {
		t.Fatalf("expected second url extracted, got %+v", resp.Results[1])
	}
}

func TestExtractStopsAtRequestTimeout(t *testing.T) {
	cfg := sampleConfig()
	cfg.Server.Timeout = 50 * time.Millisecond
	srv := newServer(t, cfg)
	sink := &blockingSink{}
	srv.SetSink(sink)
	reg := prometheus.NewRegistry()
	srv.SetMetrics(observability.NewMetrics(reg))

	body := `{"urls":["http://fanyi.baidu.com/x?u=a.com","http://fanyi.baidu.com/x?u=b.com","http://fanyi.baidu.com/x?u=c.com"]}`
	req := httptest.NewRequest(http.MethodPost, "http://proxyurl/v1/extract", strings.NewReader(body))
	rec := httptest.NewRecorder()

	start := time.Now()
	srv.ServeHTTP(rec, req)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected handler to return at the request deadline, took %v", elapsed)
	}

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if sink.calls != 1 {
		t.Fatalf("expected sink writes to stop after the deadline, got %d calls", sink.calls)
	}

	expected := `
# HELP proxyurl_requests_total Total API requests
# TYPE proxyurl_requests_total counter
proxyurl_requests_total{code="503",endpoint="/v1/extract"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "proxyurl_requests_total"); err != nil {
		t.Fatalf("unexpected request metrics: %v", err)
	}
}
