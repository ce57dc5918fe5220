package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/klyr/proxyurl/internal/logging"
	"github.com/klyr/proxyurl/internal/normalize"
)

const topN = 5

type Summary struct {
	Total       int            `json:"total"`
	Matched     int            `json:"matched"`
	Unmatched   int            `json:"unmatched"`
	Skipped     int            `json:"skipped"`
	Errors      int            `json:"errors"`
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	TopKeys     []CountItem    `json:"top_keys"`
	TopGateways []CountItem    `json:"top_gateways"`
	TopDomains  []CountItem    `json:"top_domains"`
	Latency     LatencySummary `json:"latency_us"`
}

type CountItem struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type LatencySummary struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type Reader struct {
	Since time.Time
}

func (r *Reader) Read(path string) ([]logging.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return r.ReadRecords(file)
}

// ReadRecords parses one JSON record per line, dropping records older than Since.
func (r *Reader) ReadRecords(in io.Reader) ([]logging.Record, error) {
	var records []logging.Record
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec logging.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if !r.Since.IsZero() && rec.Timestamp.Before(r.Since) {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func Summarize(records []logging.Record) Summary {
	var summary Summary
	if len(records) == 0 {
		return summary
	}

	summary.Start = records[0].Timestamp
	summary.End = records[0].Timestamp

	keyCounts := map[string]int{}
	gatewayCounts := map[string]int{}
	domainCounts := map[string]int{}
	latencies := make([]int64, 0, len(records))

	for _, r := range records {
		summary.Total++
		if r.Timestamp.Before(summary.Start) {
			summary.Start = r.Timestamp
		}
		if r.Timestamp.After(summary.End) {
			summary.End = r.Timestamp
		}

		switch {
		case r.Error != "":
			summary.Errors++
		case r.Skipped:
			summary.Skipped++
		case r.Matched:
			summary.Matched++
		default:
			summary.Unmatched++
		}

		if r.Gateway != "" {
			gatewayCounts[r.Gateway]++
		}
		if r.Matched {
			keyCounts[r.Key]++
			if domain := TargetDomain(r.Target); domain != "" {
				domainCounts[domain]++
			}
		}

		latencies = append(latencies, r.DurationUS)
	}

	summary.TopKeys = topCounts(keyCounts, topN)
	summary.TopGateways = topCounts(gatewayCounts, topN)
	summary.TopDomains = topCounts(domainCounts, topN)
	summary.Latency = latencySummary(latencies)

	return summary
}

// TargetDomain reduces an extracted target to its registrable domain. Targets
// are often percent-encoded or scheme-less ("is.gd/td03XF"), so the value is
// normalized first and the host cut out by hand. If the host has no known
// public suffix, or is an IP, the host itself is used.
func TargetDomain(target string) string {
	host := targetHost(normalize.Apply(target, normalize.DefaultOptions()).Normalized)
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

func targetHost(target string) string {
	host := target
	if i := strings.Index(host, "://"); i >= 0 && !strings.ContainsAny(host[:i], "/?#") {
		host = host[i+3:]
	} else {
		host = strings.TrimPrefix(host, "//")
	}
	if end := strings.IndexAny(host, "/?#"); end >= 0 {
		host = host[:end]
	}
	if at := strings.LastIndexByte(host, '@'); at >= 0 {
		host = host[at+1:]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if strings.ContainsAny(host, " %") {
		return ""
	}
	return host
}

func topCounts(counts map[string]int, n int) []CountItem {
	items := make([]CountItem, 0, len(counts))
	for key, count := range counts {
		items = append(items, CountItem{Key: key, Count: count})
	}
	if len(items) == 0 {
		return nil
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Count == items[j].Count {
			return items[i].Key < items[j].Key
		}
		return items[i].Count > items[j].Count
	})

	if len(items) > n {
		items = items[:n]
	}
	return items
}

func latencySummary(values []int64) LatencySummary {
	if len(values) == 0 {
		return LatencySummary{}
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencySummary{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
}

func percentile(values []int64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	idx := int(float64(len(values)-1) * p)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return float64(values[idx])
}

func RenderText(summary Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Inspected: %d\n", summary.Total)
	fmt.Fprintf(&b, "Matched: %d\n", summary.Matched)
	fmt.Fprintf(&b, "Unmatched: %d\n", summary.Unmatched)
	fmt.Fprintf(&b, "Skipped: %d\n", summary.Skipped)
	fmt.Fprintf(&b, "Errors: %d\n", summary.Errors)
	fmt.Fprintf(&b, "Latency p50/p95/p99 (us): %.0f/%.0f/%.0f\n", summary.Latency.P50, summary.Latency.P95, summary.Latency.P99)

	writeCounts(&b, "Top keys", summary.TopKeys)
	writeCounts(&b, "Top gateways", summary.TopGateways)
	writeCounts(&b, "Top target domains", summary.TopDomains)

	return b.String()
}

func RenderMarkdown(summary Summary) string {
	var b strings.Builder
	b.WriteString("# Proxy URL Report\n\n")
	b.WriteString("## Totals\n\n")
	fmt.Fprintf(&b, "- Inspected: %d\n", summary.Total)
	fmt.Fprintf(&b, "- Matched: %d\n", summary.Matched)
	fmt.Fprintf(&b, "- Unmatched: %d\n", summary.Unmatched)
	fmt.Fprintf(&b, "- Skipped: %d\n", summary.Skipped)
	fmt.Fprintf(&b, "- Errors: %d\n", summary.Errors)
	fmt.Fprintf(&b, "- Latency p50/p95/p99 (us): %.0f/%.0f/%.0f\n\n", summary.Latency.P50, summary.Latency.P95, summary.Latency.P99)

	writeCountsMarkdown(&b, "Top keys", summary.TopKeys)
	writeCountsMarkdown(&b, "Top gateways", summary.TopGateways)
	writeCountsMarkdown(&b, "Top target domains", summary.TopDomains)

	return b.String()
}

func RenderJSON(summary Summary) ([]byte, error) {
	return json.MarshalIndent(summary, "", "  ")
}

func writeCounts(b *strings.Builder, title string, items []CountItem) {
	if len(items) == 0 {
		fmt.Fprintf(b, "%s: none\n", title)
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
}

func writeCountsMarkdown(b *strings.Builder, title string, items []CountItem) {
	b.WriteString("## ")
	b.WriteString(title)
	b.WriteString("\n\n")
	if len(items) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
	b.WriteString("\n")
}

func WriteOutput(path string, content []byte) error {
	if path == "" {
		_, err := io.Copy(os.Stdout, bytes.NewReader(content))
		return err
	}
	return os.WriteFile(path, content, 0o600)
}
