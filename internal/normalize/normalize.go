// Package normalize canonicalises an extracted target URL for downstream
// reputation lookups. The extractor never calls it; callers opt in.
package normalize

import (
	"html"
	"strings"

	"github.com/klyr/proxyurl/internal/tokener"
)

const defaultDecodeDepth = 2

type Options struct {
	MaxDecodeDepth int
	LowercaseHost  bool
	HTMLEntity     bool
	NormalizePath  bool
}

type Result struct {
	Raw        string
	Normalized string
	Decodes    int
}

// DefaultOptions is what the API and CLI use for --decode.
func DefaultOptions() Options {
	return Options{
		MaxDecodeDepth: defaultDecodeDepth,
		LowercaseHost:  true,
		HTMLEntity:     true,
		NormalizePath:  true,
	}
}

func Apply(input string, opts Options) Result {
	res := Result{Raw: input, Normalized: input}

	depth := opts.MaxDecodeDepth
	if depth <= 0 {
		depth = defaultDecodeDepth
	}

	decoded := res.Normalized
	for i := 0; i < depth; i++ {
		next, changed := PercentDecode(decoded)
		if !changed {
			break
		}
		decoded = next
		res.Decodes++
	}
	res.Normalized = decoded

	if opts.HTMLEntity {
		res.Normalized = html.UnescapeString(res.Normalized)
	}
	if opts.LowercaseHost || opts.NormalizePath {
		res.Normalized = canonicalURL(res.Normalized, opts)
	}

	return res
}

// PercentDecode replaces every valid %XX escape with its byte. Malformed
// escapes are kept as they are.
func PercentDecode(input string) (string, bool) {
	if strings.IndexByte(input, '%') < 0 {
		return input, false
	}

	var b strings.Builder
	b.Grow(len(input))
	changed := false

	tk := tokener.New(input)
	for !tk.IsEnd() {
		c := tk.Next()
		if c != '%' || tk.ReadableSize() < 2 {
			b.WriteByte(c)
			continue
		}
		hi := tokener.DehexChar(tk.Next())
		lo := tokener.DehexChar(tk.Next())
		if hi < 0 || lo < 0 {
			tk.BackN(2)
			b.WriteByte(c)
			continue
		}
		b.WriteByte(byte(hi<<4 | lo))
		changed = true
	}

	return b.String(), changed
}

func canonicalURL(raw string, opts Options) string {
	schemeEnd := strings.Index(raw, "://")
	if schemeEnd < 0 {
		if opts.LowercaseHost {
			return lowerHost(raw)
		}
		return raw
	}

	scheme := raw[:schemeEnd]
	rest := raw[schemeEnd+3:]

	hostEnd := strings.IndexAny(rest, "/?#")
	if hostEnd < 0 {
		hostEnd = len(rest)
	}
	host := rest[:hostEnd]
	tail := rest[hostEnd:]

	if opts.LowercaseHost {
		scheme = strings.ToLower(scheme)
		host = strings.ToLower(host)
	}
	if opts.NormalizePath && strings.HasPrefix(tail, "/") {
		pathEnd := strings.IndexAny(tail, "?#")
		if pathEnd < 0 {
			pathEnd = len(tail)
		}
		tail = CleanPath(tail[:pathEnd]) + tail[pathEnd:]
	}

	return scheme + "://" + host + tail
}

// lowerHost lowercases a scheme-less "host/path" value up to the first
// path, query or fragment byte.
func lowerHost(raw string) string {
	end := strings.IndexAny(raw, "/?#")
	if end < 0 {
		return strings.ToLower(raw)
	}
	return strings.ToLower(raw[:end]) + raw[end:]
}

// CleanPath resolves "." and ".." segments and collapses repeated slashes,
// keeping a trailing slash.
func CleanPath(path string) string {
	if path == "" {
		return "/"
	}

	trailing := strings.HasSuffix(path, "/") && path != "/"
	stack := make([]string, 0, strings.Count(path, "/")+1)
	for _, part := range strings.Split(path, "/") {
		switch part {
		case "", ".":
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}

	out := "/" + strings.Join(stack, "/")
	if trailing && out != "/" {
		out += "/"
	}
	return out
}
