// Package extract recovers the target URL hidden in the query string of a
// translation-proxy or redirect-gateway URL.
//
// Values are returned exactly as they appear in the input. Percent decoding
// and any other canonicalisation is left to the caller.
package extract

import (
	"sort"
	"strings"

	"github.com/klyr/proxyurl/internal/tokener"
)

// KeySet holds the query parameter names that may carry a target URL.
// Lookups are exact and case-sensitive.
type KeySet map[string]struct{}

func NewKeySet(keys ...string) KeySet {
	set := make(KeySet, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return set
}

func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

func (s KeySet) Len() int {
	return len(s)
}

// Keys returns the members in sorted order.
func (s KeySet) Keys() []string {
	out := make([]string, 0, len(s))
	for key := range s {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Match is a qualifying query segment. Offset is the index of Value in the
// inspected URL.
type Match struct {
	Key    string
	Value  string
	Offset int
}

// Extract returns the value of the first query segment whose key is in keys
// and whose value is non-empty, or "" if there is none.
func Extract(keys KeySet, rawURL string) string {
	m, _ := Find(keys, rawURL)
	return m.Value
}

// Find locates the first qualifying segment after the first '?' of rawURL.
// Segments are separated by '&' and split on their first '='; a value runs
// to the next '&' or the end of input.
func Find(keys KeySet, rawURL string) (Match, bool) {
	if len(keys) == 0 {
		return Match{}, false
	}

	tk := tokener.New(rawURL)
	if tk.SkipTo('?') == 0 {
		return Match{}, false
	}
	tk.Next()

	seg := tokener.New("")
	for !tk.IsEnd() {
		start := tk.Pos()
		end := tk.Len()
		more := tk.SkipTo('&') != 0
		if more {
			end = tk.Pos()
		}

		if m, ok := matchSegment(keys, rawURL[start:end], seg); ok {
			m.Offset += start
			return m, true
		}

		if !more {
			break
		}
		tk.Next()
	}

	return Match{}, false
}

func matchSegment(keys KeySet, segment string, seg *tokener.Tokener) (Match, bool) {
	if segment == "" {
		return Match{}, false
	}

	seg.Reset(segment)
	if seg.SkipTo('=') == 0 {
		return Match{}, false
	}

	eq := seg.Pos()
	key := segment[:eq]
	value := segment[eq+1:]
	if value == "" || !keys.Has(key) {
		return Match{}, false
	}
	return Match{Key: strings.Clone(key), Value: strings.Clone(value), Offset: eq + 1}, true
}
