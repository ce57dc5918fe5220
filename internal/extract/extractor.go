package extract

import (
	"errors"
	"fmt"

	"github.com/klyr/proxyurl/internal/rules"
)

// Extractor binds a fixed KeySet to Extract. It is never modified after
// construction and may be shared between goroutines.
type Extractor struct {
	keys KeySet
}

func NewExtractor(keys KeySet) *Extractor {
	own := make(KeySet, len(keys))
	for key := range keys {
		own[key] = struct{}{}
	}
	return &Extractor{keys: own}
}

// Load builds an Extractor from a rule file with one key per line.
func Load(path string) (*Extractor, error) {
	keys, err := rules.LoadKeys(path)
	if err != nil {
		return nil, fmt.Errorf("load keys: %w", err)
	}
	set := NewKeySet(keys...)
	if set.Len() == 0 {
		return nil, errors.New("rule file has no keys")
	}
	return &Extractor{keys: set}, nil
}

func (e *Extractor) Extract(rawURL string) string {
	if e == nil {
		return ""
	}
	return Extract(e.keys, rawURL)
}

func (e *Extractor) Find(rawURL string) (Match, bool) {
	if e == nil {
		return Match{}, false
	}
	return Find(e.keys, rawURL)
}

func (e *Extractor) Keys() []string {
	if e == nil {
		return nil
	}
	return e.keys.Keys()
}
