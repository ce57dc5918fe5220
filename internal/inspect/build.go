package inspect

import (
	"errors"

	"github.com/klyr/proxyurl/internal/config"
	"github.com/klyr/proxyurl/internal/extract"
	"github.com/klyr/proxyurl/internal/normalize"
	"github.com/klyr/proxyurl/internal/rules"
)

// FromConfig builds an Inspector from the extract and gateways sections.
func FromConfig(cfg *config.Config) (*Inspector, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	keys, err := cfg.CandidateKeys()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, errors.New("no candidate keys configured")
	}

	patterns, err := cfg.GatewayPatterns()
	if err != nil {
		return nil, err
	}
	var gateways *rules.GatewayMatcher
	if len(patterns) > 0 {
		gateways, err = rules.NewGatewayMatcher(patterns, cfg.Gateways.CaseInsensitive)
		if err != nil {
			return nil, err
		}
	}

	return &Inspector{
		Extractor:   extract.NewExtractor(extract.NewKeySet(keys...)),
		Gateways:    gateways,
		MaxURLBytes: cfg.MaxURLBytes(),
		Normalize:   normalize.DefaultOptions(),
	}, nil
}
