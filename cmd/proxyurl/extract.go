package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/klyr/proxyurl/internal/config"
	"github.com/klyr/proxyurl/internal/inspect"
	"github.com/klyr/proxyurl/internal/logging"
	"github.com/spf13/cobra"
)

type extractOptions struct {
	configPath   string
	keys         string
	keysFile     string
	gatewaysFile string
	decode       bool
	jsonOutput   bool
	all          bool
}

func newExtractCmd() *cobra.Command {
	var opts extractOptions

	cmd := &cobra.Command{
		Use:   "extract [URL...]",
		Short: "Print the target URL carried by each gateway URL",
		Long: "Reads URLs from the arguments, or one per line from stdin when none are given,\n" +
			"and prints the value of the first candidate query parameter of each.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := extractConfig(opts)
			if err != nil {
				return err
			}
			inspector, err := inspect.FromConfig(cfg)
			if err != nil {
				return err
			}

			var records *logging.RecordLogger
			if cfg.Logging.ExtractionLog != "" {
				logger, closer, err := logging.OpenRecordLog(cfg.ResolvePath(cfg.Logging.ExtractionLog), logging.RotateOptions{
					MaxSizeMB:  cfg.Logging.MaxSizeMB,
					MaxBackups: cfg.Logging.MaxBackups,
				})
				if err != nil {
					return err
				}
				defer func() { _ = closer() }()
				records = logger
			}

			run := &extractRun{
				inspector: inspector,
				records:   records,
				out:       cmd.OutOrStdout(),
				opts:      opts,
			}
			if len(args) > 0 {
				for _, raw := range args {
					if err := run.one(raw); err != nil {
						return err
					}
				}
				return nil
			}
			return run.stream(cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&opts.keys, "keys", "k", "", "Comma separated candidate keys")
	cmd.Flags().StringVar(&opts.keysFile, "keys-file", "", "File with one candidate key per line")
	cmd.Flags().StringVar(&opts.gatewaysFile, "gateways-file", "", "File with gateway host patterns; other URLs are skipped")
	cmd.Flags().BoolVar(&opts.decode, "decode", false, "Print the decoded, normalized target instead of the raw value")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print one JSON result per URL")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Also print a line for URLs without a target")

	return cmd
}

// extractConfig loads the config file when given and layers the flags on
// top. Without a config file the flags alone must name at least one key.
func extractConfig(opts extractOptions) (*config.Config, error) {
	var cfg *config.Config
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		parsed, err := config.Parse(nil)
		if err != nil {
			return nil, err
		}
		parsed.ConfigVersion = 1
		cfg = parsed
	}

	if opts.keys != "" {
		for _, k := range strings.Split(opts.keys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				cfg.Extract.Keys = append(cfg.Extract.Keys, k)
			}
		}
	}
	if opts.keysFile != "" {
		cfg.Extract.KeysFile = absFromCwd(opts.keysFile)
	}
	if opts.gatewaysFile != "" {
		cfg.Gateways.PatternsFile = absFromCwd(opts.gatewaysFile)
		cfg.Gateways.CaseInsensitive = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// absFromCwd keeps flag paths relative to the working directory rather than
// to the config file.
func absFromCwd(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

type extractRun struct {
	inspector *inspect.Inspector
	records   *logging.RecordLogger
	out       io.Writer
	opts      extractOptions
}

func (r *extractRun) stream(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if err := r.one(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (r *extractRun) one(raw string) error {
	res := r.inspector.Inspect(raw, r.opts.decode)
	if err := r.records.Write(res.Record("cli", time.Now())); err != nil {
		return err
	}

	if r.opts.jsonOutput {
		data, err := json.Marshal(res)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(r.out, string(data))
		return err
	}

	if !res.Matched {
		if !r.opts.all {
			return nil
		}
		_, err := fmt.Fprintln(r.out)
		return err
	}
	target := res.Target
	if r.opts.decode {
		target = res.Normalized
	}
	_, err := fmt.Fprintln(r.out, target)
	return err
}
