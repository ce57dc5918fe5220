package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/klyr/proxyurl/internal/logging"
	"github.com/klyr/proxyurl/internal/report"
	"github.com/klyr/proxyurl/internal/store"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var inputPath string
	var configPath string
	var limit int
	var since string
	var format string
	var outPath string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize extraction logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" && configPath == "" {
				return errors.New("either --in or --config is required")
			}

			reader := report.Reader{}
			if since != "" {
				dur, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid since duration: %w", err)
				}
				reader.Since = time.Now().Add(-dur)
			}

			var records []logging.Record
			var err error
			if inputPath != "" {
				records, err = reader.Read(inputPath)
			} else {
				records, err = readStore(cmd, configPath, limit, reader.Since)
			}
			if err != nil {
				return err
			}

			summary := report.Summarize(records)
			switch format {
			case "", "text":
				return report.WriteOutput(outPath, []byte(report.RenderText(summary)))
			case "md":
				return report.WriteOutput(outPath, []byte(report.RenderMarkdown(summary)))
			case "json":
				data, err := report.RenderJSON(summary)
				if err != nil {
					return err
				}
				return report.WriteOutput(outPath, data)
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}

	cmd.Flags().StringVar(&inputPath, "in", "", "Path to extraction log JSONL")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Read records from the store configured here instead of --in")
	cmd.Flags().IntVar(&limit, "limit", 1000, "Maximum records read from the store")
	cmd.Flags().StringVar(&since, "since", "", "Only include entries newer than this duration (e.g. 10m)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text|md|json")
	cmd.Flags().StringVar(&outPath, "out", "", "Output file path (default stdout)")

	return cmd
}

func readStore(cmd *cobra.Command, configPath string, limit int, since time.Time) ([]logging.Record, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if !cfg.Store.Enabled {
		return nil, errors.New("store is not enabled in config")
	}

	st, err := store.Open(cmd.Context(), cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.Close() }()

	records, err := st.Recent(cmd.Context(), limit)
	if err != nil {
		return nil, err
	}
	if since.IsZero() {
		return records, nil
	}
	kept := records[:0]
	for _, r := range records {
		if !r.Timestamp.Before(since) {
			kept = append(kept, r)
		}
	}
	return kept, nil
}
