package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/colortok/internal/bench"
	"github.com/example/colortok/internal/registry"
	"github.com/example/colortok/internal/render"
)

func newBenchCmd() *cobra.Command {
	var (
		text      string
		mode      string
		runs      int
		format    string
		threshold time.Duration
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark render latency for a mode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("--text is required for bench")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			// A fresh registry so the first run includes the tokenizer load.
			svc := render.NewService(registry.New(cfg.Paths.TokenizersDir))

			results, err := bench.Run(cmd.Context(), runs, text, func(s string) (int, error) {
				res, err := svc.Render(s, mode)
				return res.TokenCount, err
			})
			if err != nil {
				return err
			}

			durations := make([]time.Duration, len(results))
			for i, r := range results {
				durations[i] = r.Duration
			}
			stats := bench.ComputeStats(durations)

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				if err := bench.FormatJSON(results, stats, out); err != nil {
					return err
				}
			default:
				bench.FormatTable(results, stats, out)
			}

			return bench.CheckMeanThreshold(bench.WarmStats(results).Mean, threshold)
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to render for each run (required)")
	cmd.Flags().StringVar(&mode, "mode", "", "Tokenizer mode")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of render runs")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().DurationVar(&threshold, "max-mean", 0, "Exit non-zero if the warm mean render time exceeds this value (0 = disabled)")
	_ = cmd.MarkFlagRequired("mode")

	return cmd
}
