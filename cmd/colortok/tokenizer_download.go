package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/colortok/internal/artifact"
)

func newTokenizerDownloadCmd() *cobra.Command {
	var (
		preset   string
		repo     string
		revision string
		mode     string
		files    []string
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download tokenizer files from the Hugging Face hub into the tokenizers directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if preset == "" && repo == "" {
				return fmt.Errorf("one of --preset or --repo is required (presets: %s)",
					strings.Join(artifact.PresetNames(), ", "))
			}

			opts := artifact.DownloadOptions{
				Preset:   preset,
				Repo:     repo,
				Revision: revision,
				Mode:     mode,
				BaseDir:  cfg.Paths.TokenizersDir,
				HFToken:  cfg.Hub.Token,
				Endpoint: cfg.Hub.Endpoint,
				Stdout:   cmd.OutOrStdout(),
			}
			for _, f := range files {
				opts.Files = append(opts.Files, artifact.File{Filename: f})
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err = artifact.Download(ctx, opts)
			var denied *artifact.AccessDeniedError
			if errors.As(err, &denied) && cfg.Hub.Token == "" {
				return fmt.Errorf("tokenizer download failed: %w (set --hub-token or HF_TOKEN)", err)
			}
			if err != nil {
				return fmt.Errorf("tokenizer download failed: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "", "Known tokenizer preset ("+strings.Join(artifact.PresetNames(), "|")+")")
	cmd.Flags().StringVar(&repo, "repo", "", "Hugging Face repository (overrides the preset repo)")
	cmd.Flags().StringVar(&revision, "revision", "", "Repository revision (default: main)")
	cmd.Flags().StringVar(&mode, "mode", "", "Mode directory name (default: preset mode or repo base name)")
	cmd.Flags().StringSliceVar(&files, "file", nil, "Repository file to fetch (repeatable, default: tokenizer.json)")

	return cmd
}
