package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/example/colortok/internal/artifact"
	"github.com/example/colortok/internal/registry"
)

func newTokenizerVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [MODE...]",
		Short: "Check tokenizer checksums and load each mode (default: every mode)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			modes := args
			if len(modes) == 0 {
				modes, err = registry.New(cfg.Paths.TokenizersDir).ListModes()
				if err != nil {
					return err
				}
				if len(modes) == 0 {
					return fmt.Errorf("no modes found in %s", cfg.Paths.TokenizersDir)
				}
			}

			out := cmd.OutOrStdout()
			var failed []string
			for _, m := range modes {
				_, _ = fmt.Fprintf(out, "== %s\n", m)
				if err := artifact.Verify(filepath.Join(cfg.Paths.TokenizersDir, m), out); err != nil {
					failed = append(failed, m)
				}
			}
			if len(failed) > 0 {
				return errors.New("tokenizer verify failed for: " + fmt.Sprint(failed))
			}

			return nil
		},
	}

	return cmd
}
