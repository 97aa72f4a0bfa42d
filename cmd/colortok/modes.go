package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/colortok/internal/registry"
)

func newModesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modes",
		Short: "List tokenizer modes under the tokenizers directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			modes, err := registry.New(cfg.Paths.TokenizersDir).ListModes()
			if err != nil {
				return err
			}
			if len(modes) == 0 {
				_, err = fmt.Fprintf(cmd.ErrOrStderr(), "no modes found in %s\n", cfg.Paths.TokenizersDir)
				return err
			}

			out := cmd.OutOrStdout()
			for _, m := range modes {
				if _, err := fmt.Fprintln(out, m); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
