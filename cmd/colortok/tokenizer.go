package main

import "github.com/spf13/cobra"

func newTokenizerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokenizer",
		Short: "Tokenizer acquisition and verification commands",
	}

	cmd.AddCommand(newTokenizerDownloadCmd())
	cmd.AddCommand(newTokenizerVerifyCmd())
	return cmd
}
