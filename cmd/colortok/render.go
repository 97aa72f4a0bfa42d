package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/example/colortok/internal/colorize"
	"github.com/example/colortok/internal/registry"
	"github.com/example/colortok/internal/render"
	"github.com/example/colortok/internal/webui"
)

const (
	formatTerminal = "terminal"
	formatTokens   = "tokens"
	formatHTML     = "html"
	formatJSON     = "json"
)

func newRenderCmd() *cobra.Command {
	var (
		mode   string
		format string
	)

	cmd := &cobra.Command{
		Use:   "render --mode MODE TEXT...",
		Short: "Tokenize text and print the colorized result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			svc := render.NewService(registry.New(cfg.Paths.TokenizersDir))
			text := strings.Join(args, " ")

			return runRender(cmd.OutOrStdout(), svc, text, mode, format)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "Tokenizer mode (see `colortok modes`)")
	cmd.Flags().StringVar(&format, "format", formatTerminal, "Output format (terminal|tokens|html|json)")
	_ = cmd.MarkFlagRequired("mode")

	return cmd
}

func runRender(w io.Writer, svc *render.Service, text, mode, format string) error {
	switch strings.ToLower(format) {
	case formatTerminal:
		list, err := svc.Tokens(text, mode)
		if err != nil {
			return err
		}
		return writeTerminal(w, list)
	case formatTokens:
		list, err := svc.Tokens(text, mode)
		if err != nil {
			return err
		}
		for _, t := range list.Tokens {
			if _, err := fmt.Fprintf(w, "%5d | %s\n", t.ID, t.Text); err != nil {
				return err
			}
		}
		return nil
	case formatHTML:
		res, err := svc.Render(text, mode)
		if err != nil {
			return err
		}
		return webui.WritePage(w, webui.PageData{
			Mode:       res.Mode,
			TokenCount: res.TokenCount,
			Fragments:  res.HTML,
		})
	case formatJSON:
		res, err := svc.Render(text, mode)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	default:
		return fmt.Errorf("unknown format %q (expected %s|%s|%s|%s)",
			format, formatTerminal, formatTokens, formatHTML, formatJSON)
	}
}

// writeTerminal prints each token on the same background color the HTML
// fragment would use, followed by a token count line.
func writeTerminal(w io.Writer, list render.TokenList) error {
	var sb strings.Builder
	for _, t := range list.Tokens {
		bg, err := colorize.Color(t.ID, list.VocabSize)
		if err != nil {
			return err
		}
		style := lipgloss.NewStyle().
			Background(lipgloss.Color(bg)).
			Foreground(lipgloss.Color("#000000"))
		text := t.Text
		if text == "" {
			text = fmt.Sprintf("[%d]", t.ID)
		}
		sb.WriteString(style.Render(text))
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%d tokens (mode %s, vocab %d)\n", len(list.Tokens), list.Mode, list.VocabSize)

	_, err := io.WriteString(w, sb.String())
	return err
}
