// Package render composes the tokenizer registry and the colorizer into the
// two operations the HTTP shell and the CLI consume: listing modes and
// rendering text under a mode.
package render

import (
	"fmt"
	"log/slog"

	"github.com/example/colortok/internal/colorize"
	"github.com/example/colortok/internal/registry"
)

// Result is one rendered request.
type Result struct {
	Text       string `json:"text"`
	Mode       string `json:"mode"`
	HTML       string `json:"html"`
	TokenCount int    `json:"token_count"`
}

// TokenList is the per-token breakdown of a text under a mode.
type TokenList struct {
	Mode      string           `json:"mode"`
	VocabSize int              `json:"vocab_size"`
	Tokens    []colorize.Token `json:"tokens"`
}

// Recorder observes successful renders.
type Recorder interface {
	RecordRender(mode string, tokens int)
}

type nopRecorder struct{}

func (nopRecorder) RecordRender(string, int) {}

// Option configures a Service.
type Option func(*Service)

// WithRecorder installs a Recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.rec = r }
}

// WithLogger sets the logger used for render events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// Service is safe for concurrent use.
type Service struct {
	reg *registry.Registry
	rec Recorder
	log *slog.Logger
}

// NewService returns a Service backed by reg.
func NewService(reg *registry.Registry, opts ...Option) *Service {
	s := &Service{
		reg: reg,
		rec: nopRecorder{},
		log: slog.Default(),
	}
	for _, fn := range opts {
		fn(s)
	}

	return s
}

// Registry returns the registry backing s.
func (s *Service) Registry() *registry.Registry { return s.reg }

// ListModes returns the available modes, sorted.
func (s *Service) ListModes() ([]string, error) {
	return s.reg.ListModes()
}

// Render tokenizes text under mode and renders every token. An unknown mode
// fails with registry.ErrModeNotFound before any tokenizer is loaded. Empty
// text is valid.
func (s *Service) Render(text, mode string) (Result, error) {
	m, err := s.reg.Lookup(mode)
	if err != nil {
		return Result{}, err
	}

	tok, err := s.reg.Resolve(m)
	if err != nil {
		return Result{}, err
	}

	out, err := colorize.Render(tok, text)
	if err != nil {
		return Result{}, fmt.Errorf("render mode %q: %w", mode, err)
	}

	s.rec.RecordRender(mode, out.TokenCount)
	s.log.Debug("rendered",
		slog.String("mode", mode),
		slog.Int("text_len", len(text)),
		slog.Int("token_count", out.TokenCount),
	)

	return Result{
		Text:       text,
		Mode:       mode,
		HTML:       out.HTML,
		TokenCount: out.TokenCount,
	}, nil
}

// Tokens returns the (id, text) pairs for text under mode, in encoding order.
func (s *Service) Tokens(text, mode string) (TokenList, error) {
	m, err := s.reg.Lookup(mode)
	if err != nil {
		return TokenList{}, err
	}

	tok, err := s.reg.Resolve(m)
	if err != nil {
		return TokenList{}, err
	}

	vocab := tok.VocabSize()
	if vocab <= 0 {
		return TokenList{}, fmt.Errorf("mode %q: %w: %d", mode, colorize.ErrInvalidVocabSize, vocab)
	}

	tokens, err := colorize.Tokens(tok, text)
	if err != nil {
		return TokenList{}, fmt.Errorf("tokenize mode %q: %w", mode, err)
	}

	return TokenList{Mode: mode, VocabSize: vocab, Tokens: tokens}, nil
}
