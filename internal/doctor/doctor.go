// Package doctor provides preflight checks for a colortok installation.
package doctor

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/example/colortok/internal/artifact"
	"github.com/example/colortok/internal/colorize"
	"github.com/example/colortok/internal/registry"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// Config holds the inputs and injectable dependencies for each doctor check.
type Config struct {
	// TokenizersDir is the registry base directory.
	TokenizersDir string
	// ListenAddr is checked for host:port syntax when non-empty.
	ListenAddr string
	// Load replaces tokenizer.LoadDir.
	Load registry.LoadFunc
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- listen address ---------------------------------------------------
	if cfg.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
			res.fail(fmt.Sprintf("listen address %q: %v", cfg.ListenAddr, err))
			fmt.Fprintf(w, "%s listen address %s: %v\n", FailMark, cfg.ListenAddr, err)
		} else {
			fmt.Fprintf(w, "%s listen address: %s\n", PassMark, cfg.ListenAddr)
		}
	}

	// ---- tokenizer directory ----------------------------------------------
	fi, err := os.Stat(cfg.TokenizersDir)
	switch {
	case err != nil:
		res.fail(fmt.Sprintf("tokenizer directory %q: %v", cfg.TokenizersDir, err))
		fmt.Fprintf(w, "%s tokenizer directory %s: not found\n", FailMark, cfg.TokenizersDir)
		return res
	case !fi.IsDir():
		res.fail(fmt.Sprintf("tokenizer directory %q: not a directory", cfg.TokenizersDir))
		fmt.Fprintf(w, "%s tokenizer directory %s: not a directory\n", FailMark, cfg.TokenizersDir)
		return res
	default:
		fmt.Fprintf(w, "%s tokenizer directory: %s\n", PassMark, cfg.TokenizersDir)
	}

	// ---- modes --------------------------------------------------------------
	var opts []registry.Option
	if cfg.Load != nil {
		opts = append(opts, registry.WithLoader(cfg.Load))
	}
	reg := registry.New(cfg.TokenizersDir, opts...)

	modes, err := reg.Modes()
	if err != nil {
		res.fail(fmt.Sprintf("list modes: %v", err))
		fmt.Fprintf(w, "%s modes: %v\n", FailMark, err)
		return res
	}
	if len(modes) == 0 {
		res.fail("modes: no tokenizer modes found")
		fmt.Fprintf(w, "%s modes: none found (run `colortok tokenizer download`)\n", FailMark)
		return res
	}
	fmt.Fprintf(w, "%s modes: %d found\n", PassMark, len(modes))

	for _, m := range modes {
		checkMode(reg, m, w, &res)
	}

	return res
}

func checkMode(reg *registry.Registry, m registry.Mode, w io.Writer, res *Result) {
	start := time.Now()
	tok, err := reg.Resolve(m)
	elapsed := time.Since(start).Round(time.Millisecond)

	if err != nil {
		res.fail(fmt.Sprintf("mode %s: %v", m, err))
		fmt.Fprintf(w, "%s mode %s: %v\n", FailMark, m, err)
		return
	}

	if _, err := colorize.Color(0, tok.VocabSize()); err != nil {
		res.fail(fmt.Sprintf("mode %s: %v", m, err))
		fmt.Fprintf(w, "%s mode %s: %v\n", FailMark, m, err)
		return
	}
	fmt.Fprintf(w, "%s mode %s: vocab %d (loaded in %s)\n", PassMark, m, tok.VocabSize(), elapsed)

	dir := filepath.Join(reg.BaseDir(), m.String())
	if _, err := os.Stat(filepath.Join(dir, artifact.LockFileName)); errors.Is(err, os.ErrNotExist) {
		return
	}

	if err := artifact.Verify(dir, io.Discard); err != nil {
		res.fail(fmt.Sprintf("mode %s checksums: %v", m, err))
		fmt.Fprintf(w, "%s mode %s checksums: %v\n", FailMark, m, err)
		return
	}
	fmt.Fprintf(w, "%s mode %s checksums: ok\n", PassMark, m)
}
