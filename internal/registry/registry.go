// Package registry maps tokenizer mode names to loaded tokenizers.
//
// A mode is a subdirectory of the base directory holding a recognized
// descriptor file. Tokenizers are loaded on first use and kept for the life
// of the Registry; there is no eviction.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/example/colortok/internal/tokenizer"
)

// ErrModeNotFound is returned for names that are not valid modes, and when a
// mode's descriptor file is absent at load time.
var ErrModeNotFound = errors.New("tokenizer mode not found")

// Mode is a validated mode name. The zero value is not a valid mode; values
// come from Registry.Lookup or Registry.Modes.
type Mode struct {
	name string
}

// String returns the mode name.
func (m Mode) String() string { return m.name }

// LoadFunc loads the tokenizer stored in dir.
type LoadFunc func(dir string) (tokenizer.Tokenizer, error)

// Observer receives registry events. Implementations must be safe for
// concurrent use.
type Observer interface {
	CacheHit(mode string)
	Loaded(mode string, d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) CacheHit(string) {}
func (nopObserver) Loaded(string, time.Duration, error) {}

// Option configures a Registry.
type Option func(*Registry)

// WithLoader replaces tokenizer.LoadDir.
func WithLoader(fn LoadFunc) Option {
	return func(r *Registry) { r.load = fn }
}

// WithObserver installs an Observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.obs = o }
}

// WithLogger sets the logger used for load events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// Registry owns the mode → tokenizer cache. It is safe for concurrent use.
type Registry struct {
	baseDir string
	load    LoadFunc
	obs     Observer
	log     *slog.Logger

	mu    sync.RWMutex
	cache map[string]tokenizer.Tokenizer
	group singleflight.Group
}

// New returns a Registry over baseDir with an empty cache.
func New(baseDir string, opts ...Option) *Registry {
	r := &Registry{
		baseDir: baseDir,
		load:    tokenizer.LoadDir,
		obs:     nopObserver{},
		log:     slog.Default(),
		cache:   make(map[string]tokenizer.Tokenizer),
	}
	for _, fn := range opts {
		fn(r)
	}

	return r
}

// BaseDir returns the directory scanned for modes.
func (r *Registry) BaseDir() string { return r.baseDir }

// ListModes returns the names of subdirectories of the base directory that
// hold a recognized descriptor, sorted. A missing base directory is not an
// error.
func (r *Registry) ListModes() ([]string, error) {
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}

		return nil, fmt.Errorf("list modes in %s: %w", r.baseDir, err)
	}

	modes := []string{}
	for _, e := range entries {
		if !isDir(r.baseDir, e) {
			continue
		}

		_, err := tokenizer.FindDescriptor(filepath.Join(r.baseDir, e.Name()))
		switch {
		case err == nil:
			modes = append(modes, e.Name())
		case errors.Is(err, tokenizer.ErrDescriptorNotFound):
		default:
			return nil, err
		}
	}

	slices.Sort(modes)

	return modes, nil
}

// isDir follows symlinks so linked mode directories are listed.
func isDir(base string, e os.DirEntry) bool {
	if e.IsDir() {
		return true
	}

	if e.Type()&os.ModeSymlink == 0 {
		return false
	}

	fi, err := os.Stat(filepath.Join(base, e.Name()))

	return err == nil && fi.IsDir()
}

// Modes returns every listed mode as a validated Mode.
func (r *Registry) Modes() ([]Mode, error) {
	names, err := r.ListModes()
	if err != nil {
		return nil, err
	}

	out := make([]Mode, len(names))
	for i, n := range names {
		out[i] = Mode{name: n}
	}

	return out, nil
}

// Lookup validates name against ListModes. It never loads a tokenizer.
func (r *Registry) Lookup(name string) (Mode, error) {
	if !validName(name) {
		return Mode{}, fmt.Errorf("%w: %q", ErrModeNotFound, name)
	}

	names, err := r.ListModes()
	if err != nil {
		return Mode{}, err
	}

	if _, ok := slices.BinarySearch(names, name); !ok {
		return Mode{}, fmt.Errorf("%w: %q", ErrModeNotFound, name)
	}

	return Mode{name: name}, nil
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// Cached reports whether m's tokenizer is already loaded.
func (r *Registry) Cached(m Mode) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.cache[m.name]

	return ok
}

// Resolve returns m's tokenizer, loading it on first use. Concurrent calls for
// the same uncached mode share one load. Failed loads are not cached.
func (r *Registry) Resolve(m Mode) (tokenizer.Tokenizer, error) {
	if m.name == "" {
		return nil, fmt.Errorf("%w: empty mode", ErrModeNotFound)
	}

	r.mu.RLock()
	tok, ok := r.cache[m.name]
	r.mu.RUnlock()

	if ok {
		r.obs.CacheHit(m.name)
		return tok, nil
	}

	v, err, _ := r.group.Do(m.name, func() (any, error) {
		// A caller that lost the race to an earlier load finds it here.
		r.mu.RLock()
		tok, ok := r.cache[m.name]
		r.mu.RUnlock()

		if ok {
			return tok, nil
		}

		return r.loadMode(m.name)
	})
	if err != nil {
		return nil, err
	}

	return v.(tokenizer.Tokenizer), nil
}

func (r *Registry) loadMode(name string) (tokenizer.Tokenizer, error) {
	dir := filepath.Join(r.baseDir, name)
	start := time.Now()

	tok, err := r.load(dir)
	elapsed := time.Since(start)
	r.obs.Loaded(name, elapsed, err)

	if err != nil {
		r.log.Warn("tokenizer load failed",
			slog.String("mode", name),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.String("error", err.Error()),
		)

		if errors.Is(err, tokenizer.ErrDescriptorNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q: %w", ErrModeNotFound, name, err)
		}

		return nil, fmt.Errorf("load mode %q: %w", name, err)
	}

	r.log.Info("tokenizer loaded",
		slog.String("mode", name),
		slog.Int("vocab_size", tok.VocabSize()),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	)

	r.mu.Lock()
	r.cache[name] = tok
	r.mu.Unlock()

	return tok, nil
}

// Preload resolves the named modes concurrently. An empty list preloads every
// listed mode.
func (r *Registry) Preload(ctx context.Context, names []string) error {
	if len(names) == 0 {
		var err error
		if names, err = r.ListModes(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			m, err := r.Lookup(name)
			if err != nil {
				return err
			}

			_, err = r.Resolve(m)

			return err
		})
	}

	return g.Wait()
}
