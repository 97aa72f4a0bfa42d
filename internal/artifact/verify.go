package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/example/colortok/internal/tokenizer"
)

// Verify checks every file recorded in dir's lock manifest against its
// sha256, then loads dir as a tokenizer. It prints one PASS or FAIL line per
// check to w and returns an error naming the failed checks.
func Verify(dir string, w io.Writer) error {
	if dir == "" {
		return errors.New("mode directory is required")
	}
	if w == nil {
		w = io.Discard
	}

	var failures []string
	fail := func(name string, err error) {
		_, _ = fmt.Fprintf(w, "FAIL %s: %v\n", name, err)
		failures = append(failures, name)
	}

	lockPath := filepath.Join(dir, LockFileName)
	if _, err := os.Stat(lockPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fail(LockFileName, err)
		} else {
			_, _ = fmt.Fprintf(w, "SKIP checksums (no %s)\n", LockFileName)
		}
	} else {
		lock := readLockManifest(lockPath)
		if len(lock.Files) == 0 {
			fail(LockFileName, errors.New("no files recorded"))
		}

		names := make([]string, 0, len(lock.Files))
		for name := range lock.Files {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			want := strings.ToLower(lock.Files[name].SHA256)
			got, err := fileSHA256(filepath.Join(dir, name))
			switch {
			case err != nil:
				fail(name, err)
			case got != want:
				fail(name, fmt.Errorf("sha256 %s, want %s", got, want))
			default:
				_, _ = fmt.Fprintf(w, "PASS %s (sha256=%s)\n", name, got)
			}
		}
	}

	tok, err := tokenizer.LoadDir(dir)
	switch {
	case err != nil:
		fail("load", err)
	case tok.VocabSize() <= 0:
		fail("load", fmt.Errorf("vocabulary size %d", tok.VocabSize()))
	default:
		_, _ = fmt.Fprintf(w, "PASS load (vocab_size=%d)\n", tok.VocabSize())
	}

	if len(failures) > 0 {
		return fmt.Errorf("verify failed for %d check(s): %s", len(failures), strings.Join(failures, ", "))
	}
	return nil
}
