// Package artifact fetches tokenizer descriptors from the Hugging Face hub
// into the mode layout the registry reads, and verifies them afterwards.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
)

const (
	// DefaultEndpoint is the public Hugging Face hub.
	DefaultEndpoint = "https://huggingface.co"
	// LockFileName is the checksum manifest written next to the descriptor.
	LockFileName = "colortok.lock.json"

	downloadLockName = ".download.lock"
)

type DownloadOptions struct {
	// Preset fills Repo, Revision, Mode and Files. Explicit fields win.
	Preset   string
	Repo     string
	Revision string
	// Mode is the directory created under BaseDir. Defaults to the repo name.
	Mode    string
	BaseDir string
	// Files defaults to tokenizer.json.
	Files    []File
	HFToken  string
	Endpoint string
	Client   *http.Client
	Stdout   io.Writer
}

type AccessDeniedError struct {
	Repo string
	Msg  string
}

func (e *AccessDeniedError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("access denied for %s", e.Repo)
}

type lockManifest struct {
	Repo      string                `json:"repo"`
	Generated string                `json:"generated"`
	Files     map[string]lockRecord `json:"files"`
}

type lockRecord struct {
	Filename string `json:"filename"`
	Revision string `json:"revision"`
	SHA256   string `json:"sha256"`
}

var shaHexPattern = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

func (o *DownloadOptions) applyDefaults() error {
	if o.Preset != "" {
		p, err := LookupPreset(o.Preset)
		if err != nil {
			return err
		}
		if o.Repo == "" {
			o.Repo = p.Repo
		}
		if o.Revision == "" {
			o.Revision = p.Revision
		}
		if o.Mode == "" {
			o.Mode = p.Mode
		}
		if len(o.Files) == 0 {
			o.Files = p.Files
		}
	}

	if o.Repo == "" {
		return errors.New("repo is required")
	}
	if o.BaseDir == "" {
		return errors.New("base dir is required")
	}
	if o.Revision == "" {
		o.Revision = "main"
	}
	if o.Mode == "" {
		o.Mode = path.Base(o.Repo)
	}
	if !validName(o.Mode) {
		return fmt.Errorf("invalid mode name %q", o.Mode)
	}
	if len(o.Files) == 0 {
		o.Files = []File{{Filename: "tokenizer.json"}}
	}
	for _, f := range o.Files {
		if !validName(f.localName()) {
			return fmt.Errorf("invalid local file name %q", f.localName())
		}
	}
	if o.Endpoint == "" {
		o.Endpoint = DefaultEndpoint
	}
	o.Endpoint = strings.TrimRight(o.Endpoint, "/")
	if o.Client == nil {
		o.Client = &http.Client{}
	}
	if o.Stdout == nil {
		o.Stdout = io.Discard
	}
	return nil
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

func baseName(p string) string { return path.Base(p) }

// Download fetches every file into <BaseDir>/<Mode>/ and records its sha256
// in the lock manifest. Files already present with the expected digest are
// skipped. Concurrent downloads into the same mode are serialized by a file
// lock.
func Download(ctx context.Context, opts DownloadOptions) error {
	if err := opts.applyDefaults(); err != nil {
		return err
	}

	modeDir := filepath.Join(opts.BaseDir, opts.Mode)
	if err := os.MkdirAll(modeDir, 0o755); err != nil {
		return fmt.Errorf("create mode dir: %w", err)
	}

	fl := flock.New(filepath.Join(modeDir, downloadLockName))
	locked, err := fl.TryLockContext(ctx, 250*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock %s: %w", modeDir, err)
	}
	if !locked {
		return fmt.Errorf("lock %s: not acquired", modeDir)
	}
	defer func() { _ = fl.Unlock() }()

	lockPath := filepath.Join(modeDir, LockFileName)
	lock := readLockManifest(lockPath)
	lock.Repo = opts.Repo
	lock.Generated = time.Now().UTC().Format(time.RFC3339)

	for _, f := range opts.Files {
		name := f.localName()
		localPath := filepath.Join(modeDir, name)

		expected, err := expectedChecksum(ctx, opts, f, lock)
		if err != nil {
			return err
		}

		if expected != "" {
			if ok, err := existingMatches(localPath, expected); err != nil {
				return err
			} else if ok {
				fmt.Fprintf(opts.Stdout, "skip %s (checksum match)\n", name)
				lock.Files[name] = lockRecord{Filename: f.Filename, Revision: opts.Revision, SHA256: expected}
				continue
			}
		}

		fmt.Fprintf(opts.Stdout, "download %s@%s -> %s\n", f.Filename, opts.Revision, localPath)
		actual, err := downloadWithProgress(ctx, opts, f, localPath)
		if err != nil {
			return err
		}

		switch {
		case expected == "":
			fmt.Fprintf(opts.Stdout, "recorded %s (sha256=%s)\n", name, actual)
		case actual != expected:
			_ = os.Remove(localPath)
			return fmt.Errorf("checksum mismatch for %s: expected %s got %s", f.Filename, expected, actual)
		default:
			fmt.Fprintf(opts.Stdout, "verified %s (sha256=%s)\n", name, actual)
		}
		lock.Files[name] = lockRecord{Filename: f.Filename, Revision: opts.Revision, SHA256: actual}
	}

	if err := writeLockManifest(lockPath, lock); err != nil {
		return err
	}
	fmt.Fprintf(opts.Stdout, "wrote lock manifest: %s\n", lockPath)
	return nil
}

// expectedChecksum resolves the digest a download must match: the pinned
// value, then a lock record for the same revision, then hub metadata. An
// empty result means none is known and the downloaded digest is recorded.
func expectedChecksum(ctx context.Context, opts DownloadOptions, f File, lock lockManifest) (string, error) {
	if f.SHA256 != "" {
		if !isSHA256Hex(f.SHA256) {
			return "", fmt.Errorf("pinned checksum for %s is not a sha256 hex digest", f.Filename)
		}
		return strings.ToLower(f.SHA256), nil
	}

	if lr, ok := lock.Files[f.localName()]; ok && lr.Revision == opts.Revision && isSHA256Hex(lr.SHA256) {
		return strings.ToLower(lr.SHA256), nil
	}

	return resolveChecksumFromMetadata(ctx, opts, f)
}

func existingMatches(path, expected string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat existing file: %w", err)
	}
	if fi.IsDir() {
		return false, fmt.Errorf("expected file at %s, found directory", path)
	}
	actual, err := fileSHA256(path)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}

func accessDenied(repo string) error {
	return &AccessDeniedError{
		Repo: repo,
		Msg:  fmt.Sprintf("access denied for %s; provide HF_TOKEN or --hub-token", repo),
	}
}

func downloadWithProgress(ctx context.Context, opts DownloadOptions, file File, outPath string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolveURL(opts, file), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	setAuth(req, opts.HFToken)

	resp, err := opts.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", accessDenied(opts.Repo)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("download failed for %s: %s", file.Filename, resp.Status)
	}

	tmp := outPath + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	h := sha256.New()
	mw := io.MultiWriter(fh, h)

	var written int64
	buf := make([]byte, 64*1024)
	total := resp.ContentLength
	lastPrint := time.Now()
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			wn, writeErr := mw.Write(buf[:n])
			if writeErr != nil {
				_ = fh.Close()
				_ = os.Remove(tmp)
				return "", fmt.Errorf("write temp file: %w", writeErr)
			}
			written += int64(wn)
			if time.Since(lastPrint) > 700*time.Millisecond {
				if total > 0 {
					pct := float64(written) * 100 / float64(total)
					fmt.Fprintf(opts.Stdout, "  progress: %.1f%% (%d/%d bytes)\n", pct, written, total)
				} else {
					fmt.Fprintf(opts.Stdout, "  progress: %d bytes\n", written)
				}
				lastPrint = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = fh.Close()
			_ = os.Remove(tmp)
			return "", fmt.Errorf("download read failed: %w", readErr)
		}
	}

	if err := fh.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("move temp file into place: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// resolveChecksumFromMetadata reads the sha256 the hub reports for LFS files.
// Small files stored in git carry a sha1 ETag, which yields "".
func resolveChecksumFromMetadata(ctx context.Context, opts DownloadOptions, f File) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, resolveURL(opts, f), nil)
	if err != nil {
		return "", fmt.Errorf("build metadata request: %w", err)
	}
	setAuth(req, opts.HFToken)

	client := *opts.Client
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("metadata request failed for %s: %w", f.Filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", accessDenied(opts.Repo)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 399 {
		return "", fmt.Errorf("metadata request failed for %s: %s", f.Filename, resp.Status)
	}

	for _, key := range []string{"X-Linked-Etag", "Etag"} {
		if v := normalizeETag(resp.Header.Get(key)); isSHA256Hex(v) {
			return strings.ToLower(v), nil
		}
	}

	return "", nil
}

func resolveURL(opts DownloadOptions, file File) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", opts.Endpoint, opts.Repo, opts.Revision, file.Filename)
}

func setAuth(req *http.Request, token string) {
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

func normalizeETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, "\"")
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, "\"")
	return v
}

func isSHA256Hex(v string) bool {
	return shaHexPattern.MatchString(v)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read file for checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func readLockManifest(path string) lockManifest {
	out := lockManifest{Files: map[string]lockRecord{}}

	b, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return lockManifest{Files: map[string]lockRecord{}}
	}
	if out.Files == nil {
		out.Files = map[string]lockRecord{}
	}
	return out
}

func writeLockManifest(path string, lock lockManifest) error {
	b, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock manifest: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write lock manifest: %w", err)
	}
	return nil
}
