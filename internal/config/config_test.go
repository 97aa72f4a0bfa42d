package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

// newFlagBinder creates a FlagSet with all config flags registered at their defaults.
func newFlagBinder(defaults Config) *fakeBinder {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	return &fakeBinder{fs: fs}
}

// chdirTemp runs the test from an empty directory so no colortok.yaml is picked up.
func chdirTemp(t *testing.T) {
	t.Helper()

	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(orig) })

	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
}

// --- DefaultConfig ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Paths.TokenizersDir != "tokenizers" {
		t.Errorf("TokenizersDir = %q; want %q", cfg.Paths.TokenizersDir, "tokenizers")
	}

	if cfg.Server.ListenAddr != ":5000" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":5000")
	}

	if cfg.Server.Workers != 4 {
		t.Errorf("Server.Workers = %d; want 4", cfg.Server.Workers)
	}

	if cfg.Server.MaxTextBytes != 65536 {
		t.Errorf("Server.MaxTextBytes = %d; want 65536", cfg.Server.MaxTextBytes)
	}

	if cfg.Server.RequestTimeout != 30 {
		t.Errorf("Server.RequestTimeout = %d; want 30", cfg.Server.RequestTimeout)
	}

	if cfg.Server.ShutdownTimeout != 30 {
		t.Errorf("Server.ShutdownTimeout = %d; want 30", cfg.Server.ShutdownTimeout)
	}

	if !cfg.Server.Metrics {
		t.Error("Server.Metrics = false; want true")
	}

	if cfg.Hub.Endpoint != "https://huggingface.co" {
		t.Errorf("Hub.Endpoint = %q; want %q", cfg.Hub.Endpoint, "https://huggingface.co")
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "info")
	}

	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat = %q; want %q", cfg.LogFormat, LogFormatJSON)
	}
}

// --- NormalizeLogFormat ---

func TestNormalizeLogFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"json canonical", "json", "json", false},
		{"text canonical", "text", "text", false},
		{"uppercase", "JSON", "json", false},
		{"logfmt alias", "logfmt", "text", false},
		{"console alias", "console", "text", false},
		{"spaces", "  text  ", "text", false},
		{"empty defaults to json", "", "json", false},
		{"invalid value", "xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeLogFormat(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NormalizeLogFormat(%q) = %q, nil; want error", tt.input, got)
				}

				return
			}

			if err != nil {
				t.Errorf("NormalizeLogFormat(%q) unexpected error: %v", tt.input, err)
				return
			}

			if got != tt.want {
				t.Errorf("NormalizeLogFormat(%q) = %q; want %q", tt.input, got, tt.want)
			}
		})
	}
}

// --- RegisterFlags ---

func TestRegisterFlags(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	checks := []struct {
		flag string
		want string
	}{
		{"paths-tokenizers-dir", "tokenizers"},
		{"tokenizers-dir", "tokenizers"},
		{"server-listen-addr", ":5000"},
		{"workers", "4"},
		{"server-metrics", "true"},
		{"log-level", "info"},
		{"log-format", "json"},
	}

	for _, c := range checks {
		f := fs.Lookup(c.flag)
		if f == nil {
			t.Errorf("flag %q not registered", c.flag)
			continue
		}

		if f.DefValue != c.want {
			t.Errorf("flag %q default = %q; want %q", c.flag, f.DefValue, c.want)
		}
	}
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	defaults := DefaultConfig()
	binder := newFlagBinder(defaults)

	cfg, err := Load(LoadOptions{
		Cmd:      binder,
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg != defaults {
		t.Errorf("Load() = %+v; want %+v", cfg, defaults)
	}
}

func TestLoad_DefaultsWithoutFlags(t *testing.T) {
	chdirTemp(t)

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{Defaults: defaults})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg != defaults {
		t.Errorf("Load() = %+v; want %+v", cfg, defaults)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	chdirTemp(t)

	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	err := fs.Parse([]string{
		"--tokenizers-dir=/srv/tok",
		"--workers=8",
		"--log-level=debug",
		"--log-format=logfmt",
		"--server-metrics=false",
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:      &fakeBinder{fs: fs},
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Paths.TokenizersDir != "/srv/tok" {
		t.Errorf("TokenizersDir = %q; want %q", cfg.Paths.TokenizersDir, "/srv/tok")
	}

	if cfg.Server.Workers != 8 {
		t.Errorf("Server.Workers = %d; want 8", cfg.Server.Workers)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "debug")
	}

	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q; want %q", cfg.LogFormat, LogFormatText)
	}

	if cfg.Server.Metrics {
		t.Error("Server.Metrics = true; want false")
	}
}

func TestLoad_LongFlagBeatsAliasDefault(t *testing.T) {
	chdirTemp(t)

	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	if err := fs.Parse([]string{"--server-workers=3"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(LoadOptions{Cmd: &fakeBinder{fs: fs}, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Workers != 3 {
		t.Errorf("Server.Workers = %d; want 3", cfg.Server.Workers)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	chdirTemp(t)

	t.Setenv("COLORTOK_LOG_LEVEL", "warn")
	t.Setenv("COLORTOK_SERVER_LISTEN_ADDR", ":9999")
	t.Setenv("COLORTOK_PATHS_TOKENIZERS_DIR", "/data/tokenizers")

	cfg, err := Load(LoadOptions{
		Cmd:      newFlagBinder(DefaultConfig()),
		Defaults: DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "warn")
	}

	if cfg.Server.ListenAddr != ":9999" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":9999")
	}

	if cfg.Paths.TokenizersDir != "/data/tokenizers" {
		t.Errorf("TokenizersDir = %q; want %q", cfg.Paths.TokenizersDir, "/data/tokenizers")
	}
}

func TestLoad_HFTokenEnv(t *testing.T) {
	chdirTemp(t)

	t.Setenv("COLORTOK_HUB_TOKEN", "")
	t.Setenv("HF_TOKEN", "hf_secret")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hub.Token != "hf_secret" {
		t.Errorf("Hub.Token = %q; want %q", cfg.Hub.Token, "hf_secret")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	chdirTemp(t)

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "colortok.yaml")

	content := `
log_level: error
log_format: text
paths:
  tokenizers_dir: /opt/tokenizers
server:
  workers: 16
  listen_addr: ":7777"
`

	err := os.WriteFile(cfgFile, []byte(content), 0o644)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:        newFlagBinder(defaults),
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "error")
	}

	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q; want %q", cfg.LogFormat, LogFormatText)
	}

	if cfg.Paths.TokenizersDir != "/opt/tokenizers" {
		t.Errorf("TokenizersDir = %q; want %q", cfg.Paths.TokenizersDir, "/opt/tokenizers")
	}

	if cfg.Server.Workers != 16 {
		t.Errorf("Server.Workers = %d; want 16", cfg.Server.Workers)
	}

	if cfg.Server.ListenAddr != ":7777" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":7777")
	}

	if cfg.Server.MaxTextBytes != defaults.Server.MaxTextBytes {
		t.Errorf("Server.MaxTextBytes = %d; want default %d", cfg.Server.MaxTextBytes, defaults.Server.MaxTextBytes)
	}
}

func TestLoad_ConfigFileInWorkingDir(t *testing.T) {
	chdirTemp(t)

	if err := os.WriteFile("colortok.yaml", []byte("log_level: warn\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "warn")
	}
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	chdirTemp(t)

	t.Setenv("COLORTOK_LOG_FORMAT", "xml")

	_, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err == nil {
		t.Error("Load() = nil; want error for invalid log format")
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "bad.yaml")

	err := os.WriteFile(cfgFile, []byte(":\t:bad yaml:::"), 0o644)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err = Load(LoadOptions{
		ConfigFile: cfgFile,
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for invalid config file")
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{
		ConfigFile: "/nonexistent/path/colortok.yaml",
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for missing explicit config file")
	}
}
