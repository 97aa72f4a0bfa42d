package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths     PathsConfig  `mapstructure:"paths"`
	Server    ServerConfig `mapstructure:"server"`
	Hub       HubConfig    `mapstructure:"hub"`
	LogLevel  string       `mapstructure:"log_level"`
	LogFormat string       `mapstructure:"log_format"`
}

type PathsConfig struct {
	TokenizersDir string `mapstructure:"tokenizers_dir"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	MaxTextBytes    int    `mapstructure:"max_text_bytes"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	Metrics         bool   `mapstructure:"metrics"`
}

// HubConfig configures tokenizer downloads from the Hugging Face hub.
type HubConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			TokenizersDir: "tokenizers",
		},
		Server: ServerConfig{
			ListenAddr:      ":5000",
			Workers:         4,
			MaxTextBytes:    65536,
			RequestTimeout:  30,
			ShutdownTimeout: 30,
			Metrics:         true,
		},
		Hub: HubConfig{
			Endpoint: "https://huggingface.co",
			Token:    "",
		},
		LogLevel:  "info",
		LogFormat: LogFormatJSON,
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-tokenizers-dir", defaults.Paths.TokenizersDir, "Directory holding one subdirectory per tokenizer mode")
	fs.String("tokenizers-dir", defaults.Paths.TokenizersDir, "Tokenizer base directory (alias for --paths-tokenizers-dir)")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-workers", defaults.Server.Workers, "Max concurrent render requests (0 = unlimited)")
	fs.Int("workers", defaults.Server.Workers, "Max concurrent render requests (alias for --server-workers)")
	fs.Int("server-max-text-bytes", defaults.Server.MaxTextBytes, "Maximum text size accepted by /api/tokenized")
	fs.Int("server-request-timeout", defaults.Server.RequestTimeout, "Per-request render timeout in seconds")
	fs.Int("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown drain period in seconds")
	fs.Bool("server-metrics", defaults.Server.Metrics, "Expose Prometheus metrics on /metrics")
	fs.String("hub-endpoint", defaults.Hub.Endpoint, "Hugging Face hub endpoint for tokenizer downloads")
	fs.String("hub-token", defaults.Hub.Token, "Hugging Face access token for gated repositories")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.String("log-format", defaults.LogFormat, "Log format (json|text)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	v.SetEnvPrefix("COLORTOK")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("hub.token", "COLORTOK_HUB_TOKEN", "HF_TOKEN"); err != nil {
		return Config{}, fmt.Errorf("bind hub token env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("colortok")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	format, err := NormalizeLogFormat(cfg.LogFormat)
	if err != nil {
		return Config{}, err
	}
	cfg.LogFormat = format

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.tokenizers_dir", c.Paths.TokenizersDir)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.metrics", c.Server.Metrics)
	v.SetDefault("hub.endpoint", c.Hub.Endpoint)
	v.SetDefault("hub.token", c.Hub.Token)
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("log_format", c.LogFormat)
}

// flagKeys maps config keys to the flags that set them. When several flags
// share a key, the first one set on the command line wins.
var flagKeys = []struct {
	key   string
	flags []string
}{
	{"paths.tokenizers_dir", []string{"paths-tokenizers-dir", "tokenizers-dir"}},
	{"server.listen_addr", []string{"server-listen-addr"}},
	{"server.workers", []string{"server-workers", "workers"}},
	{"server.max_text_bytes", []string{"server-max-text-bytes"}},
	{"server.request_timeout", []string{"server-request-timeout"}},
	{"server.shutdown_timeout", []string{"server-shutdown-timeout"}},
	{"server.metrics", []string{"server-metrics"}},
	{"hub.endpoint", []string{"hub-endpoint"}},
	{"hub.token", []string{"hub-token"}},
	{"log_level", []string{"log-level"}},
	{"log_format", []string{"log-format"}},
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, fk := range flagKeys {
		var chosen *pflag.Flag

		for _, name := range fk.flags {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if chosen == nil || (f.Changed && !chosen.Changed) {
				chosen = f
			}
		}

		if chosen == nil {
			continue
		}

		if err := v.BindPFlag(fk.key, chosen); err != nil {
			return fmt.Errorf("bind --%s: %w", chosen.Name, err)
		}
	}

	return nil
}
