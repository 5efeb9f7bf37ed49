package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "KOOK_MIRROR"

type Config struct {
	Kook    KookConfig    `mapstructure:"kook"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Events  EventsConfig  `mapstructure:"events"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Log     LogConfig     `mapstructure:"log"`
	Breaker BreakerConfig `mapstructure:"breaker"`
	OTel    OTelConfig    `mapstructure:"otel"`

	v *viper.Viper
}

type KookConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Token      string        `mapstructure:"token"`
	GatewayURL string        `mapstructure:"gateway_url"`
	Compress   bool          `mapstructure:"compress"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	// Period <= 0 disables recurring reconciliation; the initial pass still runs.
	Period     time.Duration `mapstructure:"period"`
	BatchDelay time.Duration `mapstructure:"batch_delay"`
	PageSize   int           `mapstructure:"page_size"`
}

type EventsConfig struct {
	Async bool `mapstructure:"async"`
	// Subscribe lists event kind names; empty means every kind.
	Subscribe []string `mapstructure:"subscribe"`
	DedupSize int      `mapstructure:"dedup_size"`
}

type BrokerConfig struct {
	// URL selects AMQP when set; otherwise events stay on an in-process channel.
	URL string `mapstructure:"url"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	// Token, when set, is required as a bearer token on every /v1 route.
	Token string `mapstructure:"token"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

type OTelConfig struct {
	// Exporter selects where spans and otel log records go: none, stdout or otlp.
	Exporter string `mapstructure:"exporter"`
	// Endpoint is the OTLP/HTTP endpoint URL; empty defers to OTEL_EXPORTER_OTLP_* env.
	Endpoint string `mapstructure:"endpoint"`
}

func setDefaults(v *viper.Viper) {
	// every key needs a default so env-only values survive Unmarshal
	v.SetDefault("kook.base_url", "https://www.kookapp.cn/api/v3")
	v.SetDefault("kook.token", "")
	v.SetDefault("kook.gateway_url", "")
	v.SetDefault("kook.compress", true)
	v.SetDefault("kook.timeout", 10*time.Second)
	v.SetDefault("sync.period", 10*time.Minute)
	v.SetDefault("sync.batch_delay", 100*time.Millisecond)
	v.SetDefault("sync.page_size", 50)
	v.SetDefault("events.async", true)
	v.SetDefault("events.subscribe", []string{})
	v.SetDefault("events.dedup_size", 4096)
	v.SetDefault("broker.url", "")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("breaker.max_requests", 1)
	v.SetDefault("breaker.interval", time.Minute)
	v.SetDefault("breaker.timeout", 30*time.Second)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("otel.exporter", "none")
	v.SetDefault("otel.endpoint", "")
}

// Flags declares command-line overrides for the most frequently tuned keys.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("overrides", pflag.ContinueOnError)
	fs.String("kook.token", "", "bot token")
	fs.Duration("sync.period", 0, "reconciliation period, <=0 disables it")
	fs.Duration("sync.batch_delay", 0, "delay between page requests")
	fs.Bool("events.async", true, "deliver domain events fire-and-forget")
	fs.String("http.addr", "", "inspection HTTP listen address")
	fs.String("log.level", "", "debug|info|warn|error")
	fs.String("otel.exporter", "", "none|stdout|otlp")
	return fs
}

// LoadConfig merges defaults, the optional file at path, KOOK_MIRROR_* env and args.
// Precedence: args > env > file > defaults.
func LoadConfig(path string, args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse overrides: %w", err)
	}
	// only flags actually passed may override lower layers
	fs.VisitAll(func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		_ = v.BindPFlag(f.Name, f)
	})

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects malformed values. These are the only failures that stop the service.
func (c *Config) Validate() error {
	var errs []error
	if c.Kook.Token == "" {
		errs = append(errs, errors.New("kook.token is required"))
	}
	if u, err := url.Parse(c.Kook.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("kook.base_url %q is not an absolute URL", c.Kook.BaseURL))
	}
	if c.Kook.GatewayURL != "" {
		if u, err := url.Parse(c.Kook.GatewayURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("kook.gateway_url %q must be ws:// or wss://", c.Kook.GatewayURL))
		}
	}
	if c.Sync.BatchDelay < 0 {
		errs = append(errs, errors.New("sync.batch_delay must not be negative"))
	}
	if c.Sync.PageSize <= 0 || c.Sync.PageSize > 100 {
		errs = append(errs, fmt.Errorf("sync.page_size %d out of range 1..100", c.Sync.PageSize))
	}
	if c.Events.DedupSize < 0 {
		errs = append(errs, errors.New("events.dedup_size must not be negative"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}
	switch c.OTel.Exporter {
	case "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("otel.exporter %q must be none, stdout or otlp", c.OTel.Exporter))
	}
	if c.OTel.Endpoint != "" {
		if u, err := url.Parse(c.OTel.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("otel.endpoint %q must be an http(s) URL", c.OTel.Endpoint))
		}
	}
	if c.Breaker.FailureThreshold == 0 {
		errs = append(errs, errors.New("breaker.failure_threshold must be positive"))
	}
	return errors.Join(errs...)
}

func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}

// WatchLogLevel hot-reloads log.level into level whenever the config file changes.
// No-op when no file was loaded.
func (c *Config) WatchLogLevel(level *slog.LevelVar, logger *slog.Logger) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		next, err := ParseLevel(c.v.GetString("log.level"))
		if err != nil {
			logger.Warn("CONFIG_RELOAD_REJECTED", "file", e.Name, "err", err)
			return
		}
		if next != level.Level() {
			level.Set(next)
			logger.Info("LOG_LEVEL_RELOADED", "file", e.Name, "level", next.String())
		}
	})
	c.v.WatchConfig()
}
