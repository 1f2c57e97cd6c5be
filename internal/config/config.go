// Package config loads evalbot settings from an optional YAML file and
// EVALBOT_* environment variables, then validates them against an embedded
// CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/roach88/evalbot/internal/lifecycle"
	"github.com/roach88/evalbot/internal/responder"
	"github.com/roach88/evalbot/internal/telegram"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix is prepended to every environment override, with dots replaced
// by underscores: EVALBOT_TELEGRAM_BASE_URL.
const EnvPrefix = "EVALBOT"

// DefaultFile is read from the working directory when no file is given.
const DefaultFile = "evalbot.yaml"

type Config struct {
	Token            string        `mapstructure:"token" json:"token"`
	AdminID          int64         `mapstructure:"admin_id" json:"admin_id"`
	RecordsPath      string        `mapstructure:"records_path" json:"records_path"`
	JournalPath      string        `mapstructure:"journal_path" json:"journal_path"`
	UpgradeMarker    string        `mapstructure:"upgrade_marker" json:"upgrade_marker"`
	PollInterval     time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	DrainTimeout     time.Duration `mapstructure:"drain_timeout" json:"drain_timeout"`
	ResponderTimeout time.Duration `mapstructure:"responder_timeout" json:"responder_timeout"`
	MaxConcurrent    int           `mapstructure:"max_concurrent" json:"max_concurrent"`
	RecordMaxAge     time.Duration `mapstructure:"record_max_age" json:"record_max_age"`
	LogLevel         string        `mapstructure:"log_level" json:"log_level"`

	Telegram   TelegramConfig   `mapstructure:"telegram" json:"telegram"`
	Playground PlaygroundConfig `mapstructure:"playground" json:"playground"`
	Registry   RegistryConfig   `mapstructure:"registry" json:"registry"`
	Docs       DocsConfig       `mapstructure:"docs" json:"docs"`

	// File is the config file actually read, empty if none.
	File string `mapstructure:"-" json:"file,omitempty"`
}

type TelegramConfig struct {
	BaseURL     string        `mapstructure:"base_url" json:"base_url"`
	PollTimeout time.Duration `mapstructure:"poll_timeout" json:"poll_timeout"`
}

type PlaygroundConfig struct {
	URL string `mapstructure:"url" json:"url"`
}

type RegistryConfig struct {
	URL       string `mapstructure:"url" json:"url"`
	CacheSize int    `mapstructure:"cache_size" json:"cache_size"`
}

type DocsConfig struct {
	// Path is a JSON array of documentation items. Empty disables /doc.
	Path string `mapstructure:"path" json:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("token", "")
	v.SetDefault("admin_id", 0)
	v.SetDefault("records_path", "record_list.json")
	v.SetDefault("journal_path", "journal.db")
	v.SetDefault("upgrade_marker", "upgrade")
	v.SetDefault("poll_interval", lifecycle.DefaultPollInterval)
	v.SetDefault("drain_timeout", lifecycle.DefaultDrainTimeout)
	v.SetDefault("responder_timeout", responder.DefaultTimeout)
	v.SetDefault("max_concurrent", 8)
	v.SetDefault("record_max_age", 48*time.Hour)
	v.SetDefault("log_level", "info")
	v.SetDefault("telegram.base_url", telegram.DefaultBaseURL)
	v.SetDefault("telegram.poll_timeout", telegram.DefaultPollTimeout)
	v.SetDefault("playground.url", responder.DefaultPlaygroundURL)
	v.SetDefault("registry.url", responder.DefaultRegistryURL)
	v.SetDefault("registry.cache_size", responder.DefaultRegistryCacheSize)
	v.SetDefault("docs.path", "")
}

// Load reads configuration. An explicit path must exist; with an empty path
// DefaultFile is used if present. Environment variables override the file.
func Load(path string) (*Config, error) {
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
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidationError lists every schema violation.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Validate checks cfg against the embedded schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	val := def.Unify(ctx.Encode(c.document()))
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Problems: problems(err)}
	}
	return nil
}

// problems flattens a CUE error list into one line per violation.
func problems(err error) []string {
	var out []string
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// RequireToken reports a missing bot token; only running the bot needs one.
func (c *Config) RequireToken() error {
	if strings.TrimSpace(c.Token) == "" {
		return &ValidationError{Problems: []string{"token: required (set " + EnvPrefix + "_TOKEN)"}}
	}
	return nil
}

// document is the schema-facing view of the config: durations are strings.
func (c *Config) document() map[string]any {
	return map[string]any{
		"token":             c.Token,
		"admin_id":          c.AdminID,
		"records_path":      c.RecordsPath,
		"journal_path":      c.JournalPath,
		"upgrade_marker":    c.UpgradeMarker,
		"poll_interval":     c.PollInterval.String(),
		"drain_timeout":     c.DrainTimeout.String(),
		"responder_timeout": c.ResponderTimeout.String(),
		"max_concurrent":    c.MaxConcurrent,
		"record_max_age":    c.RecordMaxAge.String(),
		"log_level":         c.LogLevel,
		"telegram": map[string]any{
			"base_url":     c.Telegram.BaseURL,
			"poll_timeout": c.Telegram.PollTimeout.String(),
		},
		"playground": map[string]any{
			"url": c.Playground.URL,
		},
		"registry": map[string]any{
			"url":        c.Registry.URL,
			"cache_size": c.Registry.CacheSize,
		},
		"docs": map[string]any{
			"path": c.Docs.Path,
		},
	}
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Token != "" {
		c.Token = "***"
	}
	return c
}
