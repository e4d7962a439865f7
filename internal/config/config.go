package config

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fablab-systems/hdrctl/internal/header"
	"github.com/fablab-systems/hdrctl/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Engine Engine                `yaml:"engine" mapstructure:"engine"`
	Kinds  map[string]KindConfig `yaml:"kinds" mapstructure:"kinds"`
	Graph  GraphConfig           `yaml:"graph" mapstructure:"graph"`
	Store  StoreConfig           `yaml:"store" mapstructure:"store"`
	Server ServerConfig          `yaml:"server" mapstructure:"server"`
	Watch  WatchConfig           `yaml:"watch" mapstructure:"watch"`
	Log    LogConfig             `yaml:"log" mapstructure:"log"`
}

// Engine tunes the per-artifact processing stage.
type Engine struct {
	// HeaderWindow is how many leading lines are scanned for a header.
	HeaderWindow int `yaml:"header_window" mapstructure:"header_window"`
	// Concurrency bounds parallel per-artifact processing.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// KindConfig describes one artifact kind: how to recognize its files, how
// its header comments are written, and which safety boundary keys are
// mandatory before the gate permits execution.
type KindConfig struct {
	Extensions    []string            `yaml:"extensions" mapstructure:"extensions"`
	Conventions   []header.Convention `yaml:"conventions" mapstructure:"conventions"`
	MandatoryKeys []string            `yaml:"mandatory_boundary_keys" mapstructure:"mandatory_boundary_keys"`
}

// GraphConfig tunes confidence propagation.
type GraphConfig struct {
	// UnresolvedPenaltyTiers is how many tiers a missing dependency costs.
	// The one-tier default is policy, not fact; it is configurable on
	// purpose.
	UnresolvedPenaltyTiers int `yaml:"unresolved_penalty_tiers" mapstructure:"unresolved_penalty_tiers"`
}

// StoreConfig configures the run/inventory store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// WatchConfig configures the on-save watcher.
type WatchConfig struct {
	DebounceMillis int     `yaml:"debounce_ms" mapstructure:"debounce_ms"`
	MaxRescansPerS float64 `yaml:"max_rescans_per_second" mapstructure:"max_rescans_per_second"`
}

// LogConfig configures the global zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
}

// Load reads config.yaml (optional) plus HDRCTL_* environment overrides
// and applies defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(".hdrctl")

	v.SetEnvPrefix("HDRCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if cfg.Kinds == nil {
		cfg.Kinds = map[string]KindConfig{}
	}
	for kind, kc := range defaultKinds() {
		if _, ok := cfg.Kinds[kind]; !ok {
			cfg.Kinds[kind] = kc
		}
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.header_window", header.DefaultWindow)
	v.SetDefault("engine.concurrency", 8)
	v.SetDefault("graph.unresolved_penalty_tiers", 1)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", ".hdrctl/hdrctl.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("watch.debounce_ms", 400)
	v.SetDefault("watch.max_rescans_per_second", 2.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// defaultKinds is the built-in kind table. A config file may override any
// kind wholesale; kinds it does not mention keep these settings.
func defaultKinds() map[string]KindConfig {
	return map[string]KindConfig{
		string(model.KindCode): {
			Extensions: []string{".go", ".py", ".js", ".ts", ".c", ".rs"},
			Conventions: []header.Convention{
				{LinePrefix: "//"},
				{LinePrefix: "#"},
				{BlockStart: "/*", BlockEnd: "*/"},
			},
		},
		string(model.KindDocument): {
			Extensions: []string{".md", ".rst", ".txt"},
			Conventions: []header.Convention{
				{BlockStart: "<!--", BlockEnd: "-->"},
				{LinePrefix: ">"},
			},
		},
		string(model.KindHardwareJob): {
			Extensions: []string{".gcode", ".nc", ".job"},
			Conventions: []header.Convention{
				{LinePrefix: ";"},
				{LinePrefix: "#"},
			},
			MandatoryKeys: []string{"maxTemp", "dutyCycle"},
		},
	}
}

// KindFor maps an artifact path to its kind by extension. Unmatched paths
// default to document, the kind with no structural expectations.
func (c *Config) KindFor(path string) model.Kind {
	ext := strings.ToLower(filepath.Ext(path))
	for kind, kc := range c.Kinds {
		for _, e := range kc.Extensions {
			if e == ext {
				return model.Kind(kind)
			}
		}
	}
	return model.KindDocument
}

// ConventionsFor returns the comment conventions to try for a kind.
func (c *Config) ConventionsFor(kind model.Kind) []header.Convention {
	if kc, ok := c.Kinds[string(kind)]; ok && len(kc.Conventions) > 0 {
		return kc.Conventions
	}
	return []header.Convention{{LinePrefix: "#"}}
}

// MandatoryBoundaryKeys returns the boundary keys the safety gate requires
// for a kind. Only hardware-job carries any by default.
func (c *Config) MandatoryBoundaryKeys(kind model.Kind) []string {
	if kc, ok := c.Kinds[string(kind)]; ok {
		return kc.MandatoryKeys
	}
	return nil
}

// Extensions returns every configured artifact extension, used when
// walking directories for artifacts.
func (c *Config) Extensions() map[string]bool {
	out := make(map[string]bool)
	for _, kc := range c.Kinds {
		for _, e := range kc.Extensions {
			out[strings.ToLower(e)] = true
		}
	}
	return out
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
