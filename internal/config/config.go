// Package config loads the registry's layered configuration: built-in
// defaults, overridden by a config file, overridden by environment
// variables, per spec.md §6's minimum recognized key set.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// LayerRoot pairs a layer label (base/community/org/project/user) with
// the directory tree it's discovered from.
type LayerRoot struct {
	Layer string `mapstructure:"layer"`
	Root  string `mapstructure:"root"`
}

// RetrievalWeights controls the relative contribution of each retrieval
// signal, per spec.md §6.
type RetrievalWeights struct {
	Lexical float64 `mapstructure:"lexical"`
	Vector  float64 `mapstructure:"vector"`
	Context float64 `mapstructure:"context"`
}

// Config is the full set of recognized configuration keys.
type Config struct {
	Layers []LayerRoot `mapstructure:"layers"`

	DefaultDisclosureLevel string `mapstructure:"default_disclosure_level"`
	DefaultTokenBudget     int    `mapstructure:"default_token_budget"`

	RetrievalWeights RetrievalWeights `mapstructure:"retrieval_weights"`
	EmbeddingBackend string           `mapstructure:"embedding_backend"`

	ResolveCacheCapacity  int           `mapstructure:"resolve_cache_capacity"`
	CooldownWindow        time.Duration `mapstructure:"cooldown_window"`
	CompositionDepthLimit int           `mapstructure:"composition_depth_limit"`
	WriteLockGracePeriod  time.Duration `mapstructure:"write_lock_grace_period"`

	DBPath      string `mapstructure:"db_path"`
	ArchiveRoot string `mapstructure:"archive_root"`
	LockPath    string `mapstructure:"lock_path"`
	TxLogPath   string `mapstructure:"tx_log_path"`

	BanditEnabled bool    `mapstructure:"bandit_enabled"`
	BanditEpsilon float64 `mapstructure:"bandit_epsilon"`

	LogLevel string `mapstructure:"log_level"`
	LogDir   string `mapstructure:"log_dir"`
}

// DefaultConfig returns the registry's built-in defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Layers: []LayerRoot{
			{Layer: "base", Root: home + "/.skillregistry/base"},
			{Layer: "community", Root: home + "/.skillregistry/community"},
			{Layer: "org", Root: home + "/.skillregistry/org"},
			{Layer: "project", Root: "./.skillregistry"},
			{Layer: "user", Root: home + "/.skillregistry/user"},
		},
		DefaultDisclosureLevel: "summary",
		DefaultTokenBudget:     4000,
		RetrievalWeights:       RetrievalWeights{Lexical: 1.0, Vector: 1.0, Context: 0.5},
		EmbeddingBackend:       "hash-v1",
		ResolveCacheCapacity:   512,
		CooldownWindow:         10 * time.Minute,
		CompositionDepthLimit:  16,
		WriteLockGracePeriod:   5 * time.Second,
		DBPath:                 home + "/.skillregistry/registry.db",
		ArchiveRoot:            home + "/.skillregistry/archive",
		LockPath:               home + "/.skillregistry/registry.lock",
		TxLogPath:              home + "/.skillregistry/txlog",
		BanditEnabled:          true,
		BanditEpsilon:          0.1,
		LogLevel:               "info",
	}
}

// Load reads configuration from (in increasing priority order) the
// built-in defaults, a config file, then environment variables.
// configPath, if empty, is resolved from SKILLREG_CONFIG or a default
// search path; rootOverride, if non-empty, overrides every layer root
// with the same single directory tree (per SKILLREG_ROOT).
func Load(configPath, rootOverride string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("SKILLREG")
	v.AutomaticEnv()

	if configPath == "" {
		configPath = os.Getenv("SKILLREG_CONFIG")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("skillregistry")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		home, _ := os.UserHomeDir()
		v.AddConfigPath(home + "/.config/skillregistry")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if rootOverride == "" {
		rootOverride = os.Getenv("SKILLREG_ROOT")
	}
	if rootOverride != "" {
		for i := range cfg.Layers {
			cfg.Layers[i].Root = rootOverride
		}
	}

	return &cfg, nil
}

// JSONOutputRequested reports whether SKILLREG_JSON is set, forcing
// machine-readable CLI output regardless of config-file settings.
func JSONOutputRequested() bool {
	_, ok := os.LookupEnv("SKILLREG_JSON")
	return ok
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("default_disclosure_level", d.DefaultDisclosureLevel)
	v.SetDefault("default_token_budget", d.DefaultTokenBudget)
	v.SetDefault("retrieval_weights.lexical", d.RetrievalWeights.Lexical)
	v.SetDefault("retrieval_weights.vector", d.RetrievalWeights.Vector)
	v.SetDefault("retrieval_weights.context", d.RetrievalWeights.Context)
	v.SetDefault("embedding_backend", d.EmbeddingBackend)
	v.SetDefault("resolve_cache_capacity", d.ResolveCacheCapacity)
	v.SetDefault("cooldown_window", d.CooldownWindow)
	v.SetDefault("composition_depth_limit", d.CompositionDepthLimit)
	v.SetDefault("write_lock_grace_period", d.WriteLockGracePeriod)
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("archive_root", d.ArchiveRoot)
	v.SetDefault("lock_path", d.LockPath)
	v.SetDefault("tx_log_path", d.TxLogPath)
	v.SetDefault("bandit_enabled", d.BanditEnabled)
	v.SetDefault("bandit_epsilon", d.BanditEpsilon)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_dir", d.LogDir)

	layers := make([]map[string]any, 0, len(d.Layers))
	for _, l := range d.Layers {
		layers = append(layers, map[string]any{"layer": l.Layer, "root": l.Root})
	}
	v.SetDefault("layers", layers)
}
