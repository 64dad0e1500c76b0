package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete Focal configuration.
type Config struct {
	LogLevel string `mapstructure:"logLevel"`

	Watcher WatcherConfig `mapstructure:"watcher"`
	Indexer IndexerConfig `mapstructure:"indexer"`
	Context ContextConfig `mapstructure:"context"`
	Server  ServerConfig  `mapstructure:"server"`
}

// WatcherConfig controls the filesystem watcher (§4.D).
type WatcherConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	DebounceMs     int      `mapstructure:"debounceMs"`
	IgnorePatterns []string `mapstructure:"ignorePatterns"`
}

// IndexerConfig controls the indexing pipeline (§4.B).
type IndexerConfig struct {
	ExcludePatterns  []string `mapstructure:"excludePatterns"`
	MaxFileSizeBytes int64    `mapstructure:"maxFileSizeBytes"`
}

// ContextConfig holds capsule construction settings (§4.E). They are loaded
// and defaulted here but not read elsewhere: the context engine uses fixed
// values (5 pivots, a tenth of the budget for memories, one-hop expansion)
// and get_context defaults max_tokens to 12000.
type ContextConfig struct {
	DefaultMaxTokens     int     `mapstructure:"defaultMaxTokens"`
	MemoryBudgetFraction float64 `mapstructure:"memoryBudgetFraction"`
	PivotCount           int     `mapstructure:"pivotCount"`
	ExpansionDepth       int     `mapstructure:"expansionDepth"`
}

// ServerConfig controls the HTTP transport variant (§6).
type ServerConfig struct {
	HTTPPort int `mapstructure:"httpPort"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Watcher: WatcherConfig{
			Enabled:    true,
			DebounceMs: 500,
			IgnorePatterns: []string{
				"node_modules", ".git", "vendor", "target", "dist", "__pycache__",
			},
		},
		Indexer: IndexerConfig{
			ExcludePatterns: []string{
				"node_modules", ".git", "vendor", "target", "dist", "__pycache__",
			},
			MaxFileSizeBytes: 500_000,
		},
		Context: ContextConfig{
			DefaultMaxTokens:     12000,
			MemoryBudgetFraction: 0.1,
			PivotCount:           5,
			ExpansionDepth:       1,
		},
		Server: ServerConfig{
			HTTPPort: 3100,
		},
	}
}

// Load reads configuration from an optional focal.toml/focal.yaml in the
// current directory, overridable by FOCAL_*-prefixed environment variables.
// Absence of a config file is not an error: the defaults apply.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("focal")
	v.AddConfigPath(".")
	v.SetEnvPrefix("FOCAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only consults the environment for keys viper already
	// knows, so every config key is bound explicitly.
	for _, key := range []string{
		"logLevel",
		"watcher.enabled", "watcher.debounceMs", "watcher.ignorePatterns",
		"indexer.excludePatterns", "indexer.maxFileSizeBytes",
		"context.defaultMaxTokens", "context.memoryBudgetFraction",
		"context.pivotCount", "context.expansionDepth",
		"server.httpPort",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
