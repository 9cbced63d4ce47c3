// Package config loads engine configuration from a YAML file and
// STACKSCOUT_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/stackscout/stackscout/internal/core"
	"github.com/stackscout/stackscout/internal/index"
	"github.com/stackscout/stackscout/internal/score"
)

// SourceConfig configures one upstream connector.
type SourceConfig struct {
	Enabled   bool
	BaseURL   string
	Token     string  // bearer token for authenticated registries, optional
	RateLimit float64 // requests per second against this upstream
	Burst     int
}

// Config is the validated, immutable engine configuration.
type Config struct {
	Sources map[core.Source]SourceConfig

	RefreshInterval  time.Duration
	CycleTimeout     time.Duration
	GlobalFetchCap   int64
	Workers          int
	EvictAfterMissed int
	StalenessHorizon time.Duration
	Weights          score.WeightTable

	LogLevel string
}

// Load reads configuration. cfgFile may be empty, in which case a
// config.yaml in the working directory is used when present; all values
// have defaults, so no file is required.
func Load(cfgFile string) (Config, error) {
	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("STACKSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := Config{
		Sources:          loadSources(v),
		RefreshInterval:  v.GetDuration("refresh_interval"),
		CycleTimeout:     v.GetDuration("cycle_timeout"),
		GlobalFetchCap:   v.GetInt64("global_fetch_cap"),
		Workers:          v.GetInt("workers"),
		EvictAfterMissed: v.GetInt("evict_after_missed_cycles"),
		StalenessHorizon: time.Duration(v.GetInt("staleness_horizon_days")) * 24 * time.Hour,
		Weights: score.WeightTable{
			Recency:   v.GetFloat64("weights.recency"),
			Frequency: v.GetFloat64("weights.frequency"),
			Community: v.GetFloat64("weights.community"),
			Security:  v.GetFloat64("weights.security"),
			License:   v.GetFloat64("weights.license"),
		},
		LogLevel: v.GetString("log_level"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("refresh_interval", "24h")
	v.SetDefault("cycle_timeout", "1h")
	v.SetDefault("global_fetch_cap", 8)
	v.SetDefault("workers", 4)
	v.SetDefault("evict_after_missed_cycles", index.DefaultEvictAfter)
	v.SetDefault("staleness_horizon_days", 730)
	v.SetDefault("log_level", "info")

	w := score.DefaultWeights()
	v.SetDefault("weights.recency", w.Recency)
	v.SetDefault("weights.frequency", w.Frequency)
	v.SetDefault("weights.community", w.Community)
	v.SetDefault("weights.security", w.Security)
	v.SetDefault("weights.license", w.License)

	for _, src := range []core.Source{core.SourcePyPI, core.SourceNPM, core.SourceMaven, core.SourceNuGet} {
		key := "sources." + string(src)
		v.SetDefault(key+".enabled", true)
		v.SetDefault(key+".base_url", "")
		v.SetDefault(key+".token", "")
		v.SetDefault(key+".rate_limit", 5.0)
		v.SetDefault(key+".burst", 5)
	}
}

func loadSources(v *viper.Viper) map[core.Source]SourceConfig {
	sources := make(map[core.Source]SourceConfig)
	for _, src := range []core.Source{core.SourcePyPI, core.SourceNPM, core.SourceMaven, core.SourceNuGet} {
		key := "sources." + string(src)
		sources[src] = SourceConfig{
			Enabled:   v.GetBool(key + ".enabled"),
			BaseURL:   v.GetString(key + ".base_url"),
			Token:     v.GetString(key + ".token"),
			RateLimit: v.GetFloat64(key + ".rate_limit"),
			Burst:     v.GetInt(key + ".burst"),
		}
	}
	return sources
}

func (c Config) validate() error {
	if c.RefreshInterval <= 0 {
		return &core.InvalidArgumentError{Reason: "refresh_interval must be positive"}
	}
	if c.CycleTimeout <= 0 {
		return &core.InvalidArgumentError{Reason: "cycle_timeout must be positive"}
	}
	if c.EvictAfterMissed < 1 {
		return &core.InvalidArgumentError{Reason: "evict_after_missed_cycles must be at least 1"}
	}
	if c.StalenessHorizon <= 0 {
		return &core.InvalidArgumentError{Reason: "staleness_horizon_days must be positive"}
	}
	for src, sc := range c.Sources {
		if sc.Enabled && sc.RateLimit <= 0 {
			return &core.InvalidArgumentError{Reason: fmt.Sprintf("sources.%s.rate_limit must be positive", src)}
		}
	}
	// Weight validation lives with the scorer; surface it at load time.
	if _, err := score.New(c.Weights); err != nil {
		return err
	}
	return nil
}
