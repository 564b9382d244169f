package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the voidwire daily pipeline.
type Config struct {
	General  GeneralConfig  `mapstructure:"general"`
	Server   ServerConfig   `mapstructure:"server"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	Timezone       string        `mapstructure:"timezone"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains the ops HTTP server settings.
type ServerConfig struct {
	Address     string `mapstructure:"address"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// LLMConfig contains language-model provider configurations.
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single gateway provider configuration.
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai only, for now
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration.
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig maps pipeline slots to model names.
type LLMRoutingConfig struct {
	Distill   string `mapstructure:"distill"`   // raw items -> signals
	Plan      string `mapstructure:"plan"`      // synthesis pass A
	Prose     string `mapstructure:"prose"`     // synthesis pass B
	Embedding string `mapstructure:"embedding"` // signal vectors
	Fallback  string `mapstructure:"fallback"`
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN renders the connection string, preferring the explicit URL.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings for the publish cache.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// SourcesConfig lists the content feeds distillation draws from.
type SourcesConfig struct {
	Feeds   []FeedConfig  `mapstructure:"feeds"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// FeedConfig describes one content source.
type FeedConfig struct {
	Name     string  `mapstructure:"name"`
	URL      string  `mapstructure:"url"`
	Kind     string  `mapstructure:"kind"` // json or html
	Weight   float64 `mapstructure:"weight"`
	MaxItems int     `mapstructure:"max_items"`
}

// PipelineConfig tunes selection, thread tracking and synthesis.
type PipelineConfig struct {
	Selection SelectionConfig `mapstructure:"selection"`
	Threads   ThreadsConfig   `mapstructure:"threads"`
	Synthesis SynthesisConfig `mapstructure:"synthesis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// SelectionConfig controls the stochastic signal selection stage.
type SelectionConfig struct {
	SelectCount     int      `mapstructure:"select_count"`
	WildCount       int      `mapstructure:"wild_count"`
	WildExcluded    []string `mapstructure:"wild_excluded_domains"`
	WildMinSummary  int      `mapstructure:"wild_min_summary"`
	WildFloorWeight float64  `mapstructure:"wild_floor_weight"`
	DiversityBonus  float64  `mapstructure:"diversity_bonus"`
}

// Normalize applies the reference defaults for unset values.
func (c SelectionConfig) Normalize() SelectionConfig {
	if c.SelectCount <= 0 {
		c.SelectCount = 9
	}
	if c.WildCount <= 0 {
		c.WildCount = 1
	}
	if len(c.WildExcluded) == 0 {
		c.WildExcluded = []string{"politics", "conflict"}
	}
	if c.WildMinSummary <= 0 {
		c.WildMinSummary = 20
	}
	if c.WildFloorWeight <= 0 {
		c.WildFloorWeight = 0.5
	}
	if c.DiversityBonus <= 0 {
		c.DiversityBonus = 1.5
	}
	return c
}

// ThreadsConfig controls longitudinal thread matching.
type ThreadsConfig struct {
	MatchThreshold float64 `mapstructure:"match_threshold"`
	DomainBonus    float64 `mapstructure:"domain_bonus"`
	StaleDays      int     `mapstructure:"stale_days"`
}

// Normalize applies the reference defaults for unset values.
func (c ThreadsConfig) Normalize() ThreadsConfig {
	if c.MatchThreshold <= 0 {
		c.MatchThreshold = 0.75
	}
	if c.DomainBonus <= 0 {
		c.DomainBonus = 0.1
	}
	if c.StaleDays <= 0 {
		c.StaleDays = 7
	}
	return c
}

// SynthesisConfig controls the two-pass generation protocol.
type SynthesisConfig struct {
	ProseAttempts    int     `mapstructure:"prose_attempts"`
	StartTemperature float64 `mapstructure:"start_temperature"`
	TemperatureStep  float64 `mapstructure:"temperature_step"`
	FloorTemperature float64 `mapstructure:"floor_temperature"`
}

// Normalize applies the reference defaults for unset values.
func (c SynthesisConfig) Normalize() SynthesisConfig {
	if c.ProseAttempts <= 0 {
		c.ProseAttempts = 3
	}
	if c.StartTemperature <= 0 {
		c.StartTemperature = 0.7
	}
	if c.TemperatureStep <= 0 {
		c.TemperatureStep = 0.1
	}
	if c.FloorTemperature <= 0 {
		c.FloorTemperature = 0.5
	}
	return c
}

// SchedulerConfig controls the unattended daily trigger.
type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CronSpec string `mapstructure:"cron_spec"`
}

// LoadConfig loads config from file, falling back to well-known paths.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("server.address", ":10700")
	viper.SetDefault("server.metrics_path", "/metrics")
	viper.SetDefault("general.timezone", "America/New_York")
	viper.SetDefault("pipeline.scheduler.cron_spec", "0 5 * * *")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("VOIDWIRE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Pipeline.Selection = config.Pipeline.Selection.Normalize()
	config.Pipeline.Threads = config.Pipeline.Threads.Normalize()
	config.Pipeline.Synthesis = config.Pipeline.Synthesis.Normalize()

	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	return &config
}
