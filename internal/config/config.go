package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig
	LLM      LLMConfig
	Engine   EngineConfig
	Log      LogConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// LLMConfig holds classifier/embedding provider settings.
type LLMConfig struct {
	Provider       string
	APIKeyEnv      string `mapstructure:"api_key_env"`
	APIKey         string `mapstructure:"api_key"`
	Model          string
	EmbeddingModel string `mapstructure:"embedding_model"`
	BatchSize      int    `mapstructure:"batch_size"`
}

// EngineConfig exposes analysis thresholds. The original behaviour baked most
// of these in as constants; they are configuration here so deployments can
// tune them without a rebuild.
type EngineConfig struct {
	MaxIterations           int     `mapstructure:"max_iterations"`
	BatchSize               int     `mapstructure:"batch_size"`
	TransferWindowDays      int     `mapstructure:"transfer_window_days"`
	AmountTolerancePercent  float64 `mapstructure:"amount_tolerance_percent"`
	AmountToleranceCents    int64   `mapstructure:"amount_tolerance_cents"`
	IntervalTolerancePct    float64 `mapstructure:"interval_tolerance_pct"`
	IntervalToleranceDays   int     `mapstructure:"interval_tolerance_days"`
	MinRecurringOccurrences int     `mapstructure:"min_recurring_occurrences"`
	SpendingMinTransactions int     `mapstructure:"spending_min_transactions"`
	SpendingWindowDays      int     `mapstructure:"spending_window_days"`
	SpendingTopMerchants    int     `mapstructure:"spending_top_merchants"`
	MergeThreshold          float64 `mapstructure:"merge_threshold"`
	EmbeddingThreshold      float64 `mapstructure:"embedding_threshold"`
	LLMConfidenceFloor      float64 `mapstructure:"llm_confidence_floor"`
	KeywordLearning         bool    `mapstructure:"keyword_learning"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
}

// Load reads configuration from file and env. Env var overrides use prefix LEDGERLENS_.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "ledgerlens", "ledgerlens.db"))
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.api_key_env", "GEMINI_API_KEY")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.embedding_model", "gemini-embedding-001")
	v.SetDefault("llm.batch_size", 25)
	v.SetDefault("engine.max_iterations", 10)
	v.SetDefault("engine.batch_size", 100)
	v.SetDefault("engine.transfer_window_days", 3)
	v.SetDefault("engine.amount_tolerance_percent", 5.0)
	v.SetDefault("engine.amount_tolerance_cents", 200)
	v.SetDefault("engine.interval_tolerance_pct", 15.0)
	v.SetDefault("engine.interval_tolerance_days", 3)
	v.SetDefault("engine.min_recurring_occurrences", 2)
	v.SetDefault("engine.spending_min_transactions", 5)
	v.SetDefault("engine.spending_window_days", 90)
	v.SetDefault("engine.spending_top_merchants", 3)
	v.SetDefault("engine.merge_threshold", 0.82)
	v.SetDefault("engine.embedding_threshold", 0.74)
	v.SetDefault("engine.llm_confidence_floor", 0.70)
	v.SetDefault("engine.keyword_learning", true)
	v.SetDefault("log.level", "info")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("LEDGERLENS_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "ledgerlens"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("LEDGERLENS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects out-of-range thresholds before any work is attempted.
func (e EngineConfig) Validate() error {
	if e.MaxIterations < 1 {
		return fmt.Errorf("config: engine.max_iterations must be >= 1, got %d", e.MaxIterations)
	}
	if e.BatchSize < 1 {
		return fmt.Errorf("config: engine.batch_size must be >= 1, got %d", e.BatchSize)
	}
	if e.TransferWindowDays < 0 {
		return fmt.Errorf("config: engine.transfer_window_days must be >= 0, got %d", e.TransferWindowDays)
	}
	if e.MergeThreshold < 0 || e.MergeThreshold > 1 {
		return fmt.Errorf("config: engine.merge_threshold must be within [0,1], got %v", e.MergeThreshold)
	}
	if e.EmbeddingThreshold < 0 || e.EmbeddingThreshold > 1 {
		return fmt.Errorf("config: engine.embedding_threshold must be within [0,1], got %v", e.EmbeddingThreshold)
	}
	if e.LLMConfidenceFloor < 0 || e.LLMConfidenceFloor > 1 {
		return fmt.Errorf("config: engine.llm_confidence_floor must be within [0,1], got %v", e.LLMConfidenceFloor)
	}
	return nil
}

// Save writes the provided config to disk, creating the config directory if needed.
// The API key is stored in plain text in the config file; encourage users to prefer
// env vars or the secrets store.
func Save(cfg Config) error {
	path := os.Getenv("LEDGERLENS_CONFIG")
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".config", "ledgerlens", "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("llm.provider", cfg.LLM.Provider)
	v.Set("llm.api_key_env", cfg.LLM.APIKeyEnv)
	v.Set("llm.api_key", cfg.LLM.APIKey)
	v.Set("llm.model", cfg.LLM.Model)
	v.Set("llm.embedding_model", cfg.LLM.EmbeddingModel)
	v.Set("llm.batch_size", cfg.LLM.BatchSize)
	v.Set("engine.max_iterations", cfg.Engine.MaxIterations)
	v.Set("engine.batch_size", cfg.Engine.BatchSize)
	v.Set("engine.transfer_window_days", cfg.Engine.TransferWindowDays)
	v.Set("engine.amount_tolerance_percent", cfg.Engine.AmountTolerancePercent)
	v.Set("engine.amount_tolerance_cents", cfg.Engine.AmountToleranceCents)
	v.Set("engine.interval_tolerance_pct", cfg.Engine.IntervalTolerancePct)
	v.Set("engine.interval_tolerance_days", cfg.Engine.IntervalToleranceDays)
	v.Set("engine.min_recurring_occurrences", cfg.Engine.MinRecurringOccurrences)
	v.Set("engine.spending_min_transactions", cfg.Engine.SpendingMinTransactions)
	v.Set("engine.spending_window_days", cfg.Engine.SpendingWindowDays)
	v.Set("engine.spending_top_merchants", cfg.Engine.SpendingTopMerchants)
	v.Set("engine.merge_threshold", cfg.Engine.MergeThreshold)
	v.Set("engine.embedding_threshold", cfg.Engine.EmbeddingThreshold)
	v.Set("engine.llm_confidence_floor", cfg.Engine.LLMConfidenceFloor)
	v.Set("engine.keyword_learning", cfg.Engine.KeywordLearning)
	v.Set("log.level", cfg.Log.Level)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
