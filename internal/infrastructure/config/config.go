package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the static application configuration, loaded once at startup.
type Config struct {
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Context  ContextConfig  `mapstructure:"context"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Pty      PtyConfig      `mapstructure:"pty"`
	Paths    PathsConfig    `mapstructure:"paths"`
}

// GatewayConfig configures the HTTP server.
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // local, production
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LLMConfig bounds model invocations.
type LLMConfig struct {
	TimeoutSec int         `mapstructure:"timeout_sec"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig is the 5xx retry policy.
type RetryConfig struct {
	MaxRetries   int     `mapstructure:"max_retries"`
	BaseDelaySec float64 `mapstructure:"base_delay_sec"`
	MaxDelaySec  float64 `mapstructure:"max_delay_sec"`
}

// Timeout returns the per-call deadline.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// ContextConfig controls history compression and truncation.
type ContextConfig struct {
	CompressionEnabled bool `mapstructure:"compression_enabled"`
	CompressStartPct   int  `mapstructure:"compress_start_pct"`
	CompressTargetPct  int  `mapstructure:"compress_target_pct"`
	MinKeepMessages    int  `mapstructure:"min_keep_messages"`
	KeepRecentCalls    int  `mapstructure:"keep_recent_calls"`
	StepCalls          int  `mapstructure:"step_calls"`

	TruncateLongData  bool `mapstructure:"truncate_long_data"`
	LongDataThreshold int  `mapstructure:"long_data_threshold"`
	LongDataHeadChars int  `mapstructure:"long_data_head_chars"`
	LongDataTailChars int  `mapstructure:"long_data_tail_chars"`
}

// AgentConfig bounds the reasoning loop.
type AgentConfig struct {
	ReactMaxIterations int     `mapstructure:"react_max_iterations"`
	Temperature        float64 `mapstructure:"temperature"`
	TitleTimeoutSec    int     `mapstructure:"title_timeout_sec"`
}

// PtyConfig bounds interactive terminal processes.
type PtyConfig struct {
	BufferSize    int `mapstructure:"buffer_size"`
	IdleTimeoutMs int `mapstructure:"idle_timeout_ms"`
}

// PathsConfig locates the data directories. Unset entries fall back to
// DATA_DIR, SNAPSHOT_DIR and DB_PATH respectively (tools_config has no
// environment variable), then to a default: ~/.atelier for the data
// directory, a path under the data directory for the others.
type PathsConfig struct {
	DataDir     string `mapstructure:"data_dir"`
	SnapshotDir string `mapstructure:"snapshot_dir"`
	DBPath      string `mapstructure:"db_path"`
	ToolsConfig string `mapstructure:"tools_config"`
}

// Load reads configuration from defaults, the file at APP_CONFIG_PATH (or
// ./config.yaml), and ATELIER_* environment variables, then validates it.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path := os.Getenv("APP_CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("ATELIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvPaths(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "127.0.0.1")
	v.SetDefault("gateway.port", 17870)
	v.SetDefault("gateway.mode", "local")

	v.SetDefault("database.type", "sqlite")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("llm.timeout_sec", 180)
	v.SetDefault("llm.retry.max_retries", 5)
	v.SetDefault("llm.retry.base_delay_sec", 1.0)
	v.SetDefault("llm.retry.max_delay_sec", 8.0)

	v.SetDefault("context.compression_enabled", true)
	v.SetDefault("context.compress_start_pct", 75)
	v.SetDefault("context.compress_target_pct", 55)
	v.SetDefault("context.min_keep_messages", 1)
	v.SetDefault("context.keep_recent_calls", 10)
	v.SetDefault("context.step_calls", 5)
	v.SetDefault("context.truncate_long_data", true)
	v.SetDefault("context.long_data_threshold", 4000)
	v.SetDefault("context.long_data_head_chars", 1200)
	v.SetDefault("context.long_data_tail_chars", 800)

	v.SetDefault("agent.react_max_iterations", 5)
	v.SetDefault("agent.temperature", 0.7)
	v.SetDefault("agent.title_timeout_sec", 15)

	v.SetDefault("pty.buffer_size", 2*1024*1024)
	v.SetDefault("pty.idle_timeout_ms", 0)
}

// applyEnvPaths resolves the data directories from the environment when not
// set in the file.
func applyEnvPaths(cfg *Config) {
	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = os.Getenv("DATA_DIR")
	}
	if cfg.Paths.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.Paths.DataDir = filepath.Join(home, ".atelier")
	}
	if cfg.Paths.SnapshotDir == "" {
		cfg.Paths.SnapshotDir = os.Getenv("SNAPSHOT_DIR")
	}
	if cfg.Paths.SnapshotDir == "" {
		cfg.Paths.SnapshotDir = filepath.Join(cfg.Paths.DataDir, "snapshots")
	}
	if cfg.Paths.DBPath == "" {
		cfg.Paths.DBPath = os.Getenv("DB_PATH")
	}
	if cfg.Paths.DBPath == "" {
		cfg.Paths.DBPath = filepath.Join(cfg.Paths.DataDir, "atelier.db")
	}
	if cfg.Paths.ToolsConfig == "" {
		cfg.Paths.ToolsConfig = filepath.Join(cfg.Paths.DataDir, "tools_config.json")
	}
	if cfg.Database.DSN == "" && cfg.Database.Type == "sqlite" {
		cfg.Database.DSN = cfg.Paths.DBPath
	}
}

func normalize(cfg *Config) {
	if cfg.LLM.TimeoutSec <= 0 {
		cfg.LLM.TimeoutSec = 180
	}
	if cfg.LLM.Retry.MaxRetries <= 0 {
		cfg.LLM.Retry.MaxRetries = 5
	}
	if cfg.LLM.Retry.BaseDelaySec <= 0 {
		cfg.LLM.Retry.BaseDelaySec = 1.0
	}
	if cfg.LLM.Retry.MaxDelaySec < cfg.LLM.Retry.BaseDelaySec {
		cfg.LLM.Retry.MaxDelaySec = 8.0
	}
	if cfg.Agent.TitleTimeoutSec <= 0 {
		cfg.Agent.TitleTimeoutSec = 15
	}
}

func validate(cfg *Config) error {
	if cfg.LLM.TimeoutSec > 3600 {
		return fmt.Errorf("llm.timeout_sec must be at most 3600, got %d", cfg.LLM.TimeoutSec)
	}
	if cfg.Agent.ReactMaxIterations < 1 || cfg.Agent.ReactMaxIterations > 200 {
		return fmt.Errorf("agent.react_max_iterations must be in 1..200, got %d", cfg.Agent.ReactMaxIterations)
	}
	ctx := cfg.Context
	if ctx.CompressStartPct < 1 || ctx.CompressStartPct > 100 {
		return fmt.Errorf("context.compress_start_pct must be in 1..100, got %d", ctx.CompressStartPct)
	}
	if ctx.CompressTargetPct < 1 || ctx.CompressTargetPct > 100 {
		return fmt.Errorf("context.compress_target_pct must be in 1..100, got %d", ctx.CompressTargetPct)
	}
	if ctx.CompressTargetPct >= ctx.CompressStartPct {
		return fmt.Errorf("context.compress_target_pct (%d) must be below compress_start_pct (%d)",
			ctx.CompressTargetPct, ctx.CompressStartPct)
	}
	if ctx.MinKeepMessages < 1 {
		return fmt.Errorf("context.min_keep_messages must be at least 1, got %d", ctx.MinKeepMessages)
	}
	if ctx.KeepRecentCalls < 0 {
		return fmt.Errorf("context.keep_recent_calls must be non-negative, got %d", ctx.KeepRecentCalls)
	}
	if ctx.StepCalls < 1 || (ctx.KeepRecentCalls > 0 && ctx.StepCalls > ctx.KeepRecentCalls) {
		return fmt.Errorf("context.step_calls must be in 1..keep_recent_calls, got %d", ctx.StepCalls)
	}
	if ctx.LongDataHeadChars+ctx.LongDataTailChars > ctx.LongDataThreshold {
		return fmt.Errorf("context.long_data_head_chars + long_data_tail_chars must not exceed long_data_threshold")
	}
	return nil
}
