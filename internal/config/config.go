// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration object for a solver run. It is populated
// from defaults, an optional config.yaml, and WEBNAV_* environment overrides.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Challenge ChallengeConfig `mapstructure:"challenge" yaml:"challenge"`
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Report    ReportConfig    `mapstructure:"report" yaml:"report"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names used for each log level on the console.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless       bool     `mapstructure:"headless" yaml:"headless"`
	UserAgent      string   `mapstructure:"user_agent" yaml:"user_agent"`
	Args           []string `mapstructure:"args" yaml:"args"`
	ViewportWidth  int      `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int      `mapstructure:"viewport_height" yaml:"viewport_height"`
}

// ChallengeConfig describes the target challenge and the budgets the solver
// must respect while working through it.
type ChallengeConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	TotalSteps     int           `mapstructure:"total_steps" yaml:"total_steps"`
	TimeBudget     time.Duration `mapstructure:"time_budget" yaml:"time_budget"`
	StepTimeout    time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	StuckThreshold int           `mapstructure:"stuck_threshold" yaml:"stuck_threshold"`
	SessionKey     string        `mapstructure:"session_key" yaml:"session_key"`
	CryptoKey      string        `mapstructure:"crypto_key" yaml:"crypto_key"`
	OverlayZIndex  int           `mapstructure:"overlay_zindex" yaml:"overlay_zindex"`
}

// LLMConfig configures the remote model calls made by the classifier tiers.
type LLMConfig struct {
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	FastModel         string        `mapstructure:"fast_model" yaml:"fast_model"`
	VisionModel       string        `mapstructure:"vision_model" yaml:"vision_model"`
	TimeoutFast       time.Duration `mapstructure:"timeout_fast" yaml:"timeout_fast"`
	TimeoutVision     time.Duration `mapstructure:"timeout_vision" yaml:"timeout_vision"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// ReportConfig controls the final run report.
type ReportConfig struct {
	// Output is an optional path for the machine-readable JSON report.
	// The human-readable summary always goes to the console.
	Output string `mapstructure:"output" yaml:"output"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webnav")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 720)

	// -- Challenge --
	v.SetDefault("challenge.url", "https://serene-frangipane-7fd25b.netlify.app")
	v.SetDefault("challenge.total_steps", 30)
	v.SetDefault("challenge.time_budget", 295*time.Second)
	v.SetDefault("challenge.step_timeout", 15*time.Second)
	v.SetDefault("challenge.max_attempts", 5)
	v.SetDefault("challenge.stuck_threshold", 3)
	v.SetDefault("challenge.session_key", "wo_session")
	v.SetDefault("challenge.crypto_key", "WO_2024_CHALLENGE")
	v.SetDefault("challenge.overlay_zindex", 500)

	// -- LLM --
	v.SetDefault("llm.endpoint", "https://generativelanguage.googleapis.com/v1beta/models")
	v.SetDefault("llm.fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.vision_model", "gemini-2.5-pro")
	v.SetDefault("llm.timeout_fast", 8*time.Second)
	v.SetDefault("llm.timeout_vision", 20*time.Second)
	v.SetDefault("llm.requests_per_second", 2.0)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 1024)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with static defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper builds and validates a configuration from a viper
// instance that has already loaded defaults, file and environment sources.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Sensitive values come from the environment only.
	_ = v.BindEnv("llm.api_key", "WEBNAV_LLM_API_KEY", "GEMINI_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants the solver depends on.
func (c *Config) Validate() error {
	if c.Challenge.URL == "" {
		return fmt.Errorf("challenge.url must not be empty")
	}
	if c.Challenge.TotalSteps <= 0 {
		return fmt.Errorf("challenge.total_steps must be positive, got %d", c.Challenge.TotalSteps)
	}
	if c.Challenge.TimeBudget <= 0 {
		return fmt.Errorf("challenge.time_budget must be positive, got %s", c.Challenge.TimeBudget)
	}
	if c.Challenge.MaxAttempts <= 0 {
		return fmt.Errorf("challenge.max_attempts must be positive, got %d", c.Challenge.MaxAttempts)
	}
	if c.Challenge.StuckThreshold <= 0 {
		return fmt.Errorf("challenge.stuck_threshold must be positive, got %d", c.Challenge.StuckThreshold)
	}
	if c.Challenge.StuckThreshold > c.Challenge.MaxAttempts {
		return fmt.Errorf("challenge.stuck_threshold (%d) must not exceed challenge.max_attempts (%d)",
			c.Challenge.StuckThreshold, c.Challenge.MaxAttempts)
	}
	if c.Challenge.CryptoKey == "" {
		return fmt.Errorf("challenge.crypto_key must not be empty")
	}
	return nil
}
