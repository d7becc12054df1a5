// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Agent() AgentConfig
	Evaluation() EvaluationConfig
	Metrics() MetricsConfig

	// Evaluation Setters (CLI flag overrides)
	SetEvaluationFrameworkPath(string)
	SetEvaluationSheet(string)
	SetEvaluationOutputPath(string)
	SetEvaluationEvidenceDir(string)

	// Browser Setters
	SetBrowserHeadless(bool)

	// Agent Setters
	SetLLMProvider(LLMProvider)
	SetLLMModel(string)
}

// Config holds the entire application configuration.
// Fields are exported for viper; everything else reads them through the Interface getters.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	NetworkCfg    NetworkConfig    `mapstructure:"network" yaml:"network"`
	AgentCfg      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	EvaluationCfg EvaluationConfig `mapstructure:"evaluation" yaml:"evaluation"`
	MetricsCfg    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Network() NetworkConfig       { return c.NetworkCfg }
func (c *Config) Agent() AgentConfig           { return c.AgentCfg }
func (c *Config) Evaluation() EvaluationConfig { return c.EvaluationCfg }
func (c *Config) Metrics() MetricsConfig       { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetEvaluationFrameworkPath(p string) { c.EvaluationCfg.FrameworkPath = p }
func (c *Config) SetEvaluationSheet(s string)         { c.EvaluationCfg.Sheet = s }
func (c *Config) SetEvaluationOutputPath(p string)    { c.EvaluationCfg.OutputPath = p }
func (c *Config) SetEvaluationEvidenceDir(d string)   { c.EvaluationCfg.EvidenceDir = d }
func (c *Config) SetBrowserHeadless(b bool)           { c.BrowserCfg.Headless = b }
func (c *Config) SetLLMProvider(p LLMProvider)        { c.AgentCfg.LLM.Provider = p }

// SetLLMModel overrides the model name of the active provider.
func (c *Config) SetLLMModel(model string) {
	if c.AgentCfg.LLM.Models == nil {
		c.AgentCfg.LLM.Models = make(map[string]LLMModelConfig)
	}
	key := string(c.AgentCfg.LLM.Provider)
	m := c.AgentCfg.LLM.Models[key]
	m.Model = model
	c.AgentCfg.LLM.Models[key] = m
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

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance driven by the evaluator.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
}

// ViewportConfig is the emulated window size in CSS pixels.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// NetworkConfig tunes page load and interaction timing.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	NavigationRetries int           `mapstructure:"navigation_retries" yaml:"navigation_retries"`
	// ScreenshotQuality of 100 produces PNG, anything lower produces JPEG.
	ScreenshotQuality int `mapstructure:"screenshot_quality" yaml:"screenshot_quality"`
}

// AgentConfig holds settings related to the model that drives the session.
type AgentConfig struct {
	LLM LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig selects the active provider and holds per-provider model settings.
type LLMRouterConfig struct {
	Provider  LLMProvider               `mapstructure:"provider" yaml:"provider"`
	Models    map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
	Retry     RetryConfig               `mapstructure:"retry" yaml:"retry"`
	RateLimit RateLimitConfig           `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// ActiveModel returns the configuration of the selected provider.
func (r LLMRouterConfig) ActiveModel() (LLMModelConfig, error) {
	m, ok := r.Models[string(r.Provider)]
	if !ok {
		return LLMModelConfig{}, fmt.Errorf("no model configured for provider '%s'", r.Provider)
	}
	if m.Provider == "" {
		m.Provider = r.Provider
	}
	return m, nil
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// RetryConfig bounds the exponential backoff applied to model calls.
type RetryConfig struct {
	MaxElapsed  time.Duration `mapstructure:"max_elapsed" yaml:"max_elapsed"`
	MaxInterval time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
}

// RateLimitConfig caps how often the model is queried. Zero disables the limit.
type RateLimitConfig struct {
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// EvaluationConfig locates the scoring framework and the artifacts of a session.
type EvaluationConfig struct {
	FrameworkPath    string `mapstructure:"framework_path" yaml:"framework_path"`
	Sheet            string `mapstructure:"sheet" yaml:"sheet"`
	OutputPath       string `mapstructure:"output_path" yaml:"output_path"`
	EvidenceDir      string `mapstructure:"evidence_dir" yaml:"evidence_dir"`
	EvidencePrefix   string `mapstructure:"evidence_prefix" yaml:"evidence_prefix"`
	ScreenshotDir    string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	SystemPromptFile string `mapstructure:"system_prompt_file" yaml:"system_prompt_file"`
	// MaxAutonomousTurns bounds consecutive model turns before the user is asked for input.
	MaxAutonomousTurns int `mapstructure:"max_autonomous_turns" yaml:"max_autonomous_turns"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "shopscope")
	v.SetDefault("logger.log_file", "shopscope.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport.width", 1200)
	v.SetDefault("browser.viewport.height", 1200)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "90s")
	v.SetDefault("network.action_timeout", "30s")
	v.SetDefault("network.post_load_wait", "1500ms")
	v.SetDefault("network.navigation_retries", 2)
	v.SetDefault("network.screenshot_quality", 100)

	// -- Agent --
	v.SetDefault("agent.llm.provider", string(ProviderOpenAI))
	v.SetDefault("agent.llm.models.openai.model", "gpt-4o")
	v.SetDefault("agent.llm.models.openai.api_timeout", "120s")
	v.SetDefault("agent.llm.models.openai.max_tokens", 1024)
	v.SetDefault("agent.llm.models.gemini.model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.models.gemini.api_timeout", "120s")
	v.SetDefault("agent.llm.models.gemini.max_tokens", 1024)
	v.SetDefault("agent.llm.retry.max_elapsed", "2m")
	v.SetDefault("agent.llm.retry.max_interval", "30s")
	v.SetDefault("agent.llm.rate_limit.requests_per_minute", 0)

	// -- Evaluation --
	v.SetDefault("evaluation.framework_path", "example-digital-assessment-framework.xlsx")
	v.SetDefault("evaluation.sheet", "Sheet1")
	v.SetDefault("evaluation.output_path", "assessment-results.xlsx")
	v.SetDefault("evaluation.evidence_dir", "evidence")
	v.SetDefault("evaluation.evidence_prefix", "row-")
	v.SetDefault("evaluation.screenshot_dir", ".")
	v.SetDefault("evaluation.max_autonomous_turns", 25)

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9464")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("agent.llm.models.openai.api_key", "SHOPSCOPE_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("agent.llm.models.gemini.api_key", "SHOPSCOPE_GEMINI_API_KEY", "GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the keys if Unmarshal didn't pick them up
	cfg.fillAPIKey(ProviderOpenAI, "OPENAI_API_KEY")
	cfg.fillAPIKey(ProviderGemini, "GEMINI_API_KEY")

	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) fillAPIKey(p LLMProvider, env string) {
	m, ok := c.AgentCfg.LLM.Models[string(p)]
	if !ok || m.APIKey != "" {
		return
	}
	m.APIKey = os.Getenv(env)
	c.AgentCfg.LLM.Models[string(p)] = m
}

// ExpandPaths resolves a leading ~ in every configured file system path.
func (c *Config) ExpandPaths() error {
	paths := []*string{
		&c.EvaluationCfg.FrameworkPath,
		&c.EvaluationCfg.OutputPath,
		&c.EvaluationCfg.EvidenceDir,
		&c.EvaluationCfg.ScreenshotDir,
		&c.EvaluationCfg.SystemPromptFile,
		&c.LoggerCfg.LogFile,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path '%s': %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EvaluationCfg.FrameworkPath == "" {
		return fmt.Errorf("evaluation.framework_path is a required configuration field")
	}
	if c.EvaluationCfg.OutputPath == "" {
		return fmt.Errorf("evaluation.output_path is a required configuration field")
	}
	if c.BrowserCfg.Viewport.Width <= 0 || c.BrowserCfg.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport width and height must be positive integers")
	}
	if q := c.NetworkCfg.ScreenshotQuality; q < 1 || q > 100 {
		return fmt.Errorf("network.screenshot_quality must be between 1 and 100")
	}
	if c.EvaluationCfg.MaxAutonomousTurns < 1 {
		return fmt.Errorf("evaluation.max_autonomous_turns must be at least 1")
	}
	if c.NetworkCfg.NavigationRetries < 0 {
		return fmt.Errorf("network.navigation_retries must not be negative")
	}
	if err := c.AgentCfg.LLM.Validate(); err != nil {
		return fmt.Errorf("agent.llm configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the LLM router configuration.
func (r *LLMRouterConfig) Validate() error {
	switch r.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unsupported provider '%s'. Supported: [%s, %s]", r.Provider, ProviderOpenAI, ProviderGemini)
	}
	m, err := r.ActiveModel()
	if err != nil {
		return err
	}
	if m.Model == "" {
		return fmt.Errorf("model name is required for provider '%s'", r.Provider)
	}
	if r.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}
	return nil
}
