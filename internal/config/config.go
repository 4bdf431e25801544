// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Components depend on it so tests can hand them a tailored config.
type Interface interface {
	Logger() LoggerConfig
	Backend() BackendConfig
	Chat() ChatConfig
	Automation() AutomationConfig
	Inference() InferenceConfig
	Browser() BrowserConfig
	Store() StoreConfig

	SetBrowserHeadless(bool)
	SetAutomationMaxSteps(int)
	SetInferenceProvider(InferenceProvider)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	BackendCfg    BackendConfig    `mapstructure:"backend" yaml:"backend"`
	ChatCfg       ChatConfig       `mapstructure:"chat" yaml:"chat"`
	AutomationCfg AutomationConfig `mapstructure:"automation" yaml:"automation"`
	InferenceCfg  InferenceConfig  `mapstructure:"inference" yaml:"inference"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	StoreCfg      StoreConfig      `mapstructure:"store" yaml:"store"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Backend() BackendConfig       { return c.BackendCfg }
func (c *Config) Chat() ChatConfig             { return c.ChatCfg }
func (c *Config) Automation() AutomationConfig { return c.AutomationCfg }
func (c *Config) Inference() InferenceConfig   { return c.InferenceCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Store() StoreConfig           { return c.StoreCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)   { c.BrowserCfg.Headless = b }
func (c *Config) SetAutomationMaxSteps(n int) { c.AutomationCfg.MaxSteps = n }
func (c *Config) SetInferenceProvider(p InferenceProvider) {
	c.InferenceCfg.Provider = p
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

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BackendConfig describes the remote completion and persistence API.
type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	AgentID string        `mapstructure:"agent_id" yaml:"agent_id"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// Client side throttling. Zero RequestsPerSecond disables the limiter.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`

	// Transport level retries for transient failures.
	MaxRetries      uint64        `mapstructure:"max_retries" yaml:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`

	// Optional HS256 bearer tokens. Empty secret disables auth.
	JWTSecret string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTTTL    time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`
}

// ChatConfig configures the conversation orchestrator. ShowActionText keeps
// text the backend sends together with action requests as an extra assistant
// message; otherwise that text is dropped.
type ChatConfig struct {
	MaxActionDepth  int            `mapstructure:"max_action_depth" yaml:"max_action_depth"`
	PersistMessages bool           `mapstructure:"persist_messages" yaml:"persist_messages"`
	ShowActionText  bool           `mapstructure:"show_action_text" yaml:"show_action_text"`
	UserConfig      map[string]any `mapstructure:"user_config" yaml:"user_config"`
}

// AutomationConfig configures the perception/action loop and the executor.
type AutomationConfig struct {
	MaxSteps       int           `mapstructure:"max_steps" yaml:"max_steps"`
	StepDelay      time.Duration `mapstructure:"step_delay" yaml:"step_delay"`
	SettleDelay    time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	ScrollAmount   int           `mapstructure:"scroll_amount" yaml:"scroll_amount"`
	WaitDuration   time.Duration `mapstructure:"wait_duration" yaml:"wait_duration"`
	IncludeHistory bool          `mapstructure:"include_history" yaml:"include_history"`
}

// InferenceProvider selects how automation actions are inferred.
type InferenceProvider string

const (
	ProviderHTTP   InferenceProvider = "http"
	ProviderGemini InferenceProvider = "gemini"
)

// InferenceConfig configures the action inference service.
type InferenceConfig struct {
	Provider InferenceProvider `mapstructure:"provider" yaml:"provider"`
	// Endpoint is the full URL of the inference service. When empty it is
	// derived from backend.base_url.
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// InferencePath is appended to backend.base_url when no explicit endpoint is set.
const InferencePath = "/api/automation/infer"

// ResolveEndpoint returns the inference URL, falling back to the backend base URL.
func (i InferenceConfig) ResolveEndpoint(b BackendConfig) string {
	if i.Endpoint != "" {
		return i.Endpoint
	}
	return strings.TrimRight(b.BaseURL, "/") + InferencePath
}

// BrowserConfig holds settings for the headless browser.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug             bool           `mapstructure:"debug" yaml:"debug"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// StoreConfig configures persistence of automation run logs.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
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
	v.SetDefault("logger.service_name", "pagepilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Backend --
	v.SetDefault("backend.base_url", "http://localhost:3000")
	v.SetDefault("backend.agent_id", "")
	v.SetDefault("backend.timeout", "60s")
	v.SetDefault("backend.requests_per_second", 5.0)
	v.SetDefault("backend.burst", 5)
	v.SetDefault("backend.max_retries", 3)
	v.SetDefault("backend.initial_interval", "250ms")
	v.SetDefault("backend.max_interval", "5s")
	v.SetDefault("backend.jwt_ttl", "5m")

	// -- Chat --
	v.SetDefault("chat.max_action_depth", 8)
	v.SetDefault("chat.persist_messages", true)
	v.SetDefault("chat.show_action_text", false)

	// -- Automation --
	v.SetDefault("automation.max_steps", 10)
	v.SetDefault("automation.step_delay", "1s")
	v.SetDefault("automation.settle_delay", "300ms")
	v.SetDefault("automation.scroll_amount", 500)
	v.SetDefault("automation.wait_duration", "1s")
	v.SetDefault("automation.include_history", false)

	// -- Inference --
	v.SetDefault("inference.provider", string(ProviderHTTP))
	v.SetDefault("inference.model", "gemini-2.5-flash")
	v.SetDefault("inference.api_timeout", "60s")
	v.SetDefault("inference.temperature", 0.2)
	v.SetDefault("inference.max_tokens", 2048)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 800})
	v.SetDefault("browser.navigation_timeout", "30s")

	// -- Store --
	v.SetDefault("store.enabled", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are read from dedicated variables rather than config files.
	_ = v.BindEnv("inference.api_key", "PAGEPILOT_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("backend.jwt_secret", "PAGEPILOT_JWT_SECRET")
	_ = v.BindEnv("store.url", "PAGEPILOT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.BackendCfg.Validate(); err != nil {
		return fmt.Errorf("backend configuration invalid: %w", err)
	}
	if c.ChatCfg.MaxActionDepth <= 0 {
		return fmt.Errorf("chat.max_action_depth must be a positive integer")
	}
	if c.AutomationCfg.MaxSteps <= 0 {
		return fmt.Errorf("automation.max_steps must be a positive integer")
	}
	if c.AutomationCfg.ScrollAmount <= 0 {
		return fmt.Errorf("automation.scroll_amount must be a positive integer")
	}
	if c.AutomationCfg.StepDelay < 0 || c.AutomationCfg.SettleDelay < 0 || c.AutomationCfg.WaitDuration < 0 {
		return fmt.Errorf("automation delays must not be negative")
	}
	if err := c.InferenceCfg.Validate(); err != nil {
		return fmt.Errorf("inference configuration invalid: %w", err)
	}
	if c.StoreCfg.Enabled && c.StoreCfg.URL == "" {
		return fmt.Errorf("store.url is required when store.enabled is true")
	}
	return nil
}

// Validate checks the backend configuration.
func (b *BackendConfig) Validate() error {
	if b.BaseURL != "" {
		u, err := url.Parse(b.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("base_url must be an absolute URL, got %q", b.BaseURL)
		}
	}
	if b.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	if b.RequestsPerSecond > 0 && b.Burst <= 0 {
		return fmt.Errorf("burst must be positive when rate limiting is enabled")
	}
	return nil
}

// Validate checks the inference configuration.
func (i *InferenceConfig) Validate() error {
	switch i.Provider {
	case ProviderHTTP:
		return nil
	case ProviderGemini:
		if i.APIKey == "" {
			return fmt.Errorf("api_key is required for the gemini provider. Ensure PAGEPILOT_GEMINI_API_KEY is set")
		}
		if i.Model == "" {
			return fmt.Errorf("model is required for the gemini provider")
		}
		return nil
	default:
		return fmt.Errorf("unknown provider %q", i.Provider)
	}
}
