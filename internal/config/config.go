package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Twitter   TwitterConfig   `mapstructure:"twitter"`
	Cycle     CycleConfig     `mapstructure:"cycle"`
	CoinGecko CoinGeckoConfig `mapstructure:"coingecko"`
	Tweet     TweetConfig     `mapstructure:"tweet"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Status    StatusConfig    `mapstructure:"status"`
}

// LLMConfig holds the chat-completion endpoint settings.
type LLMConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// TwitterConfig holds the account credentials and the pages the publisher visits.
type TwitterConfig struct {
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	LoginURL   string `mapstructure:"login_url"`
	ComposeURL string `mapstructure:"compose_url"`
}

// CycleConfig controls the posting loop.
type CycleConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	IntervalMinutes int           `mapstructure:"interval_minutes"`
	PenaltySleep    time.Duration `mapstructure:"penalty_sleep"`
}

// Interval is the time between the starts of two cycles.
func (c CycleConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// CoinGeckoConfig holds the markets request parameters.
type CoinGeckoConfig struct {
	BaseURL               string        `mapstructure:"base_url"`
	VsCurrency            string        `mapstructure:"vs_currency"`
	Order                 string        `mapstructure:"order"`
	PerPage               int           `mapstructure:"per_page"`
	Page                  int           `mapstructure:"page"`
	Sparkline             bool          `mapstructure:"sparkline"`
	PriceChangePercentage string        `mapstructure:"price_change_percentage"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	RequestsPerMinute     int           `mapstructure:"requests_per_minute"`
}

// TweetConfig holds the post length bounds, counted in characters.
type TweetConfig struct {
	MinLength      int `mapstructure:"min_length"`
	HardStopLength int `mapstructure:"hard_stop_length"`
}

// BrowserConfig holds the headless browser settings.
type BrowserConfig struct {
	Headless           bool          `mapstructure:"headless"`
	ExecPath           string        `mapstructure:"exec_path"`
	SelectorsFile      string        `mapstructure:"selectors_file"`
	DebugScreenshotDir string        `mapstructure:"debug_screenshot_dir"`
	PageLoadTimeout    time.Duration `mapstructure:"page_load_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
}

// RedisConfig enables the cross-instance cycle lock when URL is set.
type RedisConfig struct {
	URL     string        `mapstructure:"url"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// TelegramConfig enables operator alerts when both fields are set.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// Enabled reports whether alerts can be sent.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != 0
}

// TracingConfig controls the OTLP exporter.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// StatusConfig enables the status HTTP server when HTTPAddr is set.
type StatusConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
	APIKey   string `mapstructure:"api_key"`
}

// Load reads configuration from the optional file at path and from the
// environment. Environment variables always win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_tokens", 250)

	v.SetDefault("twitter.username", "")
	v.SetDefault("twitter.password", "")
	v.SetDefault("twitter.login_url", "https://twitter.com/i/flow/login")
	v.SetDefault("twitter.compose_url", "https://twitter.com/compose/tweet")

	v.SetDefault("cycle.max_retries", 3)
	v.SetDefault("cycle.interval_minutes", 60)
	v.SetDefault("cycle.penalty_sleep", "5m")

	v.SetDefault("coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("coingecko.vs_currency", "usd")
	v.SetDefault("coingecko.order", "market_cap_desc")
	v.SetDefault("coingecko.per_page", 20)
	v.SetDefault("coingecko.page", 1)
	v.SetDefault("coingecko.sparkline", false)
	v.SetDefault("coingecko.price_change_percentage", "1h,24h,7d")
	v.SetDefault("coingecko.connect_timeout", "30s")
	v.SetDefault("coingecko.read_timeout", "90s")
	v.SetDefault("coingecko.requests_per_minute", 30)

	v.SetDefault("tweet.min_length", 120)
	v.SetDefault("tweet.hard_stop_length", 280)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.selectors_file", "")
	v.SetDefault("browser.debug_screenshot_dir", "")
	v.SetDefault("browser.page_load_timeout", "45s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.dir", "logs")
	v.SetDefault("logging.console", true)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.lock_ttl", "10m")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")

	v.SetDefault("status.http_addr", "")
	v.SetDefault("status.api_key", "")
}

// bindEnv maps keys whose environment names do not follow the
// section_field pattern. The first non-empty variable wins.
func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"llm.api_key":                  {"LLM_API_KEY", "CLAUDE_API_KEY", "OPENAI_API_KEY"},
		"cycle.max_retries":            {"MAX_RETRIES"},
		"cycle.interval_minutes":       {"CORRELATION_INTERVAL"},
		"cycle.penalty_sleep":          {"PENALTY_SLEEP"},
		"browser.selectors_file":       {"SELECTORS_FILE", "BROWSER_SELECTORS_FILE"},
		"browser.debug_screenshot_dir": {"DEBUG_SCREENSHOT_DIR"},
		"logging.level":                {"LOG_LEVEL", "LOGGING_LEVEL"},
		"logging.format":               {"LOG_FORMAT", "LOGGING_FORMAT"},
		"tracing.endpoint":             {"OTEL_EXPORTER_OTLP_ENDPOINT", "TRACING_ENDPOINT"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Validate checks that all required settings are present and every value
// is in range. Missing credentials are reported together.
func (c *Config) Validate() error {
	var missing []string
	if c.LLM.APIKey == "" {
		missing = append(missing, "LLM_API_KEY")
	}
	if c.Twitter.Username == "" {
		missing = append(missing, "TWITTER_USERNAME")
	}
	if c.Twitter.Password == "" {
		missing = append(missing, "TWITTER_PASSWORD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.MaxTokens < 1 {
		return fmt.Errorf("llm.max_tokens must be at least 1")
	}
	if c.Twitter.LoginURL == "" || c.Twitter.ComposeURL == "" {
		return fmt.Errorf("twitter.login_url and twitter.compose_url are required")
	}

	if c.Cycle.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1")
	}
	if c.Cycle.IntervalMinutes < 1 {
		return fmt.Errorf("CORRELATION_INTERVAL must be at least 1 minute")
	}
	if c.Cycle.PenaltySleep <= 0 {
		return fmt.Errorf("PENALTY_SLEEP must be positive")
	}

	if c.CoinGecko.BaseURL == "" {
		return fmt.Errorf("coingecko.base_url is required")
	}
	if c.CoinGecko.PerPage < 1 || c.CoinGecko.PerPage > 250 {
		return fmt.Errorf("coingecko.per_page must be between 1 and 250")
	}
	if c.CoinGecko.Page < 1 {
		return fmt.Errorf("coingecko.page must be at least 1")
	}
	if c.CoinGecko.ConnectTimeout <= 0 || c.CoinGecko.ReadTimeout <= 0 {
		return fmt.Errorf("coingecko timeouts must be positive")
	}
	if c.CoinGecko.RequestsPerMinute < 1 {
		return fmt.Errorf("coingecko.requests_per_minute must be at least 1")
	}

	if c.Tweet.HardStopLength < 4 {
		return fmt.Errorf("tweet.hard_stop_length must be at least 4")
	}
	if c.Tweet.MinLength < 0 || c.Tweet.MinLength > c.Tweet.HardStopLength {
		return fmt.Errorf("tweet.min_length must be between 0 and tweet.hard_stop_length")
	}

	if c.Browser.PageLoadTimeout <= 0 {
		return fmt.Errorf("browser.page_load_timeout must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Redis.URL != "" && c.Redis.LockTTL < time.Second {
		return fmt.Errorf("redis.lock_ttl must be at least 1 second")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == 0) {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}

	return nil
}
