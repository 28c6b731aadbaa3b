package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverLibSQL   = "libsql"
	DriverPostgres = "postgres"
)

// ErrInvalid marks a configuration value that failed validation.
var ErrInvalid = errors.New("invalid configuration")

// Config aggregates every setting the service reads at startup.
type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Telegram    TelegramConfig
	Store       StoreConfig
	Session     SessionConfig
	AI          AIConfig
	Breaker     BreakerConfig
	Mood        MoodConfig
	RateLimit   RateLimitConfig
	PersonaFile string
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
	// RequestsPerSecond caps HTTP requests across all clients. 0 disables it.
	RequestsPerSecond float64
	Burst             int
}

// LogConfig selects the log level and output format (console or json).
type LogConfig struct {
	Level  string
	Format string
}

// TelegramConfig describes the bot transport.
type TelegramConfig struct {
	Token       string
	PollTimeout time.Duration
	SendRetries int
}

// Enabled reports whether a bot token was provided.
func (c TelegramConfig) Enabled() bool {
	return c.Token != ""
}

// StoreConfig selects the log store backend.
type StoreConfig struct {
	Driver string
	DSN    string
}

// SessionConfig bounds per-user session memory.
type SessionConfig struct {
	MaxTurns    int
	MaxTokens   int
	MaxSessions int
}

// AIConfig describes the Ark chat model.
type AIConfig struct {
	APIKey       string
	AccessKey    string
	SecretKey    string
	Model        string
	BaseURL      string
	Region       string
	Temperature  *float64
	TopP         *float64
	MaxTokens    *int
	ReplyTimeout time.Duration
}

// BreakerConfig tunes the circuit breaker around reply generation.
type BreakerConfig struct {
	MaxFailures int
	Timeout     time.Duration
}

// MoodConfig controls mood inference from free text.
type MoodConfig struct {
	InferenceEnabled bool
	LLMEnabled       bool
	MinConfidence    float64
	// Timeout bounds one inference call.
	Timeout time.Duration
}

// RateLimitConfig bounds inbound messages per user. PerMinute 0 disables it.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("http.rate_limit", 50)
	v.SetDefault("http.rate_burst", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.poll_timeout", "10s")
	v.SetDefault("telegram.send_retries", 3)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dsn", "mental_health_bot.db")
	v.SetDefault("session.max_turns", 10)
	v.SetDefault("session.max_tokens", 0)
	v.SetDefault("session.max_sessions", 1024)
	v.SetDefault("reply_timeout", "60s")
	v.SetDefault("ark.api_key", "")
	v.SetDefault("ark.access_key", "")
	v.SetDefault("ark.secret_key", "")
	v.SetDefault("ark.model", "")
	v.SetDefault("ark.base_url", "https://ark.cn-beijing.volces.com/api/v3")
	v.SetDefault("ark.region", "cn-beijing")
	v.SetDefault("ark.temperature", 0.7)
	v.SetDefault("ark.top_p", "")
	v.SetDefault("ark.max_tokens", "")
	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.timeout", "30s")
	v.SetDefault("mood.inference_enabled", false)
	v.SetDefault("mood.llm_enabled", false)
	v.SetDefault("mood.min_confidence", 0.6)
	v.SetDefault("mood.timeout", "10s")
	v.SetDefault("rate_limit.per_minute", 20)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("persona_file", "")
}

// Load reads configuration from the environment and, when CONFIG_FILE is
// set, from that YAML file. Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	p := parser{v: v}

	server, err := parseAddr(v.GetString("port"))
	if err != nil {
		return nil, err
	}

	server.RequestsPerSecond = p.float("http.rate_limit")
	server.Burst = p.integer("http.rate_burst")

	cfg := &Config{
		Server: server,
		Log: LogConfig{
			Level:  strings.ToLower(p.str("log.level")),
			Format: strings.ToLower(p.str("log.format")),
		},
		Telegram: TelegramConfig{
			Token:       p.str("telegram.bot_token"),
			PollTimeout: p.duration("telegram.poll_timeout"),
			SendRetries: p.integer("telegram.send_retries"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(p.str("store.driver")),
			DSN:    p.str("store.dsn"),
		},
		Session: SessionConfig{
			MaxTurns:    p.integer("session.max_turns"),
			MaxTokens:   p.integer("session.max_tokens"),
			MaxSessions: p.integer("session.max_sessions"),
		},
		AI: AIConfig{
			APIKey:       p.str("ark.api_key"),
			AccessKey:    p.str("ark.access_key"),
			SecretKey:    p.str("ark.secret_key"),
			Model:        p.str("ark.model"),
			BaseURL:      p.str("ark.base_url"),
			Region:       p.str("ark.region"),
			Temperature:  p.optionalFloat("ark.temperature"),
			TopP:         p.optionalFloat("ark.top_p"),
			MaxTokens:    p.optionalInt("ark.max_tokens"),
			ReplyTimeout: p.duration("reply_timeout"),
		},
		Breaker: BreakerConfig{
			MaxFailures: p.integer("breaker.max_failures"),
			Timeout:     p.duration("breaker.timeout"),
		},
		Mood: MoodConfig{
			InferenceEnabled: p.boolean("mood.inference_enabled"),
			LLMEnabled:       p.boolean("mood.llm_enabled"),
			MinConfidence:    p.float("mood.min_confidence"),
			Timeout:          p.duration("mood.timeout"),
		},
		RateLimit: RateLimitConfig{
			PerMinute: p.integer("rate_limit.per_minute"),
			Burst:     p.integer("rate_limit.burst"),
		},
		PersonaFile: p.str("persona_file"),
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	switch c.Store.Driver {
	case DriverMemory, DriverSQLite, DriverLibSQL, DriverPostgres:
	default:
		check(false, "STORE_DRIVER %q is not one of memory, sqlite, libsql, postgres", c.Store.Driver)
	}
	check(c.Store.Driver == DriverMemory || c.Store.DSN != "", "STORE_DSN is required for driver %s", c.Store.Driver)
	check(c.Log.Format == "console" || c.Log.Format == "json", "LOG_FORMAT %q is not console or json", c.Log.Format)
	check(c.Session.MaxTurns >= 1, "SESSION_MAX_TURNS must be at least 1, got %d", c.Session.MaxTurns)
	check(c.Session.MaxTokens >= 0, "SESSION_MAX_TOKENS must not be negative, got %d", c.Session.MaxTokens)
	check(c.Session.MaxSessions >= 1, "SESSION_MAX_SESSIONS must be at least 1, got %d", c.Session.MaxSessions)
	check(c.AI.ReplyTimeout > 0, "REPLY_TIMEOUT must be positive, got %s", c.AI.ReplyTimeout)
	check(c.Breaker.MaxFailures >= 1, "BREAKER_MAX_FAILURES must be at least 1, got %d", c.Breaker.MaxFailures)
	check(c.Mood.Timeout > 0, "MOOD_TIMEOUT must be positive, got %s", c.Mood.Timeout)
	check(c.Breaker.Timeout > 0, "BREAKER_TIMEOUT must be positive, got %s", c.Breaker.Timeout)
	check(c.Telegram.SendRetries >= 0, "TELEGRAM_SEND_RETRIES must not be negative, got %d", c.Telegram.SendRetries)
	check(c.Mood.MinConfidence >= 0 && c.Mood.MinConfidence <= 1, "MOOD_MIN_CONFIDENCE must be within [0, 1], got %g", c.Mood.MinConfidence)
	check(c.Server.RequestsPerSecond >= 0, "HTTP_RATE_LIMIT must not be negative, got %g", c.Server.RequestsPerSecond)
	check(c.Server.RequestsPerSecond == 0 || c.Server.Burst >= 1, "HTTP_RATE_BURST must be at least 1, got %d", c.Server.Burst)
	check(c.RateLimit.PerMinute >= 0, "RATE_LIMIT_PER_MINUTE must not be negative, got %d", c.RateLimit.PerMinute)
	check(c.RateLimit.PerMinute == 0 || c.RateLimit.Burst >= 1, "RATE_LIMIT_BURST must be at least 1, got %d", c.RateLimit.Burst)

	return errors.Join(errs...)
}

// parseAddr accepts "8080", ":8080" or "127.0.0.1:8080".
func parseAddr(port string) (ServerConfig, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("%w: PORT value %q", ErrInvalid, port)
	}
	if strings.Contains(port, ":") {
		return ServerConfig{Addr: port}, nil
	}
	if _, err := cast.ToUint16E(port); err != nil {
		return ServerConfig{}, fmt.Errorf("%w: PORT value %q", ErrInvalid, port)
	}
	return ServerConfig{Addr: ":" + port}, nil
}

// parser collects the first conversion error so fromViper reads linearly.
type parser struct {
	v   *viper.Viper
	err error
}

func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func (p *parser) fail(key string, raw any, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s value %q: %v", ErrInvalid, envName(key), fmt.Sprint(raw), err)
	}
}

func (p *parser) raw(key string) any {
	raw := p.v.Get(key)
	if s, ok := raw.(string); ok {
		return strings.TrimSpace(s)
	}
	return raw
}

func (p *parser) str(key string) string {
	return strings.TrimSpace(p.v.GetString(key))
}

func (p *parser) integer(key string) int {
	raw := p.raw(key)
	val, err := cast.ToIntE(raw)
	if err != nil {
		p.fail(key, raw, err)
	}
	return val
}

func (p *parser) float(key string) float64 {
	raw := p.raw(key)
	val, err := cast.ToFloat64E(raw)
	if err != nil {
		p.fail(key, raw, err)
	}
	return val
}

func (p *parser) boolean(key string) bool {
	raw := p.raw(key)
	val, err := cast.ToBoolE(raw)
	if err != nil {
		p.fail(key, raw, err)
	}
	return val
}

func (p *parser) duration(key string) time.Duration {
	raw := p.raw(key)
	val, err := cast.ToDurationE(raw)
	if err != nil {
		p.fail(key, raw, err)
	}
	return val
}

func (p *parser) optionalFloat(key string) *float64 {
	if raw := p.raw(key); raw == nil || raw == "" {
		return nil
	}
	val := p.float(key)
	return &val
}

func (p *parser) optionalInt(key string) *int {
	if raw := p.raw(key); raw == nil || raw == "" {
		return nil
	}
	val := p.integer(key)
	return &val
}

// Enabled reports whether credentials and a model were provided.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds an Ark chat model from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_MODEL and ARK_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}
