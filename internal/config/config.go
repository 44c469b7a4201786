package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// 支持的模型提供方。
const (
	ProviderGemini = "gemini"
	ProviderArk    = "ark"
)

// 支持的存储后端。
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// 支持的鉴权方式。
const (
	AuthJWT      = "jwt"
	AuthFirebase = "firebase"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	RateLimit RateLimitConfig
	Retry     RetryConfig
	Chat      ChatConfig
	Store     StoreConfig
	Auth      AuthConfig
	Log       LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr
	cfg.Server.AllowedOrigins = mergeOrigins(cfg.Server.AllowedOrigins, cfg.Server.FrontendURL)

	if err := cfg.AI.loadSampling(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.AI.Provider {
	case ProviderGemini, ProviderArk:
	default:
		return fmt.Errorf("invalid AI_PROVIDER value %q", c.AI.Provider)
	}

	switch c.Store.Driver {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER value %q", c.Store.Driver)
	}

	switch c.Auth.Mode {
	case AuthJWT:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when AUTH_MODE=%s", AuthJWT)
		}
	case AuthFirebase:
		if c.Auth.FirebaseCredentials == "" {
			return fmt.Errorf("FIREBASE_SERVICE_ACCOUNT_KEY is required when AUTH_MODE=%s", AuthFirebase)
		}
	default:
		return fmt.Errorf("invalid AUTH_MODE value %q", c.Auth.Mode)
	}

	if c.RateLimit.MaxConcurrent < 1 {
		return fmt.Errorf("RATE_MAX_CONCURRENT must be at least 1, got %d", c.RateLimit.MaxConcurrent)
	}
	if c.RateLimit.MinInterval < 0 {
		return fmt.Errorf("RATE_MIN_INTERVAL must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("RETRY_MAX_DELAY (%s) is shorter than RETRY_BASE_DELAY (%s)", c.Retry.MaxDelay, c.Retry.BaseDelay)
	}
	if c.Chat.HistoryWindow < 0 {
		return fmt.Errorf("CHAT_HISTORY_WINDOW must not be negative")
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be positive")
	}
	return nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port           string   `env:"PORT" envDefault:"8000"`
	FrontendURL    string   `env:"FRONTEND_URL"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173,http://127.0.0.1:3000"`
	Addr           string   `env:"-"`
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

func mergeOrigins(origins []string, frontendURL string) []string {
	merged := make([]string, 0, len(origins)+1)
	seen := make(map[string]bool, len(origins)+1)
	for _, origin := range append(origins, frontendURL) {
		origin = strings.TrimSpace(origin)
		if origin == "" || seen[origin] {
			continue
		}
		seen[origin] = true
		merged = append(merged, origin)
	}
	return merged
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider     string        `env:"AI_PROVIDER" envDefault:"gemini"`
	Timeout      time.Duration `env:"AI_TIMEOUT" envDefault:"30s"`
	SystemPrompt string        `env:"AI_SYSTEM_PROMPT"`

	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`

	APIKey    string `env:"ARK_API_KEY"`
	AccessKey string `env:"ARK_ACCESS_KEY"`
	SecretKey string `env:"ARK_SECRET_KEY"`
	Model     string `env:"ARK_MODEL"`
	BaseURL   string `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	Region    string `env:"ARK_REGION" envDefault:"cn-beijing"`

	Temperature *float64 `env:"-"`
	TopP        *float64 `env:"-"`
	MaxTokens   *int     `env:"-"`
}

// Enabled 表示当前提供方是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderGemini:
		return c.GeminiAPIKey != ""
	case ProviderArk:
		return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
	default:
		return false
	}
}

// ModelName 返回当前提供方使用的模型名。
func (c AIConfig) ModelName() string {
	if c.Provider == ProviderArk {
		return c.Model
	}
	return c.GeminiModel
}

// NewChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.Model == "" || (c.APIKey == "" && (c.AccessKey == "" || c.SecretKey == "")) {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
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

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func (c *AIConfig) loadSampling() error {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return err
	}

	c.Temperature = temperature
	c.TopP = topP
	c.MaxTokens = maxTokens
	return nil
}

// RateLimitConfig 控制对模型提供方的并发与调用间隔。
type RateLimitConfig struct {
	MaxConcurrent int           `env:"RATE_MAX_CONCURRENT" envDefault:"2"`
	MinInterval   time.Duration `env:"RATE_MIN_INTERVAL" envDefault:"1s"`
}

// RetryConfig 控制单次逻辑调用的重试策略。
type RetryConfig struct {
	MaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"4"`
	BaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	MaxDelay    time.Duration `env:"RETRY_MAX_DELAY" envDefault:"8s"`
}

// ChatConfig 描述会话编排相关的参数。
type ChatConfig struct {
	HistoryWindow    int    `env:"CHAT_HISTORY_WINDOW" envDefault:"10"`
	FallbackReply    string `env:"CHAT_FALLBACK_REPLY" envDefault:"I'm sorry, I couldn't come up with a response. Could you rephrase your question?"`
	MaxMessageLength int    `env:"CHAT_MAX_MESSAGE_LENGTH" envDefault:"8000"`
}

// StoreConfig 选择会话存储后端。
type StoreConfig struct {
	Driver      string `env:"STORE_DRIVER" envDefault:"memory"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"cyberbuddy.db"`
}

// AuthConfig 选择身份校验方式。
type AuthConfig struct {
	Mode                string `env:"AUTH_MODE" envDefault:"jwt"`
	JWTSecret           string `env:"JWT_SECRET"`
	JWTIssuer           string `env:"JWT_ISSUER" envDefault:"cyberbuddy"`
	FirebaseCredentials string `env:"FIREBASE_SERVICE_ACCOUNT_KEY"`
	FirebaseProjectID   string `env:"FIREBASE_PROJECT_ID"`
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"INFO"`
	File  string `env:"LOG_FILE"`
}

// SlogLevel 将配置的日志级别转换为 slog.Level。
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToUpper(strings.TrimSpace(c.Level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
