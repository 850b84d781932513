package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"

	// openAIKeyPlaceholder ships in .env.example and counts as no key.
	openAIKeyPlaceholder = "sk-your-openai-api-key-goes-here"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	RateLimit RateLimitConfig
	Retry     RetryConfig
	Storage   StorageConfig
	Auth      AuthConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	rateLimit, err := loadRateLimitConfig()
	if err != nil {
		return nil, err
	}

	retry, err := loadRetryConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		AI:        ai,
		RateLimit: rateLimit,
		Retry:     retry,
		Storage:   storage,
		Auth:      AuthConfig{JWTSecret: strings.TrimSpace(os.Getenv("JWT_ACCESS_SECRET"))},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr        string
	Env         string
	CORSOrigins []string
}

// Debug 为 true 时错误响应会附带详细信息。
func (c ServerConfig) Debug() bool {
	return c.Env == "development"
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	cfg := ServerConfig{
		Env:         getEnvOrDefault("APP_ENV", "production"),
		CORSOrigins: splitList(getEnvOrDefault("CORS_ORIGINS", "*")),
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		cfg.Addr = port
		return cfg, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	cfg.Addr = ":" + port
	return cfg, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider    string
	OpenAI      OpenAIConfig
	Ark         ArkConfig
	Temperature *float64
	MaxTokens   *int
}

// OpenAIConfig 描述 OpenAI 兼容接口的配置。
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	ImageModel string
}

// ArkConfig 描述火山方舟模型配置。
type ArkConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
	TopP      *float64
}

func (c OpenAIConfig) ready() bool {
	return c.APIKey != "" && c.APIKey != openAIKeyPlaceholder
}

func (c ArkConfig) ready() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// Enabled 表示所选提供方的凭证是否完整。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderOpenAI:
		return c.OpenAI.ready()
	case ProviderArk:
		return c.Ark.ready()
	default:
		return false
	}
}

// Configured 表示是否提供了任何凭证，用于区分“未配置”与“配置不完整”。
func (c AIConfig) Configured() bool {
	return c.OpenAI.APIKey != "" || c.Ark.APIKey != "" || c.Ark.AccessKey != "" || c.Ark.SecretKey != ""
}

// NewChatModel 使用配置创建一个方舟模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Ark.ready() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY (or ARK_ACCESS_KEY/ARK_SECRET_KEY) and ARK_MODEL")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.Ark.TopP != nil {
		val := float32(*c.Ark.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.Ark.BaseURL,
		Region:      c.Ark.Region,
		APIKey:      c.Ark.APIKey,
		AccessKey:   c.Ark.AccessKey,
		SecretKey:   c.Ark.SecretKey,
		Model:       c.Ark.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

// MaxTokensOr 返回配置的最大 token 数，未配置时使用 fallback。
func (c AIConfig) MaxTokensOr(fallback int) int {
	if c.MaxTokens != nil && *c.MaxTokens > 0 {
		return *c.MaxTokens
	}
	return fallback
}

// TemperatureOr 返回配置的温度，未配置时使用 fallback。
func (c AIConfig) TemperatureOr(fallback float32) float32 {
	if c.Temperature != nil {
		return float32(*c.Temperature)
	}
	return fallback
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	cfg := AIConfig{
		Provider: strings.ToLower(strings.TrimSpace(os.Getenv("AI_PROVIDER"))),
		OpenAI: OpenAIConfig{
			APIKey:     strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			BaseURL:    strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
			Model:      getEnvOrDefault("OPENAI_MODEL", "gpt-3.5-turbo"),
			ImageModel: getEnvOrDefault("OPENAI_IMAGE_MODEL", "dall-e-2"),
		},
		Ark: ArkConfig{
			APIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
			AccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
			SecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
			Model:     strings.TrimSpace(os.Getenv("ARK_MODEL")),
			BaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
			TopP:      topP,
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	switch cfg.Provider {
	case ProviderOpenAI, ProviderArk:
	case "":
		// 未指定时优先 OpenAI，其次方舟。
		cfg.Provider = ProviderOpenAI
		if !cfg.OpenAI.ready() && cfg.Ark.ready() {
			cfg.Provider = ProviderArk
		}
	default:
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", cfg.Provider)
	}

	return cfg, nil
}

// RateLimitConfig 描述固定窗口限流参数。
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	SweepEvery  time.Duration
}

func loadRateLimitConfig() (RateLimitConfig, error) {
	cfg := RateLimitConfig{MaxRequests: 10, Window: time.Minute, SweepEvery: 5 * time.Minute}

	maxRequests, err := parseOptionalIntEnv("RATE_LIMIT_MAX")
	if err != nil {
		return RateLimitConfig{}, err
	}
	if maxRequests != nil {
		if *maxRequests < 1 {
			return RateLimitConfig{}, fmt.Errorf("invalid RATE_LIMIT_MAX value %d: must be positive", *maxRequests)
		}
		cfg.MaxRequests = *maxRequests
	}

	windowMs, err := parseOptionalIntEnv("RATE_LIMIT_WINDOW_MS")
	if err != nil {
		return RateLimitConfig{}, err
	}
	if windowMs != nil {
		if *windowMs < 1 {
			return RateLimitConfig{}, fmt.Errorf("invalid RATE_LIMIT_WINDOW_MS value %d: must be positive", *windowMs)
		}
		cfg.Window = time.Duration(*windowMs) * time.Millisecond
	}

	return cfg, nil
}

// RetryConfig 描述调用模型时的重试参数。
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func loadRetryConfig() (RetryConfig, error) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Second}

	maxRetries, err := parseOptionalIntEnv("RETRY_MAX_ATTEMPTS")
	if err != nil {
		return RetryConfig{}, err
	}
	if maxRetries != nil && *maxRetries > 0 {
		cfg.MaxRetries = *maxRetries
	}

	delayMs, err := parseOptionalIntEnv("RETRY_BASE_DELAY_MS")
	if err != nil {
		return RetryConfig{}, err
	}
	if delayMs != nil && *delayMs > 0 {
		cfg.BaseDelay = time.Duration(*delayMs) * time.Millisecond
	}

	return cfg, nil
}

const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// StorageConfig 描述会话存储。
type StorageConfig struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
}

func loadStorageConfig() (StorageConfig, error) {
	cfg := StorageConfig{
		Driver:      strings.ToLower(getEnvOrDefault("STORAGE_DRIVER", StorageSQLite)),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:  getEnvOrDefault("SQLITE_PATH", "data/chat.db"),
	}

	switch cfg.Driver {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			return StorageConfig{}, fmt.Errorf("DATABASE_URL is required when STORAGE_DRIVER=postgres")
		}
	default:
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_DRIVER value %q", cfg.Driver)
	}
	return cfg, nil
}

// AuthConfig 描述 JWT 校验配置。为空时所有请求按匿名用户处理。
type AuthConfig struct {
	JWTSecret string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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
