package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/PigStep/Vibe-BPMN-studio/internal/llm/openrouter"
)

// Environment 表示运行环境。
type Environment string

const (
	EnvDevelopment Environment = "dev"
	EnvProduction  Environment = "prod"
	EnvTesting     Environment = "test"
)

// Provider 标识生成所用的大模型供应商。
type Provider string

const (
	ProviderOpenRouter Provider = "openrouter"
	ProviderArk        Provider = "ark"
)

var allowedLogLevels = []string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}

// Config 聚合整个服务的配置项。
type Config struct {
	App     AppConfig
	Server  ServerConfig
	AI      AIConfig
	Storage StorageConfig
	Limits  LimitConfig
	Log     LogConfig
}

// AppConfig 是前后端共享的只读配置，启动时解析一次。
type AppConfig struct {
	Environment Environment
	BaseURL     string
	APIURL      string
}

// IsDev reports whether the process runs in the dev environment.
func (c AppConfig) IsDev() bool { return c.Environment == EnvDevelopment }

// IsProd reports whether the process runs in the prod environment.
func (c AppConfig) IsProd() bool { return c.Environment == EnvProduction }

// IsTest reports whether the process runs in the test environment.
func (c AppConfig) IsTest() bool { return c.Environment == EnvTesting }

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	app, err := loadAppConfig()
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig(app)
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	limits, err := loadLimitConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig(app)
	if err != nil {
		return nil, err
	}

	return &Config{App: app, Server: server, AI: ai, Storage: storage, Limits: limits, Log: logCfg}, nil
}

// CurrentEnvironment 解析 ENVIRONMENT，供加载 .env 之前判断使用。
func CurrentEnvironment() (Environment, error) {
	return parseEnvironment(os.Getenv("ENVIRONMENT"))
}

func loadAppConfig() (AppConfig, error) {
	env, err := CurrentEnvironment()
	if err != nil {
		return AppConfig{}, err
	}

	return AppConfig{
		Environment: env,
		BaseURL:     strings.TrimRight(getEnvOrDefault("BASE_URL", "http://localhost:8000"), "/"),
		APIURL:      strings.TrimRight(getEnvOrDefault("API_URL", "http://localhost:8000/api"), "/"),
	}, nil
}

func parseEnvironment(raw string) (Environment, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return EnvDevelopment, nil
	}
	switch Environment(value) {
	case EnvDevelopment, EnvProduction, EnvTesting:
		return Environment(value), nil
	}
	return "", fmt.Errorf("invalid ENVIRONMENT value %q: must be one of dev, prod, test", raw)
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	StaticDir      string
	IndexFile      string
	ExampleXMLPath string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址与静态资源位置。
func loadServerConfig(app AppConfig) (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	var addr string
	switch {
	case strings.Contains(port, " "):
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	case strings.Contains(port, ":"):
		// 允许直接传入 ":8000" 或 "127.0.0.1:8000"。
		addr = port
	default:
		addr = ":" + port
	}

	origins := splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if len(origins) == 0 {
		if app.IsDev() {
			origins = []string{"*"}
		} else {
			origins = []string{app.BaseURL}
		}
	}

	return ServerConfig{
		Addr:           addr,
		StaticDir:      getEnvOrDefault("STATIC_DIR", "public"),
		IndexFile:      getEnvOrDefault("INDEX_FILE", "viewer.html"),
		ExampleXMLPath: getEnvOrDefault("EXAMPLE_XML_PATH", "data/XMLs/base_bpmn_diagram.xml"),
		AllowedOrigins: origins,
	}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider Provider

	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterBaseURL string
	SiteURL           string
	SiteName          string

	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int

	PromptDir         string
	MaxRepairAttempts int
	HistoryLimit      int
	GenerateTimeout   time.Duration
}

// Enabled 表示是否提供了所选供应商必需的密钥与模型。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderOpenRouter:
		return c.OpenRouterAPIKey != "" && c.OpenRouterModel != ""
	case ProviderArk:
		return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
	default:
		return false
	}
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, errors.New("model credentials missing: set OPENROUTER_API_KEY + OPENROUTER_MODEL_NAME or ARK_API_KEY + Model")
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

	if c.Provider == ProviderOpenRouter {
		return openrouter.NewChatModel(ctx, &openrouter.Config{
			APIKey:      c.OpenRouterAPIKey,
			Model:       c.OpenRouterModel,
			BaseURL:     c.OpenRouterBaseURL,
			SiteURL:     c.SiteURL,
			SiteName:    c.SiteName,
			Temperature: temperature,
			TopP:        topP,
			MaxTokens:   c.MaxTokens,
		})
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

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	repairs, err := parseIntEnv("AI_MAX_REPAIR_ATTEMPTS", 1)
	if err != nil {
		return AIConfig{}, err
	}
	if repairs < 0 {
		repairs = 0
	}

	history, err := parseIntEnv("AI_HISTORY_LIMIT", 10)
	if err != nil {
		return AIConfig{}, err
	}
	if history < 0 {
		history = 0
	}

	timeoutSeconds, err := parseIntEnv("GENERATE_TIMEOUT", 120)
	if err != nil {
		return AIConfig{}, err
	}
	if timeoutSeconds < 1 {
		timeoutSeconds = 1
	}

	cfg := AIConfig{
		OpenRouterAPIKey:  strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
		OpenRouterModel:   strings.TrimSpace(os.Getenv("OPENROUTER_MODEL_NAME")),
		OpenRouterBaseURL: getEnvOrDefault("OPENROUTER_BASE_URL", openrouter.DefaultBaseURL),
		SiteURL:           getEnvOrDefault("YOUR_SITE_URL", "https://site_url_default.com"),
		SiteName:          getEnvOrDefault("YOUR_SITE_NAME", "Default site name"),
		APIKey:            strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:         strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:         strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:             strings.TrimSpace(os.Getenv("Model")),
		BaseURL:           getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:            getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:       temperature,
		TopP:              topP,
		MaxTokens:         maxTokens,
		PromptDir:         getEnvOrDefault("PROMPT_DIR", "data/prompts/simple"),
		MaxRepairAttempts: repairs,
		HistoryLimit:      history,
		GenerateTimeout:   time.Duration(timeoutSeconds) * time.Second,
	}

	if cfg.OpenRouterAPIKey != "" && len(cfg.OpenRouterAPIKey) < 10 {
		return AIConfig{}, fmt.Errorf("invalid OPENROUTER_API_KEY value: must be at least 10 characters")
	}

	provider := Provider(strings.ToLower(strings.TrimSpace(os.Getenv("AI_PROVIDER"))))
	switch provider {
	case ProviderOpenRouter, ProviderArk:
	case "":
		// 未显式指定时按凭证推断，OpenRouter 优先。
		if cfg.OpenRouterAPIKey != "" {
			provider = ProviderOpenRouter
		} else {
			provider = ProviderArk
		}
	default:
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q: must be openrouter or ark", provider)
	}
	cfg.Provider = provider

	return cfg, nil
}

// StorageConfig 描述会话存储。
type StorageConfig struct {
	Driver string
	Path   string
}

func loadStorageConfig() (StorageConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORAGE_DRIVER", "memory"))
	if driver != "memory" && driver != "sqlite" {
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_DRIVER value %q: must be memory or sqlite", driver)
	}
	return StorageConfig{
		Driver: driver,
		Path:   getEnvOrDefault("STORAGE_PATH", "data/studio.db"),
	}, nil
}

// LimitConfig 描述生成接口的限流参数。
type LimitConfig struct {
	GeneratePerMinute int
	GenerateBurst     int
}

func loadLimitConfig() (LimitConfig, error) {
	perMinute, err := parseIntEnv("GENERATE_RATE_PER_MINUTE", 20)
	if err != nil {
		return LimitConfig{}, err
	}
	burst, err := parseIntEnv("GENERATE_RATE_BURST", 5)
	if err != nil {
		return LimitConfig{}, err
	}
	if burst < 1 {
		burst = 1
	}
	return LimitConfig{GeneratePerMinute: perMinute, GenerateBurst: burst}, nil
}

// LogConfig 描述日志与遥测输出。
type LogConfig struct {
	Level            string
	Debug            bool
	File             string
	TelemetryEnabled bool
	TelemetryDir     string
}

func loadLogConfig(app AppConfig) (LogConfig, error) {
	level := strings.ToUpper(getEnvOrDefault("LOG_LEVEL", "INFO"))
	if !contains(allowedLogLevels, level) {
		return LogConfig{}, fmt.Errorf("log_level must be one of: %s", strings.Join(allowedLogLevels, ", "))
	}

	debug, err := parseBoolEnv("DEBUG", false)
	if err != nil {
		return LogConfig{}, err
	}

	telemetry, err := parseBoolEnv("TELEMETRY_ENABLED", false)
	if err != nil {
		return LogConfig{}, err
	}

	if app.IsProd() {
		// 生产环境始终关闭 debug，且日志级别至少为 INFO。
		debug = false
		if level == "DEBUG" {
			level = "INFO"
		}
	}

	return LogConfig{
		Level:            level,
		Debug:            debug,
		File:             strings.TrimSpace(os.Getenv("LOG_FILE")),
		TelemetryEnabled: telemetry,
		TelemetryDir:     getEnvOrDefault("TELEMETRY_DIR", "logs"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
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

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
