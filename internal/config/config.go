package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every setting the service needs. All sections are loaded
// from environment variables; missing required credentials fail Load so a
// misconfigured deployment dies at startup instead of per request.
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	AI     AIConfig
	Memory MemoryConfig
	Upload UploadConfig
	Auth   AuthConfig
}

// Load reads all sections from the environment.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	memory, err := loadMemoryConfig()
	if err != nil {
		return nil, err
	}

	upload, err := loadUploadConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Store: store, AI: ai, Memory: memory, Upload: upload, Auth: auth}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// StoreConfig selects and configures the conversation store.
type StoreConfig struct {
	Driver string // "sqlite" or "memory"
	DSN    string
}

func loadStoreConfig() (StoreConfig, error) {
	driver := getEnvOrDefault("STORE_DRIVER", "sqlite")
	switch driver {
	case "sqlite", "memory":
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value: %q", driver)
	}

	return StoreConfig{
		Driver: driver,
		DSN:    getEnvOrDefault("SQLITE_DSN", "file:relay.db?cache=shared"),
	}, nil
}

// AIConfig describes the text-generation backend.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
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

	cfg := AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}

	if cfg.Model == "" || (cfg.APIKey == "" && (cfg.AccessKey == "" || cfg.SecretKey == "")) {
		return AIConfig{}, fmt.Errorf("generation backend not configured: set ARK_MODEL plus ARK_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY")
	}

	return cfg, nil
}

// NewChatModel builds a chat model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
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

// MemoryConfig describes the long-term memory service.
type MemoryConfig struct {
	APIKey  string
	BaseURL string
}

func loadMemoryConfig() (MemoryConfig, error) {
	apiKey := strings.TrimSpace(os.Getenv("MEM0_API_KEY"))
	if apiKey == "" {
		return MemoryConfig{}, fmt.Errorf("memory service not configured: set MEM0_API_KEY")
	}

	return MemoryConfig{
		APIKey:  apiKey,
		BaseURL: getEnvOrDefault("MEM0_BASE_URL", "https://api.mem0.ai"),
	}, nil
}

// UploadConfig describes the blob store used for attachment uploads.
type UploadConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

func loadUploadConfig() (UploadConfig, error) {
	cfg := UploadConfig{
		CloudName: strings.TrimSpace(os.Getenv("CLOUDINARY_CLOUD_NAME")),
		APIKey:    strings.TrimSpace(os.Getenv("CLOUDINARY_API_KEY")),
		APISecret: strings.TrimSpace(os.Getenv("CLOUDINARY_API_SECRET")),
		Folder:    getEnvOrDefault("UPLOAD_FOLDER", "relay-uploads"),
	}

	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return UploadConfig{}, fmt.Errorf("blob store not configured: set CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET")
	}

	return cfg, nil
}

// AuthConfig describes the external identity provider.
type AuthConfig struct {
	Issuer   string
	Audience string
	Disabled bool
}

func loadAuthConfig() (AuthConfig, error) {
	disabled, err := parseBoolEnv("AUTH_DISABLED", false)
	if err != nil {
		return AuthConfig{}, err
	}

	cfg := AuthConfig{
		Issuer:   strings.TrimSpace(os.Getenv("OIDC_ISSUER")),
		Audience: strings.TrimSpace(os.Getenv("OIDC_AUDIENCE")),
		Disabled: disabled,
	}

	if !cfg.Disabled && (cfg.Issuer == "" || cfg.Audience == "") {
		return AuthConfig{}, fmt.Errorf("identity provider not configured: set OIDC_ISSUER and OIDC_AUDIENCE (or AUTH_DISABLED=true for local development)")
	}

	return cfg, nil
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
