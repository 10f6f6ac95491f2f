package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port string

	// LLM provider selection
	AIProvider string
	AIModel    string

	AnthropicAPIKey  string
	AnthropicBaseURL string

	OpenAIAPIKey  string
	OpenAIBaseURL string

	AzureOpenAIAPIKey     string
	AzureOpenAIEndpoint   string
	AzureOpenAIDeployment string
	AzureOpenAIAPIVersion string

	CopilotAPIKey  string
	CopilotBaseURL string

	ZAIAPIKey  string
	ZAIBaseURL string

	// Conversation encryption master key (64 hex chars). Empty disables
	// conversation persistence entirely.
	ConversationEncryptionKey string

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// JWT
	JWTPublicKeyPath string

	// Device collaborator URLs
	CarServiceURL    string
	MopbotServiceURL string
	HomeServiceURL   string
	SpeechServiceURL string

	// Wall-clock budget for one command, in seconds
	CommandTimeoutSeconds int

	// Logging
	LogLevel string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port: getEnv("COMMAND_SERVICE_PORT", "8097"),

		AIProvider: getEnv("AI_PROVIDER", "anthropic"),
		AIModel:    getEnv("AI_MODEL", ""),

		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),

		AzureOpenAIAPIKey:     getEnv("AZURE_OPENAI_API_KEY", ""),
		AzureOpenAIEndpoint:   getEnv("AZURE_OPENAI_ENDPOINT", ""),
		AzureOpenAIDeployment: getEnv("AZURE_OPENAI_DEPLOYMENT", ""),
		AzureOpenAIAPIVersion: getEnv("AZURE_OPENAI_API_VERSION", "2024-06-01"),

		CopilotAPIKey:  getEnv("COPILOT_API_KEY", ""),
		CopilotBaseURL: getEnv("COPILOT_BASE_URL", "https://api.githubcopilot.com"),

		ZAIAPIKey:  getEnv("ZAI_API_KEY", ""),
		ZAIBaseURL: getEnv("ZAI_BASE_URL", "https://api.z.ai/api/paas/v4"),

		ConversationEncryptionKey: getEnv("CONVERSATION_ENCRYPTION_KEY", ""),

		PostgresHost:     getEnv("POSTGRES_HOST", "postgres"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "user"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "password"),
		PostgresDB:       getEnv("POSTGRES_DB", "fluxhaus"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		JWTPublicKeyPath: getEnv("JWT_PUBLIC_KEY_PATH", "/app/keys/jwt_public.pem"),

		CarServiceURL:    getEnv("CAR_SERVICE_URL", "http://car-service:8081"),
		MopbotServiceURL: getEnv("MOPBOT_SERVICE_URL", "http://mopbot-service:8082"),
		HomeServiceURL:   getEnv("HOME_SERVICE_URL", "http://home-hub:8083"),
		SpeechServiceURL: getEnv("SPEECH_SERVICE_URL", "http://speech-service:8084"),

		CommandTimeoutSeconds: getEnvInt("ASSISTANT_COMMAND_TIMEOUT", 120),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
		c.PostgresSSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
