package llm

import (
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"deskjarvis/agent/internal/llmtypes"
	"deskjarvis/agent/pkg/logger"
)

// Provider represents the available LLM providers.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderDeepSeek   Provider = "deepseek"
	ProviderGrok       Provider = "grok"
	ProviderOpenRouter Provider = "openrouter"
	ProviderOllama     Provider = "ollama"
)

// OpenAI-compatible endpoints for providers without their own client.
const (
	deepseekBaseURL   = "https://api.deepseek.com/v1"
	grokBaseURL       = "https://api.x.ai/v1"
	openrouterBaseURL = "https://openrouter.ai/api/v1"
	ollamaBaseURL     = "http://localhost:11434"
)

// Config holds configuration for LLM initialization.
type Config struct {
	Provider    Provider
	ModelID     string
	APIKey      string
	BaseURL     string
	Temperature float64
	Logger      logger.Logger
}

// DefaultModelForProvider returns the model used when the host config
// leaves the model field empty.
func DefaultModelForProvider(provider Provider) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	case ProviderDeepSeek:
		return "deepseek-chat"
	case ProviderGrok:
		return "grok-2-latest"
	case ProviderOpenRouter:
		return "openai/gpt-4o-mini"
	case ProviderOllama:
		return "qwen2.5:7b"
	default:
		return "deepseek-chat"
	}
}

// InitializeLLM creates and initializes an LLM based on the provider
// configuration.
func InitializeLLM(config Config) (llmtypes.Model, error) {
	provider := Provider(strings.ToLower(strings.TrimSpace(string(config.Provider))))
	if config.ModelID == "" {
		config.ModelID = DefaultModelForProvider(provider)
	}

	var inner llms.Model
	var err error

	switch provider {
	case ProviderOpenAI:
		inner, err = initializeOpenAICompatible(config, "OPENAI_API_KEY", config.BaseURL)
	case ProviderDeepSeek:
		inner, err = initializeOpenAICompatible(config, "DEEPSEEK_API_KEY", orDefault(config.BaseURL, deepseekBaseURL))
	case ProviderGrok:
		inner, err = initializeOpenAICompatible(config, "XAI_API_KEY", orDefault(config.BaseURL, grokBaseURL))
	case ProviderOpenRouter:
		inner, err = initializeOpenAICompatible(config, "OPENROUTER_API_KEY", orDefault(config.BaseURL, openrouterBaseURL))
	case ProviderAnthropic:
		inner, err = initializeAnthropic(config)
	case ProviderOllama:
		inner, err = initializeOllama(config)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", config.Provider)
	}
	if err != nil {
		return nil, err
	}

	return newProviderAwareModel(inner, provider, config.ModelID, config.Logger), nil
}

func initializeOpenAICompatible(config Config, envVar string, baseURL string) (llms.Model, error) {
	apiKey, err := resolveAPIKey(config.APIKey, envVar, string(config.Provider))
	if err != nil {
		return nil, err
	}

	opts := []openai.Option{
		openai.WithModel(config.ModelID),
		openai.WithToken(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s LLM: %w", config.Provider, err)
	}
	return model, nil
}

func initializeAnthropic(config Config) (llms.Model, error) {
	apiKey, err := resolveAPIKey(config.APIKey, "ANTHROPIC_API_KEY", "anthropic")
	if err != nil {
		return nil, err
	}

	opts := []anthropic.Option{
		anthropic.WithModel(config.ModelID),
		anthropic.WithToken(apiKey),
	}
	if config.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(config.BaseURL))
	}

	model, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Anthropic LLM: %w", err)
	}
	return model, nil
}

func initializeOllama(config Config) (llms.Model, error) {
	model, err := ollama.New(
		ollama.WithModel(config.ModelID),
		ollama.WithServerURL(orDefault(config.BaseURL, ollamaBaseURL)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama LLM: %w", err)
	}
	return model, nil
}

func resolveAPIKey(configured string, envVar string, provider string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%s environment variable is required for %s provider", envVar, provider)
}

func orDefault(value string, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
