// Package orchestrator resolves the configured LLM provider and runs user
// commands through it with a wall-clock budget.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/djensenius/FluxHaus-Server-sub000/internal/config"
	"github.com/djensenius/FluxHaus-Server-sub000/internal/llm"
	"github.com/djensenius/FluxHaus-Server-sub000/internal/tools"
)

// Default models per provider, used when AI_MODEL is not set. Azure OpenAI
// has no entry: its model is the deployment name.
const (
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	defaultOpenAIModel    = "gpt-4o"
	defaultCopilotModel   = "gpt-4o"
	defaultZAIModel       = "glm-4.6"
)

// ConfigError reports a provider selected without its credentials. It is
// raised at construction time, before any network call, and names the exact
// environment variable to set.
type ConfigError struct {
	Provider string
	EnvVar   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %s selected but %s is not set", e.Provider, e.EnvVar)
}

// Orchestrator owns the resolved provider adapter and the per-command budget.
type Orchestrator struct {
	provider llm.Provider
	caps     tools.Capabilities
	timeout  time.Duration
}

// New resolves cfg.AIProvider to an adapter, failing fast when the matching
// credential is missing. Provider names are matched case-insensitively and
// the aliases "github-copilot" and "z.ai" are accepted.
func New(cfg *config.Config, registry *tools.Registry, executor *tools.Executor, caps tools.Capabilities) (*Orchestrator, error) {
	provider, err := resolveProvider(cfg, registry, executor)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		provider: provider,
		caps:     caps,
		timeout:  time.Duration(cfg.CommandTimeoutSeconds) * time.Second,
	}, nil
}

func resolveProvider(cfg *config.Config, registry *tools.Registry, executor *tools.Executor) (llm.Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.AIProvider))

	switch name {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, &ConfigError{Provider: "anthropic", EnvVar: "ANTHROPIC_API_KEY"}
		}
		model := cfg.AIModel
		if model == "" {
			model = defaultAnthropicModel
		}
		return llm.NewAnthropicProvider(cfg.AnthropicAPIKey, model, cfg.AnthropicBaseURL, registry, executor), nil

	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, &ConfigError{Provider: "openai", EnvVar: "OPENAI_API_KEY"}
		}
		model := cfg.AIModel
		if model == "" {
			model = defaultOpenAIModel
		}
		return llm.NewOpenAIProvider("openai", cfg.OpenAIAPIKey, model, cfg.OpenAIBaseURL, registry, executor), nil

	case "azure-openai":
		if cfg.AzureOpenAIAPIKey == "" {
			return nil, &ConfigError{Provider: "azure-openai", EnvVar: "AZURE_OPENAI_API_KEY"}
		}
		if cfg.AzureOpenAIEndpoint == "" {
			return nil, &ConfigError{Provider: "azure-openai", EnvVar: "AZURE_OPENAI_ENDPOINT"}
		}
		if cfg.AzureOpenAIDeployment == "" {
			return nil, &ConfigError{Provider: "azure-openai", EnvVar: "AZURE_OPENAI_DEPLOYMENT"}
		}
		return llm.NewAzureOpenAIProvider(
			cfg.AzureOpenAIAPIKey,
			cfg.AzureOpenAIEndpoint,
			cfg.AzureOpenAIDeployment,
			cfg.AzureOpenAIAPIVersion,
			registry,
			executor,
		), nil

	case "copilot", "github-copilot":
		if cfg.CopilotAPIKey == "" {
			return nil, &ConfigError{Provider: "copilot", EnvVar: "COPILOT_API_KEY"}
		}
		model := cfg.AIModel
		if model == "" {
			model = defaultCopilotModel
		}
		return llm.NewOpenAIProvider("copilot", cfg.CopilotAPIKey, model, cfg.CopilotBaseURL, registry, executor), nil

	case "zai", "z.ai":
		if cfg.ZAIAPIKey == "" {
			return nil, &ConfigError{Provider: "zai", EnvVar: "ZAI_API_KEY"}
		}
		model := cfg.AIModel
		if model == "" {
			model = defaultZAIModel
		}
		return llm.NewOpenAIProvider("zai", cfg.ZAIAPIKey, model, cfg.ZAIBaseURL, registry, executor), nil

	default:
		return nil, fmt.Errorf("unknown AI provider: %q", cfg.AIProvider)
	}
}

// ExecuteCommand runs one user command against the provider, with prior turns
// as context. The command budget is enforced on top of the caller's context.
func (o *Orchestrator) ExecuteCommand(ctx context.Context, command string, history []llm.Message) (string, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	return o.provider.Run(ctx, command, history, o.caps)
}
