package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/djensenius/FluxHaus-Server-sub000/internal/tools"
)

// OpenAIProvider drives the chat-completions function-calling protocol. It
// serves every OpenAI-compatible vendor (OpenAI, Azure OpenAI, GitHub
// Copilot, Z.AI); only the endpoint, auth header and default model differ.
// Each function call in a response is executed and appended as an individual
// tool-role message before the next model call.
type OpenAIProvider struct {
	name       string // provider label for errors
	model      string
	requestURL string
	authHeader string // header name carrying the credential
	authValue  string
	registry   *tools.Registry
	executor   *tools.Executor
	httpClient *http.Client
}

// NewOpenAIProvider creates an adapter for a Bearer-token chat-completions
// endpoint. baseURL is joined with /chat/completions.
func NewOpenAIProvider(name, apiKey, model, baseURL string, registry *tools.Registry, executor *tools.Executor) *OpenAIProvider {
	return &OpenAIProvider{
		name:       name,
		model:      model,
		requestURL: strings.TrimRight(baseURL, "/") + "/chat/completions",
		authHeader: "Authorization",
		authValue:  "Bearer " + apiKey,
		registry:   registry,
		executor:   executor,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// NewAzureOpenAIProvider creates an adapter for an Azure OpenAI deployment,
// which uses an api-key header and a deployment-scoped URL.
func NewAzureOpenAIProvider(apiKey, endpoint, deployment, apiVersion string, registry *tools.Registry, executor *tools.Executor) *OpenAIProvider {
	return &OpenAIProvider{
		name:  "azure-openai",
		model: deployment,
		requestURL: strings.TrimRight(endpoint, "/") +
			"/openai/deployments/" + url.PathEscape(deployment) +
			"/chat/completions?api-version=" + url.QueryEscape(apiVersion),
		authHeader: "api-key",
		authValue:  apiKey,
		registry:   registry,
		executor:   executor,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

type openaiRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
	Tools    []openaiTool    `json:"tools,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"` // JSON-encoded
	} `json:"function"`
}

type openaiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
}

// Run executes the bounded function-calling loop for one command.
func (p *OpenAIProvider) Run(ctx context.Context, command string, history []Message, caps tools.Capabilities) (string, error) {
	messages := make([]openaiMessage, 0, len(history)+2)
	messages = append(messages, openaiMessage{Role: "system", Content: systemPrompt()})
	for _, msg := range history {
		messages = append(messages, openaiMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: command})

	toolDefs := p.toolDefinitions()

	for round := 0; round < MaxRounds; round++ {
		assistant, err := p.call(ctx, messages, toolDefs)
		if err != nil {
			return "", err
		}

		if len(assistant.ToolCalls) == 0 {
			if assistant.Content == "" {
				return NoReplyFallback, nil
			}
			return assistant.Content, nil
		}

		// Echo the assistant turn, then answer each function call with its
		// own tool-role message, in the order the model emitted them.
		messages = append(messages, *assistant)
		for _, call := range assistant.ToolCalls {
			args := map[string]interface{}{}
			if call.Function.Arguments != "" {
				// A broken arguments payload is handled by schema
				// validation downstream, not by failing the run.
				_ = json.Unmarshal([]byte(call.Function.Arguments), &args)
			}
			result := runToolCall(ctx, p.registry, p.executor, caps, ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: args,
			})
			messages = append(messages, openaiMessage{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	return RoundLimitFallback, nil
}

func (p *OpenAIProvider) call(ctx context.Context, messages []openaiMessage, toolDefs []openaiTool) (*openaiMessage, error) {
	payload := openaiRequest{
		Model:    p.model,
		Messages: messages,
		Tools:    toolDefs,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.requestURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(p.authHeader, p.authValue)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &ProviderError{
			Provider: p.name,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var parsed openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ProviderError{Provider: p.name, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{Provider: p.name, Err: fmt.Errorf("no choices in response")}
	}
	return &parsed.Choices[0].Message, nil
}

func (p *OpenAIProvider) toolDefinitions() []openaiTool {
	list := p.registry.List()
	defs := make([]openaiTool, 0, len(list))
	for _, t := range list {
		defs = append(defs, openaiTool{
			Type: "function",
			Function: openaiFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema(),
			},
		})
	}
	return defs
}
