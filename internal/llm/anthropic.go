package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/djensenius/FluxHaus-Server-sub000/internal/tools"
)

const anthropicAPIVersion = "2023-06-01"

// AnthropicProvider drives the Anthropic Messages protocol. A single model
// response may carry several tool_use blocks; all of them execute
// sequentially and their results travel back as one batch of tool_result
// blocks in the next user turn.
type AnthropicProvider struct {
	apiKey     string
	model      string
	baseURL    string
	registry   *tools.Registry
	executor   *tools.Executor
	httpClient *http.Client
}

// NewAnthropicProvider creates the adapter. Credentials are plain parameters;
// there is no process-wide client state.
func NewAnthropicProvider(apiKey, model, baseURL string, registry *tools.Registry, executor *tools.Executor) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:   apiKey,
		model:    model,
		baseURL:  baseURL,
		registry: registry,
		executor: executor,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"` // for tool_result
}

type anthropicTool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema interface{} `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
}

// Run executes the bounded tool-use loop for one command.
func (p *AnthropicProvider) Run(ctx context.Context, command string, history []Message, caps tools.Capabilities) (string, error) {
	messages := make([]anthropicMessage, 0, len(history)+1)
	for _, msg := range history {
		messages = append(messages, anthropicMessage{
			Role:    msg.Role,
			Content: []anthropicContent{{Type: "text", Text: msg.Content}},
		})
	}
	messages = append(messages, anthropicMessage{
		Role:    "user",
		Content: []anthropicContent{{Type: "text", Text: command}},
	})

	toolDefs := p.toolDefinitions()

	for round := 0; round < MaxRounds; round++ {
		resp, err := p.call(ctx, messages, toolDefs)
		if err != nil {
			return "", err
		}

		var text string
		var toolUses []anthropicContent
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				text += block.Text
			case "tool_use":
				toolUses = append(toolUses, block)
			}
		}

		if len(toolUses) == 0 {
			if text == "" {
				return NoReplyFallback, nil
			}
			return text, nil
		}

		// Echo the assistant turn, then answer every tool_use of that turn
		// with a tool_result block in one user message.
		messages = append(messages, anthropicMessage{Role: "assistant", Content: resp.Content})

		results := make([]anthropicContent, 0, len(toolUses))
		for _, use := range toolUses {
			result := runToolCall(ctx, p.registry, p.executor, caps, ToolCall{
				ID:        use.ID,
				Name:      use.Name,
				Arguments: use.Input,
			})
			results = append(results, anthropicContent{
				Type:      "tool_result",
				ToolUseID: use.ID,
				Content:   result,
			})
		}
		messages = append(messages, anthropicMessage{Role: "user", Content: results})
	}

	return RoundLimitFallback, nil
}

func (p *AnthropicProvider) call(ctx context.Context, messages []anthropicMessage, toolDefs []anthropicTool) (*anthropicResponse, error) {
	payload := anthropicRequest{
		Model:     p.model,
		Messages:  messages,
		System:    systemPrompt(),
		MaxTokens: 1024,
		Tools:     toolDefs,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "anthropic", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &ProviderError{
			Provider: "anthropic",
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ProviderError{Provider: "anthropic", Err: fmt.Errorf("decode response: %w", err)}
	}
	return &parsed, nil
}

// toolDefinitions translates the registry into the Messages API tool format.
// The tool set is static, so retranslating once per run is cheap.
func (p *AnthropicProvider) toolDefinitions() []anthropicTool {
	list := p.registry.List()
	defs := make([]anthropicTool, 0, len(list))
	for _, t := range list {
		defs = append(defs, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Schema(),
		})
	}
	return defs
}
