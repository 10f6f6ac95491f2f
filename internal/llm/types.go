// Package llm drives the LLM provider turn-taking protocols. Two wire
// protocols exist behind one contract: the messages/tool-use protocol
// (Anthropic) and the chat-completions/function-call protocol (OpenAI and
// compatibles). Both run the same bounded loop against the tool executor.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/djensenius/FluxHaus-Server-sub000/internal/tools"
)

// MaxRounds bounds the model-call loop of every provider adapter. Reaching it
// is not an error: tool side effects may already have happened, so the loop
// ends with a fixed fallback reply instead of a failure.
const MaxRounds = 10

const (
	// NoReplyFallback is returned when the model ends its turn without text.
	NoReplyFallback = "I've completed that request."

	// RoundLimitFallback is returned when MaxRounds is exhausted without a
	// final answer.
	RoundLimitFallback = "I've processed your request."
)

// Message is one prior conversation turn fed back into the model.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ToolCall is an action request extracted from model output.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// Provider is the contract both adapters implement: run one command to a
// final natural-language reply, executing requested tools along the way.
type Provider interface {
	Run(ctx context.Context, command string, history []Message, caps tools.Capabilities) (string, error)
}

// ProviderError wraps a vendor API failure. It is propagated to the caller
// with the vendor's message and never retried automatically.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// runToolCall validates one model-requested tool call and executes it,
// returning the result string fed back to the model. Validation failures and
// unknown tools both produce soft results so the model can recover within the
// conversation.
func runToolCall(ctx context.Context, registry *tools.Registry, executor *tools.Executor, caps tools.Capabilities, tc ToolCall) string {
	if _, known := registry.Get(tc.Name); known {
		if err := registry.ValidateArgs(tc.Name, tc.Arguments); err != nil {
			return fmt.Sprintf("Invalid arguments for %s: %v", tc.Name, err)
		}
	}
	return executor.Execute(ctx, tc.Name, tc.Arguments, caps)
}

// systemPrompt is shared by both adapters so provider choice never changes
// the assistant's behavior contract.
func systemPrompt() string {
	return fmt.Sprintf(`You are FluxHaus, a home automation assistant.

You control the home through tools. NEVER claim an action happened without
calling the matching tool and reading its result. NEVER invent device state;
use the status tools to observe it.

Do not mention tool names or internal steps to the user. Report outcomes
plainly: what you observed, what you changed, or what failed.

Current time: %s`, time.Now().Local().Format("2006-01-02 15:04:05"))
}
