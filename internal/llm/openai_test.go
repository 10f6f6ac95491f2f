package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/djensenius/FluxHaus-Server-sub000/internal/llm"
)

func openaiTextResponse(text string) map[string]interface{} {
	return map[string]interface{}{
		"id": "chatcmpl-test",
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"message":       map[string]interface{}{"role": "assistant", "content": text},
				"finish_reason": "stop",
			},
		},
	}
}

func openaiToolCallResponse(calls ...map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"id": "chatcmpl-test",
		"choices": []map[string]interface{}{
			{
				"index": 0,
				"message": map[string]interface{}{
					"role":       "assistant",
					"content":    "",
					"tool_calls": calls,
				},
				"finish_reason": "tool_calls",
			},
		},
	}
}

func toolCall(id, name, arguments string) map[string]interface{} {
	return map[string]interface{}{
		"id":   id,
		"type": "function",
		"function": map[string]interface{}{
			"name":      name,
			"arguments": arguments,
		},
	}
}

func TestOpenAIRun_FunctionCallThenReply(t *testing.T) {
	var requests []map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("request path = %s, want /chat/completions", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Authorization = %s, want Bearer test-key", r.Header.Get("Authorization"))
		}

		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		requests = append(requests, body)

		w.Header().Set("Content-Type", "application/json")
		if len(requests) == 1 {
			_ = json.NewEncoder(w).Encode(openaiToolCallResponse(toolCall("call_1", "lock_car", "{}")))
		} else {
			_ = json.NewEncoder(w).Encode(openaiTextResponse("Done, car locked."))
		}
	}))
	defer server.Close()

	registry, executor := newTestExecutor()
	car := &stubCar{}
	provider := llm.NewOpenAIProvider("openai", "test-key", "test-model", server.URL, registry, executor)

	reply, err := provider.Run(context.Background(), "lock the car", nil, stubCaps(car))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if reply != "Done, car locked." {
		t.Errorf("Run() = %q, want %q", reply, "Done, car locked.")
	}
	if car.lockCalls != 1 {
		t.Errorf("Lock called %d times, want 1", car.lockCalls)
	}

	// The result travels as an individual tool-role message bound to the
	// call id.
	messages := requests[1]["messages"].([]interface{})
	last := messages[len(messages)-1].(map[string]interface{})
	if last["role"] != "tool" {
		t.Fatalf("last message role = %v, want tool", last["role"])
	}
	if last["tool_call_id"] != "call_1" {
		t.Errorf("tool_call_id = %v, want call_1", last["tool_call_id"])
	}
	if last["content"] != "Car locked." {
		t.Errorf("tool message content = %v, want %q", last["content"], "Car locked.")
	}
}

func TestOpenAIRun_IndividualToolMessagesPerCall(t *testing.T) {
	var requests []map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		requests = append(requests, body)

		w.Header().Set("Content-Type", "application/json")
		if len(requests) == 1 {
			_ = json.NewEncoder(w).Encode(openaiToolCallResponse(
				toolCall("call_1", "lock_car", "{}"),
				toolCall("call_2", "dock_mopbot", "{}"),
			))
		} else {
			_ = json.NewEncoder(w).Encode(openaiTextResponse("All done."))
		}
	}))
	defer server.Close()

	registry, executor := newTestExecutor()
	provider := llm.NewOpenAIProvider("openai", "test-key", "test-model", server.URL, registry, executor)

	reply, err := provider.Run(context.Background(), "lock up for the night", nil, stubCaps(&stubCar{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if reply != "All done." {
		t.Errorf("Run() = %q, want %q", reply, "All done.")
	}

	// Two calls mean two separate tool messages after the assistant turn.
	messages := requests[1]["messages"].([]interface{})
	if len(messages) < 2 {
		t.Fatalf("second request has only %d messages", len(messages))
	}
	secondLast := messages[len(messages)-2].(map[string]interface{})
	last := messages[len(messages)-1].(map[string]interface{})
	if secondLast["role"] != "tool" || last["role"] != "tool" {
		t.Fatalf("trailing roles = %v, %v; want tool, tool", secondLast["role"], last["role"])
	}
	if secondLast["tool_call_id"] != "call_1" || last["tool_call_id"] != "call_2" {
		t.Errorf("tool message order = %v, %v", secondLast["tool_call_id"], last["tool_call_id"])
	}
}

func TestOpenAIRun_ArgumentsParsedFromJSONString(t *testing.T) {
	var requests int
	var capturedResult string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		w.Header().Set("Content-Type", "application/json")
		if requests == 1 {
			_ = json.NewEncoder(w).Encode(openaiToolCallResponse(
				toolCall("call_1", "turn_on_entity", `{"entity_id":"light.kitchen"}`),
			))
		} else {
			capturedResult = body.Messages[len(body.Messages)-1].Content
			_ = json.NewEncoder(w).Encode(openaiTextResponse("Kitchen light is on."))
		}
	}))
	defer server.Close()

	registry, executor := newTestExecutor()
	provider := llm.NewOpenAIProvider("openai", "test-key", "test-model", server.URL, registry, executor)

	reply, err := provider.Run(context.Background(), "kitchen light on", nil, stubCaps(&stubCar{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if reply != "Kitchen light is on." {
		t.Errorf("Run() = %q", reply)
	}
	if capturedResult != "Turned on light.kitchen." {
		t.Errorf("tool result = %q, want %q", capturedResult, "Turned on light.kitchen.")
	}
}

func TestOpenAIRun_RoundLimit(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openaiToolCallResponse(toolCall("call_1", "get_car_status", "{}")))
	}))
	defer server.Close()

	registry, executor := newTestExecutor()
	provider := llm.NewOpenAIProvider("openai", "test-key", "test-model", server.URL, registry, executor)

	reply, err := provider.Run(context.Background(), "status?", nil, stubCaps(&stubCar{}))
	if err != nil {
		t.Fatalf("Run() error = %v, want nil at round limit", err)
	}
	if reply != llm.RoundLimitFallback {
		t.Errorf("Run() = %q, want %q", reply, llm.RoundLimitFallback)
	}
	if requests != llm.MaxRounds {
		t.Errorf("made %d model calls, want %d", requests, llm.MaxRounds)
	}
}

func TestOpenAIRun_EmptyReplyFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openaiTextResponse(""))
	}))
	defer server.Close()

	registry, executor := newTestExecutor()
	provider := llm.NewOpenAIProvider("openai", "test-key", "test-model", server.URL, registry, executor)

	reply, err := provider.Run(context.Background(), "hello", nil, stubCaps(&stubCar{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if reply != llm.NoReplyFallback {
		t.Errorf("Run() = %q, want %q", reply, llm.NoReplyFallback)
	}
}

func TestOpenAIRun_APIErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	registry, executor := newTestExecutor()
	provider := llm.NewOpenAIProvider("zai", "test-key", "test-model", server.URL, registry, executor)

	_, err := provider.Run(context.Background(), "hello", nil, stubCaps(&stubCar{}))
	var provErr *llm.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("Run() error = %T (%v), want *ProviderError", err, err)
	}
	if provErr.Provider != "zai" {
		t.Errorf("ProviderError.Provider = %s, want zai", provErr.Provider)
	}
}

func TestAzureOpenAI_DeploymentURLAndAPIKeyHeader(t *testing.T) {
	var gotPath, gotQuery, gotAPIKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAPIKey = r.Header.Get("api-key")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openaiTextResponse("Hello from Azure."))
	}))
	defer server.Close()

	registry, executor := newTestExecutor()
	provider := llm.NewAzureOpenAIProvider("azure-key", server.URL, "prod-gpt4o", "2024-06-01", registry, executor)

	reply, err := provider.Run(context.Background(), "hello", nil, stubCaps(&stubCar{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if reply != "Hello from Azure." {
		t.Errorf("Run() = %q", reply)
	}

	if gotPath != "/openai/deployments/prod-gpt4o/chat/completions" {
		t.Errorf("request path = %s", gotPath)
	}
	if gotQuery != "api-version=2024-06-01" {
		t.Errorf("request query = %s", gotQuery)
	}
	if gotAPIKey != "azure-key" {
		t.Errorf("api-key header = %s, want azure-key", gotAPIKey)
	}
}

func TestOpenAIRun_SystemPromptFirst(t *testing.T) {
	var captured []interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		captured = body["messages"].([]interface{})

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openaiTextResponse("Hi."))
	}))
	defer server.Close()

	registry, executor := newTestExecutor()
	provider := llm.NewOpenAIProvider("openai", "test-key", "test-model", server.URL, registry, executor)

	history := []llm.Message{{Role: "user", Content: "earlier"}, {Role: "assistant", Content: "noted"}}
	if _, err := provider.Run(context.Background(), "hello", history, stubCaps(&stubCar{})); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	roles := []string{"system", "user", "assistant", "user"}
	if len(captured) != len(roles) {
		t.Fatalf("request has %d messages, want %d", len(captured), len(roles))
	}
	for i, want := range roles {
		msg := captured[i].(map[string]interface{})
		if msg["role"] != want {
			t.Errorf("message[%d] role = %v, want %s", i, msg["role"], want)
		}
	}
}
