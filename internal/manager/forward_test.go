package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"llmd/pkg/types"
)

// fakeEngine serves the OpenAI surface the forwarder talks to, recording
// the last decoded chat request.
type fakeEngine struct {
	srv     *httptest.Server
	lastReq types.ChatCompletionRequest
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	f := &fakeEngine{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chat/completions":
			if err := json.NewDecoder(r.Body).Decode(&f.lastReq); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if f.lastReq.Stream {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
				fmt.Fprint(w, "data: [DONE]\n\n")
				return
			}
			resp := types.ChatCompletionResponse{
				ID:     "chatcmpl-1",
				Object: "chat.completion",
				Model:  f.lastReq.Model,
				Choices: []types.ChatChoice{{
					Message:      types.ChatMessage{Role: "assistant", Content: types.ChatContent{Text: "hello there"}},
					FinishReason: "stop",
				}},
				Usage: &types.Usage{PromptTokens: 12, CompletionTokens: 7, TotalTokens: 19},
			}
			_ = json.NewEncoder(w).Encode(resp)
		case "/v1/completions":
			resp := types.CompletionResponse{
				ID:      "cmpl-1",
				Object:  "text_completion",
				Choices: []types.CompletionChoice{{Text: "done", FinishReason: "stop"}},
			}
			_ = json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func newForwardManager(t *testing.T, baseURL string) *Manager {
	t.Helper()
	return newTestManager(t, ManagerConfig{
		Models:  fakeSource{models: []types.Model{{ID: "qwen3-8b", ServedName: "Qwen3-8B", EstVRAMMB: 1}}},
		Engines: &fakeRunner{baseURL: baseURL},
	})
}

func TestChatCompletionForwardsAndRewritesModel(t *testing.T) {
	eng := newFakeEngine(t)
	m := newForwardManager(t, eng.srv.URL)

	var buf bytes.Buffer
	req := types.ChatCompletionRequest{
		Model:    "qwen3-8b",
		Messages: []types.ChatMessage{{Role: "user", Content: types.ChatContent{Text: "hi"}}},
	}
	if err := m.ChatCompletion(context.Background(), req, &buf, nil); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if eng.lastReq.Model != "Qwen3-8B" {
		t.Fatalf("upstream model=%q, want served name", eng.lastReq.Model)
	}
	var resp types.ChatCompletionResponse
	if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
		t.Fatalf("decode relayed body: %v", err)
	}
	if resp.Choices[0].Message.Content.PlainText() != "hello there" {
		t.Fatalf("unexpected content: %+v", resp)
	}
}

func TestChatCompletionStreamRelay(t *testing.T) {
	eng := newFakeEngine(t)
	m := newForwardManager(t, eng.srv.URL)

	var buf bytes.Buffer
	flushes := 0
	req := types.ChatCompletionRequest{
		Model:    "qwen3-8b",
		Stream:   true,
		Messages: []types.ChatMessage{{Role: "user", Content: types.ChatContent{Text: "hi"}}},
	}
	if err := m.ChatCompletion(context.Background(), req, &buf, func() { flushes++ }); err != nil {
		t.Fatalf("chat stream: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "data: {") || !strings.Contains(out, "data: [DONE]") {
		t.Fatalf("unexpected stream:\n%s", out)
	}
	if flushes == 0 {
		t.Fatal("stream never flushed")
	}
}

func TestCompletionForwards(t *testing.T) {
	eng := newFakeEngine(t)
	m := newForwardManager(t, eng.srv.URL)

	var buf bytes.Buffer
	req := types.CompletionRequest{Model: "qwen3-8b", Prompt: "say done"}
	if err := m.Completion(context.Background(), req, &buf, nil); err != nil {
		t.Fatalf("completion: %v", err)
	}
	if !strings.Contains(buf.String(), `"text":"done"`) {
		t.Fatalf("unexpected body: %s", buf.String())
	}
}

func TestChatCompletionEngineDown(t *testing.T) {
	eng := newFakeEngine(t)
	m := newForwardManager(t, eng.srv.URL)
	// Ensure first so the instance exists, then take the engine away.
	if err := m.EnsureInstance(context.Background(), "qwen3-8b"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	eng.srv.Close()

	req := types.ChatCompletionRequest{
		Model:    "qwen3-8b",
		Messages: []types.ChatMessage{{Role: "user", Content: types.ChatContent{Text: "hi"}}},
	}
	err := m.ChatCompletion(context.Background(), req, &bytes.Buffer{}, nil)
	if !IsEngineUnavailable(err) {
		t.Fatalf("expected engine-unavailable, got %v", err)
	}
}

func TestSimpleChatInjectsSystemPromptAndClamps(t *testing.T) {
	eng := newFakeEngine(t)
	m := newForwardManager(t, eng.srv.URL)

	resp, err := m.SimpleChat(context.Background(), types.SimpleChatRequest{
		Model:        "qwen3-8b",
		MaxNewTokens: 100000,
		Messages:     []types.ChatMessage{{Role: "user", Content: types.ChatContent{Text: "hi"}}},
	})
	if err != nil {
		t.Fatalf("simple chat: %v", err)
	}
	if resp.Response != "hello there" || resp.Status != 200 || resp.TokensGenerated != 7 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if eng.lastReq.MaxTokens != simpleMaxMaxTokens {
		t.Fatalf("max_tokens=%d, want clamp to %d", eng.lastReq.MaxTokens, simpleMaxMaxTokens)
	}
	if len(eng.lastReq.Messages) != 2 || eng.lastReq.Messages[0].Role != "system" {
		t.Fatalf("system prompt not injected: %+v", eng.lastReq.Messages)
	}
	if got := eng.lastReq.Messages[0].Content.PlainText(); got != simpleSystemPrompt {
		t.Fatalf("system prompt=%q", got)
	}
}

func TestSimpleChatDefaults(t *testing.T) {
	eng := newFakeEngine(t)
	m := newForwardManager(t, eng.srv.URL)

	if _, err := m.SimpleChat(context.Background(), types.SimpleChatRequest{
		Model: "qwen3-8b",
		Messages: []types.ChatMessage{
			{Role: "system", Content: types.ChatContent{Text: "be terse"}},
			{Role: "user", Content: types.ChatContent{Text: "hi"}},
		},
	}); err != nil {
		t.Fatalf("simple chat: %v", err)
	}
	if eng.lastReq.MaxTokens != simpleDefaultMaxTokens {
		t.Fatalf("max_tokens=%d, want default %d", eng.lastReq.MaxTokens, simpleDefaultMaxTokens)
	}
	// Caller-provided system prompt is kept, not duplicated.
	systems := 0
	for _, msg := range eng.lastReq.Messages {
		if msg.Role == "system" {
			systems++
		}
	}
	if systems != 1 {
		t.Fatalf("system messages=%d, want 1", systems)
	}
}

func TestSimpleChatLastSystemMessageWins(t *testing.T) {
	eng := newFakeEngine(t)
	m := newForwardManager(t, eng.srv.URL)

	if _, err := m.SimpleChat(context.Background(), types.SimpleChatRequest{
		Model: "qwen3-8b",
		Messages: []types.ChatMessage{
			{Role: "system", Content: types.ChatContent{Text: "first persona"}},
			{Role: "user", Content: types.ChatContent{Text: "hi"}},
			{Role: "system", Content: types.ChatContent{Text: "second persona"}},
		},
	}); err != nil {
		t.Fatalf("simple chat: %v", err)
	}
	msgs := eng.lastReq.Messages
	if len(msgs) != 2 {
		t.Fatalf("messages=%d, want single system + user: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != "system" || msgs[0].Content.PlainText() != "second persona" {
		t.Fatalf("last system message did not become the prompt: %+v", msgs[0])
	}
	if msgs[1].Role != "user" || msgs[1].Content.PlainText() != "hi" {
		t.Fatalf("user turn lost: %+v", msgs)
	}
}

func TestSimpleChatConvertsLegacyImagePart(t *testing.T) {
	eng := newFakeEngine(t)
	m := newForwardManager(t, eng.srv.URL)

	if _, err := m.SimpleChat(context.Background(), types.SimpleChatRequest{
		Model: "qwen3-8b",
		Messages: []types.ChatMessage{{Role: "user", Content: types.ChatContent{Parts: []types.ContentPart{
			{Type: "text", Text: "what is this"},
			{Type: "image", Image: "https://example.com/cat.png"},
		}}}},
	}); err != nil {
		t.Fatalf("simple chat: %v", err)
	}
	user := eng.lastReq.Messages[len(eng.lastReq.Messages)-1]
	parts := user.Content.Parts
	if len(parts) != 2 || parts[0].Type != "text" {
		t.Fatalf("unexpected parts: %+v", parts)
	}
	img := parts[1]
	if img.Type != "image_url" || img.ImageURL == nil || img.ImageURL.URL != "https://example.com/cat.png" {
		t.Fatalf("image part not converted: %+v", img)
	}
}

func TestSimpleChatRejectsBadImagePayload(t *testing.T) {
	eng := newFakeEngine(t)
	m := newForwardManager(t, eng.srv.URL)

	for _, payload := range []string{"", "ftp://example.com/cat.png", "cat.png"} {
		_, err := m.SimpleChat(context.Background(), types.SimpleChatRequest{
			Model: "qwen3-8b",
			Messages: []types.ChatMessage{{Role: "user", Content: types.ChatContent{Parts: []types.ContentPart{
				{Type: "image", Image: payload},
			}}}},
		})
		if !IsInvalidRequest(err) {
			t.Fatalf("payload %q: expected invalid-request, got %v", payload, err)
		}
	}
}

func TestSimpleChatEmptyMessages(t *testing.T) {
	eng := newFakeEngine(t)
	m := newForwardManager(t, eng.srv.URL)
	_, err := m.SimpleChat(context.Background(), types.SimpleChatRequest{Model: "qwen3-8b"})
	if !IsInvalidRequest(err) {
		t.Fatalf("expected invalid-request, got %v", err)
	}
}
