package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"llmd/internal/manager"
	"llmd/pkg/types"
)

// mockService implements Service with overridable behavior per test.
type mockService struct {
	ready      bool
	models     []types.Model
	chatErr    error
	chatMidErr error
	chatBody   string
	complErr   error
	simpleErr  error
	simpleResp types.SimpleChatResponse
	unloadErr  error
	unloaded   []string
}

func (m *mockService) ListModels() []types.Model { return m.models }

func (m *mockService) OpenAIModels() types.OpenAIModelList {
	list := types.OpenAIModelList{Object: "list"}
	for _, mdl := range m.models {
		list.Data = append(list.Data, types.OpenAIModel{ID: mdl.DisplayName(), Object: "model"})
	}
	return list
}

func (m *mockService) Status() types.StatusResponse {
	return types.StatusResponse{State: "ready", BudgetMB: 8000}
}

func (m *mockService) Ready() bool { return m.ready }

func (m *mockService) ChatCompletion(_ context.Context, req types.ChatCompletionRequest, w io.Writer, flush func()) error {
	if m.chatErr != nil {
		return m.chatErr
	}
	body := m.chatBody
	if body == "" {
		body = `{"object":"chat.completion"}`
	}
	if req.Stream {
		fmt.Fprint(w, "data: "+body+"\n\n")
		if flush != nil {
			flush()
		}
		// chatMidErr simulates the engine dying after the first chunk.
		if m.chatMidErr != nil {
			return m.chatMidErr
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		return nil
	}
	_, err := io.WriteString(w, body)
	return err
}

func (m *mockService) Completion(_ context.Context, _ types.CompletionRequest, w io.Writer, _ func()) error {
	if m.complErr != nil {
		return m.complErr
	}
	_, err := io.WriteString(w, `{"object":"text_completion"}`)
	return err
}

func (m *mockService) SimpleChat(_ context.Context, _ types.SimpleChatRequest) (types.SimpleChatResponse, error) {
	if m.simpleErr != nil {
		return types.SimpleChatResponse{}, m.simpleErr
	}
	return m.simpleResp, nil
}

func (m *mockService) Unload(modelID string) error {
	if m.unloadErr != nil {
		return m.unloadErr
	}
	m.unloaded = append(m.unloaded, modelID)
	return nil
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestModelsEndpoint(t *testing.T) {
	h := NewMux(&mockService{models: []types.Model{{ID: "qwen3-8b"}}})
	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"qwen3-8b"`) {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

func TestOpenAIModelsEndpoint(t *testing.T) {
	h := NewMux(&mockService{models: []types.Model{{ID: "qwen3-8b", ServedName: "Qwen3-8B"}}})
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	body := rr.Body.String()
	if rr.Code != http.StatusOK || !strings.Contains(body, `"object":"list"`) || !strings.Contains(body, `"Qwen3-8B"`) {
		t.Fatalf("status=%d body=%s", rr.Code, body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := NewMux(&mockService{})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"budget_mb":8000`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestHealthAndReadiness(t *testing.T) {
	ready := NewMux(&mockService{ready: true})
	notReady := NewMux(&mockService{ready: false})

	rr := httptest.NewRecorder()
	ready.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rr.Code)
	}
	rr = httptest.NewRecorder()
	ready.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz status=%d", rr.Code)
	}
	rr = httptest.NewRecorder()
	notReady.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz not-ready status=%d", rr.Code)
	}
}

func TestChatCompletionsRequiresJSONContentType(t *testing.T) {
	h := NewMux(&mockService{})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{}"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status=%d, want 415", rr.Code)
	}
}

func TestChatCompletionsInvalidJSON(t *testing.T) {
	h := NewMux(&mockService{})
	rr := postJSON(t, h, "/v1/chat/completions", "{not json")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rr.Code)
	}
}

func TestChatCompletionsRequiresMessages(t *testing.T) {
	h := NewMux(&mockService{})
	rr := postJSON(t, h, "/v1/chat/completions", `{"model":"m","messages":[]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rr.Code)
	}
}

func TestChatCompletionsSuccess(t *testing.T) {
	h := NewMux(&mockService{})
	rr := postJSON(t, h, "/v1/chat/completions", `{"model":"m","messages":[{"role":"user","content":"hi"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
	if !strings.Contains(rr.Body.String(), "chat.completion") {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

func TestChatCompletionsStreaming(t *testing.T) {
	h := NewMux(&mockService{})
	rr := postJSON(t, h, "/v1/chat/completions", `{"model":"m","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%s", ct)
	}
	if !strings.Contains(rr.Body.String(), "data: [DONE]") {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

func TestChatCompletionsStreamErrorAfterFirstChunk(t *testing.T) {
	h := NewMux(&mockService{chatMidErr: manager.ErrEngineUnavailable("engine died")})
	rr := postJSON(t, h, "/v1/chat/completions", `{"model":"m","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200 once streaming started", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "data: ") {
		t.Fatalf("first chunk missing: %s", body)
	}
	// No JSON error payload may follow streamed SSE bytes.
	if strings.Contains(body, `"error"`) || strings.Contains(body, `"code"`) {
		t.Fatalf("json error leaked into stream: %s", body)
	}
}

func TestChatCompletionsErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{manager.ErrModelNotFound("ghost"), http.StatusNotFound},
		{manager.ErrEngineUnavailable("down"), http.StatusServiceUnavailable},
		{manager.ErrInvalidRequest("bad"), http.StatusBadRequest},
	}
	for _, tc := range tests {
		h := NewMux(&mockService{chatErr: tc.err})
		rr := postJSON(t, h, "/v1/chat/completions", `{"model":"m","messages":[{"role":"user","content":"hi"}]}`)
		if rr.Code != tc.want {
			t.Fatalf("err=%v status=%d, want %d", tc.err, rr.Code, tc.want)
		}
		if !strings.Contains(rr.Body.String(), `"code"`) {
			t.Fatalf("error payload missing code: %s", rr.Body.String())
		}
	}
}

func TestCompletionsRequiresPrompt(t *testing.T) {
	h := NewMux(&mockService{})
	rr := postJSON(t, h, "/v1/completions", `{"model":"m","prompt":"  "}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rr.Code)
	}
}

func TestCompletionsSuccess(t *testing.T) {
	h := NewMux(&mockService{})
	rr := postJSON(t, h, "/v1/completions", `{"model":"m","prompt":"hello"}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "text_completion") {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSimpleChatRoute(t *testing.T) {
	h := NewMux(&mockService{simpleResp: types.SimpleChatResponse{
		Response: "hi there", Status: 200, TokensGenerated: 3,
	}})
	rr := postJSON(t, h, "/chat/completions", `{"messages":[{"role":"user","content":"hi"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"response":"hi there"`) || !strings.Contains(body, `"tokens_generated":3`) {
		t.Fatalf("body=%s", body)
	}
}

func TestSimpleChatRouteErrors(t *testing.T) {
	h := NewMux(&mockService{simpleErr: manager.ErrInvalidRequest("messages must not be empty")})
	rr := postJSON(t, h, "/chat/completions", `{"messages":[]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rr.Code)
	}
}

func TestUnloadRoute(t *testing.T) {
	svc := &mockService{}
	h := NewMux(svc)
	rr := postJSON(t, h, "/unload", `{"model":"qwen3-8b"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if len(svc.unloaded) != 1 || svc.unloaded[0] != "qwen3-8b" {
		t.Fatalf("unloaded=%v", svc.unloaded)
	}

	h = NewMux(&mockService{unloadErr: manager.ErrModelNotFound("ghost")})
	rr = postJSON(t, h, "/unload", `{"model":"ghost"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rr.Code)
	}
}

func TestMaxBodyBytes(t *testing.T) {
	SetMaxBodyBytes(16)
	defer SetMaxBodyBytes(0)
	h := NewMux(&mockService{})
	rr := postJSON(t, h, "/v1/chat/completions", `{"model":"m","messages":[{"role":"user","content":"`+strings.Repeat("x", 64)+`"}]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewMux(&mockService{})
	// Prime the counters with one request first.
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "llmd_http_requests_total") {
		t.Fatal("metrics output missing llmd_http_requests_total")
	}
}
