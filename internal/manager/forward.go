package manager

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"llmd/pkg/types"
)

// Generation cap for the plain /chat/completions route.
const (
	simpleDefaultMaxTokens = 1000
	simpleMinMaxTokens     = 10
	simpleMaxMaxTokens     = 4096
	simpleSystemPrompt     = "You are a helpful assistant."
)

// ChatCompletion admits the request and forwards it to the model's engine.
// Non-streaming replies are relayed as one JSON body; streaming replies are
// relayed line by line as SSE, flushing after every line.
func (m *Manager) ChatCompletion(ctx context.Context, req types.ChatCompletionRequest, w io.Writer, flusher func()) error {
	modelID, mdl, release, err := m.admit(ctx, req.Model)
	if err != nil {
		return err
	}
	defer release()
	req.Model = mdl.DisplayName()

	baseURL, err := m.instanceBaseURL(modelID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	resp, err := m.doUpstream(ctx, baseURL+"/v1/chat/completions", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if req.Stream {
		return relaySSE(resp.Body, w, flusher)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// Completion forwards a legacy text completion the same way.
func (m *Manager) Completion(ctx context.Context, req types.CompletionRequest, w io.Writer, flusher func()) error {
	modelID, mdl, release, err := m.admit(ctx, req.Model)
	if err != nil {
		return err
	}
	defer release()
	req.Model = mdl.DisplayName()

	baseURL, err := m.instanceBaseURL(modelID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	resp, err := m.doUpstream(ctx, baseURL+"/v1/completions", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if req.Stream {
		return relaySSE(resp.Body, w, flusher)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// SimpleChat serves the plain POST /chat/completions route: single-shot,
// non-streaming, with a clamped token cap and a default system prompt.
func (m *Manager) SimpleChat(ctx context.Context, req types.SimpleChatRequest) (types.SimpleChatResponse, error) {
	if len(req.Messages) == 0 {
		return types.SimpleChatResponse{}, ErrInvalidRequest("messages must not be empty")
	}
	maxTokens := req.MaxNewTokens
	if maxTokens <= 0 {
		maxTokens = simpleDefaultMaxTokens
	}
	if maxTokens < simpleMinMaxTokens {
		maxTokens = simpleMinMaxTokens
	}
	if maxTokens > simpleMaxMaxTokens {
		maxTokens = simpleMaxMaxTokens
	}
	messages, err := simpleMessages(req.Messages)
	if err != nil {
		return types.SimpleChatResponse{}, err
	}

	start := time.Now()
	modelID, mdl, release, err := m.admit(ctx, req.Model)
	if err != nil {
		return types.SimpleChatResponse{}, err
	}
	defer release()

	baseURL, err := m.instanceBaseURL(modelID)
	if err != nil {
		return types.SimpleChatResponse{}, err
	}
	chatReq := types.ChatCompletionRequest{
		Model:     mdl.DisplayName(),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	chatResp, err := m.chatOnce(ctx, baseURL, chatReq)
	if err != nil {
		return types.SimpleChatResponse{}, err
	}
	if len(chatResp.Choices) == 0 {
		return types.SimpleChatResponse{}, ErrEngineUnavailable("engine returned no choices")
	}
	out := types.SimpleChatResponse{
		Response:       chatResp.Choices[0].Message.Content.PlainText(),
		Status:         http.StatusOK,
		Time:           time.Now().Unix(),
		ProcessingTime: time.Since(start).Seconds(),
	}
	if chatResp.Usage != nil {
		out.TokensGenerated = chatResp.Usage.CompletionTokens
	}
	return out, nil
}

// admit resolves the model, ensures its instance, and reserves an in-flight
// slot. The returned release func must be deferred by the caller.
func (m *Manager) admit(ctx context.Context, model string) (string, types.Model, func(), error) {
	modelID, err := m.resolveModelID(model)
	if err != nil {
		return "", types.Model{}, nil, err
	}
	mdl, ok := m.models.Get(modelID)
	if !ok {
		return "", types.Model{}, nil, ErrModelNotFound(modelID)
	}
	// Registry Get matches served names too; admission is keyed by id.
	modelID = mdl.ID
	if err := m.EnsureInstance(ctx, modelID); err != nil {
		return "", types.Model{}, nil, err
	}
	release, err := m.beginGeneration(ctx, modelID)
	if err != nil {
		return "", types.Model{}, nil, err
	}
	return modelID, mdl, release, nil
}

func (m *Manager) instanceBaseURL(modelID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst := m.instances[modelID]
	if inst == nil || inst.BaseURL == "" {
		return "", ErrEngineUnavailable("no engine for model " + modelID)
	}
	return inst.BaseURL, nil
}

// doUpstream posts the JSON body to the engine and maps failures onto the
// gateway's error taxonomy: connection errors and 5xx become 503, engine
// 4xx becomes 400 with the engine's message relayed.
func (m *Manager) doUpstream(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, ErrEngineUnavailable(fmt.Sprintf("engine unreachable: %v", err))
	}
	if resp.StatusCode >= 500 {
		msg := readBodyTail(resp.Body, 2048)
		resp.Body.Close()
		return nil, ErrEngineUnavailable(fmt.Sprintf("engine error %d: %s", resp.StatusCode, msg))
	}
	if resp.StatusCode >= 400 {
		msg := readBodyTail(resp.Body, 2048)
		resp.Body.Close()
		return nil, ErrInvalidRequest(fmt.Sprintf("engine rejected request: %s", msg))
	}
	return resp, nil
}

// chatOnce runs one non-streaming chat completion and decodes the reply.
func (m *Manager) chatOnce(ctx context.Context, baseURL string, req types.ChatCompletionRequest) (types.ChatCompletionResponse, error) {
	var out types.ChatCompletionResponse
	body, err := json.Marshal(req)
	if err != nil {
		return out, err
	}
	resp, err := m.doUpstream(ctx, baseURL+"/v1/chat/completions", body)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, ErrEngineUnavailable(fmt.Sprintf("decode engine reply: %v", err))
	}
	return out, nil
}

// relaySSE copies the upstream event stream line by line, flushing after
// each line so tokens reach the client as they are produced.
func relaySSE(r io.Reader, w io.Writer, flusher func()) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if _, err := w.Write(append(sc.Bytes(), '\n')); err != nil {
			return err
		}
		if flusher != nil {
			flusher()
		}
	}
	return sc.Err()
}

// simpleMessages rewrites the legacy message list for the engine. System
// entries are stripped and the last one becomes the single leading system
// prompt, falling back to the default when none carries text. Legacy image
// parts are converted to the image_url form.
func simpleMessages(msgs []types.ChatMessage) ([]types.ChatMessage, error) {
	prompt := ""
	rest := make([]types.ChatMessage, 0, len(msgs)+1)
	for _, msg := range msgs {
		if msg.Role == "system" {
			prompt = msg.Content.PlainText()
			continue
		}
		converted, err := convertImageParts(msg)
		if err != nil {
			return nil, err
		}
		rest = append(rest, converted)
	}
	if prompt == "" {
		prompt = simpleSystemPrompt
	}
	sys := types.ChatMessage{Role: "system", Content: types.ChatContent{Text: prompt}}
	return append([]types.ChatMessage{sys}, rest...), nil
}

// convertImageParts maps {"type":"image","image":...} parts onto the
// engine's image_url form, validating the payload shape.
func convertImageParts(msg types.ChatMessage) (types.ChatMessage, error) {
	if msg.Content.Parts == nil {
		return msg, nil
	}
	parts := make([]types.ContentPart, len(msg.Content.Parts))
	copy(parts, msg.Content.Parts)
	for i, p := range parts {
		if p.Type != "image" {
			continue
		}
		if !validImageRef(p.Image) {
			return msg, ErrInvalidRequest("image must be an http(s) URL or a data:image base64 payload")
		}
		parts[i] = types.ContentPart{Type: "image_url", ImageURL: &types.ImageURL{URL: p.Image}}
	}
	msg.Content = types.ChatContent{Parts: parts}
	return msg, nil
}

func validImageRef(s string) bool {
	return strings.HasPrefix(s, "http://") ||
		strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "data:image")
}

func readBodyTail(r io.Reader, max int64) string {
	b, _ := io.ReadAll(io.LimitReader(r, max))
	return strings.TrimSpace(string(b))
}
