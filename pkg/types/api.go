package types

// SimpleChatRequest is the payload of the plain POST /chat/completions
// route: structured messages plus a generation cap.
type SimpleChatRequest struct {
	// Conversation history, oldest first. At least one message is required.
	Messages []ChatMessage `json:"messages"`
	// Maximum number of new tokens to generate; clamped to [10, 4096].
	// example: 1000
	MaxNewTokens int `json:"max_new_tokens,omitempty" example:"1000"`
	// Optional model identifier. If empty, the server default is used.
	Model string `json:"model,omitempty"`
}

// SimpleChatResponse mirrors the legacy single-shot response shape.
type SimpleChatResponse struct {
	// Generated assistant text.
	Response string `json:"response"`
	// HTTP-style status code, 200 on success.
	// example: 200
	Status int `json:"status" example:"200"`
	// Server time in unix seconds.
	Time int64 `json:"time"`
	// Wall-clock processing time in seconds.
	ProcessingTime float64 `json:"processing_time"`
	// Number of completion tokens generated.
	TokensGenerated int `json:"tokens_generated"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// ModelsResponse wraps the registry list returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// InstanceStatus summarizes one managed engine instance for /status.
type InstanceStatus struct {
	// ID of the model this instance serves.
	ModelID string `json:"model_id" example:"qwen3-8b"`
	// Current lifecycle state (loading, ready, draining, error).
	State string `json:"state" example:"ready"`
	// Last time this instance served a request (unix seconds).
	LastUsed int64 `json:"last_used_unix"`
	// Estimated VRAM usage in MB.
	EstVRAMMB int `json:"est_vram_mb"`
	// Current queue length for incoming requests.
	QueueLen int `json:"queue_len"`
	// Number of in-flight requests currently forwarded to the engine.
	Inflight int `json:"inflight"`
	// Maximum queued requests allowed before backpressure triggers.
	MaxQueueDepth int `json:"max_queue_depth"`
	// TCP port of the managed engine process.
	Port int `json:"port,omitempty"`
	// Process ID of the managed engine process.
	PID int `json:"pid,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Instances []InstanceStatus `json:"instances"`
	// VRAM budget in MB across all instances (0 = unlimited).
	BudgetMB int `json:"budget_mb"`
	// Estimated used VRAM in MB.
	UsedMB int `json:"used_est_mb"`
	// Reserved VRAM margin in MB.
	MarginMB int `json:"margin_mb"`
	// Last error observed by the gateway (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
	// Total number of evictions performed to free VRAM.
	EvictionsTotal uint64 `json:"evictions_total"`
	// Total number of engine launches.
	LoadsTotal uint64 `json:"loads_total"`
	// Overall gateway state (loading, ready, error).
	State string `json:"state" example:"ready"`
	// Number of instances currently warming up.
	WarmupsInProgress int `json:"warmups_in_progress"`
	// Number of instances currently draining.
	DrainingCount int `json:"draining_count"`
}
