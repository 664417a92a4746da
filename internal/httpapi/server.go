package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llmd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	OpenAIModels() types.OpenAIModelList
	Status() types.StatusResponse
	Ready() bool
	ChatCompletion(ctx context.Context, req types.ChatCompletionRequest, w io.Writer, flush func()) error
	Completion(ctx context.Context, req types.CompletionRequest, w io.Writer, flush func()) error
	SimpleChat(ctx context.Context, req types.SimpleChatRequest) (types.SimpleChatResponse, error)
	Unload(modelID string) error
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.ModelsResponse{Models: svc.ListModels()})
	})

	r.Get("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.OpenAIModels())
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	})

	r.Post("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatCompletionRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		if len(req.Messages) == 0 {
			writeJSONError(w, http.StatusBadRequest, "messages is required")
			return
		}
		forward(w, r, req.Stream, func(ctx context.Context, out io.Writer, flush func()) error {
			return svc.ChatCompletion(ctx, req, out, flush)
		})
	})

	r.Post("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		var req types.CompletionRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		forward(w, r, req.Stream, func(ctx context.Context, out io.Writer, flush func()) error {
			return svc.Completion(ctx, req, out, flush)
		})
	})

	// Plain single-shot route: no streaming, legacy response shape.
	r.Post("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req types.SimpleChatRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		start := time.Now()
		lvl := requestLogLevel(r)
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		resp, err := svc.SimpleChat(joinedCtx, req)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := errorStatus(err)
			writeJSONError(w, status, err.Error())
			logRequestEnd(r, lvl, start, status, err)
			return
		}
		writeJSON(w, resp)
		logRequestEnd(r, lvl, start, http.StatusOK, nil)
	})

	r.Post("/unload", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		if !decodeJSONBody(w, r, &req) {
			return
		}
		if err := svc.Unload(req.Model); err != nil {
			writeJSONError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, map[string]string{"status": "unloaded", "model": req.Model})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// forward runs one generation call, wiring streaming headers and mapping
// gateway errors to HTTP status codes. Once streaming bytes have been
// written the status can no longer change, so errors mid-stream only
// terminate the response.
func forward(w http.ResponseWriter, r *http.Request, stream bool, call func(ctx context.Context, out io.Writer, flush func()) error) {
	start := time.Now()
	lvl := requestLogLevel(r)

	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	if stream {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}

	// Join server base context with request context so shutdown cancels work too.
	joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	out := &writeTracker{w: w}
	if err := call(joinedCtx, out, flush); err != nil {
		// Client disconnect or shutdown: nothing sensible left to write.
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		// A started SSE stream cannot carry a JSON error payload; log and
		// end the stream instead.
		if stream && out.wrote {
			logRequestEnd(r, lvl, start, http.StatusOK, err)
			return
		}
		status := errorStatus(err)
		writeJSONError(w, status, err.Error())
		logRequestEnd(r, lvl, start, status, err)
		return
	}
	logRequestEnd(r, lvl, start, http.StatusOK, nil)
}

// writeTracker records whether any response bytes have been written.
type writeTracker struct {
	w     io.Writer
	wrote bool
}

func (t *writeTracker) Write(p []byte) (int, error) {
	if len(p) > 0 {
		t.wrote = true
	}
	return t.w.Write(p)
}

// decodeJSONBody enforces content type and size limits, then decodes into v.
// Writes the error response itself and returns false on failure.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
