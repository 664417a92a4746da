package httpapi

import (
	"encoding/json"
	"net/http"

	"llmd/internal/manager"
	"llmd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// errorStatus maps well-known gateway errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case manager.IsModelNotFound(err):
		return http.StatusNotFound
	case manager.IsTooBusy(err):
		IncrementBackpressure("queue_full")
		return http.StatusTooManyRequests
	case manager.IsEngineUnavailable(err):
		return http.StatusServiceUnavailable
	case manager.IsInvalidRequest(err):
		return http.StatusBadRequest
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}
