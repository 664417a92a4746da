package manager

import (
	"context"
	"time"

	"llmd/internal/engine"
	"llmd/pkg/types"
)

// State represents lifecycle state of the manager/instances.
type State string

const (
	StateReady    State = "ready"
	StateLoading  State = "loading"
	StateDraining State = "draining"
	StateError    State = "error"
)

// ModelSource supplies servable model entries. *registry.Registry satisfies
// it; tests use a fixed slice.
type ModelSource interface {
	Models() []types.Model
	Get(id string) (types.Model, bool)
}

// EngineRunner spawns and stops inference-engine processes.
// *engine.Supervisor satisfies it.
type EngineRunner interface {
	Ensure(ctx context.Context, m types.Model) (engine.Proc, error)
	Stop(modelID string) error
	StopAll()
}

// Instance is one live engine-backed model (one per model id).
type Instance struct {
	ID        string
	State     State
	LastUsed  time.Time
	EstVRAMMB int
	BaseURL   string
	Port      int
	PID       int
	// Queueing primitives
	genCh   chan struct{} // cap = maxInflight: concurrent forwarded requests
	queueCh chan struct{} // buffered: queue slots
}
