package manager

import (
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"llmd/pkg/types"
)

// Manager tracks live model instances, admits requests against per-instance
// queues, and keeps the sum of instance VRAM estimates inside the budget by
// evicting idle instances LRU-first.
type Manager struct {
	mu           sync.RWMutex
	state        State
	err          string
	models       ModelSource
	engines      EngineRunner
	budgetMB     int
	marginMB     int
	defaultModel string
	instances    map[string]*Instance
	usedEstMB    int

	// Queue config
	maxQueueDepth int
	maxWait       time.Duration
	maxInflight   int
	drainTimeout  time.Duration

	publisher  EventPublisher
	log        zerolog.Logger
	httpClient *http.Client

	startTime      time.Time
	loadsTotal     uint64
	evictionsTotal uint64
}

// SetEventPublisher installs a publisher for lifecycle events. Nil restores
// the default drop-everything publisher.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p == nil {
		m.publisher = noopPublisher{}
		return
	}
	m.publisher = p
}

// Ready reports whether the gateway can accept work. Instances load lazily
// on first request, so an empty instance table is still ready.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != StateError
}

// ListModels returns the registry entries.
func (m *Manager) ListModels() []types.Model {
	return m.models.Models()
}

// OpenAIModels projects the registry onto the OpenAI model-list shape.
func (m *Manager) OpenAIModels() types.OpenAIModelList {
	entries := m.models.Models()
	list := types.OpenAIModelList{Object: "list", Data: make([]types.OpenAIModel, 0, len(entries))}
	now := time.Now().Unix()
	for _, e := range entries {
		list.Data = append(list.Data, types.OpenAIModel{
			ID:      e.DisplayName(),
			Object:  "model",
			Created: now,
			OwnedBy: "llmd",
		})
	}
	return list
}

// Close stops every engine process. Best effort.
func (m *Manager) Close() error {
	if m.engines != nil {
		m.engines.StopAll()
	}
	return nil
}

// resolveModelID fills in the default when the request omits a model.
func (m *Manager) resolveModelID(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	if m.defaultModel != "" {
		return m.defaultModel, nil
	}
	return "", modelNotFoundError{id: "(unspecified)"}
}
