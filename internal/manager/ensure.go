package manager

import (
	"context"
	"time"

	"llmd/internal/engine"
)

// EnsureInstance makes sure a ready engine-backed instance exists for
// modelID, evicting idle instances first when the VRAM budget requires it.
func (m *Manager) EnsureInstance(ctx context.Context, modelID string) error {
	startTs := time.Now()
	modelID, err := m.resolveModelID(modelID)
	if err != nil {
		return err
	}
	m.publisher.Publish(Event{Name: "ensure_start", ModelID: modelID, Fields: map[string]any{}})

	m.mu.RLock()
	inst, ok := m.instances[modelID]
	ready := ok && inst != nil && inst.State == StateReady
	m.mu.RUnlock()
	if ready {
		// Upgrade to write lock to safely mutate LastUsed and re-check state
		m.mu.Lock()
		if inst2, ok2 := m.instances[modelID]; ok2 && inst2 != nil && inst2.State == StateReady {
			inst2.LastUsed = time.Now()
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
		// State changed in between; continue with the ensure path
	}

	mdl, ok := m.models.Get(modelID)
	if !ok {
		m.publisher.Publish(Event{Name: "ensure_model_not_found", ModelID: modelID, Fields: map[string]any{}})
		return ErrModelNotFound(modelID)
	}
	reqMB := engine.EstimateVRAMMB(mdl)

	// Evict until it fits budget + margin, if a budget is configured
	if m.budgetMB > 0 {
		if err := m.evictUntilFits(reqMB); err != nil {
			m.publisher.Publish(Event{Name: "ensure_budget_fail", ModelID: modelID, Fields: map[string]any{"error": err.Error()}})
			return err
		}
	}

	m.mu.Lock()
	m.state = StateLoading
	m.err = ""
	inst, existed := m.instances[modelID]
	addedNow := false
	if !existed || inst == nil {
		inst = &Instance{
			ID:        modelID,
			State:     StateLoading,
			LastUsed:  time.Now(),
			EstVRAMMB: reqMB,
			genCh:     make(chan struct{}, m.maxInflight),
			queueCh:   make(chan struct{}, m.maxQueueDepth),
		}
		m.instances[modelID] = inst
		addedNow = true
	} else {
		inst.State = StateLoading
		inst.EstVRAMMB = reqMB
		inst.LastUsed = time.Now()
	}
	m.mu.Unlock()

	proc, err := m.engines.Ensure(ctx, mdl)
	if err != nil {
		m.mu.Lock()
		m.state = StateError
		m.err = err.Error()
		if addedNow {
			delete(m.instances, modelID)
		}
		m.mu.Unlock()
		m.log.Error().Str("model", modelID).Err(err).Msg("engine spawn failed")
		m.publisher.Publish(Event{Name: "ensure_spawn_error", ModelID: modelID, Fields: map[string]any{"error": err.Error()}})
		return ErrEngineUnavailable(err.Error())
	}

	m.mu.Lock()
	if addedNow {
		// Only add to the used estimate when we actually added a new instance
		m.usedEstMB += reqMB
	}
	inst.State = StateReady
	inst.LastUsed = time.Now()
	inst.BaseURL = proc.BaseURL
	inst.Port = proc.Port
	inst.PID = proc.PID
	m.state = StateReady
	m.err = ""
	m.loadsTotal++
	m.mu.Unlock()

	m.log.Info().Str("model", modelID).Int("pid", proc.PID).Int("port", proc.Port).
		Dur("dur", time.Since(startTs)).Msg("instance ready")
	m.publisher.Publish(Event{Name: "ensure_ready", ModelID: modelID, Fields: map[string]any{"dur_ms": int(time.Since(startTs) / time.Millisecond)}})
	return nil
}

// Switch kicks off an async ensure for modelID and returns immediately.
// Callers poll Status() to observe state transitions.
func (m *Manager) Switch(ctx context.Context, modelID string) error {
	modelID, err := m.resolveModelID(modelID)
	if err != nil {
		return err
	}
	if _, ok := m.models.Get(modelID); !ok {
		return ErrModelNotFound(modelID)
	}
	// Detached context: background loading should not stop when the
	// triggering request goes away.
	go func() { _ = m.EnsureInstance(context.Background(), modelID) }()
	return nil
}
