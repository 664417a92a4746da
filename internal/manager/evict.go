package manager

import "time"

// evictUntilFits stops LRU idle instances until requiredMB fits inside
// budget minus margin. Instances with in-flight or queued work are skipped.
func (m *Manager) evictUntilFits(requiredMB int) error {
	deadline := time.Now().Add(1 * time.Second)
	for {
		m.mu.Lock()
		fits := (m.usedEstMB + requiredMB + m.marginMB) <= m.budgetMB
		if fits {
			m.mu.Unlock()
			return nil
		}
		var lru *Instance
		for _, inst := range m.instances {
			if len(inst.genCh) > 0 || len(inst.queueCh) > 0 {
				continue
			}
			if lru == nil || inst.LastUsed.Before(lru.LastUsed) {
				lru = inst
			}
		}
		if lru == nil {
			// nothing to evict
			m.mu.Unlock()
			return nil
		}
		delete(m.instances, lru.ID)
		m.usedEstMB -= lru.EstVRAMMB
		if m.usedEstMB < 0 {
			m.usedEstMB = 0
		}
		m.evictionsTotal++
		m.mu.Unlock()

		if m.engines != nil {
			_ = m.engines.Stop(lru.ID)
		}
		m.log.Info().Str("model", lru.ID).Int("freed_mb", lru.EstVRAMMB).Msg("instance evicted")
		m.publisher.Publish(Event{Name: "evicted", ModelID: lru.ID, Fields: map[string]any{"freed_mb": lru.EstVRAMMB}})

		if time.Now().After(deadline) {
			return nil
		}
		// loop to re-check
	}
}
