package jobs

import (
	"context"
	"fmt"
)

const interruptedMessage = "Error: processing was interrupted by a restart"

// LoadFromDisk loads persisted jobs into memory.
// A job left in progress by a previous run is marked as failed.
func (m *Manager) LoadFromDisk() error {
	if m.store == nil {
		return nil
	}
	loaded, err := m.store.LoadJobs(context.Background())
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	for _, j := range loaded {
		if j.State == StateInProgress || j.State == StateCreated {
			j.State = StateFailed
			j.Progress = 100
			j.Message = interruptedMessage
			_ = m.store.SaveJob(context.Background(), j)
		}
		m.mu.Lock()
		m.jobs[j.ID] = j
		m.mu.Unlock()
	}
	return nil
}
