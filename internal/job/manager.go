package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/datallboy/mediagrab/internal/domain"
)

type entry struct {
	rec    *domain.JobRecord
	task   domain.Task
	cancel context.CancelFunc
}

// Manager queues tasks submitted over the API and runs them one at a time
type Manager struct {
	mu      sync.RWMutex
	runner  *Runner
	history History
	queue   []*entry
	active  *entry

	newJobChan chan struct{}
}

func NewManager(runner *Runner, history History) *Manager {
	return &Manager{
		runner:     runner,
		history:    history,
		newJobChan: make(chan struct{}, 1),
	}
}

// Add records a pending job for task and notifies the Start loop
func (m *Manager) Add(task domain.Task) (domain.JobRecord, error) {
	if task.URL == "" {
		return domain.JobRecord{}, fmt.Errorf("task url is required")
	}
	if !task.HasVideo() && !task.HasImage() {
		return domain.JobRecord{}, ErrNothingToDownload
	}

	rec := m.runner.NewRecord(task.URL)
	rec.VariantsTotal = len(task.Variants)
	rec.ImagesTotal = len(task.Images)

	if err := m.history.SaveJob(context.Background(), rec); err != nil {
		return domain.JobRecord{}, fmt.Errorf("failed to save job to database: %w", err)
	}

	m.mu.Lock()
	m.queue = append(m.queue, &entry{rec: rec, task: task})
	m.mu.Unlock()

	// Signal the Start() loop that there is work to do
	select {
	case m.newJobChan <- struct{}{}:
	default:
		// Signal already pending, no need to block
	}

	return m.runner.Snapshot(rec), nil
}

// Start runs queued jobs until ctx is done
func (m *Manager) Start(ctx context.Context) {
	for {
		m.mu.Lock()
		var next *entry
		if len(m.queue) > 0 {
			next = m.queue[0]
		}
		if next != nil {
			jobCtx, cancel := context.WithCancel(ctx)
			next.cancel = cancel
			m.active = next
			m.mu.Unlock()

			_ = m.runner.Run(jobCtx, next.rec, next.task)
			cancel()

			m.mu.Lock()
			m.active = nil
			m.removeFromLiveQueue(next.rec.ID)
			m.mu.Unlock()
			continue
		}
		m.mu.Unlock()

		select {
		case <-m.newJobChan:
		case <-ctx.Done():
			return
		}
	}
}

// Active returns the running job, if any
func (m *Manager) Active() (domain.JobRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return domain.JobRecord{}, false
	}
	return m.runner.Snapshot(m.active.rec), true
}

// Get looks in the live queue first and falls back to history
func (m *Manager) Get(ctx context.Context, id string) (domain.JobRecord, error) {
	m.mu.RLock()
	for _, e := range m.queue {
		if e.rec.ID == id {
			m.mu.RUnlock()
			return m.runner.Snapshot(e.rec), nil
		}
	}
	m.mu.RUnlock()

	rec, err := m.history.GetJob(ctx, id)
	if err != nil {
		return domain.JobRecord{}, err
	}
	return *rec, nil
}

func (m *Manager) List(ctx context.Context, limit int) ([]*domain.JobRecord, error) {
	return m.history.ListJobs(ctx, limit)
}

// Cancel stops a running job or drops a queued one
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.queue {
		if e.rec.ID != id {
			continue
		}

		if e.cancel != nil {
			e.cancel()
			return true
		}

		// Not started yet
		m.removeFromLiveQueue(id)
		now := time.Now().UTC()
		m.runner.update(e.rec, func(j *domain.JobRecord) {
			j.Status = domain.StatusFailed
			j.Error = "Cancelled by user"
			j.FinishedAt = &now
		})
		return true
	}
	return false
}

// removeFromLiveQueue keeps the queue small by removing finished items
func (m *Manager) removeFromLiveQueue(id string) {
	for i, e := range m.queue {
		if e.rec.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
}
