package exec

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"querygate/internal/config"
	"querygate/internal/domain"
)

// Sweeper periodically reclaims execution resources: it force-cancels
// runaway RUNNING executions as a backstop, expires idle result buffers, and
// removes terminal records past the retention window.
type Sweeper struct {
	manager *Manager
	cfg     config.QueryConfig
	logger  *slog.Logger
	cron    *cron.Cron
}

// NewSweeper creates a sweeper over the given registry.
func NewSweeper(manager *Manager, cfg config.QueryConfig, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		manager: manager,
		cfg:     cfg,
		logger:  logger.With("component", "retention_sweeper"),
	}
}

// Start schedules the sweep on the configured interval.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.SweepInterval)
	if _, err := s.cron.AddFunc(spec, func() {
		forceCanceled, expired, removed := s.manager.Sweep(time.Now())
		if forceCanceled+expired+removed > 0 {
			s.logger.Info("sweep completed",
				"force_canceled", forceCanceled, "expired", expired, "removed", removed)
		}
	}); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("retention sweeper started", "interval", s.cfg.SweepInterval)
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep runs one reclamation pass against the registry as of the given
// time and reports how many executions were force-canceled, expired, and
// removed.
func (m *Manager) Sweep(now time.Time) (forceCanceled, expired, removed int) {
	m.mu.Lock()
	snapshot := make([]*execution, 0, len(m.executions))
	for _, e := range m.executions {
		snapshot = append(snapshot, e)
	}
	m.mu.Unlock()

	for _, e := range snapshot {
		e.mu.Lock()
		status := e.status
		startedAt := e.startedAt
		completedAt := e.completedAt
		lastAccessed := e.lastAccessed
		resultsExpired := e.resultsExpired
		maxRuntime := e.policy.MaxRuntime()
		e.mu.Unlock()

		// Runaway backstop: the worker's per-row check is the primary
		// runtime enforcement, this catches executions stuck inside a
		// fetch that never returns.
		if status == domain.ExecutionRunning && startedAt != nil && maxRuntime > 0 &&
			now.Sub(*startedAt) > maxRuntime+m.cfg.RuntimeMargin {
			m.logger.Warn("force-canceling runaway execution",
				"execution_id", e.id, "actor", e.actor, "running_for", now.Sub(*startedAt))
			e.interrupt()
			e.releaseHandle()
			forceCanceled++
			continue
		}

		if !status.Terminal() {
			continue
		}

		if completedAt != nil && now.Sub(*completedAt) > m.cfg.RetentionWindow {
			e.releaseHandle()
			m.mu.Lock()
			delete(m.executions, e.id)
			m.mu.Unlock()
			removed++
			continue
		}

		if !resultsExpired && now.Sub(lastAccessed) > m.cfg.ResultTTL {
			e.expireResults()
			expired++
		}
	}
	return forceCanceled, expired, removed
}
