package exec

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"querygate/internal/config"
	"querygate/internal/domain"
)

// Manager is the authoritative registry of all known executions. The record
// map starts empty at process start, lives entirely in memory, and needs no
// teardown beyond process exit. All mutation goes through the worker state
// machine; Submit serializes the per-principal active count and the record
// creation inside one critical section so the concurrency limit can never be
// oversubscribed by concurrent submissions.
type Manager struct {
	resolver  domain.ConnectionResolver
	auditRepo domain.AuditRepository
	cfg       config.QueryConfig
	logger    *slog.Logger
	events    *broadcaster
	now       func() time.Time

	mu         sync.Mutex
	executions map[string]*execution
}

// NewManager creates an empty execution registry.
func NewManager(resolver domain.ConnectionResolver, audit domain.AuditRepository, cfg config.QueryConfig, logger *slog.Logger) *Manager {
	return &Manager{
		resolver:   resolver,
		auditRepo:  audit,
		cfg:        cfg,
		logger:     logger.With("component", "exec_manager"),
		events:     newBroadcaster(),
		now:        time.Now,
		executions: make(map[string]*execution),
	}
}

// Submit validates the statement against the resolved policy, enforces the
// per-principal concurrency limit, registers the record in QUEUED state and
// dispatches the worker. It returns immediately without waiting for
// execution to start.
func (m *Manager) Submit(ctx context.Context, principal domain.ContextPrincipal, req domain.SubmitRequest, policy domain.AccessPolicy) (*domain.ExecutionResponse, error) {
	canonical := canonicalizeSQL(req.SQL)
	if canonical == "" {
		return nil, domain.ErrValidation("sql statement is required")
	}
	if policy.ReadOnly && !isReadOnlyStatement(canonical) {
		m.audit(principal.Name, domain.AuditQuerySubmit, domain.AuditDenied, nil, strPtr("statement is not read-only"))
		return nil, domain.ErrAccessDenied("policy for datasource %q permits read-only statements only", req.DatasourceID)
	}

	hash := hashSQL(canonical)
	now := m.now()
	e := &execution{
		id:                domain.NewID(),
		actor:             principal.Name,
		originAddr:        req.OriginAddr,
		datasourceID:      req.DatasourceID,
		credentialProfile: policy.CredentialProfile,
		sql:               canonical,
		queryHash:         hash,
		policy:            policy,
		submittedAt:       now,
		done:              make(chan struct{}),
		status:            domain.ExecutionQueued,
		message:           "queued",
		lastAccessed:      now,
	}

	// Counting the principal's active executions and creating the record
	// must be one atomic step; on limit violation nothing is created.
	m.mu.Lock()
	if policy.MaxConcurrent > 0 {
		active := int64(0)
		for _, other := range m.executions {
			if other.actor == principal.Name && !other.currentStatus().Terminal() {
				active++
			}
		}
		if active >= policy.MaxConcurrent {
			m.mu.Unlock()
			m.audit(principal.Name, domain.AuditQuerySubmit, domain.AuditDenied, e, strPtr(fmt.Sprintf("concurrency limit %d reached", policy.MaxConcurrent)))
			return nil, domain.ErrConcurrencyLimit("concurrency limit of %d active executions reached", policy.MaxConcurrent)
		}
	}
	m.executions[e.id] = e
	m.mu.Unlock()

	m.publish(e, false)
	m.audit(principal.Name, domain.AuditQuerySubmit, domain.AuditAllowed, e, nil)
	go m.run(e)

	return &domain.ExecutionResponse{
		ExecutionID:  e.id,
		DatasourceID: e.datasourceID,
		Status:       domain.ExecutionQueued,
		Message:      "queued",
		QueryHash:    hash,
	}, nil
}

// Cancel requests cancellation of an execution. It is idempotent: canceling
// an already terminal execution reports the existing terminal status.
func (m *Manager) Cancel(ctx context.Context, principal domain.ContextPrincipal, executionID string) (*domain.ExecutionView, error) {
	e, err := m.resolveFor(principal, executionID)
	if err != nil {
		return nil, err
	}

	e.cancelRequested.Store(true)

	switch status := e.currentStatus(); {
	case status.Terminal():
		// Idempotent no-op.
	case status == domain.ExecutionQueued:
		// No race with a worker that has not touched the record yet:
		// mark CANCELED immediately.
		e.interrupt()
		m.finish(e, domain.ExecutionCanceled, "canceled before start")
	default: // RUNNING
		// Soft-cancel, then a bounded grace for the worker to observe the
		// flag; after that the connection handle is force-closed whether or
		// not the statement honored the stop request.
		e.interrupt()
		select {
		case <-e.done:
		case <-time.After(m.cfg.CancelGrace):
			m.logger.Warn("cancel grace elapsed, force-closing connection", "execution_id", e.id)
			e.releaseHandle()
		}
	}

	m.audit(principal.Name, domain.AuditQueryCancel, domain.AuditAllowed, e, nil)
	return e.view(), nil
}

// GetStatus returns a snapshot of the execution's observable state.
func (m *Manager) GetStatus(ctx context.Context, principal domain.ContextPrincipal, executionID string) (*domain.ExecutionView, error) {
	e, err := m.resolveFor(principal, executionID)
	if err != nil {
		return nil, err
	}
	return e.view(), nil
}

// List returns the executions visible to the principal (admins see all),
// most recently submitted first.
func (m *Manager) List(ctx context.Context, principal domain.ContextPrincipal) []*domain.ExecutionView {
	m.mu.Lock()
	var out []*domain.ExecutionView
	for _, e := range m.executions {
		if principal.IsAdmin || e.actor == principal.Name {
			out = append(out, e.view())
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ExecutionID > out[j].ExecutionID
	})
	return out
}

// resolveFor looks up the record and enforces that the caller is the
// original actor or an admin.
func (m *Manager) resolveFor(principal domain.ContextPrincipal, executionID string) (*execution, error) {
	m.mu.Lock()
	e, ok := m.executions[executionID]
	m.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound("execution %q not found", executionID)
	}
	if e.actor != principal.Name && !principal.IsAdmin {
		return nil, domain.ErrForbidden("execution %q belongs to another principal", executionID)
	}
	return e, nil
}

// finish applies a terminal transition and, if it won the race, emits the
// status event and the audit record for the outcome.
func (m *Manager) finish(e *execution, status domain.ExecutionStatus, message string) {
	if !e.transition(m.now(), status, message) {
		return
	}
	m.publish(e, false)

	outcome := domain.AuditAllowed
	var detail *string
	switch status {
	case domain.ExecutionCanceled:
		outcome = domain.AuditCanceled
	case domain.ExecutionFailed:
		outcome = domain.AuditError
		detail = strPtr(message)
	}
	m.audit(e.actor, domain.AuditQueryComplete, outcome, e, detail)
}

// publish fans the execution's current status out to the subscribers
// entitled to see it.
func (m *Manager) publish(e *execution, syncReplay bool) {
	v := e.view()
	m.events.publish(e.actor, domain.StatusEvent{
		ExecutionID:  v.ExecutionID,
		DatasourceID: v.DatasourceID,
		Status:       v.Status,
		Message:      v.Message,
		Sync:         syncReplay,
		Timestamp:    m.now(),
	})
}

// audit writes one audit record. Fire-and-forget: failures are logged at
// debug level and never block or fail the caller.
func (m *Manager) audit(actor string, action, outcome string, e *execution, detail *string) {
	entry := &domain.AuditEntry{
		Actor:  actor,
		Action: action,
		Status: outcome,
	}
	if e != nil {
		entry.DatasourceID = strPtr(e.datasourceID)
		entry.ExecutionID = strPtr(e.id)
		entry.QueryHash = strPtr(e.queryHash)
		if e.originAddr != "" {
			entry.OriginAddr = strPtr(e.originAddr)
		}
	}
	entry.Detail = detail

	if err := m.auditRepo.Insert(context.Background(), entry); err != nil {
		m.logger.Debug("audit insert failed", "action", action, "error", err)
	}
}

func strPtr(s string) *string { return &s }
