// Package exec is the query execution core: the registry of live and
// terminal executions, the per-execution worker state machine, cursor
// pagination over buffered results, the status broadcaster, and the
// retention sweeper.
package exec

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"querygate/internal/domain"
)

// execution is one registry record. The worker goroutine is the only writer
// of the row buffer and column list while RUNNING; request goroutines read
// every field under mu. The sweeper may clear the buffer after the record is
// terminal without changing status.
type execution struct {
	// Immutable after creation.
	id                string
	actor             string
	originAddr        string
	datasourceID      string
	credentialProfile string
	sql               string
	queryHash         string
	policy            domain.AccessPolicy
	submittedAt       time.Time

	cancelRequested atomic.Bool
	done            chan struct{} // closed on the transition into a terminal status

	mu              sync.Mutex
	status          domain.ExecutionStatus
	message         string
	errorSummary    string
	startedAt       *time.Time
	completedAt     *time.Time
	columns         []domain.Column
	rows            [][]interface{}
	rowLimitReached bool
	resultsExpired  bool
	lastAccessed    time.Time
	cancelWorker    context.CancelFunc      // set when the worker starts, nil after release
	handle          domain.ConnectionHandle // live connection, owned by the worker
}

// transition moves the execution into the given status if the current status
// is not already terminal, and reports whether the transition was applied.
// Terminal states are absorbing, so a late SUCCEEDED or FAILED after a
// CANCELED is a no-op: cancellation always wins the race.
func (e *execution) transition(now time.Time, status domain.ExecutionStatus, message string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.Terminal() {
		return false
	}
	e.status = status
	e.message = message
	switch status {
	case domain.ExecutionRunning:
		t := now
		e.startedAt = &t
	case domain.ExecutionCanceled:
		t := now
		e.completedAt = &t
		e.errorSummary = ""
	case domain.ExecutionSucceeded, domain.ExecutionFailed:
		t := now
		e.completedAt = &t
	}
	if status.Terminal() {
		close(e.done)
	}
	return true
}

func (e *execution) setError(summary string) {
	e.mu.Lock()
	e.errorSummary = summary
	e.mu.Unlock()
}

func (e *execution) currentStatus() domain.ExecutionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *execution) setColumns(columns []domain.Column) {
	e.mu.Lock()
	e.columns = columns
	e.mu.Unlock()
}

func (e *execution) setRowLimitReached() {
	e.mu.Lock()
	e.rowLimitReached = true
	e.mu.Unlock()
}

// appendRow adds one streamed row and reports the buffer length afterwards.
func (e *execution) appendRow(row []interface{}) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rows = append(e.rows, row)
	return len(e.rows)
}

func (e *execution) setHandle(cancel context.CancelFunc, h domain.ConnectionHandle) {
	e.mu.Lock()
	if cancel != nil {
		e.cancelWorker = cancel
	}
	if h != nil {
		e.handle = h
	}
	e.mu.Unlock()
}

// releaseHandle closes and clears the live connection handle, if any. Safe
// to call from both the worker's deferred cleanup and the forceful
// cancellation path.
func (e *execution) releaseHandle() {
	e.mu.Lock()
	h := e.handle
	e.handle = nil
	e.mu.Unlock()
	if h != nil {
		_ = h.Close()
	}
}

// interrupt requests the worker to stop: flags cancellation and cancels the
// worker context if the worker has started.
func (e *execution) interrupt() {
	e.cancelRequested.Store(true)
	e.mu.Lock()
	cancel := e.cancelWorker
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// expireResults clears the row buffer and column list without touching the
// status. Only meaningful once the execution is terminal.
func (e *execution) expireResults() {
	e.mu.Lock()
	e.rows = nil
	e.columns = nil
	e.resultsExpired = true
	e.mu.Unlock()
}

func (e *execution) touch(now time.Time) {
	e.mu.Lock()
	e.lastAccessed = now
	e.mu.Unlock()
}

// view returns a consistent read-only snapshot.
func (e *execution) view() *domain.ExecutionView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &domain.ExecutionView{
		ExecutionID:       e.id,
		Actor:             e.actor,
		DatasourceID:      e.datasourceID,
		Status:            e.status,
		Message:           e.message,
		ErrorSummary:      e.errorSummary,
		QueryHash:         e.queryHash,
		RowCount:          len(e.rows),
		RowLimitReached:   e.rowLimitReached,
		ResultsExpired:    e.resultsExpired,
		SubmittedAt:       e.submittedAt,
		StartedAt:         e.startedAt,
		CompletedAt:       e.completedAt,
		MaxRows:           e.policy.MaxRows,
		MaxRuntimeSeconds: e.policy.MaxRuntimeSeconds,
	}
}
