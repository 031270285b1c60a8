package exec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"querygate/internal/domain"
)

// Sentinel signals returned from the row-fetch loop. The worker's caller
// inspects them explicitly; they are never raised across layers, which keeps
// handle release reachable through a single deferred block.
var (
	errCanceled        = errors.New("execution canceled")
	errRuntimeExceeded = errors.New("runtime limit exceeded")
	errRowLimit        = errors.New("row limit reached") // normal stop, not a failure
)

// worker drives one execution from QUEUED to a terminal status. It is the
// exclusive owner of the execution's connection handle and row buffer while
// the execution is RUNNING.
type worker struct {
	m    *Manager
	exec *execution
	ctx  context.Context

	start        time.Time
	rowCount     int
	limitReached bool
}

// run is launched asynchronously at submission; submission never waits on it.
func (m *Manager) run(e *execution) {
	ctx, cancel := context.WithCancel(context.Background())
	e.setHandle(cancel, nil)
	defer cancel()
	// Handles are released on every exit path, whatever the outcome.
	defer e.releaseHandle()

	// Cancel requested before the worker touched the record.
	if e.cancelRequested.Load() {
		m.finish(e, domain.ExecutionCanceled, "canceled before start")
		return
	}
	if !e.transition(m.now(), domain.ExecutionRunning, "executing") {
		return
	}
	m.publish(e, false)
	m.audit(e.actor, domain.AuditQueryStart, domain.AuditAllowed, e, nil)

	w := &worker{m: m, exec: e, ctx: ctx, start: time.Now()}
	err := w.execute()

	switch {
	case err == nil || errors.Is(err, errRowLimit):
		if w.limitReached {
			e.setRowLimitReached()
		}
		msg := fmt.Sprintf("succeeded, %d rows", w.rowCount)
		if w.limitReached {
			msg = fmt.Sprintf("succeeded, truncated at row limit (%d rows)", w.rowCount)
		}
		m.finish(e, domain.ExecutionSucceeded, msg)
	case errors.Is(err, errCanceled), e.cancelRequested.Load():
		m.finish(e, domain.ExecutionCanceled, "canceled")
	case errors.Is(err, errRuntimeExceeded):
		msg := fmt.Sprintf("runtime limit of %ds exceeded", e.policy.MaxRuntimeSeconds)
		e.setError(msg)
		m.finish(e, domain.ExecutionFailed, msg)
	default:
		summary := sanitizeError(err.Error())
		e.setError(summary)
		m.finish(e, domain.ExecutionFailed, "execution failed: "+summary)
	}
}

// execute runs the statement, preferring an in-process simulation when the
// statement matches a recognized synthetic pattern.
func (w *worker) execute() error {
	e := w.exec

	if sim, args := matchSimulation(e.sql); sim != nil {
		w.m.logger.Debug("running simulation", "execution_id", e.id, "simulation", sim.name)
		return sim.run(w, args)
	}

	handle, err := w.m.resolver.OpenConnection(w.ctx, e.datasourceID, e.credentialProfile)
	if err != nil {
		if isReadOnlyStatement(e.sql) {
			w.m.logger.Warn("connection attempt failed, falling back to offline simulation",
				"execution_id", e.id, "datasource", e.datasourceID, "error", sanitizeError(err.Error()))
			return runOfflineFallback(w)
		}
		return err
	}
	e.setHandle(nil, handle)

	if returnsRows(e.sql) {
		rows, err := handle.QueryContext(w.ctx, e.sql)
		if err != nil {
			return err
		}
		defer rows.Close() //nolint:errcheck
		return w.streamRows(rows)
	}

	res, err := handle.ExecContext(w.ctx, e.sql)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = -1
	}
	w.setColumns([]domain.Column{{Name: "affected_rows", Type: "BIGINT"}})
	return w.emitRow([]interface{}{affected})
}

// streamRows copies the result set into the bounded buffer one row at a
// time, applying the per-row interrupt and limit checks.
func (w *worker) streamRows(rows *sql.Rows) error {
	types, err := rows.ColumnTypes()
	if err != nil {
		return err
	}
	columns := make([]domain.Column, len(types))
	for i, ct := range types {
		columns[i] = domain.Column{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}
	w.setColumns(columns)

	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		if err := w.emitRow(values); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (w *worker) setColumns(columns []domain.Column) {
	w.exec.setColumns(columns)
}

// emitRow appends one row after the per-row checks, in order: cancellation,
// runtime expiry, then the row limit (a normal stop, not a failure).
func (w *worker) emitRow(row []interface{}) error {
	if err := w.checkInterrupts(); err != nil {
		return err
	}
	if max := w.exec.policy.MaxRows; max > 0 && int64(w.rowCount) >= max {
		w.limitReached = true
		return errRowLimit
	}
	w.rowCount = w.exec.appendRow(row)
	return nil
}

func (w *worker) checkInterrupts() error {
	if w.exec.cancelRequested.Load() || w.ctx.Err() != nil {
		return errCanceled
	}
	if max := w.exec.policy.MaxRuntime(); max > 0 && time.Since(w.start) > max {
		return errRuntimeExceeded
	}
	return nil
}
