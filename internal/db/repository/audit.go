package repository

import (
	"context"
	"database/sql"

	"querygate/internal/domain"
)

var _ domain.AuditRepository = (*AuditRepo)(nil)

// AuditRepo stores the audit trail in SQLite.
type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Insert records one audit entry.
func (r *AuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	if e == nil {
		return domain.ErrValidation("audit entry is required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (actor, action, status, datasource_id, execution_id, query_hash, origin_addr, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Actor, e.Action, e.Status,
		nullStrFromPtr(e.DatasourceID), nullStrFromPtr(e.ExecutionID),
		nullStrFromPtr(e.QueryHash), nullStrFromPtr(e.OriginAddr), nullStrFromPtr(e.Detail))
	return mapDBError(err)
}

// ListRecent returns the newest entries, most recent first.
func (r *AuditRepo) ListRecent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, actor, action, status, datasource_id, execution_id, query_hash, origin_addr, detail, created_at
		FROM audit_log ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e                                  domain.AuditEntry
			dsID, execID, hash, origin, detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Status, &dsID, &execID, &hash, &origin, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.DatasourceID = ptrFromNullStr(dsID)
		e.ExecutionID = ptrFromNullStr(execID)
		e.QueryHash = ptrFromNullStr(hash)
		e.OriginAddr = ptrFromNullStr(origin)
		e.Detail = ptrFromNullStr(detail)
		out = append(out, e)
	}
	return out, rows.Err()
}
