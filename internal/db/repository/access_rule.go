package repository

import (
	"context"
	"database/sql"

	"querygate/internal/domain"
)

var _ domain.AccessRuleRepository = (*AccessRuleRepo)(nil)

// AccessRuleRepo stores group->datasource access rules in SQLite.
type AccessRuleRepo struct {
	db *sql.DB
}

// NewAccessRuleRepo creates a new AccessRuleRepo.
func NewAccessRuleRepo(db *sql.DB) *AccessRuleRepo {
	return &AccessRuleRepo{db: db}
}

// Create inserts a new access rule.
func (r *AccessRuleRepo) Create(ctx context.Context, rule *domain.AccessRule) (*domain.AccessRule, error) {
	if rule == nil {
		return nil, domain.ErrValidation("access rule is required")
	}
	if rule.DatasourceID == "" || rule.CredentialProfile == "" {
		return nil, domain.ErrValidation("datasource id and credential profile are required")
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO access_rules
			(group_id, datasource_id, credential_profile, can_query, read_only,
			 max_rows, max_runtime_seconds, max_concurrent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rule.GroupID, rule.DatasourceID, rule.CredentialProfile,
		boolToInt(rule.CanQuery), boolToInt(rule.ReadOnly),
		nullInt64FromPtr(rule.MaxRows), nullInt64FromPtr(rule.MaxRuntimeSeconds),
		nullInt64FromPtr(rule.MaxConcurrent))
	if err != nil {
		return nil, mapDBError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.getOne(ctx, id)
}

// ListForDatasource returns every rule on the datasource, ordered by
// (group_id, credential_profile) so policy resolution is deterministic.
func (r *AccessRuleRepo) ListForDatasource(ctx context.Context, datasourceID string) ([]domain.AccessRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, group_id, datasource_id, credential_profile, can_query, read_only,
		       max_rows, max_runtime_seconds, max_concurrent, created_at
		FROM access_rules
		WHERE datasource_id = ?
		ORDER BY group_id, credential_profile
	`, datasourceID)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.AccessRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

func (r *AccessRuleRepo) getOne(ctx context.Context, id int64) (*domain.AccessRule, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, group_id, datasource_id, credential_profile, can_query, read_only,
		       max_rows, max_runtime_seconds, max_concurrent, created_at
		FROM access_rules WHERE id = ?
	`, id)
	rule, err := scanRule(row)
	if err != nil {
		return nil, mapDBError(err)
	}
	return rule, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*domain.AccessRule, error) {
	var (
		rule               domain.AccessRule
		canQuery, readOnly int64
		maxRows            sql.NullInt64
		maxRuntime         sql.NullInt64
		maxConcurrent      sql.NullInt64
	)
	err := row.Scan(&rule.ID, &rule.GroupID, &rule.DatasourceID, &rule.CredentialProfile,
		&canQuery, &readOnly, &maxRows, &maxRuntime, &maxConcurrent, &rule.CreatedAt)
	if err != nil {
		return nil, err
	}
	rule.CanQuery = canQuery != 0
	rule.ReadOnly = readOnly != 0
	rule.MaxRows = ptrFromNullInt64(maxRows)
	rule.MaxRuntimeSeconds = ptrFromNullInt64(maxRuntime)
	rule.MaxConcurrent = ptrFromNullInt64(maxConcurrent)
	return &rule, nil
}
