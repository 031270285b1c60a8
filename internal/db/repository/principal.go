package repository

import (
	"context"
	"database/sql"

	"querygate/internal/domain"
)

var _ domain.PrincipalRepository = (*PrincipalRepo)(nil)

// PrincipalRepo stores principals in SQLite.
type PrincipalRepo struct {
	db *sql.DB
}

// NewPrincipalRepo creates a new PrincipalRepo.
func NewPrincipalRepo(db *sql.DB) *PrincipalRepo {
	return &PrincipalRepo{db: db}
}

// Create inserts a new principal.
func (r *PrincipalRepo) Create(ctx context.Context, p *domain.Principal) (*domain.Principal, error) {
	if p == nil || p.Name == "" {
		return nil, domain.ErrValidation("principal name is required")
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO principals (name, is_admin) VALUES (?, ?)
	`, p.Name, boolToInt(p.IsAdmin))
	if err != nil {
		return nil, mapDBError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.getOne(ctx, `SELECT id, name, is_admin, created_at FROM principals WHERE id = ?`, id)
}

// GetByName returns a principal by its unique name.
func (r *PrincipalRepo) GetByName(ctx context.Context, name string) (*domain.Principal, error) {
	return r.getOne(ctx, `SELECT id, name, is_admin, created_at FROM principals WHERE name = ?`, name)
}

// List returns all principals ordered by name.
func (r *PrincipalRepo) List(ctx context.Context) ([]domain.Principal, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, is_admin, created_at FROM principals ORDER BY name`)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Principal
	for rows.Next() {
		var (
			p       domain.Principal
			isAdmin int64
		)
		if err := rows.Scan(&p.ID, &p.Name, &isAdmin, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.IsAdmin = isAdmin != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PrincipalRepo) getOne(ctx context.Context, stmt string, args ...interface{}) (*domain.Principal, error) {
	var (
		p       domain.Principal
		isAdmin int64
	)
	err := r.db.QueryRowContext(ctx, stmt, args...).Scan(&p.ID, &p.Name, &isAdmin, &p.CreatedAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	p.IsAdmin = isAdmin != 0
	return &p, nil
}
