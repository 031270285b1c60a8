package repository

import (
	"context"
	"database/sql"

	"querygate/internal/domain"
)

var _ domain.GroupRepository = (*GroupRepo)(nil)

// GroupRepo stores groups and memberships in SQLite.
type GroupRepo struct {
	db *sql.DB
}

// NewGroupRepo creates a new GroupRepo.
func NewGroupRepo(db *sql.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

// Create inserts a new group.
func (r *GroupRepo) Create(ctx context.Context, g *domain.Group) (*domain.Group, error) {
	if g == nil || g.Name == "" {
		return nil, domain.ErrValidation("group name is required")
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO groups (name, description) VALUES (?, ?)
	`, g.Name, g.Description)
	if err != nil {
		return nil, mapDBError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	var out domain.Group
	var desc sql.NullString
	err = r.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at FROM groups WHERE id = ?
	`, id).Scan(&out.ID, &out.Name, &desc, &out.CreatedAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	out.Description = desc.String
	return &out, nil
}

// AddMember adds a principal to a group. Adding an existing member is a no-op.
func (r *GroupRepo) AddMember(ctx context.Context, groupID, principalID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_members (group_id, principal_id) VALUES (?, ?)
	`, groupID, principalID)
	return mapDBError(err)
}

// GroupIDsForPrincipal returns the ids of every group the principal belongs to.
func (r *GroupRepo) GroupIDsForPrincipal(ctx context.Context, principalID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT group_id FROM group_members WHERE principal_id = ? ORDER BY group_id
	`, principalID)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
