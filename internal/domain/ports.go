package domain

import (
	"context"
	"database/sql"
)

// PrincipalRepository provides read access to stored principals.
type PrincipalRepository interface {
	GetByName(ctx context.Context, name string) (*Principal, error)
	Create(ctx context.Context, p *Principal) (*Principal, error)
	List(ctx context.Context) ([]Principal, error)
}

// GroupRepository provides group membership lookups.
type GroupRepository interface {
	Create(ctx context.Context, g *Group) (*Group, error)
	AddMember(ctx context.Context, groupID, principalID int64) error
	GroupIDsForPrincipal(ctx context.Context, principalID int64) ([]int64, error)
}

// AccessRuleRepository supplies the raw group->datasource rule set consumed
// by the policy resolver. The execution core only reads it.
type AccessRuleRepository interface {
	Create(ctx context.Context, r *AccessRule) (*AccessRule, error)
	// ListForDatasource returns the datasource's rules ordered by
	// (GroupID, CredentialProfile). The policy resolver's profile
	// tie-breaking depends on this ordering.
	ListForDatasource(ctx context.Context, datasourceID string) ([]AccessRule, error)
}

// AuditRepository records audit events. Callers treat it as fire-and-forget:
// insert errors are ignored and must never block or fail the operation being
// audited.
type AuditRepository interface {
	Insert(ctx context.Context, e *AuditEntry) error
	ListRecent(ctx context.Context, limit int) ([]AuditEntry, error)
}

// DatasourceCatalog resolves datasource ids to their configuration.
type DatasourceCatalog interface {
	Get(id string) (*Datasource, error)
	List() []Datasource
}

// ConnectionHandle is an open, pooled connection to an external engine. The
// execution worker is its sole owner until Close is called; Close must be
// safe to call from the canceling goroutine as a forceful fallback.
type ConnectionHandle interface {
	QueryContext(ctx context.Context, query string) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string) (sql.Result, error)
	Close() error
}

// ConnectionResolver opens ready-to-use connections for a datasource and
// credential profile. Failures map to NotFoundError, CredentialNotFoundError,
// or DriverUnavailableError.
type ConnectionResolver interface {
	OpenConnection(ctx context.Context, datasourceID, credentialProfile string) (ConnectionHandle, error)
}

// PolicyResolver turns a principal and datasource id into the single
// effective execution policy, or denies access.
type PolicyResolver interface {
	Resolve(ctx context.Context, principal ContextPrincipal, datasourceID string) (*AccessPolicy, error)
}
