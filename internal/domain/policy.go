package domain

import "time"

// System default limits applied when no matching access rule specifies one.
const (
	DefaultMaxRows           int64 = 5000
	DefaultMaxRuntimeSeconds int64 = 300
	DefaultMaxConcurrent     int64 = 5
)

// AdminFallbackProfile is the credential profile granted to admin principals
// that match no access rule on a datasource.
const AdminFallbackProfile = "admin-ro"

// Principal is a stored identity that may submit queries.
type Principal struct {
	ID        int64
	Name      string
	IsAdmin   bool
	CreatedAt time.Time
}

// Group is a named set of principals that access rules attach to.
type Group struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
}

// AccessRule grants query rights on one datasource to one group. Limit
// fields are tri-state: nil means the rule does not specify the limit, an
// explicit 0 means unlimited, and a positive value is a bound.
type AccessRule struct {
	ID                int64
	GroupID           int64
	DatasourceID      string
	CredentialProfile string
	CanQuery          bool
	ReadOnly          bool
	MaxRows           *int64
	MaxRuntimeSeconds *int64
	MaxConcurrent     *int64
	CreatedAt         time.Time
}

// AccessPolicy is the effective execution policy computed for one
// (principal, datasource) pair at submission time. It is never persisted and
// never re-resolved mid-flight. A limit of 0 means unlimited.
type AccessPolicy struct {
	CredentialProfile string
	ReadOnly          bool
	MaxRows           int64
	MaxRuntimeSeconds int64
	MaxConcurrent     int64
}

// MaxRuntime returns the runtime bound as a duration, or 0 when unlimited.
func (p AccessPolicy) MaxRuntime() time.Duration {
	return time.Duration(p.MaxRuntimeSeconds) * time.Second
}
