package domain

import "time"

// Audit actions recorded by the gateway.
const (
	AuditQuerySubmit   = "QUERY_SUBMIT"
	AuditQueryStart    = "QUERY_START"
	AuditQueryComplete = "QUERY_COMPLETE"
	AuditQueryCancel   = "QUERY_CANCEL"
)

// Audit outcomes.
const (
	AuditAllowed  = "ALLOWED"
	AuditDenied   = "DENIED"
	AuditError    = "ERROR"
	AuditCanceled = "CANCELED"
)

// AuditEntry is one row of the audit trail.
type AuditEntry struct {
	ID           int64     `json:"id"`
	Actor        string    `json:"actor"`
	Action       string    `json:"action"`
	Status       string    `json:"status"`
	DatasourceID *string   `json:"datasourceId,omitempty"`
	ExecutionID  *string   `json:"executionId,omitempty"`
	QueryHash    *string   `json:"queryHash,omitempty"`
	OriginAddr   *string   `json:"originAddr,omitempty"`
	Detail       *string   `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
