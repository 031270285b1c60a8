package domain

import "time"

// ExecutionStatus represents the lifecycle state of a submitted query.
type ExecutionStatus string

// Execution lifecycle statuses. QUEUED and RUNNING are live; the other three
// are terminal and absorbing.
const (
	ExecutionQueued    ExecutionStatus = "QUEUED"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionCanceled  ExecutionStatus = "CANCELED"
)

// Terminal reports whether the status is absorbing.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionSucceeded, ExecutionFailed, ExecutionCanceled:
		return true
	}
	return false
}

// Column describes one column of a result set.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ExecutionResponse is returned synchronously from a submission.
type ExecutionResponse struct {
	ExecutionID  string          `json:"executionId"`
	DatasourceID string          `json:"datasourceId"`
	Status       ExecutionStatus `json:"status"`
	Message      string          `json:"message,omitempty"`
	QueryHash    string          `json:"queryHash"`
}

// ExecutionView is a read-only snapshot of an execution's observable state.
type ExecutionView struct {
	ExecutionID       string          `json:"executionId"`
	Actor             string          `json:"actor"`
	DatasourceID      string          `json:"datasourceId"`
	Status            ExecutionStatus `json:"status"`
	Message           string          `json:"message,omitempty"`
	ErrorSummary      string          `json:"errorSummary,omitempty"`
	QueryHash         string          `json:"queryHash"`
	RowCount          int             `json:"rowCount"`
	RowLimitReached   bool            `json:"rowLimitReached"`
	ResultsExpired    bool            `json:"resultsExpired"`
	SubmittedAt       time.Time       `json:"submittedAt"`
	StartedAt         *time.Time      `json:"startedAt,omitempty"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`
	MaxRows           int64           `json:"maxRows"`
	MaxRuntimeSeconds int64           `json:"maxRuntimeSeconds"`
}

// ResultPage is one fixed-size slice of a terminal execution's row buffer.
type ResultPage struct {
	ExecutionID     string          `json:"executionId"`
	Columns         []Column        `json:"columns"`
	Rows            [][]interface{} `json:"rows"`
	TotalRows       int             `json:"totalRows"`
	RowLimitReached bool            `json:"rowLimitReached"`
	NextPageToken   *string         `json:"nextPageToken,omitempty"`
}

// StatusEvent is a lifecycle transition pushed to live subscribers. It exists
// only on the wire and is never persisted. Sync marks the synthetic replay
// events delivered on subscribe so reconnecting clients can distinguish them.
type StatusEvent struct {
	EventID      int64           `json:"eventId"`
	ExecutionID  string          `json:"executionId"`
	DatasourceID string          `json:"datasourceId"`
	Status       ExecutionStatus `json:"status"`
	Message      string          `json:"message,omitempty"`
	Sync         bool            `json:"sync,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// SubmitRequest carries the caller-supplied portion of a submission.
type SubmitRequest struct {
	DatasourceID string
	SQL          string
	OriginAddr   string
}
