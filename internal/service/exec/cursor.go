package exec

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"querygate/internal/domain"
)

// encodePageToken builds the opaque continuation token for the next page.
// Clients must treat it as an opaque string.
func encodePageToken(executionID string, offset int) string {
	return base64.URLEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%d", executionID, offset)))
}

// decodePageToken validates that the token encodes exactly this execution's
// id plus a non-negative offset. Any other shape fails InvalidPageToken.
func decodePageToken(token, executionID string) (int, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return 0, domain.ErrInvalidPageToken("page token is not decodable")
	}
	id, offsetStr, ok := strings.Cut(string(raw), ":")
	if !ok {
		return 0, domain.ErrInvalidPageToken("malformed page token")
	}
	if id != executionID {
		return 0, domain.ErrInvalidPageToken("page token does not belong to execution %q", executionID)
	}
	offset, err := strconv.Atoi(offsetStr)
	if err != nil || offset < 0 {
		return 0, domain.ErrInvalidPageToken("page token offset is invalid")
	}
	return offset, nil
}

// clampPageSize applies the configured default and [1, max] bounds.
func (m *Manager) clampPageSize(pageSize int) int {
	if pageSize <= 0 {
		return m.cfg.DefaultPageSize
	}
	if pageSize > m.cfg.MaxPageSize {
		return m.cfg.MaxPageSize
	}
	return pageSize
}

// GetResults slices one page out of a terminal execution's buffered rows.
// Reading a page refreshes the record's idle TTL clock.
func (m *Manager) GetResults(ctx context.Context, principal domain.ContextPrincipal, executionID, pageToken string, pageSize int) (*domain.ResultPage, error) {
	e, err := m.resolveFor(principal, executionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	status := e.status
	expired := e.resultsExpired
	errorSummary := e.errorSummary
	columns := e.columns
	rows := e.rows
	limitReached := e.rowLimitReached
	e.mu.Unlock()

	switch status {
	case domain.ExecutionQueued, domain.ExecutionRunning:
		return nil, domain.ErrNotReady("execution %q is %s, results are not ready", executionID, status)
	case domain.ExecutionCanceled:
		return nil, domain.ErrNotReady("execution %q was canceled, no results are available", executionID)
	case domain.ExecutionFailed:
		if errorSummary != "" {
			return nil, domain.ErrNotReady("execution %q failed: %s", executionID, errorSummary)
		}
		return nil, domain.ErrNotReady("execution %q failed, no results are available", executionID)
	}
	if expired {
		return nil, domain.ErrExpired("results for execution %q have expired", executionID)
	}

	offset := 0
	if pageToken != "" {
		offset, err = decodePageToken(pageToken, executionID)
		if err != nil {
			return nil, err
		}
	}
	total := len(rows)
	if offset > total {
		return nil, domain.ErrInvalidPageToken("page token offset %d is beyond the result set", offset)
	}

	size := m.clampPageSize(pageSize)
	end := offset + size
	if end > total {
		end = total
	}

	page := &domain.ResultPage{
		ExecutionID:     executionID,
		Columns:         columns,
		Rows:            rows[offset:end],
		TotalRows:       total,
		RowLimitReached: limitReached,
	}
	if end < total {
		token := encodePageToken(executionID, end)
		page.NextPageToken = &token
	}

	e.touch(m.now())
	return page, nil
}
