package domain

import "github.com/google/uuid"

// NewID generates a UUIDv7 string for application-owned entities.
// Execution ids are opaque to clients and sortable by creation time.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
