package exec

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// canonicalizeSQL trims surrounding whitespace and a trailing statement
// terminator so equivalent submissions hash identically.
func canonicalizeSQL(sql string) string {
	s := strings.TrimSpace(sql)
	s = strings.TrimSuffix(s, ";")
	return strings.TrimSpace(s)
}

// hashSQL returns the hex SHA-256 of the canonicalized statement text.
func hashSQL(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

var readOnlyKeywords = map[string]bool{
	"select":   true,
	"with":     true,
	"show":     true,
	"describe": true,
	"explain":  true,
	"values":   true,
}

// isReadOnlyStatement reports whether the statement is lexically read-only,
// judged by its leading keyword. This is a lexical check, not a parse; it is
// used for read-only policy enforcement and for the offline simulation
// fallback, both of which tolerate false negatives.
func isReadOnlyStatement(canonical string) bool {
	fields := strings.Fields(canonical)
	if len(fields) == 0 {
		return false
	}
	return readOnlyKeywords[strings.ToLower(fields[0])]
}

// returnsRows reports whether the statement is expected to produce a result
// set (as opposed to an affected-rows count).
func returnsRows(canonical string) bool {
	return isReadOnlyStatement(canonical)
}
