package helpers

import (
	"strings"

	"github.com/google/uuid"
)

// Add this function to generate UUIDs
func GenerateUUID() string {
	return uuid.New().String()
}

// ContainsID reports whether ids contains id.
func ContainsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// AddIDIfAbsent appends id to ids unless it is already present.
// Idempotent: calling it twice never produces a duplicate.
func AddIDIfAbsent(ids []string, id string) []string {
	if ContainsID(ids, id) {
		return ids
	}
	return append(ids, id)
}

// RemoveID returns ids without any occurrence of id, leaving the input
// slice untouched. Removing an id that is not present is a no-op.
func RemoveID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Helper function to properly remove quotes from strings
func StripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
