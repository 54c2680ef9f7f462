package constants

import "strings"

// FindingStatus classifies a single lab value against its reference range.
type FindingStatus string

const (
	StatusNormal  FindingStatus = "normal"
	StatusHigh    FindingStatus = "high"
	StatusLow     FindingStatus = "low"
	StatusUnknown FindingStatus = "unknown"
)

var allStatuses = []FindingStatus{
	StatusNormal,
	StatusHigh,
	StatusLow,
	StatusUnknown,
}

// StatusesAsStringSlice is the enum used by the schema and the prompt.
func StatusesAsStringSlice() []string {
	result := make([]string, len(allStatuses))
	for i, s := range allStatuses {
		result[i] = string(s)
	}
	return result
}

// IsValidStatus reports whether s is exactly one of the enumerated statuses.
// No case folding: the model must emit the canonical value.
func IsValidStatus(s string) bool {
	for _, st := range allStatuses {
		if s == string(st) {
			return true
		}
	}
	return false
}

// StatusLabel is a display form used in exports.
func StatusLabel(s FindingStatus) string {
	if s == "" {
		return "Unknown"
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}
