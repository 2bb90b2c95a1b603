package utils

import "strings"

// ParseCSV splits a comma-separated string and returns trimmed non-empty
// values, or nil for empty input. Used for list-valued query parameters such
// as event type filters.
func ParseCSV(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	for _, v := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
