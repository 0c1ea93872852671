package util

import "strings"

// IsEmpty checks if a string is empty or contains only whitespace
func IsEmpty(s string) bool {
	return len(strings.TrimSpace(s)) == 0
}

// Contains checks if a string slice contains an item
func Contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// SplitAndTrim splits a comma separated list and drops empty items
func SplitAndTrim(list string) []string {
	var out []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// NormalizeGroupName ensures group and organization names are always lowercase and trimmed
func NormalizeGroupName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
