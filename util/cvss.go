// Package util provides helpers shared by the ledger backend.
package util

import (
	"strings"

	gocvss31 "github.com/pandatix/go-cvss/31"
	gocvss40 "github.com/pandatix/go-cvss/40"
)

// CalculateCVSSScore calculates the CVSS base score from a vector string
func CalculateCVSSScore(vectorStr string) float64 {
	if vectorStr == "" || !strings.HasPrefix(vectorStr, "CVSS:") {
		return 0
	}
	if strings.HasPrefix(vectorStr, "CVSS:3.1") || strings.HasPrefix(vectorStr, "CVSS:3.0") {
		if cvss31, err := gocvss31.ParseVector(vectorStr); err == nil {
			return cvss31.BaseScore()
		}
	}
	if strings.HasPrefix(vectorStr, "CVSS:4.0") {
		if cvss40, err := gocvss40.ParseVector(vectorStr); err == nil {
			return cvss40.Score()
		}
	}
	return 0
}

// IsValidCVSSVector reports whether the vector parses as CVSS 3.x or 4.0
func IsValidCVSSVector(vectorStr string) bool {
	switch {
	case strings.HasPrefix(vectorStr, "CVSS:3.1"), strings.HasPrefix(vectorStr, "CVSS:3.0"):
		_, err := gocvss31.ParseVector(vectorStr)
		return err == nil
	case strings.HasPrefix(vectorStr, "CVSS:4.0"):
		_, err := gocvss40.ParseVector(vectorStr)
		return err == nil
	}
	return false
}
