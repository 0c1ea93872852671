// Package transitions defines the events exchanged with scanners and the
// consumers of vulnerability transitions.
package transitions

import (
	"time"

	"github.com/ortelius/pdvd-ledger/model"
)

// Event types and schema
const (
	ScanResultsEventType       = "finding.scan.completed"
	TransitionAppliedEventType = "vulnerability.transition.applied"
	SchemaVersion              = "v1"
)

// ScanResultsEvent is published by a scanner once a run for a finding and
// namespace is complete.
type ScanResultsEvent struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`

	Scan model.ScanRequest `json:"scan"`
}
