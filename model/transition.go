package model

import "time"

// CandidateResult is one normalized result produced by a scan
type CandidateResult struct {
	FindingID      string            `json:"finding_id"`
	Kind           Kind              `json:"kind"`
	Where          string            `json:"where"`
	Specific       string            `json:"specific"`
	Namespace      string            `json:"namespace"`
	StreamMetadata map[string]string `json:"stream_metadata,omitempty"`
}

// Digest matches the digest of the vulnerability the result would create
func (c CandidateResult) Digest() Digest {
	return ComputeDigest(c.FindingID, c.Kind, c.Namespace, c.Where, c.Specific)
}

// TransitionKind is a transition requested through the API
type TransitionKind string

const (
	TransitionCloseVulnerability  TransitionKind = "CLOSE_VULNERABILITY"
	TransitionDeleteVulnerability TransitionKind = "DELETE_VULNERABILITY"
	TransitionRequestVerification TransitionKind = "REQUEST_VERIFICATION"
	TransitionVerify              TransitionKind = "VERIFY"
	TransitionHoldVerification    TransitionKind = "HOLD_VERIFICATION"
	TransitionResumeVerification  TransitionKind = "RESUME_VERIFICATION"
	TransitionUpdateTreatment     TransitionKind = "UPDATE_TREATMENT"
	TransitionRequestZeroRisk     TransitionKind = "REQUEST_ZERO_RISK"
	TransitionConfirmZeroRisk     TransitionKind = "CONFIRM_ZERO_RISK"
	TransitionRejectZeroRisk      TransitionKind = "REJECT_ZERO_RISK"
	TransitionSubmitDraft         TransitionKind = "SUBMIT_DRAFT"
	TransitionApproveDraft        TransitionKind = "APPROVE_DRAFT"
	TransitionRejectDraft         TransitionKind = "REJECT_DRAFT"
	TransitionDeleteDraft         TransitionKind = "DELETE_DRAFT"
)

// TargetsFinding reports whether the transition applies to a finding rather
// than to a vulnerability
func (k TransitionKind) TargetsFinding() bool {
	switch k {
	case TransitionSubmitDraft, TransitionApproveDraft, TransitionRejectDraft, TransitionDeleteDraft:
		return true
	}
	return false
}

// TransitionRequest is a state change asked for by an already authorized actor
type TransitionRequest struct {
	VulnerabilityID string          `json:"vulnerability_id,omitempty"`
	FindingID       string          `json:"finding_id,omitempty"`
	Transition      TransitionKind  `json:"transition"`
	Actor           string          `json:"actor"`
	Justification   string          `json:"justification,omitempty"`
	AcceptanceDate  *time.Time      `json:"acceptance_date,omitempty"`
	Treatment       TreatmentStatus `json:"treatment,omitempty"`
	Assigned        string          `json:"assigned,omitempty"`
	// Closed marks a verified vulnerability as no longer present
	Closed bool `json:"closed,omitempty"`
}

// TransitionApplied is emitted after a ledger append is persisted
type TransitionApplied struct {
	EventType       string     `json:"event_type"`
	EventID         string     `json:"event_id"`
	EventTime       time.Time  `json:"event_time"`
	SchemaVersion   string     `json:"schema_version"`
	VulnerabilityID string     `json:"vulnerability_id,omitempty"`
	FindingID       string     `json:"finding_id"`
	GroupName       string     `json:"group_name,omitempty"`
	Ledger          LedgerName `json:"ledger"`
	OldState        string     `json:"old_state"`
	NewState        string     `json:"new_state"`
	Actor           string     `json:"actor"`
}
