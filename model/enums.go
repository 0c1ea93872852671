// Package model defines the vulnerability and finding entities and their lifecycle states.
package model

// VulnerabilityState is the open/closed lifecycle of a vulnerability
type VulnerabilityState string

const (
	// StateOpen means the vulnerability is present
	StateOpen VulnerabilityState = "OPEN"
	// StateClosed means the vulnerability was remediated
	StateClosed VulnerabilityState = "CLOSED"
	// StateDeleted marks a vulnerability removed by a reviewer
	StateDeleted VulnerabilityState = "DELETED"
)

// VerificationStatus is the reattack lifecycle of a vulnerability
type VerificationStatus string

const (
	VerificationNotRequested VerificationStatus = "NOT_REQUESTED"
	VerificationRequested    VerificationStatus = "REQUESTED"
	VerificationVerified     VerificationStatus = "VERIFIED"
	VerificationOnHold       VerificationStatus = "ON_HOLD"
)

// TreatmentStatus is how the owner of a vulnerability decided to handle it
type TreatmentStatus string

const (
	TreatmentNew               TreatmentStatus = "NEW"
	TreatmentInProgress        TreatmentStatus = "IN_PROGRESS"
	TreatmentAccepted          TreatmentStatus = "ACCEPTED"
	TreatmentAcceptedUndefined TreatmentStatus = "ACCEPTED_UNDEFINED"
)

// IsAcceptance reports whether the treatment accepts the risk
func (t TreatmentStatus) IsAcceptance() bool {
	return t == TreatmentAccepted || t == TreatmentAcceptedUndefined
}

// ZeroRiskStatus is the zero-risk review lifecycle; the empty value means unset
type ZeroRiskStatus string

const (
	ZeroRiskUnset     ZeroRiskStatus = ""
	ZeroRiskRequested ZeroRiskStatus = "REQUESTED"
	ZeroRiskConfirmed ZeroRiskStatus = "CONFIRMED"
	ZeroRiskRejected  ZeroRiskStatus = "REJECTED"
)

// AcceptanceStatus tracks the approval of an acceptance
type AcceptanceStatus string

const (
	AcceptanceSubmitted AcceptanceStatus = "SUBMITTED"
	AcceptanceApproved  AcceptanceStatus = "APPROVED"
	AcceptanceRejected  AcceptanceStatus = "REJECTED"
)

// Kind is what a vulnerability location refers to
type Kind string

const (
	// KindLines locates a vulnerability at a line of a file
	KindLines Kind = "LINES"
	// KindInputs locates a vulnerability at a field of a URL
	KindInputs Kind = "INPUTS"
	// KindPorts locates a vulnerability at a port of a host
	KindPorts Kind = "PORTS"
)

// IsValid reports whether k is a known kind
func (k Kind) IsValid() bool {
	switch k {
	case KindLines, KindInputs, KindPorts:
		return true
	}
	return false
}

// Source identifies who first reported a vulnerability
type Source string

const (
	// SourceIntegrates is a manual report or another integration
	SourceIntegrates Source = "INTEGRATES"
	// SourceSkims is the automated scanner, the only source reconciliation manages
	SourceSkims Source = "SKIMS"
)

// ReleaseState is the draft approval lifecycle of a finding
type ReleaseState string

const (
	ReleaseCreated   ReleaseState = "CREATED"
	ReleaseSubmitted ReleaseState = "SUBMITTED"
	ReleaseApproved  ReleaseState = "APPROVED"
	ReleaseRejected  ReleaseState = "REJECTED"
	ReleaseDeleted   ReleaseState = "DELETED"
)

// LedgerName names a vulnerability ledger in storage
type LedgerName string

const (
	LedgerState        LedgerName = "historic_state"
	LedgerVerification LedgerName = "historic_verification"
	LedgerTreatment    LedgerName = "historic_treatment"
	LedgerZeroRisk     LedgerName = "historic_zero_risk"
	LedgerRelease      LedgerName = "historic_release"
)
