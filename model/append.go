package model

import (
	"time"

	"github.com/ortelius/pdvd-ledger/ledger"
)

// Append is a request to add one entry to one ledger of a vulnerability.
// Expected is the ledger length the caller observed; persistence refuses the
// append when the ledger grew in the meantime.
type Append struct {
	VulnerabilityID string     `json:"vulnerability_id"`
	Ledger          LedgerName `json:"ledger"`
	Expected        int        `json:"expected"`
	Entry           any        `json:"entry"`
}

// NewAppend builds an append against the current length of v's ledger
func NewAppend[T any](v *Vulnerability, name LedgerName, value T, actor, justification string, at time.Time) Append {
	return Append{
		VulnerabilityID: v.ID,
		Ledger:          name,
		Expected:        v.LedgerLen(name),
		Entry: ledger.Entry[T]{
			Timestamp:     at,
			Actor:         actor,
			Value:         value,
			Justification: justification,
		},
	}
}

// Apply appends the entry carried by a to the matching ledger
func (v *Vulnerability) Apply(a Append) error {
	if a.Expected != v.LedgerLen(a.Ledger) {
		return ErrConcurrentModification.With("vulnerability", v.ID).With("ledger", string(a.Ledger))
	}
	ok := false
	switch a.Ledger {
	case LedgerState:
		var e ledger.Entry[VulnerabilityState]
		if e, ok = a.Entry.(ledger.Entry[VulnerabilityState]); ok {
			v.State.Append(e)
		}
	case LedgerVerification:
		var e ledger.Entry[VerificationStatus]
		if e, ok = a.Entry.(ledger.Entry[VerificationStatus]); ok {
			v.Verification.Append(e)
		}
	case LedgerTreatment:
		var e ledger.Entry[Treatment]
		if e, ok = a.Entry.(ledger.Entry[Treatment]); ok {
			v.Treatment.Append(e)
		}
	case LedgerZeroRisk:
		var e ledger.Entry[ZeroRiskStatus]
		if e, ok = a.Entry.(ledger.Entry[ZeroRiskStatus]); ok {
			v.ZeroRisk.Append(e)
		}
	}
	if !ok {
		return ErrInvariantViolation.With("vulnerability", v.ID).With("ledger", string(a.Ledger))
	}
	return nil
}

// NewValue returns the value carried by the append entry as a string
func (a Append) NewValue() string {
	switch e := a.Entry.(type) {
	case ledger.Entry[VulnerabilityState]:
		return string(e.Value)
	case ledger.Entry[VerificationStatus]:
		return string(e.Value)
	case ledger.Entry[Treatment]:
		return string(e.Value.Status)
	case ledger.Entry[ZeroRiskStatus]:
		return string(e.Value)
	}
	return ""
}

// Actor returns the identity that made the append
func (a Append) Actor() string {
	switch e := a.Entry.(type) {
	case ledger.Entry[VulnerabilityState]:
		return e.Actor
	case ledger.Entry[VerificationStatus]:
		return e.Actor
	case ledger.Entry[Treatment]:
		return e.Actor
	case ledger.Entry[ZeroRiskStatus]:
		return e.Actor
	}
	return ""
}
