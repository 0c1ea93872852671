package model

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/ortelius/pdvd-ledger/ledger"
)

// Masked replaces redacted identity fields
const Masked = "Masked"

// Treatment is the value stored in a vulnerability treatment ledger. The
// justification of a treatment lives on the ledger entry.
type Treatment struct {
	Status           TreatmentStatus  `json:"status"`
	Assigned         string           `json:"assigned,omitempty"`
	AcceptanceDate   *time.Time       `json:"acceptance_date,omitempty"`
	AcceptanceStatus AcceptanceStatus `json:"acceptance_status,omitempty"`
}

// Reporter is who creates an entity and when
type Reporter struct {
	Identity string
	Source   Source
	At       time.Time
}

func (r Reporter) at() time.Time {
	if r.At.IsZero() {
		return time.Now().UTC()
	}
	return r.At
}

// Digest is the natural key of a vulnerability across scan runs
type Digest uint64

func (d Digest) String() string {
	return fmt.Sprintf("%016x", uint64(d))
}

// ComputeDigest hashes the immutable identity of a vulnerability
func ComputeDigest(findingID string, kind Kind, namespace, where, specific string) Digest {
	where = strings.TrimSpace(where)
	if kind == KindLines && where != "" {
		where = path.Clean(strings.ReplaceAll(where, "\\", "/"))
	}
	h := xxhash.New()
	for _, part := range []string{findingID, string(kind), strings.TrimSpace(namespace), where, strings.TrimSpace(specific)} {
		_, _ = h.WriteString(part)
		_, _ = h.Write([]byte{0})
	}
	return Digest(h.Sum64())
}

// Vulnerability is one occurrence of a finding. Every lifecycle attribute is
// backed by its own ledger and is only ever changed by appending to it.
type Vulnerability struct {
	ID           string                             `json:"_key"`
	FindingID    string                             `json:"finding_id"`
	Kind         Kind                               `json:"kind"`
	Where        string                             `json:"where"`
	Specific     string                             `json:"specific"`
	Namespace    string                             `json:"namespace"`
	Source       Source                             `json:"source"`
	State        *ledger.Ledger[VulnerabilityState] `json:"historic_state"`
	Verification *ledger.Ledger[VerificationStatus] `json:"historic_verification"`
	Treatment    *ledger.Ledger[Treatment]          `json:"historic_treatment"`
	ZeroRisk     *ledger.Ledger[ZeroRiskStatus]     `json:"historic_zero_risk"`
	ObjType      string                             `json:"objtype"`
}

// NewVulnerability creates a vulnerability with all four ledgers seeded
func NewVulnerability(findingID string, kind Kind, where, specific, namespace string, reporter Reporter) *Vulnerability {
	at := reporter.at()
	source := reporter.Source
	if source == "" {
		source = SourceIntegrates
	}
	return &Vulnerability{
		ID:        uuid.New().String(),
		FindingID: findingID,
		Kind:      kind,
		Where:     where,
		Specific:  specific,
		Namespace: namespace,
		Source:    source,
		State: ledger.New(ledger.Entry[VulnerabilityState]{
			Timestamp: at, Actor: reporter.Identity, Value: StateOpen,
		}),
		Verification: ledger.New(ledger.Entry[VerificationStatus]{
			Timestamp: at, Actor: reporter.Identity, Value: VerificationNotRequested,
		}),
		Treatment: ledger.New(ledger.Entry[Treatment]{
			Timestamp: at, Actor: reporter.Identity, Value: Treatment{Status: TreatmentNew},
		}),
		ZeroRisk: ledger.New(ledger.Entry[ZeroRiskStatus]{
			Timestamp: at, Actor: reporter.Identity, Value: ZeroRiskUnset,
		}),
		ObjType: "Vulnerability",
	}
}

// NewVulnerabilityFromCandidate creates a vulnerability for a scanner result
func NewVulnerabilityFromCandidate(c CandidateResult, reporter Reporter) *Vulnerability {
	return NewVulnerability(c.FindingID, c.Kind, c.Where, c.Specific, c.Namespace, reporter)
}

// Digest is the natural key used to match scanner output
func (v *Vulnerability) Digest() Digest {
	return ComputeDigest(v.FindingID, v.Kind, v.Namespace, v.Where, v.Specific)
}

func current[T any](l *ledger.Ledger[T], name LedgerName, id string) (T, error) {
	val, ok := l.Current()
	if !ok {
		return val, ErrInvariantViolation.With("ledger", string(name)).With("vulnerability", id)
	}
	return val, nil
}

// CurrentState is the last appended state
func (v *Vulnerability) CurrentState() (VulnerabilityState, error) {
	return current(v.State, LedgerState, v.ID)
}

// CurrentVerification is the last appended verification status
func (v *Vulnerability) CurrentVerification() (VerificationStatus, error) {
	return current(v.Verification, LedgerVerification, v.ID)
}

// CurrentTreatment is the last appended treatment
func (v *Vulnerability) CurrentTreatment() (Treatment, error) {
	return current(v.Treatment, LedgerTreatment, v.ID)
}

// CurrentZeroRisk is the last appended zero risk status
func (v *Vulnerability) CurrentZeroRisk() (ZeroRiskStatus, error) {
	return current(v.ZeroRisk, LedgerZeroRisk, v.ID)
}

// IsOpen reports whether the current state is OPEN
func (v *Vulnerability) IsOpen() bool {
	s, err := v.CurrentState()
	return err == nil && s == StateOpen
}

// IsDeleted reports whether the current state is DELETED
func (v *Vulnerability) IsDeleted() bool {
	s, err := v.CurrentState()
	return err == nil && s == StateDeleted
}

// LedgerLen returns the length of the named ledger
func (v *Vulnerability) LedgerLen(name LedgerName) int {
	switch name {
	case LedgerState:
		return v.State.Len()
	case LedgerVerification:
		return v.Verification.Len()
	case LedgerTreatment:
		return v.Treatment.Len()
	case LedgerZeroRisk:
		return v.ZeroRisk.Len()
	}
	return 0
}

// Mask redacts location and free-text content. Ledger lengths and order are kept.
func (v *Vulnerability) Mask() {
	v.Where = Masked
	v.Specific = Masked
	keep := func(s VulnerabilityState) VulnerabilityState { return s }
	v.State.Mask(keep)
	v.Verification.Mask(func(s VerificationStatus) VerificationStatus { return s })
	v.ZeroRisk.Mask(func(s ZeroRiskStatus) ZeroRiskStatus { return s })
	v.Treatment.Mask(func(t Treatment) Treatment {
		if t.Assigned != "" {
			t.Assigned = Masked
		}
		return t
	})
}
