package tracking

import (
	"github.com/ortelius/pdvd-ledger/model"
	"github.com/shopspring/decimal"
)

// TreatmentCounts counts open vulnerabilities per treatment
type TreatmentCounts struct {
	New               int `json:"new"`
	InProgress        int `json:"in_progress"`
	Accepted          int `json:"accepted"`
	AcceptedUndefined int `json:"accepted_undefined"`
}

// VerificationCounts counts vulnerabilities per verification status
type VerificationCounts struct {
	Requested int `json:"requested"`
	OnHold    int `json:"on_hold"`
	Verified  int `json:"verified"`
}

// ZeroRiskCounts counts vulnerabilities per zero risk status
type ZeroRiskCounts struct {
	Requested int `json:"requested"`
	Confirmed int `json:"confirmed"`
	Rejected  int `json:"rejected"`
}

// Counters are the indicators of one finding
type Counters struct {
	Open          int                `json:"open"`
	Closed        int                `json:"closed"`
	Treatments    TreatmentCounts    `json:"treatments"`
	Verifications VerificationCounts `json:"verifications"`
	ZeroRisk      ZeroRiskCounts     `json:"zero_risk"`
}

// Count computes the counters of a finding. Zero risk counts consider every
// non deleted vulnerability; the rest ignore zero risk ones.
func Count(vulns []*model.Vulnerability) Counters {
	var c Counters
	for _, v := range vulns {
		if v.IsDeleted() {
			continue
		}
		switch zr, _ := v.CurrentZeroRisk(); zr {
		case model.ZeroRiskRequested:
			c.ZeroRisk.Requested++
		case model.ZeroRiskConfirmed:
			c.ZeroRisk.Confirmed++
		case model.ZeroRiskRejected:
			c.ZeroRisk.Rejected++
		}
	}
	for _, v := range Relevant(vulns) {
		switch s, _ := v.CurrentVerification(); s {
		case model.VerificationRequested:
			c.Verifications.Requested++
		case model.VerificationOnHold:
			c.Verifications.OnHold++
		case model.VerificationVerified:
			c.Verifications.Verified++
		}
		state, _ := v.CurrentState()
		if state == model.StateClosed {
			c.Closed++
			continue
		}
		if state != model.StateOpen {
			continue
		}
		c.Open++
		t, _ := v.CurrentTreatment()
		switch t.Status {
		case model.TreatmentInProgress:
			c.Treatments.InProgress++
		case model.TreatmentAccepted:
			c.Treatments.Accepted++
		case model.TreatmentAcceptedUndefined:
			c.Treatments.AcceptedUndefined++
		default:
			c.Treatments.New++
		}
	}
	return c
}

// Exposure is the CVSSF weighted count of open vulnerabilities of a finding
func Exposure(vulns []*model.Vulnerability, severity decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(Count(vulns).Open)).Mul(CVSSF(severity))
}

// FindingVerification aggregates the verification of a finding: pending
// requests dominate, then holds, then completed verifications.
func FindingVerification(vulns []*model.Vulnerability) model.VerificationStatus {
	c := Count(vulns).Verifications
	switch {
	case c.Requested > 0:
		return model.VerificationRequested
	case c.OnHold > 0:
		return model.VerificationOnHold
	case c.Verified > 0:
		return model.VerificationVerified
	}
	return model.VerificationNotRequested
}
