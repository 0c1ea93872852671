package model

import "github.com/shopspring/decimal"

// AcceptancePolicy holds the thresholds that govern risk acceptance. Nil
// fields are not configured.
type AcceptancePolicy struct {
	MaxAcceptanceDays        *int             `json:"max_acceptance_days,omitempty"`
	MaxAcceptanceSeverity    *decimal.Decimal `json:"max_acceptance_severity,omitempty"`
	MinAcceptanceSeverity    *decimal.Decimal `json:"min_acceptance_severity,omitempty"`
	MaxNumberAcceptances     *int             `json:"max_number_acceptances,omitempty"`
	MinBreakingSeverity      *decimal.Decimal `json:"min_breaking_severity,omitempty"`
	VulnerabilityGracePeriod *int             `json:"vulnerability_grace_period,omitempty"`
}

// ResolvePolicy merges an organization policy with a group policy field by
// field; a value set on the group wins.
func ResolvePolicy(org, group AcceptancePolicy) AcceptancePolicy {
	out := org
	if group.MaxAcceptanceDays != nil {
		out.MaxAcceptanceDays = group.MaxAcceptanceDays
	}
	if group.MaxAcceptanceSeverity != nil {
		out.MaxAcceptanceSeverity = group.MaxAcceptanceSeverity
	}
	if group.MinAcceptanceSeverity != nil {
		out.MinAcceptanceSeverity = group.MinAcceptanceSeverity
	}
	if group.MaxNumberAcceptances != nil {
		out.MaxNumberAcceptances = group.MaxNumberAcceptances
	}
	if group.MinBreakingSeverity != nil {
		out.MinBreakingSeverity = group.MinBreakingSeverity
	}
	if group.VulnerabilityGracePeriod != nil {
		out.VulnerabilityGracePeriod = group.VulnerabilityGracePeriod
	}
	return out
}
