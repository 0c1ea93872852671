package model

// ScanRequest carries the complete output of one scanner run for a finding
// and namespace. Results missing from it close the matching vulnerabilities.
type ScanRequest struct {
	FindingID string            `json:"finding_id"`
	GroupName string            `json:"group_name,omitempty"`
	Namespace string            `json:"namespace"`
	Results   []CandidateResult `json:"results"`
	// Include and Exclude are the path globs the run analysed
	Include     []string `json:"include,omitempty"`
	Exclude     []string `json:"exclude,omitempty"`
	AutoApprove bool     `json:"auto_approve,omitempty"`
	Actor       string   `json:"actor,omitempty"`
}
