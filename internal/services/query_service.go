package services

import (
	"context"
	"time"

	"github.com/ortelius/pdvd-ledger/model"
	"github.com/ortelius/pdvd-ledger/tracking"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Indicators are the derived metrics of one finding
type Indicators struct {
	FindingID                string                   `json:"finding_id"`
	Counters                 tracking.Counters        `json:"counters"`
	Verification             model.VerificationStatus `json:"verification"`
	MeanTimeToRemediate      decimal.Decimal          `json:"mean_time_to_remediate"`
	MeanTimeToRemediateCVSSF decimal.Decimal          `json:"mean_time_to_remediate_cvssf"`
	CVSSF                    decimal.Decimal          `json:"cvssf"`
	Exposure                 decimal.Decimal          `json:"exposure"`
	Tracking                 []tracking.Point         `json:"tracking"`
}

// QueryService reads findings, vulnerabilities and their indicators
type QueryService struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewQueryService creates the read side of the ledger
func NewQueryService(store Store, logger *zap.Logger) *QueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Finding returns one finding
func (s *QueryService) Finding(ctx context.Context, id string) (*model.Finding, error) {
	return s.store.Finding(ctx, id)
}

// Vulnerability returns one vulnerability
func (s *QueryService) Vulnerability(ctx context.Context, id string) (*model.Vulnerability, error) {
	return s.store.Vulnerability(ctx, id)
}

// Vulnerabilities lists the vulnerabilities of a finding, optionally in one
// namespace. A missing finding is reported rather than an empty list.
func (s *QueryService) Vulnerabilities(ctx context.Context, findingID, namespace string) ([]*model.Vulnerability, error) {
	if _, err := s.store.Finding(ctx, findingID); err != nil {
		return nil, err
	}
	return s.store.Vulnerabilities(ctx, findingID, namespace)
}

// Indicators computes the indicators of a finding. Remediation times only
// consider vulnerabilities opened on or after since; a zero since counts all.
func (s *QueryService) Indicators(ctx context.Context, findingID string, since time.Time) (Indicators, error) {
	f, err := s.store.Finding(ctx, findingID)
	if err != nil {
		return Indicators{}, err
	}
	vulns, err := s.store.Vulnerabilities(ctx, findingID, "")
	if err != nil {
		return Indicators{}, err
	}

	now := s.now()
	severities := map[string]decimal.Decimal{f.ID: f.Severity}
	ind := Indicators{
		FindingID:                f.ID,
		Counters:                 tracking.Count(vulns),
		Verification:             tracking.FindingVerification(vulns),
		MeanTimeToRemediate:      tracking.MeanTimeToRemediate(vulns, since, now),
		MeanTimeToRemediateCVSSF: tracking.MeanTimeToRemediateCVSSF(vulns, severities, since, now),
		CVSSF:                    tracking.CVSSF(f.Severity),
		Exposure:                 tracking.Exposure(vulns, f.Severity),
		Tracking:                 tracking.Series(vulns),
	}
	s.logger.Debug("Computed finding indicators", zap.String("finding", f.ID), zap.Int("vulnerabilities", len(vulns)))
	return ind, nil
}
