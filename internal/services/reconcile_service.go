package services

import (
	"context"
	"errors"
	"time"

	"github.com/ortelius/pdvd-ledger/internal/metrics"
	"github.com/ortelius/pdvd-ledger/model"
	"github.com/ortelius/pdvd-ledger/reconcile"
	"github.com/ortelius/pdvd-ledger/util"
	"go.uber.org/zap"
)

// ScanReport is what processing one scan did
type ScanReport struct {
	Plan     reconcile.Plan   `json:"plan"`
	Result   reconcile.Result `json:"result"`
	Released bool             `json:"released"`
}

// ReconcileService turns scanner output into ledger transitions
type ReconcileService struct {
	store   Store
	applier *reconcile.Applier
	drafts  *TransitionService
	metrics *metrics.Metrics
	logger  *zap.Logger
	retry   util.RetryConfig
}

// NewReconcileService wires the applier over store. drafts releases
// auto-approved findings and may be nil when auto approval is not used.
func NewReconcileService(store Store, notifier reconcile.Notifier, drafts *TransitionService, m *metrics.Metrics, logger *zap.Logger, cfg reconcile.Config) *ReconcileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = util.DefaultRetryConfig()
	}
	return &ReconcileService{
		store:   store,
		applier: reconcile.NewApplier(store, notifier, logger, cfg),
		drafts:  drafts,
		metrics: m,
		logger:  logger,
		retry:   cfg.Retry,
	}
}

// Plan computes the transitions a scan implies without persisting anything
func (s *ReconcileService) Plan(ctx context.Context, scan model.ScanRequest) (reconcile.Plan, error) {
	scope, err := util.NewScope(scan.Include, scan.Exclude)
	if err != nil {
		return reconcile.Plan{}, model.ErrInvalidCandidate.With("scope", err.Error())
	}

	var finding *model.Finding
	err = withRetry(ctx, s.retry, s.logger, scan.FindingID, func(ctx context.Context) error {
		f, err := s.store.Finding(ctx, scan.FindingID)
		if errors.Is(err, model.ErrFindingMissing) {
			return nil
		}
		finding = f
		return err
	})
	if err != nil {
		return reconcile.Plan{}, err
	}

	var current []*model.Vulnerability
	if finding != nil {
		err = withRetry(ctx, s.retry, s.logger, scan.FindingID, func(ctx context.Context) error {
			current, err = s.store.Vulnerabilities(ctx, scan.FindingID, scan.Namespace)
			return err
		})
		if err != nil {
			return reconcile.Plan{}, err
		}
	}

	plan, err := reconcile.Reconcile(finding, scan.Namespace, current, scan.Results, reconcile.WithScope(scope))
	if err != nil {
		return plan, err
	}
	if plan.FindingID == "" {
		plan.FindingID = scan.FindingID
	}
	if plan.GroupName == "" {
		plan.GroupName = scan.GroupName
	}
	return plan, nil
}

// ProcessScan reconciles a scan and applies the plan. With AutoApprove a
// draft that ends up with vulnerabilities is submitted and approved.
func (s *ReconcileService) ProcessScan(ctx context.Context, scan model.ScanRequest) (ScanReport, error) {
	start := time.Now()
	actor := scan.Actor
	if actor == "" {
		actor = MachineActor
	}

	var report ScanReport
	plan, err := s.Plan(ctx, scan)
	report.Plan = plan
	if err != nil {
		s.metrics.ObserveScan(plan, report.Result, time.Since(start), err)
		s.metrics.ObserveRejection(err)
		return report, err
	}
	if plan.NoResults {
		s.logger.Debug("Scan had nothing to persist", zap.String("finding", scan.FindingID), zap.String("namespace", scan.Namespace))
		s.metrics.ObserveScan(plan, report.Result, time.Since(start), nil)
		return report, nil
	}

	report.Result, err = s.applier.Apply(ctx, plan, actor)
	if err == nil && scan.AutoApprove && s.drafts != nil && plan.Count(reconcile.ActionCreate)+plan.Count(reconcile.ActionReopen)+plan.Unchanged > 0 {
		report.Released, err = s.release(ctx, scan.FindingID, actor)
	}
	s.metrics.ObserveScan(plan, report.Result, time.Since(start), err)
	return report, err
}

// release submits and approves a draft finding. Losing the race to another
// releaser is not an error.
func (s *ReconcileService) release(ctx context.Context, findingID, actor string) (bool, error) {
	var finding *model.Finding
	err := withRetry(ctx, s.retry, s.logger, findingID, func(ctx context.Context) error {
		f, err := s.store.Finding(ctx, findingID)
		finding = f
		return err
	})
	if err != nil || !finding.IsDraft() {
		return false, err
	}

	for _, kind := range []model.TransitionKind{model.TransitionSubmitDraft, model.TransitionApproveDraft} {
		_, err := s.drafts.Apply(ctx, model.TransitionRequest{FindingID: findingID, Transition: kind, Actor: actor})
		if err != nil && !errors.Is(err, model.ErrAlreadySubmitted) && !errors.Is(err, model.ErrAlreadyApproved) {
			return false, err
		}
	}
	s.logger.Info("Released draft after scan", zap.String("finding", findingID))
	return true, nil
}
