package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ortelius/pdvd-ledger/guards"
	"github.com/ortelius/pdvd-ledger/internal/metrics"
	"github.com/ortelius/pdvd-ledger/internal/policy"
	"github.com/ortelius/pdvd-ledger/model"
	"github.com/ortelius/pdvd-ledger/reconcile"
	"github.com/ortelius/pdvd-ledger/util"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TransitionOutcome reports one request of a batch
type TransitionOutcome struct {
	Request model.TransitionRequest   `json:"request"`
	Status  reconcile.Status          `json:"status"`
	Events  []model.TransitionApplied `json:"events,omitempty"`
	Code    string                    `json:"code,omitempty"`
	Error   string                    `json:"error,omitempty"`
	Err     error                     `json:"-"`
}

// TransitionService applies transitions requested by already authorized actors
type TransitionService struct {
	store    Store
	policies policy.Resolver
	notifier reconcile.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cfg      reconcile.Config
	now      func() time.Time
}

// NewTransitionService creates the service; notifier and m may be nil
func NewTransitionService(store Store, policies policy.Resolver, notifier reconcile.Notifier, m *metrics.Metrics, logger *zap.Logger, cfg reconcile.Config) *TransitionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = reconcile.DefaultWorkers
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = util.DefaultRetryConfig()
	}
	return &TransitionService{
		store:    store,
		policies: policies,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// snapshots resolves each group policy at most once per batch
type snapshots struct {
	mu       sync.Mutex
	resolver policy.Resolver
	byGroup  map[string]policy.Snapshot
}

func (s *snapshots) get(ctx context.Context, group string) (policy.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.byGroup[group]; ok {
		return snap, nil
	}
	if s.resolver == nil {
		return policy.Snapshot{Group: group}, nil
	}
	snap, err := s.resolver.Resolve(ctx, group)
	if err != nil {
		return snap, err
	}
	s.byGroup[group] = snap
	return snap, nil
}

func (s *TransitionService) newSnapshots() *snapshots {
	return &snapshots{resolver: s.policies, byGroup: make(map[string]policy.Snapshot)}
}

// Apply runs a single transition
func (s *TransitionService) Apply(ctx context.Context, req model.TransitionRequest) ([]model.TransitionApplied, error) {
	events, err := s.apply(ctx, req, s.newSnapshots())
	s.metrics.ObserveTransition(req.Transition, err)
	return events, err
}

// ApplyBatch runs independent transitions concurrently. Requests for the same
// target run in submission order; each target sees one policy snapshot per
// group for the whole batch. Cancelling ctx skips requests not yet started.
func (s *TransitionService) ApplyBatch(ctx context.Context, reqs []model.TransitionRequest) ([]TransitionOutcome, error) {
	outcomes := make([]TransitionOutcome, len(reqs))
	byTarget := make(map[string][]int)
	var order []string
	for i, req := range reqs {
		outcomes[i] = TransitionOutcome{Request: req, Status: reconcile.StatusSkipped}
		key := target(req)
		if _, ok := byTarget[key]; !ok {
			order = append(order, key)
		}
		byTarget[key] = append(byTarget[key], i)
	}

	snaps := s.newSnapshots()
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, key := range order {
		key := key
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			for _, i := range byTarget[key] {
				if ctx.Err() != nil {
					return nil
				}
				events, err := s.apply(context.WithoutCancel(ctx), reqs[i], snaps)
				s.metrics.ObserveTransition(reqs[i].Transition, err)
				outcomes[i] = outcome(reqs[i], events, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs error
	skipped := false
	for _, o := range outcomes {
		switch o.Status {
		case reconcile.StatusFailed:
			errs = multierr.Append(errs, o.Err)
		case reconcile.StatusSkipped:
			skipped = true
		}
	}
	if skipped {
		errs = multierr.Append(errs, ctx.Err())
	}
	return outcomes, errs
}

func target(req model.TransitionRequest) string {
	if req.Transition.TargetsFinding() {
		return "finding/" + req.FindingID
	}
	return "vulnerability/" + req.VulnerabilityID
}

func outcome(req model.TransitionRequest, events []model.TransitionApplied, err error) TransitionOutcome {
	o := TransitionOutcome{Request: req, Status: reconcile.StatusApplied, Events: events}
	if err != nil {
		o.Status = reconcile.StatusFailed
		o.Err = err
		o.Error = err.Error()
		var e *model.Error
		if errors.As(err, &e) {
			o.Code = string(e.Code)
		}
	}
	return o
}

func (s *TransitionService) apply(ctx context.Context, req model.TransitionRequest, snaps *snapshots) ([]model.TransitionApplied, error) {
	var events []model.TransitionApplied
	var err error
	if req.Transition.TargetsFinding() {
		events, err = s.applyRelease(ctx, req)
	} else {
		events, err = s.applyVulnerability(ctx, req, snaps)
	}
	// entries already stored are announced even when a later step failed
	for _, event := range events {
		s.publish(ctx, event)
	}
	return events, err
}

func (s *TransitionService) publish(ctx context.Context, event model.TransitionApplied) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish transition event", zap.String("event", event.EventID), zap.Error(err))
	}
}

var releaseActions = map[model.TransitionKind]guards.ReleaseAction{
	model.TransitionSubmitDraft:  guards.ReleaseSubmit,
	model.TransitionApproveDraft: guards.ReleaseApprove,
	model.TransitionRejectDraft:  guards.ReleaseReject,
	model.TransitionDeleteDraft:  guards.ReleaseDelete,
}

// applyRelease moves a draft through its release workflow. The finding is
// replaced only if its release ledger did not grow since it was read.
func (s *TransitionService) applyRelease(ctx context.Context, req model.TransitionRequest) ([]model.TransitionApplied, error) {
	action := releaseActions[req.Transition]
	var event model.TransitionApplied
	err := withRetry(ctx, s.cfg.Retry, s.logger, req.FindingID, func(ctx context.Context) error {
		f, err := s.store.Finding(ctx, req.FindingID)
		if err != nil {
			return err
		}
		vulns, err := s.store.Vulnerabilities(ctx, req.FindingID, "")
		if err != nil {
			return err
		}
		current, err := f.CurrentRelease()
		if err != nil {
			return err
		}
		next, err := guards.Release(current, action, guards.DraftContext{Finding: f, Vulnerabilities: vulns})
		if err != nil {
			return err
		}
		expected := f.Release.Len()
		at := s.now()
		f.RecordRelease(next, req.Actor, req.Justification, at)
		if err := s.store.UpdateFinding(ctx, f, expected); err != nil {
			return err
		}
		event = newEvent(at, f.ID, f.GroupName, "", model.LedgerRelease, string(current), string(next), req.Actor)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []model.TransitionApplied{event}, nil
}

// applyVulnerability validates and appends one ledger entry, re-reading the
// vulnerability whenever another writer got there first
func (s *TransitionService) applyVulnerability(ctx context.Context, req model.TransitionRequest, snaps *snapshots) ([]model.TransitionApplied, error) {
	var events []model.TransitionApplied
	err := withRetry(ctx, s.cfg.Retry, s.logger, req.VulnerabilityID, func(ctx context.Context) error {
		v, err := s.store.Vulnerability(ctx, req.VulnerabilityID)
		if err != nil {
			return err
		}
		if closePending(v, req) {
			events = nil
			return nil
		}
		f, err := s.store.Finding(ctx, v.FindingID)
		if err != nil {
			return err
		}
		snap, err := snaps.get(ctx, f.GroupName)
		if err != nil {
			return err
		}

		at := s.now()
		a, old, next, err := s.entryFor(v, f, req, snap, at)
		if err != nil {
			return err
		}
		if err := s.store.Append(ctx, a); err != nil {
			return err
		}
		events = []model.TransitionApplied{newEvent(at, f.ID, f.GroupName, v.ID, a.Ledger, old, next, req.Actor)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.Transition == model.TransitionVerify && req.Closed {
		closed, err := s.closeVerified(ctx, req)
		if err != nil {
			return events, err
		}
		events = append(events, closed...)
	}
	return events, nil
}

// closePending reports a verify-and-close whose verification is stored but
// whose vulnerability is still open, so only the closing step is left
func closePending(v *model.Vulnerability, req model.TransitionRequest) bool {
	if req.Transition != model.TransitionVerify || !req.Closed {
		return false
	}
	verification, err := v.CurrentVerification()
	if err != nil || verification != model.VerificationVerified {
		return false
	}
	state, err := v.CurrentState()
	return err == nil && state == model.StateOpen
}

// closeVerified closes a vulnerability the verification found fixed
func (s *TransitionService) closeVerified(ctx context.Context, req model.TransitionRequest) ([]model.TransitionApplied, error) {
	var events []model.TransitionApplied
	err := withRetry(ctx, s.cfg.Retry, s.logger, req.VulnerabilityID, func(ctx context.Context) error {
		v, err := s.store.Vulnerability(ctx, req.VulnerabilityID)
		if err != nil {
			return err
		}
		old, err := v.CurrentState()
		if err != nil {
			return err
		}
		next, err := guards.State(old, guards.StateClose)
		if errors.Is(err, model.ErrVulnAlreadyClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		at := s.now()
		if err := s.store.Append(ctx, model.NewAppend(v, model.LedgerState, next, req.Actor, req.Justification, at)); err != nil {
			return err
		}
		f, err := s.store.Finding(ctx, v.FindingID)
		if err != nil {
			return err
		}
		events = []model.TransitionApplied{newEvent(at, v.FindingID, f.GroupName, v.ID, model.LedgerState, string(old), string(next), req.Actor)}
		return nil
	})
	return events, err
}

// entryFor runs the guard of the requested transition and builds the append
func (s *TransitionService) entryFor(v *model.Vulnerability, f *model.Finding, req model.TransitionRequest, snap policy.Snapshot, at time.Time) (model.Append, string, string, error) {
	state, err := v.CurrentState()
	if err != nil {
		return model.Append{}, "", "", err
	}
	if state == model.StateDeleted && req.Transition != model.TransitionCloseVulnerability && req.Transition != model.TransitionDeleteVulnerability {
		return model.Append{}, "", "", model.ErrInvalidTransition.With("state", string(state)).With("transition", string(req.Transition))
	}

	switch req.Transition {
	case model.TransitionCloseVulnerability, model.TransitionDeleteVulnerability:
		action := guards.StateClose
		if req.Transition == model.TransitionDeleteVulnerability {
			action = guards.StateDelete
		}
		next, err := guards.State(state, action)
		if err != nil {
			return model.Append{}, "", "", err
		}
		return model.NewAppend(v, model.LedgerState, next, req.Actor, req.Justification, at), string(state), string(next), nil

	case model.TransitionRequestVerification, model.TransitionVerify, model.TransitionHoldVerification, model.TransitionResumeVerification:
		action := map[model.TransitionKind]guards.VerificationAction{
			model.TransitionRequestVerification: guards.VerificationRequest,
			model.TransitionVerify:              guards.VerificationVerify,
			model.TransitionHoldVerification:    guards.VerificationHold,
			model.TransitionResumeVerification:  guards.VerificationResume,
		}[req.Transition]
		current, err := v.CurrentVerification()
		if err != nil {
			return model.Append{}, "", "", err
		}
		next, err := guards.Verification(current, action, guards.VerificationContext{State: state})
		if err != nil {
			return model.Append{}, "", "", err
		}
		return model.NewAppend(v, model.LedgerVerification, next, req.Actor, req.Justification, at), string(current), string(next), nil

	case model.TransitionUpdateTreatment:
		current, err := v.CurrentTreatment()
		if err != nil {
			return model.Append{}, "", "", err
		}
		next, err := guards.Treatment(v.Treatment, guards.TreatmentChange{
			Status:         req.Treatment,
			Justification:  req.Justification,
			Assigned:       req.Assigned,
			AcceptanceDate: req.AcceptanceDate,
		}, guards.TreatmentContext{
			Severity:  f.Severity,
			Policy:    snap.Policy,
			Assignees: snap.Assignees,
			Now:       at,
		})
		if err != nil {
			return model.Append{}, "", "", err
		}
		return model.NewAppend(v, model.LedgerTreatment, next, req.Actor, req.Justification, at), string(current.Status), string(next.Status), nil

	case model.TransitionRequestZeroRisk, model.TransitionConfirmZeroRisk, model.TransitionRejectZeroRisk:
		action := map[model.TransitionKind]guards.ZeroRiskAction{
			model.TransitionRequestZeroRisk: guards.ZeroRiskRequest,
			model.TransitionConfirmZeroRisk: guards.ZeroRiskConfirm,
			model.TransitionRejectZeroRisk:  guards.ZeroRiskReject,
		}[req.Transition]
		current, err := v.CurrentZeroRisk()
		if err != nil {
			return model.Append{}, "", "", err
		}
		next, err := guards.ZeroRisk(current, action)
		if err != nil {
			return model.Append{}, "", "", err
		}
		return model.NewAppend(v, model.LedgerZeroRisk, next, req.Actor, req.Justification, at), string(current), string(next), nil
	}
	return model.Append{}, "", "", model.ErrInvalidTransition.With("transition", string(req.Transition))
}
