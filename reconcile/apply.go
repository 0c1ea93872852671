package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ortelius/pdvd-ledger/guards"
	"github.com/ortelius/pdvd-ledger/model"
	"github.com/ortelius/pdvd-ledger/util"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds how many vulnerabilities are applied at once
const DefaultWorkers = 8

// Store is the persistence the applier writes through
type Store interface {
	Vulnerability(ctx context.Context, id string) (*model.Vulnerability, error)
	CreateVulnerability(ctx context.Context, v *model.Vulnerability) error
	Append(ctx context.Context, a model.Append) error
}

// Notifier receives an event for every persisted transition
type Notifier interface {
	Publish(ctx context.Context, event model.TransitionApplied) error
}

// Config tunes the applier
type Config struct {
	Workers int
	Retry   util.RetryConfig
}

// Status is what happened to one planned transition
type Status string

const (
	StatusApplied Status = "APPLIED"
	// StatusAlreadyApplied means a concurrent writer got there first
	StatusAlreadyApplied Status = "ALREADY_APPLIED"
	StatusFailed         Status = "FAILED"
	// StatusSkipped means the batch was cancelled before the unit started
	StatusSkipped Status = "SKIPPED"
)

// Outcome reports one transition of a plan
type Outcome struct {
	Transition      Transition `json:"transition"`
	VulnerabilityID string     `json:"vulnerability_id,omitempty"`
	Status          Status     `json:"status"`
	Err             error      `json:"-"`
}

// Result summarizes an applied plan
type Result struct {
	Applied        int       `json:"applied"`
	AlreadyApplied int       `json:"already_applied"`
	Failed         int       `json:"failed"`
	Skipped        int       `json:"skipped"`
	Outcomes       []Outcome `json:"outcomes"`
}

// OK reports whether every transition is now in effect
func (r Result) OK() bool {
	return r.Failed == 0 && r.Skipped == 0
}

// Applier persists plans. Each vulnerability is written independently: a
// failure leaves the transitions already applied in place.
type Applier struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
}

// NewApplier creates an applier; notifier may be nil
func NewApplier(store Store, notifier Notifier, logger *zap.Logger, cfg Config) *Applier {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = util.DefaultRetryConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{
		store:    store,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Apply runs every transition of plan on a bounded pool and waits for all of
// them. Cancelling ctx stops units that have not started yet; a started unit
// always runs to completion. The returned error combines every failure.
func (a *Applier) Apply(ctx context.Context, plan Plan, actor string) (Result, error) {
	outcomes := make([]Outcome, len(plan.Transitions))

	var g errgroup.Group
	g.SetLimit(a.cfg.Workers)

	for i, t := range plan.Transitions {
		i, t := i, t
		outcomes[i] = Outcome{Transition: t, VulnerabilityID: t.VulnerabilityID, Status: StatusSkipped}
		if ctx.Err() != nil {
			continue
		}
		g.Go(func() error {
			// checkpoint between units
			if ctx.Err() != nil {
				return nil
			}
			id, status, err := a.applyOne(context.WithoutCancel(ctx), plan, t, actor)
			outcomes[i] = Outcome{Transition: t, VulnerabilityID: id, Status: status, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var res Result
	var errs error
	for _, o := range outcomes {
		switch o.Status {
		case StatusApplied:
			res.Applied++
		case StatusAlreadyApplied:
			res.AlreadyApplied++
		case StatusFailed:
			res.Failed++
			errs = multierr.Append(errs, o.Err)
		case StatusSkipped:
			res.Skipped++
		}
	}
	res.Outcomes = outcomes

	a.logger.Info("Applied reconciliation plan",
		zap.String("finding", plan.FindingID),
		zap.String("namespace", plan.Namespace),
		zap.Int("applied", res.Applied),
		zap.Int("already_applied", res.AlreadyApplied),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)

	if res.Skipped > 0 {
		errs = multierr.Append(errs, ctx.Err())
	}
	return res, errs
}

func (a *Applier) applyOne(ctx context.Context, plan Plan, t Transition, actor string) (string, Status, error) {
	switch t.Action {
	case ActionCreate:
		return a.create(ctx, plan, t, actor)
	case ActionClose:
		return a.changeState(ctx, plan, t, guards.StateClose, actor)
	case ActionReopen:
		return a.changeState(ctx, plan, t, guards.StateReopen, actor)
	}
	return t.VulnerabilityID, StatusFailed, model.ErrInvalidTransition.With("action", string(t.Action))
}

func (a *Applier) create(ctx context.Context, plan Plan, t Transition, actor string) (string, Status, error) {
	if t.Candidate == nil {
		return "", StatusFailed, model.ErrInvalidCandidate.With("digest", t.Digest.String())
	}
	v := model.NewVulnerabilityFromCandidate(*t.Candidate, model.Reporter{Identity: actor, Source: model.SourceSkims, At: a.now()})
	err := a.retry(ctx, v.ID, func(ctx context.Context) error {
		return a.store.CreateVulnerability(ctx, v)
	})
	if err != nil {
		return v.ID, StatusFailed, err
	}
	a.publish(ctx, plan, model.LedgerState, v.ID, "", string(model.StateOpen), actor)
	return v.ID, StatusApplied, nil
}

// changeState re-reads the vulnerability on every attempt so a conflict is
// retried against fresh state rather than replayed blindly
func (a *Applier) changeState(ctx context.Context, plan Plan, t Transition, action guards.StateAction, actor string) (string, Status, error) {
	var old, next model.VulnerabilityState
	already := false
	err := a.retry(ctx, t.VulnerabilityID, func(ctx context.Context) error {
		v, err := a.store.Vulnerability(ctx, t.VulnerabilityID)
		if err != nil {
			return err
		}
		if old, err = v.CurrentState(); err != nil {
			return err
		}
		next, err = guards.State(old, action)
		switch {
		case errors.Is(err, model.ErrVulnAlreadyClosed), action == guards.StateReopen && errors.Is(err, model.ErrInvalidTransition):
			already = true
			return nil
		case err != nil:
			return err
		}
		return a.store.Append(ctx, model.NewAppend(v, model.LedgerState, next, actor, "", a.now()))
	})
	switch {
	case err != nil:
		return t.VulnerabilityID, StatusFailed, err
	case already:
		return t.VulnerabilityID, StatusAlreadyApplied, nil
	}
	a.publish(ctx, plan, model.LedgerState, t.VulnerabilityID, string(old), string(next), actor)
	return t.VulnerabilityID, StatusApplied, nil
}

func (a *Applier) retry(ctx context.Context, id string, op func(ctx context.Context) error) error {
	err := util.Retry(ctx, a.cfg.Retry, Retryable, op, func(err error, wait time.Duration) {
		a.logger.Warn("Retrying vulnerability write", zap.String("vulnerability", id), zap.Duration("wait", wait), zap.Error(err))
	})
	return SurfaceError(a.logger, id, err)
}

func (a *Applier) publish(ctx context.Context, plan Plan, name model.LedgerName, id, old, next, actor string) {
	if a.notifier == nil {
		return
	}
	event := model.TransitionApplied{
		EventType:       "vulnerability.transition.applied",
		EventID:         uuid.New().String(),
		EventTime:       a.now(),
		SchemaVersion:   "v1",
		VulnerabilityID: id,
		FindingID:       plan.FindingID,
		GroupName:       plan.GroupName,
		Ledger:          name,
		OldState:        old,
		NewState:        next,
		Actor:           actor,
	}
	if err := a.notifier.Publish(ctx, event); err != nil {
		a.logger.Warn("Failed to publish transition event", zap.String("vulnerability", id), zap.Error(err))
	}
}

// Retryable reports whether a storage error deserves another attempt:
// transient failures, stale reads and timeouts.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, model.ErrConcurrentModification), errors.Is(err, util.ErrAttemptTimeout):
		return true
	}
	var e *model.Error
	if errors.As(err, &e) {
		return e.Kind == model.KindTransient
	}
	return true
}

// SurfaceError maps an exhausted retry loop to the error callers see.
// Transient failures become StorageUnavailable; invariant violations are
// logged at error level.
func SurfaceError(logger *zap.Logger, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrInvariantViolation):
		logger.Error("Ledger invariant violated", zap.String("id", id), zap.Error(err))
		return err
	case errors.Is(err, model.ErrConcurrentModification), model.IsPrecondition(err), errors.Is(err, context.Canceled):
		return err
	case Retryable(err):
		return model.ErrStorageUnavailable.With("id", id).Wrap(err)
	}
	return err
}
