package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ortelius/pdvd-ledger/database"
	"github.com/ortelius/pdvd-ledger/internal/metrics"
	"github.com/ortelius/pdvd-ledger/internal/policy"
	"github.com/ortelius/pdvd-ledger/model"
	"github.com/ortelius/pdvd-ledger/reconcile"
	"github.com/ortelius/pdvd-ledger/tracking"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	findingID = "422286126"
	groupName = "unittesting"
	namespace = "back"
)

var at = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

const policyYAML = `
organization:
  max_acceptance_days: 90
groups:
  unittesting:
    max_acceptance_days: 30
`

type recorder struct {
	mu     sync.Mutex
	events []model.TransitionApplied
}

func (r *recorder) Publish(_ context.Context, e model.TransitionApplied) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) all() []model.TransitionApplied {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.TransitionApplied(nil), r.events...)
}

type countingResolver struct {
	calls atomic.Int32
	inner policy.Resolver
}

func (c *countingResolver) Resolve(ctx context.Context, group string) (policy.Snapshot, error) {
	c.calls.Add(1)
	return c.inner.Resolve(ctx, group)
}

type fixture struct {
	store       *database.MemoryStore
	events      *recorder
	metrics     *metrics.Metrics
	resolver    *countingResolver
	transitions *TransitionService
	scans       *ReconcileService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	resolver, err := policy.Parse([]byte(policyYAML))
	require.NoError(t, err)

	f := &fixture{
		store:    database.NewMemoryStore(),
		events:   &recorder{},
		metrics:  metrics.New(),
		resolver: &countingResolver{inner: resolver},
	}
	logger := zaptest.NewLogger(t)
	cfg := reconcile.Config{Workers: 4}
	f.transitions = NewTransitionService(f.store, f.resolver, f.events, f.metrics, logger, cfg)
	f.scans = NewReconcileService(f.store, f.events, f.transitions, f.metrics, logger, cfg)
	return f
}

func (f *fixture) finding(t *testing.T, released bool) *model.Finding {
	t.Helper()
	fd, err := model.NewDraft(findingID, groupName, "F001. SQL injection", model.Reporter{Identity: "hacker", At: at})
	require.NoError(t, err)
	fd.Evidence = map[string]string{"evidence_route_1": "evidence.png"}
	fd.Severity = decimal.RequireFromString("6.5")
	if released {
		fd.RecordRelease(model.ReleaseSubmitted, "hacker", "", at)
		fd.RecordRelease(model.ReleaseApproved, "reviewer", "", at)
	}
	require.NoError(t, f.store.CreateFinding(context.Background(), fd))
	return fd
}

func (f *fixture) vulnerability(t *testing.T, where string, source model.Source) *model.Vulnerability {
	t.Helper()
	v := model.NewVulnerability(findingID, model.KindLines, where, "10", namespace, model.Reporter{Identity: "machine", Source: source, At: at})
	require.NoError(t, f.store.CreateVulnerability(context.Background(), v))
	return v
}

func (f *fixture) state(t *testing.T, id string) model.VulnerabilityState {
	t.Helper()
	v, err := f.store.Vulnerability(context.Background(), id)
	require.NoError(t, err)
	s, err := v.CurrentState()
	require.NoError(t, err)
	return s
}

func scan(results ...string) model.ScanRequest {
	req := model.ScanRequest{FindingID: findingID, GroupName: groupName, Namespace: namespace, Results: []model.CandidateResult{}}
	for _, where := range results {
		req.Results = append(req.Results, model.CandidateResult{FindingID: findingID, Kind: model.KindLines, Where: where, Specific: "10", Namespace: namespace})
	}
	return req
}

func TestProcessScanClosesMissing(t *testing.T) {
	f := newFixture(t)
	f.finding(t, true)
	v := f.vulnerability(t, "src/app.py", model.SourceSkims)
	external := f.vulnerability(t, "src/manual.py", model.SourceIntegrates)

	report, err := f.scans.ProcessScan(context.Background(), scan())
	require.NoError(t, err)

	require.Len(t, report.Plan.Transitions, 1)
	assert.Equal(t, reconcile.ActionClose, report.Plan.Transitions[0].Action)
	assert.Equal(t, model.StateClosed, f.state(t, v.ID))
	assert.Equal(t, model.StateOpen, f.state(t, external.ID))

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, v.ID, events[0].VulnerabilityID)
	assert.Equal(t, groupName, events[0].GroupName)
	assert.Equal(t, MachineActor, events[0].Actor)
}

func TestProcessScanIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.finding(t, true)
	ctx := context.Background()

	first, err := f.scans.ProcessScan(ctx, scan("src/app.py", "src/db.py"))
	require.NoError(t, err)
	assert.Equal(t, 2, first.Result.Applied)

	second, err := f.scans.ProcessScan(ctx, scan("src/app.py", "src/db.py"))
	require.NoError(t, err)
	assert.True(t, second.Plan.Empty())
	assert.Equal(t, 2, second.Plan.Unchanged)

	vulns, err := f.store.Vulnerabilities(ctx, findingID, namespace)
	require.NoError(t, err)
	assert.Len(t, vulns, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Transitions.WithLabelValues("scan", "CREATE", "APPLIED")))
}

func TestProcessScanWithoutFinding(t *testing.T) {
	f := newFixture(t)

	_, err := f.scans.ProcessScan(context.Background(), scan("src/app.py"))
	require.ErrorIs(t, err, model.ErrFindingMissing)

	report, err := f.scans.ProcessScan(context.Background(), scan())
	require.NoError(t, err)
	assert.True(t, report.Plan.NoResults)
}

func TestProcessScanScope(t *testing.T) {
	f := newFixture(t)
	f.finding(t, true)
	inside := f.vulnerability(t, "src/app.py", model.SourceSkims)
	outside := f.vulnerability(t, "docs/readme.py", model.SourceSkims)

	req := scan()
	req.Include = []string{"src/"}
	_, err := f.scans.ProcessScan(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, model.StateClosed, f.state(t, inside.ID))
	assert.Equal(t, model.StateOpen, f.state(t, outside.ID))
}

func TestProcessScanAutoApprove(t *testing.T) {
	f := newFixture(t)
	f.finding(t, false)

	req := scan("src/app.py")
	req.AutoApprove = true
	report, err := f.scans.ProcessScan(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, report.Released)

	fd, err := f.store.Finding(context.Background(), findingID)
	require.NoError(t, err)
	release, err := fd.CurrentRelease()
	require.NoError(t, err)
	assert.Equal(t, model.ReleaseApproved, release)
	assert.False(t, fd.IsDraft())

	// already released findings are left alone
	report, err = f.scans.ProcessScan(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, report.Released)
}

func TestSubmitIncompleteDraft(t *testing.T) {
	f := newFixture(t)
	fd, err := model.NewDraft(findingID, groupName, "F001. SQL injection", model.Reporter{Identity: "hacker", At: at})
	require.NoError(t, err)
	require.NoError(t, f.store.CreateFinding(context.Background(), fd))

	_, err = f.transitions.Apply(context.Background(), model.TransitionRequest{FindingID: findingID, Transition: model.TransitionSubmitDraft, Actor: "hacker"})

	require.ErrorIs(t, err, model.ErrIncompleteDraft)
	var e *model.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, []string{"evidence", "severity", "vulnerabilities"}, e.Fields)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rejections.WithLabelValues("IncompleteDraft")))
}

func TestVerificationWorkflow(t *testing.T) {
	f := newFixture(t)
	f.finding(t, true)
	v1 := f.vulnerability(t, "src/app.py", model.SourceSkims)
	v2 := f.vulnerability(t, "src/db.py", model.SourceSkims)
	ctx := context.Background()

	_, err := f.transitions.Apply(ctx, model.TransitionRequest{VulnerabilityID: v1.ID, Transition: model.TransitionVerify, Actor: "hacker"})
	require.ErrorIs(t, err, model.ErrNotVerificationRequested)

	_, err = f.transitions.Apply(ctx, model.TransitionRequest{VulnerabilityID: v1.ID, Transition: model.TransitionRequestVerification, Actor: "customer", Justification: "fixed"})
	require.NoError(t, err)

	vulns, err := f.store.Vulnerabilities(ctx, findingID, "")
	require.NoError(t, err)
	assert.Equal(t, model.VerificationRequested, tracking.FindingVerification(vulns))

	events, err := f.transitions.Apply(ctx, model.TransitionRequest{VulnerabilityID: v1.ID, Transition: model.TransitionVerify, Actor: "hacker", Closed: true})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.LedgerVerification, events[0].Ledger)
	assert.Equal(t, model.LedgerState, events[1].Ledger)

	stored, err := f.store.Vulnerability(ctx, v1.ID)
	require.NoError(t, err)
	status, err := stored.CurrentVerification()
	require.NoError(t, err)
	assert.Equal(t, model.VerificationVerified, status)
	assert.Equal(t, model.StateClosed, f.state(t, v1.ID))
	assert.Equal(t, model.StateOpen, f.state(t, v2.ID))

	vulns, err = f.store.Vulnerabilities(ctx, findingID, "")
	require.NoError(t, err)
	assert.Equal(t, model.VerificationVerified, tracking.FindingVerification(vulns))
}

func TestTreatmentPolicyPrecedence(t *testing.T) {
	f := newFixture(t)
	f.finding(t, true)
	v := f.vulnerability(t, "src/app.py", model.SourceSkims)
	f.transitions.now = func() time.Time { return at }

	in := func(days int) *time.Time {
		d := at.AddDate(0, 0, days)
		return &d
	}
	accept := func(days int) model.TransitionRequest {
		return model.TransitionRequest{
			VulnerabilityID: v.ID,
			Transition:      model.TransitionUpdateTreatment,
			Actor:           "manager",
			Treatment:       model.TreatmentAccepted,
			Justification:   "temporary",
			AcceptanceDate:  in(days),
		}
	}

	// the organization allows 90 days but the group only 30
	_, err := f.transitions.Apply(context.Background(), accept(45))
	require.ErrorIs(t, err, model.ErrInvalidAcceptanceDays)

	events, err := f.transitions.Apply(context.Background(), accept(20))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "NEW", events[0].OldState)
	assert.Equal(t, "ACCEPTED", events[0].NewState)

	_, err = f.transitions.Apply(context.Background(), accept(20))
	require.ErrorIs(t, err, model.ErrNoChangesToApply)
}

func TestApplyBatch(t *testing.T) {
	f := newFixture(t)
	f.finding(t, true)
	v1 := f.vulnerability(t, "src/app.py", model.SourceSkims)
	v2 := f.vulnerability(t, "src/db.py", model.SourceSkims)

	reqs := []model.TransitionRequest{
		{VulnerabilityID: v1.ID, Transition: model.TransitionRequestVerification, Actor: "customer"},
		{VulnerabilityID: v2.ID, Transition: model.TransitionRequestZeroRisk, Actor: "customer", Justification: "false positive"},
		{VulnerabilityID: v1.ID, Transition: model.TransitionHoldVerification, Actor: "hacker"},
		{VulnerabilityID: v2.ID, Transition: model.TransitionConfirmZeroRisk, Actor: "reviewer"},
		{VulnerabilityID: "missing", Transition: model.TransitionCloseVulnerability, Actor: "hacker"},
	}

	outcomes, err := f.transitions.ApplyBatch(context.Background(), reqs)
	require.Error(t, err)
	require.ErrorIs(t, err, model.ErrVulnNotFound)

	require.Len(t, outcomes, 5)
	for _, o := range outcomes[:4] {
		assert.Equal(t, reconcile.StatusApplied, o.Status, o.Error)
	}
	assert.Equal(t, reconcile.StatusFailed, outcomes[4].Status)
	assert.Equal(t, "VulnNotFound", outcomes[4].Code)

	// one finding, one group: resolved once for the batch
	assert.Equal(t, int32(1), f.resolver.calls.Load())

	vulns, err := f.store.Vulnerabilities(context.Background(), findingID, "")
	require.NoError(t, err)
	counters := tracking.Count(vulns)
	assert.Equal(t, 1, counters.Verifications.OnHold)
	assert.Equal(t, 1, counters.ZeroRisk.Confirmed)
}

func TestApplyBatchCancelled(t *testing.T) {
	f := newFixture(t)
	f.finding(t, true)
	v := f.vulnerability(t, "src/app.py", model.SourceSkims)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcomes, err := f.transitions.ApplyBatch(ctx, []model.TransitionRequest{
		{VulnerabilityID: v.ID, Transition: model.TransitionCloseVulnerability, Actor: "hacker"},
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, reconcile.StatusSkipped, outcomes[0].Status)
	assert.Equal(t, model.StateOpen, f.state(t, v.ID))
}

func TestDeletedVulnerabilityRejectsWorkflow(t *testing.T) {
	f := newFixture(t)
	f.finding(t, true)
	v := f.vulnerability(t, "src/app.py", model.SourceSkims)
	ctx := context.Background()

	_, err := f.transitions.Apply(ctx, model.TransitionRequest{VulnerabilityID: v.ID, Transition: model.TransitionDeleteVulnerability, Actor: "hacker"})
	require.NoError(t, err)

	_, err = f.transitions.Apply(ctx, model.TransitionRequest{VulnerabilityID: v.ID, Transition: model.TransitionRequestVerification, Actor: "customer"})
	require.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = f.transitions.Apply(ctx, model.TransitionRequest{VulnerabilityID: v.ID, Transition: model.TransitionCloseVulnerability, Actor: "hacker"})
	require.ErrorIs(t, err, model.ErrAlreadyDeleted)
}

func TestProcessScanCreatesBesideManualAndDeletedRows(t *testing.T) {
	f := newFixture(t)
	f.finding(t, true)
	ctx := context.Background()
	manual := f.vulnerability(t, "src/app.py", model.SourceIntegrates)
	deleted := f.vulnerability(t, "src/db.py", model.SourceSkims)
	_, err := f.transitions.Apply(ctx, model.TransitionRequest{VulnerabilityID: deleted.ID, Transition: model.TransitionDeleteVulnerability, Actor: "hacker"})
	require.NoError(t, err)

	report, err := f.scans.ProcessScan(ctx, scan("src/app.py", "src/db.py"))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Result.Applied)

	vulns, err := f.store.Vulnerabilities(ctx, findingID, namespace)
	require.NoError(t, err)
	require.Len(t, vulns, 4)
	perLocation := map[string]int{}
	for _, v := range vulns {
		perLocation[v.Where]++
	}
	assert.Equal(t, map[string]int{"src/app.py": 2, "src/db.py": 2}, perLocation)
	assert.Equal(t, model.StateOpen, f.state(t, manual.ID))
	assert.Equal(t, model.StateDeleted, f.state(t, deleted.ID))
}

// stateRefusingStore stores every ledger entry except state changes
type stateRefusingStore struct {
	*database.MemoryStore
}

func (s stateRefusingStore) Append(ctx context.Context, a model.Append) error {
	if a.Ledger == model.LedgerState {
		return model.ErrInvariantViolation.With("ledger", string(a.Ledger))
	}
	return s.MemoryStore.Append(ctx, a)
}

func TestVerifyAndCloseResumesAfterFailedClose(t *testing.T) {
	f := newFixture(t)
	f.finding(t, true)
	v := f.vulnerability(t, "src/app.py", model.SourceSkims)
	ctx := context.Background()

	_, err := f.transitions.Apply(ctx, model.TransitionRequest{VulnerabilityID: v.ID, Transition: model.TransitionRequestVerification, Actor: "customer"})
	require.NoError(t, err)
	published := len(f.events.all())

	refusing := NewTransitionService(stateRefusingStore{f.store}, f.resolver, f.events, f.metrics, zaptest.NewLogger(t), reconcile.Config{Workers: 1})
	req := model.TransitionRequest{VulnerabilityID: v.ID, Transition: model.TransitionVerify, Actor: "hacker", Closed: true}
	events, err := refusing.Apply(ctx, req)
	require.ErrorIs(t, err, model.ErrInvariantViolation)

	// the stored verification is reported and announced
	require.Len(t, events, 1)
	assert.Equal(t, model.LedgerVerification, events[0].Ledger)
	all := f.events.all()
	require.Len(t, all, published+1)
	assert.Equal(t, string(model.VerificationVerified), all[published].NewState)
	assert.Equal(t, model.StateOpen, f.state(t, v.ID))

	// repeating the request only closes
	events, err = f.transitions.Apply(ctx, req)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.LedgerState, events[0].Ledger)
	assert.Equal(t, model.StateClosed, f.state(t, v.ID))

	_, err = f.transitions.Apply(ctx, req)
	require.ErrorIs(t, err, model.ErrNotVerificationRequested)
}
