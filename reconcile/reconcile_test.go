package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ortelius/pdvd-ledger/database"
	"github.com/ortelius/pdvd-ledger/model"
	"github.com/ortelius/pdvd-ledger/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	findingID = "422286126"
	namespace = "back"
)

var at = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

func finding() *model.Finding {
	return model.NewFinding(findingID, "unittesting", "F001. SQL injection", model.Reporter{Identity: "hacker", At: at})
}

func candidate(where, specific string) model.CandidateResult {
	return model.CandidateResult{FindingID: findingID, Kind: model.KindLines, Where: where, Specific: specific, Namespace: namespace}
}

func vuln(where, specific string, source model.Source) *model.Vulnerability {
	return model.NewVulnerability(findingID, model.KindLines, where, specific, namespace, model.Reporter{Identity: "machine", Source: source, At: at})
}

func closed(t *testing.T, v *model.Vulnerability) *model.Vulnerability {
	t.Helper()
	require.NoError(t, v.Apply(model.NewAppend(v, model.LedgerState, model.StateClosed, "machine", "", at.Add(time.Hour))))
	return v
}

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

func fastConfig() Config {
	return Config{
		Workers: 4,
		Retry: util.RetryConfig{
			Attempts:   util.DefaultRetryAttempts,
			NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		},
	}
}

func TestCloseWhenScanIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	v := vuln("src/app.py", "12", model.SourceSkims)
	require.NoError(t, store.CreateVulnerability(ctx, v))

	plan, err := Reconcile(finding(), namespace, []*model.Vulnerability{v}, nil)
	require.NoError(t, err)
	require.Len(t, plan.Transitions, 1)
	assert.Equal(t, Transition{Action: ActionClose, Digest: v.Digest(), VulnerabilityID: v.ID}, plan.Transitions[0])
	assert.False(t, plan.NoResults)

	events := &recorder{}
	res, err := NewApplier(store, events, zaptest.NewLogger(t), fastConfig()).Apply(ctx, plan, "machine")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.True(t, res.OK())

	stored, err := store.Vulnerability(ctx, v.ID)
	require.NoError(t, err)
	state, err := stored.CurrentState()
	require.NoError(t, err)
	assert.Equal(t, model.StateClosed, state)

	require.Len(t, events.events, 1)
	assert.Equal(t, "OPEN", events.events[0].OldState)
	assert.Equal(t, "CLOSED", events.events[0].NewState)
	assert.Equal(t, "unittesting", events.events[0].GroupName)
}

func TestCreateForNewResult(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	c := candidate("src/app.py", "12")

	plan, err := Reconcile(finding(), namespace, nil, []model.CandidateResult{c})
	require.NoError(t, err)
	require.Len(t, plan.Transitions, 1)
	assert.Equal(t, ActionCreate, plan.Transitions[0].Action)
	assert.Equal(t, c.Digest(), plan.Transitions[0].Digest)

	res, err := NewApplier(store, nil, zaptest.NewLogger(t), fastConfig()).Apply(ctx, plan, "machine")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	vulns, err := store.Vulnerabilities(ctx, findingID, namespace)
	require.NoError(t, err)
	require.Len(t, vulns, 1)
	assert.Equal(t, c.Digest(), vulns[0].Digest())
	assert.True(t, vulns[0].IsOpen())
	assert.Equal(t, model.SourceSkims, vulns[0].Source)
	assert.Equal(t, vulns[0].ID, res.Outcomes[0].VulnerabilityID)
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	keep := vuln("src/keep.py", "1", model.SourceSkims)
	gone := vuln("src/gone.py", "2", model.SourceSkims)
	back := closed(t, vuln("src/back.py", "3", model.SourceSkims))
	for _, v := range []*model.Vulnerability{keep, gone, back} {
		require.NoError(t, store.CreateVulnerability(ctx, v))
	}
	incoming := []model.CandidateResult{
		candidate("src/keep.py", "1"),
		candidate("src/back.py", "3"),
		candidate("src/new.py", "4"),
	}
	applier := NewApplier(store, nil, zaptest.NewLogger(t), fastConfig())

	current, err := store.Vulnerabilities(ctx, findingID, namespace)
	require.NoError(t, err)
	first, err := Reconcile(finding(), namespace, current, incoming)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Count(ActionCreate))
	assert.Equal(t, 1, first.Count(ActionReopen))
	assert.Equal(t, 1, first.Count(ActionClose))
	assert.Equal(t, 1, first.Unchanged)
	_, err = applier.Apply(ctx, first, "machine")
	require.NoError(t, err)

	current, err = store.Vulnerabilities(ctx, findingID, namespace)
	require.NoError(t, err)
	assert.Len(t, current, 4, "reopen must not create a duplicate")
	second, err := Reconcile(finding(), namespace, current, incoming)
	require.NoError(t, err)
	assert.True(t, second.Empty())
	assert.Equal(t, 3, second.Unchanged)

	reopened, err := store.Vulnerability(ctx, back.ID)
	require.NoError(t, err)
	assert.True(t, reopened.IsOpen())
	assert.Equal(t, 3, reopened.State.Len())
}

func TestExternalVulnerabilitiesAreNeverTouched(t *testing.T) {
	manual := vuln("src/app.py", "12", model.SourceIntegrates)
	manualClosed := closed(t, vuln("src/old.py", "1", model.SourceIntegrates))

	for _, incoming := range [][]model.CandidateResult{
		nil,
		{candidate("src/app.py", "12")},
		{candidate("src/old.py", "1"), candidate("src/other.py", "9")},
	} {
		plan, err := Reconcile(finding(), namespace, []*model.Vulnerability{manual, manualClosed}, incoming)
		require.NoError(t, err)
		for _, tr := range plan.Transitions {
			assert.NotEqual(t, manual.ID, tr.VulnerabilityID)
			assert.NotEqual(t, manualClosed.ID, tr.VulnerabilityID)
			assert.Equal(t, ActionCreate, tr.Action)
		}
		assert.Len(t, plan.Transitions, len(incoming))
	}
}

func TestClosedStaysClosed(t *testing.T) {
	v := closed(t, vuln("src/app.py", "12", model.SourceSkims))

	plan, err := Reconcile(finding(), namespace, []*model.Vulnerability{v}, nil)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	assert.True(t, plan.NoResults)
}

func TestNoResultsAndMissingFinding(t *testing.T) {
	plan, err := Reconcile(finding(), namespace, nil, nil)
	require.NoError(t, err)
	assert.True(t, plan.NoResults)
	assert.True(t, plan.Empty())

	plan, err = Reconcile(nil, namespace, nil, nil)
	require.NoError(t, err)
	assert.True(t, plan.NoResults)

	_, err = Reconcile(nil, namespace, nil, []model.CandidateResult{candidate("a.py", "1")})
	require.ErrorIs(t, err, model.ErrFindingMissing)
}

func TestInvalidCandidates(t *testing.T) {
	other := candidate("a.py", "1")
	other.Namespace = "front"
	_, err := Reconcile(finding(), namespace, nil, []model.CandidateResult{other})
	require.ErrorIs(t, err, model.ErrInvalidCandidate)

	bad := candidate("a.py", "1")
	bad.Kind = "FILES"
	_, err = Reconcile(finding(), namespace, nil, []model.CandidateResult{bad})
	require.ErrorIs(t, err, model.ErrInvalidCandidate)
}

func TestDuplicateCandidatesCreateOnce(t *testing.T) {
	plan, err := Reconcile(finding(), namespace, nil, []model.CandidateResult{
		candidate("src/app.py", "12"),
		candidate("./src/app.py", "12"),
	})
	require.NoError(t, err)
	assert.Len(t, plan.Transitions, 1)
}

func TestDeletedVulnerabilityIsIgnored(t *testing.T) {
	v := vuln("src/app.py", "12", model.SourceSkims)
	require.NoError(t, v.Apply(model.NewAppend(v, model.LedgerState, model.StateDeleted, "hacker", "", at)))

	plan, err := Reconcile(finding(), namespace, []*model.Vulnerability{v}, []model.CandidateResult{candidate("src/app.py", "12")})
	require.NoError(t, err)
	require.Len(t, plan.Transitions, 1)
	assert.Equal(t, ActionCreate, plan.Transitions[0].Action)
}

func TestScopeLimitsCloses(t *testing.T) {
	inside := vuln("src/app.py", "1", model.SourceSkims)
	outside := vuln("docs/conf.py", "2", model.SourceSkims)
	scope, err := util.NewScope([]string{"src/"}, nil)
	require.NoError(t, err)

	plan, err := Reconcile(finding(), namespace, []*model.Vulnerability{inside, outside}, nil, WithScope(scope))
	require.NoError(t, err)
	require.Len(t, plan.Transitions, 1)
	assert.Equal(t, inside.ID, plan.Transitions[0].VulnerabilityID)
}

func TestPlanIsDeterministic(t *testing.T) {
	var current []*model.Vulnerability
	for _, w := range []string{"a.py", "b.py", "c.py", "d.py"} {
		current = append(current, vuln(w, "1", model.SourceSkims))
	}
	incoming := []model.CandidateResult{candidate("x.py", "1"), candidate("y.py", "1")}

	first, err := Reconcile(finding(), namespace, current, incoming)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Reconcile(finding(), namespace, current, incoming)
		require.NoError(t, err)
		assert.Equal(t, first.Transitions, again.Transitions)
	}
}

// flakyStore fails the first appends and creates with a transient error
type flakyStore struct {
	*database.MemoryStore
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyStore) Append(ctx context.Context, a model.Append) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return model.ErrStorageTimeout
	}
	return f.MemoryStore.Append(ctx, a)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: database.NewMemoryStore()}
	store.failures.Store(3)
	v := vuln("src/app.py", "12", model.SourceSkims)
	require.NoError(t, store.CreateVulnerability(ctx, v))

	plan, err := Reconcile(finding(), namespace, []*model.Vulnerability{v}, nil)
	require.NoError(t, err)
	res, err := NewApplier(store, nil, zaptest.NewLogger(t), fastConfig()).Apply(ctx, plan, "machine")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, int32(4), store.calls.Load())
}

func TestExhaustedRetriesSurfaceStorageUnavailable(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: database.NewMemoryStore()}
	store.failures.Store(100)
	ok := vuln("src/ok.py", "1", model.SourceSkims)
	require.NoError(t, store.CreateVulnerability(ctx, ok))

	plan, err := Reconcile(finding(), namespace, []*model.Vulnerability{ok}, []model.CandidateResult{candidate("src/new.py", "2")})
	require.NoError(t, err)
	res, err := NewApplier(store, nil, zaptest.NewLogger(t), fastConfig()).Apply(ctx, plan, "machine")

	require.ErrorIs(t, err, model.ErrStorageUnavailable)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Applied, "the create is applied even though the close failed")
	assert.Equal(t, int32(util.DefaultRetryAttempts), store.calls.Load())
}

// racingStore lets another writer append to the state ledger before each of our appends
type racingStore struct {
	*database.MemoryStore
	races atomic.Int32
}

func (r *racingStore) Append(ctx context.Context, a model.Append) error {
	if r.races.Add(-1) >= 0 {
		v, err := r.MemoryStore.Vulnerability(ctx, a.VulnerabilityID)
		if err != nil {
			return err
		}
		if err := r.MemoryStore.Append(ctx, model.NewAppend(v, model.LedgerState, model.StateOpen, "other", "", at)); err != nil {
			return err
		}
	}
	return r.MemoryStore.Append(ctx, a)
}

func TestConflictsRetryWithFreshRead(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{MemoryStore: database.NewMemoryStore()}
	store.races.Store(2)
	v := vuln("src/app.py", "12", model.SourceSkims)
	require.NoError(t, store.CreateVulnerability(ctx, v))

	plan, err := Reconcile(finding(), namespace, []*model.Vulnerability{v}, nil)
	require.NoError(t, err)
	res, err := NewApplier(store, nil, zaptest.NewLogger(t), fastConfig()).Apply(ctx, plan, "machine")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	stored, err := store.Vulnerability(ctx, v.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsOpen())
	assert.Equal(t, 4, stored.State.Len())
}

// staleStore always reports a conflict
type staleStore struct {
	*database.MemoryStore
}

func (s *staleStore) Append(context.Context, model.Append) error {
	return model.ErrConcurrentModification
}

func TestPersistentConflictSurfaces(t *testing.T) {
	ctx := context.Background()
	store := &staleStore{MemoryStore: database.NewMemoryStore()}
	v := vuln("src/app.py", "12", model.SourceSkims)
	require.NoError(t, store.CreateVulnerability(ctx, v))

	plan, err := Reconcile(finding(), namespace, []*model.Vulnerability{v}, nil)
	require.NoError(t, err)
	res, err := NewApplier(store, nil, zaptest.NewLogger(t), fastConfig()).Apply(ctx, plan, "machine")
	require.ErrorIs(t, err, model.ErrConcurrentModification)
	assert.Equal(t, 1, res.Failed)
}

func TestAlreadyClosedIsNotAFailure(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	v := vuln("src/app.py", "12", model.SourceSkims)
	require.NoError(t, store.CreateVulnerability(ctx, v))
	plan, err := Reconcile(finding(), namespace, []*model.Vulnerability{v}, nil)
	require.NoError(t, err)

	applier := NewApplier(store, nil, zaptest.NewLogger(t), fastConfig())
	_, err = applier.Apply(ctx, plan, "machine")
	require.NoError(t, err)

	// a second run planned from the same stale snapshot
	res, err := applier.Apply(ctx, plan, "machine")
	require.NoError(t, err)
	assert.Equal(t, 1, res.AlreadyApplied)
	stored, err := store.Vulnerability(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.State.Len())
}

func TestCancelledBatchSkipsRemainingUnits(t *testing.T) {
	store := database.NewMemoryStore()
	var current []*model.Vulnerability
	for _, w := range []string{"a.py", "b.py", "c.py"} {
		v := vuln(w, "1", model.SourceSkims)
		require.NoError(t, store.CreateVulnerability(context.Background(), v))
		current = append(current, v)
	}
	plan, err := Reconcile(finding(), namespace, current, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewApplier(store, nil, zaptest.NewLogger(t), fastConfig()).Apply(ctx, plan, "machine")

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, res.Skipped)
	assert.False(t, res.OK())
	for _, v := range current {
		stored, err := store.Vulnerability(context.Background(), v.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, stored.State.Len(), "no partial writes")
	}
}

func TestLargeBatchRunsConcurrently(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	var incoming []model.CandidateResult
	for i := 0; i < 50; i++ {
		incoming = append(incoming, candidate("src/file.py", string(rune('a'+i%26))+string(rune('a'+i/26))))
	}
	plan, err := Reconcile(finding(), namespace, nil, incoming)
	require.NoError(t, err)
	require.Len(t, plan.Transitions, 50)

	res, err := NewApplier(store, nil, zaptest.NewLogger(t), fastConfig()).Apply(ctx, plan, "machine")
	require.NoError(t, err)
	assert.Equal(t, 50, res.Applied)

	vulns, err := store.Vulnerabilities(ctx, findingID, namespace)
	require.NoError(t, err)
	assert.Len(t, vulns, 50)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(model.ErrStorageTimeout))
	assert.True(t, Retryable(model.ErrConcurrentModification))
	assert.False(t, Retryable(model.ErrVulnAlreadyClosed))
	assert.False(t, Retryable(model.ErrFindingMissing))
	assert.False(t, Retryable(context.Canceled))
}
