// Package reconcile diffs scanner results against persisted vulnerabilities
// and applies the resulting transitions.
package reconcile

import (
	"sort"

	"github.com/ortelius/pdvd-ledger/model"
	"github.com/ortelius/pdvd-ledger/util"
)

// Action is a transition emitted by reconciliation
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionReopen Action = "REOPEN"
	ActionClose  Action = "CLOSE"
)

var actionOrder = map[Action]int{ActionCreate: 0, ActionReopen: 1, ActionClose: 2}

// Transition is one planned change. Create and Reopen carry the candidate
// that triggered them; Reopen and Close carry the target vulnerability.
type Transition struct {
	Action          Action                 `json:"action"`
	Digest          model.Digest           `json:"digest"`
	VulnerabilityID string                 `json:"vulnerability_id,omitempty"`
	Candidate       *model.CandidateResult `json:"candidate,omitempty"`
}

// Plan is the full set of transitions for one finding and namespace
type Plan struct {
	FindingID   string       `json:"finding_id"`
	GroupName   string       `json:"group_name,omitempty"`
	Namespace   string       `json:"namespace"`
	Transitions []Transition `json:"transitions"`
	// Unchanged counts results open on both sides
	Unchanged int `json:"unchanged"`
	// NoResults means neither side had anything to persist
	NoResults bool `json:"no_results"`
}

// Empty reports whether applying the plan would change nothing
func (p Plan) Empty() bool {
	return len(p.Transitions) == 0
}

// Count returns how many transitions of the given action the plan holds
func (p Plan) Count(action Action) int {
	n := 0
	for _, t := range p.Transitions {
		if t.Action == action {
			n++
		}
	}
	return n
}

type options struct {
	scope *util.Scope
}

// Option customizes Reconcile
type Option func(*options)

// WithScope restricts closes of LINES vulnerabilities to the paths the scan
// actually analysed
func WithScope(scope *util.Scope) Option {
	return func(o *options) { o.scope = scope }
}

// Reconcile computes the transitions that bring the managed vulnerabilities
// of a finding in line with incoming. Vulnerabilities not reported by the
// scanner are never touched. The result is a pure value; nothing is persisted.
func Reconcile(finding *model.Finding, namespace string, current []*model.Vulnerability, incoming []model.CandidateResult, opts ...Option) (Plan, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if finding == nil {
		if len(incoming) > 0 {
			return Plan{}, model.ErrFindingMissing.With("finding", incoming[0].FindingID)
		}
		return Plan{Namespace: namespace, NoResults: true}, nil
	}

	plan := Plan{FindingID: finding.ID, GroupName: finding.GroupName, Namespace: namespace}

	// managed vulnerabilities by digest, deleted ones are out of play
	managed := make(map[model.Digest][]*model.Vulnerability)
	for _, v := range current {
		if v.Source != model.SourceSkims || v.FindingID != finding.ID || v.Namespace != namespace || v.IsDeleted() {
			continue
		}
		if _, err := v.CurrentState(); err != nil {
			return Plan{}, err
		}
		d := v.Digest()
		managed[d] = append(managed[d], v)
	}

	wanted := make(map[model.Digest]model.CandidateResult, len(incoming))
	for _, c := range incoming {
		if c.FindingID != finding.ID || c.Namespace != namespace {
			return Plan{}, model.ErrInvalidCandidate.With("finding", c.FindingID).With("namespace", c.Namespace)
		}
		if !c.Kind.IsValid() {
			return Plan{}, model.ErrInvalidCandidate.With("kind", string(c.Kind))
		}
		d := c.Digest()
		if _, dup := wanted[d]; !dup {
			wanted[d] = c
		}
	}

	openCount := 0
	for d, vulns := range managed {
		for _, v := range vulns {
			if !v.IsOpen() {
				continue
			}
			openCount++
			if _, ok := wanted[d]; ok {
				continue
			}
			if v.Kind == model.KindLines && !o.scope.Includes(v.Where) {
				continue
			}
			plan.Transitions = append(plan.Transitions, Transition{Action: ActionClose, Digest: d, VulnerabilityID: v.ID})
		}
	}

	for d, c := range wanted {
		candidate := c
		vulns := managed[d]
		if anyOpen(vulns) {
			plan.Unchanged++
			continue
		}
		if closed := lastClosed(vulns); closed != nil {
			plan.Transitions = append(plan.Transitions, Transition{Action: ActionReopen, Digest: d, VulnerabilityID: closed.ID, Candidate: &candidate})
			continue
		}
		plan.Transitions = append(plan.Transitions, Transition{Action: ActionCreate, Digest: d, Candidate: &candidate})
	}

	sort.Slice(plan.Transitions, func(i, j int) bool {
		a, b := plan.Transitions[i], plan.Transitions[j]
		if a.Digest != b.Digest {
			return a.Digest < b.Digest
		}
		if actionOrder[a.Action] != actionOrder[b.Action] {
			return actionOrder[a.Action] < actionOrder[b.Action]
		}
		return a.VulnerabilityID < b.VulnerabilityID
	})

	plan.NoResults = len(wanted) == 0 && openCount == 0
	return plan, nil
}

func anyOpen(vulns []*model.Vulnerability) bool {
	for _, v := range vulns {
		if v.IsOpen() {
			return true
		}
	}
	return false
}

// lastClosed picks the most recently closed vulnerability of a digest
func lastClosed(vulns []*model.Vulnerability) *model.Vulnerability {
	var pick *model.Vulnerability
	for _, v := range vulns {
		s, err := v.CurrentState()
		if err != nil || s != model.StateClosed {
			continue
		}
		if pick == nil {
			pick = v
			continue
		}
		a, _ := v.State.Last()
		b, _ := pick.State.Last()
		if a.Timestamp.After(b.Timestamp) || (a.Timestamp.Equal(b.Timestamp) && v.ID > pick.ID) {
			pick = v
		}
	}
	return pick
}
