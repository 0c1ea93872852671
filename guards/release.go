// Package guards validates lifecycle transitions. Every guard is a pure
// function of the current state, the requested action and its context: it
// returns the next state or a precondition error, never both.
package guards

import (
	"github.com/ortelius/pdvd-ledger/model"
)

// ReleaseAction is a draft workflow action
type ReleaseAction string

const (
	ReleaseSubmit  ReleaseAction = "SUBMIT"
	ReleaseApprove ReleaseAction = "APPROVE"
	ReleaseReject  ReleaseAction = "REJECT"
	ReleaseDelete  ReleaseAction = "DELETE"
)

// ReleaseActions lists every draft action
var ReleaseActions = []ReleaseAction{ReleaseSubmit, ReleaseApprove, ReleaseReject, ReleaseDelete}

// DraftContext is what release guards inspect besides the current state
type DraftContext struct {
	Finding         *model.Finding
	Vulnerabilities []*model.Vulnerability
}

func (d DraftContext) liveVulnerabilities() int {
	n := 0
	for _, v := range d.Vulnerabilities {
		if !v.IsDeleted() {
			n++
		}
	}
	return n
}

// MissingDraftFields lists, in order, the draft data required for submission
func (d DraftContext) MissingDraftFields() []string {
	var missing []string
	if d.Finding == nil || len(d.Finding.Evidence) == 0 {
		missing = append(missing, "evidence")
	}
	if d.Finding == nil || !d.Finding.Severity.IsPositive() {
		missing = append(missing, "severity")
	}
	if d.liveVulnerabilities() == 0 {
		missing = append(missing, "vulnerabilities")
	}
	return missing
}

// Release validates a draft workflow action. A rejected draft may be
// submitted again once fixed.
func Release(current model.ReleaseState, action ReleaseAction, ctx DraftContext) (model.ReleaseState, error) {
	switch current {
	case model.ReleaseApproved:
		return current, model.ErrAlreadyApproved
	case model.ReleaseDeleted:
		return current, model.ErrAlreadyDeleted
	case model.ReleaseCreated, model.ReleaseSubmitted, model.ReleaseRejected:
	default:
		return current, model.ErrInvalidTransition.With("state", string(current)).With("action", string(action))
	}

	switch action {
	case ReleaseSubmit:
		if current == model.ReleaseSubmitted {
			return current, model.ErrAlreadySubmitted
		}
		if missing := ctx.MissingDraftFields(); len(missing) > 0 {
			return current, model.IncompleteDraft(missing...)
		}
		return model.ReleaseSubmitted, nil
	case ReleaseApprove:
		if current != model.ReleaseSubmitted {
			return current, model.ErrNotSubmitted
		}
		if ctx.liveVulnerabilities() == 0 {
			return current, model.ErrDraftWithoutVulns
		}
		return model.ReleaseApproved, nil
	case ReleaseReject:
		if current != model.ReleaseSubmitted {
			return current, model.ErrNotSubmitted
		}
		return model.ReleaseRejected, nil
	case ReleaseDelete:
		return model.ReleaseDeleted, nil
	}
	return current, model.ErrInvalidTransition.With("state", string(current)).With("action", string(action))
}
