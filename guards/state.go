package guards

import "github.com/ortelius/pdvd-ledger/model"

// StateAction changes the open/closed state of a vulnerability
type StateAction string

const (
	StateClose  StateAction = "CLOSE"
	StateReopen StateAction = "REOPEN"
	StateDelete StateAction = "DELETE"
)

// StateActions lists every state action
var StateActions = []StateAction{StateClose, StateReopen, StateDelete}

// State validates an open/closed transition. Deleted vulnerabilities accept
// no further state changes.
func State(current model.VulnerabilityState, action StateAction) (model.VulnerabilityState, error) {
	if current == model.StateDeleted {
		return current, model.ErrAlreadyDeleted
	}
	switch action {
	case StateClose:
		if current == model.StateClosed {
			return current, model.ErrVulnAlreadyClosed
		}
		return model.StateClosed, nil
	case StateReopen:
		if current == model.StateOpen {
			return current, model.ErrInvalidTransition.With("state", string(current)).With("action", string(action))
		}
		return model.StateOpen, nil
	case StateDelete:
		return model.StateDeleted, nil
	}
	return current, model.ErrInvalidTransition.With("state", string(current)).With("action", string(action))
}
