package guards

import "github.com/ortelius/pdvd-ledger/model"

// VerificationAction is a reattack workflow action
type VerificationAction string

const (
	VerificationRequest VerificationAction = "REQUEST"
	VerificationVerify  VerificationAction = "VERIFY"
	VerificationHold    VerificationAction = "HOLD"
	VerificationResume  VerificationAction = "RESUME"
)

// VerificationActions lists every verification action
var VerificationActions = []VerificationAction{VerificationRequest, VerificationVerify, VerificationHold, VerificationResume}

// VerificationContext carries the vulnerability state the request applies to
type VerificationContext struct {
	State model.VulnerabilityState
}

// Verification validates a reattack workflow action. Resuming a held request
// goes back to REQUESTED.
func Verification(current model.VerificationStatus, action VerificationAction, ctx VerificationContext) (model.VerificationStatus, error) {
	switch action {
	case VerificationRequest:
		if ctx.State == model.StateClosed {
			return current, model.ErrVulnAlreadyClosed
		}
		if ctx.State == model.StateDeleted {
			return current, model.ErrInvalidTransition.With("state", string(ctx.State)).With("action", string(action))
		}
		switch current {
		case model.VerificationRequested:
			return current, model.ErrAlreadyRequested
		case model.VerificationOnHold:
			return current, model.ErrAlreadyOnHold
		}
		return model.VerificationRequested, nil
	case VerificationVerify:
		switch current {
		case model.VerificationRequested:
			return model.VerificationVerified, nil
		case model.VerificationOnHold:
			return current, model.ErrAlreadyOnHold
		}
		return current, model.ErrNotVerificationRequested
	case VerificationHold:
		switch current {
		case model.VerificationRequested:
			return model.VerificationOnHold, nil
		case model.VerificationOnHold:
			return current, model.ErrAlreadyOnHold
		}
		return current, model.ErrNotVerificationRequested
	case VerificationResume:
		switch current {
		case model.VerificationOnHold:
			return model.VerificationRequested, nil
		case model.VerificationRequested:
			return current, model.ErrAlreadyRequested
		}
		return current, model.ErrNotVerificationRequested
	}
	return current, model.ErrInvalidTransition.With("state", string(current)).With("action", string(action))
}
