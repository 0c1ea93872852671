package guards

import "github.com/ortelius/pdvd-ledger/model"

// ZeroRiskAction is a zero risk review action
type ZeroRiskAction string

const (
	ZeroRiskRequest ZeroRiskAction = "REQUEST"
	ZeroRiskConfirm ZeroRiskAction = "CONFIRM"
	ZeroRiskReject  ZeroRiskAction = "REJECT"
)

// ZeroRiskActions lists every zero risk action
var ZeroRiskActions = []ZeroRiskAction{ZeroRiskRequest, ZeroRiskConfirm, ZeroRiskReject}

// ZeroRisk validates a zero risk review action
func ZeroRisk(current model.ZeroRiskStatus, action ZeroRiskAction) (model.ZeroRiskStatus, error) {
	switch action {
	case ZeroRiskRequest:
		switch current {
		case model.ZeroRiskUnset:
			return model.ZeroRiskRequested, nil
		case model.ZeroRiskRequested:
			return current, model.ErrAlreadyRequested
		}
	case ZeroRiskConfirm, ZeroRiskReject:
		if current != model.ZeroRiskRequested {
			return current, model.ErrNotRequested
		}
		if action == ZeroRiskConfirm {
			return model.ZeroRiskConfirmed, nil
		}
		return model.ZeroRiskRejected, nil
	}
	return current, model.ErrInvalidTransition.With("state", string(current)).With("action", string(action))
}
