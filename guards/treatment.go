package guards

import (
	"strconv"
	"time"

	"github.com/ortelius/pdvd-ledger/ledger"
	"github.com/ortelius/pdvd-ledger/model"
	"github.com/ortelius/pdvd-ledger/util"
	"github.com/shopspring/decimal"
)

var (
	defaultMinSeverity = decimal.Zero
	defaultMaxSeverity = decimal.NewFromInt(10)
)

// TreatmentChange is a requested treatment
type TreatmentChange struct {
	Status         model.TreatmentStatus
	Justification  string
	Assigned       string
	AcceptanceDate *time.Time
}

// TreatmentContext carries the policy snapshot and finding data the
// acceptance checks need
type TreatmentContext struct {
	Severity decimal.Decimal
	Policy   model.AcceptancePolicy
	// Assignees restricts who can be assigned, nil allows anyone
	Assignees []string
	Now       time.Time
}

// Unchanged reports whether change repeats the current treatment. Only the
// status, justification and assignee take part; dates and acceptance status
// are volatile.
func Unchanged(current ledger.Entry[model.Treatment], change TreatmentChange) bool {
	return current.Value.Status == change.Status &&
		current.Justification == change.Justification &&
		current.Value.Assigned == change.Assigned
}

// Treatment validates a treatment change against the treatment history. Any
// status may follow any other; acceptances must satisfy the policy.
func Treatment(history *ledger.Ledger[model.Treatment], change TreatmentChange, ctx TreatmentContext) (model.Treatment, error) {
	current, ok := history.Last()
	if !ok {
		return model.Treatment{}, model.ErrInvariantViolation.With("ledger", string(model.LedgerTreatment))
	}
	switch change.Status {
	case model.TreatmentNew, model.TreatmentInProgress, model.TreatmentAccepted, model.TreatmentAcceptedUndefined:
	default:
		return current.Value, model.ErrInvalidTransition.With("treatment", string(change.Status))
	}
	if Unchanged(current, change) {
		return current.Value, model.ErrNoChangesToApply
	}
	if ctx.Assignees != nil && change.Assigned != "" && !util.Contains(ctx.Assignees, change.Assigned) {
		return current.Value, model.ErrInvalidAssigned.With("assigned", change.Assigned)
	}

	next := model.Treatment{Status: change.Status, Assigned: change.Assigned}
	if !change.Status.IsAcceptance() {
		return next, nil
	}

	now := ctx.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if err := checkAcceptanceDays(change, ctx.Policy, now); err != nil {
		return current.Value, err
	}
	if err := checkAcceptanceSeverity(ctx.Severity, ctx.Policy); err != nil {
		return current.Value, err
	}
	if change.Status == model.TreatmentAccepted {
		if err := checkNumberAcceptances(history, ctx.Policy); err != nil {
			return current.Value, err
		}
	}

	if change.AcceptanceDate != nil {
		date := change.AcceptanceDate.UTC()
		next.AcceptanceDate = &date
	}
	if change.Status == model.TreatmentAcceptedUndefined {
		next.AcceptanceStatus = model.AcceptanceSubmitted
	}
	return next, nil
}

// checkAcceptanceDays requires a future date within the policy window. The
// date is mandatory for a temporary acceptance and optional for an undefined one.
func checkAcceptanceDays(change TreatmentChange, policy model.AcceptancePolicy, now time.Time) error {
	if change.AcceptanceDate == nil {
		if change.Status == model.TreatmentAccepted {
			return model.ErrInvalidAcceptanceDays.With("acceptance_date", "missing")
		}
		return nil
	}
	date := *change.AcceptanceDate
	if !date.After(now) {
		return model.ErrInvalidAcceptanceDays.With("acceptance_date", date.Format(time.RFC3339))
	}
	days := int(date.Sub(now).Hours() / 24)
	if policy.MaxAcceptanceDays != nil && days > *policy.MaxAcceptanceDays {
		return model.ErrInvalidAcceptanceDays.
			With("days", strconv.Itoa(days)).
			With("max_acceptance_days", strconv.Itoa(*policy.MaxAcceptanceDays))
	}
	return nil
}

func checkAcceptanceSeverity(severity decimal.Decimal, policy model.AcceptancePolicy) error {
	lo, hi := defaultMinSeverity, defaultMaxSeverity
	if policy.MinAcceptanceSeverity != nil {
		lo = *policy.MinAcceptanceSeverity
	}
	if policy.MaxAcceptanceSeverity != nil {
		hi = *policy.MaxAcceptanceSeverity
	}
	s := severity.Round(1)
	if s.LessThan(lo) || s.GreaterThan(hi) {
		return model.ErrInvalidAcceptanceSeverity.With("severity", s.String())
	}
	return nil
}

func checkNumberAcceptances(history *ledger.Ledger[model.Treatment], policy model.AcceptancePolicy) error {
	if policy.MaxNumberAcceptances == nil {
		return nil
	}
	accepted := 0
	for _, e := range history.All() {
		if e.Value.Status == model.TreatmentAccepted {
			accepted++
		}
	}
	if accepted+1 > *policy.MaxNumberAcceptances {
		return model.ErrInvalidNumberAcceptances.With("acceptances", strconv.Itoa(accepted))
	}
	return nil
}
