package findings

import (
	"context"
	"errors"
	"time"

	"github.com/ortelius/pdvd-ledger/internal/services"
	"github.com/ortelius/pdvd-ledger/ledger"
	"github.com/ortelius/pdvd-ledger/model"
	"github.com/ortelius/pdvd-ledger/tracking"
)

func formatTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func entries[T any](l *ledger.Ledger[T], value func(T) string) []map[string]interface{} {
	if l == nil {
		return nil
	}
	all := l.All()
	out := make([]map[string]interface{}, 0, len(all))
	for _, e := range all {
		out = append(out, map[string]interface{}{
			"timestamp":     e.Timestamp.UTC().Format(time.RFC3339),
			"actor":         e.Actor,
			"value":         value(e.Value),
			"justification": e.Justification,
		})
	}
	return out
}

func findingMap(f *model.Finding) map[string]interface{} {
	release, _ := f.CurrentRelease()
	score, _ := f.Severity.Float64()
	return map[string]interface{}{
		"id":             f.ID,
		"group_name":     f.GroupName,
		"title":          f.Title,
		"cvss_vector":    f.CVSSVector,
		"severity_score": score,
		"severity_band":  string(f.Band()),
		"release_state":  string(release),
		"is_draft":       f.IsDraft(),
		"release_date":   formatTime(f.ReleaseDate),
	}
}

func vulnerabilityMap(v *model.Vulnerability) map[string]interface{} {
	state, _ := v.CurrentState()
	verification, _ := v.CurrentVerification()
	treatment, _ := v.CurrentTreatment()
	zeroRisk, _ := v.CurrentZeroRisk()
	return map[string]interface{}{
		"id":                    v.ID,
		"finding_id":            v.FindingID,
		"kind":                  string(v.Kind),
		"where":                 v.Where,
		"specific":              v.Specific,
		"namespace":             v.Namespace,
		"source":                string(v.Source),
		"digest":                v.Digest().String(),
		"state":                 string(state),
		"verification":          string(verification),
		"treatment":             string(treatment.Status),
		"assigned":              treatment.Assigned,
		"zero_risk":             string(zeroRisk),
		"historic_state":        entries(v.State, func(s model.VulnerabilityState) string { return string(s) }),
		"historic_verification": entries(v.Verification, func(s model.VerificationStatus) string { return string(s) }),
		"historic_treatment":    entries(v.Treatment, func(t model.Treatment) string { return string(t.Status) }),
		"historic_zero_risk":    entries(v.ZeroRisk, func(s model.ZeroRiskStatus) string { return string(s) }),
	}
}

func pointMaps(points []tracking.Point) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(points))
	for _, p := range points {
		out = append(out, map[string]interface{}{
			"cycle":              p.Cycle,
			"date":               p.Date,
			"open":               p.Open,
			"closed":             p.Closed,
			"accepted":           p.Accepted,
			"accepted_undefined": p.AcceptedUndefined,
			"justification":      p.Justification,
			"assigned":           p.Assigned,
		})
	}
	return out
}

// ResolveFinding fetches one finding
func ResolveFinding(ctx context.Context, queries *services.QueryService, id string) (interface{}, error) {
	f, err := queries.Finding(ctx, id)
	if err != nil {
		return nil, err
	}
	return findingMap(f), nil
}

// ResolveVulnerability fetches one vulnerability with its ledgers
func ResolveVulnerability(ctx context.Context, queries *services.QueryService, id string) (interface{}, error) {
	v, err := queries.Vulnerability(ctx, id)
	if err != nil {
		return nil, err
	}
	return vulnerabilityMap(v), nil
}

// ResolveVulnerabilities lists the vulnerabilities of a finding, optionally
// filtered by namespace and current state
func ResolveVulnerabilities(ctx context.Context, queries *services.QueryService, findingID, namespace, state string) (interface{}, error) {
	vulns, err := queries.Vulnerabilities(ctx, findingID, namespace)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(vulns))
	for _, v := range vulns {
		if state != "" {
			if s, _ := v.CurrentState(); string(s) != state {
				continue
			}
		}
		out = append(out, vulnerabilityMap(v))
	}
	return out, nil
}

// ResolveTracking builds the tracking chart of a finding
func ResolveTracking(ctx context.Context, queries *services.QueryService, findingID string) (interface{}, error) {
	vulns, err := queries.Vulnerabilities(ctx, findingID, "")
	if err != nil {
		return nil, err
	}
	return pointMaps(tracking.Series(vulns)), nil
}

// ResolveIndicators computes the indicators of a finding
func ResolveIndicators(ctx context.Context, queries *services.QueryService, findingID string, since time.Time) (interface{}, error) {
	ind, err := queries.Indicators(ctx, findingID, since)
	if err != nil {
		return nil, err
	}
	mttr, _ := ind.MeanTimeToRemediate.Float64()
	mttrCVSSF, _ := ind.MeanTimeToRemediateCVSSF.Float64()
	cvssf, _ := ind.CVSSF.Float64()
	exposure, _ := ind.Exposure.Float64()
	return map[string]interface{}{
		"open":                         ind.Counters.Open,
		"closed":                       ind.Counters.Closed,
		"new":                          ind.Counters.Treatments.New,
		"in_progress":                  ind.Counters.Treatments.InProgress,
		"accepted":                     ind.Counters.Treatments.Accepted,
		"accepted_undefined":           ind.Counters.Treatments.AcceptedUndefined,
		"verification":                 string(ind.Verification),
		"mean_time_to_remediate":       mttr,
		"mean_time_to_remediate_cvssf": mttrCVSSF,
		"cvssf":                        cvssf,
		"exposure":                     exposure,
	}, nil
}

func eventMaps(events []model.TransitionApplied) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]interface{}{
			"event_id":         e.EventID,
			"vulnerability_id": e.VulnerabilityID,
			"finding_id":       e.FindingID,
			"ledger":           string(e.Ledger),
			"old_state":        e.OldState,
			"new_state":        e.NewState,
			"actor":            e.Actor,
		})
	}
	return out
}

// ResolveTransition applies one transition. Domain errors are reported in the
// payload so the caller gets the stable code.
func ResolveTransition(ctx context.Context, transitions *services.TransitionService, req model.TransitionRequest) (interface{}, error) {
	events, err := transitions.Apply(ctx, req)
	if err != nil {
		var e *model.Error
		if !errors.As(err, &e) {
			return nil, err
		}
		return map[string]interface{}{
			"success": false,
			"code":    string(e.Code),
			"message": err.Error(),
			"events":  eventMaps(events),
		}, nil
	}
	return map[string]interface{}{
		"success": true,
		"events":  eventMaps(events),
	}, nil
}
