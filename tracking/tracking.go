// Package tracking derives per-finding indicators from vulnerability ledgers.
// Every function is pure: the same ledgers always give the same result.
package tracking

import (
	"sort"
	"time"

	"github.com/ortelius/pdvd-ledger/ledger"
	"github.com/ortelius/pdvd-ledger/model"
)

const dateLayout = "2006-01-02"

// Action is a ledger transition reduced to the day it happened on
type Action struct {
	Action        string `json:"action"`
	Date          string `json:"date"`
	Justification string `json:"justification,omitempty"`
	Assigned      string `json:"assigned,omitempty"`
}

// Point is one row of the tracking chart
type Point struct {
	Cycle             int    `json:"cycle"`
	Date              string `json:"date"`
	Open              int    `json:"open"`
	Closed            int    `json:"closed"`
	Accepted          int    `json:"accepted"`
	AcceptedUndefined int    `json:"accepted_undefined"`
	Justification     string `json:"justification,omitempty"`
	Assigned          string `json:"assigned,omitempty"`
}

var actionRank = map[string]int{
	string(model.StateOpen):                  0,
	string(model.StateClosed):                1,
	string(model.TreatmentAccepted):          2,
	string(model.TreatmentAcceptedUndefined): 3,
}

func day(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// dedupeByDay keeps the last action of each day, in first-seen day order
func dedupeByDay(actions []Action) []Action {
	index := make(map[string]int)
	var out []Action
	for _, a := range actions {
		if i, ok := index[a.Date]; ok {
			out[i] = a
			continue
		}
		index[a.Date] = len(out)
		out = append(out, a)
	}
	return out
}

// StateActions reduces one state ledger to its open/close actions per day
func StateActions(states *ledger.Ledger[model.VulnerabilityState]) []Action {
	var actions []Action
	for _, e := range states.All() {
		if e.Value != model.StateOpen && e.Value != model.StateClosed {
			continue
		}
		actions = append(actions, Action{Action: string(e.Value), Date: day(e.Timestamp)})
	}
	return dedupeByDay(actions)
}

// TreatmentActions reduces one treatment ledger to its effective acceptances per day
func TreatmentActions(treatments *ledger.Ledger[model.Treatment]) []Action {
	var actions []Action
	for _, e := range treatments.All() {
		if !e.Value.Status.IsAcceptance() {
			continue
		}
		if e.Value.AcceptanceStatus == model.AcceptanceSubmitted || e.Value.AcceptanceStatus == model.AcceptanceRejected {
			continue
		}
		actions = append(actions, Action{
			Action:        string(e.Value.Status),
			Date:          day(e.Timestamp),
			Justification: e.Justification,
			Assigned:      e.Value.Assigned,
		})
	}
	return dedupeByDay(actions)
}

// Relevant drops deleted vulnerabilities and those confirmed or pending as zero risk
func Relevant(vulns []*model.Vulnerability) []*model.Vulnerability {
	var out []*model.Vulnerability
	for _, v := range vulns {
		if v.IsDeleted() {
			continue
		}
		if zr, err := v.CurrentZeroRisk(); err == nil && (zr == model.ZeroRiskRequested || zr == model.ZeroRiskConfirmed) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Series builds the tracking chart of a finding. Actions are counted across
// vulnerabilities per day and ordered by date; the cycle is the row index.
func Series(vulns []*model.Vulnerability) []Point {
	counts := make(map[Action]int)
	for _, v := range Relevant(vulns) {
		for _, a := range StateActions(v.State) {
			counts[a]++
		}
		for _, a := range TreatmentActions(v.Treatment) {
			counts[a]++
		}
	}

	actions := make([]Action, 0, len(counts))
	for a := range counts {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool {
		a, b := actions[i], actions[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if actionRank[a.Action] != actionRank[b.Action] {
			return actionRank[a.Action] < actionRank[b.Action]
		}
		if a.Assigned != b.Assigned {
			return a.Assigned < b.Assigned
		}
		return a.Justification < b.Justification
	})

	points := make([]Point, 0, len(actions))
	for i, a := range actions {
		p := Point{Cycle: i, Date: a.Date, Justification: a.Justification, Assigned: a.Assigned}
		n := counts[a]
		switch a.Action {
		case string(model.StateOpen):
			p.Open = n
		case string(model.StateClosed):
			p.Closed = n
		case string(model.TreatmentAccepted):
			p.Accepted = n
		case string(model.TreatmentAcceptedUndefined):
			p.AcceptedUndefined = n
		}
		points = append(points, p)
	}
	return points
}
