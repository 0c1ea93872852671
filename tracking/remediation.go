package tracking

import (
	"math"
	"time"

	"github.com/ortelius/pdvd-ledger/model"
	"github.com/shopspring/decimal"
)

// CVSSF weights a severity score exponentially, 4^(score-4), so one critical
// outweighs many lows. The result has three decimals.
func CVSSF(score decimal.Decimal) decimal.Decimal {
	exp, _ := score.Sub(decimal.NewFromInt(4)).Float64()
	return decimal.NewFromFloat(math.Pow(4, exp)).RoundBank(3)
}

func midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int64 {
	return int64(midnight(to).Sub(midnight(from)).Hours() / 24)
}

// OpeningDate is the date of the last OPEN entry, ignored when before since
func OpeningDate(v *model.Vulnerability, since time.Time) (time.Time, bool) {
	entries := v.State.All()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Value != model.StateOpen {
			continue
		}
		if !since.IsZero() && midnight(since).After(midnight(entries[i].Timestamp)) {
			return time.Time{}, false
		}
		return entries[i].Timestamp, true
	}
	return time.Time{}, false
}

// ClosingDate is the date of the current CLOSED entry, ignored when before since
func ClosingDate(v *model.Vulnerability, since time.Time) (time.Time, bool) {
	last, ok := v.State.Last()
	if !ok || last.Value != model.StateClosed {
		return time.Time{}, false
	}
	if !since.IsZero() && midnight(since).After(midnight(last.Timestamp)) {
		return time.Time{}, false
	}
	return last.Timestamp, true
}

// remediationDays is the elapsed days of a vulnerability opened after since;
// still open vulnerabilities count up to now
func remediationDays(v *model.Vulnerability, since, now time.Time) (int64, bool) {
	opened, ok := OpeningDate(v, since)
	if !ok {
		return 0, false
	}
	end := now
	if closed, ok := ClosingDate(v, since); ok {
		end = closed
	}
	return daysBetween(opened, end), true
}

// MeanTimeToRemediate is the mean days to remediate the vulnerabilities opened
// after since. The ceiling is applied to the final quotient only.
func MeanTimeToRemediate(vulns []*model.Vulnerability, since, now time.Time) decimal.Decimal {
	var total, count int64
	for _, v := range vulns {
		if v.IsDeleted() {
			continue
		}
		if days, ok := remediationDays(v, since, now); ok {
			total += days
			count++
		}
	}
	if count == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(total).Div(decimal.NewFromInt(count)).Ceil()
}

// MeanTimeToRemediateCVSSF weights every vulnerability by the CVSSF of its
// finding severity
func MeanTimeToRemediateCVSSF(vulns []*model.Vulnerability, severities map[string]decimal.Decimal, since, now time.Time) decimal.Decimal {
	total := decimal.Zero
	weight := decimal.Zero
	for _, v := range vulns {
		if v.IsDeleted() {
			continue
		}
		days, ok := remediationDays(v, since, now)
		if !ok {
			continue
		}
		cvssf := CVSSF(severities[v.FindingID])
		total = total.Add(decimal.NewFromInt(days).Mul(cvssf))
		weight = weight.Add(cvssf)
	}
	if weight.IsZero() {
		return decimal.Zero
	}
	return total.Div(weight).RoundBank(3)
}
