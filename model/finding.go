package model

import (
	"regexp"
	"time"

	"github.com/ortelius/pdvd-ledger/ledger"
	"github.com/ortelius/pdvd-ledger/util"
	"github.com/shopspring/decimal"
)

var draftTitle = regexp.MustCompile(`^F[0-9]{3}\. .+`)

// Finding is a type of vulnerability reported within a group. Its own release
// ledger drives the draft approval workflow.
type Finding struct {
	ID          string                          `json:"_key"`
	GroupName   string                          `json:"group_name"`
	Title       string                          `json:"title"`
	Description string                          `json:"description,omitempty"`
	CVSSVector  string                          `json:"cvss_vector,omitempty"`
	Severity    decimal.Decimal                 `json:"severity_score"`
	Evidence    map[string]string               `json:"evidence,omitempty"`
	Source      Source                          `json:"source"`
	Release     *ledger.Ledger[ReleaseState]    `json:"historic_release"`
	ReleaseDate *time.Time                      `json:"release_date,omitempty"`
	Treatment   *ledger.Ledger[TreatmentStatus] `json:"historic_treatment,omitempty"`
	ObjType     string                          `json:"objtype"`
}

// ValidateDraftTitle checks the F000. Title convention
func ValidateDraftTitle(title string) error {
	if !draftTitle.MatchString(title) {
		return ErrInvalidDraftTitle.With("title", title)
	}
	return nil
}

// NewFinding creates a draft in CREATED state
func NewFinding(id, groupName, title string, reporter Reporter) *Finding {
	source := reporter.Source
	if source == "" {
		source = SourceIntegrates
	}
	return &Finding{
		ID:        id,
		GroupName: groupName,
		Title:     title,
		Source:    source,
		Release: ledger.New(ledger.Entry[ReleaseState]{
			Timestamp: reporter.at(),
			Actor:     reporter.Identity,
			Value:     ReleaseCreated,
		}),
		ObjType: "Finding",
	}
}

// NewDraft is NewFinding with title validation
func NewDraft(id, groupName, title string, reporter Reporter) (*Finding, error) {
	if err := ValidateDraftTitle(title); err != nil {
		return nil, err
	}
	return NewFinding(id, groupName, title, reporter), nil
}

// SetCVSSVector stores the vector and derives the severity score from it
func (f *Finding) SetCVSSVector(vector string) {
	f.CVSSVector = vector
	f.Severity = decimal.NewFromFloat(util.CalculateCVSSScore(vector)).Round(1)
}

// IsDraft reports whether the finding was never released
func (f *Finding) IsDraft() bool {
	return f.ReleaseDate == nil
}

// CurrentRelease is the last appended release state
func (f *Finding) CurrentRelease() (ReleaseState, error) {
	s, ok := f.Release.Current()
	if !ok {
		return s, ErrInvariantViolation.With("ledger", string(LedgerRelease)).With("finding", f.ID)
	}
	return s, nil
}

// RecordRelease appends a release state. Approval stamps the release date and
// seeds the finding treatment ledger.
func (f *Finding) RecordRelease(state ReleaseState, actor, justification string, at time.Time) {
	f.Release.Append(ledger.Entry[ReleaseState]{
		Timestamp:     at,
		Actor:         actor,
		Value:         state,
		Justification: justification,
	})
	if state == ReleaseApproved {
		released := at
		f.ReleaseDate = &released
		f.Treatment = ledger.New(ledger.Entry[TreatmentStatus]{Timestamp: at, Actor: actor, Value: TreatmentNew})
	}
}

// Band is the severity band of the finding
func (f *Finding) Band() SeverityBand {
	return BandFor(f.Severity)
}
