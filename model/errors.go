package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies errors by how callers are expected to react
type ErrorKind int

const (
	// KindPrecondition errors are returned to the caller immediately and never retried
	KindPrecondition ErrorKind = iota
	// KindConsistency errors are surfaced without retry
	KindConsistency
	// KindTransient errors are retried internally before being surfaced
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindConsistency:
		return "consistency"
	case KindTransient:
		return "transient"
	}
	return "unknown"
}

// Code identifies a specific rejection or failure
type Code string

// Precondition codes
const (
	CodeIncompleteDraft           Code = "IncompleteDraft"
	CodeDraftWithoutVulns         Code = "DraftWithoutVulns"
	CodeInvalidDraftTitle         Code = "InvalidDraftTitle"
	CodeNotSubmitted              Code = "NotSubmitted"
	CodeAlreadySubmitted          Code = "AlreadySubmitted"
	CodeAlreadyApproved           Code = "AlreadyApproved"
	CodeAlreadyDeleted            Code = "AlreadyDeleted"
	CodeNotVerificationRequested  Code = "NotVerificationRequested"
	CodeAlreadyRequested          Code = "AlreadyRequested"
	CodeAlreadyOnHold             Code = "AlreadyOnHold"
	CodeNotRequested              Code = "NotRequested"
	CodeNoChangesToApply          Code = "NoChangesToApply"
	CodeInvalidAcceptanceDays     Code = "InvalidAcceptanceDays"
	CodeInvalidAcceptanceSeverity Code = "InvalidAcceptanceSeverity"
	CodeInvalidNumberAcceptances  Code = "InvalidNumberAcceptances"
	CodeInvalidAssigned           Code = "InvalidAssigned"
	CodeVulnAlreadyClosed         Code = "VulnAlreadyClosed"
	CodeInvalidTransition         Code = "InvalidTransition"
	CodeInvalidCandidate          Code = "InvalidCandidate"
	CodeVulnNotFound              Code = "VulnNotFound"
	CodeInvalidCVSSVector         Code = "InvalidCVSSVector"
)

// Consistency codes
const (
	CodeFindingMissing         Code = "FindingMissing"
	CodeInvariantViolation     Code = "InvariantViolation"
	CodeConcurrentModification Code = "ConcurrentModification"
	CodeDuplicateKey           Code = "DuplicateKey"
)

// Transient codes
const (
	CodeStorageUnavailable Code = "StorageUnavailable"
	CodeStorageTimeout     Code = "StorageTimeout"
)

// Error is the structured error returned by the ledger core. Fields carries the
// detail a caller needs to render the rejection, e.g. the missing draft fields.
type Error struct {
	Code    Code
	Kind    ErrorKind
	Message string
	Fields  []string
	Details map[string]string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Fields, ", "))
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error carrying the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// With returns a copy carrying extra details
func (e *Error) With(key, value string) *Error {
	cp := *e
	cp.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Wrap returns a copy with cause attached
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

func newError(kind ErrorKind, code Code, msg string) *Error {
	return &Error{Code: code, Kind: kind, Message: msg}
}

// Sentinel errors, compare with errors.Is
var (
	ErrIncompleteDraft           = newError(KindPrecondition, CodeIncompleteDraft, "the draft is missing required information")
	ErrDraftWithoutVulns         = newError(KindPrecondition, CodeDraftWithoutVulns, "the draft has no vulnerabilities")
	ErrInvalidDraftTitle         = newError(KindPrecondition, CodeInvalidDraftTitle, "the draft title must follow the pattern F000. Title")
	ErrNotSubmitted              = newError(KindPrecondition, CodeNotSubmitted, "the draft has not been submitted")
	ErrAlreadySubmitted          = newError(KindPrecondition, CodeAlreadySubmitted, "the draft has already been submitted")
	ErrAlreadyApproved           = newError(KindPrecondition, CodeAlreadyApproved, "the draft has already been approved")
	ErrAlreadyDeleted            = newError(KindPrecondition, CodeAlreadyDeleted, "the draft has already been deleted")
	ErrNotVerificationRequested  = newError(KindPrecondition, CodeNotVerificationRequested, "verification has not been requested")
	ErrAlreadyRequested          = newError(KindPrecondition, CodeAlreadyRequested, "a request is already in progress")
	ErrAlreadyOnHold             = newError(KindPrecondition, CodeAlreadyOnHold, "the verification request is already on hold")
	ErrNotRequested              = newError(KindPrecondition, CodeNotRequested, "zero risk has not been requested")
	ErrNoChangesToApply          = newError(KindPrecondition, CodeNoChangesToApply, "the treatment is unchanged")
	ErrInvalidAcceptanceDays     = newError(KindPrecondition, CodeInvalidAcceptanceDays, "the acceptance date is outside the allowed range")
	ErrInvalidAcceptanceSeverity = newError(KindPrecondition, CodeInvalidAcceptanceSeverity, "the finding severity is outside the acceptable range")
	ErrInvalidNumberAcceptances  = newError(KindPrecondition, CodeInvalidNumberAcceptances, "the vulnerability exceeded the number of acceptances")
	ErrInvalidAssigned           = newError(KindPrecondition, CodeInvalidAssigned, "the assignee cannot be assigned in this group")
	ErrVulnAlreadyClosed         = newError(KindPrecondition, CodeVulnAlreadyClosed, "the vulnerability is already closed")
	ErrInvalidTransition         = newError(KindPrecondition, CodeInvalidTransition, "the transition is not allowed from the current state")
	ErrInvalidCandidate          = newError(KindPrecondition, CodeInvalidCandidate, "the result does not belong to the reconciled finding")
	ErrVulnNotFound              = newError(KindPrecondition, CodeVulnNotFound, "the vulnerability does not exist")
	ErrInvalidCVSSVector         = newError(KindPrecondition, CodeInvalidCVSSVector, "the severity vector is not a valid CVSS 3.x or 4.0 vector")

	ErrFindingMissing         = newError(KindConsistency, CodeFindingMissing, "the finding does not exist")
	ErrInvariantViolation     = newError(KindConsistency, CodeInvariantViolation, "ledger invariant violated")
	ErrConcurrentModification = newError(KindConsistency, CodeConcurrentModification, "the ledger changed since it was read")
	ErrDuplicateKey           = newError(KindConsistency, CodeDuplicateKey, "a document with the same unique key already exists")

	ErrStorageUnavailable = newError(KindTransient, CodeStorageUnavailable, "storage is unavailable")
	ErrStorageTimeout     = newError(KindTransient, CodeStorageTimeout, "storage call timed out")
)

// IncompleteDraft lists the missing draft fields in evaluation order
func IncompleteDraft(missing ...string) *Error {
	e := *ErrIncompleteDraft
	e.Fields = missing
	return &e
}

// KindOf returns the kind of err. Errors raised outside the core, such as
// driver or network failures, are reported as transient.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsPrecondition reports whether err is a caller-recoverable rejection
func IsPrecondition(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindPrecondition
}

// IsTransient reports whether err should be retried
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindTransient
	}
	return false
}
