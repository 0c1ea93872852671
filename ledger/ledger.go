// Package ledger implements the append-only history kept for every lifecycle attribute.
package ledger

import (
	"encoding/json"
	"time"
)

// MaskedJustification replaces the justification of every entry after masking
const MaskedJustification = "Masked"

// Entry is one immutable record of a ledger
type Entry[T any] struct {
	Timestamp     time.Time `json:"timestamp"`
	Actor         string    `json:"actor"`
	Value         T         `json:"value"`
	Justification string    `json:"justification,omitempty"`
}

// Ledger is an ordered sequence of entries. The last appended entry is the
// current value regardless of timestamps, since callers may backdate entries.
//
// A Ledger is not safe for concurrent writers; persistence enforces one
// writer per ledger through expected-length conditional appends.
type Ledger[T any] struct {
	entries []Entry[T]
}

// New creates a ledger seeded with its creation entry
func New[T any](seed Entry[T]) *Ledger[T] {
	return &Ledger[T]{entries: []Entry[T]{seed}}
}

// FromEntries rebuilds a ledger loaded from storage
func FromEntries[T any](entries []Entry[T]) *Ledger[T] {
	l := &Ledger[T]{entries: make([]Entry[T], len(entries))}
	copy(l.entries, entries)
	return l
}

// Append adds an entry at the end of the ledger and returns it
func (l *Ledger[T]) Append(e Entry[T]) Entry[T] {
	l.entries = append(l.entries, e)
	return e
}

// Current returns the value of the last appended entry
func (l *Ledger[T]) Current() (T, bool) {
	e, ok := l.Last()
	return e.Value, ok
}

// Last returns the last appended entry
func (l *Ledger[T]) Last() (Entry[T], bool) {
	if l == nil || len(l.entries) == 0 {
		var zero Entry[T]
		return zero, false
	}
	return l.entries[len(l.entries)-1], true
}

// At returns the entry at index i in append order
func (l *Ledger[T]) At(i int) (Entry[T], bool) {
	if l == nil || i < 0 || i >= len(l.entries) {
		var zero Entry[T]
		return zero, false
	}
	return l.entries[i], true
}

// All returns a copy of the entries in append order
func (l *Ledger[T]) All() []Entry[T] {
	if l == nil {
		return nil
	}
	out := make([]Entry[T], len(l.entries))
	copy(out, l.entries)
	return out
}

// Len is the number of entries
func (l *Ledger[T]) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

// Mask redacts every entry in place. Count, order and timestamps are kept so
// the audit trail still shows when transitions happened.
func (l *Ledger[T]) Mask(redact func(T) T) {
	if l == nil {
		return
	}
	for i := range l.entries {
		l.entries[i].Value = redact(l.entries[i].Value)
		if l.entries[i].Justification != "" {
			l.entries[i].Justification = MaskedJustification
		}
	}
}

// MarshalJSON encodes the ledger as a plain array of entries
func (l *Ledger[T]) MarshalJSON() ([]byte, error) {
	if l == nil || l.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.entries)
}

// UnmarshalJSON decodes an array of entries
func (l *Ledger[T]) UnmarshalJSON(data []byte) error {
	var entries []Entry[T]
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	l.entries = entries
	return nil
}
