// Package services implements the post moderation pipeline: content
// preparation, editing, deletion, approval, merging, and notification
// fan-out. This file centralizes the two error channels the package uses:
//
//   - ValidationErrors: expected, field-scoped failures (malformed body,
//     spam-denied). Attached to the operation result and surfaced before
//     any persistence is attempted; never used for programmer error.
//   - Sentinel errors: caller misuse and hard preconditions (merging an
//     empty source list, acting on a missing row). Checked with errors.Is.
package services

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrPostNotFound indicates the referenced post row does not exist.
	ErrPostNotFound = errors.New("post not found")

	// ErrThreadNotFound indicates the post's thread relation is missing;
	// the pipeline requires fully hydrated entities.
	ErrThreadNotFound = errors.New("thread not loaded")

	// ErrNoSourcePosts is returned when a merge is requested with zero
	// source posts. Callers are expected to validate inputs first.
	ErrNoSourcePosts = errors.New("merge requires at least one source post")

	// ErrTargetIsSource is returned when the merge target appears in its
	// own source list.
	ErrTargetIsSource = errors.New("merge target cannot be one of the sources")

	// ErrNotEditable is returned when Save is called on an editor whose
	// post was already persisted by a previous Save in this session.
	ErrNotEditable = errors.New("editor already saved")
)

// ValidationErrors is a field → message map implementing error. A nil or
// empty map means no errors. Callers check HasErrors before persisting.
type ValidationErrors map[string]string

// Add records a field error, keeping the first message per field.
func (v ValidationErrors) Add(field, msg string) {
	if _, ok := v[field]; !ok {
		v[field] = msg
	}
}

// Merge copies all entries from other, keeping existing fields.
func (v ValidationErrors) Merge(other ValidationErrors) {
	for f, m := range other {
		v.Add(f, m)
	}
}

// HasErrors reports whether any field error was recorded.
func (v ValidationErrors) HasErrors() bool { return len(v) > 0 }

// Error renders the map deterministically (sorted by field).
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "no validation errors"
	}
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f)
		b.WriteString(": ")
		b.WriteString(v[f])
	}
	return b.String()
}

// AsValidation extracts ValidationErrors from an error chain, if present.
func AsValidation(err error) (ValidationErrors, bool) {
	var v ValidationErrors
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
