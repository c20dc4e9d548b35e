// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package vdisk

import "fmt"

// Severity classifies one Note.
type Severity int

const (
	Info Severity = iota
	Warning
	// ErrorSeverity is named with the suffix (unlike Info/Warning) to avoid
	// colliding with the *Error type in errors.go.
	ErrorSeverity
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "Info"
	case Warning:
		return "Warning"
	case ErrorSeverity:
		return "Error"
	default:
		return "Unknown"
	}
}

// Note is one entry in a per-object diagnostic log (spec.md section 3
// "Notes"). Notes are append-only and accumulate for the life of the
// object; they are the user-visible surface for damage findings produced
// by format/open/deep-scan and never cause an operation to fail on their
// own -- an operation that wants to fail returns an *Error instead and
// may also record a Note describing why.
type Note struct {
	Severity Severity
	Message  string
}

func (n Note) String() string {
	return fmt.Sprintf("[%s] %s", n.Severity, n.Message)
}

// Notes is embedded by every object (disk image, filesystem, archive,
// entry) that accumulates diagnostics.
type Notes struct {
	notes []Note
}

// Add appends a note. It is the only way notes ever enter the list;
// ResetNotes is the only way to remove them.
func (n *Notes) Add(sev Severity, format string, args ...any) {
	n.notes = append(n.notes, Note{Severity: sev, Message: fmt.Sprintf(format, args...)})
}

// All returns every note recorded so far, oldest first. The caller must
// not mutate the returned slice.
func (n *Notes) All() []Note {
	return n.notes
}

// CountAtLeast reports how many notes are at or above the given severity.
func (n *Notes) CountAtLeast(sev Severity) int {
	c := 0
	for _, note := range n.notes {
		if note.Severity >= sev {
			c++
		}
	}
	return c
}

// HasErrors reports whether any note carries Error severity.
func (n *Notes) HasErrors() bool {
	return n.CountAtLeast(ErrorSeverity) > 0
}

// ResetNotes discards all notes. No engine in this module calls it, so
// notes from every scan accumulate.
func (n *Notes) ResetNotes() {
	n.notes = nil
}
