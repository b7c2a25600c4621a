package alarm

import (
	"errors"
	"strings"
)

// Severity is the perceived severity of an alarm.
// Numeric values follow the NCS PerceivedSeverity enumeration.
type Severity int

const (
	// SeverityUnknown is the zero value and means "not set".
	SeverityUnknown Severity = iota
	// SeverityCleared is the sentinel held by CurrentSeverity once an alarm is cleared.
	SeverityCleared
	SeverityIndeterminate
	SeverityMinor
	SeverityWarning
	SeverityMajor
	SeverityCritical
)

var (
	// ErrInvalidSeverity is returned for unknown severity names.
	ErrInvalidSeverity = errors.New("invalid severity")
	// ErrClearedSeverity is returned when "cleared" is used as an event severity.
	ErrClearedSeverity = errors.New("use the cleared marker to clear an alarm")
)

//nolint:gochecknoglobals // Lookup table.
var severityNames = map[Severity]string{
	SeverityUnknown:       "unknown",
	SeverityCleared:       "cleared",
	SeverityIndeterminate: "indeterminate",
	SeverityMinor:         "minor",
	SeverityWarning:       "warning",
	SeverityMajor:         "major",
	SeverityCritical:      "critical",
}

// String returns the lowercase YANG enum name of the severity.
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}

	return "unknown"
}

// ParseSeverity converts a case-insensitive name into a Severity.
func ParseSeverity(s string) (Severity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for severity, name := range severityNames {
		if name == s && severity != SeverityUnknown {
			return severity, nil
		}
	}

	return SeverityUnknown, ErrInvalidSeverity
}

// ValidateEventSeverity checks that the severity can be carried by a raise or update.
func ValidateEventSeverity(s Severity) error {
	switch {
	case s == SeverityCleared:
		return ErrClearedSeverity
	case s < SeverityIndeterminate || s > SeverityCritical:
		return ErrInvalidSeverity
	}

	return nil
}
