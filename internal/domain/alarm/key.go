package alarm

import (
	"errors"
	"strings"
)

// ErrMalformedKey is returned when an event lacks a required identity field.
var ErrMalformedKey = errors.New("malformed alarm key")

// Key identifies one alarm occurrence lineage.
type Key struct {
	// Device is the managed device the alarm is associated with.
	Device string
	// ManagedObject is the alarming object on the device.
	ManagedObject string
	// Type is the alarm type identity.
	Type string
	// SpecificProblem refines Type and may be empty.
	SpecificProblem string
}

// keySeparator joins the fields in Key.String. Validate rejects fields that
// contain it, so the textual form of a valid key is unique.
const keySeparator = "\x1f"

// String returns a stable textual form of the key.
// It is used as the identity by the file and Redis repositories.
func (k Key) String() string {
	return strings.Join([]string{k.Device, k.ManagedObject, k.Type, k.SpecificProblem}, keySeparator)
}

// Validate checks that the mandatory identity fields are present and that
// no field contains the key separator.
func (k Key) Validate() error {
	fields := []struct {
		name     string
		value    string
		optional bool
	}{
		{name: "device", value: k.Device},
		{name: "managed object", value: k.ManagedObject},
		{name: "alarm type", value: k.Type},
		{name: "specific problem", value: k.SpecificProblem, optional: true},
	}

	for _, f := range fields {
		switch {
		case !f.optional && strings.TrimSpace(f.value) == "":
			return &fieldError{field: f.name, reason: "is required"}
		case strings.Contains(f.value, keySeparator):
			return &fieldError{field: f.name, reason: "contains the unit separator character"}
		}
	}

	return nil
}

// ResolveKey extracts the alarm identity from the event.
func ResolveKey(event *Event) (Key, error) {
	if event == nil {
		return Key{}, ErrMalformedKey
	}

	key := Key{
		Device:          event.Device,
		ManagedObject:   event.ManagedObject,
		Type:            event.Type,
		SpecificProblem: event.SpecificProblem,
	}

	if err := key.Validate(); err != nil {
		return Key{}, err
	}

	return key, nil
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, keySeparator)
	if len(parts) != 4 {
		return Key{}, ErrMalformedKey
	}

	key := Key{
		Device:          parts[0],
		ManagedObject:   parts[1],
		Type:            parts[2],
		SpecificProblem: parts[3],
	}

	if err := key.Validate(); err != nil {
		return Key{}, err
	}

	return key, nil
}

// Filter selects alarms by identity fields and status. Empty fields match anything.
type Filter struct {
	Device          string
	ManagedObject   string
	Type            string
	SpecificProblem string
	// Status restricts the match to active or cleared alarms.
	Status FilterStatus
}

// FilterStatus narrows a Filter by the cleared flag.
type FilterStatus int

const (
	// StatusAny matches both active and cleared alarms.
	StatusAny FilterStatus = iota
	// StatusActive matches only alarms that are not cleared.
	StatusActive
	// StatusCleared matches only cleared alarms.
	StatusCleared
)

// Match reports whether the alarm satisfies the filter.
func (f *Filter) Match(a *Alarm) bool {
	if f == nil {
		return true
	}

	if f.Device != "" && f.Device != a.Key.Device ||
		f.ManagedObject != "" && f.ManagedObject != a.Key.ManagedObject ||
		f.Type != "" && f.Type != a.Key.Type ||
		f.SpecificProblem != "" && f.SpecificProblem != a.Key.SpecificProblem {
		return false
	}

	switch f.Status {
	case StatusActive:
		return !a.IsCleared
	case StatusCleared:
		return a.IsCleared
	default:
		return true
	}
}

// fieldError names the offending identity field and unwraps to ErrMalformedKey.
type fieldError struct {
	field  string
	reason string
}

func (e *fieldError) Error() string {
	return ErrMalformedKey.Error() + ": " + e.field + " " + e.reason
}

func (e *fieldError) Unwrap() error {
	return ErrMalformedKey
}
