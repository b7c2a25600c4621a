package alarm

import (
	"errors"
	"time"
)

// ErrUnknownKind is returned for events of an unsupported kind.
var ErrUnknownKind = errors.New("unknown event kind")

// Kind is the type of an inbound alarm event.
type Kind int

const (
	// KindCreate is a device (re-)announcing a condition.
	KindCreate Kind = iota + 1
	// KindUpdate is an explicit modification of an alarm.
	KindUpdate
	// KindClear terminates an alarm.
	KindClear
)

// String returns the operation name the kind is exposed under.
func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindClear:
		return "clear"
	default:
		return "unknown"
	}
}

// ParseKind converts an operation name into a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "create", "create-alarm":
		return KindCreate, true
	case "update", "update-alarm":
		return KindUpdate, true
	case "clear", "clear-alarm":
		return KindClear, true
	default:
		return 0, false
	}
}

// Event is one raise, update or clear request for an alarm.
type Event struct {
	Kind            Kind
	Device          string
	ManagedObject   string
	Type            string
	SpecificProblem string
	// Severity is ignored for KindClear.
	Severity  Severity
	AlarmText string
	// Cleared is the cleared marker of an update.
	Cleared bool
	// Timestamp is optional; the engine clock is used when zero.
	Timestamp time.Time
	// ImpactedObjects are objects that may no longer function due to the alarm.
	ImpactedObjects []string
	// RootCauseObjects are objects likely to be the root cause of the alarm.
	RootCauseObjects []string
	// RelatedAlarms are alarms raised as a consequence of this one.
	RelatedAlarms []Key
}

// IsClearing reports whether the event terminates the alarm.
func (e *Event) IsClearing() bool {
	return e.Kind == KindClear || e.Kind == KindUpdate && e.Cleared
}
