package alarm

import (
	"slices"
	"strings"
	"time"
)

// Append pushes a new status change to the end of the alarm history.
// The timestamp is clamped so the history never goes back in time.
func Append(a *Alarm, state ChangeState, severity Severity, text string, now time.Time) StatusChange {
	if n := len(a.StatusChanges); n > 0 {
		if last := a.StatusChanges[n-1].Timestamp; now.Before(last) {
			now = last
		}
	}

	change := StatusChange{
		Timestamp: now,
		Severity:  severity,
		AlarmText: text,
		State:     state,
	}

	a.StatusChanges = append(a.StatusChanges, change)

	return change
}

// Apply mutates the alarm according to the decision and returns the appended entry.
// It must not be called for OutcomeSuppress.
func (a *Alarm) Apply(d Decision, severity Severity, text string, now time.Time) StatusChange {
	if d.State == StateCleared {
		change := Append(a, StateCleared, SeverityCleared, text, now)

		a.IsCleared = true
		a.CurrentSeverity = SeverityCleared
		a.LastAlarmText = text
		a.LastStatusChange = change.Timestamp

		return change
	}

	change := Append(a, d.State, severity, text, now)

	a.IsCleared = false
	a.CurrentSeverity = severity
	a.LastPerceivedSeverity = severity
	a.LastAlarmText = text
	a.LastStatusChange = change.Timestamp

	return change
}

// SetRelations records the object references of a recorded event.
// Impacted and root cause objects are replaced; related alarms are added to
// the ones already known. Blank and repeated entries are dropped.
func (a *Alarm) SetRelations(impacted, rootCause []string, related []Key) {
	a.ImpactedObjects = compactObjects(impacted)
	a.RootCauseObjects = compactObjects(rootCause)

	for _, key := range related {
		if key != a.Key && !slices.Contains(a.RelatedAlarms, key) {
			a.RelatedAlarms = append(a.RelatedAlarms, key)
		}
	}
}

func compactObjects(objects []string) []string {
	var result []string

	for _, object := range objects {
		object = strings.TrimSpace(object)
		if object != "" && !slices.Contains(result, object) {
			result = append(result, object)
		}
	}

	return result
}
