package alarm

import (
	"slices"
	"time"
	"unicode/utf8"
)

// ChangeState is the kind of a history entry.
type ChangeState int

const (
	// StateRaised records a raise of the alarm.
	StateRaised ChangeState = iota + 1
	// StateUpdated records an explicit update.
	StateUpdated
	// StateCleared records a clear.
	StateCleared
)

// String returns the lowercase name of the state.
func (s ChangeState) String() string {
	switch s {
	case StateRaised:
		return "raised"
	case StateUpdated:
		return "updated"
	case StateCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// ParseChangeState is the inverse of ChangeState.String.
func ParseChangeState(s string) (ChangeState, bool) {
	switch s {
	case "raised":
		return StateRaised, true
	case "updated":
		return StateUpdated, true
	case "cleared":
		return StateCleared, true
	default:
		return 0, false
	}
}

// StatusChange is one immutable entry of an alarm history.
type StatusChange struct {
	Timestamp time.Time
	Severity  Severity
	AlarmText string
	State     ChangeState
}

// Alarm is the current record of one alarm lineage.
type Alarm struct {
	// Key is the identity of the alarm.
	Key Key
	// CurrentSeverity is SeverityCleared while the alarm is cleared.
	CurrentSeverity Severity
	// LastAlarmText is the text of the most recent status change.
	LastAlarmText string
	// LastPerceivedSeverity is the severity of the most recent non-cleared change.
	LastPerceivedSeverity Severity
	// IsCleared is set by clears and reset by raises and updates.
	IsCleared bool
	// LastStatusChange is the timestamp of the most recent status change.
	LastStatusChange time.Time
	// StatusChanges is the append-only history, oldest first.
	StatusChanges []StatusChange
	// ImpactedObjects and RootCauseObjects hold the lists of the last recorded event.
	ImpactedObjects  []string
	RootCauseObjects []string
	// RelatedAlarms accumulates the related alarms of every recorded event.
	RelatedAlarms []Key
}

// New returns an alarm with an empty history.
func New(key Key) *Alarm {
	return &Alarm{Key: key}
}

// Clone returns a copy of the alarm that shares no mutable state with the original.
func (a *Alarm) Clone() *Alarm {
	if a == nil {
		return nil
	}

	cloned := *a
	cloned.StatusChanges = slices.Clone(a.StatusChanges)
	cloned.ImpactedObjects = slices.Clone(a.ImpactedObjects)
	cloned.RootCauseObjects = slices.Clone(a.RootCauseObjects)
	cloned.RelatedAlarms = slices.Clone(a.RelatedAlarms)

	return &cloned
}

// Summary is the observable projection of an alarm returned to callers.
type Summary struct {
	Key                   Key
	CurrentSeverity       Severity
	LastAlarmText         string
	LastPerceivedSeverity Severity
	IsCleared             bool
	LastStatusChange      time.Time
	StatusChangeCount     int
}

// Summary returns the observable fields of the alarm.
func (a *Alarm) Summary() Summary {
	return Summary{
		Key:                   a.Key,
		CurrentSeverity:       a.CurrentSeverity,
		LastAlarmText:         a.LastAlarmText,
		LastPerceivedSeverity: a.LastPerceivedSeverity,
		IsCleared:             a.IsCleared,
		LastStatusChange:      a.LastStatusChange,
		StatusChangeCount:     len(a.StatusChanges),
	}
}

const (
	// MaxAlarmTextLength is the longest alarm text stored.
	MaxAlarmTextLength = 1024

	truncatedSuffix = " .. [truncated]"
)

// TruncateText shortens text longer than MaxAlarmTextLength characters.
func TruncateText(text string) string {
	if utf8.RuneCountInString(text) <= MaxAlarmTextLength {
		return text
	}

	runes := []rune(text)

	return string(runes[:MaxAlarmTextLength-len(truncatedSuffix)]) + truncatedSuffix
}
