package alarm

// Outcome is the classification of an event against the stored alarm.
type Outcome int

const (
	// OutcomeCreateNew starts or reopens a lineage.
	OutcomeCreateNew Outcome = iota + 1
	// OutcomeSuppress drops a redundant raise.
	OutcomeSuppress
	// OutcomeAppendRaise records a raise that changed severity or text of an active alarm.
	OutcomeAppendRaise
	// OutcomeAppendUpdate records an explicit update.
	OutcomeAppendUpdate
	// OutcomeAppendClear records a clear.
	OutcomeAppendClear
)

// String returns a label suitable for logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeCreateNew:
		return "create"
	case OutcomeSuppress:
		return "suppress"
	case OutcomeAppendRaise:
		return "raise"
	case OutcomeAppendUpdate:
		return "update"
	case OutcomeAppendClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Decision is the outcome plus the state of the history entry to append.
// State is zero for OutcomeSuppress.
type Decision struct {
	Outcome Outcome
	State   ChangeState
}

// Mutates reports whether the decision changes the alarm.
func (d Decision) Mutates() bool {
	return d.Outcome != OutcomeSuppress
}

// Classify decides what the event means for the current alarm, which may be nil.
// text must already be truncated with TruncateText.
func Classify(event *Event, current *Alarm, text string) Decision {
	clearing := event.IsClearing()

	if current == nil {
		// Update or clear before any raise still records the administrative action.
		if clearing {
			return Decision{Outcome: OutcomeCreateNew, State: StateCleared}
		}

		return Decision{Outcome: OutcomeCreateNew, State: StateRaised}
	}

	if clearing {
		return Decision{Outcome: OutcomeAppendClear, State: StateCleared}
	}

	if event.Kind == KindUpdate {
		return Decision{Outcome: OutcomeAppendUpdate, State: StateUpdated}
	}

	if current.IsCleared {
		return Decision{Outcome: OutcomeCreateNew, State: StateRaised}
	}

	if current.CurrentSeverity == event.Severity && current.LastAlarmText == text {
		return Decision{Outcome: OutcomeSuppress}
	}

	return Decision{Outcome: OutcomeAppendRaise, State: StateRaised}
}
