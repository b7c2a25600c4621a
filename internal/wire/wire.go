package wire

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
)

// Field names of the Struct messages.
const (
	FieldKind                  = "kind"
	FieldDevice                = "device"
	FieldManagedObject         = "managed_object"
	FieldType                  = "type"
	FieldSpecificProblem       = "specific_problem"
	FieldSeverity              = "severity"
	FieldAlarmText             = "alarm_text"
	FieldCleared               = "cleared"
	FieldTimestamp             = "timestamp"
	FieldOutcome               = "outcome"
	FieldCurrentSeverity       = "current_severity"
	FieldLastAlarmText         = "last_alarm_text"
	FieldLastPerceivedSeverity = "last_perceived_severity"
	FieldIsCleared             = "is_cleared"
	FieldLastStatusChange      = "last_status_change"
	FieldStatusChangeCount     = "status_change_count"
	FieldStatusChanges         = "status_changes"
	FieldState                 = "state"
	FieldStatus                = "status"
	FieldNumberOfAlarms        = "number_of_alarms"
	FieldAlarms                = "alarms"
	FieldPurged                = "purged"
	FieldIncludeHistory        = "include_history"
	FieldImpactedObjects       = "impacted_objects"
	FieldRootCauseObjects      = "root_cause_objects"
	FieldRelatedAlarms         = "related_alarms"
)

// Filter status names.
const (
	StatusAny     = "any"
	StatusActive  = "active"
	StatusCleared = "cleared"
)

var (
	// ErrNilMessage is returned when a nil message is decoded.
	ErrNilMessage = errors.New("message is required")
	// ErrUnknownStatus is returned for an unsupported filter status.
	ErrUnknownStatus = errors.New("unknown alarm status")
)

//nolint:gochecknoglobals // Shared marshal options.
var marshalOptions = protojson.MarshalOptions{EmitUnpopulated: true}

// EventToStruct encodes an event. The kind is included so the message can be
// routed without the RPC method name (e.g. on a Kafka topic).
func EventToStruct(event *domain.Event) *structpb.Struct {
	fields := map[string]*structpb.Value{
		FieldKind:            structpb.NewStringValue(event.Kind.String()),
		FieldDevice:          structpb.NewStringValue(event.Device),
		FieldManagedObject:   structpb.NewStringValue(event.ManagedObject),
		FieldType:            structpb.NewStringValue(event.Type),
		FieldSpecificProblem: structpb.NewStringValue(event.SpecificProblem),
		FieldAlarmText:       structpb.NewStringValue(event.AlarmText),
	}

	if event.Kind != domain.KindClear {
		fields[FieldSeverity] = structpb.NewStringValue(event.Severity.String())
	}

	if event.Cleared {
		fields[FieldCleared] = structpb.NewBoolValue(true)
	}

	if !event.Timestamp.IsZero() {
		fields[FieldTimestamp] = structpb.NewStringValue(formatTime(event.Timestamp))
	}

	msg := &structpb.Struct{Fields: fields}
	setRelations(msg, event.ImpactedObjects, event.RootCauseObjects, event.RelatedAlarms)

	return msg
}

// EventFromStruct decodes an event. The kind argument wins over the kind
// field of the message; pass zero to use the message field.
func EventFromStruct(kind domain.Kind, msg *structpb.Struct) (*domain.Event, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}

	if kind == 0 {
		var ok bool
		if kind, ok = domain.ParseKind(stringField(msg, FieldKind)); !ok {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownKind, stringField(msg, FieldKind))
		}
	}

	event := &domain.Event{
		Kind:            kind,
		Device:          stringField(msg, FieldDevice),
		ManagedObject:   stringField(msg, FieldManagedObject),
		Type:            stringField(msg, FieldType),
		SpecificProblem: stringField(msg, FieldSpecificProblem),
		AlarmText:       stringField(msg, FieldAlarmText),
		Cleared:         kind == domain.KindUpdate && boolField(msg, FieldCleared),
		ImpactedObjects:  stringsField(msg, FieldImpactedObjects),
		RootCauseObjects: stringsField(msg, FieldRootCauseObjects),
		RelatedAlarms:    keysField(msg, FieldRelatedAlarms),
	}

	if kind != domain.KindClear {
		severity, err := domain.ParseSeverity(stringField(msg, FieldSeverity))
		if err != nil {
			return nil, fmt.Errorf("severity %q: %w", stringField(msg, FieldSeverity), err)
		}

		event.Severity = severity
	}

	timestamp, err := timeField(msg, FieldTimestamp)
	if err != nil {
		return nil, err
	}

	event.Timestamp = timestamp

	return event, nil
}

// SummaryToStruct encodes the result of one handled event.
func SummaryToStruct(outcome domain.Outcome, summary *domain.Summary) *structpb.Struct {
	msg := keyToStruct(summary.Key)
	msg.Fields[FieldOutcome] = structpb.NewStringValue(outcome.String())
	msg.Fields[FieldCurrentSeverity] = structpb.NewStringValue(summary.CurrentSeverity.String())
	msg.Fields[FieldLastAlarmText] = structpb.NewStringValue(summary.LastAlarmText)
	msg.Fields[FieldLastPerceivedSeverity] = structpb.NewStringValue(summary.LastPerceivedSeverity.String())
	msg.Fields[FieldIsCleared] = structpb.NewBoolValue(summary.IsCleared)
	msg.Fields[FieldLastStatusChange] = structpb.NewStringValue(formatTime(summary.LastStatusChange))
	msg.Fields[FieldStatusChangeCount] = structpb.NewNumberValue(float64(summary.StatusChangeCount))

	return msg
}

// AlarmToStruct encodes an alarm. History is included when withHistory is set.
func AlarmToStruct(a *domain.Alarm, withHistory bool) *structpb.Struct {
	summary := a.Summary()
	msg := SummaryToStruct(0, &summary)
	delete(msg.Fields, FieldOutcome)
	setRelations(msg, a.ImpactedObjects, a.RootCauseObjects, a.RelatedAlarms)

	if !withHistory {
		return msg
	}

	changes := make([]*structpb.Value, 0, len(a.StatusChanges))
	for _, change := range a.StatusChanges {
		changes = append(changes, structpb.NewStructValue(&structpb.Struct{
			Fields: map[string]*structpb.Value{
				FieldTimestamp: structpb.NewStringValue(formatTime(change.Timestamp)),
				FieldSeverity:  structpb.NewStringValue(change.Severity.String()),
				FieldAlarmText: structpb.NewStringValue(change.AlarmText),
				FieldState:     structpb.NewStringValue(change.State.String()),
			},
		}))
	}

	msg.Fields[FieldStatusChanges] = structpb.NewListValue(&structpb.ListValue{Values: changes})

	return msg
}

// AlarmFromStruct decodes an alarm with its history.
func AlarmFromStruct(msg *structpb.Struct) (*domain.Alarm, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}

	key := KeyFromStruct(msg)
	if err := key.Validate(); err != nil {
		return nil, err
	}

	a := domain.New(key)
	a.LastAlarmText = stringField(msg, FieldLastAlarmText)
	a.IsCleared = boolField(msg, FieldIsCleared)
	a.CurrentSeverity = severityField(msg, FieldCurrentSeverity)
	a.LastPerceivedSeverity = severityField(msg, FieldLastPerceivedSeverity)
	a.ImpactedObjects = stringsField(msg, FieldImpactedObjects)
	a.RootCauseObjects = stringsField(msg, FieldRootCauseObjects)
	a.RelatedAlarms = keysField(msg, FieldRelatedAlarms)

	lastChange, err := timeField(msg, FieldLastStatusChange)
	if err != nil {
		return nil, err
	}

	a.LastStatusChange = lastChange

	for _, value := range msg.GetFields()[FieldStatusChanges].GetListValue().GetValues() {
		entry := value.GetStructValue()

		state, ok := domain.ParseChangeState(stringField(entry, FieldState))
		if !ok {
			return nil, fmt.Errorf("alarm %s: unknown status change state %q", key, stringField(entry, FieldState))
		}

		timestamp, err := timeField(entry, FieldTimestamp)
		if err != nil {
			return nil, err
		}

		a.StatusChanges = append(a.StatusChanges, domain.StatusChange{
			Timestamp: timestamp,
			Severity:  severityField(entry, FieldSeverity),
			AlarmText: stringField(entry, FieldAlarmText),
			State:     state,
		})
	}

	return a, nil
}

// InventoryToStruct encodes a show-alarms response.
func InventoryToStruct(numberOfAlarms int, alarms []*domain.Alarm, withHistory bool) *structpb.Struct {
	values := make([]*structpb.Value, 0, len(alarms))
	for _, a := range alarms {
		values = append(values, structpb.NewStructValue(AlarmToStruct(a, withHistory)))
	}

	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			FieldNumberOfAlarms: structpb.NewNumberValue(float64(numberOfAlarms)),
			FieldAlarms:         structpb.NewListValue(&structpb.ListValue{Values: values}),
		},
	}
}

// InventoryFromStruct decodes a show-alarms response or a persisted snapshot.
func InventoryFromStruct(msg *structpb.Struct) (int, []*domain.Alarm, error) {
	if msg == nil {
		return 0, nil, ErrNilMessage
	}

	values := msg.GetFields()[FieldAlarms].GetListValue().GetValues()
	alarms := make([]*domain.Alarm, 0, len(values))

	for _, value := range values {
		a, err := AlarmFromStruct(value.GetStructValue())
		if err != nil {
			return 0, nil, err
		}

		alarms = append(alarms, a)
	}

	return int(msg.GetFields()[FieldNumberOfAlarms].GetNumberValue()), alarms, nil
}

// FilterToStruct encodes a purge or show filter. A nil filter matches everything.
func FilterToStruct(filter *domain.Filter, includeHistory bool) *structpb.Struct {
	if filter == nil {
		filter = new(domain.Filter)
	}

	msg := keyToStruct(domain.Key{
		Device:          filter.Device,
		ManagedObject:   filter.ManagedObject,
		Type:            filter.Type,
		SpecificProblem: filter.SpecificProblem,
	})

	status := StatusAny

	switch filter.Status {
	case domain.StatusActive:
		status = StatusActive
	case domain.StatusCleared:
		status = StatusCleared
	case domain.StatusAny:
	}

	msg.Fields[FieldStatus] = structpb.NewStringValue(status)

	if includeHistory {
		msg.Fields[FieldIncludeHistory] = structpb.NewBoolValue(true)
	}

	return msg
}

// FilterFromStruct decodes a filter. A nil message matches everything.
func FilterFromStruct(msg *structpb.Struct) (*domain.Filter, bool, error) {
	filter := new(domain.Filter)
	if msg == nil {
		return filter, false, nil
	}

	key := KeyFromStruct(msg)
	filter.Device = key.Device
	filter.ManagedObject = key.ManagedObject
	filter.Type = key.Type
	filter.SpecificProblem = key.SpecificProblem

	status, err := ParseStatus(stringField(msg, FieldStatus))
	if err != nil {
		return nil, false, err
	}

	filter.Status = status

	return filter, boolField(msg, FieldIncludeHistory), nil
}

// ParseStatus converts a filter status name. An empty name means any.
func ParseStatus(s string) (domain.FilterStatus, error) {
	switch s {
	case "", StatusAny:
		return domain.StatusAny, nil
	case StatusActive:
		return domain.StatusActive, nil
	case StatusCleared:
		return domain.StatusCleared, nil
	default:
		return domain.StatusAny, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// KeyFromStruct reads the identity fields of a message without validating them.
func KeyFromStruct(msg *structpb.Struct) domain.Key {
	return domain.Key{
		Device:          stringField(msg, FieldDevice),
		ManagedObject:   stringField(msg, FieldManagedObject),
		Type:            stringField(msg, FieldType),
		SpecificProblem: stringField(msg, FieldSpecificProblem),
	}
}

// Marshal renders a message as JSON.
func Marshal(msg *structpb.Struct) ([]byte, error) {
	data, err := marshalOptions.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	return data, nil
}

// Unmarshal parses a JSON message.
func Unmarshal(data []byte) (*structpb.Struct, error) {
	msg := new(structpb.Struct)
	if err := protojson.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	return msg, nil
}

// MarshalAlarm renders an alarm with its history as JSON.
func MarshalAlarm(a *domain.Alarm) ([]byte, error) {
	return Marshal(AlarmToStruct(a, true))
}

// UnmarshalAlarm parses an alarm produced by MarshalAlarm.
func UnmarshalAlarm(data []byte) (*domain.Alarm, error) {
	msg, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}

	return AlarmFromStruct(msg)
}

func keyToStruct(key domain.Key) *structpb.Struct {
	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			FieldDevice:          structpb.NewStringValue(key.Device),
			FieldManagedObject:   structpb.NewStringValue(key.ManagedObject),
			FieldType:            structpb.NewStringValue(key.Type),
			FieldSpecificProblem: structpb.NewStringValue(key.SpecificProblem),
		},
	}
}

// setRelations adds the non-empty object reference lists to msg.
func setRelations(msg *structpb.Struct, impacted, rootCause []string, related []domain.Key) {
	if len(impacted) > 0 {
		msg.Fields[FieldImpactedObjects] = stringsValue(impacted)
	}

	if len(rootCause) > 0 {
		msg.Fields[FieldRootCauseObjects] = stringsValue(rootCause)
	}

	if len(related) > 0 {
		values := make([]*structpb.Value, 0, len(related))
		for _, key := range related {
			values = append(values, structpb.NewStructValue(keyToStruct(key)))
		}

		msg.Fields[FieldRelatedAlarms] = structpb.NewListValue(&structpb.ListValue{Values: values})
	}
}

func stringsValue(items []string) *structpb.Value {
	values := make([]*structpb.Value, 0, len(items))
	for _, item := range items {
		values = append(values, structpb.NewStringValue(item))
	}

	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

// stringsField returns the string items of a list field; other items are skipped.
func stringsField(msg *structpb.Struct, name string) []string {
	var result []string

	for _, value := range msg.GetFields()[name].GetListValue().GetValues() {
		if item := value.GetStringValue(); item != "" {
			result = append(result, item)
		}
	}

	return result
}

// keysField returns the keys of a list of key messages without validating them.
func keysField(msg *structpb.Struct, name string) []domain.Key {
	var result []domain.Key

	for _, value := range msg.GetFields()[name].GetListValue().GetValues() {
		result = append(result, KeyFromStruct(value.GetStructValue()))
	}

	return result
}

func stringField(msg *structpb.Struct, name string) string {
	return msg.GetFields()[name].GetStringValue()
}

func boolField(msg *structpb.Struct, name string) bool {
	return msg.GetFields()[name].GetBoolValue()
}

// severityField tolerates unknown names; persisted data may predate a rename.
func severityField(msg *structpb.Struct, name string) domain.Severity {
	severity, err := domain.ParseSeverity(stringField(msg, name))
	if err != nil {
		return domain.SeverityUnknown
	}

	return severity
}

func timeField(msg *structpb.Struct, name string) (time.Time, error) {
	raw := stringField(msg, name)
	if raw == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s %q: %w", name, raw, err)
	}

	return t, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339Nano)
}
