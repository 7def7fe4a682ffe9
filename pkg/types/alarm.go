package types

import "time"

// AlarmType classifies the threshold relation an alarm definition watches.
type AlarmType string

const (
	AlarmHiHi AlarmType = "HIHI"
	AlarmHigh AlarmType = "HIGH"
	AlarmLow  AlarmType = "LOW"
	AlarmLoLo AlarmType = "LOLO"
)

// HighSide reports whether the alarm fires when the value rises through the
// setpoint (HIHI/HIGH) rather than falls through it (LOW/LOLO).
func (t AlarmType) HighSide() bool {
	return t == AlarmHiHi || t == AlarmHigh
}

// AlarmPriority is the operator-facing severity of an alarm.
type AlarmPriority string

const (
	PriorityCritical AlarmPriority = "CRITICAL"
	PriorityWarning  AlarmPriority = "WARNING"
	PriorityInfo     AlarmPriority = "INFO"
)

// DefaultPriority returns the conventional priority for an alarm type when
// the definition does not set one: the outer bands (HIHI/LOLO) are critical,
// the inner bands are warnings.
func (t AlarmType) DefaultPriority() AlarmPriority {
	if t == AlarmHiHi || t == AlarmLoLo {
		return PriorityCritical
	}
	return PriorityWarning
}

// AlarmState is the runtime state of an active alarm instance.
type AlarmState string

const (
	AlarmActive       AlarmState = "ACTIVE"
	AlarmAcknowledged AlarmState = "ACKNOWLEDGED"
	AlarmCleared      AlarmState = "CLEARED"
)

// AlarmDefinition is the static per-tag configuration for one threshold.
// Deadband widens the entry condition and is applied symmetrically on exit.
type AlarmDefinition struct {
	TagName  string        `json:"tag_name"`
	Type     AlarmType     `json:"type"`
	Priority AlarmPriority `json:"priority,omitempty"`
	Setpoint float64       `json:"setpoint"`
	Deadband float64       `json:"deadband,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// EffectivePriority returns the configured priority, falling back to the
// type's conventional default.
func (d *AlarmDefinition) EffectivePriority() AlarmPriority {
	if d.Priority != "" {
		return d.Priority
	}
	return d.Type.DefaultPriority()
}

// ActiveAlarm is the in-memory runtime instance of a fired definition. It is
// removed from the active set on clearing; the emitted CLEARED event is the
// durable record.
type ActiveAlarm struct {
	ID         string          `json:"id"`
	Definition AlarmDefinition `json:"definition"`
	State      AlarmState      `json:"state"`
	Value      float64         `json:"value"`

	ActivatedAt    time.Time  `json:"activated_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	ClearedAt      *time.Time `json:"cleared_at,omitempty"`

	// EventHash is the hash of the activation event, linking the runtime
	// instance to its audit record.
	EventHash string `json:"event_hash"`
}
