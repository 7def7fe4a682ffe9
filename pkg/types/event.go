// Package types defines the shared data model for the Anvilchain audit
// pipeline: events, batches, alarms, and the enumerations that govern their
// lifecycles.
package types

import (
	"encoding/json"
	"time"
)

// EventType classifies the operational occurrence an event records.
// The enumeration is closed; unrecognized types travel as RawPayload.
type EventType string

const (
	EventTelemetry        EventType = "TELEMETRY"
	EventAlarm            EventType = "ALARM"
	EventCommand          EventType = "COMMAND"
	EventAcknowledgement  EventType = "ACKNOWLEDGEMENT"
	EventMaintenance      EventType = "MAINTENANCE"
	EventBlueprintChange  EventType = "BLUEPRINT_CHANGE"
	EventCodeGeneration   EventType = "CODE_GENERATION"
	EventDeploymentIntent EventType = "DEPLOYMENT_INTENT"
)

// Valid reports whether t is a member of the closed enumeration.
func (t EventType) Valid() bool {
	switch t {
	case EventTelemetry, EventAlarm, EventCommand, EventAcknowledgement,
		EventMaintenance, EventBlueprintChange, EventCodeGeneration,
		EventDeploymentIntent:
		return true
	}
	return false
}

// OriginType identifies the class of signer attributed to an event.
type OriginType string

const (
	OriginGateway OriginType = "GATEWAY"
	OriginUser    OriginType = "USER"
	OriginAgent   OriginType = "AGENT"
	OriginSystem  OriginType = "SYSTEM"
)

// AnchorStatus tracks an event's progress through the anchoring pipeline.
type AnchorStatus string

const (
	AnchorPending  AnchorStatus = "PENDING"
	AnchorBatched  AnchorStatus = "BATCHED"
	AnchorAnchored AnchorStatus = "ANCHORED"
	AnchorFailed   AnchorStatus = "FAILED"
)

// Event is the unit of audit. The payload is immutable after creation; only
// the anchor-related fields mutate, exactly once per transition, and only
// under the batch manager or anchor orchestrator.
//
// Hash covers only the identity-bearing fields (event type, site, asset,
// source timestamp, origin, payload). Signature, Hash, and the anchor fields
// never participate in their own hash.
type Event struct {
	ID        string    `json:"id"`
	EventType EventType `json:"event_type"`
	SiteID    string    `json:"site_id"`
	AssetID   string    `json:"asset_id,omitempty"`

	// SourceTimestamp is when the occurrence happened at the source;
	// ReceiptTimestamp is when the platform observed it. The two are kept
	// distinct and are never conflated.
	SourceTimestamp  time.Time `json:"source_timestamp"`
	ReceiptTimestamp time.Time `json:"receipt_timestamp"`

	OriginType OriginType `json:"origin_type"`
	OriginID   string     `json:"origin_id"`

	Payload Payload `json:"payload"`

	// Derived fields, set by the event builder and never by callers.
	Hash      string `json:"hash"`
	Signature string `json:"signature"`

	// Anchor lifecycle fields, owned by the batch manager.
	AnchorStatus AnchorStatus `json:"anchor_status"`
	BatchID      string       `json:"batch_id,omitempty"`
	MerkleIndex  *int         `json:"merkle_index,omitempty"`
	MerkleProof  []string     `json:"merkle_proof,omitempty"`
	TxRef        string       `json:"tx_ref,omitempty"`
	AnchoredAt   *time.Time   `json:"anchored_at,omitempty"`
}

// Payload is the typed event payload, a tagged union keyed by the owning
// event's type. Exactly one variant is populated; unrecognized shapes use Raw.
type Payload struct {
	Telemetry       *TelemetryPayload       `json:"telemetry,omitempty"`
	Alarm           *AlarmPayload           `json:"alarm,omitempty"`
	Command         *CommandPayload         `json:"command,omitempty"`
	Acknowledgement *AcknowledgementPayload `json:"acknowledgement,omitempty"`
	Maintenance     *MaintenancePayload     `json:"maintenance,omitempty"`
	Raw             json.RawMessage         `json:"raw,omitempty"`
}

// TelemetryPayload carries a single tag reading opted in to anchoring.
type TelemetryPayload struct {
	TagName   string  `json:"tagName"`
	Value     float64 `json:"value"`
	Quality   string  `json:"quality,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// AlarmPayload records an alarm activation or clearance.
type AlarmPayload struct {
	AlarmID  string  `json:"alarmId"`
	Type     string  `json:"type"`
	Severity string  `json:"severity"`
	State    string  `json:"state"`
	TagName  string  `json:"tagName"`
	Value    float64 `json:"value"`
	Setpoint float64 `json:"setpoint"`
	Message  string  `json:"message,omitempty"`
	// DurationSeconds is set only on CLEARED events.
	DurationSeconds *float64 `json:"duration,omitempty"`
}

// CommandPayload records an operator or agent command issued to an asset.
type CommandPayload struct {
	Command   string          `json:"command"`
	Target    string          `json:"target"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// AcknowledgementPayload records an alarm acknowledgement.
type AcknowledgementPayload struct {
	AlarmID        string `json:"alarmId"`
	TagName        string `json:"tagName"`
	AcknowledgedBy string `json:"acknowledgedBy"`
}

// MaintenancePayload records a maintenance action on an asset.
type MaintenancePayload struct {
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
	PerformedBy string `json:"performedBy"`
}

// TagReading is one sample from the gateway/tag layer.
type TagReading struct {
	TagName   string    `json:"tag_name"`
	Value     float64   `json:"value"`
	Quality   string    `json:"quality"`
	Timestamp time.Time `json:"timestamp"`
}
