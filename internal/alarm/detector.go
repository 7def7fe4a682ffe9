// Package alarm implements the per-tag threshold state machine. Each
// definition moves NONE -> ACTIVE -> ACKNOWLEDGED or CLEARED; the durable
// record of every transition is a signed event handed to the sink, and the
// in-memory ActiveAlarm disappears on clearing.
package alarm

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anvilchain/anvilchain/internal/event"
	"github.com/anvilchain/anvilchain/pkg/types"
)

// EventSink receives every emitted event synchronously, in emission order.
// Implementations must not call back into the detector.
type EventSink interface {
	OnEvent(ev *types.Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ev *types.Event)

// OnEvent calls f.
func (f EventSinkFunc) OnEvent(ev *types.Event) { f(ev) }

// defKey identifies one definition within a tag: a tag may carry several
// thresholds (HIHI and HIGH on the same tag are independent machines).
type defKey struct {
	tag string
	typ types.AlarmType
}

// Detector evaluates tag readings against registered alarm definitions and
// emits signed ALARM and ACKNOWLEDGEMENT events.
type Detector struct {
	mu      sync.Mutex
	siteID  string
	builder *event.Builder
	defs    map[defKey]*types.AlarmDefinition
	active  map[defKey]*types.ActiveAlarm
	byID    map[string]defKey
	sinks   []EventSink
	now     func() time.Time
	logger  *zap.Logger
}

// NewDetector creates a detector that signs its events via builder and
// attributes them to siteID.
func NewDetector(siteID string, builder *event.Builder, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		siteID:  siteID,
		builder: builder,
		defs:    make(map[defKey]*types.AlarmDefinition),
		active:  make(map[defKey]*types.ActiveAlarm),
		byID:    make(map[string]defKey),
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock overrides the detector's clock for tests.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Subscribe registers a sink. Sinks are invoked synchronously in
// registration order for every emitted event.
func (d *Detector) Subscribe(sink EventSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sink)
}

// Register installs a definition. A second definition with the same tag and
// type replaces the first; an active alarm from the old definition keeps
// running until cleared under the new thresholds.
func (d *Detector) Register(def types.AlarmDefinition) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defs[defKey{tag: def.TagName, typ: def.Type}] = &def
}

// Definitions returns the registered definitions for one tag.
func (d *Detector) Definitions(tagName string) []types.AlarmDefinition {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []types.AlarmDefinition
	for k, def := range d.defs {
		if k.tag == tagName {
			out = append(out, *def)
		}
	}
	return out
}

// ProcessReading evaluates one reading against every definition on its tag.
// Transitions emit events inside the call, so the reading that crosses a
// threshold has produced its signed record by the time ProcessReading
// returns. Returns the events emitted for this reading.
func (d *Detector) ProcessReading(r types.TagReading) []*types.Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	var emitted []*types.Event
	for key, def := range d.defs {
		if key.tag != r.TagName {
			continue
		}

		firing := conditionMet(def, r.Value)
		inst, isActive := d.active[key]

		switch {
		case firing && !isActive:
			ev, alarm, err := d.activateLocked(def, r)
			if err != nil {
				d.logger.Error("failed to emit activation event",
					zap.String("tag", def.TagName),
					zap.Error(err))
				continue
			}
			d.active[key] = alarm
			d.byID[alarm.ID] = key
			emitted = append(emitted, ev)

		case !firing && isActive:
			ev, err := d.clearLocked(inst, r)
			if err != nil {
				d.logger.Error("failed to emit clear event",
					zap.String("tag", def.TagName),
					zap.Error(err))
				continue
			}
			delete(d.active, key)
			delete(d.byID, inst.ID)
			emitted = append(emitted, ev)

		case firing && isActive:
			inst.Value = r.Value
		}
	}
	return emitted
}

// conditionMet applies the entry guard. The deadband widens the band on both
// entry and exit, so the same comparison serves both directions.
func conditionMet(def *types.AlarmDefinition, value float64) bool {
	if def.Type.HighSide() {
		return value >= def.Setpoint-def.Deadband
	}
	return value <= def.Setpoint+def.Deadband
}

// activateLocked builds the ACTIVE event and runtime record.
func (d *Detector) activateLocked(def *types.AlarmDefinition, r types.TagReading) (*types.Event, *types.ActiveAlarm, error) {
	now := d.now()
	alarmID := uuid.New().String()
	priority := def.EffectivePriority()

	ev, err := d.builder.Build(event.Params{
		EventType:       types.EventAlarm,
		SiteID:          d.siteID,
		AssetID:         def.TagName,
		SourceTimestamp: r.Timestamp,
		OriginType:      types.OriginSystem,
		OriginID:        "alarm-detector",
		Payload: types.Payload{Alarm: &types.AlarmPayload{
			AlarmID:  alarmID,
			Type:     string(def.Type),
			Severity: string(priority),
			State:    string(types.AlarmActive),
			TagName:  def.TagName,
			Value:    r.Value,
			Setpoint: def.Setpoint,
			Message:  def.Message,
		}},
	})
	if err != nil {
		return nil, nil, err
	}

	alarm := &types.ActiveAlarm{
		ID:          alarmID,
		Definition:  *def,
		State:       types.AlarmActive,
		Value:       r.Value,
		ActivatedAt: now,
		EventHash:   ev.Hash,
	}

	d.logger.Info("alarm activated",
		zap.String("alarm_id", alarmID),
		zap.String("tag", def.TagName),
		zap.String("type", string(def.Type)),
		zap.Float64("value", r.Value),
		zap.Float64("setpoint", def.Setpoint))

	d.emitLocked(ev)
	return ev, alarm, nil
}

// clearLocked builds the CLEARED event. The duration is clamped to zero in
// case the clock stepped backwards between activation and clearing.
func (d *Detector) clearLocked(inst *types.ActiveAlarm, r types.TagReading) (*types.Event, error) {
	now := d.now()
	duration := now.Sub(inst.ActivatedAt).Seconds()
	if duration < 0 {
		duration = 0
	}

	def := inst.Definition
	ev, err := d.builder.Build(event.Params{
		EventType:       types.EventAlarm,
		SiteID:          d.siteID,
		AssetID:         def.TagName,
		SourceTimestamp: r.Timestamp,
		OriginType:      types.OriginSystem,
		OriginID:        "alarm-detector",
		Payload: types.Payload{Alarm: &types.AlarmPayload{
			AlarmID:         inst.ID,
			Type:            string(def.Type),
			Severity:        string(def.EffectivePriority()),
			State:           string(types.AlarmCleared),
			TagName:         def.TagName,
			Value:           r.Value,
			Setpoint:        def.Setpoint,
			Message:         def.Message,
			DurationSeconds: &duration,
		}},
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("alarm cleared",
		zap.String("alarm_id", inst.ID),
		zap.String("tag", def.TagName),
		zap.Float64("duration_seconds", duration))

	d.emitLocked(ev)
	return ev, nil
}

// Acknowledge transitions an alarm ACTIVE -> ACKNOWLEDGED and emits a signed
// ACKNOWLEDGEMENT event attributed to user. It matches only alarms currently
// ACTIVE: an unknown id, a cleared alarm, or a second acknowledgement all
// return false.
func (d *Detector) Acknowledge(alarmID, user string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key, ok := d.byID[alarmID]
	if !ok {
		return false
	}
	inst := d.active[key]
	if inst == nil || inst.State != types.AlarmActive {
		return false
	}

	now := d.now()
	inst.State = types.AlarmAcknowledged
	inst.AcknowledgedAt = &now
	inst.AcknowledgedBy = user

	ev, err := d.builder.Build(event.Params{
		EventType:  types.EventAcknowledgement,
		SiteID:     d.siteID,
		AssetID:    inst.Definition.TagName,
		OriginType: types.OriginUser,
		OriginID:   user,
		Payload: types.Payload{Acknowledgement: &types.AcknowledgementPayload{
			AlarmID:        alarmID,
			TagName:        inst.Definition.TagName,
			AcknowledgedBy: user,
		}},
	})
	if err != nil {
		d.logger.Error("failed to emit acknowledgement event",
			zap.String("alarm_id", alarmID),
			zap.Error(err))
		return true
	}

	d.logger.Info("alarm acknowledged",
		zap.String("alarm_id", alarmID),
		zap.String("user", user))

	d.emitLocked(ev)
	return true
}

// ActiveAlarms returns a snapshot of the current active set.
func (d *Detector) ActiveAlarms() []*types.ActiveAlarm {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*types.ActiveAlarm, 0, len(d.active))
	for _, inst := range d.active {
		copied := *inst
		out = append(out, &copied)
	}
	return out
}

// GetAlarm returns a copy of one active alarm, or nil if it is not active.
func (d *Detector) GetAlarm(alarmID string) *types.ActiveAlarm {
	d.mu.Lock()
	defer d.mu.Unlock()

	key, ok := d.byID[alarmID]
	if !ok {
		return nil
	}
	inst := d.active[key]
	if inst == nil {
		return nil
	}
	copied := *inst
	return &copied
}

// emitLocked delivers one event to every sink, synchronously, in
// registration order.
func (d *Detector) emitLocked(ev *types.Event) {
	for _, s := range d.sinks {
		s.OnEvent(ev)
	}
}

// String describes the detector for diagnostics.
func (d *Detector) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("alarm.Detector{definitions: %d, active: %d}", len(d.defs), len(d.active))
}
