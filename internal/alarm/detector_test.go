package alarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilchain/anvilchain/internal/digest"
	"github.com/anvilchain/anvilchain/internal/event"
	"github.com/anvilchain/anvilchain/pkg/types"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	signer, err := digest.NewHMACSigner("plant-07", digest.DeriveKey("alarm-test"))
	require.NoError(t, err)
	return NewDetector("plant-07", event.NewBuilder(signer), nil)
}

func reading(tag string, value float64) types.TagReading {
	return types.TagReading{
		TagName:   tag,
		Value:     value,
		Quality:   "GOOD",
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
}

func TestHiHiActivatesAndClears(t *testing.T) {
	d := newTestDetector(t)
	d.Register(types.AlarmDefinition{
		TagName:  "boiler.temp",
		Type:     types.AlarmHiHi,
		Setpoint: 90,
	})

	emitted := d.ProcessReading(reading("boiler.temp", 95))
	require.Len(t, emitted, 1)

	ev := emitted[0]
	assert.Equal(t, types.EventAlarm, ev.EventType)
	assert.Equal(t, "boiler.temp", ev.AssetID)
	assert.Equal(t, types.OriginSystem, ev.OriginType)
	require.NotNil(t, ev.Payload.Alarm)
	assert.Equal(t, "ACTIVE", ev.Payload.Alarm.State)
	assert.Equal(t, "CRITICAL", ev.Payload.Alarm.Severity)
	assert.Equal(t, 95.0, ev.Payload.Alarm.Value)
	assert.Equal(t, 90.0, ev.Payload.Alarm.Setpoint)

	active := d.ActiveAlarms()
	require.Len(t, active, 1)
	assert.Equal(t, types.AlarmActive, active[0].State)
	assert.Equal(t, ev.Hash, active[0].EventHash)

	emitted = d.ProcessReading(reading("boiler.temp", 75))
	require.Len(t, emitted, 1)
	clear := emitted[0].Payload.Alarm
	require.NotNil(t, clear)
	assert.Equal(t, "CLEARED", clear.State)
	assert.Equal(t, "boiler.temp", clear.TagName)
	require.NotNil(t, clear.DurationSeconds)
	assert.GreaterOrEqual(t, *clear.DurationSeconds, 0.0)

	assert.Empty(t, d.ActiveAlarms())
}

func TestActivationIsEdgeTriggered(t *testing.T) {
	d := newTestDetector(t)
	d.Register(types.AlarmDefinition{TagName: "boiler.temp", Type: types.AlarmHiHi, Setpoint: 90})

	require.Len(t, d.ProcessReading(reading("boiler.temp", 95)), 1)

	// Staying in the band updates the value without re-emitting.
	assert.Empty(t, d.ProcessReading(reading("boiler.temp", 97)))
	active := d.ActiveAlarms()
	require.Len(t, active, 1)
	assert.Equal(t, 97.0, active[0].Value)
}

func TestLowSideCondition(t *testing.T) {
	d := newTestDetector(t)
	d.Register(types.AlarmDefinition{TagName: "tank.level", Type: types.AlarmLoLo, Setpoint: 10})

	assert.Empty(t, d.ProcessReading(reading("tank.level", 50)))
	emitted := d.ProcessReading(reading("tank.level", 5))
	require.Len(t, emitted, 1)
	assert.Equal(t, "CRITICAL", emitted[0].Payload.Alarm.Severity)

	require.Len(t, d.ProcessReading(reading("tank.level", 30)), 1)
	assert.Empty(t, d.ActiveAlarms())
}

func TestDeadbandWidensEntryAndExit(t *testing.T) {
	d := newTestDetector(t)
	d.Register(types.AlarmDefinition{
		TagName:  "boiler.temp",
		Type:     types.AlarmHigh,
		Setpoint: 80,
		Deadband: 5,
	})

	// Entry fires at setpoint minus deadband.
	assert.Empty(t, d.ProcessReading(reading("boiler.temp", 74)))
	require.Len(t, d.ProcessReading(reading("boiler.temp", 75)), 1)

	// Exit requires leaving the widened band.
	assert.Empty(t, d.ProcessReading(reading("boiler.temp", 76)))
	require.Len(t, d.ProcessReading(reading("boiler.temp", 74.9)), 1)
}

func TestInnerBandDefaultsToWarning(t *testing.T) {
	d := newTestDetector(t)
	d.Register(types.AlarmDefinition{TagName: "boiler.temp", Type: types.AlarmHigh, Setpoint: 80})

	emitted := d.ProcessReading(reading("boiler.temp", 85))
	require.Len(t, emitted, 1)
	assert.Equal(t, "WARNING", emitted[0].Payload.Alarm.Severity)
}

func TestMultipleThresholdsOnOneTag(t *testing.T) {
	d := newTestDetector(t)
	d.Register(types.AlarmDefinition{TagName: "boiler.temp", Type: types.AlarmHigh, Setpoint: 80})
	d.Register(types.AlarmDefinition{TagName: "boiler.temp", Type: types.AlarmHiHi, Setpoint: 90})

	// 85 trips HIGH only; 95 additionally trips HIHI.
	require.Len(t, d.ProcessReading(reading("boiler.temp", 85)), 1)
	require.Len(t, d.ProcessReading(reading("boiler.temp", 95)), 1)
	assert.Len(t, d.ActiveAlarms(), 2)

	// 70 clears both.
	assert.Len(t, d.ProcessReading(reading("boiler.temp", 70)), 2)
	assert.Empty(t, d.ActiveAlarms())
}

func TestAcknowledgeIsNotIdempotent(t *testing.T) {
	d := newTestDetector(t)
	d.Register(types.AlarmDefinition{TagName: "boiler.temp", Type: types.AlarmHiHi, Setpoint: 90})

	var acks []*types.Event
	d.Subscribe(EventSinkFunc(func(ev *types.Event) {
		if ev.EventType == types.EventAcknowledgement {
			acks = append(acks, ev)
		}
	}))

	emitted := d.ProcessReading(reading("boiler.temp", 95))
	require.Len(t, emitted, 1)
	alarmID := emitted[0].Payload.Alarm.AlarmID

	assert.True(t, d.Acknowledge(alarmID, "operator-3"))
	inst := d.GetAlarm(alarmID)
	require.NotNil(t, inst)
	assert.Equal(t, types.AlarmAcknowledged, inst.State)
	assert.Equal(t, "operator-3", inst.AcknowledgedBy)
	require.NotNil(t, inst.AcknowledgedAt)

	// A second acknowledgement, or one for an unknown id, matches nothing.
	assert.False(t, d.Acknowledge(alarmID, "operator-4"))
	assert.False(t, d.Acknowledge("no-such-alarm", "operator-3"))

	require.Len(t, acks, 1)
	ack := acks[0].Payload.Acknowledgement
	require.NotNil(t, ack)
	assert.Equal(t, alarmID, ack.AlarmID)
	assert.Equal(t, "operator-3", ack.AcknowledgedBy)
	assert.Equal(t, types.OriginUser, acks[0].OriginType)
	assert.Equal(t, "operator-3", acks[0].OriginID)
}

func TestClearFromAcknowledged(t *testing.T) {
	d := newTestDetector(t)
	d.Register(types.AlarmDefinition{TagName: "boiler.temp", Type: types.AlarmHiHi, Setpoint: 90})

	emitted := d.ProcessReading(reading("boiler.temp", 95))
	require.Len(t, emitted, 1)
	alarmID := emitted[0].Payload.Alarm.AlarmID
	require.True(t, d.Acknowledge(alarmID, "operator-3"))

	cleared := d.ProcessReading(reading("boiler.temp", 70))
	require.Len(t, cleared, 1)
	assert.Equal(t, "CLEARED", cleared[0].Payload.Alarm.State)
	assert.Nil(t, d.GetAlarm(alarmID))
}

func TestClearedDurationNeverNegative(t *testing.T) {
	d := newTestDetector(t)
	d.Register(types.AlarmDefinition{TagName: "boiler.temp", Type: types.AlarmHiHi, Setpoint: 90})

	// Clock steps backwards between activation and clearing.
	times := []time.Time{
		time.Unix(1700000100, 0).UTC(),
		time.Unix(1700000000, 0).UTC(),
	}
	i := 0
	d.WithClock(func() time.Time {
		t := times[i%len(times)]
		i++
		return t
	})

	require.Len(t, d.ProcessReading(reading("boiler.temp", 95)), 1)
	cleared := d.ProcessReading(reading("boiler.temp", 70))
	require.Len(t, cleared, 1)
	require.NotNil(t, cleared[0].Payload.Alarm.DurationSeconds)
	assert.Equal(t, 0.0, *cleared[0].Payload.Alarm.DurationSeconds)
}

func TestSinksReceiveEventsInOrder(t *testing.T) {
	d := newTestDetector(t)
	d.Register(types.AlarmDefinition{TagName: "boiler.temp", Type: types.AlarmHiHi, Setpoint: 90})

	var order []string
	d.Subscribe(EventSinkFunc(func(ev *types.Event) { order = append(order, "first") }))
	d.Subscribe(EventSinkFunc(func(ev *types.Event) { order = append(order, "second") }))

	d.ProcessReading(reading("boiler.temp", 95))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestRegisterReplacesSameTagAndType(t *testing.T) {
	d := newTestDetector(t)
	d.Register(types.AlarmDefinition{TagName: "boiler.temp", Type: types.AlarmHiHi, Setpoint: 90})
	d.Register(types.AlarmDefinition{TagName: "boiler.temp", Type: types.AlarmHiHi, Setpoint: 100})

	defs := d.Definitions("boiler.temp")
	require.Len(t, defs, 1)
	assert.Equal(t, 100.0, defs[0].Setpoint)

	assert.Empty(t, d.ProcessReading(reading("boiler.temp", 95)))
	require.Len(t, d.ProcessReading(reading("boiler.temp", 101)), 1)
}

func TestReadingsOnOtherTagsAreIgnored(t *testing.T) {
	d := newTestDetector(t)
	d.Register(types.AlarmDefinition{TagName: "boiler.temp", Type: types.AlarmHiHi, Setpoint: 90})

	assert.Empty(t, d.ProcessReading(reading("pump.flow", 500)))
	assert.Empty(t, d.ActiveAlarms())
}
