package listener

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	entityIDs    []string
	handler      func(e StateEvent)
	unsubscribed int
}

func (s *fakeSource) SubscribeStates(entityIDs []string, h func(e StateEvent)) (func(), error) {
	s.entityIDs = entityIDs
	s.handler = h
	return func() { s.unsubscribed++ }, nil
}

func (s *fakeSource) emit(entityID, state string) {
	s.handler(StateEvent{EntityID: entityID, State: state})
}

type eventCounter struct {
	on  int
	off int
}

func attach(t *testing.T, l *Listener) (*fakeSource, *eventCounter) {
	t.Helper()
	source := &fakeSource{}
	counter := &eventCounter{}
	require.NoError(t, l.Attach(source, func() { counter.on++ }, func() { counter.off++ }))
	return source, counter
}

func TestTriggerListenerDispatch(t *testing.T) {
	l, err := NewTriggerListener(
		[]string{"binary_sensor.close_button"},
		[]string{"binary_sensor.open_button", "input_boolean.force_open"},
	)
	require.NoError(t, err)

	source, counter := attach(t, l)
	assert.ElementsMatch(t, []string{
		"binary_sensor.close_button",
		"binary_sensor.open_button",
		"input_boolean.force_open",
	}, source.entityIDs)

	source.emit("binary_sensor.close_button", "on")
	assert.Equal(t, 1, counter.on)
	assert.Equal(t, 0, counter.off)

	source.emit("input_boolean.force_open", "on")
	source.emit("binary_sensor.open_button", "on")
	assert.Equal(t, 2, counter.off)

	t.Run("non-on transitions ignored", func(t *testing.T) {
		source.emit("binary_sensor.close_button", "off")
		source.emit("binary_sensor.close_button", "unavailable")
		assert.Equal(t, 1, counter.on)
	})

	t.Run("unknown entities ignored", func(t *testing.T) {
		source.emit("binary_sensor.doorbell", "on")
		assert.Equal(t, 1, counter.on)
		assert.Equal(t, 2, counter.off)
	})
}

func TestTriggerListenerRejectsMalformedIDs(t *testing.T) {
	_, err := NewTriggerListener([]string{"not-an-entity"}, nil)
	assert.Error(t, err)
}

func TestListenerDetachUnsubscribesOnce(t *testing.T) {
	l, err := NewTriggerListener([]string{"binary_sensor.a"}, []string{"binary_sensor.b"})
	require.NoError(t, err)

	source, _ := attach(t, l)

	l.Detach()
	l.Detach()
	assert.Equal(t, 1, source.unsubscribed)
}

func TestSwitchListenerEntitySynthesis(t *testing.T) {
	tests := []struct {
		name      string
		sw        Switch
		wantOnID  string
		wantOffID string
	}{
		{
			name:      "left not inverted",
			sw:        Switch{DeviceID: "salon", Position: SwitchPositionLeft},
			wantOnID:  "binary_sensor.salon_ao_pressed",
			wantOffID: "binary_sensor.salon_ai_pressed",
		},
		{
			name:      "right inverted swaps actions",
			sw:        Switch{DeviceID: "cover1", Position: SwitchPositionRight, Inverted: true},
			wantOnID:  "binary_sensor.cover1_bi_pressed",
			wantOffID: "binary_sensor.cover1_bo_pressed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			onID, offID, err := tt.sw.entityPair()
			require.NoError(t, err)
			assert.Equal(t, tt.wantOnID, onID)
			assert.Equal(t, tt.wantOffID, offID)
		})
	}
}

func TestSwitchListenerDispatch(t *testing.T) {
	l, err := NewSwitchListener([]Switch{
		{DeviceID: "salon", Position: SwitchPositionLeft},
		{DeviceID: "kitchen", Position: SwitchPositionRight, Inverted: true},
	})
	require.NoError(t, err)

	source, counter := attach(t, l)

	source.emit("binary_sensor.salon_ao_pressed", "on")
	source.emit("binary_sensor.kitchen_bi_pressed", "on")
	assert.Equal(t, 2, counter.on)

	source.emit("binary_sensor.kitchen_bo_pressed", "on")
	assert.Equal(t, 1, counter.off)
}

func TestSwitchListenerSkipsInvalidPosition(t *testing.T) {
	l, err := NewSwitchListener([]Switch{
		{DeviceID: "salon", Position: "middle"},
		{DeviceID: "kitchen", Position: SwitchPositionLeft},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"binary_sensor.kitchen_ao_pressed",
		"binary_sensor.kitchen_ai_pressed",
	}, l.EntityIDs())
}

func TestValidEntityID(t *testing.T) {
	assert.True(t, ValidEntityID("binary_sensor.salon_ao_pressed"))
	assert.True(t, ValidEntityID("select.actuator"))
	assert.False(t, ValidEntityID("salon"))
	assert.False(t, ValidEntityID(".salon"))
	assert.False(t, ValidEntityID("binary_sensor."))
	assert.False(t, ValidEntityID("a.b.c"))
}
