package mqtt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaflik/cover2mqtt/internal/listener"
)

func TestEntityStateSourceDispatch(t *testing.T) {
	client := newFakeClient()
	source := NewEntityStateSource(client, "entities")

	var events []listener.StateEvent
	unsubscribe, err := source.SubscribeStates(
		[]string{"binary_sensor.salon_ao_pressed", "binary_sensor.salon_ai_pressed"},
		func(e listener.StateEvent) { events = append(events, e) },
	)
	require.NoError(t, err)

	require.True(t, client.receive("entities/binary_sensor.salon_ao_pressed/state", "on"))
	require.Len(t, events, 1)
	assert.Equal(t, listener.StateEvent{EntityID: "binary_sensor.salon_ao_pressed", State: "on"}, events[0])

	require.True(t, client.receive("entities/binary_sensor.salon_ai_pressed/state", "off"))
	require.Len(t, events, 2)
	assert.Equal(t, "off", events[1].State)

	unsubscribe()
	assert.False(t, client.subscribed("entities/binary_sensor.salon_ao_pressed/state"))
	assert.False(t, client.subscribed("entities/binary_sensor.salon_ai_pressed/state"))
}

func TestEntityStateSourceDrivesListener(t *testing.T) {
	client := newFakeClient()
	source := NewEntityStateSource(client, "entities")

	l, err := listener.NewSwitchListener([]listener.Switch{
		{DeviceID: "salon", Position: listener.SwitchPositionLeft},
	})
	require.NoError(t, err)

	var on, off int
	require.NoError(t, l.Attach(source, func() { on++ }, func() { off++ }))

	require.True(t, client.receive("entities/binary_sensor.salon_ao_pressed/state", "on"))
	require.True(t, client.receive("entities/binary_sensor.salon_ai_pressed/state", "on"))
	assert.Equal(t, 1, on)
	assert.Equal(t, 1, off)

	l.Detach()
	assert.False(t, client.subscribed("entities/binary_sensor.salon_ao_pressed/state"))
}

func TestSelectPublisher(t *testing.T) {
	client := newFakeClient()
	selector := NewSelectPublisher(client, "entities", "select.salon_switch")

	require.NoError(t, selector.Select(context.Background(), "BO"))
	require.NoError(t, selector.Select(context.Background(), "None"))

	assert.Equal(t, []string{"BO", "None"}, client.publishedTo("entities/select.salon_switch/set"))
}
