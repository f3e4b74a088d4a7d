package mqtt

import (
	"context"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jkaflik/cover2mqtt/internal/cover/pulse"
	"github.com/jkaflik/cover2mqtt/internal/listener"
)

// EntityStateSource feeds external entity state transitions to a
// listener. Each entity publishes its state string on
// <prefix>/<entity_id>/state.
type EntityStateSource struct {
	mqtt        paho.Client
	topicPrefix string
}

func NewEntityStateSource(mqtt paho.Client, topicPrefix string) *EntityStateSource {
	return &EntityStateSource{mqtt: mqtt, topicPrefix: topicPrefix}
}

func (s *EntityStateSource) SubscribeStates(entityIDs []string, h func(e listener.StateEvent)) (func(), error) {
	filters := make(map[string]byte, len(entityIDs))
	topicToEntity := make(map[string]string, len(entityIDs))
	topics := make([]string, 0, len(entityIDs))

	for _, id := range entityIDs {
		topic := s.stateTopic(id)
		filters[topic] = 0
		topicToEntity[topic] = id
		topics = append(topics, topic)
	}

	handler := func(c paho.Client, msg paho.Message) {
		entityID, ok := topicToEntity[msg.Topic()]
		if !ok {
			return
		}
		h(listener.StateEvent{EntityID: entityID, State: string(msg.Payload())})
	}

	if token := s.mqtt.SubscribeMultiple(filters, handler); token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "MQTT entity state subscription failed")
	}

	unsubscribe := func() {
		if token := s.mqtt.Unsubscribe(topics...); token.Wait() && token.Error() != nil {
			logrus.Errorf("MQTT entity state unsubscribe failed: %s", token.Error())
		}
	}

	return unsubscribe, nil
}

func (s *EntityStateSource) stateTopic(entityID string) string {
	return fmt.Sprintf("%s/%s/state", s.topicPrefix, entityID)
}

var _ listener.EventSource = (*EntityStateSource)(nil)

// SelectPublisher asserts selector options by publishing them to the
// select entity's command topic <prefix>/<entity_id>/set. It backs the
// actuator pulse when the motor relay lives behind another MQTT
// integration.
type SelectPublisher struct {
	mqtt  paho.Client
	topic string
}

func NewSelectPublisher(mqtt paho.Client, topicPrefix, entityID string) *SelectPublisher {
	return &SelectPublisher{
		mqtt:  mqtt,
		topic: fmt.Sprintf("%s/%s/set", topicPrefix, entityID),
	}
}

func (s *SelectPublisher) Select(_ context.Context, option string) error {
	if token := s.mqtt.Publish(s.topic, 0, false, option); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "MQTT select publish to %s failed", s.topic)
	}
	return nil
}

var _ pulse.Selector = (*SelectPublisher)(nil)
