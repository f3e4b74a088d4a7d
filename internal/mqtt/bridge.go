package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jkaflik/cover2mqtt/internal/cover"
)

const (
	mqttOpenCmd  = "open"
	mqttCloseCmd = "close"
	mqttStopCmd  = "stop"
)

// Bridge exposes one cover over MQTT: retained state/position topics
// out, command and set-position topics in. On construction it restores
// the estimated position from the retained position topics.
type Bridge struct {
	mqtt  paho.Client
	cover cover.Cover

	StateTopic    string
	PositionTopic string
	TiltTopic     string
	MetadataTopic string

	CommandTopic        string
	PositionChangeTopic string
	TiltChangeTopic     string
}

func NewBridge(mqtt paho.Client, cover cover.Cover) (*Bridge, error) {
	bridge := &Bridge{mqtt: mqtt, cover: cover}
	bridge.StateTopic = fmt.Sprintf("cover2mqtt/%s/state", cover.Name())
	bridge.PositionTopic = fmt.Sprintf("cover2mqtt/%s/position", cover.Name())
	bridge.TiltTopic = fmt.Sprintf("cover2mqtt/%s/tilt", cover.Name())
	bridge.MetadataTopic = fmt.Sprintf("cover2mqtt/%s/metadata", cover.Name())
	bridge.CommandTopic = fmt.Sprintf("cover2mqtt/%s/set", cover.Name())
	bridge.PositionChangeTopic = fmt.Sprintf("cover2mqtt/%s/position/set", cover.Name())
	bridge.TiltChangeTopic = fmt.Sprintf("cover2mqtt/%s/tilt/set", cover.Name())

	if err := bridge.restorePosition(); err != nil {
		return nil, err
	}

	cover.OnUpdate(bridge.onCoverUpdateHandler())

	return bridge, nil
}

func (b *Bridge) SetMetadata(value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	if token := b.mqtt.Publish(b.MetadataTopic, 0, true, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT metadata publish failed", b.cover.Name())
	}

	return nil
}

func (b *Bridge) Subscribe(ctx context.Context) error {
	commandTopics := []string{b.CommandTopic, b.PositionChangeTopic}

	if token := b.mqtt.Subscribe(b.CommandTopic, 0, b.onCommandHandler(ctx)); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT command topic subscription failed", b.cover.Name())
	}
	logrus.Infof("%s: MQTT command topic subscribed", b.cover.Name())

	if token := b.mqtt.Subscribe(b.PositionChangeTopic, 0, b.onPositionChangeHandler(ctx)); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT position change topic subscription failed", b.cover.Name())
	}
	logrus.Infof("%s: MQTT position change topic subscribed", b.cover.Name())

	if b.cover.SupportsTilt() {
		if token := b.mqtt.Subscribe(b.TiltChangeTopic, 0, b.onTiltChangeHandler(ctx)); token.Wait() && token.Error() != nil {
			return errors.Wrapf(token.Error(), "%s: MQTT tilt change topic subscription failed", b.cover.Name())
		}
		logrus.Infof("%s: MQTT tilt change topic subscribed", b.cover.Name())
		commandTopics = append(commandTopics, b.TiltChangeTopic)
	}

	go func() {
		<-ctx.Done()
		if token := b.mqtt.Unsubscribe(commandTopics...); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT topics unsubscribe failed: %s", b.cover.Name(), token.Error())
		}
	}()

	return nil
}

func (b *Bridge) onCoverUpdateHandler() cover.UpdateHandler {
	return func(u cover.Update) {
		if token := b.mqtt.Publish(b.StateTopic, 0, true, u.State); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT state publish failed: %s", b.cover.Name(), token.Error())
		}
		if token := b.mqtt.Publish(b.PositionTopic, 0, true, strconv.Itoa(u.Position)); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT position publish failed: %s", b.cover.Name(), token.Error())
		}
		if u.TiltPosition != nil {
			if token := b.mqtt.Publish(b.TiltTopic, 0, true, strconv.Itoa(*u.TiltPosition)); token.Wait() && token.Error() != nil {
				logrus.Errorf("%s: MQTT tilt publish failed: %s", b.cover.Name(), token.Error())
			}
		}
	}
}

func (b *Bridge) onCommandHandler(ctx context.Context) paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		cmd := string(msg.Payload())
		var err error
		switch cmd {
		case mqttOpenCmd:
			err = b.cover.Open(ctx)
		case mqttCloseCmd:
			err = b.cover.Close(ctx)
		case mqttStopCmd:
			err = b.cover.Stop(ctx)
		default:
			logrus.Errorf("%s: MQTT unsupported %s command received", b.cover.Name(), cmd)
			return
		}

		if err != nil {
			logrus.Errorf("%s: MQTT %s command failed: %s", b.cover.Name(), cmd, err)
		}
	}
}

func (b *Bridge) onPositionChangeHandler(ctx context.Context) paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		pos, ok := b.parsePosition(msg.Payload())
		if !ok {
			return
		}
		if err := b.cover.SetPosition(ctx, pos); err != nil {
			logrus.Errorf("%s: MQTT set position failed: %s", b.cover.Name(), err)
		}
	}
}

func (b *Bridge) onTiltChangeHandler(ctx context.Context) paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		pos, ok := b.parsePosition(msg.Payload())
		if !ok {
			return
		}
		if err := b.cover.SetTiltPosition(ctx, pos); err != nil {
			logrus.Errorf("%s: MQTT set tilt position failed: %s", b.cover.Name(), err)
		}
	}
}

// parsePosition validates command payloads before they reach the cover.
func (b *Bridge) parsePosition(payload []byte) (int, bool) {
	pos, err := strconv.Atoi(string(payload))
	if err != nil {
		logrus.Errorf("%s: MQTT malformed position payload %q", b.cover.Name(), payload)
		return 0, false
	}
	if pos < 0 || pos > 100 {
		logrus.Errorf("%s: MQTT position %d out of range", b.cover.Name(), pos)
		return 0, false
	}
	return pos, true
}

// restorePosition seeds the estimate from the retained position topics.
// The first retained payload per topic wins, then the restore
// subscription is dropped. No retained state leaves the cover at its
// default estimate.
func (b *Bridge) restorePosition() error {
	restorable, ok := b.cover.(cover.Restorable)
	if !ok {
		logrus.Warnf("%s: MQTT position restore: cover is not restorable", b.cover.Name())
		return nil
	}

	if err := b.restoreFromTopic(b.PositionTopic, restorable.ResetPosition); err != nil {
		return err
	}

	if b.cover.SupportsTilt() {
		return b.restoreFromTopic(b.TiltTopic, restorable.ResetTiltPosition)
	}

	return nil
}

func (b *Bridge) restoreFromTopic(topic string, reset func(position int) error) error {
	restoreHandler := func(c paho.Client, msg paho.Message) {
		pos, ok := b.parsePosition(msg.Payload())
		if !ok {
			return
		}
		if err := reset(pos); err != nil {
			logrus.Errorf("%s: MQTT position restore failed: %s", b.cover.Name(), err)
			return
		}

		logrus.Infof("%s: MQTT position restored to %d from %s", b.cover.Name(), pos, topic)

		if token := b.mqtt.Unsubscribe(topic); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT position restore topic unsubscribe failed: %s", b.cover.Name(), token.Error())
			return
		}

		logrus.Debugf("%s: MQTT position restore topic unsubscribed", b.cover.Name())
	}

	if token := b.mqtt.Subscribe(topic, 0, restoreHandler); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT position restore topic subscription failed", b.cover.Name())
	}

	return nil
}
