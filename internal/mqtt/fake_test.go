package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool {
	return true
}

func (t *fakeToken) WaitTimeout(time.Duration) bool {
	return true
}

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *fakeToken) Error() error {
	return t.err
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool {
	return false
}

func (m *fakeMessage) Qos() byte {
	return 0
}

func (m *fakeMessage) Retained() bool {
	return false
}

func (m *fakeMessage) Topic() string {
	return m.topic
}

func (m *fakeMessage) MessageID() uint16 {
	return 0
}

func (m *fakeMessage) Payload() []byte {
	return m.payload
}

func (m *fakeMessage) Ack() {
}

type publishedMessage struct {
	topic    string
	payload  string
	retained bool
}

// fakeClient is an in-memory broker stand-in: it records publishes and
// delivers retained payloads synchronously on subscribe.
type fakeClient struct {
	mu            sync.Mutex
	subscriptions map[string]paho.MessageHandler
	published     []publishedMessage
	retained      map[string]string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		subscriptions: map[string]paho.MessageHandler{},
		retained:      map[string]string{},
	}
}

func (f *fakeClient) IsConnected() bool {
	return true
}

func (f *fakeClient) IsConnectionOpen() bool {
	return true
}

func (f *fakeClient) Connect() paho.Token {
	return &fakeToken{}
}

func (f *fakeClient) Disconnect(quiesce uint) {
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	var body string
	switch p := payload.(type) {
	case string:
		body = p
	case []byte:
		body = string(p)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{topic: topic, payload: body, retained: retained})
	return &fakeToken{}
}

func (f *fakeClient) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	f.mu.Lock()
	f.subscriptions[topic] = callback
	payload, hasRetained := f.retained[topic]
	f.mu.Unlock()

	if hasRetained {
		callback(f, &fakeMessage{topic: topic, payload: []byte(payload)})
	}
	return &fakeToken{}
}

func (f *fakeClient) SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token {
	for topic := range filters {
		f.Subscribe(topic, 0, callback)
	}
	return &fakeToken{}
}

func (f *fakeClient) Unsubscribe(topics ...string) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, topic := range topics {
		delete(f.subscriptions, topic)
	}
	return &fakeToken{}
}

func (f *fakeClient) AddRoute(topic string, callback paho.MessageHandler) {
}

func (f *fakeClient) OptionsReader() paho.ClientOptionsReader {
	return paho.ClientOptionsReader{}
}

func (f *fakeClient) receive(topic, payload string) bool {
	f.mu.Lock()
	handler, ok := f.subscriptions[topic]
	f.mu.Unlock()

	if !ok {
		return false
	}
	handler(f, &fakeMessage{topic: topic, payload: []byte(payload)})
	return true
}

func (f *fakeClient) publishedTo(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var payloads []string
	for _, p := range f.published {
		if p.topic == topic {
			payloads = append(payloads, p.payload)
		}
	}
	return payloads
}

func (f *fakeClient) subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.subscriptions[topic]
	return ok
}
