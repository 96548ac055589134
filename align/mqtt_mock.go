package align

import (
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MockToken is a completed mqtt.Token carrying a fixed error
type MockToken struct {
	err error
}

func NewMockToken(err error) *MockToken {
	return &MockToken{err: err}
}

func (t *MockToken) Wait() bool                        { return true }
func (t *MockToken) WaitTimeout(_ time.Duration) bool { return true }
func (t *MockToken) Error() error                      { return t.err }

func (t *MockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// MockMessage is one publish recorded by MockClient
type MockMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MockClient is an in-memory mqtt.Client. Publishes are recorded and
// SimulateMessage delivers payloads to subscribed handlers.
type MockClient struct {
	mu             sync.RWMutex
	connected      bool
	connectError   error
	publishError   error
	subscribeError error
	handlers       map[string]mqtt.MessageHandler
	retained       map[string][]byte
	published      []MockMessage
	onConnect      mqtt.OnConnectHandler
}

// NewMockClient creates a disconnected mock client
func NewMockClient() *MockClient {
	return &MockClient{
		handlers: make(map[string]mqtt.MessageHandler),
		retained: make(map[string][]byte),
	}
}

func (c *MockClient) SetConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
}

func (c *MockClient) SetConnectError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectError = err
}

func (c *MockClient) SetPublishError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishError = err
}

func (c *MockClient) SetSubscribeError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeError = err
}

// SetOnConnect registers a handler run after a successful Connect
func (c *MockClient) SetOnConnect(h mqtt.OnConnectHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = h
}

// GetPublishedMessages returns a copy of every recorded publish
func (c *MockClient) GetPublishedMessages() []MockMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]MockMessage, len(c.published))
	copy(out, c.published)
	return out
}

// MessagesOn returns recorded publishes whose topic ends with suffix
func (c *MockClient) MessagesOn(suffix string) []MockMessage {
	var out []MockMessage
	for _, m := range c.GetPublishedMessages() {
		if strings.HasSuffix(m.Topic, suffix) {
			out = append(out, m)
		}
	}
	return out
}

// Subscribed reports whether a handler is registered for topic
func (c *MockClient) Subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.handlers[topic]
	return ok
}

// SimulateMessage delivers payload to the handler subscribed to topic
func (c *MockClient) SimulateMessage(topic string, payload []byte) {
	c.mu.RLock()
	handler := c.handlers[topic]
	c.mu.RUnlock()

	if handler != nil {
		handler(c, &mockMessage{topic: topic, payload: payload})
	}
}

func (c *MockClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *MockClient) IsConnectionOpen() bool {
	return c.IsConnected()
}

func (c *MockClient) Connect() mqtt.Token {
	c.mu.Lock()
	err := c.connectError
	var onConnect mqtt.OnConnectHandler
	if err == nil {
		c.connected = true
		onConnect = c.onConnect
	}
	c.mu.Unlock()

	if onConnect != nil {
		onConnect(c)
	}
	return NewMockToken(err)
}

func (c *MockClient) Disconnect(quiesce uint) {
	c.SetConnected(false)
}

func (c *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return NewMockToken(mqtt.ErrNotConnected)
	}
	if c.publishError != nil {
		return NewMockToken(c.publishError)
	}

	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	}
	c.published = append(c.published, MockMessage{Topic: topic, Payload: data, QoS: qos, Retain: retained})
	return NewMockToken(nil)
}

func (c *MockClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return c.SubscribeMultiple(map[string]byte{topic: qos}, callback)
}

// SetRetained stores a retained message, delivered to every later
// subscriber of topic as a broker would.
func (c *MockClient) SetRetained(topic string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retained[topic] = payload
}

func (c *MockClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return NewMockToken(mqtt.ErrNotConnected)
	}
	if c.subscribeError != nil {
		c.mu.Unlock()
		return NewMockToken(c.subscribeError)
	}
	var deliver []*mockMessage
	for topic := range filters {
		c.handlers[topic] = callback
		if payload, ok := c.retained[topic]; ok {
			deliver = append(deliver, &mockMessage{topic: topic, payload: payload})
		}
	}
	c.mu.Unlock()

	for _, msg := range deliver {
		callback(c, msg)
	}
	return NewMockToken(nil)
}

func (c *MockClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.handlers, topic)
	}
	return NewMockToken(nil)
}

func (c *MockClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
}

func (c *MockClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// mockMessage implements mqtt.Message
type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 1 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}
