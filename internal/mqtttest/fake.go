// Package mqtttest provides an in-memory mqtt.Client for tests.
package mqtttest

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Published is one captured publish
type Published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Client records publishes and routes Deliver calls to subscribers.
// Methods it does not implement panic through the nil embedded interface.
type Client struct {
	mqtt.Client

	mu            sync.Mutex
	connected     bool
	published     []Published
	subscriptions map[string]mqtt.MessageHandler
	publishErr    error
	subscribeErr  error
}

// NewClient returns a connected fake client
func NewClient() *Client {
	return &Client{
		connected:     true,
		subscriptions: make(map[string]mqtt.MessageHandler),
	}
}

// SetConnected changes what IsConnected reports
func (c *Client) SetConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
}

// FailPublish makes every later publish fail with err
func (c *Client) FailPublish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

// FailSubscribe makes every later subscribe fail with err
func (c *Client) FailSubscribe(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeErr = err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Disconnect(quiesce uint) {
	c.SetConnected(false)
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.publishErr != nil {
		return doneToken(c.publishErr)
	}

	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = append([]byte(nil), p...)
	case string:
		data = []byte(p)
	default:
		return doneToken(fmt.Errorf("mqtttest: unsupported payload type %T", payload))
	}

	c.published = append(c.published, Published{Topic: topic, QoS: qos, Retained: retained, Payload: data})
	return doneToken(nil)
}

func (c *Client) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subscribeErr != nil {
		return doneToken(c.subscribeErr)
	}
	c.subscriptions[topic] = callback
	return doneToken(nil)
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subscriptions, t)
	}
	return doneToken(nil)
}

// Subscribed reports whether topic has a subscriber
func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[topic]
	return ok
}

// Deliver calls the subscriber of topic with payload. It reports false when
// nothing is subscribed.
func (c *Client) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	handler, ok := c.subscriptions[topic]
	c.mu.Unlock()

	if !ok {
		return false
	}
	handler(c, &message{topic: topic, payload: payload})
	return true
}

// Published returns every captured publish, optionally filtered by topic
func (c *Client) Published(topic string) []Published {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Published
	for _, p := range c.published {
		if topic == "" || p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// WaitPublished polls until topic has at least n publishes or timeout expires
func (c *Client) WaitPublished(topic string, n int, timeout time.Duration) []Published {
	deadline := time.Now().Add(timeout)
	for {
		got := c.Published(topic)
		if len(got) >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type token struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *token {
	t := &token{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return t.done }
func (t *token) Error() error                   { return t.err }

type message struct {
	topic   string
	payload []byte
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return 1 }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}
