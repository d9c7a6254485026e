package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	bufferCapacity = 256
	inboxCapacity  = 256
)

type inbound struct {
	topic    string
	payload  []byte
	received time.Time
}

// RealClient publishes to and subscribes on an actual MQTT broker.
// Publishes made while disconnected are buffered and replayed on reconnect;
// subscriptions are re-established on every connect.
type RealClient struct {
	client paho.Client
	router *router

	// Handlers run on a dedicated goroutine, in arrival order. Paho's own
	// router must stay free to process acks for publishes that a handler
	// may be waiting on indirectly.
	inbox     chan inbound
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	buffer *ringBuffer
}

// NewRealClient connects to broker. If the broker is not reachable within
// the connect timeout the client keeps retrying in the background and
// buffers publishes meanwhile.
func NewRealClient(broker, clientID string) (*RealClient, error) {
	c := &RealClient{
		router: newRouter(),
		buffer: newRingBuffer(bufferCapacity),
		inbox:  make(chan inbound, inboxCapacity),
		done:   make(chan struct{}),
	}
	go c.deliver()

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "LWT"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Printf("mqtt: broker %s not reachable yet, retrying in background", broker)
		return c, nil
	}
	if err := token.Error(); err != nil {
		c.closeOnce.Do(func() { close(c.done) })
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

// PublishState sends a lagged value, retained so late subscribers see the
// current lagged state.
func (c *RealClient) PublishState(event StateEvent) error {
	payload, err := FormatStatePayload(event)
	if err != nil {
		return fmt.Errorf("format state payload: %w", err)
	}
	return c.publish(StateTopic(event.Sensor), 1, true, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return c.publish(TopicSystem, 1, event.Retained, payload)
}

func (c *RealClient) publish(topic string, qos byte, retained bool, payload []byte) error {
	c.mu.Lock()
	if !c.client.IsConnectionOpen() {
		c.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers h for topic. Messages are delivered in broker order on
// a single goroutine shared by all handlers.
func (c *RealClient) Subscribe(topic string, h Handler) (func(), error) {
	id, first := c.router.add(topic, h)
	if first && c.client.IsConnectionOpen() {
		if err := c.subscribe(topic); err != nil {
			c.router.remove(topic, id)
			return nil, err
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if c.router.remove(topic, id) && c.client.IsConnectionOpen() {
				token := c.client.Unsubscribe(topic)
				if token.WaitTimeout(publishTimeout) && token.Error() != nil {
					log.Printf("mqtt: unsubscribe %s: %v", topic, token.Error())
				}
			}
		})
	}
	return cancel, nil
}

func (c *RealClient) subscribe(topic string) error {
	token := c.client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		select {
		case c.inbox <- inbound{topic: topic, payload: msg.Payload(), received: time.Now()}:
		case <-c.done:
		}
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (c *RealClient) deliver() {
	for {
		select {
		case m := <-c.inbox:
			c.router.dispatch(m.topic, m.payload, m.received)
		case <-c.done:
			return
		}
	}
}

// onConnect runs on its own goroutine after every (re)connect.
func (c *RealClient) onConnect(_ paho.Client) {
	log.Printf("mqtt: connected")

	for _, topic := range c.router.topics() {
		if err := c.subscribe(topic); err != nil {
			log.Printf("mqtt: resubscribe: %v", err)
		}
	}

	c.mu.Lock()
	pending := c.buffer.drainAll()
	c.mu.Unlock()

	if len(pending) > 0 {
		log.Printf("mqtt: replaying %d buffered messages", len(pending))
	}
	for _, m := range pending {
		token := c.client.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(publishTimeout) {
			log.Printf("mqtt: replay to %s: timeout", m.topic)
			continue
		}
		if err := token.Error(); err != nil {
			log.Printf("mqtt: replay to %s: %v", m.topic, err)
		}
	}
}

// IsConnected reports whether the broker connection is up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Buffered returns the number of publishes waiting for a connection.
func (c *RealClient) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.len()
}

// Close disconnects from the broker and stops delivering messages.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000) // 1 second timeout
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

var (
	_ Publisher        = (*RealClient)(nil)
	_ Subscriber       = (*RealClient)(nil)
	_ ConnectionStatus = (*RealClient)(nil)
)
