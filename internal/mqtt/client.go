// Package mqtt is the broker driver: it carries external signal writes
// into the bus and publishes block-driven signal changes back out.
package mqtt

import (
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/relogix/scand/internal/config"
)

// Client wraps the Paho MQTT client.
type Client struct {
	client paho.Client
	mu     sync.Mutex
}

// BrokerURL resolves the broker address: config first, then the MQTT_URL
// environment variable, then the conventional local default.
func BrokerURL(cfg *config.MQTTConfig) string {
	if cfg != nil && cfg.BrokerURL != "" {
		return cfg.BrokerURL
	}
	if url := os.Getenv("MQTT_URL"); url != "" {
		return url
	}
	return "tcp://localhost:1883"
}

// NewClient creates a client but does not connect. Credentials come from
// MQTT_USERNAME and MQTT_PASSWORD (the password honours the _FILE secret
// convention). onConnect also fires on every automatic reconnect, which
// is where resubscription happens.
func NewClient(cfg *config.MQTTConfig, onConnect func(), onLost func(error)) (*Client, error) {
	clientID := "scand"
	if cfg != nil && cfg.ClientID != "" {
		clientID = cfg.ClientID
	}

	opts := paho.NewClientOptions().
		AddBroker(BrokerURL(cfg)).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	if user := os.Getenv("MQTT_USERNAME"); user != "" {
		password, err := config.ResolveSecret("MQTT_PASSWORD")
		if err != nil {
			return nil, err
		}
		opts.SetUsername(user).SetPassword(password)
	}
	if onConnect != nil {
		opts.SetOnConnectHandler(func(paho.Client) { onConnect() })
	}
	if onLost != nil {
		opts.SetConnectionLostHandler(func(_ paho.Client, err error) { onLost(err) })
	}

	return &Client{client: paho.NewClient(opts)}, nil
}

// Connect attempts to connect to the broker.
// Returns an error if connection fails, but does not block indefinitely.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return &ConnectTimeoutError{}
	}
	return token.Error()
}

// Subscribe subscribes to a topic with the given handler.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Subscribe(topic, 1, handler)
	if !token.WaitTimeout(10 * time.Second) {
		return &SubscribeTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Publish sends a payload to a topic at QoS 1 without waiting for the ack.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, 1, false, payload)
	if token.WaitTimeout(time.Millisecond) {
		return token.Error()
	}
	return nil
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct{}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout"
}

// SubscribeTimeoutError indicates subscription timed out.
type SubscribeTimeoutError struct {
	Topic string
}

func (e *SubscribeTimeoutError) Error() string {
	return "mqtt subscribe timeout: " + e.Topic
}
