package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/relogix/scand/internal/bus"
	"github.com/relogix/scand/internal/config"
	"github.com/relogix/scand/internal/events"
	"github.com/relogix/scand/internal/value"
)

// Driver bridges the broker and the signal bus.
//
// Inbound messages never touch the bus directly: they land in a staging
// buffer holding at most the latest value per signal, and the engine's
// pre-scan hook flushes the buffer before the first layer runs. That
// keeps every scan's view of external inputs stable for the whole scan.
//
// Outbound, the driver consumes a coalescing bus subscription and
// publishes a signal's bound topic whenever its value actually changed.
type Driver struct {
	client   *Client
	registry *Registry
	bus      *bus.Bus

	mu      sync.Mutex
	staged  map[string]value.Value // signal -> latest inbound value
	badSeen map[string]bool        // topic -> bad-payload already reported

	outSub        *bus.Subscription
	lastPublished map[string]value.Value
}

// NewDriver builds a driver from the MQTT section of the config.
func NewDriver(cfg *config.MQTTConfig, b *bus.Bus) (*Driver, error) {
	d := &Driver{
		registry:      NewRegistry(cfg),
		bus:           b,
		staged:        make(map[string]value.Value),
		badSeen:       make(map[string]bool),
		lastPublished: make(map[string]value.Value),
	}
	client, err := NewClient(cfg, d.onConnect, d.onConnectionLost)
	if err != nil {
		return nil, err
	}
	d.client = client
	d.outSub = b.WatchAll()
	return d, nil
}

// Start connects to the broker. Subscriptions happen in the connect
// callback so they are re-established after every reconnect.
func (d *Driver) Start() error {
	if err := d.client.Connect(); err != nil {
		events.Emit("error", "driver.error", "mqtt connect failed", map[string]any{
			"error": err.Error(),
		})
		return fmt.Errorf("driver error: %w", err)
	}
	return nil
}

// Stop disconnects from the broker.
func (d *Driver) Stop() {
	d.client.Disconnect()
	if d.outSub != nil {
		d.outSub.Close()
	}
	events.Emit("info", "driver.disconnected", "shutdown", nil)
}

// Connected reports broker connectivity for readiness checks.
func (d *Driver) Connected() bool { return d.client.IsConnected() }

func (d *Driver) onConnect() {
	events.Emit("info", "driver.connected", "", map[string]any{
		"topics": len(d.registry.InboundTopics()),
	})
	for _, topic := range d.registry.InboundTopics() {
		if !d.registry.MarkSubscribed(topic) {
			continue
		}
		if err := d.client.Subscribe(topic, d.handleMessage); err != nil {
			events.Emit("error", "driver.error", "subscribe failed", map[string]any{
				"topic": topic,
				"error": err.Error(),
			})
		}
	}
}

func (d *Driver) onConnectionLost(err error) {
	d.registry.ClearSubscribed()
	events.Emit("warning", "driver.disconnected", err.Error(), nil)
}

// handleMessage stages one inbound payload. Runs on a Paho callback
// goroutine, so it only buffers; the scan loop does the bus write.
func (d *Driver) handleMessage(_ paho.Client, msg paho.Message) {
	topic := msg.Topic()
	sig, ok := d.registry.SignalForTopic(topic)
	if !ok {
		return
	}
	kind, ok := d.bus.Kind(sig)
	if !ok {
		return
	}

	v, err := decodePayload(kind, msg.Payload())
	if err != nil {
		d.mu.Lock()
		seen := d.badSeen[topic]
		d.badSeen[topic] = true
		d.mu.Unlock()
		// Report the first bad payload per topic; a chattering sensor
		// must not flood the event stream.
		if !seen {
			events.Emit("error", "driver.error", "bad payload", map[string]any{
				"topic":  topic,
				"signal": sig,
				"error":  err.Error(),
			})
		}
		return
	}

	d.mu.Lock()
	d.staged[sig] = v
	d.badSeen[topic] = false
	d.mu.Unlock()
}

// decodePayload converts a raw MQTT payload to the signal's kind. JSON
// scalars are accepted ("true", "3.5", "\"text\""); anything that is not
// valid JSON is treated as a raw string.
func decodePayload(kind value.Kind, payload []byte) (value.Value, error) {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		raw = string(payload)
	}
	return value.FromInterface(kind, raw)
}

// FlushInputs commits all staged inbound values. Registered as the
// engine's pre-scan hook.
func (d *Driver) FlushInputs(context.Context) {
	d.mu.Lock()
	if len(d.staged) == 0 {
		d.mu.Unlock()
		return
	}
	staged := d.staged
	d.staged = make(map[string]value.Value)
	d.mu.Unlock()

	for sig, v := range staged {
		if err := d.bus.Set(sig, v); err != nil {
			log.Printf("mqtt: write %s: %v", sig, err)
		}
	}
}

// PublishOutputs publishes every bound signal whose value changed since
// the last publish. Registered as the engine's post-scan hook.
func (d *Driver) PublishOutputs(context.Context) {
	// While disconnected, leave updates pending in the subscription: it
	// coalesces per signal, so the backlog stays bounded and the latest
	// values go out on reconnect.
	if !d.client.IsConnected() {
		return
	}

	for _, u := range d.outSub.Drain() {
		topic, ok := d.registry.TopicForSignal(u.Name)
		if !ok {
			continue
		}
		if prev, ok := d.lastPublished[u.Name]; ok && prev.Equal(u.Value) {
			continue
		}
		payload, err := json.Marshal(u.Value.Interface())
		if err != nil {
			continue
		}
		if err := d.client.Publish(topic, payload); err != nil {
			events.Emit("error", "driver.error", "publish failed", map[string]any{
				"topic": topic,
				"error": err.Error(),
			})
			continue
		}
		d.lastPublished[u.Name] = u.Value
	}
}
