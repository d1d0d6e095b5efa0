package mqtt

import (
	"sort"
	"sync"

	"github.com/relogix/scand/internal/config"
)

// Registry holds the topic/signal bindings from the configuration and
// tracks which inbound topics currently have a live subscription, so
// resubscription after a reconnect is idempotent.
type Registry struct {
	mu         sync.RWMutex
	inbound    map[string]string // topic -> signal
	outbound   map[string]string // signal -> topic
	subscribed map[string]bool   // topic -> subscribed
}

// NewRegistry builds the binding tables from config. Validation already
// rejected duplicate topics and unknown signals.
func NewRegistry(cfg *config.MQTTConfig) *Registry {
	r := &Registry{
		inbound:    make(map[string]string),
		outbound:   make(map[string]string),
		subscribed: make(map[string]bool),
	}
	if cfg != nil {
		for _, tm := range cfg.Subscribe {
			r.inbound[tm.Topic] = tm.Signal
		}
		for _, tm := range cfg.Publish {
			r.outbound[tm.Signal] = tm.Topic
		}
	}
	return r
}

// SignalForTopic resolves an inbound topic to its bound signal.
func (r *Registry) SignalForTopic(topic string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sig, ok := r.inbound[topic]
	return sig, ok
}

// TopicForSignal resolves a signal to its outbound topic.
func (r *Registry) TopicForSignal(signal string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topic, ok := r.outbound[signal]
	return topic, ok
}

// InboundTopics returns all topics to subscribe, sorted.
func (r *Registry) InboundTopics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.inbound))
	for t := range r.inbound {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// MarkSubscribed records a successful subscription. Returns false when
// the topic was already marked, making subscribe loops idempotent.
func (r *Registry) MarkSubscribed(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subscribed[topic] {
		return false
	}
	r.subscribed[topic] = true
	return true
}

// ClearSubscribed forgets all subscription state. Called on connection
// loss; the broker will not resume our QoS 1 subscriptions on a clean
// session reconnect.
func (r *Registry) ClearSubscribed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribed = make(map[string]bool)
}
