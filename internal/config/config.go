// Package config loads and validates the scand runtime configuration.
package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/relogix/scand/internal/bus"
	"github.com/relogix/scand/internal/value"
)

// Error is a configuration error carrying the field path that caused it.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Errf builds a config error with a formatted reason.
func Errf(field, format string, args ...any) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SignalConfig declares one signal on the bus.
type SignalConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Initial any    `yaml:"initial,omitempty"`
}

// BlockConfig describes one logic block: its kind, parameters and the
// signal bindings of its input and output ports. Immutable after load.
type BlockConfig struct {
	Name    string            `yaml:"name"`
	Kind    string            `yaml:"kind"`
	Params  map[string]any    `yaml:"params,omitempty"`
	Inputs  map[string]string `yaml:"inputs,omitempty"`
	Outputs map[string]string `yaml:"outputs,omitempty"`
}

// TopicMap binds an MQTT topic to a signal.
type TopicMap struct {
	Topic  string `yaml:"topic"`
	Signal string `yaml:"signal"`
}

// MQTTConfig configures the MQTT driver. Broker URL defaults to the
// MQTT_URL environment variable, then tcp://localhost:1883.
type MQTTConfig struct {
	Enabled   bool       `yaml:"enabled"`
	BrokerURL string     `yaml:"broker_url,omitempty"`
	ClientID  string     `yaml:"client_id,omitempty"`
	Subscribe []TopicMap `yaml:"subscribe,omitempty"`
	Publish   []TopicMap `yaml:"publish,omitempty"`
}

// HistorianConfig configures the Postgres historian.
type HistorianConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NetworkConfig holds listen ports.
type NetworkConfig struct {
	APIPort int `yaml:"api_port"`
}

// Config is the validated top-level document consumed by the engine.
type Config struct {
	Version    int              `yaml:"version"`
	Name       string           `yaml:"name,omitempty"`
	ScanTimeMS uint32           `yaml:"scan_time_ms"`
	Workers    int              `yaml:"workers,omitempty"`
	Signals    []SignalConfig   `yaml:"signals"`
	Blocks     []BlockConfig    `yaml:"blocks"`
	Network    NetworkConfig    `yaml:"network,omitempty"`
	MQTT       *MQTTConfig      `yaml:"mqtt,omitempty"`
	Historian  *HistorianConfig `yaml:"historian,omitempty"`
}

// APIPort returns the configured API port, defaulting to 8080.
func (c *Config) APIPort() int {
	if c.Network.APIPort == 0 {
		return 8080
	}
	return c.Network.APIPort
}

// Load reads and parses a YAML configuration file and validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse parses and validates configuration bytes.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, Errf("(document)", "invalid YAML: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the structural invariants of the document: version,
// scan period, signal naming and typing, block bindings referencing
// declared signals, and the single-writer rule. Graph acyclicity and
// per-kind port checks happen when the engine builds the scan plan.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return Errf("version", "unsupported version %d", c.Version)
	}
	if c.ScanTimeMS == 0 {
		return Errf("scan_time_ms", "must be greater than zero")
	}
	if c.Workers < 0 {
		return Errf("workers", "must not be negative")
	}
	if len(c.Signals) == 0 {
		return Errf("signals", "at least one signal is required")
	}

	kinds := make(map[string]value.Kind, len(c.Signals))
	for i, s := range c.Signals {
		field := fmt.Sprintf("signals[%d]", i)
		if !bus.ValidName(s.Name) {
			return Errf(field+".name", "invalid signal name %q", s.Name)
		}
		if _, dup := kinds[s.Name]; dup {
			return Errf(field+".name", "duplicate signal %q", s.Name)
		}
		k, err := value.ParseKind(s.Type)
		if err != nil {
			return Errf(field+".type", "%v", err)
		}
		if s.Initial != nil {
			if _, err := value.FromInterface(k, s.Initial); err != nil {
				return Errf(field+".initial", "initial value incompatible with %s: %v", k, err)
			}
		}
		kinds[s.Name] = k
	}

	blockNames := make(map[string]bool, len(c.Blocks))
	writers := make(map[string]string) // signal -> block name
	for i, blk := range c.Blocks {
		field := fmt.Sprintf("blocks[%d]", i)
		if blk.Name == "" {
			return Errf(field+".name", "block name is required")
		}
		if blockNames[blk.Name] {
			return Errf(field+".name", "duplicate block %q", blk.Name)
		}
		blockNames[blk.Name] = true
		if blk.Kind == "" {
			return Errf(field+".kind", "block kind is required")
		}
		for port, sig := range blk.Inputs {
			if _, ok := kinds[sig]; !ok {
				return Errf(fmt.Sprintf("%s.inputs.%s", field, port), "unknown signal %q", sig)
			}
		}
		for port, sig := range blk.Outputs {
			if _, ok := kinds[sig]; !ok {
				return Errf(fmt.Sprintf("%s.outputs.%s", field, port), "unknown signal %q", sig)
			}
			if prev, taken := writers[sig]; taken {
				return Errf(fmt.Sprintf("%s.outputs.%s", field, port),
					"signal %q already driven by block %q", sig, prev)
			}
			writers[sig] = blk.Name
		}
	}

	if c.MQTT != nil && c.MQTT.Enabled {
		for i, m := range c.MQTT.Subscribe {
			field := fmt.Sprintf("mqtt.subscribe[%d]", i)
			if m.Topic == "" {
				return Errf(field+".topic", "topic is required")
			}
			if _, ok := kinds[m.Signal]; !ok {
				return Errf(field+".signal", "unknown signal %q", m.Signal)
			}
			// Inbound topics are external writers; they may not target a
			// signal driven by a block.
			if blk, taken := writers[m.Signal]; taken {
				return Errf(field+".signal", "signal %q is driven by block %q", m.Signal, blk)
			}
		}
		for i, m := range c.MQTT.Publish {
			field := fmt.Sprintf("mqtt.publish[%d]", i)
			if m.Topic == "" {
				return Errf(field+".topic", "topic is required")
			}
			if _, ok := kinds[m.Signal]; !ok {
				return Errf(field+".signal", "unknown signal %q", m.Signal)
			}
		}
	}
	return nil
}

// SignalKinds returns the declared kind of every signal.
func (c *Config) SignalKinds() map[string]value.Kind {
	kinds := make(map[string]value.Kind, len(c.Signals))
	for _, s := range c.Signals {
		if k, err := value.ParseKind(s.Type); err == nil {
			kinds[s.Name] = k
		}
	}
	return kinds
}

// InitialValue returns the initial value of a declared signal, or the
// kind's zero value when none is configured.
func (c *Config) InitialValue(name string) (value.Value, error) {
	for _, s := range c.Signals {
		if s.Name != name {
			continue
		}
		k, err := value.ParseKind(s.Type)
		if err != nil {
			return value.Value{}, err
		}
		if s.Initial == nil {
			return value.Zero(k), nil
		}
		return value.FromInterface(k, s.Initial)
	}
	return value.Value{}, Errf("signals", "unknown signal %q", name)
}

// BlockWriters returns signal -> producing block name.
func (c *Config) BlockWriters() map[string]string {
	writers := make(map[string]string)
	for _, blk := range c.Blocks {
		for _, sig := range blk.Outputs {
			writers[sig] = blk.Name
		}
	}
	return writers
}

// SignalNames returns all declared signal names, sorted.
func (c *Config) SignalNames() []string {
	names := make([]string, 0, len(c.Signals))
	for _, s := range c.Signals {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}
