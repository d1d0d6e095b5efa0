// Package block defines the block execution contract and the catalog of
// primitive blocks: logic, comparison, arithmetic, edge, timer, memory,
// convert and data blocks.
//
// A block is a passive unit of computation. Each scan the engine calls
// Step exactly once; the block reads its bound input signals from the bus,
// computes, and writes its bound outputs back. Blocks never perform I/O
// and never block. A failing Step leaves the block's outputs untouched
// (hold last good); the engine records the error and the scan continues.
package block

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/relogix/scand/internal/bus"
	"github.com/relogix/scand/internal/config"
	"github.com/relogix/scand/internal/value"
)

// ErrDomain marks arithmetic and parse failures: divide by zero, checked
// overflow, out-of-range select index, unparseable strings.
var ErrDomain = errors.New("domain error")

// ErrUnknownKind is returned by New for an unregistered block kind.
var ErrUnknownKind = errors.New("unknown block kind")

// Clock is the monotonic time source injected into timer blocks.
type Clock interface {
	Now() time.Time
}

// Block is the uniform execution contract.
//
// Step must be idempotent given identical inputs and internal state;
// stateful blocks account for elapsed time explicitly through the clock.
type Block interface {
	Name() string
	Kind() string
	Inputs() []string
	Outputs() []string
	Step(bs *bus.Bus) error
}

// Factory builds one block instance from its configuration.
type Factory func(cfg config.BlockConfig, clk Clock) (Block, error)

var registry = map[string]Factory{}

func register(kind string, f Factory) {
	registry[kind] = f
}

// New constructs a block instance for the given configuration.
func New(cfg config.BlockConfig, clk Clock) (Block, error) {
	f, ok := registry[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("block %q: kind %q: %w", cfg.Name, cfg.Kind, ErrUnknownKind)
	}
	return f(cfg, clk)
}

// Kinds returns all registered block kinds, sorted.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var delayKinds = map[string]bool{
	"REG":    true,
	"SR":     true,
	"RS":     true,
	"R_TRIG": true,
	"F_TRIG": true,
}

// IsDelayKind reports whether a kind is contractually a one-scan delay.
// Feedback cycles are legal only when closed through a delay block.
func IsDelayKind(kind string) bool {
	return delayKinds[kind]
}

// base carries the wiring shared by every block implementation.
type base struct {
	name string
	kind string
	in   map[string]string // port -> signal
	out  map[string]string
}

func newBase(cfg config.BlockConfig) base {
	return base{name: cfg.Name, kind: cfg.Kind, in: cfg.Inputs, out: cfg.Outputs}
}

func (b *base) Name() string { return b.name }
func (b *base) Kind() string { return b.kind }

// Inputs returns the bound input signal names, sorted and deduplicated.
func (b *base) Inputs() []string { return signalSet(b.in) }

// Outputs returns the bound output signal names, sorted and deduplicated.
func (b *base) Outputs() []string { return signalSet(b.out) }

func signalSet(ports map[string]string) []string {
	seen := make(map[string]bool, len(ports))
	out := make([]string, 0, len(ports))
	for _, sig := range ports {
		if !seen[sig] {
			seen[sig] = true
			out = append(out, sig)
		}
	}
	sort.Strings(out)
	return out
}

// port resolves a required port binding at construction time.
func (b *base) port(ports map[string]string, name string) (string, error) {
	sig, ok := ports[name]
	if !ok || sig == "" {
		return "", fmt.Errorf("block %q (%s): port %q is not bound", b.name, b.kind, name)
	}
	return sig, nil
}

func (b *base) inPort(name string) (string, error)  { return b.port(b.in, name) }
func (b *base) outPort(name string) (string, error) { return b.port(b.out, name) }

// sortedInPorts returns the input port names in lexicographic order.
// Variadic blocks (AND, OR, XOR, SELECT) use this for a stable operand
// order.
func (b *base) sortedInPorts() []string {
	ports := make([]string, 0, len(b.in))
	for p := range b.in {
		ports = append(ports, p)
	}
	sort.Strings(ports)
	return ports
}

// --- step-time signal access -------------------------------------------

func readValue(bs *bus.Bus, sig string) (value.Value, error) {
	v, ok := bs.Get(sig)
	if !ok {
		return value.Value{}, fmt.Errorf("%q: %w", sig, bus.ErrSignalNotFound)
	}
	return v, nil
}

func readBool(bs *bus.Bus, sig string) (bool, error) {
	v, err := readValue(bs, sig)
	if err != nil {
		return false, err
	}
	b, err := v.AsBool()
	if err != nil {
		return false, fmt.Errorf("signal %q: %w", sig, err)
	}
	return b, nil
}

func readString(bs *bus.Bus, sig string) (string, error) {
	v, err := readValue(bs, sig)
	if err != nil {
		return "", err
	}
	s, err := v.AsString()
	if err != nil {
		return "", fmt.Errorf("signal %q: %w", sig, err)
	}
	return s, nil
}

// writeResult commits an output value. An Int result is promoted to Float
// when the target signal is declared float; any other variant disagreement
// is a type error for this scan.
func writeResult(bs *bus.Bus, sig string, v value.Value) error {
	if k, ok := bs.Kind(sig); ok && v.Kind() == value.KindInt && k == value.KindFloat {
		v, _ = v.CoerceTo(value.KindFloat)
	}
	return bs.Set(sig, v)
}

// --- parameter helpers --------------------------------------------------

func paramBool(cfg config.BlockConfig, name string, def bool) (bool, error) {
	raw, ok := cfg.Params[name]
	if !ok {
		return def, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("block %q: param %q: expected bool, got %T", cfg.Name, name, raw)
	}
	return b, nil
}

func paramInt(cfg config.BlockConfig, name string, def int64) (int64, error) {
	raw, ok := cfg.Params[name]
	if !ok {
		return def, nil
	}
	switch x := raw.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case uint64:
		return int64(x), nil
	case float64:
		if x == float64(int64(x)) {
			return int64(x), nil
		}
	}
	return 0, fmt.Errorf("block %q: param %q: expected integer, got %T", cfg.Name, name, raw)
}

func paramFloat(cfg config.BlockConfig, name string, def float64) (float64, error) {
	raw, ok := cfg.Params[name]
	if !ok {
		return def, nil
	}
	switch x := raw.(type) {
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	}
	return 0, fmt.Errorf("block %q: param %q: expected number, got %T", cfg.Name, name, raw)
}

func paramString(cfg config.BlockConfig, name, def string) (string, error) {
	raw, ok := cfg.Params[name]
	if !ok {
		return def, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("block %q: param %q: expected string, got %T", cfg.Name, name, raw)
	}
	return s, nil
}
