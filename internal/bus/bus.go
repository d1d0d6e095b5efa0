// Package bus implements the signal bus: a concurrently accessible typed
// map of named signals with change notification.
//
// The bus is partitioned into shards by a hash of the signal name; each
// shard is protected by a reader-writer lock, so readers never block
// readers and a write contends only within its shard. The bus provides no
// cross-signal atomicity; callers needing it compare revisions themselves.
package bus

import (
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"sync"
	"time"

	"github.com/relogix/scand/internal/value"
)

var (
	// ErrSignalNotFound is returned when a signal name is not declared.
	ErrSignalNotFound = errors.New("signal not found")
	// ErrAlreadyDeclared is returned when declaring a name twice.
	ErrAlreadyDeclared = errors.New("signal already declared")
	// ErrInvalidName is returned for names that do not match the signal
	// naming rule.
	ErrInvalidName = errors.New("invalid signal name")
)

const (
	shardCount = 16
	maxNameLen = 64
)

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidName reports whether a signal name is acceptable.
func ValidName(name string) bool {
	return len(name) <= maxNameLen && namePattern.MatchString(name)
}

// Signal is a point-in-time snapshot of one bus entry.
type Signal struct {
	Name      string
	Kind      value.Kind
	Value     value.Value
	Revision  uint64
	UpdatedAt time.Time
}

type entry struct {
	kind      value.Kind
	val       value.Value
	revision  uint64
	updatedAt time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Bus is the shared signal store. The zero value is not usable; use New.
type Bus struct {
	shards [shardCount]shard
	hub    watchHub
}

// New creates an empty bus.
func New() *Bus {
	b := &Bus{}
	for i := range b.shards {
		b.shards[i].entries = make(map[string]*entry)
	}
	b.hub.init()
	return b
}

func (b *Bus) shardFor(name string) *shard {
	h := fnv.New32a()
	h.Write([]byte(name))
	return &b.shards[h.Sum32()%shardCount]
}

// Declare registers a signal with its declared kind and initial value.
// The initial value's variant must equal the declared kind.
func (b *Bus) Declare(name string, k value.Kind, initial value.Value) error {
	if !ValidName(name) {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	if initial.Kind() != k {
		return fmt.Errorf("signal %q: initial value is %s, declared %s: %w",
			name, initial.Kind(), k, value.ErrTypeMismatch)
	}
	s := b.shardFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%q: %w", name, ErrAlreadyDeclared)
	}
	s.entries[name] = &entry{kind: k, val: initial, updatedAt: time.Now()}
	return nil
}

// Remove deletes a signal. Used only between scans during reload.
func (b *Bus) Remove(name string) error {
	s := b.shardFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; !ok {
		return fmt.Errorf("%q: %w", name, ErrSignalNotFound)
	}
	delete(s.entries, name)
	return nil
}

// Get returns the current value of a signal.
func (b *Bus) Get(name string) (value.Value, bool) {
	s := b.shardFor(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return value.Value{}, false
	}
	return e.val, true
}

// Lookup returns a full snapshot of a signal, including its revision.
func (b *Bus) Lookup(name string) (Signal, bool) {
	s := b.shardFor(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return Signal{}, false
	}
	return Signal{Name: name, Kind: e.kind, Value: e.val, Revision: e.revision, UpdatedAt: e.updatedAt}, true
}

// Kind returns the declared kind of a signal.
func (b *Bus) Kind(name string) (value.Kind, bool) {
	s := b.shardFor(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return 0, false
	}
	return e.kind, true
}

// Set commits a new value. It fails with ErrSignalNotFound for undeclared
// names and value.ErrTypeMismatch when the variant differs from the
// declared kind. On success the revision is bumped and watchers are
// notified after the commit.
func (b *Bus) Set(name string, v value.Value) error {
	s := b.shardFor(name)
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%q: %w", name, ErrSignalNotFound)
	}
	if v.Kind() != e.kind {
		s.mu.Unlock()
		return fmt.Errorf("signal %q: got %s, declared %s: %w",
			name, v.Kind(), e.kind, value.ErrTypeMismatch)
	}
	e.val = v
	e.revision++
	e.updatedAt = time.Now()
	u := Update{Name: name, Value: v, Revision: e.revision}
	s.mu.Unlock()

	b.hub.publish(u)
	return nil
}

// GetAll returns a snapshot of every signal. Each snapshot is internally
// consistent but the map is not a global atomic snapshot.
func (b *Bus) GetAll() map[string]Signal {
	out := make(map[string]Signal)
	for i := range b.shards {
		s := &b.shards[i]
		s.mu.RLock()
		for name, e := range s.entries {
			out[name] = Signal{Name: name, Kind: e.kind, Value: e.val, Revision: e.revision, UpdatedAt: e.updatedAt}
		}
		s.mu.RUnlock()
	}
	return out
}

// Len returns the number of declared signals.
func (b *Bus) Len() int {
	n := 0
	for i := range b.shards {
		s := &b.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
