// Package events is the structured event surface of the daemon. Every
// noteworthy state change is emitted here as a named, validated event;
// events land in an in-memory ring buffer for the HTTP API, fan out to
// live WebSocket subscribers, and, when a historian is attached, append
// to Postgres.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/relogix/scand/internal/storage/postgres"
)

var buffer = NewRingBuffer(256)

var (
	pgClient      *postgres.Client
	pgMu          sync.RWMutex
	pgErrorLogged bool
)

// SetPostgresClient attaches the historian client for event persistence.
func SetPostgresClient(client *postgres.Client) {
	pgMu.Lock()
	pgClient = client
	pgErrorLogged = false
	pgMu.Unlock()
}

// GetPostgresClient returns the current historian client, nil when
// history is disabled.
func GetPostgresClient() *postgres.Client {
	pgMu.RLock()
	defer pgMu.RUnlock()
	return pgClient
}

type Event struct {
	Timestamp string         `json:"ts"`
	Level     string         `json:"level"`
	Name      string         `json:"event"`
	Message   string         `json:"msg,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Emit records a named event. The name must be in the registry; a typo'd
// event name is a programming error and is rejected rather than stored.
func Emit(level, name, msg string, fields map[string]any) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.Add(e)
	broadcast(e)

	pgMu.RLock()
	client := pgClient
	errorLogged := pgErrorLogged
	pgMu.RUnlock()

	if client != nil {
		if err := client.AppendEvent(ts, level, name, msg, fields); err != nil {
			// Report the failure once, straight into the ring buffer.
			// Going through Emit here would recurse while Postgres is down.
			if !errorLogged {
				pgMu.Lock()
				first := !pgErrorLogged
				pgErrorLogged = true
				pgMu.Unlock()
				if first {
					buffer.Add(Event{
						Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
						Level:     "error",
						Name:      "system.error",
						Message:   "postgres append failed",
						Fields:    map[string]any{"error": err.Error()},
					})
				}
			}
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return b, nil
}

// Snapshot returns the buffered events, oldest first.
func Snapshot() []Event {
	return buffer.Snapshot()
}

// TotalCount returns the number of events emitted since startup.
func TotalCount() uint64 {
	return buffer.Total()
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.Clear()
}
