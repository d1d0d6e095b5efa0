package postgres

import (
	"context"
	"log"
	"time"

	"github.com/relogix/scand/internal/bus"
	"github.com/relogix/scand/internal/value"
)

// Historian records signal changes to Postgres. It consumes a coalescing
// bus subscription, so during a write burst it persists at most the
// latest value per signal rather than every intermediate revision.
type Historian struct {
	client *Client
	bus    *bus.Bus

	lastStored map[string]value.Value
}

// NewHistorian wires a historian to a bus. Run must be called to start
// recording.
func NewHistorian(client *Client, b *bus.Bus) *Historian {
	return &Historian{
		client:     client,
		bus:        b,
		lastStored: make(map[string]value.Value),
	}
}

// Run consumes signal updates until the context is cancelled. Repeated
// writes of an unchanged value bump the revision but are not stored;
// history is about value changes.
func (h *Historian) Run(ctx context.Context) {
	sub := h.bus.WatchAll()
	defer sub.Close()

	for {
		updates, err := sub.Next(ctx)
		if err != nil {
			return
		}
		for _, u := range updates {
			if prev, ok := h.lastStored[u.Name]; ok && prev.Equal(u.Value) {
				continue
			}
			err := h.client.AppendSignal(
				time.Now().UTC(), u.Name, u.Value.Kind().String(), u.Value.String(), u.Revision)
			if err != nil {
				// Keep scanning; the historian is best-effort by contract.
				log.Printf("historian: append %s failed: %v", u.Name, err)
				continue
			}
			h.lastStored[u.Name] = u.Value
		}
	}
}
