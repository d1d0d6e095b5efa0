package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitValidatesName(t *testing.T) {
	Clear()
	_, err := Emit("info", "engine.levitated", "", nil)
	assert.Error(t, err)
	assert.Empty(t, Snapshot())
}

func TestEmitBuffersAndMarshals(t *testing.T) {
	Clear()
	b, err := Emit("info", "engine.started", "scan loop running", map[string]any{
		"scan_time_ms": 10,
	})
	require.NoError(t, err)

	var e Event
	require.NoError(t, json.Unmarshal(b, &e))
	assert.Equal(t, "engine.started", e.Name)
	assert.Equal(t, "info", e.Level)
	assert.Equal(t, "scan loop running", e.Message)

	snap := Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "engine.started", snap[0].Name)
	assert.Equal(t, uint64(1), TotalCount())
}

func TestRingBufferWraps(t *testing.T) {
	rb := NewRingBuffer(4)
	for i := 0; i < 6; i++ {
		rb.Add(Event{Message: string(rune('a' + i))})
	}
	snap := rb.Snapshot()
	require.Len(t, snap, 4)
	assert.Equal(t, "c", snap[0].Message, "oldest surviving event first")
	assert.Equal(t, "f", snap[3].Message)
	assert.Equal(t, uint64(6), rb.Total())
}

func TestSubscribeReceivesEmitted(t *testing.T) {
	Clear()
	sub := Subscribe()
	defer Unsubscribe(sub)

	_, err := Emit("warning", "scan.overrun", "", map[string]any{"scan": 17})
	require.NoError(t, err)

	select {
	case e := <-sub:
		assert.Equal(t, "scan.overrun", e.Name)
	default:
		t.Fatal("subscriber did not receive event")
	}
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	Clear()
	sub := Subscribe()
	defer Unsubscribe(sub)

	for i := 0; i < 200; i++ {
		_, err := Emit("info", "signal.changed", "", nil)
		require.NoError(t, err)
	}
	// The subscriber buffer holds 64; the rest must have been dropped
	// without Emit ever blocking.
	assert.Len(t, sub, 64)
}

func TestRecentEvents(t *testing.T) {
	Clear()
	for i := 0; i < 5; i++ {
		_, err := Emit("info", "signal.changed", "", map[string]any{"n": i})
		require.NoError(t, err)
	}
	recent := RecentEvents(2)
	require.Len(t, recent, 2)
	assert.Equal(t, 4, recent[1].Fields["n"])
}
