package mqtt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relogix/scand/internal/bus"
	"github.com/relogix/scand/internal/config"
	"github.com/relogix/scand/internal/value"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func testDriver(t *testing.T) (*Driver, *bus.Bus) {
	t.Helper()
	b := bus.New()
	require.NoError(t, b.Declare("temp", value.KindFloat, value.Float(0)))
	require.NoError(t, b.Declare("door", value.KindBool, value.Bool(false)))
	require.NoError(t, b.Declare("alarm", value.KindBool, value.Bool(false)))

	cfg := &config.MQTTConfig{
		Enabled: true,
		Subscribe: []config.TopicMap{
			{Topic: "plant/temp", Signal: "temp"},
			{Topic: "plant/door", Signal: "door"},
		},
		Publish: []config.TopicMap{
			{Signal: "alarm", Topic: "plant/alarm"},
		},
	}
	d, err := NewDriver(cfg, b)
	require.NoError(t, err)
	return d, b
}

func TestRegistryBindings(t *testing.T) {
	d, _ := testDriver(t)

	sig, ok := d.registry.SignalForTopic("plant/temp")
	require.True(t, ok)
	assert.Equal(t, "temp", sig)

	_, ok = d.registry.SignalForTopic("plant/unknown")
	assert.False(t, ok)

	topic, ok := d.registry.TopicForSignal("alarm")
	require.True(t, ok)
	assert.Equal(t, "plant/alarm", topic)

	assert.Equal(t, []string{"plant/door", "plant/temp"}, d.registry.InboundTopics())
}

func TestRegistrySubscribedIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	assert.True(t, r.MarkSubscribed("a/b"))
	assert.False(t, r.MarkSubscribed("a/b"))
	r.ClearSubscribed()
	assert.True(t, r.MarkSubscribed("a/b"))
}

func TestInboundStagedUntilFlush(t *testing.T) {
	d, b := testDriver(t)

	d.handleMessage(nil, &fakeMessage{topic: "plant/temp", payload: []byte("21.5")})

	// Nothing reaches the bus until the pre-scan flush.
	v, _ := b.Get("temp")
	f, _ := v.AsFloat()
	assert.Equal(t, 0.0, f)

	d.FlushInputs(context.Background())
	v, _ = b.Get("temp")
	f, _ = v.AsFloat()
	assert.Equal(t, 21.5, f)
}

func TestInboundCoalescesToLatest(t *testing.T) {
	d, b := testDriver(t)

	for i := 1; i <= 5; i++ {
		d.handleMessage(nil, &fakeMessage{topic: "plant/temp", payload: []byte{byte('0' + i)}})
	}
	d.FlushInputs(context.Background())

	sig, _ := b.Lookup("temp")
	f, _ := sig.Value.AsFloat()
	assert.Equal(t, 5.0, f)
	assert.Equal(t, uint64(1), sig.Revision, "one write per scan, not per message")
}

func TestInboundPayloadConversion(t *testing.T) {
	d, b := testDriver(t)

	d.handleMessage(nil, &fakeMessage{topic: "plant/door", payload: []byte("true")})
	d.handleMessage(nil, &fakeMessage{topic: "plant/temp", payload: []byte(`"19.25"`)})
	d.FlushInputs(context.Background())

	door, _ := b.Get("door")
	dv, _ := door.AsBool()
	assert.True(t, dv)

	temp, _ := b.Get("temp")
	tv, _ := temp.AsFloat()
	assert.Equal(t, 19.25, tv)
}

func TestInboundBadPayloadDropped(t *testing.T) {
	d, b := testDriver(t)

	d.handleMessage(nil, &fakeMessage{topic: "plant/temp", payload: []byte("not a number")})
	d.FlushInputs(context.Background())

	sig, _ := b.Lookup("temp")
	assert.Equal(t, uint64(0), sig.Revision, "bad payload never reaches the bus")
}

func TestInboundUnknownTopicIgnored(t *testing.T) {
	d, _ := testDriver(t)
	d.handleMessage(nil, &fakeMessage{topic: "plant/unknown", payload: []byte("1")})
	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Empty(t, d.staged)
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		kind    value.Kind
		payload string
		want    value.Value
	}{
		{value.KindBool, "true", value.Bool(true)},
		{value.KindBool, `"false"`, value.Bool(false)},
		{value.KindInt, "42", value.Int(42)},
		{value.KindFloat, "2.5", value.Float(2.5)},
		{value.KindString, `"hello"`, value.String("hello")},
		{value.KindString, "raw text", value.String("raw text")},
	}
	for _, tt := range tests {
		got, err := decodePayload(tt.kind, []byte(tt.payload))
		require.NoError(t, err, tt.payload)
		assert.True(t, got.Equal(tt.want), "decode %s as %s: got %v", tt.payload, tt.kind, got)
	}

	_, err := decodePayload(value.KindInt, []byte("2.5"))
	assert.Error(t, err, "fractional payload for an int signal")
}
