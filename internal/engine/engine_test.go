package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relogix/scand/internal/config"
	"github.com/relogix/scand/internal/testutil"
	"github.com/relogix/scand/internal/value"
)

func newClock() *testutil.ManualClock {
	return testutil.NewManualClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
}

func mustParse(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

// waitScans blocks until at least n scans have completed. The manual
// clock free-runs, so this converges immediately in practice.
func waitScans(t *testing.T, e *Engine, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.Metrics().ScanCount() >= n
	}, 5*time.Second, time.Millisecond)
}

const gateYAML = `
version: 1
scan_time_ms: 10
signals:
  - {name: a, type: bool, initial: true}
  - {name: b, type: bool, initial: true}
  - {name: out, type: bool, initial: false}
blocks:
  - name: gate
    kind: AND
    inputs: {in1: a, in2: b}
    outputs: {out: out}
`

func TestEngineRunsGate(t *testing.T) {
	e, err := New(mustParse(t, gateYAML), newClock())
	require.NoError(t, err)
	assert.Equal(t, StateInitialized, e.State())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	waitScans(t, e, 3)
	require.NoError(t, e.Stop())
	assert.Equal(t, StateStopped, e.State())

	v, ok := e.Bus().Get("out")
	require.True(t, ok)
	b, err := v.AsBool()
	require.NoError(t, err)
	assert.True(t, b)
}

func TestEngineLayeredArithmetic(t *testing.T) {
	cfg := mustParse(t, `
version: 1
scan_time_ms: 10
signals:
  - {name: a, type: int, initial: 2}
  - {name: b, type: int, initial: 3}
  - {name: s, type: int, initial: 0}
  - {name: p, type: int, initial: 0}
blocks:
  - name: sum
    kind: ADD
    inputs: {a: a, b: b}
    outputs: {out: s}
  - name: scale
    kind: MUL
    inputs: {a: s, b: b}
    outputs: {out: p}
`)
	e, err := New(cfg, newClock())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	waitScans(t, e, 2)
	require.NoError(t, e.Stop())

	// scale runs after sum within the same scan.
	s, _ := e.Bus().Get("s")
	p, _ := e.Bus().Get("p")
	si, _ := s.AsInt()
	pi, _ := p.AsInt()
	assert.Equal(t, int64(5), si)
	assert.Equal(t, int64(15), pi)
}

func TestEngineFeedbackCounter(t *testing.T) {
	cfg := mustParse(t, `
version: 1
scan_time_ms: 10
signals:
  - {name: one, type: int, initial: 1}
  - {name: counter, type: int, initial: 0}
  - {name: next, type: int, initial: 0}
blocks:
  - name: inc
    kind: ADD
    inputs: {a: counter, b: one}
    outputs: {out: next}
  - name: hold
    kind: REG
    inputs: {in: next}
    outputs: {out: counter}
`)
	e, err := New(cfg, newClock())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	waitScans(t, e, 10)
	require.NoError(t, e.Pause())

	// Paused between scans, so counter equals the number of completed
	// scans exactly: the loop increments once per scan.
	scans := e.Metrics().ScanCount()
	v, _ := e.Bus().Get("counter")
	c, _ := v.AsInt()
	assert.Equal(t, int64(scans), c)
	require.NoError(t, e.Stop())
}

func TestEngineHoldLastGood(t *testing.T) {
	cfg := mustParse(t, `
version: 1
scan_time_ms: 10
signals:
  - {name: a, type: int, initial: 10}
  - {name: d, type: int, initial: 0}
  - {name: q, type: int, initial: 7}
blocks:
  - name: quot
    kind: DIV
    inputs: {a: a, b: d}
    outputs: {out: q}
`)
	e, err := New(cfg, newClock())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	waitScans(t, e, 3)
	require.NoError(t, e.Pause())

	// Every scan divides by zero; q keeps its last good value and its
	// revision never moves.
	sig, ok := e.Bus().Lookup("q")
	require.True(t, ok)
	qv, _ := sig.Value.AsInt()
	assert.Equal(t, int64(7), qv)
	assert.Equal(t, uint64(0), sig.Revision)

	m := e.Metrics().Snapshot()
	assert.GreaterOrEqual(t, m.ErrorCount, uint64(3))
	assert.GreaterOrEqual(t, m.BlockErrors["quot"], uint64(3))
	require.NoError(t, e.Stop())
}

func TestEngineOverrunResync(t *testing.T) {
	clk := newClock()
	e, err := New(mustParse(t, gateYAML), clk)
	require.NoError(t, err)

	// Make every scan take longer than the 10ms period.
	e.OnPostScan(func(context.Context) { clk.Advance(25 * time.Millisecond) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	waitScans(t, e, 5)
	require.NoError(t, e.Stop())

	m := e.Metrics().Snapshot()
	assert.GreaterOrEqual(t, m.OverrunCount, uint64(4))
	assert.GreaterOrEqual(t, m.LastScanDuration, 25*time.Millisecond)
}

func TestEngineStateTransitions(t *testing.T) {
	e, err := New(mustParse(t, gateYAML), newClock())
	require.NoError(t, err)

	// Commands before Start are invalid.
	assert.ErrorIs(t, e.Pause(), ErrInvalidTransition)
	assert.ErrorIs(t, e.Resume(), ErrInvalidTransition)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	assert.ErrorIs(t, e.Start(ctx), ErrInvalidTransition, "double start")
	assert.ErrorIs(t, e.Resume(), ErrInvalidTransition, "resume while running")

	require.NoError(t, e.Pause())
	assert.Equal(t, StatePaused, e.State())
	assert.ErrorIs(t, e.Pause(), ErrInvalidTransition, "double pause")

	require.NoError(t, e.Resume())
	assert.Equal(t, StateRunning, e.State())

	require.NoError(t, e.Stop())
	assert.Equal(t, StateStopped, e.State())
	assert.ErrorIs(t, e.Pause(), ErrInvalidTransition, "pause after stop")
}

func TestEngineReloadOnlyWhilePaused(t *testing.T) {
	e, err := New(mustParse(t, gateYAML), newClock())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	assert.ErrorIs(t, e.Reload(mustParse(t, gateYAML)), ErrInvalidTransition)
	require.NoError(t, e.Stop())
}

func TestEngineReloadPreservesValues(t *testing.T) {
	e, err := New(mustParse(t, gateYAML), newClock())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	waitScans(t, e, 2)
	require.NoError(t, e.Pause())

	// New config keeps a and out, drops b, adds c, and rewires the gate
	// into an inverter.
	next := mustParse(t, `
version: 1
scan_time_ms: 5
signals:
  - {name: a, type: bool, initial: false}
  - {name: c, type: int, initial: 42}
  - {name: out, type: bool, initial: false}
blocks:
  - name: invert
    kind: NOT
    inputs: {in: a}
    outputs: {out: out}
`)
	require.NoError(t, e.Reload(next))

	// a kept its running value (true), not the new initial.
	v, ok := e.Bus().Get("a")
	require.True(t, ok)
	av, _ := v.AsBool()
	assert.True(t, av)

	_, ok = e.Bus().Get("b")
	assert.False(t, ok, "dropped signal removed")

	v, ok = e.Bus().Get("c")
	require.True(t, ok)
	cv, _ := v.AsInt()
	assert.Equal(t, int64(42), cv)

	require.NoError(t, e.Resume())
	waitScans(t, e, e.Metrics().ScanCount()+2)
	require.NoError(t, e.Stop())

	// The inverter is live: a is true, so out went false.
	v, _ = e.Bus().Get("out")
	ov, _ := v.AsBool()
	assert.False(t, ov)
}

func TestEngineReloadInvalidConfigKeepsOld(t *testing.T) {
	e, err := New(mustParse(t, gateYAML), newClock())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Pause())

	bad := &config.Config{Version: 1, ScanTimeMS: 0}
	var cerr *config.Error
	require.ErrorAs(t, e.Reload(bad), &cerr)

	// Old plan still in place.
	assert.Equal(t, []string{"gate"}, e.Plan().Blocks())
	require.NoError(t, e.Resume())
	require.NoError(t, e.Stop())
}

func TestEngineParallelLayers(t *testing.T) {
	cfg := mustParse(t, `
version: 1
scan_time_ms: 10
workers: 4
signals:
  - {name: a, type: int, initial: 1}
  - {name: o1, type: int, initial: 0}
  - {name: o2, type: int, initial: 0}
  - {name: o3, type: int, initial: 0}
  - {name: o4, type: int, initial: 0}
blocks:
  - {name: w, kind: ADD, inputs: {a: a, b: a}, outputs: {out: o1}}
  - {name: x, kind: ADD, inputs: {a: a, b: a}, outputs: {out: o2}}
  - {name: y, kind: ADD, inputs: {a: a, b: a}, outputs: {out: o3}}
  - {name: z, kind: ADD, inputs: {a: a, b: a}, outputs: {out: o4}}
`)
	e, err := New(cfg, newClock())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	waitScans(t, e, 3)
	require.NoError(t, e.Stop())

	for _, sig := range []string{"o1", "o2", "o3", "o4"} {
		v, ok := e.Bus().Get(sig)
		require.True(t, ok)
		i, _ := v.AsInt()
		assert.Equal(t, int64(2), i, sig)
	}
}

func TestEngineContextCancelStops(t *testing.T) {
	e, err := New(mustParse(t, gateYAML), newClock())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	waitScans(t, e, 1)
	cancel()

	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop on context cancel")
	}
	assert.Equal(t, StateStopped, e.State())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := mustParse(t, gateYAML)
	cfg.Blocks[0].Inputs["in2"] = "missing"
	_, err := New(cfg, newClock())
	var cerr *config.Error
	assert.ErrorAs(t, err, &cerr)
}

func TestMetricsSnapshot(t *testing.T) {
	m := newMetrics([]string{"b1", "b2"})
	m.recordScan(3 * time.Millisecond)
	m.recordScan(5 * time.Millisecond)
	m.recordOverrun()
	m.recordBlockError("b1")
	m.recordBlockError("b1")

	s := m.Snapshot()
	assert.Equal(t, uint64(2), s.ScanCount)
	assert.Equal(t, uint64(1), s.OverrunCount)
	assert.Equal(t, uint64(2), s.ErrorCount)
	assert.Equal(t, 5*time.Millisecond, s.LastScanDuration)
	assert.Equal(t, 5*time.Millisecond, s.MaxScanDuration)
	assert.Equal(t, 4*time.Millisecond, s.AvgScanDuration)
	assert.Equal(t, uint64(2), s.BlockErrors["b1"])
	_, ok := s.BlockErrors["b2"]
	assert.False(t, ok, "zero counters omitted")
}

func TestMetricsSnapshotAvgNotTorn(t *testing.T) {
	// Every scan takes exactly 2ms, so a snapshot whose count and total
	// were read as a pair can never average above 2ms. The only slack
	// is the newest scan counted before its duration lands.
	m := newMetrics(nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			m.recordScan(2 * time.Millisecond)
		}
	}()
	for {
		s := m.Snapshot()
		if s.ScanCount >= 2 {
			floor := time.Duration((s.ScanCount - 1) * uint64(2*time.Millisecond) / s.ScanCount)
			require.GreaterOrEqual(t, s.AvgScanDuration, floor)
			require.LessOrEqual(t, s.AvgScanDuration, 2*time.Millisecond)
		}
		select {
		case <-done:
			final := m.Snapshot()
			require.Equal(t, uint64(10000), final.ScanCount)
			require.Equal(t, 2*time.Millisecond, final.AvgScanDuration)
			return
		default:
		}
	}
}

const replayYAML = `
version: 1
scan_time_ms: 10
signals:
  - {name: one, type: int, initial: 1}
  - {name: counter, type: int, initial: 0}
  - {name: next, type: int, initial: 0}
  - {name: noise, type: float, initial: 0.0}
  - {name: hot, type: bool, initial: false}
blocks:
  - name: inc
    kind: ADD
    inputs: {a: counter, b: one}
    outputs: {out: next}
  - name: hold
    kind: REG
    inputs: {in: next}
    outputs: {out: counter}
  - name: jitter
    kind: RANDOM
    outputs: {out: noise}
    params: {min: 0, max: 100, seed: 7}
  - name: alarm
    kind: GT
    inputs: {a: noise, b: counter}
    outputs: {out: hot}
`

func TestEngineDeterministicReplay(t *testing.T) {
	// Two engines built from the same program, stepped the same number
	// of times off identical clocks, must agree on every signal's value
	// and revision after each scan.
	mk := func() *Engine {
		e, err := New(mustParse(t, replayYAML), newClock())
		require.NoError(t, err)
		return e
	}
	e1, e2 := mk(), mk()
	ctx := context.Background()

	for scan := 1; scan <= 50; scan++ {
		e1.scan(ctx)
		e2.scan(ctx)
		s1, s2 := e1.Bus().GetAll(), e2.Bus().GetAll()
		require.Len(t, s2, len(s1))
		for name, sig := range s1 {
			other, ok := s2[name]
			require.True(t, ok, "scan %d: %s missing", scan, name)
			assert.Equal(t, sig.Value, other.Value, "scan %d: %s value", scan, name)
			assert.Equal(t, sig.Revision, other.Revision, "scan %d: %s revision", scan, name)
		}
	}

	// The loop genuinely advanced: 50 scans of +1 through the register.
	v, _ := e1.Bus().Get("counter")
	n, _ := v.AsInt()
	assert.Equal(t, int64(50), n)
}

func TestValueKindPreservedAcrossScans(t *testing.T) {
	// An int ADD writing a float-declared signal promotes on every scan.
	cfg := mustParse(t, `
version: 1
scan_time_ms: 10
signals:
  - {name: a, type: int, initial: 2}
  - {name: f, type: float, initial: 0.0}
blocks:
  - name: sum
    kind: ADD
    inputs: {a: a, b: a}
    outputs: {out: f}
`)
	e, err := New(cfg, newClock())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	waitScans(t, e, 2)
	require.NoError(t, e.Stop())

	v, _ := e.Bus().Get("f")
	assert.Equal(t, value.KindFloat, v.Kind())
	fv, _ := v.AsFloat()
	assert.Equal(t, 4.0, fv)
}
