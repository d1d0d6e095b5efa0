// Package engine runs the scan loop: a fixed-period cycle that executes
// every block once per scan against the signal bus.
//
// The engine owns the lifecycle state machine. Operator commands (pause,
// resume, reload, stop) are serialized through a command channel and only
// take effect between scans; a scan always runs to completion.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relogix/scand/internal/block"
	"github.com/relogix/scand/internal/bus"
	"github.com/relogix/scand/internal/config"
	"github.com/relogix/scand/internal/events"
	"github.com/relogix/scand/internal/scheduler"
)

// ErrInvalidTransition is returned for lifecycle commands that are not
// legal in the current state, such as pausing a stopped engine.
var ErrInvalidTransition = errors.New("invalid state transition")

// State is the engine lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateInitialized
	StateRunning
	StatePaused
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Clock abstracts time for the scan loop so tests can drive it
// deterministically.
type Clock interface {
	Now() time.Time
	// SleepUntil blocks until the deadline or context cancellation.
	SleepUntil(ctx context.Context, deadline time.Time) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) SleepUntil(ctx context.Context, deadline time.Time) error {
	d := time.Until(deadline)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Hook runs inside the scan cycle. Pre-scan hooks flush driver input into
// the bus before the first layer; post-scan hooks run after the last
// layer, before the deadline sleep. Hooks must not block.
type Hook func(ctx context.Context)

type cmdKind int

const (
	cmdPause cmdKind = iota
	cmdResume
	cmdStop
	cmdReload
)

type command struct {
	kind  cmdKind
	cfg   *config.Config
	reply chan error
}

// Engine executes a block plan at a fixed period against a signal bus.
type Engine struct {
	clk Clock

	mu      sync.Mutex
	state   State
	cfg     *config.Config
	bus     *bus.Bus
	blocks  map[string]block.Block
	plan    *scheduler.Plan
	period  time.Duration
	workers int

	metrics  *Metrics
	preScan  []Hook
	postScan []Hook

	// lastErr tracks each block's current error text so block.error is
	// emitted on the transition into (or between different) failures, not
	// every scan. Guarded by errMu: parallel layers step blocks from
	// multiple goroutines.
	errMu   sync.Mutex
	lastErr map[string]string

	cmds chan command
	done chan struct{}
}

// New builds an engine from a validated configuration: signals are
// declared on a fresh bus, blocks are instantiated, and the execution
// plan is computed. The engine comes back in the initialized state.
func New(cfg *config.Config, clk Clock) (*Engine, error) {
	if clk == nil {
		clk = realClock{}
	}
	e := &Engine{
		clk:     clk,
		state:   StateCreated,
		lastErr: make(map[string]string),
		cmds:    make(chan command),
		done:    make(chan struct{}),
	}
	if err := e.build(cfg); err != nil {
		return nil, err
	}
	e.metrics = newMetrics(e.plan.Blocks())
	e.state = StateInitialized
	return e, nil
}

// build constructs bus, blocks and plan from cfg. On success the engine
// fields are replaced wholesale; on failure the engine is untouched.
func (e *Engine) build(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	b := bus.New()
	for _, sc := range cfg.Signals {
		initial, err := cfg.InitialValue(sc.Name)
		if err != nil {
			return err
		}
		if err := b.Declare(sc.Name, initial.Kind(), initial); err != nil {
			return config.Errf("signals", "declare %q: %v", sc.Name, err)
		}
	}

	blocks := make(map[string]block.Block, len(cfg.Blocks))
	for _, bc := range cfg.Blocks {
		blk, err := block.New(bc, e.clk)
		if err != nil {
			return config.Errf("blocks", "%v", err)
		}
		blocks[bc.Name] = blk
	}

	plan, err := scheduler.Build(cfg.Blocks, blocks)
	if err != nil {
		return err
	}

	e.cfg = cfg
	e.bus = b
	e.blocks = blocks
	e.plan = plan
	e.period = time.Duration(cfg.ScanTimeMS) * time.Millisecond
	e.workers = cfg.Workers
	return nil
}

// Bus returns the signal bus.
func (e *Engine) Bus() *bus.Bus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bus
}

// Metrics returns the scan counters.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Plan returns the current execution plan.
func (e *Engine) Plan() *scheduler.Plan {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plan
}

// Config returns the active configuration.
func (e *Engine) Config() *config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// OnPreScan registers a hook to run before each scan's first layer.
// Must be called before Start.
func (e *Engine) OnPreScan(h Hook) { e.preScan = append(e.preScan, h) }

// OnPostScan registers a hook to run after each scan's last layer.
// Must be called before Start.
func (e *Engine) OnPostScan(h Hook) { e.postScan = append(e.postScan, h) }

// Start launches the scan loop. Only legal once, from the initialized
// state. The loop stops when Stop is called or ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateInitialized {
		e.mu.Unlock()
		return fmt.Errorf("start from %s: %w", e.state, ErrInvalidTransition)
	}
	e.state = StateRunning
	e.mu.Unlock()

	events.Emit("info", "engine.started", "scan loop running", map[string]any{
		"scan_time_ms": e.cfg.ScanTimeMS,
		"blocks":       len(e.blocks),
		"layers":       len(e.plan.Layers),
	})
	go e.run(ctx)
	return nil
}

// Pause suspends scanning after the current scan completes. Signal values
// hold; drivers and the API keep serving reads.
func (e *Engine) Pause() error { return e.send(command{kind: cmdPause}) }

// Resume continues scanning from the paused state. The scan deadline is
// re-based on resume time, so the pause does not count as overrun debt.
func (e *Engine) Resume() error { return e.send(command{kind: cmdResume}) }

// Reload atomically swaps in a new configuration. Only legal while
// paused. On any error the engine keeps running the old configuration.
func (e *Engine) Reload(cfg *config.Config) error {
	return e.send(command{kind: cmdReload, cfg: cfg})
}

// Stop terminates the scan loop and waits for it to exit.
func (e *Engine) Stop() error {
	if err := e.send(command{kind: cmdStop}); err != nil {
		return err
	}
	<-e.done
	return nil
}

// Done is closed when the scan loop has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) send(cmd command) error {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state != StateRunning && state != StatePaused {
		return fmt.Errorf("%s command in state %s: %w", cmdName(cmd.kind), state, ErrInvalidTransition)
	}
	cmd.reply = make(chan error, 1)
	select {
	case e.cmds <- cmd:
		return <-cmd.reply
	case <-e.done:
		return fmt.Errorf("%s command in state %s: %w", cmdName(cmd.kind), StateStopped, ErrInvalidTransition)
	}
}

func cmdName(k cmdKind) string {
	switch k {
	case cmdPause:
		return "pause"
	case cmdResume:
		return "resume"
	case cmdStop:
		return "stop"
	case cmdReload:
		return "reload"
	}
	return "unknown"
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	next := e.clk.Now().Add(e.period)
	for {
		select {
		case <-ctx.Done():
			e.shutdown("context cancelled")
			return
		case cmd := <-e.cmds:
			stop, resync := e.handle(ctx, cmd)
			if stop {
				return
			}
			if resync {
				next = e.clk.Now().Add(e.period)
			}
			continue
		default:
		}

		start := e.clk.Now()
		e.scan(ctx)
		e.metrics.recordScan(e.clk.Now().Sub(start))

		now := e.clk.Now()
		if now.After(next) {
			e.metrics.recordOverrun()
			events.Emit("warning", "scan.overrun", "", map[string]any{
				"scan":       e.metrics.ScanCount(),
				"elapsed_ms": now.Sub(start).Milliseconds(),
				"period_ms":  e.period.Milliseconds(),
			})
			// Re-base instead of catching up: one slow scan must not
			// trigger a burst of back-to-back scans.
			next = now.Add(e.period)
			continue
		}
		if err := e.clk.SleepUntil(ctx, next); err != nil {
			e.shutdown("context cancelled")
			return
		}
		next = next.Add(e.period)
	}
}

// handle processes one command. Returns stop=true when the loop must
// exit, resync=true when the scan deadline must be re-based.
func (e *Engine) handle(ctx context.Context, cmd command) (stop, resync bool) {
	switch cmd.kind {
	case cmdPause:
		if e.State() != StateRunning {
			cmd.reply <- fmt.Errorf("pause from %s: %w", e.State(), ErrInvalidTransition)
			return false, false
		}
		e.setState(StatePaused)
		events.Emit("info", "engine.paused", "", nil)
		cmd.reply <- nil
		return e.pausedLoop(ctx)

	case cmdResume:
		cmd.reply <- fmt.Errorf("resume from %s: %w", e.State(), ErrInvalidTransition)
		return false, false

	case cmdReload:
		cmd.reply <- fmt.Errorf("reload from %s: %w", e.State(), ErrInvalidTransition)
		return false, false

	case cmdStop:
		e.setState(StateStopping)
		e.shutdown("operator stop")
		cmd.reply <- nil
		return true, false
	}
	cmd.reply <- fmt.Errorf("unknown command %d", cmd.kind)
	return false, false
}

// pausedLoop blocks on commands until resume or stop.
func (e *Engine) pausedLoop(ctx context.Context) (stop, resync bool) {
	for {
		select {
		case <-ctx.Done():
			e.shutdown("context cancelled")
			return true, false
		case cmd := <-e.cmds:
			switch cmd.kind {
			case cmdResume:
				e.setState(StateRunning)
				events.Emit("info", "engine.resumed", "", nil)
				cmd.reply <- nil
				return false, true
			case cmdReload:
				cmd.reply <- e.reload(cmd.cfg)
			case cmdStop:
				e.setState(StateStopping)
				e.shutdown("operator stop")
				cmd.reply <- nil
				return true, false
			case cmdPause:
				cmd.reply <- fmt.Errorf("pause from %s: %w", StatePaused, ErrInvalidTransition)
			}
		}
	}
}

func (e *Engine) shutdown(reason string) {
	e.setState(StateStopping)
	events.Emit("info", "engine.stopped", reason, map[string]any{
		"scans":    e.metrics.ScanCount(),
		"overruns": e.metrics.OverrunCount(),
	})
	e.setState(StateStopped)
}

// scan executes one full cycle: pre hooks, every layer in order, post
// hooks. A failing block is recorded and skipped over; its outputs keep
// their last good values and the scan continues.
func (e *Engine) scan(ctx context.Context) {
	for _, h := range e.preScan {
		h(ctx)
	}

	for _, layer := range e.plan.Layers {
		if e.workers > 1 && len(layer) > 1 {
			g := &errgroup.Group{}
			g.SetLimit(e.workers)
			for _, name := range layer {
				blk := e.blocks[name]
				g.Go(func() error {
					e.stepBlock(blk)
					return nil
				})
			}
			g.Wait()
		} else {
			for _, name := range layer {
				e.stepBlock(e.blocks[name])
			}
		}
	}

	for _, h := range e.postScan {
		h(ctx)
	}
}

func (e *Engine) stepBlock(blk block.Block) {
	e.metrics.recordBlockStep()
	err := blk.Step(e.bus)
	name := blk.Name()
	if err == nil {
		e.errMu.Lock()
		delete(e.lastErr, name)
		e.errMu.Unlock()
		return
	}

	e.metrics.recordBlockError(name)
	msg := err.Error()
	e.errMu.Lock()
	changed := e.lastErr[name] != msg
	e.lastErr[name] = msg
	e.errMu.Unlock()
	if changed {
		events.Emit("error", "block.error", msg, map[string]any{
			"block": name,
			"kind":  blk.Kind(),
		})
		log.Printf("block %s (%s) failed: %v", name, blk.Kind(), err)
	}
}

// reload swaps in a new configuration while paused. The bus is
// reconciled in place so watchers survive the reload: signals present in
// both configs with an unchanged type keep their current values, new
// signals are declared with their initial value, removed signals are
// dropped, and a signal whose type changed is re-initialized.
func (e *Engine) reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	blocks := make(map[string]block.Block, len(cfg.Blocks))
	for _, bc := range cfg.Blocks {
		blk, err := block.New(bc, e.clk)
		if err != nil {
			return config.Errf("blocks", "%v", err)
		}
		blocks[bc.Name] = blk
	}
	plan, err := scheduler.Build(cfg.Blocks, blocks)
	if err != nil {
		return err
	}

	// All fallible work is done; reconcile the live bus.
	keep := make(map[string]bool, len(cfg.Signals))
	for _, sc := range cfg.Signals {
		keep[sc.Name] = true
	}
	for name := range e.bus.GetAll() {
		if !keep[name] {
			e.bus.Remove(name)
		}
	}
	for _, sc := range cfg.Signals {
		initial, err := cfg.InitialValue(sc.Name)
		if err != nil {
			return err
		}
		if cur, ok := e.bus.Get(sc.Name); ok {
			if cur.Kind() == initial.Kind() {
				continue
			}
			e.bus.Remove(sc.Name)
		}
		if err := e.bus.Declare(sc.Name, initial.Kind(), initial); err != nil {
			return config.Errf("signals", "declare %q: %v", sc.Name, err)
		}
	}

	e.mu.Lock()
	e.cfg = cfg
	e.blocks = blocks
	e.plan = plan
	e.period = time.Duration(cfg.ScanTimeMS) * time.Millisecond
	e.workers = cfg.Workers
	e.mu.Unlock()

	e.metrics.setBlocks(plan.Blocks())
	e.errMu.Lock()
	e.lastErr = make(map[string]string)
	e.errMu.Unlock()

	events.Emit("info", "engine.reloaded", "", map[string]any{
		"signals": len(cfg.Signals),
		"blocks":  len(cfg.Blocks),
	})
	return nil
}
