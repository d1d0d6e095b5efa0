package block

import (
	"fmt"
	"time"

	"github.com/relogix/scand/internal/bus"
	"github.com/relogix/scand/internal/config"
	"github.com/relogix/scand/internal/value"
)

func init() {
	register("TON", newTON)
	register("TOF", newTOF)
	register("TP", newTP)
}

// timerPreset reads and validates the shared pt_ms parameter.
func timerPreset(cfg config.BlockConfig) (time.Duration, error) {
	pt, err := paramInt(cfg, "pt_ms", -1)
	if err != nil {
		return 0, err
	}
	if pt < 0 {
		return 0, fmt.Errorf("block %q (%s): param pt_ms is required and must be >= 0", cfg.Name, cfg.Kind)
	}
	return time.Duration(pt) * time.Millisecond, nil
}

// tonBlock is an on-delay timer. When the input rises the current time is
// captured; while the input stays true, q becomes true once the preset
// time pt_ms has elapsed. A falling input clears the timer and q.
type tonBlock struct {
	base
	inSig, qSig string
	pt          time.Duration
	clk         Clock

	running bool
	startAt time.Time
}

func newTON(cfg config.BlockConfig, clk Clock) (Block, error) {
	b := &tonBlock{base: newBase(cfg), clk: clk}
	var err error
	if b.inSig, err = b.inPort("in"); err != nil {
		return nil, err
	}
	if b.qSig, err = b.outPort("q"); err != nil {
		return nil, err
	}
	if b.pt, err = timerPreset(cfg); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *tonBlock) Step(bs *bus.Bus) error {
	in, err := readBool(bs, b.inSig)
	if err != nil {
		return err
	}

	var q bool
	if in {
		now := b.clk.Now()
		if !b.running {
			b.running = true
			b.startAt = now
		}
		q = now.Sub(b.startAt) >= b.pt
	} else {
		b.running = false
	}
	return bs.Set(b.qSig, value.Bool(q))
}

// tofBlock is an off-delay timer. q follows the input up immediately; on
// a falling input, q stays true until pt_ms has elapsed since the fall.
type tofBlock struct {
	base
	inSig, qSig string
	pt          time.Duration
	clk         Clock

	lastIn  bool
	falling bool
	fallAt  time.Time
}

func newTOF(cfg config.BlockConfig, clk Clock) (Block, error) {
	b := &tofBlock{base: newBase(cfg), clk: clk}
	var err error
	if b.inSig, err = b.inPort("in"); err != nil {
		return nil, err
	}
	if b.qSig, err = b.outPort("q"); err != nil {
		return nil, err
	}
	if b.pt, err = timerPreset(cfg); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *tofBlock) Step(bs *bus.Bus) error {
	in, err := readBool(bs, b.inSig)
	if err != nil {
		return err
	}

	q := in
	if in {
		b.falling = false
	} else {
		if b.lastIn {
			b.falling = true
			b.fallAt = b.clk.Now()
		}
		if b.falling {
			q = b.clk.Now().Sub(b.fallAt) < b.pt
			if !q {
				b.falling = false
			}
		}
	}
	b.lastIn = in
	return bs.Set(b.qSig, value.Bool(q))
}

// tpBlock is a pulse timer. A rising input starts a pt_ms pulse on q; the
// pulse runs to completion and is not retriggerable while active. The
// input must fall before a new pulse can start.
type tpBlock struct {
	base
	inSig, qSig string
	pt          time.Duration
	clk         Clock

	lastIn  bool
	pulsing bool
	done    bool
	startAt time.Time
}

func newTP(cfg config.BlockConfig, clk Clock) (Block, error) {
	b := &tpBlock{base: newBase(cfg), clk: clk}
	var err error
	if b.inSig, err = b.inPort("in"); err != nil {
		return nil, err
	}
	if b.qSig, err = b.outPort("q"); err != nil {
		return nil, err
	}
	if b.pt, err = timerPreset(cfg); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *tpBlock) Step(bs *bus.Bus) error {
	in, err := readBool(bs, b.inSig)
	if err != nil {
		return err
	}

	now := b.clk.Now()
	if in && !b.lastIn && !b.pulsing && !b.done {
		b.pulsing = true
		b.startAt = now
	}
	if b.pulsing && now.Sub(b.startAt) >= b.pt {
		b.pulsing = false
		// Holds off retrigger until the input has fallen.
		b.done = in
	}
	if !in {
		b.done = false
	}
	b.lastIn = in
	return bs.Set(b.qSig, value.Bool(b.pulsing))
}
