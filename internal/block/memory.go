package block

import (
	"github.com/relogix/scand/internal/bus"
	"github.com/relogix/scand/internal/config"
	"github.com/relogix/scand/internal/value"
)

func init() {
	register("SR", newLatch)
	register("RS", newLatch)
	register("REG", newReg)
}

// latchBlock is a set/reset latch. SR is set-dominant: with both inputs
// true the output is set. RS is reset-dominant: reset wins.
type latchBlock struct {
	base
	sSig, rSig, qSig string
	q                bool
}

func newLatch(cfg config.BlockConfig, _ Clock) (Block, error) {
	b := &latchBlock{base: newBase(cfg)}
	var err error
	if b.sSig, err = b.inPort("s"); err != nil {
		return nil, err
	}
	if b.rSig, err = b.inPort("r"); err != nil {
		return nil, err
	}
	if b.qSig, err = b.outPort("q"); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *latchBlock) Step(bs *bus.Bus) error {
	s, err := readBool(bs, b.sSig)
	if err != nil {
		return err
	}
	r, err := readBool(bs, b.rSig)
	if err != nil {
		return err
	}

	var q bool
	if b.kind == "SR" {
		q = s || (b.q && !r)
	} else {
		q = !r && (s || b.q)
	}
	if err := bs.Set(b.qSig, value.Bool(q)); err != nil {
		return err
	}
	b.q = q
	return nil
}

// regBlock copies its input to its output once per scan. Because the
// scheduler does not order consumers of a delay block after it inside a
// feedback loop, a REG closing a cycle hands its consumers the value the
// loop produced in the previous scan.
type regBlock struct {
	base
	inSig, outSig string
}

func newReg(cfg config.BlockConfig, _ Clock) (Block, error) {
	b := &regBlock{base: newBase(cfg)}
	var err error
	if b.inSig, err = b.inPort("in"); err != nil {
		return nil, err
	}
	if b.outSig, err = b.outPort("out"); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *regBlock) Step(bs *bus.Bus) error {
	v, err := readValue(bs, b.inSig)
	if err != nil {
		return err
	}
	return writeResult(bs, b.outSig, v)
}
