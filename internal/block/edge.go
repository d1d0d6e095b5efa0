package block

import (
	"github.com/relogix/scand/internal/bus"
	"github.com/relogix/scand/internal/config"
	"github.com/relogix/scand/internal/value"
)

func init() {
	register("R_TRIG", newEdge)
	register("F_TRIG", newEdge)
}

// edgeBlock detects rising (R_TRIG) or falling (F_TRIG) transitions of a
// boolean input. The output q is true for exactly one scan following the
// transition. The previous sample starts false, so an input that is
// already true on the first scan counts as a rising edge.
type edgeBlock struct {
	base
	inSig, qSig string
	prev        bool
}

func newEdge(cfg config.BlockConfig, _ Clock) (Block, error) {
	b := &edgeBlock{base: newBase(cfg)}
	var err error
	if b.inSig, err = b.inPort("in"); err != nil {
		return nil, err
	}
	if b.qSig, err = b.outPort("q"); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *edgeBlock) Step(bs *bus.Bus) error {
	in, err := readBool(bs, b.inSig)
	if err != nil {
		return err
	}
	var q bool
	if b.kind == "R_TRIG" {
		q = in && !b.prev
	} else {
		q = !in && b.prev
	}
	if err := bs.Set(b.qSig, value.Bool(q)); err != nil {
		return err
	}
	b.prev = in
	return nil
}
