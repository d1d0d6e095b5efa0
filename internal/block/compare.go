package block

import (
	"fmt"

	"github.com/relogix/scand/internal/bus"
	"github.com/relogix/scand/internal/config"
	"github.com/relogix/scand/internal/value"
)

func init() {
	register("GT", newCompare)
	register("LT", newCompare)
	register("GTE", newCompare)
	register("LTE", newCompare)
	register("EQ", newCompare)
	register("NEQ", newCompare)
}

// compareBlock compares ports a and b and writes a boolean. Int promotes
// to Float; bool or string operands mixed with numerics are a type error
// and must go through an explicit convert block.
type compareBlock struct {
	base
	aSig, bSig, outSig string
}

func newCompare(cfg config.BlockConfig, _ Clock) (Block, error) {
	b := &compareBlock{base: newBase(cfg)}
	var err error
	if b.aSig, err = b.inPort("a"); err != nil {
		return nil, err
	}
	if b.bSig, err = b.inPort("b"); err != nil {
		return nil, err
	}
	if b.outSig, err = b.outPort("out"); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *compareBlock) Step(bs *bus.Bus) error {
	av, err := readValue(bs, b.aSig)
	if err != nil {
		return err
	}
	bv, err := readValue(bs, b.bSig)
	if err != nil {
		return err
	}
	c, err := av.Compare(bv)
	if err != nil {
		return fmt.Errorf("block %q: %w", b.name, err)
	}

	var result bool
	switch b.kind {
	case "GT":
		result = c > 0
	case "LT":
		result = c < 0
	case "GTE":
		result = c >= 0
	case "LTE":
		result = c <= 0
	case "EQ":
		result = c == 0
	case "NEQ":
		result = c != 0
	}
	return bs.Set(b.outSig, value.Bool(result))
}
