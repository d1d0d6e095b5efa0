package block

import (
	"fmt"

	"github.com/relogix/scand/internal/bus"
	"github.com/relogix/scand/internal/config"
	"github.com/relogix/scand/internal/value"
)

func init() {
	register("AND", newLogic)
	register("OR", newLogic)
	register("XOR", newLogic)
	register("NOT", newNot)
}

// logicBlock evaluates AND, OR or XOR over two or more boolean inputs.
// XOR over n inputs is true when an odd number of inputs is true.
type logicBlock struct {
	base
	operands []string // input signals in port order
	outSig   string
}

func newLogic(cfg config.BlockConfig, _ Clock) (Block, error) {
	b := &logicBlock{base: newBase(cfg)}
	if len(cfg.Inputs) < 2 {
		return nil, fmt.Errorf("block %q (%s): needs at least 2 inputs, got %d",
			cfg.Name, cfg.Kind, len(cfg.Inputs))
	}
	for _, port := range b.sortedInPorts() {
		b.operands = append(b.operands, cfg.Inputs[port])
	}
	out, err := b.outPort("out")
	if err != nil {
		return nil, err
	}
	b.outSig = out
	return b, nil
}

func (b *logicBlock) Step(bs *bus.Bus) error {
	result, err := readBool(bs, b.operands[0])
	if err != nil {
		return err
	}
	for _, sig := range b.operands[1:] {
		// Short-circuiting would be legal (steps are side-effect free) but
		// reading every input keeps missing-signal errors deterministic.
		v, err := readBool(bs, sig)
		if err != nil {
			return err
		}
		switch b.kind {
		case "AND":
			result = result && v
		case "OR":
			result = result || v
		case "XOR":
			result = result != v
		}
	}
	return bs.Set(b.outSig, value.Bool(result))
}

// notBlock inverts a single boolean input.
type notBlock struct {
	base
	inSig, outSig string
}

func newNot(cfg config.BlockConfig, _ Clock) (Block, error) {
	b := &notBlock{base: newBase(cfg)}
	var err error
	if b.inSig, err = b.inPort("in"); err != nil {
		return nil, err
	}
	if b.outSig, err = b.outPort("out"); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *notBlock) Step(bs *bus.Bus) error {
	v, err := readBool(bs, b.inSig)
	if err != nil {
		return err
	}
	return bs.Set(b.outSig, value.Bool(!v))
}
