package block

import (
	"fmt"
	"math"

	"github.com/relogix/scand/internal/bus"
	"github.com/relogix/scand/internal/config"
	"github.com/relogix/scand/internal/value"
)

func init() {
	register("ADD", newArith)
	register("SUB", newArith)
	register("MUL", newArith)
	register("DIV", newArith)
	register("MOD", newArith)
}

// arithBlock computes a binary arithmetic operation on ports a and b.
//
// Two integer operands produce an integer; any float operand promotes the
// result to float. Integer arithmetic wraps by default; with the
// `checked: true` parameter an overflow is a domain error instead.
// Division or modulo by zero is always a domain error.
type arithBlock struct {
	base
	aSig, bSig, outSig string
	checked            bool
}

func newArith(cfg config.BlockConfig, _ Clock) (Block, error) {
	b := &arithBlock{base: newBase(cfg)}
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
	if b.checked, err = paramBool(cfg, "checked", false); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *arithBlock) Step(bs *bus.Bus) error {
	av, err := readValue(bs, b.aSig)
	if err != nil {
		return err
	}
	bv, err := readValue(bs, b.bSig)
	if err != nil {
		return err
	}

	var result value.Value
	if av.Kind() == value.KindInt && bv.Kind() == value.KindInt {
		ai, _ := av.AsInt()
		bi, _ := bv.AsInt()
		r, err := b.intOp(ai, bi)
		if err != nil {
			return fmt.Errorf("block %q: %w", b.name, err)
		}
		result = value.Int(r)
	} else {
		af, err := av.Numeric()
		if err != nil {
			return fmt.Errorf("block %q: signal %q: %w", b.name, b.aSig, err)
		}
		bf, err := bv.Numeric()
		if err != nil {
			return fmt.Errorf("block %q: signal %q: %w", b.name, b.bSig, err)
		}
		r, err := b.floatOp(af, bf)
		if err != nil {
			return fmt.Errorf("block %q: %w", b.name, err)
		}
		result = value.Float(r)
	}
	return writeResult(bs, b.outSig, result)
}

func (b *arithBlock) intOp(a, x int64) (int64, error) {
	switch b.kind {
	case "ADD":
		if b.checked && ((x > 0 && a > math.MaxInt64-x) || (x < 0 && a < math.MinInt64-x)) {
			return 0, fmt.Errorf("add overflow: %w", ErrDomain)
		}
		return a + x, nil
	case "SUB":
		if b.checked && ((x < 0 && a > math.MaxInt64+x) || (x > 0 && a < math.MinInt64+x)) {
			return 0, fmt.Errorf("sub overflow: %w", ErrDomain)
		}
		return a - x, nil
	case "MUL":
		if b.checked && a != 0 && x != 0 {
			if (a == -1 && x == math.MinInt64) || (x == -1 && a == math.MinInt64) {
				return 0, fmt.Errorf("mul overflow: %w", ErrDomain)
			}
			r := a * x
			if r/a != x {
				return 0, fmt.Errorf("mul overflow: %w", ErrDomain)
			}
			return r, nil
		}
		return a * x, nil
	case "DIV":
		if x == 0 {
			return 0, fmt.Errorf("divide by zero: %w", ErrDomain)
		}
		if b.checked && a == math.MinInt64 && x == -1 {
			return 0, fmt.Errorf("div overflow: %w", ErrDomain)
		}
		return a / x, nil
	case "MOD":
		if x == 0 {
			return 0, fmt.Errorf("modulo by zero: %w", ErrDomain)
		}
		return a % x, nil
	}
	return 0, fmt.Errorf("unsupported op %q", b.kind)
}

func (b *arithBlock) floatOp(a, x float64) (float64, error) {
	switch b.kind {
	case "ADD":
		return a + x, nil
	case "SUB":
		return a - x, nil
	case "MUL":
		return a * x, nil
	case "DIV":
		if x == 0 {
			return 0, fmt.Errorf("divide by zero: %w", ErrDomain)
		}
		return a / x, nil
	case "MOD":
		if x == 0 {
			return 0, fmt.Errorf("modulo by zero: %w", ErrDomain)
		}
		return math.Mod(a, x), nil
	}
	return 0, fmt.Errorf("unsupported op %q", b.kind)
}
