package block

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/relogix/scand/internal/bus"
	"github.com/relogix/scand/internal/config"
	"github.com/relogix/scand/internal/value"
)

func init() {
	register("BOOL_TO_INT", newConvert)
	register("INT_TO_FLOAT", newConvert)
	register("FLOAT_TO_INT", newConvert)
	register("PARSE", newParse)
}

// convertBlock performs the explicit scalar conversions that assignments
// between variants require. FLOAT_TO_INT takes a `rounding` parameter:
// trunc (default), half_even, floor or ceil.
type convertBlock struct {
	base
	inSig, outSig string
	rounding      string
}

func newConvert(cfg config.BlockConfig, _ Clock) (Block, error) {
	b := &convertBlock{base: newBase(cfg)}
	var err error
	if b.inSig, err = b.inPort("in"); err != nil {
		return nil, err
	}
	if b.outSig, err = b.outPort("out"); err != nil {
		return nil, err
	}
	if b.rounding, err = paramString(cfg, "rounding", "trunc"); err != nil {
		return nil, err
	}
	switch b.rounding {
	case "trunc", "half_even", "floor", "ceil":
	default:
		return nil, fmt.Errorf("block %q: unknown rounding mode %q", cfg.Name, b.rounding)
	}
	return b, nil
}

func (b *convertBlock) Step(bs *bus.Bus) error {
	in, err := readValue(bs, b.inSig)
	if err != nil {
		return err
	}

	var out value.Value
	switch b.kind {
	case "BOOL_TO_INT":
		v, err := in.AsBool()
		if err != nil {
			return fmt.Errorf("signal %q: %w", b.inSig, err)
		}
		if v {
			out = value.Int(1)
		} else {
			out = value.Int(0)
		}
	case "INT_TO_FLOAT":
		v, err := in.AsInt()
		if err != nil {
			return fmt.Errorf("signal %q: %w", b.inSig, err)
		}
		out = value.Float(float64(v))
	case "FLOAT_TO_INT":
		v, err := in.AsFloat()
		if err != nil {
			return fmt.Errorf("signal %q: %w", b.inSig, err)
		}
		r, err := b.round(v)
		if err != nil {
			return fmt.Errorf("block %q: %w", b.name, err)
		}
		out = value.Int(r)
	}
	return bs.Set(b.outSig, out)
}

func (b *convertBlock) round(v float64) (int64, error) {
	var r float64
	switch b.rounding {
	case "trunc":
		r = math.Trunc(v)
	case "half_even":
		r = math.RoundToEven(v)
	case "floor":
		r = math.Floor(v)
	case "ceil":
		r = math.Ceil(v)
	}
	if math.IsNaN(r) || r >= math.MaxInt64 || r < math.MinInt64 {
		return 0, fmt.Errorf("%v not representable as int: %w", v, ErrDomain)
	}
	return int64(r), nil
}

// parseBlock converts a string signal to the numeric kind of its output
// signal. Parse failure is a domain error, not a type error: the input is
// well typed, its content is not.
type parseBlock struct {
	base
	inSig, outSig string
}

func newParse(cfg config.BlockConfig, _ Clock) (Block, error) {
	b := &parseBlock{base: newBase(cfg)}
	var err error
	if b.inSig, err = b.inPort("in"); err != nil {
		return nil, err
	}
	if b.outSig, err = b.outPort("out"); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *parseBlock) Step(bs *bus.Bus) error {
	s, err := readString(bs, b.inSig)
	if err != nil {
		return err
	}
	k, ok := bs.Kind(b.outSig)
	if !ok {
		return fmt.Errorf("%q: %w", b.outSig, bus.ErrSignalNotFound)
	}

	s = strings.TrimSpace(s)
	switch k {
	case value.KindInt:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("block %q: parse %q as int: %w", b.name, s, ErrDomain)
		}
		return bs.Set(b.outSig, value.Int(i))
	case value.KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("block %q: parse %q as float: %w", b.name, s, ErrDomain)
		}
		return bs.Set(b.outSig, value.Float(f))
	default:
		return fmt.Errorf("block %q: output %q must be numeric, is %s: %w",
			b.name, b.outSig, k, value.ErrTypeMismatch)
	}
}
