package block

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/relogix/scand/internal/bus"
	"github.com/relogix/scand/internal/config"
	"github.com/relogix/scand/internal/value"
)

func init() {
	register("SELECT", newSelect)
	register("LIMIT", newLimit)
	register("DEADBAND", newDeadband)
	register("RANDOM", newRandom)
}

// selectBlock routes one of in0..inN-1 to out based on the integer sel
// input. An index outside [0, N) is a domain error for the scan.
type selectBlock struct {
	base
	selSig string
	cases  []string // index -> signal
	outSig string
}

func newSelect(cfg config.BlockConfig, _ Clock) (Block, error) {
	b := &selectBlock{base: newBase(cfg)}
	var err error
	if b.selSig, err = b.inPort("sel"); err != nil {
		return nil, err
	}
	if b.outSig, err = b.outPort("out"); err != nil {
		return nil, err
	}
	for i := 0; ; i++ {
		sig, ok := cfg.Inputs[fmt.Sprintf("in%d", i)]
		if !ok {
			break
		}
		b.cases = append(b.cases, sig)
	}
	if len(b.cases) == 0 {
		return nil, fmt.Errorf("block %q: SELECT needs at least one in0..inN port", cfg.Name)
	}
	// Reject gaps like in0,in2 so a wiring typo fails at load, not at scan.
	for p := range cfg.Inputs {
		if p == "sel" {
			continue
		}
		if !strings.HasPrefix(p, "in") {
			return nil, fmt.Errorf("block %q: unexpected input port %q", cfg.Name, p)
		}
	}
	if got := len(cfg.Inputs) - 1; got != len(b.cases) {
		return nil, fmt.Errorf("block %q: in0..inN ports must be contiguous", cfg.Name)
	}
	return b, nil
}

func (b *selectBlock) Step(bs *bus.Bus) error {
	sel, err := readValue(bs, b.selSig)
	if err != nil {
		return err
	}
	idx, err := sel.AsInt()
	if err != nil {
		return fmt.Errorf("signal %q: %w", b.selSig, err)
	}
	if idx < 0 || idx >= int64(len(b.cases)) {
		return fmt.Errorf("block %q: select index %d out of range [0,%d): %w",
			b.name, idx, len(b.cases), ErrDomain)
	}
	v, err := readValue(bs, b.cases[idx])
	if err != nil {
		return err
	}
	return writeResult(bs, b.outSig, v)
}

// limitBlock clamps a numeric input into [min, max], preserving the input
// variant: an int stays an int unless the bound it clamps to is fractional.
type limitBlock struct {
	base
	inSig, outSig string
	min, max      float64
}

func newLimit(cfg config.BlockConfig, _ Clock) (Block, error) {
	b := &limitBlock{base: newBase(cfg)}
	var err error
	if b.inSig, err = b.inPort("in"); err != nil {
		return nil, err
	}
	if b.outSig, err = b.outPort("out"); err != nil {
		return nil, err
	}
	if b.min, err = paramFloat(cfg, "min", 0); err != nil {
		return nil, err
	}
	if b.max, err = paramFloat(cfg, "max", 0); err != nil {
		return nil, err
	}
	if b.min > b.max {
		return nil, fmt.Errorf("block %q: min %v > max %v", cfg.Name, b.min, b.max)
	}
	return b, nil
}

func (b *limitBlock) Step(bs *bus.Bus) error {
	in, err := readValue(bs, b.inSig)
	if err != nil {
		return err
	}
	f, err := in.AsFloat()
	if err != nil {
		if in.Kind() != value.KindInt {
			return fmt.Errorf("signal %q: %w", b.inSig, err)
		}
		i, _ := in.AsInt()
		f = float64(i)
	}
	out := in
	switch {
	case f < b.min:
		out = clampValue(in, b.min)
	case f > b.max:
		out = clampValue(in, b.max)
	}
	return writeResult(bs, b.outSig, out)
}

func clampValue(in value.Value, bound float64) value.Value {
	if in.Kind() == value.KindInt && bound == float64(int64(bound)) {
		return value.Int(int64(bound))
	}
	return value.Float(bound)
}

// deadbandBlock suppresses small input movement: the output only follows
// the input once it has moved more than band away from the last value
// passed through. The first scan always passes through.
type deadbandBlock struct {
	base
	inSig, outSig string
	band          float64

	primed  bool
	lastOut float64
}

func newDeadband(cfg config.BlockConfig, _ Clock) (Block, error) {
	b := &deadbandBlock{base: newBase(cfg)}
	var err error
	if b.inSig, err = b.inPort("in"); err != nil {
		return nil, err
	}
	if b.outSig, err = b.outPort("out"); err != nil {
		return nil, err
	}
	if b.band, err = paramFloat(cfg, "band", 0); err != nil {
		return nil, err
	}
	if b.band < 0 {
		return nil, fmt.Errorf("block %q: band must be >= 0, got %v", cfg.Name, b.band)
	}
	return b, nil
}

func (b *deadbandBlock) Step(bs *bus.Bus) error {
	in, err := readValue(bs, b.inSig)
	if err != nil {
		return err
	}
	f, err := in.AsFloat()
	if err != nil {
		if in.Kind() != value.KindInt {
			return fmt.Errorf("signal %q: %w", b.inSig, err)
		}
		i, _ := in.AsInt()
		f = float64(i)
	}

	pass := !b.primed || absFloat(f-b.lastOut) > b.band
	var out value.Value
	if pass {
		out = in
	} else if in.Kind() == value.KindInt {
		out = value.Int(int64(b.lastOut))
	} else {
		out = value.Float(b.lastOut)
	}
	if err := writeResult(bs, b.outSig, out); err != nil {
		return err
	}
	if pass {
		b.primed = true
		b.lastOut = f
	}
	return nil
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// randomBlock writes a uniform float in [min, max) each scan. Each
// instance owns its generator; a seed param makes a run reproducible.
type randomBlock struct {
	base
	outSig   string
	min, max float64
	rng      *rand.Rand
}

func newRandom(cfg config.BlockConfig, _ Clock) (Block, error) {
	b := &randomBlock{base: newBase(cfg)}
	var err error
	if b.outSig, err = b.outPort("out"); err != nil {
		return nil, err
	}
	if b.min, err = paramFloat(cfg, "min", 0); err != nil {
		return nil, err
	}
	if b.max, err = paramFloat(cfg, "max", 1); err != nil {
		return nil, err
	}
	if b.min >= b.max {
		return nil, fmt.Errorf("block %q: min %v must be < max %v", cfg.Name, b.min, b.max)
	}
	seed, err := paramInt(cfg, "seed", 0)
	if err != nil {
		return nil, err
	}
	if seed == 0 {
		b.rng = rand.New(rand.NewSource(rand.Int63()))
	} else {
		b.rng = rand.New(rand.NewSource(seed))
	}
	return b, nil
}

func (b *randomBlock) Step(bs *bus.Bus) error {
	v := b.min + b.rng.Float64()*(b.max-b.min)
	return bs.Set(b.outSig, value.Float(v))
}
