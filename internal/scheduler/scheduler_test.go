package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relogix/scand/internal/block"
	"github.com/relogix/scand/internal/config"
)

// mkBlocks instantiates the given configs. Block factories only need the
// wiring, so a nil clock suffices for every non-timer kind.
func mkBlocks(t *testing.T, cfgs []config.BlockConfig) map[string]block.Block {
	t.Helper()
	out := make(map[string]block.Block, len(cfgs))
	for _, c := range cfgs {
		b, err := block.New(c, nil)
		require.NoError(t, err)
		out[c.Name] = b
	}
	return out
}

func and(name, a, b, out string) config.BlockConfig {
	return config.BlockConfig{
		Name: name, Kind: "AND",
		Inputs:  map[string]string{"in1": a, "in2": b},
		Outputs: map[string]string{"out": out},
	}
}

func add(name, a, b, out string) config.BlockConfig {
	return config.BlockConfig{
		Name: name, Kind: "ADD",
		Inputs:  map[string]string{"a": a, "b": b},
		Outputs: map[string]string{"out": out},
	}
}

func reg(name, in, out string) config.BlockConfig {
	return config.BlockConfig{
		Name: name, Kind: "REG",
		Inputs:  map[string]string{"in": in},
		Outputs: map[string]string{"out": out},
	}
}

func TestBuildLayersChain(t *testing.T) {
	// a,b -> sum -> doubled; independent gate alongside.
	cfgs := []config.BlockConfig{
		add("sum", "a", "b", "s"),
		add("double", "s", "s", "d"),
		and("gate", "x", "y", "g"),
	}
	plan, err := Build(cfgs, mkBlocks(t, cfgs))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"gate", "sum"}, {"double"}}, plan.Layers)
	assert.Empty(t, plan.RelaxedEdges)
}

func TestBuildLexicographicTieBreak(t *testing.T) {
	cfgs := []config.BlockConfig{
		and("zeta", "a", "b", "z"),
		and("alpha", "a", "b", "q"),
		and("mid", "a", "b", "m"),
	}
	plan, err := Build(cfgs, mkBlocks(t, cfgs))
	require.NoError(t, err)
	require.Len(t, plan.Layers, 1)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, plan.Layers[0])
}

func TestBuildDiamond(t *testing.T) {
	cfgs := []config.BlockConfig{
		add("src", "a", "b", "s"),
		add("left", "s", "a", "l"),
		add("right", "s", "b", "r"),
		add("join", "l", "r", "j"),
	}
	plan, err := Build(cfgs, mkBlocks(t, cfgs))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"src"}, {"left", "right"}, {"join"}}, plan.Layers)
}

func TestBuildFeedbackThroughReg(t *testing.T) {
	// counter loop: inc reads counter, reg writes it back.
	cfgs := []config.BlockConfig{
		add("inc", "counter", "one", "next"),
		reg("hold", "next", "counter"),
	}
	plan, err := Build(cfgs, mkBlocks(t, cfgs))
	require.NoError(t, err)
	require.Len(t, plan.RelaxedEdges, 1)
	assert.Equal(t, "hold", plan.RelaxedEdges[0].From)
	assert.Equal(t, "inc", plan.RelaxedEdges[0].To)
	// Relaxing hold->inc leaves inc -> hold, so inc runs first and hold
	// commits the incremented value for the next scan.
	assert.Equal(t, [][]string{{"inc"}, {"hold"}}, plan.Layers)
}

func TestBuildFeedbackDownstreamConsumerOrdered(t *testing.T) {
	// zeta and hold close the loop; alpha only consumes the looped
	// signal. Only the in-cycle edge hold->zeta may be relaxed, and
	// alpha must still run after hold rather than off last scan's
	// counter.
	cfgs := []config.BlockConfig{
		add("zeta", "counter", "one", "next"),
		reg("hold", "next", "counter"),
		add("alpha", "counter", "one", "out"),
	}
	plan, err := Build(cfgs, mkBlocks(t, cfgs))
	require.NoError(t, err)
	require.Len(t, plan.RelaxedEdges, 1)
	assert.Equal(t, Edge{From: "hold", To: "zeta", Signal: "counter"}, plan.RelaxedEdges[0])
	assert.Equal(t, [][]string{{"zeta"}, {"hold"}, {"alpha"}}, plan.Layers)
}

func TestBuildCycleWithoutDelayRejected(t *testing.T) {
	cfgs := []config.BlockConfig{
		add("f", "y", "one", "x"),
		add("g", "x", "one", "y"),
	}
	_, err := Build(cfgs, mkBlocks(t, cfgs))
	require.Error(t, err)
	var cerr *config.Error
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Reason, "cycle")
}

func TestBuildCrossCoupledRegsDeterministic(t *testing.T) {
	// Two registers swapping values through each other every scan. Both
	// are delay producers; relaxation must settle on one deterministic
	// plan no matter the map iteration order.
	cfgs := []config.BlockConfig{
		reg("pa", "vb", "va"),
		reg("pb", "va", "vb"),
	}
	var plans [][][]string
	for i := 0; i < 10; i++ {
		plan, err := Build(cfgs, mkBlocks(t, cfgs))
		require.NoError(t, err)
		plans = append(plans, plan.Layers)
	}
	for _, p := range plans[1:] {
		assert.Equal(t, plans[0], p)
	}
}

func TestBuildSelfLoopIgnored(t *testing.T) {
	// A latch reading its own output does not order itself.
	cfgs := []config.BlockConfig{{
		Name: "l", Kind: "SR",
		Inputs:  map[string]string{"s": "set", "r": "q"},
		Outputs: map[string]string{"q": "q"},
	}}
	plan, err := Build(cfgs, mkBlocks(t, cfgs))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"l"}}, plan.Layers)
}

func TestBuildSelfLoopOnNonDelayRejected(t *testing.T) {
	cfgs := []config.BlockConfig{add("acc", "x", "one", "x")}
	_, err := Build(cfgs, mkBlocks(t, cfgs))
	require.Error(t, err)
	var cerr *config.Error
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Reason, "acc")
}

func TestPlanBlocks(t *testing.T) {
	cfgs := []config.BlockConfig{
		add("sum", "a", "b", "s"),
		add("double", "s", "s", "d"),
	}
	plan, err := Build(cfgs, mkBlocks(t, cfgs))
	require.NoError(t, err)
	assert.Equal(t, []string{"sum", "double"}, plan.Blocks())
}
