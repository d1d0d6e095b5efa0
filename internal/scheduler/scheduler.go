// Package scheduler turns a set of wired blocks into an execution plan.
//
// Blocks form a dataflow graph: an edge runs from the block that writes a
// signal to every block that reads it. The plan is a list of layers; each
// layer's blocks have no data dependency on one another, so the engine may
// run a layer's blocks in any order or in parallel, but must finish a
// layer before starting the next.
//
// Cycles are legal only when closed through a delay block (REG, SR, RS,
// R_TRIG, F_TRIG). The edge out of the delay block is relaxed so its
// consumers read the value the loop produced in the previous scan; any
// cycle without a delay block is a configuration error.
package scheduler

import (
	"fmt"
	"sort"

	"github.com/relogix/scand/internal/block"
	"github.com/relogix/scand/internal/config"
)

// Plan is a layered execution order over a block set.
type Plan struct {
	// Layers holds block names. Within a layer names are sorted; the
	// engine treats that order as canonical for sequential execution.
	Layers [][]string

	// RelaxedEdges lists the producer->consumer edges that were dropped
	// to break feedback loops, for diagnostics.
	RelaxedEdges []Edge
}

// Edge is a data dependency between two blocks.
type Edge struct {
	From, To string
	Signal   string
}

func (e Edge) String() string {
	return fmt.Sprintf("%s -> %s (via %s)", e.From, e.To, e.Signal)
}

// Blocks returns all block names in execution order.
func (p *Plan) Blocks() []string {
	var out []string
	for _, layer := range p.Layers {
		out = append(out, layer...)
	}
	return out
}

// Build computes a layered plan for the given blocks.
//
// The block configs are needed alongside the instances to identify delay
// kinds. Build assumes the config already passed validation, so writers
// are unique per signal; it still reports multi-writer and unresolvable
// cycles with config errors rather than panicking.
func Build(cfgs []config.BlockConfig, blocks map[string]block.Block) (*Plan, error) {
	g, err := buildGraph(blocks)
	if err != nil {
		return nil, err
	}

	kinds := make(map[string]string, len(cfgs))
	for _, c := range cfgs {
		kinds[c.Name] = c.Kind
	}

	// A block reading its own output is a one-scan feedback register,
	// which only delay blocks implement.
	for _, c := range cfgs {
		if block.IsDelayKind(c.Kind) {
			continue
		}
		outs := map[string]bool{}
		for _, sig := range c.Outputs {
			outs[sig] = true
		}
		for _, sig := range c.Inputs {
			if outs[sig] {
				return nil, config.Errf("blocks",
					"block %q feeds its own input via %q; close the loop through a delay block", c.Name, sig)
			}
		}
	}

	var relaxed []Edge
	for {
		layers, stuck := kahnLayers(g)
		if len(stuck) == 0 {
			return &Plan{Layers: layers, RelaxedEdges: relaxed}, nil
		}

		// The residual subgraph holds every cycle plus anything
		// downstream of one. Relax one in-cycle edge whose producer is
		// a delay block; one at a time keeps the result deterministic
		// when loops are cross-coupled.
		e, ok := pickDelayEdge(g, stuck, kinds)
		if !ok {
			return nil, config.Errf("blocks", "dependency cycle with no delay block: %s",
				describeCycle(g, stuck))
		}
		g.remove(e)
		relaxed = append(relaxed, e)
	}
}

// graph is a producer -> consumers adjacency over block names.
type graph struct {
	nodes []string
	succ  map[string][]Edge
}

func buildGraph(blocks map[string]block.Block) (*graph, error) {
	writers := map[string]string{} // signal -> block
	for name, b := range blocks {
		for _, sig := range b.Outputs() {
			if prev, dup := writers[sig]; dup {
				return nil, config.Errf("blocks",
					"signal %q written by both %q and %q", sig, prev, name)
			}
			writers[sig] = name
		}
	}

	g := &graph{succ: map[string][]Edge{}}
	for name := range blocks {
		g.nodes = append(g.nodes, name)
	}
	sort.Strings(g.nodes)

	for _, name := range g.nodes {
		for _, sig := range blocks[name].Inputs() {
			from, ok := writers[sig]
			if !ok || from == name {
				// Externally driven signal, or a block reading its own
				// output; neither orders anything.
				continue
			}
			g.succ[from] = append(g.succ[from], Edge{From: from, To: name, Signal: sig})
		}
	}
	for from := range g.succ {
		sort.Slice(g.succ[from], func(i, j int) bool {
			a, b := g.succ[from][i], g.succ[from][j]
			if a.To != b.To {
				return a.To < b.To
			}
			return a.Signal < b.Signal
		})
	}
	return g, nil
}

func (g *graph) remove(e Edge) {
	edges := g.succ[e.From]
	for i, x := range edges {
		if x == e {
			g.succ[e.From] = append(edges[:i:i], edges[i+1:]...)
			return
		}
	}
}

// kahnLayers peels zero-in-degree nodes layer by layer. Duplicate edges
// between the same pair of blocks (two signals from A read by B) each
// count toward the in-degree, which is fine: they drop together only when
// both are present, and relaxation removes them one at a time.
func kahnLayers(g *graph) (layers [][]string, stuck []string) {
	indeg := map[string]int{}
	for _, n := range g.nodes {
		indeg[n] = 0
	}
	for _, edges := range g.succ {
		for _, e := range edges {
			indeg[e.To]++
		}
	}

	remaining := make(map[string]bool, len(g.nodes))
	for _, n := range g.nodes {
		remaining[n] = true
	}

	for len(remaining) > 0 {
		var layer []string
		for _, n := range g.nodes {
			if remaining[n] && indeg[n] == 0 {
				layer = append(layer, n)
			}
		}
		if len(layer) == 0 {
			for _, n := range g.nodes {
				if remaining[n] {
					stuck = append(stuck, n)
				}
			}
			return layers, stuck
		}
		sort.Strings(layer)
		layers = append(layers, layer)
		for _, n := range layer {
			delete(remaining, n)
			for _, e := range g.succ[n] {
				indeg[e.To]--
			}
		}
	}
	return layers, nil
}

// pickDelayEdge finds the first edge, in producer order, that lies on a
// cycle of the stuck subgraph and whose producer is a delay block. The
// stuck set also contains blocks that merely sit downstream of a cycle;
// only edges within a strongly connected component are candidates, so a
// downstream consumer stays ordered after its producer instead of reading
// a stale value.
func pickDelayEdge(g *graph, stuck []string, kinds map[string]string) (Edge, bool) {
	comp := sccIDs(g, stuck)
	sort.Strings(stuck)
	for _, from := range stuck {
		if !block.IsDelayKind(kinds[from]) {
			continue
		}
		for _, e := range g.succ[from] {
			if c, ok := comp[e.To]; ok && c == comp[from] {
				return e, true
			}
		}
	}
	return Edge{}, false
}

// sccIDs runs Tarjan's algorithm over the stuck subgraph and returns a
// component id per node. Two blocks share an id exactly when each can
// reach the other. Self loops are already filtered out of the graph, so a
// shared id always means a real cycle of two or more blocks.
func sccIDs(g *graph, stuck []string) map[string]int {
	in := make(map[string]bool, len(stuck))
	for _, n := range stuck {
		in[n] = true
	}
	nodes := append([]string(nil), stuck...)
	sort.Strings(nodes)

	index := map[string]int{}
	low := map[string]int{}
	onStack := map[string]bool{}
	comp := map[string]int{}
	var stack []string
	next, nComp := 0, 0

	var visit func(n string)
	visit = func(n string) {
		index[n] = next
		low[n] = next
		next++
		stack = append(stack, n)
		onStack[n] = true
		for _, e := range g.succ[n] {
			m := e.To
			if !in[m] {
				continue
			}
			if _, seen := index[m]; !seen {
				visit(m)
				if low[m] < low[n] {
					low[n] = low[m]
				}
			} else if onStack[m] && index[m] < low[n] {
				low[n] = index[m]
			}
		}
		if low[n] == index[n] {
			for {
				m := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[m] = false
				comp[m] = nComp
				if m == n {
					break
				}
			}
			nComp++
		}
	}
	for _, n := range nodes {
		if _, seen := index[n]; !seen {
			visit(n)
		}
	}
	return comp
}

// describeCycle walks the residual subgraph from its smallest node until a
// repeat, producing a readable cycle path for the error message.
func describeCycle(g *graph, stuck []string) string {
	inStuck := make(map[string]bool, len(stuck))
	for _, n := range stuck {
		inStuck[n] = true
	}
	sort.Strings(stuck)

	seen := map[string]bool{}
	path := []string{stuck[0]}
	cur := stuck[0]
	for !seen[cur] {
		seen[cur] = true
		next := ""
		for _, e := range g.succ[cur] {
			if inStuck[e.To] {
				next = e.To
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		cur = next
	}
	out := ""
	for i, n := range path {
		if i > 0 {
			out += " -> "
		}
		out += n
	}
	return out
}
