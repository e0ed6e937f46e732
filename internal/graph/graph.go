// Package graph builds the trading universe the path optimizer searches:
// every (exchange, currency) node with a usable USD reference price, and
// every directed edge — intra-exchange trade or inter-exchange transfer —
// a cycle may traverse.
package graph

import "fmt"

// Node identifies one (exchange, currency) position in the trading graph.
type Node struct {
	Exchange string
	Currency string
}

// Key returns the node's canonical "<exchange>_<currency>" identifier,
// matching the source model's currency-naming convention.
func (n Node) Key() string { return fmt.Sprintf("%s_%s", n.Exchange, n.Currency) }

func (n Node) String() string { return n.Key() }

// EdgeKind distinguishes a same-exchange trade from a cross-exchange transfer.
type EdgeKind int

const (
	IntraExchange EdgeKind = iota
	InterExchange
)

func (k EdgeKind) String() string {
	if k == InterExchange {
		return "inter-exchange"
	}
	return "intra-exchange"
}

// Edge is one feasible decision-variable location: a directed transition
// from one node to another that the path optimizer may choose to include
// in a cycle.
type Edge struct {
	From, To int
	Kind     EdgeKind
	// Symbol is the exchange's market symbol "BASE/QUOTE" for an
	// intra-exchange edge; empty for an inter-exchange edge.
	Symbol string
	// Reversed is true when From is the market's quote currency, i.e. this
	// edge trades quote -> base rather than base -> quote.
	Reversed bool
}

// Pair identifies the market an amount-optimizer leg executes against: the
// exchange's market symbol for an intra-exchange trade, or the transfer
// route for an inter-exchange leg (Symbol left in "<from>-><to>" currency
// form since no tradable market symbol applies).
type Pair struct {
	Exchange string
	Symbol   string
}

// PairForEdge derives the Pair a leg along e trades against.
func (g *Graph) PairForEdge(e Edge) Pair {
	from := g.Nodes[e.From]
	if e.Kind == IntraExchange {
		return Pair{Exchange: from.Exchange, Symbol: e.Symbol}
	}
	to := g.Nodes[e.To]
	return Pair{
		Exchange: fmt.Sprintf("%s->%s", from.Exchange, to.Exchange),
		Symbol:   fmt.Sprintf("%s->%s", from.Currency, to.Currency),
	}
}

// Graph is the immutable trading universe produced by Builder.Build.
type Graph struct {
	Nodes []Node
	Edges []Edge

	// VarLocation is the N*N row-major boolean matrix mirroring the source
	// model's var_location: true at (i*N+j) iff Edges contains a directed
	// edge from i to j.
	VarLocation []bool

	n       int
	index   map[string]int
	edgeIdx map[int]int // i*n+j -> index into Edges
}

// New assembles a Graph from its nodes and edges. Callers normally reach
// this through Builder.Build rather than constructing one directly.
func New(nodes []Node, edges []Edge) *Graph {
	n := len(nodes)
	g := &Graph{
		Nodes:       nodes,
		Edges:       edges,
		VarLocation: make([]bool, n*n),
		n:           n,
		index:       make(map[string]int, n),
		edgeIdx:     make(map[int]int, len(edges)),
	}
	for i, node := range nodes {
		g.index[node.Key()] = i
	}
	for idx, e := range edges {
		cell := e.From*n + e.To
		g.VarLocation[cell] = true
		g.edgeIdx[cell] = idx
	}
	return g
}

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int { return g.n }

// IndexOf resolves a node's "<exchange>_<currency>" key to its index.
func (g *Graph) IndexOf(key string) (int, bool) {
	i, ok := g.index[key]
	return i, ok
}

// NodeAt returns the node registered at index i.
func (g *Graph) NodeAt(i int) Node { return g.Nodes[i] }

// EdgeBetween returns the edge from node i to node j, if the graph has one.
func (g *Graph) EdgeBetween(i, j int) (Edge, bool) {
	idx, ok := g.edgeIdx[i*g.n+j]
	if !ok {
		return Edge{}, false
	}
	return g.Edges[idx], true
}

// HasEdge reports whether a decision variable exists at (i, j).
func (g *Graph) HasEdge(i, j int) bool {
	return g.VarLocation[i*g.n+j]
}
