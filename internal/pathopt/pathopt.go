// Package pathopt implements the path optimizer (MIP-1): selecting the
// best closed arbitrage cycle through the market graph, maximizing the sum
// of log-edge-weights subject to flow conservation, in/out-degree, path
// length, and a changeable required-currency gate. The optimizer owns a
// solver.Model by composition instead of extending one.
package pathopt

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xarbhq/xarb-core/internal/alerts"
	"github.com/xarbhq/xarb-core/internal/config"
	"github.com/xarbhq/xarb-core/internal/graph"
	"github.com/xarbhq/xarb-core/internal/metrics"
	"github.com/xarbhq/xarb-core/internal/snapshot"
	"github.com/xarbhq/xarb-core/internal/solver"
)

const requiredCurrencyEpsilon = 1e-7

const requiredConstraintName = "required_currency_gate"

// Result is the outcome of one Solve call: either a closed cycle with a
// positive log-return, or an empty path reporting "no opportunity".
type Result struct {
	Path           []graph.Edge
	ProfitRate     float64
	HasOpportunity bool
}

// Optimizer owns the solver.Model backing MIP-1. Init performs the
// one-time variable and structural-constraint setup; Solve updates the
// objective and the changeable required-currency constraint, resolves, and
// reconstructs the cycle.
type Optimizer struct {
	cfg   *config.ArbitrageConfig
	graph *graph.Graph
	model *solver.Model

	vars []solver.Var // parallel to graph.Edges

	prevRequired []int
}

// NewOptimizer constructs an uninitialized path optimizer. Call Init
// before Solve.
func NewOptimizer(cfg *config.ArbitrageConfig) *Optimizer {
	return &Optimizer{cfg: cfg}
}

// Init performs the one-time setup: one binary decision variable per graph
// edge, flow-conservation per node, at-most-one in/out edge per node, and
// a path-length bound. These constraints never change between calls.
func (o *Optimizer) Init(ctx context.Context, g *graph.Graph) error {
	o.graph = g
	o.model = solver.NewModel("path_optimizer")
	o.vars = make([]solver.Var, len(g.Edges))

	for i, e := range g.Edges {
		o.vars[i] = o.model.NewBinaryVar(fmt.Sprintf("x_%d_%d", e.From, e.To))
	}

	n := g.NumNodes()
	outEdges := make([][]int, n)
	inEdges := make([][]int, n)
	for idx, e := range g.Edges {
		outEdges[e.From] = append(outEdges[e.From], idx)
		inEdges[e.To] = append(inEdges[e.To], idx)
	}

	for k := 0; k < n; k++ {
		outTerms := edgeTerms(o.vars, outEdges[k])
		inTerms := edgeTerms(o.vars, inEdges[k])

		o.model.AddConstraint(fmt.Sprintf("flow_conservation_%d", k),
			solver.Sum(outTerms...).Sub(solver.Sum(inTerms...)), solver.EQ, 0)
		o.model.AddConstraint(fmt.Sprintf("out_degree_%d", k),
			solver.Sum(outTerms...), solver.LE, 1)
		o.model.AddConstraint(fmt.Sprintf("in_degree_%d", k),
			solver.Sum(inTerms...), solver.LE, 1)
	}

	allTerms := make([]solver.Term, len(o.vars))
	for i, v := range o.vars {
		allTerms[i] = solver.Term{Var: v, Coeff: 1}
	}
	o.model.AddConstraint("path_length", solver.Sum(allTerms...), solver.LE, float64(o.cfg.PathLength))

	return nil
}

func edgeTerms(vars []solver.Var, edgeIdxs []int) []solver.Term {
	terms := make([]solver.Term, len(edgeIdxs))
	for i, idx := range edgeIdxs {
		terms[i] = solver.Term{Var: vars[idx], Coeff: 1}
	}
	return terms
}

// unusableWeight is the objective coefficient assigned to an edge the
// snapshot reports as unusable (zero price, insufficient volume, or no
// withdrawal fee), so the solver strictly prefers leaving it unselected
// over ever including it in a cycle.
const unusableWeight = -1e12

// Solve updates the objective and the changeable required-currency
// constraint from snap, resolves the model, and reconstructs the chosen
// cycle. If the solver finds no profitable cycle, Result.HasOpportunity is
// false and Path is empty.
func (o *Optimizer) Solve(ctx context.Context, snap *snapshot.Snapshot) (Result, error) {
	if o.model == nil {
		return Result{}, fmt.Errorf("pathopt: Init must be called before Solve")
	}

	terms := make([]solver.Term, len(o.graph.Edges))
	for i, e := range o.graph.Edges {
		w, ok := snap.Weight(e.From, e.To, o.cfg.MinTradingLimit)
		if !ok {
			w = unusableWeight
		}
		terms[i] = solver.Term{Var: o.vars[i], Coeff: w}
	}
	o.model.Maximize(solver.Sum(terms...))

	o.updateRequiredConstraint(snap.RequiredCurrencies)

	start := time.Now()
	sol, err := o.model.Solve(ctx)
	metrics.RecordSolverDuration("path_optimizer", time.Since(start).Seconds())
	if err != nil {
		alerts.AlertSolverError(ctx, "pathopt", err)
		return Result{}, err
	}
	if sol.Status != solver.StatusOptimal {
		log.Info().Str("status", sol.Status.String()).Msg("path optimizer found no opportunity")
		metrics.RecordOpportunity(false, 0)
		return Result{}, nil
	}

	var chosen []graph.Edge
	for i, e := range o.graph.Edges {
		if sol.Value(o.vars[i]) > 0.5 {
			chosen = append(chosen, e)
		}
	}
	if len(chosen) == 0 {
		metrics.RecordOpportunity(false, 0)
		return Result{}, nil
	}

	path, err := reconstructCycle(chosen, snap.RequiredCurrencies)
	if err != nil {
		log.Warn().Err(err).Msg("path optimizer produced a degenerate selection")
		metrics.RecordOpportunity(false, 0)
		return Result{}, nil
	}

	profitRate := math.Exp(sol.Objective) - 1
	alerts.AlertOpportunityFound(ctx, len(path), profitRate)
	metrics.RecordOpportunity(true, profitRate)
	return Result{Path: path, ProfitRate: profitRate, HasOpportunity: true}, nil
}

// updateRequiredConstraint replaces the "at least one required node"
// constraint only when the live required-currency set has changed since
// the last call, mirroring update_changeable_constraint. An empty set
// removes the constraint entirely.
func (o *Optimizer) updateRequiredConstraint(required []int) {
	if equalIntSlices(o.prevRequired, required) {
		return
	}
	o.model.RemoveConstraint(requiredConstraintName)

	if len(required) > 0 {
		requiredSet := make(map[int]bool, len(required))
		for _, idx := range required {
			requiredSet[idx] = true
		}

		var requiredTerms []solver.Term
		var allTerms []solver.Term
		for i, e := range o.graph.Edges {
			allTerms = append(allTerms, solver.Term{Var: o.vars[i], Coeff: requiredCurrencyEpsilon})
			if requiredSet[e.From] {
				requiredTerms = append(requiredTerms, solver.Term{Var: o.vars[i], Coeff: 1})
			}
		}
		o.model.AddConstraint(requiredConstraintName,
			solver.Sum(requiredTerms...).Sub(solver.Sum(allTerms...)), solver.GE, 0)
	}

	o.prevRequired = append([]int(nil), required...)
}

func equalIntSlices(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// reconstructCycle walks the chosen 0/1 edges head-to-tail into a single
// closed cycle, starting from an edge whose From node is in
// requiredCurrencies when possible (per the "linked walk" design note).
func reconstructCycle(chosen []graph.Edge, requiredCurrencies []int) ([]graph.Edge, error) {
	successor := make(map[int]graph.Edge, len(chosen))
	for _, e := range chosen {
		if _, dup := successor[e.From]; dup {
			return nil, fmt.Errorf("pathopt: node %d has more than one outgoing edge in solution", e.From)
		}
		successor[e.From] = e
	}

	required := make(map[int]bool, len(requiredCurrencies))
	for _, idx := range requiredCurrencies {
		required[idx] = true
	}

	seedFrom := chosen[0].From
	for _, e := range chosen {
		if required[e.From] {
			seedFrom = e.From
			break
		}
	}

	var path []graph.Edge
	visited := make(map[int]bool, len(chosen))
	cur := seedFrom
	for {
		e, ok := successor[cur]
		if !ok {
			return nil, fmt.Errorf("pathopt: walk from node %d has no successor, disjoint selection", cur)
		}
		path = append(path, e)
		visited[cur] = true
		cur = e.To
		if cur == seedFrom {
			break
		}
		if visited[cur] {
			return nil, fmt.Errorf("pathopt: walk revisited node %d before returning to start, disjoint cycles", cur)
		}
		if len(path) > len(chosen) {
			return nil, fmt.Errorf("pathopt: walk exceeded selection size, degenerate solution")
		}
	}

	if len(path) != len(chosen) {
		return nil, fmt.Errorf("pathopt: selection contains %d edges outside the reconstructed cycle", len(chosen)-len(path))
	}

	return path, nil
}
