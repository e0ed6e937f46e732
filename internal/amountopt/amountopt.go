// Package amountopt implements the amount optimizer (MIP-2): given a
// closed cycle from the path optimizer, size each leg against real
// order-book depth and precision-discretized integer variables, maximizing
// absolute profit. The optimizer owns a fresh solver.Model per call, the
// same composition-over-inheritance shape internal/pathopt uses.
package amountopt

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xarbhq/xarb-core/internal/alerts"
	"github.com/xarbhq/xarb-core/internal/config"
	"github.com/xarbhq/xarb-core/internal/exchange"
	"github.com/xarbhq/xarb-core/internal/graph"
	"github.com/xarbhq/xarb-core/internal/metrics"
	"github.com/xarbhq/xarb-core/internal/snapshot"
	"github.com/xarbhq/xarb-core/internal/solver"
)

// Direction is how a leg's volume is expressed against its market.
type Direction int

const (
	// DirectionSell sells the base currency at the book's bid, for a
	// non-reversed intra-exchange leg.
	DirectionSell Direction = iota
	// DirectionBuy buys the base currency at the book's ask, for a
	// reversed intra-exchange leg.
	DirectionBuy
	// DirectionTransfer moves a coin off one exchange onto another, for an
	// inter-exchange leg.
	DirectionTransfer
)

func (d Direction) String() string {
	switch d {
	case DirectionSell:
		return "bid_sell"
	case DirectionBuy:
		return "ask_buy"
	default:
		return "transfer"
	}
}

// Leg is one sized step of an arbitrage cycle.
type Leg struct {
	Pair      graph.Pair
	Volume    float64
	Price     float64
	Direction Direction
}

// Plan is the amount optimizer's output: a cycle with every leg sized, or
// an unsolvable cycle reported via HasSolution=false.
type Plan struct {
	Legs        []Leg
	Profit      float64
	HasSolution bool
}

// legData is the per-leg input the MIP is built from, matching
// path_commission/reverse_list/precision_matrix/amt_matrix/price_matrix in
// the source model.
type legData struct {
	edge            graph.Edge
	commission      float64
	reversed        bool
	precision       float64
	amt             []float64 // cumulative depth per layer
	price           []float64 // price per layer
	hasReceiverCap  bool
	receiverCap     float64 // B: receiver's native-currency balance
	withdrawCoinFee float64
}

// Optimizer sizes a single cycle. It is constructed fresh for every call,
// matching the source's self.clear() re-initialization: there is no
// cross-call state to carry.
type Optimizer struct {
	cfg       *config.ArbitrageConfig
	graph     *graph.Graph
	snap      *snapshot.Snapshot
	path      []graph.Edge
	exchanges map[string]exchange.Exchange
}

// NewOptimizer constructs an amount optimizer for one cycle. path is the
// closed cycle reported by the path optimizer; snap is the snapshot the
// cycle was found against.
func NewOptimizer(cfg *config.ArbitrageConfig, g *graph.Graph, snap *snapshot.Snapshot, path []graph.Edge, exchanges map[string]exchange.Exchange) *Optimizer {
	return &Optimizer{cfg: cfg, graph: g, snap: snap, path: path, exchanges: exchanges}
}

// Solve builds and resolves MIP-2 for the optimizer's cycle.
func (o *Optimizer) Solve(ctx context.Context) (Plan, error) {
	p := len(o.path)
	if p == 0 {
		return Plan{}, nil
	}
	k := o.cfg.OrderbookN
	if k <= 0 {
		k = 1
	}

	legs := o.buildLegData(ctx, k)

	model := solver.NewModel("amount_optimizer")
	xVars := make([][]solver.Var, p)
	yVars := make([][]solver.Var, p)
	for leg := 0; leg < p; leg++ {
		xVars[leg] = make([]solver.Var, k)
		yVars[leg] = make([]solver.Var, k)
		for layer := 0; layer < k; layer++ {
			xVars[leg][layer] = model.NewIntVar(fmt.Sprintf("x_%d_%d", leg, layer), 0, config.BigM)
			yVars[leg][layer] = model.NewBinaryVar(fmt.Sprintf("y_%d_%d", leg, layer))
		}
	}

	// Constraint 1: exactly one layer used across the whole cycle, per leg.
	var allY []solver.Term
	for leg := 0; leg < p; leg++ {
		for layer := 0; layer < k; layer++ {
			allY = append(allY, solver.Term{Var: yVars[leg][layer], Coeff: 1})
		}
	}
	model.AddConstraint("layers_used_total", solver.Sum(allY...), solver.EQ, float64(p))

	for leg := 0; leg < p; leg++ {
		// Constraint 2: at most one layer per leg.
		var legY []solver.Term
		for layer := 0; layer < k; layer++ {
			legY = append(legY, solver.Term{Var: yVars[leg][layer], Coeff: 1})
		}
		model.AddConstraint(fmt.Sprintf("one_layer_leg_%d", leg), solver.Sum(legY...), solver.LE, 1)

		for layer := 0; layer < k; layer++ {
			// Constraint 3: x <= M*y.
			model.AddConstraint(fmt.Sprintf("select_link_%d_%d", leg, layer),
				solver.Sum(solver.Term{Var: xVars[leg][layer], Coeff: 1}, solver.Term{Var: yVars[leg][layer], Coeff: -config.BigM}),
				solver.LE, 0)

			// Constraint 4: depth cap.
			zCoeff := legs[leg].precision
			model.AddConstraint(fmt.Sprintf("depth_cap_%d_%d", leg, layer),
				solver.Sum(solver.Term{Var: xVars[leg][layer], Coeff: zCoeff}),
				solver.LE, o.cfg.TradeAmtPtc*legs[leg].amt[layer])
		}
	}

	// Constraint 5: leg 0's initial-balance cap.
	initialBalance := 0.0
	if bal, ok := o.snap.Balance[o.path[0].From]; ok {
		initialBalance = bal.Amount
	}
	model.AddConstraint("leg0_initial_balance", leg0Cost(xVars[0], legs[0]), solver.LE, initialBalance)

	// Constraint 6: inter-exchange receiver cap.
	for leg := 0; leg < p; leg++ {
		if !legs[leg].hasReceiverCap {
			continue
		}
		var terms []solver.Term
		for layer := 0; layer < k; layer++ {
			terms = append(terms, solver.Term{Var: xVars[leg][layer], Coeff: legs[leg].precision})
		}
		model.AddConstraint(fmt.Sprintf("receiver_cap_%d", leg), solver.Sum(terms...),
			solver.LE, legs[leg].receiverCap+legs[leg].withdrawCoinFee)
	}

	// Constraint 7: leg-to-leg amount coupling, chained through prevAmt.
	prevAmt := make([]solver.Expr, p)
	for leg := 0; leg < p; leg++ {
		prevAmt[leg] = legTransform(xVars[leg], legs[leg], 1-legs[leg].commission)
		if leg == 0 {
			continue
		}
		if legs[leg].reversed {
			var terms []solver.Term
			for layer := 0; layer < k; layer++ {
				terms = append(terms, solver.Term{Var: xVars[leg][layer], Coeff: legs[leg].precision * legs[leg].price[layer]})
			}
			model.AddConstraint(fmt.Sprintf("leg_coupling_%d", leg), solver.Sum(terms...).Sub(prevAmt[leg-1]), solver.LE, 0)
		} else {
			var terms []solver.Term
			for layer := 0; layer < k; layer++ {
				terms = append(terms, solver.Term{Var: xVars[leg][layer], Coeff: legs[leg].precision})
			}
			model.AddConstraint(fmt.Sprintf("leg_coupling_%d", leg), solver.Sum(terms...).Sub(prevAmt[leg-1]), solver.LE, 0)
		}
	}

	// Objective: maximize (get - pay) / amplifier. pay uses leg 0's
	// transform without commission; get is leg P-1's transform as used in
	// the coupling chain above (with commission).
	pay := legTransform(xVars[0], legs[0], 1.0)
	get := prevAmt[p-1]
	model.Maximize(get.Sub(pay).Scale(1 / config.Amplifier))

	start := time.Now()
	sol, err := model.Solve(ctx)
	metrics.RecordSolverDuration("amount_optimizer", time.Since(start).Seconds())
	if err != nil {
		alerts.AlertSolverError(ctx, "amountopt", err)
		return Plan{}, err
	}
	if sol.Status != solver.StatusOptimal || sol.Objective <= 0 {
		log.Info().Str("status", sol.Status.String()).Float64("objective", sol.Objective).
			Msg("amount optimizer found no workable solution")
		alerts.AlertNoWorkableSolution(ctx, p)
		return Plan{}, nil
	}

	out := Plan{Profit: sol.Objective * config.Amplifier, HasSolution: true}
	for leg := 0; leg < p; leg++ {
		for layer := 0; layer < k; layer++ {
			units := sol.Value(xVars[leg][layer])
			if units < 0.5 {
				continue
			}
			volume := math.Round(units) * legs[leg].precision
			out.Legs = append(out.Legs, Leg{
				Pair:      o.graph.PairForEdge(legs[leg].edge),
				Volume:    volume,
				Price:     legs[leg].price[layer],
				Direction: directionFor(legs[leg]),
			})
			break
		}
	}

	if len(out.Legs) == 0 {
		return Plan{}, nil
	}
	return out, nil
}

func directionFor(l legData) Direction {
	if l.edge.Kind == graph.InterExchange {
		return DirectionTransfer
	}
	if l.reversed {
		return DirectionBuy
	}
	return DirectionSell
}

// leg0Cost is the leg-0 initial-balance cap's left-hand side: native-unit
// cost when non-reversed, quote-converted cost when reversed.
func leg0Cost(xVars []solver.Var, leg legData) solver.Expr {
	if leg.reversed {
		terms := make([]solver.Term, len(xVars))
		for layer, v := range xVars {
			terms[layer] = solver.Term{Var: v, Coeff: leg.precision * leg.price[layer]}
		}
		return solver.Sum(terms...)
	}
	terms := make([]solver.Term, len(xVars))
	for layer, v := range xVars {
		terms[layer] = solver.Term{Var: v, Coeff: leg.precision}
	}
	return solver.Sum(terms...)
}

// legTransform computes prev_amt for one leg: the amount available to the
// next leg after this one executes. commissionFactor is (1-commission) for
// the coupling chain, or 1.0 when the caller wants the trading fee dropped
// (the objective's pay term). It has no effect on an inter-exchange leg,
// whose transform never includes a trading commission.
func legTransform(xVars []solver.Var, leg legData, commissionFactor float64) solver.Expr {
	if leg.edge.Kind == graph.InterExchange {
		terms := make([]solver.Term, len(xVars))
		for layer, v := range xVars {
			terms[layer] = solver.Term{Var: v, Coeff: leg.precision}
		}
		return solver.Sum(terms...).Sub(solver.Const(leg.withdrawCoinFee))
	}
	if leg.reversed {
		terms := make([]solver.Term, len(xVars))
		for layer, v := range xVars {
			terms[layer] = solver.Term{Var: v, Coeff: leg.precision * commissionFactor}
		}
		return solver.Sum(terms...)
	}
	terms := make([]solver.Term, len(xVars))
	for layer, v := range xVars {
		terms[layer] = solver.Term{Var: v, Coeff: leg.precision * leg.price[layer] * commissionFactor}
	}
	return solver.Sum(terms...)
}

type bookResult struct {
	leg  int
	book *exchange.OrderBook
	err  error
}

// buildLegData assembles path_commission/reverse_list/precision_matrix/
// amt_matrix/price_matrix/balance_vol for every leg, fetching order-book
// depth for intra-exchange legs in parallel (§5 fan-out/join) and
// synthesizing the inter-exchange leg's matrix per spec.
func (o *Optimizer) buildLegData(ctx context.Context, k int) []legData {
	p := len(o.path)
	legs := make([]legData, p)
	n := o.graph.NumNodes()

	var wg sync.WaitGroup
	results := make(chan bookResult, p)
	for i, e := range o.path {
		if e.Kind != graph.IntraExchange {
			continue
		}
		wg.Add(1)
		go func(i int, e graph.Edge) {
			defer wg.Done()
			exch, ok := o.exchanges[o.graph.NodeAt(e.From).Exchange]
			if !ok {
				results <- bookResult{leg: i, err: fmt.Errorf("amountopt: no adapter for exchange %q", o.graph.NodeAt(e.From).Exchange)}
				return
			}
			book, err := exch.FetchOrderBook(ctx, e.Symbol, k)
			results <- bookResult{leg: i, book: book, err: err}
		}(i, e)
	}
	wg.Wait()
	close(results)

	books := make(map[int]*exchange.OrderBook, p)
	for r := range results {
		if r.err != nil {
			log.Warn().Err(r.err).Int("leg", r.leg).Msg("order book fetch failed, leg depth treated as empty")
			continue
		}
		books[r.leg] = r.book
	}

	for i, e := range o.path {
		idx := e.From*n + e.To
		legs[i] = legData{
			edge:       e,
			commission: o.snap.Commission[idx],
			reversed:   e.Reversed,
		}

		if e.Kind == graph.InterExchange {
			legs[i].precision = math.Pow(10, -float64(config.InterExchangePrecisionStep))
			legs[i].amt = make([]float64, k)
			legs[i].price = make([]float64, k)
			legs[i].amt[0] = config.BigM
			for layer := range legs[i].price {
				legs[i].price[layer] = 1
			}
			if fee, ok := o.withdrawalFeeFor(e); ok {
				legs[i].withdrawCoinFee = fee
			}
			if bal, ok := o.snap.Balance[e.To]; ok {
				legs[i].hasReceiverCap = true
				legs[i].receiverCap = bal.Amount
			}
			continue
		}

		legs[i].precision = o.amountPrecision(e)
		legs[i].amt = make([]float64, k)
		legs[i].price = make([]float64, k)
		book := books[i]
		if book == nil {
			continue
		}
		levels := book.Bids
		if e.Reversed {
			levels = book.Asks
		}
		cum := 0.0
		for layer := 0; layer < k; layer++ {
			if layer < len(levels) {
				cum += levels[layer].Size
				legs[i].price[layer] = levels[layer].Price
				legs[i].amt[layer] = cum
			}
		}
	}

	return legs
}

// withdrawalFeeFor looks up the coin fee charged to withdraw the currency
// moving along an inter-exchange edge, from the sending exchange's node.
func (o *Optimizer) withdrawalFeeFor(e graph.Edge) (float64, bool) {
	fee, ok := o.snap.WithdrawalFee[e.From]
	if !ok {
		return 0, false
	}
	return fee.CoinFee, true
}

// amountPrecision resolves the decimal precision step for an intra-exchange
// leg from the exchange's reported market precision, falling back to
// config.DefaultPrecision.
func (o *Optimizer) amountPrecision(e graph.Edge) float64 {
	d := config.DefaultPrecision
	exch, ok := o.exchanges[o.graph.NodeAt(e.From).Exchange]
	if ok {
		if m, ok := exch.Markets()[e.Symbol]; ok && m.Precision.Amount != nil {
			d = *m.Precision.Amount
		}
	}
	return math.Pow(10, -float64(d))
}
