package amountopt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xarbhq/xarb-core/internal/config"
	"github.com/xarbhq/xarb-core/internal/exchange"
	"github.com/xarbhq/xarb-core/internal/graph"
	"github.com/xarbhq/xarb-core/internal/market"
	"github.com/xarbhq/xarb-core/internal/snapshot"
)

func roundTripCycle() (*graph.Graph, []graph.Edge) {
	nodes := []graph.Node{
		{Exchange: "x", Currency: "A"},
		{Exchange: "x", Currency: "B"},
	}
	edges := []graph.Edge{
		{From: 0, To: 1, Kind: graph.IntraExchange, Symbol: "A/B"},
		{From: 1, To: 0, Kind: graph.IntraExchange, Symbol: "A/B", Reversed: true},
	}
	g := graph.New(nodes, edges)
	return g, edges
}

func baseCfg() *config.ArbitrageConfig {
	return &config.ArbitrageConfig{
		OrderbookN:  2,
		TradeAmtPtc: 1,
	}
}

func TestSolve_ProfitableRoundTripProducesTwoSizedLegs(t *testing.T) {
	g, path := roundTripCycle()
	n := g.NumNodes()

	x := exchange.NewMockExchange("x").
		SeedMarket("A/B", "A", "B", 3).
		SeedOrderBook("A/B",
			[]exchange.OrderBookLevel{{Price: 10, Size: 20}},
			[]exchange.OrderBookLevel{{Price: 0.5, Size: 1000}},
		)

	snap := &snapshot.Snapshot{
		Graph:        g,
		TransitPrice: make([]float64, n*n),
		Commission:   make([]float64, n*n),
		VolMatrix:    make([]float64, n*n),
		Balance: map[int]snapshot.Balance{
			0: {Amount: 10, USDBalance: 100},
			1: {Amount: 0, USDBalance: 0},
		},
	}

	o := NewOptimizer(baseCfg(), g, snap, path, map[string]exchange.Exchange{"x": x})
	plan, err := o.Solve(context.Background())
	require.NoError(t, err)

	require.True(t, plan.HasSolution)
	require.Len(t, plan.Legs, 2)
	assert.Greater(t, plan.Profit, 0.0)

	assert.Equal(t, DirectionSell, plan.Legs[0].Direction)
	assert.Equal(t, DirectionBuy, plan.Legs[1].Direction)
	assert.InDelta(t, 10.0, plan.Legs[0].Volume, 0.01)
	assert.Greater(t, plan.Legs[1].Volume, plan.Legs[0].Volume)
}

func TestSolve_InitialBalanceCapsLeg0Volume(t *testing.T) {
	g, path := roundTripCycle()
	n := g.NumNodes()

	x := exchange.NewMockExchange("x").
		SeedMarket("A/B", "A", "B", 3).
		SeedOrderBook("A/B",
			[]exchange.OrderBookLevel{{Price: 10, Size: 1000}},
			[]exchange.OrderBookLevel{{Price: 0.5, Size: 1000}},
		)

	snap := &snapshot.Snapshot{
		Graph:        g,
		TransitPrice: make([]float64, n*n),
		Commission:   make([]float64, n*n),
		VolMatrix:    make([]float64, n*n),
		Balance: map[int]snapshot.Balance{
			0: {Amount: 3, USDBalance: 30},
			1: {Amount: 0, USDBalance: 0},
		},
	}

	o := NewOptimizer(baseCfg(), g, snap, path, map[string]exchange.Exchange{"x": x})
	plan, err := o.Solve(context.Background())
	require.NoError(t, err)

	require.True(t, plan.HasSolution)
	assert.LessOrEqual(t, plan.Legs[0].Volume, 3.0+1e-6)
}

func TestSolve_NoDepthYieldsNoSolution(t *testing.T) {
	g, path := roundTripCycle()
	n := g.NumNodes()

	x := exchange.NewMockExchange("x").SeedMarket("A/B", "A", "B", 3)
	// No order book seeded: FetchOrderBook fails for both legs.

	snap := &snapshot.Snapshot{
		Graph:        g,
		TransitPrice: make([]float64, n*n),
		Commission:   make([]float64, n*n),
		VolMatrix:    make([]float64, n*n),
		Balance: map[int]snapshot.Balance{
			0: {Amount: 10, USDBalance: 100},
			1: {Amount: 0, USDBalance: 0},
		},
	}

	o := NewOptimizer(baseCfg(), g, snap, path, map[string]exchange.Exchange{"x": x})
	plan, err := o.Solve(context.Background())
	require.NoError(t, err)
	assert.False(t, plan.HasSolution)
	assert.Empty(t, plan.Legs)
}

func TestSolve_InterExchangeLegUsesWithdrawalFeeAndReceiverCap(t *testing.T) {
	nodes := []graph.Node{
		{Exchange: "x", Currency: "A"},
		{Exchange: "y", Currency: "A"},
	}
	edges := []graph.Edge{
		{From: 0, To: 1, Kind: graph.InterExchange},
		{From: 1, To: 0, Kind: graph.InterExchange},
	}
	g := graph.New(nodes, edges)
	n := g.NumNodes()

	snap := &snapshot.Snapshot{
		Graph:        g,
		TransitPrice: make([]float64, n*n),
		Commission:   make([]float64, n*n),
		VolMatrix:    make([]float64, n*n),
		Balance: map[int]snapshot.Balance{
			0: {Amount: 10, USDBalance: 200000},
			1: {Amount: 100, USDBalance: 2000000},
		},
		WithdrawalFee: map[int]market.WithdrawalFee{},
	}

	o := NewOptimizer(baseCfg(), g, snap, edges, map[string]exchange.Exchange{})
	plan, err := o.Solve(context.Background())
	require.NoError(t, err)

	// A round trip of the same coin between two exchanges with zero fees
	// and no trading commission nets to zero profit, which the optimizer
	// reports as no workable solution (objective must be strictly positive).
	assert.False(t, plan.HasSolution)
}
