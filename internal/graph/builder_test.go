package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xarbhq/xarb-core/internal/config"
	"github.com/xarbhq/xarb-core/internal/exchange"
)

type fakeOracle struct {
	prices map[string]float64
}

func (f *fakeOracle) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, s := range symbols {
		if p, ok := f.prices[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

func twoExchangeConfig() *config.ArbitrageConfig {
	return &config.ArbitrageConfig{
		IncludeFiat:          false,
		InterExchangeTrading: true,
	}
}

func TestBuild_NodeBijection(t *testing.T) {
	x := exchange.NewMockExchange("x").SeedMarket("BTC/USDT", "BTC", "USDT", 3)
	y := exchange.NewMockExchange("y").SeedMarket("BTC/USDT", "BTC", "USDT", 3)

	oracle := &fakeOracle{prices: map[string]float64{"BTC": 65000, "USDT": 1}}
	b := NewBuilder(map[string]exchange.Exchange{"x": x, "y": y}, oracle, twoExchangeConfig())

	g, err := b.Build(context.Background())
	require.NoError(t, err)

	// every node must round-trip index -> key -> index
	for i := 0; i < g.NumNodes(); i++ {
		node := g.NodeAt(i)
		idx, ok := g.IndexOf(node.Key())
		require.True(t, ok)
		assert.Equal(t, i, idx)
	}
	assert.Len(t, g.Nodes, 4) // x_BTC, x_USDT, y_BTC, y_USDT
}

func TestBuild_InterConvertEdgesBothDirections(t *testing.T) {
	x := exchange.NewMockExchange("x").SeedMarket("BTC/USDT", "BTC", "USDT", 3)
	y := exchange.NewMockExchange("y").SeedMarket("BTC/USDT", "BTC", "USDT", 3)

	oracle := &fakeOracle{prices: map[string]float64{"BTC": 65000, "USDT": 1}}
	b := NewBuilder(map[string]exchange.Exchange{"x": x, "y": y}, oracle, twoExchangeConfig())

	g, err := b.Build(context.Background())
	require.NoError(t, err)

	xBTC, _ := g.IndexOf("x_BTC")
	yBTC, _ := g.IndexOf("y_BTC")
	assert.True(t, g.HasEdge(xBTC, yBTC))
	assert.True(t, g.HasEdge(yBTC, xBTC))

	xUSDT, _ := g.IndexOf("x_USDT")
	yUSDT, _ := g.IndexOf("y_USDT")
	assert.True(t, g.HasEdge(xUSDT, yUSDT))
	assert.True(t, g.HasEdge(yUSDT, xUSDT))
}

func TestBuild_SingleExchangeHasNoInterConvertEdges(t *testing.T) {
	x := exchange.NewMockExchange("x").SeedMarket("BTC/USDT", "BTC", "USDT", 3)

	oracle := &fakeOracle{prices: map[string]float64{"BTC": 65000, "USDT": 1}}
	b := NewBuilder(map[string]exchange.Exchange{"x": x}, oracle, twoExchangeConfig())

	g, err := b.Build(context.Background())
	require.NoError(t, err)

	for _, e := range g.Edges {
		assert.Equal(t, IntraExchange, e.Kind)
	}
}

func TestBuild_IntraExchangeEdgeDirections(t *testing.T) {
	x := exchange.NewMockExchange("x").SeedMarket("BTC/USDT", "BTC", "USDT", 3)

	oracle := &fakeOracle{prices: map[string]float64{"BTC": 65000, "USDT": 1}}
	b := NewBuilder(map[string]exchange.Exchange{"x": x}, oracle, twoExchangeConfig())

	g, err := b.Build(context.Background())
	require.NoError(t, err)

	base, _ := g.IndexOf("x_BTC")
	quote, _ := g.IndexOf("x_USDT")

	forward, ok := g.EdgeBetween(base, quote)
	require.True(t, ok)
	assert.False(t, forward.Reversed)
	assert.Equal(t, "BTC/USDT", forward.Symbol)

	backward, ok := g.EdgeBetween(quote, base)
	require.True(t, ok)
	assert.True(t, backward.Reversed)
	assert.Equal(t, "BTC/USDT", backward.Symbol)
}

func TestBuild_ExcludesFiatWhenConfigured(t *testing.T) {
	x := exchange.NewMockExchange("x").SeedMarket("BTC/USD", "BTC", "USD", 3)

	oracle := &fakeOracle{prices: map[string]float64{"BTC": 65000, "USD": 1}}
	cfg := twoExchangeConfig()
	cfg.IncludeFiat = false
	b := NewBuilder(map[string]exchange.Exchange{"x": x}, oracle, cfg)

	g, err := b.Build(context.Background())
	require.NoError(t, err)

	for _, n := range g.Nodes {
		assert.NotEqual(t, "USD", n.Currency)
	}
}

func TestBuild_ExcludesCurrenciesWithoutReferencePrice(t *testing.T) {
	x := exchange.NewMockExchange("x").SeedMarket("BTC/XYZ", "BTC", "XYZ", 3)

	oracle := &fakeOracle{prices: map[string]float64{"BTC": 65000}} // XYZ has no price
	b := NewBuilder(map[string]exchange.Exchange{"x": x}, oracle, twoExchangeConfig())

	g, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Len(t, g.Nodes, 1)
	assert.Equal(t, "BTC", g.Nodes[0].Currency)
}
