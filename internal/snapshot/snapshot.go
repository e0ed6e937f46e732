// Package snapshot builds the per-invocation view of prices, balances,
// fees, and trading capacity the path and amount optimizers read from. It
// implements the source model's update_balance, update_transit_price,
// update_vol_matrix, update_withdrawal_fee, update_commission_fee, and
// update_ref_coin_price routines against the graph built by
// internal/graph.
package snapshot

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/xarbhq/xarb-core/internal/alerts"
	"github.com/xarbhq/xarb-core/internal/config"
	"github.com/xarbhq/xarb-core/internal/exchange"
	"github.com/xarbhq/xarb-core/internal/graph"
	"github.com/xarbhq/xarb-core/internal/market"
	"github.com/xarbhq/xarb-core/internal/metrics"
	"github.com/xarbhq/xarb-core/internal/risk"
)

// Balance is one node's free balance and its USD-equivalent value.
type Balance struct {
	Amount     float64
	USDBalance float64
}

// Snapshot is the immutable per-invocation view published by
// Snapshotter.Refresh. The Path Optimizer reads it to build the objective
// and changeable constraint; the Amount Optimizer reads it for balances
// and withdrawal fees but never mutates it.
type Snapshot struct {
	Graph *graph.Graph

	// TransitPrice, Commission, and VolMatrix are row-major N*N, indexed
	// [from*N+to], mirroring the source model's matrices.
	TransitPrice []float64
	Commission   []float64
	VolMatrix    []float64

	Balance       map[int]Balance
	WithdrawalFee map[int]market.WithdrawalFee
	RefPrice      map[string]float64

	// RequiredCurrencies holds node indices whose USD balance meets
	// MinTradingLimit, sorted descending by USD balance. It is recomputed
	// on every Refresh from Balance; it is never taken from configuration.
	RequiredCurrencies []int
}

// Weight returns the log-domain edge weight the path optimizer sums over,
// and whether the edge clears the volume gate at all. An edge with
// nonpositive price, insufficient volume, or a commission at or above 100%
// is reported unusable.
func (s *Snapshot) Weight(i, j int, minTradingLimit float64) (float64, bool) {
	n := s.Graph.NumNodes()
	idx := i*n + j
	price := s.TransitPrice[idx]
	if price <= 0 {
		return 0, false
	}
	if s.VolMatrix[idx] < minTradingLimit {
		return 0, false
	}
	commission := s.Commission[idx]
	if commission >= 1 {
		return 0, false
	}
	return math.Log(price * (1 - commission)), true
}

// Snapshotter owns the exchange adapters and oracles a Snapshot is built
// from, and the cross-call state (withdrawal fees, reference prices) that
// persists between refresh cadences.
type Snapshotter struct {
	graph       *graph.Graph
	exchanges   map[string]exchange.Exchange
	priceOracle market.PriceOracle
	feeOracle   market.WithdrawalFeeOracle
	cfg         *config.ArbitrageConfig
	breakers    *risk.CircuitBreakerManager

	mu            sync.Mutex
	withdrawalFee map[int]market.WithdrawalFee
	refPrice      map[string]float64
}

// NewSnapshotter wires a Snapshotter from its graph, exchange adapters, and
// oracles. breakers may be nil, in which case calls are unwrapped.
func NewSnapshotter(
	g *graph.Graph,
	exchanges map[string]exchange.Exchange,
	priceOracle market.PriceOracle,
	feeOracle market.WithdrawalFeeOracle,
	cfg *config.ArbitrageConfig,
	breakers *risk.CircuitBreakerManager,
) *Snapshotter {
	return &Snapshotter{
		graph:         g,
		exchanges:     exchanges,
		priceOracle:   priceOracle,
		feeOracle:     feeOracle,
		cfg:           cfg,
		breakers:      breakers,
		withdrawalFee: make(map[int]market.WithdrawalFee),
		refPrice:      make(map[string]float64),
	}
}

// Refresh produces a new Snapshot. tick is the caller's invocation counter:
// transit price, balance, and volume are rebuilt every call; withdrawal
// fee, commission, and reference price are rebuilt only every
// cfg.RefreshTime calls, matching the source model's refresh cadence.
func (s *Snapshotter) Refresh(ctx context.Context, tick int) (*Snapshot, error) {
	n := s.graph.NumNodes()
	snap := &Snapshot{
		Graph:        s.graph,
		TransitPrice: make([]float64, n*n),
		Commission:   make([]float64, n*n),
		VolMatrix:    make([]float64, n*n),
		Balance:      make(map[int]Balance, n),
	}

	tickers := s.fetchTickers(ctx)
	balances := s.fetchBalances(ctx)

	if s.cfg.RefreshTime <= 0 || tick%s.cfg.RefreshTime == 0 {
		s.refreshWithdrawalFees(ctx)
		if err := s.refreshRefPrices(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	snap.WithdrawalFee = s.withdrawalFee
	snap.RefPrice = s.refPrice
	s.mu.Unlock()

	s.updateTransitPrice(snap, tickers)
	s.updateCommission(snap)
	s.updateBalance(snap, balances)
	s.updateVolMatrix(snap, tickers)

	snap.RequiredCurrencies = s.computeRequiredCurrencies(snap)

	return snap, nil
}

type tickerResult struct {
	exchangeName string
	tickers      map[string]exchange.Ticker
}

// fetchTickers issues one FetchTickers call per exchange in parallel. A
// failed fetch logs a warning and leaves that exchange absent from the
// result rather than aborting its siblings (§5 fan-out/join).
func (s *Snapshotter) fetchTickers(ctx context.Context) map[string]map[string]exchange.Ticker {
	var g errgroup.Group
	results := make(chan tickerResult, len(s.exchanges))

	for name, exch := range s.exchanges {
		name, exch := name, exch
		g.Go(func() error {
			tickers, err := callExchange(s, ctx, func() (map[string]exchange.Ticker, error) {
				return exch.FetchTickers(ctx)
			})
			if err != nil {
				log.Warn().Err(err).Str("exchange", name).Msg("ticker fetch failed, treating pairs as unpriced")
				alerts.AlertSnapshotDegraded(ctx, name, "ticker", err)
				metrics.RecordSnapshotRefresh(name, "ticker_error")
				return nil
			}
			metrics.RecordSnapshotRefresh(name, "ok")
			results <- tickerResult{exchangeName: name, tickers: tickers}
			return nil
		})
	}
	g.Wait()
	close(results)

	out := make(map[string]map[string]exchange.Ticker, len(s.exchanges))
	for r := range results {
		out[r.exchangeName] = r.tickers
	}
	return out
}

type balanceResult struct {
	exchangeName string
	balances     map[string]float64
}

// fetchBalances issues one FetchFreeBalance call per exchange in parallel,
// or substitutes the configured simulated balance when set.
func (s *Snapshotter) fetchBalances(ctx context.Context) map[string]map[string]float64 {
	if s.cfg.SimulatedBal != nil {
		return simulatedBalancesByExchange(s.cfg.SimulatedBal)
	}

	var g errgroup.Group
	results := make(chan balanceResult, len(s.exchanges))

	for name, exch := range s.exchanges {
		name, exch := name, exch
		g.Go(func() error {
			balances, err := callExchange(s, ctx, func() (map[string]float64, error) {
				return exch.FetchFreeBalance(ctx)
			})
			if err != nil {
				log.Warn().Err(err).Str("exchange", name).Msg("balance fetch failed, treating balance as zero")
				alerts.AlertSnapshotDegraded(ctx, name, "balance", err)
				metrics.RecordSnapshotRefresh(name, "balance_error")
				return nil
			}
			metrics.RecordSnapshotRefresh(name, "ok")
			results <- balanceResult{exchangeName: name, balances: balances}
			return nil
		})
	}
	g.Wait()
	close(results)

	out := make(map[string]map[string]float64, len(s.exchanges))
	for r := range results {
		out[r.exchangeName] = r.balances
	}
	return out
}

// simulatedBalancesByExchange splits a flat "EXCHANGE.CURRENCY" -> amount
// map into a per-exchange balance map.
func simulatedBalancesByExchange(flat map[string]float64) map[string]map[string]float64 {
	out := make(map[string]map[string]float64)
	for key, amount := range flat {
		excName, currency := splitSimulatedKey(key)
		if out[excName] == nil {
			out[excName] = make(map[string]float64)
		}
		out[excName][currency] = amount
	}
	return out
}

func splitSimulatedKey(key string) (exc, cur string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '.' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// callExchange wraps an exchange call with retry-with-backoff and, when
// configured, the "exchange" circuit breaker.
func callExchange[T any](s *Snapshotter, ctx context.Context, op func() (T, error)) (T, error) {
	var result T
	run := func() error {
		r, err := op()
		if err != nil {
			return err
		}
		result = r
		return nil
	}
	if s.breakers == nil {
		return result, exchange.WithRetry(ctx, exchange.DefaultRetryConfig(), run)
	}
	_, err := s.breakers.Exchange().Execute(func() (interface{}, error) {
		return nil, exchange.WithRetry(ctx, exchange.DefaultRetryConfig(), run)
	})
	return result, err
}

// updateTransitPrice sets the unit-conversion rate for every edge from the
// fetched tickers: non-reversed intra-exchange edges use bid, reversed
// edges use 1/ask. Inter-exchange edges convert 1:1 when the source side
// has a known withdrawal fee.
func (s *Snapshotter) updateTransitPrice(snap *Snapshot, tickers map[string]map[string]exchange.Ticker) {
	n := s.graph.NumNodes()
	for _, e := range s.graph.Edges {
		if e.Kind == graph.InterExchange {
			continue
		}
		book, ok := tickers[s.graph.NodeAt(e.From).Exchange]
		if !ok {
			continue
		}
		t, ok := book[e.Symbol]
		if !ok || t.Bid <= 0 || t.Ask <= 0 {
			continue
		}
		if e.Reversed {
			snap.TransitPrice[e.From*n+e.To] = 1 / t.Ask
		} else {
			snap.TransitPrice[e.From*n+e.To] = t.Bid
		}
	}

	for _, e := range s.graph.Edges {
		if e.Kind != graph.InterExchange {
			continue
		}
		fromCur := s.graph.NodeAt(e.From).Currency
		if _, ok := s.withdrawalFeeByCurrency(fromCur); ok {
			snap.TransitPrice[e.From*n+e.To] = 1
		}
	}
}

// withdrawalFeeByCurrency looks up a currency's withdrawal fee regardless
// of which node index it was recorded under (fees are per-currency, not
// per-node, but cached by the node index that first resolved them).
func (s *Snapshotter) withdrawalFeeByCurrency(currency string) (market.WithdrawalFee, bool) {
	for i, node := range s.graph.Nodes {
		if node.Currency != currency {
			continue
		}
		if fee, ok := s.withdrawalFee[i]; ok {
			return fee, true
		}
	}
	return market.WithdrawalFee{}, false
}

// updateCommission sets the fractional fee on every edge: the configured
// trading fee for same-exchange edges, the USD-normalized withdrawal rate
// for inter-exchange edges with a known fee.
func (s *Snapshotter) updateCommission(snap *Snapshot) {
	n := s.graph.NumNodes()
	for _, e := range s.graph.Edges {
		idx := e.From*n + e.To
		if e.Kind == graph.IntraExchange {
			excName := s.graph.NodeAt(e.From).Exchange
			snap.Commission[idx] = s.cfg.Exchanges[excName].TradingFeePct
			continue
		}
		fromCur := s.graph.NodeAt(e.From).Currency
		if fee, ok := s.withdrawalFeeByCurrency(fromCur); ok {
			snap.Commission[idx] = fee.USDRate
		}
	}
}

// updateBalance takes the free balances returned by fetchBalances (live or
// the simulated override) and converts each to its USD-equivalent using
// the cached reference price.
func (s *Snapshotter) updateBalance(snap *Snapshot, balances map[string]map[string]float64) {
	for i, node := range s.graph.Nodes {
		amount := balances[node.Exchange][node.Currency]
		price := s.refPrice[node.Currency]
		snap.Balance[i] = Balance{Amount: amount, USDBalance: amount * price}
	}
}

// updateVolMatrix sets the USD-notional trading capacity for every edge.
// Intra-exchange edges use a percentile of the ticker's base volume priced
// in USD; inter-exchange edges are capped by the receiver's balance plus
// what the sender can withdraw, or left unbounded when
// ConsiderInterExcBal is false.
func (s *Snapshotter) updateVolMatrix(snap *Snapshot, tickers map[string]map[string]exchange.Ticker) {
	const volumePercentile = 0.01
	n := s.graph.NumNodes()

	for _, e := range s.graph.Edges {
		if e.Kind != graph.IntraExchange {
			continue
		}
		book, ok := tickers[s.graph.NodeAt(e.From).Exchange]
		if !ok {
			continue
		}
		t, ok := book[e.Symbol]
		if !ok || t.BaseVolume <= 0 {
			continue
		}
		basePrice := s.refPrice[s.graph.NodeAt(e.From).Currency]
		if e.Reversed {
			basePrice = s.refPrice[s.graph.NodeAt(e.To).Currency]
		}
		snap.VolMatrix[e.From*n+e.To] = t.BaseVolume * basePrice * volumePercentile
	}

	if !s.cfg.ConsiderInterExcBal {
		for _, e := range s.graph.Edges {
			if e.Kind == graph.InterExchange {
				snap.VolMatrix[e.From*n+e.To] = math.Inf(1)
			}
		}
		return
	}

	for _, e := range s.graph.Edges {
		if e.Kind != graph.InterExchange {
			continue
		}
		toBalUSD := snap.Balance[e.To].USDBalance
		fromWithdrawUSD := 0.0
		if fee, ok := s.withdrawalFeeByCurrency(s.graph.NodeAt(e.From).Currency); ok {
			fromWithdrawUSD = fee.USDFee
		}
		snap.VolMatrix[e.From*n+e.To] = toBalUSD + fromWithdrawUSD
	}
}

// refreshWithdrawalFees refetches withdrawal fee tables for every exchange
// and retains only coins present in the node set, keyed by node index.
func (s *Snapshotter) refreshWithdrawalFees(ctx context.Context) {
	feesByNode := make(map[int]market.WithdrawalFee)
	for excName := range s.exchanges {
		fees, err := s.callOracleFees(ctx, excName)
		if err != nil {
			log.Warn().Err(err).Str("exchange", excName).Msg("withdrawal fee fetch failed, leaving stale values")
			alerts.AlertSnapshotDegraded(ctx, excName, "withdrawal_fee", err)
			metrics.RecordSnapshotRefresh(excName, "withdrawal_fee_error")
			continue
		}
		metrics.RecordSnapshotRefresh(excName, "ok")
		for coin, fee := range fees {
			idx, ok := s.graph.IndexOf(excName + "_" + coin)
			if !ok {
				continue
			}
			feesByNode[idx] = fee
		}
	}
	s.mu.Lock()
	s.withdrawalFee = feesByNode
	s.mu.Unlock()
}

func (s *Snapshotter) callOracleFees(ctx context.Context, excName string) (map[string]market.WithdrawalFee, error) {
	run := func() (map[string]market.WithdrawalFee, error) {
		return s.feeOracle.GetWithdrawalFees(ctx, excName, s.cfg.InterexTradingSize)
	}
	if s.breakers == nil {
		return run()
	}
	result, err := s.breakers.Oracle().Execute(func() (interface{}, error) {
		return run()
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]market.WithdrawalFee), nil
}

// refreshRefPrices refetches the USD reference price for every currency in
// the node set. A protocol-level oracle failure (not a per-symbol miss) is
// fatal, per §7.
func (s *Snapshotter) refreshRefPrices(ctx context.Context) error {
	seen := make(map[string]bool)
	var coins []string
	for _, node := range s.graph.Nodes {
		if !seen[node.Currency] {
			seen[node.Currency] = true
			coins = append(coins, node.Currency)
		}
	}

	prices, err := s.callOraclePrices(ctx, coins)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.refPrice = prices
	s.mu.Unlock()
	return nil
}

func (s *Snapshotter) callOraclePrices(ctx context.Context, coins []string) (map[string]float64, error) {
	run := func() (map[string]float64, error) {
		return s.priceOracle.GetPrices(ctx, coins)
	}
	if s.breakers == nil {
		return run()
	}
	result, err := s.breakers.Oracle().Execute(func() (interface{}, error) {
		return run()
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]float64), nil
}

// computeRequiredCurrencies recomputes the live, balance-derived required
// set: nodes whose USD balance is at least MinTradingLimit, sorted
// descending by USD balance. When ConsiderInitBal is false the set is
// always empty, so the changeable constraint is never added.
func (s *Snapshotter) computeRequiredCurrencies(snap *Snapshot) []int {
	if !s.cfg.ConsiderInitBal {
		return nil
	}
	var required []int
	for i, bal := range snap.Balance {
		if bal.USDBalance >= s.cfg.MinTradingLimit {
			required = append(required, i)
		}
	}
	sort.Slice(required, func(a, b int) bool {
		return snap.Balance[required[a]].USDBalance > snap.Balance[required[b]].USDBalance
	})
	return required
}
