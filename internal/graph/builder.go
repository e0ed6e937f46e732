package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xarbhq/xarb-core/internal/config"
	"github.com/xarbhq/xarb-core/internal/exchange"
	"github.com/xarbhq/xarb-core/internal/market"
)

// fiatCurrencies lists the currency codes excluded from the graph unless
// IncludeFiat is set, adapted from the source model's fiat_set.
var fiatCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "AUD": true,
	"CAD": true, "CHF": true, "CNY": true, "SGD": true, "HKD": true,
}

// Builder constructs a Graph from a set of exchange adapters, filtered to
// currencies with a known USD reference price.
type Builder struct {
	exchanges map[string]exchange.Exchange
	oracle    market.PriceOracle
	cfg       *config.ArbitrageConfig
}

// NewBuilder wires the exchange adapters and price oracle Build needs.
func NewBuilder(exchanges map[string]exchange.Exchange, oracle market.PriceOracle, cfg *config.ArbitrageConfig) *Builder {
	return &Builder{exchanges: exchanges, oracle: oracle, cfg: cfg}
}

// Build loads markets on every exchange, filters to currencies with a known
// USD reference price, computes the inter-exchange transfer list, and
// locates every tradable decision-variable edge. It performs, in order, the
// equivalent of the source model's init_currency_info, get_inter_convert_list,
// and get_var_location.
func (b *Builder) Build(ctx context.Context) (*Graph, error) {
	currencySet, err := b.initCurrencyInfo(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(currencySet))
	for k := range currencySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	nodes := make([]Node, len(keys))
	index := make(map[string]int, len(keys))
	for i, key := range keys {
		exc, cur := splitKey(key)
		nodes[i] = Node{Exchange: exc, Currency: cur}
		index[key] = i
	}

	interConvertList := b.getInterConvertList(currencySet)
	edges := b.getVarLocation(nodes, index, interConvertList)

	return New(nodes, edges), nil
}

// initCurrencyInfo mirrors init_currency_info: union every exchange's
// currencies (optionally dropping fiat), then keep only those with a USD
// reference price from the oracle.
func (b *Builder) initCurrencyInfo(ctx context.Context) (map[string]bool, error) {
	currencySet := make(map[string]bool)

	for excName, exch := range b.exchanges {
		if err := exch.LoadMarkets(ctx); err != nil {
			return nil, fmt.Errorf("load markets for %s: %w", excName, err)
		}
		for _, cur := range exch.Currencies() {
			if !b.cfg.IncludeFiat && fiatCurrencies[cur] {
				continue
			}
			currencySet[fmt.Sprintf("%s_%s", excName, cur)] = true
		}
	}

	coinSet := make(map[string]bool)
	for key := range currencySet {
		_, cur := splitKey(key)
		coinSet[cur] = true
	}
	coins := make([]string, 0, len(coinSet))
	for c := range coinSet {
		coins = append(coins, c)
	}

	prices, err := b.oracle.GetPrices(ctx, coins)
	if err != nil {
		return nil, &market.OracleError{Op: "resolve reference prices", Err: err}
	}

	filtered := make(map[string]bool, len(currencySet))
	for key := range currencySet {
		_, cur := splitKey(key)
		if _, ok := prices[cur]; ok {
			filtered[key] = true
		}
	}
	return filtered, nil
}

// getInterConvertList mirrors get_inter_convert_list: for every currency
// traded on two or more exchanges, pair up every combination of its
// per-exchange nodes as a candidate transfer.
func (b *Builder) getInterConvertList(currencySet map[string]bool) [][2]string {
	if !b.cfg.InterExchangeTrading {
		return nil
	}

	byCoin := make(map[string][]string)
	for key := range currencySet {
		_, cur := splitKey(key)
		byCoin[cur] = append(byCoin[cur], key)
	}

	var pairs [][2]string
	for _, keys := range byCoin {
		if len(keys) < 2 {
			continue
		}
		sort.Strings(keys)
		for i := 0; i < len(keys); i++ {
			for j := i + 1; j < len(keys); j++ {
				pairs = append(pairs, [2]string{keys[i], keys[j]})
			}
		}
	}
	return pairs
}

// getVarLocation mirrors get_var_location: locate every intra-exchange
// market edge and every inter-exchange transfer edge, in both directions.
func (b *Builder) getVarLocation(nodes []Node, index map[string]int, interConvertList [][2]string) []Edge {
	var edges []Edge

	for excName, exch := range b.exchanges {
		for symbol, mkt := range exch.Markets() {
			baseKey := fmt.Sprintf("%s_%s", excName, mkt.Base)
			quoteKey := fmt.Sprintf("%s_%s", excName, mkt.Quote)
			baseIdx, okBase := index[baseKey]
			quoteIdx, okQuote := index[quoteKey]
			if !okBase || !okQuote {
				continue
			}
			edges = append(edges,
				Edge{From: baseIdx, To: quoteIdx, Kind: IntraExchange, Symbol: symbol, Reversed: false},
				Edge{From: quoteIdx, To: baseIdx, Kind: IntraExchange, Symbol: symbol, Reversed: true},
			)
		}
	}

	for _, pair := range interConvertList {
		fromIdx, okFrom := index[pair[0]]
		toIdx, okTo := index[pair[1]]
		if !okFrom || !okTo {
			continue
		}
		edges = append(edges,
			Edge{From: fromIdx, To: toIdx, Kind: InterExchange},
			Edge{From: toIdx, To: fromIdx, Kind: InterExchange},
		)
	}

	return edges
}

// splitKey divides a "<exchange>_<currency>" key on its last underscore,
// matching the source model's key.split('_')[-1] convention so exchange
// names may themselves contain underscores.
func splitKey(key string) (exc, cur string) {
	idx := strings.LastIndex(key, "_")
	if idx == -1 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}
