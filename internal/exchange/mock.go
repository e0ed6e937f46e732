package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MockExchange is an in-memory Exchange backed by seeded fixtures. It never
// touches the network, so every optimizer and scenario test constructs
// exchanges with it instead of a live venue.
type MockExchange struct {
	mu sync.RWMutex

	name    string
	markets map[string]Market
	tickers map[string]Ticker
	books   map[string]*OrderBook
	balance map[string]float64

	depositAddrs map[string]*DepositAddress
	orders       map[string]*Order
}

// NewMockExchange creates an empty mock exchange for the given venue name.
// Use the Seed* methods to populate it before calling LoadMarkets.
func NewMockExchange(name string) *MockExchange {
	return &MockExchange{
		name:         name,
		markets:      make(map[string]Market),
		tickers:      make(map[string]Ticker),
		books:        make(map[string]*OrderBook),
		balance:      make(map[string]float64),
		depositAddrs: make(map[string]*DepositAddress),
		orders:       make(map[string]*Order),
	}
}

// SeedMarket registers a tradable symbol with its precision.
func (m *MockExchange) SeedMarket(symbol, base, quote string, amountPrecision int) *MockExchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := amountPrecision
	m.markets[symbol] = Market{
		Symbol:    symbol,
		Base:      base,
		Quote:     quote,
		Precision: Precision{Amount: &p},
	}
	return m
}

// SeedTicker sets the best bid/ask/volume for a symbol.
func (m *MockExchange) SeedTicker(symbol string, bid, ask, baseVolume float64) *MockExchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers[symbol] = Ticker{Symbol: symbol, Bid: bid, Ask: ask, BaseVolume: baseVolume}
	return m
}

// SeedOrderBook sets bid/ask depth for a symbol. Levels need not be pre-sorted.
func (m *MockExchange) SeedOrderBook(symbol string, bids, asks []OrderBookLevel) *MockExchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := func(levels []OrderBookLevel, descending bool) []OrderBookLevel {
		out := make([]OrderBookLevel, len(levels))
		copy(out, levels)
		sort.Slice(out, func(i, j int) bool {
			if descending {
				return out[i].Price > out[j].Price
			}
			return out[i].Price < out[j].Price
		})
		return out
	}
	m.books[symbol] = &OrderBook{
		Symbol: symbol,
		Bids:   sorted(bids, true),
		Asks:   sorted(asks, false),
	}
	return m
}

// SeedBalance sets the free balance for a currency.
func (m *MockExchange) SeedBalance(currency string, amount float64) *MockExchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance[currency] = amount
	return m
}

// SeedDepositAddress sets the deposit destination returned for a coin.
func (m *MockExchange) SeedDepositAddress(coin, address, tag string) *MockExchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depositAddrs[coin] = &DepositAddress{Coin: coin, Address: address, Tag: tag}
	return m
}

func (m *MockExchange) Name() string { return m.name }

// LoadMarkets is a no-op for the mock: fixtures are already resident.
func (m *MockExchange) LoadMarkets(ctx context.Context) error {
	log.Debug().Str("exchange", m.name).Int("markets", len(m.markets)).Msg("mock exchange markets loaded")
	return nil
}

func (m *MockExchange) Currencies() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, mk := range m.markets {
		seen[mk.Base] = struct{}{}
		seen[mk.Quote] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (m *MockExchange) Markets() map[string]Market {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Market, len(m.markets))
	for k, v := range m.markets {
		out[k] = v
	}
	return out
}

func (m *MockExchange) FetchTickers(ctx context.Context) (map[string]Ticker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Ticker, len(m.tickers))
	for k, v := range m.tickers {
		out[k] = v
	}
	return out, nil
}

func (m *MockExchange) FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	book, ok := m.books[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: no order book seeded for %s", m.name, symbol)
	}
	clipped := &OrderBook{Symbol: book.Symbol}
	clipped.Bids = clipLevels(book.Bids, depth)
	clipped.Asks = clipLevels(book.Asks, depth)
	return clipped, nil
}

func clipLevels(levels []OrderBookLevel, depth int) []OrderBookLevel {
	if depth <= 0 || depth >= len(levels) {
		out := make([]OrderBookLevel, len(levels))
		copy(out, levels)
		return out
	}
	out := make([]OrderBookLevel, depth)
	copy(out, levels[:depth])
	return out
}

func (m *MockExchange) FetchFreeBalance(ctx context.Context) (map[string]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]float64, len(m.balance))
	for k, v := range m.balance {
		out[k] = v
	}
	return out, nil
}

func (m *MockExchange) CreateOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResponse, error) {
	if err := validateOrder(req); err != nil {
		return &PlaceOrderResponse{Symbol: req.Symbol, Status: OrderStatusRejected, Message: err.Error()}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	order := &Order{
		ID:           uuid.New().String(),
		Symbol:       req.Symbol,
		Side:         req.Side,
		Type:         req.Type,
		Quantity:     req.Quantity,
		Price:        req.Price,
		FilledQty:    req.Quantity,
		AvgFillPrice: m.fillPriceFor(req),
		Status:       OrderStatusFilled,
		CreatedAt:    now,
		UpdatedAt:    now,
		FilledAt:     &now,
	}
	m.orders[order.ID] = order

	log.Info().
		Str("exchange", m.name).
		Str("order_id", order.ID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Float64("quantity", order.Quantity).
		Msg("mock order filled")

	return &PlaceOrderResponse{OrderID: order.ID, Symbol: order.Symbol, Status: order.Status}, nil
}

func (m *MockExchange) fillPriceFor(req PlaceOrderRequest) float64 {
	if req.Type == OrderTypeLimit && req.Price > 0 {
		return req.Price
	}
	t, ok := m.tickers[req.Symbol]
	if !ok {
		return 0
	}
	if req.Side == OrderSideBuy {
		return t.Ask
	}
	return t.Bid
}

func (m *MockExchange) FetchOrderStatus(ctx context.Context, orderID, symbol string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%s: order not found: %s", m.name, orderID)
	}
	return order, nil
}

func (m *MockExchange) CancelOrder(ctx context.Context, orderID, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("%s: order not found: %s", m.name, orderID)
	}
	if order.Status != OrderStatusOpen && order.Status != OrderStatusPending {
		return fmt.Errorf("%s: cannot cancel order in status %s", m.name, order.Status)
	}
	order.Status = OrderStatusCancelled
	order.UpdatedAt = time.Now()
	return nil
}

func (m *MockExchange) FetchDepositAddress(ctx context.Context, coin string) (*DepositAddress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addr, ok := m.depositAddrs[coin]
	if !ok {
		return nil, fmt.Errorf("%s: no deposit address seeded for %s", m.name, coin)
	}
	return addr, nil
}

func (m *MockExchange) Withdraw(ctx context.Context, coin string, amount float64, address, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.balance[coin] < amount {
		return fmt.Errorf("%s: insufficient %s balance for withdrawal: have %f, want %f", m.name, coin, m.balance[coin], amount)
	}
	m.balance[coin] -= amount

	log.Info().
		Str("exchange", m.name).
		Str("coin", coin).
		Float64("amount", amount).
		Str("address", address).
		Msg("mock withdrawal accepted")

	return nil
}

func validateOrder(req PlaceOrderRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if req.Side != OrderSideBuy && req.Side != OrderSideSell {
		return fmt.Errorf("invalid order side: %s", req.Side)
	}
	if req.Type != OrderTypeMarket && req.Type != OrderTypeLimit {
		return fmt.Errorf("invalid order type: %s", req.Type)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if req.Type == OrderTypeLimit && req.Price <= 0 {
		return fmt.Errorf("limit orders must have a positive price")
	}
	return nil
}
