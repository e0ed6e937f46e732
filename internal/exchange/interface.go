package exchange

import "context"

// Exchange is the contract the arbitrage core needs from any venue: enough
// market structure to build the trading graph, enough depth to size a cycle,
// and enough balance/order/transfer plumbing to place and move funds for it.
// Internal order-matching, margin, and account mechanics are the adapter's
// business, not the core's.
type Exchange interface {
	// Name identifies the venue, e.g. "binance".
	Name() string

	// LoadMarkets fetches and caches the tradable symbol list. Must be called
	// before Currencies, Markets, or CreateOrder.
	LoadMarkets(ctx context.Context) error

	// Currencies lists every asset code traded on at least one cached market.
	Currencies() []string

	// Markets returns the cached market list keyed by "BASE/QUOTE" symbol.
	Markets() map[string]Market

	// FetchTickers returns best bid/ask/volume for every cached market.
	FetchTickers(ctx context.Context) (map[string]Ticker, error)

	// FetchOrderBook returns book depth for a single symbol.
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)

	// FetchFreeBalance returns the available (non-locked) balance per currency.
	FetchFreeBalance(ctx context.Context) (map[string]float64, error)

	// CreateOrder submits an order for one leg of a cycle.
	CreateOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResponse, error)

	// FetchOrderStatus polls the current state of a previously created order.
	FetchOrderStatus(ctx context.Context, orderID, symbol string) (*Order, error)

	// CancelOrder cancels an open order.
	CancelOrder(ctx context.Context, orderID, symbol string) error

	// FetchDepositAddress returns the inbound transfer destination for a coin.
	FetchDepositAddress(ctx context.Context, coin string) (*DepositAddress, error)

	// Withdraw moves a coin off the exchange to an external address.
	Withdraw(ctx context.Context, coin string, amount float64, address, tag string) error
}
