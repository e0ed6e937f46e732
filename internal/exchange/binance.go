package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// binanceRequestsPerSecond approximates Binance's spot weight limit (1200
// weight/minute) converted to a conservative per-request budget, since most
// of the calls this adapter makes carry a weight of 1-10.
const binanceRequestsPerSecond = 10

// BinanceExchange implements Exchange against the live (or testnet) Binance
// spot API. Order state that the REST API already tracks for us is not
// duplicated locally: CreateOrder returns Binance's own order ID, which
// FetchOrderStatus and CancelOrder send back to the REST API as is.
type BinanceExchange struct {
	client  *binance.Client
	limiter *rate.Limiter
	mu      sync.RWMutex

	markets map[string]Market
	testnet bool
}

// BinanceConfig contains configuration for a Binance exchange adapter.
type BinanceConfig struct {
	APIKey    string
	SecretKey string
	Testnet   bool
}

// NewBinanceExchange creates a new Binance exchange client.
func NewBinanceExchange(cfg BinanceConfig) (*BinanceExchange, error) {
	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	if cfg.Testnet {
		binance.UseTestnet = true
		log.Info().Msg("binance exchange initialized (testnet)")
	} else {
		log.Warn().Msg("binance exchange initialized (live trading)")
	}

	return &BinanceExchange{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(binanceRequestsPerSecond), binanceRequestsPerSecond*2),
		markets: make(map[string]Market),
		testnet: cfg.Testnet,
	}, nil
}

func (b *BinanceExchange) Name() string {
	if b.testnet {
		return "binance_testnet"
	}
	return "binance"
}

// LoadMarkets fetches exchange info and caches symbol precision.
func (b *BinanceExchange) LoadMarkets(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("load_markets: %w", err)
	}

	var info *binance.ExchangeInfo
	var err error

	operationName := "load_markets"
	err = WithRetry(ctx, DefaultRetryConfig(), func() error {
		info, err = b.client.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", operationName, err)
	}

	markets := make(map[string]Market, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		symbol := s.BaseAsset + "/" + s.QuoteAsset
		precision := s.BaseAssetPrecision
		markets[symbol] = Market{
			Symbol:    symbol,
			Base:      s.BaseAsset,
			Quote:     s.QuoteAsset,
			Precision: Precision{Amount: &precision},
		}
	}

	b.mu.Lock()
	b.markets = markets
	b.mu.Unlock()

	log.Info().Int("markets", len(markets)).Msg("binance markets loaded")
	return nil
}

func (b *BinanceExchange) Currencies() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, m := range b.markets {
		seen[m.Base] = struct{}{}
		seen[m.Quote] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out
}

func (b *BinanceExchange) Markets() map[string]Market {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]Market, len(b.markets))
	for k, v := range b.markets {
		out[k] = v
	}
	return out
}

func (b *BinanceExchange) symbolCode(symbol string) (string, error) {
	b.mu.RLock()
	m, ok := b.markets[symbol]
	b.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown market %s", symbol)
	}
	return m.Base + m.Quote, nil
}

func (b *BinanceExchange) FetchTickers(ctx context.Context) (map[string]Ticker, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch_tickers: %w", err)
	}

	var books []*binance.BookTicker
	var err error

	err = WithRetry(ctx, DefaultRetryConfig(), func() error {
		books, err = b.client.NewListBookTickersService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch_tickers: %w", err)
	}

	b.mu.RLock()
	codeToSymbol := make(map[string]string, len(b.markets))
	for symbol, m := range b.markets {
		codeToSymbol[m.Base+m.Quote] = symbol
	}
	b.mu.RUnlock()

	out := make(map[string]Ticker)
	for _, bt := range books {
		symbol, ok := codeToSymbol[bt.Symbol]
		if !ok {
			continue
		}
		bid, _ := strconv.ParseFloat(bt.BidPrice, 64)
		ask, _ := strconv.ParseFloat(bt.AskPrice, 64)
		out[symbol] = Ticker{Symbol: symbol, Bid: bid, Ask: ask}
	}
	return out, nil
}

func (b *BinanceExchange) FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	code, err := b.symbolCode(symbol)
	if err != nil {
		return nil, err
	}

	limit := depth
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch_order_book %s: %w", symbol, err)
	}

	var resp *binance.DepthResponse
	err = WithRetry(ctx, DefaultRetryConfig(), func() error {
		resp, err = b.client.NewDepthService().Symbol(code).Limit(limit).Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch_order_book %s: %w", symbol, err)
	}

	book := &OrderBook{Symbol: symbol}
	book.Bids = convertBookLevels(resp.Bids)
	book.Asks = convertBookLevels(resp.Asks)
	return book, nil
}

func convertBookLevels(entries []binance.Bid) []OrderBookLevel {
	out := make([]OrderBookLevel, 0, len(entries))
	for _, e := range entries {
		price, _ := strconv.ParseFloat(e.Price, 64)
		qty, _ := strconv.ParseFloat(e.Quantity, 64)
		out = append(out, OrderBookLevel{Price: price, Size: qty})
	}
	return out
}

func (b *BinanceExchange) FetchFreeBalance(ctx context.Context) (map[string]float64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch_free_balance: %w", err)
	}

	var acct *binance.Account
	var err error

	err = WithRetry(ctx, DefaultRetryConfig(), func() error {
		acct, err = b.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch_free_balance: %w", err)
	}

	out := make(map[string]float64, len(acct.Balances))
	for _, bal := range acct.Balances {
		free, _ := strconv.ParseFloat(bal.Free, 64)
		if free > 0 {
			out[bal.Asset] = free
		}
	}
	return out, nil
}

func (b *BinanceExchange) CreateOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResponse, error) {
	if err := validateOrder(req); err != nil {
		return &PlaceOrderResponse{Symbol: req.Symbol, Status: OrderStatusRejected, Message: err.Error()}, nil
	}

	code, err := b.symbolCode(req.Symbol)
	if err != nil {
		return nil, err
	}

	side := binance.SideTypeBuy
	if req.Side == OrderSideSell {
		side = binance.SideTypeSell
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("create_order_%s: %w", req.Symbol, err)
	}

	var resp *binance.CreateOrderResponse
	operationName := fmt.Sprintf("create_order_%s", req.Symbol)
	err = WithRetry(ctx, DefaultRetryConfig(), func() error {
		svc := b.client.NewCreateOrderService().Symbol(code).Side(side)
		if req.Type == OrderTypeMarket {
			svc = svc.Type(binance.OrderTypeMarket).Quantity(fmt.Sprintf("%.8f", req.Quantity))
		} else {
			svc = svc.Type(binance.OrderTypeLimit).
				TimeInForce(binance.TimeInForceTypeGTC).
				Quantity(fmt.Sprintf("%.8f", req.Quantity)).
				Price(fmt.Sprintf("%.8f", req.Price))
		}
		resp, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return &PlaceOrderResponse{Symbol: req.Symbol, Status: OrderStatusRejected, Message: err.Error()},
			fmt.Errorf("%s: %w", operationName, err)
	}

	order := convertBinanceCreateResponse(resp, req)
	log.Info().
		Str("order_id", order.ID).
		Str("exchange_order_id", order.ExchangeOrderID).
		Str("symbol", order.Symbol).
		Str("status", string(order.Status)).
		Msg("binance order placed")

	return &PlaceOrderResponse{OrderID: order.ExchangeOrderID, Symbol: order.Symbol, Status: order.Status}, nil
}

func convertBinanceCreateResponse(resp *binance.CreateOrderResponse, req PlaceOrderRequest) *Order {
	now := time.Now()
	executedQty, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	cumQuote, _ := strconv.ParseFloat(resp.CummulativeQuoteQuantity, 64)

	var avgPrice float64
	if executedQty > 0 {
		avgPrice = cumQuote / executedQty
	}

	return &Order{
		ID:              uuid.New().String(),
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Quantity:        req.Quantity,
		Price:           req.Price,
		FilledQty:       executedQty,
		AvgFillPrice:    avgPrice,
		Status:          mapBinanceStatus(resp.Status),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func mapBinanceStatus(status binance.OrderStatusType) OrderStatus {
	switch status {
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePartiallyFilled:
		return OrderStatusOpen
	case binance.OrderStatusTypeFilled:
		return OrderStatusFilled
	case binance.OrderStatusTypeCanceled:
		return OrderStatusCancelled
	case binance.OrderStatusTypeRejected:
		return OrderStatusRejected
	default:
		return OrderStatusPending
	}
}

func (b *BinanceExchange) FetchOrderStatus(ctx context.Context, orderID, symbol string) (*Order, error) {
	code, err := b.symbolCode(symbol)
	if err != nil {
		return nil, err
	}

	binanceOrderID, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid exchange order id %q: %w", orderID, err)
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch_order_status %s: %w", symbol, err)
	}

	var resp *binance.Order
	err = WithRetry(ctx, DefaultRetryConfig(), func() error {
		resp, err = b.client.NewGetOrderService().Symbol(code).OrderID(binanceOrderID).Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch_order_status %s: %w", symbol, err)
	}

	executedQty, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	cumQuote, _ := strconv.ParseFloat(resp.CummulativeQuoteQuantity, 64)
	price, _ := strconv.ParseFloat(resp.Price, 64)
	origQty, _ := strconv.ParseFloat(resp.OrigQuantity, 64)

	var avgPrice float64
	if executedQty > 0 {
		avgPrice = cumQuote / executedQty
	}

	side := OrderSideBuy
	if resp.Side == binance.SideTypeSell {
		side = OrderSideSell
	}
	typ := OrderTypeMarket
	if resp.Type == binance.OrderTypeLimit {
		typ = OrderTypeLimit
	}

	return &Order{
		ExchangeOrderID: orderID,
		Symbol:          symbol,
		Side:            side,
		Type:            typ,
		Quantity:        origQty,
		Price:           price,
		FilledQty:       executedQty,
		AvgFillPrice:    avgPrice,
		Status:          mapBinanceStatus(resp.Status),
		UpdatedAt:       time.Now(),
	}, nil
}

func (b *BinanceExchange) CancelOrder(ctx context.Context, orderID, symbol string) error {
	code, err := b.symbolCode(symbol)
	if err != nil {
		return err
	}

	binanceOrderID, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid exchange order id %q: %w", orderID, err)
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("cancel_order %s: %w", symbol, err)
	}

	return WithRetry(ctx, DefaultRetryConfig(), func() error {
		_, err := b.client.NewCancelOrderService().Symbol(code).OrderID(binanceOrderID).Do(ctx)
		return err
	})
}

func (b *BinanceExchange) FetchDepositAddress(ctx context.Context, coin string) (*DepositAddress, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch_deposit_address %s: %w", coin, err)
	}

	var resp *binance.GetDepositAddressResponse
	var err error

	err = WithRetry(ctx, DefaultRetryConfig(), func() error {
		resp, err = b.client.NewGetDepositAddressService().Coin(coin).Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch_deposit_address %s: %w", coin, err)
	}

	return &DepositAddress{Coin: coin, Address: resp.Address, Tag: resp.Tag}, nil
}

func (b *BinanceExchange) Withdraw(ctx context.Context, coin string, amount float64, address, tag string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("withdraw %s: %w", coin, err)
	}

	return WithRetry(ctx, DefaultRetryConfig(), func() error {
		svc := b.client.NewCreateWithdrawService().
			Coin(coin).
			Address(address).
			Amount(fmt.Sprintf("%.8f", amount))
		if tag != "" {
			svc = svc.AddressTag(tag)
		}
		_, err := svc.Do(ctx)
		return err
	})
}
