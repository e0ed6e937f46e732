package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// OracleError is returned for protocol-level oracle failures (bad
// credentials, unsupported exchange, malformed response) that the core
// cannot degrade around and must surface to the caller.
type OracleError struct {
	Op  string
	Err error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("market oracle: %s: %v", e.Op, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// PriceOracle resolves a USD reference price for a set of coin symbols in
// one round trip. A symbol missing from the returned map had no price
// available and should be treated as unfunded/untradeable by the caller,
// not as an error.
type PriceOracle interface {
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// WithdrawalFee is one coin's transfer cost, normalized to both a USD amount
// and a per-unit USD rate against a reference trading size.
type WithdrawalFee struct {
	USDFee  float64
	CoinFee float64
	USDRate float64
}

// WithdrawalFeeOracle resolves per-coin transfer costs for one exchange.
type WithdrawalFeeOracle interface {
	GetWithdrawalFees(ctx context.Context, exchangeName string, tradingSize float64) (map[string]WithdrawalFee, error)
}

var unknownCoinPattern = regexp.MustCompile(`[0-9A-Za-z\-]+`)

const (
	coinGeckoAPIBase = "https://api.coingecko.com/api/v3"
	defaultTimeout   = 10 * time.Second
)

// CoinGeckoOracle implements PriceOracle against the CoinGecko simple-price
// endpoint, batching every symbol into one comma-joined request the way the
// original model's get_crypto_prices batched CoinMarketCap ids.
type CoinGeckoOracle struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewCoinGeckoOracle builds a batched CoinGecko-backed price oracle.
func NewCoinGeckoOracle(apiKey string) *CoinGeckoOracle {
	return &CoinGeckoOracle{
		baseURL:    coinGeckoAPIBase,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// GetPrices fetches USD prices for every symbol in one request. On a 400
// response naming unknown ids, it retries once with those ids removed,
// mirroring get_crypto_prices' recursive narrowing in the source model.
func (o *CoinGeckoOracle) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	return o.getPrices(ctx, symbols, true)
}

func (o *CoinGeckoOracle) getPrices(ctx context.Context, symbols []string, allowRetry bool) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	params := url.Values{}
	params.Add("ids", strings.Join(symbols, ","))
	params.Add("vs_currencies", "usd")
	if o.apiKey != "" {
		params.Add("x_cg_pro_api_key", o.apiKey)
	}

	reqURL := fmt.Sprintf("%s/simple/price?%s", o.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &OracleError{Op: "build request", Err: err}
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, &OracleError{Op: "fetch prices", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &OracleError{Op: "read response", Err: err}
	}

	if resp.StatusCode == http.StatusBadRequest && allowRetry {
		remaining := removeUnknownSymbols(symbols, body)
		if len(remaining) > 0 && len(remaining) < len(symbols) {
			log.Warn().Strs("dropped", diff(symbols, remaining)).Msg("coingecko rejected unknown symbols, retrying")
			return o.getPrices(ctx, remaining, false)
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &OracleError{Op: "fetch prices", Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}

	var raw map[string]map[string]float64
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &OracleError{Op: "decode response", Err: err}
	}

	out := make(map[string]float64, len(raw))
	for symbol, byCurrency := range raw {
		if price, ok := byCurrency["usd"]; ok {
			out[symbol] = price
		}
	}
	return out, nil
}

func removeUnknownSymbols(symbols []string, errBody []byte) []string {
	var payload struct {
		Status struct {
			ErrorMessage string `json:"error_message"`
		} `json:"status"`
	}
	if err := json.Unmarshal(errBody, &payload); err != nil {
		return symbols
	}
	msg := payload.Status.ErrorMessage
	idx := strings.LastIndex(msg, ":")
	if idx == -1 {
		return symbols
	}
	unknown := make(map[string]bool)
	for _, m := range unknownCoinPattern.FindAllString(msg[idx+1:], -1) {
		unknown[strings.ToLower(m)] = true
	}
	if len(unknown) == 0 {
		return symbols
	}
	remaining := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if !unknown[strings.ToLower(s)] {
			remaining = append(remaining, s)
		}
	}
	return remaining
}

func diff(full, subset []string) []string {
	present := make(map[string]bool, len(subset))
	for _, s := range subset {
		present[s] = true
	}
	var out []string
	for _, s := range full {
		if !present[s] {
			out = append(out, s)
		}
	}
	return out
}

// CachedPriceOracle decorates a PriceOracle with a Redis read-through cache
// operating on a batch of symbols: cached symbols are served from Redis, the rest are
// fetched in one call to the wrapped oracle and backfilled.
type CachedPriceOracle struct {
	inner PriceOracle
	cache *RedisPriceCache
}

// NewCachedPriceOracle wraps inner with a Redis cache using the given TTL.
func NewCachedPriceOracle(inner PriceOracle, redisClient *redis.Client, ttl time.Duration) *CachedPriceOracle {
	return &CachedPriceOracle{inner: inner, cache: NewRedisPriceCache(redisClient, ttl)}
}

// Cache returns the underlying Redis price cache so a caller can attach a
// circuit breaker or a metrics wrapper before the oracle starts serving.
func (c *CachedPriceOracle) Cache() *RedisPriceCache {
	return c.cache
}

// GetPrices returns cached prices where available and fetches the remainder
// from the wrapped oracle in a single batched call.
func (c *CachedPriceOracle) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	var missing []string
	for _, s := range symbols {
		if price, ok := c.cache.Get(ctx, s, "usd"); ok {
			out[s] = price
		} else {
			missing = append(missing, s)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.inner.GetPrices(ctx, missing)
	if err != nil {
		if len(out) > 0 {
			// Partial prior cache hits are still useful to the caller; the
			// snapshot degrades the symbols it couldn't price rather than
			// discarding the whole batch.
			log.Warn().Err(err).Strs("symbols", missing).Msg("price oracle fetch failed, returning cached subset")
			return out, nil
		}
		return nil, err
	}

	for symbol, price := range fetched {
		out[symbol] = price
		if err := c.cache.Set(ctx, symbol, "usd", price); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("failed to cache price")
		}
	}
	return out, nil
}

// HTTPWithdrawalFeeOracle GETs a configured per-exchange URL and parses a
// {coin -> {usd_fee, coin_fee}} table, the Go equivalent of the source
// model's withdrawalfees.com HTML scrape reduced to its JSON contract.
type HTTPWithdrawalFeeOracle struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPWithdrawalFeeOracle builds an oracle that GETs "<baseURL>/<exchange>".
func NewHTTPWithdrawalFeeOracle(baseURL string) *HTTPWithdrawalFeeOracle {
	return &HTTPWithdrawalFeeOracle{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// GetWithdrawalFees fetches and parses the fee table for one exchange,
// normalizing each entry's usd_rate against tradingSize and mapping the
// literal "FREE" fee string to zero.
func (o *HTTPWithdrawalFeeOracle) GetWithdrawalFees(ctx context.Context, exchangeName string, tradingSize float64) (map[string]WithdrawalFee, error) {
	reqURL := fmt.Sprintf("%s/%s", o.baseURL, exchangeName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &OracleError{Op: "build request", Err: err}
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, &OracleError{Op: "fetch withdrawal fees", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &OracleError{Op: "fetch withdrawal fees", Err: fmt.Errorf("exchange %q: status %d: %s", exchangeName, resp.StatusCode, string(body))}
	}

	var raw map[string]struct {
		USDFee  interface{} `json:"usd_fee"`
		CoinFee interface{} `json:"coin_fee"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &OracleError{Op: "decode withdrawal fees", Err: err}
	}

	out := make(map[string]WithdrawalFee, len(raw))
	for coin, entry := range raw {
		usdFee := parseFeeValue(entry.USDFee)
		coinFee := parseFeeValue(entry.CoinFee)
		rate := 0.0
		if tradingSize > 0 {
			rate = usdFee / tradingSize
		}
		out[coin] = WithdrawalFee{USDFee: usdFee, CoinFee: coinFee, USDRate: rate}
	}
	return out, nil
}

func parseFeeValue(v interface{}) float64 {
	switch val := v.(type) {
	case string:
		if strings.EqualFold(val, "FREE") {
			return 0
		}
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0
		}
		return parsed
	case float64:
		return val
	default:
		return 0
	}
}
