// Package rates converts fiat amounts to satoshis using a public BTC
// exchange-rate feed, caching the rate table for a short TTL.
package rates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const DefaultURL = "https://api.coinbase.com/v2/exchange-rates?currency=BTC"

const fetchTimeout = 15 * time.Second

var (
	ErrUnknownCurrency = errors.New("unknown currency")

	satsPerBTC = decimal.NewFromInt(100_000_000)
)

// Client fetches BTC prices. Safe for concurrent use.
type Client struct {
	url  string
	ttl  time.Duration
	http *resty.Client
	log  zerolog.Logger
	now  func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	table   map[string]decimal.Decimal
	fetched time.Time
}

func New(url string, ttl time.Duration, log zerolog.Logger) *Client {
	if url == "" {
		url = DefaultURL
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Client{
		url:  url,
		ttl:  ttl,
		http: resty.New().SetTimeout(fetchTimeout),
		log:  log.With().Str("component", "rates").Logger(),
		now:  time.Now,
	}
}

type exchangeRates struct {
	Data struct {
		Currency string            `json:"currency"`
		Rates    map[string]string `json:"rates"`
	} `json:"data"`
}

// FiatToSats converts amount of currency into satoshis.
func (c *Client) FiatToSats(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	price, err := c.Price(ctx, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Div(price).Mul(satsPerBTC).Round(0), nil
}

// Price returns the price of one bitcoin in currency.
func (c *Client) Price(ctx context.Context, currency string) (decimal.Decimal, error) {
	table, err := c.rates(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := table[strings.ToUpper(currency)]
	if !ok || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	return price, nil
}

func (c *Client) rates(ctx context.Context) (map[string]decimal.Decimal, error) {
	c.mu.RLock()
	table, fetched := c.table, c.fetched
	c.mu.RUnlock()
	if table != nil && c.now().Sub(fetched) < c.ttl {
		return table, nil
	}

	// The fetch is shared, so one caller going away must not fail the rest.
	v, err, _ := c.group.Do("rates", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return c.fetch(fetchCtx)
	})
	if err != nil {
		// Serve a stale table rather than fail the sale.
		if table != nil {
			c.log.Warn().Err(err).Time("fetched", fetched).Msg("using stale exchange rates")
			return table, nil
		}
		return nil, err
	}
	return v.(map[string]decimal.Decimal), nil
}

func (c *Client) fetch(ctx context.Context) (map[string]decimal.Decimal, error) {
	var body exchangeRates
	resp, err := c.http.R().SetContext(ctx).SetResult(&body).Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange rates: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch exchange rates: status %d", resp.StatusCode())
	}
	if len(body.Data.Rates) == 0 {
		return nil, errors.New("fetch exchange rates: empty rate table")
	}

	table := make(map[string]decimal.Decimal, len(body.Data.Rates))
	for code, raw := range body.Data.Rates {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		table[strings.ToUpper(code)] = price
	}

	c.mu.Lock()
	c.table = table
	c.fetched = c.now()
	c.mu.Unlock()
	c.log.Debug().Int("currencies", len(table)).Msg("exchange rates refreshed")
	return table, nil
}
