package rates

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rateServer(t *testing.T, calls *atomic.Int32, fail *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if fail != nil && fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"currency": "BTC",
				"rates": map[string]string{
					"EUR": "50000",
					"USD": "62500.00",
					"BAD": "n/a",
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFiatToSats(t *testing.T) {
	var calls atomic.Int32
	srv := rateServer(t, &calls, nil)
	c := New(srv.URL, time.Minute, zerolog.Nop())
	ctx := context.Background()

	sats, err := c.FiatToSats(ctx, decimal.NewFromInt(10), "EUR")
	require.NoError(t, err)
	assert.Equal(t, "20000", sats.String())

	sats, err = c.FiatToSats(ctx, decimal.RequireFromString("6.25"), "usd")
	require.NoError(t, err)
	assert.Equal(t, "10000", sats.String())

	_, err = c.FiatToSats(ctx, decimal.NewFromInt(1), "XYZ")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
	_, err = c.FiatToSats(ctx, decimal.NewFromInt(1), "BAD")
	assert.ErrorIs(t, err, ErrUnknownCurrency)

	assert.Equal(t, int32(1), calls.Load())
}

func TestCacheExpiry(t *testing.T) {
	var calls atomic.Int32
	var fail atomic.Bool
	srv := rateServer(t, &calls, &fail)
	c := New(srv.URL, time.Minute, zerolog.Nop())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := c.Price(ctx, "EUR")
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	_, err = c.Price(ctx, "EUR")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	now = now.Add(time.Minute)
	_, err = c.Price(ctx, "EUR")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	t.Run("stale table survives an outage", func(t *testing.T) {
		fail.Store(true)
		now = now.Add(time.Hour)
		price, err := c.Price(ctx, "EUR")
		require.NoError(t, err)
		assert.Equal(t, "50000", price.String())
	})
}

func TestFetchFailureWithoutCache(t *testing.T) {
	var calls atomic.Int32
	var fail atomic.Bool
	fail.Store(true)
	srv := rateServer(t, &calls, &fail)
	c := New(srv.URL, time.Minute, zerolog.Nop())

	_, err := c.FiatToSats(context.Background(), decimal.NewFromInt(1), "EUR")
	assert.Error(t, err)
}

func TestConcurrentLookups(t *testing.T) {
	var calls atomic.Int32
	srv := rateServer(t, &calls, nil)
	c := New(srv.URL, time.Minute, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Price(context.Background(), "EUR")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(20))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestSharedFetchOutlivesCaller(t *testing.T) {
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case arrived <- struct{}{}:
		default:
		}
		<-release
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"currency":"BTC","rates":{"EUR":"50000"}}}`))
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, time.Minute, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Price(ctx, "EUR")
		first <- err
	}()
	<-arrived

	second := make(chan error, 1)
	go func() {
		_, err := c.Price(context.Background(), "EUR")
		second <- err
	}()

	cancel()
	close(release)

	require.NoError(t, <-first)
	require.NoError(t, <-second)
}
