// Package lnurldevice implements the LNURL offer and callback protocol for
// point-of-sale terminals, ATMs and switches.
package lnurldevice

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	one      = decimal.NewFromInt(1)
	hundred  = decimal.NewFromInt(100)
	thousand = decimal.NewFromInt(1000)
)

type Config struct {
	// BaseURL is the public origin used for callback and display links.
	BaseURL         string
	MinWithdrawMsat int64
	UpstreamTimeout time.Duration
	PayTimeout      time.Duration
}

// Failure is a transport-level outcome (not found, forbidden) with the
// detail shown to the caller. It unwraps to ErrNotFound or ErrForbidden.
type Failure struct {
	Err    error
	Detail string
}

func (f *Failure) Error() string { return f.Detail }
func (f *Failure) Unwrap() error { return f.Err }

type Service struct {
	cfg      Config
	store    Store
	invoicer Invoicer
	rates    Rates
	decoder  InvoiceDecoder
	log      zerolog.Logger
}

func New(cfg Config, store Store, invoicer Invoicer, rates Rates, decoder InvoiceDecoder, log zerolog.Logger) *Service {
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 30 * time.Second
	}
	if cfg.PayTimeout <= 0 {
		cfg.PayTimeout = 60 * time.Second
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		invoicer: invoicer,
		rates:    rates,
		decoder:  decoder,
		log:      log.With().Str("component", "lnurldevice").Logger(),
	}
}

func (s *Service) device(ctx context.Context, id string) (*Device, error) {
	d, err := s.store.GetDevice(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, &Failure{Err: ErrNotFound, Detail: "lnurldevice not found."}
	}
	return d, err
}

// toMsat prices amount, expressed in the device currency, in millisatoshis.
func (s *Service) toMsat(ctx context.Context, d *Device, amount decimal.Decimal) (int64, error) {
	if isSat(d.Currency) {
		return amount.Mul(thousand).IntPart(), nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
	defer cancel()
	sats, err := s.rates.FiatToSats(ctx, amount, d.Currency)
	if err != nil {
		s.log.Error().Err(err).Str("device_id", d.ID).Str("currency", d.Currency).Msg("fiat conversion failed")
		return 0, reject("Could not fetch exchange rate for %s", d.Currency)
	}
	return sats.Mul(thousand).IntPart(), nil
}

func (s *Service) callbackURL(paymentID string, variable bool) string {
	u := strings.TrimRight(s.cfg.BaseURL, "/") + "/offer/v1/cb/" + url.PathEscape(paymentID)
	if variable {
		u += "?variable=true"
	}
	return u
}

// DisplayURL is the success-action link shown after a POS payment.
func (s *Service) DisplayURL(paymentID string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/offer/v1/display/" + url.PathEscape(paymentID)
}

// observe counts an operation outcome by device kind.
func observe(counter *prometheus.CounterVec, kind Kind, err error) {
	outcome := "success"
	var rej *Rejection
	switch {
	case err == nil:
	case errors.As(err, &rej):
		outcome = "rejected"
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrForbidden):
		outcome = "forbidden"
	default:
		outcome = "error"
	}
	counter.WithLabelValues(string(kind), outcome).Inc()
}

func isSat(currency string) bool {
	return strings.EqualFold(currency, CurrencySat)
}

func pinString(pin *int) string {
	if pin == nil {
		return ""
	}
	return fmt.Sprint(*pin)
}
