package lnurldevice_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"lnurldevice/internal/lnurldevice"
	"lnurldevice/internal/store"
)

const baseURL = "https://pay.example"

type fakeInvoicer struct {
	mu        sync.Mutex
	created   []lnurldevice.InvoiceRequest
	paid      []lnurldevice.PayRequest
	createErr error
	payErr    error
	settled   map[string]bool
}

func (f *fakeInvoicer) CreateInvoice(ctx context.Context, req lnurldevice.InvoiceRequest) (lnurldevice.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return lnurldevice.Invoice{}, f.createErr
	}
	f.created = append(f.created, req)
	n := len(f.created)
	return lnurldevice.Invoice{
		PaymentHash:    fmt.Sprintf("hash%d", n),
		PaymentRequest: fmt.Sprintf("lnbc%dn1invoice", n),
	}, nil
}

func (f *fakeInvoicer) PayInvoice(ctx context.Context, req lnurldevice.PayRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid = append(f.paid, req)
	return f.payErr
}

func (f *fakeInvoicer) InvoicePaid(ctx context.Context, walletID, paymentHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled[paymentHash], nil
}

func (f *fakeInvoicer) payments() []lnurldevice.PayRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lnurldevice.PayRequest(nil), f.paid...)
}

// fakeRates prices every fiat unit at satsPerUnit.
type fakeRates struct {
	satsPerUnit decimal.Decimal
	err         error
}

func (f *fakeRates) FiatToSats(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return amount.Mul(f.satsPerUnit), nil
}

type fakeDecoder struct{}

func (fakeDecoder) PaymentHash(bolt11 string) (string, error) {
	if bolt11 == "garbage" {
		return "", errors.New("invalid bech32")
	}
	return "h" + bolt11, nil
}

// syncBuffer collects log output from concurrent requests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	svc      *lnurldevice.Service
	db       *store.DB
	invoicer *fakeInvoicer
	rates    *fakeRates
	logs     *syncBuffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "lnurldevice.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		db:       db,
		invoicer: &fakeInvoicer{settled: map[string]bool{}},
		rates:    &fakeRates{satsPerUnit: decimal.NewFromInt(2000)},
		logs:     &syncBuffer{},
	}
	h.svc = lnurldevice.New(lnurldevice.Config{
		BaseURL:         baseURL,
		MinWithdrawMsat: 1000,
	}, db, h.invoicer, h.rates, fakeDecoder{}, zerolog.New(h.logs))
	return h
}

func (h *harness) device(t *testing.T, title, currency string, b lnurldevice.Behavior) *lnurldevice.Device {
	t.Helper()
	d := &lnurldevice.Device{
		ID:            uuid.NewString(),
		Title:         title,
		WalletID:      "wallet-" + title,
		Currency:      currency,
		EncryptionKey: "k3yk3yk3y",
		Behavior:      b,
	}
	require.NoError(t, h.db.CreateDevice(context.Background(), d))
	return d
}

func requireRejection(t *testing.T, err error, reason string) {
	t.Helper()
	var rej *lnurldevice.Rejection
	require.True(t, errors.As(err, &rej), "expected rejection, got %v", err)
	require.Equal(t, reason, rej.Reason)
}

func requireFailure(t *testing.T, err error, target error, detail string) {
	t.Helper()
	var f *lnurldevice.Failure
	require.True(t, errors.As(err, &f), "expected failure, got %v", err)
	require.ErrorIs(t, err, target)
	require.Equal(t, detail, f.Detail)
}
