package lnurldevice

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store persists devices and pending payments.
//
// ClaimPayment must be an atomic compare-and-set: it sets the redemption
// marker only if the payment is still pending, and returns
// ErrAlreadyClaimed otherwise. Lookups return ErrNotFound for unknown ids.
type Store interface {
	GetDevice(ctx context.Context, id string) (*Device, error)
	GetPayment(ctx context.Context, id string) (*PendingPayment, error)
	CreatePayment(ctx context.Context, p *PendingPayment) error
	// RegisterWithdrawal inserts p unless a withdrawal for the same device
	// and payload exists, and returns whichever record is stored.
	RegisterWithdrawal(ctx context.Context, p *PendingPayment) (*PendingPayment, error)
	ClaimPayment(ctx context.Context, id, marker string) error
}

type InvoiceRequest struct {
	WalletID   string
	AmountSats int64
	Memo       string
	// UnhashedDescription is committed to the invoice as its description hash.
	UnhashedDescription string
	Extra               map[string]any
}

type Invoice struct {
	PaymentHash    string
	PaymentRequest string
}

type PayRequest struct {
	WalletID       string
	PaymentRequest string
	MaxSats        int64
	Extra          map[string]any
}

// Invoicer issues and pays Lightning invoices on behalf of a wallet.
type Invoicer interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (Invoice, error)
	PayInvoice(ctx context.Context, req PayRequest) error
	InvoicePaid(ctx context.Context, walletID, paymentHash string) (bool, error)
}

// Rates converts fiat amounts to satoshis.
type Rates interface {
	FiatToSats(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error)
}

// InvoiceDecoder extracts the payment hash from a BOLT11 invoice.
type InvoiceDecoder interface {
	PaymentHash(bolt11 string) (string, error)
}
