// Package wallet connects the service to a Lightning backend: an LNbits
// instance over HTTP or an LND node over gRPC.
package wallet

import "fmt"

// PaymentError is returned by the backends for wallet-level failures.
type PaymentError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

const (
	ErrCodeUnknownWallet  = "unknown_wallet"
	ErrCodeInvalidInvoice = "invalid_invoice"
	ErrCodeAmountExceeded = "amount_exceeded"
	ErrCodeInvoiceFailed  = "invoice_failed"
	ErrCodePaymentFailed  = "payment_failed"
	ErrCodeBackend        = "backend_error"
)
