package wallet

import (
	"fmt"
	"strings"

	decodepay "github.com/nbd-wtf/ln-decodepay"
)

// AmountChecker verifies that an invoice does not ask for more than maxSats.
type AmountChecker interface {
	CheckMaxSats(bolt11 string, maxSats int64) error
}

// Bolt11Decoder parses BOLT11 invoices offline.
type Bolt11Decoder struct{}

// PaymentHash returns the hex payment hash committed to by bolt11.
func (Bolt11Decoder) PaymentHash(bolt11 string) (string, error) {
	inv, err := decodepay.Decodepay(strings.ToLower(strings.TrimSpace(bolt11)))
	if err != nil {
		return "", fmt.Errorf("decode bolt11: %w", err)
	}
	return inv.PaymentHash, nil
}

// CheckMaxSats rejects amountless invoices and invoices above maxSats.
func (Bolt11Decoder) CheckMaxSats(bolt11 string, maxSats int64) error {
	inv, err := decodepay.Decodepay(strings.ToLower(strings.TrimSpace(bolt11)))
	if err != nil {
		return &PaymentError{Code: ErrCodeInvalidInvoice, Message: err.Error()}
	}
	return checkAmount(inv.MSatoshi, maxSats)
}

func checkAmount(msat, maxSats int64) error {
	if msat <= 0 {
		return &PaymentError{Code: ErrCodeInvalidInvoice, Message: "invoice has no amount"}
	}
	if msat > maxSats*1000 {
		return &PaymentError{
			Code:    ErrCodeAmountExceeded,
			Message: fmt.Sprintf("invoice amount %d msat exceeds %d sat", msat, maxSats),
			Details: map[string]any{"amount_msat": msat, "max_sat": maxSats},
		}
	}
	return nil
}
