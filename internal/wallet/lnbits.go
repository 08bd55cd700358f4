package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"lnurldevice/internal/lnurldevice"
)

var _ lnurldevice.Invoicer = (*LNbits)(nil)

// LNbits issues and pays invoices through the LNbits payments API. Each
// device wallet is addressed by its id and authenticated with its admin key.
type LNbits struct {
	http   *resty.Client
	keys   map[string]string
	limits AmountChecker
}

func NewLNbits(baseURL string, keys map[string]string, timeout time.Duration) *LNbits {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LNbits{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		keys:   keys,
		limits: Bolt11Decoder{},
	}
}

// ParseWalletKeys reads "walletId:adminKey" pairs separated by commas.
func ParseWalletKeys(s string) (map[string]string, error) {
	keys := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, key, ok := strings.Cut(pair, ":")
		if !ok || id == "" || key == "" {
			return nil, fmt.Errorf("invalid wallet key pair %q", pair)
		}
		keys[id] = key
	}
	return keys, nil
}

type lnbitsInvoice struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
	Bolt11         string `json:"bolt11"`
}

type lnbitsStatus struct {
	Paid bool `json:"paid"`
}

type lnbitsError struct {
	Detail string `json:"detail"`
}

func (c *LNbits) CreateInvoice(ctx context.Context, req lnurldevice.InvoiceRequest) (lnurldevice.Invoice, error) {
	body := map[string]any{
		"out":    false,
		"amount": req.AmountSats,
		"memo":   req.Memo,
		"extra":  req.Extra,
	}
	if req.UnhashedDescription != "" {
		body["unhashed_description"] = hex.EncodeToString([]byte(req.UnhashedDescription))
	}

	var inv lnbitsInvoice
	if err := c.do(ctx, req.WalletID, "POST", "/api/v1/payments", body, &inv); err != nil {
		return lnurldevice.Invoice{}, recode(err, ErrCodeInvoiceFailed)
	}
	pr := inv.PaymentRequest
	if pr == "" {
		pr = inv.Bolt11
	}
	if inv.PaymentHash == "" || pr == "" {
		return lnurldevice.Invoice{}, &PaymentError{Code: ErrCodeInvoiceFailed, Message: "incomplete invoice response"}
	}
	return lnurldevice.Invoice{PaymentHash: inv.PaymentHash, PaymentRequest: pr}, nil
}

// PayInvoice pays req.PaymentRequest after checking it against req.MaxSats.
func (c *LNbits) PayInvoice(ctx context.Context, req lnurldevice.PayRequest) error {
	if err := c.limits.CheckMaxSats(req.PaymentRequest, req.MaxSats); err != nil {
		return err
	}
	body := map[string]any{
		"out":    true,
		"bolt11": req.PaymentRequest,
		"extra":  req.Extra,
	}
	var out struct {
		PaymentHash string `json:"payment_hash"`
	}
	if err := c.do(ctx, req.WalletID, "POST", "/api/v1/payments", body, &out); err != nil {
		return recode(err, ErrCodePaymentFailed)
	}
	return nil
}

func (c *LNbits) InvoicePaid(ctx context.Context, walletID, paymentHash string) (bool, error) {
	var status lnbitsStatus
	if err := c.do(ctx, walletID, "GET", "/api/v1/payments/"+url.PathEscape(paymentHash), nil, &status); err != nil {
		return false, err
	}
	return status.Paid, nil
}

// do executes an authenticated request for walletID and decodes the response into out.
func (c *LNbits) do(ctx context.Context, walletID, method, path string, body, out any) error {
	key, ok := c.keys[walletID]
	if !ok {
		return &PaymentError{Code: ErrCodeUnknownWallet, Message: fmt.Sprintf("no key for wallet %s", walletID)}
	}

	var apiErr lnbitsError
	r := c.http.R().
		SetContext(ctx).
		SetHeader("X-Api-Key", key).
		SetResult(out).
		SetError(&apiErr)
	if body != nil {
		r.SetBody(body)
	}
	resp, err := r.Execute(method, path)
	if err != nil {
		return fmt.Errorf("lnbits %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		msg := apiErr.Detail
		if msg == "" {
			msg = resp.String()
		}
		return &PaymentError{
			Code:    ErrCodeBackend,
			Message: fmt.Sprintf("lnbits %s %s status %d: %s", method, path, resp.StatusCode(), msg),
			Details: map[string]any{"status": resp.StatusCode()},
		}
	}
	return nil
}

// recode tags backend errors with the operation that failed.
func recode(err error, code string) error {
	var pe *PaymentError
	if errors.As(err, &pe) && pe.Code == ErrCodeBackend {
		pe.Code = code
	}
	return err
}
