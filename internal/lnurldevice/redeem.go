package lnurldevice

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/fiatjaf/go-lnurl"

	"lnurldevice/internal/metrics"
)

// RedeemParams are the query parameters of the LNURL callback.
type RedeemParams struct {
	Variable string
	Amount   string
	Comment  string
	PR       string
	K1       string
}

// Redemption is either WithdrawalSent or InvoiceIssued.
type Redemption interface {
	redemption()
}

// WithdrawalSent reports that an ATM withdrawal invoice was paid.
type WithdrawalSent struct{}

// InvoiceIssued carries the invoice the paying wallet should settle.
type InvoiceIssued struct {
	PaymentRequest string
	SuccessAction  *lnurl.SuccessAction
}

func (WithdrawalSent) redemption() {}
func (InvoiceIssued) redemption()  {}

// Redeem handles the callback for a pending payment. Each payment is
// claimed at most once; later callbacks are rejected.
func (s *Service) Redeem(ctx context.Context, paymentID string, params RedeemParams) (res Redemption, err error) {
	kind := Kind("unknown")
	defer func() { observe(metrics.RedemptionsTotal, kind, err) }()

	p, err := s.store.GetPayment(ctx, paymentID)
	if errors.Is(err, ErrNotFound) {
		return nil, &Failure{Err: ErrNotFound, Detail: "lnurldevicepayment not found."}
	}
	if err != nil {
		return nil, err
	}
	d, err := s.device(ctx, p.DeviceID)
	if err != nil {
		return nil, err
	}
	kind = d.Behavior.Kind()

	switch d.Behavior.(type) {
	case Atm:
		// ATMs also sell like a terminal when the atm flag is absent.
		if p.Kind != KindAtm {
			return s.redeemSale(ctx, d, p)
		}
		return s.redeemWithdrawal(ctx, d, p, params)
	case Switch:
		return s.redeemSwitch(ctx, d, p, params)
	case PointOfSale:
		return s.redeemSale(ctx, d, p)
	default:
		return nil, fmt.Errorf("device %s: unknown behaviour %T", d.ID, d.Behavior)
	}
}

func (s *Service) redeemWithdrawal(ctx context.Context, d *Device, p *PendingPayment, params RedeemParams) (Redemption, error) {
	if p.Redemption == p.Payload {
		return nil, reject(reasonAlreadyClaimed)
	}
	if params.PR == "" {
		return nil, &Failure{Err: ErrForbidden, Detail: "No payment request"}
	}
	if hash, err := s.decoder.PaymentHash(params.PR); err != nil || hash == "" {
		return nil, &Failure{Err: ErrForbidden, Detail: "Not valid payment request"}
	}
	if params.K1 != p.Payload {
		return nil, reject("Bad K1")
	}
	if !p.Pending() {
		return nil, reject(reasonAlreadyClaimed)
	}
	if err := s.claim(ctx, p.ID, p.Payload); err != nil {
		return nil, err
	}

	// The claim stands even if the payment fails: the token is spent.
	payCtx, cancel := context.WithTimeout(ctx, s.cfg.PayTimeout)
	defer cancel()
	err := s.invoicer.PayInvoice(payCtx, PayRequest{
		WalletID:       d.WalletID,
		PaymentRequest: params.PR,
		MaxSats:        p.AmountMsat / 1000,
		Extra:          map[string]any{"tag": "withdraw"},
	})
	if err != nil {
		s.log.Warn().Err(err).Str("payment_id", p.ID).Str("device_id", d.ID).Msg("withdrawal payment failed")
		return nil, reject(reasonPaymentFailed)
	}
	s.log.Info().Str("payment_id", p.ID).Str("device_id", d.ID).Int64("msat", p.AmountMsat).Msg("withdrawal paid")
	return WithdrawalSent{}, nil
}

func (s *Service) redeemSwitch(ctx context.Context, d *Device, p *PendingPayment, params RedeemParams) (Redemption, error) {
	amount, err := strconv.ParseInt(params.Amount, 10, 64)
	if err != nil || amount < 1000 {
		return nil, reject("No amount")
	}
	if !p.Pending() {
		return nil, reject(reasonAlreadyClaimed)
	}
	sats := amount / 1000
	inv, err := s.createInvoice(ctx, InvoiceRequest{
		WalletID:            d.WalletID,
		AmountSats:          sats,
		Memo:                fmt.Sprintf("%s pin %s (%s ms)", d.ID, pinString(p.Pin), p.Payload),
		UnhashedDescription: d.Metadata(),
		Extra: map[string]any{
			"tag":      "Switch",
			"pin":      pinString(p.Pin),
			"amount":   strconv.FormatInt(amount, 10),
			"comment":  params.Comment,
			"variable": params.Variable,
			"id":       p.ID,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := s.claim(ctx, p.ID, inv.PaymentHash); err != nil {
		return nil, err
	}
	s.logIssued(d, p, inv)
	return InvoiceIssued{
		PaymentRequest: inv.PaymentRequest,
		SuccessAction: &lnurl.SuccessAction{
			Tag:     "message",
			Message: fmt.Sprintf("%dsats sent", sats),
		},
	}, nil
}

func (s *Service) redeemSale(ctx context.Context, d *Device, p *PendingPayment) (Redemption, error) {
	if !p.Pending() {
		return nil, reject(reasonAlreadyClaimed)
	}
	inv, err := s.createInvoice(ctx, InvoiceRequest{
		WalletID:            d.WalletID,
		AmountSats:          p.AmountMsat / 1000,
		Memo:                d.Title,
		UnhashedDescription: d.Metadata(),
		Extra:               map[string]any{"tag": "PoS"},
	})
	if err != nil {
		return nil, err
	}
	if err := s.claim(ctx, p.ID, inv.PaymentHash); err != nil {
		return nil, err
	}
	s.logIssued(d, p, inv)
	return InvoiceIssued{
		PaymentRequest: inv.PaymentRequest,
		SuccessAction: &lnurl.SuccessAction{
			Tag:         "url",
			Description: "Check the attached link",
			URL:         s.DisplayURL(p.ID),
		},
	}, nil
}

func (s *Service) createInvoice(ctx context.Context, req InvoiceRequest) (Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
	defer cancel()
	inv, err := s.invoicer.CreateInvoice(ctx, req)
	if err != nil {
		s.log.Error().Err(err).Str("wallet_id", req.WalletID).Int64("sats", req.AmountSats).Msg("create invoice failed")
		return Invoice{}, reject("Could not create invoice")
	}
	return inv, nil
}

// logIssued records which payment an invoice settles. Backends that commit
// only a description hash (LND) keep no memo, so this line is the link.
func (s *Service) logIssued(d *Device, p *PendingPayment, inv Invoice) {
	s.log.Info().
		Str("payment_id", p.ID).
		Str("device_id", d.ID).
		Str("payment_hash", inv.PaymentHash).
		Str("pin", pinString(p.Pin)).
		Int64("msat", p.AmountMsat).
		Msg("invoice issued")
}

// claim moves a payment out of the pending state. Losing a concurrent claim
// is reported like any other duplicate.
func (s *Service) claim(ctx context.Context, paymentID, marker string) error {
	err := s.store.ClaimPayment(ctx, paymentID, marker)
	if errors.Is(err, ErrAlreadyClaimed) {
		return reject(reasonAlreadyClaimed)
	}
	if err != nil {
		return fmt.Errorf("claim payment %s: %w", paymentID, err)
	}
	return nil
}

// Receipt is what the display page shows for a payment.
type Receipt struct {
	PaymentID  string
	Title      string
	Kind       Kind
	AmountMsat int64
	Paid       bool
	// Pin is only revealed once the payment is settled.
	Pin *int
}

// Receipt reports whether the invoice issued for paymentID has been paid.
func (s *Service) Receipt(ctx context.Context, paymentID string) (*Receipt, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if errors.Is(err, ErrNotFound) {
		return nil, &Failure{Err: ErrNotFound, Detail: "lnurldevicepayment not found."}
	}
	if err != nil {
		return nil, err
	}
	d, err := s.device(ctx, p.DeviceID)
	if err != nil {
		return nil, err
	}
	r := &Receipt{PaymentID: p.ID, Title: d.Title, Kind: p.Kind, AmountMsat: p.AmountMsat}
	if p.Pending() {
		return r, nil
	}

	switch p.Kind {
	case KindAtm:
		r.Paid = true
	default:
		ctx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
		defer cancel()
		paid, err := s.invoicer.InvoicePaid(ctx, d.WalletID, p.Redemption)
		if err != nil {
			s.log.Warn().Err(err).Str("payment_id", p.ID).Msg("invoice status lookup failed")
			return r, nil
		}
		r.Paid = paid
	}
	if r.Paid {
		r.Pin = p.Pin
	}
	return r, nil
}
