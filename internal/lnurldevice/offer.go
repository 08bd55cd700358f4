package lnurldevice

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lnurldevice/internal/metrics"
	"lnurldevice/internal/token"
)

// commentAllowed is the comment length advertised by switches that take one.
const commentAllowed = 1500

// variableMultiplier widens maxSendable for switches sold by the second.
const variableMultiplier = 360

// OfferParams are the query parameters of the first LNURL round trip.
type OfferParams struct {
	Token    string
	Atm      bool
	Pin      string
	Amount   string
	Duration string
	Variable bool
	Comment  bool
}

// Offer is either a PayOffer or a WithdrawOffer.
type Offer interface {
	offer()
}

type PayOffer struct {
	PaymentID      string
	Callback       string
	MinSendable    int64
	MaxSendable    int64
	Metadata       string
	CommentAllowed int
}

type WithdrawOffer struct {
	PaymentID          string
	Callback           string
	K1                 string
	MinWithdrawable    int64
	MaxWithdrawable    int64
	DefaultDescription string
}

func (PayOffer) offer()      {}
func (WithdrawOffer) offer() {}

// BuildOffer prices a device request and records it as a pending payment.
func (s *Service) BuildOffer(ctx context.Context, deviceID string, params OfferParams) (offer Offer, err error) {
	kind := Kind("unknown")
	defer func() { observe(metrics.OffersTotal, kind, err) }()

	d, err := s.device(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	kind = d.Behavior.Kind()

	switch b := d.Behavior.(type) {
	case Switch:
		return s.switchOffer(ctx, d, b, params)
	case PointOfSale:
		if params.Atm {
			return nil, reject("Device is not an ATM")
		}
		return s.saleOffer(ctx, d, b.ProfitPercent, params)
	case Atm:
		if params.Atm {
			return s.withdrawOffer(ctx, d, b, params)
		}
		return s.saleOffer(ctx, d, b.ProfitPercent, params)
	default:
		return nil, fmt.Errorf("device %s: unknown behaviour %T", d.ID, d.Behavior)
	}
}

func (s *Service) switchOffer(ctx context.Context, d *Device, b Switch, params OfferParams) (Offer, error) {
	pin, err := strconv.Atoi(params.Pin)
	if err != nil {
		return nil, reject("Extra params wrong")
	}
	duration, err := strconv.Atoi(params.Duration)
	if err != nil {
		return nil, reject("Extra params wrong")
	}
	matched := false
	for _, p := range b.Profiles {
		if p.Matches(pin, duration, params.Variable, params.Comment) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, reject("Extra params wrong")
	}

	amount, err := decimal.NewFromString(params.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, reject("Invalid amount")
	}
	price, err := s.toMsat(ctx, d, amount)
	if err != nil {
		return nil, err
	}

	p := &PendingPayment{
		ID:         uuid.NewString(),
		DeviceID:   d.ID,
		Kind:       KindSwitch,
		Payload:    params.Duration,
		AmountMsat: price,
		Pin:        &pin,
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("create switch payment: %w", err)
	}

	offer := PayOffer{
		PaymentID:   p.ID,
		Callback:    s.callbackURL(p.ID, params.Variable),
		MinSendable: price,
		MaxSendable: price,
		Metadata:    d.Metadata(),
	}
	if params.Comment {
		offer.CommentAllowed = commentAllowed
	}
	if params.Variable {
		offer.MaxSendable = price * variableMultiplier
	}
	return offer, nil
}

// decodeToken decrypts the device payload and prices it in millisatoshis.
func (s *Service) decodeToken(ctx context.Context, d *Device, raw string) (string, token.Payload, int64, error) {
	tok := token.Pad(raw)
	payload, err := token.Decode(d.EncryptionKey, tok)
	if err != nil {
		return "", token.Payload{}, 0, &Rejection{Reason: err.Error()}
	}
	amount := decimal.NewFromInt(payload.AmountInCents)
	if !isSat(d.Currency) {
		amount = amount.Div(hundred)
	}
	price, err := s.toMsat(ctx, d, amount)
	if err != nil {
		return "", token.Payload{}, 0, err
	}
	return tok, payload, price, nil
}

func (s *Service) saleOffer(ctx context.Context, d *Device, profit decimal.Decimal, params OfferParams) (Offer, error) {
	tok, payload, raw, err := s.decodeToken(ctx, d, params.Token)
	if err != nil {
		return nil, err
	}
	price := MarkUp(raw, profit)
	if price <= 0 {
		return nil, reject("Invalid amount")
	}

	// Sales from ATMs are stored as POS records so they never collide with
	// the device's withdrawals for the same token.
	pin := payload.Pin
	p := &PendingPayment{
		ID:         uuid.NewString(),
		DeviceID:   d.ID,
		Kind:       KindPointOfSale,
		Payload:    tok,
		AmountMsat: price,
		Pin:        &pin,
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("create sale payment: %w", err)
	}
	return PayOffer{
		PaymentID:   p.ID,
		Callback:    s.callbackURL(p.ID, false),
		MinSendable: price,
		MaxSendable: price,
		Metadata:    d.Metadata(),
	}, nil
}

func (s *Service) withdrawOffer(ctx context.Context, d *Device, b Atm, params OfferParams) (Offer, error) {
	tok, payload, raw, err := s.decodeToken(ctx, d, params.Token)
	if err != nil {
		return nil, err
	}
	p, err := s.RegisterAtmPayment(ctx, d, b, tok, payload, raw)
	if err != nil {
		return nil, err
	}
	return WithdrawOffer{
		PaymentID:          p.ID,
		Callback:           s.callbackURL(p.ID, false),
		K1:                 tok,
		MinWithdrawable:    p.AmountMsat,
		MaxWithdrawable:    p.AmountMsat,
		DefaultDescription: fmt.Sprintf("%s - pin: %s", d.Title, pinString(p.Pin)),
	}, nil
}

// RegisterAtmPayment records a withdrawal for tok, net of the operator's
// cut. Scanning the same token again returns the existing record as long as
// it has not been claimed.
func (s *Service) RegisterAtmPayment(ctx context.Context, d *Device, b Atm, tok string, payload token.Payload, rawMsat int64) (*PendingPayment, error) {
	amount := MarkDown(rawMsat, b.ProfitPercent)
	if amount < s.cfg.MinWithdrawMsat || amount <= 0 {
		return nil, reject("Amount too small")
	}
	pin := payload.Pin
	p, err := s.store.RegisterWithdrawal(ctx, &PendingPayment{
		ID:         uuid.NewString(),
		DeviceID:   d.ID,
		Kind:       KindAtm,
		Payload:    tok,
		AmountMsat: amount,
		Pin:        &pin,
	})
	if err != nil {
		return nil, fmt.Errorf("register atm payment: %w", err)
	}
	if !p.Pending() {
		return nil, reject(reasonAlreadyClaimed)
	}
	return p, nil
}

// MarkUp applies a profit percentage on top of msat, truncating.
func MarkUp(msat int64, profitPercent decimal.Decimal) int64 {
	return decimal.NewFromInt(msat).Mul(one.Add(profitPercent.Div(hundred))).IntPart()
}

// MarkDown deducts a profit percentage from msat, truncating.
func MarkDown(msat int64, profitPercent decimal.Decimal) int64 {
	return decimal.NewFromInt(msat).Mul(one.Sub(profitPercent.Div(hundred))).IntPart()
}
