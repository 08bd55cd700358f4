package lnurldevice

import (
	"errors"
	"fmt"
	"time"

	"github.com/fiatjaf/go-lnurl"
	"github.com/shopspring/decimal"
)

// CurrencySat marks devices priced directly in satoshis.
const CurrencySat = "sat"

// Kind names a device behaviour in storage and metrics.
type Kind string

const (
	KindPointOfSale Kind = "pos"
	KindAtm         Kind = "atm"
	KindSwitch      Kind = "switch"
)

// Behavior is the sealed set of device behaviours. Only PointOfSale, Atm
// and Switch implement it.
type Behavior interface {
	Kind() Kind
	sealed()
}

// PointOfSale devices sell an amount chosen on the terminal, with a markup.
type PointOfSale struct {
	ProfitPercent decimal.Decimal
}

// Atm devices dispense sats for cash inserted, keeping ProfitPercent.
type Atm struct {
	ProfitPercent decimal.Decimal
}

// Switch devices actuate a relay on a pin for a fixed duration once paid.
type Switch struct {
	Profiles []SwitchProfile
}

func (PointOfSale) Kind() Kind { return KindPointOfSale }
func (Atm) Kind() Kind         { return KindAtm }
func (Switch) Kind() Kind      { return KindSwitch }

func (PointOfSale) sealed() {}
func (Atm) sealed()         {}
func (Switch) sealed()      {}

// SwitchProfile is one (pin, duration) combination the firmware may request.
type SwitchProfile struct {
	Pin         int             `json:"pin"`
	DurationMs  int             `json:"duration"`
	Amount      decimal.Decimal `json:"amount"`
	Variable    bool            `json:"variable"`
	Comment     bool            `json:"comment"`
	Description string          `json:"description"`
}

// Matches reports whether the requested parameters equal this profile.
func (p SwitchProfile) Matches(pin, durationMs int, variable, comment bool) bool {
	return p.Pin == pin && p.DurationMs == durationMs && p.Variable == variable && p.Comment == comment
}

type Device struct {
	ID            string
	Title         string
	WalletID      string
	Currency      string
	EncryptionKey string
	Behavior      Behavior
	CreatedAt     time.Time
}

// Validate checks a device before it is stored.
func (d *Device) Validate() error {
	switch {
	case d.Title == "":
		return errors.New("title is required")
	case d.WalletID == "":
		return errors.New("wallet is required")
	case d.Currency == "":
		return errors.New("currency is required")
	case d.EncryptionKey == "":
		return errors.New("encryption key is required")
	}
	switch b := d.Behavior.(type) {
	case PointOfSale:
		if b.ProfitPercent.IsNegative() {
			return errors.New("profit must not be negative")
		}
	case Atm:
		if b.ProfitPercent.IsNegative() || b.ProfitPercent.GreaterThanOrEqual(hundred) {
			return errors.New("atm profit must be between 0 and 100")
		}
	case Switch:
		if len(b.Profiles) == 0 {
			return errors.New("switch needs at least one profile")
		}
		for i, p := range b.Profiles {
			if p.Pin < 0 || p.DurationMs <= 0 || !p.Amount.IsPositive() {
				return fmt.Errorf("switch profile %d is incomplete", i)
			}
		}
	case nil:
		return errors.New("behaviour is required")
	default:
		return fmt.Errorf("unsupported behaviour %T", b)
	}
	return nil
}

// Metadata is the LNURL-pay metadata blob for the device.
func (d *Device) Metadata() string {
	return lnurl.Metadata{Description: d.Title}.Encode()
}

// PendingPayment tracks one offer from creation until it is claimed.
// Redemption is empty while pending; afterwards it holds the claim marker
// (the issued payment hash, or the ATM token once withdrawn).
type PendingPayment struct {
	ID         string
	DeviceID   string
	Kind       Kind
	Payload    string
	AmountMsat int64
	Pin        *int
	Redemption string
	CreatedAt  time.Time
}

func (p *PendingPayment) Pending() bool { return p.Redemption == "" }
