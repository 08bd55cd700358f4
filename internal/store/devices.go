package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"lnurldevice/internal/lnurldevice"
)

const timeLayout = "2006-01-02 15:04:05"

const deviceColumns = `id, title, wallet, currency, kind, encryption_key, profit, switches, created_at`

type scanner interface {
	Scan(dest ...any) error
}

// CreateDevice inserts d. CreatedAt is set when zero.
func (db *DB) CreateDevice(ctx context.Context, d *lnurldevice.Device) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	profit, switches, err := encodeBehavior(d.Behavior)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO devices (`+deviceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Title, d.WalletID, d.Currency, string(d.Behavior.Kind()), d.EncryptionKey,
		profit, switches, d.CreatedAt.UTC().Format(timeLayout),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("device %s already exists", d.ID)
	}
	return err
}

func (db *DB) GetDevice(ctx context.Context, id string) (*lnurldevice.Device, error) {
	row := db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id=?`, id)
	d, err := scanDevice(row)
	if isNoRows(err) {
		return nil, notFound("device", id)
	}
	return d, err
}

func (db *DB) ListDevices(ctx context.Context) ([]*lnurldevice.Device, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*lnurldevice.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// DeleteDevice removes a device and, through the foreign key, its payments.
func (db *DB) DeleteDevice(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM devices WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("device", id)
	}
	return nil
}

func scanDevice(row scanner) (*lnurldevice.Device, error) {
	var (
		d         lnurldevice.Device
		kind      string
		profit    string
		switches  string
		createdAt time.Time
	)
	if err := row.Scan(
		&d.ID, &d.Title, &d.WalletID, &d.Currency, &kind, &d.EncryptionKey,
		&profit, &switches, &createdAt,
	); err != nil {
		return nil, err
	}
	b, err := decodeBehavior(lnurldevice.Kind(kind), profit, switches)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", d.ID, err)
	}
	d.Behavior = b
	d.CreatedAt = createdAt
	return &d, nil
}

func encodeBehavior(b lnurldevice.Behavior) (profit, switches string, err error) {
	switch b := b.(type) {
	case lnurldevice.PointOfSale:
		return b.ProfitPercent.String(), "[]", nil
	case lnurldevice.Atm:
		return b.ProfitPercent.String(), "[]", nil
	case lnurldevice.Switch:
		profiles := b.Profiles
		if profiles == nil {
			profiles = []lnurldevice.SwitchProfile{}
		}
		raw, err := json.Marshal(profiles)
		if err != nil {
			return "", "", fmt.Errorf("encode switches: %w", err)
		}
		return "0", string(raw), nil
	default:
		return "", "", fmt.Errorf("unsupported behaviour %T", b)
	}
}

func decodeBehavior(kind lnurldevice.Kind, profit, switches string) (lnurldevice.Behavior, error) {
	switch kind {
	case lnurldevice.KindPointOfSale, lnurldevice.KindAtm:
		pct, err := decimal.NewFromString(profit)
		if err != nil {
			return nil, fmt.Errorf("parse profit %q: %w", profit, err)
		}
		if kind == lnurldevice.KindAtm {
			return lnurldevice.Atm{ProfitPercent: pct}, nil
		}
		return lnurldevice.PointOfSale{ProfitPercent: pct}, nil
	case lnurldevice.KindSwitch:
		var profiles []lnurldevice.SwitchProfile
		if err := json.Unmarshal([]byte(switches), &profiles); err != nil {
			return nil, fmt.Errorf("parse switches: %w", err)
		}
		return lnurldevice.Switch{Profiles: profiles}, nil
	default:
		return nil, fmt.Errorf("unknown device kind %q", kind)
	}
}
