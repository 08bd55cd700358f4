package store

import (
	"context"
	"database/sql"
	"time"

	"lnurldevice/internal/lnurldevice"
)

const paymentColumns = `id, device_id, kind, payload, amount_msat, pin, redemption, created_at`

func (db *DB) CreatePayment(ctx context.Context, p *lnurldevice.PendingPayment) error {
	return insertPayment(ctx, db.DB, p, "")
}

// RegisterWithdrawal inserts p unless the device already has a withdrawal
// for the same token, then returns the stored record.
func (db *DB) RegisterWithdrawal(ctx context.Context, p *lnurldevice.PendingPayment) (*lnurldevice.PendingPayment, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := insertPayment(ctx, tx, p,
		` ON CONFLICT(device_id, payload) WHERE kind = 'atm' DO NOTHING`); err != nil {
		return nil, err
	}
	row := tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM pending_payments
		 WHERE device_id=? AND payload=? AND kind='atm'`,
		p.DeviceID, p.Payload,
	)
	stored, err := scanPayment(row)
	if err != nil {
		return nil, err
	}
	return stored, tx.Commit()
}

func (db *DB) GetPayment(ctx context.Context, id string) (*lnurldevice.PendingPayment, error) {
	row := db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM pending_payments WHERE id=?`, id)
	p, err := scanPayment(row)
	if isNoRows(err) {
		return nil, notFound("payment", id)
	}
	return p, err
}

// ListPayments returns a device's payments, newest first.
func (db *DB) ListPayments(ctx context.Context, deviceID string, limit int) ([]*lnurldevice.PendingPayment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM pending_payments
		 WHERE device_id=? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*lnurldevice.PendingPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ClaimPayment sets the redemption marker if the payment is still pending.
func (db *DB) ClaimPayment(ctx context.Context, id, marker string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE pending_payments SET redemption=? WHERE id=? AND redemption IS NULL`,
		marker, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM pending_payments WHERE id=?`, id).Scan(&exists)
	if isNoRows(err) {
		return notFound("payment", id)
	}
	if err != nil {
		return err
	}
	return lnurldevice.ErrAlreadyClaimed
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertPayment(ctx context.Context, ex execer, p *lnurldevice.PendingPayment, suffix string) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	var pin sql.NullInt64
	if p.Pin != nil {
		pin = sql.NullInt64{Int64: int64(*p.Pin), Valid: true}
	}
	var redemption sql.NullString
	if p.Redemption != "" {
		redemption = sql.NullString{String: p.Redemption, Valid: true}
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO pending_payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`+suffix,
		p.ID, p.DeviceID, string(p.Kind), p.Payload, p.AmountMsat, pin, redemption,
		p.CreatedAt.UTC().Format(timeLayout),
	)
	return err
}

func scanPayment(row scanner) (*lnurldevice.PendingPayment, error) {
	var (
		p          lnurldevice.PendingPayment
		kind       string
		pin        sql.NullInt64
		redemption sql.NullString
	)
	if err := row.Scan(
		&p.ID, &p.DeviceID, &kind, &p.Payload, &p.AmountMsat, &pin, &redemption, &p.CreatedAt,
	); err != nil {
		return nil, err
	}
	p.Kind = lnurldevice.Kind(kind)
	if pin.Valid {
		v := int(pin.Int64)
		p.Pin = &v
	}
	p.Redemption = redemption.String
	return &p, nil
}

// PrunePending deletes payments that were never claimed and were created
// before cutoff. Claimed payments are kept so tokens cannot be replayed.
func (db *DB) PrunePending(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM pending_payments WHERE redemption IS NULL AND created_at < ?`,
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
