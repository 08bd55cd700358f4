package lnurldevice

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrAlreadyClaimed = errors.New("payment already claimed")
)

// Rejection is an expected protocol outcome, returned to the caller as an
// LNURL error body rather than a transport failure.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

func reject(format string, args ...any) error {
	return &Rejection{Reason: fmt.Sprintf(format, args...)}
}

const (
	reasonAlreadyClaimed = "Payment already claimed"
	reasonPaymentFailed  = "Payment failed, use a different wallet."
)
