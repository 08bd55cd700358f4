package wallet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/lightningnetwork/lnd/macaroons"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"gopkg.in/macaroon.v2"

	"lnurldevice/internal/lnurldevice"
)

var _ lnurldevice.Invoicer = (*LND)(nil)

const (
	invoiceExpirySeconds = 3600
	paymentTimeoutSecs   = 60
	// Routing fee budget as a share of the amount, with a floor.
	feeLimitPercent = 1
	feeLimitMinSat  = 10
)

// LNDConfig holds connection configuration.
type LNDConfig struct {
	Host         string
	TLSCertPath  string
	MacaroonPath string
}

// LND issues and pays invoices on a single LND node. All device wallets
// share the node, so wallet ids are ignored.
type LND struct {
	ln     lnrpc.LightningClient
	router routerrpc.RouterClient
	conn   *grpc.ClientConn
}

// DialLND connects to the node with TLS and macaroon credentials.
func DialLND(cfg LNDConfig) (*LND, error) {
	creds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("load TLS cert: %w", err)
	}

	macBytes, err := os.ReadFile(cfg.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("read macaroon: %w", err)
	}
	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macBytes); err != nil {
		return nil, fmt.Errorf("unmarshal macaroon: %w", err)
	}
	macCreds, err := macaroons.NewMacaroonCredential(mac)
	if err != nil {
		return nil, fmt.Errorf("macaroon credential: %w", err)
	}

	conn, err := grpc.Dial(cfg.Host,
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(macCreds),
	)
	if err != nil {
		return nil, fmt.Errorf("dial LND: %w", err)
	}
	lnd := NewLND(lnrpc.NewLightningClient(conn), routerrpc.NewRouterClient(conn))
	lnd.conn = conn
	return lnd, nil
}

func NewLND(ln lnrpc.LightningClient, router routerrpc.RouterClient) *LND {
	return &LND{ln: ln, router: router}
}

func (c *LND) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// CreateInvoice commits to the unhashed description when one is given.
func (c *LND) CreateInvoice(ctx context.Context, req lnurldevice.InvoiceRequest) (lnurldevice.Invoice, error) {
	inv := &lnrpc.Invoice{
		Value:  req.AmountSats,
		Expiry: invoiceExpirySeconds,
	}
	if req.UnhashedDescription != "" {
		h := sha256.Sum256([]byte(req.UnhashedDescription))
		inv.DescriptionHash = h[:]
	} else {
		inv.Memo = req.Memo
	}

	resp, err := c.ln.AddInvoice(ctx, inv)
	if err != nil {
		return lnurldevice.Invoice{}, &PaymentError{Code: ErrCodeInvoiceFailed, Message: err.Error()}
	}
	return lnurldevice.Invoice{
		PaymentHash:    hex.EncodeToString(resp.RHash),
		PaymentRequest: resp.PaymentRequest,
	}, nil
}

// PayInvoice pays req.PaymentRequest and waits for a final payment state.
func (c *LND) PayInvoice(ctx context.Context, req lnurldevice.PayRequest) error {
	decoded, err := c.ln.DecodePayReq(ctx, &lnrpc.PayReqString{PayReq: req.PaymentRequest})
	if err != nil {
		return &PaymentError{Code: ErrCodeInvalidInvoice, Message: err.Error()}
	}
	msat := decoded.NumMsat
	if msat == 0 {
		msat = decoded.NumSatoshis * 1000
	}
	if err := checkAmount(msat, req.MaxSats); err != nil {
		return err
	}

	stream, err := c.router.SendPaymentV2(ctx, &routerrpc.SendPaymentRequest{
		PaymentRequest: req.PaymentRequest,
		TimeoutSeconds: paymentTimeoutSecs,
		FeeLimitSat:    feeLimit(msat / 1000),
	})
	if err != nil {
		return &PaymentError{Code: ErrCodePaymentFailed, Message: err.Error()}
	}
	for {
		payment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return &PaymentError{Code: ErrCodePaymentFailed, Message: "payment stream closed before completion"}
		}
		if err != nil {
			return &PaymentError{Code: ErrCodePaymentFailed, Message: err.Error()}
		}
		switch payment.Status {
		case lnrpc.Payment_SUCCEEDED:
			return nil
		case lnrpc.Payment_FAILED:
			return &PaymentError{
				Code:    ErrCodePaymentFailed,
				Message: payment.FailureReason.String(),
				Details: map[string]any{"payment_hash": payment.PaymentHash},
			}
		}
	}
}

func (c *LND) InvoicePaid(ctx context.Context, walletID, paymentHash string) (bool, error) {
	hash, err := hex.DecodeString(paymentHash)
	if err != nil || len(hash) != sha256.Size {
		return false, fmt.Errorf("invalid payment hash %q", paymentHash)
	}
	inv, err := c.ln.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: hash})
	if err != nil {
		return false, fmt.Errorf("lookup invoice: %w", err)
	}
	return inv.State == lnrpc.Invoice_SETTLED, nil
}

func feeLimit(sats int64) int64 {
	fee := sats * feeLimitPercent / 100
	if fee < feeLimitMinSat {
		return feeLimitMinSat
	}
	return fee
}
