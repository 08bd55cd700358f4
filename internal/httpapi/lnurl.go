package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/fiatjaf/go-lnurl"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"lnurldevice/internal/lnurldevice"
)

// writeJSON serialises v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// lnurlError returns an LNURL error body. Wallets expect it with status 200.
func lnurlError(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusOK, lnurl.ErrorResponse(reason))
}

// writeServiceError maps service errors onto LNURL responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var rej *lnurldevice.Rejection
	var f *lnurldevice.Failure
	switch {
	case errors.As(err, &rej):
		lnurlError(w, rej.Reason)
	case errors.As(err, &f) && errors.Is(f.Err, lnurldevice.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": f.Detail})
	case errors.As(err, &f) && errors.Is(f.Err, lnurldevice.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": f.Detail})
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("lnurl request failed")
		lnurlError(w, "database error")
	}
}

// payRequest advertises commentAllowed only for offers that take a comment.
type payRequest struct {
	lnurl.LNURLPayParams
	CommentAllowed int64 `json:"commentAllowed,omitempty"`
}

// queryFlag reads a boolean query flag. Devices send 1, true or yes.
func queryFlag(r *http.Request, name string) bool {
	switch strings.ToLower(r.URL.Query().Get(name)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// handleOfferV1 serves older firmware, which calls the pin "gpio" and sends
// a profit value the server does not trust.
func (s *Server) handleOfferV1(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pin := q.Get("gpio")
	if pin == "" {
		pin = q.Get("pin")
	}
	s.offer(w, r, lnurldevice.OfferParams{
		Token:    q.Get("p"),
		Atm:      queryFlag(r, "atm"),
		Pin:      pin,
		Amount:   q.Get("amount"),
		Duration: q.Get("duration"),
		Variable: queryFlag(r, "variable"),
		Comment:  queryFlag(r, "comment"),
	})
}

func (s *Server) handleOfferV2(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.offer(w, r, lnurldevice.OfferParams{
		Token:    q.Get("p"),
		Atm:      queryFlag(r, "atm"),
		Pin:      q.Get("pin"),
		Amount:   q.Get("amount"),
		Duration: q.Get("duration"),
		Variable: queryFlag(r, "variable"),
		Comment:  queryFlag(r, "comment"),
	})
}

func (s *Server) offer(w http.ResponseWriter, r *http.Request, params lnurldevice.OfferParams) {
	deviceID := chi.URLParam(r, "deviceId")
	offer, err := s.svc.BuildOffer(r.Context(), deviceID, params)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	switch o := offer.(type) {
	case lnurldevice.PayOffer:
		writeJSON(w, http.StatusOK, payRequest{
			LNURLPayParams: lnurl.LNURLPayParams{
				Tag:             "payRequest",
				Callback:        o.Callback,
				MinSendable:     o.MinSendable,
				MaxSendable:     o.MaxSendable,
				EncodedMetadata: o.Metadata,
			},
			CommentAllowed: int64(o.CommentAllowed),
		})
	case lnurldevice.WithdrawOffer:
		writeJSON(w, http.StatusOK, lnurl.LNURLWithdrawResponse{
			Tag:                "withdrawRequest",
			Callback:           o.Callback,
			K1:                 o.K1,
			MinWithdrawable:    o.MinWithdrawable,
			MaxWithdrawable:    o.MaxWithdrawable,
			DefaultDescription: o.DefaultDescription,
		})
	}
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.svc.Redeem(r.Context(), chi.URLParam(r, "paymentId"), lnurldevice.RedeemParams{
		Variable: q.Get("variable"),
		Amount:   q.Get("amount"),
		Comment:  q.Get("comment"),
		PR:       q.Get("pr"),
		K1:       q.Get("k1"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	switch res := res.(type) {
	case lnurldevice.WithdrawalSent:
		writeJSON(w, http.StatusOK, lnurl.OkResponse())
	case lnurldevice.InvoiceIssued:
		writeJSON(w, http.StatusOK, lnurl.LNURLPayValues{
			PR:            res.PaymentRequest,
			SuccessAction: res.SuccessAction,
			Routes:        []string{},
		})
	}
}
