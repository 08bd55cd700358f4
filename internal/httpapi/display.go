package httpapi

import (
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"lnurldevice/internal/lnurldevice"
)

type displayView struct {
	Title string
	Sats  int64
	Paid  bool
	Pin   string
}

// handleDisplay is the success-action page shown after a terminal sale.
func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.svc.Receipt(r.Context(), chi.URLParam(r, "paymentId"))
	if errors.Is(err, lnurldevice.ErrNotFound) {
		http.Error(w, "payment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("receipt lookup failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	view := displayView{
		Title: receipt.Title,
		Sats:  receipt.AmountMsat / 1000,
		Paid:  receipt.Paid,
	}
	if receipt.Pin != nil {
		view.Pin = strconv.Itoa(*receipt.Pin)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := displayTmpl.Execute(w, view); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("render display page")
	}
}

var displayTmpl = template.Must(template.New("display").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
{{if not .Paid}}<meta http-equiv="refresh" content="3">{{end}}
<style>
*,*::before,*::after{box-sizing:border-box;margin:0;padding:0}
body{font-family:system-ui,-apple-system,sans-serif;background:#f5f5f5;color:#111;padding:1rem}
.card{max-width:440px;margin:1rem auto;background:#fff;border-radius:14px;padding:1.5rem;box-shadow:0 2px 16px rgba(0,0,0,.09);text-align:center}
h1{font-size:1.25rem;margin-bottom:1rem}
.badge{display:inline-block;padding:3px 12px;border-radius:20px;font-size:.82rem;font-weight:600}
.badge-paid{background:#dcfce7;color:#16a34a}
.badge-pending{background:#fef9c3;color:#a16207}
.stat-label{font-size:.75rem;color:#666;font-weight:600;text-transform:uppercase;letter-spacing:.06em;margin:1.25rem 0 2px}
.stat-value{font-size:1.5rem;font-weight:700}
.pin{font-size:3rem;font-weight:800;letter-spacing:.2em;color:#f7931a}
</style>
</head>
<body>
<div class="card">
<h1>{{.Title}}</h1>
{{if .Paid}}<span class="badge badge-paid">Paid</span>{{else}}<span class="badge badge-pending">Waiting for payment</span>{{end}}
<div class="stat-label">Amount</div>
<div class="stat-value">{{.Sats}} sats</div>
{{if .Pin}}<div class="stat-label">Pin</div>
<div class="pin">{{.Pin}}</div>{{end}}
</div>
</body>
</html>`))
