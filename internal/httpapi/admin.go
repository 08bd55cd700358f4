package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"lnurldevice/internal/lnurldevice"
)

type deviceRequest struct {
	Title    string                      `json:"title"`
	Wallet   string                      `json:"wallet"`
	Currency string                      `json:"currency"`
	Kind     lnurldevice.Kind            `json:"kind"`
	Key      string                      `json:"key"`
	Profit   decimal.Decimal             `json:"profit"`
	Switches []lnurldevice.SwitchProfile `json:"switches"`
}

type deviceView struct {
	ID        string                      `json:"id"`
	Title     string                      `json:"title"`
	Wallet    string                      `json:"wallet"`
	Currency  string                      `json:"currency"`
	Kind      lnurldevice.Kind            `json:"kind"`
	Key       string                      `json:"key"`
	Profit    decimal.Decimal             `json:"profit"`
	Switches  []lnurldevice.SwitchProfile `json:"switches,omitempty"`
	CreatedAt time.Time                   `json:"created_at"`
}

type paymentView struct {
	ID         string           `json:"id"`
	Kind       lnurldevice.Kind `json:"kind"`
	AmountMsat int64            `json:"amount_msat"`
	Pin        *int             `json:"pin,omitempty"`
	Claimed    bool             `json:"claimed"`
	CreatedAt  time.Time        `json:"created_at"`
}

func newDeviceView(d *lnurldevice.Device) deviceView {
	v := deviceView{
		ID:        d.ID,
		Title:     d.Title,
		Wallet:    d.WalletID,
		Currency:  d.Currency,
		Kind:      d.Behavior.Kind(),
		Key:       d.EncryptionKey,
		CreatedAt: d.CreatedAt,
	}
	switch b := d.Behavior.(type) {
	case lnurldevice.PointOfSale:
		v.Profit = b.ProfitPercent
	case lnurldevice.Atm:
		v.Profit = b.ProfitPercent
	case lnurldevice.Switch:
		v.Switches = b.Profiles
	}
	return v
}

func (req deviceRequest) device() (*lnurldevice.Device, error) {
	d := &lnurldevice.Device{
		ID:            uuid.NewString(),
		Title:         strings.TrimSpace(req.Title),
		WalletID:      req.Wallet,
		Currency:      req.Currency,
		EncryptionKey: req.Key,
	}
	if d.EncryptionKey == "" {
		d.EncryptionKey = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	switch req.Kind {
	case lnurldevice.KindPointOfSale:
		d.Behavior = lnurldevice.PointOfSale{ProfitPercent: req.Profit}
	case lnurldevice.KindAtm:
		d.Behavior = lnurldevice.Atm{ProfitPercent: req.Profit}
	case lnurldevice.KindSwitch:
		d.Behavior = lnurldevice.Switch{Profiles: req.Switches}
	default:
		return nil, errors.New("kind must be pos, atm or switch")
	}
	return d, d.Validate()
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid JSON"})
		return
	}
	d, err := req.device()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	if err := s.devices.CreateDevice(r.Context(), d); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("create device")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "database error"})
		return
	}
	hlog.FromRequest(r).Info().Str("device_id", d.ID).Str("kind", string(d.Behavior.Kind())).Msg("device created")
	writeJSON(w, http.StatusCreated, newDeviceView(d))
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.ListDevices(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list devices")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "database error"})
		return
	}
	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, newDeviceView(d))
	}
	writeJSON(w, http.StatusOK, views)
}

// loadDevice writes the error response itself and returns nil on failure.
func (s *Server) loadDevice(w http.ResponseWriter, r *http.Request) *lnurldevice.Device {
	d, err := s.devices.GetDevice(r.Context(), chi.URLParam(r, "deviceId"))
	if errors.Is(err, lnurldevice.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "lnurldevice not found."})
		return nil
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("get device")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "database error"})
		return nil
	}
	return d
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	if d := s.loadDevice(w, r); d != nil {
		writeJSON(w, http.StatusOK, newDeviceView(d))
	}
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceId")
	err := s.devices.DeleteDevice(r.Context(), id)
	if errors.Is(err, lnurldevice.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "lnurldevice not found."})
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("delete device")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "database error"})
		return
	}
	hlog.FromRequest(r).Info().Str("device_id", id).Msg("device deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	d := s.loadDevice(w, r)
	if d == nil {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	payments, err := s.devices.ListPayments(r.Context(), d.ID, limit)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list payments")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "database error"})
		return
	}
	views := make([]paymentView, 0, len(payments))
	for _, p := range payments {
		views = append(views, paymentView{
			ID:         p.ID,
			Kind:       p.Kind,
			AmountMsat: p.AmountMsat,
			Pin:        p.Pin,
			Claimed:    !p.Pending(),
			CreatedAt:  p.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleDeviceLinks(w http.ResponseWriter, r *http.Request) {
	d := s.loadDevice(w, r)
	if d == nil {
		return
	}
	links, err := s.svc.Links(d)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("device links")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "could not encode lnurl"})
		return
	}
	writeJSON(w, http.StatusOK, links)
}

// handleDeviceQR renders "lightning:<LNURL>" for one link as a PNG.
func (s *Server) handleDeviceQR(w http.ResponseWriter, r *http.Request) {
	d := s.loadDevice(w, r)
	if d == nil {
		return
	}
	q := r.URL.Query()
	size, err := strconv.ParseUint(q.Get("size"), 10, 12)
	if q.Get("size") == "" {
		size, err = 256, nil
	}
	if err != nil || size < 64 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid size"})
		return
	}
	profile := 0
	if raw := q.Get("profile"); raw != "" {
		if profile, err = strconv.Atoi(raw); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid profile"})
			return
		}
	}

	links, err := s.svc.Links(d)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("device links")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "could not encode lnurl"})
		return
	}
	if profile < 0 || profile >= len(links) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "profile not found"})
		return
	}

	png, err := qrcode.Encode("lightning:"+strings.ToUpper(links[profile].LNURL), qrcode.Medium, int(size))
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("encode qr")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "could not render qr"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	_, _ = w.Write(png)
}
