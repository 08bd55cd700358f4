// Package httpapi serves the LNURL endpoints devices and wallets talk to,
// the payment display page and the operator API.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"lnurldevice/internal/lnurldevice"
)

// Devices is the device registry behind the operator API.
type Devices interface {
	CreateDevice(ctx context.Context, d *lnurldevice.Device) error
	GetDevice(ctx context.Context, id string) (*lnurldevice.Device, error)
	ListDevices(ctx context.Context) ([]*lnurldevice.Device, error)
	DeleteDevice(ctx context.Context, id string) error
	ListPayments(ctx context.Context, deviceID string, limit int) ([]*lnurldevice.PendingPayment, error)
}

type Config struct {
	// AdminAPIKey guards /api/v1; the operator API is disabled when empty.
	AdminAPIKey        string
	RateLimitPerMinute int
	Gatherer           prometheus.Gatherer
}

type Server struct {
	cfg     Config
	svc     *lnurldevice.Service
	devices Devices
	log     zerolog.Logger
}

func New(cfg Config, svc *lnurldevice.Service, devices Devices, log zerolog.Logger) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:     cfg,
		svc:     svc,
		devices: devices,
		log:     log.With().Str("component", "http").Logger(),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(hlog.NewHandler(s.log))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(withMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	// Wallets call these from browsers too.
	r.Route("/offer", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		}))
		if s.cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimitPerMinute, time.Minute))
		}
		r.Get("/v1/cb/{paymentId}", s.handleCallback)
		r.Get("/v1/display/{paymentId}", s.handleDisplay)
		r.Get("/v1/{deviceId}", s.handleOfferV1)
		r.Get("/v2/{deviceId}", s.handleOfferV2)
	})

	if s.cfg.AdminAPIKey != "" {
		r.Route("/api/v1/devices", func(r chi.Router) {
			r.Use(requireAPIKey(s.cfg.AdminAPIKey))
			r.Post("/", s.handleCreateDevice)
			r.Get("/", s.handleListDevices)
			r.Get("/{deviceId}", s.handleGetDevice)
			r.Delete("/{deviceId}", s.handleDeleteDevice)
			r.Get("/{deviceId}/payments", s.handleListPayments)
			r.Get("/{deviceId}/lnurl", s.handleDeviceLinks)
			r.Get("/{deviceId}/qr", s.handleDeviceQR)
		})
	}
	return r
}
