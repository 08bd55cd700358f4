package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lnurldevice/internal/httpapi"
	"lnurldevice/internal/lnurldevice"
	"lnurldevice/internal/logger"
	"lnurldevice/internal/metrics"
	"lnurldevice/internal/rates"
	"lnurldevice/internal/store"
	"lnurldevice/internal/wallet"
)

func main() {
	cfg := loadConfig()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to init db")
	}
	defer database.Close()

	invoicer, closeWallet, err := newInvoicer(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.WalletBackend).Msg("failed to init wallet backend")
	}
	defer closeWallet()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	svc := lnurldevice.New(lnurldevice.Config{
		BaseURL:         cfg.BaseURL,
		MinWithdrawMsat: cfg.MinWithdrawMsat,
		UpstreamTimeout: cfg.UpstreamTimeout,
		PayTimeout:      cfg.PayTimeout,
	}, database, invoicer, rates.New(cfg.RatesURL, cfg.RatesTTL, log), wallet.Bolt11Decoder{}, log)

	if cfg.AdminAPIKey == "" {
		log.Warn().Msg("ADMIN_API_KEY not set, operator API disabled")
	}
	api := httpapi.New(httpapi.Config{
		AdminAPIKey:        cfg.AdminAPIKey,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, svc, database, log)

	if cfg.PruneAfter > 0 {
		go runPruneLoop(ctx, database, cfg.PruneAfter)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("port", cfg.Port).Str("base", cfg.BaseURL).Str("wallet", cfg.WalletBackend).Msg("lnurldevice listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
}

func newInvoicer(cfg Config) (lnurldevice.Invoicer, func(), error) {
	switch cfg.WalletBackend {
	case "lnd":
		c, err := wallet.DialLND(wallet.LNDConfig{
			Host:         cfg.LNDHost,
			TLSCertPath:  cfg.LNDTLSCert,
			MacaroonPath: cfg.LNDMacaroon,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	case "lnbits":
		keys, err := wallet.ParseWalletKeys(cfg.LNbitsWalletKeys)
		if err != nil {
			return nil, nil, err
		}
		return wallet.NewLNbits(cfg.LNbitsURL, keys, cfg.UpstreamTimeout), func() {}, nil
	default:
		return nil, nil, errors.New("WALLET_BACKEND must be lnbits or lnd")
	}
}

// runPruneLoop drops unclaimed payments older than maxAge, at startup and
// then hourly.
func runPruneLoop(ctx context.Context, db *store.DB, maxAge time.Duration) {
	log := logger.Logger.With().Str("component", "prune").Logger()
	prune := func() {
		n, err := db.PrunePending(ctx, time.Now().Add(-maxAge))
		if err != nil {
			log.Error().Err(err).Msg("prune pending payments")
			return
		}
		if n > 0 {
			log.Info().Int64("deleted", n).Msg("pruned pending payments")
		}
	}

	prune()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
