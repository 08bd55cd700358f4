package main

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"lnurldevice/internal/logger"
)

// Config holds all server configuration loaded from environment variables.
type Config struct {
	BaseURL     string
	Port        string
	DBPath      string
	LogLevel    string
	LogFormat   string
	AdminAPIKey string

	WalletBackend    string
	LNbitsURL        string
	LNbitsWalletKeys string
	LNDHost          string
	LNDTLSCert       string
	LNDMacaroon      string

	RatesURL string
	RatesTTL time.Duration

	UpstreamTimeout    time.Duration
	PayTimeout         time.Duration
	MinWithdrawMsat    int64
	RateLimitPerMinute int
	PruneAfter         time.Duration
}

func loadConfig() Config {
	// A missing .env is fine; the environment wins over the file.
	_ = godotenv.Load()

	return Config{
		BaseURL:     envStr("BASE_URL", "http://localhost:8080"),
		Port:        envStr("PORT", "8080"),
		DBPath:      envStr("DB_PATH", "./lnurldevice.db"),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		LogFormat:   envStr("LOG_FORMAT", "json"),
		AdminAPIKey: envStr("ADMIN_API_KEY", ""),

		WalletBackend:    envStr("WALLET_BACKEND", "lnbits"),
		LNbitsURL:        envStr("LNBITS_URL", "http://localhost:5000"),
		LNbitsWalletKeys: envStr("LNBITS_WALLET_KEYS", ""),
		LNDHost:          envStr("LND_HOST", "localhost:10009"),
		LNDTLSCert:       envStr("LND_TLS_CERT", "tls.cert"),
		LNDMacaroon:      envStr("LND_MACAROON", "admin.macaroon"),

		RatesURL: envStr("RATES_URL", ""),
		RatesTTL: envDuration("RATES_TTL", time.Minute),

		UpstreamTimeout:    envDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		PayTimeout:         envDuration("PAY_TIMEOUT", 60*time.Second),
		MinWithdrawMsat:    envInt64("ATM_MIN_WITHDRAW_MSAT", 1000),
		RateLimitPerMinute: int(envInt64("RATE_LIMIT_PER_MINUTE", 120)),
		PruneAfter:         envDuration("PRUNE_AFTER", 72*time.Hour),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			logger.Logger.Fatal().Err(err).Str("key", key).Msg("invalid integer setting")
		}
		return n
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			logger.Logger.Fatal().Err(err).Str("key", key).Msg("invalid duration setting")
		}
		return d
	}
	return def
}
