package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"market-optimizer/internal/audit"
	"market-optimizer/internal/auth"
	"market-optimizer/internal/observability/metrics"
	"market-optimizer/internal/pricing/application"
	"market-optimizer/internal/pricing/infrastructure/netztransparenz"
	pricingrepo "market-optimizer/internal/pricing/infrastructure/postgres"
	pricinghttp "market-optimizer/internal/pricing/interfaces/http"
	"market-optimizer/internal/scheduler"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("dotenv: %v", err)
	}
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	settings, err := application.LoadSettings(cfg.SettingsPath)
	if err != nil {
		logger.Fatalf("settings error: %v", err)
	}
	applyEnvOverrides(&settings)
	if err := settings.Validate(); err != nil {
		logger.Fatalf("settings error: %v", err)
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
	}
	metrics.Init(db, logger)

	opts := []application.ServiceOption{application.WithLogger(logger)}
	var repo *pricingrepo.PriceRepository
	if db != nil {
		repo = pricingrepo.NewPriceRepository(db)
		opts = append(opts, application.WithStore(repo))
	}
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		client, err := netztransparenz.NewClient(netztransparenz.Config{
			BaseURL:       cfg.MarketBaseURL,
			TokenURL:      cfg.TokenURL,
			ClientID:      cfg.ClientID,
			ClientSecret:  cfg.ClientSecret,
			TokenLifetime: cfg.TokenLifetime,
			Timeout:       cfg.FetchTimeout,
		}, netztransparenz.WithLogger(logger))
		if err != nil {
			logger.Fatalf("market api client error: %v", err)
		}
		opts = append(opts, application.WithLiveSource(client))
	} else {
		logger.Printf("CLIENT_ID/CLIENT_SECRET not set, serving synthetic prices only")
	}

	synthetic := application.NewSyntheticSource(rand.New(rand.NewSource(time.Now().UnixNano())))
	service, err := application.NewMarketDataService(synthetic, settings, opts...)
	if err != nil {
		logger.Fatalf("market data service error: %v", err)
	}
	handlerOpts := []pricinghttp.Option{pricinghttp.WithLogger(logger), pricinghttp.WithMaxUpload(cfg.MaxUploadBytes)}
	if auditRepo := audit.NewRepository(db); auditRepo != nil {
		handlerOpts = append(handlerOpts, pricinghttp.WithAuditLogger(auditRepo))
	}
	handler, err := pricinghttp.NewHandler(service, handlerOpts...)
	if err != nil {
		logger.Fatalf("pricing handler error: %v", err)
	}

	var sched *scheduler.Scheduler
	if cfg.PrefetchEnabled && repo != nil {
		sched, err = scheduler.New(service, scheduler.Config{
			Spec:          settings.Prefetch.Cron,
			LookaheadDays: settings.Prefetch.LookaheadDays,
			RetentionDays: settings.Prefetch.RetentionDays,
		}, scheduler.WithPruner(repo), scheduler.WithLogger(logger))
		if err != nil {
			logger.Fatalf("scheduler error: %v", err)
		}
		sched.Start()
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	authMiddleware.Logger = logger
	if cfg.JWTSecret == "" {
		logger.Printf("AUTH_JWT_SECRET not set, api is unauthenticated")
	}

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")
	if sched != nil {
		sched.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown error: %v", err)
	}
}

type config struct {
	DatabaseURL     string
	HTTPAddr        string
	SettingsPath    string
	ClientID        string
	ClientSecret    string
	TokenURL        string
	MarketBaseURL   string
	TokenLifetime   time.Duration
	FetchTimeout    time.Duration
	MaxUploadBytes  int64
	PrefetchEnabled bool
	JWTSecret       string
}

func loadConfig() config {
	return config{
		DatabaseURL:     getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8080"),
		SettingsPath:    getenvDefault("OPTIMIZER_CONFIG", ""),
		ClientID:        getenvDefault("CLIENT_ID", ""),
		ClientSecret:    getenvDefault("CLIENT_SECRET", ""),
		TokenURL:        getenvDefault("TOKEN_URL", netztransparenz.DefaultTokenURL),
		MarketBaseURL:   getenvDefault("MARKET_API_BASE_URL", netztransparenz.DefaultBaseURL),
		TokenLifetime:   getenvSeconds("TOKEN_LIFETIME", netztransparenz.DefaultTokenLifetime),
		FetchTimeout:    getenvDuration("MARKET_API_TIMEOUT", 30*time.Second),
		MaxUploadBytes:  int64(getenvIntDefault("MAX_UPLOAD_BYTES", 10<<20)),
		PrefetchEnabled: getenvBoolDefault("PREFETCH_ENABLED", true),
		JWTSecret:       getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
	}
}

// applyEnvOverrides lets deployments tune the optimizer without a settings file.
func applyEnvOverrides(s *application.Settings) {
	s.CapacityKWh = getenvFloatDefault("BATTERY_CAPACITY_KWH", s.CapacityKWh)
	s.Efficiency = getenvFloatDefault("BATTERY_EFFICIENCY", s.Efficiency)
	s.DefaultThreshold = getenvFloatDefault("DEFAULT_THRESHOLD", s.DefaultThreshold)
	s.UseTestDataByDefault = getenvBoolDefault("USE_TEST_DATA_BY_DEFAULT", s.UseTestDataByDefault)
	s.Prefetch.Cron = getenvDefault("PREFETCH_CRON", s.Prefetch.Cron)
	s.Prefetch.LookaheadDays = getenvIntDefault("PREFETCH_LOOKAHEAD_DAYS", s.Prefetch.LookaheadDays)
	s.Prefetch.RetentionDays = getenvIntDefault("PRICE_RETENTION_DAYS", s.Prefetch.RetentionDays)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvSeconds reads a plain integer as seconds and falls back to Go
// duration syntax ("90m").
func getenvSeconds(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return fallback
		}
		return time.Duration(seconds) * time.Second
	}
	return getenvDuration(key, fallback)
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
