package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/cache"
	"tillpoint/backend/internal/cart"
	"tillpoint/backend/internal/config"
	"tillpoint/backend/internal/httpapi"
	"tillpoint/backend/internal/invoice"
	"tillpoint/backend/internal/loyalty"
	"tillpoint/backend/internal/service"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/store/memory"
	pgstore "tillpoint/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		} else {
			repo = pg
			closers = append(closers, pg.Close)
			log.Println("repository: postgres")
		}
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	itemCache := cache.ItemCache(cache.NoopItemCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisItemCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			itemCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	tenantLoc, err := time.LoadLocation(cfg.TenantTZ)
	if err != nil {
		log.Printf("invalid TENANT_TZ %q (%v), falling back to UTC", cfg.TenantTZ, err)
		tenantLoc = time.UTC
	}

	agg := cart.NewAggregator(mustDecimal(cfg.TaxRatePercent, "TAX_RATE_PERCENT"))
	allocator := invoice.New(cfg.InvoicePrefix, repo, tenantLoc)
	hooks := loyalty.New(repo,
		mustDecimal(cfg.LoyaltyPointsRate, "LOYALTY_POINTS_RATE"),
		mustDecimal(cfg.CommissionRatePercent, "COMMISSION_RATE"),
		cfg.CommissionType)

	svc := service.New(repo, agg, allocator, hooks, itemCache, cfg.TenantID)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("POS backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func mustDecimal(raw string, name string) decimal.Decimal {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		log.Fatalf("invalid %s %q: %v", name, raw, err)
	}
	return value
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
