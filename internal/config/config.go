package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	TenantID              string
	TenantTZ              string
	TaxRatePercent        string
	InvoicePrefix         string
	LoyaltyPointsRate     string
	CommissionRatePercent string
	CommissionType        string
	AuthSecret            string
	AccessTokenTTLMinutes int
}

func Load() Config {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		TenantID:              getEnv("DEFAULT_TENANT_ID", "tenant-alpha"),
		TenantTZ:              getEnv("TENANT_TZ", "UTC"),
		TaxRatePercent:        getEnv("TAX_RATE_PERCENT", "10"),
		InvoicePrefix:         getEnv("INVOICE_PREFIX", "INV"),
		LoyaltyPointsRate:     getEnv("LOYALTY_POINTS_RATE", "1"),
		CommissionRatePercent: getEnv("COMMISSION_RATE", "0"),
		CommissionType:        getEnv("COMMISSION_TYPE", "percentage"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
