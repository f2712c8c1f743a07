package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                 string
	AllowedOrigin        string
	DatabaseURL          string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	TaxRate              float64
	QuoteValidityDays    int
	ShareSecret          string
	CartSnapshotTTLHours int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	taxRate, err := strconv.ParseFloat(getEnv("TAX_RATE", "0.18"), 64)
	if err != nil || taxRate < 0 || taxRate >= 1 {
		taxRate = 0.18
	}
	validityDays, err := strconv.Atoi(getEnv("QUOTE_VALIDITY_DAYS", "30"))
	if err != nil || validityDays < 1 || validityDays > 90 {
		validityDays = 30
	}
	snapshotTTL, err := strconv.Atoi(getEnv("CART_SNAPSHOT_TTL_HOURS", "72"))
	if err != nil || snapshotTTL < 1 {
		snapshotTTL = 72
	}

	return Config{
		Port:                 getEnv("PORT", "8080"),
		AllowedOrigin:        getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              redisDB,
		TaxRate:              taxRate,
		QuoteValidityDays:    validityDays,
		ShareSecret:          strings.TrimSpace(os.Getenv("SHARE_SECRET")),
		CartSnapshotTTLHours: snapshotTTL,
	}
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
