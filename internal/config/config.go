package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	DBTxTimeout           time.Duration
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	NotifyChannel         string
	KafkaBrokers          string
	AuditTopic            string
	AuthSecret            string
	AccessTokenTTLMinutes int
	BusinessTimezone      string
	LowStockThreshold     int
	PackingFactor         int
	SessionPlans          map[string]int
	UnitFactors           map[string]int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	txTimeout, err := strconv.Atoi(getEnv("DB_TX_TIMEOUT_SECONDS", "10"))
	if err != nil || txTimeout < 1 {
		txTimeout = 10
	}
	lowStock, err := strconv.Atoi(getEnv("LOW_STOCK_THRESHOLD", "10"))
	if err != nil || lowStock < 0 {
		lowStock = 10
	}
	packingFactor, err := strconv.Atoi(getEnv("PACKING_FACTOR", "12"))
	if err != nil || packingFactor < 1 {
		packingFactor = 12
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		DBTxTimeout:           time.Duration(txTimeout) * time.Second,
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		NotifyChannel:         getEnv("NOTIFY_CHANNEL", "ahontrack:notifications"),
		KafkaBrokers:          os.Getenv("KAFKA_BROKERS"),
		AuditTopic:            getEnv("AUDIT_TOPIC", "ahontrack.audit"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		BusinessTimezone:      getEnv("BUSINESS_TIMEZONE", "Asia/Manila"),
		LowStockThreshold:     lowStock,
		PackingFactor:         packingFactor,
		SessionPlans:          parseFactors("SESSION_PLANS", getEnv("SESSION_PLANS", "one-time=1,monthly=30")),
		UnitFactors:           parseFactors("UNIT_FACTORS", os.Getenv("UNIT_FACTORS")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Location resolves BusinessTimezone, falling back to UTC when the zone
// database does not know it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		log.Printf("[config] WARN: unknown BUSINESS_TIMEZONE %q, using UTC", c.BusinessTimezone)
		return time.UTC
	}
	return loc
}

// parseFactors reads "name=n,name=n" pairs. Keys are lower-cased; malformed
// or non-positive entries are skipped with a warning.
func parseFactors(key string, raw string) map[string]int {
	out := make(map[string]int)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if !ok || name == "" || err != nil || n < 1 {
			log.Printf("[config] WARN: ignoring malformed %s entry %q", key, pair)
			continue
		}
		out[name] = n
	}
	return out
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
