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

	"github.com/joho/godotenv"

	"ahontrack/backend/internal/audit"
	"ahontrack/backend/internal/checkout"
	"ahontrack/backend/internal/config"
	"ahontrack/backend/internal/fulfillment"
	"ahontrack/backend/internal/httpapi"
	"ahontrack/backend/internal/metrics"
	"ahontrack/backend/internal/notify"
	"ahontrack/backend/internal/service"
	"ahontrack/backend/internal/store"
	"ahontrack/backend/internal/store/memory"
	pgstore "ahontrack/backend/internal/store/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("could not read .env: %v", err)
	}
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, cfg.DBTxTimeout)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatalf("postgres migration failed: %v", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	gateways := []notify.Gateway{notify.LogGateway{}}
	if cfg.RedisAddr != "" {
		redisGateway := notify.NewRedisGateway(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.NotifyChannel)
		if err := redisGateway.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), notifications go to the log only", err)
		} else {
			gateways = append(gateways, redisGateway)
			closers = append(closers, redisGateway.Close)
			log.Printf("notifications: redis channel %s", redisGateway.Channel())
		}
	} else {
		log.Println("notifications: log")
	}
	notifier := notify.NewDispatcher(gateways...)

	sinks := []audit.Sink{audit.NewRepositorySink(repo)}
	if brokers := audit.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		kafkaSink := audit.NewKafkaSink(brokers, cfg.AuditTopic)
		sinks = append(sinks, kafkaSink)
		closers = append(closers, kafkaSink.Close)
		log.Printf("audit: repository + kafka topic %s", cfg.AuditTopic)
	} else {
		log.Println("audit: repository")
	}
	auditLogger := audit.NewLogger(sinks...)

	m := metrics.New()
	loc := cfg.Location()

	checkoutEngine := checkout.NewEngine(repo, checkout.Options{
		SessionPlan:       checkout.NewSessionPlan(cfg.SessionPlans),
		LowStockThreshold: cfg.LowStockThreshold,
		Location:          loc,
		Audit:             auditLogger,
		Notifier:          notifier,
		Metrics:           m,
	})
	fulfillmentEngine := fulfillment.NewEngine(repo, fulfillment.Options{
		Units:             fulfillment.NewUnitTable(cfg.PackingFactor, cfg.UnitFactors),
		LowStockThreshold: cfg.LowStockThreshold,
		Audit:             auditLogger,
		Notifier:          notifier,
		Metrics:           m,
	})
	svc := service.New(repo, service.Options{
		Checkout:          checkoutEngine,
		Fulfillment:       fulfillmentEngine,
		Audit:             auditLogger,
		LowStockThreshold: cfg.LowStockThreshold,
		Location:          loc,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, m, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.DBTxTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("AHON TRACK backend listening on %s", cfg.Address())
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

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" && cfg.DatabaseURL != "" {
		return fmt.Errorf("ALLOWED_ORIGIN must name a specific origin when running against a database")
	}
	return nil
}
