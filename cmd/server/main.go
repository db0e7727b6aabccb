package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"outletcash/backend/internal/config"
	"outletcash/backend/internal/deposit"
	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/httpapi"
	"outletcash/backend/internal/logging"
	"outletcash/backend/internal/notify"
	"outletcash/backend/internal/service"
	"outletcash/backend/internal/snapshot"
	"outletcash/backend/internal/store"
	"outletcash/backend/internal/store/memory"
	pgstore "outletcash/backend/internal/store/postgres"
	"outletcash/backend/internal/timeutil"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("invalid logging configuration: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	caps := config.AllCapabilities()
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				logger.Fatal("schema migration failed", zap.Error(err))
			}
			logger.Info("schema migrated")
		}
		if caps, err = pg.DetectCapabilities(ctx); err != nil {
			logger.Fatal("schema inspection failed", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres",
			zap.Bool("closing_waste_column", caps.ClosingWasteColumn),
			zap.Bool("deposit_verify_payload", caps.DepositVerifyPayload))
	} else {
		adminPIN, staffPIN := memory.SeedPINs()
		if err := validateSeedPINs(adminPIN, staffPIN); err != nil {
			logger.Fatal("invalid seed PIN", zap.Error(err))
		}
		if memory.UsesDefaultPINs() {
			logger.Warn("in-memory repository is using demo PINs; set SEED_ADMIN_PIN and SEED_ATTENDANT_PIN")
		}
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	var snapshots snapshot.Store = snapshot.NewMemoryStore()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, keeping snapshots in memory", zap.Error(err))
			_ = client.Close()
		} else {
			snapshots = snapshot.NewRedisStore(client)
			closers = append(closers, client.Close)
			logger.Info("snapshots: redis")
		}
	} else {
		logger.Info("snapshots: memory")
	}
	if cfg.Archive.Enabled() {
		client, err := snapshot.NewS3Client(ctx, cfg.Archive)
		if err != nil {
			logger.Warn("snapshot archive disabled", zap.Error(err))
		} else {
			snapshots = snapshot.NewS3Mirror(snapshots, client, cfg.Archive.Bucket, logger)
			logger.Info("snapshots: mirrored to object storage", zap.String("bucket", cfg.Archive.Bucket))
		}
	}

	var sender notify.Sender
	if cfg.WhatsApp.APIURL != "" {
		sender = notify.NewWhatsAppSender(cfg.WhatsApp.APIURL, cfg.WhatsApp.APIToken)
	}
	notifier := notify.NewNotifier(sender, logger)

	var verifier deposit.Verifier
	if cfg.Deposit.VerificationEnabled() {
		verifier = deposit.NewHTTPVerifier(cfg.Deposit.VerifyURL, cfg.Deposit.VerifyToken, cfg.Deposit.VerifyTimeout)
		logger.Info("deposit verification enabled")
	}

	loc := timeutil.LoadLocation(cfg.BusinessTimezone)
	svc := service.New(repo, snapshots, service.Options{
		Verifier: verifier,
		Notifier: notifier,
		Scoped:   domain.NewScopedOutlets(cfg.ScopedOutlets),
		Location: loc,
		Logger:   logger,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Capabilities:  caps,
		Location:      loc,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("outlet cash backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	notifier.Wait()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.Deposit.VerificationEnabled() && cfg.Deposit.VerifyToken == "" {
		return fmt.Errorf("DEPOSIT_VERIFY_TOKEN must be set when DEPOSIT_VERIFY_URL is used")
	}
	return nil
}

// validateSeedPINs checks the PINs provided for the in-memory demo accounts.
// Empty values fall back to the demo defaults and are reported separately.
func validateSeedPINs(pins ...string) error {
	for _, pin := range pins {
		if pin == "" {
			continue
		}
		if len(pin) < 4 {
			return fmt.Errorf("seed PIN must be at least 4 digits")
		}
		if err := validatePINStrength(pin); err != nil {
			return fmt.Errorf("seed PIN is too weak: %w", err)
		}
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"1234": true, "4321": true, "1212": true, "2580": true,
		"123456": true, "654321": true, "121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
