package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/digkill/InfographicAI/internal/alerts"
	"github.com/digkill/InfographicAI/internal/auth"
	"github.com/digkill/InfographicAI/internal/config"
	"github.com/digkill/InfographicAI/internal/database"
	"github.com/digkill/InfographicAI/internal/gemini"
	"github.com/digkill/InfographicAI/internal/httpapi"
	"github.com/digkill/InfographicAI/internal/kie"
	"github.com/digkill/InfographicAI/internal/payments"
	"github.com/digkill/InfographicAI/internal/repository"
	"github.com/digkill/InfographicAI/internal/service"
	"github.com/digkill/InfographicAI/internal/storage"
	"github.com/digkill/InfographicAI/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	notifier, closeAlerts := buildNotifier(cfg, logr)
	defer closeAlerts()

	generator, closeGenerator, err := buildGenerator(ctx, cfg, logr)
	if err != nil {
		log.Fatalf("image generator: %v", err)
	}
	defer closeGenerator()

	var store service.ArtifactStore
	if cfg.StorageEnabled() {
		uploader, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
			Private:       cfg.S3Private,
		})
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		store = uploader
	} else {
		logr.Warn("S3_BUCKET not set, generated images are stored inline")
	}

	verifier, err := payments.NewVerifier(cfg.DodoWebhookSecret)
	if err != nil {
		log.Fatalf("webhook verifier: %v", err)
	}
	dodo := payments.NewClient(payments.Config{
		APIKey:      cfg.DodoAPIKey,
		Environment: cfg.DodoEnvironment,
		ReturnURL:   cfg.DodoReturnURL,
		Timeout:     cfg.RequestTimeout,
	}, logr)

	profileRepo := repository.NewProfileRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	generationRepo := repository.NewGenerationRepository(db)
	purchaseRepo := repository.NewPurchaseRepository(db)
	packageRepo := repository.NewPackageRepository(db)
	promoRepo := repository.NewPromoRepository(db)

	ledgerService := service.NewLedgerService(db, ledgerRepo, generationRepo, logr)
	profileService := service.NewProfileService(db, profileRepo, ledgerRepo, cfg.SignupBonusCredits, logr)
	generationService := service.NewGenerationService(db, generationRepo, ledgerService, generator, store, notifier, service.GenerationConfig{
		CreditsPerGeneration: cfg.GenerationCredits,
		Timeout:              cfg.GenerationTimeout,
	}, logr)
	purchaseService := service.NewPurchaseService(purchaseRepo, ledgerService, notifier, payments.ProviderName, logr)
	packageService := service.NewPackageService(packageRepo, service.CatalogDefaults{
		File:            cfg.PackagesFile,
		Currency:        cfg.PaymentCurrency,
		PriceMinorUnits: cfg.PaymentPriceMinorUnits,
		Credits:         cfg.PaymentCreditsPerPackage,
		ProductID:       cfg.PaymentProductID,
	}, logr)
	checkoutService := service.NewCheckoutService(packageService, dodo, cfg.DefaultBillingCountry, logr)
	promoService := service.NewPromoService(db, promoRepo, ledgerService, logr)

	if err := packageService.EnsureCatalog(ctx); err != nil {
		log.Fatalf("ensure package catalog: %v", err)
	}

	// Generations left pending or processing by a previous process were cut
	// off mid-flight; refund them before taking traffic.
	if n, err := generationService.RecoverStale(ctx, 0); err != nil {
		logr.Error("stale generation recovery failed", "recovered", n, "err", err)
	} else if n > 0 {
		logr.Warn("refunded interrupted generations", "count", n)
	}

	server := httpapi.NewServer(httpapi.Config{
		Addr:            cfg.HTTPListenAddr,
		AdminUsername:   cfg.AdminUsername,
		AdminPassword:   cfg.AdminPassword,
		WriteTimeout:    cfg.GenerationTimeout + cfg.RequestTimeout,
		ShutdownTimeout: generationService.DrainTimeout() + cfg.RequestTimeout,
	}, httpapi.Deps{
		Auth:        auth.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer),
		Verifier:    verifier,
		Profiles:    profileService,
		Ledger:      ledgerService,
		Generations: generationService,
		Purchases:   purchaseService,
		Checkout:    checkoutService,
		Packages:    packageService,
		Promos:      promoService,
	}, logr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		sweepStaleGenerations(gctx, generationService, logr)
		return nil
	})
	if err := g.Wait(); err != nil {
		logr.Error("server stopped", "err", err)
	}
	logr.Info("shutdown complete")
}

// sweepStaleGenerations periodically refunds generations whose process died
// without finishing them, for deployments running several replicas.
func sweepStaleGenerations(ctx context.Context, generations *service.GenerationService, logr *slog.Logger) {
	ticker := time.NewTicker(generations.DrainTimeout())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := generations.RecoverStale(ctx, 0)
			if err != nil && !errors.Is(err, context.Canceled) {
				logr.Error("stale generation sweep failed", "recovered", n, "err", err)
				continue
			}
			if n > 0 {
				logr.Warn("refunded interrupted generations", "count", n)
			}
		}
	}
}

func buildGenerator(ctx context.Context, cfg config.Config, logr *slog.Logger) (service.ImageGenerator, func(), error) {
	switch cfg.Generator {
	case "kie":
		client := kie.NewClient(kie.Config{
			APIKey:  cfg.KIEAPIKey,
			BaseURL: cfg.KIEBaseURL,
			Model:   cfg.KIEModel,
			Timeout: cfg.RequestTimeout,
		}, logr)
		return client, func() {}, nil
	default:
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logr)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {
			if err := client.Close(); err != nil {
				logr.Warn("close gemini client", "err", err)
			}
		}, nil
	}
}

// buildNotifier always logs alerts and adds Telegram and AMQP delivery when
// configured. A channel that fails to start is skipped.
func buildNotifier(cfg config.Config, logr *slog.Logger) (service.Notifier, func()) {
	channels := alerts.Multi{alerts.NewLogNotifier(logr)}
	closers := []func(){}

	if cfg.AlertTelegramBotToken != "" && cfg.AlertTelegramChatID != 0 {
		tg, err := alerts.NewTelegramNotifier(cfg.AlertTelegramBotToken, cfg.AlertTelegramChatID, logr)
		if err != nil {
			logr.Error("telegram alerts disabled", "err", err)
		} else {
			channels = append(channels, tg)
		}
	}
	if cfg.AlertAMQPURL != "" {
		mq, err := alerts.NewAMQPNotifier(cfg.AlertAMQPURL, cfg.AlertAMQPQueue, logr)
		if err != nil {
			logr.Error("amqp alerts disabled", "err", err)
		} else {
			channels = append(channels, mq)
			closers = append(closers, func() {
				if err := mq.Close(); err != nil {
					logr.Warn("close amqp alerts", "err", err)
				}
			})
		}
	}
	return channels, func() {
		for _, c := range closers {
			c()
		}
	}
}
