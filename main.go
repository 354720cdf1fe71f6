package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"light-mint-service/chain"
	"light-mint-service/config"
	"light-mint-service/handlers"
	"light-mint-service/middleware"
	"light-mint-service/models"
	"light-mint-service/services"
	"light-mint-service/utils"
	"light-mint-service/workers"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database: ", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatal("failed to migrate database: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Optional Redis fan-out ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal("invalid REDIS_URL: ", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warnf("⚠️  Redis unreachable, mint events stay local: %v", err)
		}
		defer rdb.Close()
	}
	events := services.NewEventPublisher(rdb, cfg.RedisChannel)

	// --- Chain relay ---
	var (
		relay    services.MintRelay
		balances services.BalanceReader
	)
	if cfg.RelayURL != "" || cfg.RPCURL != "" {
		rc := chain.NewRelayClient(chain.RelayConfig{
			RelayURL:        cfg.RelayURL,
			RPCURL:          cfg.RPCURL,
			Token:           cfg.RelayToken,
			ContractAddress: cfg.ContractAddress,
			Timeout:         cfg.ChainTimeout,
			RatePerSecond:   cfg.RelayRatePerSec,
		})
		relay, balances = rc, rc
	} else {
		log.Warn("⚠️  RELAY_URL and RPC_URL not set, submissions and balance reads are disabled")
	}

	// --- Optional ban report archive ---
	var archiver services.ReportArchiver
	if cfg.R2Enabled() {
		r2, err := utils.NewR2Archiver(ctx, utils.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			Bucket:          cfg.R2Bucket,
			CDNBaseURL:      cfg.CDNBaseURL,
		})
		if err != nil {
			log.Fatal("failed to initialize R2 client: ", err)
		}
		archiver = r2
	}

	// --- Services ---
	audit := services.NewAuditLogger(db)
	epochs := services.NewEpochLedger(db, cfg.DefaultEpochCap)

	var scorer services.ActionScorer
	if cfg.ScoringURL != "" {
		scorer = services.NewScoringServiceClient(cfg.ScoringURL, cfg.UpstreamToken, cfg.ScoringTimeout)
	}
	lightLedger := services.NewLightLedger(db, scorer, cfg.ScoringTimeout)
	aggregator := services.NewScoreAggregator(db)
	detector := services.NewFraudDetector(db, cfg.DeviceWindow)

	orch := services.NewMintOrchestrator(db, epochs, relay, events, audit, services.MintConfig{
		Domain: chain.Domain{
			Name:              cfg.DomainName,
			Version:           cfg.DomainVersion,
			ChainID:           cfg.ChainID,
			VerifyingContract: cfg.ContractAddress,
		},
		Decimals:      cfg.TokenDecimals,
		Signers:       cfg.SignerAddresses(),
		Threshold:     cfg.SignerThreshold,
		PayloadTTL:    cfg.PayloadTTL,
		SubmitTimeout: cfg.ChainTimeout,
	})
	containment := services.NewContainmentService(db, epochs, audit, events, archiver)
	claims := services.NewClaimService(db, balances, audit, cfg.TokenDecimals)
	stream := services.NewMintEventStream(db)

	var authClient *services.AuthServiceClient
	if cfg.AuthServiceURL != "" {
		authClient = services.NewAuthServiceClient(cfg.AuthServiceURL, cfg.UpstreamToken)
	}

	// --- Background work ---
	if cfg.SyncServiceURL != "" {
		workers.NewProfileSyncWorker(db, cfg.SyncServiceURL, "/api/v1/public/profiles", cfg.UpstreamToken).Start(ctx)
	}
	if cfg.WalletServiceURL != "" {
		go workers.PollWallets(ctx, workers.NewWalletSyncClient(db, cfg.WalletServiceURL, cfg.UpstreamToken), cfg.SyncEvery)
	}
	if relay != nil {
		workers.NewReceiptWatcher(orch, relay, cfg.ReceiptPollEvery).Start(ctx)
	}
	sched, err := services.StartMintScheduler(orch, epochs)
	if err != nil {
		log.Fatal("failed to start scheduler: ", err)
	}

	// --- HTTP ---
	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	app.Use(middleware.Metrics())

	// 🔐 Only Gateway requests allowed; Prometheus scrapes /metrics directly
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken, "/metrics"))

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Origins(),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, Last-Event-ID, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(services.Registry, promhttp.HandlerOpts{})))

	handlers.SetupScoreRoutes(app, aggregator, lightLedger, detector)
	handlers.SetupMintRoutes(app, orch, claims, stream, authClient)
	handlers.SetupAdminRoutes(app, handlers.AdminDeps{
		DB:          db,
		Orch:        orch,
		Ledger:      epochs,
		Containment: containment,
		Audit:       audit,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", cfg.Port)
	log.Printf("✅ Signer set: %d addresses, threshold %d", len(cfg.SignerAddresses()), cfg.SignerThreshold)
	log.Printf("✅ CORS configured for origins: %s", cfg.Origins())

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("⚠️  HTTP shutdown: %v", err)
	}
	if err := sched.Shutdown(); err != nil {
		log.Printf("⚠️  Scheduler shutdown: %v", err)
	}
}
