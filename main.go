package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"dice-duel/config"
	"dice-duel/dice"
	"dice-duel/engine"
	"dice-duel/handlers"
	"dice-duel/middleware"
	"dice-duel/models"
	"dice-duel/services"
	"dice-duel/utils"
	"dice-duel/workers"
)

const uploadDir = "./uploads"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := db.AutoMigrate(
		&models.WaitingRoomEntry{},
		&models.Match{},
		&models.MatchHistory{},
		&models.UserAbility{},
		&models.Loadout{},
		&models.AbilityUsage{},
	); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to reach redis")
		}
		defer rdb.Close()
	}

	clock := clockwork.NewRealClock()

	broadcaster := services.NewBroadcaster(rdb)
	if err := broadcaster.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start broadcaster")
	}

	sinks := []services.TelemetrySink{services.LogSink{}}
	if rdb != nil {
		sinks = append(sinks, services.RedisStreamSink{Client: rdb, Stream: cfg.Telemetry.Stream, MaxLen: 100_000})
	}
	telemetry := services.NewTelemetry(cfg.Telemetry.Buffer, sinks...)
	telemetry.Start(ctx)

	// Cosmetic assets live in R2 when configured, otherwise on local disk.
	var (
		signer   services.URLSigner
		uploader handlers.AssetUploader
		cdnBase  = cfg.R2.CDNBaseURL
	)
	if cfg.R2.Enabled() {
		r2, err := utils.NewR2(ctx, cfg.R2)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize R2 client")
		}
		signer, uploader = r2, r2
		if cdnBase == "" {
			cdnBase = strings.TrimSuffix(r2.PublicURL(""), "/")
		}
	} else {
		local, err := utils.NewLocalStore(uploadDir, "/uploads")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to ensure upload dir")
		}
		uploader = local
		cdnBase = local.URLPrefix
	}
	cosmetics := services.NewCosmeticService(services.DefaultCosmetics, cdnBase, signer)

	roller, err := dice.NewSeededRoller()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to seed dice")
	}
	seed, err := dice.NewSeed()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to seed bots")
	}

	abilities := services.NewAbilityService(db, cfg.Match.LoadoutStarBudget)
	matches := services.NewMatchService(services.MatchDeps{
		Store: services.NewMatchStore(db, cfg.Match.CASAttempts),
		Resolver: engine.NewResolver(engine.Rules{
			StartingAura: cfg.Match.StartingAura,
			AuraPerBank:  cfg.Match.AuraPerBank,
		}),
		Roller:      roller,
		Abilities:   abilities,
		Broadcaster: broadcaster,
		Telemetry:   telemetry,
		Clock:       clock,
		RollSettle:  cfg.Match.RollSettle,
	})

	queue := services.NewQueueService(db, matches, services.NewBotFactory(seed), cosmetics, clock, services.QueueConfig{
		ScanInterval:   cfg.Queue.ScanInterval,
		BotFillTimeout: cfg.Queue.BotFillTimeout,
		SettleDelay:    cfg.Queue.SettleDelay,
	})
	if err := queue.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start queue")
	}

	if cfg.Bots.Enabled {
		services.NewBotDriver(matches, clock, cfg.Bots.TurnDelay, cfg.Bots.BankAt, seed+1).Start(ctx)
	}

	workers.NewMatchMaintenanceWorker(matches, clock, cfg.Match.MaintenanceEvery, cfg.Match.StaleRollAfter).Start(ctx)

	stream := services.NewMatchStream(matches, clock, cfg.Stream.GraceWindow, cfg.Stream.PollInterval)

	var validator middleware.TokenValidator
	if cfg.AuthServiceURL != "" {
		validator = services.NewAuthServiceClient(cfg.AuthServiceURL, cfg.GameServiceToken)
	}

	app := fiber.New(fiber.Config{
		BodyLimit:    64 * 1024 * 1024,
		ErrorHandler: handlers.ErrorHandler,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Idempotency-Key, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// 🔐 Only Gateway requests, except streams which authenticate players themselves
	app.Use(middleware.GatewayAuthMiddleware(cfg.GameServiceToken, middleware.StreamPaths))

	handlers.SetupHealthRoutes(app)
	handlers.SetupStreamRoutes(app, stream, middleware.StreamAuthMiddleware(cfg.GameServiceToken, validator))

	if !cfg.R2.Enabled() {
		app.Static("/uploads", uploadDir)
	}

	secured := app.Group("/", middleware.UserContextMiddleware())
	handlers.SetupQueueRoutes(secured, queue)
	handlers.SetupMatchRoutes(secured, matches)
	handlers.SetupAbilityRoutes(secured, abilities)
	handlers.SetupCosmeticRoutes(secured, cosmetics, uploader)

	go func() {
		if err := app.Listen(cfg.Port); err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}()

	log.Info().Str("addr", cfg.Port).Msg("✅ Server running")
	log.Info().Strs("origins", cfg.AllowedOrigins).Msg("✅ CORS configured")
	log.Info().Bool("redis", rdb != nil).Bool("r2", cfg.R2.Enabled()).Bool("bots", cfg.Bots.Enabled).Msg("✅ Match services running")

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
