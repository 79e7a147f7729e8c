/**
 * @description
 * This is the main entry point for the crowdfund-service. It initializes configuration,
 * the journal database, the Anchor transfer adapter, the message broker, the rate
 * limiter, the campaign service, the HTTP server and the cron scheduler, then wires
 * them together and starts the service.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/redis/go-redis/v9: Rate limiting store.
 * - internal/*: Service packages.
 * - pkg/anchorclient, pkg/accountclient, pkg/rabbitmq: External service clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/crowdfund-service/internal/api"
	"github.com/transfa/crowdfund-service/internal/app"
	"github.com/transfa/crowdfund-service/internal/config"
	"github.com/transfa/crowdfund-service/internal/metrics"
	"github.com/transfa/crowdfund-service/internal/scheduler"
	"github.com/transfa/crowdfund-service/internal/store"
	"github.com/transfa/crowdfund-service/pkg/accountclient"
	"github.com/transfa/crowdfund-service/pkg/anchorclient"
	rmrabbit "github.com/transfa/crowdfund-service/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	if strings.TrimSpace(cfg.AuthJWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"auth jwt secret must be configured\" env=AUTH_JWT_SECRET")
	}
	campaign := cfg.Campaign()
	if err := campaign.Validate(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"invalid campaign configuration\" err=%v", err)
	}
	if campaign.EscrowAccount == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"escrow account must be configured\" env=CAMPAIGN_ESCROW_ACCOUNT_ID")
	}

	log.Printf("level=info component=bootstrap msg=\"starting crowdfund-service\" port=%s goal_kobo=%d deadline=%s",
		cfg.ServerPort, campaign.GoalAmount, campaign.Deadline.Format(time.RFC3339))

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	var producer rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	anchorClient := anchorclient.NewClient(cfg.AnchorAPIBaseURL, cfg.AnchorAPIKey)

	// Contributor identities resolve through account-service; the beneficiary is already an account id.
	var resolver anchorclient.AccountResolver
	if strings.TrimSpace(cfg.AccountServiceURL) == "" || strings.TrimSpace(cfg.AccountServiceInternalAPIKey) == "" {
		log.Printf("level=warn component=bootstrap msg=\"account-service client not configured; contributor transfers will fail\" account_service_url_set=%t account_service_internal_key_set=%t",
			strings.TrimSpace(cfg.AccountServiceURL) != "",
			strings.TrimSpace(cfg.AccountServiceInternalAPIKey) != "",
		)
	} else {
		resolver = accountclient.NewClient(cfg.AccountServiceURL, cfg.AccountServiceInternalAPIKey)
	}
	transferer := anchorclient.NewTransferer(anchorClient, resolver, campaign.EscrowAccount, campaign.Beneficiary)

	repository := store.NewPostgresRepository(dbpool)

	campaignService, err := app.NewService(campaign, transferer, repository, producer, cfg.CampaignEventsExchange)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"campaign service init failed\" err=%v", err)
	}
	campaignMetrics := metrics.New()
	campaignService.SetMetrics(campaignMetrics)
	campaignService.ConfigureRateLimits(cfg.ContributeRateLimitPerMinute, cfg.RefundRateLimitPerMinute)

	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 30*time.Second)
	if err := campaignService.Restore(restoreCtx); err != nil {
		cancelRestore()
		log.Fatalf("level=fatal component=bootstrap msg=\"campaign restore failed\" err=%v", err)
	}
	cancelRestore()

	rateLimitingEnabled := cfg.ContributeRateLimitPerMinute > 0 || cfg.RefundRateLimitPerMinute > 0
	if rateLimitingEnabled {
		if cfg.RedisURL == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient := redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				pingErr := redisClient.Ping(pingCtx).Err()
				cancelPing()
				if pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
				} else {
					defer redisClient.Close()
					campaignService.SetRateLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix, campaignService.CampaignID()))
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	handlers := api.NewCampaignHandlers(campaignService, cfg.InternalAPIKey)

	router := chi.NewRouter()
	router.Mount("/campaign", api.CampaignRoutes(handlers, api.RouterConfig{
		JWTSecret:                cfg.AuthJWTSecret,
		AllowedOrigins:           cfg.AllowedOrigins(),
		PublicRateLimitPerMinute: cfg.PublicRateLimitPerMinute,
	}))
	router.Handle("/metrics", campaignMetrics.Handler())

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	jobs := scheduler.NewJobs(campaignService, logger)
	cronScheduler := scheduler.NewScheduler(jobs, logger, scheduler.Schedules{
		Finalize:    cfg.FinalizeJobSchedule,
		RefundSweep: cfg.RefundSweepJobSchedule,
	})
	cronScheduler.Start()
	logger.Info("scheduler started")

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	<-cronScheduler.Stop().Done()
	logger.Info("scheduler stopped gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	if err := campaignService.FlushJournal(ctx); err != nil {
		log.Printf("level=error component=bootstrap msg=\"journal flush on shutdown failed\" pending=%d err=%v", campaignService.PendingJournalEntries(), err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
