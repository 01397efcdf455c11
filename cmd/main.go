/**
 * @description
 * This is the main entry point for the payout-service. It loads configuration, picks the
 * payout store (PostgreSQL when DATABASE_URL is set, in-memory otherwise), connects the
 * optional Redis rate limiter and RabbitMQ producer/consumer, starts the callback
 * dispatcher and the resume scheduler, and serves the HTTP API until SIGINT/SIGTERM.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Submission rate limiting.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/callback: Outbound callback delivery.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/payout-service/internal/api"
	"github.com/transfa/payout-service/internal/app"
	"github.com/transfa/payout-service/internal/config"
	"github.com/transfa/payout-service/internal/store"
	"github.com/transfa/payout-service/pkg/callback"
	rmrabbit "github.com/transfa/payout-service/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"starting payout-service\" port=%s", cfg.ServerPort)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// Payout store.
	var repository store.Repository
	if cfg.DatabaseURL != "" {
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
		}
		poolConfig.MaxConns = 50
		poolConfig.MinConns = 5
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, err := pgxpool.NewWithConfig(rootCtx, poolConfig)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
		}
		defer dbpool.Close()

		pgRepository := store.NewPostgresRepository(dbpool)
		schemaCtx, cancelSchema := context.WithTimeout(rootCtx, 30*time.Second)
		err = pgRepository.EnsureSchema(schemaCtx)
		cancelSchema()
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"schema setup failed\" err=%v", err)
		}
		repository = pgRepository
		log.Println("level=info component=bootstrap msg=\"database connected\"")
	} else {
		repository = store.NewMemoryRepository()
		log.Println("level=warn component=bootstrap msg=\"DATABASE_URL not set; payouts are kept in memory\"")
	}

	// Optional submission rate limiting.
	var rateLimiter app.SubmitRateLimiter
	if cfg.SubmitRateLimitPerMinute > 0 {
		if cfg.RedisURL == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; submission rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; submission rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient := redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(rootCtx, 5*time.Second)
				pingErr := redisClient.Ping(pingCtx).Err()
				cancelPing()
				if pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; submission rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
				} else {
					defer redisClient.Close()
					rateLimiter = app.NewRedisSubmitRateLimiter(redisClient, cfg.RedisRateLimitPrefix, cfg.SubmitRateLimitPerMinute, time.Minute)
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Status events. Publishing failures never block the payout lifecycle.
	var producer rmrabbit.Publisher
	if cfg.RabbitMQURL != "" {
		rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		} else {
			defer rabbitProducer.Close()
			producer = rabbitProducer
			log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		}
	}

	// Callback delivery.
	dispatcher := callback.NewDispatcher(callback.Config{
		URL:           cfg.CallbackURL,
		SigningSecret: cfg.CallbackSigningSecret,
		Workers:       cfg.CallbackWorkers,
		QueueSize:     cfg.CallbackQueueSize,
		MaxAttempts:   cfg.CallbackMaxAttempts,
		Timeout:       time.Duration(cfg.CallbackTimeoutSeconds) * time.Second,
	})
	var dispatcherWG sync.WaitGroup
	if dispatcher.Enabled() {
		dispatcherWG.Add(1)
		go func() {
			defer dispatcherWG.Done()
			dispatcher.Run(rootCtx)
		}()
	} else {
		log.Println("level=warn component=bootstrap msg=\"CALLBACK_URL not set; callbacks disabled\"")
	}

	// Validation and progression.
	directory := app.NewStaticDirectory(app.ParseCorrespondents(cfg.Correspondents))
	validator := app.NewValidator(directory, cfg.MaxAmount(), cfg.StrictRecipientPrefix)
	log.Printf("level=info component=bootstrap msg=\"correspondent directory loaded\" correspondents=%s strict_recipient_prefix=%t", strings.Join(directory.Codes(), ","), cfg.StrictRecipientPrefix)

	defaultPath, err := app.ParseProgressionPath(cfg.ProgressionDefaultPath)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"invalid PROGRESSION_DEFAULT_PATH\" err=%v", err)
	}
	paths, err := app.ParseProgressionPaths(cfg.ProgressionPaths)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"invalid PROGRESSION_PATHS\" err=%v", err)
	}

	payoutService := app.NewService(repository, validator, dispatcher, producer, app.ServiceOptions{
		CreatedOffset:    time.Duration(cfg.CreatedOffsetSeconds) * time.Second,
		ReceivedOffset:   time.Duration(cfg.ReceivedOffsetSeconds) * time.Second,
		EventsExchange:   cfg.EventsExchange,
		CallbackStatuses: cfg.CallbackStatusList(),
		Progression: app.ProgressionPolicy{
			StepDelay:   time.Duration(cfg.ProgressionStepDelayMs) * time.Millisecond,
			DefaultPath: defaultPath,
			Paths:       paths,
		},
	})

	// Correspondent status updates from the broker.
	if cfg.RabbitMQURL != "" {
		rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; correspondent updates disabled\" err=%v", err)
		} else {
			defer rabbitConsumer.Close()
			statusConsumer := app.NewCorrespondentStatusConsumer(payoutService)
			bindings := map[string]func([]byte) bool{
				app.CorrespondentStatusRoutingKey: statusConsumer.HandleMessage,
			}
			if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.CorrespondentEventQueue, bindings); err != nil {
				log.Fatalf("level=fatal component=bootstrap msg=\"correspondent consumer start failed\" err=%v", err)
			}
		}
	}

	// Resume payouts left in flight by a previous process.
	scheduler := app.NewScheduler(
		app.NewResumeJob(payoutService, time.Duration(cfg.ResumeStaleAfterSeconds)*time.Second),
		cfg.ResumeJobSchedule,
	)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler start failed\" err=%v", err)
	}

	handlers := api.NewPayoutHandlers(payoutService)
	router := api.PayoutRoutes(handlers, api.RouterOptions{
		JWTSecret:      cfg.APIJWTSecret,
		AllowedOrigins: cfg.AllowedOrigins(),
		RateLimiter:    rateLimiter,
	})

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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	<-scheduler.Stop().Done()
	payoutService.Stop()
	cancelRoot()
	dispatcherWG.Wait()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
