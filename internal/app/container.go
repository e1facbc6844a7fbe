// Package app wires configuration, infrastructure and services together.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avwx-rest/account-backend/adapter/api"
	"github.com/avwx-rest/account-backend/internal/account/application"
	"github.com/avwx-rest/account-backend/internal/account/application/subscribers"
	"github.com/avwx-rest/account-backend/internal/account/domain"
	accountBilling "github.com/avwx-rest/account-backend/internal/account/infrastructure/billing"
	"github.com/avwx-rest/account-backend/internal/account/infrastructure/captcha"
	accountMail "github.com/avwx-rest/account-backend/internal/account/infrastructure/mail"
	"github.com/avwx-rest/account-backend/internal/account/infrastructure/mailing"
	accountPersistence "github.com/avwx-rest/account-backend/internal/account/infrastructure/persistence"
	accountUsage "github.com/avwx-rest/account-backend/internal/account/infrastructure/usage"
	sharedApplication "github.com/avwx-rest/account-backend/internal/shared/application"
	"github.com/avwx-rest/account-backend/internal/shared/infrastructure/eventbus"
	"github.com/avwx-rest/account-backend/internal/shared/infrastructure/migrations"
	"github.com/avwx-rest/account-backend/internal/shared/infrastructure/outbox"
	sharedPersistence "github.com/avwx-rest/account-backend/internal/shared/infrastructure/persistence"
	"github.com/avwx-rest/account-backend/pkg/config"
	"github.com/avwx-rest/account-backend/pkg/observability"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Container holds all application dependencies.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics observability.Metrics

	// Database
	DB *pgxpool.Pool

	// Redis
	RedisClient *redis.Client

	// Repositories
	UserRepo    domain.UserRepository
	CatalogRepo domain.CatalogRepository
	OutboxRepo  outbox.Repository

	// CatalogAdmin exposes catalog writes for the admin CLI.
	CatalogAdmin *accountPersistence.PostgresCatalogRepository

	// Unit of Work
	UnitOfWork sharedApplication.UnitOfWork

	// Infrastructure
	BillingClient     domain.BillingClient
	WebhookTranslator *accountBilling.WebhookTranslator
	WebhookDeduper    api.WebhookDeduper
	Mailer            domain.Mailer
	MailingList       domain.MailingList
	Captcha           domain.CaptchaVerifier
	UsageStore        domain.UsageStore

	// Publishers
	EventPublisher eventbus.Publisher

	// Services
	TokenRegistry  *application.TokenRegistry
	AuthService    *application.AuthService
	AccountService *application.AccountService
	TokenService   *application.TokenService
	UsageService   *application.UsageService
	CatalogService *application.CatalogService
	Reconciler     *application.SubscriptionReconciler

	// Event Subscribers
	MailingSubscriber *subscribers.MailingSubscriber
	ConsumerRegistry  *eventbus.ConsumerRegistry

	// Outbox Processor
	OutboxProcessor *outbox.Processor

	// Health
	Health *observability.HealthRegistry
}

// NewContainer creates and wires all dependencies.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewInMemoryMetrics(),
	}

	// Connect to PostgreSQL
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	c.DB = pool
	logger.Info("connected to database")

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Connect to Redis (optional in development)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			if !cfg.IsDevelopment() {
				pool.Close()
				return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
			}
			logger.Warn("invalid Redis URL, usage tracking will use in-memory fallback", "error", err)
		} else {
			redisClient := redis.NewClient(opt)
			if err := redisClient.Ping(ctx).Err(); err != nil {
				if !cfg.IsDevelopment() {
					pool.Close()
					return nil, fmt.Errorf("failed to connect to Redis: %w", err)
				}
				logger.Warn("Redis not available, usage tracking will use in-memory fallback", "error", err)
			} else {
				c.RedisClient = redisClient
				logger.Info("connected to Redis")
			}
		}
	}

	if c.RedisClient != nil {
		c.UsageStore = accountUsage.NewRedisStore(c.RedisClient, cfg.UsageRetentionDays)
		c.WebhookDeduper = accountUsage.NewEventDeduper(c.RedisClient, 0)
	} else {
		c.UsageStore = accountUsage.NewMemoryStore()
		c.WebhookDeduper = accountUsage.NewMemoryDeduper()
	}

	// Create repositories
	c.UserRepo = accountPersistence.NewPostgresUserRepository(pool)
	c.CatalogAdmin = accountPersistence.NewPostgresCatalogRepository(pool)
	c.CatalogRepo = c.CatalogAdmin
	c.OutboxRepo = outbox.NewPostgresRepository(pool)
	c.UnitOfWork = sharedPersistence.NewPostgresUnitOfWork(pool)

	// Create billing infrastructure
	stripeClient := accountBilling.NewStripeClient(accountBilling.Config{
		APIKey:      cfg.StripeAPIKey,
		RootURL:     cfg.RootURL,
		CallTimeout: cfg.StripeCallTimeout,
	}, logger, c.Metrics)
	c.BillingClient = stripeClient
	c.WebhookTranslator = accountBilling.NewWebhookTranslator(cfg.StripeWebhookSecret, stripeClient)

	// Create mail infrastructure
	c.Mailer = accountMail.NewSMTPMailer(accountMail.Config{
		Host:     cfg.MailServer,
		Port:     cfg.MailPort,
		Username: cfg.MailUsername,
		Password: cfg.MailPassword,
		From:     cfg.MailSender,
	}, logger, c.Metrics)

	c.MailingList = mailing.NewClient(mailing.Config{
		APIKey: cfg.MailchimpKey,
		ListID: cfg.MailchimpListID,
	}, logger)

	c.Captcha = captcha.NewRecaptchaVerifier(captcha.Config{
		Secret: cfg.RecaptchaSecret,
	}, logger)

	// Create services
	c.TokenRegistry = application.NewTokenRegistry(c.UserRepo, logger, c.Metrics)
	c.AuthService = application.NewAuthService(
		c.UserRepo,
		c.CatalogRepo,
		c.TokenRegistry,
		c.Mailer,
		c.Captcha,
		c.OutboxRepo,
		c.UnitOfWork,
		application.AuthConfig{
			JWTSecret:       []byte(cfg.JWTSecret),
			JWTLifetime:     cfg.JWTLifetime,
			MailTokenExpiry: cfg.MailTokenExpiry,
			RootURL:         cfg.RootURL,
		},
		logger,
		c.Metrics,
	)
	c.AccountService = application.NewAccountService(c.UserRepo, c.BillingClient, c.OutboxRepo, c.UnitOfWork, logger)
	c.TokenService = application.NewTokenService(c.UserRepo, c.TokenRegistry, c.OutboxRepo, c.UnitOfWork, logger)
	c.UsageService = application.NewUsageService(c.UserRepo, c.UsageStore, cfg.UsageRetentionDays, logger, c.Metrics)
	c.CatalogService = application.NewCatalogService(c.CatalogRepo)
	c.Reconciler = application.NewSubscriptionReconciler(
		c.UserRepo,
		c.CatalogRepo,
		c.BillingClient,
		c.Mailer,
		c.TokenRegistry,
		c.OutboxRepo,
		c.UnitOfWork,
		logger,
		c.Metrics,
	)

	// Create event subscribers
	c.MailingSubscriber = subscribers.NewMailingSubscriber(c.MailingList, logger)
	c.ConsumerRegistry = eventbus.NewConsumerRegistry(logger)
	c.ConsumerRegistry.Register(c.MailingSubscriber)

	// Create event publisher
	publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
	if err != nil {
		// Fall back to the in-process bus in development so outbox events
		// still reach subscribers without a broker.
		if cfg.IsDevelopment() {
			logger.Warn("RabbitMQ not available, dispatching events in process")
			bus := eventbus.NewInProcessEventBus(logger)
			bus.RegisterConsumer(c.MailingSubscriber)
			c.EventPublisher = bus
		} else {
			pool.Close()
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
	} else {
		c.EventPublisher = publisher
	}

	// Create outbox processor
	processorConfig := outbox.ProcessorConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxRetries:   cfg.OutboxMaxRetries,
	}
	c.OutboxProcessor = outbox.NewProcessor(c.OutboxRepo, c.EventPublisher, processorConfig, logger)

	// Register health checks for the external dependencies actually in use
	c.Health = observability.NewHealthRegistry()
	c.Health.Register("database", observability.DatabaseHealthChecker(pool.Ping))
	if c.RedisClient != nil {
		c.Health.Register("redis", observability.RedisHealthChecker(func(ctx context.Context) error {
			return c.RedisClient.Ping(ctx).Err()
		}))
	}
	if rmq, ok := c.EventPublisher.(*eventbus.RabbitMQPublisher); ok {
		c.Health.Register("rabbitmq", observability.RabbitMQHealthChecker(func(context.Context) error {
			return rmq.Healthy()
		}))
	}

	return c, nil
}

// APIHandler builds the HTTP handler over the wired services.
func (c *Container) APIHandler() *api.Handler {
	return api.NewHandler(api.HandlerConfig{
		Auth:             c.AuthService,
		Accounts:         c.AccountService,
		Tokens:           c.TokenService,
		Usage:            c.UsageService,
		Catalog:          c.CatalogService,
		Reconciler:       c.Reconciler,
		Billing:          c.BillingClient,
		Webhooks:         c.WebhookTranslator,
		Deduper:          c.WebhookDeduper,
		AckUnknownEvents: c.Config.WebhookAckUnknown,
		Logger:           c.Logger,
		Metrics:          c.Metrics,
	})
}

// Close cleans up all resources.
func (c *Container) Close() {
	if c.OutboxProcessor != nil {
		c.OutboxProcessor.Stop()
	}

	if publisher, ok := c.EventPublisher.(*eventbus.RabbitMQPublisher); ok {
		if err := publisher.Close(); err != nil {
			c.Logger.Warn("error closing event publisher", "error", err)
		}
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("error closing Redis client", "error", err)
		}
	}

	if c.DB != nil {
		c.DB.Close()
	}

	c.Logger.Info("container closed")
}
