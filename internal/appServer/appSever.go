package appServer

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ds124wfegd/cca-waitlist/config"
	repository "github.com/ds124wfegd/cca-waitlist/internal/database/postgres"
	"github.com/ds124wfegd/cca-waitlist/internal/i18n"
	"github.com/ds124wfegd/cca-waitlist/internal/service"
	"github.com/ds124wfegd/cca-waitlist/internal/transport"
	"github.com/ds124wfegd/cca-waitlist/internal/worker"

	"github.com/ds124wfegd/cca-waitlist/pkg/kafka"
	"github.com/ds124wfegd/cca-waitlist/pkg/postgres"
	"github.com/ds124wfegd/cca-waitlist/pkg/rabbitMQ"
	"github.com/ds124wfegd/cca-waitlist/pkg/redis"
	"github.com/ds124wfegd/cca-waitlist/pkg/telegram"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Server struct {
	httpServer *http.Server
}

func (s *Server) Run(cfg *config.Config, handler http.Handler) error {
	s.httpServer = &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           handler,
		MaxHeaderBytes:    1 << 20,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 3 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},           // ban on outdate TLS certificate
		ErrorLog:          log.New(os.Stderr, "SERVER ERROR: ", log.LstdFlags), // os.Stderr can be replaced with ElsasticSearch in the feature
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func setupLogger(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logrus.Warnf("Unknown log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func newRateLimiter(cfg *config.Config) service.RateLimiter {
	if !cfg.RateLimit.Enabled {
		return service.NoopLimiter{}
	}

	if cfg.Redis.Enabled {
		client, err := redis.NewRedisClient(&cfg.Redis)
		if err == nil {
			logrus.Info("Using Redis rate limiter")
			return service.NewRedisLimiter(client, cfg.RateLimit.Limit, cfg.RateLimit.Window)
		}
		logrus.Errorf("Failed to connect to Redis: %v. Falling back to in-process rate limiter", err)
	}
	return service.NewLocalLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window)
}

// newSinks собирает каналы уведомлений и регистрирует проверки брокера в checks
func newSinks(cfg *config.Config, db repository.NotificationRepository, translator *i18n.Translator, checks transport.HealthChecks) ([]service.Sink, func()) {
	sinks := []service.Sink{service.NewInboxSink(db)}
	cleanup := func() {}

	if cfg.RabbitMQ.Enabled {
		mq, err := rabbitMQ.NewRabbitMQ(rabbitMQ.RabbitMQConfig{
			URL:       cfg.RabbitMQ.URL,
			QueueName: cfg.RabbitMQ.QueueName,
		})
		if err != nil {
			logrus.Errorf("Failed to initialize RabbitMQ: %v. Email notifications disabled", err)
		} else {
			sinks = append(sinks, service.NewBrokerSink(mq))
			checks["rabbitmq"] = mq.HealthCheck
			cleanup = func() {
				if err := mq.Close(); err != nil {
					logrus.Errorf("Failed to close RabbitMQ: %v", err)
				}
			}
			logrus.Info("RabbitMQ notification sink initialized")
		}
	}

	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		bot, err := telegram.NewBot(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			logrus.Errorf("Failed to initialize Telegram bot: %v", err)
		} else {
			sinks = append(sinks, service.NewOpsChatSink(bot, translator, cfg.Notifier.Locale))
			logrus.Info("Telegram ops chat sink initialized")
		}
	} else {
		logrus.Warn("Telegram bot token not provided, ops chat notifications disabled")
	}

	return sinks, cleanup
}

func NewServer(cfg *config.Config) {
	setupLogger(cfg)

	// Initialize database
	db, err := postgres.NewPostgresDB(&cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Run database migrations
	if err := postgres.RunMigrations(cfg.Database.GetDatabaseURL(), cfg.Database.MigrationsPath); err != nil {
		logrus.Fatalf("Failed to run migrations: %v", err)
	}

	checks := transport.HealthChecks{"postgres": db.Ping}

	// Initialize repositories
	waitlistRepo := repository.NewWaitlistRepository(db)
	eventStore := repository.NewEventStore(db)
	membershipStore := repository.NewMembershipStore(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// Audit log
	var producer kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	} else {
		producer = kafka.NewLogProducer(cfg.Kafka.Topic)
	}
	defer producer.Close()

	auditLog := service.NewAuditLog(producer, service.AuditConfig{
		BufferSize:  cfg.Kafka.BufferSize,
		SendTimeout: cfg.Kafka.SendTimeout,
	})
	auditLog.Start()

	// Notifications
	translator := i18n.NewTranslator(cfg.Notifier.Locale)
	sinks, closeSinks := newSinks(cfg, notificationRepo, translator, checks)
	defer closeSinks()

	dispatcher := service.NewDispatcher(service.DispatcherConfig{
		BufferSize:  cfg.Notifier.BufferSize,
		Workers:     cfg.Notifier.Workers,
		MaxRetries:  cfg.Notifier.MaxRetries,
		RetryDelay:  cfg.Notifier.RetryDelay,
		SendTimeout: cfg.Notifier.SendTimeout,
		Locale:      cfg.Notifier.Locale,
	}, translator, sinks...)
	dispatcher.Start()

	// Initialize services
	waitlistService := service.NewWaitlistService(
		waitlistRepo,
		eventStore,
		membershipStore,
		service.NewCapacityOracle(eventStore, waitlistRepo),
		dispatcher,
		auditLog,
		newRateLimiter(cfg),
		service.WaitlistOptions{PromotionWindow: cfg.Waitlist.PromotionWindow},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweepWorker := worker.NewPromotionSweepWorker(waitlistService, cfg.Worker.SweepInterval, cfg.Worker.RunOnStart)
	go sweepWorker.Start(ctx)

	// Initialize handlers
	waitlistHandler := transport.NewWaitlistHandler(waitlistService)

	if cfg.Server.Env == "production" || cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := new(Server)
	go func() {
		err := srv.Run(cfg, transport.InitRoutes(waitlistHandler, cfg.Server.RequestTimeout, checks))
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("error occured while running http server: %s", err.Error())
		}
	}()

	logrus.WithField("addr", cfg.GetServerAddress()).Print("App Started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	logrus.Print("App Shutting Down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("error occured on server shutting down: %s", err.Error())
	}

	// сначала останавливаем sweep, потом дожидаемся уведомлений
	cancel()
	dispatcher.Stop()
	auditLog.Stop()
}
