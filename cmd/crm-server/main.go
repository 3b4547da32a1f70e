package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"consulting-crm/internal/access"
	"consulting-crm/internal/api"
	crmaws "consulting-crm/internal/common/aws"
	"consulting-crm/internal/common/camunda"
	"consulting-crm/internal/common/config"
	"consulting-crm/internal/common/database"
	crmerrors "consulting-crm/internal/common/errors"
	"consulting-crm/internal/common/logger"
	"consulting-crm/internal/common/observability"
	"consulting-crm/internal/common/validation"
	"consulting-crm/internal/models"
	"consulting-crm/internal/notification"
	"consulting-crm/internal/reporting"
	"consulting-crm/internal/storage/postgres"
	"consulting-crm/internal/workflow"

	at "consulting-crm/internal/workers/application/apply-transition"
	car "consulting-crm/internal/workers/application/create-application-record"
	sn "consulting-crm/internal/workers/application/send-notification"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			fields := map[string]interface{}{
				"error":       err,
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			}
			if stdErr, ok := crmerrors.AsStandard(err); ok {
				fields["details"] = stdErr.Details
			}
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), fields)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
	})

	log.Info("starting crm server", map[string]interface{}{"environment": cfg.App.Environment})

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		log.Warn("observability init failed, request metrics disabled", map[string]interface{}{"error": err})
	}

	ctx := context.Background()

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, log, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Database.Postgres.AutoMigrate {
		if err := pg.Migrate(ctx, postgres.Schema); err != nil {
			zapLog.Fatal("schema migration failed", zap.Error(err))
		}
		log.Info("schema applied", nil)
	}

	// --- Redis ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, log, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()

	checks := map[string]api.HealthCheck{
		"postgres": pg.Ping,
		"redis":    redis.Ping,
	}

	// --- Elasticsearch (optional) ---
	var indexer *reporting.Indexer
	if cfg.Database.Elasticsearch.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 5, 2*time.Second, log, "Elasticsearch connection")
		if err != nil {
			log.Warn("reporting index disabled", map[string]interface{}{"error": err})
		} else {
			indexer = reporting.NewIndexer(esClient.Client, cfg.Database.Elasticsearch.Index)
			if err := indexer.EnsureIndex(ctx); err != nil {
				log.Warn("could not ensure reporting index", map[string]interface{}{"error": err})
			}
			checks["elasticsearch"] = esClient.Ping
		}
	}

	// --- Workflow engine (optional) ---
	var zeebe *camunda.Client
	var publisher notification.Publisher
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClient(cfg.Camunda.BrokerAddress, config.GetDuration(cfg.Camunda.RequestTimeout))
			return err
		}, 10, 2*time.Second, log, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		publisher = notification.NewProcessPublisher(zeebe)
		checks["zeebe"] = zeebe.HealthCheck
	}

	// --- Domain services ---
	store := postgres.New(pg.DB)
	filter := access.NewFilter(log)
	dispatcher := notification.NewDispatcher(store, publisher, log)

	opts := []workflow.Option{workflow.WithChannels(notification.Channels{
		Staff:  models.NotificationChannel(strings.ToUpper(cfg.Workflow.DefaultChannel)),
		Client: models.NotificationChannel(strings.ToUpper(cfg.Workflow.ClientChannel)),
	})}
	if indexer != nil {
		opts = append(opts, workflow.WithIndexer(indexer))
	}
	service := workflow.NewService(store, store, store, filter, dispatcher, log, opts...)
	validator := validation.NewWorkflowValidator()

	// --- Workers ---
	var workers []*camunda.Worker
	if zeebe != nil {
		workers = startWorkers(ctx, cfg, zeebe.GetClient(), service, store, redis, validator, log)
	}

	// --- HTTP ---
	var recorder api.RequestRecorder
	if obs != nil {
		recorder = obs
	}
	server := api.NewServer(service, validator, log, api.Options{
		JWTSecret: cfg.Auth.JWTSecret,
		Issuer:    cfg.Auth.Issuer,
		Version:   cfg.App.Version,
		Recorder:  recorder,
		Checks:    checks,
		Inbox:     store,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      server.Router(),
		ReadTimeout:  config.GetDuration(cfg.HTTP.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.HTTP.WriteTimeout),
	}

	go func() {
		log.Info("http server listening", map[string]interface{}{"address": cfg.HTTP.Address})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.HTTP.ShutdownTimeout))
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", map[string]interface{}{"error": err})
	}
	for _, w := range workers {
		log.Debug("draining worker", map[string]interface{}{"taskType": w.TaskType()})
		w.Stop(shutdownCtx)
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			log.Error("error closing zeebe client", map[string]interface{}{"error": err})
		}
	}
	if obs != nil {
		if err := obs.Shutdown(shutdownCtx); err != nil {
			log.Warn("observability shutdown failed", map[string]interface{}{"error": err})
		}
	}

	log.Info("crm server stopped", nil)
}

func startWorkers(
	ctx context.Context,
	cfg *config.Config,
	client zbc.Client,
	service *workflow.Service,
	store *postgres.Store,
	redis *database.RedisClient,
	validator *validation.Validator,
	log logger.Logger,
) []*camunda.Worker {
	var workers []*camunda.Worker

	if config.IsWorkerEnabled(cfg, at.TaskType) {
		handler := at.NewHandler(at.LoadConfig(cfg), service, validator, log)
		workers = append(workers, startWorker(client, cfg, at.TaskType, handler, log))
	}

	if config.IsWorkerEnabled(cfg, car.TaskType) {
		handler := car.NewHandler(car.LoadConfig(cfg), service, validator, log)
		workers = append(workers, startWorker(client, cfg, car.TaskType, handler, log))
	}

	if config.IsWorkerEnabled(cfg, sn.TaskType) {
		var mailer sn.EmailSender
		var texter sn.SMSSender

		if cfg.Notifications.Email.Enabled {
			m, err := crmaws.NewSESMailer(ctx, cfg.Notifications.AWS.Region, cfg.Notifications.Email.FromEmail)
			if err != nil {
				log.Error("ses mailer unavailable, email delivery disabled", map[string]interface{}{"error": err})
			} else {
				mailer = m
			}
		}
		if cfg.Notifications.SMS.Enabled {
			t, err := crmaws.NewSNSTexter(ctx, cfg.Notifications.AWS.Region, cfg.Notifications.SMS.SenderID)
			if err != nil {
				log.Error("sns texter unavailable, sms delivery disabled", map[string]interface{}{"error": err})
			} else {
				texter = t
			}
		}

		lock := notification.NewDeliveryLock(redis.Client, config.GetDuration(config.GetWorkerConfig(cfg, sn.TaskType).Timeout))
		handler := sn.NewHandler(sn.LoadConfig(cfg), store, store, mailer, texter, log, sn.WithDeliveryLock(lock))
		workers = append(workers, startWorker(client, cfg, sn.TaskType, handler, log))
	}

	return workers
}

func startWorker(client zbc.Client, cfg *config.Config, taskType string, handler camunda.JobHandler, log logger.Logger) *camunda.Worker {
	wcfg := config.GetWorkerConfig(cfg, taskType)
	w := camunda.NewWorker(client, taskType, wcfg.MaxJobsActive, config.GetDuration(wcfg.Timeout), handler, log)

	log.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeout_ms":    wcfg.Timeout,
	})
	return w
}
