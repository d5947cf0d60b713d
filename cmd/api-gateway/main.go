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

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/handler"
	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/internal/repository"
	"github.com/noah-isme/sma-records-api/internal/service"
	"github.com/noah-isme/sma-records-api/pkg/cache"
	"github.com/noah-isme/sma-records-api/pkg/config"
	"github.com/noah-isme/sma-records-api/pkg/database"
	"github.com/noah-isme/sma-records-api/pkg/jobs"
	"github.com/noah-isme/sma-records-api/pkg/logger"
	"github.com/noah-isme/sma-records-api/pkg/mailer"
	"github.com/noah-isme/sma-records-api/pkg/storage"
)

// @title SMA Records API
// @version 1.0.0
// @description Registrar back office: section transfers, student ID renumbering and timetable conflicts
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const (
	queueBuffer      = 256
	jobRetention     = 24 * time.Hour
	housekeepingTick = time.Hour
	shutdownTimeout  = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	var redisClient redis.UniversalClient
	if client, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
	} else {
		redisClient = client
		defer client.Close()
	}

	users := repository.NewUserRepository(db)
	students := repository.NewStudentRepository(db)
	classes := repository.NewClassRepository(db)
	enrollments := repository.NewClassEnrollmentRepository(db)
	subjects := repository.NewSubjectEnrollmentRepository(db)
	references := repository.NewStudentReferenceRepository(db)
	changeLogs := repository.NewChangeLogRepository(db)
	schedules := repository.NewScheduleRepository(db)
	rooms := repository.NewRoomRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	people := repository.NewPersonRepository(db)
	notifications := repository.NewNotificationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logger.Named(logr, "cache"))

	metrics := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Academic.CacheTTL, logger.Named(logr, "cache"), redisClient != nil)
	settings := service.NewSettingsService(settingsRepo, cacheSvc,
		models.AcademicPeriod{SchoolYear: cfg.Academic.SchoolYear, Semester: cfg.Academic.Semester},
		cfg.Academic.CacheTTL, logger.Named(logr, "settings"))
	resolver := service.NewPersonResolver(students, people)

	notifier := service.NewNotificationService(notifications, newMailer(cfg.Mail, logr), resolver, cfg.Mail.SubjectPrefix, logger.Named(logr, "notifications"))

	authSvc := service.NewAuthService(users, validator.New(), logger.Named(logr, "auth"), service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	transfers := service.NewSectionTransferService(enrollments, classes, subjects, students, db, logger.Named(logr, "transfers"),
		service.WithTransferCache(cacheSvc, cfg.Transfers.TargetsCacheTTL),
		service.WithTransferMetrics(metrics),
		service.WithTransferAudit(users),
		service.WithBulkLimit(cfg.Transfers.BulkMaxItems),
	)

	studentIDs := service.NewStudentIDService(students, references, changeLogs, settings, db, service.StudentIDPolicy{
		MinID:                cfg.StudentIDs.MinID,
		MaxID:                cfg.StudentIDs.MaxID,
		EnrollmentThreshold:  cfg.StudentIDs.EnrollmentWarnThreshold,
		TransactionThreshold: cfg.StudentIDs.TransactionWarnThresh,
		RecentWindow:         cfg.StudentIDs.RecentTransactionWindow,
		OptionalTables:       cfg.StudentIDs.OptionalTables,
	}, logger.Named(logr, "student-ids"),
		service.WithStudentIDMetrics(metrics),
		service.WithStudentIDAudit(users),
	)

	conflicts := service.NewTimetableConflictService(schedules, enrollments, settings, cacheSvc, cfg.Jobs.ConflictTTL, metrics, logger.Named(logr, "conflicts"))
	resolution := service.NewConflictResolutionService(schedules, schedules, rooms, enrollments, db, logger.Named(logr, "resolution"),
		service.WithResolutionAudit(users),
		service.WithConflictInvalidation(conflicts),
	)

	documentStore, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare document storage", zap.Error(err))
	}
	registry := jobs.NewRegistry()
	documents := service.NewDocumentService(
		service.DocumentSources{Students: students, Subjects: subjects, Changes: changeLogs, Conflicts: conflicts, Periods: settings},
		documentStore,
		storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL),
		nil, nil,
		service.DocumentConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Documents.SignedURLTTL},
		logger.Named(logr, "documents"),
		service.WithDocumentAudit(users),
		service.WithDocumentJobs(registry, notifier, metrics),
	)

	transferJobs := service.NewTransferJobService(transfers, registry, notifier, metrics, logger.Named(logr, "transfer-jobs"))
	studentIDJobs := service.NewStudentIDJobService(studentIDs, registry, notifier, metrics, logger.Named(logr, "student-id-jobs"))

	queues := []*jobs.Queue{
		newQueue(service.QueueTransfers, cfg.Jobs.Transfers, transferJobs.Handle, transferJobs.Failed, registry, logr),
		newQueue(service.QueueStudentIDs, cfg.Jobs.StudentIDs, studentIDJobs.Handle, studentIDJobs.Failed, registry, logr),
		newQueue(service.QueueDocuments, cfg.Jobs.Documents, documents.Handle, documents.Failed, registry, logr),
	}
	transferJobs.UseQueue(queues[0])
	studentIDJobs.UseQueue(queues[1])
	documents.UseQueue(queues[2])
	for _, q := range queues {
		q.Start(ctx)
	}

	documents.StartCleanup(ctx, housekeepingTick)
	go pruneJobs(ctx, registry, logr)

	checks := map[string]handler.Pinger{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = cacheRepo.Ping
	}

	router := newRouter(cfg, logr, routeDeps{
		metrics:       metrics,
		auth:          authSvc,
		audit:         users,
		checks:        checks,
		authHandler:   handler.NewAuthHandler(authSvc),
		transfers:     handler.NewTransferHandler(transfers, transferJobs),
		studentIDs:    handler.NewStudentIDHandler(studentIDs, studentIDJobs, documents),
		conflicts:     handler.NewConflictHandler(conflicts, resolution),
		documents:     handler.NewDocumentHandler(documents),
		jobs:          handler.NewJobHandler(service.NewJobService(registry)),
		notifications: handler.NewNotificationHandler(notifier),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown failed", zap.Error(err))
	}
	for _, q := range queues {
		q.Stop()
	}
	logr.Info("server stopped")
}

func newMailer(cfg config.MailConfig, logr *zap.Logger) mailer.Mailer {
	if !cfg.Enabled || cfg.SendgridKey == "" {
		return mailer.NewLogMailer(logger.Named(logr, "mailer"))
	}
	return mailer.NewSendgridMailer(mailer.SendgridConfig{
		APIKey:        cfg.SendgridKey,
		FromName:      cfg.FromName,
		FromAddress:   cfg.FromAddress,
		SubjectPrefix: cfg.SubjectPrefix,
	}, logger.Named(logr, "mailer"))
}

func newQueue(name string, cfg config.QueueConfig, handle jobs.Handler, failed jobs.FailedHandler, registry *jobs.Registry, logr *zap.Logger) *jobs.Queue {
	return jobs.NewQueue(name, handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: queueBuffer,
		MaxTries:   cfg.MaxTries,
		RetryDelay: cfg.RetryDelay,
		Timeout:    cfg.Timeout,
		OnFailed:   failed,
		Registry:   registry,
		Logger:     logger.Named(logr, "jobs."+name),
	})
}

func pruneJobs(ctx context.Context, registry *jobs.Registry, logr *zap.Logger) {
	ticker := time.NewTicker(housekeepingTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := registry.Prune(jobRetention); n > 0 {
				logr.Debug("pruned finished jobs", zap.Int("count", n))
			}
		}
	}
}
