package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-records-api/api/swagger"
	"github.com/noah-isme/sma-records-api/internal/handler"
	"github.com/noah-isme/sma-records-api/internal/middleware"
	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/internal/service"
	"github.com/noah-isme/sma-records-api/pkg/config"
	"github.com/noah-isme/sma-records-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-records-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-records-api/pkg/middleware/requestid"
)

type routeDeps struct {
	metrics *service.MetricsService
	auth    middleware.TokenValidator
	audit   middleware.AuditWriter
	checks  map[string]handler.Pinger

	authHandler   *handler.AuthHandler
	transfers     *handler.TransferHandler
	studentIDs    *handler.StudentIDHandler
	conflicts     *handler.ConflictHandler
	documents     *handler.DocumentHandler
	jobs          *handler.JobHandler
	notifications *handler.NotificationHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routeDeps) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	ops := handler.NewMetricsHandler(deps.metrics, deps.checks)
	r.GET("/health", ops.Health)
	r.GET("/ready", ops.Ready)
	r.GET("/metrics", ops.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", deps.authHandler.Login)
	api.GET("/documents/download",
		middleware.OptionalJWT(deps.auth),
		middleware.Audit(deps.audit, logger.Named(logr, "audit"), models.AuditActionDocumentDownload, "documents"),
		deps.documents.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.auth))
	secured.GET("/notifications", deps.notifications.List)
	secured.POST("/notifications/:id/read", deps.notifications.MarkRead)

	registrar := secured.Group("")
	registrar.Use(middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleRegistrar))

	registrar.GET("/classes/:id/transfer-targets", deps.transfers.Targets)
	registrar.POST("/class-enrollments/:id/transfer", deps.transfers.Transfer)
	registrar.POST("/class-enrollments/bulk-transfer", deps.transfers.BulkTransfer)

	registrar.GET("/students/:id/affected-records", deps.studentIDs.AffectedRecords)
	registrar.GET("/students/:id/affected-records.csv", deps.studentIDs.AffectedRecordsCSV)
	registrar.POST("/students/:id/change-id/dry-run", deps.studentIDs.DryRun)
	registrar.POST("/students/:id/change-id", deps.studentIDs.Change)
	registrar.GET("/student-id-changes", deps.studentIDs.ListChanges)
	registrar.GET("/student-id-changes/:id", deps.studentIDs.GetChange)
	registrar.POST("/student-id-changes/:id/undo", deps.studentIDs.Undo)

	registrar.GET("/timetable/conflicts", deps.conflicts.Conflicts)
	registrar.GET("/timetable/conflicts/summary", deps.conflicts.Summary)
	registrar.GET("/schedules/:id/suggestions", deps.conflicts.Suggestions)
	registrar.POST("/schedules/:id/suggestions/apply", deps.conflicts.Apply)

	registrar.POST("/documents", deps.documents.Generate)
	registrar.GET("/jobs/:id", deps.jobs.Get)
	registrar.POST("/jobs/:id/cancel", deps.jobs.Cancel)

	return r
}
