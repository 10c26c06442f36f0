package main

import (
	"context"

	"github.com/kvasir-auth/kvasir/backend/internal/config"
	"github.com/kvasir-auth/kvasir/backend/internal/handlers"
	"github.com/kvasir-auth/kvasir/backend/internal/models"
	"github.com/kvasir-auth/kvasir/backend/internal/services"
	"github.com/kvasir-auth/kvasir/backend/internal/utils"
	"github.com/kvasir-auth/kvasir/backend/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	cfg       *config.Config
	taskQueue services.TaskQueue
	worker    *services.Worker
	scheduler *services.MaintenanceScheduler

	auditService   *services.AuditService
	refreshService *services.RefreshTokenService
	authService    *services.AuthService
	mfaService     *services.MFAService

	authHandler    *handlers.AuthHandler
	mfaHandler     *handlers.MFAHandler
	oauthHandler   *handlers.OAuthHandler
	sessionHandler *handlers.SessionHandler
	teamHandler    *handlers.TeamHandler
	userHandler    *handlers.UserHandler
	auditHandler   *handlers.AuditLogHandler
	configHandler  *handlers.SystemConfigHandler
	healthHandler  *handlers.HealthHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	// Initialize database
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Seed default data
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	db := models.GetDB()

	auditService := services.NewAuditService(db)
	refreshService := services.NewRefreshTokenService(db, auditService, cfg.JWT.RefreshExpireDays)
	emailService := services.NewEmailService(db, &cfg.SMTP)

	// Task queue (uses Redis if enabled, otherwise sync mode)
	taskQueue := services.InitTaskQueue(cfg)

	authService := services.NewAuthService(db, &cfg.JWT, refreshService, auditService, taskQueue)
	mfaService := services.NewMFAService(db, &cfg.JWT, &cfg.MFA, refreshService, auditService)
	googleService := services.NewGoogleAuthService(db, &cfg.OAuth)
	teamService := services.NewTeamService(db)
	userService := services.NewUserAdminService(db, refreshService, auditService)
	configService := services.NewSystemConfigService(db)

	scheduler := services.NewMaintenanceScheduler(db, refreshService, auditService, taskQueue)

	sendEmail := func(ctx context.Context, t *services.EmailTask) error {
		return emailService.Send(t.To, t.Subject, t.Body)
	}
	runCleanup := func(ctx context.Context) error {
		return scheduler.RunTokenCleanup()
	}

	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetEmailProcessor(sendEmail)
		syncQueue.SetCleanupProcessor(runCleanup)
	}

	// Start async worker if Redis is enabled
	var worker *services.Worker
	if cfg.Redis.Enabled {
		worker = services.InitWorker(&cfg.Redis)
		if worker != nil {
			worker.SetEmailProcessor(sendEmail)
			worker.SetCleanupProcessor(runCleanup)
			worker.Start()
		}
	}

	scheduler.Start()

	// Create default admin user
	if err := authService.CreateAdminIfNotExists(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	return &appServices{
		cfg:            cfg,
		taskQueue:      taskQueue,
		worker:         worker,
		scheduler:      scheduler,
		auditService:   auditService,
		refreshService: refreshService,
		authService:    authService,
		mfaService:     mfaService,
		authHandler:    handlers.NewAuthHandler(authService, &cfg.Cookie),
		mfaHandler:     handlers.NewMFAHandler(mfaService, authService, &cfg.Cookie),
		oauthHandler:   handlers.NewOAuthHandler(googleService, authService, &cfg.Cookie),
		sessionHandler: handlers.NewSessionHandler(refreshService),
		teamHandler:    handlers.NewTeamHandler(teamService),
		userHandler:    handlers.NewUserHandler(userService),
		auditHandler:   handlers.NewAuditLogHandler(auditService),
		configHandler:  handlers.NewSystemConfigHandler(configService),
		healthHandler:  handlers.NewHealthHandler(),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.scheduler.Stop()
	logger.Info().Msg("Maintenance scheduler stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
}
