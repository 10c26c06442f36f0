package main

import (
	"github.com/gin-gonic/gin"
	"github.com/kvasir-auth/kvasir/backend/internal/middleware"
	"github.com/kvasir-auth/kvasir/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	// Rate limiter for the unauthenticated auth endpoints
	authLimiter := middleware.NewRateLimiter(5, 10)

	// Health check
	r.GET("/health", svc.healthHandler.CheckHealth)

	// API routes
	api := r.Group("/api")
	{
		// Auth routes (public, rate limited)
		auth := api.Group("/auth", authLimiter.Middleware())
		{
			auth.POST("/register", svc.authHandler.Register)
			auth.POST("/login", svc.authHandler.Login)
			auth.POST("/refresh", svc.authHandler.Refresh)
			auth.POST("/logout", svc.authHandler.Logout)
			auth.POST("/verify-email", svc.authHandler.VerifyEmail)
			auth.POST("/forgot-password", svc.authHandler.ForgotPassword)
			auth.POST("/reset-password", svc.authHandler.ResetPassword)
			auth.POST("/mfa/verify", svc.mfaHandler.VerifyChallenge)
			auth.GET("/google", svc.oauthHandler.GoogleLogin)
			auth.GET("/google/callback", svc.oauthHandler.GoogleCallback)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			// Auth
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.POST("/auth/logout-all", svc.authHandler.LogoutEverywhere)
			protected.POST("/auth/password", svc.authHandler.ChangePassword)
			protected.POST("/auth/verify-email/resend", svc.authHandler.ResendVerification)

			// MFA enrollment
			protected.GET("/auth/mfa", svc.mfaHandler.Status)
			protected.POST("/auth/mfa/setup", svc.mfaHandler.Setup)
			protected.POST("/auth/mfa/activate", svc.mfaHandler.Activate)
			protected.POST("/auth/mfa/disable", middleware.MFARequired(), svc.mfaHandler.Disable)
			protected.POST("/auth/mfa/backup-codes", middleware.MFARequired(), svc.mfaHandler.RegenerateBackupCodes)

			// Sessions
			protected.GET("/auth/sessions", svc.sessionHandler.List)
			protected.DELETE("/auth/sessions/:family_id", svc.sessionHandler.Revoke)

			// Teams
			protected.POST("/teams", svc.teamHandler.Create)
			protected.GET("/teams", svc.teamHandler.List)
			protected.GET("/teams/:id", svc.teamHandler.Get)
			protected.DELETE("/teams/:id", svc.teamHandler.Delete)
			protected.GET("/teams/:id/members", svc.teamHandler.Members)
			protected.POST("/teams/:id/members", svc.teamHandler.AddMember)
			protected.PUT("/teams/:id/members/:user_id", svc.teamHandler.UpdateMemberRole)
			protected.DELETE("/teams/:id/members/:user_id", svc.teamHandler.RemoveMember)
			protected.POST("/teams/:id/leave", svc.teamHandler.Leave)
			protected.POST("/teams/:id/transfer", svc.teamHandler.TransferOwnership)
		}

		// Admin only routes, write operations audited
		admin := api.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired(), middleware.AuditWrites(svc.auditService))
		{
			// Users
			admin.GET("/users", svc.userHandler.List)
			admin.PUT("/users/:id/active", svc.userHandler.SetActive)
			admin.PUT("/users/:id/role", svc.userHandler.SetRole)

			// Audit trail
			admin.GET("/audit-logs", svc.auditHandler.List)

			// System config
			admin.GET("/config/email", svc.configHandler.GetEmailConfig)
			admin.PUT("/config/email", svc.configHandler.UpdateEmailConfig)
		}
	}
}
