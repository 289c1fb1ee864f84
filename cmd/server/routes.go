package main

import (
	"github.com/gin-gonic/gin"
	"github.com/openbusdata/busdq/backend/internal/config"
	"github.com/openbusdata/busdq/backend/internal/middleware"
	"github.com/openbusdata/busdq/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices, cfg *config.Config) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	// Rate limiter for mutating routes
	writeLimiter := middleware.NewWriteLimiter(cfg.Server)

	// Health check
	r.GET("/health", svc.healthHandler.CheckHealth)

	// API routes
	api := r.Group("/api")
	{
		// Report summary and export
		api.GET("/report-summary", svc.reportHandler.GetSummary)
		api.GET("/report-summary/export", svc.reportHandler.ExportCSV)

		// Requires attention views
		api.GET("/organisations/:id/requires-attention", svc.attentionHandler.GetRequiresAttention)
		api.GET("/organisations/:id/fares-attention", svc.attentionHandler.GetFaresAttention)

		// Mutating routes (rate limited)
		write := api.Group("", writeLimiter.Middleware())
		{
			write.POST("/observations/suppress", svc.suppressionHandler.SuppressObservation)
			write.POST("/feedback/suppress", svc.suppressionHandler.SuppressFeedback)
			write.POST("/revisions/:id/reports", svc.revisionHandler.InitialiseReport)
		}

		api.GET("/revisions/:id/reports", svc.revisionHandler.GetReport)
	}
}
