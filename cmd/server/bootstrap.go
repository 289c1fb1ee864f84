package main

import (
	"github.com/openbusdata/busdq/backend/internal/config"
	"github.com/openbusdata/busdq/backend/internal/handlers"
	"github.com/openbusdata/busdq/backend/internal/models"
	"github.com/openbusdata/busdq/backend/internal/services"
	"github.com/openbusdata/busdq/backend/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	reportPipeline     *services.ReportPipeline
	sraScheduler       *services.SRAScheduler
	taskQueue          services.TaskQueue
	worker             *services.Worker
	reportHandler      *handlers.ReportHandler
	attentionHandler   *handlers.AttentionHandler
	suppressionHandler *handlers.SuppressionHandler
	revisionHandler    *handlers.RevisionHandler
	healthHandler      *handlers.HealthHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	// Initialize database
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Seed check reference data
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	// Initialize task queue (uses Redis if enabled, otherwise sync mode)
	reportPipeline := services.NewReportPipeline(models.GetDB())
	taskQueue := services.InitTaskQueue(cfg)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(reportPipeline.Process)
	}

	// Start async worker if Redis is enabled
	var worker *services.Worker
	if cfg.Redis.Enabled {
		worker = services.InitWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(reportPipeline.Process)
			worker.Start()
		}
	}

	// Nightly requires-attention recount
	sraScheduler := services.NewSRAScheduler(models.GetDB(), cfg.Flags)
	sraScheduler.StartScheduler()

	return &appServices{
		reportPipeline:     reportPipeline,
		sraScheduler:       sraScheduler,
		taskQueue:          taskQueue,
		worker:             worker,
		reportHandler:      handlers.NewReportHandler(models.GetDB(), cfg.Flags),
		attentionHandler:   handlers.NewAttentionHandler(models.GetDB(), cfg.Flags),
		suppressionHandler: handlers.NewSuppressionHandler(models.GetDB()),
		revisionHandler:    handlers.NewRevisionHandler(models.GetDB()),
		healthHandler:      handlers.NewHealthHandler(),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.sraScheduler.StopScheduler()
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
}
