// -----------------------------------------------------------------------
// Last Modified: Friday, 21st August 2026 5:03:12 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/handlers"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/pipeline"
	"github.com/ternarybob/scriba/internal/prompts"
	"github.com/ternarybob/scriba/internal/queue"
	"github.com/ternarybob/scriba/internal/services/classify"
	"github.com/ternarybob/scriba/internal/services/index"
	"github.com/ternarybob/scriba/internal/services/llm"
	"github.com/ternarybob/scriba/internal/services/maintenance"
	"github.com/ternarybob/scriba/internal/services/ocr"
	badgerstorage "github.com/ternarybob/scriba/internal/storage/badger"
	"github.com/timshannon/badgerhold/v4"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	brokerDB    *badgerdb.DB
	resultStore *badgerhold.Store

	// Queue
	Broker      interfaces.Broker
	ResultStore interfaces.ResultStore
	Runtime     *queue.Runtime

	// Pipeline
	OCRService   interfaces.OCREngine
	Classifier   interfaces.Classifier
	LLMService   interfaces.LLMService
	Prompts      *prompts.Registry
	LexicalIndex interfaces.LexicalIndex
	VectorIndex  interfaces.VectorIndex
	Orchestrator *pipeline.Orchestrator

	// Maintenance
	Sweeper *maintenance.Sweeper

	// HTTP handlers
	IngestHandler *handlers.IngestHandler
	StatusHandler *handlers.StatusHandler
	HealthHandler *handlers.HealthHandler
}

// New wires the application. Index bootstrap happens here so a
// misconfigured search backend fails startup instead of the first job.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	// Storage
	brokerDB, err := badgerstorage.OpenDB(config.Broker.URL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open broker storage: %w", err)
	}
	a.brokerDB = brokerDB

	resultStore, err := badgerstorage.OpenStore(config.ResultStore.URL, logger)
	if err != nil {
		brokerDB.Close()
		return nil, fmt.Errorf("failed to open result storage: %w", err)
	}
	a.resultStore = resultStore

	// Queue
	broker, err := queue.NewBadgerBroker(brokerDB, config.Broker.QueueName, config.Broker.VisibilityTimeoutDuration(), logger)
	if err != nil {
		a.closeStorage()
		return nil, fmt.Errorf("failed to create broker: %w", err)
	}
	a.Broker = broker
	a.ResultStore = badgerstorage.NewResultStorage(resultStore, logger)

	// Pipeline adapters
	a.OCRService = ocr.NewService(&config.OCR, logger)
	a.Classifier = classify.NewService(&config.Classifier, logger)
	a.LLMService = llm.NewClient(&config.LLM, &config.Embedding, logger)
	a.LexicalIndex = index.NewMeiliIndex(&config.Lexical, logger)
	a.VectorIndex = index.NewQdrantIndex(&config.Vector, config.Embedding.Dimension, logger)

	registry, err := prompts.NewRegistry(config.Prompts.Dir, logger)
	if err != nil {
		a.closeStorage()
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}
	a.Prompts = registry

	a.Orchestrator = pipeline.NewOrchestrator(
		a.OCRService, a.Classifier, a.LLMService, a.Prompts,
		a.LexicalIndex, a.VectorIndex, config, logger,
	)
	a.Runtime = queue.NewRuntime(a.Broker, a.ResultStore, a.Orchestrator, config, logger)

	// Maintenance
	a.Sweeper = maintenance.NewSweeper(&config.Uploads, logger)

	// HTTP handlers
	a.IngestHandler = handlers.NewIngestHandler(a.Broker, config.Uploads.Dir, logger)
	a.StatusHandler = handlers.NewStatusHandler(a.ResultStore, logger)
	a.HealthHandler = handlers.NewHealthHandler(a.Broker, a.LLMService, logger)

	return a, nil
}

// Start bootstraps the indexes and launches the background workers.
func (a *App) Start(ctx context.Context) error {
	bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.LexicalIndex.EnsureIndex(bootCtx); err != nil {
		return fmt.Errorf("failed to ensure lexical index: %w", err)
	}
	if err := a.VectorIndex.EnsureCollection(bootCtx); err != nil {
		return fmt.Errorf("failed to ensure vector collection: %w", err)
	}

	if err := a.LLMService.HealthCheck(bootCtx); err != nil {
		// Inference being down degrades jobs rather than blocking
		// startup; OCR and lexical indexing still work.
		a.Logger.Warn().Err(err).Msg("LLM backend unavailable at startup")
	}

	if err := a.Sweeper.Start(); err != nil {
		return err
	}
	if err := a.Runtime.Start(ctx); err != nil {
		return err
	}

	a.Logger.Info().Msg("Application started")
	return nil
}

// Shutdown stops workers, then background services, then storage.
func (a *App) Shutdown() {
	a.Logger.Info().Msg("Shutting down application")

	if a.Runtime != nil {
		a.Runtime.Stop()
	}
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.LLMService != nil {
		a.LLMService.Close()
	}
	a.closeStorage()

	a.Logger.Info().Msg("Application stopped")
}

func (a *App) closeStorage() {
	if a.resultStore != nil {
		if err := a.resultStore.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close result storage")
		}
	}
	if a.brokerDB != nil {
		if err := a.brokerDB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close broker storage")
		}
	}
}
