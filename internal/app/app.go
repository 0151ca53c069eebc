// Package app provides application initialization and dependency wiring.
//
// App is the container that holds every long-lived component: the Genkit
// runtime, the database pool, the knowledge store, the retrieval engine,
// the grounding validator, the chat orchestrator, and the ingestion
// pipeline. Commands in cmd/ construct an App and pick the pieces they need.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjellm/anchor/internal/chat"
	"github.com/kjellm/anchor/internal/config"
	"github.com/kjellm/anchor/internal/embed"
	"github.com/kjellm/anchor/internal/ingest"
	"github.com/kjellm/anchor/internal/log"
	"github.com/kjellm/anchor/internal/retrieval"
	"github.com/kjellm/anchor/internal/store"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	// Core services
	Genkit       *genkit.Genkit
	Embedder     ai.Embedder
	Embed        *embed.Client
	DBPool       *pgxpool.Pool
	Store        *store.Manager
	Engine       *retrieval.Engine
	Orchestrator *chat.Orchestrator
	Pipeline     *ingest.Pipeline

	// Lifecycle management
	otelCleanup func()
	dbCleanup   func()
}

// Close gracefully shuts down all resources. Safe to call on a partially
// initialized App.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
