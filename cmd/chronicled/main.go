// Command chronicled runs the Chronicle memory daemon: it wires the
// configuration, stores, LLM clients, memory engine, note importer and HTTP
// server together and serves until interrupted.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/scrypster/chronicle/internal/config"
	"github.com/scrypster/chronicle/internal/engine"
	"github.com/scrypster/chronicle/internal/extract"
	"github.com/scrypster/chronicle/internal/importer"
	"github.com/scrypster/chronicle/internal/llm"
	"github.com/scrypster/chronicle/internal/server"
	"github.com/scrypster/chronicle/internal/storage/postgres"
	"github.com/scrypster/chronicle/internal/storage/sqlite"
)

func main() {
	// The graph and interaction log always live in SQLite; open it first so
	// persisted instance settings are available to the config.
	baseCfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(baseCfg.Storage.DataPath, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	store, err := sqlite.NewStore(filepath.Join(baseCfg.Storage.DataPath, "chronicle.db"))
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	cfg, err := config.LoadConfigFromDB(store.GetDB())
	if err != nil {
		log.Fatalf("Failed to load config from database: %v", err)
	}

	stores := engine.Stores{
		Graph:        store,
		Interactions: store,
		Items:        store,
		Embeddings:   store,
	}

	// Memory items can optionally live in Postgres for native vector search.
	if cfg.Storage.StorageEngine == "postgres" {
		pgStore, err := postgres.NewStore(cfg.Storage.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pgStore.Close()
		stores.Items = pgStore
		stores.Embeddings = pgStore
		log.Printf("Using Postgres memory item store (vector search: %v)", pgStore.VectorSearchAvailable())
	}

	extractor, embedder := buildModelClients(cfg)

	engineCfg := engine.DefaultConfig()
	engineCfg.ExtractionRetries = cfg.Engine.ExtractionRetries
	engineCfg.RetryBackoff = cfg.Engine.RetryBackoff
	engineCfg.SubgraphCacheSize = cfg.Engine.SubgraphCacheSize

	eng, err := engine.New(stores, extractor, embedder, engineCfg)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	imp := importer.NewDirectoryImporter(eng)

	srv := server.New(cfg, eng, imp)
	eng.SetOnStateChange(srv.Hub().OnStateChange)

	addr, err := srv.Start(ctx)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("Chronicle listening at http://%s", addr)

	if cfg.Importer.Enabled {
		if err := os.MkdirAll(cfg.Importer.WatchDir, 0o755); err != nil {
			log.Fatalf("Failed to create import directory: %v", err)
		}
		watcher := importer.NewWatcher(eng, cfg.Importer.WatchDir)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Printf("Import watcher stopped: %v", err)
			}
		}()
		log.Printf("Watching %s for note files", cfg.Importer.WatchDir)
	}

	// Wait for interrupt signal.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(time.Second) // Give connections time to close.
}

// buildModelClients creates the extractor and embedder for the configured
// provider. The daemon starts without either; extraction then fails fast and
// retrieval degrades to text matching.
func buildModelClients(cfg *config.Config) (extract.Extractor, llm.EmbeddingGenerator) {
	provider := llm.ProviderConfig{
		Provider: cfg.LLM.Provider,
		Guard:    llm.GuardConfig{RequestsPerSecond: cfg.LLM.RequestsPerSecond},
	}
	switch cfg.LLM.Provider {
	case "openai":
		provider.APIKey = cfg.LLM.OpenAIAPIKey
		provider.Model = cfg.LLM.OpenAIModel
		provider.EmbeddingModel = cfg.LLM.OpenAIEmbeddingModel
	case "anthropic":
		provider.APIKey = cfg.LLM.AnthropicAPIKey
		provider.Model = cfg.LLM.AnthropicModel
	default:
		provider.BaseURL = cfg.LLM.OllamaURL
		provider.Model = cfg.LLM.OllamaModel
		provider.EmbeddingModel = cfg.LLM.OllamaEmbeddingModel
	}

	generator, err := llm.NewTextGenerator(provider)
	if err != nil {
		log.Fatalf("Failed to create LLM client: %v", err)
	}

	embedder, err := llm.NewEmbeddingGenerator(provider)
	if err != nil {
		log.Fatalf("Failed to create embedding client: %v", err)
	}
	if embedder == nil {
		log.Printf("Provider %q has no embeddings API; retrieval uses text matching", cfg.LLM.Provider)
	}

	return extract.NewLLMExtractor(generator), embedder
}
