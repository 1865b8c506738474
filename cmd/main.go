package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yungbote/scholargraph-backend/internal/app"
	redisclient "github.com/yungbote/scholargraph-backend/internal/clients/redis"
	"github.com/yungbote/scholargraph-backend/internal/data/graph"
	"github.com/yungbote/scholargraph-backend/internal/http/handlers"
	"github.com/yungbote/scholargraph-backend/internal/jobs/worker"
	"github.com/yungbote/scholargraph-backend/internal/modules/ingestion"
	"github.com/yungbote/scholargraph-backend/internal/platform/logger"
	"github.com/yungbote/scholargraph-backend/internal/platform/neo4jdb"
	"github.com/yungbote/scholargraph-backend/internal/platform/openai"
	"github.com/yungbote/scholargraph-backend/internal/server"
)

func main() {
	cfg := app.LoadConfig()

	log, err := logger.New(cfg.Mode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Graph store
	var store graph.Store
	switch cfg.GraphBackend {
	case "memory":
		log.Warn("using in-memory graph backend; data will not survive restarts")
		store = graph.NewMemStore()
	default:
		client, err := neo4jdb.NewFromEnv(log)
		if err != nil {
			log.Fatal("neo4j init failed", "error", err)
		}
		if client == nil {
			log.Warn("NEO4J_URI unset; falling back to in-memory graph backend")
			store = graph.NewMemStore()
		} else {
			defer client.Close(context.Background())
			neoStore := graph.NewNeo4jStore(client, log)
			neoStore.InitSchema(ctx)
			store = neoStore
		}
	}

	// Canonicalization rules
	rules, err := ingestion.LoadRuleTable(cfg.CanonicalRulesPath)
	if err != nil {
		log.Fatal("canonical rules load failed", "error", err)
	}
	canon := ingestion.NewCanonicalizer(log, rules)

	// Embedder (optional)
	embedder, err := openai.NewFromEnv(log)
	if err != nil {
		log.Fatal("openai init failed", "error", err)
	}
	var emb ingestion.Embedder
	if embedder != nil {
		emb = embedder
	} else {
		log.Info("OPENAI_API_KEY unset; semantic factor uses n-gram fallback")
	}
	calc := ingestion.NewStrengthCalculator(log, emb)

	// Core
	ing := ingestion.NewIngester(log, store, canon, calc)
	ing.WarmRegistry(ctx)
	agg := ingestion.NewAggregationEngine(log, store)

	// Retry queue (optional)
	retry, err := redisclient.NewRetryQueueFromEnv(log)
	if err != nil {
		log.Fatal("redis init failed", "error", err)
	}
	if retry != nil {
		defer retry.Close()
	}

	// Worker pool
	pool := worker.NewPool(log, ing, retry)
	go pool.Start(ctx)

	// HTTP
	srv := server.New(log, cfg.Port, handlers.NewIngestHandler(ing, agg, pool, retry), handlers.NewHealthHandler())
	go func() {
		if err := srv.Start(); err != nil {
			log.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown failed", "error", err)
	}
}
