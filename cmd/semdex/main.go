package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/tessera-labs/semdex/internal/adapters/driven/connectors/google"
	"github.com/tessera-labs/semdex/internal/adapters/driven/embed"
	"github.com/tessera-labs/semdex/internal/adapters/driven/qdrant"
	postgresqueue "github.com/tessera-labs/semdex/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/tessera-labs/semdex/internal/adapters/driven/queue/redis"
	"github.com/tessera-labs/semdex/internal/core/domain"
	"github.com/tessera-labs/semdex/internal/core/ports/driven"
	"github.com/tessera-labs/semdex/internal/core/ports/driving"
	"github.com/tessera-labs/semdex/internal/core/services"
	"github.com/tessera-labs/semdex/internal/worker"
)

var version = "dev"

func main() {
	// Get run mode from environment (RUN_MODE) or command line arg
	mode := getEnv("RUN_MODE", "all")
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	log.Printf("semdex %s starting in %s mode", version, mode)

	// Configuration from environment
	embeddingURL := getEnv("EMBEDDING_URL", "http://localhost:8000")
	embeddingDims := getEnvInt("EMBEDDING_DIMENSIONS", 1024)
	qdrantURL := getEnv("QDRANT_URL", "http://localhost:6333")
	qdrantAPIKey := getEnv("QDRANT_API_KEY", "")
	collection := getEnv("COLLECTION_NAME", "semdex-documents")
	redisURL := getEnv("REDIS_URL", "")
	databaseURL := getEnv("DATABASE_URL", "")

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutdown signal received, stopping...")
		cancel()
	}()

	// ===== Embedding service =====
	embedder := embed.NewClient(embed.Config{
		BaseURL:    embeddingURL,
		Dimensions: embeddingDims,
		Timeout:    time.Duration(getEnvInt("EMBEDDING_TIMEOUT_SEC", 60)) * time.Second,
	})
	defer embedder.Close()
	if err := embedder.HealthCheck(ctx); err != nil {
		log.Printf("Warning: embedding service health check failed: %v (ingestion and search will fail until it recovers)", err)
	} else {
		log.Println("Embedding service connected")
	}

	// ===== Vector store =====
	store := qdrant.NewStore(qdrant.Config{
		BaseURL: qdrantURL,
		APIKey:  qdrantAPIKey,
		Timeout: time.Duration(getEnvInt("QDRANT_TIMEOUT_SEC", 30)) * time.Second,
	})

	// Collection readiness gates everything. A dimensionality conflict
	// means the operator pointed this process at the wrong collection.
	collections := services.NewCollectionManager(store, slog.Default())
	if err := collections.Ensure(ctx, collection, embeddingDims, driven.DistanceCosine); err != nil {
		if errors.Is(err, domain.ErrConfigMismatch) {
			log.Fatalf("Collection configuration conflict: %v", err)
		}
		log.Fatalf("Failed to ensure collection: %v", err)
	}

	// ===== Job queue (Redis preferred, Postgres fallback) =====
	queue, cleanup := buildQueue(ctx, redisURL, databaseURL)
	defer cleanup()
	defer queue.Close()

	// ===== Services =====
	ingestor := services.NewIngestor(services.IngestorConfig{
		Embedder:   embedder,
		Store:      store,
		Collection: collection,
		VectorSize: embeddingDims,
		Logger:     slog.Default(),
	})
	searcher := services.NewSearchService(embedder, store, collection, slog.Default())

	switch mode {
	case "worker", "all":
		runWorkerMode(ctx, queue, ingestor)

	case "harvest":
		runHarvestMode(ctx, queue)

	case "search":
		runSearchMode(ctx, searcher, os.Args[2:])

	default:
		log.Fatalf("Unknown mode: %s (use: all, worker, harvest, or search)", mode)
	}
}

// buildQueue selects the job broker: Redis Streams when REDIS_URL is set,
// otherwise Postgres with SKIP LOCKED.
func buildQueue(ctx context.Context, redisURL, databaseURL string) (driven.JobQueue, func()) {
	if redisURL != "" {
		log.Println("Connecting to Redis...")
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}

		queue, err := redisqueue.NewQueue(client, fmt.Sprintf("worker-%d", os.Getpid()))
		if err != nil {
			log.Fatalf("Failed to create job queue: %v", err)
		}
		log.Println("Using Redis job queue")
		return queue, func() { client.Close() }
	}

	if databaseURL == "" {
		log.Fatal("Either REDIS_URL or DATABASE_URL must be set for the job queue")
	}

	log.Println("Connecting to PostgreSQL...")
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	queue := postgresqueue.NewQueue(db)
	if err := queue.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	log.Println("Using PostgreSQL job queue")
	return queue, func() { db.Close() }
}

// runWorkerMode starts the ingestion worker pool and blocks until shutdown.
func runWorkerMode(ctx context.Context, queue driven.JobQueue, ingestor *services.Ingestor) {
	w := worker.New(worker.Config{
		Queue:          queue,
		Ingestor:       ingestor,
		Logger:         slog.Default(),
		Concurrency:    getEnvInt("WORKER_CONCURRENCY", 2),
		DequeueTimeout: getEnvInt("WORKER_DEQUEUE_TIMEOUT", 5),
	})

	if err := w.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}
	log.Println("Worker started, processing ingestion jobs...")

	<-ctx.Done()

	log.Println("Stopping worker...")
	w.Stop()
}

// runHarvestMode fetches documents from the configured Google sources,
// enqueues one job per document, prints the summary and exits.
func runHarvestMode(ctx context.Context, queue driven.JobQueue) {
	accessToken := getEnv("GOOGLE_ACCESS_TOKEN", "")
	if accessToken == "" {
		log.Fatal("GOOGLE_ACCESS_TOKEN must be set for harvest mode")
	}

	ts := google.StaticTokenSource(accessToken)
	logger := slog.Default()

	var connectors []driven.Connector

	gmailSvc, err := google.NewGmailService(ctx, ts)
	if err != nil {
		log.Printf("Warning: gmail service unavailable: %v", err)
	} else {
		connectors = append(connectors, google.NewGmailConnector(gmailSvc, logger))
	}

	driveSvc, err := google.NewDriveService(ctx, ts)
	if err != nil {
		log.Printf("Warning: drive service unavailable: %v", err)
	} else {
		connectors = append(connectors, google.NewDriveConnector(driveSvc, logger))
	}

	calendarSvc, err := google.NewCalendarService(ctx, ts)
	if err != nil {
		log.Printf("Warning: calendar service unavailable: %v", err)
	} else {
		connectors = append(connectors, google.NewCalendarConnector(calendarSvc, logger))
	}

	if len(connectors) == 0 {
		log.Fatal("No connectors available")
	}

	harvester := services.NewHarvester(connectors, queue, logger)
	summary, err := harvester.HarvestAll(ctx)
	if err != nil {
		log.Fatalf("Harvest failed: %v", err)
	}

	log.Printf("Harvest complete: %d documents enqueued", summary.Total())
	for kind, count := range summary.Enqueued {
		log.Printf("  %s: %d", kind, count)
	}
	for kind, msg := range summary.Errors {
		log.Printf("  %s failed: %s", kind, msg)
	}
}

// runSearchMode executes a single query and prints ranked results as JSON.
func runSearchMode(ctx context.Context, searcher driving.SearchService, args []string) {
	if len(args) == 0 {
		log.Fatal("Usage: semdex search <query> | semdex search --similar <document-id>")
	}

	opts := domain.DefaultSearchOptions()
	opts.Limit = getEnvInt("SEARCH_LIMIT", opts.Limit)
	if kind := getEnv("SEARCH_SOURCE_KIND", ""); kind != "" {
		opts.SourceKind = domain.SourceKind(kind)
	}

	var results []*domain.SearchResult
	var err error
	if args[0] == "--similar" {
		if len(args) < 2 {
			log.Fatal("Usage: semdex search --similar <document-id>")
		}
		results, err = searcher.SimilarByID(ctx, args[1], opts)
	} else {
		results, err = searcher.Search(ctx, strings.Join(args, " "), opts)
	}
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode results: %v", err)
	}
	fmt.Println(string(out))
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
