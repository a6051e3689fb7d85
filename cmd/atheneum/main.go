// Command atheneum runs the learning platform backend: the HTTP API, the
// document ingestion pipeline, the distributed task queue and, depending on
// the node role, the scheduler loop or the worker executor.
//
// # Roles
//
// A process runs as one of three roles (NODE_ROLE):
//
//	coordinator - serves the API and runs the scheduler loop
//	worker      - runs task handlers and the worker execute endpoint
//	hybrid      - both (the default; suitable for single-node deployments)
//
// Only one coordinator or hybrid process may drive a given queue instance.
//
// # Configuration
//
// Configuration comes from the environment (a .env file is merged in when
// present). The main variables:
//
//	ATHENEUM_PORT           - HTTP listen port (default: 8080)
//	ATHENEUM_JWT_SECRET     - bearer token signing secret (required)
//	ATHENEUM_CREDENTIAL_KEY - 32-byte hex key sealing provider credentials
//	DATABASE_URL            - Postgres connection string
//	REDIS_ADDR              - Redis address for the task queue
//	BLOB_*                  - S3-compatible blob store settings
//	NODE_ROLE / NODE_ID     - distributed queue identity
//	ACHIEVEMENTS_PATH       - YAML achievement definitions to seed (optional)
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/atheneum-ai/atheneum/internal/agent"
	"github.com/atheneum-ai/atheneum/internal/blob"
	"github.com/atheneum-ai/atheneum/internal/config"
	"github.com/atheneum-ai/atheneum/internal/credential"
	"github.com/atheneum-ai/atheneum/internal/ingest"
	"github.com/atheneum-ai/atheneum/internal/mcptool"
	"github.com/atheneum-ai/atheneum/internal/points"
	"github.com/atheneum-ai/atheneum/internal/provider"
	"github.com/atheneum-ai/atheneum/internal/queue"
	"github.com/atheneum-ai/atheneum/internal/retrieval"
	"github.com/atheneum-ai/atheneum/internal/scheduler"
	"github.com/atheneum-ai/atheneum/internal/server"
	"github.com/atheneum-ai/atheneum/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	format := log.FormatJSON
	if cfg.Debug {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if cfg.Debug {
		ctx = log.Context(ctx, log.WithDebug())
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores.
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	blobs, err := blob.New(ctx, blob.Options{
		Endpoint:  cfg.BlobEndpoint,
		Region:    cfg.BlobRegion,
		Bucket:    cfg.BlobBucket,
		AccessKey: cfg.BlobAccessKey,
		SecretKey: cfg.BlobSecretKey,
		PublicURL: cfg.BlobPublicURL,
	})
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	// Repositories over the pool; transactional paths construct their own
	// repos over the transaction.
	users := store.NewUsers(db.Pool)
	knowledge := store.NewKnowledge(db.Pool)
	conversations := store.NewConversations(db.Pool)
	pointsRepo := store.NewPoints(db.Pool)
	mcpTools := store.NewMCPTools(db.Pool)

	if cfg.AchievementsPath != "" {
		data, err := os.ReadFile(cfg.AchievementsPath)
		if err != nil {
			return fmt.Errorf("read achievements: %w", err)
		}
		n, err := points.Seed(ctx, pointsRepo, data)
		if err != nil {
			return fmt.Errorf("seed achievements: %w", err)
		}
		log.Printf(ctx, "seeded %d achievement definitions", n)
	}

	// Providers.
	sealer, err := credential.NewSealer(cfg.CredentialKey)
	if err != nil {
		return fmt.Errorf("credential sealer: %w", err)
	}
	resolver := credential.NewResolver(users, sealer, cfg)
	gateway := provider.New(provider.Options{EmbeddingDim: cfg.EmbeddingDim})

	// Ingestion and retrieval.
	pipeline := ingest.New(ingest.Options{
		Blob:        blobs,
		Documents:   knowledge,
		TempFiles:   conversations,
		Embedder:    gateway,
		Credentials: resolver,
		Workers:     cfg.IngestWorkers,
	})
	retriever := retrieval.New(gateway, resolver, knowledge, conversations)

	// Distributed queue.
	tasks := queue.New(rdb)
	registry := queue.NewRegistry(rdb)

	// Agent.
	ai := agent.New(agent.Options{
		Conversations: conversations,
		Knowledge:     knowledge,
		Gateway:       gateway,
		Credentials:   resolver,
		Retriever:     retriever,
		MCP:           mcpTools,
		MCPInvoker:    mcptool.New(nil),
		Turns:         agent.NewTurns(db),
		SearchEngine: provider.SearchEngine{
			Engine:  cfg.SearchEngine,
			APIKey:  cfg.SearchAPIKey,
			BaseURL: cfg.SearchBaseURL,
		},
	})

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	var executor *scheduler.Executor
	if cfg.NodeRole == config.RoleWorker || cfg.NodeRole == config.RoleHybrid {
		executor = scheduler.NewExecutor(tasks)
		scheduler.RegisterPipeline(executor, pipeline, blobs)
		go heartbeatLoop(ctx, registry, cfg, nodeID, executor)
	}

	if cfg.NodeRole == config.RoleCoordinator || cfg.NodeRole == config.RoleHybrid {
		sched := scheduler.New(scheduler.Options{Tasks: tasks, Nodes: registry})
		go sched.Run(ctx)
	}

	opts := server.Options{
		Config:        cfg,
		Agent:         ai,
		Searcher:      retriever,
		Blob:          blobs,
		Ingest:        pipeline,
		Tasks:         tasks,
		Nodes:         registry,
		Knowledge:     knowledge,
		Conversations: conversations,
		Points:        pointsRepo,
		Users:         users,
		MCP:           mcpTools,
		Social:        points.NewService(db),
		Sealer:        sealer,
	}
	if executor != nil {
		opts.Executor = executor
	}
	api := server.New(opts)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           api.Router(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Printf(ctx, "atheneum listening on %s (role=%s node=%s)", httpSrv.Addr, cfg.NodeRole, nodeID)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Printf(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorf(shutdownCtx, err, "http shutdown")
	}
	pipeline.Wait()
	if executor != nil {
		if err := registry.Deregister(shutdownCtx, nodeID); err != nil {
			log.Errorf(shutdownCtx, err, "deregister node")
		}
	}
	return nil
}

// heartbeatLoop refreshes the node's registry record until ctx is cancelled.
func heartbeatLoop(ctx context.Context, registry *queue.Registry, cfg *config.Config, nodeID string, executor *scheduler.Executor) {
	ticker := time.NewTicker(queue.HeartbeatInterval)
	defer ticker.Stop()
	beat := func() {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		memPct := 0.0
		if mem.Sys > 0 {
			memPct = float64(mem.HeapAlloc) / float64(mem.Sys) * 100
		}
		n := queue.Node{
			ID:           nodeID,
			Host:         cfg.NodeHost,
			Port:         cfg.NodePort,
			Role:         string(cfg.NodeRole),
			Region:       cfg.Region,
			MemPercent:   memPct,
			Capabilities: executor.Capabilities(),
		}
		if err := registry.Heartbeat(ctx, n); err != nil {
			log.Errorf(ctx, err, "heartbeat")
		}
	}
	beat()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}
