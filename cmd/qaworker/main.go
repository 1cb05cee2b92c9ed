// Command qaworker consumes QA and indexing jobs from the queue and drives
// matrix cells and document chunks to completion.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"
	"golang.org/x/sync/errgroup"

	"github.com/latticehq/lattice/internal/adapter/ai"
	"github.com/latticehq/lattice/internal/adapter/lock/redislock"
	"github.com/latticehq/lattice/internal/adapter/queue/redpanda"
	"github.com/latticehq/lattice/internal/adapter/repo/postgres"
	"github.com/latticehq/lattice/internal/adapter/storage/s3"
	qdrantidx "github.com/latticehq/lattice/internal/adapter/vector/qdrant"
	"github.com/latticehq/lattice/internal/app"
	"github.com/latticehq/lattice/internal/chunker"
	"github.com/latticehq/lattice/internal/config"
	"github.com/latticehq/lattice/internal/domain"
	"github.com/latticehq/lattice/internal/observability"
	"github.com/latticehq/lattice/internal/usecase"
	"github.com/latticehq/lattice/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer func() { _ = rdb.Close() }()

	blobs, err := s3.New(ctx, cfg)
	if err != nil {
		slog.Error("object storage connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	aiClient := ai.New(cfg)
	vectorIx := qdrantidx.New(cfg.QdrantURL, cfg.QdrantAPIKey, cfg.QdrantCollection)
	app.EnsureChunkCollection(ctx, vectorIx, cfg)

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalHostPort,
		Namespace: cfg.TemporalNamespace,
		Logger:    temporallog.NewStructuredLogger(logger),
	})
	if err != nil {
		slog.Error("temporal connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer temporalClient.Close()
	starter := workflow.NewStarter(temporalClient, cfg)

	matrixRepo := postgres.NewMatrixRepo(pool)
	entitySetRepo := postgres.NewEntitySetRepo(pool)
	cellRepo := postgres.NewCellRepo(pool)
	jobRepo := postgres.NewQAJobRepo(pool)
	questionRepo := postgres.NewQuestionRepo(pool)
	answerRepo := postgres.NewAnswerRepo(pool)
	documentRepo := postgres.NewDocumentRepo(pool)
	usageRepo := postgres.NewUsageRepo(pool)
	subscriptionRepo := postgres.NewSubscriptionRepo(pool)
	templateRepo := postgres.NewTemplateRepo(pool)
	keywordIx := postgres.NewChunkIndexRepo(pool)

	quotaSvc := usecase.NewQuotaService(cfg, usageRepo, subscriptionRepo)
	searchSvc := usecase.NewSearchService(keywordIx, vectorIx, aiClient, blobs)

	qaSvc := usecase.QAService{
		Cfg:        cfg,
		Lock:       redislock.New(rdb),
		Jobs:       jobRepo,
		Cells:      cellRepo,
		Matrices:   matrixRepo,
		EntitySets: entitySetRepo,
		Questions:  questionRepo,
		Answers:    answerRepo,
		Templates:  usecase.NewTemplateService(templateRepo),
		Search:     searchSvc,
		AI:         aiClient,
		Workflows:  starter,
	}

	tokens := chunker.NewTiktokenCounter()
	indexingSvc := usecase.IndexingService{
		Documents: documentRepo,
		Blobs:     blobs,
		Quota:     quotaSvc,
		AI:        aiClient,
		Keyword:   keywordIx,
		Vector:    vectorIx,
		Sentence:  chunker.NewSentenceChunker(tokens, cfg.ChunkTokenBudget),
		Agentic:   chunker.NewAgenticChunker(aiClient, tokens, cfg.ChunkTokenBudget),
	}

	qaConsumer, err := redpanda.NewConsumer(cfg.KafkaBrokers, "lattice-qa-workers", redpanda.TopicQAJobs,
		cfg.ConsumerMaxConcurrency, func(ctx context.Context, value []byte) error {
			var msg domain.QAJobMessage
			if err := json.Unmarshal(value, &msg); err != nil {
				return fmt.Errorf("decode qa job: %w", err)
			}
			return qaSvc.HandleQAJob(ctx, msg)
		})
	if err != nil {
		slog.Error("qa consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = qaConsumer.Close() }()

	indexingConsumer, err := redpanda.NewConsumer(cfg.KafkaBrokers, "lattice-indexing-workers", redpanda.TopicDocumentIndexing,
		cfg.ConsumerMaxConcurrency, func(ctx context.Context, value []byte) error {
			var msg domain.IndexingJobMessage
			if err := json.Unmarshal(value, &msg); err != nil {
				return fmt.Errorf("decode indexing job: %w", err)
			}
			return indexingSvc.HandleIndexingJob(ctx, msg)
		})
	if err != nil {
		slog.Error("indexing consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = indexingConsumer.Close() }()

	if sweeper := app.NewStuckJobSweeper(jobRepo, cfg.JobMaxProcessingAge, cfg.JobSweepInterval); sweeper != nil {
		go sweeper.Run(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return qaConsumer.Run(gctx) })
	g.Go(func() error { return indexingConsumer.Run(gctx) })

	slog.Info("qa worker started", slog.String("env", cfg.AppEnv))
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("consumer stopped", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("qa worker stopped")
}
