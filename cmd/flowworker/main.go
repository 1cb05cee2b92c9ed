// Command flowworker hosts the durable workflows: document extraction, agent
// QA, and workflow execution. Each task queue gets its own worker so the
// queues scale independently.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"github.com/latticehq/lattice/internal/adapter/agentrunner"
	"github.com/latticehq/lattice/internal/adapter/ai"
	"github.com/latticehq/lattice/internal/adapter/extractor"
	"github.com/latticehq/lattice/internal/adapter/lock/redislock"
	"github.com/latticehq/lattice/internal/adapter/queue/redpanda"
	"github.com/latticehq/lattice/internal/adapter/repo/postgres"
	"github.com/latticehq/lattice/internal/adapter/storage/s3"
	qdrantidx "github.com/latticehq/lattice/internal/adapter/vector/qdrant"
	"github.com/latticehq/lattice/internal/config"
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
		if err := http.ListenAndServe(":9091", mux); err != nil {
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

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer func() { _ = rdb.Close() }()

	producer, err := redpanda.NewProducer(cfg.KafkaBrokers, cfg.PublishBatchSize)
	if err != nil {
		slog.Error("queue producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	blobs, err := s3.New(ctx, cfg)
	if err != nil {
		slog.Error("object storage connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	aiClient := ai.New(cfg)
	vectorIx := qdrantidx.New(cfg.QdrantURL, cfg.QdrantAPIKey, cfg.QdrantCollection)

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
	executionRepo := postgres.NewWorkflowExecutionRepo(pool)
	keywordIx := postgres.NewChunkIndexRepo(pool)

	quotaSvc := usecase.NewQuotaService(cfg, usageRepo, subscriptionRepo)
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
		Search:     usecase.NewSearchService(keywordIx, vectorIx, aiClient, blobs),
		AI:         aiClient,
		Workflows:  starter,
	}

	docWorker := worker.New(temporalClient, cfg.DocumentTaskQueue, worker.Options{})
	workflow.RegisterDocumentExtraction(docWorker,
		workflow.NewExtractionActivities(documentRepo, blobs, extractor.New(cfg.ExtractorURL), producer, cfg))

	qaWorker := worker.New(temporalClient, cfg.AgentQATaskQueue, worker.Options{})
	workflow.RegisterAgentQA(qaWorker, workflow.NewAgentQAActivities(qaSvc, cellRepo, quotaSvc))

	execWorker := worker.New(temporalClient, cfg.ExecutionTaskQueue, worker.Options{})
	workflow.RegisterWorkflowExecution(execWorker,
		workflow.NewExecutionActivities(agentrunner.New(cfg.AgentRunnerURL), executionRepo, blobs, quotaSvc))

	for _, w := range []worker.Worker{docWorker, qaWorker, execWorker} {
		if err := w.Start(); err != nil {
			slog.Error("worker start failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
	defer func() {
		docWorker.Stop()
		qaWorker.Stop()
		execWorker.Stop()
	}()

	slog.Info("flow worker started",
		slog.String("document_task_queue", cfg.DocumentTaskQueue),
		slog.String("agent_qa_task_queue", cfg.AgentQATaskQueue),
		slog.String("execution_task_queue", cfg.ExecutionTaskQueue))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutdown signal received", slog.String("signal", sig.String()))
}
