// Command server starts the Lattice HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"

	"github.com/latticehq/lattice/internal/adapter/ai"
	"github.com/latticehq/lattice/internal/adapter/bloom"
	"github.com/latticehq/lattice/internal/adapter/httpserver"
	"github.com/latticehq/lattice/internal/adapter/queue/redpanda"
	"github.com/latticehq/lattice/internal/adapter/redisrate"
	"github.com/latticehq/lattice/internal/adapter/repo/postgres"
	"github.com/latticehq/lattice/internal/adapter/storage/s3"
	qdrantidx "github.com/latticehq/lattice/internal/adapter/vector/qdrant"
	"github.com/latticehq/lattice/internal/app"
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
	documentRepo := postgres.NewDocumentRepo(pool)
	usageRepo := postgres.NewUsageRepo(pool)
	subscriptionRepo := postgres.NewSubscriptionRepo(pool)
	templateRepo := postgres.NewTemplateRepo(pool)
	executionRepo := postgres.NewWorkflowExecutionRepo(pool)
	keywordIx := postgres.NewChunkIndexRepo(pool)

	quotaSvc := usecase.NewQuotaService(cfg, usageRepo, subscriptionRepo)
	searchSvc := usecase.NewSearchService(keywordIx, vectorIx, aiClient, blobs)
	uploadSvc := usecase.NewUploadService(documentRepo, blobs, bloom.New(rdb), quotaSvc, starter)
	batchSvc := usecase.NewBatchService(matrixRepo, entitySetRepo, cellRepo, jobRepo, producer)
	entitySetSvc := usecase.NewEntitySetService(entitySetRepo, batchSvc)
	reprocessSvc := usecase.NewReprocessService(cellRepo, jobRepo, producer)
	templateSvc := usecase.NewTemplateService(templateRepo)

	srv := &httpserver.Server{
		Cfg:        cfg,
		Matrices:   matrixRepo,
		Questions:  questionRepo,
		Documents:  documentRepo,
		Executions: executionRepo,
		EntitySets: entitySetSvc,
		Uploads:    uploadSvc,
		Search:     searchSvc,
		Reprocess:  reprocessSvc,
		Templates:  templateSvc,
		Quota:      quotaSvc,
		Workflows:  starter,
		Readiness:  app.BuildReadinessChecks(pool, rdb, vectorIx, cfg.ExtractorURL),
	}

	limiter := redisrate.NewTokenBucket(rdb, cfg.RateLimitPerMin)
	handler := app.BuildRouter(cfg, srv, limiter)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
