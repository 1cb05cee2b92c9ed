// Package redpanda provides Redpanda/Kafka queue integration for job
// fan-out and worker consumption.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/latticehq/lattice/internal/domain"
	"github.com/latticehq/lattice/internal/observability"
)

// Producer wraps a transactional Kafka producer and implements domain.Queue.
// Batch publishes are transactional so a fan-out either lands whole or not
// at all; retried publishes are idempotent because workers dedupe via the
// distributed cell lock.
type Producer struct {
	client    *kgo.Client
	batchSize int
	// Serializes transactions; franz-go allows one open transaction per client.
	transactionChan chan struct{}
}

// NewProducer constructs a Producer and ensures the job topics exist.
func NewProducer(brokers []string, batchSize int) (*Producer, error) {
	return NewProducerWithTransactionalID(brokers, batchSize, "lattice-producer")
}

// NewProducerWithTransactionalID constructs a Producer with a custom
// transactional id, which tests use to avoid conflicts.
func NewProducerWithTransactionalID(brokers []string, batchSize int, transactionalID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	ctx := context.Background()
	for _, topic := range []string{TopicQAJobs, TopicDocumentIndexing, DLQTopic(TopicQAJobs), DLQTopic(TopicDocumentIndexing)} {
		if err := createTopicIfNotExists(ctx, client, topic, 1, 1); err != nil {
			slog.Warn("failed to create topic, it may already exist",
				slog.String("topic", topic), slog.Any("error", err))
		}
	}

	return &Producer{
		client:          client,
		batchSize:       batchSize,
		transactionChan: make(chan struct{}, 1),
	}, nil
}

// PublishQAJobs publishes QA job messages in transactional batches. Failure
// of any batch fails the call; the caller marks the affected jobs FAILED.
func (p *Producer) PublishQAJobs(ctx domain.Context, msgs []domain.QAJobMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	for start := 0; start < len(msgs); start += p.batchSize {
		end := start + p.batchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		records := make([]*kgo.Record, 0, end-start)
		for _, m := range msgs[start:end] {
			b, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("op=queue.publish_qa: %w", err)
			}
			records = append(records, &kgo.Record{
				Topic: TopicQAJobs,
				// Keyed by cell so jobs for one cell stay ordered.
				Key:   []byte(strconv.FormatInt(m.MatrixCellID, 10)),
				Value: b,
				Headers: []kgo.RecordHeader{
					{Key: "job_id", Value: []byte(strconv.FormatInt(m.JobID, 10))},
				},
			})
		}
		if err := p.produceInTransaction(ctx, records); err != nil {
			return fmt.Errorf("op=queue.publish_qa batch=%d: %w", start/p.batchSize, err)
		}
		observability.EnqueueJobs("qa", end-start)
	}
	slog.Info("qa jobs published", slog.Int("count", len(msgs)))
	return nil
}

// PublishIndexingJob publishes one document indexing message.
func (p *Producer) PublishIndexingJob(ctx domain.Context, msg domain.IndexingJobMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("op=queue.publish_indexing: %w", err)
	}
	record := &kgo.Record{
		Topic: TopicDocumentIndexing,
		Key:   []byte(strconv.FormatInt(msg.DocumentID, 10)),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "job_id", Value: []byte(strconv.FormatInt(msg.JobID, 10))},
		},
	}
	if err := p.produceInTransaction(ctx, []*kgo.Record{record}); err != nil {
		return fmt.Errorf("op=queue.publish_indexing: %w", err)
	}
	observability.EnqueueJobs("indexing", 1)
	return nil
}

func (p *Producer) produceInTransaction(ctx context.Context, records []*kgo.Record) error {
	select {
	case p.transactionChan <- struct{}{}:
		defer func() { <-p.transactionChan }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.client.BeginTransaction(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	e := kgo.AbortingFirstErrPromise(p.client)
	for _, r := range records {
		p.client.Produce(ctx, r, e.Promise())
	}
	if err := e.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("failed to abort transaction", slog.Any("error", abortErr))
		}
		return fmt.Errorf("produce: %w", err)
	}
	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the producer.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
