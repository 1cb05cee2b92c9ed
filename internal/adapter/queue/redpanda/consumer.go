package redpanda

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"
)

// Handler processes one record value. A non-nil error routes the record to
// the dead-letter topic; the offset commits either way so a poison message
// cannot wedge the partition.
type Handler func(ctx context.Context, value []byte) error

// Consumer is a group consumer with bounded per-process concurrency.
type Consumer struct {
	client         *kgo.Client
	topic          string
	maxConcurrency int
	handler        Handler
}

// NewConsumer constructs a Consumer joined to groupID on topic.
func NewConsumer(brokers []string, groupID, topic string, maxConcurrency int, handler Handler) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	kotelTracer := kotel.NewTracer(
		kotel.TracerProvider(otel.GetTracerProvider()),
	)
	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotelTracer),
	)

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DisableAutoCommit(),
		kgo.DialTimeout(10 * time.Second),
		kgo.FetchMaxWait(time.Second),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("redpanda consumer client: %w", err)
	}

	return &Consumer{
		client:         client,
		topic:          topic,
		maxConcurrency: maxConcurrency,
		handler:        handler,
	}, nil
}

// Run polls and processes until ctx is cancelled. Records within one poll are
// processed concurrently up to maxConcurrency, then committed together.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("consumer running", slog.String("topic", c.topic), slog.Int("max_concurrency", c.maxConcurrency))
	sem := make(chan struct{}, c.maxConcurrency)
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			slog.Error("fetch error", slog.String("topic", topic), slog.Int("partition", int(partition)), slog.Any("error", err))
		})

		records := fetches.Records()
		if len(records) == 0 {
			continue
		}

		var wg sync.WaitGroup
		for _, record := range records {
			wg.Add(1)
			sem <- struct{}{}
			go func(r *kgo.Record) {
				defer wg.Done()
				defer func() { <-sem }()
				c.processRecord(ctx, r)
			}(record)
		}
		wg.Wait()

		if err := c.client.CommitRecords(ctx, records...); err != nil {
			slog.Error("commit failed", slog.String("topic", c.topic), slog.Any("error", err))
		}
	}
}

func (c *Consumer) processRecord(ctx context.Context, r *kgo.Record) {
	if err := c.handler(ctx, r.Value); err != nil {
		slog.Error("handler failed, routing to dlq",
			slog.String("topic", c.topic),
			slog.String("key", string(r.Key)),
			slog.Any("error", err))
		c.sendToDLQ(ctx, r, err)
	}
}

// sendToDLQ publishes the failed record to the paired dead-letter topic with
// the failure reason attached.
func (c *Consumer) sendToDLQ(ctx context.Context, r *kgo.Record, handlerErr error) {
	dlqRecord := &kgo.Record{
		Topic: DLQTopic(c.topic),
		Key:   r.Key,
		Value: r.Value,
		Headers: append(r.Headers,
			kgo.RecordHeader{Key: "error", Value: []byte(handlerErr.Error())},
			kgo.RecordHeader{Key: "failed_at", Value: []byte(strconv.FormatInt(time.Now().Unix(), 10))},
			kgo.RecordHeader{Key: "source_topic", Value: []byte(c.topic)},
		),
	}
	done := make(chan struct{})
	c.client.Produce(ctx, dlqRecord, func(_ *kgo.Record, err error) {
		if err != nil {
			slog.Error("dlq produce failed", slog.String("topic", DLQTopic(c.topic)), slog.Any("error", err))
		}
		close(done)
	})
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Close closes the consumer client.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
