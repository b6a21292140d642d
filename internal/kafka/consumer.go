// Package kafka feeds readings from a Kafka topic into the ingestion
// service.
package kafka

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sweeney/ward-monitor/internal/ingest"
	"github.com/sweeney/ward-monitor/internal/reading"
)

// DefaultGroupID is the consumer group used when none is configured.
const DefaultGroupID = "ward-monitor"

// MessageReader is the subset of *kafka.Reader the consumer needs.
// Offsets are committed explicitly once a message has been handled.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Ingester accepts one raw payload.
type Ingester interface {
	Ingest(ctx context.Context, raw []byte) (reading.Reading, error)
}

// Config describes where to consume from.
type Config struct {
	Brokers string // comma separated
	Topic   string
	GroupID string
}

// NewReader builds a group reader for cfg.
func NewReader(cfg Config) *kafka.Reader {
	group := cfg.GroupID
	if group == "" {
		group = DefaultGroupID
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.Topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Consumer reads messages and hands each value to an Ingester.
type Consumer struct {
	reader   MessageReader
	ing      Ingester
	logger   *zap.Logger
	onStatus func(connected bool)
	backoff  time.Duration
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithStatus registers a callback invoked whenever the reader's health
// changes between reads.
func WithStatus(fn func(connected bool)) Option {
	return func(c *Consumer) { c.onStatus = fn }
}

// WithBackoff sets the pause after a failed read or storage write.
func WithBackoff(d time.Duration) Option {
	return func(c *Consumer) { c.backoff = d }
}

// NewConsumer creates a Consumer. The consumer owns reader and closes it
// when Run returns.
func NewConsumer(reader MessageReader, ing Ingester, logger *zap.Logger, opts ...Option) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Consumer{
		reader:   reader,
		ing:      ing,
		logger:   logger,
		onStatus: func(bool) {},
		backoff:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes until ctx is cancelled or the reader is closed. Read
// errors are logged and retried. Input rejections are logged and committed.
// A storage failure is retried on the same message and its offset is not
// committed until the reading is stored.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	connected := false
	setConnected := func(v bool) {
		if v != connected {
			connected = v
			c.onStatus(v)
		}
	}
	defer setConnected(false)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			setConnected(false)
			c.logger.Warn("kafka read error", zap.Error(err))
			if !c.wait(ctx) {
				return nil
			}
			continue
		}
		setConnected(true)

		if !c.handle(ctx, msg) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("kafka commit failed",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

// handle ingests msg until it is accepted or rejected as input. It reports
// false if ctx ended while a storage failure was still being retried.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) bool {
	for {
		_, err := c.ing.Ingest(ctx, msg.Value)
		if err == nil {
			return true
		}
		reason := ingest.Reason(err)
		fields := []zap.Field{
			zap.String("reason", reason),
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		}
		if reason != ingest.ReasonStorageFailure {
			c.logger.Warn("kafka reading rejected", fields...)
			return true
		}
		c.logger.Error("kafka reading not stored, retrying", fields...)
		if !c.wait(ctx) {
			return false
		}
	}
}

func (c *Consumer) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.backoff):
		return true
	}
}
