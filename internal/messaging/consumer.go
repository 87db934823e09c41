package messaging

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxTries = 5

var consumerTracer = otel.Tracer("messaging/consumer")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer hands every message of a topic to a handler. A message whose
// handler keeps failing is logged and committed once its tries run out, so
// one bad event cannot stall the partition.
type Consumer struct {
	reader   messageReader
	topic    string
	groupID  string
	maxTries uint
	backOff  backoff.BackOff
	logger   *slog.Logger
}

type consumerConfig struct {
	reader   kafka.ReaderConfig
	maxTries uint
	backOff  backoff.BackOff
	logger   *slog.Logger
}

type ConsumerOption func(*consumerConfig)

func WithStartOffset(offset int64) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.reader.StartOffset = offset
	}
}

// WithRetry sets how many times a failing message is handled before it is
// dropped, and the wait between tries.
func WithRetry(maxTries uint, b backoff.BackOff) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.maxTries = maxTries
		cfg.backOff = b
	}
}

func WithLogger(logger *slog.Logger) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.logger = logger
	}
}

func NewConsumer(brokers []string, topic, groupID string, opts ...ConsumerOption) *Consumer {
	cfg := newConsumerConfig(opts)
	cfg.reader.Brokers = brokers
	cfg.reader.Topic = topic
	cfg.reader.GroupID = groupID

	return newConsumer(kafka.NewReader(cfg.reader), topic, groupID, cfg)
}

func newConsumerConfig(opts []ConsumerOption) consumerConfig {
	cfg := consumerConfig{
		maxTries: defaultMaxTries,
		backOff:  backoff.NewExponentialBackOff(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func newConsumer(reader messageReader, topic, groupID string, cfg consumerConfig) *Consumer {
	return &Consumer{
		reader:   reader,
		topic:    topic,
		groupID:  groupID,
		maxTries: cfg.maxTries,
		backOff:  cfg.backOff,
		logger:   cfg.logger,
	}
}

// Permanent marks a handler error that retrying cannot fix, such as a payload
// that does not decode. The message is dropped right away.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Consume blocks until ctx is done or the reader fails. Handler errors never
// stop it.
func (c *Consumer) Consume(ctx context.Context, handler func(ctx context.Context, payload []byte) error) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		if err := c.handle(ctx, msg, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("dropping message",
				"error", err,
				"topic", c.topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handler func(ctx context.Context, payload []byte) error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.processMessage(ctx, msg, handler)
	},
		backoff.WithBackOff(c.backOff),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("retrying message",
				"error", err,
				"topic", c.topic,
				"offset", msg.Offset,
				"retry_in", next,
			)
		}),
	)
	return err
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message, handler func(ctx context.Context, payload []byte) error) error {
	carrier := NewMessageCarrier(&msg)
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, carrier)

	spanCtx, span := consumerTracer.Start(parentCtx, "process "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(c.topic),
			semconv.MessagingKafkaConsumerGroup(c.groupID),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
		),
	)
	defer span.End()

	if id := carrier.MessageID(); id != "" {
		span.SetAttributes(semconv.MessagingMessageID(id))
	}

	if err := handler(spanCtx, msg.Value); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
