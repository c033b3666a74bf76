package outbox

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"spacebook/backend/internal/domain"
	"spacebook/backend/internal/store"
	"spacebook/backend/internal/telemetry"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultBatchSize    = 50
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

// Publisher relays committed booking events from the outbox table to Kafka. Delivery is
// at least once: a batch is marked published only after every message was written.
type Publisher struct {
	repo      store.OutboxRepository
	writer    MessageWriter
	log       *slog.Logger
	pollEvery time.Duration
	batchSize int
}

func NewPublisher(repo store.OutboxRepository, writer MessageWriter, log *slog.Logger, cfg Config) *Publisher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if log == nil {
		log = slog.Default()
	}
	if w, ok := writer.(*kafka.Writer); ok && w == nil {
		writer = nil
	}
	return &Publisher{
		repo:      repo,
		writer:    writer,
		log:       log.With("component", "outbox.publisher"),
		pollEvery: cfg.PollInterval,
		batchSize: cfg.BatchSize,
	}
}

// NewKafkaWriter returns a writer that routes by message topic and hashes keys, so all
// events of one booking land on the same partition. It returns nil without brokers.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	if len(brokers) == 0 {
		return nil
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// SplitBrokers parses a comma separated broker list.
func SplitBrokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Run polls until ctx is done. It returns nil on cancellation.
func (p *Publisher) Run(ctx context.Context) error {
	if p.writer == nil {
		p.log.Warn("outbox publisher disabled (no kafka brokers configured)")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := p.PublishBatch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.log.Error("outbox publish failed", "err", err)
				continue
			}
			if n > 0 {
				p.log.Debug("outbox batch published", "events", n)
			}
		}
	}
}

// PublishBatch claims one batch and writes it. It returns the number of events sent.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	var sent int
	err := p.repo.ClaimUnpublished(ctx, p.batchSize, func(ctx context.Context, events []domain.OutboxEvent) error {
		if len(events) == 0 {
			return nil
		}
		msgs := make([]kafka.Message, 0, len(events))
		for _, evt := range events {
			msgs = append(msgs, buildMessage(ctx, evt))
		}
		if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
			return err
		}
		sent = len(msgs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sent, nil
}

func buildMessage(ctx context.Context, evt domain.OutboxEvent) kafka.Message {
	msgCtx := telemetry.ContextWithTraceContext(ctx, evt.Traceparent, evt.Tracestate)
	msg := kafka.Message{
		Topic: evt.EventType,
		Key:   []byte(evt.AggregateID),
		Value: evt.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(evt.EventID.String())},
			{Key: "event_type", Value: []byte(evt.EventType)},
		},
	}
	msg.Headers = telemetry.InjectKafkaHeaders(msgCtx, msg.Headers)
	return msg
}
