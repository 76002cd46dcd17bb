package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Config holds Kafka configuration
type Config struct {
	Brokers            []string
	EventsTopic        string
	NotificationsTopic string
}

// ParseBrokers splits a comma-separated broker string
func ParseBrokers(brokers string) []string {
	var list []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			list = append(list, broker)
		}
	}
	return list
}

// MessageWriter is the part of kafka.Writer the producer uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes plan events and notifications. One writer serves both topics; each
// message names its topic.
type Producer struct {
	writer             MessageWriter
	logger             ectologger.Logger
	eventsTopic        string
	notificationsTopic string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// first publish in dev can otherwise fail with "Unknown Topic Or Partition"
		AllowAutoTopicCreation: true,
	}

	return NewProducerWithWriter(writer, cfg, logger)
}

// NewProducerWithWriter builds a producer over any MessageWriter
func NewProducerWithWriter(writer MessageWriter, cfg Config, logger ectologger.Logger) *Producer {
	return &Producer{
		writer:             writer,
		logger:             logger,
		eventsTopic:        cfg.EventsTopic,
		notificationsTopic: cfg.NotificationsTopic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PlanEvent is a plan lifecycle event for downstream consumers
type PlanEvent struct {
	EventType string         `json:"event_type"` // plan.status_changed | plan.lock_taken_over | plan.deleted | notification.sent
	PlanID    int64          `json:"plan_id"`
	UserID    string         `json:"user_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	TraceID   string         `json:"trace_id,omitempty"`
	SpanID    string         `json:"span_id,omitempty"`
}

// PublishPlanEvent publishes a plan event to the events topic
func (p *Producer) PublishPlanEvent(ctx context.Context, event *PlanEvent) error {
	if event == nil {
		return fmt.Errorf("plan event is nil")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishPlanEvent")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.eventsTopic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("event_type", event.EventType),
		attribute.Int64("plan_id", event.PlanID),
	)

	event.TraceID = tracing.GetTraceID(ctx)
	event.SpanID = tracing.GetSpanID(ctx)

	data, err := json.Marshal(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal event")
		return fmt.Errorf("failed to marshal plan event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(event.EventType)},
		{Key: "plan_id", Value: []byte(fmt.Sprint(event.PlanID))},
	}

	if err := p.write(ctx, p.eventsTopic, fmt.Sprint(event.PlanID), data, headers); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish event")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish %s to Kafka topic %s", event.EventType, p.eventsTopic)
		return err
	}

	span.SetStatus(codes.Ok, "event published")
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": event.EventType,
		"plan_id":    event.PlanID,
	}).Debug("Published plan event")

	return nil
}

// PublishNotification publishes a notification payload to the notifications topic
func (p *Producer) PublishNotification(ctx context.Context, key string, kind string, payload any) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishNotification")
	defer span.End()

	data, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	headers := []kafka.Header{
		{Key: "notification_kind", Value: []byte(kind)},
	}

	if err := p.write(ctx, p.notificationsTopic, key, data, headers); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish notification")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish notification to Kafka topic %s", p.notificationsTopic)
		return err
	}

	span.SetStatus(codes.Ok, "notification published")
	return nil
}

func (p *Producer) write(ctx context.Context, topic, key string, data []byte, headers []kafka.Header) error {
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	start := time.Now()
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordKafkaPublish(topic, status, time.Since(start).Seconds())

	return err
}
