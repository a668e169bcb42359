package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gramin-health/sehatsetu/libs/kafkax"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/inbox"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/observability"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/registry"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TopicFeedbackRecorded carries post-consultation ratings from the
// consultation service. Each event folds into the doctor's quality stats.
const TopicFeedbackRecorded = "consultation.feedback.recorded.v1"

type feedbackEvent struct {
	DoctorID        string  `json:"doctor_id"`
	AppointmentID   string  `json:"appointment_id"`
	Rating          float64 `json:"rating"`
	ResponseMinutes float64 `json:"response_minutes"`
}

// FeedbackConsumer reads feedback events and updates doctor quality stats.
// Duplicate deliveries are dropped through the inbox table.
type FeedbackConsumer struct {
	logger  *slog.Logger
	inbox   *inbox.Repository
	doctors *registry.Repository
	metrics *observability.Metrics
	brokers []string
	groupID string
}

func NewFeedbackConsumer(logger *slog.Logger, inboxRepo *inbox.Repository, doctors *registry.Repository, metrics *observability.Metrics, brokers, groupID string) *FeedbackConsumer {
	return &FeedbackConsumer{
		logger:  logger,
		inbox:   inboxRepo,
		doctors: doctors,
		metrics: metrics,
		brokers: kafkax.SplitBrokers(brokers),
		groupID: groupID,
	}
}

func (c *FeedbackConsumer) Run(ctx context.Context) {
	if len(c.brokers) == 0 {
		c.logger.Warn("feedback consumer disabled (no kafka brokers configured)")
		return
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: c.brokers,
		GroupID: c.groupID,
		Topic:   TopicFeedbackRecorded,
	})
	defer reader.Close()

	c.logger.Info("feedback consumer started", "topic", TopicFeedbackRecorded, "group", c.groupID)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read failed", "err", err)
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *FeedbackConsumer) handle(ctx context.Context, msg kafka.Message) {
	msgCtx := kafkax.ExtractTraceContext(ctx, msg)
	tracer := otel.Tracer("allocation-service/consumer")
	spanCtx, span := tracer.Start(msgCtx, "consume "+msg.Topic)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	span.SetAttributes(
		attribute.String("messaging.kafka.topic", msg.Topic),
		attribute.String("event.id", meta.EventID),
	)

	if meta.EventID != "" {
		fresh, err := c.inbox.Record(spanCtx, meta.EventID, msg.Topic)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			c.logger.Error("inbox record failed", "err", err, "event_id", meta.EventID)
			return
		}
		if !fresh {
			c.logger.Debug("duplicate event skipped", "event_id", meta.EventID)
			return
		}
	}

	var evt feedbackEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("malformed feedback event", "err", err, "event_id", meta.EventID)
		return
	}
	if evt.DoctorID == "" || evt.Rating < 1 || evt.Rating > 5 {
		c.logger.Warn("feedback event out of range", "doctor_id", evt.DoctorID, "rating", evt.Rating)
		return
	}

	if err := c.doctors.ApplyFeedback(spanCtx, evt.DoctorID, evt.Rating, evt.ResponseMinutes); err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("apply feedback failed", "err", err, "doctor_id", evt.DoctorID)
		return
	}
	if c.metrics != nil {
		c.metrics.FeedbackApplied.Inc()
	}
	c.logger.Info("feedback applied", "doctor_id", evt.DoctorID, "rating", evt.Rating)
}
