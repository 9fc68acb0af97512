// Package publish emits ingestion summaries to Kafka for downstream
// consumers (leaderboards, notification fan-out). Publishing is
// optional: without a configured broker every call is a no-op, and
// publish failures never fail an ingestion that already committed.
package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JaysonBrenton/mre/internal/config"
	"github.com/JaysonBrenton/mre/internal/racedata"
)

const (
	defaultTopic        = "race-data.events.ingested"
	defaultWriteTimeout = 10 * time.Second
)

// summaryWriter is the kafka-go surface the publisher needs.
type summaryWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes event-ingested messages after a successful commit.
// A nil Publisher is valid and publishes nothing.
type Publisher struct {
	writer summaryWriter
	topic  string
	logger *slog.Logger
}

// message is the wire shape of one ingestion summary.
type message struct {
	EventID         int64     `json:"event_id"`
	IngestDepth     string    `json:"ingest_depth"`
	Status          string    `json:"status"`
	RacesIngested   int       `json:"races_ingested"`
	ResultsIngested int       `json:"results_ingested"`
	LapsIngested    int       `json:"laps_ingested"`
	IngestedAt      time.Time `json:"ingested_at"`
}

// NewFromEnv creates a Publisher from KAFKA_BROKERS and KAFKA_TOPIC.
// An empty broker list returns nil, which disables publishing.
func NewFromEnv() *Publisher {
	brokers := config.GetEnvStr("KAFKA_BROKERS", "")
	if strings.TrimSpace(brokers) == "" {
		return nil
	}

	topic := config.GetEnvStr("KAFKA_TOPIC", defaultTopic)

	writer := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: defaultWriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return newPublisher(writer, topic)
}

func newPublisher(writer summaryWriter, topic string) *Publisher {
	return &Publisher{
		writer: writer,
		topic:  topic,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// EventIngested publishes one ingestion summary, keyed by event id so
// per-event ordering is preserved. Failures are logged, not returned.
func (p *Publisher) EventIngested(ctx context.Context, summary *racedata.IngestSummary) {
	if p == nil || summary == nil {
		return
	}

	payload, err := json.Marshal(message{
		EventID:         summary.EventID,
		IngestDepth:     string(summary.IngestDepth),
		Status:          string(summary.Status),
		RacesIngested:   summary.RacesIngested,
		ResultsIngested: summary.ResultsIngested,
		LapsIngested:    summary.LapsIngested,
		IngestedAt:      summary.LastIngestedAt,
	})
	if err != nil {
		p.logger.Error("failed to encode ingestion summary", slog.String("error", err.Error()))

		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(kafkaKey(summary.EventID)),
		Value: payload,
	})
	if err != nil {
		p.logger.Error("failed to publish ingestion summary",
			slog.Int64("event_id", summary.EventID),
			slog.String("topic", p.topic),
			slog.String("error", err.Error()),
		)

		return
	}

	p.logger.Debug("published ingestion summary",
		slog.Int64("event_id", summary.EventID),
		slog.String("topic", p.topic),
	)
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}

	return p.writer.Close()
}

func kafkaKey(eventID int64) string {
	return "event-" + strconv.FormatInt(eventID, 10)
}
