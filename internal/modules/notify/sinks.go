// README: Event sinks (Postgres notifications, Redis pub/sub, Kafka stream, log) and the fan-out emitter.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"trigo/internal/metrics"
)

// Sink is a named Emitter.
type Sink interface {
	Emitter
	Name() string
}

// Fanout delivers each event to every sink. A failing sink does not stop the others.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Emit(ctx, e); err != nil {
			metrics.EventSinkFailures.WithLabelValues(s.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// PGSink stores events in the notifications table.
type PGSink struct {
	db *pgxpool.Pool
}

func NewPGSink(db *pgxpool.Pool) *PGSink {
	return &PGSink{db: db}
}

func (s *PGSink) Name() string { return "postgres" }

func (s *PGSink) Emit(ctx context.Context, e Event) error {
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO notifications (recipient_id, ride_id, type, title, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.RecipientID), string(e.RideID), string(e.Type), e.Title, e.Message, payload, e.CreatedAt,
	)
	return err
}

// RedisSink publishes events as JSON on a pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Emit(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, payload).Err()
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink writes events keyed by ride id.
type KafkaSink struct {
	writer MessageWriter
}

func NewKafkaSink(writer MessageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Emit(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.RideID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
		Time: e.CreatedAt,
	})
}

// LogSink writes events to the structured log.
type LogSink struct {
	log logrus.FieldLogger
}

func NewLogSink(log logrus.FieldLogger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Emit(_ context.Context, e Event) error {
	s.log.WithFields(logrus.Fields{
		"event_type":   e.Type,
		"ride_id":      e.RideID,
		"recipient_id": e.RecipientID,
	}).Info(e.Title)
	return nil
}
