// Package audit records one row per provider call and per heartbeat
// cycle: a Sink that publishes JSON-encoded events to a Kafka topic when
// Kafka is enabled, and otherwise appends them to a local file.
// RecordOrLog treats a nil Sink as a no-op.
package audit

import (
	"context"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"

	"omega/internal/obslog"
)

// json is a pkg-wide substitution of encoding/json for the faster
// drop-in replacement, since audit rows are on the hot path of every
// provider call and heartbeat cycle.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is one audit row; Kind distinguishes "provider_call" from
// "heartbeat_cycle" entries, with Detail carrying kind-specific fields.
type Event struct {
	Kind      string            `json:"kind"`
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	Timestamp time.Time         `json:"timestamp"`
	Detail    map[string]string `json:"detail"`
}

// Sink publishes audit events; Close releases any underlying resources.
type Sink interface {
	Record(ctx context.Context, ev Event) error
	Close() error
}

// KafkaConfig gates the Kafka-backed sink.
type KafkaConfig struct {
	Enabled bool
	Brokers string
	Topic   string
}

// NewSink returns a Kafka-backed sink when cfg.Enabled, otherwise a local
// append-only file sink at fallbackPath so audit rows are never silently
// dropped.
func NewSink(cfg KafkaConfig, fallbackPath string) (Sink, error) {
	if cfg.Enabled {
		return &kafkaSink{writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		}}, nil
	}
	return newFileSink(fallbackPath)
}

type kafkaSink struct {
	writer *kafka.Writer
}

func (s *kafkaSink) Record(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{Value: payload, Time: ev.Timestamp})
}

func (s *kafkaSink) Close() error {
	return s.writer.Close()
}

// fileSink appends newline-delimited JSON events to a local file, used
// when Kafka is disabled (the default, since a single long-lived process
// on one host shouldn't have to assume a message broker is available).
type fileSink struct {
	mu   sync.Mutex
	file *os.File
}

func newFileSink(path string) (*fileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileSink{file: f}, nil
}

func (s *fileSink) Record(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(payload, '\n'))
	return err
}

func (s *fileSink) Close() error {
	return s.file.Close()
}

// RecordOrLog records ev and logs (but does not propagate) a failure:
// audit logging is never allowed to fail the caller's turn.
func RecordOrLog(ctx context.Context, sink Sink, ev Event) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, ev); err != nil {
		log := obslog.Component("audit")
		log.Warn().Err(err).Msg("audit record failed")
	}
}
