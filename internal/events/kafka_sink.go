package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rawblock/mule-engine/pkg/models"
)

// Event types carried in Envelope.Type.
const (
	TypeAnalysisCompleted = "analysis.completed"
	TypeSessionDeleted    = "session.deleted"
)

// Sink publishes analysis events downstream.
type Sink interface {
	Emit(ctx context.Context, typ, key string, v any) error
	Close() error
}

// Envelope is the wire format of every event.
type Envelope struct {
	Type string          `json:"type"`
	TS   int64           `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// AnalysisCompleted is the payload of an analysis.completed event.
type AnalysisCompleted struct {
	SessionID string             `json:"session_id,omitempty"`
	Filename  string             `json:"filename,omitempty"`
	Summary   models.Summary     `json:"summary"`
	Rings     []models.FraudRing `json:"fraud_rings"`
	Flagged   []string           `json:"flagged_accounts"`
}

// NewAnalysisCompleted builds the event payload from a result.
func NewAnalysisCompleted(sessionID, filename string, result *models.AnalysisResult) AnalysisCompleted {
	flagged := make([]string, 0, len(result.SuspiciousAccounts))
	for _, a := range result.SuspiciousAccounts {
		flagged = append(flagged, a.AccountID)
	}
	return AnalysisCompleted{
		SessionID: sessionID,
		Filename:  filename,
		Summary:   result.Summary,
		Rings:     result.FraudRings,
		Flagged:   flagged,
	}
}

// KafkaSink writes envelopes to a single topic with a sync producer.
type KafkaSink struct {
	topic string
	p     sarama.SyncProducer
	now   func() time.Time
}

// NewKafkaSink dials the brokers.
func NewKafkaSink(brokers []string, topic string, cfg *sarama.Config) (*KafkaSink, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return NewKafkaSinkWithProducer(p, topic), nil
}

// NewKafkaSinkWithProducer wraps an existing producer.
func NewKafkaSinkWithProducer(p sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{topic: topic, p: p, now: time.Now}
}

func (s *KafkaSink) Close() error {
	if s.p != nil {
		return s.p.Close()
	}
	return nil
}

// Emit publishes v wrapped in an Envelope. key selects the partition; an
// empty key lets the producer pick.
func (s *KafkaSink) Emit(ctx context.Context, typ, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", typ, err)
	}
	b, err := json.Marshal(Envelope{Type: typ, TS: s.now().UnixMilli(), Data: data})
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(typ)},
		},
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	if _, _, err := s.p.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka emit failed: %w", err)
	}
	return nil
}

// NopSink drops every event. Used when no brokers are configured.
type NopSink struct{}

func (NopSink) Emit(context.Context, string, string, any) error { return nil }

func (NopSink) Close() error { return nil }
