package repository

import (
	"context"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	pkgkafka "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/kafka"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const cycleKey = "cycle"

type batchProducer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// ResultEvent is one scanner's outcome within a published cycle.
type ResultEvent struct {
	EventID        string             `json:"event_id"`
	Sequence       uint64             `json:"cycle_sequence"`
	CycleStartedAt time.Time          `json:"cycle_started_at"`
	Trigger        models.Trigger     `json:"trigger"`
	Result         models.CycleResult `json:"result"`
}

// CycleEvent summarises a cycle; consumers use it as the end-of-cycle marker.
type CycleEvent struct {
	EventID        string                `json:"event_id"`
	Sequence       uint64                `json:"cycle_sequence"`
	CycleStartedAt time.Time             `json:"cycle_started_at"`
	Trigger        models.Trigger        `json:"trigger"`
	Scanners       []string              `json:"scanners"`
	Findings       int                   `json:"findings"`
	Failed         []string              `json:"failed,omitempty"`
	Health         models.HealthCounters `json:"health"`
}

// KafkaSnapshotPublisher writes one message per scanner result keyed by
// scanner id, followed by a cycle summary keyed "cycle".
type KafkaSnapshotPublisher struct {
	producer batchProducer
	topic    string
}

func NewKafkaSnapshotPublisher(producer *pkgkafka.Producer, topic string) repository.SnapshotPublisher {
	return &KafkaSnapshotPublisher{producer: producer, topic: topic}
}

func (p *KafkaSnapshotPublisher) PublishSnapshot(ctx context.Context, s *models.Snapshot) error {
	ids := s.ScannerIDs()
	msgs := make([]pkgkafka.Message, 0, len(ids)+1)
	summary := CycleEvent{
		EventID:        uuid.NewString(),
		Sequence:       s.Sequence,
		CycleStartedAt: s.CycleStartedAt,
		Trigger:        s.Trigger,
		Scanners:       ids,
		Health:         s.Health,
	}

	for _, id := range ids {
		r := s.Results[id]
		summary.Findings += len(r.Findings)
		if r.Failed() {
			summary.Failed = append(summary.Failed, id)
		}
		msgs = append(msgs, pkgkafka.Message{
			Key: []byte(id),
			Value: ResultEvent{
				EventID:        uuid.NewString(),
				Sequence:       s.Sequence,
				CycleStartedAt: s.CycleStartedAt,
				Trigger:        s.Trigger,
				Result:         r,
			},
			Headers: []kafka.Header{{Key: "event_type", Value: []byte("scanner_result")}},
		})
	}
	msgs = append(msgs, pkgkafka.Message{
		Key:     []byte(cycleKey),
		Value:   summary,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte("cycle_published")}},
	})
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaSnapshotPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
