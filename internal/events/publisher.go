package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/fintech/fraud-engine/configs"
	"github.com/fintech/fraud-engine/internal/models"
)

// FlaggedEvent is the wire shape published for every flagged evaluation.
type FlaggedEvent struct {
	TransactionID string   `json:"transaction_id"`
	UserID        string   `json:"user_id"`
	Score         int      `json:"risk_score"`
	Reasons       []string `json:"risk_reasons"`
	EvaluatedAt   string   `json:"evaluated_at"`
}

// KafkaPublisher emits flagged evaluations to a Kafka topic, keyed by user ID
// so one user's events stay ordered within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(cfg configs.KafkaConfig) (*KafkaPublisher, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &KafkaPublisher{producer: producer, topic: cfg.Topic}, nil
}

func (p *KafkaPublisher) PublishFlagged(_ context.Context, result *models.EvaluationResult) error {
	event := FlaggedEvent{
		TransactionID: result.TransactionID,
		UserID:        result.UserID,
		Score:         result.Score,
		Reasons:       result.Reasons,
		EvaluatedAt:   result.EvaluatedAt.Format(time.RFC3339),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal flagged event: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(result.UserID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("failed to publish flagged event: %w", err)
	}

	log.Debug().
		Str("transaction_id", result.TransactionID).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("published flagged event")

	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NoopPublisher drops events. Used when the Kafka pipeline is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishFlagged(context.Context, *models.EvaluationResult) error {
	return nil
}
