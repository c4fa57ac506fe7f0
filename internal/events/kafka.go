// Package events publishes accepted messages to Kafka for downstream
// consumers. The publisher is optional; the service runs without brokers.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/kairavb/lyftr-a001/internal/store"
)

type MessageCreated struct {
	MessageID string  `json:"message_id"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	TS        string  `json:"ts"`
	Text      *string `json:"text,omitempty"`
	CreatedAt string  `json:"created_at"`
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (p *KafkaPublisher) PublishCreated(ctx context.Context, msg store.Message) error {
	event := MessageCreated{
		MessageID: msg.MessageID,
		From:      msg.From,
		To:        msg.To,
		TS:        msg.Timestamp,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.MessageID),
		Value: value,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
