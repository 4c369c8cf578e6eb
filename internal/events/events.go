package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

const TypeRecordCompleted = "record.completed"

// RecordCompleted is emitted once a record's public object is in place.
type RecordCompleted struct {
	Type        string    `json:"type"`
	RecordID    int64     `json:"record_id"`
	ObjectName  string    `json:"object_name"`
	PublicURL   string    `json:"public_object_url"`
	CompletedAt time.Time `json:"completed_at"`
}

type Publisher interface {
	PublishCompleted(ctx context.Context, ev RecordCompleted) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if topic == "" {
		topic = TypeRecordCompleted
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
	}, nil
}

// PublishCompleted keys messages by record id so events for one record stay
// on one partition.
func (p *KafkaPublisher) PublishCompleted(ctx context.Context, ev RecordCompleted) error {
	ev.Type = TypeRecordCompleted
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.RecordID, 10)),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Noop drops every event. Used when no brokers are configured.
type Noop struct{}

func (Noop) PublishCompleted(context.Context, RecordCompleted) error { return nil }
func (Noop) Close() error                                            { return nil }

// New returns a Kafka publisher, or Noop when brokers is empty.
func New(brokers []string, topic string) (Publisher, error) {
	if len(brokers) == 0 {
		return Noop{}, nil
	}
	return NewKafkaPublisher(brokers, topic)
}
