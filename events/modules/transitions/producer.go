package transitions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/ortelius/pdvd-ledger/model"
	"github.com/segmentio/kafka-go"
)

// Producer writes events to a Kafka topic
type Producer struct {
	Writer *kafka.Writer
}

// NewProducer initializes a new Kafka writer for topic
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		Writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

// Publish sends a transition event. Events are keyed by finding so a
// consumer sees the transitions of one finding in order.
func (p *Producer) Publish(ctx context.Context, event model.TransitionApplied) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.FindingID),
		Value: payload,
	})
}

// PublishScanResults sends the results of a scanner run
func (p *Producer) PublishScanResults(ctx context.Context, scan model.ScanRequest) error {
	event := ScanResultsEvent{
		EventType:     ScanResultsEventType,
		EventID:       uuid.New().String(),
		EventTime:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		Scan:          scan,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(scan.FindingID),
		Value: payload,
	})
}

// Close cleans up the Kafka writer
func (p *Producer) Close() error {
	return p.Writer.Close()
}
