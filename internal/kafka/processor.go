// Package kafka runs the consumer that feeds scan results into reconciliation.
package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ortelius/pdvd-ledger/events/modules/transitions"
	"github.com/ortelius/pdvd-ledger/model"
	"github.com/ortelius/pdvd-ledger/util"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"
)

// ProcessorConfig locates the topic to consume
type ProcessorConfig struct {
	Brokers []string
	GroupID string
	Topic   string
	// Redelivery paces retries of a message that failed transiently;
	// nil retries with exponential backoff until it succeeds
	Redelivery backoff.BackOff
}

// ErrNoBrokers is returned when no broker address is configured
var ErrNoBrokers = errors.New("no kafka brokers configured")

func redelivery(cfg ProcessorConfig) backoff.BackOff {
	if cfg.Redelivery != nil {
		return cfg.Redelivery
	}
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	return b
}

// NewDialer builds the dialer for brokers. SASL/PLAIN over TLS is used when
// KAFKA_API_KEY and KAFKA_API_SECRET are set.
func NewDialer() *kafka.Dialer {
	username := os.Getenv("KAFKA_API_KEY")
	password := os.Getenv("KAFKA_API_SECRET")

	if username != "" && password != "" {
		return &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
			SASLMechanism: plain.Mechanism{
				Username: username,
				Password: password,
			},
			TLS: &tls.Config{}, // Confluent Cloud requires TLS
		}
	}

	// Default dialer for local development (no SASL/TLS)
	return &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
}

// RunEventProcessor checks the broker is reachable and starts consuming scan
// results in the background until ctx is cancelled
func RunEventProcessor(ctx context.Context, cfg ProcessorConfig, service transitions.ScanService, logger *zap.Logger) error {
	var brokers []string
	for _, b := range cfg.Brokers {
		if !util.IsEmpty(b) {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return ErrNoBrokers
	}
	cfg.Brokers = brokers
	dialer := NewDialer()

	var err error
	for i := 1; i <= 3; i++ {
		logger.Info("Kafka connection attempt", zap.Int("attempt", i), zap.Int("of", 3))
		var conn *kafka.Conn
		conn, err = dialer.DialContext(ctx, "tcp", cfg.Brokers[0])
		if err == nil {
			conn.Close()
			break
		}
		if i < 3 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MaxBytes: 10e6,
		Dialer:   dialer,
	})

	go func() {
		defer reader.Close()
		logger.Info("Kafka Event Processor started. Listening for scan results...", zap.String("topic", cfg.Topic))
		consume(ctx, reader, service, redelivery(cfg), logger)
	}()

	return nil
}

// messageReader is the part of kafka.Reader the loop uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// consume handles messages one at a time. A message is committed once it
// succeeded or was rejected for good, so a poison message cannot stall the
// partition while a storage outage does not lose the scan.
func consume(ctx context.Context, reader messageReader, service transitions.ScanService, redeliver backoff.BackOff, logger *zap.Logger) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("Failed to fetch message", zap.Error(err))
			continue
		}
		if !handle(ctx, msg, service, redeliver, logger) {
			return
		}
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Warn("Failed to commit message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// handle retries transient failures of msg in place. It reports false when
// ctx ended first, leaving msg uncommitted for the next consumer.
func handle(ctx context.Context, msg kafka.Message, service transitions.ScanService, redeliver backoff.BackOff, logger *zap.Logger) bool {
	operation := func() error {
		err := transitions.HandleScanResultsWithService(ctx, msg.Value, service, logger)
		if err != nil && !model.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.RetryNotify(operation, backoff.WithContext(redeliver, ctx), func(err error, wait time.Duration) {
		logger.Warn("Retrying scan results", zap.Int64("offset", msg.Offset), zap.Duration("wait", wait), zap.Error(err))
	})
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		logger.Error("Failed to process scan results",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
	}
	return true
}
