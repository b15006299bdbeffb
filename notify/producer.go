package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/warp/eggstand/config"
)

// Producer publishes one encoded notice.
type Producer interface {
	SendMessage(ctx context.Context, key []byte, value []byte) error
	Close() error
}

// messageWriter is the slice of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer writes notices to a single topic keyed by order ID, so all
// notices for one order land on the same partition in order.
type KafkaProducer struct {
	w messageWriter
}

func NewKafkaProducer(cfg config.KafkaConfig) *KafkaProducer {
	return &KafkaProducer{w: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.BrokerList()...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           cfg.WriteTimeout,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

func newKafkaProducerWithWriter(w messageWriter) *KafkaProducer {
	return &KafkaProducer{w: w}
}

func (p *KafkaProducer) SendMessage(ctx context.Context, key []byte, value []byte) error {
	if err := p.w.WriteMessages(ctx, kafka.Message{Key: key, Value: value}); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *KafkaProducer) Close() error { return p.w.Close() }

// LogProducer writes notices to the log. Used when no broker is configured.
type LogProducer struct {
	log *zap.Logger
}

func NewLogProducer(log *zap.Logger) *LogProducer {
	return &LogProducer{log: log.Named("notify")}
}

func (p *LogProducer) SendMessage(ctx context.Context, key []byte, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.log.Info("customer notice",
		zap.ByteString("key", key),
		zap.ByteString("payload", value),
	)
	return nil
}

func (p *LogProducer) Close() error { return nil }
