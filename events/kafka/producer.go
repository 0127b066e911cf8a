package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	defaultWorkerNum = 4
	defaultQueueSize = 256
	writeTimeout     = 10 * time.Second
)

// Sender delivers one keyed message to a topic.
type Sender interface {
	Send(topic, key string, value any) error
}

// Producer writes messages to Kafka through a small worker pool so publishers never block
// on the broker.
type Producer struct {
	writer    *kafka.Writer
	logger    zerolog.Logger
	jobs      chan kafka.Message
	workerNum int
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// ProducerConfig holds configuration for Kafka producer
type ProducerConfig struct {
	Brokers   []string
	Logger    zerolog.Logger
	WorkerNum int
	QueueSize int
}

// NewProducer creates a producer and starts its workers. It returns nil when no broker is configured.
func NewProducer(config ProducerConfig) *Producer {
	if len(config.Brokers) == 0 {
		return nil
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: writeTimeout,
		ReadTimeout:  writeTimeout,
	}

	workerNum := config.WorkerNum
	if workerNum <= 0 {
		workerNum = defaultWorkerNum
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	p := &Producer{
		writer:    writer,
		logger:    logging.WithComponent(config.Logger, "kafka_producer"),
		jobs:      make(chan kafka.Message, queueSize),
		workerNum: workerNum,
	}
	for range workerNum {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Producer) worker() {
	defer p.wg.Done()
	for msg := range p.jobs {
		p.write(msg)
	}
}

func (p *Producer) write(msg kafka.Message) {
	defer p.recover(msg.Topic)

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().
			Err(err).
			Str("topic", msg.Topic).
			Str("key", string(msg.Key)).
			Msg("Failed to send message to Kafka")
		return
	}
	p.logger.Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Msg("Message sent to Kafka")
}

// Send queues a JSON encoded message. Ordering per key is kept by the hash balancer.
func (p *Producer) Send(topic, key string, value any) error {
	msg, err := encode(topic, key, value)
	if err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return apperrors.New(apperrors.ErrKafkaError, "kafka producer is closed")
	}
	p.jobs <- msg
	return nil
}

// SendSync writes a message and waits for the broker acknowledgement.
func (p *Producer) SendSync(ctx context.Context, topic, key string, value any) error {
	msg, err := encode(topic, key, value)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Str("key", key).Msg("Failed to send message to Kafka")
		return apperrors.Wrap(err, apperrors.ErrKafkaError, "failed to send message")
	}
	return nil
}

// Close drains the queue and closes the writer.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	if err := p.writer.Close(); err != nil {
		p.logger.Error().Err(err).Msg("Error closing Kafka producer")
		return err
	}
	return nil
}

func (p *Producer) recover(topic string) {
	if r := recover(); r != nil {
		p.logger.Error().
			Str("topic", topic).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack_trace", string(debug.Stack())).
			Msg("Panic recovered")
	}
}

func encode(topic, key string, value any) (kafka.Message, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return kafka.Message{}, apperrors.Wrap(err, apperrors.ErrKafkaError, "failed to marshal message")
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: b,
		Time:  time.Now(),
	}, nil
}
