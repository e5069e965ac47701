package output

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"github.com/LinkTsang/go-sniffer/internal/record"
)

var ErrOutputClosed = errors.New("output closed")

// KafkaOutput mirrors every packet to a topic, keyed by packet identifier.
// Consume after Close fails with ErrPersistence instead of touching the
// closed producer.
type KafkaOutput struct {
	producer sarama.SyncProducer
	topic    string

	mu     sync.RWMutex
	closed bool
}

func NewKafkaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	return config
}

func NewKafkaOutput(brokers []string, topic string) (*KafkaOutput, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewKafkaConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to kafka %v: %w", brokers, err)
	}
	return NewKafkaOutputWithProducer(producer, topic), nil
}

func NewKafkaOutputWithProducer(producer sarama.SyncProducer, topic string) *KafkaOutput {
	return &KafkaOutput{
		producer: producer,
		topic:    topic,
	}
}

func (k *KafkaOutput) Consume(r *record.Record) error {
	if r == nil {
		return fmt.Errorf("%w: empty record", ErrPersistence)
	}
	message := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(r.ID),
		Value: sarama.StringEncoder(base64.StdEncoding.EncodeToString(r.Payload)),
		Headers: []sarama.RecordHeader{
			{Key: []byte("source"), Value: []byte(r.Source.String())},
			{Key: []byte("destination"), Value: []byte(r.Source.Opposite().String())},
		},
		Timestamp: r.Timestamp,
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return fmt.Errorf("%w: %s: kafka: %w", ErrPersistence, r.ID, ErrOutputClosed)
	}
	if _, _, err := k.producer.SendMessage(message); err != nil {
		return fmt.Errorf("%w: %s: kafka: %w", ErrPersistence, r.ID, err)
	}
	return nil
}

// Close waits for in-flight sends. Closing twice is a no-op.
func (k *KafkaOutput) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.producer.Close()
}
