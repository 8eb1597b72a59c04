package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/igormart21/milha-alerta-fly/internal/events"
)

// KafkaSink publishes events to one topic keyed by alert id, so events of an alert stay ordered.
type KafkaSink struct {
	topic    string
	producer sarama.SyncProducer
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka sink requires a topic")
	}

	prod, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("create sarama sync producer: %w", err)
	}

	return newKafkaSink(prod, topic), nil
}

// ProducerConfig is the sarama configuration used by the sink.
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "milha-alerta"
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 500 * time.Millisecond
	return cfg
}

func newKafkaSink(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{topic: topic, producer: producer}
}

func (k *KafkaSink) Name() string { return KindKafka }

func (k *KafkaSink) Publish(ctx context.Context, e events.Event) error {
	b, err := Encode(e)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(e.AlertID()),
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(e.Type)},
		},
		Timestamp: e.Timestamp,
	}

	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send kafka message: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.producer.Close()
}
