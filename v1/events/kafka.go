package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	sarama "github.com/IBM/sarama"
)

const defaultTopic = "shelf-events"

// KafkaBus publishes events to a single-partition Kafka topic. One partition
// consumer is shared by all local subscribers.
type KafkaBus struct {
	producer sarama.SyncProducer
	consumer sarama.Consumer
	topic    string
	local    *InMemoryBus

	mu   sync.Mutex
	pc   sarama.PartitionConsumer
	done chan struct{}
}

// NewKafka connects to brokers. An empty topic selects "shelf-events".
func NewKafka(brokers []string, cfg *sarama.Config, topic string) (*KafkaBus, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, err
	}
	return newKafka(producer, consumer, topic), nil
}

func newKafka(producer sarama.SyncProducer, consumer sarama.Consumer, topic string) *KafkaBus {
	if topic == "" {
		topic = defaultTopic
	}
	return &KafkaBus{producer: producer, consumer: consumer, topic: topic, local: NewInMemory()}
}

// Publish implements Bus.Publish.
func (b *KafkaBus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, _, err = b.producer.SendMessage(&sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(ev.Type),
		Value: sarama.ByteEncoder(data),
	})
	return err
}

// Subscribe implements Bus.Subscribe. Only events produced after the first
// subscription are delivered.
func (b *KafkaBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	b.mu.Lock()
	if b.pc == nil {
		pc, err := b.consumer.ConsumePartition(b.topic, 0, sarama.OffsetNewest)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		b.pc = pc
		b.done = make(chan struct{})
		go b.dispatch(pc, b.done)
	}
	b.mu.Unlock()
	return b.local.Subscribe(ctx)
}

func (b *KafkaBus) dispatch(pc sarama.PartitionConsumer, done chan struct{}) {
	defer close(done)
	for msg := range pc.Messages() {
		var ev Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			slog.Warn("Dropping malformed event.", "topic", b.topic, "offset", msg.Offset, "error", err)
			continue
		}
		_ = b.local.Publish(context.Background(), ev)
	}
}

// Close releases the producer and the consumer.
func (b *KafkaBus) Close() {
	b.mu.Lock()
	pc, done := b.pc, b.done
	b.pc = nil
	b.mu.Unlock()
	if pc != nil {
		_ = pc.Close()
		<-done
	}
	_ = b.producer.Close()
	_ = b.consumer.Close()
}
