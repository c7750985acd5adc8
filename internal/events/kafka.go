package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/georoute-io/georoute/internal/logging"
)

// KafkaConfig configures a KafkaPublisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string

	// Partitions and ReplicationFactor apply when the topic is created.
	// Defaults: 3 and 1.
	Partitions        int32
	ReplicationFactor int16

	// DeliveryTimeout fails a record that could not be delivered in time
	// instead of retrying it forever. Default: 10s.
	DeliveryTimeout time.Duration

	Logger *logging.Logger
}

// KafkaPublisher produces events as JSON records keyed by job id, so every
// event of one job lands on the same partition in order.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *logging.Logger
}

// NewKafkaPublisher connects to the brokers and creates the topic if it does
// not exist.
func NewKafkaPublisher(ctx context.Context, cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("events: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("events: topic is required")
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 3
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 1
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.DefaultLogger()
	}

	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	if err := ensureTopic(ctx, kadm.NewClient(client), cfg.Topic, cfg.Partitions, cfg.ReplicationFactor); err != nil {
		client.Close()
		return nil, err
	}

	return &KafkaPublisher{
		client: client,
		topic:  cfg.Topic,
		logger: cfg.Logger.WithComponent("events"),
	}, nil
}

func newClient(cfg KafkaConfig) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("events: create kafka client: %w", err)
	}
	return client, nil
}

func ensureTopic(ctx context.Context, admin *kadm.Client, topic string, partitions int32, rf int16) error {
	resp, err := admin.CreateTopics(ctx, partitions, rf, nil, topic)
	if err != nil {
		return fmt.Errorf("events: create topic %s: %w", topic, err)
	}
	for _, t := range resp {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("events: create topic %s: %w", t.Topic, t.Err)
		}
	}
	return nil
}

// Publish produces e synchronously. It returns once the record is acked,
// ctx is done or the delivery timeout passes.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	rec, err := newRecord(p.topic, e)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("events: produce %s for job %s: %w", e.Type, e.JobID, err)
	}
	return nil
}

func newRecord(topic string, e Event) (*kgo.Record, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("events: encode: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(e.JobID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(e.Type)},
		},
	}, nil
}

// Close flushes buffered records and closes the client.
func (p *KafkaPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warnf("flush on close failed", map[string]any{"error": err.Error()})
	}
	p.client.Close()
	return nil
}
