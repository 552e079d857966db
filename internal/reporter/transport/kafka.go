package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"
)

const (
	defaultKafkaBatchTimeout = 100 * time.Millisecond
	defaultKafkaWriteTimeout = 5 * time.Second
	defaultKafkaMaxAttempts  = 3
)

// KafkaOptions configures the Kafka transport.
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	Compression  string // none | gzip | snappy | lz4
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	MaxAttempts  int
}

// Kafka writes every container as one message on a topic.
type Kafka struct {
	writer  *kafka.Writer
	timeout time.Duration
}

// NewKafka creates the writer. Brokers are dialed on the first send.
func NewKafka(opts KafkaOptions) (*Kafka, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("kafka transport: at least one broker is required")
	}
	if opts.Topic == "" {
		return nil, errors.New("kafka transport: topic is required")
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = defaultKafkaBatchTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultKafkaWriteTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultKafkaMaxAttempts
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: opts.BatchTimeout,
		WriteTimeout: opts.WriteTimeout,
		MaxAttempts:  opts.MaxAttempts,
		RequiredAcks: kafka.RequireOne,
	}
	switch opts.Compression {
	case "none", "":
	case "gzip":
		w.Compression = compress.Gzip
	case "snappy":
		w.Compression = compress.Snappy
	case "lz4":
		w.Compression = compress.Lz4
	default:
		return nil, fmt.Errorf("kafka transport: invalid compression type: %s", opts.Compression)
	}
	return &Kafka{writer: w, timeout: opts.WriteTimeout}, nil
}

func (k *Kafka) Name() string { return "kafka" }

// Send blocks until the broker acknowledged b or the write timed out.
func (k *Kafka) Send(b []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, kafka.Message{Value: b}); err != nil {
		return &Error{Transport: k.Name(), Err: err}
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
