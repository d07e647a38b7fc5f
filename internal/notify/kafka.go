package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaMailer queues messages on a Kafka topic; cmd/worker consumes them and delivers through a
// real transport. Keying by first recipient keeps one address's mail ordered.
type KafkaMailer struct {
	writer messageWriter
	from   string
}

// messageWriter is the part of *kafka.Writer the mailer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaMailer returns a mailer writing to topic. Call Close on shutdown.
func NewKafkaMailer(brokers []string, topic, from string) (*KafkaMailer, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("notify: kafka brokers and topic are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaMailer(w, from), nil
}

func newKafkaMailer(w messageWriter, from string) *KafkaMailer {
	return &KafkaMailer{writer: w, from: from}
}

// Send serializes msg as JSON and writes it to the topic, waiting at most 5s.
func (m *KafkaMailer) Send(ctx context.Context, msg Message) error {
	msg = withFrom(msg, m.from)
	if err := msg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.writer.WriteMessages(writeCtx, kafka.Message{Key: []byte(msg.To[0]), Value: payload})
}

// Close flushes and closes the writer. Safe on nil.
func (m *KafkaMailer) Close() error {
	if m == nil || m.writer == nil {
		return nil
	}
	return m.writer.Close()
}

// DecodeQueued parses a message value written by KafkaMailer.
func DecodeQueued(value []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(value, &msg); err != nil {
		return Message{}, err
	}
	return msg, msg.Validate()
}
