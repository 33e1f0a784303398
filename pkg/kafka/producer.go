package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type Producer interface {
	SendMessage(ctx context.Context, key string, message interface{}) error
	Close() error
}

type kafkaProducer struct {
	writer *kafka.Writer
}

// NewProducer подключается к брокеру и создает топик. Если Kafka недоступна,
// возвращает producer, который только пишет сообщения в лог.
func NewProducer(brokers, topic string) Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := kafka.DialContext(ctx, "tcp", brokers)
	if err != nil {
		logrus.Warnf("Kafka connection failed: %v, using log producer instead", err)
		return NewLogProducer(topic)
	}
	defer conn.Close()

	err = conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		logrus.Debugf("Could not create topic %s (might already exist): %v", topic, err)
	}

	logrus.WithField("brokers", brokers).Info("Connected to Kafka")
	return &kafkaProducer{writer: writer}
}

func (p *kafkaProducer) SendMessage(ctx context.Context, key string, message interface{}) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	// ключ по событию держит переходы одной очереди в одной партиции
	msg := kafka.Message{
		Key:   []byte(key),
		Value: messageBytes,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return err
	}
	return nil
}

func (p *kafkaProducer) Close() error {
	return p.writer.Close()
}

// logProducer для работы без Kafka
type logProducer struct {
	topic string
}

func NewLogProducer(topic string) Producer {
	return &logProducer{topic: topic}
}

func (m *logProducer) SendMessage(_ context.Context, key string, message interface{}) error {
	logrus.WithFields(logrus.Fields{
		"topic":   m.topic,
		"key":     key,
		"message": message,
	}).Info("kafka disabled, message logged")
	return nil
}

func (m *logProducer) Close() error {
	return nil
}
