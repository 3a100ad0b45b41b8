package loadgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/chenzhangda16/web3-settle/internal/settle/source"
)

type Publisher interface {
	Publish(ctx context.Context, key string, body []byte) error
	Close() error
}

type KafkaPublisher struct {
	topic string
	sp    sarama.SyncProducer
}

func NewKafkaPublisher(url, topic string) (*KafkaPublisher, error) {
	if topic == "" {
		return nil, errors.New("topic empty")
	}
	brokers := source.KafkaBrokers(url)
	if len(brokers) == 0 {
		return nil, errors.New("no brokers")
	}
	cfg := source.NewKafkaConfig()
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	sp, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return newKafkaPublisher(topic, sp), nil
}

func newKafkaPublisher(topic string, sp sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{topic: topic, sp: sp}
}

// Publish waits for the broker ack. sarama takes no context, so ctx is only
// checked before the send.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := p.sp.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(body),
	})
	return err
}

func (p *KafkaPublisher) Close() error { return p.sp.Close() }

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes to the durable topic exchange the settler's queue
// is bound to, routing by tag.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	clean, err := source.SanitizeAMQPURL(url)
	if err != nil {
		return nil, err
	}
	conn, err := amqp.DialConfig(clean, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, key string, body []byte) error {
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    key,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}
