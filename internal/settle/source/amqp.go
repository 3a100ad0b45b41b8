package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type AMQPConfig struct {
	URL string
	// Topic names a durable topic exchange; Subscription names the durable
	// queue bound to it with "#".
	Topic        string
	Subscription string
	Prefetch     int
}

// acker is the slice of amqp.Acknowledger a delivery needs; tests stub it.
type acker interface {
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
}

type amqpHandle struct {
	ack acker
	tag uint64
}

type AMQP struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	tag  string
	log  *zap.Logger

	deliveries <-chan amqp.Delivery
	once       sync.Once
}

func SanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %s", u.Scheme)
	}
	return clean, nil
}

func NewAMQP(c AMQPConfig, log *zap.Logger) (*AMQP, error) {
	cleanURL, err := SanitizeAMQPURL(c.URL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	a := &AMQP{conn: conn, ch: ch, tag: "settler-" + uuid.NewString(), log: log}
	if err := a.subscribe(c); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *AMQP) subscribe(c AMQPConfig) error {
	if err := a.ch.ExchangeDeclare(c.Topic, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", c.Topic, err)
	}
	q, err := a.ch.QueueDeclare(c.Subscription, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", c.Subscription, err)
	}
	if err := a.ch.QueueBind(q.Name, "#", c.Topic, false, nil); err != nil {
		return fmt.Errorf("bind %s to %s: %w", q.Name, c.Topic, err)
	}
	if c.Prefetch > 0 {
		if err := a.ch.Qos(c.Prefetch, 0, false); err != nil {
			return fmt.Errorf("qos: %w", err)
		}
	}
	msgs, err := a.ch.Consume(q.Name, a.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}
	a.deliveries = msgs
	a.log.Info("subscribed", zap.String("exchange", c.Topic), zap.String("queue", q.Name), zap.String("consumer_tag", a.tag))
	return nil
}

func (a *AMQP) Receive(ctx context.Context) (*Message, error) {
	select {
	case d, ok := <-a.deliveries:
		if !ok {
			return nil, ErrClosed
		}
		return fromDelivery(d), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func fromDelivery(d amqp.Delivery) *Message {
	m := &Message{
		Body:   d.Body,
		Key:    d.MessageId,
		handle: amqpHandle{ack: d.Acknowledger, tag: d.DeliveryTag},
	}
	if d.Redelivered {
		m.Redeliveries = 1
	}
	return m
}

func (a *AMQP) Ack(_ context.Context, m *Message) error {
	h, ok := m.handle.(amqpHandle)
	if !ok {
		return errors.New("amqp: foreign message")
	}
	return h.ack.Ack(h.tag, false)
}

func (a *AMQP) Nack(_ context.Context, m *Message) error {
	h, ok := m.handle.(amqpHandle)
	if !ok {
		return errors.New("amqp: foreign message")
	}
	return h.ack.Nack(h.tag, false, true)
}

func (a *AMQP) Close() error {
	var err error
	a.once.Do(func() {
		if a.ch != nil {
			if a.deliveries != nil {
				_ = a.ch.Cancel(a.tag, false)
			}
			err = a.ch.Close()
		}
		if a.conn != nil {
			err = errors.Join(err, a.conn.Close())
		}
	})
	return err
}
