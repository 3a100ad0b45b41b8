package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// RedeliveryHeader carries the nack count of a republished record.
const RedeliveryHeader = "x-redeliveries"

type KafkaConfig struct {
	// URL is a comma separated broker list, optionally prefixed with kafka://.
	URL   string
	Topic string
	Group string
}

type kafkaHandle struct {
	sess sarama.ConsumerGroupSession
	msg  *sarama.ConsumerMessage
}

// Kafka consumes a topic through a consumer group. Ack marks the offset; Nack
// republishes the payload to the tail of the same topic and then marks it, so
// the record is seen again without blocking its partition.
type Kafka struct {
	topic    string
	group    sarama.ConsumerGroup
	producer sarama.SyncProducer
	log      *zap.Logger

	msgs   chan *Message
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewKafkaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 10
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	return cfg
}

func KafkaBrokers(url string) []string {
	return splitCSV(strings.TrimPrefix(url, "kafka://"))
}

func NewKafka(c KafkaConfig, log *zap.Logger) (*Kafka, error) {
	if c.Topic == "" {
		return nil, errors.New("kafka: topic empty")
	}
	brokers := KafkaBrokers(c.URL)
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers")
	}
	cfg := NewKafkaConfig()

	group, err := sarama.NewConsumerGroup(brokers, c.Group, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer group: %w", err)
	}
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		_ = group.Close()
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return newKafka(c.Topic, group, producer, log), nil
}

func newKafka(topic string, group sarama.ConsumerGroup, producer sarama.SyncProducer, log *zap.Logger) *Kafka {
	ctx, cancel := context.WithCancel(context.Background())
	k := &Kafka{
		topic:    topic,
		group:    group,
		producer: producer,
		log:      log,
		msgs:     make(chan *Message),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go k.consume(ctx)
	return k
}

func (k *Kafka) consume(ctx context.Context) {
	defer close(k.done)
	go func() {
		for err := range k.group.Errors() {
			k.log.Warn("consumer group error", zap.Error(err))
		}
	}()
	for ctx.Err() == nil {
		if err := k.group.Consume(ctx, []string{k.topic}, k); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			k.log.Warn("consume failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(300 * time.Millisecond):
			}
		}
	}
}

func (k *Kafka) Setup(sess sarama.ConsumerGroupSession) error {
	k.log.Info("session established", zap.Any("claims", sess.Claims()), zap.String("member", sess.MemberID()))
	return nil
}

func (k *Kafka) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (k *Kafka) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		m := &Message{
			Body:         append([]byte(nil), msg.Value...),
			Key:          string(msg.Key),
			Redeliveries: redeliveries(msg.Headers),
			handle:       kafkaHandle{sess: sess, msg: msg},
		}
		select {
		case k.msgs <- m:
		case <-sess.Context().Done():
			return nil
		}
	}
	return nil
}

func redeliveries(hs []*sarama.RecordHeader) int {
	for _, h := range hs {
		if h != nil && string(h.Key) == RedeliveryHeader {
			n, _ := strconv.Atoi(string(h.Value))
			return n
		}
	}
	return 0
}

func (k *Kafka) Receive(ctx context.Context) (*Message, error) {
	select {
	case m := <-k.msgs:
		return m, nil
	case <-k.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (k *Kafka) Ack(_ context.Context, m *Message) error {
	h, ok := m.handle.(kafkaHandle)
	if !ok {
		return errors.New("kafka: foreign message")
	}
	h.sess.MarkMessage(h.msg, "")
	return nil
}

func (k *Kafka) Nack(ctx context.Context, m *Message) error {
	h, ok := m.handle.(kafkaHandle)
	if !ok {
		return errors.New("kafka: foreign message")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	headers := make([]sarama.RecordHeader, 0, len(h.msg.Headers)+1)
	for _, rh := range h.msg.Headers {
		if rh != nil && string(rh.Key) != RedeliveryHeader {
			headers = append(headers, *rh)
		}
	}
	headers = append(headers, sarama.RecordHeader{
		Key:   []byte(RedeliveryHeader),
		Value: []byte(strconv.Itoa(m.Redeliveries + 1)),
	})
	pm := &sarama.ProducerMessage{
		Topic:   k.topic,
		Value:   sarama.ByteEncoder(m.Body),
		Headers: headers,
	}
	if len(h.msg.Key) > 0 {
		pm.Key = sarama.ByteEncoder(h.msg.Key)
	}
	if _, _, err := k.producer.SendMessage(pm); err != nil {
		return fmt.Errorf("kafka nack republish: %w", err)
	}
	h.sess.MarkMessage(h.msg, "")
	return nil
}

func (k *Kafka) Close() error {
	var err error
	k.once.Do(func() {
		k.cancel()
		gerr := k.group.Close()
		<-k.done
		perr := k.producer.Close()
		err = errors.Join(gerr, perr)
	})
	return err
}
