package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/chenzhangda16/web3-settle/internal/settle/model"
	"github.com/chenzhangda16/web3-settle/internal/settle/source"
	"github.com/chenzhangda16/web3-settle/pkg/rng"
)

var users = []string{"u1", "u2", "u3", "u4"}

func newGen(t *testing.T, seed int64, dup float64) *Generator {
	t.Helper()
	g, err := NewGenerator(Config{Users: users, MaxPoint: 50, DupRatio: dup}, rng.New(rng.Deterministic, seed))
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	return g
}

func TestGeneratorReplays(t *testing.T) {
	a, b := newGen(t, 9, 0.2), newGen(t, 9, 0.2)
	for i := 0; i < 50; i++ {
		x, _ := a.Next()
		y, _ := b.Next()
		if !reflect.DeepEqual(x, y) {
			t.Fatalf("draw %d differs:\n%+v\n%+v", i, x, y)
		}
	}
}

func TestGeneratedRequestsDecode(t *testing.T) {
	g := newGen(t, 1, 0)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		r, dup := g.Next()
		if dup {
			t.Fatalf("duplicate with ratio 0")
		}
		if seen[r.TagID] {
			t.Fatalf("tag %s reused", r.TagID)
		}
		seen[r.TagID] = true
		if r.FromUserID == r.ToUserID || r.Point < 1 || r.Point > 50 {
			t.Fatalf("request=%+v", r)
		}
		body, _ := json.Marshal(r)
		got, err := model.DecodeRequest(body)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.TagID != r.TagID || got.CoinCode != r.CoinCode {
			t.Fatalf("round trip changed request: %+v", got)
		}
	}
}

func TestDuplicatesReuseEarlierTags(t *testing.T) {
	g := newGen(t, 3, 1)
	first, dup := g.Next()
	if dup {
		t.Fatalf("first request cannot be a duplicate")
	}
	for i := 0; i < 5; i++ {
		r, dup := g.Next()
		if !dup || r.TagID != first.TagID {
			t.Fatalf("dup=%v tag=%s", dup, r.TagID)
		}
	}
}

func TestNewGeneratorValidates(t *testing.T) {
	f := rng.New(rng.Deterministic, 1)
	if _, err := NewGenerator(Config{Users: []string{"solo"}}, f); err == nil {
		t.Fatalf("single user accepted")
	}
	if _, err := NewGenerator(Config{Users: users, DupRatio: 1.5}, f); err == nil {
		t.Fatalf("ratio 1.5 accepted")
	}
}

type recordingPublisher struct {
	keys []string
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, _ []byte) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestRunCountsDuplicates(t *testing.T) {
	pub := &recordingPublisher{}
	st, err := Run(context.Background(), newGen(t, 5, 0.5), pub, 100, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Sent != 100 || len(pub.keys) != 100 {
		t.Fatalf("stats=%+v published=%d", st, len(pub.keys))
	}
	unique := map[string]bool{}
	for _, k := range pub.keys {
		unique[k] = true
	}
	if len(unique) != st.Sent-st.Duplicates {
		t.Fatalf("unique=%d stats=%+v", len(unique), st)
	}
}

func TestRunStopsOnPublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	st, err := Run(context.Background(), newGen(t, 5, 0), pub, 10, 0, zap.NewNop())
	if err == nil || st.Sent != 0 {
		t.Fatalf("stats=%+v err=%v", st, err)
	}
}

func TestKafkaPublisher(t *testing.T) {
	sp := mocks.NewSyncProducer(t, source.NewKafkaConfig())
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		if m.Topic != "transfers" {
			return errors.New("wrong topic " + m.Topic)
		}
		if k, _ := m.Key.Encode(); string(k) != "tag-1" {
			return errors.New("wrong key " + string(k))
		}
		return nil
	})
	sp.ExpectSendMessageAndFail(sarama.ErrNotEnoughReplicas)

	p := newKafkaPublisher("transfers", sp)
	if err := p.Publish(context.Background(), "tag-1", []byte(`{}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.Publish(context.Background(), "tag-2", []byte(`{}`)); !errors.Is(err, sarama.ErrNotEnoughReplicas) {
		t.Fatalf("err=%v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

type stubChannel struct {
	exchange, key string
	msg           amqp.Publishing
	closed        bool
}

func (c *stubChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange, c.key, c.msg = exchange, key, msg
	return nil
}

func (c *stubChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPPublisher(t *testing.T) {
	ch := &stubChannel{}
	p := &AMQPPublisher{ch: ch, exchange: "transfers"}
	if err := p.Publish(context.Background(), "tag-1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ch.exchange != "transfers" || ch.key != "tag-1" || ch.msg.DeliveryMode != amqp.Persistent || string(ch.msg.Body) != `{"a":1}` {
		t.Fatalf("published=%+v", ch)
	}
	if err := p.Close(); err != nil || !ch.closed {
		t.Fatalf("close: %v", err)
	}
}
