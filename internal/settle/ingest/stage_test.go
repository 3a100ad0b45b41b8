package ingest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/chenzhangda16/web3-settle/internal/settle/dispatch"
	"github.com/chenzhangda16/web3-settle/internal/settle/faults"
	"github.com/chenzhangda16/web3-settle/internal/settle/ledger"
	"github.com/chenzhangda16/web3-settle/internal/settle/metrics"
	"github.com/chenzhangda16/web3-settle/internal/settle/model"
	"github.com/chenzhangda16/web3-settle/internal/settle/source"
	"github.com/chenzhangda16/web3-settle/internal/settle/spool"
)

func payload(tag string) []byte {
	return []byte(fmt.Sprintf(`{"from_user_id":"u1","to_user_id":"u2","order_id":"o-%s","point":10,"coin_code":"token_b","gen_time":1700000000000,"tag_id":%q}`, tag, tag))
}

type recordingSpool struct {
	mu   sync.Mutex
	recs []spool.Record
}

func (s *recordingSpool) Append(r spool.Record) error {
	s.mu.Lock()
	s.recs = append(s.recs, r)
	s.mu.Unlock()
	return nil
}
func (s *recordingSpool) Close() error { return nil }

type harness struct {
	src   *source.Memory
	store *ledger.Memory
	ch    *dispatch.Channel
	spool *recordingSpool
	stage *Stage
}

func newHarness(payloads ...[]byte) *harness {
	h := &harness{
		src:   source.NewMemory(payloads...),
		store: ledger.NewMemory(),
		ch:    dispatch.New(16),
		spool: &recordingSpool{},
	}
	h.stage = New(h.src, h.store, h.ch, h.spool, metrics.New(), zap.NewNop())
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	_ = h.src.Close()
	if err := h.stage.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func (h *harness) forwarded() []string {
	var out []string
	for h.ch.Len() > 0 {
		r, _ := h.ch.Recv(context.Background())
		out = append(out, r.TagID)
	}
	return out
}

func TestForwardsInReceiveOrder(t *testing.T) {
	h := newHarness(payload("t1"), payload("t2"), payload("t3"))
	h.run(t)

	if got := h.forwarded(); !reflect.DeepEqual(got, []string{"t1", "t2", "t3"}) {
		t.Fatalf("forwarded=%v", got)
	}
	if got := h.store.Tags(); !reflect.DeepEqual(got, []string{"t1", "t2", "t3"}) {
		t.Fatalf("inserted=%v", got)
	}
	if len(h.src.Acks()) != 3 || len(h.src.Nacks()) != 0 {
		t.Fatalf("acks=%d nacks=%d", len(h.src.Acks()), len(h.src.Nacks()))
	}
}

func TestDuplicateIsAckedNotForwarded(t *testing.T) {
	h := newHarness(payload("t1"), payload("t1"))
	h.run(t)

	if got := h.forwarded(); !reflect.DeepEqual(got, []string{"t1"}) {
		t.Fatalf("forwarded=%v", got)
	}
	if inserts, _ := h.store.Counts(); inserts != 1 {
		t.Fatalf("inserts=%d", inserts)
	}
	if len(h.src.Acks()) != 2 {
		t.Fatalf("acks=%d", len(h.src.Acks()))
	}
}

func TestDecodeFailureIsSpooledAndNacked(t *testing.T) {
	bad := []byte(`{"tag_id":"t9","point":-4,"from_user_id":"a","to_user_id":"b"}`)
	h := newHarness([]byte("{not json"), bad)
	h.run(t)

	if got := h.forwarded(); len(got) != 0 {
		t.Fatalf("forwarded=%v", got)
	}
	if len(h.store.Tags()) != 0 {
		t.Fatalf("ledger written for undecodable payload")
	}
	if got := h.src.Nacks(); len(got) != 2 {
		t.Fatalf("nacks=%v", got)
	}
	if len(h.spool.recs) != 2 || string(h.spool.recs[1].Body) != string(bad) || h.spool.recs[1].Reason == "" {
		t.Fatalf("spool=%+v", h.spool.recs)
	}
}

func TestStoreErrorNacks(t *testing.T) {
	h := newHarness(payload("t1"))
	h.store.InsertErr = faults.New(faults.KindStoreAccess, errors.New("connection reset"))
	h.run(t)

	if got := h.forwarded(); len(got) != 0 {
		t.Fatalf("forwarded=%v", got)
	}
	if len(h.src.Nacks()) != 1 || len(h.src.Acks()) != 0 {
		t.Fatalf("acks=%v nacks=%v", h.src.Acks(), h.src.Nacks())
	}
}

func TestAckFailureStillForwards(t *testing.T) {
	h := newHarness(payload("t1"))
	h.src.AckErr = errors.New("broker gone")
	h.run(t)

	if got := h.forwarded(); !reflect.DeepEqual(got, []string{"t1"}) {
		t.Fatalf("forwarded=%v", got)
	}
}

func TestClosedChannelIsFatal(t *testing.T) {
	h := newHarness(payload("t1"), payload("t2"))
	h.ch.Close()
	_ = h.src.Close()

	err := h.stage.Run(context.Background())
	if !errors.Is(err, dispatch.ErrClosed) {
		t.Fatalf("err=%v", err)
	}
	// the first request is recorded and acked before the failed hand-off
	if got := h.store.Tags(); !reflect.DeepEqual(got, []string{"t1"}) {
		t.Fatalf("inserted=%v", got)
	}
	if h.src.Pending() != 1 {
		t.Fatalf("stage kept consuming after fatal error")
	}
}

func TestNackFailureStopsBeforeLaterAck(t *testing.T) {
	cases := []struct {
		name  string
		first []byte
		setup func(h *harness)
	}{
		{name: "decode", first: []byte("{not json")},
		{name: "insert", first: payload("t1"), setup: func(h *harness) {
			h.store.InsertErr = faults.New(faults.KindStoreAccess, errors.New("connection reset"))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(tc.first, payload("t2"))
			if tc.setup != nil {
				tc.setup(h)
			}
			h.src.NackErr = errors.New("republish: out of brokers")
			_ = h.src.Close()

			if err := h.stage.Run(context.Background()); err == nil {
				t.Fatalf("expected error")
			}
			if len(h.src.Nacks()) != 1 || len(h.src.Acks()) != 0 {
				t.Fatalf("acks=%v nacks=%v", h.src.Acks(), h.src.Nacks())
			}
			if h.src.Pending() != 1 {
				t.Fatalf("stage kept consuming after failed nack")
			}
			if got := h.forwarded(); len(got) != 0 {
				t.Fatalf("forwarded=%v", got)
			}
		})
	}
}

// orderCheck asserts at hand-off time that the row is pending and the message
// already acked.
type orderCheck struct {
	h    *harness
	mu   sync.Mutex
	errs []string
	sent []string
}

func (o *orderCheck) Send(ctx context.Context, req model.TransferRequest) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.h.store.Entry(req.TagID)
	switch {
	case !ok:
		o.errs = append(o.errs, req.TagID+": forwarded before insert")
	case e.Status != model.StatusPending:
		o.errs = append(o.errs, req.TagID+": row is "+string(e.Status))
	}
	acked := false
	for _, a := range o.h.src.Acks() {
		if a == string(payload(req.TagID)) {
			acked = true
		}
	}
	if !acked {
		o.errs = append(o.errs, req.TagID+": forwarded before ack")
	}
	o.sent = append(o.sent, req.TagID)
	return o.h.ch.Send(ctx, req)
}

func TestInsertAndAckPrecedeForward(t *testing.T) {
	h := newHarness(payload("t1"), payload("t2"), payload("t1"), payload("t3"))
	fwd := &orderCheck{h: h}
	h.stage = New(h.src, h.store, fwd, h.spool, metrics.New(), zap.NewNop())
	h.run(t)

	if len(fwd.errs) != 0 {
		t.Fatalf("ordering: %v", fwd.errs)
	}
	if !reflect.DeepEqual(fwd.sent, []string{"t1", "t2", "t3"}) {
		t.Fatalf("sent=%v", fwd.sent)
	}
}

func TestCancelledContextEndsRun(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.stage.Run(ctx); err != nil {
		t.Fatalf("err=%v", err)
	}
}
