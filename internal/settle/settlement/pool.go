// Package settlement runs the worker pool that turns pending ledger rows into
// broadcast transfers and records exactly one outcome per row.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chenzhangda16/web3-settle/internal/settle/dispatch"
	"github.com/chenzhangda16/web3-settle/internal/settle/faults"
	"github.com/chenzhangda16/web3-settle/internal/settle/ledger"
	"github.com/chenzhangda16/web3-settle/internal/settle/metrics"
	"github.com/chenzhangda16/web3-settle/internal/settle/model"
)

// outcomeWriteTimeout bounds the detached outcome write during shutdown.
const outcomeWriteTimeout = 30 * time.Second

type Dispatcher interface {
	Dispatch(ctx context.Context, code model.TokenCode, from, to model.Account, amount *big.Int) (string, error)
}

type Acquirer interface {
	Acquire(ctx context.Context) (ledger.Session, error)
}

type Config struct {
	Workers int
	// SerializeSender holds a per-address lock from nonce read to broadcast.
	SerializeSender bool
}

type Pool struct {
	in      *dispatch.Channel
	store   Acquirer
	chain   Dispatcher
	m       *metrics.Metrics
	log     *zap.Logger
	workers int
	senders *senderLocks
}

func New(cfg Config, in *dispatch.Channel, store Acquirer, chain Dispatcher, m *metrics.Metrics, log *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	p := &Pool{
		in:      in,
		store:   store,
		chain:   chain,
		m:       m,
		log:     log.Named("settle"),
		workers: cfg.Workers,
	}
	if cfg.SerializeSender {
		p.senders = newSenderLocks()
	}
	return p
}

// Run blocks until ctx is done or a worker hits a fatal error. The inbound
// channel is closed on return so the producer stops.
func (p *Pool) Run(ctx context.Context) error {
	defer p.in.Close()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		log := p.log.With(zap.Int("worker", i))
		g.Go(func() error { return p.work(gctx, log) })
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context, log *zap.Logger) error {
	for {
		// buffered requests stay pending on shutdown
		if ctx.Err() != nil {
			return nil
		}
		req, err := p.in.Recv(ctx)
		if err != nil {
			if errors.Is(err, dispatch.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := p.settle(ctx, log, req); err != nil {
			return err
		}
	}
}

// settle returns an error only for conditions that must stop the process.
func (p *Pool) settle(ctx context.Context, log *zap.Logger, req model.TransferRequest) error {
	start := time.Now()
	log = log.With(zap.String("tag_id", req.TagID))

	sess, err := p.store.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("shutdown before settlement; row stays pending")
			return nil
		}
		log.Error("get db connection error", zap.Error(err))
		return fmt.Errorf("settle %s: %w", req.TagID, err)
	}
	defer sess.Release()

	requestTime := time.Now()
	txHash, derr := p.transfer(ctx, sess, req)

	var o model.Outcome
	if derr == nil {
		o = model.Submitted(req.TagID, txHash, requestTime)
	} else {
		v := faults.Classify(faults.Settlement, derr)
		o = model.Failed(req.TagID, v.Code, derr.Error(), requestTime)
		log.Warn("settlement failed",
			zap.Int("status_code", v.Code),
			zap.Stringer("kind", faults.KindOf(derr)),
			zap.Error(derr))
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeWriteTimeout)
	defer cancel()
	applied, err := sess.Record(wctx, o)
	switch {
	case err != nil:
		log.Error("outcome write failed", zap.Int("status_code", o.StatusCode), zap.String("tx_hash", o.TxHash), zap.Error(err))
	case !applied:
		p.m.OutcomeSkipped()
		log.Warn("outcome matched no pending row", zap.Int("status_code", o.StatusCode))
	default:
		log.Info("settled", zap.Int("status_code", o.StatusCode), zap.String("tx_hash", o.TxHash))
	}
	p.m.Settled(o.StatusCode, time.Since(start))
	return nil
}

func (p *Pool) transfer(ctx context.Context, sess ledger.Session, req model.TransferRequest) (string, error) {
	from, err := sess.Account(ctx, req.FromUserID)
	if err != nil {
		return "", err
	}
	to, err := sess.Account(ctx, req.ToUserID)
	if err != nil {
		return "", err
	}
	if p.senders != nil {
		unlock := p.senders.lock(from.Address)
		defer unlock()
	}
	return p.chain.Dispatch(ctx, req.CoinCode, from, to, big.NewInt(req.Point))
}
