// Package pipeline supervises the ingestion stage and the settlement pool as
// one unit.
package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chenzhangda16/web3-settle/internal/settle/dispatch"
	"github.com/chenzhangda16/web3-settle/internal/settle/ingest"
	"github.com/chenzhangda16/web3-settle/internal/settle/ledger"
	"github.com/chenzhangda16/web3-settle/internal/settle/metrics"
	"github.com/chenzhangda16/web3-settle/internal/settle/settlement"
	"github.com/chenzhangda16/web3-settle/internal/settle/source"
	"github.com/chenzhangda16/web3-settle/internal/settle/spool"
)

type Config struct {
	Workers         int
	SerializeSender bool
}

type Pipeline struct {
	ch    *dispatch.Channel
	stage *ingest.Stage
	pool  *settlement.Pool
	log   *zap.Logger
}

// New wires a dispatch channel of capacity 2*Workers between the stage and
// the pool.
func New(cfg Config, src source.Source, store ledger.Store, chain settlement.Dispatcher, sp spool.Spool, m *metrics.Metrics, log *zap.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	ch := dispatch.New(2 * cfg.Workers)
	return &Pipeline{
		ch:    ch,
		stage: ingest.New(src, store, ch, sp, m, log),
		pool: settlement.New(settlement.Config{
			Workers:         cfg.Workers,
			SerializeSender: cfg.SerializeSender,
		}, ch, store, chain, m, log),
		log: log,
	}
}

// QueueDepth is the number of requests waiting for a worker.
func (p *Pipeline) QueueDepth() int { return p.ch.Len() }

// Run returns nil on ctx cancellation or once the source is closed and every
// forwarded request is settled. A fatal error on either side stops both and is
// returned.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := p.stage.Run(gctx)
		// lets the workers drain what was forwarded, then exit
		p.ch.Close()
		return err
	})
	g.Go(func() error {
		return p.pool.Run(gctx)
	})

	err := g.Wait()
	if err != nil {
		p.log.Error("pipeline stopped", zap.Error(err))
	}
	return err
}
