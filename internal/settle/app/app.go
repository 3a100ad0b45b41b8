// Package app assembles the settler from configuration: dependencies are
// dialed with startup retries, then the pipeline and the metrics endpoint run
// until shutdown or a fatal error.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chenzhangda16/web3-settle/internal/settle/chain"
	"github.com/chenzhangda16/web3-settle/internal/settle/config"
	"github.com/chenzhangda16/web3-settle/internal/settle/ledger"
	"github.com/chenzhangda16/web3-settle/internal/settle/metrics"
	"github.com/chenzhangda16/web3-settle/internal/settle/pipeline"
	"github.com/chenzhangda16/web3-settle/internal/settle/retry"
	"github.com/chenzhangda16/web3-settle/internal/settle/source"
	"github.com/chenzhangda16/web3-settle/internal/settle/spool"
	"github.com/chenzhangda16/web3-settle/internal/settle/token"
)

type App struct {
	cfg     config.Config
	log     *zap.Logger
	db      *ledger.Postgres
	chain   *chain.Client
	src     source.Source
	spool   spool.Spool
	metrics *metrics.Metrics
	pipe    *pipeline.Pipeline
}

// New dials every dependency. On error, whatever was opened is closed.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log, metrics: metrics.New()}
	if err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	tokens, err := token.New(cfg.Tokens())
	if err != nil {
		return err
	}

	a.db, err = ledger.OpenPostgres(ctx, ledger.PostgresConfig{URL: cfg.DBURL, MaxConns: cfg.DBMaxConns})
	if err != nil {
		return err
	}
	if err = retry.Do(ctx, retry.Startup(log, "postgres"), a.db.Ping); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if cfg.DBEnsureSchema {
		if err = a.db.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	a.chain, err = retry.Value(ctx, retry.Startup(log, "rpc"), func(ctx context.Context) (*chain.Client, error) {
		return chain.Dial(ctx, chain.Config{
			URL:            cfg.RPCURL,
			ConnectTimeout: cfg.RPCConnectTimeout,
			Timeout:        cfg.RPCTimeout,
		}, tokens)
	})
	if err != nil {
		return err
	}
	log.Info("chain connected", zap.Stringer("chain_id", a.chain.ChainID()))

	a.src, err = retry.Value(ctx, retry.Startup(log, cfg.QueueDriver), func(context.Context) (source.Source, error) {
		return openSource(cfg, log)
	})
	if err != nil {
		return err
	}

	a.spool, err = spool.Open(cfg.SpoolDriver, cfg.SpoolPath)
	if err != nil {
		return err
	}

	a.pipe = pipeline.New(pipeline.Config{
		Workers:         cfg.BatchSize,
		SerializeSender: cfg.SerializeSender,
	}, a.src, a.db, a.chain, a.spool, a.metrics, log)

	a.metrics.Gauge("settle_dispatch_queue_depth", "Requests waiting for a settlement worker", func() float64 {
		return float64(a.pipe.QueueDepth())
	})
	a.metrics.Gauge("settle_db_conns_acquired", "Ledger connections in use", func() float64 {
		acquired, _ := a.db.Stat()
		return float64(acquired)
	})
	return nil
}

func openSource(cfg config.Config, log *zap.Logger) (source.Source, error) {
	switch cfg.QueueDriver {
	case config.DriverAMQP:
		return source.NewAMQP(source.AMQPConfig{
			URL:          cfg.QueueURL,
			Topic:        cfg.QueueTopic,
			Subscription: cfg.QueueSubscription,
			Prefetch:     cfg.Prefetch(),
		}, log.Named("amqp"))
	case config.DriverKafka:
		return source.NewKafka(source.KafkaConfig{
			URL:   cfg.QueueURL,
			Topic: cfg.QueueTopic,
			Group: cfg.QueueSubscription,
		}, log.Named("kafka"))
	}
	return nil, fmt.Errorf("unknown queue driver %q", cfg.QueueDriver)
}

// Run blocks until ctx is done or the pipeline fails. A cancelled ctx is not
// an error.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// the metrics endpoint goes down with the pipeline
		defer cancel()
		return a.pipe.Run(gctx)
	})

	if a.cfg.MetricsAddr != "" {
		h := a.metrics.Handler(a.db.Ping)
		g.Go(func() error {
			if err := metrics.Serve(gctx, a.cfg.MetricsAddr, h, a.log); err != nil {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases whatever was opened; it is safe on a partially built App.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.src != nil {
		if err := a.src.Close(); err != nil {
			a.log.Warn("close source", zap.Error(err))
		}
	}
	if a.spool != nil {
		if err := a.spool.Close(); err != nil {
			a.log.Warn("close spool", zap.Error(err))
		}
	}
	if a.chain != nil {
		a.chain.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
