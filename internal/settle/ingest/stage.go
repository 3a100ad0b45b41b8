// Package ingest moves queue messages into the ledger and forwards accepted
// requests to settlement.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chenzhangda16/web3-settle/internal/settle/dispatch"
	"github.com/chenzhangda16/web3-settle/internal/settle/faults"
	"github.com/chenzhangda16/web3-settle/internal/settle/ledger"
	"github.com/chenzhangda16/web3-settle/internal/settle/metrics"
	"github.com/chenzhangda16/web3-settle/internal/settle/model"
	"github.com/chenzhangda16/web3-settle/internal/settle/source"
	"github.com/chenzhangda16/web3-settle/internal/settle/spool"
)

type Forwarder interface {
	Send(ctx context.Context, req model.TransferRequest) error
}

// Stage is single-goroutine: messages are inserted and forwarded in receive
// order.
type Stage struct {
	src   source.Source
	store ledger.Inserter
	out   Forwarder
	spool spool.Spool
	m     *metrics.Metrics
	log   *zap.Logger
}

func New(src source.Source, store ledger.Inserter, out Forwarder, sp spool.Spool, m *metrics.Metrics, log *zap.Logger) *Stage {
	if sp == nil {
		sp = spool.Nop{}
	}
	return &Stage{
		src:   src,
		store: store,
		out:   out,
		spool: sp,
		m:     m,
		log:   log.Named("ingest"),
	}
}

// Run returns nil when the source is closed or ctx is cancelled, and an error
// when the settlement side is gone or the source fails to receive or nack.
func (s *Stage) Run(ctx context.Context) error {
	for {
		msg, err := s.src.Receive(ctx)
		if err != nil {
			if errors.Is(err, source.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ingest: receive: %w", err)
		}
		if err := s.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Stage) handle(ctx context.Context, msg *source.Message) error {
	s.m.Received()

	req, err := model.DecodeRequest(msg.Body)
	if err != nil {
		s.m.Ingest(metrics.IngestDecodeError)
		s.quarantine(msg, err)
		return s.nack(ctx, msg, "decode", err)
	}
	log := s.log.With(zap.String("tag_id", req.TagID))

	ierr := s.store.Insert(ctx, req)
	switch v := faults.Classify(faults.Ingestion, ierr); v.Class {
	case faults.ClassDuplicate:
		s.m.Ingest(metrics.IngestDuplicate)
		log.Info("duplicate tag, acking")
		if err := s.src.Ack(ctx, msg); err != nil {
			s.m.AckFailed()
			log.Warn("ack duplicate failed", zap.Error(err))
		}
		return nil

	case faults.ClassRetryableIngestion:
		s.m.Ingest(metrics.IngestStoreError)
		return s.nack(ctx, msg, "insert", ierr)
	}

	s.m.Ingest(metrics.IngestAccepted)
	if err := s.src.Ack(ctx, msg); err != nil {
		// The row exists, so a redelivery lands on the duplicate path.
		s.m.AckFailed()
		log.Warn("ack failed after insert; forwarding anyway", zap.Error(err))
	}
	if err := s.out.Send(ctx, req); err != nil {
		if errors.Is(err, dispatch.ErrClosed) {
			log.Error("settlement stopped; request left pending")
		}
		return fmt.Errorf("ingest: forward %s: %w", req.TagID, err)
	}
	log.Debug("forwarded", zap.Int64("point", req.Point), zap.Stringer("coin_code", req.CoinCode))
	return nil
}

// nack fails the stage when the source cannot take the message back. On Kafka
// an unanswered record must not be passed by a later ack, since offsets commit
// cumulatively.
func (s *Stage) nack(ctx context.Context, msg *source.Message, step string, cause error) error {
	s.log.Warn("nack",
		zap.String("step", step),
		zap.String("key", msg.Key),
		zap.Int("redeliveries", msg.Redeliveries),
		zap.Error(cause))
	if err := s.src.Nack(ctx, msg); err != nil {
		s.log.Error("nack failed; stopping", zap.String("step", step), zap.Error(err))
		return fmt.Errorf("ingest: nack after %s failure: %w", step, err)
	}
	return nil
}

func (s *Stage) quarantine(msg *source.Message, cause error) {
	err := s.spool.Append(spool.Record{
		At:           time.Now(),
		Key:          msg.Key,
		Redeliveries: msg.Redeliveries,
		Reason:       cause.Error(),
		Body:         msg.Body,
	})
	if err != nil {
		s.log.Warn("spool append failed", zap.Error(err))
		return
	}
	s.m.Spooled()
}
