package miner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chenzhangda16/web3-settle/internal/mockchain"
)

// Miner seals the node's pool on a fixed interval.
type Miner struct {
	node *mockchain.Node
	tick time.Duration
	log  *zap.Logger
}

func NewMiner(node *mockchain.Node, tick time.Duration, log *zap.Logger) *Miner {
	return &Miner{node: node, tick: tick, log: log}
}

func (m *Miner) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case now := <-ticker.C:
			blk, ok := m.node.Seal(now.Unix())
			if !ok {
				continue
			}
			m.log.Debug("sealed block",
				zap.Int64("number", blk.Header.Number),
				zap.String("hash", blk.Hash.Hex()),
				zap.Int("txs", len(blk.Txs)))
		}
	}
}
