package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chenzhangda16/web3-settle/internal/mockchain"
	"github.com/chenzhangda16/web3-settle/internal/mockchain/miner"
	"github.com/chenzhangda16/web3-settle/internal/mockchain/rpc"
	"github.com/chenzhangda16/web3-settle/pkg/obs"
)

func main() {
	var (
		rpcAddr   = flag.String("rpc", ":8545", "json-rpc listen addr")
		chainID   = flag.Int64("chain-id", 1337, "chain id reported by eth_chainId")
		gasPrice  = flag.Int64("gas-price", 1_000_000_000, "gas price in wei")
		blockTime = flag.Duration("block-time", time.Second, "block interval, 0 seals on every transaction")
		logLevel  = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	log, err := obs.Init("mockchain", *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	node := mockchain.NewNode(mockchain.Options{
		ChainID:  big.NewInt(*chainID),
		GasPrice: big.NewInt(*gasPrice),
		AutoMine: *blockTime <= 0,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *blockTime > 0 {
		m := miner.NewMiner(node, *blockTime, log.Named("miner"))
		go func() {
			if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("miner stopped", zap.Error(err))
				cancel()
			}
		}()
	}

	srv := &http.Server{
		Addr:              *rpcAddr,
		Handler:           rpc.NewServer(node).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Info("mockchain rpc listening",
		zap.String("addr", *rpcAddr),
		zap.Int64("chain_id", *chainID),
		zap.Duration("block_time", *blockTime))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("rpc server", zap.Error(err))
	}
}
