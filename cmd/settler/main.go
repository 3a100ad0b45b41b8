package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/chenzhangda16/web3-settle/internal/settle/app"
	"github.com/chenzhangda16/web3-settle/internal/settle/config"
	"github.com/chenzhangda16/web3-settle/internal/settle/ready"
	"github.com/chenzhangda16/web3-settle/pkg/obs"
)

func main() {
	var (
		envDir    = flag.String("env-dir", ".", "directory holding an optional .env file")
		readyFifo = flag.String("ready-fifo", "", "named pipe to write one line to once started")
	)
	flag.Parse()

	cfg, err := config.Load(*envDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := obs.Init("settler", cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	os.Exit(run(cfg, *readyFifo, log))
}

func run(cfg config.Config, readyFifo string, log *zap.Logger) int {
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return 1
	}
	defer a.Close()

	log.Warn("settler started",
		zap.String("queue_driver", cfg.QueueDriver),
		zap.String("topic", cfg.QueueTopic),
		zap.Int("workers", cfg.BatchSize),
		zap.Bool("serialize_sender", cfg.SerializeSender))
	go func() {
		if err := ready.Signal(ctx, readyFifo, "", 0); err != nil {
			log.Warn("ready signal not delivered", zap.Error(err))
		}
	}()

	if err := a.Run(ctx); err != nil {
		log.Error("settler stopped on fatal error", zap.Error(err))
		return 1
	}
	log.Warn("settler stopped")
	return 0
}
