package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chenzhangda16/web3-settle/internal/loadgen"
	"github.com/chenzhangda16/web3-settle/internal/settle/config"
	"github.com/chenzhangda16/web3-settle/pkg/obs"
	"github.com/chenzhangda16/web3-settle/pkg/rng"
)

func main() {
	var (
		driver   = flag.String("driver", config.DriverKafka, "queue driver: kafka or amqp")
		url      = flag.String("url", "kafka://127.0.0.1:9092", "broker url")
		topic    = flag.String("topic", "transfers", "topic or exchange")
		users    = flag.String("users", "u1,u2,u3,u4", "user ids csv")
		count    = flag.Int("n", 1000, "requests to publish")
		rate     = flag.Int("rate", 0, "requests per second, 0 is unthrottled")
		dupRatio = flag.Float64("dup", 0.05, "share of requests replaying an earlier tag")
		maxPoint = flag.Int64("max-point", 1000, "upper bound for point")
		det      = flag.Bool("det", false, "reproducible run from -seed")
		seed     = flag.Int64("seed", 1, "seed for deterministic generation")
	)
	flag.Parse()

	log, err := obs.Init("loadgen", "info")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	mode := rng.Real
	if *det {
		mode = rng.Deterministic
	}
	f := rng.New(mode, *seed)

	start := time.Now()
	if *det {
		start = time.Time{}
	}
	gen, err := loadgen.NewGenerator(loadgen.Config{
		Users:    strings.Split(*users, ","),
		MaxPoint: *maxPoint,
		DupRatio: *dupRatio,
		Start:    start,
	}, f)
	if err != nil {
		log.Fatal("generator", zap.Error(err))
	}

	var pub loadgen.Publisher
	switch *driver {
	case config.DriverKafka:
		pub, err = loadgen.NewKafkaPublisher(*url, *topic)
	case config.DriverAMQP:
		pub, err = loadgen.NewAMQPPublisher(*url, *topic)
	default:
		err = fmt.Errorf("unknown driver %q", *driver)
	}
	if err != nil {
		log.Fatal("publisher", zap.Error(err))
	}
	defer func() { _ = pub.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	began := time.Now()
	st, err := loadgen.Run(ctx, gen, pub, *count, *rate, log)
	log.Info("done",
		zap.Int64("seed", f.Seed()),
		zap.Int("sent", st.Sent),
		zap.Int("duplicates", st.Duplicates),
		zap.Duration("elapsed", time.Since(began)))
	if err != nil {
		log.Error("loadgen stopped", zap.Error(err))
		os.Exit(1)
	}
}
