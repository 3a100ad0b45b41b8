// Package obs builds the process logger. Every line carries the boot id so
// log streams of restarted processes can be told apart.
package obs

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var bootID atomic.Value // string

func Init(service, level string) (*zap.Logger, error) {
	id := service + "#" + time.Now().Format("20060102_150405.000000")
	bootID.Store(id)

	lvl := zapcore.WarnLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
		lvl = parsed
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(
		zap.String("service", service),
		zap.String("boot_id", id),
		zap.Int("pid", os.Getpid()),
	), nil
}

func BootID() string {
	id, _ := bootID.Load().(string)
	return id
}
