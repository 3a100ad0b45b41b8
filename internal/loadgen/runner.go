package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type Stats struct {
	Sent       int
	Duplicates int
}

// Run publishes n requests, at most rate per second when rate > 0.
func Run(ctx context.Context, g *Generator, pub Publisher, n, rate int, log *zap.Logger) (Stats, error) {
	var st Stats
	var tick <-chan time.Time
	if rate > 0 {
		t := time.NewTicker(time.Second / time.Duration(rate))
		defer t.Stop()
		tick = t.C
	}

	for st.Sent < n {
		if tick != nil {
			select {
			case <-ctx.Done():
				return st, ctx.Err()
			case <-tick:
			}
		}
		req, dup := g.Next()
		body, err := json.Marshal(req)
		if err != nil {
			return st, fmt.Errorf("encode %s: %w", req.TagID, err)
		}
		if err := pub.Publish(ctx, req.TagID, body); err != nil {
			return st, fmt.Errorf("publish %s: %w", req.TagID, err)
		}
		st.Sent++
		if dup {
			st.Duplicates++
		}
		if st.Sent%1000 == 0 {
			log.Info("progress", zap.Int("sent", st.Sent), zap.Int("duplicates", st.Duplicates))
		}
	}
	return st, nil
}
