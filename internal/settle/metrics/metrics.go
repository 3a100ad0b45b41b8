// Package metrics holds the pipeline's Prometheus instruments and the
// /metrics and /healthz endpoints.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Ingest results.
const (
	IngestAccepted    = "accepted"
	IngestDuplicate   = "duplicate"
	IngestDecodeError = "decode_error"
	IngestStoreError  = "store_error"
)

type Metrics struct {
	reg *prometheus.Registry

	received       prometheus.Counter
	ingested       *prometheus.CounterVec
	spooled        prometheus.Counter
	ackFailures    prometheus.Counter
	settled        *prometheus.CounterVec
	settleDuration prometheus.Histogram
	recordSkipped  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settle_messages_received_total",
			Help: "Messages received from the queue",
		}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_ingest_total",
			Help: "Ingestion results",
		}, []string{"result"}),
		spooled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settle_spooled_total",
			Help: "Undecodable payloads written to the poison spool",
		}),
		ackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settle_ack_failures_total",
			Help: "Acks that failed after a successful ledger insert",
		}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_settlements_total",
			Help: "Settlement outcomes by persisted status code",
		}, []string{"status_code"}),
		settleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "settle_settlement_duration_seconds",
			Help:    "Time from dequeue to outcome write",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		recordSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settle_outcome_skipped_total",
			Help: "Outcome writes that matched no pending row",
		}),
	}
	m.reg.MustRegister(
		m.received, m.ingested, m.spooled, m.ackFailures,
		m.settled, m.settleDuration, m.recordSkipped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Received()         { m.received.Inc() }
func (m *Metrics) Ingest(res string) { m.ingested.WithLabelValues(res).Inc() }
func (m *Metrics) Spooled()          { m.spooled.Inc() }
func (m *Metrics) AckFailed()        { m.ackFailures.Inc() }
func (m *Metrics) OutcomeSkipped()   { m.recordSkipped.Inc() }

func (m *Metrics) Settled(code int, d time.Duration) {
	m.settled.WithLabelValues(strconv.Itoa(code)).Inc()
	m.settleDuration.Observe(d.Seconds())
}

// Gauge registers a sampled gauge, e.g. queue depth or pool usage.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

// Handler serves /metrics and /healthz. healthy may be nil.
func (m *Metrics) Handler(healthy func(context.Context) error) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if healthy != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := healthy(ctx); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve runs h on addr until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("metrics listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
