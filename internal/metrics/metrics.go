package metrics

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// API
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests."},
		[]string{"handler", "method", "code"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms..~10s
		},
		[]string{"handler", "method"},
	)

	// Dispatch engine
	CycleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_cycle_total", Help: "Dispatch cycle outcomes."},
		[]string{"result"}, // ok | error
	)
	ClaimBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_claim_batch_size",
			Help:    "Number of reminders claimed per cycle.",
			Buckets: prometheus.LinearBuckets(0, 5, 11), // 0,5,...,50
		},
	)
	StaleClaimsReleased = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_stale_claims_released_total", Help: "Claims freed by the reconcile pass."},
	)
	ReminderOutcome = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_reminder_total", Help: "Per-reminder dispatch outcomes."},
		[]string{"outcome"}, // repeated | completed | no_users | failed | error
	)
	SendNowTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_send_now_total", Help: "Send-now trigger outcomes."},
		[]string{"status"},
	)

	// Delivery
	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "delivery_inflight", Help: "In-flight recipient sends in this process."},
	)
	DeliveryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "delivery_send_total", Help: "Per-recipient delivery outcomes."},
		[]string{"outcome"}, // delivered | blocked | failed
	)
	DeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_send_duration_seconds",
			Help:    "Delivery client latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms..~40s
		},
	)
)

// Register default + our collectors
func MustRegister() {
	prometheus.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		HTTPRequests, HTTPDuration,
		CycleTotal, ClaimBatchSize, StaleClaimsReleased, ReminderOutcome, SendNowTotal,
		InFlight, DeliveryTotal, DeliveryDuration,
	)
}

// PoolStats exports pgxpool connection stats.
type PoolStats struct {
	pool *pgxpool.Pool

	conns        prometheus.Gauge
	idle         prometheus.Gauge
	acquireCount prometheus.Counter
}

func NewPoolStats(pool *pgxpool.Pool) *PoolStats {
	m := &PoolStats{
		pool: pool,
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_conns", Help: "Total connections in pool.",
		}),
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_idle_conns", Help: "Idle connections in pool.",
		}),
		acquireCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "db_pool_acquires_total", Help: "Total pool acquires.",
		}),
	}
	prometheus.MustRegister(m.conns, m.idle, m.acquireCount)
	return m
}

func (m *PoolStats) Start(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	for {
		select {
		case <-stop:
			t.Stop()
			return
		case <-t.C:
			s := m.pool.Stat()
			m.conns.Set(float64(s.TotalConns()))
			m.idle.Set(float64(s.IdleConns()))
			m.acquireCount.Add(float64(s.AcquireCount()))
		}
	}
}
