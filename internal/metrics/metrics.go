// Package metrics exposes prometheus gauges/counters for the server's
// internal state and backs the GetStatistics wire operation. Grounded on
// the teacher's pkg/metrics/metrics.go: package-level metric vars
// registered once in init(), plus a Timer helper for histogram
// observations.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ShardsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "credb_shards_total",
			Help: "Total number of document store shards",
		},
	)

	ResidentPageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "credb_resident_page_bytes",
			Help: "Bytes currently resident in the buffer manager",
		},
	)

	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credb_transactions_total",
			Help: "Total number of committed/aborted transactions by isolation level and outcome",
		},
		[]string{"isolation", "outcome"},
	)

	WitnessesSignedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credb_witnesses_signed_total",
			Help: "Total number of witnesses signed",
		},
	)

	SessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "credb_session_duration_seconds",
			Help:    "Lifetime of an attested client session in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(ShardsTotal)
	prometheus.MustRegister(ResidentPageBytes)
	prometheus.MustRegister(TransactionsTotal)
	prometheus.MustRegister(WitnessesSignedTotal)
	prometheus.MustRegister(SessionDuration)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Statistics is the snapshot returned by the GetStatistics operation. It is
// read back from Stats' own counters rather than scraped over HTTP, since a
// wire response can't drive an HTTP round trip against itself.
type Statistics struct {
	Shards            uint32 `json:"shards"`
	ResidentPageBytes uint64 `json:"resident_page_bytes"`
	Committed         uint64 `json:"committed"`
	Aborted           uint64 `json:"aborted"`
	WitnessesSigned   uint64 `json:"witnesses_signed"`
}

// Stats accumulates the counters Statistics reports, mirroring every
// update into the package's prometheus vars so /metrics and GetStatistics
// never disagree.
type Stats struct {
	mu        sync.Mutex
	shards    uint32
	pageBytes uint64

	committed uint64
	aborted   uint64
	signed    uint64
}

// NewStats creates a Stats tracker for a server with the given shard count.
func NewStats(shards uint32) *Stats {
	ShardsTotal.Set(float64(shards))
	return &Stats{shards: shards}
}

// SetResidentPageBytes records the buffer manager's current resident size.
func (s *Stats) SetResidentPageBytes(n uint64) {
	atomic.StoreUint64(&s.pageBytes, n)
	ResidentPageBytes.Set(float64(n))
}

// RecordCommit records a transaction outcome for isolation level iso,
// "read-committed"/"repeatable-read"/"serializable".
func (s *Stats) RecordCommit(iso string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome := "committed"
	if success {
		s.committed++
	} else {
		s.aborted++
		outcome = "aborted"
	}
	TransactionsTotal.WithLabelValues(iso, outcome).Inc()
}

// RecordWitnessSigned records that a witness was assembled and signed.
func (s *Stats) RecordWitnessSigned() {
	atomic.AddUint64(&s.signed, 1)
	WitnessesSignedTotal.Inc()
}

// Snapshot returns the current statistics for the GetStatistics operation.
func (s *Stats) Snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Statistics{
		Shards:            s.shards,
		ResidentPageBytes: atomic.LoadUint64(&s.pageBytes),
		Committed:         s.committed,
		Aborted:           s.aborted,
		WitnessesSigned:   atomic.LoadUint64(&s.signed),
	}
}
