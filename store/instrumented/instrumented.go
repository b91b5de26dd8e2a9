// Package instrumented provides a SessionStore decorator exporting Prometheus
// metrics.
package instrumented

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/swfrench/aerospike-session/store"
)

// Metrics holds the collectors shared by every instrumented store registered
// against the same Registerer. Stores are distinguished by the backend label.
type Metrics struct {
	ops      *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	sessions *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "session",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Session store operations by backend, operation and result.",
		}, []string{"backend", "op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "session",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Latency of session store operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"backend", "op"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "session",
			Subsystem: "store",
			Name:      "active_sessions",
			Help:      "Number of sessions returned by the most recent enumeration.",
		}, []string{"backend"}),
	}
	for _, c := range []prometheus.Collector{m.ops, m.latency, m.sessions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ActiveSessions returns the gauge holding the size of the most recent
// enumeration of backend.
func (m *Metrics) ActiveSessions(backend string) prometheus.Gauge {
	return m.sessions.WithLabelValues(backend)
}

// result classifies err for the result label.
func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, store.ErrSessionExists):
		return "exists"
	case errors.Is(err, store.ErrInvalidSessionData), errors.Is(err, store.ErrInvalidStoredSessionData):
		return "invalid"
	}
	return "error"
}

// Store wraps a SessionStore, recording the outcome and latency of each call.
type Store[S store.Session] struct {
	next    store.SessionStore[S]
	backend string
	m       *Metrics
}

// Wrap returns next instrumented with m, labelled as backend.
func Wrap[S store.Session](next store.SessionStore[S], backend string, m *Metrics) *Store[S] {
	return &Store[S]{next: next, backend: backend, m: m}
}

func (is *Store[S]) observe(op string, start time.Time, err error) {
	is.m.latency.WithLabelValues(is.backend, op).Observe(time.Since(start).Seconds())
	is.m.ops.WithLabelValues(is.backend, op, result(err)).Inc()
}

// Create implements store.SessionStore.
func (is *Store[S]) Create(ctx context.Context, s S) (string, error) {
	start := time.Now()
	sid, err := is.next.Create(ctx, s)
	is.observe("create", start, err)
	return sid, err
}

// Read implements store.SessionStore.
func (is *Store[S]) Read(ctx context.Context, sid string) (S, error) {
	start := time.Now()
	s, err := is.next.Read(ctx, sid)
	is.observe("read", start, err)
	return s, err
}

// Update implements store.SessionStore.
func (is *Store[S]) Update(ctx context.Context, s S) error {
	start := time.Now()
	err := is.next.Update(ctx, s)
	is.observe("update", start, err)
	return err
}

// Delete implements store.SessionStore.
func (is *Store[S]) Delete(ctx context.Context, s S) error {
	start := time.Now()
	err := is.next.Delete(ctx, s)
	is.observe("delete", start, err)
	return err
}

// Active implements store.SessionStore.
func (is *Store[S]) Active(ctx context.Context) []S {
	start := time.Now()
	sessions := is.next.Active(ctx)
	is.observe("active", start, nil)
	is.m.sessions.WithLabelValues(is.backend).Set(float64(len(sessions)))
	return sessions
}
