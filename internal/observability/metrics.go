package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stream outcomes reported by ChatMetrics.StreamFinished.
const (
	OutcomeOK       = "ok"
	OutcomeTimeout  = "timeout"
	OutcomeCanceled = "canceled"
	OutcomeError    = "error"
)

// ChatMetrics groups the Prometheus collectors of the chat bridge.
// A nil *ChatMetrics is valid and records nothing.
type ChatMetrics struct {
	streams         *prometheus.CounterVec
	firstChunk      prometheus.Histogram
	persistFailures *prometheus.CounterVec
	persistDropped  prometheus.Counter
}

// NewChatMetrics creates the chat collectors and registers them with reg.
// Collectors already registered by a previous call are reused, so building
// several servers in one process (tests) shares one set of series.
func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	m := &ChatMetrics{
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_streams_total",
			Help: "Completion streams by outcome.",
		}, []string{"outcome"}),
		firstChunk: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_first_chunk_seconds",
			Help:    "Latency from stream start to the first forwarded chunk.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_persist_failures_total",
			Help: "Conversation log writes that failed, by pipeline stage.",
		}, []string{"stage"}),
		persistDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_persist_dropped_total",
			Help: "Persistence jobs dropped because the recorder queue was full or closed.",
		}),
	}
	if reg == nil {
		return m
	}
	m.streams = RegisterOrReuse(reg, m.streams)
	m.firstChunk = RegisterOrReuse(reg, m.firstChunk)
	m.persistFailures = RegisterOrReuse(reg, m.persistFailures)
	m.persistDropped = RegisterOrReuse(reg, m.persistDropped)
	return m
}

// RegisterOrReuse registers c with reg and returns it, or returns the
// equivalent collector registered earlier. Other registration errors panic.
func RegisterOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// StreamFinished counts one completed, failed or aborted stream.
func (m *ChatMetrics) StreamFinished(outcome string) {
	if m == nil {
		return
	}
	m.streams.WithLabelValues(outcome).Inc()
}

// FirstChunk observes time-to-first-chunk.
func (m *ChatMetrics) FirstChunk(d time.Duration) {
	if m == nil {
		return
	}
	m.firstChunk.Observe(d.Seconds())
}

// PersistFailed counts a failed conversation log write.
func (m *ChatMetrics) PersistFailed(stage string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(stage).Inc()
}

// PersistDropped counts a persistence job that never ran.
func (m *ChatMetrics) PersistDropped() {
	if m == nil {
		return
	}
	m.persistDropped.Inc()
}
