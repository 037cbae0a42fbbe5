package bridge

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_active_sessions",
		Help: "Calls currently bridged to an agent.",
	})
	ttftSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_ttft_seconds",
		Help:    "Time from session start to the first agent audio event.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
	framesInTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_caller_frames_total",
		Help: "Caller audio frames forwarded to the agent.",
	})
	framesOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_agent_frames_total",
		Help: "Agent audio frames dispatched to the caller.",
	})
	interruptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_interruptions_total",
		Help: "Dispatch queue flushes from agent or caller interruptions.",
	})
)

// callMetrics is the per-call record, discarded with its session.
type callMetrics struct {
	startedAt     time.Time
	firstAudioAt  time.Time
	framesIn      atomic.Int64
	framesOut     atomic.Int64
	interruptions atomic.Int64
}

func newCallMetrics() *callMetrics {
	activeSessions.Inc()
	return &callMetrics{startedAt: time.Now()}
}

// markFirstAudio records TTFT once, on the first agent audio event.
func (m *callMetrics) markFirstAudio() {
	if m.firstAudioAt.IsZero() {
		m.firstAudioAt = time.Now()
		ttftSeconds.Observe(m.firstAudioAt.Sub(m.startedAt).Seconds())
	}
}

func (m *callMetrics) callerFrame() {
	m.framesIn.Add(1)
	framesInTotal.Inc()
}

func (m *callMetrics) agentFrame() {
	m.framesOut.Add(1)
	framesOutTotal.Inc()
}

func (m *callMetrics) interruption() {
	m.interruptions.Add(1)
	interruptionsTotal.Inc()
}

// summary logs the call record at teardown.
func (m *callMetrics) summary(callID string) {
	activeSessions.Dec()
	ttft := time.Duration(0)
	if !m.firstAudioAt.IsZero() {
		ttft = m.firstAudioAt.Sub(m.startedAt)
	}
	log.Printf("session %s: duration=%s ttft=%s frames_in=%d frames_out=%d interruptions=%d",
		callID, time.Since(m.startedAt).Round(time.Millisecond), ttft.Round(time.Millisecond),
		m.framesIn.Load(), m.framesOut.Load(), m.interruptions.Load())
}
