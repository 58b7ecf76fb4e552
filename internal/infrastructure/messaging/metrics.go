package messaging

import (
	"sync"
	"time"

	"github.com/learnloop/insight/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BUS METRICS
// ══════════════════════════════════════════════════════════════════════════════

// Metrics collects publish and handler counters for the event bus.
type Metrics struct {
	mu sync.RWMutex

	publishedTotal   map[shared.EventType]int64
	handlersByType   map[shared.EventType]int64
	durationsByType  map[shared.EventType]time.Duration
	handlerExecs     int64
	handlerSuccesses int64
	handlerFailures  int64
	totalDuration    time.Duration
	startedAt        time.Time
}

// NewMetrics creates empty bus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		publishedTotal:  make(map[shared.EventType]int64),
		handlersByType:  make(map[shared.EventType]int64),
		durationsByType: make(map[shared.EventType]time.Duration),
		startedAt:       time.Now(),
	}
}

// RecordPublish records a published event.
func (m *Metrics) RecordPublish(eventType shared.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedTotal[eventType]++
}

// RecordHandlerExecution records one handler run.
func (m *Metrics) RecordHandlerExecution(eventType shared.EventType, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlerExecs++
	m.totalDuration += duration
	m.handlersByType[eventType]++
	m.durationsByType[eventType] += duration

	if success {
		m.handlerSuccesses++
	} else {
		m.handlerFailures++
	}
}

// Snapshot is a point-in-time view of the bus counters.
type Snapshot struct {
	TotalPublished         int64
	TotalHandlerExecs      int64
	HandlerFailures        int64
	HandlerSuccessRate     float64
	AverageHandlerDuration time.Duration
	StartedAt              time.Time
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, v := range m.publishedTotal {
		total += v
	}

	avg := time.Duration(0)
	if m.handlerExecs > 0 {
		avg = m.totalDuration / time.Duration(m.handlerExecs)
	}

	rate := 1.0
	if m.handlerExecs > 0 {
		rate = float64(m.handlerSuccesses) / float64(m.handlerExecs)
	}

	return Snapshot{
		TotalPublished:         total,
		TotalHandlerExecs:      m.handlerExecs,
		HandlerFailures:        m.handlerFailures,
		HandlerSuccessRate:     rate,
		AverageHandlerDuration: avg,
		StartedAt:              m.startedAt,
	}
}
