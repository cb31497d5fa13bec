package metrics

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter.
type MetricID uint16

const (
	MetricRegister MetricID = iota
	MetricSecureSuccess
	MetricSecureFailure
	MetricConfirmSuccess
	MetricConfirmFailure
	MetricMailFailure
	MetricLoginSuccess
	MetricLoginFailure
	MetricLoginRateLimited
	MetricMFAReplay
	MetricSessionCreated
	MetricLogout
	MetricMFARotated
	MetricTokenCreated
	MetricTokenDeleted
	MetricSignatureRejected
	MetricAuthenticateLatency
	MetricIDCount
)

const (
	HistBucketCount = 8
	cacheLineSize   = 64
)

type histogram struct {
	buckets [HistBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Config toggles collection.
type Config struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"latency_histograms"`
}

// Metrics holds every counter and the authenticate latency histogram.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [MetricIDCount]paddedCounter
	histograms    [MetricIDCount]histogram
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc is a no-op on a nil or disabled Metrics.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram of id. Only latency metrics have one.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricAuthenticateLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[BucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil || !m.enabled {
		return Snapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := Snapshot{
		Counters:   make(map[MetricID]uint64, int(MetricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	for id := MetricID(0); id < MetricIDCount; id++ {
		if id == MetricAuthenticateLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, HistBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricAuthenticateLatency].buckets[i])
		}
		s.Histograms[MetricAuthenticateLatency] = buckets
	}
	return s
}

// BucketIndex maps d onto the fixed bucket bounds
// 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, +Inf.
func BucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
