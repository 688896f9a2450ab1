package rocecap

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the block-publish latency histogram buckets in
// nanoseconds, covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks capture-pipeline performance and operational statistics.
type Metrics struct {
	PacketsReceived atomic.Uint64 // total completed receive work requests
	BytesWritten    atomic.Uint64 // total bytes written into ring blocks
	BlocksPublished atomic.Uint64 // total ring blocks published
	BlocksPartial   atomic.Uint64 // blocks seen as still-partial (note_batch_written calls that didn't fill)

	FlowSteerFallbacks atomic.Uint64 // times flow creation failed and promiscuous mode was used
	MRFallbacks        atomic.Uint64 // times whole-ring MR registration failed and per-block was used
	ReceiveErrors      atomic.Uint64 // completions with a non-success status

	// Cumulative block-publish latency in nanoseconds, for average and
	// histogram calculations.
	TotalPublishLatencyNs atomic.Uint64
	PublishCount          atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordPacket records one completed receive work request.
func (m *Metrics) RecordPacket(bytes uint64, success bool) {
	m.PacketsReceived.Add(1)
	if success {
		m.BytesWritten.Add(bytes)
	} else {
		m.ReceiveErrors.Add(1)
	}
}

// RecordBlockPublish records a ring block transitioning to Full and being
// published, with the latency since the block was acquired.
func (m *Metrics) RecordBlockPublish(latencyNs uint64) {
	m.BlocksPublished.Add(1)
	m.recordLatency(latencyNs)
}

// RecordBlockPartial records a note_batch_written call that left the block
// still Partial.
func (m *Metrics) RecordBlockPartial() {
	m.BlocksPartial.Add(1)
}

// RecordFlowSteerFallback records a flow-creation failure that fell back
// to promiscuous mode.
func (m *Metrics) RecordFlowSteerFallback() {
	m.FlowSteerFallbacks.Add(1)
}

// RecordMRFallback records a whole-ring MR registration failure that fell
// back to per-block registration.
func (m *Metrics) RecordMRFallback() {
	m.MRFallbacks.Add(1)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalPublishLatencyNs.Add(latencyNs)
	m.PublishCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the capture session as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	PacketsReceived uint64
	BytesWritten    uint64
	BlocksPublished uint64
	BlocksPartial   uint64

	FlowSteerFallbacks uint64
	MRFallbacks        uint64
	ReceiveErrors      uint64

	AvgPublishLatencyNs uint64
	UptimeNs            uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	PacketRate   float64 // packets per second
	ThroughputBps float64 // bytes per second
	ErrorRate    float64 // percentage of receive completions that errored
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		PacketsReceived:    m.PacketsReceived.Load(),
		BytesWritten:       m.BytesWritten.Load(),
		BlocksPublished:    m.BlocksPublished.Load(),
		BlocksPartial:      m.BlocksPartial.Load(),
		FlowSteerFallbacks: m.FlowSteerFallbacks.Load(),
		MRFallbacks:        m.MRFallbacks.Load(),
		ReceiveErrors:      m.ReceiveErrors.Load(),
	}

	totalLatency := m.TotalPublishLatencyNs.Load()
	publishCount := m.PublishCount.Load()
	if publishCount > 0 {
		snap.AvgPublishLatencyNs = totalLatency / publishCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.PacketRate = float64(snap.PacketsReceived) / uptimeSeconds
		snap.ThroughputBps = float64(snap.BytesWritten) / uptimeSeconds
	}

	if snap.PacketsReceived > 0 {
		snap.ErrorRate = float64(snap.ReceiveErrors) / float64(snap.PacketsReceived) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if publishCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the publish latency at the given
// percentile (0.0-1.0) using linear interpolation between histogram
// buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	total := m.PublishCount.Load()
	if total == 0 {
		return 0
	}

	targetCount := uint64(float64(total) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters. Useful for tests.
func (m *Metrics) Reset() {
	m.PacketsReceived.Store(0)
	m.BytesWritten.Store(0)
	m.BlocksPublished.Store(0)
	m.BlocksPartial.Store(0)
	m.FlowSteerFallbacks.Store(0)
	m.MRFallbacks.Store(0)
	m.ReceiveErrors.Store(0)
	m.TotalPublishLatencyNs.Store(0)
	m.PublishCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection from the capture engine.
type Observer interface {
	ObservePacket(bytes uint64, success bool)
	ObserveBlockPublish(latencyNs uint64)
	ObserveBlockPartial()
	ObserveFlowSteerFallback()
	ObserveMRFallback()
}

// NoOpObserver is a no-op Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObservePacket(uint64, bool)    {}
func (NoOpObserver) ObserveBlockPublish(uint64)     {}
func (NoOpObserver) ObserveBlockPartial()           {}
func (NoOpObserver) ObserveFlowSteerFallback()       {}
func (NoOpObserver) ObserveMRFallback()              {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObservePacket(bytes uint64, success bool) {
	o.metrics.RecordPacket(bytes, success)
}

func (o *MetricsObserver) ObserveBlockPublish(latencyNs uint64) {
	o.metrics.RecordBlockPublish(latencyNs)
}

func (o *MetricsObserver) ObserveBlockPartial() {
	o.metrics.RecordBlockPartial()
}

func (o *MetricsObserver) ObserveFlowSteerFallback() {
	o.metrics.RecordFlowSteerFallback()
}

func (o *MetricsObserver) ObserveMRFallback() {
	o.metrics.RecordMRFallback()
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
