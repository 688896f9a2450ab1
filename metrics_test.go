package rocecap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricsRecordPacketAndBlocks(t *testing.T) {
	m := NewMetrics()

	m.RecordPacket(1024, true)
	m.RecordPacket(512, false)
	m.RecordBlockPartial()
	m.RecordBlockPublish(5_000_000)
	m.RecordFlowSteerFallback()
	m.RecordMRFallback()

	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.PacketsReceived)
	require.Equal(t, uint64(1024), snap.BytesWritten)
	require.Equal(t, uint64(1), snap.ReceiveErrors)
	require.Equal(t, uint64(1), snap.BlocksPartial)
	require.Equal(t, uint64(1), snap.BlocksPublished)
	require.Equal(t, uint64(1), snap.FlowSteerFallbacks)
	require.Equal(t, uint64(1), snap.MRFallbacks)
	require.Equal(t, uint64(5_000_000), snap.AvgPublishLatencyNs)
}

func TestMetricsErrorRate(t *testing.T) {
	m := NewMetrics()
	m.RecordPacket(100, true)
	m.RecordPacket(100, true)
	m.RecordPacket(100, false)

	snap := m.Snapshot()
	require.InDelta(t, 33.33, snap.ErrorRate, 0.1)
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordPacket(100, true)
	m.RecordBlockPublish(1000)

	m.Reset()
	snap := m.Snapshot()
	require.Zero(t, snap.PacketsReceived)
	require.Zero(t, snap.BlocksPublished)
}

func TestMetricsObserverDelegatesToMetrics(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)

	obs.ObservePacket(256, true)
	obs.ObserveBlockPublish(2000)
	obs.ObserveBlockPartial()
	obs.ObserveFlowSteerFallback()
	obs.ObserveMRFallback()

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.PacketsReceived)
	require.Equal(t, uint64(1), snap.BlocksPublished)
	require.Equal(t, uint64(1), snap.BlocksPartial)
	require.Equal(t, uint64(1), snap.FlowSteerFallbacks)
	require.Equal(t, uint64(1), snap.MRFallbacks)
}

func TestNoOpObserverDoesNothing(t *testing.T) {
	var obs Observer = NoOpObserver{}
	obs.ObservePacket(1, true)
	obs.ObserveBlockPublish(1)
	obs.ObserveBlockPartial()
	obs.ObserveFlowSteerFallback()
	obs.ObserveMRFallback()
}

func TestLatencyPercentiles(t *testing.T) {
	m := NewMetrics()
	for _, ns := range []uint64{500, 5_000, 50_000, 500_000, 5_000_000} {
		m.RecordBlockPublish(ns)
	}
	snap := m.Snapshot()
	require.Greater(t, snap.LatencyP99Ns, uint64(0))
	require.GreaterOrEqual(t, snap.LatencyP99Ns, snap.LatencyP50Ns)
}
