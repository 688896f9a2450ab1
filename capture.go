// Package rocecap provides the main API for capturing RoCEv2 UDP
// traffic from an RDMA-capable NIC into a shared-memory producer ring.
package rocecap

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/behrlich/rocecap/internal/capture"
	"github.com/behrlich/rocecap/internal/logging"
	"github.com/behrlich/rocecap/internal/ring"
	"github.com/behrlich/rocecap/internal/verbs"
)

// Params is the public capture configuration, re-exported from
// internal/capture so callers outside this module never import an
// internal package directly.
type Params = capture.Params

// DefaultParams returns the parameter set implied by the CLI defaults.
func DefaultParams() Params {
	return capture.DefaultParams()
}

// Options bundles the optional dependencies CreateAndCapture accepts.
type Options struct {
	Context  context.Context
	Observer Observer
}

// Capture represents one running capture session: a NIC queue pair
// steered to a 5-tuple, attached to a ring, draining packets into it.
type Capture struct {
	params   Params
	qp       verbs.QueuePair
	producer ring.Producer
	engine   *capture.Engine

	ctx    context.Context
	cancel context.CancelFunc

	metrics  *Metrics
	observer Observer

	errCh chan error
}

// CreateAndCapture performs NIC/QP setup, memory registration, and
// ring attachment, then starts the capture worker goroutine. Setup
// failures abort before anything is started, so a failed startup never
// leaves a half-attached ring.
func CreateAndCapture(ctx context.Context, params Params, opts *Options) (*Capture, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts == nil {
		opts = &Options{}
	}
	if opts.Context != nil {
		ctx = opts.Context
	}

	if err := params.Validate(); err != nil {
		return nil, WrapError("validate", "capture", err)
	}

	header, err := buildHeader(params)
	if err != nil {
		return nil, WrapError("header-template", "ring-attach", err)
	}

	qp, err := verbs.NewQueuePair(verbs.Config{
		DeviceIndex: params.Device,
		PortNum:     params.Port,
		WRRingSize:  uint32(params.WRRingSize()),
		NSGE:        params.NSGE,
		Flow:        params.Flow,
	})
	if err != nil {
		return nil, WrapError("qp-create", "qp-init", err)
	}

	metrics := NewMetrics()
	var observer Observer = NoOpObserver{}
	if opts.Observer != nil {
		observer = opts.Observer
	} else {
		observer = NewMetricsObserver(metrics)
	}

	logger := logging.Default()
	if err := qp.CreateFlow(); err != nil {
		logger.Warn("flow steering failed, falling back to promiscuous mode", "error", err)
		if promErr := qp.EnablePromiscuous(); promErr != nil {
			qp.Close()
			return nil, WrapError("promiscuous-fallback", "flow-steer", promErr)
		}
		observer.ObserveFlowSteerFallback()
	}

	var dump *ring.DebugDump
	if params.DumpDir != "" {
		dump = ring.NewDebugDump(params.NBufs)
	}

	producer := ring.NewHDUProducer(ring.Config{
		BlockSize:      params.BlockSize,
		NBufs:          params.NBufs,
		WritesPerBlock: params.WritesPerBlock(),
		Header:         header,
		QueuePair:      qp,
		Dump:           dump,
	})

	if err := producer.Attach(ctx, params.Key); err != nil {
		qp.Close()
		return nil, WrapError("ring-attach", "ring-attach", err)
	}

	engine := capture.NewEngine(params, qp, producer, observer)

	// A per-block MR registration fallback forces staged-copy mode
	// regardless of the requested mode: DirectToRing needs a single
	// whole-ring lkey to scatter into. Only known after Attach, so it
	// overrides NewEngine's static Params-only decision.
	if hp, ok := producer.(interface{ MRStrategy() verbs.MRStrategy }); ok {
		if hp.MRStrategy() == verbs.MRPerBlock {
			engine.ForceStagedCopy()
			observer.ObserveMRFallback()
		}
	}

	capCtx, cancel := context.WithCancel(ctx)
	c := &Capture{
		params:   params,
		qp:       qp,
		producer: producer,
		engine:   engine,
		ctx:      capCtx,
		cancel:   cancel,
		metrics:  metrics,
		observer: observer,
		errCh:    make(chan error, 1),
	}

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if params.CPU >= 0 {
			var mask unix.CPUSet
			mask.Set(params.CPU)
			if err := unix.SchedSetaffinity(0, &mask); err != nil {
				logger.Warn("failed to set capture worker CPU affinity", "cpu", params.CPU, "error", err)
			} else {
				logger.Debug("pinned capture worker", "cpu", params.CPU)
			}
		}

		c.errCh <- engine.Run(capCtx)
	}()

	logger.Info("capture started", "device", params.Device, "key", fmt.Sprintf("%#x", params.Key))
	return c, nil
}

// mjdEpochDays is the Unix epoch expressed as a Modified Julian Date.
const mjdEpochDays = 40587.0

// buildHeader loads the header template named by --dump-header and
// stamps the session-specific fields: FILE_SIZE from --file-bytes, and
// UTC_START/MJD_START from the capture start time. The template
// supplies everything else (packet geometry, data rate); a template
// missing a required field is startup-fatal.
func buildHeader(p Params) (ring.Header, error) {
	h, err := ring.LoadHeaderTemplate(p.DumpHeader)
	if err != nil {
		return ring.Header{}, err
	}

	now := time.Now().UTC()
	h.FileSize = p.FileBytes
	h.UTCStart = now.Format("2006-01-02-15:04:05")
	h.MJDStart = float64(now.Unix())/86400.0 + mjdEpochDays
	return h, nil
}

// Wait blocks until the capture worker exits (on cancellation or
// error) and returns its result.
func (c *Capture) Wait() error {
	return <-c.errCh
}

// Stop performs the EOD/shutdown handshake: cancel the worker, then
// signal EOD and disconnect from the ring in the exact order
// SendEODAndDisconnect enforces.
func (c *Capture) Stop() error {
	c.cancel()
	c.metrics.Stop()
	<-c.errCh
	return c.producer.SendEODAndDisconnect(context.Background())
}

// Metrics returns the capture session's metrics.
func (c *Capture) Metrics() *Metrics {
	return c.metrics
}

// MetricsSnapshot returns a point-in-time metrics snapshot.
func (c *Capture) MetricsSnapshot() MetricsSnapshot {
	if c == nil || c.metrics == nil {
		return MetricsSnapshot{}
	}
	return c.metrics.Snapshot()
}

// UsedBytes reports the ring's current used byte count.
func (c *Capture) UsedBytes() int64 {
	return c.producer.UsedBytes()
}

// FreeBytes reports the ring's current free byte count.
func (c *Capture) FreeBytes() int64 {
	return c.producer.FreeBytes()
}
