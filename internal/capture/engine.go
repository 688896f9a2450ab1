// Package capture implements the batched receive engine that pulls
// RoCEv2 UDP packets off a queue pair and writes them into a ring
// producer, in either staged-copy or DirectToRing mode.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/behrlich/rocecap/internal/constants"
	"github.com/behrlich/rocecap/internal/logging"
	"github.com/behrlich/rocecap/internal/ring"
	"github.com/behrlich/rocecap/internal/verbs"
)

// Observer receives capture-pipeline events for metrics collection.
// Structurally identical to the root package's Observer so a
// *rocecap.MetricsObserver satisfies it without either package
// importing the other.
type Observer interface {
	ObservePacket(bytes uint64, success bool)
	ObserveBlockPublish(latencyNs uint64)
	ObserveBlockPartial()
	ObserveFlowSteerFallback()
	ObserveMRFallback()
}

// Engine owns all receive-loop state — the current block, the packets
// accounted into it so far, the receive mode, the producer, and the
// queue pair — threaded explicitly through the capture worker
// goroutine. The block's remaining-writes countdown is kept by the
// producer and advanced through NoteBatchWritten.
type Engine struct {
	params   Params
	qp       verbs.QueuePair
	producer ring.Producer
	observer Observer

	strategy receiveStrategy
	slots    *slotTable

	current       ring.BlockHandle
	blockAcquired time.Time

	writeSize int64 // bytes per single packet write: pkt_size
	batchSize int   // B: packets per accounted batch

	packetsDone    int64 // packets already accounted into the current block, in whole batches
	batchCompleted int   // completions observed toward the in-flight batch
}

// NewEngine wires a capture engine from its already-constructed
// dependencies: the caller is responsible for NIC/QP setup, MR
// registration, and ring attachment; startup failures in those phases
// abort before an Engine ever exists.
func NewEngine(params Params, qp verbs.QueuePair, producer ring.Producer, observer Observer) *Engine {
	if observer == nil {
		observer = noOpObserver{}
	}
	batchSize := params.SendN
	if batchSize <= 0 {
		batchSize = constants.DefaultSendN
	}
	e := &Engine{
		params:    params,
		qp:        qp,
		producer:  producer,
		observer:  observer,
		slots:     newSlotTable(),
		writeSize: int64(params.PktSize),
		batchSize: batchSize,
	}
	if params.UsesStagedCopy() {
		e.strategy = newStagedCopyStrategy(e)
	} else {
		e.strategy = newDirectToRingStrategy(e)
	}
	return e
}

// ForceStagedCopy switches a DirectToRing-configured engine onto the
// staged-copy strategy. The caller invokes this when ring-memory
// registration fell back to per-block MRs, which is only known after
// Attach, strictly after NewEngine's mode decision from static Params.
// A no-op if the engine is already staged.
func (e *Engine) ForceStagedCopy() {
	if _, ok := e.strategy.(*stagedCopyStrategy); ok {
		return
	}
	e.strategy = newStagedCopyStrategy(e)
}

// receiveStrategy is the unexported strategy object the two receive
// modes (DirectToRing / staged-copy) implement, sharing the batched
// poll/handle/repost loop in Run.
type receiveStrategy interface {
	// prime posts the initial W work requests.
	prime(ctx context.Context) error
	// handle processes one completion, copying data if required, and
	// accounts it toward the in-flight batch via Engine.completePacket.
	// Once every batchSize completions it reposts a fresh batch's worth
	// of work requests against the (possibly just-rotated) current block.
	handle(ctx context.Context, c verbs.Completion) error
	// close releases any strategy-owned NIC resources (the staging
	// buffer's MR, in staged-copy mode) when the worker exits.
	close() error
}

// Run drives the batched prime/poll-completions/handle/re-post loop
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	logger := logging.Default()

	h, err := e.producer.AcquireNextWritableBlock(ctx)
	if err != nil {
		return fmt.Errorf("rocecap/capture: acquire initial block: %w", err)
	}
	e.current = h
	e.blockAcquired = time.Now()
	e.packetsDone = 0
	e.batchCompleted = 0

	if err := e.strategy.prime(ctx); err != nil {
		return fmt.Errorf("rocecap/capture: priming receive queue: %w", err)
	}
	defer func() {
		if cerr := e.strategy.close(); cerr != nil {
			logger.Warn("strategy teardown error", "error", cerr)
		}
	}()
	if _, err := e.qp.FlushPosts(); err != nil {
		return fmt.Errorf("rocecap/capture: flush initial posts: %w", err)
	}

	// poll_n bounds the CQ burst size and is independent of the batch size
	// B (SendN): a batch accumulates across as many poll_n-sized bursts as
	// it takes to reach B completions.
	pollN := constants.DefaultPollN

	// Bandwidth sampling state: completions since the last sample, and
	// when the last sample was taken. Counters are monotonic across the
	// whole ring attachment; only the per-sample deltas reset.
	bwLast := time.Now()
	var bwCompleted int64

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		completions, err := e.qp.PollCompletions(pollN)
		if err != nil {
			return fmt.Errorf("rocecap/capture: poll completions: %w", err)
		}
		if len(completions) == 0 {
			continue
		}

		for _, c := range completions {
			e.observer.ObservePacket(uint64(c.Bytes), c.Status == verbs.StatusSuccess)
			if c.Status != verbs.StatusSuccess {
				continue
			}
			if err := e.strategy.handle(ctx, c); err != nil {
				return fmt.Errorf("rocecap/capture: handle completion wr_id=%d: %w", c.WRID, err)
			}
		}

		if _, err := e.qp.FlushPosts(); err != nil {
			return fmt.Errorf("rocecap/capture: flush reposts: %w", err)
		}

		bwCompleted += int64(len(completions))
		if elapsed := time.Since(bwLast); elapsed >= time.Second {
			gbps := float64(bwCompleted*e.writeSize*8) / float64(elapsed.Nanoseconds())
			logger.Infof("bandwidth: %.3f Gb/s (%d packets in %s)", gbps, bwCompleted, elapsed.Round(time.Millisecond))
			bwCompleted = 0
			bwLast = time.Now()
		}

		logger.Debugf("capture loop: processed %d completions, %d slots outstanding", len(completions), e.slots.len())
	}
}

// completePacket accounts one completion toward the in-flight batch.
// Every B completions it runs the accounting both strategies share
// regardless of mode: decrement remaining writes by one batch, then
// publish and rotate when the block is full. Returns true exactly when
// this call closed out a full batch, telling the caller to assign and
// post the next B work requests.
func (e *Engine) completePacket(ctx context.Context) (batchFull bool, err error) {
	e.batchCompleted++
	if e.batchCompleted < e.batchSize {
		return false, nil
	}
	e.batchCompleted = 0
	e.packetsDone += int64(e.batchSize)

	state, err := e.producer.NoteBatchWritten(e.current, 1)
	if err != nil {
		return false, err
	}

	if state == ring.BlockPartial {
		e.observer.ObserveBlockPartial()
		return true, nil
	}

	elapsed := time.Since(e.blockAcquired)
	if err := e.producer.Publish(e.current); err != nil {
		return false, err
	}
	e.observer.ObserveBlockPublish(uint64(elapsed.Nanoseconds()))
	logging.Default().Debug("published ring block",
		"bytes", e.producer.BlockSize(),
		"elapsed_us", elapsed.Microseconds(),
	)

	next, err := e.producer.AcquireNextWritableBlock(ctx)
	if err != nil {
		return false, err
	}
	e.current = next
	e.blockAcquired = time.Now()
	e.packetsDone = 0
	return true, nil
}

// splitEven divides buf into n roughly-equal scatter-gather entries,
// mirroring how a single packet's header/data is spread across nsge
// work-request entries.
func splitEven(buf []byte, n int) [][]byte {
	if n <= 1 {
		return [][]byte{buf}
	}
	sges := make([][]byte, 0, n)
	chunk := len(buf) / n
	for i := 0; i < n; i++ {
		start := i * chunk
		end := start + chunk
		if i == n-1 {
			end = len(buf)
		}
		sges = append(sges, buf[start:end])
	}
	return sges
}

type noOpObserver struct{}

func (noOpObserver) ObservePacket(uint64, bool) {}
func (noOpObserver) ObserveBlockPublish(uint64) {}
func (noOpObserver) ObserveBlockPartial()       {}
func (noOpObserver) ObserveFlowSteerFallback()  {}
func (noOpObserver) ObserveMRFallback()         {}
