//go:build linux && cgo

package verbs

/*
#cgo LDFLAGS: -libverbs
#include <infiniband/verbs.h>
#include <string.h>
#include <stdlib.h>

static struct ibv_device *rocecap_get_device(int idx) {
	int n = 0;
	struct ibv_device **list = ibv_get_device_list(&n);
	if (list == NULL || idx >= n) {
		return NULL;
	}
	return list[idx];
}

// ibv_query_port is a macro in recent libibverbs, so wrap it in a real
// function cgo can call.
static int rocecap_port_state(struct ibv_context *ctx, uint8_t port) {
	struct ibv_port_attr attr;
	if (ibv_query_port(ctx, port, &attr)) {
		return -1;
	}
	return (int)attr.state;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/behrlich/rocecap/internal/logging"
)

const cgoAvailable = true

// cgoQueuePair implements QueuePair using real libibverbs calls. It owns
// the device context, protection domain, completion queue, and queue
// pair for one capture session.
type cgoQueuePair struct {
	cfg Config

	ctx *C.struct_ibv_context
	pd  *C.struct_ibv_pd
	cq  *C.struct_ibv_cq
	qp  *C.struct_ibv_qp

	mu      sync.Mutex
	pending []preparedRecv
	regions []*cgoMRHandle
	state   QPState
}

type preparedRecv struct {
	wrID uint64
	sges [][]byte
}

type cgoMRHandle struct {
	mr *C.struct_ibv_mr
}

func newCGOQueuePair(cfg Config) (QueuePair, error) {
	dev := C.rocecap_get_device(C.int(cfg.DeviceIndex))
	if dev == nil {
		return nil, fmt.Errorf("rocecap/verbs: ib device index %d not found", cfg.DeviceIndex)
	}

	ctx := C.ibv_open_device(dev)
	if ctx == nil {
		return nil, fmt.Errorf("rocecap/verbs: ibv_open_device failed for device %d", cfg.DeviceIndex)
	}

	pd := C.ibv_alloc_pd(ctx)
	if pd == nil {
		C.ibv_close_device(ctx)
		return nil, fmt.Errorf("rocecap/verbs: ibv_alloc_pd failed")
	}

	cq := C.ibv_create_cq(ctx, C.int(cfg.WRRingSize), nil, nil, 0)
	if cq == nil {
		C.ibv_dealloc_pd(pd)
		C.ibv_close_device(ctx)
		return nil, fmt.Errorf("rocecap/verbs: ibv_create_cq failed")
	}

	var qpAttr C.struct_ibv_qp_init_attr
	qpAttr.send_cq = cq
	qpAttr.recv_cq = cq
	qpAttr.qp_type = C.IBV_QPT_RAW_PACKET
	qpAttr.cap.max_send_wr = 1
	qpAttr.cap.max_recv_wr = C.uint32_t(cfg.WRRingSize)
	qpAttr.cap.max_send_sge = 1
	qpAttr.cap.max_recv_sge = C.uint32_t(cfg.NSGE)

	qp := C.ibv_create_qp(pd, &qpAttr)
	if qp == nil {
		C.ibv_destroy_cq(cq)
		C.ibv_dealloc_pd(pd)
		C.ibv_close_device(ctx)
		return nil, fmt.Errorf("rocecap/verbs: ibv_create_qp failed")
	}

	q := &cgoQueuePair{cfg: cfg, ctx: ctx, pd: pd, cq: cq, qp: qp, state: QPStateReset}
	if err := q.bringUp(); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

// bringUp drives the RESET->INIT->RTR->RTS transitions, checking each
// return value before attempting the next.
func (q *cgoQueuePair) bringUp() error {
	logger := logging.Default()
	for {
		next, ok := nextQPState(q.state)
		if !ok {
			break
		}
		if err := q.transitionTo(next); err != nil {
			return fmt.Errorf("rocecap/verbs: qp transition %s->%s failed: %w", q.state, next, err)
		}
		logger.Debug("qp transitioned", "from", q.state.String(), "to", next.String())
		q.state = next
	}

	// Port state is checked before any flow steering is attempted; a
	// non-active port is a warning, not a failure — flow creation is
	// still tried against it.
	if st := C.rocecap_port_state(q.ctx, C.uint8_t(q.cfg.PortNum)); st != C.IBV_PORT_ACTIVE {
		logger.Warn("ib port is not active", "port", q.cfg.PortNum, "state", int(st))
	}
	return nil
}

func (q *cgoQueuePair) transitionTo(target QPState) error {
	var attr C.struct_ibv_qp_attr
	var mask C.int

	switch target {
	case QPStateInit:
		attr.qp_state = C.IBV_QPS_INIT
		attr.port_num = C.uint8_t(q.cfg.PortNum)
		mask = C.int(C.IBV_QP_STATE | C.IBV_QP_PORT)
	case QPStateRTR:
		attr.qp_state = C.IBV_QPS_RTR
		mask = C.int(C.IBV_QP_STATE)
	case QPStateRTS:
		attr.qp_state = C.IBV_QPS_RTS
		mask = C.int(C.IBV_QP_STATE)
	default:
		return fmt.Errorf("unsupported target state %s", target)
	}

	if rc := C.ibv_modify_qp(q.qp, &attr, mask); rc != 0 {
		return fmt.Errorf("ibv_modify_qp rc=%d", int(rc))
	}
	return nil
}

func (q *cgoQueuePair) Close() error {
	if q.qp != nil {
		C.ibv_destroy_qp(q.qp)
	}
	if q.cq != nil {
		C.ibv_destroy_cq(q.cq)
	}
	if q.pd != nil {
		C.ibv_dealloc_pd(q.pd)
	}
	if q.ctx != nil {
		C.ibv_close_device(q.ctx)
	}
	return nil
}

func (q *cgoQueuePair) PostRecv(wrID uint64, buf []byte) error {
	return q.PostSGRecv(wrID, [][]byte{buf})
}

func (q *cgoQueuePair) PostSGRecv(wrID uint64, sges [][]byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if uint32(len(q.pending)) >= q.cfg.WRRingSize {
		return ErrRingFull
	}
	q.pending = append(q.pending, preparedRecv{wrID: wrID, sges: sges})
	return nil
}

// FlushPosts submits every prepared receive work request with a single
// ibv_post_recv call, chaining the WRs via their next pointers: one
// syscall per batch.
func (q *cgoQueuePair) FlushPosts() (uint32, error) {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}

	// The WR chain links WRs to each other and to their SGE lists by
	// pointer, so both arrays live in C memory: Go memory handed to C
	// must not itself contain Go pointers.
	nsges := 0
	for _, p := range batch {
		nsges += len(p.sges)
	}
	wrMem := C.calloc(C.size_t(len(batch)), C.sizeof_struct_ibv_recv_wr)
	sgeMem := C.calloc(C.size_t(nsges), C.sizeof_struct_ibv_sge)
	defer C.free(wrMem)
	defer C.free(sgeMem)

	wrs := unsafe.Slice((*C.struct_ibv_recv_wr)(wrMem), len(batch))
	sges := unsafe.Slice((*C.struct_ibv_sge)(sgeMem), nsges)

	si := 0
	for i, p := range batch {
		first := si
		for _, s := range p.sges {
			lkey, err := q.lkeyFor(uintptr(unsafe.Pointer(&s[0])), len(s))
			if err != nil {
				return 0, err
			}
			sges[si].addr = C.uint64_t(uintptr(unsafe.Pointer(&s[0])))
			sges[si].length = C.uint32_t(len(s))
			sges[si].lkey = lkey
			si++
		}
		wrs[i].wr_id = C.uint64_t(p.wrID)
		wrs[i].sg_list = &sges[first]
		wrs[i].num_sge = C.int(len(p.sges))
		if i > 0 {
			wrs[i-1].next = &wrs[i]
		}
	}

	// All WR/SGE stores must be globally visible before the doorbell
	// that ibv_post_recv rings.
	Sfence()

	var bad *C.struct_ibv_recv_wr
	if rc := C.ibv_post_recv(q.qp, &wrs[0], &bad); rc != 0 {
		return 0, fmt.Errorf("rocecap/verbs: ibv_post_recv rc=%d", int(rc))
	}
	return uint32(len(batch)), nil
}

// PollCompletions polls up to burst completions in one ibv_poll_cq call.
func (q *cgoQueuePair) PollCompletions(burst int) ([]Completion, error) {
	wc := make([]C.struct_ibv_wc, burst)
	n := C.ibv_poll_cq(q.cq, C.int(burst), &wc[0])
	if n < 0 {
		return nil, fmt.Errorf("rocecap/verbs: ibv_poll_cq failed")
	}

	out := make([]Completion, n)
	for i := 0; i < int(n); i++ {
		status := StatusSuccess
		if wc[i].status != C.IBV_WC_SUCCESS {
			status = StatusError
		}
		out[i] = Completion{
			WRID:   uint64(wc[i].wr_id),
			Status: status,
			Bytes:  uint32(wc[i].byte_len),
		}
	}
	return out, nil
}

func (q *cgoQueuePair) RegisterMR(buf []byte) (MRHandle, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("rocecap/verbs: cannot register empty buffer")
	}
	access := C.IBV_ACCESS_LOCAL_WRITE | C.IBV_ACCESS_REMOTE_WRITE
	mr := C.ibv_reg_mr(q.pd, unsafe.Pointer(&buf[0]), C.size_t(len(buf)), C.int(access))
	if mr == nil {
		return nil, fmt.Errorf("rocecap/verbs: ibv_reg_mr failed for %d bytes", len(buf))
	}
	h := &cgoMRHandle{mr: mr}
	q.mu.Lock()
	q.regions = append(q.regions, h)
	q.mu.Unlock()
	return h, nil
}

func (q *cgoQueuePair) DeregisterMR(h MRHandle) error {
	handle, ok := h.(*cgoMRHandle)
	if !ok || handle.mr == nil {
		return fmt.Errorf("rocecap/verbs: invalid MR handle")
	}
	q.mu.Lock()
	for i, r := range q.regions {
		if r == handle {
			q.regions = append(q.regions[:i], q.regions[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
	if rc := C.ibv_dereg_mr(handle.mr); rc != 0 {
		return fmt.Errorf("rocecap/verbs: ibv_dereg_mr rc=%d", int(rc))
	}
	return nil
}

// lkeyFor resolves the lkey of the registered memory region containing
// [addr, addr+length). In whole-ring or staged-copy mode there is one
// region and every SGE resolves to it; in per-block mode each SGE
// resolves to the MR registered over its block, so a scatter entry
// bound to block i always carries block_mrs[i].lkey. Callers hold no
// lock; the regions list is only mutated by Register/DeregisterMR.
func (q *cgoQueuePair) lkeyFor(addr uintptr, length int) (C.uint32_t, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.regions {
		start := uintptr(r.mr.addr)
		end := start + uintptr(r.mr.length)
		if addr >= start && addr+uintptr(length) <= end {
			return r.mr.lkey, nil
		}
	}
	return 0, fmt.Errorf("rocecap/verbs: no registered MR covers addr %#x len %d", addr, length)
}

// CreateFlow steers the configured 5-tuple to this queue pair via a
// 3-spec raw-Ethernet flow attribute (eth/ipv4/udp). Port state has
// already been checked during bring-up, before any flow creation.
func (q *cgoQueuePair) CreateFlow() error {
	raw := BuildFlowAttr(q.cfg.PortNum, q.cfg.Flow)
	flow := C.ibv_create_flow(q.qp, (*C.struct_ibv_flow_attr)(unsafe.Pointer(&raw[0])))
	if flow == nil {
		return fmt.Errorf("rocecap/verbs: ibv_create_flow failed")
	}
	// Flow handle is intentionally not torn down independently: it is
	// destroyed implicitly when the queue pair is destroyed.
	return nil
}

// EnablePromiscuous is the non-fatal fallback when CreateFlow fails: a
// zero-spec sniffer flow steers every packet on the port to this QP.
func (q *cgoQueuePair) EnablePromiscuous() error {
	raw := BuildSnifferFlowAttr(q.cfg.PortNum)
	flow := C.ibv_create_flow(q.qp, (*C.struct_ibv_flow_attr)(unsafe.Pointer(&raw[0])))
	if flow == nil {
		return fmt.Errorf("rocecap/verbs: promiscuous flow creation failed")
	}
	return nil
}

// PostSend submits a single send work request and blocks, polling for
// its own completion queue entry. Used only by the synthetic
// test-traffic helper in internal/capture.
func (q *cgoQueuePair) PostSend(buf []byte) error {
	if len(buf) == 0 {
		return fmt.Errorf("rocecap/verbs: cannot send empty buffer")
	}

	mr := C.ibv_reg_mr(q.pd, unsafe.Pointer(&buf[0]), C.size_t(len(buf)), C.int(C.IBV_ACCESS_LOCAL_WRITE))
	if mr == nil {
		return fmt.Errorf("rocecap/verbs: ibv_reg_mr failed for send buffer")
	}
	defer C.ibv_dereg_mr(mr)

	wrMem := C.calloc(1, C.sizeof_struct_ibv_send_wr)
	sgeMem := C.calloc(1, C.sizeof_struct_ibv_sge)
	defer C.free(wrMem)
	defer C.free(sgeMem)

	sge := (*C.struct_ibv_sge)(sgeMem)
	sge.addr = C.uint64_t(uintptr(unsafe.Pointer(&buf[0])))
	sge.length = C.uint32_t(len(buf))
	sge.lkey = mr.lkey

	wr := (*C.struct_ibv_send_wr)(wrMem)
	wr.wr_id = 0
	wr.sg_list = sge
	wr.num_sge = 1
	wr.opcode = C.IBV_WR_SEND
	wr.send_flags = C.uint(C.IBV_SEND_SIGNALED)

	var bad *C.struct_ibv_send_wr
	if rc := C.ibv_post_send(q.qp, wr, &bad); rc != 0 {
		return fmt.Errorf("rocecap/verbs: ibv_post_send rc=%d", int(rc))
	}

	var wc C.struct_ibv_wc
	for {
		n := C.ibv_poll_cq(q.cq, 1, &wc)
		if n < 0 {
			return fmt.Errorf("rocecap/verbs: ibv_poll_cq failed while waiting for send completion")
		}
		if n == 1 {
			break
		}
	}
	if wc.status != C.IBV_WC_SUCCESS {
		return fmt.Errorf("rocecap/verbs: send completion status=%d", int(wc.status))
	}
	return nil
}
