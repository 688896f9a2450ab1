package ring

import "sync"

// dumpShardCount is the number of shards the recent-blocks mirror is
// split across, trading lock granularity for memory.
const dumpShardCount = 16

// DebugDump is an in-memory mirror of the most recently published ring
// blocks, used by the --dump-dir CLI flag to let an operator inspect
// captured data without disturbing the hot capture path. Each shard
// owns a disjoint slice of block-index slots, so a dump read never
// contends with a publish happening in another shard.
type DebugDump struct {
	capacity int
	shards   []dumpShard
}

type dumpShard struct {
	mu     sync.RWMutex
	blocks map[int][]byte
}

// NewDebugDump creates a dump mirror. capacity is stored but not
// enforced: the mirror keeps one entry per distinct block index, so it
// holds at most nBufs blocks when indices are taken modulo nBufs.
func NewDebugDump(capacity int) *DebugDump {
	d := &DebugDump{capacity: capacity, shards: make([]dumpShard, dumpShardCount)}
	for i := range d.shards {
		d.shards[i].blocks = make(map[int][]byte)
	}
	return d
}

func (d *DebugDump) shardFor(blockIndex int) *dumpShard {
	return &d.shards[blockIndex%dumpShardCount]
}

// Record stores a copy of a just-published block under its index,
// replacing whatever was recorded at that index before. Nothing is ever
// evicted; older data is overwritten only when the same index recurs.
func (d *DebugDump) Record(blockIndex int, data []byte) {
	shard := d.shardFor(blockIndex)
	cp := make([]byte, len(data))
	copy(cp, data)

	shard.mu.Lock()
	shard.blocks[blockIndex] = cp
	shard.mu.Unlock()
}

// Get returns a copy of the most recently recorded data for blockIndex,
// or nil if nothing has been recorded at that index yet.
func (d *DebugDump) Get(blockIndex int) []byte {
	shard := d.shardFor(blockIndex)

	shard.mu.RLock()
	defer shard.mu.RUnlock()
	data := shard.blocks[blockIndex]
	if data == nil {
		return nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp
}

// Len returns how many blocks are currently retained across all shards.
func (d *DebugDump) Len() int {
	total := 0
	for i := range d.shards {
		d.shards[i].mu.RLock()
		total += len(d.shards[i].blocks)
		d.shards[i].mu.RUnlock()
	}
	return total
}
