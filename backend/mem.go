// Package backend provides ready-made Backend implementations for storage
// units: an in-memory disk (Memory) and a raw-file-backed disk (File, in
// file.go).
package backend

import (
	"context"
	"sync"

	"github.com/spd-project/go-spd"
	"github.com/spd-project/go-spd/internal/wire"
)

// ShardSize is the size of each memory shard (64KB). This provides good
// parallelism for 4K random I/O while keeping lock overhead reasonable --
// a 256MB unit has 4096 shards.
const ShardSize = 64 * 1024

// Memory is a RAM-backed Backend. It uses sharded locking so concurrent
// dispatch workers touching disjoint LBA ranges don't serialize on one
// mutex.
type Memory struct {
	data        []byte
	size        int64
	blockLength uint32
	shards      []sync.RWMutex
}

// NewMemory creates a Memory backend sized for blockCount blocks of
// blockLength bytes each.
func NewMemory(blockCount uint64, blockLength uint32) *Memory {
	size := int64(blockCount) * int64(blockLength)
	numShards := (size + ShardSize - 1) / ShardSize
	if numShards < 1 {
		numShards = 1
	}
	return &Memory{
		data:        make([]byte, size),
		size:        size,
		blockLength: blockLength,
		shards:      make([]sync.RWMutex, numShards),
	}
}

func (m *Memory) shardRange(off, length int64) (start, end int) {
	start = int(off / ShardSize)
	end = int((off + length - 1) / ShardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	return start, end
}

// ReadAt implements spd.Backend.
func (m *Memory) ReadAt(_ context.Context, lba uint64, blockCount, blockLength uint32, out []byte) error {
	off := int64(lba) * int64(blockLength)
	n := int64(blockCount) * int64(blockLength)
	if off+n > m.size {
		return spd.ErrInvalidParameters
	}

	startShard, endShard := m.shardRange(off, n)
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RLock()
	}
	copy(out, m.data[off:off+n])
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RUnlock()
	}
	return nil
}

// WriteAt implements spd.Backend. fua is ignored: writes land directly in
// the backing slice, so there is nothing further to force to stable
// storage.
func (m *Memory) WriteAt(_ context.Context, lba uint64, blockCount, blockLength uint32, data []byte, _ bool) error {
	off := int64(lba) * int64(blockLength)
	n := int64(blockCount) * int64(blockLength)
	if off+n > m.size {
		return spd.ErrInvalidParameters
	}

	startShard, endShard := m.shardRange(off, n)
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}
	copy(m.data[off:off+n], data)
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}
	return nil
}

// Flush implements spd.Backend. A RAM backend has nothing to sync.
func (m *Memory) Flush(_ context.Context) error {
	return nil
}

// Unmap implements spd.UnmapBackend by zeroing every addressed range.
func (m *Memory) Unmap(_ context.Context, descriptors []wire.UnmapDescriptor) error {
	for _, d := range descriptors {
		off := int64(d.BlockAddress) * int64(m.blockLength)
		n := int64(d.BlockCount) * int64(m.blockLength)
		if off >= m.size {
			continue
		}
		if off+n > m.size {
			n = m.size - off
		}

		startShard, endShard := m.shardRange(off, n)
		for i := startShard; i <= endShard; i++ {
			m.shards[i].Lock()
		}
		for i := off; i < off+n; i++ {
			m.data[i] = 0
		}
		for i := startShard; i <= endShard; i++ {
			m.shards[i].Unlock()
		}
	}
	return nil
}

// Size reports the backend's capacity in bytes.
func (m *Memory) Size() int64 { return m.size }

var (
	_ spd.Backend      = (*Memory)(nil)
	_ spd.UnmapBackend = (*Memory)(nil)
)
