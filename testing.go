package spd

import (
	"context"
	"sync"

	"github.com/spd-project/go-spd/internal/wire"
)

// MockBackend is an in-memory Backend + UnmapBackend implementation for
// tests, recording call counts alongside its ctx/lba/blockCount shape.
type MockBackend struct {
	mu          sync.RWMutex
	data        []byte
	blockLength uint32

	readCalls  int
	writeCalls int
	flushCalls int
	unmapCalls int
	flushed    bool
}

// NewMockBackend creates a mock backend with room for blockCount blocks of
// blockLength bytes each.
func NewMockBackend(blockCount uint64, blockLength uint32) *MockBackend {
	return &MockBackend{data: make([]byte, blockCount*uint64(blockLength)), blockLength: blockLength}
}

func (m *MockBackend) ReadAt(_ context.Context, lba uint64, blockCount, blockLength uint32, out []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls++

	off := lba * uint64(blockLength)
	n := uint64(blockCount) * uint64(blockLength)
	if off+n > uint64(len(m.data)) {
		return ErrInvalidParameters
	}
	copy(out, m.data[off:off+n])
	return nil
}

func (m *MockBackend) WriteAt(_ context.Context, lba uint64, blockCount, blockLength uint32, data []byte, fua bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++

	off := lba * uint64(blockLength)
	n := uint64(blockCount) * uint64(blockLength)
	if off+n > uint64(len(m.data)) {
		return ErrInvalidParameters
	}
	copy(m.data[off:off+n], data)
	return nil
}

func (m *MockBackend) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushCalls++
	m.flushed = true
	return nil
}

// Unmap zeroes every addressed range, the same semantics
// backend/file.File.Unmap uses for a sparse file's punched holes.
func (m *MockBackend) Unmap(_ context.Context, descriptors []wire.UnmapDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmapCalls++

	for _, d := range descriptors {
		off := d.BlockAddress * uint64(m.blockLength)
		n := uint64(d.BlockCount) * uint64(m.blockLength)
		if off >= uint64(len(m.data)) {
			continue
		}
		if off+n > uint64(len(m.data)) {
			n = uint64(len(m.data)) - off
		}
		for i := off; i < off+n; i++ {
			m.data[i] = 0
		}
	}
	return nil
}

// IsFlushed reports whether Flush has ever been called.
func (m *MockBackend) IsFlushed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flushed
}

// CallCounts returns the number of times each method has been called.
func (m *MockBackend) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int{
		"read":  m.readCalls,
		"write": m.writeCalls,
		"flush": m.flushCalls,
		"unmap": m.unmapCalls,
	}
}

// Reset resets all call counters and state flags.
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls = 0
	m.writeCalls = 0
	m.flushCalls = 0
	m.unmapCalls = 0
	m.flushed = false
}

var (
	_ Backend      = (*MockBackend)(nil)
	_ UnmapBackend = (*MockBackend)(nil)
)
