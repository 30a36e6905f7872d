package backend

import (
	"context"
	"testing"

	"github.com/spd-project/go-spd/internal/wire"
)

func TestNewMemory(t *testing.T) {
	mem := NewMemory(2, 512)

	if mem.Size() != 1024 {
		t.Errorf("Size() = %d, want 1024", mem.Size())
	}
	if len(mem.data) != 1024 {
		t.Errorf("data length = %d, want 1024", len(mem.data))
	}
}

func TestMemoryReadWrite(t *testing.T) {
	mem := NewMemory(2, 512)
	ctx := context.Background()

	data := make([]byte, 512)
	for i := range data {
		data[i] = byte(i)
	}
	if err := mem.WriteAt(ctx, 1, 1, 512, data, false); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	out := make([]byte, 512)
	if err := mem.ReadAt(ctx, 1, 1, 512, out); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	for i := range out {
		if out[i] != data[i] {
			t.Fatalf("byte %d = %d, want %d", i, out[i], data[i])
		}
	}
}

func TestMemoryOutOfRange(t *testing.T) {
	mem := NewMemory(2, 512)
	ctx := context.Background()

	if err := mem.ReadAt(ctx, 5, 1, 512, make([]byte, 512)); err == nil {
		t.Error("expected error reading out of range")
	}
	if err := mem.WriteAt(ctx, 5, 1, 512, make([]byte, 512), false); err == nil {
		t.Error("expected error writing out of range")
	}
}

func TestMemoryUnmap(t *testing.T) {
	mem := NewMemory(4, 512)
	ctx := context.Background()

	data := make([]byte, 512)
	for i := range data {
		data[i] = 0xff
	}
	if err := mem.WriteAt(ctx, 0, 1, 512, data, false); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	if err := mem.Unmap(ctx, []wire.UnmapDescriptor{{BlockAddress: 0, BlockCount: 1}}); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}

	out := make([]byte, 512)
	if err := mem.ReadAt(ctx, 0, 1, 512, out); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	for i, b := range out {
		if b != 0 {
			t.Fatalf("byte %d not zeroed after unmap: %d", i, b)
		}
	}
}

func TestMemoryFlush(t *testing.T) {
	mem := NewMemory(2, 512)
	if err := mem.Flush(context.Background()); err != nil {
		t.Errorf("Flush failed: %v", err)
	}
}

func BenchmarkMemoryRead(b *testing.B) {
	mem := NewMemory(256, 4096) // 1MB
	ctx := context.Background()
	buf := make([]byte, 4096)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		lba := uint64(i % 256)
		_ = mem.ReadAt(ctx, lba, 1, 4096, buf)
	}
}

func BenchmarkMemoryWrite(b *testing.B) {
	mem := NewMemory(256, 4096) // 1MB
	ctx := context.Background()
	buf := make([]byte, 4096)
	for i := range buf {
		buf[i] = byte(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		lba := uint64(i % 256)
		_ = mem.WriteAt(ctx, lba, 1, 4096, buf, false)
	}
}
