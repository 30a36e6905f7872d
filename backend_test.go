package spd

import (
	"context"
	"testing"

	"github.com/spd-project/go-spd/internal/wire"
)

func TestMockBackendReadWrite(t *testing.T) {
	backend := NewMockBackend(4, 512)
	ctx := context.Background()

	data := make([]byte, 512)
	for i := range data {
		data[i] = byte(i)
	}
	if err := backend.WriteAt(ctx, 1, 1, 512, data, false); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	out := make([]byte, 512)
	if err := backend.ReadAt(ctx, 1, 1, 512, out); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	for i := range out {
		if out[i] != data[i] {
			t.Fatalf("byte %d = %d, want %d", i, out[i], data[i])
		}
	}

	if backend.CallCounts()["read"] != 1 || backend.CallCounts()["write"] != 1 {
		t.Errorf("unexpected call counts: %+v", backend.CallCounts())
	}
}

func TestMockBackendOutOfRange(t *testing.T) {
	backend := NewMockBackend(4, 512)
	ctx := context.Background()
	if err := backend.ReadAt(ctx, 10, 1, 512, make([]byte, 512)); err == nil {
		t.Error("expected error reading out of range")
	}
}

func TestMockBackendFlush(t *testing.T) {
	backend := NewMockBackend(4, 512)
	if backend.IsFlushed() {
		t.Error("should not be flushed before Flush is called")
	}
	if err := backend.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !backend.IsFlushed() {
		t.Error("should be flushed after Flush is called")
	}
}

func TestMockBackendUnmap(t *testing.T) {
	backend := NewMockBackend(4, 512)
	ctx := context.Background()

	data := make([]byte, 512)
	for i := range data {
		data[i] = 0xff
	}
	if err := backend.WriteAt(ctx, 0, 1, 512, data, false); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	if err := backend.Unmap(ctx, []wire.UnmapDescriptor{{BlockAddress: 0, BlockCount: 1}}); err != nil {
		t.Fatalf("Unmap: %v", err)
	}

	out := make([]byte, 512)
	if err := backend.ReadAt(ctx, 0, 1, 512, out); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	for i, b := range out {
		if b != 0 {
			t.Fatalf("byte %d not zeroed after unmap: %d", i, b)
		}
	}
}

func TestUnitLifecycle(t *testing.T) {
	backend := NewMockBackend(64, 512)
	params := UnitParams{
		GUID:       [16]byte{1, 2, 3, 4},
		BlockCount: 64,
		Backend:    backend,
	}

	u, err := CreateAndServe(context.Background(), params, nil)
	if err != nil {
		t.Fatalf("CreateAndServe: %v", err)
	}
	if u.State() != UnitStateServing {
		t.Errorf("State() = %v, want %v", u.State(), UnitStateServing)
	}

	if err := StopAndDelete(context.Background(), u); err != nil {
		t.Fatalf("StopAndDelete: %v", err)
	}
	if u.State() != UnitStateStopped {
		t.Errorf("State() after stop = %v, want %v", u.State(), UnitStateStopped)
	}
}

func TestUnitRequiresBackend(t *testing.T) {
	_, err := CreateAndServe(context.Background(), UnitParams{GUID: [16]byte{1}}, nil)
	if err == nil {
		t.Error("expected error when Backend is nil")
	}
}

func TestStopAndDeleteNil(t *testing.T) {
	if err := StopAndDelete(context.Background(), nil); err == nil {
		t.Error("expected error stopping a nil unit")
	}
}

func TestNilUnitState(t *testing.T) {
	var u *Unit
	if u.State() != UnitStateStopped {
		t.Error("nil unit should report stopped")
	}
}
