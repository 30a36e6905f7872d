//go:build integration

// Package integration drives a provisioned unit the way a real embedder
// would: over internal/transport's Pipe transport, through a live
// dispatch.Pool, rather than calling a Backend directly or poking at
// internal/ioq in isolation. Unlike the Windows driver this framework is
// modeled on, none of this needs elevated privileges -- the whole stack is
// userspace, so these tests build under an explicit tag only to keep them
// out of `go test ./...`'s default run, not because of any environment
// requirement.
package integration

import (
	"context"
	"encoding/binary"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/spd-project/go-spd/backend"
	"github.com/spd-project/go-spd/internal/adapter"
	"github.com/spd-project/go-spd/internal/adapter/procwatch"
	"github.com/spd-project/go-spd/internal/adapter/scsi"
	"github.com/spd-project/go-spd/internal/adapter/unit"
	"github.com/spd-project/go-spd/internal/dispatch"
	"github.com/spd-project/go-spd/internal/transport"
	"github.com/spd-project/go-spd/internal/wire"
)

const (
	itBlockLength       = 512
	itBlockCount        = 2048
	itMaxTransferLength = itBlockLength * 64
)

func itParams(guid byte) wire.StorageUnitParams {
	p := wire.StorageUnitParams{
		GUID:              [16]byte{guid, 1, 2, 3},
		BlockCount:        itBlockCount,
		BlockLength:       itBlockLength,
		MaxTransferLength: itMaxTransferLength,
		Flags:             wire.FlagUnmapSupported,
	}
	copy(p.ProductID[:], "it-unit")
	return p
}

// rig bundles everything needed to drive one unit's Adapter.Execute over a
// live Pipe transport, backed by a real dispatch.Pool on the far end -- the
// chain cmd/spd-hostd's --pipe flag and backend.go's in-process path each
// only exercise in isolation.
type rig struct {
	a      *adapter.Adapter
	btl    uint32
	slot   *unit.Slot
	mem    *backend.Memory
	pool   *dispatch.Pool
	client *transport.PipeClient
	srv    *transport.PipeServer
	cancel context.CancelFunc
}

func newRig(t *testing.T, pid uint32) *rig {
	t.Helper()
	a := adapter.New()
	params := itParams(1)
	btl, err := a.Units.Provision(params, pid)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	slot, err := a.Units.ReferenceByBTL(btl)
	if err != nil {
		t.Fatalf("ReferenceByBTL: %v", err)
	}

	mem := backend.NewMemory(itBlockCount, itBlockLength)
	sock := filepath.Join(t.TempDir(), "unit.sock")
	srv, err := transport.ListenPipe(sock, params)
	if err != nil {
		t.Fatalf("ListenPipe: %v", err)
	}

	local := &dispatch.LocalTransactor{Backend: mem, Unmap: mem, BlockLength: itBlockLength}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, itMaxTransferLength, func(reqHdr, reqData []byte) ([]byte, []byte, error) {
		req, err := wire.UnmarshalTransactRequest(reqHdr)
		if err != nil {
			return nil, nil, err
		}
		buf := reqData
		if req.Kind == wire.KindRead {
			buf = make([]byte, int(req.BlockCount)*itBlockLength)
		}
		resp, err := local.Transact(ctx, req, buf)
		if err != nil {
			return nil, nil, err
		}
		var respData []byte
		if resp.Kind == wire.KindRead && resp.SCSIStatus == scsi.StatusGood {
			respData = buf
		}
		return resp.Marshal(), respData, nil
	})

	client, err := transport.DialPipe(sock)
	if err != nil {
		cancel()
		srv.Close()
		t.Fatalf("DialPipe: %v", err)
	}

	pool := dispatch.Start(ctx, dispatch.Config{
		Ioq:         slot.Ioq,
		Transactor:  client,
		Workers:     2,
		BufferSize:  itMaxTransferLength,
		WaitTimeout: 50 * time.Millisecond,
	})

	return &rig{a: a, btl: btl, slot: slot, mem: mem, pool: pool, client: client, srv: srv, cancel: cancel}
}

func (r *rig) close() {
	r.pool.Stop()
	r.client.Close()
	r.srv.Close()
	r.cancel()
}

func read10(lba uint32, blocks uint16) scsi.CDB {
	cdb := make(scsi.CDB, 10)
	cdb[0] = byte(scsi.OpRead10)
	binary.BigEndian.PutUint32(cdb[2:6], lba)
	binary.BigEndian.PutUint16(cdb[7:9], blocks)
	return cdb
}

func write10(lba uint32, blocks uint16) scsi.CDB {
	cdb := make(scsi.CDB, 10)
	cdb[0] = byte(scsi.OpWrite10)
	binary.BigEndian.PutUint32(cdb[2:6], lba)
	binary.BigEndian.PutUint16(cdb[7:9], blocks)
	return cdb
}

// TestProvisionTransactUnprovisionOverPipe covers scenario 1: a full
// provision, transact-over-the-wire, unprovision round trip driven through
// the live Pipe transport and dispatch pool rather than against a Backend
// or Ioq directly.
func TestProvisionTransactUnprovisionOverPipe(t *testing.T) {
	r := newRig(t, 1001)
	defer r.close()

	pattern := make([]byte, 2*itBlockLength)
	for i := range pattern {
		pattern[i] = byte(i)
	}
	if n, resp := r.a.Execute(r.btl, write10(10, 2), pattern); resp.Status != scsi.StatusGood {
		t.Fatalf("write: n=%d resp=%+v, want good", n, resp)
	}

	readBuf := make([]byte, 2*itBlockLength)
	if n, resp := r.a.Execute(r.btl, read10(10, 2), readBuf); resp.Status != scsi.StatusGood {
		t.Fatalf("read: n=%d resp=%+v, want good", n, resp)
	}
	for i := range pattern {
		if readBuf[i] != pattern[i] {
			t.Fatalf("readBuf[%d] = %#x, want %#x (data did not round-trip through the pipe transport)", i, readBuf[i], pattern[i])
		}
	}

	r.a.Units.Dereference(r.slot)
	if err := r.a.Units.Unprovision(itParams(1).GUID, 1001, adapter.FailOp); err != nil {
		t.Fatalf("Unprovision: %v", err)
	}
	if _, err := r.a.Units.ReferenceByBTL(r.btl); err == nil {
		t.Fatal("unit still resolvable after Unprovision")
	}
}

// TestUnprovisionCancelsInFlightTransact covers scenario 4: a transact
// blocked on the wire gets cancelled, not hung, when its unit is
// unprovisioned out from under it. This is the path that a no-op fail
// callback left broken: Adapter.Execute would block on <-op.Done forever.
func TestUnprovisionCancelsInFlightTransact(t *testing.T) {
	a := adapter.New()
	params := itParams(2)
	btl, err := a.Units.Provision(params, 2002)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}

	result := make(chan scsi.Response, 1)
	go func() {
		_, resp := a.Execute(btl, write10(0, 1), make([]byte, itBlockLength))
		result <- resp
	}()

	// Give the worker-free unit a moment to post its Op and block on
	// <-op.Done before the unit is torn down underneath it. Nothing ever
	// drains this unit's Ioq, so the op stays pending until Unprovision
	// drains it itself.
	time.Sleep(50 * time.Millisecond)

	if err := a.Units.Unprovision(params.GUID, 2002, adapter.FailOp); err != nil {
		t.Fatalf("Unprovision: %v", err)
	}

	select {
	case resp := <-result:
		if resp.Status != scsi.StatusCheckCondition {
			t.Fatalf("resp.Status = %#x, want CheckCondition for a cancelled in-flight transact", resp.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute never returned after Unprovision cancelled its op")
	}
}

// TestProcessDeathSweepsUnit covers scenario 6: the owning process's
// death is detected by procwatch and sweeps the unit, cancelling any
// transact in flight against it, exactly as Unprovision would. Unlike
// TestProvisionTransactUnprovisionOverPipe this drives the unit without a
// dispatch pool so the posted op stays pending deterministically instead
// of racing a worker to completion.
func TestProcessDeathSweepsUnit(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	if err := cmd.Start(); err != nil {
		t.Skipf("could not start helper process: %v", err)
	}
	pid := uint32(cmd.Process.Pid)

	a := adapter.New()
	params := itParams(3)
	btl, err := a.Units.Provision(params, pid)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}

	watcher := procwatch.New(a.Units, adapter.FailOp)
	if err := watcher.Watch(pid); err != nil {
		t.Skipf("pidfd_open unavailable: %v", err)
	}

	result := make(chan scsi.Response, 1)
	go func() {
		_, resp := a.Execute(btl, write10(0, 1), make([]byte, itBlockLength))
		result <- resp
	}()
	time.Sleep(50 * time.Millisecond)

	if err := cmd.Process.Kill(); err != nil {
		t.Fatalf("kill helper process: %v", err)
	}
	_ = cmd.Wait()

	select {
	case resp := <-result:
		if resp.Status != scsi.StatusCheckCondition {
			t.Fatalf("resp.Status = %#x, want CheckCondition after owner process death", resp.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute never returned after its owning process died; process-death sweep did not cancel it")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := a.Units.ReferenceByBTL(btl); err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("unit was not swept from the table after its owning process died")
}
