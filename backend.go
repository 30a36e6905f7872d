// Package spd provides the public API of a user-mode storage target
// framework: provision a virtual SCSI logical unit backed by any Backend
// implementation, and serve SCSI commands against it through an in-process
// dispatch pool or an out-of-process transport (internal/transport).
package spd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spd-project/go-spd/internal/adapter"
	"github.com/spd-project/go-spd/internal/adapter/procwatch"
	"github.com/spd-project/go-spd/internal/adapter/scsi"
	"github.com/spd-project/go-spd/internal/adapter/unit"
	"github.com/spd-project/go-spd/internal/constants"
	"github.com/spd-project/go-spd/internal/dispatch"
	"github.com/spd-project/go-spd/internal/logging"
	"github.com/spd-project/go-spd/internal/wire"
)

// Backend is the storage implementation behind one provisioned unit. All
// methods take a ctx since the call may cross a dispatch worker's own
// cancellation boundary; blockLength is supplied on every call rather than
// stashed by the backend so the same Backend value could in principle serve
// units provisioned with different geometries.
type Backend interface {
	ReadAt(ctx context.Context, lba uint64, blockCount uint32, blockLength uint32, out []byte) error
	WriteAt(ctx context.Context, lba uint64, blockCount uint32, blockLength uint32, data []byte, fua bool) error
	Flush(ctx context.Context) error
}

// UnmapBackend is the optional capability a Backend implements to support
// SCSI UNMAP. A unit provisioned with FlagUnmapSupported set but backed by
// a Backend that does not also implement UnmapBackend answers every UNMAP
// with an illegal-request check condition (internal/dispatch/local.go).
type UnmapBackend interface {
	Unmap(ctx context.Context, descriptors []wire.UnmapDescriptor) error
}

// UnmapDescriptor mirrors the wire layout without forcing callers outside
// this module to import an internal package.
type UnmapDescriptor = wire.UnmapDescriptor

// UnitParams describes the storage unit to provision.
type UnitParams struct {
	GUID              [16]byte
	BlockCount        uint64
	BlockLength       uint32 // default DefaultBlockLength if zero
	ProductID         string // truncated/space-padded to 16 bytes
	ProductRevision   string // truncated/space-padded to 4 bytes
	MaxTransferLength uint32 // default DefaultMaxTransferLength if zero

	ReadOnly       bool
	CacheSupported bool
	UnmapSupported bool
	EjectDisabled  bool

	Backend Backend
	Unmap   UnmapBackend // nil if the backend does not support UNMAP

	Workers     int           // dispatch pool size, default DefaultDispatchWorkers
	BufferSize  int           // per-worker buffer, default DefaultDispatchBufferSize
	WaitTimeout time.Duration // default constants.DefaultWaitTimeout
}

func (p UnitParams) toWire() wire.StorageUnitParams {
	var flags uint8
	if p.ReadOnly {
		flags |= wire.FlagWriteProtected
	}
	if p.CacheSupported {
		flags |= wire.FlagCacheSupported
	}
	if p.UnmapSupported {
		flags |= wire.FlagUnmapSupported
	}
	if p.EjectDisabled {
		flags |= wire.FlagEjectDisabled
	}

	blockLength := p.BlockLength
	if blockLength == 0 {
		blockLength = DefaultBlockLength
	}
	maxTransfer := p.MaxTransferLength
	if maxTransfer == 0 {
		maxTransfer = DefaultMaxTransferLength
	}

	wp := wire.StorageUnitParams{
		GUID:              p.GUID,
		BlockCount:        p.BlockCount,
		BlockLength:       blockLength,
		Flags:             flags,
		MaxTransferLength: maxTransfer,
	}
	copy(wp.ProductID[:], padRight(p.ProductID, 16))
	copy(wp.ProductRevision[:], padRight(p.ProductRevision, 4))
	return wp
}

func padRight(s string, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = ' '
	}
	copy(out, s)
	return out
}

// Options configures CreateAndServe.
type Options struct {
	// Adapter lets multiple units share one virtual HBA's 16-slot unit
	// table. A nil Adapter gets a fresh one, appropriate for serving a
	// single unit standalone.
	Adapter *adapter.Adapter

	// Logger receives dispatch-worker diagnostics; nil disables logging.
	Logger *logging.Logger

	// Observer receives per-op metrics; nil defaults to a MetricsObserver
	// wrapping a fresh Metrics.
	Observer Observer
}

// Unit is a handle to one provisioned, actively served storage unit.
type Unit struct {
	adapter  *adapter.Adapter
	slot     *unit.Slot
	btl      uint32
	guid     [16]byte
	ownerPID uint32

	pool    *dispatch.Pool
	watcher *procwatch.Watcher

	ctx    context.Context
	cancel context.CancelFunc

	metrics  *Metrics
	observer Observer
	log      *logging.Logger // nil if Options.Logger was nil; carries this unit's btl
	started  bool
}

// CreateAndServe provisions a storage unit and starts its in-process
// dispatch pool against params.Backend.
func CreateAndServe(ctx context.Context, params UnitParams, options *Options) (*Unit, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if params.Backend == nil {
		return nil, NewError("CreateAndServe", ErrCodeInvalidParameter, "Backend is required")
	}
	if options == nil {
		options = &Options{}
	}

	a := options.Adapter
	if a == nil {
		a = adapter.New()
	}

	ownerPID := uint32(os.Getpid())
	btl, err := a.Units.Provision(params.toWire(), ownerPID)
	if err != nil {
		return nil, WrapError("CreateAndServe", err)
	}
	slot, err := a.Units.ReferenceByBTL(btl)
	if err != nil {
		_ = a.Units.Unprovision(params.GUID, ownerPID, adapter.FailOp)
		return nil, WrapError("CreateAndServe", err)
	}

	metrics := NewMetrics()
	var observer Observer = options.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	blockLength := slot.Params.BlockLength
	transactor := &dispatch.LocalTransactor{
		Backend:     params.Backend,
		Unmap:       params.Unmap,
		BlockLength: blockLength,
	}

	workers := params.Workers
	if workers <= 0 {
		workers = DefaultDispatchWorkers
	}
	bufferSize := params.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultDispatchBufferSize
	}
	waitTimeout := params.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = constants.DefaultWaitTimeout
	}

	runCtx, cancel := context.WithCancel(ctx)
	pool := dispatch.Start(runCtx, dispatch.Config{
		Ioq:         slot.Ioq,
		Transactor:  transactor,
		Workers:     workers,
		BufferSize:  bufferSize,
		WaitTimeout: waitTimeout,
		Logger:      options.Logger,
		Observer:    observer,
		BlockLength: blockLength,
	})

	var ulog *logging.Logger
	if options.Logger != nil {
		ulog = options.Logger.With("btl", fmt.Sprintf("0x%06x", btl))
	}

	watcher := procwatch.New(a.Units, adapter.FailOp)
	if err := watcher.Watch(ownerPID); err != nil && ulog != nil {
		ulog.Infof("process-death sweep unavailable for pid=%d: %v", ownerPID, err)
	}

	u := &Unit{
		adapter:  a,
		slot:     slot,
		btl:      btl,
		guid:     params.GUID,
		ownerPID: ownerPID,
		pool:     pool,
		watcher:  watcher,
		ctx:      runCtx,
		cancel:   cancel,
		metrics:  metrics,
		observer: observer,
		log:      ulog,
		started:  true,
	}

	if ulog != nil {
		ulog.Infof("unit provisioned guid=%x", params.GUID)
	}
	return u, nil
}

// UnitState represents the current lifecycle state of a served Unit.
type UnitState string

const (
	UnitStateServing UnitState = "serving"
	UnitStateStopped UnitState = "stopped"
)

// State returns the current lifecycle state of the unit.
func (u *Unit) State() UnitState {
	if u == nil || !u.started {
		return UnitStateStopped
	}
	select {
	case <-u.ctx.Done():
		return UnitStateStopped
	default:
		return UnitStateServing
	}
}

// BTL returns the unit's bus/target/lun address.
func (u *Unit) BTL() uint32 { return u.btl }

// Execute routes one CDB at this unit, exactly as the adapter's virtual
// HBA would when addressed by this unit's BTL. Exposed so an embedder can
// drive SCSI commands in-process without standing up a transport.
func (u *Unit) Execute(cdb []byte, out []byte) (int, error) {
	n, resp := u.adapter.Execute(u.btl, scsi.CDB(cdb), out)
	if resp.Status != scsi.StatusGood {
		return n, NewError("Execute", ErrCodeIOError, fmt.Sprintf("scsi status %#02x sense %#02x/%#02x/%#02x", resp.Status, resp.SenseKey, resp.ASC, resp.ASCQ))
	}
	return n, nil
}

// Metrics returns the unit's metrics collector.
func (u *Unit) Metrics() *Metrics {
	if u == nil {
		return nil
	}
	return u.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of the unit's metrics.
func (u *Unit) MetricsSnapshot() MetricsSnapshot {
	if u == nil || u.metrics == nil {
		return MetricsSnapshot{}
	}
	return u.metrics.Snapshot()
}

// StopAndDelete stops serving u and unprovisions it from its adapter's unit
// table, draining any in-flight chunks with a cancelled response.
func StopAndDelete(ctx context.Context, u *Unit) error {
	if u == nil {
		return ErrInvalidParameters
	}
	if u.cancel != nil {
		u.cancel()
	}
	if u.pool != nil {
		u.pool.Stop()
	}
	if u.metrics != nil {
		u.metrics.Stop()
	}
	if u.watcher != nil {
		u.watcher.Unwatch(u.ownerPID)
	}

	time.Sleep(constants.ShutdownDrainDelay)

	u.adapter.Units.Dereference(u.slot)
	if err := u.adapter.Units.Unprovision(u.guid, u.ownerPID, adapter.FailOp); err != nil {
		return WrapError("StopAndDelete", err)
	}
	if u.log != nil {
		u.log.Infof("unit unprovisioned")
	}
	u.started = false
	return nil
}
