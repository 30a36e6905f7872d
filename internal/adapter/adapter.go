// Package adapter is the virtual SCSI HBA: it owns a unit table, decodes
// incoming CDBs, answers administrative commands (INQUIRY, REPORT LUNS,
// MODE SENSE, READ CAPACITY, TEST UNIT READY) synchronously, and posts
// data-moving commands (READ/WRITE/SYNCHRONIZE CACHE/UNMAP) to the
// addressed unit's Ioq for asynchronous transact processing. Routing
// follows SpdSrbExecuteScsi (sys/scsi.c), trading its SRB/IRP completion
// model for a result channel per posted Op.
package adapter

import (
	"github.com/spd-project/go-spd/internal/adapter/scsi"
	"github.com/spd-project/go-spd/internal/adapter/unit"
	"github.com/spd-project/go-spd/internal/spderr"
	"github.com/spd-project/go-spd/internal/wire"
)

// Adapter is one virtual SCSI HBA: a unit table plus command routing.
type Adapter struct {
	Units *unit.Table
}

// New returns an empty Adapter.
func New() *Adapter {
	return &Adapter{Units: unit.NewTable()}
}

// Op is the Go analog of SPD_SRB_EXTENSION: the in-flight state of one
// data-moving command as it travels through a unit's Ioq. Dispatch workers
// (internal/dispatch) drive it through Prepare/Complete on every chunk
// until Done closes.
type Op struct {
	Chunk   *scsi.ChunkState
	wireReq wire.TransactRequest
	Done    chan scsi.Response
}

// WireRequest returns the request last filled by Prepare, ready to marshal
// onto the wire.
func (o *Op) WireRequest() *wire.TransactRequest { return &o.wireReq }

// Prepare implements ioq.PrepareFunc: it fills o.wireReq for the next
// chunk, copying write data into dataBuffer.
func Prepare(op any, dataBuffer []byte) error {
	o := op.(*Op)
	return o.Chunk.Prepare(&o.wireReq, dataBuffer)
}

// CompleteWith builds an ioq.CompleteFunc bound to a wire response already
// read off the transport; dispatch calls this once per chunk completion.
func CompleteWith(resp *wire.TransactResponse) func(op any, dataBuffer []byte) (bool, error) {
	return func(op any, dataBuffer []byte) (bool, error) {
		o := op.(*Op)
		pending, err := o.Chunk.Complete(resp, dataBuffer)
		if err != nil {
			return false, err
		}
		if !pending {
			o.Done <- responseFromWire(resp)
			close(o.Done)
		}
		return pending, nil
	}
}

// FailOp is the fail callback unit.Table.Unprovision/SweepOwner expect: it
// completes a drained Op's Done channel with an ABORTED COMMAND check condition,
// mirroring CompleteWith for the success path. Without this, an Execute
// call blocked on <-op.Done for a request that Reset just drained out
// from under it would never return. Ioq.Reset only ever calls fail for a
// request it still holds under its own lock, so this never races a
// CompleteWith/FailOp call already in flight for the same Op.
func FailOp(op any) {
	o := op.(*Op)
	o.Done <- scsi.CheckCondition(0x0B, 0, 0) // ABORTED COMMAND sense key
	close(o.Done)
}

func responseFromWire(resp *wire.TransactResponse) scsi.Response {
	if resp.SCSIStatus == scsi.StatusGood {
		return scsi.Ok()
	}
	if resp.InformationValid {
		return scsi.CheckConditionWithInformation(resp.SenseKey, resp.ASC, resp.ASCQ, uint32(resp.Information))
	}
	return scsi.CheckCondition(resp.SenseKey, resp.ASC, resp.ASCQ)
}

// Execute routes one CDB addressed at btl. Administrative commands are
// answered synchronously into out, returning the byte count written.
// Data-moving commands are posted to the unit's Ioq and this call blocks
// until the backend side completes every chunk. It takes no context: Op
// completion is driven by the dispatcher's own cancellation, not the
// caller's.
func (a *Adapter) Execute(btl uint32, cdb scsi.CDB, out []byte) (int, scsi.Response) {
	slot, err := a.Units.ReferenceByBTL(btl)
	if err != nil {
		if cdb.Opcode() == scsi.OpReportLuns {
			return scsi.ReportLuns(false, out)
		}
		return 0, scsi.Response{Status: scsi.StatusCheckCondition, SenseKey: scsi.SenseHardwareError}
	}
	defer a.Units.Dereference(slot)
	info := slot.Info()

	switch cdb.Opcode() {
	case scsi.OpReportLuns:
		return scsi.ReportLuns(true, out)

	case scsi.OpTestUnitReady:
		return 0, scsi.TestUnitReady()

	case scsi.OpInquiry:
		return scsi.Inquiry(cdb, info, out)

	case scsi.OpModeSense6, scsi.OpModeSense10:
		return scsi.ModeSense(cdb, info, out)

	case scsi.OpReadCapacity10:
		return scsi.ReadCapacity(false, info, out)

	case scsi.OpServiceActionIn16:
		if cdb[1]&0x1f == scsi.ServiceActionReadCapacity16 {
			return scsi.ReadCapacity(true, info, out)
		}
		return 0, scsi.InvalidOpcode()

	case scsi.OpRead6, scsi.OpRead10, scsi.OpRead12, scsi.OpRead16:
		return a.postRange(slot, wire.KindRead, cdb, out, info)

	case scsi.OpWrite6, scsi.OpWrite10, scsi.OpWrite12, scsi.OpWrite16:
		if info.Params.WriteProtected() {
			return 0, scsi.WriteProtected()
		}
		return a.postRange(slot, wire.KindWrite, cdb, out, info)

	case scsi.OpSynchronizeCache10, scsi.OpSynchronizeCache16:
		if !info.Params.CacheSupported() {
			return 0, scsi.InvalidOpcode()
		}
		if info.Params.WriteProtected() {
			return 0, scsi.WriteProtected()
		}
		return a.postRange(slot, wire.KindFlush, cdb, out, info)

	case scsi.OpUnmap:
		return a.postUnmap(slot, cdb, out, info)

	default:
		return 0, scsi.InvalidOpcode()
	}
}

func (a *Adapter) postRange(slot *unit.Slot, kind wire.RequestKind, cdb scsi.CDB, systemData []byte, info scsi.UnitInfo) (int, scsi.Response) {
	lba := cdb.LBA()
	count := uint64(cdb.BlockCount())
	if count == 0 {
		return 0, scsi.Ok()
	}
	if resp := scsi.RangeCheck(lba, count, info.Params.BlockCount); resp.Status != scsi.StatusGood {
		return 0, resp
	}

	dataLen := 0
	if kind != wire.KindFlush {
		dataLen = int(count) * int(info.Params.BlockLength)
		if len(systemData) < dataLen {
			return 0, scsi.CheckCondition(scsi.SenseHardwareError, 0, 0)
		}
		systemData = systemData[:dataLen]
	} else {
		systemData = nil
	}

	op := &Op{
		Chunk: &scsi.ChunkState{
			Kind:              kind,
			BlockAddress:      lba,
			BlockLength:       info.Params.BlockLength,
			SystemData:        systemData,
			MaxTransferLength: info.Params.MaxTransferLength,
			FUA:               cdb.FUA(),
		},
		Done: make(chan scsi.Response, 1),
	}
	return a.postAndWait(slot, op, dataLen)
}

func (a *Adapter) postUnmap(slot *unit.Slot, cdb scsi.CDB, paramList []byte, info scsi.UnitInfo) (int, scsi.Response) {
	if !info.Params.UnmapSupported() {
		return 0, scsi.InvalidOpcode()
	}
	if info.Params.WriteProtected() {
		return 0, scsi.WriteProtected()
	}
	const unmapListHeader = 8
	if len(paramList) < unmapListHeader {
		return 0, scsi.CheckCondition(scsi.SenseHardwareError, 0, 0)
	}
	descLen := int(paramList[2])<<8 | int(paramList[3])
	if len(paramList) < unmapListHeader+descLen {
		return 0, scsi.CheckCondition(scsi.SenseHardwareError, 0, 0)
	}
	if descLen > int(info.Params.MaxTransferLength) {
		return 0, scsi.IllegalRequest()
	}
	if descLen == 0 {
		return 0, scsi.Ok()
	}

	// SCSI UNMAP block descriptors are big-endian on the wire (spc-4); this
	// is distinct from the little-endian local transact ABI in internal/wire.
	const scsiUnmapDescLen = 16
	count := descLen / scsiUnmapDescLen
	descs := make([]wire.UnmapDescriptor, count)
	for i := 0; i < count; i++ {
		src := paramList[unmapListHeader+i*scsiUnmapDescLen:]
		var lba uint64
		for b := 0; b < 8; b++ {
			lba = lba<<8 | uint64(src[b])
		}
		count32 := uint32(src[8])<<24 | uint32(src[9])<<16 | uint32(src[10])<<8 | uint32(src[11])
		descs[i] = wire.UnmapDescriptor{BlockAddress: lba, BlockCount: count32}
		if resp := scsi.RangeCheck(lba, uint64(count32), info.Params.BlockCount); resp.Status != scsi.StatusGood {
			return 0, resp
		}
	}

	raw := make([]byte, count*int(wire.UnmapDescriptorSize))
	for i, d := range descs {
		d := d
		d.Marshal(raw[i*int(wire.UnmapDescriptorSize):])
	}

	op := &Op{
		Chunk: &scsi.ChunkState{
			Kind:              wire.KindUnmap,
			SystemData:        raw,
			MaxTransferLength: info.Params.MaxTransferLength,
		},
		Done: make(chan scsi.Response, 1),
	}
	return a.postAndWait(slot, op, 0)
}

func (a *Adapter) postAndWait(slot *unit.Slot, op *Op, dataLen int) (int, scsi.Response) {
	if err := slot.Ioq.Post(op); err != nil {
		if spderr.Is(err, spderr.CodeCancelled) {
			return 0, scsi.CheckCondition(scsi.SenseHardwareError, 0, 0)
		}
		return 0, scsi.CheckCondition(scsi.SenseHardwareError, 0, 0)
	}
	resp := <-op.Done
	return dataLen, resp
}
