package dispatch

import (
	"context"

	"github.com/spd-project/go-spd/internal/adapter/scsi"
	"github.com/spd-project/go-spd/internal/wire"
)

// Backend is the capability every storage unit must provide. It mirrors
// the root package's Backend interface structurally (deliberately not
// imported, to keep internal/dispatch free of a dependency on the root
// package) so any backend/file or backend/mem value satisfies both.
type Backend interface {
	ReadAt(ctx context.Context, lba uint64, blockCount uint32, blockLength uint32, out []byte) error
	WriteAt(ctx context.Context, lba uint64, blockCount uint32, blockLength uint32, data []byte, fua bool) error
	Flush(ctx context.Context) error
}

// UnmapBackend is the optional capability for backends that support UNMAP;
// the Backend/UnmapBackend split is what makes it optional per unit.
type UnmapBackend interface {
	Unmap(ctx context.Context, descriptors []wire.UnmapDescriptor) error
}

// LocalTransactor executes a transact request directly against a Backend
// in-process, with no transport hop. This is the path CreateAndServe uses
// when the caller embeds this package rather than running cmd/spd-hostd
// against a separate backend process.
type LocalTransactor struct {
	Backend     Backend
	Unmap       UnmapBackend // nil if the backend does not support it
	BlockLength uint32
}

func (t *LocalTransactor) Transact(ctx context.Context, req *wire.TransactRequest, data []byte) (*wire.TransactResponse, error) {
	resp := &wire.TransactResponse{Kind: req.Kind}

	var err error
	switch req.Kind {
	case wire.KindRead:
		err = t.Backend.ReadAt(ctx, req.BlockAddress, req.BlockCount, t.BlockLength, data)
	case wire.KindWrite:
		err = t.Backend.WriteAt(ctx, req.BlockAddress, req.BlockCount, t.BlockLength, data, req.FUA)
	case wire.KindFlush:
		err = t.Backend.Flush(ctx)
	case wire.KindUnmap:
		if t.Unmap == nil {
			return errResponse(resp, scsi.SenseIllegalRequest, scsi.AscInvalidCommandOpcode), nil
		}
		count := int(req.BlockCount)
		var descs []wire.UnmapDescriptor
		descs, err = wire.UnmarshalUnmapDescriptors(data, count)
		if err == nil {
			err = t.Unmap.Unmap(ctx, descs)
		}
	}

	if err != nil {
		return errResponse(resp, scsi.SenseMediumError, scsi.AscSeekError), nil
	}
	resp.SCSIStatus = scsi.StatusGood
	return resp, nil
}

func errResponse(resp *wire.TransactResponse, key, asc byte) *wire.TransactResponse {
	resp.SCSIStatus = scsi.StatusCheckCondition
	resp.SenseKey = key
	resp.ASC = asc
	return resp
}
