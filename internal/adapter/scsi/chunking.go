package scsi

import (
	"github.com/spd-project/go-spd/internal/spderr"
	"github.com/spd-project/go-spd/internal/wire"
)

// ChunkState tracks one in-flight Read/Write SRB's progress through the
// Ioq's prepare/complete cycle. It is the Go analog of the per-SRB
// extension fields SystemDataBuffer/SystemDataLength/ChunkOffset.
type ChunkState struct {
	Kind              wire.RequestKind
	BlockAddress      uint64 // starting LBA of the whole (unchunked) request
	BlockLength       uint32
	SystemData        []byte // the full caller buffer, in bytes
	ChunkOffset       int    // bytes already delivered
	MaxTransferLength uint32 // bytes, per unit params
	FUA               bool
}

// Prepare fills the outgoing transact request for the next chunk and, for
// a write, copies that chunk's bytes into dataBuffer. The chunk-window
// formula is chunkLength = min(systemDataLength - chunkOffset,
// maxTransferLength).
//
// UNMAP carries no block-length-scaled geometry: its SystemData is the raw
// descriptor-list blob postUnmap already bounded to MaxTransferLength, so
// it goes out whole, as a single chunk, the same way Flush's nil
// systemData needs no block math either.
func (s *ChunkState) Prepare(req *wire.TransactRequest, dataBuffer []byte) error {
	if s.Kind == wire.KindUnmap {
		if len(s.SystemData) > len(dataBuffer) {
			return spderr.New(spderr.CodeInvalidParameter, "scsi.Prepare", "data buffer smaller than chunk")
		}
		req.Hint = 0
		req.Kind = s.Kind
		req.BlockAddress = 0
		req.BlockCount = uint32(len(s.SystemData) / wire.UnmapDescriptorSize)
		copy(dataBuffer, s.SystemData)
		return nil
	}

	remaining := len(s.SystemData) - s.ChunkOffset
	chunkLen := remaining
	if chunkLen > int(s.MaxTransferLength) {
		chunkLen = int(s.MaxTransferLength)
	}
	if chunkLen > len(dataBuffer) {
		return spderr.New(spderr.CodeInvalidParameter, "scsi.Prepare", "data buffer smaller than chunk")
	}

	blockOffset := uint64(s.ChunkOffset) / uint64(s.BlockLength)
	req.Hint = 0
	req.Kind = s.Kind
	req.FUA = s.FUA
	req.BlockAddress = s.BlockAddress + blockOffset
	req.BlockCount = uint32(chunkLen) / s.BlockLength

	if s.Kind == wire.KindWrite {
		copy(dataBuffer, s.SystemData[s.ChunkOffset:s.ChunkOffset+chunkLen])
	}
	return nil
}

// Complete consumes one chunk's response. On a Read it copies the chunk
// back into SystemData. It reports pending=true while more chunks remain:
// complete is called ceil(L/M) times, and the final call advances
// chunk-offset to L.
func (s *ChunkState) Complete(resp *wire.TransactResponse, dataBuffer []byte) (pending bool, err error) {
	if resp.SCSIStatus != StatusGood {
		return false, nil
	}
	if s.Kind == wire.KindUnmap {
		s.ChunkOffset = len(s.SystemData)
		return false, nil
	}

	remaining := len(s.SystemData) - s.ChunkOffset
	chunkLen := remaining
	if chunkLen > int(s.MaxTransferLength) {
		chunkLen = int(s.MaxTransferLength)
	}

	if s.Kind == wire.KindRead {
		copy(s.SystemData[s.ChunkOffset:s.ChunkOffset+chunkLen], dataBuffer[:chunkLen])
	}
	s.ChunkOffset += chunkLen

	return s.ChunkOffset < len(s.SystemData), nil
}
