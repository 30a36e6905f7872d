// Package wire defines the fixed binary layouts exchanged between a
// provisioned storage unit and its transport: storage-unit parameters,
// transact request/response, and unmap descriptors. Layouts are packed
// by hand with encoding/binary rather than reflection so that the byte
// offsets match the wire exactly, the same discipline a kernel ioctl ABI
// demands of its own control structures.
package wire

import (
	"encoding/binary"
	"unsafe"
)

// RequestKind selects the active member of a transact request/response.
type RequestKind uint8

const (
	KindRead RequestKind = iota
	KindWrite
	KindFlush
	KindUnmap
)

func (k RequestKind) String() string {
	switch k {
	case KindRead:
		return "Read"
	case KindWrite:
		return "Write"
	case KindFlush:
		return "Flush"
	case KindUnmap:
		return "Unmap"
	default:
		return "Unknown"
	}
}

// NoReply is the scsi-status sentinel meaning "fire and forget", i.e. the
// producer does not expect this response to be read back.
const NoReply = 0xFF

// Flag bits within StorageUnitParams.Flags.
const (
	FlagWriteProtected = 1 << 0
	FlagCacheSupported = 1 << 1
	FlagUnmapSupported = 1 << 2
	FlagEjectDisabled  = 1 << 3
)

// StorageUnitParamsSize is the fixed, versioned wire size of StorageUnitParams.
const StorageUnitParamsSize = 128

// StorageUnitParams is the 128-byte parameter block a caller supplies to
// Provision. ProductID and ProductRevision are ASCII,
// space-padded, not NUL-terminated.
type StorageUnitParams struct {
	GUID              [16]byte
	BlockCount        uint64
	BlockLength       uint32
	ProductID         [16]byte
	ProductRevision   [4]byte
	DeviceType        uint8
	Flags             uint8
	MaxTransferLength uint32
	Reserved          [72]byte
}

var _ [StorageUnitParamsSize]byte = [unsafe.Sizeof(StorageUnitParams{})]byte{}

func (p *StorageUnitParams) WriteProtected() bool { return p.Flags&FlagWriteProtected != 0 }
func (p *StorageUnitParams) CacheSupported() bool { return p.Flags&FlagCacheSupported != 0 }
func (p *StorageUnitParams) UnmapSupported() bool { return p.Flags&FlagUnmapSupported != 0 }
func (p *StorageUnitParams) EjectDisabled() bool  { return p.Flags&FlagEjectDisabled != 0 }

// Marshal packs p into a fresh 128-byte buffer.
func (p *StorageUnitParams) Marshal() []byte {
	buf := make([]byte, StorageUnitParamsSize)
	copy(buf[0:16], p.GUID[:])
	binary.LittleEndian.PutUint64(buf[16:24], p.BlockCount)
	binary.LittleEndian.PutUint32(buf[24:28], p.BlockLength)
	copy(buf[28:44], p.ProductID[:])
	copy(buf[44:48], p.ProductRevision[:])
	buf[48] = p.DeviceType
	buf[49] = p.Flags
	binary.LittleEndian.PutUint32(buf[50:54], p.MaxTransferLength)
	copy(buf[54:128], p.Reserved[:])
	return buf
}

// UnmarshalStorageUnitParams unpacks a 128-byte buffer into a StorageUnitParams.
func UnmarshalStorageUnitParams(data []byte) (*StorageUnitParams, error) {
	if len(data) < StorageUnitParamsSize {
		return nil, ErrShortBuffer
	}
	p := &StorageUnitParams{}
	copy(p.GUID[:], data[0:16])
	p.BlockCount = binary.LittleEndian.Uint64(data[16:24])
	p.BlockLength = binary.LittleEndian.Uint32(data[24:28])
	copy(p.ProductID[:], data[28:44])
	copy(p.ProductRevision[:], data[44:48])
	p.DeviceType = data[48]
	p.Flags = data[49]
	p.MaxTransferLength = binary.LittleEndian.Uint32(data[50:54])
	copy(p.Reserved[:], data[54:128])
	return p, nil
}

// TransactRequestSize is the fixed wire size of TransactRequest.
const TransactRequestSize = 32

// TransactRequest is the request half of a transact exchange.
// BlockCount doubles as the unmap descriptor count when Kind == KindUnmap;
// the descriptors themselves travel in the companion data buffer.
type TransactRequest struct {
	Hint         uint64
	Kind         RequestKind
	FUA          bool
	_            [6]byte
	BlockAddress uint64
	BlockCount   uint32
	_            [4]byte
}

var _ [TransactRequestSize]byte = [unsafe.Sizeof(TransactRequest{})]byte{}

func (r *TransactRequest) Marshal() []byte {
	buf := make([]byte, TransactRequestSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.Hint)
	buf[8] = byte(r.Kind)
	if r.FUA {
		buf[9] = 1
	}
	binary.LittleEndian.PutUint64(buf[16:24], r.BlockAddress)
	binary.LittleEndian.PutUint32(buf[24:28], r.BlockCount)
	return buf
}

func UnmarshalTransactRequest(data []byte) (*TransactRequest, error) {
	if len(data) < TransactRequestSize {
		return nil, ErrShortBuffer
	}
	r := &TransactRequest{
		Hint:         binary.LittleEndian.Uint64(data[0:8]),
		Kind:         RequestKind(data[8]),
		FUA:          data[9] != 0,
		BlockAddress: binary.LittleEndian.Uint64(data[16:24]),
		BlockCount:   binary.LittleEndian.Uint32(data[24:28]),
	}
	return r, nil
}

// TransactResponseSize is the fixed wire size of TransactResponse.
const TransactResponseSize = 24

// TransactResponse is the reply half of a transact exchange.
type TransactResponse struct {
	Hint             uint64
	Kind             RequestKind
	SCSIStatus       uint8
	SenseKey         uint8
	ASC              uint8
	ASCQ             uint8
	InformationValid bool
	_                [2]byte
	Information      uint64
}

var _ [TransactResponseSize]byte = [unsafe.Sizeof(TransactResponse{})]byte{}

func (r *TransactResponse) Marshal() []byte {
	buf := make([]byte, TransactResponseSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.Hint)
	buf[8] = byte(r.Kind)
	buf[9] = r.SCSIStatus
	buf[10] = r.SenseKey
	buf[11] = r.ASC
	buf[12] = r.ASCQ
	if r.InformationValid {
		buf[13] = 1
	}
	binary.LittleEndian.PutUint64(buf[16:24], r.Information)
	return buf
}

func UnmarshalTransactResponse(data []byte) (*TransactResponse, error) {
	if len(data) < TransactResponseSize {
		return nil, ErrShortBuffer
	}
	r := &TransactResponse{
		Hint:             binary.LittleEndian.Uint64(data[0:8]),
		Kind:             RequestKind(data[8]),
		SCSIStatus:       data[9],
		SenseKey:         data[10],
		ASC:              data[11],
		ASCQ:             data[12],
		InformationValid: data[13] != 0,
		Information:      binary.LittleEndian.Uint64(data[16:24]),
	}
	return r, nil
}

// UnmapDescriptorSize is the fixed wire size of UnmapDescriptor.
const UnmapDescriptorSize = 16

// UnmapDescriptor is one entry of an UNMAP payload.
type UnmapDescriptor struct {
	BlockAddress uint64
	BlockCount   uint32
	Reserved     uint32
}

var _ [UnmapDescriptorSize]byte = [unsafe.Sizeof(UnmapDescriptor{})]byte{}

func (d *UnmapDescriptor) Marshal(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], d.BlockAddress)
	binary.LittleEndian.PutUint32(buf[8:12], d.BlockCount)
	binary.LittleEndian.PutUint32(buf[12:16], d.Reserved)
}

func UnmarshalUnmapDescriptors(data []byte, count int) ([]UnmapDescriptor, error) {
	if len(data) < count*UnmapDescriptorSize {
		return nil, ErrShortBuffer
	}
	out := make([]UnmapDescriptor, count)
	for i := 0; i < count; i++ {
		off := i * UnmapDescriptorSize
		out[i] = UnmapDescriptor{
			BlockAddress: binary.LittleEndian.Uint64(data[off : off+8]),
			BlockCount:   binary.LittleEndian.Uint32(data[off+8 : off+12]),
			Reserved:     binary.LittleEndian.Uint32(data[off+12 : off+16]),
		}
	}
	return out, nil
}

// wireError is a lightweight string error for a handful of fixed
// sentinels, avoiding fmt.Errorf's allocation on the hot unmarshal path.
type wireError string

func (e wireError) Error() string { return string(e) }

const ErrShortBuffer wireError = "wire: buffer too short"
