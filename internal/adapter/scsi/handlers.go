package scsi

import (
	"encoding/binary"

	"github.com/spd-project/go-spd/internal/wire"
)

// VendorID is this framework's fixed 8-byte ASCII SCSI vendor identifier.
const VendorID = "GOSPD   "

// UnitInfo is the read-only view of a provisioned unit the SCSI handlers
// need. It is a plain value (not the adapter/unit.Unit type) so this
// package has no dependency on the unit table.
type UnitInfo struct {
	Params   wire.StorageUnitParams
	Serial   string // 36-char ASCII, see FormatSerial
	OwnerPID uint32
}

// FormatSerial derives the VPD 80h serial from a GUID:
// "%08x-%04x-%04x-%02x%02x-%02x%02x%02x%02x%02x%02x".
func FormatSerial(guid [16]byte) string {
	const hex = "0123456789abcdef"
	buf := make([]byte, 0, 36)
	appendHex := func(b byte) {
		buf = append(buf, hex[b>>4], hex[b&0xf])
	}
	for i := 0; i < 4; i++ {
		appendHex(guid[i])
	}
	buf = append(buf, '-')
	appendHex(guid[4])
	appendHex(guid[5])
	buf = append(buf, '-')
	appendHex(guid[6])
	appendHex(guid[7])
	buf = append(buf, '-')
	appendHex(guid[8])
	appendHex(guid[9])
	buf = append(buf, '-')
	for i := 10; i < 16; i++ {
		appendHex(guid[i])
	}
	return string(buf)
}

// ReportLuns answers REPORT LUNS: one all-zero LUN if the
// addressed target is populated, else an empty list.
func ReportLuns(populated bool, out []byte) (int, Response) {
	const headerLen = 8
	length := 0
	if populated {
		length = 8
	}
	if len(out) < headerLen+length {
		return 0, IllegalRequest()
	}
	binary.BigEndian.PutUint32(out[0:4], uint32(length))
	return headerLen + length, Ok()
}

// TestUnitReady always succeeds.
func TestUnitReady() Response { return Ok() }

// Inquiry answers standard and VPD INQUIRY.
func Inquiry(cdb CDB, info UnitInfo, out []byte) (int, Response) {
	if !cdb.EnableVPD() {
		if cdb.PageCode() != 0 {
			return 0, IllegalRequest()
		}
		return inquiryStandard(info, out)
	}
	switch cdb.PageCode() {
	case VPDSupportedPages:
		return inquirySupportedPages(info, out)
	case VPDSerialNumber:
		return inquirySerialNumber(info, out)
	case VPDDeviceID:
		return inquiryDeviceID(info, out)
	case VPDBlockLimits:
		return inquiryBlockLimits(info, out)
	case VPDLogicalBlockProvisioning:
		return inquiryLBProvisioning(info, out)
	default:
		return 0, IllegalRequest()
	}
}

const stdInquiryLen = 36

func inquiryStandard(info UnitInfo, out []byte) (int, Response) {
	if len(out) < stdInquiryLen {
		return 0, Response{Status: 0} // data-overrun treated as truncated copy by caller
	}
	for i := range out[:stdInquiryLen] {
		out[i] = 0
	}
	out[0] = info.Params.DeviceType
	out[2] = 5 // Versions: complies to the standard
	out[3] = 2 // ResponseDataFormat
	out[4] = stdInquiryLen - 5
	out[7] = 1 << 1 // CmdQue
	copy(out[8:16], VendorID)
	copy(out[16:32], info.Params.ProductID[:])
	copy(out[32:36], info.Params.ProductRevision[:])
	return stdInquiryLen, Ok()
}

func inquirySupportedPages(info UnitInfo, out []byte) (int, Response) {
	pages := []byte{VPDSupportedPages, VPDSerialNumber, VPDDeviceID, VPDBlockLimits, VPDLogicalBlockProvisioning}
	n := 4 + len(pages)
	if len(out) < n {
		return 0, IllegalRequest()
	}
	out[0] = info.Params.DeviceType
	out[1] = VPDSupportedPages
	binary.BigEndian.PutUint16(out[2:4], uint16(len(pages)))
	copy(out[4:], pages)
	return n, Ok()
}

func inquirySerialNumber(info UnitInfo, out []byte) (int, Response) {
	serial := []byte(info.Serial)
	n := 4 + len(serial)
	if len(out) < n {
		return 0, IllegalRequest()
	}
	out[0] = info.Params.DeviceType
	out[1] = VPDSerialNumber
	binary.BigEndian.PutUint16(out[2:4], uint16(len(serial)))
	copy(out[4:], serial)
	return n, Ok()
}

// inquiryDeviceID builds VPD 83h with two identifiers: an ASCII
// vendor+product+revision+serial descriptor, and the 8-byte binary
// "PID"/"PIDX" + big-endian owner-pid eject/ownership channel.
func inquiryDeviceID(info UnitInfo, out []byte) (int, Response) {
	id0 := []byte(VendorID)
	id0 = append(id0, info.Params.ProductID[:]...)
	id0 = append(id0, info.Params.ProductRevision[:]...)
	id0 = append(id0, []byte(info.Serial)...)

	id1 := make([]byte, 8)
	id1[0], id1[1], id1[2] = 'P', 'I', 'D'
	if info.Params.EjectDisabled() {
		id1[3] = 'X'
	} else {
		id1[3] = ' '
	}
	binary.BigEndian.PutUint32(id1[4:8], info.OwnerPID)

	const descHeader = 4
	total := 4 + descHeader + len(id0) + descHeader + len(id1)
	if len(out) < total {
		return 0, IllegalRequest()
	}
	out[0] = info.Params.DeviceType
	out[1] = VPDDeviceID
	binary.BigEndian.PutUint16(out[2:4], uint16(descHeader+len(id0)+descHeader+len(id1)))

	off := 4
	out[off] = 0x02 // CodeSet=ASCII
	out[off+1] = 0x01 // IdentifierType=VendorID, Association=LUN (0)
	out[off+3] = byte(len(id0))
	copy(out[off+descHeader:], id0)
	off += descHeader + len(id0)

	out[off] = 0x01 // CodeSet=Binary
	out[off+1] = 0x00 // IdentifierType=VendorSpecific
	out[off+3] = byte(len(id1))
	copy(out[off+descHeader:], id1)

	return total, Ok()
}

func inquiryBlockLimits(info UnitInfo, out []byte) (int, Response) {
	const n = 24
	if len(out) < n {
		return 0, IllegalRequest()
	}
	for i := range out[:n] {
		out[i] = 0
	}
	out[0] = info.Params.DeviceType
	out[1] = VPDBlockLimits
	binary.BigEndian.PutUint16(out[2:4], n-4)
	maxXferBlocks := info.Params.MaxTransferLength / info.Params.BlockLength
	binary.BigEndian.PutUint32(out[8:12], maxXferBlocks)
	if info.Params.UnmapSupported() {
		binary.BigEndian.PutUint32(out[16:20], 0xFFFFFFFF)
		binary.BigEndian.PutUint32(out[20:24], info.Params.MaxTransferLength/wire.UnmapDescriptorSize)
	}
	return n, Ok()
}

func inquiryLBProvisioning(info UnitInfo, out []byte) (int, Response) {
	const n = 8
	if len(out) < n {
		return 0, IllegalRequest()
	}
	for i := range out[:n] {
		out[i] = 0
	}
	out[0] = info.Params.DeviceType
	out[1] = VPDLogicalBlockProvisioning
	binary.BigEndian.PutUint16(out[2:4], n-4)
	if info.Params.UnmapSupported() {
		out[5] = 1 << 7 // LBPU
		out[4] = 0x02   // provisioning type: thin
	}
	return n, Ok()
}

// ModeSense answers MODE SENSE(6/10) for the caching page or "all pages";
// rejects changeable-values.
func ModeSense(cdb CDB, info UnitInfo, out []byte) (int, Response) {
	if cdb.ModeSenseChangeable() {
		return 0, IllegalRequest()
	}
	page := cdb.PageCode() & 0x3f
	if page != 0x08 && page != 0x3f {
		return 0, IllegalRequest()
	}

	cachingPage := []byte{0x08, 0x12}
	cachingPage = append(cachingPage, make([]byte, 18)...)
	if info.Params.CacheSupported() {
		cachingPage[2] |= 1 << 2 // WCE
	} else {
		cachingPage[2] |= 1 << 0 // RCD
	}

	devSpecific := byte(0)
	if info.Params.WriteProtected() {
		devSpecific |= 1 << 7
	}
	devSpecific |= 1 << 4 // DPOFUA supported

	if cdb.Len() == 6 {
		n := 4 + len(cachingPage)
		if len(out) < n {
			return 0, IllegalRequest()
		}
		out[0] = byte(n - 1)
		out[2] = devSpecific
		copy(out[4:], cachingPage)
		return n, Ok()
	}
	n := 8 + len(cachingPage)
	if len(out) < n {
		return 0, IllegalRequest()
	}
	binary.BigEndian.PutUint16(out[0:2], uint16(n-2))
	out[3] = devSpecific
	copy(out[8:], cachingPage)
	return n, Ok()
}

// ReadCapacity answers READ CAPACITY(10/16).
func ReadCapacity(use16 bool, info UnitInfo, out []byte) (int, Response) {
	lastLBA := info.Params.BlockCount - 1
	if !use16 {
		n := 8
		if len(out) < n {
			return 0, IllegalRequest()
		}
		clamped := lastLBA
		if clamped > 0xFFFFFFFF {
			clamped = 0xFFFFFFFF
		}
		binary.BigEndian.PutUint32(out[0:4], uint32(clamped))
		binary.BigEndian.PutUint32(out[4:8], info.Params.BlockLength)
		return n, Ok()
	}
	n := 32
	if len(out) < n {
		return 0, IllegalRequest()
	}
	for i := range out[:n] {
		out[i] = 0
	}
	binary.BigEndian.PutUint64(out[0:8], lastLBA)
	binary.BigEndian.PutUint32(out[8:12], info.Params.BlockLength)
	if info.Params.UnmapSupported() {
		out[12] = 1 << 7 // LBPME
	}
	return n, Ok()
}

// RangeCheck validates [lba, lba+count) against blockCount: end = start +
// count, failing ILLEGAL_REQUEST/ILLEGAL_BLOCK on overflow or end >
// block-count.
func RangeCheck(lba uint64, count uint64, blockCount uint64) Response {
	end := lba + count
	if end < lba || end > blockCount {
		return OutOfRange()
	}
	return Ok()
}
