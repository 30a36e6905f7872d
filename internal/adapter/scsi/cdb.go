package scsi

import (
	"encoding/binary"
	"fmt"
)

// CDB is a SCSI Command Descriptor Block. Length/LBA/transfer-length
// decoding follows coreos-go-tcmu's SCSICmd.CdbLen/LBA/XferLen, which
// implements the same opcode-range rules spc-4 §4.2.5.1 specifies.
type CDB []byte

func (c CDB) Opcode() Opcode { return Opcode(c[0]) }

// Len returns the CDB's length in bytes given its opcode.
func (c CDB) Len() int {
	op := c[0]
	switch {
	case op <= 0x1f:
		return 6
	case op <= 0x5f:
		return 10
	case op == 0x7f:
		return int(c[7]) + 8
	case op >= 0x80 && op <= 0x9f:
		return 16
	case op >= 0xa0 && op <= 0xbf:
		return 12
	default:
		panic(fmt.Sprintf("scsi: unhandled opcode %#x", op))
	}
}

// LBA returns the block address addressed by this CDB. The 6-byte
// variant's "0 means 256" quirk is spc-4 legacy and preserved here.
func (c CDB) LBA() uint64 {
	be := binary.BigEndian
	switch c.Len() {
	case 6:
		v := uint8(be.Uint16(c[2:4]))
		if v == 0 {
			return 256
		}
		return uint64(v)
	case 10, 12:
		return uint64(be.Uint32(c[2:6]))
	case 16:
		return be.Uint64(c[2:10])
	default:
		panic("scsi: LBA: unsupported CDB length")
	}
}

// BlockCount returns the transfer length, in blocks, addressed by this CDB.
func (c CDB) BlockCount() uint32 {
	be := binary.BigEndian
	switch c.Len() {
	case 6:
		return uint32(c[4])
	case 10:
		return uint32(be.Uint16(c[7:9]))
	case 12:
		return be.Uint32(c[6:10])
	case 16:
		return be.Uint32(c[10:14])
	default:
		panic("scsi: BlockCount: unsupported CDB length")
	}
}

// FUA reports the Force Unit Access bit for Read/Write CDBs (bit 3 of the
// flags byte, which sits at offset 1 for 6-byte CDBs and offset 1 for the
// longer variants as well).
func (c CDB) FUA() bool {
	return c[1]&0x08 != 0
}

// EnableVPD reports whether INQUIRY's EVPD bit is set.
func (c CDB) EnableVPD() bool { return c[1]&0x01 != 0 }

// PageCode returns byte[2], the VPD/mode page code field shared by
// INQUIRY and MODE SENSE CDBs.
func (c CDB) PageCode() byte { return c[2] }

// ModeSenseChangeable reports MODE SENSE's PC=01b "changeable values" page
// control, which this module always rejects.
func (c CDB) ModeSenseChangeable() bool {
	return (c[2]>>6)&0x03 == 0x01
}

// AllocationLength returns the CDB's allocation/parameter length field,
// which for MODE SENSE(10) sits at a different offset than MODE SENSE(6)
// -- a frequent source of bugs when the wrong CDB layout is assumed.
func (c CDB) AllocationLength() uint32 {
	be := binary.BigEndian
	switch c.Len() {
	case 6:
		return uint32(c[4])
	case 10:
		return uint32(be.Uint16(c[7:9]))
	case 12, 16:
		return be.Uint32(c[len(c)-5 : len(c)-1])
	default:
		return 0
	}
}
