// Package partition builds a minimal, non-bootable MBR for blank backing
// stores. Byte layout, boot stub, and CHS math are ported directly from
// SpdDefinePartitionTable.
package partition

import "github.com/spd-project/go-spd/internal/spderr"

// Windows' own defaults for CHS geometry synthesis.
const (
	sectorsPerTrack  = 63
	headsPerCylinder = 255
)

const (
	mbrSize       = 512
	maxPartitions = 4
	partitionSize = 16
	bootStubOff   = 0
	signatureOff  = 440
	partitionsOff = 446
	magicOff      = 510
)

// mbrTemplate is the static 512-byte skeleton: a three-instruction boot
// stub (INT 18h; HLT; JMP -3 back to the HLT) followed by zeroed
// signature/partitions and the 0x55AA magic. Matches the reference
// implementation's static SpdMbr exactly.
var mbrTemplate = func() [mbrSize]byte {
	var b [mbrSize]byte
	b[bootStubOff+0] = 0xCD // INT 18h
	b[bootStubOff+1] = 0x18
	b[bootStubOff+2] = 0xF4 // HLT
	b[bootStubOff+3] = 0xEB // JMP -3 (back to HLT)
	b[bootStubOff+4] = 0xFD
	b[magicOff+0] = 0x55
	b[magicOff+1] = 0xAA
	return b
}()

// Partition describes one of up to 4 MBR entries by LBA range.
type Partition struct {
	Type         byte
	Active       bool
	BlockAddress uint32
	BlockCount   uint32
}

// chs is a cylinder/head/sector triple prior to MBR packing.
type chs struct {
	cylinder uint32
	head     uint8
	sector   uint8
}

func lbaToCHS(lba uint32) chs {
	sector := lba%sectorsPerTrack + 1
	temp := lba / sectorsPerTrack
	head := temp % headsPerCylinder
	cylinder := temp / headsPerCylinder
	return chs{cylinder: cylinder, head: uint8(head), sector: uint8(sector)}
}

// clamp caps a CHS triple at the classic 1023/254/63 ceiling, the same
// clamp SpdDefinePartitionTable applies when a computed cylinder overflows
// the 10-bit field.
func (c chs) clamp() chs {
	if c.cylinder > 1023 {
		return chs{cylinder: 1023, head: 254, sector: 63}
	}
	return c
}

// pack writes the 3-byte MBR CHS encoding: sector in the low 6 bits of
// byte 1, the top 2 bits of the 10-bit cylinder in the high 2 bits of
// byte 1, head in byte 0, low 8 bits of cylinder in byte 2.
func (c chs) pack(dst []byte) {
	dst[0] = c.head
	dst[1] = c.sector&0x3f | byte((c.cylinder>>2)&0xc0)
	dst[2] = byte(c.cylinder & 0xff)
}

// DefineTable renders up to 4 Partitions into a fresh 512-byte MBR buffer.
func DefineTable(partitions []Partition) ([]byte, error) {
	if len(partitions) > maxPartitions {
		return nil, spderr.New(spderr.CodeInvalidParameter, "partition", "at most 4 partitions supported")
	}

	buf := mbrTemplate
	for i, p := range partitions {
		if p.BlockCount == 0 {
			continue
		}
		end := uint64(p.BlockAddress) + uint64(p.BlockCount)
		if end > 0xFFFFFFFF {
			return nil, spderr.New(spderr.CodeInvalidParameter, "partition", "partition range overflows 32-bit LBA space")
		}

		entry := buf[partitionsOff+i*partitionSize : partitionsOff+(i+1)*partitionSize]
		if p.Active {
			entry[0] = 0x80
		}
		first := lbaToCHS(p.BlockAddress).clamp()
		first.pack(entry[1:4])
		entry[4] = p.Type
		last := lbaToCHS(p.BlockAddress + p.BlockCount - 1).clamp()
		last.pack(entry[5:8])
		putLE32(entry[8:12], p.BlockAddress)
		putLE32(entry[12:16], p.BlockCount)
	}

	out := make([]byte, mbrSize)
	copy(out, buf[:])
	return out, nil
}

func putLE32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}
