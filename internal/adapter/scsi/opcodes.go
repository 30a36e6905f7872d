// Package scsi implements the SCSI command protocol handlers: CDB parsing,
// sense generation, INQUIRY/VPD/MODE SENSE/READ CAPACITY responses
// answered synchronously, and the range-check plus chunking helpers for
// the Read/Write/Unmap commands that are posted to a unit's Ioq.
// Field-level behavior is ported from sys/scsi.c; CDB length/LBA/XferLen
// parsing and the response-builder idiom follow coreos-go-tcmu's
// scsi_handler.go.
package scsi

// Opcode is a SCSI command operation code (spc-4 §4.2.5.1).
type Opcode byte

const (
	OpTestUnitReady     Opcode = 0x00
	OpInquiry           Opcode = 0x12
	OpModeSense6        Opcode = 0x1a
	OpReportLuns        Opcode = 0xa0
	OpReadCapacity10    Opcode = 0x25
	OpServiceActionIn16 Opcode = 0x9e // carries READ CAPACITY(16)
	OpRead6             Opcode = 0x08
	OpRead10            Opcode = 0x28
	OpRead12            Opcode = 0xa8
	OpRead16            Opcode = 0x88
	OpWrite6            Opcode = 0x0a
	OpWrite10           Opcode = 0x2a
	OpWrite12           Opcode = 0xaa
	OpWrite16           Opcode = 0x8a
	OpSynchronizeCache10 Opcode = 0x35
	OpSynchronizeCache16 Opcode = 0x91
	OpUnmap             Opcode = 0x42
	OpModeSense10       Opcode = 0x5a
)

// ServiceActionReadCapacity16 is the SERVICE ACTION value in byte[1] of a
// SERVICE ACTION IN(16) CDB selecting READ CAPACITY(16).
const ServiceActionReadCapacity16 = 0x10

// Sense keys (SPC-4 table).
const (
	SenseNoSense        = 0x00
	SenseIllegalRequest = 0x05
	SenseMediumError    = 0x03
	SenseDataProtect    = 0x07
	SenseHardwareError  = 0x04
)

// Additional sense codes used by this module.
const (
	AscInvalidCommandOpcode = 0x20
	AscInvalidFieldInCDB    = 0x24
	AscLBAOutOfRange        = 0x21
	AscWriteProtected       = 0x27
	AscSeekError            = 0x15
)

// Additional sense code qualifiers used by this module.
const (
	AscqNone                        = 0x00
	AscqPositioningDetectedByRead   = 0x01
)

// SAM status codes.
const (
	StatusGood            = 0x00
	StatusCheckCondition   = 0x02
)

// VPD page codes.
const (
	VPDSupportedPages  = 0x00
	VPDSerialNumber    = 0x80
	VPDDeviceID        = 0x83
	VPDBlockLimits     = 0xb0
	VPDLogicalBlockProvisioning = 0xb2
)
