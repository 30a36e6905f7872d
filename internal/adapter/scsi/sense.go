package scsi

import "encoding/binary"

// Response is what a SCSI command handler hands back to the caller: a
// status byte and, for CHECK CONDITION, fixed-format sense data. This
// mirrors coreos-go-tcmu's SCSIResponse/response-builder idiom
// (Ok/CheckCondition/IllegalRequest/MediumError): it writes ErrorCode
// 0x70, sense-key, ASC, ASCQ, and an optional big-endian Information
// field.
type Response struct {
	Status           byte
	SenseKey         byte
	ASC              byte
	ASCQ             byte
	Information      uint32
	InformationValid bool
}

// Ok is the common-case success response.
func Ok() Response { return Response{Status: StatusGood} }

// CheckCondition builds a CHECK CONDITION response with the given sense
// key and additional sense code/qualifier.
func CheckCondition(key, asc, ascq byte) Response {
	return Response{Status: StatusCheckCondition, SenseKey: key, ASC: asc, ASCQ: ascq}
}

// CheckConditionWithInformation is CheckCondition plus a big-endian
// Information field -- the faulting LBA a backend reported with its error.
func CheckConditionWithInformation(key, asc, ascq byte, information uint32) Response {
	return Response{
		Status: StatusCheckCondition, SenseKey: key, ASC: asc, ASCQ: ascq,
		Information: information, InformationValid: true,
	}
}

// IllegalRequest is the preset response for a malformed or unsupported CDB.
func IllegalRequest() Response {
	return CheckCondition(SenseIllegalRequest, AscInvalidFieldInCDB, AscqNone)
}

// InvalidOpcode is the preset response for an opcode this unit does not
// implement at all.
func InvalidOpcode() Response {
	return CheckCondition(SenseIllegalRequest, AscInvalidCommandOpcode, AscqNone)
}

// OutOfRange is the preset response for a Read/Write/Unmap range that
// overflows the unit's block count.
func OutOfRange() Response {
	return CheckCondition(SenseIllegalRequest, AscLBAOutOfRange, AscqNone)
}

// WriteProtected is the preset response for a write attempted against a
// write-protected unit.
func WriteProtected() Response {
	return CheckCondition(SenseDataProtect, AscWriteProtected, AscqNone)
}

// FixedSenseBuffer renders r as an 18-byte fixed-format sense buffer
// (ErrorCode 0x70, current), the same layout coreos-go-tcmu produces.
func (r Response) FixedSenseBuffer() []byte {
	buf := make([]byte, 18)
	if r.Status != StatusCheckCondition {
		return buf
	}
	buf[0] = 0x70
	buf[2] = r.SenseKey
	buf[7] = byte(len(buf) - 8)
	buf[12] = r.ASC
	buf[13] = r.ASCQ
	if r.InformationValid {
		buf[0] |= 0x80
		binary.BigEndian.PutUint32(buf[3:7], r.Information)
	}
	return buf
}
