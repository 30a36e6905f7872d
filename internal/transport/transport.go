// Package transport implements two external interfaces to a provisioned
// unit: a driver-ioctl transport (io_uring IORING_OP_URING_CMD passthrough
// against a character device) and a named-pipe transport (a SOCK_SEQPACKET
// Unix domain socket, this platform's message-boundary-preserving analog of
// a Windows message-mode named pipe). Both carry the same handshake: the
// storage unit's params travel once at connect time, then every exchange is
// a transact request/response pair plus its companion data buffer, mirroring
// stgpipe.c's StgPipeOpen/StgPipeTransact.
package transport

import "github.com/spd-project/go-spd/internal/wire"

// Codes are the single-byte request codes of the external interface,
// named after their ioctl letters.
const (
	CodeProvision      = 'p'
	CodeUnprovision    = 'u'
	CodeSetTransactPID = 'i'
	CodeList           = 'l'
	CodeTransact       = 't'
)

// HeaderSize is the fixed size, in bytes, of the request header that
// precedes a transact payload on either transport; a response header is
// wire.TransactResponseSize bytes.
const HeaderSize = wire.TransactRequestSize
