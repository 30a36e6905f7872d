package transport

import (
	"context"
	"fmt"
	"os"
	"unsafe"

	"github.com/pawelgaczynski/giouring"

	"github.com/spd-project/go-spd/internal/wire"
)

// uringCmdOpcode is IORING_OP_URING_CMD, stable since Linux 6.0.
const uringCmdOpcode = 46

// DriverClient carries transact requests to a character device via
// IORING_OP_URING_CMD passthrough SQEs, the same way a ublk queue runner
// carries FETCH_REQ/COMMIT_AND_FETCH_REQ ioctls over its own ring. The
// device is expected to read the command from, and write its reply back
// into, the same buffer, true of every uring-cmd passthrough driver;
// DriverClient does no locking of its own, so callers serialize their own
// access (internal/dispatch shares one Transactor across all its workers).
type DriverClient struct {
	file   *os.File
	ring   *giouring.Ring
	Params wire.StorageUnitParams
}

// OpenDriver opens devicePath (e.g. "/dev/spd-control") and performs the
// params handshake by issuing CodeList and reading the addressed unit's
// params back via a uring-cmd round-trip.
func OpenDriver(devicePath string, btl uint32) (*DriverClient, error) {
	f, err := os.OpenFile(devicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: open driver: %w", err)
	}
	ring, err := giouring.CreateRing(8)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("transport: create ring: %w", err)
	}
	c := &DriverClient{file: f, ring: ring}

	buf := make([]byte, int(HeaderSize)+wire.StorageUnitParamsSize)
	buf[0] = CodeList
	putBTL(buf[1:], btl)
	n, err := c.submitCmdCtx(context.Background(), buf)
	if err != nil {
		c.Close()
		return nil, err
	}
	params, err := wire.UnmarshalStorageUnitParams(buf[:n])
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Params = *params
	return c, nil
}

func (c *DriverClient) Close() error {
	if c.ring != nil {
		c.ring.QueueExit()
	}
	return c.file.Close()
}

// Transact implements dispatch.Transactor over the driver transport: it
// submits one CodeTransact uring-cmd carrying the marshalled request (plus
// write/unmap payload) and reads the response (plus read payload) back out
// of the same passthrough buffer.
func (c *DriverClient) Transact(ctx context.Context, req *wire.TransactRequest, data []byte) (*wire.TransactResponse, error) {
	dataLen := 0
	switch req.Kind {
	case wire.KindWrite:
		dataLen = int(req.BlockCount) * int(c.Params.BlockLength)
	case wire.KindUnmap:
		dataLen = len(data)
	}

	replySpace := int(wire.TransactResponseSize) + int(c.Params.MaxTransferLength)
	bufLen := int(HeaderSize) + dataLen
	if replySpace > bufLen {
		bufLen = replySpace
	}
	buf := make([]byte, bufLen)
	buf[0] = CodeTransact
	copy(buf[1:], req.Marshal())
	copy(buf[HeaderSize:], data[:dataLen])

	n, err := c.submitCmdCtx(ctx, buf)
	if err != nil {
		return nil, err
	}
	if n < wire.TransactResponseSize {
		return nil, fmt.Errorf("transport: driver: short response (%d bytes)", n)
	}

	resp, err := wire.UnmarshalTransactResponse(buf[:wire.TransactResponseSize])
	if err != nil {
		return nil, err
	}
	if resp.Kind == wire.KindRead {
		copy(data, buf[wire.TransactResponseSize:n])
	}
	return resp, nil
}

// submitCmdCtx builds one uring-cmd SQE carrying buf as its passthrough
// payload (read and overwritten in place by the device), submits it, and
// waits for the matching CQE. It returns the reply length the device
// reported in cqe.Res. This follows a submitCommitAndFetch/WaitForCompletion
// shape rather than liburing's cmd helpers verbatim, since
// pawelgaczynski/giouring has no dedicated uring-cmd SQE setter to build
// on directly.
func (c *DriverClient) submitCmdCtx(ctx context.Context, buf []byte) (int, error) {
	sqe := c.ring.GetSQE()
	if sqe == nil {
		if _, err := c.ring.Submit(); err != nil {
			return 0, fmt.Errorf("transport: driver submit (queue full): %w", err)
		}
		sqe = c.ring.GetSQE()
		if sqe == nil {
			return 0, fmt.Errorf("transport: driver submission queue full")
		}
	}

	sqe.OpCode = uringCmdOpcode
	sqe.Fd = int32(c.file.Fd())
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
	sqe.Len = uint32(len(buf))
	sqe.SetUserData(1)

	if _, err := c.ring.SubmitAndWaitTimeout(1, nil, nil); err != nil {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		return 0, fmt.Errorf("transport: driver submit: %w", err)
	}

	cqe, err := c.ring.WaitCQE()
	if err != nil {
		return 0, fmt.Errorf("transport: driver wait cqe: %w", err)
	}
	defer c.ring.SeenCQE(cqe)

	if cqe.Res < 0 {
		return 0, fmt.Errorf("transport: driver cmd failed: errno %d", -cqe.Res)
	}
	n := int(cqe.Res)
	if n > len(buf) {
		n = len(buf)
	}
	return n, nil
}

func putBTL(buf []byte, btl uint32) {
	buf[0] = byte(btl >> 24)
	buf[1] = byte(btl >> 16)
	buf[2] = byte(btl >> 8)
	buf[3] = byte(btl)
}
