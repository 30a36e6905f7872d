package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/spd-project/go-spd/internal/wire"
)

// PipeServer listens on a SOCK_SEQPACKET Unix domain socket and, on every
// new connection, sends the unit's params once (StgPipeOpen's handshake)
// before handing the connection to a transact loop that calls into a local
// backend through onTransact.
type PipeServer struct {
	ln     net.Listener
	params wire.StorageUnitParams
}

// ListenPipe binds a SOCK_SEQPACKET socket at path. An existing socket file
// at path is not removed by this call; the caller owns cleanup.
func ListenPipe(path string, params wire.StorageUnitParams) (*PipeServer, error) {
	ln, err := net.Listen("unixpacket", path)
	if err != nil {
		return nil, fmt.Errorf("transport: listen pipe: %w", err)
	}
	return &PipeServer{ln: ln, params: params}, nil
}

func (s *PipeServer) Close() error { return s.ln.Close() }

// Serve accepts connections until ctx is cancelled or the listener closes,
// handling each with handler. handler receives the raw (req, data) bytes
// already separated and must return the (resp, data) bytes to send back.
func (s *PipeServer) Serve(ctx context.Context, maxTransferLength uint32, handler func(req []byte, data []byte) (resp []byte, respData []byte, err error)) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.serveConn(conn, maxTransferLength, handler)
	}
}

func (s *PipeServer) serveConn(conn net.Conn, maxTransferLength uint32, handler func([]byte, []byte) ([]byte, []byte, error)) {
	defer conn.Close()

	if _, err := conn.Write(s.params.Marshal()); err != nil {
		return
	}

	msgBuf := make([]byte, int(HeaderSize)+int(maxTransferLength))
	for {
		n, err := conn.Read(msgBuf)
		if err != nil {
			return
		}
		if n < HeaderSize {
			return
		}
		reqHdr := msgBuf[:HeaderSize]
		reqData := append([]byte(nil), msgBuf[HeaderSize:n]...)

		respHdr, respData, err := handler(reqHdr, reqData)
		if err != nil {
			return
		}
		out := append(append([]byte(nil), respHdr...), respData...)
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

// PipeClient is the client half: it dials a SOCK_SEQPACKET socket, reads
// the one-time params handshake, and implements dispatch.Transactor by
// writing (req, data) and reading back (resp, data) in lock-step, exactly
// as StgPipeTransact does.
type PipeClient struct {
	conn   net.Conn
	Params wire.StorageUnitParams
}

// DialPipe connects to a pipe transport and performs the params handshake.
func DialPipe(path string) (*PipeClient, error) {
	conn, err := net.Dial("unixpacket", path)
	if err != nil {
		return nil, fmt.Errorf("transport: dial pipe: %w", err)
	}
	buf := make([]byte, wire.StorageUnitParamsSize)
	n, err := conn.Read(buf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: pipe handshake: %w", err)
	}
	if n < wire.StorageUnitParamsSize {
		conn.Close()
		return nil, fmt.Errorf("transport: pipe handshake: short read (%d bytes)", n)
	}
	params, err := wire.UnmarshalStorageUnitParams(buf)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &PipeClient{conn: conn, Params: *params}, nil
}

func (c *PipeClient) Close() error { return c.conn.Close() }

// Transact implements dispatch.Transactor.
func (c *PipeClient) Transact(ctx context.Context, req *wire.TransactRequest, data []byte) (*wire.TransactResponse, error) {
	dataLen := 0
	switch req.Kind {
	case wire.KindWrite:
		dataLen = int(req.BlockCount) * dataBlockLength(c.Params, req)
	case wire.KindUnmap:
		dataLen = len(data)
	}

	msg := append(req.Marshal(), data[:dataLen]...)
	if _, err := c.conn.Write(msg); err != nil {
		return nil, fmt.Errorf("transport: pipe write: %w", err)
	}

	respBuf := make([]byte, int(HeaderSize)+int(c.Params.MaxTransferLength))
	n, err := c.conn.Read(respBuf)
	if err != nil {
		return nil, fmt.Errorf("transport: pipe read: %w", err)
	}
	if n < wire.TransactResponseSize {
		return nil, fmt.Errorf("transport: pipe read: short response (%d bytes)", n)
	}
	resp, err := wire.UnmarshalTransactResponse(respBuf[:wire.TransactResponseSize])
	if err != nil {
		return nil, err
	}
	if resp.Kind == wire.KindRead && resp.SCSIStatus == 0 {
		copy(data, respBuf[wire.TransactResponseSize:n])
	}
	return resp, nil
}

func dataBlockLength(params wire.StorageUnitParams, req *wire.TransactRequest) int {
	_ = req
	return int(params.BlockLength)
}
