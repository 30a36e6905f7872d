package transport

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spd-project/go-spd/internal/wire"
)

func TestPipeHandshakeCarriesParams(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "unit.sock")
	params := wire.StorageUnitParams{BlockCount: 2048, BlockLength: 512, MaxTransferLength: 512 * 32}

	srv, err := ListenPipe(sock, params)
	if err != nil {
		t.Fatalf("ListenPipe: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx, 512*32, func(req, data []byte) ([]byte, []byte, error) {
		r, _ := wire.UnmarshalTransactRequest(req)
		resp := &wire.TransactResponse{Kind: r.Kind, SCSIStatus: 0}
		return resp.Marshal(), nil, nil
	})

	client, err := DialPipe(sock)
	if err != nil {
		t.Fatalf("DialPipe: %v", err)
	}
	defer client.Close()

	if client.Params.BlockCount != 2048 || client.Params.BlockLength != 512 {
		t.Errorf("Params = %+v, want BlockCount=2048 BlockLength=512", client.Params)
	}
}

func TestPipeTransactRoundTrip(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "unit.sock")
	params := wire.StorageUnitParams{BlockCount: 2048, BlockLength: 512, MaxTransferLength: 512 * 32}

	srv, err := ListenPipe(sock, params)
	if err != nil {
		t.Fatalf("ListenPipe: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	served := make(chan []byte, 1)
	go srv.Serve(ctx, 512*32, func(req, data []byte) ([]byte, []byte, error) {
		r, _ := wire.UnmarshalTransactRequest(req)
		served <- append([]byte(nil), data...)
		resp := &wire.TransactResponse{Kind: r.Kind, SCSIStatus: 0}
		if r.Kind == wire.KindRead {
			out := make([]byte, int(r.BlockCount)*512)
			for i := range out {
				out[i] = 0x5A
			}
			return resp.Marshal(), out, nil
		}
		return resp.Marshal(), nil, nil
	})

	client, err := DialPipe(sock)
	if err != nil {
		t.Fatalf("DialPipe: %v", err)
	}
	defer client.Close()

	readBuf := make([]byte, 512*2)
	req := &wire.TransactRequest{Kind: wire.KindRead, BlockAddress: 0, BlockCount: 2}
	resp, err := client.Transact(context.Background(), req, readBuf)
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if resp.SCSIStatus != 0 {
		t.Fatalf("SCSIStatus = %#x, want 0", resp.SCSIStatus)
	}
	for i, b := range readBuf {
		if b != 0x5A {
			t.Fatalf("readBuf[%d] = %#x, want 0x5A", i, b)
		}
	}

	select {
	case <-served:
	case <-time.After(time.Second):
		t.Fatal("server handler was never invoked")
	}
}

func TestDialPipeFailsWithoutListener(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "nonexistent.sock")
	if _, err := DialPipe(sock); err == nil {
		t.Fatal("expected an error dialing a socket with no listener")
	}
}
