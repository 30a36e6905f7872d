// Command spdctl is a diagnostic client for a unit served over
// internal/transport's Pipe transport. It speaks the block-level transact
// protocol directly rather than passing raw CDBs through an ioctl, since
// that is all the Pipe transport carries.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/spd-project/go-spd/internal/transport"
	"github.com/spd-project/go-spd/internal/wire"
)

type cmdContext struct{}

var cli struct {
	Read  readCmd  `cmd:"" help:"Read blocks and hex-dump them"`
	Write writeCmd `cmd:"" help:"Write a byte pattern to blocks"`
	Unmap unmapCmd `cmd:"" help:"Unmap (deallocate) a block range"`
	Flush flushCmd `cmd:"" help:"Flush the unit"`
	Info  infoCmd  `cmd:"" help:"Print the unit's params from the pipe handshake"`
}

type pipeTarget struct {
	Pipe string `arg:"" help:"Path to the unit's SOCK_SEQPACKET pipe"`
}

type readCmd struct {
	pipeTarget
	LBA    uint64 `arg:"" help:"Starting block address"`
	Blocks uint32 `arg:"" default:"1" help:"Number of blocks to read"`
}

type writeCmd struct {
	pipeTarget
	LBA     uint64 `arg:"" help:"Starting block address"`
	Pattern byte   `arg:"" default:"0" help:"Byte value to fill each block with"`
	Blocks  uint32 `arg:"" default:"1" help:"Number of blocks to write"`
	FUA     bool   `flag:"" help:"Set force-unit-access on the write"`
}

type unmapCmd struct {
	pipeTarget
	LBA    uint64 `arg:"" help:"Starting block address"`
	Blocks uint32 `arg:"" default:"1" help:"Number of blocks to unmap"`
}

type flushCmd struct {
	pipeTarget
}

type infoCmd struct {
	pipeTarget
}

func main() {
	k := kong.Parse(&cli,
		kong.Name("spdctl"),
		kong.Description("Diagnostic client for a served storage unit"),
		kong.UsageOnError())
	k.FatalIfErrorf(k.Run(&cmdContext{}))
}

func (c *infoCmd) Run(_ *cmdContext) error {
	client, err := transport.DialPipe(c.Pipe)
	if err != nil {
		return err
	}
	defer client.Close()

	p := client.Params
	fmt.Printf("guid=%x blocks=%d block_length=%d write_protected=%v cache=%v unmap=%v\n",
		p.GUID, p.BlockCount, p.BlockLength, p.WriteProtected(), p.CacheSupported(), p.UnmapSupported())
	return nil
}

func (c *readCmd) Run(_ *cmdContext) error {
	client, err := transport.DialPipe(c.Pipe)
	if err != nil {
		return err
	}
	defer client.Close()

	buf := make([]byte, uint64(c.Blocks)*uint64(client.Params.BlockLength))
	req := &wire.TransactRequest{Kind: wire.KindRead, BlockAddress: c.LBA, BlockCount: c.Blocks}
	resp, err := client.Transact(context.Background(), req, buf)
	if err != nil {
		return err
	}
	if resp.SCSIStatus != 0 {
		return printSense(resp)
	}
	dumpHex(buf)
	return nil
}

func (c *writeCmd) Run(_ *cmdContext) error {
	client, err := transport.DialPipe(c.Pipe)
	if err != nil {
		return err
	}
	defer client.Close()

	buf := make([]byte, uint64(c.Blocks)*uint64(client.Params.BlockLength))
	for i := range buf {
		buf[i] = c.Pattern
	}
	req := &wire.TransactRequest{Kind: wire.KindWrite, BlockAddress: c.LBA, BlockCount: c.Blocks, FUA: c.FUA}
	resp, err := client.Transact(context.Background(), req, buf)
	if err != nil {
		return err
	}
	if resp.SCSIStatus != 0 {
		return printSense(resp)
	}
	fmt.Printf("wrote %d block(s) at lba %d\n", c.Blocks, c.LBA)
	return nil
}

func (c *unmapCmd) Run(_ *cmdContext) error {
	client, err := transport.DialPipe(c.Pipe)
	if err != nil {
		return err
	}
	defer client.Close()

	desc := wire.UnmapDescriptor{BlockAddress: c.LBA, BlockCount: c.Blocks}
	data := make([]byte, wire.UnmapDescriptorSize)
	desc.Marshal(data)

	req := &wire.TransactRequest{Kind: wire.KindUnmap, BlockCount: 1}
	resp, err := client.Transact(context.Background(), req, data)
	if err != nil {
		return err
	}
	if resp.SCSIStatus != 0 {
		return printSense(resp)
	}
	fmt.Printf("unmapped %d block(s) at lba %d\n", c.Blocks, c.LBA)
	return nil
}

func (c *flushCmd) Run(_ *cmdContext) error {
	client, err := transport.DialPipe(c.Pipe)
	if err != nil {
		return err
	}
	defer client.Close()

	req := &wire.TransactRequest{Kind: wire.KindFlush}
	resp, err := client.Transact(context.Background(), req, nil)
	if err != nil {
		return err
	}
	if resp.SCSIStatus != 0 {
		return printSense(resp)
	}
	fmt.Println("flushed")
	return nil
}

func printSense(resp *wire.TransactResponse) error {
	return fmt.Errorf("scsi status=%#02x sense key=%#02x asc=%#02x ascq=%#02x",
		resp.SCSIStatus, resp.SenseKey, resp.ASC, resp.ASCQ)
}

func dumpHex(buf []byte) {
	for off := 0; off < len(buf); off += 16 {
		end := off + 16
		if end > len(buf) {
			end = len(buf)
		}
		fmt.Fprintf(os.Stdout, "%08x  ", off)
		for _, b := range buf[off:end] {
			fmt.Fprintf(os.Stdout, "%02x ", b)
		}
		fmt.Println()
	}
}
