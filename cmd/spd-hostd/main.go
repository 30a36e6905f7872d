// Command spd-hostd provisions one virtual SCSI storage unit backed by
// memory or a raw file and serves it over a transport.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spd-project/go-spd"
	"github.com/spd-project/go-spd/backend"
	"github.com/spd-project/go-spd/internal/dispatch"
	"github.com/spd-project/go-spd/internal/logging"
	"github.com/spd-project/go-spd/internal/transport"
	"github.com/spd-project/go-spd/internal/wire"
)

type cmdContext struct{}

var cli struct {
	Serve serveCmd `cmd:"" help:"Provision and serve a storage unit" default:"1"`
}

type serveCmd struct {
	Backend     string `flag:"" enum:"mem,file" default:"mem" help:"Backend kind: mem or file"`
	File        string `flag:"" optional:"" help:"Path to the backing file when --backend=file"`
	BlockCount  uint64 `flag:"" default:"131072" help:"Unit size in blocks"`
	BlockLength uint32 `flag:"" default:"512" help:"Unit block length in bytes"`
	ProductID   string `flag:"" default:"spd-hostd" help:"SCSI product ID (<=16 chars)"`
	ReadOnly    bool   `flag:"" help:"Provision the unit write-protected"`
	Unmap       bool   `flag:"" default:"true" negatable:"" help:"Advertise UNMAP support"`
	Pipe        string `flag:"" optional:"" help:"Unix SOCK_SEQPACKET path to serve the unit over, in addition to the in-process dispatch pool"`
	MetricsAddr string `flag:"" optional:"" help:"Address to serve Prometheus /metrics on (e.g. :9100)"`
	Verbose     bool   `flag:"" short:"v" help:"Debug logging"`
}

func main() {
	k := kong.Parse(&cli,
		kong.Name("spd-hostd"),
		kong.Description("Serve a virtual SCSI storage unit"),
		kong.UsageOnError())
	k.FatalIfErrorf(k.Run(&cmdContext{}))
}

func (c *serveCmd) Run(_ *cmdContext) error {
	logConfig := logging.DefaultConfig()
	if c.Verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	var be spd.Backend
	var unmapBe spd.UnmapBackend
	switch c.Backend {
	case "file":
		if c.File == "" {
			return fmt.Errorf("--file is required when --backend=file")
		}
		f, err := backend.OpenFile(c.File, c.BlockCount, c.BlockLength)
		if err != nil {
			return err
		}
		defer f.Close()
		be, unmapBe = f, f
	default:
		m := backend.NewMemory(c.BlockCount, c.BlockLength)
		be, unmapBe = m, m
	}

	var guid [16]byte
	if _, err := rand.Read(guid[:]); err != nil {
		return fmt.Errorf("generating unit GUID: %w", err)
	}

	params := spd.UnitParams{
		GUID:           guid,
		BlockCount:     c.BlockCount,
		BlockLength:    c.BlockLength,
		ProductID:      c.ProductID,
		ReadOnly:       c.ReadOnly,
		CacheSupported: true,
		UnmapSupported: c.Unmap,
		Backend:        be,
	}
	if c.Unmap {
		params.Unmap = unmapBe
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	unit, err := spd.CreateAndServe(ctx, params, &spd.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("CreateAndServe: %w", err)
	}
	defer spd.StopAndDelete(context.Background(), unit)

	logger.Infof("unit serving btl=0x%06x blocks=%d block_length=%d backend=%s",
		unit.BTL(), c.BlockCount, c.BlockLength, c.Backend)

	if c.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(unit.PrometheusCollector(c.ProductID))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(c.MetricsAddr, mux); err != nil {
				logger.Warnf("metrics server stopped: %v", err)
			}
		}()
		logger.Infof("metrics listening on %s", c.MetricsAddr)
	}

	if c.Pipe != "" {
		wireParams := wire.StorageUnitParams{
			GUID:        guid,
			BlockCount:  c.BlockCount,
			BlockLength: c.BlockLength,
		}
		transactor := &dispatch.LocalTransactor{Backend: be, Unmap: unmapBe, BlockLength: c.BlockLength}
		if !c.Unmap {
			transactor.Unmap = nil
		}

		srv, err := transport.ListenPipe(c.Pipe, wireParams)
		if err != nil {
			return fmt.Errorf("ListenPipe: %w", err)
		}
		defer srv.Close()
		go func() {
			err := srv.Serve(ctx, spd.DefaultMaxTransferLength, func(req, data []byte) ([]byte, []byte, error) {
				return handlePipeRequest(ctx, transactor, req, data)
			})
			if err != nil && ctx.Err() == nil {
				logger.Warnf("pipe server stopped: %v", err)
			}
		}()
		logger.Infof("pipe listening on %s", c.Pipe)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Infof("received shutdown signal")
	return nil
}

// handlePipeRequest decodes one transact request off the pipe and runs it
// directly against the backend, the same LocalTransactor path the
// in-process dispatch pool uses for the unit's own Ioq. A read needs a
// buffer sized for the reply even though the request itself carries no
// payload, so reads get a fresh BlockCount*BlockLength buffer rather than
// the (empty) bytes that arrived with the request.
func handlePipeRequest(ctx context.Context, transactor *dispatch.LocalTransactor, req []byte, data []byte) ([]byte, []byte, error) {
	txReq, err := wire.UnmarshalTransactRequest(req)
	if err != nil {
		return nil, nil, err
	}

	if txReq.Kind == wire.KindRead {
		data = make([]byte, uint64(txReq.BlockCount)*uint64(transactor.BlockLength))
	}

	resp, err := transactor.Transact(ctx, txReq, data)
	if err != nil {
		return nil, nil, err
	}
	if txReq.Kind != wire.KindRead {
		data = nil
	}
	return resp.Marshal(), data, nil
}
