// Package dispatch is the user-mode worker pool behind a provisioned unit:
// one or more goroutines drain its Ioq via StartProcessing/EndProcessing,
// running each chunk through a Transactor. A combined "hand back a
// response, fetch the next request" shape keeps Transact's round trip to
// one call per chunk rather than two.
package dispatch

import (
	"context"
	"time"

	"github.com/spd-project/go-spd/internal/adapter"
	"github.com/spd-project/go-spd/internal/adapter/scsi"
	"github.com/spd-project/go-spd/internal/ioq"
	"github.com/spd-project/go-spd/internal/logging"
	"github.com/spd-project/go-spd/internal/spderr"
	"github.com/spd-project/go-spd/internal/wire"
)

// Observer receives per-op metrics as chunks complete. It mirrors the root
// package's Observer structurally (deliberately not imported, same reason
// as Backend/UnmapBackend in local.go) so a spd.MetricsObserver satisfies
// it without either package importing the other.
type Observer interface {
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveUnmap(latencyNs uint64, success bool)
	ObserveFlush(latencyNs uint64, success bool)
	ObserveQueueDepth(depth uint32)
}

// Transactor is anything that can carry one wire.TransactRequest (plus its
// companion data buffer) to wherever the I/O actually happens, and bring
// back the wire.TransactResponse. LocalTransactor executes in-process
// against a Backend; the driver and pipe transports (internal/transport)
// instead carry the request across a process boundary.
type Transactor interface {
	Transact(ctx context.Context, req *wire.TransactRequest, data []byte) (*wire.TransactResponse, error)
}

// Config describes one worker pool bound to a single unit's Ioq.
type Config struct {
	Ioq         *ioq.Ioq
	Transactor  Transactor
	Workers     int           // default 1 if <= 0
	BufferSize  int           // per-worker data buffer, bytes; must cover MaxTransferLength
	WaitTimeout time.Duration // StartProcessing poll timeout, default 1s
	Logger      *logging.Logger
	Observer    Observer // nil disables metrics recording
	BlockLength uint32   // unit's block length, used to turn BlockCount into bytes for Observer
}

// Pool runs Config.Workers goroutines, each with its own data buffer; no
// buffer is ever shared across workers.
type Pool struct {
	cfg    Config
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the pool's workers and returns immediately.
func Start(ctx context.Context, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{cfg: cfg, cancel: cancel, done: make(chan struct{})}

	var running int
	runningDone := make(chan struct{}, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		running++
		go func(worker int) {
			defer func() { runningDone <- struct{}{} }()
			p.runWorker(ctx, worker)
		}(i)
	}
	go func() {
		for i := 0; i < running; i++ {
			<-runningDone
		}
		close(p.done)
	}()
	return p
}

// Stop cancels every worker and blocks until they exit.
func (p *Pool) Stop() {
	p.cancel()
	<-p.done
}

func (p *Pool) runWorker(ctx context.Context, worker int) {
	buf := make([]byte, p.cfg.BufferSize)
	log := p.cfg.Logger
	if log != nil {
		log = log.With("worker", worker)
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		op, hint, status, prepErr := p.cfg.Ioq.StartProcessing(ctx, adapter.Prepare, buf, p.cfg.WaitTimeout)
		switch status {
		case ioq.StatusCancelled:
			return
		case ioq.StatusTimeout, ioq.StatusUnsuccessful:
			continue
		}
		if prepErr != nil {
			if log != nil {
				log.Warnf("prepare failed: %v", prepErr)
			}
			resp := errorResponse(op.(*adapter.Op), prepErr)
			_ = p.cfg.Ioq.EndProcessing(hint, adapter.CompleteWith(resp), buf)
			continue
		}

		o := op.(*adapter.Op)
		req := o.WireRequest()
		start := time.Now()
		resp, txErr := p.cfg.Transactor.Transact(ctx, req, buf)
		latencyNs := uint64(time.Since(start).Nanoseconds())
		if txErr != nil {
			if log != nil {
				log.Warnf("transact failed: %v", txErr)
			}
			resp = errorResponse(o, txErr)
		}
		p.observe(req, resp, latencyNs)

		if err := p.cfg.Ioq.EndProcessing(hint, adapter.CompleteWith(resp), buf); err != nil && log != nil {
			log.Warnf("complete failed: %v", err)
		}
	}
}

func (p *Pool) observe(req *wire.TransactRequest, resp *wire.TransactResponse, latencyNs uint64) {
	if p.cfg.Observer == nil {
		return
	}
	success := resp.SCSIStatus == scsi.StatusGood
	bytes := uint64(req.BlockCount) * uint64(p.cfg.BlockLength)
	switch req.Kind {
	case wire.KindRead:
		p.cfg.Observer.ObserveRead(bytes, latencyNs, success)
	case wire.KindWrite:
		p.cfg.Observer.ObserveWrite(bytes, latencyNs, success)
	case wire.KindUnmap:
		p.cfg.Observer.ObserveUnmap(latencyNs, success)
	case wire.KindFlush:
		p.cfg.Observer.ObserveFlush(latencyNs, success)
	}
}

func errorResponse(op *adapter.Op, err error) *wire.TransactResponse {
	key, asc := scsi.SenseHardwareError, byte(0)
	if spderr.Is(err, spderr.CodeMedium) {
		key, asc = scsi.SenseMediumError, scsi.AscSeekError
	}
	return &wire.TransactResponse{
		Kind:       op.WireRequest().Kind,
		SCSIStatus: scsi.StatusCheckCondition,
		SenseKey:   key,
		ASC:        asc,
	}
}
