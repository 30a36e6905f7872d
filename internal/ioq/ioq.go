// Package ioq implements the per-unit request queue: a pending list, an
// in-process list, and a hash table keyed by a 64-bit avalanche mix of the
// request's hint, with stop semantics that drain and fail every waiter.
// It is a direct Go port of ioq.c (SpdIoqPostSrb / SpdIoqStartProcessingSrb
// / SpdIoqEndProcessingSrb / SpdIoqReset / SpdIoqCancelSrb), trading its
// spinlock + KEVENT + IRP-cancel plumbing for a mutex and the cancellable
// wait primitive in internal/cancelwait.
package ioq

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/spd-project/go-spd/internal/cancelwait"
	"github.com/spd-project/go-spd/internal/spderr"
)

// Status is the outcome of StartProcessing.
type Status int

const (
	StatusSuccess Status = iota
	StatusTimeout
	StatusCancelled
	StatusUnsuccessful // spurious wakeup: pending was empty after all
)

// Request is one entry tracked by an Ioq. Op is the producer-supplied
// opaque handle (spec's "SRB") that Prepare/Complete callbacks act on.
type Request struct {
	Op   any
	hint uint64
	elem *list.Element // current list (pending or in-process), nil if absent
}

// PrepareFunc fills the outgoing wire request and, for Write/Unmap, copies
// payload into dataBuffer. Returning an error aborts processing of this
// request with that error (the Ioq still moves it to in-process so the
// caller can fail it through the normal completion path).
type PrepareFunc func(op any, dataBuffer []byte) error

// CompleteFunc handles one completed chunk. Returning (pending=true) means
// more chunks remain for this request; the Ioq reinserts it at the head of
// pending and the caller will see it again via StartProcessing.
type CompleteFunc func(op any, dataBuffer []byte) (pending bool, err error)

// Ioq is a single unit's request queue.
type Ioq struct {
	mu         sync.Mutex
	pending    *list.List // of *Request
	inProcess  map[uint64]*Request
	wake       *cancelwait.Signal
	stopped    bool
	nextHint   uint64
}

// New creates an empty, running Ioq.
func New() *Ioq {
	return &Ioq{
		pending:   list.New(),
		inProcess: make(map[uint64]*Request),
		wake:      cancelwait.NewSignal(),
	}
}

// Post appends a request to the pending list and signals a waiter, unless
// the Ioq is stopped (in which case it is rejected with Cancelled).
func (q *Ioq) Post(op any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return spderr.New(spderr.CodeCancelled, "ioq.Post", "queue stopped")
	}
	q.pending.PushBack(&Request{Op: op})
	q.wake.Signal()
	return nil
}

// hashMix64 is the 64-bit avalanche mixer (splitmix64 finalizer) used to
// derive a request's hint from a monotonically increasing counter, the Go
// analog of hashing the SRB-extension pointer in the reference
// implementation (there is no stable pointer identity to hash in Go, so a
// per-Ioq counter plays the role the pointer did).
func hashMix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// StartProcessing blocks (cancellably, with an optional timeout) until a
// request is pending, then moves it to in-process and returns its Op
// (already filled by prepare) along with the hint the caller must present
// to EndProcessing. The caller needs Op back, not just the hint, so it can
// marshal the now-populated wire request for the transport.
func (q *Ioq) StartProcessing(ctx context.Context, prepare PrepareFunc, dataBuffer []byte, timeout time.Duration) (op any, hint uint64, status Status, err error) {
	waitStatus := q.wake.Wait(ctx, timeout)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return nil, 0, StatusCancelled, nil
	}
	switch waitStatus {
	case cancelwait.Timeout:
		return nil, 0, StatusTimeout, nil
	case cancelwait.Cancelled:
		return nil, 0, StatusCancelled, nil
	}

	front := q.pending.Front()
	if front == nil {
		// Spurious wakeup: reset() emptied pending between signal and lock.
		return nil, 0, StatusUnsuccessful, nil
	}
	req := front.Value.(*Request)
	q.pending.Remove(front)

	if prepErr := prepare(req.Op, dataBuffer); prepErr != nil {
		err = prepErr
	}

	q.nextHint++
	req.hint = hashMix64(q.nextHint)
	for { // vanishingly unlikely collision guard
		if _, exists := q.inProcess[req.hint]; !exists {
			break
		}
		q.nextHint++
		req.hint = hashMix64(q.nextHint)
	}
	q.inProcess[req.hint] = req

	if q.pending.Len() > 0 {
		q.wake.Signal()
	}

	return req.Op, req.hint, StatusSuccess, err
}

// EndProcessing looks an in-process request up by hint and completes it.
// A missing hint (already cancelled or reset) is silently dropped. If
// complete reports more chunks remain, the request is reinserted at the
// head of pending so the next StartProcessing picks it back up before any
// newer post, and the wake signal is re-raised.
func (q *Ioq) EndProcessing(hint uint64, complete CompleteFunc, dataBuffer []byte) error {
	q.mu.Lock()
	req, ok := q.inProcess[hint]
	if !ok {
		q.mu.Unlock()
		return nil
	}
	delete(q.inProcess, hint)
	q.mu.Unlock()

	pending, err := complete(req.Op, dataBuffer)
	if err != nil {
		return err
	}
	if pending {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.stopped {
			return nil
		}
		req.hint = 0
		q.pending.PushFront(req)
		q.wake.Signal()
	}
	return nil
}

// CancelOp removes a request matching op wherever it currently is
// (pending or in-process) and reports whether it found one.
func (q *Ioq) CancelOp(matches func(any) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for e := q.pending.Front(); e != nil; e = e.Next() {
		if matches(e.Value.(*Request).Op) {
			q.pending.Remove(e)
			return true
		}
	}
	for hint, req := range q.inProcess {
		if matches(req.Op) {
			delete(q.inProcess, hint)
			return true
		}
	}
	return false
}

// Reset drains both lists, fail-completing every entry found with
// aborted. If stop is set, the Ioq is marked permanently stopped and the
// wake signal latches so every current and future waiter observes
// StatusCancelled.
func (q *Ioq) Reset(stop bool, fail func(op any)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return
	}

	for e := q.pending.Front(); e != nil; e = e.Next() {
		fail(e.Value.(*Request).Op)
	}
	q.pending.Init()
	for _, req := range q.inProcess {
		fail(req.Op)
	}
	q.inProcess = make(map[uint64]*Request)

	if stop {
		q.stopped = true
		q.wake.Latch()
	}
}

// Stopped reports whether Reset(stop=true) has been called.
func (q *Ioq) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// PendingLen and InProcessLen exist for tests asserting invariant 2
// (hash/list exclusivity).
func (q *Ioq) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

func (q *Ioq) InProcessLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inProcess)
}
