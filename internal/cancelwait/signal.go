// Package cancelwait implements a cancellation-token-plus-bounded-wait
// primitive in place of a KEVENT + IRP-cancel pair: a cancellation token
// plus a bounded wait. A Signal is backed by an eventfd read raced against
// an optional timeout, submitted as one io_uring wait via
// github.com/pawelgaczynski/giouring rather than spun in a loop. Only when
// no ring is available does Wait fall back to polling the eventfd (see
// waitFallback).
package cancelwait

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"
)

// WaitStatus is the outcome of Wait.
type WaitStatus int

const (
	Woken WaitStatus = iota
	Timeout
	Cancelled
)

const (
	tagWake    uint64 = 1
	tagTimeout uint64 = 2
)

// Signal is a "set-or-not" auto-reset event: Signal is idempotent while
// a wakeup is already outstanding, matching ioq.c's SpdQevent semantics.
type Signal struct {
	mu      sync.Mutex
	eventFd int
	ring    *giouring.Ring
	latched bool
}

// NewSignal creates a Signal backed by a non-blocking eventfd and, when
// the host kernel supports it, an io_uring instance for cancellable
// waiting. If either cannot be created (sandboxed or non-Linux test
// environments), Wait degrades to waitFallback, which selects on ctx and a
// timer while a goroutine polls the eventfd once a millisecond.
func NewSignal() *Signal {
	s := &Signal{eventFd: -1}
	if fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK); err == nil {
		s.eventFd = fd
	}
	if ring, err := giouring.CreateRing(4); err == nil {
		s.ring = ring
	}
	return s
}

// Close releases the eventfd and ring.
func (s *Signal) Close() {
	if s.ring != nil {
		s.ring.QueueExit()
	}
	if s.eventFd >= 0 {
		unix.Close(s.eventFd)
	}
}

// Signal wakes one pending or future Wait.
func (s *Signal) Signal() {
	if s.eventFd < 0 {
		return
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(s.eventFd, buf[:])
}

// Latch marks the Signal permanently set: every current and future Wait
// returns Cancelled without touching the ring again, matching SpdIoqReset's
// "stop" behavior.
func (s *Signal) Latch() {
	s.mu.Lock()
	s.latched = true
	s.mu.Unlock()
	s.Signal()
}

// Wait blocks until Signal/Latch fires, ctx is cancelled, or timeout
// elapses (timeout<=0 means no timeout).
func (s *Signal) Wait(ctx context.Context, timeout time.Duration) WaitStatus {
	s.mu.Lock()
	latched := s.latched
	s.mu.Unlock()
	if latched {
		return Cancelled
	}

	if s.eventFd < 0 || s.ring == nil {
		return s.waitFallback(ctx, timeout)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.Signal()
		case <-stop:
		}
	}()

	var buf [8]byte
	readSQE := s.ring.GetSQE()
	if readSQE == nil {
		return s.waitFallback(ctx, timeout)
	}
	readSQE.PrepRead(int32(s.eventFd), buf[:], 0, 0)
	readSQE.SetUserData(tagWake)

	if timeout > 0 {
		readSQE.Flags |= giouring.SqeIOLinkBit
		ts := unix.NsecToTimespec(timeout.Nanoseconds())
		timeoutSQE := s.ring.GetSQE()
		if timeoutSQE != nil {
			timeoutSQE.PrepLinkTimeout(&ts, 0)
			timeoutSQE.SetUserData(tagTimeout)
		}
	}

	if _, err := s.ring.SubmitAndWaitTimeout(1, nil, nil); err != nil {
		return s.waitFallback(ctx, timeout)
	}

	cqe, err := s.ring.WaitCQE()
	if err != nil {
		return Cancelled
	}
	tag := cqe.UserData
	s.ring.SeenCQE(cqe)

	s.mu.Lock()
	latched = s.latched
	s.mu.Unlock()
	if latched {
		return Cancelled
	}
	if ctx.Err() != nil {
		return Cancelled
	}
	if tag == tagTimeout {
		return Timeout
	}
	return Woken
}

// waitFallback is used when no ring could be created or submitted to; it
// blocks on ctx and the timer, and learns of a Signal by retrying a
// non-blocking eventfd read every millisecond.
func (s *Signal) waitFallback(ctx context.Context, timeout time.Duration) WaitStatus {
	woken := make(chan struct{}, 1)
	if s.eventFd >= 0 {
		go func() {
			var buf [8]byte
			for {
				n, err := unix.Read(s.eventFd, buf[:])
				if n == 8 && err == nil {
					woken <- struct{}{}
					return
				}
				if err != unix.EAGAIN {
					return
				}
				time.Sleep(time.Millisecond)
			}
		}()
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-ctx.Done():
		return Cancelled
	case <-timer:
		return Timeout
	case <-woken:
		return Woken
	}
}
