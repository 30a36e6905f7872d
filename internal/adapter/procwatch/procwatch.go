// Package procwatch notifies a unit.Table when an owning process exits, the
// Linux analog of SpdDeviceExtensionNotifyRoutine's
// PsSetCreateProcessNotifyRoutine callback. Where the kernel driver gets a
// system-wide process-exit callback for free, user space polls a pidfd per
// watched owner instead: one goroutine per pid, blocked in poll(2) until
// the fd turns readable on exit.
package procwatch

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/spd-project/go-spd/internal/adapter/unit"
)

// Watcher sweeps table.SweepOwner for any watched pid that exits without
// first unprovisioning its units.
type Watcher struct {
	table *unit.Table
	fail  func(op any)

	mu      sync.Mutex
	watched map[uint32]struct{}
}

// New returns a Watcher bound to table. fail is passed through to
// SweepOwner to fail-complete any in-flight chunks on the swept units.
func New(table *unit.Table, fail func(op any)) *Watcher {
	if fail == nil {
		fail = func(any) {}
	}
	return &Watcher{table: table, fail: fail, watched: make(map[uint32]struct{})}
}

// Watch opens a pidfd for pid and sweeps the table if it exits before
// Unwatch is called. A pid already being watched is a no-op. Exit
// notification relies on pidfd_open (Linux 5.3+); on platforms or kernels
// without it, Watch returns the open error and the owner is simply never
// swept automatically -- explicit Unprovision still works.
func (w *Watcher) Watch(pid uint32) error {
	w.mu.Lock()
	if _, ok := w.watched[pid]; ok {
		w.mu.Unlock()
		return nil
	}
	w.watched[pid] = struct{}{}
	w.mu.Unlock()

	fd, err := unix.PidfdOpen(int(pid), 0)
	if err != nil {
		w.mu.Lock()
		delete(w.watched, pid)
		w.mu.Unlock()
		return err
	}

	go w.wait(pid, fd)
	return nil
}

// Unwatch stops tracking pid. It does not race a concurrent exit: if the
// sweep already fired, this is a harmless no-op, since SweepOwner ignores
// pids with no matching slots.
func (w *Watcher) Unwatch(pid uint32) {
	w.mu.Lock()
	delete(w.watched, pid)
	w.mu.Unlock()
}

func (w *Watcher) wait(pid uint32, fd int) {
	defer unix.Close(fd)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n > 0 {
			break
		}
	}

	w.mu.Lock()
	_, stillWatched := w.watched[pid]
	delete(w.watched, pid)
	w.mu.Unlock()
	if !stillWatched {
		return
	}
	w.table.SweepOwner(pid, w.fail)
}
