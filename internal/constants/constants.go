// Package constants holds the default tunables for provisioning a storage
// unit and running its dispatch pool.
package constants

import "time"

// Default configuration constants for StorageUnitParams.
const (
	// DefaultBlockLength is the default logical block size in bytes.
	DefaultBlockLength = 512

	// DefaultMaxTransferLength is the default maximum single-transact
	// transfer size in bytes (1MB); larger requests are chunked.
	DefaultMaxTransferLength = 1 << 20

	// DefaultDispatchWorkers is the default worker-pool size per unit.
	DefaultDispatchWorkers = 4

	// DefaultDispatchBufferSize is the default per-worker data buffer size;
	// must cover DefaultMaxTransferLength.
	DefaultDispatchBufferSize = DefaultMaxTransferLength
)

// Timing constants for the provision/handshake lifecycle.
//
// These account for the race between Provision returning a BTL and a
// transport's first Transact call arriving for it.
const (
	// HandshakeTimeout bounds how long a transport waits for the one-time
	// params handshake (driver open or pipe connect) to complete.
	HandshakeTimeout = 5 * time.Second

	// DefaultWaitTimeout is StartProcessing's poll timeout absent an
	// explicit dispatch.Config.WaitTimeout.
	DefaultWaitTimeout = time.Second

	// ShutdownDrainDelay is how long StopAndDelete gives dispatch workers
	// to observe cancellation before it tears down the unit's Ioq.
	ShutdownDrainDelay = 10 * time.Millisecond
)
