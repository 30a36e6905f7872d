package spd

import "github.com/spd-project/go-spd/internal/constants"

// Re-exported defaults for the public API.
const (
	DefaultBlockLength        = constants.DefaultBlockLength
	DefaultMaxTransferLength  = constants.DefaultMaxTransferLength
	DefaultDispatchWorkers    = constants.DefaultDispatchWorkers
	DefaultDispatchBufferSize = constants.DefaultDispatchBufferSize
)
