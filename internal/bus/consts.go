package bus

import "time"

// Timing and sizing constants for the bus client, grounded on the
// teacher's backend_consts.go for the shape of the file and on the
// protocol's own retry/timeout contract for the values themselves.
const (
	connectTimeout = 3 * time.Second
	readSoftTimeout = 5 * time.Second
	maxZeroReads    = 50

	replySettleDelay = 20 * time.Millisecond
	replyScanFrames  = 5
	retryAttempts    = 5
	retryWait        = 2 * time.Second

	// accumulatorOverflowFactor bounds the read accumulator: once it
	// exceeds accumulatorOverflowFactor * protocol.MaxMessageSize bytes,
	// only the trailing protocol.MaxMessageSize bytes are retained.
	accumulatorOverflowFactor = 10
)

// ReadQueries is the ordered table.row sequence read to build a status
// snapshot; device id for each read equals its table number.
var ReadQueries = []string{"9.3", "9.4", "9.5", "1.9", "1.12", "1.16", "1.17", "1.18", "1.24"}
