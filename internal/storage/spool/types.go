package spool

import "github.com/ChuLiYu/pacemaker/pkg/types"

// ============================================================================
// Spool Type Definitions
// Responsibility: Define the on-disk record for buffered position samples
// ============================================================================

// DefaultMaxRecords is how many buffered samples survive a drain. Older
// samples beyond this are discarded, keeping the most recent ones.
const DefaultMaxRecords = 1000

// Record is one line of the spool file.
type Record struct {
	Seq      uint64               `json:"seq"`      // Sequence number (monotonically increasing until drained)
	Sample   types.PositionSample `json:"sample"`   // Captured sample
	Checksum uint32               `json:"checksum"` // CRC32 over seq and sample
}

// RecordHandler processes records during Replay.
type RecordHandler func(rec Record) error
