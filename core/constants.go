package core

import "github.com/0xRadioAc7iv/keycask/internal/record"

const recordHeaderSize = record.HeaderSize

// Names of the counters in Bitcask.Metrics.
const (
	MetricSets             = "sets"
	MetricGets             = "gets"
	MetricGetMisses        = "get_misses"
	MetricChecksumFailures = "checksum_failures"
	MetricSetFailures      = "set_failures"
	MetricRotations        = "rotations"
	MetricKeyDirResizes    = "keydir_resizes"
	MetricRecoveredRecords = "recovered_records"
)
