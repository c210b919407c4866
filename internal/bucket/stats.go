package bucket

import "sync/atomic"

// Stats counts the I/O events a bucket file has issued. The counters are the
// observable this component is designed around: a workload's efficiency is
// judged by how many extension and zero-fill events it produces, not by how
// many logical write calls it makes.
type Stats struct {
	// Extends counts length-extension (truncate) calls that actually grew
	// the file.
	Extends atomic.Int64

	// ZeroFills counts explicit zero-buffer writes to freshly extended
	// buckets. Always zero under GrowthExtendOnly.
	ZeroFills atomic.Int64

	// Writes counts positioned data writes.
	Writes atomic.Int64

	// Reads counts positioned reads.
	Reads atomic.Int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Extends   int64
	ZeroFills int64
	Writes    int64
	Reads     int64
}

// Snapshot returns a consistent-enough copy of the counters for reporting.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Extends:   s.Extends.Load(),
		ZeroFills: s.ZeroFills.Load(),
		Writes:    s.Writes.Load(),
		Reads:     s.Reads.Load(),
	}
}
