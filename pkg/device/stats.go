package device

import "sync/atomic"

// Stats holds the device's atomic statistics counters, readable from the
// admin surface's "statistics" operation without taking any of the three
// lock classes.
type Stats struct {
	Reads         uint64
	Writes        uint64
	Flushes       uint64
	FUAWrites     uint64
	WriteFailures uint64
	FlushFailures uint64
}

type stats struct {
	reads         atomic.Uint64
	writes        atomic.Uint64
	flushes       atomic.Uint64
	fuaWrites     atomic.Uint64
	writeFailures atomic.Uint64
	flushFailures atomic.Uint64
}

func (s *stats) snapshot() Stats {
	return Stats{
		Reads:         s.reads.Load(),
		Writes:        s.writes.Load(),
		Flushes:       s.flushes.Load(),
		FUAWrites:     s.fuaWrites.Load(),
		WriteFailures: s.writeFailures.Load(),
		FlushFailures: s.flushFailures.Load(),
	}
}
