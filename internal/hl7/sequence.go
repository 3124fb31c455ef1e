package hl7

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Sequencer issues strictly increasing message sequence numbers. It is the
// only mutable state shared across workers besides the telemetry funnel, so
// the counter is a single atomic; no two callers ever observe the same
// value. Inject one Sequencer per run rather than using ambient state.
type Sequencer struct {
	counter atomic.Int64
}

// Next returns the next sequence number, starting at 1.
func (s *Sequencer) Next() int64 {
	return s.counter.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequencer) Current() int64 {
	return s.counter.Load()
}

// FormatSequence renders a sequence number as the 8-digit zero-padded form
// used in output filenames and telemetry correlation.
func FormatSequence(n int64) string {
	return fmt.Sprintf("%08d", n)
}

// ControlID builds the MSH-10 message control ID: a 20-digit stamp from the
// creation time down to microseconds, unique together with the sequence.
func ControlID(now time.Time) string {
	return now.Format("20060102150405") + fmt.Sprintf("%06d", now.Nanosecond()/1000)
}
