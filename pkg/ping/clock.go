package ping

import "time"

// Timestamps travel inside probe payloads as nanosecond counts, so the
// clock is a plain uint64 source. Both ends of an RTT measurement use
// the same session clock.
//
// The count is monotonic elapsed time since process start, never wall
// time: an NTP step or an admin touching the date while a probe is in
// flight must not bend its RTT.
var processStart = time.Now()

func monoClock() uint64 {
	return uint64(time.Since(processStart))
}
