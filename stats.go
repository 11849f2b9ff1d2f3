package mcpcan

import (
	"fmt"
	"sync/atomic"
)

type Stats struct {
	Sent     uint64
	Received uint64
	Ignored  uint64 // lines that were not frames
	Dropped  uint64 // malformed frame lines
	Errors   uint64 // failed reads and writes
}

func (st Stats) String() string {
	return fmt.Sprintf("sent: %d recv: %d ignored: %d dropped: %d errors: %d", st.Sent, st.Received, st.Ignored, st.Dropped, st.Errors)
}

type counters struct {
	sent, received, ignored, dropped, errors atomic.Uint64
}

func (b *Bridge) Stats() Stats {
	return Stats{
		Sent:     b.stats.sent.Load(),
		Received: b.stats.received.Load(),
		Ignored:  b.stats.ignored.Load(),
		Dropped:  b.stats.dropped.Load(),
		Errors:   b.stats.errors.Load(),
	}
}
