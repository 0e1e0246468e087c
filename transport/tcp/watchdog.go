package tcp

import (
	"sync/atomic"
	"time"
)

// minSampleInterval bounds how often a watchdog samples a quiet connection.
const minSampleInterval = 10 * time.Millisecond

// watch samples c's activity counter and calls onIdle each time roughly
// timeout elapses without a successful read or write. A fire resets the
// miss count, so onIdle can fire again one idle interval later if the
// session is still alive. The go-routine exits when the session is torn
// down.
func watch(c *conn, timeout time.Duration, onIdle func()) {
	interval := timeout / 4
	if interval < minSampleInterval {
		interval = minSampleInterval
	}
	if interval > timeout {
		interval = timeout
	}
	// The number of samples without an activity change a connection is
	// allowed to have.
	maxMiss := timeout.Nanoseconds() / interval.Nanoseconds()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := atomic.LoadUint64(&c.activeCount)
	var miss int64

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			active := atomic.LoadUint64(&c.activeCount)
			if active&1 != 0 {
				return
			}
			if active == last {
				miss++
				if miss >= maxMiss {
					onIdle()
					miss = 0
				}
			} else {
				last = active
				miss = 0
			}
		}
	}
}
