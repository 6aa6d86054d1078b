package apds9960

import (
	"errors"
	"sync/atomic"
	"time"
)

// Depth of the outward event stream. Overflow drops rather than blocks.
const eventQueueDepth = 64

// Event is a single interrupt-derived notification.
type Event struct {
	Timestamp time.Time // strictly increasing per device
	ID        int       // enable/threshold store value at assertion time
}

// eventDispatcher splits the interrupt path in two: a notifier that only
// timestamps and forwards (safe to call from the edge watcher, never
// blocks, never touches the bus), and a single-slot service queue drained
// by a deferred worker that may do both.
type eventDispatcher struct {
	lastNs   int64  // atomic; keep first for 64-bit alignment on ARM
	drops    uint32 // atomic
	events   chan Event
	serviceQ chan struct{}
}

func newEventDispatcher(depth int) *eventDispatcher {
	if depth <= 0 {
		depth = eventQueueDepth
	}
	return &eventDispatcher{
		events:   make(chan Event, depth),
		serviceQ: make(chan struct{}, 1),
	}
}

// stamp returns a timestamp strictly greater than any previously returned
// one, bumping by a nanosecond whenever the clock has not advanced.
func (ed *eventDispatcher) stamp(now time.Time) time.Time {
	ns := now.UnixNano()
	for {
		last := atomic.LoadInt64(&ed.lastNs)
		if ns <= last {
			ns = last + 1
		}
		if atomic.CompareAndSwapInt64(&ed.lastNs, last, ns) {
			return time.Unix(0, ns)
		}
	}
}

func (ed *eventDispatcher) emit(id int) {
	ev := Event{Timestamp: ed.stamp(time.Now()), ID: id}
	select {
	case ed.events <- ev:
	default:
		atomic.AddUint32(&ed.drops, 1) // slow consumer; the edge is lost
	}
	select {
	case ed.serviceQ <- struct{}{}:
	default:
		// a service pass is already pending; assertions collapse into it
	}
}

// AssertInterrupt is the notifier half of the interrupt path. It emits
// exactly one notification carrying a monotonic timestamp and the cached
// enable/threshold value, and schedules the deferred service pass. It never
// blocks and performs no bus I/O, so the edge watcher can call it directly.
func (d *APDS9960) AssertInterrupt() {
	d.events.emit(int(atomic.LoadUint32(&d.eventID)))
}

// Events exposes the outward notification stream. A missed edge is lost
// for good; consumers needing guaranteed delivery poll the raw channels as
// a backstop.
func (d *APDS9960) Events() <-chan Event {
	return d.events.events
}

// EventDrops returns how many notifications were dropped on overflow.
func (d *APDS9960) EventDrops() uint32 {
	return atomic.LoadUint32(&d.events.drops)
}

// serviceLoop is the deferred half of the interrupt path. It runs on its
// own goroutine where bus I/O is allowed: after each assertion it re-reads
// the threshold store, refreshing the cached identifier and settling the
// latched line. Failures here are its own to report, the notifier has no
// error path.
func (d *APDS9960) serviceLoop() {
	for {
		select {
		case <-d.stopc:
			return
		case <-d.events.serviceQ:
			if _, err := d.EventConfig(); err != nil && !errors.Is(err, ErrNotPowered) {
				l.Errorf("apds9960: interrupt service read failed: %v", err)
			}
		}
	}
}
