package events

// eventRing is a fixed-capacity circular buffer of recent validated
// events across all threads. The oldest entry is evicted first. Not safe
// for concurrent use; the framework calls it under its lock.
type eventRing struct {
	buf  []*ValidatedEvent
	next int
	size int
}

func newEventRing(capacity int) *eventRing {
	if capacity < 1 {
		capacity = 1
	}
	return &eventRing{buf: make([]*ValidatedEvent, capacity)}
}

func (r *eventRing) add(ev *ValidatedEvent) {
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// snapshot returns the buffered events oldest first.
func (r *eventRing) snapshot() []*ValidatedEvent {
	out := make([]*ValidatedEvent, 0, r.size)
	start := r.next - r.size
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

func (r *eventRing) len() int { return r.size }
