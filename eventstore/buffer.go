package eventstore

// ring is a bounded FIFO of events that overwrites the oldest entry when
// full. It is not safe for concurrent use; Store guards it.
type ring struct {
	events   []Event
	head     int // next write position
	tail     int // oldest entry
	count    int
	capacity int
}

func newRing(capacity int) *ring {
	return &ring{events: make([]Event, capacity), capacity: capacity}
}

// push appends e and returns the entry it displaced, if any.
func (r *ring) push(e Event) (evicted Event, ok bool) {
	if r.count == r.capacity {
		evicted, ok = r.events[r.tail], true
		r.events[r.tail] = Event{}
		r.tail = (r.tail + 1) % r.capacity
		r.count--
	}
	r.events[r.head] = e
	r.head = (r.head + 1) % r.capacity
	r.count++
	return evicted, ok
}

func (r *ring) at(i int) Event {
	return r.events[(r.tail+i)%r.capacity]
}

func (r *ring) len() int { return r.count }

func (r *ring) oldest() (Event, bool) {
	if r.count == 0 {
		return Event{}, false
	}
	return r.at(0), true
}

func (r *ring) newest() (Event, bool) {
	if r.count == 0 {
		return Event{}, false
	}
	return r.at(r.count - 1), true
}

// each calls fn for every entry, oldest first, until fn returns false.
func (r *ring) each(fn func(Event) bool) {
	for i := range r.count {
		if !fn(r.at(i)) {
			return
		}
	}
}

// retain keeps only the entries for which keep returns true, preserving
// order, and returns how many were removed.
func (r *ring) retain(keep func(Event) bool) int {
	kept := make([]Event, 0, r.count)
	r.each(func(e Event) bool {
		if keep(e) {
			kept = append(kept, e)
		}
		return true
	})
	removed := r.count - len(kept)
	if removed == 0 {
		return 0
	}
	clear(r.events)
	copy(r.events, kept)
	r.tail = 0
	r.count = len(kept)
	r.head = r.count % r.capacity
	return removed
}
