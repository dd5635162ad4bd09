package mqtt

// bufferedMsg is a serialized message held for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ring is a fixed-capacity FIFO that overwrites its oldest entry when full.
// Not safe for concurrent use.
type ring[T any] struct {
	items []T
	head  int // next write position
	count int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{items: make([]T, capacity)}
}

// push appends v and reports whether the oldest entry was dropped for it.
func (r *ring[T]) push(v T) (dropped bool) {
	r.items[r.head] = v
	r.head = (r.head + 1) % len(r.items)
	if r.count == len(r.items) {
		return true
	}
	r.count++
	return false
}

// drain removes and returns every entry, oldest first.
func (r *ring[T]) drain() []T {
	if r.count == 0 {
		return nil
	}
	out := make([]T, r.count)
	first := (r.head - r.count + len(r.items)) % len(r.items)
	for i := range out {
		out[i] = r.items[(first+i)%len(r.items)]
	}
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.count = 0, 0
	return out
}

func (r *ring[T]) len() int { return r.count }
