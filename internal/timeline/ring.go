package timeline

// Ring is a fixed-capacity FIFO buffer that overwrites its oldest element
// when full.
type Ring[T any] struct {
	buf     []T
	head    int // index of the oldest element
	size    int
	evicted uint64
}

// NewRing creates a ring holding at most capacity elements
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element if the ring is full. It
// reports whether an element was evicted.
func (r *Ring[T]) Push(v T) bool {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = v
		r.size++
		return false
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	r.evicted++
	return true
}

// Len returns the number of stored elements
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the capacity
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Evicted returns how many elements were overwritten since creation
func (r *Ring[T]) Evicted() uint64 { return r.evicted }

// At returns the i-th element, oldest first
func (r *Ring[T]) At(i int) T {
	return r.buf[(r.head+i)%len(r.buf)]
}

// Each calls fn from oldest to newest until it returns false
func (r *Ring[T]) Each(fn func(T) bool) {
	for i := 0; i < r.size; i++ {
		if !fn(r.At(i)) {
			return
		}
	}
}

// Reverse calls fn from newest to oldest until it returns false
func (r *Ring[T]) Reverse(fn func(T) bool) {
	for i := r.size - 1; i >= 0; i-- {
		if !fn(r.At(i)) {
			return
		}
	}
}

// Slice copies the contents, oldest first
func (r *Ring[T]) Slice() []T {
	out := make([]T, 0, r.size)
	r.Each(func(v T) bool {
		out = append(out, v)
		return true
	})
	return out
}

// Resize changes the capacity, keeping the newest elements. Elements
// dropped by shrinking count as evicted.
func (r *Ring[T]) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	if capacity == len(r.buf) {
		return
	}
	items := r.Slice()
	if over := len(items) - capacity; over > 0 {
		items = items[over:]
		r.evicted += uint64(over)
	}
	r.buf = make([]T, capacity)
	copy(r.buf, items)
	r.head = 0
	r.size = len(items)
}
