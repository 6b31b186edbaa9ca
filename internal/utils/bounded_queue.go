package utils

// OverflowPolicy decides what Push does when the queue is full.
type OverflowPolicy int

const (
	// DropNewest rejects the incoming element and keeps the queue untouched.
	DropNewest OverflowPolicy = iota
	// EvictOldest discards the head of the queue to make room.
	EvictOldest
)

// BoundedQueue is a fixed-capacity FIFO backed by a single slice allocated up front.
// It is not safe for concurrent use.
type BoundedQueue[T any] struct {
	items  []T
	head   int
	count  int
	policy OverflowPolicy
}

// NewBoundedQueue creates a queue holding at most capacity elements.
func NewBoundedQueue[T any](capacity int, policy OverflowPolicy) *BoundedQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &BoundedQueue[T]{
		items:  make([]T, capacity),
		policy: policy,
	}
}

// Push appends v. It returns false if v was dropped because the queue is full
// and the policy is DropNewest.
func (q *BoundedQueue[T]) Push(v T) bool {
	if q.count == len(q.items) {
		if q.policy == DropNewest {
			return false
		}
		q.discardHead()
	}
	q.items[(q.head+q.count)%len(q.items)] = v
	q.count++
	return true
}

// Pop removes and returns the oldest element.
func (q *BoundedQueue[T]) Pop() (T, bool) {
	var zero T
	if q.count == 0 {
		return zero, false
	}
	v := q.items[q.head]
	q.discardHead()
	return v, true
}

// Peek returns the oldest element without removing it.
func (q *BoundedQueue[T]) Peek() (T, bool) {
	var zero T
	if q.count == 0 {
		return zero, false
	}
	return q.items[q.head], true
}

// Newest returns the most recently pushed element.
func (q *BoundedQueue[T]) Newest() (T, bool) {
	var zero T
	if q.count == 0 {
		return zero, false
	}
	return q.items[(q.head+q.count-1)%len(q.items)], true
}

// Len returns the number of queued elements.
func (q *BoundedQueue[T]) Len() int {
	return q.count
}

// Cap returns the fixed capacity.
func (q *BoundedQueue[T]) Cap() int {
	return len(q.items)
}

// Full reports whether the next Push hits the overflow policy.
func (q *BoundedQueue[T]) Full() bool {
	return q.count == len(q.items)
}

// Contains reports whether any element satisfies match.
func (q *BoundedQueue[T]) Contains(match func(T) bool) bool {
	for i := 0; i < q.count; i++ {
		if match(q.items[(q.head+i)%len(q.items)]) {
			return true
		}
	}
	return false
}

// Items returns a copy of the elements, oldest first.
func (q *BoundedQueue[T]) Items() []T {
	out := make([]T, 0, q.count)
	for i := 0; i < q.count; i++ {
		out = append(out, q.items[(q.head+i)%len(q.items)])
	}
	return out
}

// Clear empties the queue without reallocating.
func (q *BoundedQueue[T]) Clear() {
	var zero T
	for i := range q.items {
		q.items[i] = zero
	}
	q.head = 0
	q.count = 0
}

func (q *BoundedQueue[T]) discardHead() {
	var zero T
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.count--
}
