package history

// Ring is a fixed-length, newest-first history. Every slot exists from creation;
// Push prepends a value and drops the oldest one, so Len never changes.
//
// Ring is not safe for concurrent use; owners serialize access.
type Ring[T any] struct {
	items []T
}

// NewRing creates a ring of the given size with every slot set to fill.
func NewRing[T any](size int, fill T) *Ring[T] {
	if size <= 0 {
		size = 1
	}
	items := make([]T, size)
	for i := range items {
		items[i] = fill
	}
	return &Ring[T]{items: items}
}

// Push prepends v and drops the oldest slot. It returns the evicted value.
func (r *Ring[T]) Push(v T) T {
	last := len(r.items) - 1
	evicted := r.items[last]
	copy(r.items[1:], r.items[:last])
	r.items[0] = v
	return evicted
}

// Len returns the fixed capacity.
func (r *Ring[T]) Len() int {
	return len(r.items)
}

// At returns the i-th newest item.
func (r *Ring[T]) At(i int) T {
	return r.items[i]
}

// Items returns a copy, newest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// UpdateFirst applies fn to items newest first and stops at the first one for which fn
// returns true. It reports whether any item matched.
func (r *Ring[T]) UpdateFirst(fn func(item *T) bool) bool {
	for i := range r.items {
		if fn(&r.items[i]) {
			return true
		}
	}
	return false
}

// Find returns the newest item satisfying match.
func (r *Ring[T]) Find(match func(T) bool) (T, bool) {
	for _, it := range r.items {
		if match(it) {
			return it, true
		}
	}
	var zero T
	return zero, false
}

// CountLeading counts items from the newest end while pred holds.
func CountLeading[T any](items []T, pred func(T) bool) int {
	n := 0
	for _, it := range items {
		if !pred(it) {
			break
		}
		n++
	}
	return n
}
